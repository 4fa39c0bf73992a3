package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(host string) *Client {
	return NewClient(host, 2*time.Second, 3, time.Millisecond)
}

func TestReconcileApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != reconcilePath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req reconcileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.VehicleID != "veh-1" || req.TotalDistanceTraveledKm != 0.5 || req.LastPostedDistanceKm != 0 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(reconcileResponse{
			Status:              StatusApplied,
			NewFuelLevelPercent: 79.5,
			LowFuelWarning:      false,
		})
	}))
	defer srv.Close()

	outcome, err := newTestClient(srv.URL).Reconcile(context.Background(), "veh-1", 0.5, 0)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.Applied() || outcome.NewFuelLevelPercent != 79.5 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestReconcileSkippedIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(reconcileResponse{Status: StatusSkipped})
	}))
	defer srv.Close()

	outcome, err := newTestClient(srv.URL).Reconcile(context.Background(), "veh-1", 0.01, 0)
	if err != nil {
		t.Fatalf("skipped must not surface as error: %v", err)
	}
	if outcome.Status != StatusSkipped || outcome.Applied() {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestReconcileRejectedNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unknown vehicle", http.StatusNotFound)
	}))
	defer srv.Close()

	outcome, err := newTestClient(srv.URL).Reconcile(context.Background(), "nope", 1, 0)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if outcome.Status != StatusFailed || outcome.ErrorKind != ErrKindRejected {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("rejected request was retried: %d calls", got)
	}
}

func TestReconcileRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			http.Error(w, "backend unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(reconcileResponse{
			Status:              StatusApplied,
			NewFuelLevelPercent: 64.2,
		})
	}))
	defer srv.Close()

	outcome, err := newTestClient(srv.URL).Reconcile(context.Background(), "veh-1", 2.0, 1.0)
	if err != nil {
		t.Fatalf("reconcile after retries: %v", err)
	}
	if !outcome.Applied() || outcome.NewFuelLevelPercent != 64.2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 attempts (1 + 3 retries), got %d", got)
	}
}

func TestReconcileRetriesExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	outcome, err := newTestClient(srv.URL).Reconcile(context.Background(), "veh-1", 2.0, 1.0)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
	if outcome.Status != StatusFailed || outcome.ErrorKind != ErrKindTransient {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := atomic.LoadInt32(&calls); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
}

func TestReconcileHonoursContextDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, 3, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Reconcile(ctx, "veh-1", 2.0, 1.0)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}
