package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/langchou/fueltrip/internal/models"
	"github.com/langchou/fueltrip/internal/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStore(client, time.Hour)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := &models.Trip{
		ID:                    "trip-1",
		VehicleID:             "veh-1",
		Phase:                 state.PhaseTracking,
		TotalDistanceKm:       12.4,
		LastPostedKm:          12.0,
		FuelLevelPercent:      63.5,
		StartFuelLevelPercent: 80,
		LowFuelWarning:        true,
		StartedAtMs:           1700000000000,
		Maintenance: []models.MaintenanceEvent{
			{Type: models.MaintenanceRefuel, TimestampMs: 1700000001000},
		},
	}

	if err := store.Save(ctx, trip); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, "veh-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("expected snapshot, got nil")
	}
	if got.ID != trip.ID || got.TotalDistanceKm != trip.TotalDistanceKm ||
		got.LastPostedKm != trip.LastPostedKm || !got.LowFuelWarning {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if len(got.Maintenance) != 1 || got.Maintenance[0].Type != models.MaintenanceRefuel {
		t.Fatalf("maintenance not preserved: %+v", got.Maintenance)
	}
}

func TestLoadMissReturnsNil(t *testing.T) {
	store := newTestStore(t)

	got, err := store.Load(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("load miss: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %+v", got)
	}
}

func TestDeleteRemovesSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := &models.Trip{ID: "trip-1", VehicleID: "veh-1", Phase: state.PhaseTracking}
	if err := store.Save(ctx, trip); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, "veh-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := store.Load(ctx, "veh-1")
	if err != nil || got != nil {
		t.Fatalf("snapshot survived delete: %+v %v", got, err)
	}
}

func TestListVehicleIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"veh-1", "veh-2"} {
		if err := store.Save(ctx, &models.Trip{ID: "trip-" + id, VehicleID: id}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	ids, err := store.ListVehicleIDs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 snapshot ids, got %v", ids)
	}
}
