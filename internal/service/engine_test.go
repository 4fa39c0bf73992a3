package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/fueltrip/internal/api/ledger"
	"github.com/langchou/fueltrip/internal/config"
	"github.com/langchou/fueltrip/internal/models"
	"github.com/langchou/fueltrip/internal/positioning"
	"github.com/langchou/fueltrip/internal/state"
)

// scriptedReconciler returns whatever fn decides for each call, in order.
type scriptedReconciler struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, totalKm, lastPostedKm float64) (*ledger.SyncOutcome, error)
}

func (r *scriptedReconciler) Reconcile(_ context.Context, _ string, totalKm, lastPostedKm float64) (*ledger.SyncOutcome, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	fn := r.fn
	r.mu.Unlock()

	if fn == nil {
		return &ledger.SyncOutcome{Status: ledger.StatusSkipped}, nil
	}
	return fn(call, totalKm, lastPostedKm)
}

func (r *scriptedReconciler) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func appliedOutcome(fuel float64, lowFuel bool) *ledger.SyncOutcome {
	return &ledger.SyncOutcome{
		Status:              ledger.StatusApplied,
		NewFuelLevelPercent: fuel,
		LowFuelWarning:      lowFuel,
	}
}

// memStores keeps everything in memory so tests can assert persistence calls.
type memStores struct {
	mu          sync.Mutex
	created     []models.Trip
	completed   []models.TripSummary
	positions   map[string][]models.Position
	maintenance map[string][]models.MaintenanceEvent
}

func newMemStores() *memStores {
	return &memStores{
		positions:   make(map[string][]models.Position),
		maintenance: make(map[string][]models.MaintenanceEvent),
	}
}

func (m *memStores) Create(_ context.Context, trip *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, *trip)
	return nil
}

func (m *memStores) Complete(_ context.Context, summary *models.TripSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, *summary)
	return nil
}

func (m *memStores) CreateBatch(_ context.Context, tripID string, positions []models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[tripID] = append(m.positions[tripID], positions...)
	return nil
}

func (m *memStores) stores() Stores {
	return Stores{Trips: m, Positions: m, Maintenance: maintenanceStoreFunc(func(_ context.Context, tripID string, events []models.MaintenanceEvent) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.maintenance[tripID] = append(m.maintenance[tripID], events...)
		return nil
	})}
}

type maintenanceStoreFunc func(ctx context.Context, tripID string, events []models.MaintenanceEvent) error

func (f maintenanceStoreFunc) CreateBatch(ctx context.Context, tripID string, events []models.MaintenanceEvent) error {
	return f(ctx, tripID, events)
}

// fakeSnapshots is an in-memory snapshot store keyed by vehicle ID.
type fakeSnapshots struct {
	mu    sync.Mutex
	trips map[string]models.Trip
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{trips: make(map[string]models.Trip)}
}

func (f *fakeSnapshots) Save(_ context.Context, trip *models.Trip) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trips[trip.VehicleID] = *trip
	return nil
}

func (f *fakeSnapshots) Delete(_ context.Context, vehicleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.trips, vehicleID)
	return nil
}

func (f *fakeSnapshots) Load(_ context.Context, vehicleID string) (*models.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trip, ok := f.trips[vehicleID]
	if !ok {
		return nil, nil
	}
	return &trip, nil
}

func (f *fakeSnapshots) ListVehicleIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.trips))
	for id := range f.trips {
		ids = append(ids, id)
	}
	return ids, nil
}

func testConfig() *config.Config {
	return &config.Config{
		SyncInterval:     15 * time.Millisecond,
		JitterThresholdM: 1.0,
		FinalSyncTimeout: 200 * time.Millisecond,
	}
}

type engineFixture struct {
	engine    *TripEngine
	provider  *positioning.PushProvider
	ledger    *scriptedReconciler
	stores    *memStores
	snapshots *fakeSnapshots
}

func newEngineFixture(t *testing.T, fn func(call int, totalKm, lastPostedKm float64) (*ledger.SyncOutcome, error)) *engineFixture {
	t.Helper()

	f := &engineFixture{
		provider:  positioning.NewPushProvider(),
		ledger:    &scriptedReconciler{fn: fn},
		stores:    newMemStores(),
		snapshots: newFakeSnapshots(),
	}
	f.engine = NewTripEngine(testConfig(), zap.NewNop(), "vehicle-1", f.provider,
		f.ledger, f.stores.stores(), f.snapshots, nil)
	t.Cleanup(f.engine.Close)
	return f
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// pushLine pushes samples along a meridian; dLat degrees between each.
func pushLine(f *engineFixture, startLat, dLat float64, count int, stepMs int64) {
	now := time.Now().UnixMilli()
	for i := 0; i < count; i++ {
		f.provider.Push(models.LocationSample{
			Latitude:    startLat + dLat*float64(i),
			Longitude:   13.4,
			TimestampMs: now + stepMs*int64(i),
		})
	}
}

func TestSyncAppliesFuelAndAdvancesPostedDistance(t *testing.T) {
	f := newEngineFixture(t, func(call int, totalKm, lastPostedKm float64) (*ledger.SyncOutcome, error) {
		if lastPostedKm != 0 {
			t.Errorf("lastPostedKm = %v, want 0 on first sync", lastPostedKm)
		}
		return appliedOutcome(79.5, false), nil
	})

	ctx := context.Background()
	if err := f.engine.Start(ctx, 80); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// ~0.5km along a meridian (0.0045 deg of latitude)
	pushLine(f, 52.52, 0.0045, 2, 1000)

	waitFor(t, time.Second, func() bool {
		tel, err := f.engine.Telemetry(ctx)
		return err == nil && tel.FuelLevelPercent == 79.5
	}, "fuel level never reconciled to 79.5")

	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.TotalDistanceKm < 0.49 || tel.TotalDistanceKm > 0.51 {
		t.Errorf("TotalDistanceKm = %v, want ~0.5", tel.TotalDistanceKm)
	}
	if tel.Phase != state.PhaseTracking {
		t.Errorf("Phase = %q, want tracking", tel.Phase)
	}

	// with no further movement there is no delta, so no further calls
	calls := f.ledger.callCount()
	time.Sleep(60 * time.Millisecond)
	if got := f.ledger.callCount(); got != calls {
		t.Errorf("reconcile calls grew from %d to %d with no new distance", calls, got)
	}
}

func TestJitterProducesNoDistanceAndNoSync(t *testing.T) {
	f := newEngineFixture(t, nil)

	ctx := context.Background()
	if err := f.engine.Start(ctx, 80); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// ten samples ~0.5m apart: all under the jitter threshold
	pushLine(f, 52.52, 0.0000045, 10, 1000)

	time.Sleep(60 * time.Millisecond)

	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.TotalDistanceKm != 0 {
		t.Errorf("TotalDistanceKm = %v, want 0 for jitter-only samples", tel.TotalDistanceKm)
	}
	if got := f.ledger.callCount(); got != 0 {
		t.Errorf("reconcile called %d times, want 0 with zero delta", got)
	}
}

func TestTransientFailuresRetryOnNextTick(t *testing.T) {
	f := newEngineFixture(t, func(call int, totalKm, lastPostedKm float64) (*ledger.SyncOutcome, error) {
		if call <= 3 {
			if lastPostedKm != 0 {
				t.Errorf("call %d: lastPostedKm = %v, want 0 before any applied sync", call, lastPostedKm)
			}
			return &ledger.SyncOutcome{Status: ledger.StatusFailed, ErrorKind: ledger.ErrKindTransient}, ledger.ErrTransient
		}
		return appliedOutcome(64.2, false), nil
	})

	ctx := context.Background()
	if err := f.engine.Start(ctx, 65); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pushLine(f, 52.52, 0.0045, 2, 1000)

	waitFor(t, 2*time.Second, func() bool {
		tel, err := f.engine.Telemetry(ctx)
		return err == nil && tel.FuelLevelPercent == 64.2
	}, "fuel never applied after transient failures")

	if got := f.ledger.callCount(); got < 4 {
		t.Errorf("reconcile calls = %d, want at least 4 (3 failures + success)", got)
	}
}

func TestPauseSilencesSchedulerAndDropsSamples(t *testing.T) {
	f := newEngineFixture(t, func(int, float64, float64) (*ledger.SyncOutcome, error) {
		return appliedOutcome(70, false), nil
	})

	ctx := context.Background()
	if err := f.engine.Start(ctx, 70); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	// samples while paused must not move the odometer
	pushLine(f, 52.52, 0.0045, 3, 1000)
	time.Sleep(60 * time.Millisecond)

	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.TotalDistanceKm != 0 {
		t.Errorf("TotalDistanceKm = %v, want 0 while paused", tel.TotalDistanceKm)
	}
	if got := f.ledger.callCount(); got != 0 {
		t.Errorf("reconcile called %d times while paused, want 0", got)
	}

	if err := f.engine.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	// fresh anchor after resume: first sample re-anchors, second adds distance
	pushLine(f, 53.0, 0.0045, 2, 1000)
	waitFor(t, time.Second, func() bool {
		return f.ledger.callCount() >= 1
	}, "scheduler never resumed syncing after Resume")
}

func TestRefuelIsTheOnlyPathClearingLowFuelLatch(t *testing.T) {
	f := newEngineFixture(t, func(call int, totalKm, lastPostedKm float64) (*ledger.SyncOutcome, error) {
		if call == 1 {
			return appliedOutcome(4.5, true), nil
		}
		// later syncs report no warning, which must not clear the latch
		return appliedOutcome(4.0, false), nil
	})

	ctx := context.Background()
	if err := f.engine.Start(ctx, 6); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pushLine(f, 52.52, 0.0045, 2, 1000)
	waitFor(t, time.Second, func() bool {
		tel, err := f.engine.Telemetry(ctx)
		return err == nil && tel.LowFuelWarning
	}, "low fuel warning never latched")

	pushLine(f, 52.53, 0.0045, 2, 1000)
	waitFor(t, time.Second, func() bool {
		return f.ledger.callCount() >= 2
	}, "second sync never ran")

	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if !tel.LowFuelWarning {
		t.Error("low fuel latch cleared by an applied sync; only refuel may clear it")
	}

	fuel := 100.0
	if err := f.engine.LogMaintenance(ctx, models.MaintenanceEvent{
		Type:                 models.MaintenanceRefuel,
		ResultingFuelPercent: &fuel,
	}); err != nil {
		t.Fatalf("LogMaintenance: %v", err)
	}

	tel, err = f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.LowFuelWarning {
		t.Error("low fuel warning still set after refuel")
	}
	if tel.FuelLevelPercent != 100 {
		t.Errorf("FuelLevelPercent = %v, want 100 immediately after refuel", tel.FuelLevelPercent)
	}
}

func TestRefuelWithoutFuelReadingStillClearsLatch(t *testing.T) {
	f := newEngineFixture(t, func(int, float64, float64) (*ledger.SyncOutcome, error) {
		return appliedOutcome(4.5, true), nil
	})

	ctx := context.Background()
	if err := f.engine.Start(ctx, 6); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pushLine(f, 52.52, 0.0045, 2, 1000)
	waitFor(t, time.Second, func() bool {
		tel, err := f.engine.Telemetry(ctx)
		return err == nil && tel.LowFuelWarning
	}, "low fuel warning never latched")

	// refuel logged without a fuel reading
	if err := f.engine.LogMaintenance(ctx, models.MaintenanceEvent{
		Type: models.MaintenanceRefuel,
	}); err != nil {
		t.Fatalf("LogMaintenance: %v", err)
	}

	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.LowFuelWarning {
		t.Error("low fuel warning still set after refuel without a reading")
	}
	if tel.FuelLevelPercent != 4.5 {
		t.Errorf("FuelLevelPercent = %v, want 4.5 left untouched", tel.FuelLevelPercent)
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	var invalid *state.InvalidTransitionError
	if err := f.engine.Pause(ctx); !errors.As(err, &invalid) {
		t.Errorf("Pause from idle: err = %v, want InvalidTransitionError", err)
	}
	if _, err := f.engine.Stop(ctx, false); !errors.As(err, &invalid) {
		t.Errorf("Stop from idle: err = %v, want InvalidTransitionError", err)
	}
	if err := f.engine.LogMaintenance(ctx, models.MaintenanceEvent{Type: models.MaintenanceRefuel}); !errors.As(err, &invalid) {
		t.Errorf("LogMaintenance from idle: err = %v, want InvalidTransitionError", err)
	}

	if err := f.engine.Start(ctx, 50); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.engine.Start(ctx, 50); !errors.As(err, &invalid) {
		t.Errorf("second Start: err = %v, want InvalidTransitionError", err)
	}
	if err := f.engine.Resume(ctx); !errors.As(err, &invalid) {
		t.Errorf("Resume while tracking: err = %v, want InvalidTransitionError", err)
	}
}

func TestStopIsFinalAndBuildsSummary(t *testing.T) {
	f := newEngineFixture(t, func(int, float64, float64) (*ledger.SyncOutcome, error) {
		return appliedOutcome(41, false), nil
	})
	ctx := context.Background()

	if err := f.engine.Start(ctx, 42); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pushLine(f, 52.52, 0.0045, 3, 1000)
	waitFor(t, time.Second, func() bool {
		tel, err := f.engine.Telemetry(ctx)
		return err == nil && tel.FuelLevelPercent == 41
	}, "sync never applied before stop")

	notes := "wiper blades"
	if err := f.engine.LogMaintenance(ctx, models.MaintenanceEvent{Type: models.MaintenanceOther, Notes: notes}); err != nil {
		t.Fatalf("LogMaintenance: %v", err)
	}

	summary, err := f.engine.Stop(ctx, false)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if summary.Status != models.TripCompleted {
		t.Errorf("Status = %q, want completed", summary.Status)
	}
	if summary.DistanceKm < 0.99 || summary.DistanceKm > 1.01 {
		t.Errorf("DistanceKm = %v, want ~1.0", summary.DistanceKm)
	}
	if summary.FuelStartPercent != 42 || summary.FuelEndPercent != 41 {
		t.Errorf("fuel start/end = %v/%v, want 42/41", summary.FuelStartPercent, summary.FuelEndPercent)
	}
	if summary.FuelConsumedPercent != 1 {
		t.Errorf("FuelConsumedPercent = %v, want 1", summary.FuelConsumedPercent)
	}
	if len(summary.Maintenance) != 1 || summary.Maintenance[0].Notes != notes {
		t.Errorf("Maintenance = %+v, want the single logged event", summary.Maintenance)
	}

	var invalid *state.InvalidTransitionError
	if _, err := f.engine.Stop(ctx, false); !errors.As(err, &invalid) {
		t.Errorf("second Stop: err = %v, want InvalidTransitionError", err)
	}

	// samples after stop must be ignored
	pushLine(f, 53.0, 0.0045, 3, 1000)
	time.Sleep(40 * time.Millisecond)
	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.Phase != state.PhaseStopped || tel.TotalDistanceKm != 0 {
		t.Errorf("post-stop telemetry = %+v, want stopped with no trip data", tel)
	}

	waitFor(t, time.Second, func() bool {
		f.stores.mu.Lock()
		defer f.stores.mu.Unlock()
		return len(f.stores.completed) == 1 && len(f.stores.positions[summary.TripID]) > 0
	}, "summary and track never persisted")

	waitFor(t, time.Second, func() bool {
		snap, _ := f.snapshots.Load(ctx, "vehicle-1")
		return snap == nil
	}, "snapshot not deleted after stop")
}

func TestCancelledStopMarksTripCancelled(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Start(ctx, 30); err != nil {
		t.Fatalf("Start: %v", err)
	}
	summary, err := f.engine.Stop(ctx, true)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if summary.Status != models.TripCancelled {
		t.Errorf("Status = %q, want cancelled", summary.Status)
	}
}

func TestInFlightSyncResultDiscardedAfterStop(t *testing.T) {
	release := make(chan struct{})
	f := newEngineFixture(t, func(int, float64, float64) (*ledger.SyncOutcome, error) {
		<-release
		return appliedOutcome(11, true), nil
	})
	ctx := context.Background()

	if err := f.engine.Start(ctx, 90); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pushLine(f, 52.52, 0.0045, 2, 1000)

	waitFor(t, time.Second, func() bool {
		return f.ledger.callCount() >= 1
	}, "reconcile never started")

	if _, err := f.engine.Stop(ctx, false); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// a new trip starts before the stale result lands
	if err := f.engine.Start(ctx, 50); err != nil {
		t.Fatalf("restart: %v", err)
	}
	close(release)
	time.Sleep(40 * time.Millisecond)

	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.FuelLevelPercent != 50 {
		t.Errorf("FuelLevelPercent = %v, want 50: stale sync result must be discarded", tel.FuelLevelPercent)
	}
	if tel.LowFuelWarning {
		t.Error("stale sync result latched low fuel warning on the new trip")
	}
}

func TestPositioningFailureAutoPauses(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	if err := f.engine.Start(ctx, 60); err != nil {
		t.Fatalf("Start: %v", err)
	}

	f.provider.Fail(errors.New("gps signal lost"))

	waitFor(t, time.Second, func() bool {
		tel, err := f.engine.Telemetry(ctx)
		return err == nil && tel.Phase == state.PhasePaused && tel.PositioningLost
	}, "engine never auto-paused on positioning failure")

	if err := f.engine.Resume(ctx); err != nil {
		t.Fatalf("Resume after auto-pause: %v", err)
	}
	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.PositioningLost {
		t.Error("PositioningLost still set after Resume")
	}
}

func TestRestoreResumesFromSnapshot(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	snap := &models.Trip{
		ID:                    "trip-restored",
		VehicleID:             "vehicle-1",
		Phase:                 state.PhaseTracking,
		TotalDistanceKm:       12.5,
		LastPostedKm:          12.0,
		FuelLevelPercent:      40,
		StartFuelLevelPercent: 55,
		StartedAtMs:           time.Now().Add(-time.Hour).UnixMilli(),
	}
	if err := f.engine.Restore(ctx, snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	tel, err := f.engine.Telemetry(ctx)
	if err != nil {
		t.Fatalf("Telemetry: %v", err)
	}
	if tel.Phase != state.PhasePaused {
		t.Errorf("Phase = %q, want paused after restore", tel.Phase)
	}
	if tel.TotalDistanceKm != 12.5 {
		t.Errorf("TotalDistanceKm = %v, want 12.5 from snapshot", tel.TotalDistanceKm)
	}

	if err := f.engine.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	// first sample only re-anchors, second adds ~0.5km on top of the snapshot
	pushLine(f, 52.52, 0.0045, 2, 1000)
	waitFor(t, time.Second, func() bool {
		tel, err := f.engine.Telemetry(ctx)
		return err == nil && tel.TotalDistanceKm > 12.99 && tel.TotalDistanceKm < 13.01
	}, "distance did not continue from restored total")
}
