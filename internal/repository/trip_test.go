package repository

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/langchou/fueltrip/internal/models"
)

func TestTripCreateAndComplete(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewTripRepository(mock)

	trip := &models.Trip{
		ID:                    "trip-1",
		VehicleID:             "veh-1",
		StartedAtMs:           1700000000000,
		StartFuelLevelPercent: 80,
	}

	mock.ExpectExec(`INSERT INTO trips`).
		WithArgs(trip.ID, trip.VehicleID, trip.StartedAtMs, trip.StartFuelLevelPercent).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := repo.Create(context.Background(), trip); err != nil {
		t.Fatalf("create: %v", err)
	}

	endedAt := time.UnixMilli(1700000600000)
	summary := &models.TripSummary{
		TripID:              "trip-1",
		VehicleID:           "veh-1",
		EndedAt:             endedAt,
		DurationMin:         10,
		DistanceKm:          8.2,
		AvgSpeedKmh:         49.2,
		FuelEndPercent:      74.5,
		FuelConsumedPercent: 5.5,
		Status:              models.TripCompleted,
	}

	mock.ExpectExec(`UPDATE trips SET`).
		WithArgs(summary.EndedAt, summary.DurationMin, summary.DistanceKm, summary.AvgSpeedKmh,
			summary.FuelEndPercent, summary.FuelConsumedPercent, summary.LowFuelWarning,
			summary.Status, summary.TripID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	if err := repo.Complete(context.Background(), summary); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTripGetByID(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	repo := NewTripRepository(mock)

	started := time.UnixMilli(1700000000000)
	ended := time.UnixMilli(1700000600000)

	rows := pgxmock.NewRows([]string{
		"id", "vehicle_id", "started_at", "ended_at", "duration_min", "distance_km",
		"avg_speed_kmh", "fuel_start_percent", "fuel_end_percent",
		"fuel_consumed_percent", "low_fuel_warning", "status",
	}).AddRow("trip-1", "veh-1", started, ended, 10.0, 8.2, 49.2, 80.0, 74.5, 5.5, false, models.TripCompleted)

	mock.ExpectQuery(`SELECT .* FROM trips WHERE id`).
		WithArgs("trip-1").
		WillReturnRows(rows)

	got, err := repo.GetByID(context.Background(), "trip-1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.TripID != "trip-1" || got.DistanceKm != 8.2 || got.Status != models.TripCompleted {
		t.Fatalf("unexpected summary: %+v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
