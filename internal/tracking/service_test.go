package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"backend-tripshare/internal/trip"

	"github.com/pashagolub/pgxmock/v3"
)

var errArchive = errors.New("archive down")

var positionColumns = []string{"id", "trip_id", "vehicle_id", "lat", "lng", "speed_kmh", "heading", "recorded_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func TestArchiveRecord(t *testing.T) {
	mock := newMock(t)
	archive := NewArchive(mock)
	at := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO vehicle_positions`).
		WithArgs("trip-1", "van-1", 14.7, 101.4, 60.0, 180.0, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := archive.Record(context.Background(), trip.PositionReport{
		TripID: "trip-1", VehicleID: "van-1", Lat: 14.7, Lng: 101.4, SpeedKmh: 60, Heading: 180, At: at,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveRecordError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`INSERT INTO vehicle_positions`).WillReturnError(errArchive)

	err := NewArchive(mock).Record(context.Background(), trip.PositionReport{TripID: "trip-1", VehicleID: "van-1"})
	if !errors.Is(err, errArchive) {
		t.Fatalf("expected archive error, got %v", err)
	}
}

func TestArchiveHistory(t *testing.T) {
	mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, trip_id, vehicle_id, lat, lng, speed_kmh, heading, recorded_at\s+FROM vehicle_positions`).
		WithArgs("trip-1", "van-1", 2).
		WillReturnRows(pgxmock.NewRows(positionColumns).
			AddRow(int64(2), "trip-1", "van-1", 14.8, 101.5, 50.0, 90.0, now).
			AddRow(int64(1), "trip-1", "van-1", 14.7, 101.4, 60.0, 180.0, now.Add(-time.Minute)))

	positions, err := NewArchive(mock).History(context.Background(), "trip-1", "van-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(positions) != 2 || positions[0].ID != 2 {
		t.Fatalf("expected newest first, got %+v", positions)
	}
}

func TestArchiveHistoryLimits(t *testing.T) {
	mock := newMock(t)
	archive := NewArchive(mock)

	mock.ExpectQuery(`FROM vehicle_positions`).
		WithArgs("trip-1", "van-1", DefaultHistoryLimit).
		WillReturnRows(pgxmock.NewRows(positionColumns))
	mock.ExpectQuery(`FROM vehicle_positions`).
		WithArgs("trip-1", "van-1", MaxHistoryLimit).
		WillReturnRows(pgxmock.NewRows(positionColumns))

	positions, err := archive.History(context.Background(), "trip-1", "van-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if positions == nil || len(positions) != 0 {
		t.Fatalf("expected empty non-nil slice")
	}
	if _, err := archive.History(context.Background(), "trip-1", "van-1", 5000); err != nil {
		t.Fatalf("history: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestArchiveHistoryQueryError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery(`FROM vehicle_positions`).WillReturnError(errArchive)

	if _, err := NewArchive(mock).History(context.Background(), "trip-1", "van-1", 10); err == nil {
		t.Fatalf("expected error")
	}
}
