package tracking

import (
	"context"

	"backend-tripshare/internal/db"
	"backend-tripshare/internal/trip"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

// Archive appends position reports to vehicle_positions. It is write-mostly:
// nothing reloads trips from it.
type Archive struct {
	db db.Querier
}

func NewArchive(q db.Querier) *Archive {
	return &Archive{db: q}
}

func (a *Archive) Record(ctx context.Context, r trip.PositionReport) error {
	_, err := a.db.Exec(ctx, `
		INSERT INTO vehicle_positions (trip_id, vehicle_id, lat, lng, speed_kmh, heading, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, r.TripID, r.VehicleID, r.Lat, r.Lng, r.SpeedKmh, r.Heading, r.At)
	return err
}

// History returns up to limit reports for a vehicle, newest first.
func (a *Archive) History(ctx context.Context, tripID, vehicleID string, limit int) ([]Position, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := a.db.Query(ctx, `
		SELECT id, trip_id, vehicle_id, lat, lng, speed_kmh, heading, recorded_at
		FROM vehicle_positions
		WHERE trip_id=$1 AND vehicle_id=$2
		ORDER BY recorded_at DESC, id DESC
		LIMIT $3
	`, tripID, vehicleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := []Position{}
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.ID, &p.TripID, &p.VehicleID, &p.Lat, &p.Lng, &p.SpeedKmh, &p.Heading, &p.RecordedAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
