package tracking

import "time"

// Position is one archived location report.
type Position struct {
	ID         int64     `json:"id"`
	TripID     string    `json:"trip_id"`
	VehicleID  string    `json:"vehicle_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedKmh   float64   `json:"speed_kmh"`
	Heading    float64   `json:"heading"`
	RecordedAt time.Time `json:"recorded_at"`
}
