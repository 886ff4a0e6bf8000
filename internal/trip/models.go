package trip

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Millis is a point in time carried as epoch milliseconds in JSON.
type Millis struct{ time.Time }

func MillisOf(t time.Time) Millis { return Millis{t.UTC().Truncate(time.Millisecond)} }

func (m Millis) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, m.UnixMilli(), 10), nil
}

func (m *Millis) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp must be epoch milliseconds: %s", b)
	}
	m.Time = time.UnixMilli(ms).UTC()
	return nil
}

type Center struct {
	Lat  float64 `json:"lat" yaml:"lat"`
	Lng  float64 `json:"lng" yaml:"lng"`
	Zoom int     `json:"zoom" yaml:"zoom"`
}

type Trip struct {
	ID        string         `json:"id"`
	JoinCode  string         `json:"join_code"`
	Name      string         `json:"name"`
	Center    Center         `json:"center"`
	Schedule  []ScheduleItem `json:"schedule"`
	Vehicles  []Vehicle      `json:"vehicles"`
	Chat      []ChatMessage  `json:"chat"`
	CreatedAt time.Time      `json:"created_at"`
}

type ScheduleItem struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	TimeStart time.Time  `json:"time_start"`
	TimeEnd   *time.Time `json:"time_end"`
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Notes     string     `json:"notes"`
	MapURL    string     `json:"gmaps_url"`
}

// Vehicle position fields stay nil until the first report arrives.
type Vehicle struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	LastLat      *float64   `json:"last_lat"`
	LastLng      *float64   `json:"last_lng"`
	LastSpeedKmh *float64   `json:"last_speed_kmh"`
	LastHeading  *float64   `json:"last_heading"`
	UpdatedAt    *Millis    `json:"updated_at"`
	DistanceKm   float64    `json:"distance_km"`
}

type ChatMessage struct {
	Name string `json:"name"`
	Text string `json:"text"`
	TS   Millis `json:"ts"`
}

// ScheduleInput is the request body for adding a schedule item.
type ScheduleInput struct {
	Title     string     `json:"title" validate:"required"`
	TimeStart *time.Time `json:"time_start" validate:"required"`
	TimeEnd   *time.Time `json:"time_end"`
	Lat       *float64   `json:"lat" validate:"omitempty,latitude"`
	Lng       *float64   `json:"lng" validate:"omitempty,longitude"`
	Notes     string     `json:"notes"`
	MapURL    string     `json:"gmaps_url" validate:"omitempty,url"`
}

// Schedule times accept RFC3339 or the zone-less form browsers send for
// datetime-local inputs, which is read as UTC.
var scheduleTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseScheduleTime(field, value string) (time.Time, error) {
	for _, layout := range scheduleTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s must be RFC3339 or YYYY-MM-DDTHH:MM", ErrValidation, field)
}

func (in *ScheduleInput) UnmarshalJSON(b []byte) error {
	type plain ScheduleInput
	var raw struct {
		plain
		TimeStart *string `json:"time_start"`
		TimeEnd   *string `json:"time_end"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*in = ScheduleInput(raw.plain)
	if raw.TimeStart != nil && *raw.TimeStart != "" {
		t, err := parseScheduleTime("time_start", *raw.TimeStart)
		if err != nil {
			return err
		}
		in.TimeStart = &t
	}
	if raw.TimeEnd != nil && *raw.TimeEnd != "" {
		t, err := parseScheduleTime("time_end", *raw.TimeEnd)
		if err != nil {
			return err
		}
		in.TimeEnd = &t
	}
	return nil
}

type PositionReport struct {
	TripID    string
	VehicleID string
	Lat       float64
	Lng       float64
	SpeedKmh  float64
	Heading   float64
	At        time.Time
}
