package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"backend-tripshare/internal/shared/geo"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultTripName    = "My Trip"
	DefaultVehicleName = "Vehicle"
	DefaultChatName    = "Guest"

	ChatHistoryLimit = 500
	ChatTextLimit    = 1000
)

var DefaultCenter = Center{Lat: 13.736, Lng: 100.523, Zoom: 6}

// Outbound realtime event names produced by mutations.
const (
	EventVehicles    = "vehicles"
	EventSchedule    = "scheduleUpdate"
	EventChatMessage = "chatMessage"
)

func TripRoom(tripID string) string { return "trip:" + tripID }
func ChatRoom(tripID string) string { return "chat:" + tripID }

// Publisher fans an event out to every connection in a room.
type Publisher interface {
	Publish(room, event string, data any)
}

// PositionSink receives every accepted position report.
type PositionSink interface {
	Record(ctx context.Context, report PositionReport) error
}

type Metrics interface {
	TripCreated()
	ScheduleItemAdded()
	VehicleRegistered()
	PositionReported()
	ChatPosted()
}

type Service struct {
	store   *Store
	pub     Publisher
	sink    PositionSink
	metrics Metrics
	log     *slog.Logger
}

type Option func(*Service)

func WithPositionSink(sink PositionSink) Option {
	return func(s *Service) { s.sink = sink }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(store *Store, pub Publisher, opts ...Option) *Service {
	s := &Service{store: store, pub: pub, log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() *Store { return s.store }

func (s *Service) CreateTrip(_ context.Context, name string, center *Center) (Trip, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultTripName
	}
	c := DefaultCenter
	if center != nil {
		c = *center
	}
	t, err := s.store.Create(name, c)
	if err != nil {
		return Trip{}, fmt.Errorf("create trip: %w", err)
	}
	if s.metrics != nil {
		s.metrics.TripCreated()
	}
	s.log.Info("trip created", "trip_id", t.ID, "join_code", t.JoinCode)
	return t, nil
}

func (s *Service) TripByJoinCode(_ context.Context, code string) (Trip, error) {
	return s.store.ByJoinCode(code)
}

func (s *Service) TripByID(_ context.Context, id string) (Trip, error) {
	return s.store.ByID(id)
}

// ViewTrip runs fn on a snapshot that no broadcast for the same trip can
// interleave with.
func (s *Service) ViewTrip(_ context.Context, id string, fn func(Trip)) error {
	return s.store.View(id, fn)
}

// AddScheduleItem appends to the trip schedule and publishes the full list.
// An unknown trip is reported before any validation failure.
func (s *Service) AddScheduleItem(_ context.Context, tripID string, in ScheduleInput) (ScheduleItem, error) {
	if !s.store.Exists(tripID) {
		return ScheduleItem{}, ErrNotFound
	}
	if err := validateInput(in); err != nil {
		return ScheduleItem{}, err
	}

	item := ScheduleItem{
		ID:        uuid.NewString(),
		Title:     in.Title,
		TimeStart: *in.TimeStart,
		TimeEnd:   in.TimeEnd,
		Lat:       in.Lat,
		Lng:       in.Lng,
		Notes:     in.Notes,
		MapURL:    in.MapURL,
	}
	if _, err := s.store.UpdateNotify(tripID, func(t *Trip) error {
		t.Schedule = append(t.Schedule, item)
		return nil
	}, func(t Trip) {
		s.publish(TripRoom(tripID), EventSchedule, t.Schedule)
	}); err != nil {
		return ScheduleItem{}, err
	}

	if s.metrics != nil {
		s.metrics.ScheduleItemAdded()
	}
	return item, nil
}

func (s *Service) RegisterVehicle(_ context.Context, tripID, name string) (Vehicle, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultVehicleName
	}
	v := Vehicle{ID: uuid.NewString(), Name: name}
	if _, err := s.store.Update(tripID, func(t *Trip) error {
		t.Vehicles = append(t.Vehicles, v)
		return nil
	}); err != nil {
		return Vehicle{}, err
	}
	if s.metrics != nil {
		s.metrics.VehicleRegistered()
	}
	return v, nil
}

// ReportPosition overwrites the vehicle's last known fields. Reports are not
// ordered by timestamp: the last one applied wins.
func (s *Service) ReportPosition(ctx context.Context, r PositionReport) error {
	if r.At.IsZero() {
		r.At = time.Now().UTC()
	}
	_, err := s.store.UpdateNotify(r.TripID, func(t *Trip) error {
		for i := range t.Vehicles {
			v := &t.Vehicles[i]
			if v.ID != r.VehicleID {
				continue
			}
			if v.LastLat != nil && v.LastLng != nil {
				v.DistanceKm += geo.HaversineKm(*v.LastLat, *v.LastLng, r.Lat, r.Lng)
			}
			lat, lng, speed, heading, at := r.Lat, r.Lng, r.SpeedKmh, r.Heading, MillisOf(r.At)
			v.LastLat, v.LastLng = &lat, &lng
			v.LastSpeedKmh, v.LastHeading = &speed, &heading
			v.UpdatedAt = &at
			return nil
		}
		return fmt.Errorf("vehicle %s: %w", r.VehicleID, ErrNotFound)
	}, func(t Trip) {
		s.publish(TripRoom(r.TripID), EventVehicles, t.Vehicles)
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.PositionReported()
	}

	if s.sink != nil {
		if err := s.sink.Record(ctx, r); err != nil {
			s.log.Warn("archive position", "trip_id", r.TripID, "vehicle_id", r.VehicleID, "error", err)
		}
	}
	return nil
}

// PostChat appends a chat message, evicting the oldest beyond ChatHistoryLimit,
// and broadcasts only the new message.
func (s *Service) PostChat(_ context.Context, tripID, name, text string) (ChatMessage, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultChatName
	}
	msg := ChatMessage{Name: name, Text: truncate(text, ChatTextLimit), TS: MillisOf(time.Now())}
	if _, err := s.store.UpdateNotify(tripID, func(t *Trip) error {
		t.Chat = append(t.Chat, msg)
		if over := len(t.Chat) - ChatHistoryLimit; over > 0 {
			t.Chat = append(t.Chat[:0:0], t.Chat[over:]...)
		}
		return nil
	}, func(Trip) {
		s.publish(ChatRoom(tripID), EventChatMessage, msg)
	}); err != nil {
		return ChatMessage{}, err
	}

	if s.metrics != nil {
		s.metrics.ChatPosted()
	}
	return msg, nil
}

// Seed inserts pre-built trips, typically from LoadSeed.
func (s *Service) Seed(trips []Trip) error {
	for _, t := range trips {
		inserted, err := s.store.Insert(t)
		if err != nil {
			return fmt.Errorf("seed trip %q: %w", t.Name, err)
		}
		s.log.Info("trip seeded", "trip_id", inserted.ID, "join_code", inserted.JoinCode)
	}
	return nil
}

func (s *Service) publish(room, event string, data any) {
	if s.pub != nil {
		s.pub.Publish(room, event, data)
	}
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func validateInput(in ScheduleInput) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			msgs = append(msgs, fe.Field()+" is required")
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s must be a valid %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
}
