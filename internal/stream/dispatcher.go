package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"backend-tripshare/internal/trip"
)

// Inbound event names.
const (
	EventJoinTrip       = "joinTrip"
	EventLocationUpdate = "locationUpdate"
	EventChatJoin       = "chatJoin"
	EventChatLeave      = "chatLeave"
	EventChatMessage    = trip.EventChatMessage
)

// Outbound acknowledgements and errors.
const (
	EventChatJoined = "chatJoined"
	EventChatLeft   = "chatLeft"
	EventError      = "error"
)

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type joinTripRequest struct {
	TripID    string `json:"tripId"`
	VehicleID string `json:"vehicleId"`
}

type locationUpdateRequest struct {
	TripID    string   `json:"tripId"`
	VehicleID string   `json:"vehicleId"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	SpeedKmh  float64  `json:"speedKmh"`
	Heading   float64  `json:"heading"`
	TS        *int64   `json:"ts"`
}

type chatJoinRequest struct {
	TripID string `json:"tripId"`
	Name   string `json:"name"`
}

type chatLeaveRequest struct {
	TripID string `json:"tripId"`
}

type chatMessageRequest struct {
	TripID string `json:"tripId"`
	Text   string `json:"text"`
}

// Dispatcher turns inbound envelopes into service calls and room changes.
// Requests that name an unknown trip or vehicle never change state; when
// errorEvents is set the sender also gets an error event.
type Dispatcher struct {
	hub         *Hub
	svc         *trip.Service
	errorEvents bool
	metrics     Metrics
	log         *slog.Logger
}

func NewDispatcher(hub *Hub, svc *trip.Service, errorEvents bool) *Dispatcher {
	return &Dispatcher{
		hub:         hub,
		svc:         svc,
		errorEvents: errorEvents,
		metrics:     hub.metrics,
		log:         hub.log,
	}
}

func (d *Dispatcher) Handle(ctx context.Context, client *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		d.reject(client, "", "invalid_payload", "message must be a JSON envelope with an event name")
		return
	}
	if d.metrics != nil {
		d.metrics.EventReceived(env.Event)
	}

	switch env.Event {
	case EventJoinTrip:
		var req joinTripRequest
		if d.decode(client, env, &req) {
			d.joinTrip(ctx, client, req)
		}
	case EventLocationUpdate:
		var req locationUpdateRequest
		if d.decode(client, env, &req) {
			d.locationUpdate(ctx, client, req)
		}
	case EventChatJoin:
		var req chatJoinRequest
		if d.decode(client, env, &req) {
			d.chatJoin(client, req)
		}
	case EventChatLeave:
		var req chatLeaveRequest
		if d.decode(client, env, &req) {
			d.hub.Leave(client, trip.ChatRoom(req.TripID))
			d.hub.Send(client, EventChatLeft, struct{}{})
		}
	case EventChatMessage:
		var req chatMessageRequest
		if d.decode(client, env, &req) {
			d.chatMessage(ctx, client, req)
		}
	default:
		d.reject(client, env.Event, "unknown_event", "unsupported event")
	}
}

// joinTrip enters the room before taking the snapshot, and sends it while the
// trip is locked. Broadcasts the client already got are older than the
// snapshot; everything after it is newer.
func (d *Dispatcher) joinTrip(ctx context.Context, client *Client, req joinTripRequest) {
	if !d.svc.Store().Exists(req.TripID) {
		d.rejectErr(client, EventJoinTrip, trip.ErrNotFound)
		return
	}
	room := trip.TripRoom(req.TripID)
	d.hub.Join(client, room)
	if err := d.svc.ViewTrip(ctx, req.TripID, func(t trip.Trip) {
		d.hub.Send(client, trip.EventVehicles, t.Vehicles)
		d.hub.Send(client, trip.EventSchedule, t.Schedule)
	}); err != nil {
		d.hub.Leave(client, room)
		d.rejectErr(client, EventJoinTrip, err)
	}
}

func (d *Dispatcher) locationUpdate(ctx context.Context, client *Client, req locationUpdateRequest) {
	if req.Lat == nil || req.Lng == nil {
		d.reject(client, EventLocationUpdate, "invalid_payload", "lat and lng are required")
		return
	}
	report := trip.PositionReport{
		TripID:    req.TripID,
		VehicleID: req.VehicleID,
		Lat:       *req.Lat,
		Lng:       *req.Lng,
		SpeedKmh:  req.SpeedKmh,
		Heading:   req.Heading,
	}
	if req.TS != nil {
		report.At = time.UnixMilli(*req.TS).UTC()
	}
	if err := d.svc.ReportPosition(ctx, report); err != nil {
		d.rejectErr(client, EventLocationUpdate, err)
	}
}

func (d *Dispatcher) chatJoin(client *Client, req chatJoinRequest) {
	if !d.svc.Store().Exists(req.TripID) {
		d.rejectErr(client, EventChatJoin, trip.ErrNotFound)
		return
	}
	client.name = req.Name
	if client.name == "" {
		client.name = trip.DefaultChatName
	}
	d.hub.Join(client, trip.ChatRoom(req.TripID))
	d.hub.Send(client, EventChatJoined, struct{}{})
}

func (d *Dispatcher) chatMessage(ctx context.Context, client *Client, req chatMessageRequest) {
	if _, err := d.svc.PostChat(ctx, req.TripID, client.name, req.Text); err != nil {
		d.rejectErr(client, EventChatMessage, err)
	}
}

func (d *Dispatcher) decode(client *Client, env Envelope, v any) bool {
	if len(env.Data) == 0 {
		d.reject(client, env.Event, "invalid_payload", "missing data")
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		d.reject(client, env.Event, "invalid_payload", err.Error())
		return false
	}
	return true
}

func (d *Dispatcher) rejectErr(client *Client, event string, err error) {
	if errors.Is(err, trip.ErrNotFound) {
		d.reject(client, event, "not_found", err.Error())
		return
	}
	d.log.Error("realtime event failed", "event", event, "client_id", client.ID, "error", err)
	d.reject(client, event, "internal", "request failed")
}

func (d *Dispatcher) reject(client *Client, event, code, message string) {
	d.log.Debug("realtime event dropped", "event", event, "client_id", client.ID, "code", code)
	if !d.errorEvents {
		return
	}
	d.hub.Send(client, EventError, ErrorPayload{Code: code, Message: message, Event: event})
}
