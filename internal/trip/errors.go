package trip

import "errors"

// ErrNotFound is returned when a trip, vehicle or join code does not resolve.
// REST handlers map it to 404; realtime handlers drop the event.
var ErrNotFound = errors.New("not found")

// ErrValidation wraps input that fails the schedule or seed rules.
var ErrValidation = errors.New("validation error")

// ErrDuplicate is returned by Store.Insert when the id or join code is taken.
var ErrDuplicate = errors.New("duplicate trip")

// ErrJoinCodeExhausted means every generated join code collided.
var ErrJoinCodeExhausted = errors.New("join code space exhausted")
