package trip

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	joinCodeLength   = 6
	joinCodeAttempts = 8
	joinCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type record struct {
	mu   sync.Mutex
	trip Trip
}

// Store keeps every trip in memory, indexed by join code and by id.
// Sub-collections of a trip are mutated under that trip's own lock.
type Store struct {
	mu      sync.RWMutex
	byCode  map[string]*record
	byID    map[string]*record
	newCode func() string
}

func NewStore() *Store {
	return &Store{
		byCode:  map[string]*record{},
		byID:    map[string]*record{},
		newCode: randomJoinCode,
	}
}

// Create registers a new empty trip under a fresh id and join code.
func (s *Store) Create(name string, center Center) (Trip, error) {
	t := Trip{
		ID:        uuid.NewString(),
		Name:      name,
		Center:    center,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < joinCodeAttempts; i++ {
		code := s.newCode()
		if _, taken := s.byCode[code]; taken {
			continue
		}
		t.JoinCode = code
		s.putLocked(t)
		return snapshot(t), nil
	}
	return Trip{}, ErrJoinCodeExhausted
}

// Insert adds a fully formed trip, as used by the seed loader. Missing ids and
// join codes are generated.
func (s *Store) Insert(t Trip) (Trip, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byID[t.ID]; taken {
		return Trip{}, fmt.Errorf("%w: id %s", ErrDuplicate, t.ID)
	}
	if t.JoinCode == "" {
		for i := 0; i < joinCodeAttempts && t.JoinCode == ""; i++ {
			if code := s.newCode(); s.byCode[code] == nil {
				t.JoinCode = code
			}
		}
		if t.JoinCode == "" {
			return Trip{}, ErrJoinCodeExhausted
		}
	} else if _, taken := s.byCode[t.JoinCode]; taken {
		return Trip{}, fmt.Errorf("%w: join code %s", ErrDuplicate, t.JoinCode)
	}

	s.putLocked(t)
	return snapshot(t), nil
}

func (s *Store) putLocked(t Trip) {
	rec := &record{trip: t}
	s.byCode[t.JoinCode] = rec
	s.byID[t.ID] = rec
}

func (s *Store) ByJoinCode(code string) (Trip, error) {
	s.mu.RLock()
	rec := s.byCode[code]
	s.mu.RUnlock()
	return rec.read()
}

func (s *Store) ByID(id string) (Trip, error) {
	return s.lookup(id).read()
}

// Update runs fn against the live trip under its lock and returns a snapshot
// taken before the lock is released. If fn fails nothing is returned and fn is
// responsible for leaving the trip untouched.
func (s *Store) Update(id string, fn func(*Trip) error) (Trip, error) {
	return s.UpdateNotify(id, fn, nil)
}

// UpdateNotify is Update with a commit hook. notify runs with the new snapshot
// while the trip is still locked, so hooks on one trip observe commit order.
func (s *Store) UpdateNotify(id string, fn func(*Trip) error, notify func(Trip)) (Trip, error) {
	rec := s.lookup(id)
	if rec == nil {
		return Trip{}, ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := fn(&rec.trip); err != nil {
		return Trip{}, err
	}
	t := snapshot(rec.trip)
	if notify != nil {
		notify(t)
	}
	return t, nil
}

// View hands fn a snapshot while the trip is locked. No commit hook on the
// same trip can run concurrently with fn.
func (s *Store) View(id string, fn func(Trip)) error {
	rec := s.lookup(id)
	if rec == nil {
		return ErrNotFound
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	fn(snapshot(rec.trip))
	return nil
}

func (s *Store) Exists(id string) bool {
	return s.lookup(id) != nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) lookup(id string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

func (r *record) read() (Trip, error) {
	if r == nil {
		return Trip{}, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.trip), nil
}

// snapshot copies the sub-collections so callers never share backing arrays
// with the store. Pointer fields are replaced, never written through, so the
// element copies are safe.
func snapshot(t Trip) Trip {
	t.Schedule = append(make([]ScheduleItem, 0, len(t.Schedule)), t.Schedule...)
	t.Vehicles = append(make([]Vehicle, 0, len(t.Vehicles)), t.Vehicles...)
	t.Chat = append(make([]ChatMessage, 0, len(t.Chat)), t.Chat...)
	return t
}

func randomJoinCode() string {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("trip: read random join code: %v", err))
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf)
}
