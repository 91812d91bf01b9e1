package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/intercept-simulator/model"
)

// ErrUnknownEntity is returned when no fix has been recorded for an id.
var ErrUnknownEntity = errors.New("no telemetry for entity")

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventPositionUpdated EventType = iota
	EventPositionCleared
)

// Fix is the last known position of an externally tracked entity.
type Fix struct {
	ID         string
	Position   model.Position
	AltitudeM  float64
	ReceivedAt time.Time
	// Seq increases by one on every update for the same id.
	Seq uint64
}

// Age returns how long ago the fix was received.
func (f Fix) Age(now time.Time) time.Duration {
	return now.Sub(f.ReceivedAt)
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type EventType
	Fix  Fix
}

// KnowledgeBase is an in-memory, thread-safe store of last known positions
// for entities whose motion is reported by a remote telemetry source.
type KnowledgeBase struct {
	mu sync.RWMutex

	fixes map[string]Fix

	nextSub int
	subs    map[int]func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		fixes: make(map[string]Fix),
		subs:  make(map[int]func(Event)),
	}
}

// Update records a new fix for id and notifies subscribers.
func (kb *KnowledgeBase) Update(id string, pos model.Position, altitude float64, at time.Time) (Fix, error) {
	if id == "" {
		return Fix{}, fmt.Errorf("kb: empty entity id")
	}
	if err := pos.Validate(); err != nil {
		return Fix{}, fmt.Errorf("kb: fix for %q: %w", id, err)
	}

	kb.mu.Lock()
	prev := kb.fixes[id]
	fix := Fix{
		ID:         id,
		Position:   pos,
		AltitudeM:  altitude,
		ReceivedAt: at,
		Seq:        prev.Seq + 1,
	}
	kb.fixes[id] = fix
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, Event{Type: EventPositionUpdated, Fix: fix})
	return fix, nil
}

// Get returns the last known fix for id.
func (kb *KnowledgeBase) Get(id string) (Fix, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	fix, ok := kb.fixes[id]
	if !ok {
		return Fix{}, fmt.Errorf("%w: %q", ErrUnknownEntity, id)
	}
	return fix, nil
}

// Position is a convenience wrapper returning only the position.
func (kb *KnowledgeBase) Position(id string) (model.Position, bool) {
	fix, err := kb.Get(id)
	if err != nil {
		return model.Position{}, false
	}
	return fix.Position, true
}

// List returns all fixes ordered by id.
func (kb *KnowledgeBase) List() []Fix {
	kb.mu.RLock()
	res := make([]Fix, 0, len(kb.fixes))
	for _, f := range kb.fixes {
		res = append(res, f)
	}
	kb.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Clear forgets the fix for id, if any.
func (kb *KnowledgeBase) Clear(id string) {
	kb.mu.Lock()
	fix, ok := kb.fixes[id]
	delete(kb.fixes, id)
	subs := kb.snapshotSubsLocked()
	kb.mu.Unlock()

	if ok {
		notify(subs, Event{Type: EventPositionCleared, Fix: fix})
	}
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *KnowledgeBase) snapshotSubsLocked() []func(Event) {
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
