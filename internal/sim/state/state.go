// internal/sim/state/state.go
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/iancoleman/orderedmap"

	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/model"
)

var (
	// ErrEntityExists indicates an entity id was loaded twice.
	ErrEntityExists = errors.New("entity already exists")
	// ErrEntityNotFound indicates a requested entity was not found.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrNoTarget indicates a load without exactly one target entity.
	ErrNoTarget = errors.New("state requires exactly one target")
)

// Zone is the part of the trigger zone the state needs to reset a run.
type Zone interface {
	Armed() bool
	Rearm()
}

// MetricsRecorder receives entity counts after every change.
type MetricsRecorder interface {
	SetEntityCounts(circling, transiting, hit int)
}

// Option customises SimulationState construction.
type Option func(*SimulationState)

// WithMetricsRecorder attaches an optional metrics recorder for entity counts.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *SimulationState) {
		s.metrics = m
	}
}

// SimulationState holds one run: the tick counter, the entities keyed by id
// in processing order (target first, then interceptors in configuration
// order), the hit count and the trigger zone.
//
// SimulationState is owned by a single controller and is not safe for
// concurrent use; the controller serialises access.
type SimulationState struct {
	runID    string
	tick     int
	hitCount int
	zone     Zone

	// entities maps id -> *model.MovingEntity, preserving insertion order.
	entities *orderedmap.OrderedMap
	targetID string

	log     logging.Logger
	metrics MetricsRecorder
}

// NewSimulationState returns an empty state.
func NewSimulationState(log logging.Logger, opts ...Option) *SimulationState {
	if log == nil {
		log = logging.Noop()
	}
	s := &SimulationState{
		entities: orderedmap.New(),
		log:      log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Load replaces the run with the given entities. The single target is moved
// to the front; interceptors keep their relative order. tick and hitCount go
// back to zero and the zone is rearmed. On error the state is unchanged.
func (s *SimulationState) Load(ctx context.Context, runID string, zone Zone, entities []*model.MovingEntity) error {
	next := orderedmap.New()
	seen := make(map[string]bool, len(entities))
	var target *model.MovingEntity
	var interceptors []*model.MovingEntity
	for _, e := range entities {
		if e == nil {
			continue
		}
		if seen[e.ID] {
			return fmt.Errorf("%w: %q", ErrEntityExists, e.ID)
		}
		seen[e.ID] = true
		if e.Role == model.RoleTarget {
			if target != nil {
				return ErrNoTarget
			}
			target = e
			continue
		}
		interceptors = append(interceptors, e)
	}
	if target == nil {
		return ErrNoTarget
	}
	next.Set(target.ID, target)
	for _, e := range interceptors {
		next.Set(e.ID, e)
	}
	targetID := target.ID

	s.runID = runID
	s.tick = 0
	s.hitCount = 0
	s.entities = next
	s.targetID = targetID
	s.zone = zone
	if zone != nil {
		zone.Rearm()
	}
	s.RecordCounts()
	s.log.Debug(ctx, "simulation state loaded",
		logging.String("run_id", runID),
		logging.Int("entities", len(next.Keys())),
	)
	return nil
}

func (s *SimulationState) RunID() string { return s.runID }
func (s *SimulationState) Tick() int     { return s.tick }
func (s *SimulationState) HitCount() int { return s.hitCount }
func (s *SimulationState) Zone() Zone    { return s.zone }

// IncTick advances the tick counter and returns the new value.
func (s *SimulationState) IncTick() int {
	s.tick++
	return s.tick
}

// AddHits increments the hit counter by n.
func (s *SimulationState) AddHits(n int) {
	if n > 0 {
		s.hitCount += n
	}
}

// Len returns the number of entities.
func (s *SimulationState) Len() int { return len(s.entities.Keys()) }

// Get returns the entity with id.
func (s *SimulationState) Get(id string) (*model.MovingEntity, error) {
	v, ok := s.entities.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	return v.(*model.MovingEntity), nil
}

// Target returns the target entity, or nil before the first Load.
func (s *SimulationState) Target() *model.MovingEntity {
	if s.targetID == "" {
		return nil
	}
	e, _ := s.Get(s.targetID)
	return e
}

// Entities returns every entity in processing order. The pointers are owned
// by the state.
func (s *SimulationState) Entities() []*model.MovingEntity {
	keys := s.entities.Keys()
	out := make([]*model.MovingEntity, 0, len(keys))
	for _, k := range keys {
		v, _ := s.entities.Get(k)
		out = append(out, v.(*model.MovingEntity))
	}
	return out
}

// Interceptors returns the interceptors in configuration order.
func (s *SimulationState) Interceptors() []*model.MovingEntity {
	all := s.Entities()
	out := all[:0:0]
	for _, e := range all {
		if e.Role == model.RoleInterceptor {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns how many interceptors are circling, transiting and hit.
func (s *SimulationState) Counts() (circling, transiting, hit int) {
	for _, e := range s.Interceptors() {
		switch e.State {
		case model.StateCircling:
			circling++
		case model.StateTransiting:
			transiting++
		case model.StateHit:
			hit++
		}
	}
	return circling, transiting, hit
}

// RecordCounts pushes the current counts to the metrics recorder, if any.
func (s *SimulationState) RecordCounts() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetEntityCounts(s.Counts())
}
