package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/internal/observability"
	"github.com/signalsfoundry/intercept-simulator/internal/sim/state"
	"github.com/signalsfoundry/intercept-simulator/model"
	"github.com/signalsfoundry/intercept-simulator/timectrl"
)

// MetricsRecorder receives simulation-loop measurements.
type MetricsRecorder interface {
	state.MetricsRecorder
	ObserveTick(d time.Duration)
	IncZoneFires()
	ObserveLaunch(n int, d time.Duration)
	AddHits(n int)
	IncTelemetryError(op string)
	SetPathCacheHitRatio(ratio float64)
}

// TelemetryLink connects externally flown interceptors to a remote
// telemetry source. Implementations must not block: the engine calls them
// from inside a tick.
type TelemetryLink interface {
	// LastKnown returns the most recent reported position for id.
	LastKnown(id string) (model.Position, bool)
	// SeedPosition asks the remote side to place id at pos.
	SeedPosition(ctx context.Context, id string, pos model.Position) error
	// SendWaypoint commands id to fly to pos.
	SendWaypoint(ctx context.Context, id string, pos model.Position) error
}

// Option customises SimulationEngine construction.
type Option func(*SimulationEngine)

// WithLogger attaches a structured logger.
func WithLogger(l logging.Logger) Option {
	return func(se *SimulationEngine) {
		if l != nil {
			se.log = l
		}
	}
}

// WithClock sets the clock that drives orbiting interceptors.
func WithClock(c timectrl.SimClock) Option {
	return func(se *SimulationEngine) {
		if c != nil {
			se.clock = c
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(se *SimulationEngine) {
		se.metrics = m
	}
}

// WithTelemetryLink wires externally flown interceptors to a remote source.
func WithTelemetryLink(t TelemetryLink) Option {
	return func(se *SimulationEngine) {
		se.telemetry = t
	}
}

// WithPathCache shares a path cache between runs.
func WithPathCache(c *PathCache) Option {
	return func(se *SimulationEngine) {
		if c != nil {
			se.paths = c
		}
	}
}

// WithRunIDGenerator overrides how run ids are minted.
func WithRunIDGenerator(fn func() string) Option {
	return func(se *SimulationEngine) {
		if fn != nil {
			se.newRunID = fn
		}
	}
}

// SimulationEngine is the run controller. It owns the simulation state and
// advances it one tick per Tick call; cadence belongs to the caller. Tick
// and the commands are serialised by an internal lock, so a command issued
// from another goroutine always lands on a tick boundary.
type SimulationEngine struct {
	mu sync.Mutex

	cfg        Config
	configured bool
	phase      model.Phase

	state    *state.SimulationState
	zone     *TriggerZone
	detector *ProximityDetector
	planner  InterceptPlanner
	stepper  TrajectoryStepper
	orbits   map[string]OrbitMotion
	target   model.Path

	clock     timectrl.SimClock
	paths     *PathCache
	telemetry TelemetryLink
	metrics   MetricsRecorder
	log       logging.Logger
	tracer    trace.Tracer
	newRunID  func() string

	nextListener int
	listeners    map[int]func(model.Snapshot)
}

// NewSimulationEngine returns an idle engine.
func NewSimulationEngine(opts ...Option) *SimulationEngine {
	se := &SimulationEngine{
		phase:     model.PhaseIdle,
		clock:     timectrl.WallClock{},
		paths:     NewPathCache(0),
		log:       logging.Noop(),
		newRunID:  uuid.NewString,
		listeners: make(map[int]func(model.Snapshot)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(se)
		}
	}
	se.state = state.NewSimulationState(se.log, state.WithMetricsRecorder(se.metrics))
	se.tracer = observability.Tracer("github.com/signalsfoundry/intercept-simulator/core")
	return se
}

// Configure validates cfg, precomputes the target path and arms a fresh run.
// It is accepted in any phase and discards in-flight state. On error the
// engine is left untouched.
func (se *SimulationEngine) Configure(ctx context.Context, cfg Config) error {
	ctx, span := se.tracer.Start(ctx, "SimulationEngine.Configure")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	cfg = cfg.withDefaults()

	targetPath, err := se.paths.Path(cfg.Origin, cfg.Destination, cfg.TargetSpeedMps, cfg.SampleRate)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	zone, err := NewTriggerZone(cfg.ZoneCenter, cfg.ZoneRadiusMeters)
	if err != nil {
		return err
	}
	detector, err := NewProximityDetector(cfg.HitRadiusMeters)
	if err != nil {
		return err
	}

	se.mu.Lock()
	defer se.mu.Unlock()

	se.cfg = cfg
	se.configured = true
	se.target = targetPath
	se.zone = zone
	se.detector = detector
	se.planner = InterceptPlanner{
		SpeedMps:   cfg.InterceptorSpeedMps,
		SampleRate: cfg.SampleRate,
		Mode:       cfg.InterceptMode,
		Paths:      se.paths,
	}
	se.orbits = make(map[string]OrbitMotion, len(cfg.Anchors))
	for _, a := range cfg.Anchors {
		se.orbits[a.ID] = NewOrbitMotion(a.Position, cfg.OrbitAngularSpeed, cfg.OrbitRadiusDeg)
	}

	span.SetAttributes(
		attribute.Int("target.path_len", targetPath.Len()),
		attribute.Int("interceptors", len(cfg.Anchors)),
		attribute.String("launch_mode", string(cfg.LaunchMode)),
		attribute.String("intercept_mode", string(cfg.InterceptMode)),
	)
	se.log.Info(ctx, "simulation configured",
		logging.Float64("target_distance_m", DistanceMeters(cfg.Origin, cfg.Destination)),
		logging.Int("target_steps", targetPath.LastIndex()),
		logging.Int("interceptors", len(cfg.Anchors)),
		logging.Float64("zone_radius_m", cfg.ZoneRadiusMeters),
		logging.Float64("hit_radius_m", cfg.HitRadiusMeters),
		logging.String("launch_mode", string(cfg.LaunchMode)),
		logging.String("intercept_mode", string(cfg.InterceptMode)),
	)
	return se.resetLocked(ctx)
}

// Start begins the target's flight. It is only valid while Idle or Armed.
func (se *SimulationEngine) Start(ctx context.Context) error {
	ctx, span := se.tracer.Start(ctx, "SimulationEngine.Start")
	defer span.End()

	se.mu.Lock()
	defer se.mu.Unlock()

	if !se.configured {
		span.SetStatus(codes.Error, ErrNotConfigured.Error())
		return ErrNotConfigured
	}
	if se.phase != model.PhaseIdle && se.phase != model.PhaseArmed {
		err := fmt.Errorf("%w: start from %s", ErrInvalidTransition, se.phase)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	se.phase = model.PhaseRunning
	ctx = logging.ContextWithRunID(ctx, se.state.RunID())
	se.log.Info(ctx, "simulation started")

	if se.cfg.LaunchMode == LaunchImmediate {
		se.launchLocked(ctx, "start")
	}
	return nil
}

// Replay discards the current run and arms a new one with the same
// configuration. It is valid from any phase once configured.
func (se *SimulationEngine) Replay(ctx context.Context) error {
	ctx, span := se.tracer.Start(ctx, "SimulationEngine.Replay")
	defer span.End()

	se.mu.Lock()
	defer se.mu.Unlock()

	if !se.configured {
		span.SetStatus(codes.Error, ErrNotConfigured.Error())
		return ErrNotConfigured
	}
	return se.resetLocked(ctx)
}

// resetLocked builds a fresh run: target at origin, interceptors circling
// their anchors, counters at zero, zone rearmed. Phase becomes Armed.
func (se *SimulationEngine) resetLocked(ctx context.Context) error {
	now := se.clock.Now()
	runID := se.newRunID()
	ctx = logging.ContextWithRunID(ctx, runID)

	target := &model.MovingEntity{
		ID:                   TargetID,
		Role:                 model.RoleTarget,
		State:                model.StateTransiting,
		Path:                 se.target,
		SpeedMetersPerSecond: se.cfg.TargetSpeedMps,
		Position:             se.target.First(),
		Heading:              Bearing(se.cfg.Origin, se.cfg.Destination),
	}
	entities := []*model.MovingEntity{target}
	for _, a := range se.cfg.Anchors {
		e := &model.MovingEntity{
			ID:                   a.ID,
			Role:                 model.RoleInterceptor,
			State:                model.StateCircling,
			SpeedMetersPerSecond: se.cfg.InterceptorSpeedMps,
			Anchor:               a,
		}
		if a.External {
			e.Position = a.Position
		} else {
			se.orbits[a.ID].Move(now, e)
		}
		entities = append(entities, e)
	}

	if err := se.state.Load(ctx, runID, se.zone, entities); err != nil {
		return err
	}
	se.detector.Reset()
	se.phase = model.PhaseArmed

	for _, e := range entities {
		if !e.External() || se.telemetry == nil {
			continue
		}
		if err := se.telemetry.SeedPosition(ctx, e.ID, e.Anchor.Position); err != nil {
			se.telemetryFailed(ctx, "set_position", e.ID, err)
		}
	}
	se.log.Info(ctx, "simulation armed", logging.Int("entities", len(entities)))
	return nil
}

// Tick advances the run by one step and returns the resulting snapshot,
// which is also delivered to every listener.
//
// Within a tick the order is fixed: merge remote telemetry, advance the
// target, check the trigger zone, launch interceptors if it fired, advance
// the interceptors, then detect hits. While Armed only the orbits move and
// the tick counter does not advance.
func (se *SimulationEngine) Tick(ctx context.Context) model.Snapshot {
	started := time.Now()

	se.mu.Lock()
	if !se.configured {
		snap := se.snapshotLocked()
		se.mu.Unlock()
		return snap
	}
	ctx = logging.ContextWithRunID(ctx, se.state.RunID())
	now := se.clock.Now()

	se.mergeTelemetryLocked()

	counted := false
	switch se.phase {
	case model.PhaseArmed, model.PhaseIdle:
		se.advanceInterceptorsLocked(now)
	default:
		target := se.state.Target()
		moved := se.stepper.advance(target)

		var launched map[string]bool
		if se.cfg.LaunchMode == LaunchBatch && se.zone.Check(target.Position) {
			if se.metrics != nil {
				se.metrics.IncZoneFires()
			}
			se.log.Info(ctx, "trigger zone entered",
				logging.Int("tick", se.state.Tick()+1),
				logging.Float64("distance_to_center_m", DistanceMeters(target.Position, se.zone.Center())),
			)
			launched = se.launchLocked(ctx, "zone")
		}

		anyMoved := se.advanceInterceptorsLocked(now)
		se.detectHitsLocked(ctx, target, launched)

		if target.Terminal() && se.phase != model.PhaseTerminal {
			se.phase = model.PhaseTerminal
			se.log.Info(ctx, "target reached destination",
				logging.Int("tick", se.state.Tick()+1),
				logging.Int("hits", se.state.HitCount()),
			)
		}
		if moved || anyMoved {
			se.state.IncTick()
			counted = true
		}
	}

	se.state.RecordCounts()
	snap := se.snapshotLocked()
	listeners := se.listenersLocked()
	se.mu.Unlock()

	if counted && se.metrics != nil {
		se.metrics.ObserveTick(time.Since(started))
		se.metrics.SetPathCacheHitRatio(se.paths.HitRatio())
	}
	for _, fn := range listeners {
		fn(snap)
	}
	return snap
}

// mergeTelemetryLocked copies last known positions of externally flown
// interceptors. Missing reports keep the previous position.
func (se *SimulationEngine) mergeTelemetryLocked() {
	if se.telemetry == nil {
		return
	}
	for _, e := range se.state.Interceptors() {
		if !e.External() {
			continue
		}
		pos, ok := se.telemetry.LastKnown(e.ID)
		if !ok || pos == e.Position {
			continue
		}
		e.Heading = Bearing(e.Position, pos)
		e.Position = pos
	}
}

// launchLocked switches every circling interceptor onto an intercept path.
// It returns the ids launched.
func (se *SimulationEngine) launchLocked(ctx context.Context, reason string) map[string]bool {
	ctx, span := se.tracer.Start(ctx, "SimulationEngine.Launch",
		trace.WithAttributes(attribute.String("reason", reason)))
	defer span.End()

	started := time.Now()
	target := se.state.Target()
	launched := make(map[string]bool)
	for _, e := range se.state.Interceptors() {
		plan, ok, err := se.planner.Launch(e, target)
		if err != nil {
			se.log.Error(ctx, "intercept planning failed", logging.String("entity_id", e.ID), logging.Err(err))
			span.RecordError(err)
			continue
		}
		if !ok {
			continue
		}
		launched[e.ID] = true
		se.log.Info(ctx, "interceptor launched",
			logging.String("entity_id", e.ID),
			logging.Float64("intercept_lon", plan.Point.Lon),
			logging.Float64("intercept_lat", plan.Point.Lat),
			logging.String("intercept_mode", string(plan.Mode)),
			logging.Float64("miss_m", plan.MissMeters),
			logging.Int("path_steps", plan.Path.LastIndex()),
		)
		if e.External() && se.telemetry != nil {
			if err := se.telemetry.SendWaypoint(ctx, e.ID, plan.Point); err != nil {
				se.telemetryFailed(ctx, "set_waypoint", e.ID, err)
			}
		}
	}
	span.SetAttributes(attribute.Int("launched", len(launched)))
	if len(launched) > 0 && se.phase == model.PhaseRunning {
		se.phase = model.PhaseIntercepting
	}
	if se.metrics != nil {
		se.metrics.ObserveLaunch(len(launched), time.Since(started))
	}
	return launched
}

// advanceInterceptorsLocked moves local interceptors: circling ones follow
// their orbit, launched ones step along their path. External interceptors
// are positioned by telemetry only. Reports whether any path step was taken.
func (se *SimulationEngine) advanceInterceptorsLocked(now time.Time) bool {
	moved := false
	for _, e := range se.state.Interceptors() {
		if e.External() {
			continue
		}
		if e.State == model.StateCircling {
			se.orbits[e.ID].Move(now, e)
			continue
		}
		if se.stepper.advance(e) {
			moved = true
		}
	}
	return moved
}

// detectHitsLocked runs proximity detection, skipping interceptors that
// launched on this tick.
func (se *SimulationEngine) detectHitsLocked(ctx context.Context, target *model.MovingEntity, launched map[string]bool) {
	candidates := make([]*model.MovingEntity, 0, se.state.Len())
	for _, e := range se.state.Interceptors() {
		if !launched[e.ID] {
			candidates = append(candidates, e)
		}
	}
	hits := se.detector.Check(target.Position, candidates)
	if len(hits) == 0 {
		return
	}
	se.state.AddHits(len(hits))
	if se.metrics != nil {
		se.metrics.AddHits(len(hits))
	}
	for _, id := range hits {
		se.log.Info(ctx, "interceptor hit target",
			logging.String("entity_id", id),
			logging.Int("tick", se.state.Tick()+1),
			logging.Int("hit_count", se.state.HitCount()),
		)
	}
}

func (se *SimulationEngine) telemetryFailed(ctx context.Context, op, id string, err error) {
	if se.metrics != nil {
		se.metrics.IncTelemetryError(op)
	}
	se.log.Warn(ctx, "telemetry command failed",
		logging.String("op", op),
		logging.String("entity_id", id),
		logging.Err(err),
	)
}

// Snapshot returns the current view without advancing the run.
func (se *SimulationEngine) Snapshot() model.Snapshot {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.snapshotLocked()
}

func (se *SimulationEngine) snapshotLocked() model.Snapshot {
	snap := model.Snapshot{
		RunID:    se.state.RunID(),
		Tick:     se.state.Tick(),
		Phase:    se.phase.String(),
		HitCount: se.state.HitCount(),
	}
	if !se.configured {
		return snap
	}
	if z := se.state.Zone(); z != nil {
		snap.ZoneArmed = z.Armed()
	}

	target := se.state.Target()
	entities := se.state.Entities()
	snap.Entities = make([]model.EntityView, 0, len(entities))
	for _, e := range entities {
		view := model.EntityView{
			ID:       e.ID,
			Role:     e.Role.String(),
			Position: e.Position,
			Heading:  e.Heading,
			State:    e.State.String(),
			HasHit:   e.HasHit,
		}
		if e != target {
			view.DistanceToTargetMeters = DistanceMeters(e.Position, target.Position)
		}
		if e.State != model.StateCircling && !e.Path.Empty() {
			view.RemainingMeters = DistanceMeters(e.Position, e.Path.Last())
		}
		snap.Entities = append(snap.Entities, view)
	}
	return snap
}

// Phase returns the current run phase.
func (se *SimulationEngine) Phase() model.Phase {
	se.mu.Lock()
	defer se.mu.Unlock()
	return se.phase
}

// Config returns the active configuration.
func (se *SimulationEngine) Config() (Config, bool) {
	se.mu.Lock()
	defer se.mu.Unlock()
	cfg := se.cfg
	cfg.Anchors = append([]model.Anchor(nil), se.cfg.Anchors...)
	return cfg, se.configured
}

// Done reports whether nothing is left to move: the target has arrived and
// every launched local interceptor has reached the end of its path.
func (se *SimulationEngine) Done() bool {
	se.mu.Lock()
	defer se.mu.Unlock()
	if se.phase != model.PhaseTerminal {
		return false
	}
	for _, e := range se.state.Interceptors() {
		if e.External() || e.State == model.StateCircling {
			continue
		}
		if !e.Terminal() {
			return false
		}
	}
	return true
}

// AddListener registers fn to receive every snapshot produced by Tick. It
// returns an unsubscribe function. Listeners run on the ticking goroutine
// after the engine lock is released.
func (se *SimulationEngine) AddListener(fn func(model.Snapshot)) (unsubscribe func()) {
	se.mu.Lock()
	defer se.mu.Unlock()
	id := se.nextListener
	se.nextListener++
	se.listeners[id] = fn
	return func() {
		se.mu.Lock()
		defer se.mu.Unlock()
		delete(se.listeners, id)
	}
}

func (se *SimulationEngine) listenersLocked() []func(model.Snapshot) {
	out := make([]func(model.Snapshot), 0, len(se.listeners))
	for id := 0; id < se.nextListener; id++ {
		if fn, ok := se.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
