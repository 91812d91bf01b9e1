package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/intercept-simulator/model"
	"github.com/signalsfoundry/intercept-simulator/timectrl"
)

type fakeMetrics struct {
	mu              sync.Mutex
	ticks           int
	zoneFires       int
	launches        int
	hits            int
	telemetryErrors map[string]int
	counts          [3]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{telemetryErrors: make(map[string]int)}
}

func (m *fakeMetrics) ObserveTick(time.Duration) {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}

func (m *fakeMetrics) IncZoneFires() {
	m.mu.Lock()
	m.zoneFires++
	m.mu.Unlock()
}

func (m *fakeMetrics) ObserveLaunch(n int, _ time.Duration) {
	m.mu.Lock()
	m.launches += n
	m.mu.Unlock()
}

func (m *fakeMetrics) AddHits(n int) {
	m.mu.Lock()
	m.hits += n
	m.mu.Unlock()
}

func (m *fakeMetrics) SetPathCacheHitRatio(float64) {}

func (m *fakeMetrics) IncTelemetryError(op string) {
	m.mu.Lock()
	m.telemetryErrors[op]++
	m.mu.Unlock()
}
func (m *fakeMetrics) SetEntityCounts(c, t, h int) {
	m.mu.Lock()
	m.counts = [3]int{c, t, h}
	m.mu.Unlock()
}

type testEngine struct {
	*SimulationEngine
	clock *timectrl.ManualClock
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) testEngine {
	t.Helper()
	clock := timectrl.NewManualClock(time.Unix(1_700_000_000, 0))
	n := 0
	opts = append([]Option{
		WithClock(clock),
		WithRunIDGenerator(func() string { n++; return fmt.Sprintf("run-%d", n) }),
	}, opts...)
	se := NewSimulationEngine(opts...)
	if err := se.Configure(context.Background(), cfg); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	return testEngine{SimulationEngine: se, clock: clock}
}

func (te testEngine) tick() model.Snapshot {
	te.clock.Advance(time.Second / 60)
	return te.Tick(context.Background())
}

// runToCompletion ticks until Done, returning every snapshot.
func (te testEngine) runToCompletion(t *testing.T) []model.Snapshot {
	t.Helper()
	var snaps []model.Snapshot
	for i := 0; i < 20000; i++ {
		snaps = append(snaps, te.tick())
		if te.Done() {
			return snaps
		}
	}
	t.Fatalf("run did not complete in 20000 ticks")
	return nil
}

func TestEngine_ConfigureRejectsInvalidAndKeepsState(t *testing.T) {
	se := NewSimulationEngine()
	if err := se.Start(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Start before Configure = %v, want ErrNotConfigured", err)
	}
	if err := se.Replay(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Replay before Configure = %v, want ErrNotConfigured", err)
	}

	bad := DefaultConfig()
	bad.TargetSpeedMps = 0
	if err := se.Configure(context.Background(), bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Configure(bad) = %v, want ErrInvalidInput", err)
	}
	if se.Phase() != model.PhaseIdle {
		t.Fatalf("phase = %v after rejected configure, want idle", se.Phase())
	}
	if snap := se.Tick(context.Background()); len(snap.Entities) != 0 || snap.Phase != "idle" {
		t.Fatalf("unconfigured tick returned %+v", snap)
	}

	te := newTestEngine(t, DefaultConfig())
	before, _ := te.Config()
	bad.Origin = model.Position{Lat: 123}
	if err := te.Configure(context.Background(), bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Configure(bad) = %v, want ErrInvalidInput", err)
	}
	after, _ := te.Config()
	if after.Origin != before.Origin || te.Phase() != model.PhaseArmed {
		t.Fatalf("rejected configure changed engine: origin=%v phase=%v", after.Origin, te.Phase())
	}

	for _, speed := range []float64{1e-12, 0.001} {
		slow := DefaultConfig()
		slow.TargetSpeedMps = speed
		if err := te.Configure(context.Background(), slow); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("Configure(target speed %v) = %v, want ErrInvalidInput", speed, err)
		}
		if cfg, _ := te.Config(); cfg.TargetSpeedMps != before.TargetSpeedMps {
			t.Fatalf("rejected slow target replaced config: %+v", cfg)
		}
	}
}

func TestEngine_ArmedTicksOrbitWithoutCounting(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	first := te.tick()
	second := te.tick()

	if first.Tick != 0 || second.Tick != 0 {
		t.Fatalf("armed ticks counted: %d, %d", first.Tick, second.Tick)
	}
	if first.Phase != "armed" {
		t.Fatalf("phase = %q, want armed", first.Phase)
	}
	a, _ := first.Entity("drone-1")
	b, _ := second.Entity("drone-1")
	if a.Position == b.Position {
		t.Fatalf("circling interceptor did not move between armed ticks")
	}
	if a.State != "circling" {
		t.Fatalf("state = %q, want circling", a.State)
	}
	target, _ := second.Entity(TargetID)
	if target.Position != DefaultConfig().Origin {
		t.Fatalf("target moved before start: %v", target.Position)
	}
}

func TestEngine_SnapshotOrderTargetFirst(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	snap := te.Snapshot()
	if len(snap.Entities) != 7 {
		t.Fatalf("got %d entities, want 7", len(snap.Entities))
	}
	if snap.Entities[0].ID != TargetID || snap.Entities[0].Role != "target" {
		t.Fatalf("first entity = %+v, want target", snap.Entities[0])
	}
	for i, a := range DefaultConfig().Anchors {
		if snap.Entities[i+1].ID != a.ID {
			t.Fatalf("entity %d = %q, want %q", i+1, snap.Entities[i+1].ID, a.ID)
		}
	}
}

func TestEngine_StartTransitions(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if te.Phase() != model.PhaseRunning {
		t.Fatalf("phase = %v, want running", te.Phase())
	}
	if err := te.Start(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second Start = %v, want ErrInvalidTransition", err)
	}
	snap := te.tick()
	if snap.Tick != 1 {
		t.Fatalf("first running tick = %d, want 1", snap.Tick)
	}
}

func TestEngine_FullRunBatchLaunch(t *testing.T) {
	metrics := newFakeMetrics()
	te := newTestEngine(t, DefaultConfig(), WithMetricsRecorder(metrics))
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snaps := te.runToCompletion(t)

	fireIdx := -1
	for i, s := range snaps {
		if !s.ZoneArmed {
			fireIdx = i
			break
		}
	}
	if fireIdx < 0 {
		t.Fatalf("zone never fired")
	}
	for _, s := range snaps[fireIdx:] {
		if s.ZoneArmed {
			t.Fatalf("zone rearmed mid-run at tick %d", s.Tick)
		}
	}

	// Every interceptor circles until the fire tick and transits from it on.
	fired := snaps[fireIdx]
	if fired.Phase != "intercepting" {
		t.Fatalf("phase at fire tick = %q, want intercepting", fired.Phase)
	}
	for _, e := range fired.Entities[1:] {
		if e.State == "circling" {
			t.Fatalf("%s still circling at fire tick", e.ID)
		}
	}
	if fireIdx > 0 {
		for _, e := range snaps[fireIdx-1].Entities[1:] {
			if e.State != "circling" {
				t.Fatalf("%s launched before the zone fired", e.ID)
			}
		}
	}

	// Ticks are monotonic while anything follows a path.
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Tick < snaps[i-1].Tick {
			t.Fatalf("tick went backwards: %d -> %d", snaps[i-1].Tick, snaps[i].Tick)
		}
	}

	last := snaps[len(snaps)-1]
	if last.Phase != "terminal" {
		t.Fatalf("final phase = %q, want terminal", last.Phase)
	}
	target, _ := last.Entity(TargetID)
	if !closeTo(target.Position, DefaultConfig().Destination, 1e-6) {
		t.Fatalf("target ended at %v", target.Position)
	}

	hitViews := 0
	for _, e := range last.Entities[1:] {
		if e.HasHit {
			hitViews++
		}
	}
	if last.HitCount != hitViews {
		t.Fatalf("HitCount = %d but %d interceptors flagged", last.HitCount, hitViews)
	}
	if last.HitCount == 0 {
		t.Fatalf("expected at least one hit in the demo scenario")
	}
	if hit, _ := last.Entity("drone-3"); !hit.HasHit {
		t.Fatalf("drone-3 sits on the target's track and should hit")
	}

	// hasHit never flips back within a run.
	seen := map[string]bool{}
	for _, s := range snaps {
		for _, e := range s.Entities {
			if seen[e.ID] && !e.HasHit {
				t.Fatalf("%s lost its hit flag at tick %d", e.ID, s.Tick)
			}
			if e.HasHit {
				seen[e.ID] = true
			}
		}
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.zoneFires != 1 || metrics.launches != 6 || metrics.hits != last.HitCount {
		t.Fatalf("metrics: fires=%d launches=%d hits=%d", metrics.zoneFires, metrics.launches, metrics.hits)
	}
}

func TestEngine_ZoneFiresAtFirstEntry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetSpeedMps = 2250
	cfg.ZoneCenter = cfg.Destination
	cfg.ZoneRadiusMeters = 20000
	cfg.Anchors = nil
	te := newTestEngine(t, cfg)
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	prevDist := DistanceMeters(cfg.Origin, cfg.Destination)
	fires := 0
	armed := true
	for i := 0; i < 3000; i++ {
		snap := te.tick()
		target, _ := snap.Entity(TargetID)
		d := DistanceMeters(target.Position, cfg.Destination)
		if armed && !snap.ZoneArmed {
			fires++
			if d > 20000 || prevDist <= 20000 {
				t.Fatalf("zone fired at distance %.1f (previous %.1f)", d, prevDist)
			}
		}
		if !armed && snap.ZoneArmed {
			t.Fatalf("zone rearmed without replay")
		}
		armed = snap.ZoneArmed
		prevDist = d
		if te.Done() {
			break
		}
	}
	if fires != 1 {
		t.Fatalf("zone fired %d times, want 1", fires)
	}
	if te.Snapshot().Tick != StepsFor(DistanceMeters(cfg.Origin, cfg.Destination), 2250, 60) {
		t.Fatalf("target needed %d ticks", te.Snapshot().Tick)
	}
}

func TestEngine_ReplayResets(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := te.runToCompletion(t)
	runID := first[len(first)-1].RunID

	if err := te.Replay(context.Background()); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	snap := te.Snapshot()
	if snap.Tick != 0 || snap.HitCount != 0 || snap.Phase != "armed" || !snap.ZoneArmed {
		t.Fatalf("replay did not reset: %+v", snap)
	}
	if snap.RunID == runID {
		t.Fatalf("replay reused run id %q", runID)
	}
	for _, e := range snap.Entities[1:] {
		if e.State != "circling" || e.HasHit {
			t.Fatalf("%s not reset: %+v", e.ID, e)
		}
	}
	target, _ := snap.Entity(TargetID)
	if target.Position != DefaultConfig().Origin {
		t.Fatalf("target not back at origin: %v", target.Position)
	}

	// The replayed run behaves like the first.
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() after replay error = %v", err)
	}
	second := te.runToCompletion(t)
	if last := second[len(second)-1]; last.Phase != "terminal" || last.HitCount == 0 {
		t.Fatalf("replayed run ended %q with %d hits", last.Phase, last.HitCount)
	}
}

func TestEngine_ReplayMidFlight(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	te.Start(context.Background())
	for i := 0; i < 50; i++ {
		te.tick()
	}
	if err := te.Replay(context.Background()); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if te.Phase() != model.PhaseArmed {
		t.Fatalf("phase = %v, want armed", te.Phase())
	}
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() after mid-flight replay: %v", err)
	}
}

func TestEngine_ConfigureWhileRunningRearms(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	te.Start(context.Background())
	te.tick()

	cfg := DefaultConfig()
	cfg.HitRadiusMeters = 100
	if err := te.Configure(context.Background(), cfg); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	if te.Phase() != model.PhaseArmed || te.Snapshot().Tick != 0 {
		t.Fatalf("configure did not rearm: phase=%v tick=%d", te.Phase(), te.Snapshot().Tick)
	}
}

func TestEngine_ImmediateLaunch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LaunchMode = LaunchImmediate
	te := newTestEngine(t, cfg)
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if te.Phase() != model.PhaseIntercepting {
		t.Fatalf("phase = %v, want intercepting", te.Phase())
	}
	for _, e := range te.Snapshot().Entities[1:] {
		if e.State != "transiting" {
			t.Fatalf("%s state = %q, want transiting", e.ID, e.State)
		}
	}
}

func TestEngine_ListenersReceiveSnapshots(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	var got []int
	unsub := te.AddListener(func(s model.Snapshot) { got = append(got, s.Tick) })
	te.Start(context.Background())
	te.tick()
	te.tick()
	unsub()
	te.tick()

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("listener saw ticks %v, want [1 2]", got)
	}
}

type fakeTelemetry struct {
	mu        sync.Mutex
	positions map[string]model.Position
	seeded    map[string]model.Position
	waypoints map[string]model.Position
	failSeeds bool
}

func newFakeTelemetry() *fakeTelemetry {
	return &fakeTelemetry{
		positions: map[string]model.Position{},
		seeded:    map[string]model.Position{},
		waypoints: map[string]model.Position{},
	}
}

func (f *fakeTelemetry) LastKnown(id string) (model.Position, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.positions[id]
	return p, ok
}

func (f *fakeTelemetry) SeedPosition(_ context.Context, id string, pos model.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSeeds {
		return errors.New("connection refused")
	}
	f.seeded[id] = pos
	return nil
}

func (f *fakeTelemetry) SendWaypoint(_ context.Context, id string, pos model.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waypoints[id] = pos
	return nil
}

func TestEngine_ExternalInterceptor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Anchors[1].External = true
	link := newFakeTelemetry()
	te := newTestEngine(t, cfg, WithTelemetryLink(link))

	anchor := cfg.Anchors[1]
	if link.seeded[anchor.ID] != anchor.Position {
		t.Fatalf("external interceptor not seeded at anchor: %v", link.seeded)
	}

	// No report yet: the interceptor stays where it was seeded.
	snap := te.tick()
	view, _ := snap.Entity(anchor.ID)
	if view.Position != anchor.Position {
		t.Fatalf("external position = %v, want anchor %v", view.Position, anchor.Position)
	}

	reported := model.Position{Lon: 36.26, Lat: 50.17}
	link.mu.Lock()
	link.positions[anchor.ID] = reported
	link.mu.Unlock()
	snap = te.tick()
	view, _ = snap.Entity(anchor.ID)
	if view.Position != reported {
		t.Fatalf("external position = %v, want reported %v", view.Position, reported)
	}

	te.Start(context.Background())
	for te.Phase() == model.PhaseRunning {
		te.tick()
	}
	link.mu.Lock()
	wp, ok := link.waypoints[anchor.ID]
	link.mu.Unlock()
	if !ok {
		t.Fatalf("no waypoint sent on launch")
	}
	if _, ok := link.waypoints[cfg.Anchors[0].ID]; ok {
		t.Fatalf("waypoint sent to a locally flown interceptor")
	}
	if DistanceMeters(wp, reported) > DistanceMeters(cfg.Origin, cfg.Destination) {
		t.Fatalf("waypoint %v implausibly far from reported position", wp)
	}
	view, _ = te.Snapshot().Entity(anchor.ID)
	if view.Position != reported {
		t.Fatalf("external interceptor flown locally: %v", view.Position)
	}
}

func TestEngine_TelemetryFailuresAreNonFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Anchors[0].External = true
	link := newFakeTelemetry()
	link.failSeeds = true
	metrics := newFakeMetrics()

	te := newTestEngine(t, cfg, WithTelemetryLink(link), WithMetricsRecorder(metrics))
	if te.Phase() != model.PhaseArmed {
		t.Fatalf("phase = %v, want armed despite seed failure", te.Phase())
	}
	if err := te.Replay(context.Background()); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.telemetryErrors["set_position"] != 2 {
		t.Fatalf("set_position errors = %d, want 2", metrics.telemetryErrors["set_position"])
	}
}

func TestEngine_ConcurrentCommandsAndTicks(t *testing.T) {
	te := newTestEngine(t, DefaultConfig())
	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			te.Tick(ctx)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			te.Start(ctx)
			te.Replay(ctx)
			te.Snapshot()
		}
	}()
	wg.Wait()
	if p := te.Phase(); p != model.PhaseArmed && p != model.PhaseRunning && p != model.PhaseIntercepting && p != model.PhaseTerminal {
		t.Fatalf("unexpected phase %v", p)
	}
}

func TestEngine_SharedPathCacheAcrossEngines(t *testing.T) {
	cache := NewPathCache(8)
	newTestEngine(t, DefaultConfig(), WithPathCache(cache))
	_, missesBefore := cache.Stats()

	newTestEngine(t, DefaultConfig(), WithPathCache(cache))
	hits, misses := cache.Stats()
	if misses != missesBefore {
		t.Fatalf("second engine resampled the target path: misses %d -> %d", missesBefore, misses)
	}
	if hits == 0 {
		t.Fatalf("second engine did not reuse the cached target path")
	}
}

func TestEngine_NoHitOnLaunchTick(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HitRadiusMeters = 200000
	te := newTestEngine(t, cfg)
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	var fired model.Snapshot
	for i := 0; ; i++ {
		if i > 20000 {
			t.Fatalf("zone never fired")
		}
		fired = te.tick()
		if !fired.ZoneArmed {
			break
		}
	}
	if fired.HitCount != 0 {
		t.Fatalf("hit count on launch tick = %d, want 0", fired.HitCount)
	}
	for _, e := range fired.Entities[1:] {
		if e.HasHit {
			t.Fatalf("%s hit on the tick it launched", e.ID)
		}
	}

	next := te.tick()
	if next.HitCount != len(cfg.Anchors) {
		t.Fatalf("hit count after launch tick = %d, want %d", next.HitCount, len(cfg.Anchors))
	}
}

func TestEngine_LeadInterceptHits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InterceptMode = InterceptLead
	te := newTestEngine(t, cfg)
	if err := te.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	snaps := te.runToCompletion(t)

	final := snaps[len(snaps)-1]
	if final.Phase != "terminal" {
		t.Fatalf("final phase = %q, want terminal", final.Phase)
	}
	e, ok := final.Entity("drone-3")
	if !ok || !e.HasHit {
		t.Fatalf("drone-3 = %+v, want a lead intercept hit", e)
	}
}
