package telemetry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/kb"
	"github.com/signalsfoundry/intercept-simulator/model"
)

// ErrQueueFull is returned when a command cannot be queued without blocking.
var ErrQueueFull = errors.New("telemetry: command queue full")

// Remote is the telemetry server as seen by the bridge.
type Remote interface {
	GetPosition(ctx context.Context, id string) (Report, error)
	SetPosition(ctx context.Context, id string, r Report) error
	SetWaypoint(ctx context.Context, id string, r Report) error
}

// ErrorRecorder counts failed telemetry operations by op.
type ErrorRecorder interface {
	IncTelemetryError(op string)
}

// Operation labels used for logging and metrics.
const (
	OpGetPosition = "get_position"
	OpSetPosition = "set_position"
	OpSetWaypoint = "set_waypoint"
)

const (
	defaultPollInterval = time.Second
	defaultQueueSize    = 64
)

type command struct {
	op  string
	id  string
	pos model.Position
}

// BridgeOption customises a Bridge.
type BridgeOption func(*Bridge)

// WithLogger sets the bridge logger.
func WithLogger(l logging.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

// WithErrorRecorder counts failed operations.
func WithErrorRecorder(r ErrorRecorder) BridgeOption {
	return func(b *Bridge) { b.errs = r }
}

// WithPollInterval sets how often watched drones are polled.
func WithPollInterval(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithQueueSize bounds the number of pending commands.
func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithAltitude sets the altitude sent with commands.
func WithAltitude(m float64) BridgeOption {
	return func(b *Bridge) { b.altitude = m }
}

// WithNow overrides the receive timestamp source.
func WithNow(fn func() time.Time) BridgeOption {
	return func(b *Bridge) {
		if fn != nil {
			b.now = fn
		}
	}
}

// Bridge keeps the last known position of every watched drone in a
// knowledge base and forwards commands to the remote server. Network I/O
// happens on the goroutines started by Run; the methods the simulation
// calls from inside a tick never block.
type Bridge struct {
	remote Remote
	store  *kb.KnowledgeBase
	log    logging.Logger
	errs   ErrorRecorder

	interval  time.Duration
	queueSize int
	altitude  float64
	now       func() time.Time

	cmds chan command

	mu      sync.Mutex
	watched map[string]struct{}
}

// NewBridge returns a bridge writing reports into store.
func NewBridge(remote Remote, store *kb.KnowledgeBase, opts ...BridgeOption) *Bridge {
	if store == nil {
		store = kb.NewKnowledgeBase()
	}
	b := &Bridge{
		remote:    remote,
		store:     store,
		log:       logging.Noop(),
		interval:  defaultPollInterval,
		queueSize: defaultQueueSize,
		altitude:  DefaultAltitudeMeters,
		now:       time.Now,
		watched:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	b.cmds = make(chan command, b.queueSize)
	return b
}

// Store returns the backing knowledge base.
func (b *Bridge) Store() *kb.KnowledgeBase { return b.store }

// Watch adds ids to the poll set.
func (b *Bridge) Watch(ids ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			b.watched[id] = struct{}{}
		}
	}
}

// Watched returns the poll set in id order.
func (b *Bridge) Watched() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.watched))
	for id := range b.watched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// LastKnown returns the latest polled position for id.
func (b *Bridge) LastKnown(id string) (model.Position, bool) {
	return b.store.Position(id)
}

// SeedPosition queues a set_pos command. The stale report for id is dropped
// so the next tick does not pull the drone back to where a previous run left
// it.
func (b *Bridge) SeedPosition(_ context.Context, id string, pos model.Position) error {
	b.Watch(id)
	b.store.Clear(id)
	return b.enqueue(command{op: OpSetPosition, id: id, pos: pos})
}

// SendWaypoint queues a waypoint command.
func (b *Bridge) SendWaypoint(_ context.Context, id string, pos model.Position) error {
	return b.enqueue(command{op: OpSetWaypoint, id: id, pos: pos})
}

func (b *Bridge) enqueue(cmd command) error {
	if cmd.id == "" {
		return ErrEmptyID
	}
	select {
	case b.cmds <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run polls and drains the command queue until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info(ctx, "telemetry bridge started",
		logging.Duration("poll_interval", b.interval),
		logging.Int("watched", len(b.Watched())),
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return b.pollLoop(ctx) })
	eg.Go(func() error { return b.commandLoop(ctx) })

	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Bridge) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.PollOnce(ctx)
		}
	}
}

func (b *Bridge) commandLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-b.cmds:
			b.execute(ctx, cmd)
		}
	}
}

// PollOnce fetches every watched drone once and returns how many reports
// were stored.
func (b *Bridge) PollOnce(ctx context.Context) int {
	stored := 0
	for _, id := range b.Watched() {
		r, err := b.remote.GetPosition(ctx, id)
		if err != nil {
			b.failed(ctx, OpGetPosition, id, err)
			continue
		}
		if _, err := b.store.Update(id, r.Position(), r.Altitude, b.now()); err != nil {
			b.failed(ctx, OpGetPosition, id, err)
			continue
		}
		stored++
	}
	return stored
}

// Flush executes every queued command and returns how many ran.
func (b *Bridge) Flush(ctx context.Context) int {
	n := 0
	for {
		select {
		case cmd := <-b.cmds:
			b.execute(ctx, cmd)
			n++
		default:
			return n
		}
	}
}

func (b *Bridge) execute(ctx context.Context, cmd command) {
	r := ReportFor(cmd.pos, b.altitude)
	var err error
	switch cmd.op {
	case OpSetPosition:
		err = b.remote.SetPosition(ctx, cmd.id, r)
	case OpSetWaypoint:
		err = b.remote.SetWaypoint(ctx, cmd.id, r)
	}
	if err != nil {
		b.failed(ctx, cmd.op, cmd.id, err)
		return
	}
	b.log.Debug(ctx, "telemetry command sent",
		logging.String("op", cmd.op),
		logging.String("entity_id", cmd.id),
		logging.Float64("lon", cmd.pos.Lon),
		logging.Float64("lat", cmd.pos.Lat),
	)
}

func (b *Bridge) failed(ctx context.Context, op, id string, err error) {
	if b.errs != nil {
		b.errs.IncTelemetryError(op)
	}
	b.log.Warn(ctx, "telemetry operation failed",
		logging.String("op", op),
		logging.String("entity_id", id),
		logging.Err(err),
	)
}
