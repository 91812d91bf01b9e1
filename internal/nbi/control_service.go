// Package nbi exposes the simulation engine over gRPC.
package nbi

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/model"
)

const defaultWatchBuffer = 32

// Engine is the simulation surface the control service drives.
type Engine interface {
	core.Configurable
	Start(ctx context.Context) error
	Replay(ctx context.Context) error
	Snapshot() model.Snapshot
	AddListener(fn func(model.Snapshot)) (unsubscribe func())
}

// WatchRecorder tracks open snapshot streams.
type WatchRecorder interface {
	WatcherOpened()
	WatcherClosed()
}

// ControlOption customises a ControlService.
type ControlOption func(*ControlService)

// WithControlLogger sets the fallback logger used when a request context
// carries none.
func WithControlLogger(l logging.Logger) ControlOption {
	return func(s *ControlService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithControlWatchRecorder counts WatchSnapshots streams.
func WithControlWatchRecorder(r WatchRecorder) ControlOption {
	return func(s *ControlService) { s.watchers = r }
}

// WithWatchBuffer sets how many snapshots a slow stream may lag before
// frames are dropped.
func WithWatchBuffer(n int) ControlOption {
	return func(s *ControlService) {
		if n > 0 {
			s.watchBuffer = n
		}
	}
}

// ControlService implements ControlServer on top of a simulation engine.
//
// Semantics:
//   - Configure merges the request into the active configuration (or the
//     default scenario when none is active) and re-arms the engine.
//   - Start and Replay return the snapshot taken after the command.
//   - WatchSnapshots sends the current snapshot, then every ticked snapshot
//     until the client goes away. A stream that falls behind skips frames.
type ControlService struct {
	engine      Engine
	log         logging.Logger
	watchers    WatchRecorder
	watchBuffer int

	mu      sync.Mutex
	dropped int
}

var _ ControlServer = (*ControlService)(nil)

// NewControlService binds a ControlService to engine.
func NewControlService(engine Engine, opts ...ControlOption) *ControlService {
	s := &ControlService{
		engine:      engine,
		log:         logging.Noop(),
		watchBuffer: defaultWatchBuffer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Configure applies a partial configuration.
func (s *ControlService) Configure(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	update, err := UpdateFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := StartChildSpan(ctx, "engine.Configure", "", "")
	defer span.End()
	if err := update.ApplyTo(ctx, s.engine); err != nil {
		span.RecordError(err)
		s.logger(ctx).Warn(ctx, "configure rejected", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return s.snapshotResponse(ctx)
}

// Start begins the run.
func (s *ControlService) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(ctx, "start", s.engine.Start)
}

// Replay re-arms the last configuration.
func (s *ControlService) Replay(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(ctx, "replay", s.engine.Replay)
}

// GetSnapshot returns the latest snapshot.
func (s *ControlService) GetSnapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return s.snapshotResponse(ctx)
}

// GetConfig returns the active configuration.
func (s *ControlService) GetConfig(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	cfg, ok := s.engine.Config()
	if !ok {
		return nil, ToStatusError(core.ErrNotConfigured)
	}
	out, err := toStruct(NewConfigView(cfg))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// WatchSnapshots streams snapshots until the client cancels.
func (s *ControlService) WatchSnapshots(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	ctx := stream.Context()
	log := s.logger(ctx)

	// Subscribe before sending the first frame so no tick falls in between.
	frames := make(chan model.Snapshot, s.watchBuffer)
	unsubscribe := s.engine.AddListener(func(snap model.Snapshot) {
		select {
		case frames <- snap:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
		}
	})
	defer unsubscribe()

	if s.watchers != nil {
		s.watchers.WatcherOpened()
		defer s.watchers.WatcherClosed()
	}
	log.Info(ctx, "snapshot watch opened")
	defer log.Info(ctx, "snapshot watch closed")

	if err := s.send(stream, s.engine.Snapshot()); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap := <-frames:
			if err := s.send(stream, snap); err != nil {
				return err
			}
		}
	}
}

// Dropped returns how many frames slow watchers have skipped.
func (s *ControlService) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *ControlService) send(stream grpc.ServerStreamingServer[structpb.Struct], snap model.Snapshot) error {
	msg, err := SnapshotToStruct(snap)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(msg)
}

func (s *ControlService) command(ctx context.Context, name string, fn func(context.Context) error) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	before := s.engine.Snapshot()
	ctx, span := StartChildSpan(ctx, "engine."+name, before.Phase, before.RunID)
	defer span.End()

	log := s.logger(ctx)
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		log.Warn(ctx, "command rejected", logging.String("command", name), logging.Err(err))
		return nil, ToStatusError(err)
	}
	snap := s.engine.Snapshot()
	span.SetAttributes(attribute.String("sim.phase_after", snap.Phase))
	log.Info(ctx, "command accepted", logging.String("command", name), logging.String("phase", snap.Phase))

	out, err := SnapshotToStruct(snap)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *ControlService) snapshotResponse(ctx context.Context) (*structpb.Struct, error) {
	out, err := SnapshotToStruct(s.engine.Snapshot())
	if err != nil {
		s.logger(ctx).Error(ctx, "failed to encode snapshot", logging.Err(err))
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *ControlService) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

func (s *ControlService) ensureReady() error {
	if s == nil || s.engine == nil {
		return status.Error(codes.FailedPrecondition, "simulation engine is not configured")
	}
	return nil
}
