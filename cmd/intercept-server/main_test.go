package main

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/internal/config"
	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/internal/nbi"
	"github.com/signalsfoundry/intercept-simulator/model"
	"github.com/signalsfoundry/intercept-simulator/timectrl"
)

func TestInterceptServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := config.Default()
	cfg.Server.HTTPAddr = ""
	cfg.Server.MetricsAddr = ""
	cfg.Server.TickRate = 500
	cfg.Logging = config.LoggingConfig{Level: "warn", Format: "text"}
	log := logging.New(cfg.Logging.Logger())

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, Options{}, log, lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: nbi.ControlServiceName})
	if err != nil {
		t.Fatalf("health Check: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("health status = %v", health.GetStatus())
	}

	client := nbi.NewControlClient(conn)
	resp, err := client.GetSnapshot(ctx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	snap, err := nbi.SnapshotFromStruct(resp)
	if err != nil {
		t.Fatalf("SnapshotFromStruct: %v", err)
	}
	if snap.Phase != "armed" || len(snap.Entities) != 7 {
		t.Fatalf("startup snapshot = %+v", snap)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	stream, err := client.WatchSnapshots(watchCtx, &emptypb.Empty{})
	if err != nil {
		t.Fatalf("WatchSnapshots: %v", err)
	}
	if _, err := stream.Recv(); err != nil {
		t.Fatalf("Recv initial: %v", err)
	}
	if _, err := client.Start(ctx, &emptypb.Empty{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for {
		msg, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if got, _ := nbi.SnapshotFromStruct(msg); got.Tick > 0 {
			break
		}
	}
	stopWatch()

	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

type countingTicker struct {
	ticks atomic.Int64
}

func (c *countingTicker) Tick(context.Context) model.Snapshot {
	c.ticks.Add(1)
	return model.Snapshot{}
}

func TestRunSimLoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tc := timectrl.NewTimeController(time.Unix(0, 0), time.Millisecond, timectrl.RealTime)
	ticker := &countingTicker{}
	if err := runSimLoop(ctx, tc, ticker, nil); err != nil {
		t.Fatalf("runSimLoop returned %v, want nil on cancellation", err)
	}
	if ticker.ticks.Load() == 0 {
		t.Fatalf("expected at least one tick before cancellation")
	}
}

func TestRunSimLoopRunsScenarioToCompletion(t *testing.T) {
	tc := timectrl.NewTimeController(time.Unix(0, 0), timectrl.TickForRate(core.DefaultSampleRate), timectrl.Accelerated)
	engine := core.NewSimulationEngine(core.WithClock(tc))
	ctx := context.Background()
	if err := engine.Configure(ctx, core.DefaultConfig()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := runSimLoop(ctx, tc, engine, engine.Done); err != nil {
		t.Fatalf("runSimLoop: %v", err)
	}
	snap := engine.Snapshot()
	if snap.Phase != "terminal" || snap.HitCount < 1 {
		t.Fatalf("final snapshot phase=%q hits=%d", snap.Phase, snap.HitCount)
	}
}
