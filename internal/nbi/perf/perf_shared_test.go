//go:build perf || perf_large

package perf

import (
	"context"
	"fmt"
	"testing"
	"time"

	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/internal/nbi"
	"github.com/signalsfoundry/intercept-simulator/model"
	"github.com/signalsfoundry/intercept-simulator/timectrl"
)

type perfConfig struct {
	Interceptors int
	Runs         int
	Configures   int
}

// swarmConfig spreads n interceptors on a ring around the default zone.
func swarmConfig(n int) core.Config {
	cfg := core.DefaultConfig()
	cfg.Anchors = make([]model.Anchor, 0, n)
	for i := 0; i < n; i++ {
		ring := 0.05 + 0.1*float64(i%5)
		step := float64(i) / float64(n)
		cfg.Anchors = append(cfg.Anchors, model.Anchor{
			ID: fmt.Sprintf("drone-%d", i+1),
			Position: model.Position{
				Lon: cfg.ZoneCenter.Lon + ring*(2*step-1),
				Lat: cfg.ZoneCenter.Lat + ring*(1-2*step),
			},
		})
	}
	return cfg
}

func newEngine() (*core.SimulationEngine, *timectrl.ManualClock) {
	clock := timectrl.NewManualClock(time.Unix(0, 0))
	return core.NewSimulationEngine(core.WithClock(clock), core.WithLogger(logging.Noop())), clock
}

// benchmarkRuns flies cfg.Runs full scenarios per iteration, replaying
// between them so the path cache is exercised.
func benchmarkRuns(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	scenario := swarmConfig(cfg.Interceptors)
	step := timectrl.TickForRate(scenario.SampleRate)
	b.ReportAllocs()
	b.StopTimer()

	for i := 0; i < b.N; i++ {
		engine, clock := newEngine()
		if err := engine.Configure(ctx, scenario); err != nil {
			b.Fatalf("Configure: %v", err)
		}

		b.StartTimer()
		ticks := 0
		for r := 0; r < cfg.Runs; r++ {
			if err := engine.Start(ctx); err != nil {
				b.Fatalf("Start run %d: %v", r, err)
			}
			for !engine.Done() {
				clock.Advance(step)
				engine.Tick(ctx)
				ticks++
				if ticks > 100000*cfg.Runs {
					b.Fatalf("run %d did not finish", r)
				}
			}
			if err := engine.Replay(ctx); err != nil {
				b.Fatalf("Replay run %d: %v", r, err)
			}
		}
		b.StopTimer()
		b.ReportMetric(float64(ticks)/float64(cfg.Runs), "ticks/run")
	}
}

// benchmarkConfigure pushes partial configurations through the control
// service, decoding and validating each one.
func benchmarkConfigure(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	b.ReportAllocs()
	b.StopTimer()

	for i := 0; i < b.N; i++ {
		engine, _ := newEngine()
		svc := nbi.NewControlService(engine, nbi.WithControlLogger(logging.Noop()))
		anchors := swarmConfig(cfg.Interceptors).Anchors

		b.StartTimer()
		for j := 0; j < cfg.Configures; j++ {
			radius := 500 + float64(j%10)*100
			req, err := nbi.UpdateToStruct(core.ConfigUpdate{HitRadiusMeters: &radius, Anchors: anchors})
			if err != nil {
				b.Fatalf("UpdateToStruct: %v", err)
			}
			if _, err := svc.Configure(ctx, req); err != nil {
				b.Fatalf("Configure(%d): %v", j, err)
			}
		}
		b.StopTimer()
	}
}

// benchmarkSnapshots encodes the snapshot of a mid-flight swarm the way
// every WatchSnapshots frame is encoded.
func benchmarkSnapshots(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	engine, clock := newEngine()
	if err := engine.Configure(ctx, swarmConfig(cfg.Interceptors)); err != nil {
		b.Fatalf("Configure: %v", err)
	}
	svc := nbi.NewControlService(engine)
	if _, err := svc.Start(ctx, &emptypb.Empty{}); err != nil {
		b.Fatalf("Start: %v", err)
	}
	for j := 0; j < 100; j++ {
		clock.Advance(time.Second / 60)
		engine.Tick(ctx)
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := svc.GetSnapshot(ctx, &emptypb.Empty{}); err != nil {
			b.Fatalf("GetSnapshot: %v", err)
		}
	}
}
