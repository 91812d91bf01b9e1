package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/internal/config"
	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/internal/recorder"
	"github.com/signalsfoundry/intercept-simulator/internal/telemetry"
	"github.com/signalsfoundry/intercept-simulator/model"
	"github.com/signalsfoundry/intercept-simulator/timectrl"
)

// Options are the headless run settings.
type Options struct {
	ConfigPath  string
	TickRate    float64
	Accelerated bool
	MaxTicks    int
	RecordPath  string
}

func main() {
	var opts Options
	flag.StringVar(&opts.ConfigPath, "config", "", "YAML scenario (built-in demo when empty)")
	flag.Float64Var(&opts.TickRate, "tick-rate", 0, "ticks per second in real-time mode (defaults to server.tick_rate)")
	flag.BoolVar(&opts.Accelerated, "accelerated", true, "tick as fast as possible instead of in real time")
	flag.IntVar(&opts.MaxTicks, "max-ticks", 20000, "give up after this many loop iterations (0 = no limit)")
	flag.StringVar(&opts.RecordPath, "record", "", "write every snapshot to this recording")
	inspect := flag.String("inspect", "", "summarise an existing recording and exit")
	flag.Parse()

	if *inspect != "" {
		if err := inspectRecording(*inspect, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "inspect: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "simulator: %v\n", err)
		os.Exit(1)
	}
}

// run flies one scenario from start to finish and prints its summary to out.
func run(ctx context.Context, opts Options, out io.Writer) error {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if opts.TickRate > 0 {
		cfg.Server.TickRate = opts.TickRate
	}
	if opts.RecordPath != "" {
		cfg.Record = config.RecordConfig{Enable: true, Path: opts.RecordPath}
	}
	log := logging.New(cfg.Logging.Logger())

	mode := timectrl.RealTime
	if opts.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), timectrl.TickForRate(cfg.Server.TickRate), mode)

	engineOpts := []core.Option{core.WithLogger(log), core.WithClock(tc)}
	var bridge *telemetry.Bridge
	if cfg.Telemetry.Enable {
		client, err := telemetry.NewClient(telemetry.ClientConfig{
			BaseURL: cfg.Telemetry.BaseURL,
			Timeout: cfg.Telemetry.Timeout,
		})
		if err != nil {
			return fmt.Errorf("telemetry client: %w", err)
		}
		bridge = telemetry.NewBridge(client, nil,
			telemetry.WithLogger(log),
			telemetry.WithPollInterval(cfg.Telemetry.PollInterval),
			telemetry.WithAltitude(cfg.Telemetry.AltitudeM),
		)
		engineOpts = append(engineOpts, core.WithTelemetryLink(bridge))
	}
	engine := core.NewSimulationEngine(engineOpts...)

	var (
		mu    sync.Mutex
		snaps []model.Snapshot
	)
	engine.AddListener(func(s model.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})

	if err := engine.Configure(ctx, cfg.Simulation.Core()); err != nil {
		return fmt.Errorf("configure: %w", err)
	}
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	var rec *recorder.Writer
	if cfg.Record.Enable {
		var err error
		rec, err = recorder.Create(cfg.Record.Path, recorder.Header{
			Meta: map[string]string{"source": "simulator", "mode": mode.String()},
		})
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		engine.AddListener(rec.Observe)
	}

	fmt.Fprintf(out, "Starting simulation: tick=%s, mode=%v, interceptors=%d\n",
		tc.Tick, mode, len(cfg.Simulation.Anchors))

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(loopCtx)
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	g.Go(func() error {
		defer cancel()
		iterations := 0
		tc.AddListener(func(time.Time) {
			engine.Tick(gctx)
			iterations++
		})
		stop := func() bool {
			return engine.Done() || (opts.MaxTicks > 0 && iterations >= opts.MaxTicks)
		}
		if err := tc.Run(gctx, 0, stop); err != nil && gctx.Err() == nil {
			return err
		}
		if !engine.Done() {
			log.Warn(gctx, "simulation stopped before completion", logging.Int("iterations", iterations))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		if rec != nil {
			rec.Close()
		}
		return err
	}

	if rec != nil {
		if err := rec.Close(); err != nil {
			return fmt.Errorf("close recording: %w", err)
		}
		fmt.Fprintf(out, "Recorded %d snapshots to %s\n", rec.Count(), cfg.Record.Path)
	}

	mu.Lock()
	defer mu.Unlock()
	recorder.Fprint(out, recorder.Summarize(snaps))
	fmt.Fprintln(out, "Simulation complete.")
	return nil
}

func inspectRecording(path string, out io.Writer) error {
	h, snaps, err := recorder.ReadAll(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "recording %s: format v%d, created %s, %d snapshots\n",
		path, h.Version, h.CreatedAt.Format(time.RFC3339), len(snaps))
	keys := make([]string, 0, len(h.Meta))
	for k := range h.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "  %s=%s\n", k, h.Meta[k])
	}
	recorder.Fprint(out, recorder.Summarize(snaps))
	return nil
}
