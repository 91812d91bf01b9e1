package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/intercept-simulator/core"
	"github.com/signalsfoundry/intercept-simulator/internal/config"
	"github.com/signalsfoundry/intercept-simulator/internal/logging"
	"github.com/signalsfoundry/intercept-simulator/internal/nbi"
	"github.com/signalsfoundry/intercept-simulator/internal/observability"
	"github.com/signalsfoundry/intercept-simulator/internal/recorder"
	"github.com/signalsfoundry/intercept-simulator/internal/telemetry"
	"github.com/signalsfoundry/intercept-simulator/internal/web"
	"github.com/signalsfoundry/intercept-simulator/kb"
	"github.com/signalsfoundry/intercept-simulator/model"
	"github.com/signalsfoundry/intercept-simulator/timectrl"
)

const shutdownTimeout = 5 * time.Second

// Options carries settings that only make sense on the command line.
type Options struct {
	StaticDir string
}

func main() {
	configPath := flag.String("config", "", "YAML scenario and service configuration (built-in demo when empty)")
	grpcAddr := flag.String("grpc-addr", "", "override server.grpc_addr")
	httpAddr := flag.String("http-addr", "", "override server.http_addr")
	metricsAddr := flag.String("metrics-addr", "", "override server.metrics_addr")
	staticDir := flag.String("static", "", "directory holding the renderer bundle served at /")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(2)
		}
		cfg = loaded
	}
	if *grpcAddr != "" {
		cfg.Server.GRPCAddr = *grpcAddr
	}
	if *httpAddr != "" {
		cfg.Server.HTTPAddr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}

	log := logging.New(cfg.Logging.Logger())
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, Options{StaticDir: *staticDir}, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run serves until ctx is cancelled. lis carries the gRPC control surface;
// the renderer and metrics servers listen on their configured addresses
// when those are non-empty.
func run(ctx context.Context, cfg config.Config, opts Options, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("register simulation metrics: %w", err)
	}
	ctrlMetrics, err := observability.NewControlCollector(reg)
	if err != nil {
		return fmt.Errorf("register control metrics: %w", err)
	}

	mode := timectrl.RealTime
	if cfg.Server.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(time.Now().UTC(), timectrl.TickForRate(cfg.Server.TickRate), mode)

	engineOpts := []core.Option{
		core.WithLogger(log),
		core.WithClock(tc),
		core.WithMetricsRecorder(simMetrics),
	}
	var bridge *telemetry.Bridge
	if cfg.Telemetry.Enable {
		client, err := telemetry.NewClient(telemetry.ClientConfig{
			BaseURL: cfg.Telemetry.BaseURL,
			Timeout: cfg.Telemetry.Timeout,
		})
		if err != nil {
			return fmt.Errorf("telemetry client: %w", err)
		}
		bridge = telemetry.NewBridge(client, kb.NewKnowledgeBase(),
			telemetry.WithLogger(log),
			telemetry.WithErrorRecorder(simMetrics),
			telemetry.WithPollInterval(cfg.Telemetry.PollInterval),
			telemetry.WithAltitude(cfg.Telemetry.AltitudeM),
		)
		engineOpts = append(engineOpts, core.WithTelemetryLink(bridge))
	}
	engine := core.NewSimulationEngine(engineOpts...)
	if err := engine.Configure(ctx, cfg.Simulation.Core()); err != nil {
		return fmt.Errorf("configure scenario: %w", err)
	}

	if cfg.Record.Enable {
		rec, err := recorder.Create(cfg.Record.Path, recorder.Header{
			Meta: map[string]string{"source": "intercept-server"},
		})
		if err != nil {
			return fmt.Errorf("open recording: %w", err)
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.Warn(context.Background(), "failed to close recording", logging.Err(err))
			}
			log.Info(context.Background(), "recording closed",
				logging.String("path", cfg.Record.Path),
				logging.Int("snapshots", rec.Count()),
			)
		}()
		engine.AddListener(rec.Observe)
	}

	webSrv := web.NewServer(engine,
		web.WithLogger(log),
		web.WithWatchRecorder(ctrlMetrics),
		web.WithStaticDir(opts.StaticDir),
	)
	engine.AddListener(webSrv.Publish)

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			nbi.RequestIDUnaryServerInterceptor(log),
			nbi.TracingUnaryServerInterceptor(),
			ctrlMetrics.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			nbi.RequestIDStreamServerInterceptor(log),
			ctrlMetrics.StreamServerInterceptor(),
		),
	)
	nbi.RegisterControlServer(grpcServer, nbi.NewControlService(engine, nbi.WithControlLogger(log)))
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)
	healthSrv.SetServingStatus(nbi.ControlServiceName, healthpb.HealthCheckResponse_SERVING)

	var httpServers []*http.Server
	if cfg.Server.HTTPAddr != "" {
		httpServers = append(httpServers, &http.Server{Addr: cfg.Server.HTTPAddr, Handler: webSrv.Handler()})
	}
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", simMetrics.Handler())
		httpServers = append(httpServers, &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux})
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info(gctx, "starting control gRPC server", logging.String("addr", lis.Addr().String()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	for _, srv := range httpServers {
		srv := srv
		g.Go(func() error {
			log.Info(gctx, "starting HTTP server", logging.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	g.Go(func() error {
		log.Info(gctx, "starting simulation loop",
			logging.Float64("tick_rate", cfg.Server.TickRate),
			logging.String("mode", mode.String()),
		)
		return runSimLoop(gctx, tc, engine, nil)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down")
		healthSrv.Shutdown()
		stopGRPC(grpcServer, shutdownTimeout)
		webSrv.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range httpServers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn(shutdownCtx, "http shutdown failed", logging.String("addr", srv.Addr), logging.Err(err))
			}
		}
		return nil
	})

	return g.Wait()
}

// Ticker is the engine surface the simulation loop drives.
type Ticker interface {
	Tick(ctx context.Context) model.Snapshot
}

// runSimLoop ticks engine once per controller tick until ctx is cancelled
// or stop reports true. Cancellation is a clean exit.
func runSimLoop(ctx context.Context, tc *timectrl.TimeController, engine Ticker, stop func() bool) error {
	tc.AddListener(func(time.Time) {
		engine.Tick(ctx)
	})
	if err := tc.Run(ctx, 0, stop); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// stopGRPC drains in-flight RPCs, then cuts open watch streams once the
// timeout passes.
func stopGRPC(s *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.Stop()
		<-done
	}
}
