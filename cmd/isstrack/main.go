package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"isstrack/internal/api"
	"isstrack/pkg/config"
	"isstrack/pkg/core"
	"isstrack/pkg/history"
	"isstrack/pkg/iss"
	"isstrack/pkg/logging"
	"isstrack/pkg/marker"
	"isstrack/pkg/metrics"
	"isstrack/pkg/probe"
	"isstrack/pkg/request"
	"isstrack/pkg/scene"
	"isstrack/pkg/series"
	"isstrack/pkg/tracker"
	"isstrack/pkg/version"
)

const defaultConfigPath = "configs/isstrack.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	trace      = flag.Bool("trace", false, "Enable trace logging")
)

func main() {
	flag.Parse()

	// Handle --init-config flag
	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Config file generated: %s\n", *configPath)
		return
	}

	// A missing .env is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}
	logging.EnableTrace = *trace

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

// app holds the wired components.
type app struct {
	cfg       *config.Config
	collector *metrics.Collector
	tracker   *tracker.Tracker
	client    *iss.Client
	store     *history.Store
	scene     *scene.Scene
	poller    *core.Poller
	detach    func()
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("isstrack Started", "version", version.Version, "backend", appCfg.Backend.BaseURL)

	a, err := wire(appCfg)
	if err != nil {
		return err
	}
	defer a.detach()

	// Startup Probes
	probes := []probe.Probe{
		{
			Name:     "Backend API",
			Check:    a.client.Health,
			Critical: false, // the poller keeps retrying and the UI shows the error
		},
	}
	results := probe.Run(ctx, probes)
	if err := probe.AnalyzeResults(results); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		a.poller.Start(pollCtx)
	}()

	err = runServer(ctx, a)

	stopPoll()
	<-pollDone
	a.poller.Wait()
	return err
}

// wire builds the component graph: request client -> backend client ->
// poller -> store -> scene -> marker view.
func wire(cfg *config.Config) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	tr := tracker.New()
	reqClient := request.New(&cfg.Request, tr, collector)
	client := iss.NewClient(reqClient, cfg.Backend.BaseURL,
		iss.WithObserver(collector),
		iss.WithTracker(tr),
	)

	store := history.NewStore()
	sc := scene.New(marker.NewMapView(cfg.Map.InitialZoom), collector)
	detach := sc.Attach(store)

	return &app{
		cfg:       cfg,
		collector: collector,
		tracker:   tr,
		client:    client,
		store:     store,
		scene:     sc,
		poller:    core.NewPoller(cfg.Poll, client, store, collector),
		detach:    detach,
	}, nil
}

func runServer(ctx context.Context, a *app) error {
	quit := make(chan os.Signal, 1)
	shutdownFunc := shutdownTrigger(quit)

	stream := api.NewStreamHandler(a.scene, a.collector)
	defer stream.Close()

	srv := api.NewServer(a.cfg.Server.Address,
		api.NewISSHandler(a.store, a.scene, a.poller, series.ChartOptions{
			AssetsHost: a.cfg.Charts.AssetsHost,
			Theme:      a.cfg.Charts.Theme,
		}),
		api.NewStatsHandler(a.tracker, a.store, a.scene),
		stream,
		a.collector.Handler(),
		shutdownFunc,
	)

	srv.Handler = loggingMiddleware(srv.Handler)
	return runServerLifecycle(ctx, srv, stream, quit)
}

// shutdownTrigger returns a func that requests shutdown. Repeated calls are no-ops
// while a request is pending.
func shutdownTrigger(quit chan<- os.Signal) func() {
	return func() {
		select {
		case quit <- syscall.SIGTERM:
		default:
		}
	}
}

func runServerLifecycle(ctx context.Context, srv *http.Server, stream *api.StreamHandler, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	stream.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.RequestLogger.Info("Request Processed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
