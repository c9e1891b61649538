package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/journey.report/internal/admission"
	"github.com/banshee-data/journey.report/internal/api"
	"github.com/banshee-data/journey.report/internal/config"
	"github.com/banshee-data/journey.report/internal/db"
	"github.com/banshee-data/journey.report/internal/engine"
	"github.com/banshee-data/journey.report/internal/feed"
	"github.com/banshee-data/journey.report/internal/notify"
	"github.com/banshee-data/journey.report/internal/timeutil"
	"github.com/banshee-data/journey.report/internal/version"
)

var (
	listen       = flag.String("listen", ":8080", "Listen address")
	dbPath       = flag.String("db-path", "journeys.db", "Path to the SQLite database")
	configPath   = flag.String("config", "", "Path to a tuning config JSON file (defaults are used when empty)")
	serialPort   = flag.String("serial", "", "Serial port delivering activity samples")
	baudRate     = flag.Int("baud", 0, "Serial baud rate (0 uses 115200)")
	fixturesPath = flag.String("fixtures", "", "Replay activity samples from this file instead of a serial port")
	debugMode    = flag.Bool("debug", false, "Start with the simulated trip source enabled")
	serverURL    = flag.String("server", "http://localhost:8080", "Server URL for client commands")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("journey %s\n", version.String())
		return
	}

	if flag.NArg() > 0 {
		if err := runCommand(context.Background(), flag.Arg(0), flag.Args()[1:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if *serialPort != "" && *fixturesPath != "" {
		log.Fatal("-serial and -fixtures are mutually exclusive")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *debugMode {
		cfg.DebugMode = debugMode
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		log.Fatalf("journey: %v", err)
	}
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		if cfg, err := config.LoadTuningConfig(config.DefaultConfigPath); err == nil {
			return cfg, nil
		}
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

func printUsage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, `journey - trip detection service

Usage:
  journey [flags]                 run the service
  journey [flags] <command> ...   run a command

Commands:
  migrate <action>   manage the database schema (see 'journey migrate help')
  simulate           ask a running server to record a simulated trip
  status             print a running server's status
  debug on|off       toggle the simulated trip source on a running server
  pending            list journeys not yet sent
  sent <id>          mark a journey as sent
  version            print version

Flags:
`)
	flag.PrintDefaults()
}

// openFeed returns the sample source selected by flags, or nil when neither
// a serial port nor a fixture file was given.
func openFeed() (func(ctx context.Context, admit feed.Admitter, cfg *config.TuningConfig) error, io.Closer, error) {
	switch {
	case *serialPort != "":
		port, err := feed.OpenSerial(*serialPort, feed.PortOptions{BaudRate: *baudRate})
		if err != nil {
			return nil, nil, err
		}
		log.Printf("reading activity samples from %s", *serialPort)
		return func(ctx context.Context, admit feed.Admitter, _ *config.TuningConfig) error {
			return feed.NewReader(port, admit, nil).Monitor(ctx)
		}, port, nil
	case *fixturesPath != "":
		events, err := feed.LoadFixtureFile(*fixturesPath)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("replaying %d activity samples from %s", len(events), *fixturesPath)
		return func(ctx context.Context, admit feed.Admitter, cfg *config.TuningConfig) error {
			return feed.Replay(ctx, events, admit, timeutil.RealClock{}, cfg.GetPollInterval())
		}, nil, nil
	}
	return nil, nil, nil
}

func serve(ctx context.Context, cfg *config.TuningConfig) error {
	store, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	hub := notify.NewHub()
	defer hub.Close()

	eng := engine.NewFromConfig(cfg, store, hub, engine.Options{
		OnTripDetected: func(j db.Journey) {
			log.Printf("journey %s: %s %d min %.2f km", j.ID, j.TransportType, j.DurationMinutes, j.DistanceKm)
		},
	})
	opts := admission.OptionsFromTuning(cfg)
	opts.StartConsumer = eng.Start
	buffer := admission.New(eng, opts)

	runFeed, closer, err := openFeed()
	if err != nil {
		return fmt.Errorf("failed to open activity feed: %w", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	eng.Start()
	log.Printf("journey %s started, debug mode %v", version.String(), eng.DebugMode())

	var wg sync.WaitGroup
	if runFeed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runFeed(ctx, buffer, cfg); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("activity feed stopped: %v", err)
			}
			log.Print("feed routine terminated")
		}()
	}

	mux := http.NewServeMux()
	if err := store.AttachAdminRoutes(mux); err != nil {
		return fmt.Errorf("failed to attach db admin routes: %w", err)
	}
	hub.AttachAdminRoutes(mux)
	api.NewServer(store, eng, buffer, http.HandlerFunc(hub.ServeSSE)).AttachRoutes(mux)

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			log.Printf("HTTP server error: %v", err)
		}
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	wg.Wait()
	buffer.Close()
	eng.Stop()
	log.Print("graceful shutdown complete")
	return nil
}
