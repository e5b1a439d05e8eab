package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"github.com/callviewhq/callview/internal/ai"
	"github.com/callviewhq/callview/internal/config"
	"github.com/callviewhq/callview/internal/db"
	"github.com/callviewhq/callview/internal/logging"
	"github.com/callviewhq/callview/internal/metrics"
	"github.com/callviewhq/callview/internal/pipeline"
	"github.com/callviewhq/callview/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	watcherDebounce = 2 * time.Second
	shutdownTimeout = 10 * time.Second
)

// defaultCategories seeds an empty catalog on first run. The first
// category doubles as the fallback bucket for uncategorized data.
var defaultCategories = []string{"Sales", "Support", "Retention"}

var defaultCriteria = map[string][]string{
	"Sales":     {"Greeting", "Needs Discovery", "Closing"},
	"Support":   {"Empathy", "Resolution"},
	"Retention": {"Objection Handling"},
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("callview %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`callview %s - call analytics service

Accepts call recordings, runs transcription and analysis in the
background, and serves per-manager and company-wide statistics
over a JSON API.

Usage:
  callview [flags]          Start the server (default command)
  callview serve [flags]    Start the server (explicit)
  callview version          Show version information
  callview help             Show this help

Server flags:
  -host string        Host to bind to (default "127.0.0.1")
  -port int           Port to listen on (default 8080)
  -workers int        Analysis pipeline worker count (default 2)

Environment variables:
  CALLVIEW_DATA_DIR      Data directory (database, uploads)
  CALLVIEW_UPLOADS_DIR   Uploads directory override
  CALLVIEW_AI_URL        Transcription/analysis service URL
  CALLVIEW_AI_KEY        API key for the analysis service
  ENVIRONMENT            "local" for console logs, else JSON
  LOG_LEVEL              debug, info, warn, or error

Data is stored in ~/.callview/ by default.
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)
	logging.Setup(cfg.Environment, cfg.LogLevel)
	metrics.Init()
	log := logging.Component("main")

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("opening database")
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.SeedCatalog(
		ctx, defaultCategories, defaultCriteria,
	); err != nil {
		log.WithError(err).Fatal("seeding catalog")
	}

	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		log.WithError(err).Fatal("creating uploads dir")
	}

	client := ai.NewHTTPClient(cfg.AIBaseURL, cfg.AIAPIKey)
	pipe := pipeline.New(database, client, cfg.UploadsDir, cfg.Workers)
	if err := pipe.Requeue(ctx); err != nil {
		log.WithError(err).Fatal("requeueing interrupted calls")
	}
	pipe.Start()
	defer pipe.Stop()

	watcher, err := pipeline.NewWatcher(
		database, pipe, cfg.UploadsDir, watcherDebounce,
	)
	if err != nil {
		log.WithError(err).Warn("uploads watcher unavailable")
	} else if err := watcher.Start(); err != nil {
		log.WithError(err).Warn("uploads watcher failed to start")
	} else {
		defer watcher.Stop()
	}

	port := server.FindAvailablePort(cfg.Host, cfg.Port)
	if port != cfg.Port {
		log.WithFields(logrus.Fields{
			"requested": cfg.Port, "using": port,
		}).Info("port in use, falling back")
	}
	cfg.Port = port

	srv := server.New(cfg, database, pipe)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.WithField("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)).
		Infof("callview %s listening", version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.WithError(err).Fatal("server error")
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown incomplete")
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("callview", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: callview [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "parsing flags: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating data dir: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
