// Package config loads application configuration by layering:
// defaults < .env file < environment < flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Host        string
	Port        int
	DataDir     string
	DBPath      string
	UploadsDir  string
	AIBaseURL   string
	AIAPIKey    string
	Environment string
	LogLevel    string
	Workers     int

	WriteTimeout time.Duration
}

// Default returns a Config with default values.
func Default() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf(
			"determining home directory: %w", err,
		)
	}
	dataDir := filepath.Join(home, ".callview")
	return Config{
		Host:         "127.0.0.1",
		Port:         8080,
		DataDir:      dataDir,
		DBPath:       filepath.Join(dataDir, "callview.db"),
		UploadsDir:   filepath.Join(dataDir, "uploads"),
		AIBaseURL:    "http://127.0.0.1:9090",
		Workers:      2,
		WriteTimeout: 30 * time.Second,
	}, nil
}

// Load builds a Config by layering: defaults < .env < env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	cfg, err := Default()
	if err != nil {
		return cfg, err
	}

	// A missing .env is fine; godotenv only fills variables that
	// are not already exported, so real env vars win.
	_ = godotenv.Load()

	cfg.loadEnv()
	applyFlags(&cfg, fs)

	cfg.DBPath = filepath.Join(cfg.DataDir, "callview.db")
	if cfg.UploadsDir == "" {
		cfg.UploadsDir = filepath.Join(cfg.DataDir, "uploads")
	}
	return cfg, nil
}

func (c *Config) loadEnv() {
	if v := os.Getenv("CALLVIEW_DATA_DIR"); v != "" {
		c.DataDir = v
		c.UploadsDir = ""
	}
	if v := os.Getenv("CALLVIEW_UPLOADS_DIR"); v != "" {
		c.UploadsDir = v
	}
	if v := os.Getenv("CALLVIEW_AI_URL"); v != "" {
		c.AIBaseURL = v
	}
	if v := os.Getenv("CALLVIEW_AI_KEY"); v != "" {
		c.AIAPIKey = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CALLVIEW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Workers = n
		}
	}
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("host", "127.0.0.1", "Host to bind to")
	fs.Int("port", 8080, "Port to listen on")
	fs.Int("workers", 2, "Analysis pipeline worker count")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		case "workers":
			cfg.Workers, _ = strconv.Atoi(f.Value.String())
		}
	})
}
