package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/handiism/offline-regions/internal/app"
	"github.com/handiism/offline-regions/internal/config"
	"github.com/handiism/offline-regions/internal/logging"
	"github.com/handiism/offline-regions/internal/tui"
)

func main() {
	configPath := pflag.String("config", "", "path to a JSON or TOML config file")
	storeURL := pflag.String("store", "", "bucket URL for cached regions (overrides config)")
	logFile := pflag.String("log-file", "", "write logs to this file (the screen belongs to the UI)")
	pflag.Parse()

	if err := run(*configPath, *storeURL, *logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, storeURL, logFile string) error {
	settings := config.DefaultSettings()
	if configPath != "" {
		var err error
		settings, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	}
	if storeURL != "" {
		settings.StoreURL = storeURL
	}

	logger := zerolog.Nop()
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		defer f.Close()
		logger = logging.New("offline-tui", logging.Config{Level: settings.LogLevel, Out: f})
	}

	a, err := app.Open(context.Background(), settings, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return tui.Run(a)
}
