package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/INLOpen/nexusdoc/config"
	"github.com/INLOpen/nexusdoc/core"
	"github.com/INLOpen/nexusdoc/engine"
	"github.com/INLOpen/nexusdoc/markers"
	"github.com/INLOpen/nexusdoc/recovery"
	"github.com/INLOpen/nexusdoc/replication"
)

func main() {
	// Define command-line flags
	dataDir := flag.String("data-dir", "", "Path to the data directory to recover (required)")
	configPath := flag.String("config", "", "Path to a YAML config file; defaults apply when omitted")
	logLevel := flag.String("log-level", "info", "Logging level (debug, info, warn, error)")
	logOutput := flag.String("log-output", "stdout", "Log output (stdout, file, none)")
	logFile := flag.String("log-file", "recover-util.log", "Path to log file if output is 'file'")
	flag.Parse()

	// Validate required flags
	if *dataDir == "" {
		fmt.Println("Usage: recover-util -data-dir <path_to_data_dir> [-config <path_to_config>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	// --- Logger Setup ---
	var level slog.Level
	switch strings.ToLower(*logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		fmt.Printf("Invalid log level: %s. Defaulting to info.\n", *logLevel)
		level = slog.LevelInfo
	}

	var output io.Writer = os.Stdout
	switch strings.ToLower(*logOutput) {
	case "stdout":
		// Already set
	case "file":
		file, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			slog.Error("Failed to open log file", "path", *logFile, "error", err)
			os.Exit(1)
		}
		defer file.Close()
		output = file
	case "none":
		output = io.Discard
	}
	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))

	if err := run(*dataDir, *configPath, logger); err != nil {
		logger.Error("Standalone recovery failed", "error", err)
		os.Exit(1)
	}
}

func run(dataDir, configPath string, logger *slog.Logger) error {
	logger.Info("Starting standalone replication recovery...", "data_dir", dataDir)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	compression, ok := core.ParseCompressionType(cfg.Storage.Compression)
	if !ok {
		return fmt.Errorf("unknown compression type in config: %q", cfg.Storage.Compression)
	}

	eng, err := engine.Open(engine.Options{
		DataDir:     dataDir,
		Compression: compression,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open storage engine: %w", err)
	}
	defer eng.Close()

	consistency, err := markers.Open(dataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open consistency markers: %w", err)
	}

	rec := recovery.New(recovery.Options{
		Storage:                          eng,
		Consistency:                      consistency,
		TakeUnstableCheckpointOnShutdown: cfg.Recovery.TakeUnstableCheckpointOnShutdown,
		BatchLimits: replication.BatchLimits{
			Bytes: cfg.Recovery.BatchMaxBytes,
			Ops:   cfg.Recovery.BatchMaxOps,
		},
		WriterPoolSize: cfg.Recovery.WriterPoolSize,
		Logger:         logger,
	})

	if err := rec.RecoverFromOplogAsStandalone(context.Background()); err != nil {
		return fmt.Errorf("standalone recovery did not complete: %w", err)
	}

	logger.Info("Standalone recovery completed successfully. The node is in read-only mode.")
	return nil
}
