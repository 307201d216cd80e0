package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"mathbot/internal/config"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "mathbot",
		Short:        "mathbot: a math tutor for Slack and Telegram",
		Long:         "mathbot answers math questions posted in Slack or Telegram threads using a hosted language model.",
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.mathbot/config.yaml)")

	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(classifyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(initCmd())
	root.AddCommand(doctorCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults plus the
// environment when lenient is set and the file is missing.
func loadConfig(lenient bool) (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, nil
	}
	if !lenient || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Warn("config not found, using defaults", "path", cfgPath)
	cfg = config.Defaults()
	config.ApplyEnv(cfg, os.LookupEnv)
	if cfg.Model.Name == "" {
		cfg.Model.Name = config.DefaultModelName(cfg.Model.Backend)
	}
	return cfg, nil
}

// setupLogger replaces the bootstrap logger with one configured from cfg.
// The returned closer releases the log file, if any.
func setupLogger(cfg config.GeneralConfig) (func(), error) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	closer := func() {}
	if cfg.LogFile != "" {
		path := config.ExpandPath(cfg.LogFile)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return closer, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return closer, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, f)
		closer = func() { _ = f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(w, opts))
	}
	return closer, nil
}
