package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MegaGrindStone/bfchat/internal/handlers"
	"github.com/MegaGrindStone/bfchat/internal/services"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	var cfgFilePath string

	cmd := &cobra.Command{
		Use:          "bfchat-server",
		Short:        "Serve the chat backend for the widget",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgFilePath)
		},
	}
	cmd.Flags().StringVarP(&cfgFilePath, "config", "c", "",
		"config file (default is $XDG_CONFIG_HOME/bfchat/config.yaml)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgFilePath string) error {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return fmt.Errorf("error getting user config dir: %w", err)
	}
	cfgPath := filepath.Join(cfgDir, "bfchat")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	cfg, err := loadConfig(cfgFilePath, filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		return err
	}

	level, err := cfg.logLevel()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	llm, err := cfg.LLM.provider(cfg.SystemPrompt, logger)
	if err != nil {
		return fmt.Errorf("error creating %s provider: %w", cfg.LLM.name(), err)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(cfgPath, "store.db")
	}
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		return fmt.Errorf("error opening store %s: %w", dbPath, err)
	}
	defer boltDB.Close()

	m, err := handlers.NewMain(llm, llm, boltDB, cfg.handlerOptions(), logger)
	if err != nil {
		return err
	}
	mux, err := m.Routes()
	if err != nil {
		return err
	}

	if cfg.SessionRetention > 0 {
		go pruneSessions(ctx, boltDB, cfg.SessionRetention, pruneInterval, logger)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.CORS(cfg.AllowedOrigins, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting",
			slog.String("port", cfg.Port),
			slog.String("provider", cfg.LLM.name()),
			slog.String("db", dbPath))
		serverErrors <- srv.ListenAndServe()
	}()

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("Server error", slog.String(errLoggerKey, err.Error()))
		return err

	case <-ctx.Done():
		logger.Info("Start shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// Gracefully shutdown the server
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String(errLoggerKey, err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String(errLoggerKey, err.Error()))
			}
		}
	}

	return nil
}

const errLoggerKey = "err"

// loadConfig reads the config at path, or at defaultPath when path is empty. A missing default file yields
// the default config, which serves the mock provider.
func loadConfig(path, defaultPath string) (config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultPath
	}

	f, err := os.Open(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	cfg := config{}
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		// A file without any document, such as an empty one, configures nothing.
		if errors.Is(err, io.EOF) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}
