package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/synaptica-ai/bedside-sim/pkg/common/config"
	"github.com/synaptica-ai/bedside-sim/pkg/common/database"
	"github.com/synaptica-ai/bedside-sim/pkg/common/logger"
	"github.com/synaptica-ai/bedside-sim/pkg/journal"
	"github.com/synaptica-ai/bedside-sim/pkg/orchestrator"
)

const shutdownTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "bedside-sim",
		Short: "Simulated bedside ECG belts and BP/SpO2 monitors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive()
		},
		SilenceUsage: true,
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run headless with the HTTP control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the lifecycle journal tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := database.OpenPostgres(cfg)
			if err != nil {
				return err
			}
			defer database.ClosePostgres(db)

			if err := journal.NewRepository(db).AutoMigrate(); err != nil {
				return fmt.Errorf("migrating journal: %w", err)
			}
			logger.Log.Info("journal tables migrated")
			return nil
		},
	}
}

func loadConfig() (*config.Config, error) {
	logger.Init()
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.InitWithLevel(cfg.LogLevel)
	return cfg, nil
}

// runInteractive serves the operator menu until exit or a signal, then stops
// every stream.
func runInteractive() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// Keep stdout for the menu.
	logger.Log.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	menu := orchestrator.NewMenu(a.service, os.Stdin, os.Stdout)
	menuDone := make(chan error, 1)
	go func() { menuDone <- menu.Run(ctx) }()

	select {
	case err = <-menuDone:
	case <-ctx.Done():
	}

	fmt.Println("Shutting down... stopping all streams.")
	if closeErr := a.close(); closeErr != nil {
		return closeErr
	}
	fmt.Println("Simulator shutdown complete.")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	router := orchestrator.NewRouter(orchestrator.NewHTTPHandler(a.service, a.history))
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":      cfg.ServerHost,
			"port":      cfg.ServerPort,
			"sink_mode": cfg.SinkMode,
		}).Info("Bedside simulator started")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		logger.Log.WithError(err).Error("http server failed")
	}

	logger.Log.Info("Shutting down bedside simulator...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Log.WithError(shutdownErr).Error("server forced to shutdown")
	}
	if closeErr := a.close(); closeErr != nil {
		return closeErr
	}
	logger.Log.Info("Bedside simulator stopped")
	return err
}
