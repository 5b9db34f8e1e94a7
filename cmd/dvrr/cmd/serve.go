package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/dvrr/internal/config"
	"github.com/jmylchreest/dvrr/internal/database"
	"github.com/jmylchreest/dvrr/internal/dvr"
	"github.com/jmylchreest/dvrr/internal/dvr/driver"
	internalhttp "github.com/jmylchreest/dvrr/internal/http"
	"github.com/jmylchreest/dvrr/internal/http/handlers"
	"github.com/jmylchreest/dvrr/internal/observability"
	"github.com/jmylchreest/dvrr/internal/service"
	"github.com/jmylchreest/dvrr/internal/storage"
	"github.com/jmylchreest/dvrr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dvrr daemon",
	Long: `Start the dvrr daemon with the HTTP control API.

The daemon provides:
- REST API for starting and managing recordings
- Health check endpoint and Prometheus metrics
- Scheduled cleanup of expired recordings`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8090, "Port to listen on")
	serveCmd.Flags().String("data-dir", "", "Segment storage base directory")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	store, err := storage.New(cfg.Storage, db, logger)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}

	engine, err := dvr.New(dvr.Config{
		Store:        store,
		OpenRecorder: driver.OpenRecorder(store, logger),
		OpenPlayer:   driver.NoPlayer(),
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	records := service.NewRecords(engine, store, cfg.Record, logger)

	janitor := storage.NewJanitor(store, cfg.Janitor, logger)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	defer janitor.Stop()

	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, version.Short())

	handlers.NewHealthHandler(version.Short(), cfg.Storage.BaseDir).Register(server.API())
	handlers.NewRecordsHandler(records).Register(server.API())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	records.CloseAll()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.Warn("server shutdown", slog.String("error", err.Error()))
	}
	return nil
}
