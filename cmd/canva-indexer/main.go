package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pubky-canva/indexer/internal/broadcast"
	"github.com/pubky-canva/indexer/internal/canvas"
	"github.com/pubky-canva/indexer/internal/config"
	"github.com/pubky-canva/indexer/internal/database"
	"github.com/pubky-canva/indexer/internal/homeserver"
	"github.com/pubky-canva/indexer/internal/logging"
	"github.com/pubky-canva/indexer/internal/server"
	"github.com/pubky-canva/indexer/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Process exit codes.
const (
	exitConfigError = 1
	exitStoreError  = 2
	exitListenError = 3
)

var cfgFile string

// exitError carries the process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "canva-indexer",
		Short:         "Shared-canvas event indexer",
		SilenceUsage:  true,
		SilenceErrors: false,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		os.Exit(exitConfigError)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to TOML configuration file")
	cmd.PersistentFlags().String("listen", defaults.GetString("server.listen"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Uint32("poll-interval-ms", defaults.GetUint32("watcher.poll_interval_ms"), "Watcher poll interval in milliseconds")
	cmd.PersistentFlags().Uint32("events-limit", defaults.GetUint32("watcher.events_limit"), "Maximum event records per user per tick")
	cmd.PersistentFlags().String("resolver-endpoint", defaults.GetString("resolver.endpoint"), "Key resolution relay endpoint")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "server.listen", "listen")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "watcher.poll_interval_ms", "poll-interval-ms")
	bindFlag(cmd, "watcher.events_limit", "events-limit")
	bindFlag(cmd, "resolver.endpoint", "resolver-endpoint")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &configNotFound) {
			return nil
		}
		return &exitError{code: exitConfigError, err: err}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		logger.Error("store init failed", zap.Error(err))
		return &exitError{code: exitStoreError, err: err}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return &exitError{code: exitStoreError, err: err}
	}
	defer sqlDB.Close()

	store, err := canvas.NewStore(canvas.StoreConfig{Database: db, Logger: logger})
	if err != nil {
		return &exitError{code: exitStoreError, err: err}
	}
	if err := store.EnsureMeta(ctx, appConfig.InitialSize); err != nil {
		logger.Error("canvas meta init failed", zap.Error(err))
		return &exitError{code: exitStoreError, err: err}
	}

	client := homeserver.NewHTTPClient(homeserver.HTTPClientConfig{Logger: logger})
	resolver, err := homeserver.NewHTTPResolver(homeserver.HTTPResolverConfig{
		Endpoint: appConfig.ResolverEndpoint,
		Logger:   logger,
	})
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	dispatcher := broadcast.NewDispatcher()

	ingestWatcher, err := watcher.New(watcher.Config{
		Store:              store,
		Client:             client,
		Broadcaster:        dispatcher,
		Logger:             logger,
		PollInterval:       appConfig.PollInterval,
		EventsLimit:        appConfig.EventsLimit,
		MaxCredits:         appConfig.MaxCredits,
		CreditRegenSeconds: appConfig.CreditRegenSeconds,
	})
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:              store,
		Resolver:           resolver,
		Client:             client,
		Broadcaster:        dispatcher,
		Logger:             logger,
		MaxCredits:         appConfig.MaxCredits,
		CreditRegenSeconds: appConfig.CreditRegenSeconds,
	})
	if err != nil {
		return &exitError{code: exitConfigError, err: err}
	}

	listener, err := net.Listen("tcp", appConfig.ListenAddress)
	if err != nil {
		logger.Error("listen failed", zap.String("address", appConfig.ListenAddress), zap.Error(err))
		return &exitError{code: exitListenError, err: err}
	}

	httpServer := &http.Server{Handler: handler}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcherCtx, cancelWatcher := context.WithCancel(context.Background())
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		ingestWatcher.Run(watcherCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.ListenAddress))
		err := httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		cancelWatcher()
		<-watcherDone
		return err
	}

	// Shutdown order: finish the watcher's in-flight work, stop the fan-out
	// (which ends every SSE stream), then drain the HTTP listener.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cancelWatcher()
	select {
	case <-watcherDone:
	case <-shutdownCtx.Done():
		logger.Warn("watcher did not stop within the shutdown budget")
	}

	dispatcher.Close()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
