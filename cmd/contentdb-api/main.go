package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/driftboard/contentdb/internal/auth"
	"github.com/driftboard/contentdb/internal/config"
	"github.com/driftboard/contentdb/internal/database"
	"github.com/driftboard/contentdb/internal/events"
	"github.com/driftboard/contentdb/internal/logging"
	"github.com/driftboard/contentdb/internal/metrics"
	"github.com/driftboard/contentdb/internal/permission"
	"github.com/driftboard/contentdb/internal/search"
	"github.com/driftboard/contentdb/internal/server"
	"github.com/driftboard/contentdb/internal/types"
	"github.com/driftboard/contentdb/internal/writer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "contentdb-api",
		Short: "Content platform data-access service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("search-max-limit", defaults.GetInt("search.max_limit"), "Maximum rows one search request may return")
	cmd.PersistentFlags().Int("hash-length", defaults.GetInt("content.hash_length"), "Length of generated content hashes")
	cmd.PersistentFlags().Int("hash-retries", defaults.GetInt("content.hash_retries"), "Hash collision retry budget")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "search.max_limit", "search-max-limit")
	bindFlag(cmd, "content.hash_length", "hash-length")
	bindFlag(cmd, "content.hash_retries", "hash-retries")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	registry := types.NewRegistry()

	perms, err := permission.NewService(permission.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	bus := events.NewBus()
	bus.OnDrop(collector.EventDropped)

	builder := search.NewBuilder(registry, appConfig.MaxSearchLimit)
	searcher, err := search.NewExecutor(search.ExecutorConfig{
		Database:    db,
		Builder:     builder,
		Permissions: perms,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	writeService, err := writer.NewWriter(writer.Config{
		Database:    db,
		Registry:    registry,
		Permissions: perms,
		Events:      bus,
		Logger:      logger,
		Clock:       time.Now,
		HashLength:  appConfig.HashLength,
		HashRetries: appConfig.HashRetries,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "contentdb-auth",
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Searcher: searcher,
		Builder:  builder,
		Writer:   writeService,
		Registry: registry,
		Tokens:   sessions,
		Bus:      bus,
		Metrics:  collector,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
