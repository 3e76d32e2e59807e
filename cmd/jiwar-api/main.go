package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jiwar-association/backend/internal/auth"
	"github.com/jiwar-association/backend/internal/bridge"
	"github.com/jiwar-association/backend/internal/config"
	"github.com/jiwar-association/backend/internal/database"
	"github.com/jiwar-association/backend/internal/logging"
	"github.com/jiwar-association/backend/internal/magiclink"
	"github.com/jiwar-association/backend/internal/members"
	"github.com/jiwar-association/backend/internal/metrics"
	"github.com/jiwar-association/backend/internal/provider"
	"github.com/jiwar-association/backend/internal/server"
	"github.com/jiwar-association/backend/internal/telegram"
	"github.com/jiwar-association/backend/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "jiwar-api",
		Short: "Jiwar association membership API",
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
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("app-origin", defaults.GetString("app.origin"), "Frontend origin for deep links")
	cmd.PersistentFlags().String("bot-api-url", defaults.GetString("bot.api_url"), "Telegram Bot API base URL")
	cmd.PersistentFlags().String("provider-endpoint", defaults.GetString("provider.endpoint"), "Account provider endpoint")
	cmd.PersistentFlags().String("provider-project-id", defaults.GetString("provider.project_id"), "Account provider project id")
	cmd.PersistentFlags().String("cookie-name", defaults.GetString("session.cookie_name"), "Session cookie name")
	cmd.PersistentFlags().Int("session-ttl-minutes", defaults.GetInt("session.ttl_minutes"), "Session TTL in minutes")
	cmd.PersistentFlags().Int("sweep-interval-minutes", defaults.GetInt("sweep.interval_minutes"), "Expired token sweep interval in minutes")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "app.origin", "app-origin")
	bindFlag(cmd, "bot.api_url", "bot-api-url")
	bindFlag(cmd, "provider.endpoint", "provider-endpoint")
	bindFlag(cmd, "provider.project_id", "provider-project-id")
	bindFlag(cmd, "session.cookie_name", "cookie-name")
	bindFlag(cmd, "session.ttl_minutes", "session-ttl-minutes")
	bindFlag(cmd, "sweep.interval_minutes", "sweep-interval-minutes")
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

	tokenStore, err := magiclink.NewStore(magiclink.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	profiles, err := members.NewService(members.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: members.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	accountProvider, err := provider.NewClient(provider.ClientConfig{
		Endpoint:  appConfig.ProviderEndpoint,
		ProjectID: appConfig.ProviderProjectID,
		APIKey:    appConfig.ProviderAPIKey,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	sessions, err := auth.NewSessionIssuer(auth.SessionIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		SessionTTL:    appConfig.SessionTTL,
	})
	if err != nil {
		return err
	}

	bridgeService, err := bridge.NewService(bridge.ServiceConfig{
		Profiles:  profiles,
		Tokens:    tokenStore,
		Provider:  accountProvider,
		AppOrigin: appConfig.AppOrigin,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	botClient, err := telegram.NewBotClient(telegram.BotClientConfig{
		APIURL:   appConfig.BotAPIURL,
		BotToken: appConfig.BotToken,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	dispatcher, err := telegram.NewDispatcher(telegram.DispatcherConfig{
		Bridge:  bridgeService,
		Sender:  botClient,
		Metrics: collector,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Dispatcher:     dispatcher,
		Tokens:         tokenStore,
		Profiles:       profiles,
		Users:          userService,
		Provider:       accountProvider,
		Sessions:       sessions,
		CookieName:     appConfig.CookieName,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),
		Logger:         logger,
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

	sweeper := magiclink.NewSweeper(tokenStore, appConfig.SweepInterval, logger)
	go sweeper.Run(signalCtx)

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
