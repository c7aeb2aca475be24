package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/feeds/internal/auth"
	"github.com/MarcoPoloResearchLab/feeds/internal/config"
	"github.com/MarcoPoloResearchLab/feeds/internal/database"
	"github.com/MarcoPoloResearchLab/feeds/internal/events"
	"github.com/MarcoPoloResearchLab/feeds/internal/logging"
	"github.com/MarcoPoloResearchLab/feeds/internal/server"
	"github.com/MarcoPoloResearchLab/feeds/internal/store"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feeds",
		Short: "Live feeds development backend and view client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	mustBind(viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")))

	rootCmd.AddCommand(newServeCommand(defaults), newWatchCommand(defaults))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newServeCommand(defaults *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	flags := cmd.Flags()
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.Duration("token-ttl", defaults.GetDuration("auth.token_ttl"), "Access token lifetime")
	flags.String("signing-secret", "", "Token signing secret (overrides env)")

	mustBind(viper.BindPFlag("http.address", flags.Lookup("http-address")))
	mustBind(viper.BindPFlag("database.path", flags.Lookup("database-path")))
	mustBind(viper.BindPFlag("auth.token_ttl", flags.Lookup("token-ttl")))
	mustBind(viper.BindPFlag("auth.signing_secret", flags.Lookup("signing-secret")))
	return cmd
}

func mustBind(err error) {
	if err != nil {
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

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.TokenIssuer,
		Audience:      appConfig.TokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	storeService, err := store.NewService(store.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: store.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		Store:        storeService,
		Bus:          events.NewBus(),
		Logger:       logger,
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
