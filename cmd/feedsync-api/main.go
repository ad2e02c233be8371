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

	"github.com/MarcoPoloResearchLab/feedsync/internal/auth"
	"github.com/MarcoPoloResearchLab/feedsync/internal/config"
	"github.com/MarcoPoloResearchLab/feedsync/internal/database"
	"github.com/MarcoPoloResearchLab/feedsync/internal/feed"
	"github.com/MarcoPoloResearchLab/feedsync/internal/logging"
	"github.com/MarcoPoloResearchLab/feedsync/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "feedsync-api",
		Short: "Feed posts backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newIssueTokenCommand())

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
	cmd.PersistentFlags().String("issuer", defaults.GetString("auth.issuer"), "Token issuer")
	cmd.PersistentFlags().String("audience", defaults.GetString("auth.audience"), "Token audience")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Bearer token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.issuer", "issuer")
	bindFlag(cmd, "auth.audience", "audience")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
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

func newIssueTokenCommand() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Issue a bearer token for a feed actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadServer(viper.GetViper())
			if err != nil {
				return err
			}
			issuer, err := newTokenIssuer(appConfig)
			if err != nil {
				return err
			}
			token, expiresIn, err := issuer.IssueToken(cmd.Context(), subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires in %ds\n", expiresIn)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Actor identifier placed in the token subject")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newTokenIssuer(appConfig config.ServerConfig) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        appConfig.Issuer,
		Audience:      appConfig.Audience,
		TokenTTL:      appConfig.TokenTTL,
	})
}

func runServer(ctx context.Context) error {
	appConfig, err := config.LoadServer(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger, &feed.Post{}, &feed.Like{})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := newTokenIssuer(appConfig)
	if err != nil {
		return err
	}

	feedService, err := feed.NewService(feed.ServiceConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		FeedService:  feedService,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
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
