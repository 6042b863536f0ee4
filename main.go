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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ride-messaging/internal/auth"
	"ride-messaging/internal/config"
	"ride-messaging/internal/observability"
	"ride-messaging/internal/server"
	"ride-messaging/internal/telemetry"
	"ride-messaging/internal/ws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "ride-messaging-relay",
		Short: "Run the ride messaging relay",
		Long: `Run the websocket relay that carries ride chat messages, delivery
receipts, typing indicators and presence between connected users.

Settings come from defaults, the optional --config file and RIDECHAT_
prefixed environment variables.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.AddCommand(newClientCmd(&configPath))
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func runRelay(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Relay.JWTSecret == "" {
		return errors.New("relay.jwt_secret is required")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing.OTLPEndpoint, cfg.Tracing.ServiceName)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(shutdownCtx)
		}()
	}

	publisher := observability.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.Deps{
		ServiceName: cfg.Tracing.ServiceName,
		Hub:         ws.NewHub(logger),
		Auth:        auth.NewJWTService(cfg.Relay.JWTSecret, cfg.Relay.TokenTTL),
		Audit:       telemetry.NewAuditEmitter(publisher, cfg.Tracing.ServiceName, cfg.Env, logger),
		Debug:       cfg.Relay.Debug,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Relay.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay listening", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
