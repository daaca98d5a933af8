package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cafepos/backend/internal/config"
	"cafepos/backend/internal/logging"
	"cafepos/backend/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var insecure bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the register HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !insecure {
				if err := validateSecurityConfig(cfg); err != nil {
					return fmt.Errorf("invalid security configuration: %w", err)
				}
			}

			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&insecure, "insecure-dev", false, "skip the AUTH_SECRET strength check (local development only)")
	return cmd
}

// serve runs the register service until ctx is cancelled.
func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName: "cafepos",
		Version:     version,
		Exporter:    cfg.TracesExporter,
		Endpoint:    cfg.OTLPEndpoint,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	startCtx, cancelStart := context.WithTimeout(ctx, 15*time.Second)
	application, err := buildApp(startCtx, cfg, logger)
	cancelStart()
	if err != nil {
		return err
	}
	defer application.Close(logger)

	listener, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Address(), err)
	}
	return runServer(ctx, listener, application, logger)
}

// runServer serves on listener until ctx is cancelled. Shutdown ends event
// streams, drains in-flight requests, then flushes drawer sessions whose
// last write failed on a context of its own.
func runServer(ctx context.Context, listener net.Listener, application *app, logger *zap.Logger) error {
	server := &http.Server{
		Handler:           application.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// The event stream clears its own write deadline.
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if application.closeStreams != nil {
		server.RegisterOnShutdown(application.closeStreams)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("register service listening", zap.String("addr", listener.Addr().String()), zap.String("version", version))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFlush()
	if err := application.service.FlushDrawers(flushCtx); err != nil {
		logger.Error("drawer sessions not persisted at shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name the register front-end origin, not *")
	}
	return nil
}
