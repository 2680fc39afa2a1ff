package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/brightport/boardbridge/config"
	"github.com/brightport/boardbridge/httpd"
	"github.com/brightport/boardbridge/ingress"
	"github.com/brightport/boardbridge/session"
	"github.com/brightport/boardbridge/wire"
)

// NewServeCmd creates the "serve" subcommand: SSE streaming transport,
// message endpoint, and webhook ingress on one HTTP listener.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (SSE transport + webhook ingress)",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("config", "", "Path to boardbridge.yaml")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Bool("otel", false, "Enable OpenTelemetry export (OTLP over HTTP)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	configPath, _ := cmd.Flags().GetString("config")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	telemetry, _ := cmd.Flags().GetBool("otel")
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")

	logger := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return exitError(exitConfig, "loading configuration: %v", err)
	}

	if telemetry {
		shutdown, err := setupTelemetry(cmd.Context())
		if err != nil {
			return exitError(exitRuntime, "initializing telemetry: %v", err)
		}
		defer shutdown()
	}

	dispatcher, client, scheduler, err := buildCore(cfg, logger, telemetry)
	if err != nil {
		return err
	}
	defer scheduler.Close()

	sessions := session.NewManager(session.Config{
		Handler: func(ctx context.Context, sessionID string, req wire.Request) (wire.Response, bool) {
			return dispatcher.HandleRequest(ctx, req)
		},
		BearerToken: cfg.BearerToken,
		Logger:      logger.With("component", "session"),
	})
	defer sessions.CloseAll()

	store := ingress.NewStore(0)
	webhook := ingress.NewHandler(ingress.Config{
		Store:    store,
		Secret:   cfg.WebhookSecret,
		Hook:     ingress.LogHook(logger.With("component", "ingress").Info),
		Detector: client.DetectModelType,
		Logger:   logger.With("component", "ingress"),
	})

	server := httpd.New(httpd.Config{
		Sessions: sessions,
		Webhook:  webhook,
		MaxBody:  maxBody,
		Logger:   logger.With("component", "httpd"),
	})

	// Periodic maintenance: event retention sweep and a stats line.
	maintenance := cron.New()
	if cfg.EventRetention > 0 {
		_, err := maintenance.AddFunc("@every 10m", func() {
			removed := store.Sweep(time.Now().Add(-cfg.EventRetention))
			if removed > 0 {
				logger.Info("webhook event retention sweep", "removed", removed)
			}
		})
		if err != nil {
			return exitError(exitConfig, "scheduling retention sweep: %v", err)
		}
	}
	if _, err := maintenance.AddFunc("@every 1m", func() {
		stats := scheduler.Stats()
		logger.Debug("scheduler stats",
			"queue_depth", stats.QueueDepth, "in_flight", stats.InFlight, "tokens", stats.Tokens)
	}); err != nil {
		return exitError(exitConfig, "scheduling stats reporter: %v", err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     server.Router(),
		ReadTimeout: readTimeout,
		// No write timeout: SSE streams stay open indefinitely.
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("boardbridge listening", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		sessions.CloseAll()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

// setupTelemetry installs the OTLP trace exporter and global providers.
func setupTelemetry(ctx context.Context) (func(), error) {
	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}

	res := sdkresource.NewSchemaless(
		attribute.String("service.name", "boardbridge"),
	)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
	)
	otelapi.SetTracerProvider(tracerProvider)
	otelapi.SetMeterProvider(meterProvider)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
		_ = meterProvider.Shutdown(shutdownCtx)
	}, nil
}
