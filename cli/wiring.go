package cli

import (
	"log/slog"
	"os"

	otelapi "go.opentelemetry.io/otel"

	"github.com/brightport/boardbridge/boardapi"
	"github.com/brightport/boardbridge/boardtools"
	"github.com/brightport/boardbridge/config"
	"github.com/brightport/boardbridge/dispatch"
	"github.com/brightport/boardbridge/otelobs"
	"github.com/brightport/boardbridge/sched"
)

// newLogger builds the process logger. Logs always go to stderr so the
// stdio transport keeps stdout as a clean protocol channel.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildCore wires the scheduler, API client, dispatcher, and tool
// registrations shared by the serve and stdio commands.
func buildCore(cfg config.Config, logger *slog.Logger, telemetry bool) (*dispatch.Dispatcher, *boardapi.Client, *sched.Scheduler, error) {
	var (
		schedEvents sched.EventHandler
		observer    dispatch.Observer
	)
	if telemetry {
		meter := otelapi.GetMeterProvider().Meter("boardbridge")
		tracer := otelapi.GetTracerProvider().Tracer("boardbridge")

		metrics, err := otelobs.NewSchedulerMetrics(meter)
		if err != nil {
			return nil, nil, nil, exitError(exitRuntime, "initializing scheduler metrics: %v", err)
		}
		schedEvents = metrics.Handle

		dispatchObs, err := otelobs.NewDispatchObserver(meter, tracer)
		if err != nil {
			return nil, nil, nil, exitError(exitRuntime, "initializing dispatch observer: %v", err)
		}
		observer = dispatchObs
	}

	scheduler := sched.New(sched.Config{
		Concurrency:    cfg.RateConcurrent,
		Tokens:         cfg.RateTokens,
		RefillInterval: cfg.RateInterval,
		MinSpacing:     cfg.RateSpacing,
		Logger:         logger.With("component", "sched"),
		Events:         schedEvents,
	})

	client := boardapi.New(boardapi.Config{
		BaseURL:   cfg.APIBaseURL,
		Key:       cfg.APIKey,
		Token:     cfg.APIToken,
		Scheduler: scheduler,
		Logger:    logger.With("component", "boardapi"),
	})

	dispatcher := dispatch.New(dispatch.Config{
		Logger:   logger.With("component", "dispatch"),
		Observer: observer,
	})
	if err := boardtools.Register(dispatcher, client); err != nil {
		scheduler.Close()
		return nil, nil, nil, exitError(exitConfig, "registering tools: %v", err)
	}

	if cfg.APIKey == "" || cfg.APIToken == "" {
		logger.Warn("remote API credentials are not configured, remote calls will be rejected upstream")
	}

	return dispatcher, client, scheduler, nil
}
