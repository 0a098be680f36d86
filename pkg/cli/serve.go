// SPDX-FileCopyrightText: 2026 Kalypss
//
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/Kalypss/PortFolio/pkg/abuse"
	"github.com/Kalypss/PortFolio/pkg/alert"
	"github.com/Kalypss/PortFolio/pkg/api"
	"github.com/Kalypss/PortFolio/pkg/audit"
	"github.com/Kalypss/PortFolio/pkg/authz"
	"github.com/Kalypss/PortFolio/pkg/config"
	"github.com/Kalypss/PortFolio/pkg/gateway"
	"github.com/Kalypss/PortFolio/pkg/housekeeping"
	"github.com/Kalypss/PortFolio/pkg/mail"
	"github.com/Kalypss/PortFolio/pkg/persist"
	"github.com/Kalypss/PortFolio/pkg/telemetry"
	"github.com/Kalypss/PortFolio/pkg/token"
	"github.com/Kalypss/PortFolio/pkg/version"
)

func newServeCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rt.loadConfig()
			if err != nil {
				return err
			}
			logger, err := rt.logger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			logger.Sugar().Infow("Starting portfolio gateway", "version", version.Version, "environment", cfg.Environment)

			app, err := Build(cmd.Context(), cfg, logger, clock.RealClock{})
			if err != nil {
				return err
			}
			runErr := app.Run(cmd.Context())
			return errors.Join(runErr, app.Close())
		},
	}
}

// persistence is the store behind both the revocation set and the blocked
// set.
type persistence interface {
	token.RevocationStore
	abuse.BlockStore
	io.Closer
}

type closer struct {
	name string
	fn   func() error
}

// App is the assembled gateway process.
type App struct {
	Server   *api.Server
	Janitor  *housekeeping.Janitor
	Tokens   *token.Authority
	Blocker  *abuse.Blocker
	Recorder *audit.Recorder

	log     *zap.SugaredLogger
	closers []closer
}

// Build wires every component from cfg. On error, whatever was already
// started is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, clk clock.WithTicker) (_ *App, err error) {
	log := logger.Sugar()
	app := &App{log: log}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	tp, shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceVersion: version.Version,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}
	app.addCloser("tracing", func() error { return shutdownTracing(context.Background()) })

	recorder, err := app.buildRecorder(cfg.Audit, logger, clk)
	if err != nil {
		return nil, err
	}
	app.Recorder = recorder

	store, err := openPersistence(ctx, cfg.Redis, clk, log)
	if err != nil {
		return nil, err
	}
	app.addCloser("persistence", store.Close)

	app.Tokens, err = token.New(cfg.Token, recorder, clk,
		token.WithRevocationStore(store),
		token.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	if n, err := app.Tokens.Restore(ctx); err != nil {
		log.Warnw("Failed to restore token revocations", "error", err)
	} else if n > 0 {
		log.Infow("Restored token revocations", "count", n)
	}

	app.Blocker = abuse.NewBlocker(cfg.Blocking, recorder, clk,
		abuse.WithBlockStore(store),
		abuse.WithBlockerLogger(log),
	)
	if n, err := app.Blocker.Restore(ctx); err != nil {
		log.Warnw("Failed to restore blocked clients", "error", err)
	} else if n > 0 {
		log.Infow("Restored blocked clients", "count", n)
	}

	dispatcher, err := app.buildDispatcher(cfg.Alerts, log)
	if err != nil {
		return nil, err
	}
	rules, err := cfg.AlertRules()
	if err != nil {
		return nil, err
	}
	aggregator := alert.NewAggregator(rules, dispatcher, recorder, clk, log)

	limiter := abuse.NewRateLimiter(cfg.RateLimits, clk)
	slowDown := abuse.NewSlowDown(cfg.SlowDown, clk)
	gate := authz.NewGate(recorder)

	gw, err := gateway.New(cfg.Gateway, gateway.Components{
		Tokens:   app.Tokens,
		Gate:     gate,
		Limiter:  limiter,
		SlowDown: slowDown,
		Blocker:  app.Blocker,
		Alerts:   aggregator,
		Recorder: recorder,
	}, log, gateway.WithTracer(tp.Tracer(version.Name)))
	if err != nil {
		return nil, err
	}

	app.Server, err = api.NewServer(logger, cfg, api.Dependencies{
		Gateway:  gw,
		Tokens:   app.Tokens,
		Gate:     gate,
		Blocker:  app.Blocker,
		Recorder: recorder,
	})
	if err != nil {
		return nil, err
	}

	app.Janitor = housekeeping.New(clk, cfg.Housekeeping.Interval, log,
		housekeeping.Task{Name: "token-revocations", Fn: app.Tokens.Sweep},
		housekeeping.Task{Name: "rate-limits", Fn: limiter.Sweep},
		housekeeping.Task{Name: "slow-down", Fn: slowDown.Sweep},
		housekeeping.Task{Name: "suspicion", Fn: app.Blocker.SweepIdle},
		housekeeping.Task{Name: "alerts", Fn: aggregator.Prune},
	)
	return app, nil
}

// buildRecorder writes denials synchronously to the log and the optional
// audit file, and streams every event to Kafka through a queue.
func (a *App) buildRecorder(cfg config.Audit, logger *zap.Logger, clk clock.PassiveClock) (*audit.Recorder, error) {
	var primary audit.Sink = audit.NewLogSink(logger)
	if cfg.File.Path != "" {
		fileSink, err := audit.NewFileSink(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("audit file sink: %w", err)
		}
		primary = audit.NewMultiSink([]audit.Sink{primary, fileSink}, logger)
	}

	opts := []audit.RecorderOption{audit.WithClock(clk)}
	if cfg.Kafka.Enabled() {
		kafkaSink, err := audit.NewKafkaSink(cfg.Kafka, logger)
		if err != nil {
			_ = primary.Close()
			return nil, fmt.Errorf("audit kafka sink: %w", err)
		}
		opts = append(opts, audit.WithSecondary(audit.NewQueuedSink(kafkaSink, cfg.Queue, logger)))
	}

	recorder := audit.NewRecorder(primary, logger, opts...)
	a.addCloser("audit", recorder.Close)
	return recorder, nil
}

func (a *App) buildDispatcher(cfg config.Alerts, log *zap.SugaredLogger) (*alert.Dispatcher, error) {
	notifiers := []alert.Notifier{alert.NewLogNotifier(log)}
	if cfg.Webhook.URL != "" {
		n, err := alert.NewWebhookNotifier(cfg.Webhook)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}
	if cfg.Mail.Enabled() {
		notifiers = append(notifiers, alert.NewMailNotifier(mail.NewSender(cfg.Mail, log), cfg.Mail.Receivers))
	}
	if cfg.Kafka.Enabled() {
		n, err := alert.NewKafkaNotifier(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.addCloser("alert-kafka", n.Close)
		notifiers = append(notifiers, n)
	}

	dispatcher := alert.NewDispatcher(cfg.Dispatcher, log, notifiers...)
	// Registered after the Kafka notifier so the queue drains before the
	// writer closes.
	a.addCloser("alert-dispatcher", dispatcher.Close)

	names := make([]string, 0, len(notifiers))
	for _, n := range notifiers {
		names = append(names, n.Name())
	}
	log.Infow("Alert notifiers configured", "notifiers", names)
	return dispatcher, nil
}

// openPersistence returns the in-memory store, or Redis behind an async
// writer so that blocking and revocation never wait on the network.
func openPersistence(ctx context.Context, cfg persist.RedisConfig, clk clock.PassiveClock, log *zap.SugaredLogger) (persistence, error) {
	if !cfg.Enabled() {
		return persist.NewMemory(), nil
	}
	r, err := persist.NewRedis(ctx, cfg, clk)
	if err != nil {
		return nil, err
	}
	return persist.NewAsync(r, cfg.Queue, log), nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run serves requests and runs housekeeping until ctx is cancelled or the
// server fails.
func (a *App) Run(ctx context.Context) error {
	a.Recorder.Emit(ctx, audit.EventSystemStartup, map[string]interface{}{"version": version.Version})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Server.Listen(gctx) })
	g.Go(func() error { return a.Janitor.Run(gctx) })
	err := g.Wait()

	a.Recorder.Emit(context.WithoutCancel(ctx), audit.EventSystemShutdown, nil)
	return err
}

// Close releases everything Build acquired in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.log.Warnw("Failed to close component", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("closing %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
