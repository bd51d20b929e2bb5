package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	api "github.com/teashop/storefront/internal/api/v2"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

const (
	shutdownTimeout = 30 * time.Second
	sentryFlush     = 2 * time.Second
)

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event dispatcher, the scheduler and the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := load(cmd)
			if err != nil {
				return err
			}
			return rt.serve(cmd.Context())
		},
	}
}

func (rt *runtime) serve(parent context.Context) error {
	s := rt.settings
	log := rt.log.Module("serve")

	if s.Sentry.Enabled {
		reporter, err := errors.NewSentryReporter(s.Sentry.DSN, s.Sentry.Environment, version)
		if err != nil {
			return err
		}
		errors.SetReporter(reporter)
		defer reporter.Flush(sentryFlush)
	}

	mgr, err := rt.openDatabase()
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := rt.buildEngine(ctx, mgr, registry)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	// A stopped dispatcher would accept events it never processes.
	var events api.EventSink
	if s.Marketing.Enabled {
		if err := eng.Start(); err != nil {
			return err
		}
		events = eng.Dispatcher
	} else {
		log.Warn("marketing engine disabled, serving the admin API only")
	}

	server := api.NewServer(s.HTTP.Listen, api.ServerDeps{
		ControllerDeps: api.ControllerDeps{
			Triggers: eng.triggers,
			Executor: eng.Coordinator,
			Events:   events,
			Orders:   eng.audience,
			Scanner:  eng.Scheduler,
			APIToken: s.HTTP.APIToken,
			Log:      rt.log,
		},
		DB:       mgr,
		Gatherer: registry,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown requested")
	case err = <-serveErr:
		if err != nil {
			log.Error("http server stopped", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), shutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if s.Marketing.Enabled {
		shutdownErr = errors.Join(shutdownErr, eng.Stop(shutdownCtx))
	}
	if shutdownErr != nil {
		log.Warn("shutdown incomplete", logger.Error(shutdownErr))
	}
	log.Info("stopped")
	return err
}
