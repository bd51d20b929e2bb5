package marketing

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teashop/storefront/internal/clock"
	"github.com/teashop/storefront/internal/conf"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

// Deps are the collaborators the engine is built from.
type Deps struct {
	Triggers   repository.TriggerRepository
	Audience   repository.AudienceRepository
	Services   ActionServices
	Settings   conf.MarketingSettings
	Formatter  *Formatter
	Clock      clock.Clock
	Registerer prometheus.Registerer
	Log        logger.Logger
}

// Engine bundles the wired marketing components.
type Engine struct {
	Registry    *Registry
	Cooldown    *CooldownCache
	Actions     *ActionDispatcher
	Coordinator *Coordinator
	Dispatcher  *EventDispatcher
	Scheduler   *Scheduler
	Metrics     *Metrics

	log logger.Logger
}

// Initialize builds the engine. It seeds default triggers when enabled and
// installs the dispatcher as the global singleton. Call Start to run it.
func Initialize(ctx context.Context, deps Deps) (*Engine, error) {
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	log := deps.Log.Module(componentName)
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Services.Users == nil && deps.Audience != nil {
		deps.Services.Users = deps.Audience
	}
	s := deps.Settings

	if s.SeedDefaults {
		if _, err := SeedDefaults(ctx, deps.Triggers, log); err != nil {
			return nil, errors.Newf("failed to seed default triggers: %w", err).
				Component(componentName).
				Category(errors.CategoryDatabase).
				Build()
		}
	}

	metrics, err := NewMetrics(deps.Registerer)
	if err != nil {
		return nil, errors.Newf("failed to register marketing metrics: %w", err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}

	registry := NewRegistry()
	cooldown := NewCooldownCache(s.CooldownTTL.Std(), s.CooldownPruneThreshold, deps.Clock)
	actions := NewActionDispatcher(deps.Services, ActionConfig{
		Timeout:   s.ActionTimeout.Std(),
		RateLimit: s.ActionRateLimit,
		Burst:     s.ActionBurst,
	}, deps.Formatter, log, metrics)
	coordinator := NewCoordinator(deps.Triggers, actions, cooldown, deps.Clock, log, metrics)
	dispatcher := NewEventDispatcher(deps.Triggers, registry, coordinator, DispatcherConfig{
		BufferSize:    s.EventBufferSize,
		Workers:       s.Workers,
		MaxConcurrent: int64(s.MaxConcurrentExecutions),
	}, log, metrics)
	scheduler := NewScheduler(deps.Triggers, deps.Audience, coordinator, deps.Clock, SchedulerConfig{
		Location:              s.Location(),
		ChurnSchedule:         s.ChurnSchedule,
		BirthdaySchedule:      s.BirthdaySchedule,
		ScheduledTimeSchedule: s.ScheduledTimeSchedule,
		BatchSize:             s.ScanBatchSize,
		ScanTimeout:           s.ScanTimeout.Std(),
	}, log, metrics)

	SetGlobalDispatcher(dispatcher)

	return &Engine{
		Registry:    registry,
		Cooldown:    cooldown,
		Actions:     actions,
		Coordinator: coordinator,
		Dispatcher:  dispatcher,
		Scheduler:   scheduler,
		Metrics:     metrics,
		log:         log,
	}, nil
}

// Start launches the dispatcher workers and the scheduler cadences.
func (e *Engine) Start() error {
	e.Dispatcher.Start()
	if err := e.Scheduler.Start(); err != nil {
		return err
	}
	e.log.Info("marketing engine started")
	return nil
}

// Stop stops the scheduler, then drains the dispatcher.
func (e *Engine) Stop(ctx context.Context) error {
	if GetGlobalDispatcher() == e.Dispatcher {
		SetGlobalDispatcher(nil)
	}
	err := errors.Join(e.Scheduler.Stop(ctx), e.Dispatcher.Stop(ctx))
	e.log.Info("marketing engine stopped")
	return err
}

// SeedDefaults ensures all built-in default triggers exist. It checks by
// name so partial seeds from previous runs self-heal on restart.
func SeedDefaults(ctx context.Context, repo repository.TriggerRepository, log logger.Logger) (int, error) {
	existing, err := repo.ListTriggers(ctx, repository.TriggerFilter{})
	if err != nil {
		return 0, err
	}

	existingNames := make(map[string]struct{}, len(existing))
	for i := range existing {
		existingNames[existing[i].Name] = struct{}{}
	}

	defaults := DefaultTriggers()
	var created int
	for i := range defaults {
		if _, exists := existingNames[defaults[i].Name]; exists {
			continue
		}
		if err := repo.CreateTrigger(ctx, &defaults[i]); err != nil {
			return created, err
		}
		created++
	}
	if created > 0 {
		log.Info("seeded default triggers", logger.Int("created", created))
	}
	return created, nil
}
