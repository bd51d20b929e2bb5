package marketing

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

const (
	defaultEventBufferSize = 1000
	defaultWorkers         = 4
	defaultMaxConcurrent   = 16
	errorChannelSize       = 256
)

// Executor runs one trigger for one user.
type Executor interface {
	Execute(ctx context.Context, trigger *entities.Trigger, userID uint, source string) (Outcome, error)
}

// TriggerSource lists the triggers events are matched against.
type TriggerSource interface {
	ListActive(ctx context.Context) ([]entities.Trigger, error)
}

// DispatcherConfig sizes the event queue and worker pool.
type DispatcherConfig struct {
	BufferSize    int
	Workers       int
	MaxConcurrent int64
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.BufferSize <= 0 {
		c.BufferSize = defaultEventBufferSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	return c
}

// Package-level singleton for the event dispatcher.
var (
	globalDispatcher *EventDispatcher
	dispatcherMu     sync.RWMutex
)

// SetGlobalDispatcher sets the package-level dispatcher singleton.
func SetGlobalDispatcher(d *EventDispatcher) {
	dispatcherMu.Lock()
	defer dispatcherMu.Unlock()
	globalDispatcher = d
}

// GetGlobalDispatcher returns the package-level dispatcher, or nil if not initialized.
func GetGlobalDispatcher() *EventDispatcher {
	dispatcherMu.RLock()
	defer dispatcherMu.RUnlock()
	return globalDispatcher
}

// DispatchEvent hands an event to the global dispatcher if initialized.
// Returns false if the dispatcher is not available or the event was dropped.
func DispatchEvent(userID uint, eventType EventType, data map[string]any) bool {
	d := GetGlobalDispatcher()
	if d == nil {
		return false
	}
	return d.Dispatch(userID, eventType, data)
}

// EventDispatcher matches business events against active triggers on a
// bounded worker pool. Dispatch never blocks the caller: when the queue is
// full the event is dropped. Execution errors flow to a supervisor
// goroutine over an error channel instead of being lost.
type EventDispatcher struct {
	source   TriggerSource
	registry *Registry
	exec     Executor
	log      logger.Logger
	metrics  *Metrics
	cfg      DispatcherConfig

	eventCh chan EventContext
	errCh   chan error
	stopCh  chan struct{}
	sem     *semaphore.Weighted

	// stateMu orders enqueues against the stop transition: once Stop holds
	// it, no event can enter the queue after the workers start draining.
	stateMu sync.RWMutex
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc

	workers    sync.WaitGroup
	executions sync.WaitGroup
	supervisor sync.WaitGroup
	startOnce  sync.Once
	stopOnce   sync.Once
	errOnce    sync.Once
}

// NewEventDispatcher creates a dispatcher. Call Start to launch its workers.
func NewEventDispatcher(source TriggerSource, registry *Registry, exec Executor, cfg DispatcherConfig, log logger.Logger, metrics *Metrics) *EventDispatcher {
	cfg = cfg.withDefaults()
	if registry == nil {
		registry = NewRegistry()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EventDispatcher{
		source:   source,
		registry: registry,
		exec:     exec,
		log:      log.Module("dispatcher"),
		metrics:  metrics,
		cfg:      cfg,
		eventCh:  make(chan EventContext, cfg.BufferSize),
		errCh:    make(chan error, errorChannelSize),
		stopCh:   make(chan struct{}),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers and the error supervisor. Safe to call multiple times.
func (d *EventDispatcher) Start() {
	d.startOnce.Do(func() {
		d.supervisor.Go(d.supervise)
		for range d.cfg.Workers {
			d.workers.Go(d.processLoop)
		}
		d.log.Info("event dispatcher started",
			logger.Int("workers", d.cfg.Workers),
			logger.Int("buffer_size", d.cfg.BufferSize),
			logger.Int64("max_concurrent", d.cfg.MaxConcurrent))
	})
}

// Dispatch enqueues an event and returns immediately. It returns false if
// the event was dropped because the queue is full, the dispatcher is
// stopped or the event type is unknown.
func (d *EventDispatcher) Dispatch(userID uint, eventType EventType, data map[string]any) bool {
	if !eventType.Valid() {
		d.log.Warn("ignoring unknown event type", logger.String("event_type", string(eventType)))
		return false
	}
	if data == nil {
		data = map[string]any{}
	}

	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	if d.stopped {
		d.metrics.eventDropped()
		return false
	}

	select {
	case d.eventCh <- EventContext{UserID: userID, EventType: eventType, EventData: data}:
		d.metrics.eventReceived(eventType)
		d.metrics.setQueueDepth(len(d.eventCh))
		return true
	default:
		d.metrics.eventDropped()
		d.log.Warn("event queue full, dropping event",
			logger.String("event_type", string(eventType)),
			logger.Uint64("user_id", uint64(userID)),
			logger.Int("capacity", d.cfg.BufferSize))
		return false
	}
}

// Stop stops accepting events, drains the queue and waits for in-flight
// executions. If ctx expires first, in-flight executions are cancelled and
// ctx.Err() is returned. Safe to call multiple times.
func (d *EventDispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.stateMu.Lock()
		d.stopped = true
		close(d.stopCh)
		d.stateMu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		d.executions.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.cancel()
		<-done
		d.closeErrors()
		return ctx.Err()
	}
	d.cancel()
	d.closeErrors()
	return nil
}

// closeErrors ends the supervisor once no worker can report anymore.
func (d *EventDispatcher) closeErrors() {
	d.errOnce.Do(func() {
		close(d.errCh)
		d.supervisor.Wait()
	})
}

// QueueDepth returns the number of events waiting to be matched.
func (d *EventDispatcher) QueueDepth() int {
	return len(d.eventCh)
}

func (d *EventDispatcher) processLoop() {
	for {
		select {
		case event := <-d.eventCh:
			d.handle(event)
		case <-d.stopCh:
			// Drain remaining events before exiting
			for {
				select {
				case event := <-d.eventCh:
					d.handle(event)
				default:
					return
				}
			}
		}
	}
}

// handle matches one event and fans matched triggers out to executions
// bounded by the semaphore.
func (d *EventDispatcher) handle(event EventContext) {
	d.metrics.setQueueDepth(len(d.eventCh))
	defer d.recoverPanic("match", event.UserID)

	triggers, err := d.source.ListActive(d.ctx)
	if err != nil {
		d.report(errors.Newf("%w: list active triggers: %w", ErrDatabaseUnavailable, err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("event_type", string(event.EventType)).
			Context("user_id", event.UserID).
			Build())
		return
	}

	for i := range triggers {
		trigger := triggers[i]
		if !d.registry.Match(&trigger, event) {
			continue
		}
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			return
		}
		d.executions.Go(func() {
			defer d.sem.Release(1)
			defer d.recoverPanic("execute", event.UserID)

			if _, err := d.exec.Execute(d.ctx, &trigger, event.UserID, entities.ExecutionSourceEvent); err != nil {
				d.report(err)
			}
		})
	}
}

// report hands err to the supervisor without blocking the worker.
func (d *EventDispatcher) report(err error) {
	select {
	case d.errCh <- err:
	default:
		d.log.Error("error channel full, logging inline", logger.Error(err))
	}
}

func (d *EventDispatcher) recoverPanic(stage string, userID uint) {
	if r := recover(); r != nil {
		d.report(errors.Newf("panic during %s: %v", stage, r).
			Component(componentName).
			Category(errors.CategoryGeneric).
			Context("user_id", userID).
			Build())
	}
}

// supervise logs every worker error by category and forwards unexpected
// ones to the error reporter.
func (d *EventDispatcher) supervise() {
	for err := range d.errCh {
		category := errors.CategoryOf(err)
		d.metrics.workerError(string(category))

		fields := []logger.Field{
			logger.String("category", string(category)),
			logger.Error(err),
		}
		switch {
		case errors.Is(err, ErrBudgetExceeded), errors.Is(err, ErrTriggerInactive):
			d.log.Info("trigger stopped", fields...)
		case errors.Is(err, ErrUnknownAction):
			d.log.Error("trigger misconfigured", fields...)
		default:
			d.log.Warn("trigger execution failed", fields...)
		}

		if reportable(err) {
			errors.Report(err)
		}
	}
}

