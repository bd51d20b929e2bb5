package marketing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/teashop/storefront/internal/clock"
	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

// ScanKind identifies a scheduler scan.
type ScanKind string

const (
	ScanChurn         ScanKind = "churn"
	ScanBirthday      ScanKind = "birthday"
	ScanScheduledTime ScanKind = "scheduled_time"
)

// ScanKinds lists every scan in execution order.
var ScanKinds = []ScanKind{ScanChurn, ScanBirthday, ScanScheduledTime}

// ParseScanKind validates a scan name. "scheduled" is accepted for scheduled_time.
func ParseScanKind(s string) (ScanKind, error) {
	if s == "scheduled" {
		return ScanScheduledTime, nil
	}
	k := ScanKind(s)
	if !slices.Contains(ScanKinds, k) {
		return "", fmt.Errorf("unknown scan %q", s)
	}
	return k, nil
}

const (
	DefaultChurnSchedule         = "0 10 * * *"
	DefaultBirthdaySchedule      = "0 9 * * *"
	DefaultScheduledTimeSchedule = "0 * * * *"
	defaultScanBatchSize         = 500
	defaultScanTimeout           = 30 * time.Minute
)

// ScheduledTriggerSource lists active triggers by type.
type ScheduledTriggerSource interface {
	ListActiveByType(ctx context.Context, triggerTypes ...string) ([]entities.Trigger, error)
}

// Audience selects scan candidates.
type Audience interface {
	InactiveUsers(ctx context.Context, cutoff time.Time, afterID uint, limit int) ([]entities.User, error)
	AnniversaryUsers(ctx context.Context, days []repository.MonthDay, utcOffset time.Duration, createdBefore time.Time, afterID uint, limit int) ([]entities.User, error)
	AllUsers(ctx context.Context, afterID uint, limit int) ([]entities.User, error)
}

// SchedulerConfig holds cron expressions and scan limits.
type SchedulerConfig struct {
	Location              *time.Location
	ChurnSchedule         string
	BirthdaySchedule      string
	ScheduledTimeSchedule string
	BatchSize             int
	ScanTimeout           time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.ChurnSchedule == "" {
		c.ChurnSchedule = DefaultChurnSchedule
	}
	if c.BirthdaySchedule == "" {
		c.BirthdaySchedule = DefaultBirthdaySchedule
	}
	if c.ScheduledTimeSchedule == "" {
		c.ScheduledTimeSchedule = DefaultScheduledTimeSchedule
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultScanBatchSize
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = defaultScanTimeout
	}
	return c
}

// ScanReport summarizes one scan run.
type ScanReport struct {
	RunID      string        `json:"run_id"`
	Scan       ScanKind      `json:"scan"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Triggers   int           `json:"triggers"`
	Candidates int           `json:"candidates"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
}

// Scheduler runs the time-driven scans on cron cadences. Each user is an
// independent unit of work: a failure for one user never stops the scan.
type Scheduler struct {
	triggers ScheduledTriggerSource
	audience Audience
	exec     Executor
	clock    clock.Clock
	cfg      SchedulerConfig
	log      logger.Logger
	metrics  *Metrics

	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	lastRun map[ScanKind]string
}

// NewScheduler creates a new Scheduler. Call Start to enable the cron cadences.
func NewScheduler(triggers ScheduledTriggerSource, audience Audience, exec Executor, clk clock.Clock, cfg SchedulerConfig, log logger.Logger, metrics *Metrics) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		triggers: triggers,
		audience: audience,
		exec:     exec,
		clock:    clk,
		cfg:      cfg,
		log:      log.Module("scheduler"),
		metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
		lastRun:  make(map[ScanKind]string),
	}
}

// Start registers the three scans with cron and starts it.
func (s *Scheduler) Start() error {
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for kind, spec := range map[ScanKind]string{
		ScanChurn:         s.cfg.ChurnSchedule,
		ScanBirthday:      s.cfg.BirthdaySchedule,
		ScanScheduledTime: s.cfg.ScheduledTimeSchedule,
	} {
		if _, err := c.AddFunc(spec, func() { s.runScheduled(kind) }); err != nil {
			return errors.Newf("invalid %s schedule %q: %w", kind, spec, err).
				Component(componentName).
				Category(errors.CategoryConfiguration).
				Build()
		}
	}
	s.cron = c
	c.Start()
	s.log.Info("scheduler started",
		logger.String("timezone", s.cfg.Location.String()),
		logger.String("churn", s.cfg.ChurnSchedule),
		logger.String("birthday", s.cfg.BirthdaySchedule),
		logger.String("scheduled_time", s.cfg.ScheduledTimeSchedule))
	return nil
}

// Stop stops the cron and waits for running scans until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		s.cancel()
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done.Done()
		return ctx.Err()
	}
}

// runScheduled runs a cron-fired scan at most once per period, so a
// restart inside the same day or hour does not repeat it.
func (s *Scheduler) runScheduled(kind ScanKind) {
	now := s.clock.Now().In(s.cfg.Location)
	period := now.Format(time.DateOnly)
	if kind == ScanScheduledTime {
		period = now.Format("2006-01-02T15")
	}

	s.mu.Lock()
	if s.lastRun[kind] == period {
		s.mu.Unlock()
		s.log.Debug("scan already ran this period", logger.String("scan", string(kind)))
		return
	}
	s.lastRun[kind] = period
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ScanTimeout)
	defer cancel()
	if _, err := s.RunScan(ctx, kind); err != nil {
		errors.Report(err)
	}
}

// RunScan runs one scan immediately.
func (s *Scheduler) RunScan(ctx context.Context, kind ScanKind) (ScanReport, error) {
	switch kind {
	case ScanChurn:
		return s.RunChurnScan(ctx)
	case ScanBirthday:
		return s.RunAnniversaryScan(ctx)
	case ScanScheduledTime:
		return s.RunScheduledTimeScan(ctx)
	default:
		return ScanReport{}, fmt.Errorf("unknown scan %q", kind)
	}
}

// RunChurnScan executes churn triggers for users whose last order is older
// than the trigger's inactiveDays. Users who never ordered are included.
func (s *Scheduler) RunChurnScan(ctx context.Context) (ScanReport, error) {
	return s.scan(ctx, ScanChurn, []string{string(TriggerUserChurn), string(TriggerUserInactive)},
		func(now time.Time, trigger *entities.Trigger) (pager, bool) {
			days := inactiveDays(trigger)
			cutoff := now.AddDate(0, 0, -days).UTC()
			return func(ctx context.Context, afterID uint, limit int) ([]entities.User, error) {
				return s.audience.InactiveUsers(ctx, cutoff, afterID, limit)
			}, true
		})
}

// RunAnniversaryScan executes birthday triggers for users whose
// registration anniversary is today. Users registered on Feb 29 are
// included on Feb 28 in non-leap years.
func (s *Scheduler) RunAnniversaryScan(ctx context.Context) (ScanReport, error) {
	return s.scan(ctx, ScanBirthday, []string{string(TriggerUserBirthday)},
		func(now time.Time, _ *entities.Trigger) (pager, bool) {
			days := anniversaryDays(now)
			offset := zoneOffset(now)
			startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC()
			return func(ctx context.Context, afterID uint, limit int) ([]entities.User, error) {
				return s.audience.AnniversaryUsers(ctx, days, offset, startOfDay, afterID, limit)
			}, true
		})
}

// RunScheduledTimeScan executes scheduled_time triggers whose hour, and
// weekdays when set, match the current local time. The audience is every
// non-blocked user.
func (s *Scheduler) RunScheduledTimeScan(ctx context.Context) (ScanReport, error) {
	return s.scan(ctx, ScanScheduledTime, []string{string(TriggerScheduledTime)},
		func(now time.Time, trigger *entities.Trigger) (pager, bool) {
			if !scheduledTimeDue(trigger, now) {
				return nil, false
			}
			return s.audience.AllUsers, true
		})
}

type pager func(ctx context.Context, afterID uint, limit int) ([]entities.User, error)

// audienceFor returns the candidate pager for a trigger, or false when the
// trigger is not due.
type audienceFor func(now time.Time, trigger *entities.Trigger) (pager, bool)

func (s *Scheduler) scan(ctx context.Context, kind ScanKind, types []string, selectAudience audienceFor) (ScanReport, error) {
	now := s.clock.Now().In(s.cfg.Location)
	report := ScanReport{
		RunID:     uuid.NewString(),
		Scan:      kind,
		StartedAt: now,
	}
	log := s.log.With(logger.String("scan", string(kind)), logger.String("run_id", report.RunID))

	triggers, err := s.triggers.ListActiveByType(ctx, types...)
	if err != nil {
		return report, errors.Newf("%w: list %s triggers: %w", ErrDatabaseUnavailable, kind, err).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Build()
	}

	var errs []error
	for i := range triggers {
		trigger := &triggers[i]
		page, due := selectAudience(now, trigger)
		if !due {
			continue
		}
		report.Triggers++
		if err := s.runTrigger(ctx, trigger, page, &report, log); err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
	}

	report.Duration = s.clock.Now().Sub(report.StartedAt)
	s.metrics.observeScan(kind, report.Candidates, report.Duration)
	log.Info("scan completed",
		logger.Int("triggers", report.Triggers),
		logger.Int("candidates", report.Candidates),
		logger.Int("succeeded", report.Succeeded),
		logger.Int("failed", report.Failed),
		logger.Int("skipped", report.Skipped),
		logger.Duration("duration", report.Duration))

	return report, errors.Join(errs...)
}

// runTrigger pages through one trigger's audience. It stops early when the
// trigger runs out of budget or is deactivated.
func (s *Scheduler) runTrigger(ctx context.Context, trigger *entities.Trigger, page pager, report *ScanReport, log logger.Logger) error {
	var afterID uint
	for {
		users, err := page(ctx, afterID, s.cfg.BatchSize)
		if err != nil {
			log.Error("failed to select scan candidates",
				logger.Uint64("trigger_id", uint64(trigger.ID)),
				logger.Error(err))
			return errors.Newf("%w: select candidates for trigger %d: %w", ErrDatabaseUnavailable, trigger.ID, err).
				Component(componentName).
				Category(errors.CategoryDatabase).
				Context("trigger_id", trigger.ID).
				Build()
		}

		for _, user := range users {
			if ctx.Err() != nil {
				return nil
			}
			report.Candidates++
			outcome, err := s.exec.Execute(ctx, trigger, user.ID, entities.ExecutionSourceScheduler)
			switch {
			case err == nil && outcome == OutcomeExecuted:
				report.Succeeded++
			case err == nil && outcome.Skipped():
				report.Skipped++
			case errors.Is(err, ErrBudgetExceeded), errors.Is(err, ErrTriggerInactive):
				if outcome.Skipped() {
					report.Skipped++
				} else {
					report.Failed++
				}
				log.Info("trigger stopped during scan",
					logger.Uint64("trigger_id", uint64(trigger.ID)),
					logger.Error(err))
				return nil
			default:
				report.Failed++
				log.Warn("scan execution failed",
					logger.Uint64("trigger_id", uint64(trigger.ID)),
					logger.Uint64("user_id", uint64(user.ID)),
					logger.Error(err))
				if reportable(err) {
					errors.Report(err)
				}
			}
		}

		if len(users) < s.cfg.BatchSize {
			return nil
		}
		afterID = users[len(users)-1].ID
	}
}

func inactiveDays(trigger *entities.Trigger) int {
	days, ok := toInt64(trigger.Conditions[CondInactiveDays])
	if !ok || days <= 0 {
		return defaultInactiveDays
	}
	return int(days)
}

func anniversaryDays(now time.Time) []repository.MonthDay {
	days := []repository.MonthDay{{Month: now.Month(), Day: now.Day()}}
	if now.Month() == time.February && now.Day() == 28 && !isLeap(now.Year()) {
		days = append(days, repository.MonthDay{Month: time.February, Day: 29})
	}
	return days
}

// zoneOffset is how far now's zone is east of UTC.
func zoneOffset(now time.Time) time.Duration {
	_, secs := now.Zone()
	return time.Duration(secs) * time.Second
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// scheduledTimeDue reports whether a scheduled_time trigger fires at now.
// Triggers without a valid hour never fire.
func scheduledTimeDue(trigger *entities.Trigger, now time.Time) bool {
	hour, ok := toInt64(trigger.Conditions[CondHour])
	if !ok || hour < 0 || hour > 23 || int(hour) != now.Hour() {
		return false
	}
	raw, ok := trigger.Conditions[CondWeekdays]
	if !ok || raw == nil {
		return true
	}
	weekdays, err := toIntSlice(raw)
	if err != nil {
		return false
	}
	return len(weekdays) == 0 || slices.Contains(weekdays, int(now.Weekday()))
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logger.Error(err))...)
}

func kvFields(kv []any) []logger.Field {
	fields := make([]logger.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields = append(fields, logger.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fields
}
