package marketing

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/datastore/v2/repository"
	"github.com/teashop/storefront/internal/logger"
)

// mockTriggerRepo is an in-memory TriggerRepository. ReserveSpend mirrors
// the conditional update of the gorm implementation.
type mockTriggerRepo struct {
	mu         sync.Mutex
	triggers   map[uint]*entities.Trigger
	executions []entities.TriggerExecution

	listErr   error
	getErr    error
	appendErr error
}

func newMockTriggerRepo(triggers ...entities.Trigger) *mockTriggerRepo {
	m := &mockTriggerRepo{triggers: make(map[uint]*entities.Trigger)}
	for i := range triggers {
		t := triggers[i]
		m.triggers[t.ID] = &t
	}
	return m
}

func (m *mockTriggerRepo) trigger(id uint) entities.Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.triggers[id]
}

func (m *mockTriggerRepo) ledger() []entities.TriggerExecution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.executions)
}

func (m *mockTriggerRepo) ledgerByStatus(status string) []entities.TriggerExecution {
	var out []entities.TriggerExecution
	for _, e := range m.ledger() {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (m *mockTriggerRepo) sorted(match func(*entities.Trigger) bool) []entities.Trigger {
	var out []entities.Trigger
	for _, t := range m.triggers {
		if match(t) {
			out = append(out, *t)
		}
	}
	slices.SortFunc(out, func(a, b entities.Trigger) int { return int(a.ID) - int(b.ID) })
	return out
}

func (m *mockTriggerRepo) ListTriggers(_ context.Context, _ repository.TriggerFilter) ([]entities.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sorted(func(*entities.Trigger) bool { return true }), nil
}

func (m *mockTriggerRepo) GetTrigger(_ context.Context, id uint) (*entities.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	t, ok := m.triggers[id]
	if !ok {
		return nil, repository.ErrTriggerNotFound
	}
	c := *t
	return &c, nil
}

func (m *mockTriggerRepo) CreateTrigger(_ context.Context, t *entities.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = uint(len(m.triggers) + 1)
	c := *t
	m.triggers[t.ID] = &c
	return nil
}

func (m *mockTriggerRepo) UpdateTrigger(_ context.Context, t *entities.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *t
	m.triggers[t.ID] = &c
	return nil
}

func (m *mockTriggerRepo) DeleteTrigger(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.triggers, id)
	return nil
}

func (m *mockTriggerRepo) SetActive(_ context.Context, id uint, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.triggers[id]; ok {
		t.IsActive = active
	}
	return nil
}

func (m *mockTriggerRepo) CountTriggersByName(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.triggers {
		if t.Name == name {
			n++
		}
	}
	return n, nil
}

func (m *mockTriggerRepo) ListActive(_ context.Context) ([]entities.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sorted(func(t *entities.Trigger) bool { return t.IsActive }), nil
}

func (m *mockTriggerRepo) ListActiveByType(_ context.Context, types ...string) ([]entities.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.sorted(func(t *entities.Trigger) bool {
		return t.IsActive && slices.Contains(types, t.TriggerType)
	}), nil
}

func (m *mockTriggerRepo) Deactivate(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.triggers[id]; ok {
		t.IsActive = false
	}
	return nil
}

func (m *mockTriggerRepo) IncrementSpent(_ context.Context, id uint, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	if !ok {
		return repository.ErrTriggerNotFound
	}
	t.Spent = t.Spent.Add(amount)
	return nil
}

func (m *mockTriggerRepo) ReserveSpend(_ context.Context, id uint, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	switch {
	case !ok:
		return repository.ErrTriggerNotFound
	case !t.IsActive:
		return repository.ErrTriggerInactive
	case t.Budget.Valid && t.Spent.Add(amount).GreaterThan(t.Budget.Decimal):
		return repository.ErrBudgetExhausted
	}
	t.Spent = t.Spent.Add(amount)
	return nil
}

func (m *mockTriggerRepo) AppendExecution(_ context.Context, e *entities.TriggerExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	e.ID = uint(len(m.executions) + 1)
	m.executions = append(m.executions, *e)
	return nil
}

func (m *mockTriggerRepo) ListExecutions(_ context.Context, _ repository.ExecutionFilter) ([]entities.TriggerExecution, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.executions), int64(len(m.executions)), nil
}

func (m *mockTriggerRepo) CountSuccessful(_ context.Context, triggerID, userID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, e := range m.executions {
		if e.TriggerID == triggerID && e.UserID == userID && e.Succeeded() {
			n++
		}
	}
	return n, nil
}

// mockAudience serves fixed user lists and records the arguments it was called with.
type mockAudience struct {
	mu       sync.Mutex
	inactive []entities.User
	birthday []entities.User
	all      []entities.User
	err      error

	cutoffs []time.Time
	days    [][]repository.MonthDay
	before  []time.Time
	offsets []time.Duration
}

func page(users []entities.User, afterID uint, limit int) []entities.User {
	var out []entities.User
	for _, u := range users {
		if u.ID > afterID {
			out = append(out, u)
		}
		if len(out) == limit {
			break
		}
	}
	return out
}

func (m *mockAudience) GetUser(_ context.Context, id uint) (*entities.User, error) {
	return &entities.User{ID: id, FirstName: "Mei"}, nil
}

func (m *mockAudience) InactiveUsers(_ context.Context, cutoff time.Time, afterID uint, limit int) ([]entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cutoffs = append(m.cutoffs, cutoff)
	if m.err != nil {
		return nil, m.err
	}
	return page(m.inactive, afterID, limit), nil
}

func (m *mockAudience) AnniversaryUsers(_ context.Context, days []repository.MonthDay, utcOffset time.Duration, createdBefore time.Time, afterID uint, limit int) ([]entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days = append(m.days, days)
	m.offsets = append(m.offsets, utcOffset)
	m.before = append(m.before, createdBefore)
	if m.err != nil {
		return nil, m.err
	}
	return page(m.birthday, afterID, limit), nil
}

func (m *mockAudience) AllUsers(_ context.Context, afterID uint, limit int) ([]entities.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return page(m.all, afterID, limit), nil
}

func (m *mockAudience) CountCompletedOrders(_ context.Context, _ uint) (int64, error) {
	return 0, nil
}

type couponClaim struct {
	UserID        uint
	TemplateID    uint
	CorrelationID string
}

// mockCoupons issues coupons with a fixed face value.
type mockCoupons struct {
	mu       sync.Mutex
	value    decimal.Decimal
	claimErr error
	claims   []couponClaim
	// failFor fails claims for these users only.
	failFor map[uint]bool
}

func (m *mockCoupons) Quote(_ context.Context, _ uint) (decimal.Decimal, error) {
	return m.value, nil
}

func (m *mockCoupons) Claim(_ context.Context, userID, templateID uint, correlationID string) (CouponGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return CouponGrant{}, m.claimErr
	}
	if m.failFor[userID] {
		return CouponGrant{}, errCouponServiceDown
	}
	m.claims = append(m.claims, couponClaim{UserID: userID, TemplateID: templateID, CorrelationID: correlationID})
	return CouponGrant{CouponID: "CPN-" + correlationID, FaceValue: m.value}, nil
}

func (m *mockCoupons) claimed() []couponClaim {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.claims)
}

type sentMessage struct {
	UserID uint
	Msg    Message
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *mockNotifier) Send(_ context.Context, userID uint, msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, sentMessage{UserID: userID, Msg: msg})
	return "ack", nil
}

func (m *mockNotifier) messages() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}

type mockPoints struct {
	mu     sync.Mutex
	grants map[uint]int64
}

func (m *mockPoints) Grant(_ context.Context, userID uint, points int64, _ string) (PointsGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.grants == nil {
		m.grants = make(map[uint]int64)
	}
	m.grants[userID] += points
	return PointsGrant{Balance: m.grants[userID]}, nil
}

var errCouponServiceDown = stubError("coupon service unavailable")

type stubError string

func (e stubError) Error() string { return string(e) }

func testLogger() logger.Logger {
	return logger.NewNop()
}
