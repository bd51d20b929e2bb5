package marketing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/teashop/storefront/internal/datastore/v2/entities"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

const defaultActionTimeout = 10 * time.Second

// CouponGrant is an issued coupon.
type CouponGrant struct {
	CouponID  string
	FaceValue decimal.Decimal
}

// CouponIssuer issues coupons from templates. Claim must reject grants that
// violate the template's own limits.
type CouponIssuer interface {
	Quote(ctx context.Context, templateID uint) (decimal.Decimal, error)
	Claim(ctx context.Context, userID, templateID uint, correlationID string) (CouponGrant, error)
}

// Message is a customer notification.
type Message struct {
	Title         string
	Body          string
	HTML          bool
	CorrelationID string
}

// Notifier delivers a message to a user and returns a delivery acknowledgement.
type Notifier interface {
	Send(ctx context.Context, userID uint, msg Message) (string, error)
}

// PointsGrant is the result of crediting loyalty points.
type PointsGrant struct {
	Balance int64
}

// PointsGranter credits loyalty points.
type PointsGranter interface {
	Grant(ctx context.Context, userID uint, points int64, correlationID string) (PointsGrant, error)
}

// UserLookup resolves users for template variables.
type UserLookup interface {
	GetUser(ctx context.Context, id uint) (*entities.User, error)
}

// ActionServices are the collaborators actions are delegated to.
// Any of them may be nil; the matching action then fails with ErrServiceUnavailable.
type ActionServices struct {
	Coupons  CouponIssuer
	Notifier Notifier
	Points   PointsGranter
	Users    UserLookup
}

// ActionConfig bounds calls at the service boundary.
type ActionConfig struct {
	Timeout   time.Duration
	RateLimit float64 // calls per second, 0 disables limiting
	Burst     int
}

// ActionRequest is one execution's input to an action.
type ActionRequest struct {
	Trigger       *entities.Trigger
	UserID        uint
	CorrelationID string
}

// ActionResult is stored in the ledger. Spent is the monetary cost
// attributed to the trigger budget.
type ActionResult struct {
	Payload map[string]any
	Spent   decimal.Decimal
}

// ActionDispatcher routes trigger actions to their services. Every call runs
// under a timeout and a shared rate limit.
type ActionDispatcher struct {
	svc       ActionServices
	timeout   time.Duration
	limiter   *rate.Limiter
	formatter *Formatter
	log       logger.Logger
	metrics   *Metrics
}

// NewActionDispatcher creates a new ActionDispatcher.
func NewActionDispatcher(svc ActionServices, cfg ActionConfig, formatter *Formatter, log logger.Logger, metrics *Metrics) *ActionDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultActionTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if formatter == nil {
		formatter = DefaultFormatter()
	}
	return &ActionDispatcher{
		svc:       svc,
		timeout:   cfg.Timeout,
		limiter:   limiter,
		formatter: formatter,
		log:       log,
		metrics:   metrics,
	}
}

// EstimateCost returns what executing the trigger would charge its budget.
// Only coupons carry a cost: their template's face value.
func (d *ActionDispatcher) EstimateCost(ctx context.Context, trigger *entities.Trigger) (decimal.Decimal, error) {
	switch ActionKind(trigger.Action) {
	case ActionSendCoupon:
		templateID, err := couponTemplateID(trigger)
		if err != nil {
			return decimal.Zero, err
		}
		if d.svc.Coupons == nil {
			return decimal.Zero, ErrServiceUnavailable
		}
		var value decimal.Decimal
		err = d.call(ctx, ActionSendCoupon, func(ctx context.Context) error {
			var qerr error
			value, qerr = d.svc.Coupons.Quote(ctx, templateID)
			return qerr
		})
		return value, err
	case ActionSendNotification, ActionAddPoints:
		return decimal.Zero, nil
	default:
		return decimal.Zero, ErrUnknownAction
	}
}

// Run executes the trigger's action for one user.
func (d *ActionDispatcher) Run(ctx context.Context, req ActionRequest) (ActionResult, error) {
	switch ActionKind(req.Trigger.Action) {
	case ActionSendCoupon:
		return d.sendCoupon(ctx, req)
	case ActionSendNotification:
		return d.sendNotification(ctx, req)
	case ActionAddPoints:
		return d.addPoints(ctx, req)
	default:
		return ActionResult{}, fmt.Errorf("%w %q", ErrUnknownAction, req.Trigger.Action)
	}
}

func (d *ActionDispatcher) sendCoupon(ctx context.Context, req ActionRequest) (ActionResult, error) {
	templateID, err := couponTemplateID(req.Trigger)
	if err != nil {
		return ActionResult{}, err
	}
	if d.svc.Coupons == nil {
		return ActionResult{}, ErrServiceUnavailable
	}

	var grant CouponGrant
	err = d.call(ctx, ActionSendCoupon, func(ctx context.Context) error {
		var cerr error
		grant, cerr = d.svc.Coupons.Claim(ctx, req.UserID, templateID, req.CorrelationID)
		return cerr
	})
	if err != nil {
		return ActionResult{}, err
	}

	d.followUp(ctx, req, map[string]string{
		VarCouponID:    grant.CouponID,
		VarCouponValue: d.formatter.Money(grant.FaceValue),
	})

	return ActionResult{
		Payload: map[string]any{
			"coupon_id":   grant.CouponID,
			"template_id": templateID,
			"face_value":  grant.FaceValue.String(),
		},
		Spent: grant.FaceValue,
	}, nil
}

func (d *ActionDispatcher) sendNotification(ctx context.Context, req ActionRequest) (ActionResult, error) {
	body := configString(req.Trigger, CfgMessage)
	if body == "" {
		return ActionResult{}, fmt.Errorf("%w: %s is required", ErrInvalidActionConfig, CfgMessage)
	}
	if d.svc.Notifier == nil {
		return ActionResult{}, ErrServiceUnavailable
	}

	msg := d.buildMessage(ctx, req, nil)
	var ack string
	err := d.call(ctx, ActionSendNotification, func(ctx context.Context) error {
		var serr error
		ack, serr = d.svc.Notifier.Send(ctx, req.UserID, msg)
		return serr
	})
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{
		Payload: map[string]any{"ack": ack, "title": msg.Title},
		Spent:   decimal.Zero,
	}, nil
}

func (d *ActionDispatcher) addPoints(ctx context.Context, req ActionRequest) (ActionResult, error) {
	points, ok := toInt64(req.Trigger.ActionConfig[CfgPoints])
	if !ok || points <= 0 {
		return ActionResult{}, fmt.Errorf("%w: %s must be a positive whole number", ErrInvalidActionConfig, CfgPoints)
	}
	if d.svc.Points == nil {
		return ActionResult{}, ErrServiceUnavailable
	}

	var grant PointsGrant
	err := d.call(ctx, ActionAddPoints, func(ctx context.Context) error {
		var gerr error
		grant, gerr = d.svc.Points.Grant(ctx, req.UserID, points, req.CorrelationID)
		return gerr
	})
	if err != nil {
		return ActionResult{}, err
	}

	d.followUp(ctx, req, map[string]string{VarPoints: d.formatter.Number(points)})

	return ActionResult{
		Payload: map[string]any{"points": points, "balance": grant.Balance},
		Spent:   decimal.Zero,
	}, nil
}

// followUp sends the optional message configured on coupon and points
// triggers. Delivery is best effort and never fails the action.
func (d *ActionDispatcher) followUp(ctx context.Context, req ActionRequest, extra map[string]string) {
	if d.svc.Notifier == nil || configString(req.Trigger, CfgMessage) == "" {
		return
	}
	msg := d.buildMessage(ctx, req, extra)
	err := d.call(ctx, ActionSendNotification, func(ctx context.Context) error {
		_, serr := d.svc.Notifier.Send(ctx, req.UserID, msg)
		return serr
	})
	if err != nil {
		d.log.Warn("follow-up notification failed",
			logger.Uint64("trigger_id", uint64(req.Trigger.ID)),
			logger.Uint64("user_id", uint64(req.UserID)),
			logger.Error(err))
	}
}

func (d *ActionDispatcher) buildMessage(ctx context.Context, req ActionRequest, extra map[string]string) Message {
	vars := map[string]string{
		VarUserID:      strconv.FormatUint(uint64(req.UserID), 10),
		VarTriggerName: req.Trigger.Name,
		VarFirstName:   "",
	}
	if d.svc.Users != nil {
		if user, err := d.svc.Users.GetUser(ctx, req.UserID); err == nil {
			vars[VarFirstName] = user.FirstName
		}
	}
	for k, v := range extra {
		vars[k] = v
	}

	body := renderTemplate(configString(req.Trigger, CfgMessage), vars)
	return Message{
		Title:         renderTemplate(configString(req.Trigger, CfgTitle), vars),
		Body:          body,
		HTML:          strings.Contains(body, "</"),
		CorrelationID: req.CorrelationID,
	}
}

// call applies the rate limit and timeout around one service call.
func (d *ActionDispatcher) call(ctx context.Context, action ActionKind, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Newf("rate limit wait for %s: %w", action, err).
			Component(componentName).
			Category(errors.CategoryTimeout).
			Build()
	}

	start := time.Now()
	err := fn(ctx)
	d.metrics.observeAction(action, err, time.Since(start))
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Newf("%s timed out after %s: %w", action, d.timeout, err).
			Component(componentName).
			Category(errors.CategoryTimeout).
			Build()
	}
	return err
}

func couponTemplateID(trigger *entities.Trigger) (uint, error) {
	id, ok := toInt64(trigger.ActionConfig[CfgCouponTemplateID])
	if !ok || id <= 0 {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidActionConfig, CfgCouponTemplateID)
	}
	return uint(id), nil
}

func configString(trigger *entities.Trigger, key string) string {
	v, ok := trigger.ActionConfig[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
