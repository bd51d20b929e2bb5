// Package storefront is the HTTP client for the storefront back-office API
// that owns coupons and loyalty points.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/teashop/storefront/internal/conf"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
	"github.com/teashop/storefront/internal/marketing"
)

const (
	componentName  = "storefront"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4096

	quotePath = "/internal/coupons/quote"
	claimPath = "/internal/coupons/claim"
	grantPath = "/internal/points/grant"
)

// ErrRejected is returned when the storefront refuses a grant, for example
// because the coupon template is exhausted or expired.
var ErrRejected = errors.NewStd("storefront rejected the request")

// Client calls the storefront back office. It implements
// marketing.CouponIssuer and marketing.PointsGranter.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logger.Logger
}

// NewClient creates a client. A nil httpClient uses a client with the
// configured timeout.
func NewClient(settings conf.StorefrontSettings, httpClient *http.Client, log logger.Logger) (*Client, error) {
	if settings.BaseURL == "" {
		return nil, errors.Newf("storefront base URL is not configured").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if httpClient == nil {
		timeout := settings.Timeout.Std()
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(settings.BaseURL, "/"),
		token:   settings.APIToken,
		http:    httpClient,
		log:     log.Module(componentName),
	}, nil
}

type quoteRequest struct {
	TemplateID uint `json:"template_id"`
}

type quoteResponse struct {
	FaceValue decimal.Decimal `json:"face_value"`
}

type claimRequest struct {
	UserID        uint   `json:"user_id"`
	TemplateID    uint   `json:"template_id"`
	CorrelationID string `json:"correlation_id"`
}

type claimResponse struct {
	CouponID  string          `json:"coupon_id"`
	FaceValue decimal.Decimal `json:"face_value"`
}

type grantRequest struct {
	UserID        uint   `json:"user_id"`
	Points        int64  `json:"points"`
	CorrelationID string `json:"correlation_id"`
}

type grantResponse struct {
	Balance int64 `json:"balance"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Quote returns the face value of a coupon template.
func (c *Client) Quote(ctx context.Context, templateID uint) (decimal.Decimal, error) {
	var resp quoteResponse
	if err := c.post(ctx, quotePath, "", quoteRequest{TemplateID: templateID}, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.FaceValue, nil
}

// Claim issues a coupon from a template to a user. The correlation id is
// sent as the idempotency key so a retried claim is not issued twice.
func (c *Client) Claim(ctx context.Context, userID, templateID uint, correlationID string) (marketing.CouponGrant, error) {
	var resp claimResponse
	err := c.post(ctx, claimPath, correlationID, claimRequest{
		UserID:        userID,
		TemplateID:    templateID,
		CorrelationID: correlationID,
	}, &resp)
	if err != nil {
		return marketing.CouponGrant{}, err
	}
	if resp.CouponID == "" {
		return marketing.CouponGrant{}, errors.Newf("claim response has no coupon id").
			Component(componentName).
			Category(errors.CategoryNetwork).
			Build()
	}
	return marketing.CouponGrant{CouponID: resp.CouponID, FaceValue: resp.FaceValue}, nil
}

// Grant credits loyalty points to a user.
func (c *Client) Grant(ctx context.Context, userID uint, points int64, correlationID string) (marketing.PointsGrant, error) {
	if points <= 0 {
		return marketing.PointsGrant{}, errors.Newf("points must be positive, got %d", points).
			Component(componentName).
			Category(errors.CategoryValidation).
			Build()
	}
	var resp grantResponse
	err := c.post(ctx, grantPath, correlationID, grantRequest{
		UserID:        userID,
		Points:        points,
		CorrelationID: correlationID,
	}, &resp)
	if err != nil {
		return marketing.PointsGrant{}, err
	}
	return marketing.PointsGrant{Balance: resp.Balance}, nil
}

func (c *Client) post(ctx context.Context, path, idempotencyKey string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Newf("storefront %s: %w", path, err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug("storefront call",
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Newf("failed to decode %s response: %w", path, err).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Build()
	}
	return nil
}

func (c *Client) statusError(path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var parsed errorResponse
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error != "" {
		msg = parsed.Error
	}

	switch resp.StatusCode {
	case http.StatusConflict, http.StatusUnprocessableEntity, http.StatusGone:
		return errors.Newf("%w: %s: %s", ErrRejected, path, msg).
			Component(componentName).
			Category(errors.CategoryAction).
			Context("status", resp.StatusCode).
			Build()
	case http.StatusBadRequest, http.StatusNotFound:
		return errors.Newf("storefront %s returned %d: %s", path, resp.StatusCode, msg).
			Component(componentName).
			Category(errors.CategoryValidation).
			Context("status", resp.StatusCode).
			Build()
	default:
		return errors.Newf("storefront %s returned %d: %s", path, resp.StatusCode, msg).
			Component(componentName).
			Category(errors.CategoryNetwork).
			Context("status", resp.StatusCode).
			Build()
	}
}
