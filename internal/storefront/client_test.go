package storefront

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teashop/storefront/internal/conf"
	"github.com/teashop/storefront/internal/errors"
	"github.com/teashop/storefront/internal/logger"
)

const testBaseURL = "https://shop.example.test"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	c, err := NewClient(conf.StorefrontSettings{
		BaseURL:  testBaseURL + "/",
		APIToken: "secret",
		Timeout:  conf.Duration(time.Second),
	}, httpClient, logger.NewNop())
	require.NoError(t, err)
	return c
}

func TestClient_Claim(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+claimPath,
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "Bearer secret", req.Header.Get("Authorization"))
			assert.Equal(t, "trigger_3_1700000000000", req.Header.Get("Idempotency-Key"))

			var body claimRequest
			require.NoError(t, jsonDecode(req, &body))
			assert.Equal(t, claimRequest{UserID: 42, TemplateID: 7, CorrelationID: "trigger_3_1700000000000"}, body)

			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"coupon_id":  "CPN-1",
				"face_value": "20.00",
			})
		})

	grant, err := c.Claim(t.Context(), 42, 7, "trigger_3_1700000000000")
	require.NoError(t, err)
	assert.Equal(t, "CPN-1", grant.CouponID)
	assert.True(t, grant.FaceValue.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestClient_Quote(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+quotePath,
		httpmock.NewStringResponder(http.StatusOK, `{"face_value": 12.5}`))

	value, err := c.Quote(t.Context(), 7)
	require.NoError(t, err)
	assert.True(t, value.Equal(decimal.RequireFromString("12.5")))
}

func TestClient_Grant(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+grantPath,
		httpmock.NewStringResponder(http.StatusOK, `{"balance": 350}`))

	grant, err := c.Grant(t.Context(), 42, 100, "trigger_1_1")
	require.NoError(t, err)
	assert.Equal(t, int64(350), grant.Balance)

	_, err = c.Grant(t.Context(), 42, 0, "trigger_1_2")
	require.Error(t, err)
	assert.Equal(t, errors.CategoryValidation, errors.CategoryOf(err))
	assert.Equal(t, 1, httpmock.GetTotalCallCount(), "non-positive grants never reach the storefront")
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantCategory errors.Category
		wantRejected bool
		wantMessage  string
	}{
		{"template exhausted", http.StatusConflict, `{"error":"template limit reached"}`, errors.CategoryAction, true, "template limit reached"},
		{"unknown template", http.StatusNotFound, `not found`, errors.CategoryValidation, false, "not found"},
		{"server error", http.StatusBadGateway, ``, errors.CategoryNetwork, false, "502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t)
			httpmock.RegisterResponder(http.MethodPost, testBaseURL+claimPath,
				httpmock.NewStringResponder(tt.status, tt.body))

			_, err := c.Claim(t.Context(), 1, 7, "trigger_1_1")
			require.Error(t, err)
			assert.Equal(t, tt.wantCategory, errors.CategoryOf(err))
			assert.Equal(t, tt.wantRejected, errors.Is(err, ErrRejected))
			assert.Contains(t, err.Error(), tt.wantMessage)
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+claimPath,
		httpmock.NewErrorResponder(assert.AnError))

	_, err := c.Claim(t.Context(), 1, 7, "trigger_1_1")
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, errors.CategoryNetwork, errors.CategoryOf(err))
}

func TestClient_MissingCouponID(t *testing.T) {
	c := newTestClient(t)
	httpmock.RegisterResponder(http.MethodPost, testBaseURL+claimPath,
		httpmock.NewStringResponder(http.StatusOK, `{"face_value":"5"}`))

	_, err := c.Claim(t.Context(), 1, 7, "trigger_1_1")
	require.Error(t, err)
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	_, err := NewClient(conf.StorefrontSettings{}, nil, logger.NewNop())
	require.Error(t, err)
	assert.Equal(t, errors.CategoryConfiguration, errors.CategoryOf(err))
}

func jsonDecode(req *http.Request, v any) error {
	return json.NewDecoder(req.Body).Decode(v)
}
