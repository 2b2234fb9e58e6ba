package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"investledger/internal/app"
	"investledger/internal/config"
	"investledger/internal/testutil"
	"investledger/pkg/clock"
	"investledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{
			LedgerEvent:     "ledger_event",
			WithdrawalEvent: "withdrawal_event",
		}},
		Business: config.BusinessConfig{
			AccrualPeriod:  24 * time.Hour,
			AccrualWorkers: 2,
			SweepBatchSize: 10,
			MaxRetryCount:  3,
			Withdrawal: config.WithdrawalConfig{
				MinAmount:    "10",
				FeeRate:      "0.05",
				HoldDuration: 72 * time.Hour,
			},
		},
	}
	a := app.New(testutil.NewDB(t), nil, nil, cfg, clock.NewManualClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	return SetupRouter(a)
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}, headers map[string]string) envelope {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestDepositThenBalance(t *testing.T) {
	r := newRouter(t)
	body := gin.H{"user_id": 7, "order_reference": "pay-001", "amount": "120.5"}

	res := do(t, r, http.MethodPost, "/api/v1/deposit/confirm", body, nil)
	require.Equal(t, response.CodeSuccess, res.Code, res.Message)

	res = do(t, r, http.MethodPost, "/api/v1/deposit/confirm", body, nil)
	require.Equal(t, response.CodeSuccess, res.Code)
	var again struct {
		AlreadyApplied bool `json:"already_applied"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &again))
	assert.True(t, again.AlreadyApplied)

	res = do(t, r, http.MethodGet, "/api/v1/account/balance?user_id=7", nil, nil)
	require.Equal(t, response.CodeSuccess, res.Code)
	var balance struct {
		Available      string `json:"available"`
		TotalDeposited string `json:"total_deposited"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &balance))
	assert.Equal(t, "120.5", balance.Available)
	assert.Equal(t, "120.5", balance.TotalDeposited)

	res = do(t, r, http.MethodGet, "/api/v1/account/ledger?user_id=7", nil, nil)
	require.Equal(t, response.CodeSuccess, res.Code)
	var ledger struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &ledger))
	assert.EqualValues(t, 1, ledger.Total)
}

func TestWithdrawal_InsufficientFundsCarriesAvailable(t *testing.T) {
	r := newRouter(t)
	do(t, r, http.MethodPost, "/api/v1/deposit/confirm", gin.H{"user_id": 7, "order_reference": "pay-001", "amount": "30"}, nil)

	res := do(t, r, http.MethodPost, "/api/v1/withdrawal/request",
		gin.H{"user_id": 7, "amount": "50", "destination_address": "addr"}, nil)
	assert.Equal(t, response.CodeInsufficientFunds, res.Code)

	var data struct {
		Available string `json:"available"`
		Required  string `json:"required"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &data))
	assert.Equal(t, "30", data.Available)
	assert.Equal(t, "50", data.Required)
}

func TestErrorCodes(t *testing.T) {
	r := newRouter(t)

	res := do(t, r, http.MethodGet, "/api/v1/account/balance?user_id=abc", nil, nil)
	assert.Equal(t, response.CodeParamError, res.Code)

	res = do(t, r, http.MethodPost, "/api/v1/deposit/confirm", gin.H{"user_id": 7, "order_reference": "pay-001", "amount": "-5"}, nil)
	assert.Equal(t, response.CodeInvalidAmount, res.Code)

	res = do(t, r, http.MethodGet, "/api/v1/withdrawal/detail?withdrawal_no=W-missing", nil, nil)
	assert.Equal(t, response.CodeNotFound, res.Code)

	res = do(t, r, http.MethodPost, "/api/v1/investment/purchase", gin.H{"user_id": 7, "plan_id": 42, "amount": "10"}, nil)
	assert.Equal(t, response.CodeNotFound, res.Code)
}

func TestAdminRoutes(t *testing.T) {
	r := newRouter(t)
	admin := map[string]string{"X-Admin-ID": "ops-1"}

	res := do(t, r, http.MethodPost, "/api/v1/admin/withdrawal/approve", gin.H{"withdrawal_no": "W-1"}, nil)
	assert.Equal(t, response.CodeUnauthorized, res.Code)

	do(t, r, http.MethodPost, "/api/v1/deposit/confirm", gin.H{"user_id": 7, "order_reference": "pay-001", "amount": "100"}, nil)
	res = do(t, r, http.MethodPost, "/api/v1/withdrawal/request",
		gin.H{"user_id": 7, "amount": "40", "destination_address": "addr"}, nil)
	require.Equal(t, response.CodeSuccess, res.Code, res.Message)
	var w struct {
		WithdrawalNo string `json:"withdrawal_no"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &w))

	res = do(t, r, http.MethodPost, "/api/v1/admin/withdrawal/approve", gin.H{"withdrawal_no": w.WithdrawalNo}, admin)
	assert.Equal(t, response.CodeInvalidState, res.Code, "pending withdrawals must be processed first")

	res = do(t, r, http.MethodPost, "/api/v1/admin/withdrawal/process", gin.H{"withdrawal_no": w.WithdrawalNo}, admin)
	require.Equal(t, response.CodeSuccess, res.Code, res.Message)
	res = do(t, r, http.MethodPost, "/api/v1/admin/withdrawal/approve", gin.H{"withdrawal_no": w.WithdrawalNo}, admin)
	require.Equal(t, response.CodeSuccess, res.Code, res.Message)

	res = do(t, r, http.MethodGet, "/api/v1/admin/balance/reconcile?user_id=7", nil, admin)
	require.Equal(t, response.CodeSuccess, res.Code, res.Message)
	var drift struct {
		InSync bool `json:"in_sync"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &drift))
	assert.True(t, drift.InSync)

	res = do(t, r, http.MethodPost, "/api/v1/admin/sweep/accrual", nil, admin)
	assert.Equal(t, response.CodeSuccess, res.Code, res.Message)
}
