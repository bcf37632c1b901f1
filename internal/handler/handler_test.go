package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/adrewards/internal/middleware"
	"github.com/mmeshcher/adrewards/internal/model"
)

type stubService struct {
	account    model.Account
	accountErr error

	authID  int64
	authErr error

	ads    []model.EngageableAd
	adsErr error

	engagement    model.EngagementResult
	engagementErr error
	engagedAdID   int64

	withdrawal     model.WithdrawalRequest
	withdrawalErr  error
	withdrawAmount decimal.Decimal

	withdrawals    []model.WithdrawalRequest
	withdrawalsErr error
	listedStatus   model.WithdrawalStatus

	resolved     model.WithdrawalRequest
	resolveErr   error
	resolvedWith model.Decision

	statusAccount model.Account
	statusErr     error

	stats    model.AdminStats
	statsErr error

	callerID int64
}

func (s *stubService) RegisterAccount(_ context.Context, login, _ string) (model.Account, error) {
	return s.account, s.accountErr
}

func (s *stubService) AuthenticateAccount(context.Context, string, string) (int64, error) {
	return s.authID, s.authErr
}

func (s *stubService) GetAccount(_ context.Context, accountID int64) (model.Account, error) {
	s.callerID = accountID
	return s.account, s.accountErr
}

func (s *stubService) ListEngageableAds(_ context.Context, accountID int64) ([]model.EngageableAd, error) {
	s.callerID = accountID
	return s.ads, s.adsErr
}

func (s *stubService) RecordEngagement(_ context.Context, accountID, adID int64) (model.EngagementResult, error) {
	s.callerID = accountID
	s.engagedAdID = adID
	return s.engagement, s.engagementErr
}

func (s *stubService) RequestWithdrawal(_ context.Context, accountID int64, amount decimal.Decimal, _ model.PaymentDetails) (model.WithdrawalRequest, error) {
	s.callerID = accountID
	s.withdrawAmount = amount
	return s.withdrawal, s.withdrawalErr
}

func (s *stubService) GetWithdrawalsByAccount(_ context.Context, accountID int64) ([]model.WithdrawalRequest, error) {
	s.callerID = accountID
	return s.withdrawals, s.withdrawalsErr
}

func (s *stubService) ListWithdrawals(_ context.Context, adminID int64, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	s.callerID = adminID
	s.listedStatus = status
	return s.withdrawals, s.withdrawalsErr
}

func (s *stubService) ResolveWithdrawal(_ context.Context, adminID int64, _ uuid.UUID, decision model.Decision, _ string) (model.WithdrawalRequest, error) {
	s.callerID = adminID
	s.resolvedWith = decision
	return s.resolved, s.resolveErr
}

func (s *stubService) ChangeAccountStatus(_ context.Context, adminID, _ int64, _ model.StatusAction) (model.Account, error) {
	s.callerID = adminID
	return s.statusAccount, s.statusErr
}

func (s *stubService) Stats(_ context.Context, adminID int64) (model.AdminStats, error) {
	s.callerID = adminID
	return s.stats, s.statsErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	return NewHandler(svc, logger, middleware.NewAuthMiddleware("test-secret"))
}

// do выполняет запрос через маршрутизатор; accountID > 0 добавляет токен сессии.
func do(t *testing.T, h *Handler, method, target string, body any, accountID int64) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, target, &buf)
	if accountID > 0 {
		token := h.authMiddleware.IssueToken(httptest.NewRecorder(), accountID)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{
		account: model.Account{
			ID:          42,
			Login:       "user",
			Status:      model.AccountStatusPending,
			SignupBonus: decimal.NewFromInt(25000),
		},
	}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/api/user/register", credentialsRequest{Login: "user", Password: "pass"}, 0)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Result().Cookies())
	assert.Contains(t, rec.Header().Get("Authorization"), "Bearer ")

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pending", resp["status"])
	assert.Equal(t, "25000", resp["signup_bonus"])
}

func TestRegister_Failures(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		err        error
		wantStatus int
	}{
		{name: "empty login", body: credentialsRequest{Password: "pass"}, wantStatus: http.StatusBadRequest},
		{name: "not json", body: "plain", wantStatus: http.StatusBadRequest},
		{name: "login taken", body: credentialsRequest{Login: "user", Password: "pass"}, err: model.ErrAccountExists, wantStatus: http.StatusConflict},
		{name: "storage down", body: credentialsRequest{Login: "user", Password: "pass"}, err: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{accountErr: tt.err})

			rec := do(t, h, http.MethodPost, "/api/user/register", tt.body, 0)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestLogin(t *testing.T) {
	h := newTestHandler(t, &stubService{authErr: model.ErrInvalidCredentials})
	rec := do(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Login: "user", Password: "bad"}, 0)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	h = newTestHandler(t, &stubService{authID: 5})
	rec = do(t, h, http.MethodPost, "/api/user/login", credentialsRequest{Login: "user", Password: "good"}, 0)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Result().Cookies())
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	routes := []struct{ method, target string }{
		{http.MethodGet, "/api/user/account"},
		{http.MethodGet, "/api/ads"},
		{http.MethodPost, "/api/ads/1/engage"},
		{http.MethodPost, "/api/user/withdrawals"},
		{http.MethodGet, "/api/user/withdrawals"},
		{http.MethodGet, "/api/admin/withdrawals"},
		{http.MethodGet, "/api/admin/stats"},
	}

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.target, func(t *testing.T) {
			rec := do(t, h, rt.method, rt.target, nil, 0)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestGetAccount(t *testing.T) {
	svc := &stubService{
		account: model.Account{
			ID:               3,
			Login:            "user",
			Status:           model.AccountStatusActive,
			AvailableBalance: decimal.RequireFromString("101.75"),
			EngagementCount:  1,
		},
	}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodGet, "/api/user/account", nil, 3)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), svc.callerID)

	var resp accountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.AvailableBalance.Equal(decimal.RequireFromString("101.75")))
	assert.Equal(t, int64(1), resp.EngagementCount)
}

func TestListAds(t *testing.T) {
	svc := &stubService{
		ads: []model.EngageableAd{
			{Ad: model.Advertisement{ID: 1, Title: "one", Reward: decimal.RequireFromString("101.75")}, CooldownRemaining: 90*time.Minute + 500*time.Millisecond},
			{Ad: model.Advertisement{ID: 2, Title: "two", Reward: decimal.NewFromInt(10)}},
		},
	}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodGet, "/api/ads", nil, 3)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp []adResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, int64(5401), resp[0].CooldownRemaining)
	assert.Zero(t, resp[1].CooldownRemaining)
}

func TestEngage(t *testing.T) {
	svc := &stubService{
		engagement: model.EngagementResult{
			Earned:           decimal.RequireFromString("101.75"),
			AvailableBalance: decimal.RequireFromString("101.75"),
			EngagementCount:  1,
		},
	}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/api/ads/7/engage", nil, 3)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), svc.engagedAdID)
	assert.Equal(t, int64(3), svc.callerID)

	var resp engagementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.EngagementCount)
}

func TestEngage_Cooldown(t *testing.T) {
	svc := &stubService{engagementErr: &model.CooldownError{Remaining: 2*time.Hour + 300*time.Millisecond}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/api/ads/7/engage", nil, 3)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "7201", rec.Header().Get("Retry-After"))

	var resp cooldownResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(7201), resp.CooldownRemaining)
}

func TestEngage_ErrorStatuses(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{err: model.ErrAdNotFound, wantStatus: http.StatusNotFound},
		{err: model.ErrAccountNotApproved, wantStatus: http.StatusForbidden},
		{err: model.ErrAccountFrozen, wantStatus: http.StatusLocked},
		{err: fmt.Errorf("record engagement: %w", model.ErrPersistence), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestHandler(t, &stubService{engagementErr: tt.err})

			rec := do(t, h, http.MethodPost, "/api/ads/7/engage", nil, 3)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}

	h := newTestHandler(t, &stubService{})
	rec := do(t, h, http.MethodPost, "/api/ads/abc/engage", nil, 3)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithdraw(t *testing.T) {
	id := uuid.New()
	svc := &stubService{
		withdrawal: model.WithdrawalRequest{
			ID:        id,
			AccountID: 3,
			Amount:    decimal.NewFromInt(3000),
			Status:    model.WithdrawalStatusPending,
			CreatedAt: time.Now(),
		},
	}
	h := newTestHandler(t, svc)

	body := map[string]any{
		"amount": 3000,
		"payment_details": map[string]string{
			"method":         "card",
			"holder_name":    "Ivan Petrov",
			"account_number": "4539578763621486",
		},
	}
	rec := do(t, h, http.MethodPost, "/api/user/withdrawals", body, 3)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, svc.withdrawAmount.Equal(decimal.NewFromInt(3000)))

	var resp withdrawalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id.String(), resp.RequestID)
	assert.Equal(t, "pending", resp.Status)
}

func TestWithdraw_ErrorStatuses(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{err: model.ErrNotEligible, wantStatus: http.StatusForbidden},
		{err: model.ErrInvalidAmount, wantStatus: http.StatusBadRequest},
		{err: model.ErrInvalidPaymentDetails, wantStatus: http.StatusBadRequest},
		{err: model.ErrInsufficientBalance, wantStatus: http.StatusPaymentRequired},
		{err: model.ErrAccountFrozen, wantStatus: http.StatusLocked},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestHandler(t, &stubService{withdrawalErr: tt.err})

			rec := do(t, h, http.MethodPost, "/api/user/withdrawals", map[string]any{"amount": "10"}, 3)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestGetWithdrawals(t *testing.T) {
	h := newTestHandler(t, &stubService{})
	rec := do(t, h, http.MethodGet, "/api/user/withdrawals", nil, 3)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	h = newTestHandler(t, &stubService{
		withdrawals: []model.WithdrawalRequest{{ID: uuid.New(), Amount: decimal.NewFromInt(10), Status: model.WithdrawalStatusPending}},
	})
	rec = do(t, h, http.MethodGet, "/api/user/withdrawals", nil, 3)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestAdminListWithdrawals(t *testing.T) {
	svc := &stubService{
		withdrawals: []model.WithdrawalRequest{{ID: uuid.New(), Status: model.WithdrawalStatusPending}},
	}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodGet, "/api/admin/withdrawals?status=pending", nil, 1)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.WithdrawalStatusPending, svc.listedStatus)
	assert.Equal(t, int64(1), svc.callerID)

	rec = do(t, h, http.MethodGet, "/api/admin/withdrawals?status=unknown", nil, 1)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	h = newTestHandler(t, &stubService{withdrawalsErr: model.ErrPermissionDenied})
	rec = do(t, h, http.MethodGet, "/api/admin/withdrawals", nil, 2)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminResolveWithdrawal(t *testing.T) {
	id := uuid.New()
	now := time.Now()
	adminID := int64(1)
	svc := &stubService{
		resolved: model.WithdrawalRequest{
			ID:         id,
			Status:     model.WithdrawalStatusApproved,
			ResolvedBy: &adminID,
			ResolvedAt: &now,
		},
	}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/api/admin/withdrawals/"+id.String()+"/resolve", resolveRequest{Decision: model.DecisionApprove}, 1)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DecisionApprove, svc.resolvedWith)

	var resp withdrawalResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "approved", resp.Status)
	require.NotNil(t, resp.ResolvedBy)
	assert.Equal(t, adminID, *resp.ResolvedBy)

	rec = do(t, h, http.MethodPost, "/api/admin/withdrawals/not-a-uuid/resolve", resolveRequest{Decision: model.DecisionApprove}, 1)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminResolveWithdrawal_ErrorStatuses(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
	}{
		{err: model.ErrPermissionDenied, wantStatus: http.StatusForbidden},
		{err: model.ErrNotFound, wantStatus: http.StatusNotFound},
		{err: model.ErrAlreadyResolved, wantStatus: http.StatusConflict},
		{err: model.ErrInsufficientBalance, wantStatus: http.StatusPaymentRequired},
		{err: model.ErrInvalidDecision, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newTestHandler(t, &stubService{resolveErr: tt.err})

			rec := do(t, h, http.MethodPost, "/api/admin/withdrawals/"+uuid.NewString()+"/resolve", resolveRequest{Decision: model.DecisionApprove}, 1)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAdminChangeAccountStatus(t *testing.T) {
	svc := &stubService{statusAccount: model.Account{ID: 5, Status: model.AccountStatusActive}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodPost, "/api/admin/accounts/5/approve", nil, 1)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/admin/accounts/5/delete", nil, 1)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h = newTestHandler(t, &stubService{statusErr: model.ErrInvalidTransition})
	rec = do(t, h, http.MethodPost, "/api/admin/accounts/5/freeze", nil, 1)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAdminStats(t *testing.T) {
	svc := &stubService{stats: model.AdminStats{Accounts: 2, Engagements: 29}}
	h := newTestHandler(t, svc)

	rec := do(t, h, http.MethodGet, "/api/admin/stats", nil, 1)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 29, resp["engagements"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	do(t, h, http.MethodGet, "/api/admin/stats", nil, 1)
	rec := do(t, h, http.MethodGet, "/metrics", nil, 0)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "adrewards_http_requests_total")
}
