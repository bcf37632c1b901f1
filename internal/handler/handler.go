// Package handler содержит HTTP-обработчики API сервиса вознаграждений.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/adrewards/internal/middleware"
	"github.com/mmeshcher/adrewards/internal/model"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterAccount(ctx context.Context, login, password string) (model.Account, error)
	AuthenticateAccount(ctx context.Context, login, password string) (int64, error)
	GetAccount(ctx context.Context, accountID int64) (model.Account, error)
	ListEngageableAds(ctx context.Context, accountID int64) ([]model.EngageableAd, error)
	RecordEngagement(ctx context.Context, accountID, adID int64) (model.EngagementResult, error)
	RequestWithdrawal(ctx context.Context, accountID int64, amount decimal.Decimal, details model.PaymentDetails) (model.WithdrawalRequest, error)
	GetWithdrawalsByAccount(ctx context.Context, accountID int64) ([]model.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, adminID int64, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error)
	ResolveWithdrawal(ctx context.Context, adminID int64, requestID uuid.UUID, decision model.Decision, notes string) (model.WithdrawalRequest, error)
	ChangeAccountStatus(ctx context.Context, adminID, accountID int64, action model.StatusAction) (model.Account, error)
	Stats(ctx context.Context, adminID int64) (model.AdminStats, error)
}

// Handler реализует HTTP-обработчики API сервиса вознаграждений.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type accountResponse struct {
	ID               int64           `json:"id"`
	Login            string          `json:"login"`
	Status           string          `json:"status"`
	SignupBonus      decimal.Decimal `json:"signup_bonus"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	LifetimeEarnings decimal.Decimal `json:"lifetime_earnings"`
	EngagementCount  int64           `json:"engagement_count"`
	IsAdmin          bool            `json:"is_admin"`
	CreatedAt        string          `json:"created_at"`
}

func newAccountResponse(a model.Account) accountResponse {
	return accountResponse{
		ID:               a.ID,
		Login:            a.Login,
		Status:           string(a.Status),
		SignupBonus:      a.SignupBonus,
		AvailableBalance: a.AvailableBalance,
		LifetimeEarnings: a.LifetimeEarnings,
		EngagementCount:  a.EngagementCount,
		IsAdmin:          a.IsAdmin,
		CreatedAt:        a.CreatedAt.Format(time.RFC3339),
	}
}

// Register регистрирует пользователя и выдаёт токен сессии. Учётная запись ждёт одобрения.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	account, err := h.service.RegisterAccount(r.Context(), req.Login, req.Password)
	if err != nil {
		h.writeServiceError(w, "register account", err)
		return
	}

	h.authMiddleware.IssueToken(w, account.ID)
	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

// Login проверяет логин и пароль и выдаёт токен сессии.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	accountID, err := h.service.AuthenticateAccount(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.writeServiceError(w, "login account", err)
		return
	}

	h.authMiddleware.IssueToken(w, accountID)
	w.WriteHeader(http.StatusOK)
}

// GetAccount возвращает счётчики и статус текущего пользователя.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())

	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "get account", err, zap.Int64("accountID", accountID))
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

type adResponse struct {
	AdID              int64           `json:"ad_id"`
	Title             string          `json:"title"`
	URL               string          `json:"url,omitempty"`
	Reward            decimal.Decimal `json:"reward"`
	CooldownRemaining int64           `json:"cooldown_remaining"`
}

// ListAds возвращает активные объявления и оставшееся до следующего просмотра время в секундах.
func (h *Handler) ListAds(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())

	ads, err := h.service.ListEngageableAds(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "list ads", err, zap.Int64("accountID", accountID))
		return
	}

	resp := make([]adResponse, 0, len(ads))
	for _, a := range ads {
		resp = append(resp, adResponse{
			AdID:              a.Ad.ID,
			Title:             a.Ad.Title,
			URL:               a.Ad.URL,
			Reward:            a.Ad.Reward,
			CooldownRemaining: ceilSeconds(a.CooldownRemaining),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type engagementResponse struct {
	Earned           decimal.Decimal `json:"earned"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	EngagementCount  int64           `json:"engagement_count"`
}

// Engage засчитывает просмотр объявления текущим пользователем.
func (h *Handler) Engage(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())

	adID, err := strconv.ParseInt(chi.URLParam(r, "adID"), 10, 64)
	if err != nil || adID <= 0 {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	res, err := h.service.RecordEngagement(r.Context(), accountID, adID)
	if err != nil {
		h.writeServiceError(w, "record engagement", err, zap.Int64("accountID", accountID), zap.Int64("adID", adID))
		return
	}

	writeJSON(w, http.StatusOK, engagementResponse{
		Earned:           res.Earned,
		AvailableBalance: res.AvailableBalance,
		EngagementCount:  res.EngagementCount,
	})
}

type withdrawRequest struct {
	Amount         decimal.Decimal      `json:"amount"`
	PaymentDetails model.PaymentDetails `json:"payment_details"`
}

type withdrawalResponse struct {
	RequestID      string               `json:"request_id"`
	AccountID      int64                `json:"account_id"`
	Amount         decimal.Decimal      `json:"amount"`
	Status         string               `json:"status"`
	PaymentDetails model.PaymentDetails `json:"payment_details"`
	CreatedAt      string               `json:"created_at"`
	ResolvedBy     *int64               `json:"resolved_by,omitempty"`
	ResolvedAt     string               `json:"resolved_at,omitempty"`
	Notes          string               `json:"notes,omitempty"`
}

func newWithdrawalResponse(req model.WithdrawalRequest) withdrawalResponse {
	resp := withdrawalResponse{
		RequestID:      req.ID.String(),
		AccountID:      req.AccountID,
		Amount:         req.Amount,
		Status:         string(req.Status),
		PaymentDetails: req.PaymentDetails,
		CreatedAt:      req.CreatedAt.Format(time.RFC3339),
		ResolvedBy:     req.ResolvedBy,
		Notes:          req.Notes,
	}
	if req.ResolvedAt != nil {
		resp.ResolvedAt = req.ResolvedAt.Format(time.RFC3339)
	}
	return resp
}

func newWithdrawalList(reqs []model.WithdrawalRequest) []withdrawalResponse {
	resp := make([]withdrawalResponse, 0, len(reqs))
	for _, req := range reqs {
		resp = append(resp, newWithdrawalResponse(req))
	}
	return resp
}

// Withdraw создаёт заявку на вывод средств текущего пользователя.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.service.RequestWithdrawal(r.Context(), accountID, req.Amount, req.PaymentDetails)
	if err != nil {
		h.writeServiceError(w, "request withdrawal", err, zap.Int64("accountID", accountID))
		return
	}

	writeJSON(w, http.StatusCreated, newWithdrawalResponse(created))
}

// GetWithdrawals возвращает заявки текущего пользователя.
func (h *Handler) GetWithdrawals(w http.ResponseWriter, r *http.Request) {
	accountID, _ := middleware.AccountIDFromContext(r.Context())

	reqs, err := h.service.GetWithdrawalsByAccount(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, "get withdrawals", err, zap.Int64("accountID", accountID))
		return
	}

	if len(reqs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newWithdrawalList(reqs))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type cooldownResponse struct {
	Error             string `json:"error"`
	CooldownRemaining int64  `json:"cooldown_remaining"`
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ. Неизвестные ошибки пишутся в журнал.
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error, fields ...zap.Field) {
	var cdErr *model.CooldownError
	if errors.As(err, &cdErr) {
		seconds := cdErr.RemainingSeconds()
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		writeJSON(w, http.StatusTooManyRequests, cooldownResponse{
			Error:             model.ErrCooldownActive.Error(),
			CooldownRemaining: seconds,
		})
		return
	}

	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(op+" error", append(fields, zap.Error(err))...)
	}
	http.Error(w, http.StatusText(status), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnauthenticated), errors.Is(err, model.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrPermissionDenied),
		errors.Is(err, model.ErrAccountNotApproved),
		errors.Is(err, model.ErrNotEligible):
		return http.StatusForbidden
	case errors.Is(err, model.ErrAccountFrozen):
		return http.StatusLocked
	case errors.Is(err, model.ErrAdNotFound),
		errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidPaymentDetails),
		errors.Is(err, model.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrAlreadyResolved),
		errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrAccountExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
