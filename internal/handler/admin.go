package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/adrewards/internal/middleware"
	"github.com/mmeshcher/adrewards/internal/model"
)

// ListWithdrawals возвращает заявки всех пользователей. Параметр status фильтрует по статусу.
func (h *Handler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	adminID, _ := middleware.AccountIDFromContext(r.Context())

	var status model.WithdrawalStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := model.ParseWithdrawalStatus(raw)
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		status = st
	}

	reqs, err := h.service.ListWithdrawals(r.Context(), adminID, status)
	if err != nil {
		h.writeServiceError(w, "list withdrawals", err, zap.Int64("adminID", adminID))
		return
	}

	if len(reqs) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, http.StatusOK, newWithdrawalList(reqs))
}

type resolveRequest struct {
	Decision model.Decision `json:"decision"`
	Notes    string         `json:"notes"`
}

// ResolveWithdrawal одобряет или отклоняет заявку на вывод.
func (h *Handler) ResolveWithdrawal(w http.ResponseWriter, r *http.Request) {
	adminID, _ := middleware.AccountIDFromContext(r.Context())

	requestID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	resolved, err := h.service.ResolveWithdrawal(r.Context(), adminID, requestID, req.Decision, req.Notes)
	if err != nil {
		h.writeServiceError(w, "resolve withdrawal", err,
			zap.Int64("adminID", adminID),
			zap.String("requestID", requestID.String()),
		)
		return
	}

	writeJSON(w, http.StatusOK, newWithdrawalResponse(resolved))
}

// ChangeAccountStatus выполняет действие approve, freeze или unfreeze над учётной записью.
func (h *Handler) ChangeAccountStatus(w http.ResponseWriter, r *http.Request) {
	adminID, _ := middleware.AccountIDFromContext(r.Context())

	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || accountID <= 0 {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	action := model.StatusAction(chi.URLParam(r, "action"))
	if _, _, ok := action.Transition(); !ok {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	account, err := h.service.ChangeAccountStatus(r.Context(), adminID, accountID, action)
	if err != nil {
		h.writeServiceError(w, "change account status", err,
			zap.Int64("adminID", adminID),
			zap.Int64("accountID", accountID),
		)
		return
	}

	writeJSON(w, http.StatusOK, newAccountResponse(account))
}

// Stats возвращает агрегированную статистику сервиса.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	adminID, _ := middleware.AccountIDFromContext(r.Context())

	stats, err := h.service.Stats(r.Context(), adminID)
	if err != nil {
		h.writeServiceError(w, "stats", err, zap.Int64("adminID", adminID))
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
