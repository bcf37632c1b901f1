package service

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/adrewards/internal/events"
	"github.com/mmeshcher/adrewards/internal/metrics"
	"github.com/mmeshcher/adrewards/internal/model"
	"github.com/mmeshcher/adrewards/internal/validation"
)

// RequestWithdrawal создаёт заявку на вывод средств. Баланс списывается только при одобрении заявки.
func (s *Service) RequestWithdrawal(ctx context.Context, accountID int64, amount decimal.Decimal, details model.PaymentDetails) (model.WithdrawalRequest, error) {
	if accountID <= 0 {
		return model.WithdrawalRequest{}, model.ErrUnauthenticated
	}

	if amount.Sign() <= 0 {
		return model.WithdrawalRequest{}, model.ErrInvalidAmount
	}
	if _, err := model.ToCents(amount); err != nil {
		return model.WithdrawalRequest{}, err
	}

	details, err := validation.ValidatePaymentDetails(details)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}

	created, err := s.repo.CreateWithdrawalRequest(ctx, model.WithdrawalRequest{
		ID:             uuid.New(),
		AccountID:      accountID,
		Amount:         amount,
		PaymentDetails: details,
		Status:         model.WithdrawalStatusPending,
		CreatedAt:      s.nowFn(),
	})
	if err != nil {
		return model.WithdrawalRequest{}, err
	}

	metrics.RecordWithdrawal(string(created.Status))
	s.logger.Info("withdrawal requested",
		zap.String("requestID", created.ID.String()),
		zap.Int64("accountID", accountID),
		zap.String("amount", created.Amount.StringFixed(2)),
	)

	s.publish(ctx, events.TypeWithdrawalRequested, strconv.FormatInt(accountID, 10), events.WithdrawalRequested{
		RequestID: created.ID.String(),
		AccountID: accountID,
		Amount:    created.Amount,
		CreatedAt: created.CreatedAt,
	})

	return created, nil
}

// GetWithdrawalsByAccount возвращает заявки вызывающего пользователя.
func (s *Service) GetWithdrawalsByAccount(ctx context.Context, accountID int64) ([]model.WithdrawalRequest, error) {
	if accountID <= 0 {
		return nil, model.ErrUnauthenticated
	}
	return s.repo.ListWithdrawalsByAccount(ctx, accountID)
}

// ResolveWithdrawal применяет решение администратора по заявке. При одобрении доступный баланс
// проверяется заново на момент решения.
func (s *Service) ResolveWithdrawal(ctx context.Context, adminID int64, requestID uuid.UUID, decision model.Decision, notes string) (model.WithdrawalRequest, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return model.WithdrawalRequest{}, err
	}

	if _, ok := decision.Status(); !ok {
		return model.WithdrawalRequest{}, model.ErrInvalidDecision
	}

	resolved, err := s.repo.ResolveWithdrawal(ctx, model.Resolution{
		RequestID: requestID,
		Decision:  decision,
		AdminID:   adminID,
		Notes:     notes,
		At:        s.nowFn(),
	})
	if err != nil {
		return model.WithdrawalRequest{}, err
	}

	metrics.RecordWithdrawal(string(resolved.Status))
	s.logger.Info("withdrawal resolved",
		zap.String("requestID", resolved.ID.String()),
		zap.String("status", string(resolved.Status)),
		zap.Int64("adminID", adminID),
	)

	s.publish(ctx, events.TypeWithdrawalResolved, strconv.FormatInt(resolved.AccountID, 10), events.WithdrawalResolved{
		RequestID:  resolved.ID.String(),
		AccountID:  resolved.AccountID,
		Amount:     resolved.Amount,
		Status:     string(resolved.Status),
		ResolvedBy: adminID,
		ResolvedAt: *resolved.ResolvedAt,
	})

	return resolved, nil
}
