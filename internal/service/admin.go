package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mmeshcher/adrewards/internal/model"
)

func (s *Service) requireAdmin(ctx context.Context, adminID int64) error {
	if adminID <= 0 {
		return model.ErrUnauthenticated
	}
	a, err := s.repo.GetAccount(ctx, adminID)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return model.ErrPermissionDenied
		}
		return err
	}
	if !a.IsAdmin {
		return model.ErrPermissionDenied
	}
	return nil
}

// ListWithdrawals возвращает заявки всех пользователей в указанном статусе.
func (s *Service) ListWithdrawals(ctx context.Context, adminID int64, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.repo.ListWithdrawals(ctx, status)
}

// ChangeAccountStatus одобряет, замораживает или размораживает учётную запись.
func (s *Service) ChangeAccountStatus(ctx context.Context, adminID, accountID int64, action model.StatusAction) (model.Account, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return model.Account{}, err
	}

	from, to, ok := action.Transition()
	if !ok {
		return model.Account{}, model.ErrInvalidTransition
	}

	a, err := s.repo.UpdateAccountStatus(ctx, accountID, from, to)
	if err != nil {
		return model.Account{}, err
	}

	s.logger.Info("account status changed",
		zap.Int64("accountID", accountID),
		zap.String("status", string(a.Status)),
		zap.Int64("adminID", adminID),
	)
	return a, nil
}

// Stats возвращает агрегированную статистику для администратора.
func (s *Service) Stats(ctx context.Context, adminID int64) (model.AdminStats, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return model.AdminStats{}, err
	}
	return s.repo.Stats(ctx)
}
