package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/adrewards/internal/events"
	"github.com/mmeshcher/adrewards/internal/metrics"
	"github.com/mmeshcher/adrewards/internal/model"
)

// ListEngageableAds возвращает активные объявления с оставшимся временем ожидания для пользователя.
func (s *Service) ListEngageableAds(ctx context.Context, accountID int64) ([]model.EngageableAd, error) {
	if accountID <= 0 {
		return nil, model.ErrUnauthenticated
	}

	ads, err := s.repo.ListActiveAdvertisements(ctx)
	if err != nil {
		return nil, err
	}

	last, err := s.repo.LastEngagements(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	res := make([]model.EngageableAd, 0, len(ads))
	for _, ad := range ads {
		item := model.EngageableAd{Ad: ad}
		if at, ok := last[ad.ID]; ok {
			item.CooldownRemaining = model.CooldownRemaining(at, now)
		}
		res = append(res, item)
	}
	return res, nil
}

// RecordEngagement засчитывает просмотр объявления и начисляет вознаграждение.
func (s *Service) RecordEngagement(ctx context.Context, accountID, adID int64) (model.EngagementResult, error) {
	if accountID <= 0 {
		return model.EngagementResult{}, model.ErrUnauthenticated
	}

	now := s.nowFn()

	if s.cooldowns != nil {
		if err := s.checkCachedCooldown(ctx, accountID, adID, now); err != nil {
			outcome := metrics.OutcomeRejected
			if errors.Is(err, model.ErrCooldownActive) {
				outcome = metrics.OutcomeCooldown
			}
			metrics.RecordEngagement(outcome, decimal.Zero)
			return model.EngagementResult{}, err
		}
	}

	res, err := s.repo.RecordEngagement(ctx, accountID, adID, now)
	if err != nil {
		outcome := metrics.OutcomeRejected
		if errors.Is(err, model.ErrCooldownActive) {
			outcome = metrics.OutcomeCooldown
		}
		metrics.RecordEngagement(outcome, decimal.Zero)
		return model.EngagementResult{}, err
	}

	metrics.RecordEngagement(metrics.OutcomeCredited, res.Earned)

	if s.cooldowns != nil {
		if err := s.cooldowns.Remember(ctx, accountID, adID, now); err != nil {
			s.logger.Warn("cooldown cache update failed", zap.Int64("accountID", accountID), zap.Error(err))
		}
	}

	s.publish(ctx, events.TypeEngagementRecorded, strconv.FormatInt(accountID, 10), events.EngagementRecorded{
		AccountID:        accountID,
		AdID:             adID,
		Earned:           res.Earned,
		AvailableBalance: res.AvailableBalance,
		EngagementCount:  res.EngagementCount,
		EngagedAt:        now,
	})

	return res, nil
}

// checkCachedCooldown отклоняет просмотр по кэшу, не обращаясь к журналу просмотров.
// Статус учётной записи проверяется раньше кэша.
func (s *Service) checkCachedCooldown(ctx context.Context, accountID, adID int64, now time.Time) error {
	account, err := s.repo.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := account.Status.Operable(); err != nil {
		return err
	}

	at, ok, err := s.cooldowns.Last(ctx, accountID, adID)
	if err != nil {
		s.logger.Warn("cooldown cache lookup failed", zap.Int64("accountID", accountID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	if remaining := model.CooldownRemaining(at, now); remaining > 0 {
		return &model.CooldownError{Remaining: remaining}
	}
	return nil
}
