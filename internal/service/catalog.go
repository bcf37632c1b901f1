package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/adrewards/internal/model"
)

// StartCatalogSync периодически загружает каталог объявлений и сохраняет его снимок.
// Блокируется до отмены контекста; без клиента каталога возвращается сразу.
func (s *Service) StartCatalogSync(ctx context.Context, interval time.Duration) {
	if s.catalogClient == nil {
		return
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	etag := s.syncCatalog(ctx, "")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			etag = s.syncCatalog(ctx, etag)
		}
	}
}

// syncCatalog выполняет одну синхронизацию и возвращает ETag сохранённого снимка.
func (s *Service) syncCatalog(ctx context.Context, etag string) string {
	snap, err := s.catalogClient.ListAdvertisements(ctx, etag)
	if err != nil {
		s.logger.Warn("catalog fetch failed", zap.Error(err))
		return etag
	}

	if snap.RetryAfter > 0 {
		s.logger.Info("catalog rate limited", zap.Duration("retryAfter", snap.RetryAfter))
		timer := time.NewTimer(snap.RetryAfter)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
		return etag
	}

	// Пустой ответ не считается снимком каталога.
	if snap.Unchanged || len(snap.Ads) == 0 {
		return etag
	}

	ads := make([]model.Advertisement, 0, len(snap.Ads))
	for _, ad := range snap.Ads {
		if _, err := model.RewardCents(ad.Reward); err != nil {
			s.logger.Warn("catalog advertisement skipped", zap.Int64("adID", ad.ID), zap.String("reward", ad.Reward.String()))
			continue
		}
		ads = append(ads, ad.ToModel())
	}

	if err := s.repo.ReplaceAdvertisements(ctx, ads); err != nil {
		s.logger.Error("catalog snapshot save failed", zap.Error(err))
		return etag
	}
	s.logger.Debug("catalog synced", zap.Int("ads", len(ads)), zap.String("etag", snap.ETag))
	return snap.ETag
}
