// Package events публикует доменные события сервиса во внешнюю шину.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	TypeEngagementRecorded  = "engagement.recorded"
	TypeWithdrawalRequested = "withdrawal.requested"
	TypeWithdrawalResolved  = "withdrawal.resolved"
)

// Publisher отправляет событие с ключом партиционирования.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, payload any) error
	Close() error
}

// EngagementRecorded публикуется после засчитанного просмотра.
type EngagementRecorded struct {
	AccountID        int64           `json:"account_id"`
	AdID             int64           `json:"ad_id"`
	Earned           decimal.Decimal `json:"earned"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	EngagementCount  int64           `json:"engagement_count"`
	EngagedAt        time.Time       `json:"engaged_at"`
}

// WithdrawalRequested публикуется после создания заявки на вывод.
type WithdrawalRequested struct {
	RequestID string          `json:"request_id"`
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// WithdrawalResolved публикуется после решения администратора.
type WithdrawalResolved struct {
	RequestID  string          `json:"request_id"`
	AccountID  int64           `json:"account_id"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`
	ResolvedBy int64           `json:"resolved_by"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// NopPublisher отбрасывает события; используется, когда брокер не настроен.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }

func (NopPublisher) Close() error { return nil }
