// Package model содержит доменные сущности сервиса вознаграждений за просмотр рекламы.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// EngagementCooldown задаёт минимальный интервал между двумя засчитанными просмотрами одного объявления.
	EngagementCooldown = 24 * time.Hour
	// MinEngagementsForWithdrawal задаёт порог просмотров, после которого доступен вывод средств.
	MinEngagementsForWithdrawal int64 = 28
)

// SignupBonus начисляется один раз при регистрации.
var SignupBonus = decimal.NewFromInt(25000)

// AccountStatus описывает состояние учётной записи.
type AccountStatus string

const (
	AccountStatusPending AccountStatus = "pending"
	AccountStatusActive  AccountStatus = "active"
	AccountStatusFrozen  AccountStatus = "frozen"
)

// ParseAccountStatus возвращает статус по строковому представлению.
func ParseAccountStatus(s string) (AccountStatus, bool) {
	switch st := AccountStatus(s); st {
	case AccountStatusPending, AccountStatusActive, AccountStatusFrozen:
		return st, true
	}
	return "", false
}

// Operable сообщает, может ли учётная запись получать вознаграждения и выводить средства.
func (s AccountStatus) Operable() error {
	switch s {
	case AccountStatusActive:
		return nil
	case AccountStatusFrozen:
		return ErrAccountFrozen
	default:
		return ErrAccountNotApproved
	}
}

// StatusAction описывает административное действие над статусом учётной записи.
type StatusAction string

const (
	StatusActionApprove  StatusAction = "approve"
	StatusActionFreeze   StatusAction = "freeze"
	StatusActionUnfreeze StatusAction = "unfreeze"
)

// Transition возвращает допустимый исходный и целевой статусы для действия.
func (a StatusAction) Transition() (from, to AccountStatus, ok bool) {
	switch a {
	case StatusActionApprove:
		return AccountStatusPending, AccountStatusActive, true
	case StatusActionFreeze:
		return AccountStatusActive, AccountStatusFrozen, true
	case StatusActionUnfreeze:
		return AccountStatusFrozen, AccountStatusActive, true
	}
	return "", "", false
}

// Account представляет учётную запись пользователя и её денежные счётчики.
type Account struct {
	ID               int64
	Login            string
	PasswordHash     []byte
	Status           AccountStatus
	SignupBonus      decimal.Decimal
	AvailableBalance decimal.Decimal
	LifetimeEarnings decimal.Decimal
	EngagementCount  int64
	IsAdmin          bool
	CreatedAt        time.Time
}

// Advertisement описывает справочную запись каталога объявлений.
type Advertisement struct {
	ID     int64
	Title  string
	URL    string
	Reward decimal.Decimal
	Active bool
}

// Engagement описывает запись журнала просмотров.
type Engagement struct {
	AccountID int64
	AdID      int64
	EngagedAt time.Time
}

// EngagementResult возвращается после успешно засчитанного просмотра.
type EngagementResult struct {
	Earned           decimal.Decimal
	AvailableBalance decimal.Decimal
	EngagementCount  int64
}

// EngageableAd описывает объявление с оставшимся для пользователя временем ожидания.
type EngageableAd struct {
	Ad                Advertisement
	CooldownRemaining time.Duration
}

// PaymentMethod определяет способ выплаты.
type PaymentMethod string

const (
	PaymentMethodBank PaymentMethod = "bank"
	PaymentMethodCard PaymentMethod = "card"
)

// PaymentDetails содержит реквизиты для выплаты.
type PaymentDetails struct {
	Method        PaymentMethod `json:"method"`
	HolderName    string        `json:"holder_name"`
	AccountNumber string        `json:"account_number"`
	BankName      string        `json:"bank_name,omitempty"`
}

// WithdrawalStatus описывает статус заявки на вывод.
type WithdrawalStatus string

const (
	WithdrawalStatusPending  WithdrawalStatus = "pending"
	WithdrawalStatusApproved WithdrawalStatus = "approved"
	WithdrawalStatusRejected WithdrawalStatus = "rejected"
)

// ParseWithdrawalStatus возвращает статус заявки по строковому представлению.
func ParseWithdrawalStatus(s string) (WithdrawalStatus, bool) {
	switch st := WithdrawalStatus(s); st {
	case WithdrawalStatusPending, WithdrawalStatusApproved, WithdrawalStatusRejected:
		return st, true
	}
	return "", false
}

// Decision описывает решение администратора по заявке.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Status возвращает итоговый статус заявки для решения.
func (d Decision) Status() (WithdrawalStatus, bool) {
	switch d {
	case DecisionApprove:
		return WithdrawalStatusApproved, true
	case DecisionReject:
		return WithdrawalStatusRejected, true
	}
	return "", false
}

// WithdrawalRequest описывает заявку пользователя на вывод средств.
type WithdrawalRequest struct {
	ID             uuid.UUID
	AccountID      int64
	Amount         decimal.Decimal
	PaymentDetails PaymentDetails
	Status         WithdrawalStatus
	CreatedAt      time.Time
	ResolvedBy     *int64
	ResolvedAt     *time.Time
	Notes          string
}

// Resolution описывает решение администратора по заявке.
type Resolution struct {
	RequestID uuid.UUID
	Decision  Decision
	AdminID   int64
	Notes     string
	At        time.Time
}

// AdminStats содержит агрегаты по всем учётным записям и заявкам.
type AdminStats struct {
	Accounts                 int64           `json:"accounts"`
	PendingAccounts          int64           `json:"pending_accounts"`
	ActiveAccounts           int64           `json:"active_accounts"`
	FrozenAccounts           int64           `json:"frozen_accounts"`
	Engagements              int64           `json:"engagements"`
	TotalAvailableBalance    decimal.Decimal `json:"total_available_balance"`
	TotalLifetimeEarnings    decimal.Decimal `json:"total_lifetime_earnings"`
	PendingWithdrawals       int64           `json:"pending_withdrawals"`
	PendingWithdrawalAmount  decimal.Decimal `json:"pending_withdrawal_amount"`
	ApprovedWithdrawals      int64           `json:"approved_withdrawals"`
	ApprovedWithdrawalAmount decimal.Decimal `json:"approved_withdrawal_amount"`
	RejectedWithdrawals      int64           `json:"rejected_withdrawals"`
}
