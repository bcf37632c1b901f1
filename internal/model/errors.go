package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnauthenticated возвращается, если операция вызвана без идентификатора пользователя.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrPermissionDenied возвращается, если операция требует прав администратора.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAccountNotApproved возвращается для учётных записей, ещё не одобренных администратором.
	ErrAccountNotApproved = errors.New("account not approved")
	// ErrAccountFrozen возвращается для замороженных учётных записей.
	ErrAccountFrozen = errors.New("account frozen")
	// ErrAccountNotFound возвращается, если учётная запись не найдена.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountExists возвращается при попытке зарегистрировать занятый логин.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAdNotFound возвращается, если объявление не найдено или неактивно.
	ErrAdNotFound = errors.New("advertisement not found")
	// ErrCooldownActive является базовой ошибкой для CooldownError.
	ErrCooldownActive = errors.New("cooldown active")
	// ErrNotEligible возвращается, если у пользователя недостаточно просмотров для вывода.
	ErrNotEligible = errors.New("not eligible for withdrawal")
	// ErrInvalidAmount возвращается для неположительных сумм, сумм точнее копейки и сумм вне допустимого диапазона.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidPaymentDetails возвращается при некорректных реквизитах выплаты.
	ErrInvalidPaymentDetails = errors.New("invalid payment details")
	// ErrInsufficientBalance возвращается при попытке вывести сумму больше доступного баланса.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrNotFound возвращается, если заявка на вывод не найдена.
	ErrNotFound = errors.New("withdrawal request not found")
	// ErrAlreadyResolved возвращается при повторном решении по заявке.
	ErrAlreadyResolved = errors.New("withdrawal request already resolved")
	// ErrInvalidDecision возвращается при неизвестном решении администратора.
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrInvalidTransition возвращается при недопустимой смене статуса учётной записи.
	ErrInvalidTransition = errors.New("invalid account status transition")
	// ErrPersistence оборачивает сбои хранилища: недоступность, конфликт записи.
	ErrPersistence = errors.New("persistence failure")
)

// CooldownError сообщает, сколько осталось до следующего засчитываемого просмотра объявления.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %d seconds remaining", ErrCooldownActive, e.RemainingSeconds())
}

// Is позволяет сравнивать ошибку с ErrCooldownActive через errors.Is.
func (e *CooldownError) Is(target error) bool {
	return target == ErrCooldownActive
}

// RemainingSeconds округляет остаток вверх, чтобы повтор через указанное время был успешным.
func (e *CooldownError) RemainingSeconds() int64 {
	return int64(math.Ceil(e.Remaining.Seconds()))
}

// CooldownRemaining возвращает оставшееся ожидание после просмотра в момент last.
func CooldownRemaining(last, now time.Time) time.Duration {
	elapsed := now.Sub(last)
	if elapsed >= EngagementCooldown {
		return 0
	}
	return EngagementCooldown - elapsed
}
