package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/adrewards/internal/model"
)

type memAccount struct {
	account                  model.Account
	bonus, balance, earnings int64
}

type memAd struct {
	ad     model.Advertisement
	reward int64
}

type memWithdrawal struct {
	req    model.WithdrawalRequest
	amount int64
}

type cooldownKey struct {
	accountID, adID int64
}

// MemoryRepository хранит данные в памяти процесса. Каждая операция выполняется под общей
// блокировкой и потому атомарна так же, как транзакция PostgresRepository.
type MemoryRepository struct {
	mu          sync.RWMutex
	nextID      int64
	accounts    map[int64]*memAccount
	logins      map[string]int64
	ads         map[int64]memAd
	engagements []model.Engagement
	cooldowns   map[cooldownKey]time.Time
	withdrawals map[uuid.UUID]*memWithdrawal
	order       []uuid.UUID
}

// DefaultAdvertisements возвращает начальный каталог, совпадающий с миграцией 00002.
func DefaultAdvertisements() []model.Advertisement {
	ads := make([]model.Advertisement, 0, 3)
	for id := int64(1); id <= 3; id++ {
		ads = append(ads, model.Advertisement{
			ID:     id,
			Title:  fmt.Sprintf("Partner offer #%d", id),
			URL:    fmt.Sprintf("https://example.com/ads/%d", id),
			Reward: model.MoneyFromCents(10175),
			Active: true,
		})
	}
	return ads
}

// NewMemoryRepository создаёт пустое хранилище с указанными объявлениями.
func NewMemoryRepository(ads ...model.Advertisement) *MemoryRepository {
	r := &MemoryRepository{
		accounts:    make(map[int64]*memAccount),
		logins:      make(map[string]int64),
		ads:         make(map[int64]memAd),
		cooldowns:   make(map[cooldownKey]time.Time),
		withdrawals: make(map[uuid.UUID]*memWithdrawal),
	}
	if err := r.ReplaceAdvertisements(context.Background(), ads); err != nil {
		panic(fmt.Sprintf("seed advertisements: %v", err))
	}
	return r
}

// Close ничего не делает: ресурсов, требующих освобождения, нет.
func (r *MemoryRepository) Close() error { return nil }

func (a *memAccount) snapshot() model.Account {
	out := a.account
	out.PasswordHash = slices.Clone(a.account.PasswordHash)
	out.SignupBonus = model.MoneyFromCents(a.bonus)
	out.AvailableBalance = model.MoneyFromCents(a.balance)
	out.LifetimeEarnings = model.MoneyFromCents(a.earnings)
	return out
}

func (w *memWithdrawal) snapshot() model.WithdrawalRequest {
	out := w.req
	out.Amount = model.MoneyFromCents(w.amount)
	if w.req.ResolvedBy != nil {
		v := *w.req.ResolvedBy
		out.ResolvedBy = &v
	}
	if w.req.ResolvedAt != nil {
		v := *w.req.ResolvedAt
		out.ResolvedAt = &v
	}
	return out
}

// CreateAccount регистрирует учётную запись в статусе pending с бонусом за регистрацию.
func (r *MemoryRepository) CreateAccount(_ context.Context, login string, passwordHash []byte) (model.Account, error) {
	bonus, err := model.ToCents(model.SignupBonus)
	if err != nil {
		return model.Account{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.logins[login]; ok {
		return model.Account{}, model.ErrAccountExists
	}

	r.nextID++
	a := &memAccount{
		account: model.Account{
			ID:           r.nextID,
			Login:        login,
			PasswordHash: slices.Clone(passwordHash),
			Status:       model.AccountStatusPending,
			CreatedAt:    time.Now().UTC(),
		},
		bonus: bonus,
	}
	r.accounts[a.account.ID] = a
	r.logins[login] = a.account.ID
	return a.snapshot(), nil
}

// GetAccount возвращает учётную запись по идентификатору.
func (r *MemoryRepository) GetAccount(_ context.Context, id int64) (model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return model.Account{}, model.ErrAccountNotFound
	}
	return a.snapshot(), nil
}

// GetAccountByLogin возвращает учётную запись по логину.
func (r *MemoryRepository) GetAccountByLogin(_ context.Context, login string) (model.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.logins[login]
	if !ok {
		return model.Account{}, model.ErrAccountNotFound
	}
	return r.accounts[id].snapshot(), nil
}

// UpdateAccountStatus переводит учётную запись из статуса from в статус to.
func (r *MemoryRepository) UpdateAccountStatus(_ context.Context, id int64, from, to model.AccountStatus) (model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return model.Account{}, model.ErrAccountNotFound
	}
	if a.account.Status != from {
		return model.Account{}, model.ErrInvalidTransition
	}
	a.account.Status = to
	return a.snapshot(), nil
}

// PromoteAdmin назначает учётной записи права администратора и активирует её.
func (r *MemoryRepository) PromoteAdmin(_ context.Context, login string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.logins[login]
	if !ok {
		return model.ErrAccountNotFound
	}
	a := r.accounts[id]
	a.account.IsAdmin = true
	a.account.Status = model.AccountStatusActive
	return nil
}

// GetAdvertisement возвращает активное объявление.
func (r *MemoryRepository) GetAdvertisement(_ context.Context, id int64) (model.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ad, ok := r.ads[id]
	if !ok || !ad.ad.Active {
		return model.Advertisement{}, model.ErrAdNotFound
	}
	return ad.ad, nil
}

// ListActiveAdvertisements возвращает все активные объявления по возрастанию идентификатора.
func (r *MemoryRepository) ListActiveAdvertisements(_ context.Context) ([]model.Advertisement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ads []model.Advertisement
	for _, ad := range r.ads {
		if ad.ad.Active {
			ads = append(ads, ad.ad)
		}
	}
	slices.SortFunc(ads, func(a, b model.Advertisement) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return ads, nil
}

// ReplaceAdvertisements сохраняет снимок каталога; объявления, отсутствующие в снимке, деактивируются.
func (r *MemoryRepository) ReplaceAdvertisements(_ context.Context, ads []model.Advertisement) error {
	next := make(map[int64]memAd, len(ads))
	for _, ad := range ads {
		reward, err := model.RewardCents(ad.Reward)
		if err != nil {
			return fmt.Errorf("advertisement %d: %w", ad.ID, err)
		}
		ad.Reward = model.MoneyFromCents(reward)
		next[ad.ID] = memAd{ad: ad, reward: reward}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, old := range r.ads {
		if _, ok := next[id]; !ok {
			old.ad.Active = false
			next[id] = old
		}
	}
	r.ads = next
	return nil
}

// LastEngagements возвращает время последнего засчитанного просмотра по каждому объявлению пользователя.
func (r *MemoryRepository) LastEngagements(_ context.Context, accountID int64) (map[int64]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make(map[int64]time.Time)
	for k, last := range r.cooldowns {
		if k.accountID == accountID {
			res[k.adID] = last
		}
	}
	return res, nil
}

// RecordEngagement засчитывает просмотр объявления.
func (r *MemoryRepository) RecordEngagement(_ context.Context, accountID, adID int64, now time.Time) (model.EngagementResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[accountID]
	if !ok {
		return model.EngagementResult{}, model.ErrAccountNotFound
	}
	if err := a.account.Status.Operable(); err != nil {
		return model.EngagementResult{}, err
	}

	ad, ok := r.ads[adID]
	if !ok || !ad.ad.Active {
		return model.EngagementResult{}, model.ErrAdNotFound
	}

	key := cooldownKey{accountID: accountID, adID: adID}
	if last, ok := r.cooldowns[key]; ok {
		if remaining := model.CooldownRemaining(last, now); remaining > 0 {
			return model.EngagementResult{}, &model.CooldownError{Remaining: remaining}
		}
	}

	r.cooldowns[key] = now
	r.engagements = append(r.engagements, model.Engagement{AccountID: accountID, AdID: adID, EngagedAt: now})

	if a.account.EngagementCount == 0 {
		a.bonus = 0
	}
	a.account.EngagementCount++
	a.balance += ad.reward
	a.earnings += ad.reward

	return model.EngagementResult{
		Earned:           model.MoneyFromCents(ad.reward),
		AvailableBalance: model.MoneyFromCents(a.balance),
		EngagementCount:  a.account.EngagementCount,
	}, nil
}

// CreateWithdrawalRequest проверяет право на вывод и создаёт заявку без списания баланса.
func (r *MemoryRepository) CreateWithdrawalRequest(_ context.Context, req model.WithdrawalRequest) (model.WithdrawalRequest, error) {
	amount, err := model.ToCents(req.Amount)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[req.AccountID]
	if !ok {
		return model.WithdrawalRequest{}, model.ErrAccountNotFound
	}
	if err := checkWithdrawalEligibility(a.account.Status, a.account.EngagementCount, a.balance, amount); err != nil {
		return model.WithdrawalRequest{}, err
	}

	req.Status = model.WithdrawalStatusPending
	req.ResolvedBy = nil
	req.ResolvedAt = nil
	w := &memWithdrawal{req: req, amount: amount}
	r.withdrawals[req.ID] = w
	r.order = append(r.order, req.ID)
	return w.snapshot(), nil
}

// ListWithdrawalsByAccount возвращает заявки пользователя, новые первыми.
func (r *MemoryRepository) ListWithdrawalsByAccount(_ context.Context, accountID int64) ([]model.WithdrawalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.WithdrawalRequest
	for i := len(r.order) - 1; i >= 0; i-- {
		w := r.withdrawals[r.order[i]]
		if w.req.AccountID == accountID {
			res = append(res, w.snapshot())
		}
	}
	return res, nil
}

// ListWithdrawals возвращает заявки в указанном статусе в порядке поступления. Пустой статус означает все заявки.
func (r *MemoryRepository) ListWithdrawals(_ context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.WithdrawalRequest
	for _, id := range r.order {
		w := r.withdrawals[id]
		if status == "" || w.req.Status == status {
			res = append(res, w.snapshot())
		}
	}
	return res, nil
}

// ResolveWithdrawal применяет решение администратора.
func (r *MemoryRepository) ResolveWithdrawal(_ context.Context, res model.Resolution) (model.WithdrawalRequest, error) {
	target, ok := res.Decision.Status()
	if !ok {
		return model.WithdrawalRequest{}, model.ErrInvalidDecision
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.withdrawals[res.RequestID]
	if !ok {
		return model.WithdrawalRequest{}, model.ErrNotFound
	}
	if w.req.Status != model.WithdrawalStatusPending {
		return model.WithdrawalRequest{}, model.ErrAlreadyResolved
	}

	if target == model.WithdrawalStatusApproved {
		a, ok := r.accounts[w.req.AccountID]
		if !ok {
			return model.WithdrawalRequest{}, model.ErrAccountNotFound
		}
		if a.balance < w.amount {
			return model.WithdrawalRequest{}, model.ErrInsufficientBalance
		}
		a.balance -= w.amount
	}

	adminID, at := res.AdminID, res.At
	w.req.Status = target
	w.req.ResolvedBy = &adminID
	w.req.ResolvedAt = &at
	w.req.Notes = res.Notes
	return w.snapshot(), nil
}

// Stats возвращает агрегаты по учётным записям, просмотрам и заявкам.
func (r *MemoryRepository) Stats(_ context.Context) (model.AdminStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		s                                          model.AdminStats
		balance, earnings, pendingSum, approvedSum int64
	)
	for _, a := range r.accounts {
		s.Accounts++
		switch a.account.Status {
		case model.AccountStatusPending:
			s.PendingAccounts++
		case model.AccountStatusActive:
			s.ActiveAccounts++
		case model.AccountStatusFrozen:
			s.FrozenAccounts++
		}
		s.Engagements += a.account.EngagementCount
		balance += a.balance
		earnings += a.earnings
	}
	for _, w := range r.withdrawals {
		switch w.req.Status {
		case model.WithdrawalStatusPending:
			s.PendingWithdrawals++
			pendingSum += w.amount
		case model.WithdrawalStatusApproved:
			s.ApprovedWithdrawals++
			approvedSum += w.amount
		case model.WithdrawalStatusRejected:
			s.RejectedWithdrawals++
		}
	}

	s.TotalAvailableBalance = model.MoneyFromCents(balance)
	s.TotalLifetimeEarnings = model.MoneyFromCents(earnings)
	s.PendingWithdrawalAmount = model.MoneyFromCents(pendingSum)
	s.ApprovedWithdrawalAmount = model.MoneyFromCents(approvedSum)
	return s, nil
}

// Engagements возвращает копию журнала просмотров пользователя.
func (r *MemoryRepository) Engagements(accountID int64) []model.Engagement {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var res []model.Engagement
	for _, e := range r.engagements {
		if e.AccountID == accountID {
			res = append(res, e)
		}
	}
	return res
}
