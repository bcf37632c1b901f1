package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/adrewards/internal/model"
)

// store описывает общий набор операций обоих хранилищ для одинаковых проверок.
type store interface {
	CreateAccount(ctx context.Context, login string, passwordHash []byte) (model.Account, error)
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	UpdateAccountStatus(ctx context.Context, id int64, from, to model.AccountStatus) (model.Account, error)
	ReplaceAdvertisements(ctx context.Context, ads []model.Advertisement) error
	ListActiveAdvertisements(ctx context.Context) ([]model.Advertisement, error)
	LastEngagements(ctx context.Context, accountID int64) (map[int64]time.Time, error)
	RecordEngagement(ctx context.Context, accountID, adID int64, now time.Time) (model.EngagementResult, error)
	CreateWithdrawalRequest(ctx context.Context, req model.WithdrawalRequest) (model.WithdrawalRequest, error)
	ListWithdrawalsByAccount(ctx context.Context, accountID int64) ([]model.WithdrawalRequest, error)
	ResolveWithdrawal(ctx context.Context, res model.Resolution) (model.WithdrawalRequest, error)
}

func stores(t *testing.T) map[string]store {
	t.Helper()

	res := map[string]store{"memory": NewMemoryRepository()}

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		return res
	}
	pg, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Close() })
	res["postgres"] = pg
	return res
}

func newLogin(t *testing.T) string {
	return fmt.Sprintf("%s-%s", t.Name(), uuid.NewString()[:8])
}

func TestStore_EngagementAndWithdrawalFlow(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			adID := time.Now().UnixNano() % 1_000_000_000
			require.NoError(t, s.ReplaceAdvertisements(ctx, []model.Advertisement{
				{ID: adID, Title: "ad", Reward: decimal.RequireFromString("101.75"), Active: true},
			}))

			a, err := s.CreateAccount(ctx, newLogin(t), []byte("hash"))
			require.NoError(t, err)
			assert.True(t, a.SignupBonus.Equal(model.SignupBonus))

			_, err = s.RecordEngagement(ctx, a.ID, adID, time.Now())
			assert.ErrorIs(t, err, model.ErrAccountNotApproved)

			_, err = s.UpdateAccountStatus(ctx, a.ID, model.AccountStatusPending, model.AccountStatusActive)
			require.NoError(t, err)

			start := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
			for i := 0; i < 28; i++ {
				now := start.Add(time.Duration(i) * model.EngagementCooldown)
				res, err := s.RecordEngagement(ctx, a.ID, adID, now)
				require.NoError(t, err)
				assert.Equal(t, int64(i+1), res.EngagementCount)

				_, err = s.RecordEngagement(ctx, a.ID, adID, now.Add(time.Hour))
				var cdErr *model.CooldownError
				require.ErrorAs(t, err, &cdErr)
				assert.Equal(t, 23*time.Hour, cdErr.Remaining)
			}

			last, err := s.LastEngagements(ctx, a.ID)
			require.NoError(t, err)
			assert.True(t, last[adID].Equal(start.Add(27*model.EngagementCooldown)))

			got, err := s.GetAccount(ctx, a.ID)
			require.NoError(t, err)
			assert.True(t, got.SignupBonus.IsZero())
			assert.True(t, got.AvailableBalance.Equal(decimal.RequireFromString("2849")))

			req, err := s.CreateWithdrawalRequest(ctx, model.WithdrawalRequest{
				ID:        uuid.New(),
				AccountID: a.ID,
				Amount:    decimal.NewFromInt(1000),
				PaymentDetails: model.PaymentDetails{
					Method:        model.PaymentMethodCard,
					HolderName:    "IVAN PETROV",
					AccountNumber: "4539578763621486",
				},
				CreatedAt: start,
			})
			require.NoError(t, err)
			assert.Equal(t, model.WithdrawalStatusPending, req.Status)

			resolved, err := s.ResolveWithdrawal(ctx, model.Resolution{
				RequestID: req.ID,
				Decision:  model.DecisionApprove,
				AdminID:   a.ID,
				At:        start,
			})
			require.NoError(t, err)
			assert.Equal(t, model.WithdrawalStatusApproved, resolved.Status)

			_, err = s.ResolveWithdrawal(ctx, model.Resolution{RequestID: req.ID, Decision: model.DecisionApprove, AdminID: a.ID, At: start})
			assert.ErrorIs(t, err, model.ErrAlreadyResolved)

			got, err = s.GetAccount(ctx, a.ID)
			require.NoError(t, err)
			assert.True(t, got.AvailableBalance.Equal(decimal.RequireFromString("1849")))

			list, err := s.ListWithdrawalsByAccount(ctx, a.ID)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "4539578763621486", list[0].PaymentDetails.AccountNumber)
		})
	}
}

func TestMemoryRepository_ReplaceAdvertisements(t *testing.T) {
	r := NewMemoryRepository(DefaultAdvertisements()...)
	ctx := context.Background()

	ads, err := r.ListActiveAdvertisements(ctx)
	require.NoError(t, err)
	require.Len(t, ads, 3)
	assert.True(t, ads[0].Reward.Equal(decimal.RequireFromString("101.75")))

	require.NoError(t, r.ReplaceAdvertisements(ctx, []model.Advertisement{
		{ID: 3, Title: "kept", Reward: decimal.NewFromInt(5), Active: true},
	}))

	ads, err = r.ListActiveAdvertisements(ctx)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, "kept", ads[0].Title)

	_, err = r.GetAdvertisement(ctx, 1)
	assert.ErrorIs(t, err, model.ErrAdNotFound)

	for _, reward := range []string{"0.001", "0", "-5", "92233720368547758.08"} {
		err = r.ReplaceAdvertisements(ctx, []model.Advertisement{
			{ID: 3, Title: "kept", Reward: decimal.NewFromInt(5), Active: true},
			{ID: 4, Reward: decimal.RequireFromString(reward), Active: true},
		})
		assert.ErrorIs(t, err, model.ErrInvalidAmount, reward)
	}

	ads, err = r.ListActiveAdvertisements(ctx)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, int64(3), ads[0].ID)
}

func TestNewMemoryRepository_InvalidSeed(t *testing.T) {
	assert.Panics(t, func() {
		NewMemoryRepository(model.Advertisement{ID: 1, Reward: decimal.Zero, Active: true})
	})
}

func TestMemoryRepository_PromoteAdmin(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()

	assert.ErrorIs(t, r.PromoteAdmin(ctx, "missing"), model.ErrAccountNotFound)

	a, err := r.CreateAccount(ctx, "root", []byte("hash"))
	require.NoError(t, err)
	require.NoError(t, r.PromoteAdmin(ctx, "root"))

	got, err := r.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)
	assert.Equal(t, model.AccountStatusActive, got.Status)
}

func TestCheckWithdrawalEligibility(t *testing.T) {
	tests := []struct {
		name        string
		status      model.AccountStatus
		engagements int64
		available   int64
		amount      int64
		wantErr     error
	}{
		{name: "ok", status: model.AccountStatusActive, engagements: 28, available: 500000, amount: 300000},
		{name: "whole balance", status: model.AccountStatusActive, engagements: 28, available: 100, amount: 100},
		{name: "pending", status: model.AccountStatusPending, engagements: 28, available: 100, amount: 1, wantErr: model.ErrAccountNotApproved},
		{name: "frozen before threshold", status: model.AccountStatusFrozen, engagements: 0, available: 0, amount: 1, wantErr: model.ErrAccountFrozen},
		{name: "27 engagements", status: model.AccountStatusActive, engagements: 27, available: 500000, amount: 1, wantErr: model.ErrNotEligible},
		{name: "zero amount", status: model.AccountStatusActive, engagements: 28, available: 100, amount: 0, wantErr: model.ErrInvalidAmount},
		{name: "over balance", status: model.AccountStatusActive, engagements: 28, available: 500000, amount: 600000, wantErr: model.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkWithdrawalEligibility(tt.status, tt.engagements, tt.available, tt.amount)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStoreError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		persistence bool
		contains    string
	}{
		{name: "serialization", err: &pgconn.PgError{Code: pgerrcode.SerializationFailure}, persistence: true, contains: "write conflict"},
		{name: "deadlock", err: &pgconn.PgError{Code: pgerrcode.DeadlockDetected}, persistence: true, contains: "write conflict"},
		{name: "connection", err: &pgconn.PgError{Code: pgerrcode.ConnectionFailure}, persistence: true, contains: "store unavailable"},
		{name: "other", err: errors.New("boom"), persistence: true, contains: "boom"},
		{name: "canceled", err: context.Canceled, persistence: false, contains: "canceled"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storeError("op", tt.err)

			assert.Equal(t, tt.persistence, errors.Is(err, model.ErrPersistence))
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}
