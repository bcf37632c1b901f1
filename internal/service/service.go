// Package service реализует бизнес-логику начисления вознаграждений и вывода средств.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmeshcher/adrewards/internal/catalog"
	"github.com/mmeshcher/adrewards/internal/events"
	"github.com/mmeshcher/adrewards/internal/model"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateAccount(ctx context.Context, login string, passwordHash []byte) (model.Account, error)
	GetAccount(ctx context.Context, id int64) (model.Account, error)
	GetAccountByLogin(ctx context.Context, login string) (model.Account, error)
	UpdateAccountStatus(ctx context.Context, id int64, from, to model.AccountStatus) (model.Account, error)
	PromoteAdmin(ctx context.Context, login string) error
	GetAdvertisement(ctx context.Context, id int64) (model.Advertisement, error)
	ListActiveAdvertisements(ctx context.Context) ([]model.Advertisement, error)
	ReplaceAdvertisements(ctx context.Context, ads []model.Advertisement) error
	LastEngagements(ctx context.Context, accountID int64) (map[int64]time.Time, error)
	RecordEngagement(ctx context.Context, accountID, adID int64, now time.Time) (model.EngagementResult, error)
	CreateWithdrawalRequest(ctx context.Context, req model.WithdrawalRequest) (model.WithdrawalRequest, error)
	ListWithdrawalsByAccount(ctx context.Context, accountID int64) ([]model.WithdrawalRequest, error)
	ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error)
	ResolveWithdrawal(ctx context.Context, res model.Resolution) (model.WithdrawalRequest, error)
	Stats(ctx context.Context) (model.AdminStats, error)
}

// CooldownCache описывает необязательный кэш времени последних просмотров.
type CooldownCache interface {
	Remember(ctx context.Context, accountID, adID int64, at time.Time) error
	Last(ctx context.Context, accountID, adID int64) (time.Time, bool, error)
}

// Service содержит бизнес-логику сервиса вознаграждений.
type Service struct {
	repo          Repository
	catalogClient *catalog.Client
	logger        *zap.Logger
	cooldowns     CooldownCache
	publisher     events.Publisher
	nowFn         func() time.Time
}

// Option настраивает необязательные зависимости сервиса.
type Option func(*Service)

// WithCooldownCache подключает кэш последних просмотров.
func WithCooldownCache(c CooldownCache) Option {
	return func(s *Service) { s.cooldowns = c }
}

// WithPublisher подключает публикацию доменных событий.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.nowFn = now }
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом каталога объявлений.
func NewService(repo Repository, catalogClient *catalog.Client, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:          repo,
		catalogClient: catalogClient,
		logger:        logger,
		publisher:     events.NopPublisher{},
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	return errors.Join(errs...)
}

// RegisterAccount регистрирует нового пользователя. Учётная запись ожидает одобрения администратора.
func (s *Service) RegisterAccount(ctx context.Context, login, password string) (model.Account, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return model.Account{}, fmt.Errorf("hash password: %w", err)
	}
	return s.repo.CreateAccount(ctx, login, hashed)
}

// AuthenticateAccount проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateAccount(ctx context.Context, login, password string) (int64, error) {
	a, err := s.repo.GetAccountByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, model.ErrAccountNotFound) {
			return 0, model.ErrInvalidCredentials
		}
		return 0, err
	}

	if err := bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)); err != nil {
		return 0, model.ErrInvalidCredentials
	}

	return a.ID, nil
}

// GetAccount возвращает учётную запись вызывающего пользователя.
func (s *Service) GetAccount(ctx context.Context, accountID int64) (model.Account, error) {
	if accountID <= 0 {
		return model.Account{}, model.ErrUnauthenticated
	}
	return s.repo.GetAccount(ctx, accountID)
}

// BootstrapAdmin назначает администратором учётную запись с указанным логином.
func (s *Service) BootstrapAdmin(ctx context.Context, login string) error {
	if err := s.repo.PromoteAdmin(ctx, login); err != nil {
		return fmt.Errorf("promote %q: %w", login, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType, key string, payload any) {
	if err := s.publisher.Publish(ctx, eventType, key, payload); err != nil {
		s.logger.Warn("publish event failed", zap.String("type", eventType), zap.Error(err))
	}
}
