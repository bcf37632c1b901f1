// Package repository содержит реализацию доступа к данным в PostgreSQL и в памяти процесса.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/adrewards/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const accountColumns = `id, login, password_hash, status, signup_bonus, available_balance,
	lifetime_earnings, engagement_count, is_admin, created_at`

const withdrawalColumns = `id, account_id, amount, payment_method, holder_name, account_number,
	bank_name, status, created_at, resolved_by, resolved_at, notes`

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// storeError оборачивает ошибку хранилища в ErrPersistence. Ретраи не выполняются:
// решение о повторе принимает вызывающая сторона.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected:
			return fmt.Errorf("%s: %w: write conflict: %w", op, model.ErrPersistence, err)
		case pgerrcode.IsConnectionException(pgErr.Code):
			return fmt.Errorf("%s: %w: store unavailable: %w", op, model.ErrPersistence, err)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var (
		a                        model.Account
		status                   string
		bonus, balance, earnings int64
	)
	err := row.Scan(&a.ID, &a.Login, &a.PasswordHash, &status, &bonus, &balance,
		&earnings, &a.EngagementCount, &a.IsAdmin, &a.CreatedAt)
	if err != nil {
		return model.Account{}, err
	}

	a.Status = model.AccountStatus(status)
	a.SignupBonus = model.MoneyFromCents(bonus)
	a.AvailableBalance = model.MoneyFromCents(balance)
	a.LifetimeEarnings = model.MoneyFromCents(earnings)
	return a, nil
}

// CreateAccount регистрирует учётную запись в статусе pending с бонусом за регистрацию.
func (r *PostgresRepository) CreateAccount(ctx context.Context, login string, passwordHash []byte) (model.Account, error) {
	bonus, err := model.ToCents(model.SignupBonus)
	if err != nil {
		return model.Account{}, err
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO accounts (login, password_hash, status, signup_bonus)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+accountColumns,
		login, passwordHash, string(model.AccountStatusPending), bonus,
	)

	a, err := scanAccount(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return model.Account{}, fmt.Errorf("%w: %s", model.ErrAccountExists, login)
		}
		return model.Account{}, storeError("create account", err)
	}
	return a, nil
}

// GetAccount возвращает учётную запись по идентификатору.
func (r *PostgresRepository) GetAccount(ctx context.Context, id int64) (model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, model.ErrAccountNotFound
		}
		return model.Account{}, storeError("get account", err)
	}
	return a, nil
}

// GetAccountByLogin возвращает учётную запись по логину.
func (r *PostgresRepository) GetAccountByLogin(ctx context.Context, login string) (model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE login = $1`, login))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, model.ErrAccountNotFound
		}
		return model.Account{}, storeError("get account by login", err)
	}
	return a, nil
}

// UpdateAccountStatus переводит учётную запись из статуса from в статус to одним условным UPDATE.
func (r *PostgresRepository) UpdateAccountStatus(ctx context.Context, id int64, from, to model.AccountStatus) (model.Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`UPDATE accounts SET status = $3 WHERE id = $1 AND status = $2 RETURNING `+accountColumns,
		id, string(from), string(to)))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, storeError("update account status", err)
	}

	if _, err := r.GetAccount(ctx, id); err != nil {
		return model.Account{}, err
	}
	return model.Account{}, model.ErrInvalidTransition
}

// PromoteAdmin назначает учётной записи права администратора и активирует её.
func (r *PostgresRepository) PromoteAdmin(ctx context.Context, login string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE accounts SET is_admin = TRUE, status = $2 WHERE login = $1`,
		login, string(model.AccountStatusActive))
	if err != nil {
		return storeError("promote admin", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrAccountNotFound
	}
	return nil
}

// GetAdvertisement возвращает активное объявление.
func (r *PostgresRepository) GetAdvertisement(ctx context.Context, id int64) (model.Advertisement, error) {
	var (
		ad     model.Advertisement
		reward int64
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, url, reward, active FROM advertisements WHERE id = $1 AND active`, id,
	).Scan(&ad.ID, &ad.Title, &ad.URL, &reward, &ad.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Advertisement{}, model.ErrAdNotFound
		}
		return model.Advertisement{}, storeError("get advertisement", err)
	}
	ad.Reward = model.MoneyFromCents(reward)
	return ad, nil
}

// ListActiveAdvertisements возвращает все активные объявления.
func (r *PostgresRepository) ListActiveAdvertisements(ctx context.Context) ([]model.Advertisement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, url, reward, active FROM advertisements WHERE active ORDER BY id`)
	if err != nil {
		return nil, storeError("select advertisements", err)
	}
	defer rows.Close()

	var ads []model.Advertisement
	for rows.Next() {
		var (
			ad     model.Advertisement
			reward int64
		)
		if err := rows.Scan(&ad.ID, &ad.Title, &ad.URL, &reward, &ad.Active); err != nil {
			return nil, storeError("scan advertisement", err)
		}
		ad.Reward = model.MoneyFromCents(reward)
		ads = append(ads, ad)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("rows error", err)
	}

	return ads, nil
}

// ReplaceAdvertisements сохраняет снимок каталога; объявления, отсутствующие в снимке, деактивируются.
func (r *PostgresRepository) ReplaceAdvertisements(ctx context.Context, ads []model.Advertisement) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]int64, 0, len(ads))
	batch := &pgx.Batch{}
	for _, ad := range ads {
		reward, err := model.RewardCents(ad.Reward)
		if err != nil {
			return fmt.Errorf("advertisement %d: %w", ad.ID, err)
		}
		ids = append(ids, ad.ID)
		batch.Queue(
			`INSERT INTO advertisements (id, title, url, reward, active, updated_at)
			 VALUES ($1, $2, $3, $4, $5, now())
			 ON CONFLICT (id) DO UPDATE
			 SET title = EXCLUDED.title, url = EXCLUDED.url, reward = EXCLUDED.reward,
			     active = EXCLUDED.active, updated_at = EXCLUDED.updated_at`,
			ad.ID, ad.Title, ad.URL, reward, ad.Active,
		)
	}
	batch.Queue(`UPDATE advertisements SET active = FALSE, updated_at = now() WHERE active AND NOT (id = ANY($1))`, ids)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return storeError("upsert advertisements", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError("commit tx", err)
	}
	return nil
}

// LastEngagements возвращает время последнего засчитанного просмотра по каждому объявлению пользователя.
func (r *PostgresRepository) LastEngagements(ctx context.Context, accountID int64) (map[int64]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ad_id, last_engaged_at FROM engagement_cooldowns WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, storeError("select cooldowns", err)
	}
	defer rows.Close()

	res := make(map[int64]time.Time)
	for rows.Next() {
		var (
			adID int64
			last time.Time
		)
		if err := rows.Scan(&adID, &last); err != nil {
			return nil, storeError("scan cooldown", err)
		}
		res[adID] = last
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("rows error", err)
	}

	return res, nil
}

// RecordEngagement засчитывает просмотр объявления. Проверка паузы, запись в журнал и
// начисление выполняются в одной транзакции; строка пользователя блокируется на время транзакции.
func (r *PostgresRepository) RecordEngagement(ctx context.Context, accountID, adID int64, now time.Time) (model.EngagementResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.EngagementResult{}, storeError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EngagementResult{}, model.ErrAccountNotFound
		}
		return model.EngagementResult{}, storeError("lock account for update", err)
	}
	if err := model.AccountStatus(status).Operable(); err != nil {
		return model.EngagementResult{}, err
	}

	var reward int64
	err = tx.QueryRow(ctx, `SELECT reward FROM advertisements WHERE id = $1 AND active`, adID).Scan(&reward)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.EngagementResult{}, model.ErrAdNotFound
		}
		return model.EngagementResult{}, storeError("select advertisement", err)
	}

	// Условная вставка: строка обновляется, только если пауза истекла.
	tag, err := tx.Exec(ctx,
		`INSERT INTO engagement_cooldowns (account_id, ad_id, last_engaged_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, ad_id) DO UPDATE
		 SET last_engaged_at = EXCLUDED.last_engaged_at
		 WHERE engagement_cooldowns.last_engaged_at <= $4`,
		accountID, adID, now, now.Add(-model.EngagementCooldown),
	)
	if err != nil {
		return model.EngagementResult{}, storeError("update cooldown", err)
	}
	if tag.RowsAffected() == 0 {
		var last time.Time
		err = tx.QueryRow(ctx,
			`SELECT last_engaged_at FROM engagement_cooldowns WHERE account_id = $1 AND ad_id = $2`,
			accountID, adID,
		).Scan(&last)
		if err != nil {
			return model.EngagementResult{}, storeError("select cooldown", err)
		}
		return model.EngagementResult{}, &model.CooldownError{Remaining: model.CooldownRemaining(last, now)}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO engagements (account_id, ad_id, engaged_at) VALUES ($1, $2, $3)`,
		accountID, adID, now,
	)
	if err != nil {
		return model.EngagementResult{}, storeError("insert engagement", err)
	}

	var balance, count int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts
		 SET available_balance = available_balance + $2,
		     lifetime_earnings = lifetime_earnings + $2,
		     engagement_count = engagement_count + 1,
		     signup_bonus = CASE WHEN engagement_count = 0 THEN 0 ELSE signup_bonus END
		 WHERE id = $1
		 RETURNING available_balance, engagement_count`,
		accountID, reward,
	).Scan(&balance, &count)
	if err != nil {
		return model.EngagementResult{}, storeError("credit account", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.EngagementResult{}, storeError("commit tx", err)
	}

	return model.EngagementResult{
		Earned:           model.MoneyFromCents(reward),
		AvailableBalance: model.MoneyFromCents(balance),
		EngagementCount:  count,
	}, nil
}

func scanWithdrawal(row pgx.Row) (model.WithdrawalRequest, error) {
	var (
		w              model.WithdrawalRequest
		amount         int64
		method, status string
	)
	err := row.Scan(&w.ID, &w.AccountID, &amount, &method, &w.PaymentDetails.HolderName,
		&w.PaymentDetails.AccountNumber, &w.PaymentDetails.BankName, &status, &w.CreatedAt,
		&w.ResolvedBy, &w.ResolvedAt, &w.Notes)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}

	w.Amount = model.MoneyFromCents(amount)
	w.PaymentDetails.Method = model.PaymentMethod(method)
	w.Status = model.WithdrawalStatus(status)
	return w, nil
}

// CreateWithdrawalRequest проверяет право на вывод под блокировкой строки пользователя и создаёт заявку.
// Баланс при создании заявки не списывается.
func (r *PostgresRepository) CreateWithdrawalRequest(ctx context.Context, req model.WithdrawalRequest) (model.WithdrawalRequest, error) {
	amount, err := model.ToCents(req.Amount)
	if err != nil {
		return model.WithdrawalRequest{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.WithdrawalRequest{}, storeError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var (
		status           string
		count, available int64
	)
	err = tx.QueryRow(ctx,
		`SELECT status, engagement_count, available_balance FROM accounts WHERE id = $1 FOR UPDATE`,
		req.AccountID,
	).Scan(&status, &count, &available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WithdrawalRequest{}, model.ErrAccountNotFound
		}
		return model.WithdrawalRequest{}, storeError("lock account for update", err)
	}

	if err := checkWithdrawalEligibility(model.AccountStatus(status), count, available, amount); err != nil {
		return model.WithdrawalRequest{}, err
	}

	d := req.PaymentDetails
	created, err := scanWithdrawal(tx.QueryRow(ctx,
		`INSERT INTO withdrawal_requests
		 (id, account_id, amount, payment_method, holder_name, account_number, bank_name, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+withdrawalColumns,
		req.ID, req.AccountID, amount, string(d.Method), d.HolderName, d.AccountNumber, d.BankName,
		string(model.WithdrawalStatusPending), req.CreatedAt,
	))
	if err != nil {
		return model.WithdrawalRequest{}, storeError("insert withdrawal request", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.WithdrawalRequest{}, storeError("commit tx", err)
	}

	return created, nil
}

// ListWithdrawalsByAccount возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) ListWithdrawalsByAccount(ctx context.Context, accountID int64) ([]model.WithdrawalRequest, error) {
	return r.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE account_id = $1 ORDER BY created_at DESC`,
		accountID)
}

// ListWithdrawals возвращает заявки в указанном статусе в порядке поступления. Пустой статус означает все заявки.
func (r *PostgresRepository) ListWithdrawals(ctx context.Context, status model.WithdrawalStatus) ([]model.WithdrawalRequest, error) {
	if status == "" {
		return r.queryWithdrawals(ctx,
			`SELECT `+withdrawalColumns+` FROM withdrawal_requests ORDER BY created_at`)
	}
	return r.queryWithdrawals(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE status = $1 ORDER BY created_at`,
		string(status))
}

func (r *PostgresRepository) queryWithdrawals(ctx context.Context, query string, args ...any) ([]model.WithdrawalRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("select withdrawals", err)
	}
	defer rows.Close()

	var res []model.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, storeError("scan withdrawal", err)
		}
		res = append(res, w)
	}

	if err := rows.Err(); err != nil {
		return nil, storeError("rows error", err)
	}

	return res, nil
}

// ResolveWithdrawal применяет решение администратора. Заявка блокируется, списание выполняется
// условным декрементом, статус меняется только из pending.
func (r *PostgresRepository) ResolveWithdrawal(ctx context.Context, res model.Resolution) (model.WithdrawalRequest, error) {
	target, ok := res.Decision.Status()
	if !ok {
		return model.WithdrawalRequest{}, model.ErrInvalidDecision
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.WithdrawalRequest{}, storeError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var (
		accountID, amount int64
		status            string
	)
	err = tx.QueryRow(ctx,
		`SELECT account_id, amount, status FROM withdrawal_requests WHERE id = $1 FOR UPDATE`,
		res.RequestID,
	).Scan(&accountID, &amount, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WithdrawalRequest{}, model.ErrNotFound
		}
		return model.WithdrawalRequest{}, storeError("lock withdrawal request", err)
	}
	if model.WithdrawalStatus(status) != model.WithdrawalStatusPending {
		return model.WithdrawalRequest{}, model.ErrAlreadyResolved
	}

	if target == model.WithdrawalStatusApproved {
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET available_balance = available_balance - $2
			 WHERE id = $1 AND available_balance >= $2`,
			accountID, amount,
		)
		if err != nil {
			return model.WithdrawalRequest{}, storeError("debit account", err)
		}
		if tag.RowsAffected() == 0 {
			return model.WithdrawalRequest{}, model.ErrInsufficientBalance
		}
	}

	resolved, err := scanWithdrawal(tx.QueryRow(ctx,
		`UPDATE withdrawal_requests
		 SET status = $2, resolved_by = $3, resolved_at = $4, notes = $5
		 WHERE id = $1 AND status = $6
		 RETURNING `+withdrawalColumns,
		res.RequestID, string(target), res.AdminID, res.At, res.Notes, string(model.WithdrawalStatusPending),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WithdrawalRequest{}, model.ErrAlreadyResolved
		}
		return model.WithdrawalRequest{}, storeError("resolve withdrawal request", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.WithdrawalRequest{}, storeError("commit tx", err)
	}

	return resolved, nil
}

// Stats возвращает агрегаты по учётным записям, просмотрам и заявкам.
func (r *PostgresRepository) Stats(ctx context.Context) (model.AdminStats, error) {
	var (
		s                                          model.AdminStats
		balance, earnings, pendingSum, approvedSum int64
	)

	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'pending'),
		        COUNT(*) FILTER (WHERE status = 'active'),
		        COUNT(*) FILTER (WHERE status = 'frozen'),
		        COALESCE(SUM(engagement_count), 0),
		        COALESCE(SUM(available_balance), 0),
		        COALESCE(SUM(lifetime_earnings), 0)
		 FROM accounts`,
	).Scan(&s.Accounts, &s.PendingAccounts, &s.ActiveAccounts, &s.FrozenAccounts,
		&s.Engagements, &balance, &earnings)
	if err != nil {
		return model.AdminStats{}, storeError("account stats", err)
	}

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = 'pending'),
		        COALESCE(SUM(amount) FILTER (WHERE status = 'pending'), 0),
		        COUNT(*) FILTER (WHERE status = 'approved'),
		        COALESCE(SUM(amount) FILTER (WHERE status = 'approved'), 0),
		        COUNT(*) FILTER (WHERE status = 'rejected')
		 FROM withdrawal_requests`,
	).Scan(&s.PendingWithdrawals, &pendingSum, &s.ApprovedWithdrawals, &approvedSum, &s.RejectedWithdrawals)
	if err != nil {
		return model.AdminStats{}, storeError("withdrawal stats", err)
	}

	s.TotalAvailableBalance = model.MoneyFromCents(balance)
	s.TotalLifetimeEarnings = model.MoneyFromCents(earnings)
	s.PendingWithdrawalAmount = model.MoneyFromCents(pendingSum)
	s.ApprovedWithdrawalAmount = model.MoneyFromCents(approvedSum)
	return s, nil
}

// checkWithdrawalEligibility проверяет статус, число просмотров и баланс в этом порядке.
func checkWithdrawalEligibility(status model.AccountStatus, engagements, available, amount int64) error {
	if err := status.Operable(); err != nil {
		return err
	}
	if engagements < model.MinEngagementsForWithdrawal {
		return model.ErrNotEligible
	}
	if amount <= 0 {
		return model.ErrInvalidAmount
	}
	if amount > available {
		return model.ErrInsufficientBalance
	}
	return nil
}
