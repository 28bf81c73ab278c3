// Package repository содержит реализацию доступа к данным в PostgreSQL.
//
// Каждая операция, изменяющая балансы или статусы, выполняется как атомарная
// единица: транзакция блокирует изменяемые строки (FOR UPDATE), читает
// текущее состояние, проверяет предусловия и применяет изменения. Частично
// применённое состояние не видно никакому другому вызову.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/masterhub-system/internal/ledger"
	"github.com/mmeshcher/masterhub-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookingNotFound возвращается, если заказ не найден.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrRequestNotFound возвращается, если заявка на операцию с кошельком не найдена.
	ErrRequestNotFound = errors.New("wallet request not found")
	// ErrForbidden возвращается, если операция недоступна вызывающему пользователю.
	ErrForbidden = errors.New("operation forbidden for caller")
	// ErrInvalidTransition возвращается при недопустимом переходе статуса заказа.
	ErrInvalidTransition = errors.New("invalid booking status transition")
	// ErrAlreadyProcessed возвращается при повторной обработке терминальной заявки.
	ErrAlreadyProcessed = errors.New("wallet request already processed")
	// ErrAlreadyReviewed возвращается при попытке оставить второй отзыв на заказ.
	ErrAlreadyReviewed = errors.New("booking already reviewed")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	engine *ledger.Engine
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

	r := &PostgresRepository{
		pool:   pool,
		engine: ledger.NewEngine(),
	}

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

// withRetry повторяет fn при ошибках сериализации, дедлоках и сетевых сбоях.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// inTx выполняет fn внутри транзакции и фиксирует её при отсутствии ошибки.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт пользователя и его счёт с нулевым балансом.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO users (login, password_hash, role) VALUES ($1, $2, $3) RETURNING id`,
			login, passwordHash, string(role),
		).Scan(&id)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrUserExists, login)
			}
			return fmt.Errorf("create user: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO accounts (user_id, balance) VALUES ($1, 0)`,
			id,
		)
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, role, rating, review_count, created_at
		 FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &role, &u.Rating, &u.ReviewCount, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// GetBalance возвращает текущий баланс кошелька пользователя.
func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrUserNotFound
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// GetLedgerEntries возвращает историю операций по кошельку пользователя.
func (r *PostgresRepository) GetLedgerEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT e.id, e.account_id, e.kind, e.amount, e.related_id, e.created_at
		 FROM ledger_entries e
		 JOIN accounts a ON a.id = e.account_id
		 WHERE a.user_id = $1
		 ORDER BY e.created_at DESC, e.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger entries: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerEntry
	for rows.Next() {
		var (
			entry model.LedgerEntry
			kind  string
		)
		if err := rows.Scan(&entry.ID, &entry.AccountID, &kind, &entry.Amount, &entry.RelatedID, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry.Kind = model.EntryKind(kind)
		res = append(res, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// accountIDForUser возвращает идентификатор счёта пользователя внутри транзакции.
func accountIDForUser(ctx context.Context, tx pgx.Tx, userID int64) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx,
		`SELECT id FROM accounts WHERE user_id = $1`,
		userID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get account: %w", err)
	}
	return id, nil
}
