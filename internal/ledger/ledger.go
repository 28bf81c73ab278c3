// Package ledger реализует движок кошельков: все изменения балансов
// проходят через него и сопровождаются неизменяемой записью в журнале.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/masterhub-system/internal/model"
)

// ErrInvalidAmount возвращается при неположительной сумме операции.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInsufficientFunds возвращается, если списание увело бы баланс в минус.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountNotFound возвращается, если счёт не существует.
	ErrAccountNotFound = errors.New("account not found")
)

// Querier описывает возможности транзакции хранилища, необходимые движку.
// Операции движка всегда выполняются внутри транзакции вызывающей стороны,
// поэтому изменение баланса и запись журнала фиксируются или откатываются вместе.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Engine выполняет операции над балансами счетов.
type Engine struct{}

// NewEngine создаёт движок леджера.
func NewEngine() *Engine {
	return &Engine{}
}

// Credit увеличивает баланс счёта и добавляет запись журнала.
// Возвращает новый баланс.
func (e *Engine) Credit(ctx context.Context, q Querier, accountID int64, amount decimal.Decimal, kind model.EntryKind, relatedID *int64) (decimal.Decimal, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}

	balance, err := e.lockAccount(ctx, q, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := balance.Add(amount)
	if err := e.apply(ctx, q, accountID, newBalance, amount, kind, relatedID); err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}

// Debit уменьшает баланс счёта и добавляет запись журнала с отрицательной суммой.
// Списание возможно, только если итоговый баланс неотрицателен.
// Возвращает новый баланс.
func (e *Engine) Debit(ctx context.Context, q Querier, accountID int64, amount decimal.Decimal, kind model.EntryKind, relatedID *int64) (decimal.Decimal, error) {
	if amount.Cmp(decimal.Zero) <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}

	balance, err := e.lockAccount(ctx, q, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	newBalance := balance.Sub(amount)
	if newBalance.IsNegative() {
		return decimal.Zero, ErrInsufficientFunds
	}

	if err := e.apply(ctx, q, accountID, newBalance, amount.Neg(), kind, relatedID); err != nil {
		return decimal.Zero, err
	}

	return newBalance, nil
}

// Transfer переводит сумму со счёта fromID на счёт toID как единое целое.
// Оба счёта блокируются в порядке возрастания идентификаторов, чтобы два
// встречных перевода не взяли блокировки в противоположном порядке.
func (e *Engine) Transfer(ctx context.Context, q Querier, fromID, toID int64, amount decimal.Decimal, debitKind, creditKind model.EntryKind, relatedID *int64) error {
	if amount.Cmp(decimal.Zero) <= 0 {
		return ErrInvalidAmount
	}

	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}

	if _, err := e.lockAccount(ctx, q, first); err != nil {
		return err
	}
	if _, err := e.lockAccount(ctx, q, second); err != nil {
		return err
	}

	// Блокировки уже удержаны транзакцией, повторный FOR UPDATE их не меняет.
	if _, err := e.Debit(ctx, q, fromID, amount, debitKind, relatedID); err != nil {
		return err
	}
	if _, err := e.Credit(ctx, q, toID, amount, creditKind, relatedID); err != nil {
		return err
	}

	return nil
}

func (e *Engine) lockAccount(ctx context.Context, q Querier, accountID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: id %d", ErrAccountNotFound, accountID)
		}
		return decimal.Zero, fmt.Errorf("lock account: %w", err)
	}
	return balance, nil
}

func (e *Engine) apply(ctx context.Context, q Querier, accountID int64, newBalance, entryAmount decimal.Decimal, kind model.EntryKind, relatedID *int64) error {
	_, err := q.Exec(ctx,
		`UPDATE accounts SET balance = $2 WHERE id = $1`,
		accountID, newBalance,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO ledger_entries (account_id, kind, amount, related_id) VALUES ($1, $2, $3, $4)`,
		accountID, string(kind), entryAmount, relatedID,
	)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}

	return nil
}
