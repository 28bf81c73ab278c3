package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/masterhub-system/internal/model"
)

const walletRequestColumns = `id, account_id, kind, amount, proof_ref, screenshot_ref, status, reason, created_at, processed_at`

func scanWalletRequest(row pgx.Row) (*model.WalletRequest, error) {
	var (
		wr     model.WalletRequest
		kind   string
		status string
	)
	err := row.Scan(&wr.ID, &wr.AccountID, &kind, &wr.Amount, &wr.ProofRef,
		&wr.ScreenshotRef, &status, &wr.Reason, &wr.CreatedAt, &wr.ProcessedAt)
	if err != nil {
		return nil, err
	}
	wr.Kind = model.RequestKind(kind)
	wr.Status = model.RequestStatus(status)
	return &wr, nil
}

// CreateWalletRequest сохраняет заявку пользователя на пополнение или вывод
// средств в статусе PENDING. Леджер на этом шаге не затрагивается.
func (r *PostgresRepository) CreateWalletRequest(ctx context.Context, userID int64, kind model.RequestKind, amount decimal.Decimal, proofRef string, screenshotRef *string) (*model.WalletRequest, error) {
	var request *model.WalletRequest
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		accountID, err := accountIDForUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		wr, err := scanWalletRequest(tx.QueryRow(ctx,
			`INSERT INTO wallet_requests (account_id, kind, amount, proof_ref, screenshot_ref, status)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING `+walletRequestColumns,
			accountID, string(kind), amount, proofRef, screenshotRef, string(model.RequestPending),
		))
		if err != nil {
			return fmt.Errorf("insert wallet request: %w", err)
		}

		request = wr
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// GetWalletRequestsByUser возвращает заявки пользователя, новые первыми.
func (r *PostgresRepository) GetWalletRequestsByUser(ctx context.Context, userID int64) ([]model.WalletRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT wr.id, wr.account_id, wr.kind, wr.amount, wr.proof_ref, wr.screenshot_ref, wr.status, wr.reason, wr.created_at, wr.processed_at
		 FROM wallet_requests wr
		 JOIN accounts a ON a.id = wr.account_id
		 WHERE a.user_id = $1
		 ORDER BY wr.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select wallet requests: %w", err)
	}
	defer rows.Close()

	return collectWalletRequests(rows)
}

// GetPendingWalletRequests возвращает все необработанные заявки, старые первыми.
func (r *PostgresRepository) GetPendingWalletRequests(ctx context.Context) ([]model.WalletRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+walletRequestColumns+`
		 FROM wallet_requests
		 WHERE status = $1
		 ORDER BY created_at`,
		string(model.RequestPending),
	)
	if err != nil {
		return nil, fmt.Errorf("select pending requests: %w", err)
	}
	defer rows.Close()

	return collectWalletRequests(rows)
}

func collectWalletRequests(rows pgx.Rows) ([]model.WalletRequest, error) {
	var res []model.WalletRequest
	for rows.Next() {
		wr, err := scanWalletRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan wallet request: %w", err)
		}
		res = append(res, *wr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ApproveWalletRequest одобряет заявку: в одной транзакции блокирует её строку,
// проводит зачисление или списание через движок леджера и помечает заявку
// одобренной. Если средств на вывод не хватает, транзакция откатывается и
// заявка остаётся в статусе PENDING. Возвращает новый баланс счёта.
func (r *PostgresRepository) ApproveWalletRequest(ctx context.Context, requestID int64) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			wr, err := lockWalletRequest(ctx, tx, requestID)
			if err != nil {
				return err
			}

			relatedID := wr.ID
			switch wr.Kind {
			case model.RequestDeposit:
				newBalance, err = r.engine.Credit(ctx, tx, wr.AccountID, wr.Amount, model.EntryDepositApproved, &relatedID)
			case model.RequestWithdrawal:
				newBalance, err = r.engine.Debit(ctx, tx, wr.AccountID, wr.Amount, model.EntryWithdrawalSent, &relatedID)
			default:
				return fmt.Errorf("unknown request kind %q", wr.Kind)
			}
			if err != nil {
				return err
			}

			_, err = tx.Exec(ctx,
				`UPDATE wallet_requests SET status = $2, processed_at = now() WHERE id = $1`,
				requestID, string(model.RequestApproved),
			)
			if err != nil {
				return fmt.Errorf("update wallet request: %w", err)
			}

			return nil
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// RejectWalletRequest отклоняет заявку с указанием причины. Леджер не затрагивается.
func (r *PostgresRepository) RejectWalletRequest(ctx context.Context, requestID int64, reason string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := lockWalletRequest(ctx, tx, requestID); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`UPDATE wallet_requests SET status = $2, reason = $3, processed_at = now() WHERE id = $1`,
			requestID, string(model.RequestRejected), reason,
		)
		if err != nil {
			return fmt.Errorf("update wallet request: %w", err)
		}

		return nil
	})
}

// lockWalletRequest блокирует строку заявки и проверяет, что заявка ещё не обработана.
func lockWalletRequest(ctx context.Context, tx pgx.Tx, requestID int64) (*model.WalletRequest, error) {
	wr, err := scanWalletRequest(tx.QueryRow(ctx,
		`SELECT `+walletRequestColumns+` FROM wallet_requests WHERE id = $1 FOR UPDATE`,
		requestID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("lock wallet request: %w", err)
	}

	if wr.Status != model.RequestPending {
		return nil, fmt.Errorf("%w: status %s", ErrAlreadyProcessed, wr.Status)
	}

	return wr, nil
}
