package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/masterhub-system/internal/model"
)

const bookingColumns = `id, customer_id, provider_id, service, address, scheduled_at, notes, status, amount, created_at, updated_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b      model.Booking
		status string
		amount decimal.NullDecimal
	)
	err := row.Scan(&b.ID, &b.CustomerID, &b.ProviderID, &b.Service, &b.Address,
		&b.ScheduledAt, &b.Notes, &status, &amount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	if amount.Valid {
		b.Amount = &amount.Decimal
	}
	return &b, nil
}

// lockBooking блокирует строку заказа на время транзакции и возвращает её текущее состояние.
func lockBooking(ctx context.Context, tx pgx.Tx, bookingID int64) (*model.Booking, error) {
	b, err := scanBooking(tx.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`,
		bookingID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("lock booking: %w", err)
	}
	return b, nil
}

// CreateBooking создаёт заказ услуги в статусе REQUESTED без назначенной цены.
func (r *PostgresRepository) CreateBooking(ctx context.Context, customerID, providerID int64, service, address string, scheduledAt time.Time, notes string) (*model.Booking, error) {
	var booking *model.Booking
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		var role string
		err := tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, providerID).Scan(&role)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: provider %d", ErrUserNotFound, providerID)
			}
			return fmt.Errorf("get provider: %w", err)
		}
		if model.Role(role) != model.RoleProvider {
			return fmt.Errorf("%w: provider %d", ErrUserNotFound, providerID)
		}

		b, err := scanBooking(tx.QueryRow(ctx,
			`INSERT INTO bookings (customer_id, provider_id, service, address, scheduled_at, notes, status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+bookingColumns,
			customerID, providerID, service, address, scheduledAt, notes, string(model.BookingRequested),
		))
		if err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}

		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// GetBookingsByUser возвращает заказы, в которых пользователь участвует
// как клиент или как исполнитель.
func (r *PostgresRepository) GetBookingsByUser(ctx context.Context, userID int64) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE customer_id = $1 OR provider_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()

	var res []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// PriceBooking назначает цену заказа. Доступно только исполнителю заказа,
// заказ должен находиться в статусе REQUESTED.
func (r *PostgresRepository) PriceBooking(ctx context.Context, bookingID, providerUserID int64, amount decimal.Decimal) (*model.Booking, error) {
	var booking *model.Booking
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}

		if b.ProviderID != providerUserID {
			return ErrForbidden
		}
		if !model.CanTransition(b.Status, model.BookingPriced) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, model.BookingPriced)
		}

		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $2, amount = $3, updated_at = now() WHERE id = $1`,
			bookingID, string(model.BookingPriced), amount,
		)
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		b.Status = model.BookingPriced
		b.Amount = &amount
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// DecideBooking фиксирует решение клиента по назначенной цене: подтверждение
// или отказ. Доступно только клиенту заказа, заказ должен быть в статусе PRICED.
func (r *PostgresRepository) DecideBooking(ctx context.Context, bookingID, customerUserID int64, accepted bool) (*model.Booking, error) {
	target := model.BookingConfirmed
	if !accepted {
		target = model.BookingRejected
	}

	var booking *model.Booking
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}

		if b.CustomerID != customerUserID {
			return ErrForbidden
		}
		if !model.CanTransition(b.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, target)
		}

		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`,
			bookingID, string(target),
		)
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		b.Status = target
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// CompleteBooking отмечает подтверждённый заказ выполненным.
// Доступно исполнителю заказа и администратору.
func (r *PostgresRepository) CompleteBooking(ctx context.Context, bookingID, callerUserID int64, callerRole model.Role) (*model.Booking, error) {
	var booking *model.Booking
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}

		if callerRole != model.RoleAdmin && b.ProviderID != callerUserID {
			return ErrForbidden
		}
		if !model.CanTransition(b.Status, model.BookingCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, model.BookingCompleted)
		}

		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`,
			bookingID, string(model.BookingCompleted),
		)
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		b.Status = model.BookingCompleted
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// CapturePayment проводит расчёт по выполненному заказу: списывает цену заказа
// с кошелька клиента, зачисляет её исполнителю, создаёт платёж и закрывает
// заказ. Всё происходит в одной транзакции, поэтому повторный вызов застаёт
// заказ в статусе CLOSED и завершается ErrInvalidTransition — второй платёж
// по заказу невозможен.
func (r *PostgresRepository) CapturePayment(ctx context.Context, bookingID, customerUserID int64, reference string) (*model.Payment, error) {
	var payment *model.Payment
	err := r.withRetry(ctx, func() error {
		return r.inTx(ctx, func(tx pgx.Tx) error {
			b, err := lockBooking(ctx, tx, bookingID)
			if err != nil {
				return err
			}

			if b.CustomerID != customerUserID {
				return ErrForbidden
			}
			if !model.CanTransition(b.Status, model.BookingClosed) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, model.BookingClosed)
			}
			if b.Amount == nil || !b.Amount.IsPositive() {
				return fmt.Errorf("%w: booking has no positive amount", ErrInvalidTransition)
			}

			customerAccount, err := accountIDForUser(ctx, tx, b.CustomerID)
			if err != nil {
				return err
			}
			providerAccount, err := accountIDForUser(ctx, tx, b.ProviderID)
			if err != nil {
				return err
			}

			err = r.engine.Transfer(ctx, tx, customerAccount, providerAccount, *b.Amount,
				model.EntryPaymentSent, model.EntryPaymentReceived, &bookingID)
			if err != nil {
				return err
			}

			p := &model.Payment{
				BookingID: bookingID,
				Amount:    *b.Amount,
				Status:    model.PaymentSucceeded,
				Reference: reference,
			}
			err = tx.QueryRow(ctx,
				`INSERT INTO payments (booking_id, amount, status, reference)
				 VALUES ($1, $2, $3, $4)
				 RETURNING id, paid_at`,
				bookingID, *b.Amount, string(model.PaymentSucceeded), reference,
			).Scan(&p.ID, &p.PaidAt)
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
					return fmt.Errorf("%w: booking already paid", ErrInvalidTransition)
				}
				return fmt.Errorf("insert payment: %w", err)
			}

			_, err = tx.Exec(ctx,
				`UPDATE bookings SET status = $2, updated_at = now() WHERE id = $1`,
				bookingID, string(model.BookingClosed),
			)
			if err != nil {
				return fmt.Errorf("close booking: %w", err)
			}

			payment = p
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}
