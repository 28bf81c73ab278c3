package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mmeshcher/masterhub-system/internal/model"
)

// CreateReview сохраняет отзыв клиента по закрытому заказу и в той же
// транзакции пересчитывает агрегированный рейтинг исполнителя по всем
// отзывам с оценкой выше нуля. На заказ допускается не более одного отзыва.
func (r *PostgresRepository) CreateReview(ctx context.Context, bookingID, customerUserID int64, rating int, comment string) (*model.Review, error) {
	var review *model.Review
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}

		if b.CustomerID != customerUserID {
			return ErrForbidden
		}
		if b.Status != model.BookingClosed {
			return fmt.Errorf("%w: booking is %s, review requires %s", ErrInvalidTransition, b.Status, model.BookingClosed)
		}

		var paid bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM payments WHERE booking_id = $1)`,
			bookingID,
		).Scan(&paid)
		if err != nil {
			return fmt.Errorf("check payment: %w", err)
		}
		if !paid {
			return fmt.Errorf("%w: booking has no payment", ErrInvalidTransition)
		}

		var exists bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM reviews WHERE booking_id = $1)`,
			bookingID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check review: %w", err)
		}
		if exists {
			return ErrAlreadyReviewed
		}

		rev := &model.Review{
			BookingID:  bookingID,
			CustomerID: b.CustomerID,
			ProviderID: b.ProviderID,
			Rating:     rating,
			Comment:    comment,
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO reviews (booking_id, customer_id, provider_id, rating, comment)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at`,
			bookingID, b.CustomerID, b.ProviderID, rating, comment,
		).Scan(&rev.ID, &rev.CreatedAt)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrAlreadyReviewed
			}
			return fmt.Errorf("insert review: %w", err)
		}

		_, err = tx.Exec(ctx,
			`UPDATE users u
			 SET rating = agg.avg_rating, review_count = agg.cnt
			 FROM (
				 SELECT COALESCE(AVG(rating), 0) AS avg_rating, COUNT(*) AS cnt
				 FROM reviews
				 WHERE provider_id = $1 AND rating > 0
			 ) agg
			 WHERE u.id = $1`,
			b.ProviderID,
		)
		if err != nil {
			return fmt.Errorf("update provider rating: %w", err)
		}

		review = rev
		return nil
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}
