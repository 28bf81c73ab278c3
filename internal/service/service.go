// Package service реализует бизнес-логику платформы masterhub.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/masterhub-system/internal/ledger"
	"github.com/mmeshcher/masterhub-system/internal/model"
	"github.com/mmeshcher/masterhub-system/internal/notification"
	"github.com/mmeshcher/masterhub-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidRole возвращается при недопустимой роли регистрации.
	ErrInvalidRole = errors.New("invalid registration role")
	// ErrInvalidRating возвращается при оценке вне диапазона 0..5.
	ErrInvalidRating = errors.New("rating must be between 0 and 5")
	// ErrInvalidRequest возвращается при некорректной заявке на операцию с кошельком.
	ErrInvalidRequest = errors.New("invalid wallet request")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetLedgerEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	CreateBooking(ctx context.Context, customerID, providerID int64, service, address string, scheduledAt time.Time, notes string) (*model.Booking, error)
	GetBookingsByUser(ctx context.Context, userID int64) ([]model.Booking, error)
	PriceBooking(ctx context.Context, bookingID, providerUserID int64, amount decimal.Decimal) (*model.Booking, error)
	DecideBooking(ctx context.Context, bookingID, customerUserID int64, accepted bool) (*model.Booking, error)
	CompleteBooking(ctx context.Context, bookingID, callerUserID int64, callerRole model.Role) (*model.Booking, error)
	CapturePayment(ctx context.Context, bookingID, customerUserID int64, reference string) (*model.Payment, error)
	CreateReview(ctx context.Context, bookingID, customerUserID int64, rating int, comment string) (*model.Review, error)
	CreateWalletRequest(ctx context.Context, userID int64, kind model.RequestKind, amount decimal.Decimal, proofRef string, screenshotRef *string) (*model.WalletRequest, error)
	GetWalletRequestsByUser(ctx context.Context, userID int64) ([]model.WalletRequest, error)
	GetPendingWalletRequests(ctx context.Context) ([]model.WalletRequest, error)
	ApproveWalletRequest(ctx context.Context, requestID int64) (decimal.Decimal, error)
	RejectWalletRequest(ctx context.Context, requestID int64, reason string) error
}

// Notifier описывает канал исходящих уведомлений о событиях платформы.
type Notifier interface {
	Publish(ctx context.Context, event notification.Event) error
}

// Service содержит бизнес-логику платформы masterhub.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
}

// NewService создаёт новый сервис. Параметр notifier может быть nil,
// в этом случае уведомления не отправляются.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует пользователя с ролью клиента или исполнителя
// и создаёт его кошелёк.
func (s *Service) RegisterUser(ctx context.Context, login, password string, role model.Role) (*model.User, error) {
	if !model.IsValidRegistrationRole(role) {
		return nil, ErrInvalidRole
	}

	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed, role)
	if err != nil {
		return nil, err
	}

	return &model.User{ID: id, Login: login, Role: role}, nil
}

// AuthenticateUser проверяет логин и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// CreateBooking создаёт заказ услуги от имени клиента.
func (s *Service) CreateBooking(ctx context.Context, customerID, providerID int64, serviceName, address string, scheduledAt time.Time, notes string) (*model.Booking, error) {
	return s.repo.CreateBooking(ctx, customerID, providerID, serviceName, address, scheduledAt, notes)
}

// GetBookingsByUser возвращает заказы пользователя.
func (s *Service) GetBookingsByUser(ctx context.Context, userID int64) ([]model.Booking, error) {
	return s.repo.GetBookingsByUser(ctx, userID)
}

// PriceBooking назначает цену заказа от имени исполнителя.
func (s *Service) PriceBooking(ctx context.Context, bookingID, providerUserID int64, amount decimal.Decimal) (*model.Booking, error) {
	if !validation.IsValidAmount(amount) {
		return nil, ledger.ErrInvalidAmount
	}

	b, err := s.repo.PriceBooking(ctx, bookingID, providerUserID, amount)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notification.EventBookingPriced, b.ID, amount.StringFixed(2))
	return b, nil
}

// DecideBooking фиксирует решение клиента по цене заказа.
func (s *Service) DecideBooking(ctx context.Context, bookingID, customerUserID int64, accepted bool) (*model.Booking, error) {
	b, err := s.repo.DecideBooking(ctx, bookingID, customerUserID, accepted)
	if err != nil {
		return nil, err
	}

	kind := notification.EventBookingConfirmed
	if !accepted {
		kind = notification.EventBookingRejected
	}
	s.publish(ctx, kind, b.ID, "")
	return b, nil
}

// CompleteBooking отмечает заказ выполненным.
func (s *Service) CompleteBooking(ctx context.Context, bookingID, callerUserID int64, callerRole model.Role) (*model.Booking, error) {
	b, err := s.repo.CompleteBooking(ctx, bookingID, callerUserID, callerRole)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notification.EventBookingCompleted, b.ID, "")
	return b, nil
}

// CapturePayment проводит расчёт по выполненному заказу от имени клиента.
func (s *Service) CapturePayment(ctx context.Context, bookingID, customerUserID int64) (*model.Payment, error) {
	reference := "PAY-" + uuid.NewString()

	p, err := s.repo.CapturePayment(ctx, bookingID, customerUserID, reference)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notification.EventPaymentCaptured, p.BookingID, p.Amount.StringFixed(2))
	return p, nil
}

// SubmitReview сохраняет отзыв клиента по закрытому заказу.
func (s *Service) SubmitReview(ctx context.Context, bookingID, customerUserID int64, rating int, comment string) (*model.Review, error) {
	if !validation.IsValidRating(rating) {
		return nil, ErrInvalidRating
	}

	rev, err := s.repo.CreateReview(ctx, bookingID, customerUserID, rating, comment)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, notification.EventReviewPosted, rev.BookingID, "")
	return rev, nil
}

// GetBalance возвращает баланс кошелька пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.repo.GetBalance(ctx, userID)
}

// GetLedgerEntries возвращает историю операций по кошельку пользователя.
func (s *Service) GetLedgerEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.repo.GetLedgerEntries(ctx, userID)
}

// SubmitWalletRequest создаёт заявку на пополнение или вывод средств.
// Для пополнения обязательна ссылка на скриншот подтверждения.
func (s *Service) SubmitWalletRequest(ctx context.Context, userID int64, kind model.RequestKind, amount decimal.Decimal, proofRef string, screenshotRef *string) (*model.WalletRequest, error) {
	if !model.IsValidRequestKind(kind) {
		return nil, ErrInvalidRequest
	}
	if !validation.IsValidAmount(amount) {
		return nil, ledger.ErrInvalidAmount
	}
	if proofRef == "" {
		return nil, ErrInvalidRequest
	}
	if kind == model.RequestDeposit && (screenshotRef == nil || *screenshotRef == "") {
		return nil, ErrInvalidRequest
	}

	return s.repo.CreateWalletRequest(ctx, userID, kind, amount, proofRef, screenshotRef)
}

// GetWalletRequestsByUser возвращает заявки пользователя.
func (s *Service) GetWalletRequestsByUser(ctx context.Context, userID int64) ([]model.WalletRequest, error) {
	return s.repo.GetWalletRequestsByUser(ctx, userID)
}

// GetPendingWalletRequests возвращает необработанные заявки для администратора.
func (s *Service) GetPendingWalletRequests(ctx context.Context) ([]model.WalletRequest, error) {
	return s.repo.GetPendingWalletRequests(ctx)
}

// ApproveWalletRequest одобряет заявку и возвращает новый баланс счёта.
func (s *Service) ApproveWalletRequest(ctx context.Context, requestID int64) (decimal.Decimal, error) {
	balance, err := s.repo.ApproveWalletRequest(ctx, requestID)
	if err != nil {
		return decimal.Zero, err
	}

	s.publish(ctx, notification.EventWalletRequestApproved, requestID, balance.StringFixed(2))
	return balance, nil
}

// RejectWalletRequest отклоняет заявку с указанием причины.
func (s *Service) RejectWalletRequest(ctx context.Context, requestID int64, reason string) error {
	if err := s.repo.RejectWalletRequest(ctx, requestID, reason); err != nil {
		return err
	}

	s.publish(ctx, notification.EventWalletRequestRejected, requestID, "")
	return nil
}

// publish отправляет событие во внешний канал уведомлений.
// Сбой публикации логируется и не влияет на результат операции.
func (s *Service) publish(ctx context.Context, kind string, subjectID int64, amount string) {
	if s.notifier == nil {
		return
	}

	event := notification.Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		SubjectID:  subjectID,
		Amount:     amount,
		OccurredAt: time.Now().UTC(),
	}

	if err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Warn("publish notification failed", zap.String("kind", kind), zap.Error(err))
	}
}
