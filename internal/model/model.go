// Package model содержит доменные сущности платформы masterhub.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role описывает роль пользователя в системе.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// IsValidRegistrationRole сообщает, допустима ли роль при самостоятельной регистрации.
func IsValidRegistrationRole(r Role) bool {
	return r == RoleCustomer || r == RoleProvider
}

// User представляет зарегистрированного пользователя платформы.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Role         Role
	Rating       decimal.Decimal
	ReviewCount  int
	CreatedAt    time.Time
}

// Account представляет кошелёк пользователя.
// Баланс изменяется только движком леджера.
type Account struct {
	ID        int64
	UserID    int64
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// EntryKind описывает тип записи леджера.
type EntryKind string

const (
	EntryDepositApproved EntryKind = "deposit_approved"
	EntryWithdrawalSent  EntryKind = "withdrawal_sent"
	EntryPaymentSent     EntryKind = "payment_sent"
	EntryPaymentReceived EntryKind = "payment_received"
)

// LedgerEntry представляет неизменяемую запись об одном изменении баланса.
// Сумма подписана: списания хранятся с отрицательным знаком,
// поэтому баланс счёта всегда равен сумме его записей.
type LedgerEntry struct {
	ID        int64
	AccountID int64
	Kind      EntryKind
	Amount    decimal.Decimal
	RelatedID *int64
	CreatedAt time.Time
}

// RequestKind описывает тип заявки на операцию с кошельком.
type RequestKind string

const (
	RequestDeposit    RequestKind = "deposit"
	RequestWithdrawal RequestKind = "withdrawal"
)

// IsValidRequestKind проверяет тип заявки.
func IsValidRequestKind(k RequestKind) bool {
	return k == RequestDeposit || k == RequestWithdrawal
}

// RequestStatus описывает статус заявки. PENDING — единственный нетерминальный статус.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// WalletRequest представляет заявку пользователя на пополнение или вывод средств,
// ожидающую решения администратора.
type WalletRequest struct {
	ID            int64
	AccountID     int64
	Kind          RequestKind
	Amount        decimal.Decimal
	ProofRef      string
	ScreenshotRef *string
	Status        RequestStatus
	Reason        *string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// BookingStatus описывает статус заказа услуги.
type BookingStatus string

const (
	BookingRequested BookingStatus = "REQUESTED"
	BookingPriced    BookingStatus = "PRICED"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingRejected  BookingStatus = "REJECTED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingClosed    BookingStatus = "CLOSED"
)

// bookingTransitions задаёт машину состояний заказа.
// REJECTED и CLOSED — терминальные статусы.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingRequested: {BookingPriced},
	BookingPriced:    {BookingConfirmed, BookingRejected},
	BookingConfirmed: {BookingCompleted},
	BookingCompleted: {BookingClosed},
}

// CanTransition сообщает, допустим ли переход заказа из статуса from в статус to.
// Повторный переход в тот же статус недопустим.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Booking представляет заказ услуги клиентом у исполнителя.
// Amount равен nil, пока исполнитель не назначил цену.
type Booking struct {
	ID          int64
	CustomerID  int64
	ProviderID  int64
	Service     string
	Address     string
	ScheduledAt time.Time
	Notes       string
	Status      BookingStatus
	Amount      *decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PaymentStatus описывает статус платежа. Моделируется только успешный платёж:
// неуспешная попытка списания не оставляет платежа вовсе.
type PaymentStatus string

// PaymentSucceeded — единственный терминальный статус платежа.
const PaymentSucceeded PaymentStatus = "SUCCEEDED"

// Payment представляет проведённый расчёт по заказу. Не более одного платежа на заказ.
type Payment struct {
	ID        int64
	BookingID int64
	Amount    decimal.Decimal
	Status    PaymentStatus
	Reference string
	PaidAt    time.Time
}

// Review представляет отзыв клиента о выполненном заказе.
// Оценка 0 означает отзыв без оценки: такие отзывы не участвуют в рейтинге.
type Review struct {
	ID         int64
	BookingID  int64
	CustomerID int64
	ProviderID int64
	Rating     int
	Comment    string
	CreatedAt  time.Time
}
