// Package handler содержит HTTP-обработчики API платформы masterhub.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/masterhub-system/internal/ledger"
	"github.com/mmeshcher/masterhub-system/internal/middleware"
	"github.com/mmeshcher/masterhub-system/internal/model"
	"github.com/mmeshcher/masterhub-system/internal/repository"
	"github.com/mmeshcher/masterhub-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string, role model.Role) (*model.User, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	CreateBooking(ctx context.Context, customerID, providerID int64, serviceName, address string, scheduledAt time.Time, notes string) (*model.Booking, error)
	GetBookingsByUser(ctx context.Context, userID int64) ([]model.Booking, error)
	PriceBooking(ctx context.Context, bookingID, providerUserID int64, amount decimal.Decimal) (*model.Booking, error)
	DecideBooking(ctx context.Context, bookingID, customerUserID int64, accepted bool) (*model.Booking, error)
	CompleteBooking(ctx context.Context, bookingID, callerUserID int64, callerRole model.Role) (*model.Booking, error)
	CapturePayment(ctx context.Context, bookingID, customerUserID int64) (*model.Payment, error)
	SubmitReview(ctx context.Context, bookingID, customerUserID int64, rating int, comment string) (*model.Review, error)
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error)
	GetLedgerEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	SubmitWalletRequest(ctx context.Context, userID int64, kind model.RequestKind, amount decimal.Decimal, proofRef string, screenshotRef *string) (*model.WalletRequest, error)
	GetWalletRequestsByUser(ctx context.Context, userID int64) ([]model.WalletRequest, error)
	GetPendingWalletRequests(ctx context.Context) ([]model.WalletRequest, error)
	ApproveWalletRequest(ctx context.Context, requestID int64) (decimal.Decimal, error)
	RejectWalletRequest(ctx context.Context, requestID int64, reason string) error
}

// Handler реализует HTTP-обработчики API платформы masterhub.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validator.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validate:       validator.New(),
	}
}

// decodeAndValidate разбирает JSON-тело запроса и проверяет его по тегам validate.
func (h *Handler) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// writeError сопоставляет ошибку ядра с HTTP-статусом.
// Непредвиденные ошибки логируются и возвращаются как 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	var status int
	switch {
	case errors.Is(err, repository.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, repository.ErrBookingNotFound),
		errors.Is(err, repository.ErrRequestNotFound),
		errors.Is(err, repository.ErrUserNotFound),
		errors.Is(err, ledger.ErrAccountNotFound):
		status = http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidTransition),
		errors.Is(err, repository.ErrAlreadyProcessed),
		errors.Is(err, repository.ErrAlreadyReviewed),
		errors.Is(err, repository.ErrUserExists):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidRole):
		status = http.StatusUnprocessableEntity
	default:
		h.logger.Error(op+" error", zap.Error(err))
		status = http.StatusInternalServerError
	}

	http.Error(w, http.StatusText(status), status)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func identityFromRequest(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	ident, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	}
	return ident, ok
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

type credentialsRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=customer provider"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Register обрабатывает регистрацию нового пользователя и выдаёт токен.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	role := model.Role(req.Role)
	if req.Role == "" {
		role = model.RoleCustomer
	}

	u, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, role)
	if err != nil {
		h.writeError(w, err, "register user")
		return
	}

	token, err := h.authMiddleware.IssueToken(u.ID, u.Role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, tokenResponse{Token: token})
}

// Login выполняет аутентификацию пользователя и выдаёт токен.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, err := h.authMiddleware.IssueToken(u.ID, u.Role)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, tokenResponse{Token: token})
}

type createBookingRequest struct {
	ProviderID  int64     `json:"provider_id" validate:"required"`
	Service     string    `json:"service" validate:"required"`
	Address     string    `json:"address" validate:"required"`
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Notes       string    `json:"notes"`
}

type bookingResponse struct {
	ID          int64            `json:"id"`
	CustomerID  int64            `json:"customer_id"`
	ProviderID  int64            `json:"provider_id"`
	Service     string           `json:"service"`
	Address     string           `json:"address"`
	ScheduledAt string           `json:"scheduled_at"`
	Notes       string           `json:"notes,omitempty"`
	Status      string           `json:"status"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
	CreatedAt   string           `json:"created_at"`
}

func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:          b.ID,
		CustomerID:  b.CustomerID,
		ProviderID:  b.ProviderID,
		Service:     b.Service,
		Address:     b.Address,
		ScheduledAt: b.ScheduledAt.Format(time.RFC3339),
		Notes:       b.Notes,
		Status:      string(b.Status),
		Amount:      b.Amount,
		CreatedAt:   b.CreatedAt.Format(time.RFC3339),
	}
}

// CreateBooking создаёт заказ услуги от имени текущего пользователя.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	var req createBookingRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.CreateBooking(r.Context(), ident.UserID, req.ProviderID, req.Service, req.Address, req.ScheduledAt, req.Notes)
	if err != nil {
		h.writeError(w, err, "create booking")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toBookingResponse(b)); err != nil {
		h.logger.Error("encode booking error", zap.Error(err))
	}
}

// GetBookings возвращает заказы текущего пользователя.
func (h *Handler) GetBookings(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	bookings, err := h.service.GetBookingsByUser(r.Context(), ident.UserID)
	if err != nil {
		h.writeError(w, err, "get bookings")
		return
	}

	if len(bookings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, toBookingResponse(&bookings[i]))
	}

	h.writeJSON(w, resp)
}

type priceBookingRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// PriceBooking назначает цену заказа от имени текущего исполнителя.
func (h *Handler) PriceBooking(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	var req priceBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.PriceBooking(r.Context(), bookingID, ident.UserID, req.Amount)
	if err != nil {
		h.writeError(w, err, "price booking")
		return
	}

	h.writeJSON(w, toBookingResponse(b))
}

type decideBookingRequest struct {
	Accepted *bool `json:"accepted" validate:"required"`
}

// DecideBooking фиксирует решение клиента по цене заказа.
func (h *Handler) DecideBooking(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	var req decideBookingRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	b, err := h.service.DecideBooking(r.Context(), bookingID, ident.UserID, *req.Accepted)
	if err != nil {
		h.writeError(w, err, "decide booking")
		return
	}

	h.writeJSON(w, toBookingResponse(b))
}

// CompleteBooking отмечает заказ выполненным.
func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	b, err := h.service.CompleteBooking(r.Context(), bookingID, ident.UserID, ident.Role)
	if err != nil {
		h.writeError(w, err, "complete booking")
		return
	}

	h.writeJSON(w, toBookingResponse(b))
}

type paymentResponse struct {
	ID        int64           `json:"id"`
	BookingID int64           `json:"booking_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	PaidAt    string          `json:"paid_at"`
}

// CapturePayment проводит расчёт по выполненному заказу.
func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	p, err := h.service.CapturePayment(r.Context(), bookingID, ident.UserID)
	if err != nil {
		h.writeError(w, err, "capture payment")
		return
	}

	h.writeJSON(w, paymentResponse{
		ID:        p.ID,
		BookingID: p.BookingID,
		Amount:    p.Amount,
		Status:    string(p.Status),
		Reference: p.Reference,
		PaidAt:    p.PaidAt.Format(time.RFC3339),
	})
}

type submitReviewRequest struct {
	Rating  int    `json:"rating" validate:"min=0,max=5"`
	Comment string `json:"comment"`
}

type reviewResponse struct {
	ID        int64  `json:"id"`
	BookingID int64  `json:"booking_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
	CreatedAt string `json:"created_at"`
}

// SubmitReview сохраняет отзыв клиента по закрытому заказу.
func (h *Handler) SubmitReview(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	bookingID, ok := pathID(w, r, "bookingID")
	if !ok {
		return
	}

	var req submitReviewRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rev, err := h.service.SubmitReview(r.Context(), bookingID, ident.UserID, req.Rating, req.Comment)
	if err != nil {
		h.writeError(w, err, "submit review")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(reviewResponse{
		ID:        rev.ID,
		BookingID: rev.BookingID,
		Rating:    rev.Rating,
		Comment:   rev.Comment,
		CreatedAt: rev.CreatedAt.Format(time.RFC3339),
	}); err != nil {
		h.logger.Error("encode review error", zap.Error(err))
	}
}

type balanceResponse struct {
	Balance decimal.Decimal `json:"balance"`
}

// GetBalance возвращает баланс кошелька текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), ident.UserID)
	if err != nil {
		h.writeError(w, err, "get balance")
		return
	}

	h.writeJSON(w, balanceResponse{Balance: balance})
}

type ledgerEntryResponse struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	RelatedID *int64          `json:"related_id,omitempty"`
	CreatedAt string          `json:"created_at"`
}

// GetLedgerHistory возвращает историю операций по кошельку текущего пользователя.
func (h *Handler) GetLedgerHistory(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	entries, err := h.service.GetLedgerEntries(r.Context(), ident.UserID)
	if err != nil {
		h.writeError(w, err, "get ledger history")
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ledgerEntryResponse{
			ID:        e.ID,
			Kind:      string(e.Kind),
			Amount:    e.Amount,
			RelatedID: e.RelatedID,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		})
	}

	h.writeJSON(w, resp)
}

type walletRequestRequest struct {
	Kind          string          `json:"kind" validate:"required,oneof=deposit withdrawal"`
	Amount        decimal.Decimal `json:"amount"`
	ProofRef      string          `json:"proof_ref" validate:"required"`
	ScreenshotRef *string         `json:"screenshot_ref"`
}

type walletRequestResponse struct {
	ID            int64           `json:"id"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	ProofRef      string          `json:"proof_ref"`
	ScreenshotRef *string         `json:"screenshot_ref,omitempty"`
	Status        string          `json:"status"`
	Reason        *string         `json:"reason,omitempty"`
	CreatedAt     string          `json:"created_at"`
	ProcessedAt   *string         `json:"processed_at,omitempty"`
}

func toWalletRequestResponse(wr *model.WalletRequest) walletRequestResponse {
	resp := walletRequestResponse{
		ID:            wr.ID,
		Kind:          string(wr.Kind),
		Amount:        wr.Amount,
		ProofRef:      wr.ProofRef,
		ScreenshotRef: wr.ScreenshotRef,
		Status:        string(wr.Status),
		Reason:        wr.Reason,
		CreatedAt:     wr.CreatedAt.Format(time.RFC3339),
	}
	if wr.ProcessedAt != nil {
		v := wr.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &v
	}
	return resp
}

// SubmitWalletRequest создаёт заявку на пополнение или вывод средств.
func (h *Handler) SubmitWalletRequest(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	var req walletRequestRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	wr, err := h.service.SubmitWalletRequest(r.Context(), ident.UserID, model.RequestKind(req.Kind), req.Amount, req.ProofRef, req.ScreenshotRef)
	if err != nil {
		h.writeError(w, err, "submit wallet request")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(toWalletRequestResponse(wr)); err != nil {
		h.logger.Error("encode wallet request error", zap.Error(err))
	}
}

// GetWalletRequests возвращает заявки текущего пользователя.
func (h *Handler) GetWalletRequests(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	requests, err := h.service.GetWalletRequestsByUser(r.Context(), ident.UserID)
	if err != nil {
		h.writeError(w, err, "get wallet requests")
		return
	}

	if len(requests) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]walletRequestResponse, 0, len(requests))
	for i := range requests {
		resp = append(resp, toWalletRequestResponse(&requests[i]))
	}

	h.writeJSON(w, resp)
}

// GetPendingWalletRequests возвращает необработанные заявки. Только для администратора.
func (h *Handler) GetPendingWalletRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.GetPendingWalletRequests(r.Context())
	if err != nil {
		h.writeError(w, err, "get pending wallet requests")
		return
	}

	if len(requests) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]walletRequestResponse, 0, len(requests))
	for i := range requests {
		resp = append(resp, toWalletRequestResponse(&requests[i]))
	}

	h.writeJSON(w, resp)
}

// ApproveWalletRequest одобряет заявку и возвращает новый баланс счёта.
// Только для администратора.
func (h *Handler) ApproveWalletRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}

	balance, err := h.service.ApproveWalletRequest(r.Context(), requestID)
	if err != nil {
		h.writeError(w, err, "approve wallet request")
		return
	}

	h.writeJSON(w, balanceResponse{Balance: balance})
}

type rejectWalletRequestRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RejectWalletRequest отклоняет заявку с указанием причины. Только для администратора.
func (h *Handler) RejectWalletRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}

	var req rejectWalletRequestRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.RejectWalletRequest(r.Context(), requestID, req.Reason); err != nil {
		h.writeError(w, err, "reject wallet request")
		return
	}

	w.WriteHeader(http.StatusOK)
}
