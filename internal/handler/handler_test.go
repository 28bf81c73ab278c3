package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/masterhub-system/internal/ledger"
	"github.com/mmeshcher/masterhub-system/internal/middleware"
	"github.com/mmeshcher/masterhub-system/internal/model"
	"github.com/mmeshcher/masterhub-system/internal/repository"
)

func money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type stubService struct {
	user    *model.User
	userErr error

	booking    *model.Booking
	bookingErr error
	bookings   []model.Booking

	payment    *model.Payment
	paymentErr error

	review    *model.Review
	reviewErr error

	balance    decimal.Decimal
	balanceErr error

	entries    []model.LedgerEntry
	entriesErr error

	walletRequest    *model.WalletRequest
	walletRequestErr error
	walletRequests   []model.WalletRequest

	approveBalance decimal.Decimal
	approveErr     error
	rejectErr      error
}

func (s *stubService) RegisterUser(ctx context.Context, login, password string, role model.Role) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	return s.user, s.userErr
}

func (s *stubService) CreateBooking(ctx context.Context, customerID, providerID int64, serviceName, address string, scheduledAt time.Time, notes string) (*model.Booking, error) {
	return s.booking, s.bookingErr
}

func (s *stubService) GetBookingsByUser(ctx context.Context, userID int64) ([]model.Booking, error) {
	return s.bookings, s.bookingErr
}

func (s *stubService) PriceBooking(ctx context.Context, bookingID, providerUserID int64, amount decimal.Decimal) (*model.Booking, error) {
	return s.booking, s.bookingErr
}

func (s *stubService) DecideBooking(ctx context.Context, bookingID, customerUserID int64, accepted bool) (*model.Booking, error) {
	return s.booking, s.bookingErr
}

func (s *stubService) CompleteBooking(ctx context.Context, bookingID, callerUserID int64, callerRole model.Role) (*model.Booking, error) {
	return s.booking, s.bookingErr
}

func (s *stubService) CapturePayment(ctx context.Context, bookingID, customerUserID int64) (*model.Payment, error) {
	return s.payment, s.paymentErr
}

func (s *stubService) SubmitReview(ctx context.Context, bookingID, customerUserID int64, rating int, comment string) (*model.Review, error) {
	return s.review, s.reviewErr
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.balance, s.balanceErr
}

func (s *stubService) GetLedgerEntries(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.entries, s.entriesErr
}

func (s *stubService) SubmitWalletRequest(ctx context.Context, userID int64, kind model.RequestKind, amount decimal.Decimal, proofRef string, screenshotRef *string) (*model.WalletRequest, error) {
	return s.walletRequest, s.walletRequestErr
}

func (s *stubService) GetWalletRequestsByUser(ctx context.Context, userID int64) ([]model.WalletRequest, error) {
	return s.walletRequests, s.walletRequestErr
}

func (s *stubService) GetPendingWalletRequests(ctx context.Context) ([]model.WalletRequest, error) {
	return s.walletRequests, s.walletRequestErr
}

func (s *stubService) ApproveWalletRequest(ctx context.Context, requestID int64) (decimal.Decimal, error) {
	return s.approveBalance, s.approveErr
}

func (s *stubService) RejectWalletRequest(ctx context.Context, requestID int64, reason string) error {
	return s.rejectErr
}

func newTestServer(t *testing.T, svc Service) (*httptest.Server, *middleware.AuthMiddleware) {
	t.Helper()

	auth := middleware.NewAuthMiddleware("test-secret")
	h := NewHandler(svc, zap.NewNop(), auth)
	ts := httptest.NewServer(h.SetupRouter())
	t.Cleanup(ts.Close)

	return ts, auth
}

func doRequest(t *testing.T, ts *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func issueToken(t *testing.T, auth *middleware.AuthMiddleware, userID int64, role model.Role) string {
	t.Helper()

	token, err := auth.IssueToken(userID, role)
	require.NoError(t, err)
	return token
}

func TestRegister_ReturnsToken(t *testing.T) {
	svc := &stubService{user: &model.User{ID: 1, Login: "masha", Role: model.RoleCustomer}}
	ts, _ := newTestServer(t, svc)

	resp := doRequest(t, ts, http.MethodPost, "/api/user/register", "", map[string]string{
		"login":    "masha",
		"password": "secret",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Token)
}

func TestRegister_DuplicateLogin(t *testing.T) {
	svc := &stubService{userErr: repository.ErrUserExists}
	ts, _ := newTestServer(t, svc)

	resp := doRequest(t, ts, http.MethodPost, "/api/user/register", "", map[string]string{
		"login":    "masha",
		"password": "secret",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRegister_UnknownRole(t *testing.T) {
	svc := &stubService{}
	ts, _ := newTestServer(t, svc)

	resp := doRequest(t, ts, http.MethodPost, "/api/user/register", "", map[string]string{
		"login":    "masha",
		"password": "secret",
		"role":     "admin",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := &stubService{userErr: repository.ErrUserNotFound}
	ts, _ := newTestServer(t, svc)

	resp := doRequest(t, ts, http.MethodPost, "/api/user/login", "", map[string]string{
		"login":    "masha",
		"password": "wrong",
	})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutes_RequireToken(t *testing.T) {
	ts, _ := newTestServer(t, &stubService{})

	for _, path := range []string{"/api/bookings", "/api/balance", "/api/wallet/requests"} {
		resp := doRequest(t, ts, http.MethodGet, path, "", nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestCreateBooking_Created(t *testing.T) {
	scheduledAt := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	svc := &stubService{
		booking: &model.Booking{
			ID:          7,
			CustomerID:  1,
			ProviderID:  2,
			Service:     "plumbing",
			Address:     "Tverskaya 1",
			ScheduledAt: scheduledAt,
			Status:      model.BookingRequested,
			CreatedAt:   scheduledAt,
		},
	}
	ts, auth := newTestServer(t, svc)
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodPost, "/api/bookings", token, map[string]any{
		"provider_id":  2,
		"service":      "plumbing",
		"address":      "Tverskaya 1",
		"scheduled_at": scheduledAt,
	})
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body bookingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(7), body.ID)
	assert.Equal(t, string(model.BookingRequested), body.Status)
}

func TestGetBookings_EmptyReturnsNoContent(t *testing.T) {
	ts, auth := newTestServer(t, &stubService{})
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodGet, "/api/bookings", token, nil)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestPriceBooking_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		wantStatus int
	}{
		{name: "not the assigned provider", serviceErr: repository.ErrForbidden, wantStatus: http.StatusForbidden},
		{name: "unknown booking", serviceErr: repository.ErrBookingNotFound, wantStatus: http.StatusNotFound},
		{name: "already priced", serviceErr: repository.ErrInvalidTransition, wantStatus: http.StatusConflict},
		{name: "bad amount", serviceErr: ledger.ErrInvalidAmount, wantStatus: http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{bookingErr: tt.serviceErr}
			ts, auth := newTestServer(t, svc)
			token := issueToken(t, auth, 2, model.RoleProvider)

			resp := doRequest(t, ts, http.MethodPost, "/api/bookings/7/price", token, map[string]string{
				"amount": "500.00",
			})
			resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestCapturePayment_InsufficientFunds(t *testing.T) {
	svc := &stubService{paymentErr: ledger.ErrInsufficientFunds}
	ts, auth := newTestServer(t, svc)
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodPost, "/api/bookings/7/pay", token, nil)
	resp.Body.Close()

	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestCapturePayment_Success(t *testing.T) {
	paidAt := time.Date(2026, 9, 2, 10, 0, 0, 0, time.UTC)
	svc := &stubService{
		payment: &model.Payment{
			ID:        3,
			BookingID: 7,
			Amount:    money("500.00"),
			Status:    model.PaymentSucceeded,
			Reference: "PAY-test",
			PaidAt:    paidAt,
		},
	}
	ts, auth := newTestServer(t, svc)
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodPost, "/api/bookings/7/pay", token, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body paymentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(7), body.BookingID)
	assert.True(t, body.Amount.Equal(money("500.00")))
	assert.Equal(t, "PAY-test", body.Reference)
}

func TestSubmitReview_Duplicate(t *testing.T) {
	svc := &stubService{reviewErr: repository.ErrAlreadyReviewed}
	ts, auth := newTestServer(t, svc)
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodPost, "/api/bookings/7/review", token, map[string]any{
		"rating":  5,
		"comment": "great",
	})
	resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetBalance_ReturnsJSON(t *testing.T) {
	svc := &stubService{balance: money("1250.50")}
	ts, auth := newTestServer(t, svc)
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodGet, "/api/balance", token, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var body balanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Balance.Equal(money("1250.50")))
}

func TestSubmitWalletRequest_BadKind(t *testing.T) {
	ts, auth := newTestServer(t, &stubService{})
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodPost, "/api/wallet/requests", token, map[string]any{
		"kind":      "transfer",
		"amount":    "100.00",
		"proof_ref": "ref-1",
	})
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminRoutes_ForbiddenForCustomer(t *testing.T) {
	ts, auth := newTestServer(t, &stubService{})
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodGet, "/api/admin/wallet/requests", token, nil)
	resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestApproveWalletRequest_ReturnsBalance(t *testing.T) {
	svc := &stubService{approveBalance: money("800.00")}
	ts, auth := newTestServer(t, svc)
	token := issueToken(t, auth, 99, model.RoleAdmin)

	resp := doRequest(t, ts, http.MethodPost, "/api/admin/wallet/requests/5/approve", token, nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body balanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.Balance.Equal(money("800.00")))
}

func TestApproveWalletRequest_AlreadyProcessed(t *testing.T) {
	svc := &stubService{approveErr: repository.ErrAlreadyProcessed}
	ts, auth := newTestServer(t, svc)
	token := issueToken(t, auth, 99, model.RoleAdmin)

	resp := doRequest(t, ts, http.MethodPost, "/api/admin/wallet/requests/5/approve", token, nil)
	resp.Body.Close()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRejectWalletRequest_RequiresReason(t *testing.T) {
	ts, auth := newTestServer(t, &stubService{})
	token := issueToken(t, auth, 99, model.RoleAdmin)

	resp := doRequest(t, ts, http.MethodPost, "/api/admin/wallet/requests/5/reject", token, map[string]string{})
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPathID_Invalid(t *testing.T) {
	ts, auth := newTestServer(t, &stubService{})
	token := issueToken(t, auth, 1, model.RoleCustomer)

	resp := doRequest(t, ts, http.MethodPost, "/api/bookings/abc/pay", token, nil)
	resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
