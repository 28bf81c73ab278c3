package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/masterhub-system/internal/middleware"
	"github.com/mmeshcher/masterhub-system/internal/model"
)

// SetupRouter настраивает HTTP-маршруты и middleware платформы masterhub.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/bookings", h.CreateBooking)
			r.Get("/bookings", h.GetBookings)
			r.Post("/bookings/{bookingID}/price", h.PriceBooking)
			r.Post("/bookings/{bookingID}/decision", h.DecideBooking)
			r.Post("/bookings/{bookingID}/complete", h.CompleteBooking)
			r.Post("/bookings/{bookingID}/pay", h.CapturePayment)
			r.Post("/bookings/{bookingID}/review", h.SubmitReview)

			r.Get("/balance", h.GetBalance)
			r.Get("/balance/history", h.GetLedgerHistory)

			r.Post("/wallet/requests", h.SubmitWalletRequest)
			r.Get("/wallet/requests", h.GetWalletRequests)

			r.Route("/admin", func(r chi.Router) {
				r.Use(h.authMiddleware.RequireRole(model.RoleAdmin))

				r.Get("/wallet/requests", h.GetPendingWalletRequests)
				r.Post("/wallet/requests/{requestID}/approve", h.ApproveWalletRequest)
				r.Post("/wallet/requests/{requestID}/reject", h.RejectWalletRequest)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
