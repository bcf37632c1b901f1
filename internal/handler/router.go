package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/adrewards/internal/metrics"
	custommiddleware "github.com/mmeshcher/adrewards/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса вознаграждений.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(metrics.InstrumentHandler)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/user/account", h.GetAccount)
			r.Post("/user/withdrawals", h.Withdraw)
			r.Get("/user/withdrawals", h.GetWithdrawals)

			r.Get("/ads", h.ListAds)
			r.Post("/ads/{adID}/engage", h.Engage)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/withdrawals", h.ListWithdrawals)
				r.Post("/withdrawals/{requestID}/resolve", h.ResolveWithdrawal)
				r.Post("/accounts/{accountID}/{action}", h.ChangeAccountStatus)
				r.Get("/stats", h.Stats)
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
