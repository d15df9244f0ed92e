package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/moneybridge/server/internal/auth"
	"github.com/moneybridge/server/internal/flow"
	"github.com/moneybridge/server/internal/http/handlers"
	"github.com/moneybridge/server/internal/middleware"
)

// NewRouter wires every wizard endpoint. Session creation and OTP requests
// are public but rate limited; everything else requires a session token.
func NewRouter(jwtService *auth.JWTService, manager *flow.Manager, otp auth.OtpProvider) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	sessionHandler := handlers.NewSessionHandler(jwtService, manager)
	buyerHandler := handlers.NewBuyerHandler()
	sellerHandler := handlers.NewSellerHandler(otp)

	r.Get("/health", handlers.Health)

	publicLimiter := middleware.NewLimiter(time.Minute, 30)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Throttle(publicLimiter, middleware.ClientIP))
		r.Post("/session", sessionHandler.Create)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Session(jwtService, manager))

		r.Get("/state", sessionHandler.State)
		r.Post("/session/role", sessionHandler.ChooseRole)
		r.Post("/session/cancel", sessionHandler.Cancel)
		r.Post("/session/reset", sessionHandler.Reset)

		r.Route("/buyer", func(r chi.Router) {
			r.Post("/vehicle", buyerHandler.LookupVehicle)
			r.Post("/request", buyerHandler.SubmitRequest)
			r.Post("/confirm_price", buyerHandler.ConfirmPrice)
			r.Get("/banks", buyerHandler.Banks)
			r.Post("/bank", buyerHandler.SubmitBank)
			r.Post("/financing", buyerHandler.ChooseFinancing)
			r.Post("/deposit", buyerHandler.ConfirmDeposit)
			r.Post("/payment", buyerHandler.RetryPayment)
		})

		r.Route("/seller", func(r chi.Router) {
			r.Post("/request_otp", sellerHandler.RequestOTP)
			r.Post("/register", sellerHandler.Register)
			r.Get("/requests", sellerHandler.Requests)
			r.Post("/approve", sellerHandler.Approve)
			r.Post("/reject", sellerHandler.Reject)
			r.Post("/price", sellerHandler.SetPrice)
			r.Post("/transfer", sellerHandler.VerifyTransfer)
		})
	})

	return r
}
