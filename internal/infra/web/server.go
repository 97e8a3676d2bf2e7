package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/znomio18-svg/backend-api/internal/domain/model"
	"github.com/znomio18-svg/backend-api/internal/domain/ports/adapter"
	"github.com/znomio18-svg/backend-api/internal/infra/logging"
	"github.com/znomio18-svg/backend-api/internal/usecase"
)

// AdminSessionTTL bounds how long an admin session stays valid.
const AdminSessionTTL = 30 * time.Minute

// paymentService is the slice of the payment use case the HTTP layer needs.
type paymentService interface {
	CreatePayment(ctx context.Context, in usecase.CreatePaymentInput) (*model.Payment, error)
	GetPayment(ctx context.Context, userID, paymentID string) (*model.Payment, error)
	CheckPayment(ctx context.Context, userID, paymentID string) (*usecase.ReconcileResult, error)
	NotifyTransferPaid(ctx context.Context, userID, paymentID string) (*model.Payment, error)
	ListBankAccounts(ctx context.Context) ([]*model.BankAccount, error)
	HandleWebhook(ctx context.Context, invoiceCode string, rawBody []byte) (*usecase.ReconcileResult, error)
	ConfirmBankTransfer(ctx context.Context, paymentID string) (*usecase.ReconcileResult, error)
	RejectBankTransfer(ctx context.Context, paymentID, reason string) (*model.Payment, error)
}

// Server wires the payment HTTP API: public payment endpoints, the gateway
// webhook, and the admin review endpoints behind a session.
type Server struct {
	paymentUC paymentService
	gateway   adapter.PaymentGateway
	auth      *AuthManager
	log       *zerolog.Logger
}

func NewServer(paymentUC paymentService, gateway adapter.PaymentGateway, auth *AuthManager, logger *zerolog.Logger) *Server {
	srvLog := logger.With().Str("component", "Server").Logger()
	return &Server{paymentUC: paymentUC, gateway: gateway, auth: auth, log: &srvLog}
}

// Router builds the chi mux with all routes registered.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.traceMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/bank-accounts", s.handleListBankAccounts)

		// Gateway callback; QPay retries both verbs.
		r.Get("/payments/webhook/qpay", s.handleWebhook)
		r.Post("/payments/webhook/qpay", s.handleWebhook)

		r.Route("/payments", func(r chi.Router) {
			r.Use(s.userMiddleware)
			r.Post("/", s.handleCreatePayment)
			r.Get("/{id}", s.handleGetPayment)
			r.Post("/{id}/check", s.handleCheckPayment)
			r.Post("/{id}/notify-paid", s.handleNotifyPaid)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", s.handleAdminLogin)
			r.Post("/logout", s.handleAdminLogout)
			r.Group(func(r chi.Router) {
				r.Use(s.adminMiddleware)
				r.Post("/payments/{id}/confirm", s.handleConfirmTransfer)
				r.Post("/payments/{id}/reject", s.handleRejectTransfer)
			})
		})
	})
	return r
}

// traceMiddleware tags every request with a trace id for log correlation.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Request-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", traceID)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), traceID)))
	})
}

// userMiddleware resolves the calling user. Authentication itself lives in
// the API gateway upstream; this service trusts its X-User-ID header.
func (s *Server) userMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "missing user identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), userID)))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewHTTPServer wraps the router in an http.Server with sane timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Shutdown drains in-flight requests.
func Shutdown(ctx context.Context, srv *http.Server) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
