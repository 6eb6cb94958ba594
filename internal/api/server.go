// Package api implements the HTTP layer for Carta Secreta. Handlers are
// methods on *Server. Each handler file is responsible for one resource
// group and only imports the dependencies it actually uses.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/liammdev/cartasecreta/internal/db"
	"github.com/liammdev/cartasecreta/internal/email"
	"github.com/liammdev/cartasecreta/internal/payment"
	"github.com/liammdev/cartasecreta/internal/recon"
	"github.com/liammdev/cartasecreta/internal/store"
	"github.com/liammdev/cartasecreta/internal/worker"
)

// Config holds values read from environment variables at startup.
type Config struct {
	// BaseURL is used to construct the letter link in emails and the
	// MercadoPago notification/back URLs. e.g. "https://cartasecreta.app"
	BaseURL string

	// CronSecret is the bearer token required by POST /api/cron/send.
	CronSecret string

	// Env is "production", "staging", or "development".
	Env string
}

// reconciler matches *recon.Reconciler.
type reconciler interface {
	Confirm(ctx context.Context, method db.PaymentMethod, v payment.Verifier, ref string) (recon.Result, error)
}

// sweepTrigger matches *worker.Runner.
type sweepTrigger interface {
	Sweep(ctx context.Context) (worker.Summary, error)
}

// letterMailer matches *email.LetterMailer.
type letterMailer interface {
	SendLetter(ctx context.Context, p email.LetterParams) (string, error)
}

// mercadoPagoClient matches *payment.MercadoPagoClient.
type mercadoPagoClient interface {
	CreatePreference(ctx context.Context, p payment.CreatePreferenceParams) (payment.Preference, error)
	Verify(ctx context.Context, paymentID string) (payment.Result, error)
}

// paypalClient matches *payment.PayPalClient.
type paypalClient interface {
	CreateOrder(ctx context.Context, p payment.CreateOrderParams) (string, error)
	Verify(ctx context.Context, orderID string) (payment.Result, error)
}

// Server holds all shared dependencies. Each handler file attaches methods
// to this type and uses only the fields it needs.
type Server struct {
	// q handles all single-query reads. Injected directly — no repo wrapper.
	q db.Querier

	// store handles the conditional-update writes.
	store *store.Store

	// recon applies the verify → paid-transition → notify pipeline shared
	// by all three providers.
	recon reconciler

	// sweeper triggers the dispatch sweep from the cron endpoint.
	sweeper sweepTrigger

	// mailer sends the letter email on the free-immediate path.
	mailer letterMailer

	// mp creates checkout preferences and verifies payments against the
	// MercadoPago API.
	mp mercadoPagoClient

	// paypal creates and captures orders against the PayPal API.
	paypal paypalClient

	// paddle verifies webhook signatures. Verification replaces the API
	// fetch the other two providers do.
	paddle *payment.PaddleWebhook

	// metrics serves GET /metrics.
	metrics http.Handler

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. The returned
// http.Handler is ready to pass to http.ListenAndServe.
func NewServer(
	q db.Querier,
	st *store.Store,
	rec reconciler,
	sweeper sweepTrigger,
	mailer letterMailer,
	mp mercadoPagoClient,
	paypal paypalClient,
	paddle *payment.PaddleWebhook,
	metricsHandler http.Handler,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	s := &Server{
		q:       q,
		store:   st,
		recon:   rec,
		sweeper: sweeper,
		mailer:  mailer,
		mp:      mp,
		paypal:  paypal,
		paddle:  paddle,
		metrics: metricsHandler,
		cfg:     cfg,
		logger:  logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(middleware.Timeout(30 * time.Second))

	// ── Health & metrics ──────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	// ── API v1 ────────────────────────────────────────────────────────────────
	r.Route("/api", func(r chi.Router) {

		// Letters — no auth. Letter ids are unguessable UUIDs and the view
		// endpoint is the link recipients open.
		r.Post("/letters", s.handleCreateLetter)
		r.Route("/letters/{letterID}", func(r chi.Router) {
			r.Get("/", s.handleGetLetter)
			r.Post("/respond", s.handleRespond)
			r.Patch("/sender-email", s.handleSetSenderEmail)
		})

		// Checkout — called by the frontend before handing off to the
		// provider's hosted flow.
		r.Post("/checkout/mercadopago", s.handleMercadoPagoCheckout)
		r.Post("/checkout/paypal", s.handleCreatePaypalOrder)
		r.Post("/checkout/paypal/capture", s.handleCapturePaypalOrder)

		// Provider webhooks — no auth; authority is established inside each
		// handler (API fetch for MercadoPago, signature for Paddle).
		r.Post("/webhooks/mercadopago", s.handleMercadoPagoWebhook)
		r.Get("/webhooks/mercadopago", s.handleMercadoPagoWebhookPing)
		r.Post("/webhooks/paddle", s.handlePaddleWebhook)

		// Cron — bearer CRON_SECRET (verified inside the handler).
		r.Post("/cron/send", s.handleCronSend)
	})

	return r
}
