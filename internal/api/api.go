package api

import (
	"context"
	"net/http"

	"billing-service/internal/config"
	"billing-service/internal/model"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

// Ledger is the read side of the payment ledger exposed to moderators.
type Ledger interface {
	PaymentsByParticipation(ctx context.Context, participationID uint) ([]model.Payment, error)
	PaymentsByMembership(ctx context.Context, membershipID uint) ([]model.Payment, error)
	BalancesByMembership(ctx context.Context, membershipID uint) ([]model.MembershipBalance, error)
	MembershipBalanceTotals(ctx context.Context, membershipID uint) ([]model.BalanceTotal, error)
}

// Events reports whether a gateway reference has been reconciled.
type Events interface {
	EventExists(ctx context.Context, provider, reference string) (bool, error)
}

// BalanceCache serves cached membership credit totals. A miss is answered
// from the ledger.
type BalanceCache interface {
	Get(membershipID uint) (map[string]int64, bool)
}

type API struct {
	router    *mux.Router
	ledger    Ledger
	events    Events
	balances  BalanceCache
	webhook   http.Handler
	config    config.HTTPConfig
	jwtSecret []byte
	log       *logrus.Logger
}

func New(cfg config.HTTPConfig, jwtSecret string, ledger Ledger, events Events, balances BalanceCache, webhook http.Handler, log *logrus.Logger) *API {
	api := &API{
		router:    mux.NewRouter(),
		ledger:    ledger,
		events:    events,
		balances:  balances,
		webhook:   webhook,
		config:    cfg,
		jwtSecret: []byte(jwtSecret),
		log:       log,
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/healthz", a.handleHealth).Methods("GET")

	// Payment gateway
	a.router.Handle("/api/stripe/webhook", a.webhook).Methods("POST")

	// Ledger inspection
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/participations/{id:[0-9]+}/payments", a.handleParticipationPayments).Methods("GET")
	protected.HandleFunc("/memberships/{id:[0-9]+}/payments", a.handleMembershipPayments).Methods("GET")
	protected.HandleFunc("/memberships/{id:[0-9]+}/balances", a.handleMembershipBalances).Methods("GET")
	protected.HandleFunc("/memberships/{id:[0-9]+}/balance", a.handleMembershipBalance).Methods("GET")
	protected.HandleFunc("/gateway/{provider}/{reference}", a.handleGatewayReference).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedOrigins:   a.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}

	return cors.New(corsOptions).Handler(a.router)
}

// Server builds the HTTP server for the configured bind address.
func (a *API) Server() *http.Server {
	return &http.Server{
		Addr:         a.config.Bind,
		Handler:      a.Handler(),
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
	}
}
