package handlers

import (
	"net/http"

	"creditledger/internal/config"
	"creditledger/internal/db"
	"creditledger/internal/middleware"
	"creditledger/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Handler struct {
	txRunner  db.TxRunner
	cfg       config.Config
	operators OperatorStore
	providers ProviderStore
	service   LedgerService
	hub       *websocket.Hub
}

func New(txRunner db.TxRunner, cfg config.Config, operators OperatorStore, providers ProviderStore, service LedgerService, hub *websocket.Hub) *Handler {
	return &Handler{
		txRunner:  txRunner,
		cfg:       cfg,
		operators: operators,
		providers: providers,
		service:   service,
		hub:       hub,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.Logger)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{h.cfg.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.With(middleware.Auth(h.cfg.JWTSecret)).Get("/me", h.Me)
	})

	authed := middleware.Auth(h.cfg.JWTSecret)
	uuidParam := middleware.RequireUUIDParams("uuid")

	router.With(authed).Post("/ledgers", h.CreateLedger)
	router.With(authed).Get("/ledgers", h.ListLedgers)
	router.With(authed, uuidParam).Get("/ledgers/{uuid}", h.GetLedger)
	router.With(authed, uuidParam).Get("/ledgers/{uuid}/balance", h.GetBalance)
	router.With(authed, uuidParam).Get("/ledgers/{uuid}/total-deposits", h.GetTotalDeposits)
	router.With(authed, uuidParam).Post("/ledgers/{uuid}/transactions", h.CreateTransaction)
	router.With(authed, uuidParam).Get("/ledgers/{uuid}/transactions", h.ListTransactions)
	router.With(authed, uuidParam).Post("/ledgers/{uuid}/adjustments", h.CreateAdjustment)
	router.With(authed, uuidParam).Get("/ledgers/{uuid}/adjustments", h.ListAdjustments)
	router.With(authed, uuidParam).Post("/ledgers/{uuid}/deposits", h.CreateDeposit)
	router.With(authed, uuidParam).Get("/ledgers/{uuid}/deposits", h.ListDeposits)
	router.With(authed, uuidParam).Get("/transactions/{uuid}", h.GetTransaction)
	router.With(authed, uuidParam).Post("/transactions/{uuid}/state", h.UpdateTransactionState)
	router.With(authed, uuidParam).Post("/transactions/{uuid}/reverse", h.ReverseTransaction)
	router.With(authed, uuidParam).Get("/transactions/{uuid}/reversal", h.GetReversal)
	router.With(authed, uuidParam).Post("/transactions/{uuid}/external-references", h.AttachExternalReference)
	router.With(authed, uuidParam).Get("/transactions/{uuid}/external-references", h.ListExternalReferences)
	router.With(authed, uuidParam).Get("/adjustments/{uuid}", h.GetAdjustment)
	router.With(authed, uuidParam).Get("/deposits/{uuid}", h.GetDeposit)
	router.With(authed).Post("/providers/fulfillment", h.CreateFulfillmentProvider)
	router.With(authed).Get("/providers/fulfillment", h.ListFulfillmentProviders)
	router.With(authed).Post("/providers/sales-contract", h.CreateSalesContractProvider)
	router.With(authed).Get("/providers/sales-contract", h.ListSalesContractProviders)
	router.Get("/ws/balances", h.WSBalances)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return router
}
