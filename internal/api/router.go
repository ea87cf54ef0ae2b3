package api

import (
	"database/sql"
	"net/http"

	"github.com/agritrace/agritrace/internal/gate"
	"github.com/agritrace/agritrace/internal/metrics"
	"github.com/agritrace/agritrace/internal/model"
	"github.com/agritrace/agritrace/internal/oracle"
)

// NewRouter creates the API router with all endpoints registered. The
// returned handler is already wrapped with request logging and, when m
// is non-nil, Prometheus instrumentation (including /metrics itself).
func NewRouter(db *sql.DB, jwtSecret string, feed oracle.Feed, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()

	g := &gate.SQLGate{DB: db}

	authHandler := &AuthHandler{DB: db, JWTSecret: jwtSecret}
	stakeholdersHandler := &StakeholdersHandler{DB: db}
	batchesHandler := &BatchesHandler{DB: db, Feed: feed, Metrics: m}
	offersHandler := &OffersHandler{DB: db, Metrics: m}
	shipmentsHandler := &ShipmentsHandler{DB: db, Metrics: m}
	purchasesHandler := &PurchasesHandler{DB: db, Metrics: m}
	registryHandler := &RegistryHandler{DB: db}
	oracleHandler := &OracleHandler{DB: db, Feed: feed}

	authMW := AuthMiddleware(jwtSecret, db, g)
	requireAdmin := RequireRole(model.RoleAdmin)

	// Public: registration, login, and receipt lookup for provenance.
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/purchases/receipt/{receipt}", purchasesHandler.GetByReceipt)

	// Session.
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))

	// Stakeholders: reads for all authenticated callers, writes admin-only.
	mux.Handle("GET /api/stakeholders", authMW(http.HandlerFunc(stakeholdersHandler.List)))
	mux.Handle("POST /api/stakeholders", authMW(requireAdmin(http.HandlerFunc(stakeholdersHandler.Create))))
	mux.Handle("GET /api/stakeholders/{id}", authMW(http.HandlerFunc(stakeholdersHandler.Get)))
	mux.Handle("PUT /api/stakeholders/{id}/role", authMW(requireAdmin(http.HandlerFunc(stakeholdersHandler.SetRole))))
	mux.Handle("PUT /api/stakeholders/{id}/active", authMW(requireAdmin(http.HandlerFunc(stakeholdersHandler.SetActive))))
	mux.Handle("PUT /api/stakeholders/{id}/verified", authMW(requireAdmin(http.HandlerFunc(stakeholdersHandler.SetVerified))))
	mux.Handle("PUT /api/stakeholders/{id}/password", authMW(requireAdmin(http.HandlerFunc(stakeholdersHandler.ResetPassword))))
	mux.Handle("DELETE /api/stakeholders/{id}", authMW(requireAdmin(http.HandlerFunc(stakeholdersHandler.Delete))))
	mux.Handle("POST /api/stakeholders/{id}/deposit", authMW(http.HandlerFunc(stakeholdersHandler.Deposit)))
	mux.Handle("GET /api/stakeholders/{id}/ledger", authMW(http.HandlerFunc(stakeholdersHandler.Ledger)))

	// Batches: role checks live in the store layer.
	mux.Handle("POST /api/batches", authMW(http.HandlerFunc(batchesHandler.Create)))
	mux.Handle("GET /api/batches", authMW(http.HandlerFunc(batchesHandler.List)))
	mux.Handle("GET /api/batches/{id}", authMW(http.HandlerFunc(batchesHandler.Get)))
	mux.Handle("POST /api/batches/{id}/list", authMW(http.HandlerFunc(batchesHandler.ListForSale)))
	mux.Handle("POST /api/batches/{id}/transfer", authMW(http.HandlerFunc(batchesHandler.Transfer)))
	mux.Handle("POST /api/batches/{id}/process", authMW(http.HandlerFunc(batchesHandler.Process)))
	mux.Handle("POST /api/batches/{id}/quality", authMW(http.HandlerFunc(batchesHandler.Quality)))
	mux.Handle("POST /api/batches/{id}/finalize", authMW(http.HandlerFunc(batchesHandler.Finalize)))
	mux.Handle("GET /api/batches/{id}/processing", authMW(http.HandlerFunc(batchesHandler.ProcessingHistory)))
	mux.Handle("GET /api/batches/{id}/quality", authMW(http.HandlerFunc(batchesHandler.QualityHistory)))
	mux.Handle("PUT /api/batches/{id}/photo", authMW(http.HandlerFunc(batchesHandler.UploadPhoto)))
	mux.Handle("GET /api/batches/{id}/photo", authMW(http.HandlerFunc(batchesHandler.GetPhoto)))

	// Offers.
	mux.Handle("POST /api/offers", authMW(http.HandlerFunc(offersHandler.Create)))
	mux.Handle("GET /api/offers", authMW(http.HandlerFunc(offersHandler.List)))
	mux.Handle("GET /api/offers/available", authMW(http.HandlerFunc(offersHandler.Available)))
	mux.Handle("GET /api/offers/{id}", authMW(http.HandlerFunc(offersHandler.Get)))
	mux.Handle("POST /api/offers/{id}/accept", authMW(http.HandlerFunc(offersHandler.Accept)))
	mux.Handle("POST /api/offers/{id}/reject", authMW(http.HandlerFunc(offersHandler.Reject)))
	mux.Handle("POST /api/offers/{id}/cancel", authMW(http.HandlerFunc(offersHandler.Cancel)))

	// Shipments.
	mux.Handle("POST /api/shipments", authMW(http.HandlerFunc(shipmentsHandler.Create)))
	mux.Handle("GET /api/shipments", authMW(http.HandlerFunc(shipmentsHandler.List)))
	mux.Handle("GET /api/shipments/stats", authMW(http.HandlerFunc(shipmentsHandler.Stats)))
	mux.Handle("GET /api/shipments/{id}", authMW(http.HandlerFunc(shipmentsHandler.Get)))
	mux.Handle("GET /api/shipments/tracking/{tid}", authMW(http.HandlerFunc(shipmentsHandler.GetByTracking)))
	mux.Handle("GET /api/shipments/{id}/history", authMW(http.HandlerFunc(shipmentsHandler.History)))
	mux.Handle("POST /api/shipments/{id}/pickup", authMW(http.HandlerFunc(shipmentsHandler.Pickup)))
	mux.Handle("POST /api/shipments/{id}/location", authMW(http.HandlerFunc(shipmentsHandler.UpdateLocation)))
	mux.Handle("POST /api/shipments/{id}/deliver", authMW(http.HandlerFunc(shipmentsHandler.Deliver)))
	mux.Handle("POST /api/shipments/{id}/confirm", authMW(http.HandlerFunc(shipmentsHandler.Confirm)))
	mux.Handle("POST /api/shipments/{id}/fail", authMW(http.HandlerFunc(shipmentsHandler.Fail)))
	mux.Handle("POST /api/shipments/{id}/cancel", authMW(http.HandlerFunc(shipmentsHandler.Cancel)))

	// Purchases.
	mux.Handle("POST /api/purchases", authMW(http.HandlerFunc(purchasesHandler.Create)))
	mux.Handle("GET /api/purchases", authMW(http.HandlerFunc(purchasesHandler.List)))
	mux.Handle("GET /api/purchases/{id}", authMW(http.HandlerFunc(purchasesHandler.Get)))
	mux.Handle("POST /api/purchases/{id}/pickup", authMW(http.HandlerFunc(purchasesHandler.ConfirmPickup)))
	mux.Handle("POST /api/purchases/{id}/claim", authMW(http.HandlerFunc(purchasesHandler.Claim)))

	// Registry.
	mux.Handle("GET /api/registry/events", authMW(http.HandlerFunc(registryHandler.Events)))
	mux.Handle("GET /api/registry/stats", authMW(http.HandlerFunc(registryHandler.Stats)))

	// Oracle feeds and crop requirements.
	mux.Handle("GET /api/oracle/price", authMW(http.HandlerFunc(oracleHandler.GetPrice)))
	mux.Handle("GET /api/oracle/weather", authMW(http.HandlerFunc(oracleHandler.GetWeather)))
	mux.Handle("POST /api/oracle/price", authMW(requireAdmin(http.HandlerFunc(oracleHandler.PushPrice))))
	mux.Handle("POST /api/oracle/weather", authMW(requireAdmin(http.HandlerFunc(oracleHandler.PushWeather))))
	mux.Handle("POST /api/crops", authMW(requireAdmin(http.HandlerFunc(oracleHandler.RegisterCrop))))
	mux.Handle("GET /api/crops", authMW(http.HandlerFunc(oracleHandler.ListCrops)))

	var handler http.Handler = mux
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
		handler = m.Middleware(handler)
	}
	return LoggingMiddleware(handler)
}
