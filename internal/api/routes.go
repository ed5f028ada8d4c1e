package api

import (
	"github.com/gorilla/mux"
)

// SetupRoutes configures all API routes. Every route is read-only.
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health check
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stats", handler.GetStats).Methods("GET")
	api.HandleFunc("/equity", handler.GetEquityCurve).Methods("GET")
	api.HandleFunc("/positions", handler.GetOpenPositions).Methods("GET")
	api.HandleFunc("/strategies", handler.GetStrategies).Methods("GET")
	api.HandleFunc("/trades/recent", handler.GetRecentTrades).Methods("GET")
	api.HandleFunc("/metrics/daily", handler.GetDailyMetrics).Methods("GET")
	api.HandleFunc("/risk", handler.GetRiskStatus).Methods("GET")

	return r
}
