package router

import (
	"net/http"

	"github.com/advisory-crm/policy-dispatch/internal/config"
	"github.com/advisory-crm/policy-dispatch/internal/handlers"
	"github.com/advisory-crm/policy-dispatch/internal/middleware"
	"github.com/advisory-crm/policy-dispatch/internal/services"
	"github.com/advisory-crm/policy-dispatch/internal/utils"

	"github.com/gorilla/mux"
)

func NewRouter(policyService services.PolicyService, cfg *config.Config, logger *utils.Logger) http.Handler {
	r := mux.NewRouter()

	// Middlewares
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS())
	r.Use(middleware.Recovery(logger))

	policyHandler := handlers.NewPolicyHandler(policyService, logger, cfg.AutoAnalyzeSecret, cfg.WebhookSecret)

	// Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Health check
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Policy endpoints
	api.HandleFunc("/policies", policyHandler.CreatePolicy).Methods(http.MethodPost)
	api.HandleFunc("/policies/auto-analyze", policyHandler.AutoAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/policies/{id}/analyze", policyHandler.AnalyzePolicy).Methods(http.MethodPost)
	api.HandleFunc("/policies/{id}/analyze", policyHandler.AnalysisStatus).Methods(http.MethodGet)
	api.HandleFunc("/policies/{id}", policyHandler.GetPolicy).Methods(http.MethodGet)

	// Analysis engine callback; path must match the callback_url sent on dispatch
	r.HandleFunc("/api/webhook/analysis-complete", policyHandler.AnalysisComplete).Methods(http.MethodPost)
	r.HandleFunc("/api/webhook/analysis-complete", policyHandler.CallbackHealth).Methods(http.MethodGet)

	return r
}
