package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/advisory-crm/policy-dispatch/internal/engine"
	"github.com/advisory-crm/policy-dispatch/internal/models"
	"github.com/advisory-crm/policy-dispatch/internal/services"
	"github.com/advisory-crm/policy-dispatch/internal/utils"
	"github.com/gorilla/mux"
)

const MaxBodySize = 1 << 20 // 1MB

type PolicyHandler struct {
	service           services.PolicyService
	logger            *utils.Logger
	autoAnalyzeSecret string
	webhookSecret     string
}

func NewPolicyHandler(service services.PolicyService, logger *utils.Logger, autoAnalyzeSecret, webhookSecret string) *PolicyHandler {
	return &PolicyHandler{
		service:           service,
		logger:            logger,
		autoAnalyzeSecret: autoAnalyzeSecret,
		webhookSecret:     webhookSecret,
	}
}

func (h *PolicyHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	var req models.CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, utils.NewBadRequestError("Invalid request body"))
		return
	}

	policy, err := h.service.CreatePolicy(r.Context(), &req)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, policy)
}

func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Policy ID is required"))
		return
	}

	policy, err := h.service.GetPolicy(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, policy)
}

func (h *PolicyHandler) AnalyzePolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Policy ID is required"))
		return
	}

	resp, err := h.service.Dispatch(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *PolicyHandler) AnalysisStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	if id == "" {
		h.respondError(w, utils.NewBadRequestError("Policy ID is required"))
		return
	}

	status, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, status)
}

// AutoAnalyze is the database row-insert webhook. The caller must present the
// shared secret; an unauthenticated caller is rejected before any store read.
func (h *PolicyHandler) AutoAnalyze(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

	if h.autoAnalyzeSecret == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.autoAnalyzeSecret)) != 1 {
		h.logger.Error("Auto-analyze: unauthorized request")
		h.respondError(w, utils.NewUnauthorizedError("Unauthorized"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	var event models.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.respondError(w, utils.NewBadRequestError("Invalid webhook payload"))
		return
	}

	resp, err := h.service.AutoDispatch(r.Context(), &event)
	if err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, resp)
}

// AnalysisComplete receives the engine's completion callback. The raw body is
// kept for signature verification; signature checks are enforced whenever a
// webhook secret is configured.
func (h *PolicyHandler) AnalysisComplete(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		h.respondError(w, utils.NewBadRequestError("Failed to read request body"))
		return
	}

	if h.webhookSecret != "" {
		signature := strings.TrimPrefix(r.Header.Get("X-Webhook-Signature"), "sha256=")
		if signature == "" {
			h.logger.Error("Callback received without signature")
			h.respondError(w, utils.NewUnauthorizedError("Missing webhook signature"))
			return
		}
		if !engine.VerifySignature(rawBody, signature, h.webhookSecret) {
			h.logger.Error("Invalid callback signature")
			h.respondError(w, utils.NewUnauthorizedError("Invalid signature"))
			return
		}
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(rawBody, &result); err != nil {
		h.respondError(w, utils.NewBadRequestError("Invalid callback payload"))
		return
	}

	if err := h.service.CompleteAnalysis(r.Context(), &result); err != nil {
		h.respondError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Analysis results received and saved",
		"policy_id": result.PolicyID,
	})
}

// CallbackHealth lets the engine probe the callback endpoint.
func (h *PolicyHandler) CallbackHealth(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"endpoint":  "analysis-complete-callback",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *PolicyHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", "error", err)
	}
}

func (h *PolicyHandler) respondError(w http.ResponseWriter, err error) {
	var status int
	body := map[string]string{}

	switch e := err.(type) {
	case *utils.AppError:
		status = e.StatusCode
		body["error"] = e.Message
		if e.Details != "" {
			body["details"] = e.Details
		}
	default:
		status = http.StatusInternalServerError
		body["error"] = "Internal server error"
	}

	h.logger.Error("Request error", "status", status, "error", body["error"])

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
