package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/advisory-crm/policy-dispatch/internal/engine"
	"github.com/advisory-crm/policy-dispatch/internal/models"
	"github.com/advisory-crm/policy-dispatch/internal/utils"
	"github.com/gorilla/mux"
)

const (
	testAutoSecret    = "auto-secret"
	testWebhookSecret = "webhook-secret"
)

type fakeService struct {
	dispatchFn     func(ctx context.Context, id string) (*models.DispatchResponse, error)
	autoDispatchFn func(ctx context.Context, event *models.WebhookEvent) (*models.AutoDispatchResponse, error)
	statusFn       func(ctx context.Context, id string) (*models.StatusResponse, error)
	completeFn     func(ctx context.Context, result *models.AnalysisResult) error

	calls int
}

func (f *fakeService) CreatePolicy(ctx context.Context, req *models.CreatePolicyRequest) (*models.Policy, error) {
	f.calls++
	return &models.Policy{ID: "created"}, nil
}

func (f *fakeService) GetPolicy(ctx context.Context, id string) (*models.Policy, error) {
	f.calls++
	return nil, utils.NewNotFoundError("Policy not found")
}

func (f *fakeService) Dispatch(ctx context.Context, id string) (*models.DispatchResponse, error) {
	f.calls++
	if f.dispatchFn != nil {
		return f.dispatchFn(ctx, id)
	}
	return nil, utils.NewNotFoundError("Policy not found")
}

func (f *fakeService) AutoDispatch(ctx context.Context, event *models.WebhookEvent) (*models.AutoDispatchResponse, error) {
	f.calls++
	if f.autoDispatchFn != nil {
		return f.autoDispatchFn(ctx, event)
	}
	return &models.AutoDispatchResponse{Success: true, AnalysisID: "a1", PolicyID: event.PolicyID()}, nil
}

func (f *fakeService) GetStatus(ctx context.Context, id string) (*models.StatusResponse, error) {
	f.calls++
	if f.statusFn != nil {
		return f.statusFn(ctx, id)
	}
	return nil, utils.NewNotFoundError("Policy not found")
}

func (f *fakeService) CompleteAnalysis(ctx context.Context, result *models.AnalysisResult) error {
	f.calls++
	if f.completeFn != nil {
		return f.completeFn(ctx, result)
	}
	return nil
}

func newTestRouter(svc *fakeService) http.Handler {
	h := NewPolicyHandler(svc, utils.NewLogger("error"), testAutoSecret, testWebhookSecret)

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/policies", h.CreatePolicy).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/policies/auto-analyze", h.AutoAnalyze).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/policies/{id}/analyze", h.AnalyzePolicy).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/policies/{id}/analyze", h.AnalysisStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/policies/{id}", h.GetPolicy).Methods(http.MethodGet)
	r.HandleFunc("/api/webhook/analysis-complete", h.AnalysisComplete).Methods(http.MethodPost)
	return r
}

func TestAnalyzePolicyStatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", utils.NewNotFoundError("Policy not found"), 404},
		{"no file", utils.NewBadRequestError("Policy has no attached file to analyze"), 400},
		{"in progress", utils.NewConflictError("Analysis is already in progress for this policy"), 409},
		{"engine failure", utils.NewInternalErrorWithDetails("Failed to start analysis", "boom"), 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{dispatchFn: func(ctx context.Context, id string) (*models.DispatchResponse, error) {
				return nil, tc.err
			}}
			router := newTestRouter(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/p1/analyze", nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.want {
				t.Fatalf("expected %d, got %d body=%s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAnalyzePolicySuccess(t *testing.T) {
	svc := &fakeService{dispatchFn: func(ctx context.Context, id string) (*models.DispatchResponse, error) {
		return &models.DispatchResponse{
			Success:              true,
			AnalysisID:           "X",
			Message:              "ok",
			EstimatedTimeSeconds: 30,
		}, nil
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/p1/analyze", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body models.DispatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !body.Success || body.AnalysisID != "X" || body.EstimatedTimeSeconds != 30 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAnalyzeErrorBodyIncludesDetails(t *testing.T) {
	svc := &fakeService{dispatchFn: func(ctx context.Context, id string) (*models.DispatchResponse, error) {
		return nil, utils.NewInternalErrorWithDetails("Failed to start analysis", "connection refused")
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/p1/analyze", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body["error"] != "Failed to start analysis" || body["details"] != "connection refused" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestAnalysisStatusProjection(t *testing.T) {
	score := 77.0
	svc := &fakeService{statusFn: func(ctx context.Context, id string) (*models.StatusResponse, error) {
		return &models.StatusResponse{
			PolicyID:       id,
			AnalysisStatus: models.StatusCompleted,
			AnalysisScore:  &score,
		}, nil
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies/p1/analyze", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body models.StatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if body.PolicyID != "p1" || body.AnalysisStatus != models.StatusCompleted {
		t.Fatalf("unexpected body: %+v", body)
	}
	if body.AnalysisScore == nil || *body.AnalysisScore != 77.0 {
		t.Fatalf("score missing from projection")
	}
}

func TestAutoAnalyzeRejectsBadToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"wrong", "Bearer not-the-secret"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeService{}
			router := newTestRouter(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/auto-analyze",
				bytes.NewBufferString(`{"record":{"id":"p1"}}`))
			if tc.token != "" {
				req.Header.Set("Authorization", tc.token)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if svc.calls != 0 {
				t.Fatalf("service must not be reached on bad credentials")
			}
		})
	}
}

func TestAutoAnalyzeSkipResponse(t *testing.T) {
	svc := &fakeService{autoDispatchFn: func(ctx context.Context, event *models.WebhookEvent) (*models.AutoDispatchResponse, error) {
		return &models.AutoDispatchResponse{Skipped: true, Reason: "No file attached"}, nil
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/auto-analyze",
		bytes.NewBufferString(`{"record":{"id":"p1"}}`))
	req.Header.Set("Authorization", "Bearer "+testAutoSecret)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("skip must be 200, got %d", rr.Code)
	}

	var body models.AutoDispatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !body.Skipped || body.Reason != "No file attached" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAutoAnalyzeSuccess(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/auto-analyze",
		bytes.NewBufferString(`{"record":{"id":"p1"}}`))
	req.Header.Set("Authorization", "Bearer "+testAutoSecret)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body models.AutoDispatchResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if !body.Success || body.PolicyID != "p1" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestAnalysisCompleteRejectsBadSignature(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	payload := []byte(`{"analysis_id":"X","policy_id":"p1","status":"completed"}`)

	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"forged", "sha256=deadbeef"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/webhook/analysis-complete", bytes.NewBuffer(payload))
			if tc.signature != "" {
				req.Header.Set("X-Webhook-Signature", tc.signature)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
		})
	}

	if svc.calls != 0 {
		t.Fatalf("service must not be reached on bad signatures")
	}
}

func TestAnalysisCompleteAcceptsSignedCallback(t *testing.T) {
	var applied *models.AnalysisResult
	svc := &fakeService{completeFn: func(ctx context.Context, result *models.AnalysisResult) error {
		applied = result
		return nil
	}}
	router := newTestRouter(svc)

	payload := []byte(`{"analysis_id":"X","policy_id":"p1","status":"completed","overall_score":82.5}`)
	sig := engine.Sign(payload, testWebhookSecret)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook/analysis-complete", bytes.NewBuffer(payload))
	req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if applied == nil || applied.PolicyID != "p1" || applied.Status != models.StatusCompleted {
		t.Fatalf("result not forwarded: %+v", applied)
	}
	if applied.OverallScore == nil || *applied.OverallScore != 82.5 {
		t.Fatalf("score not forwarded")
	}
}

func TestCreatePolicyEndpoint(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/policies",
		bytes.NewBufferString(`{"tenant_id":"t1","company_id":"c1","line_of_coverage":"Cyber Liability"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}
