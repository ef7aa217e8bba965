package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/advisory-crm/policy-dispatch/internal/config"
	"github.com/advisory-crm/policy-dispatch/internal/engine"
	"github.com/advisory-crm/policy-dispatch/internal/models"
	"github.com/advisory-crm/policy-dispatch/internal/repository"
	"github.com/advisory-crm/policy-dispatch/internal/storage"
	"github.com/advisory-crm/policy-dispatch/internal/utils"
)

type PolicyService interface {
	CreatePolicy(ctx context.Context, req *models.CreatePolicyRequest) (*models.Policy, error)
	GetPolicy(ctx context.Context, id string) (*models.Policy, error)
	Dispatch(ctx context.Context, id string) (*models.DispatchResponse, error)
	AutoDispatch(ctx context.Context, event *models.WebhookEvent) (*models.AutoDispatchResponse, error)
	GetStatus(ctx context.Context, id string) (*models.StatusResponse, error)
	CompleteAnalysis(ctx context.Context, result *models.AnalysisResult) error
}

type policyService struct {
	repo    repository.Repository
	storage storage.Storage
	engine  engine.Engine
	cfg     *config.Config
	logger  *utils.Logger
}

func NewService(repo repository.Repository, store storage.Storage, eng engine.Engine, cfg *config.Config, logger *utils.Logger) PolicyService {
	return &policyService{
		repo:    repo,
		storage: store,
		engine:  eng,
		cfg:     cfg,
		logger:  logger,
	}
}

func (s *policyService) CreatePolicy(ctx context.Context, req *models.CreatePolicyRequest) (*models.Policy, error) {
	if req.TenantID == "" || req.CompanyID == "" || req.LineOfCoverage == "" {
		return nil, utils.NewBadRequestError("tenant_id, company_id and line_of_coverage are required")
	}

	id := req.ID
	if id == "" {
		id = utils.GenerateID()
	}

	now := time.Now()
	policy := &models.Policy{
		ID:             id,
		TenantID:       req.TenantID,
		CompanyID:      req.CompanyID,
		PartnerID:      req.PartnerID,
		LineOfCoverage: req.LineOfCoverage,
		StoragePath:    req.StoragePath,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		UploadedByType: req.UploadedByType,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.repo.Create(ctx, policy); err != nil {
		s.logger.Error("Failed to save policy", "error", err, "policy_id", id)
		return nil, utils.NewInternalError("Failed to save policy")
	}

	s.logger.Info("Policy created",
		"policy_id", id,
		"tenant_id", req.TenantID,
		"line_of_coverage", req.LineOfCoverage)

	return policy, nil
}

func (s *policyService) GetPolicy(ctx context.Context, id string) (*models.Policy, error) {
	policy, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get policy", "error", err, "policy_id", id)
		return nil, utils.NewInternalError("Failed to retrieve policy")
	}
	if policy == nil {
		return nil, utils.NewNotFoundError("Policy not found")
	}

	return policy, nil
}

// Dispatch submits a policy's document to the analysis engine on an explicit
// request. Preconditions are checked before anything is written so a rejected
// dispatch leaves the row untouched.
func (s *policyService) Dispatch(ctx context.Context, id string) (*models.DispatchResponse, error) {
	policy, err := s.repo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get policy", "error", err, "policy_id", id)
		return nil, utils.NewInternalError("Failed to retrieve policy")
	}
	if policy == nil {
		return nil, utils.NewNotFoundError("Policy not found")
	}

	if policy.StoragePath == nil || *policy.StoragePath == "" {
		return nil, utils.NewBadRequestError("Policy has no attached file to analyze")
	}

	if policy.InFlight() {
		return nil, utils.NewConflictError("Analysis is already in progress for this policy")
	}

	result, err := s.performDispatch(ctx, policy, []models.AnalysisStatus{
		models.StatusProcessing,
		models.StatusAnalyzing,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Analysis dispatched",
		"policy_id", policy.ID,
		"analysis_id", result.AnalysisID,
		"estimated_time_seconds", result.EstimatedTimeSeconds)

	return &models.DispatchResponse{
		Success:              true,
		AnalysisID:           result.AnalysisID,
		Message:              result.Message,
		EstimatedTimeSeconds: result.EstimatedTimeSeconds,
	}, nil
}

// AutoDispatch handles a row-insert webhook event. Ineligible inserts are a
// normal occurrence, so every guard short of a missing policy resolves to a
// skip rather than an error. The delivery transport is at-least-once; the
// status guard plus the claim inside performDispatch make replays no-ops.
func (s *policyService) AutoDispatch(ctx context.Context, event *models.WebhookEvent) (*models.AutoDispatchResponse, error) {
	policyID := event.PolicyID()
	if policyID == "" {
		return nil, utils.NewBadRequestError("No policy ID in webhook payload")
	}

	policy, err := s.repo.GetByID(ctx, policyID)
	if err != nil {
		s.logger.Error("Auto-analyze: failed to get policy", "error", err, "policy_id", policyID)
		return nil, utils.NewInternalError("Failed to retrieve policy")
	}
	if policy == nil {
		s.logger.Error("Auto-analyze: policy not found", "policy_id", policyID)
		return nil, utils.NewNotFoundError("Policy not found")
	}

	if policy.StoragePath == nil || *policy.StoragePath == "" {
		return &models.AutoDispatchResponse{Skipped: true, Reason: "No file attached"}, nil
	}

	if policy.LineOfCoverage != models.CyberLiability {
		return &models.AutoDispatchResponse{Skipped: true, Reason: "Not a cyber liability policy"}, nil
	}

	switch policy.AnalysisStatus {
	case models.StatusProcessing, models.StatusAnalyzing, models.StatusCompleted:
		return &models.AutoDispatchResponse{
			Skipped: true,
			Reason:  fmt.Sprintf("Analysis already %s", policy.AnalysisStatus),
		}, nil
	}

	result, err := s.performDispatch(ctx, policy, []models.AnalysisStatus{
		models.StatusProcessing,
		models.StatusAnalyzing,
		models.StatusCompleted,
	})
	if err != nil {
		// A lost claim means a concurrent dispatch beat this delivery; treat
		// it like the status guard above, not a failure.
		var appErr *utils.AppError
		if errors.As(err, &appErr) && appErr.StatusCode == 409 {
			return &models.AutoDispatchResponse{Skipped: true, Reason: "Analysis already in progress"}, nil
		}
		return nil, err
	}

	s.logger.Info("Auto-analysis dispatched",
		"policy_id", policy.ID,
		"analysis_id", result.AnalysisID)

	return &models.AutoDispatchResponse{
		Success:    true,
		AnalysisID: result.AnalysisID,
		PolicyID:   policy.ID,
	}, nil
}

// performDispatch is the shared dispatch body used by both triggers. It signs
// a download URL, claims the policy row, and submits to the engine. Any
// failure after the claim resolves the row to "failed" so no policy is left
// stuck in a transitional state.
func (s *policyService) performDispatch(ctx context.Context, policy *models.Policy, blocked []models.AnalysisStatus) (*models.DispatchResult, error) {
	fileURL, err := s.storage.SignedURL(ctx, *policy.StoragePath, s.cfg.SignedURLTTL)
	if err != nil {
		s.logger.Error("Failed to create signed URL", "error", err, "policy_id", policy.ID)
		return nil, utils.NewInternalErrorWithDetails("Failed to generate file access URL", err.Error())
	}

	payload := s.buildPayload(policy, fileURL)

	claimed, err := s.repo.ClaimForAnalysis(ctx, policy.ID, time.Now(), blocked)
	if err != nil {
		s.logger.Error("Failed to claim policy for analysis", "error", err, "policy_id", policy.ID)
		return nil, utils.NewInternalError("Failed to update policy status")
	}
	if !claimed {
		return nil, utils.NewConflictError("Analysis is already in progress for this policy")
	}

	result, err := s.engine.Submit(ctx, payload)
	if err != nil {
		s.logger.Error("Analysis dispatch failed", "error", err, "policy_id", policy.ID)
		s.markFailed(policy.ID, err)
		return nil, utils.NewInternalErrorWithDetails("Failed to start analysis", err.Error())
	}

	if err := s.repo.MarkAnalyzing(ctx, policy.ID, result.AnalysisID); err != nil {
		s.logger.Error("Failed to record analysis id", "error", err, "policy_id", policy.ID)
		s.markFailed(policy.ID, err)
		return nil, utils.NewInternalErrorWithDetails("Failed to start analysis", err.Error())
	}

	return result, nil
}

// markFailed resolves the row out of "processing" after a dispatch failure.
// Uses a fresh context so the terminal write still lands when the request
// context is already canceled.
func (s *policyService) markFailed(policyID string, cause error) {
	if err := s.repo.MarkFailed(context.Background(), policyID, cause.Error()); err != nil {
		s.logger.Error("Failed to mark policy failed", "error", err, "policy_id", policyID)
	}
}

func (s *policyService) buildPayload(policy *models.Policy, fileURL string) *models.DispatchPayload {
	clientName := "Unknown Company"
	clientIndustry := "Other/General"
	if policy.Company != nil {
		if policy.Company.Name != "" {
			clientName = policy.Company.Name
		}
		if policy.Company.Industry != "" {
			clientIndustry = policy.Company.Industry
		}
	}

	fileName := "policy.pdf"
	if policy.FileName != nil && *policy.FileName != "" {
		fileName = *policy.FileName
	}

	var fileSize int64
	if policy.FileSize != nil {
		fileSize = *policy.FileSize
	}

	uploadedBy := "tenant"
	if policy.UploadedByType != nil && *policy.UploadedByType != "" {
		uploadedBy = *policy.UploadedByType
	}

	policyType := "general"
	if policy.LineOfCoverage == models.CyberLiability {
		policyType = "cyber"
	}

	return &models.DispatchPayload{
		PolicyID:       policy.ID,
		TenantID:       policy.TenantID,
		ClientID:       policy.CompanyID,
		ClientName:     clientName,
		ClientIndustry: clientIndustry,
		FileURL:        fileURL,
		FileName:       fileName,
		FileSize:       fileSize,
		UploadedBy:     uploadedBy,
		PolicyType:     policyType,
		Renewal:        false,
		Priority:       "normal",
		CallbackURL:    s.cfg.AppURL + "/api/webhook/analysis-complete",
	}
}

func (s *policyService) GetStatus(ctx context.Context, id string) (*models.StatusResponse, error) {
	status, err := s.repo.GetStatus(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get analysis status", "error", err, "policy_id", id)
		return nil, utils.NewInternalError("Failed to get analysis status")
	}
	if status == nil {
		return nil, utils.NewNotFoundError("Policy not found")
	}

	return status, nil
}

// CompleteAnalysis applies an analysis-complete callback from the engine.
func (s *policyService) CompleteAnalysis(ctx context.Context, result *models.AnalysisResult) error {
	if result.PolicyID == "" {
		return utils.NewBadRequestError("No policy ID in callback payload")
	}

	policy, err := s.repo.GetByID(ctx, result.PolicyID)
	if err != nil {
		s.logger.Error("Failed to get policy for callback", "error", err, "policy_id", result.PolicyID)
		return utils.NewInternalError("Failed to retrieve policy")
	}
	if policy == nil {
		return utils.NewNotFoundError("Policy not found")
	}

	if err := s.repo.ApplyResult(ctx, result); err != nil {
		s.logger.Error("Failed to save analysis results", "error", err, "policy_id", result.PolicyID)
		return utils.NewInternalError("Failed to update policy record")
	}

	s.logger.Info("Analysis results received",
		"policy_id", result.PolicyID,
		"analysis_id", result.AnalysisID,
		"status", result.Status)

	return nil
}
