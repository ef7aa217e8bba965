package models

import (
	"time"
)

// AnalysisStatus tracks where a policy is in the analysis lifecycle.
type AnalysisStatus string

const (
	StatusProcessing AnalysisStatus = "processing"
	StatusAnalyzing  AnalysisStatus = "analyzing"
	StatusExtracting AnalysisStatus = "extracting"
	StatusGenerating AnalysisStatus = "generating"
	StatusRetrying   AnalysisStatus = "retrying"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// CyberLiability is the only line of coverage the analysis engine accepts.
const CyberLiability = "Cyber Liability"

type Policy struct {
	ID             string                 `json:"id" db:"id"`
	TenantID       string                 `json:"tenant_id" db:"tenant_id"`
	CompanyID      string                 `json:"company_id" db:"company_id"`
	PartnerID      *string                `json:"partner_id,omitempty" db:"partner_id"`
	LineOfCoverage string                 `json:"line_of_coverage" db:"line_of_coverage"`
	StoragePath    *string                `json:"storage_path,omitempty" db:"storage_path"`
	FileName       *string                `json:"file_name,omitempty" db:"file_name"`
	FileSize       *int64                 `json:"file_size,omitempty" db:"file_size"`
	UploadedByType *string                `json:"uploaded_by_type,omitempty" db:"uploaded_by_type"`
	AnalysisID     *string                `json:"analysis_id,omitempty" db:"analysis_id"`
	AnalysisStatus AnalysisStatus         `json:"analysis_status,omitempty" db:"analysis_status"`
	AnalysisScore  *float64               `json:"analysis_score,omitempty" db:"analysis_score"`
	AnalysisRec    *string                `json:"analysis_recommendation,omitempty" db:"analysis_recommendation"`
	AnalysisData   map[string]interface{} `json:"analysis_data,omitempty" db:"analysis_data"`
	AnalysisStart  *time.Time             `json:"analysis_started_at,omitempty" db:"analysis_started_at"`
	AnalysisEnd    *time.Time             `json:"analysis_completed_at,omitempty" db:"analysis_completed_at"`
	AnalysisError  *string                `json:"analysis_error,omitempty" db:"analysis_error"`
	CreatedAt      time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at" db:"updated_at"`

	// Company is populated on reads that join the owning company.
	Company *Company `json:"company,omitempty"`
}

type Company struct {
	ID       string `json:"id" db:"id"`
	Name     string `json:"name" db:"name"`
	Industry string `json:"industry" db:"industry"`
}

// InFlight reports whether a dispatch is already underway for the policy.
func (p *Policy) InFlight() bool {
	return p.AnalysisStatus == StatusProcessing || p.AnalysisStatus == StatusAnalyzing
}

type CreatePolicyRequest struct {
	ID             string  `json:"id,omitempty"`
	TenantID       string  `json:"tenant_id"`
	CompanyID      string  `json:"company_id"`
	PartnerID      *string `json:"partner_id,omitempty"`
	LineOfCoverage string  `json:"line_of_coverage"`
	StoragePath    *string `json:"storage_path,omitempty"`
	FileName       *string `json:"file_name,omitempty"`
	FileSize       *int64  `json:"file_size,omitempty"`
	UploadedByType *string `json:"uploaded_by_type,omitempty"`
}

// DispatchPayload is the request body sent to the analysis engine.
type DispatchPayload struct {
	PolicyID       string `json:"policy_id"`
	TenantID       string `json:"tenant_id"`
	ClientID       string `json:"client_id"`
	ClientName     string `json:"client_name"`
	ClientIndustry string `json:"client_industry"`
	FileURL        string `json:"file_url"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	UploadedBy     string `json:"uploaded_by"`
	PolicyType     string `json:"policy_type"`
	Renewal        bool   `json:"renewal"`
	Priority       string `json:"priority"`
	CallbackURL    string `json:"callback_url"`
}

// DispatchResult is what the analysis engine returns on a successful dispatch.
type DispatchResult struct {
	AnalysisID           string `json:"analysis_id"`
	Message              string `json:"message"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

type DispatchResponse struct {
	Success              bool   `json:"success"`
	AnalysisID           string `json:"analysis_id"`
	Message              string `json:"message"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
}

// StatusResponse is the read-only projection of a policy's analysis state.
type StatusResponse struct {
	PolicyID       string         `json:"policy_id"`
	AnalysisID     *string        `json:"analysis_id"`
	AnalysisStatus AnalysisStatus `json:"analysis_status,omitempty"`
	AnalysisScore  *float64       `json:"analysis_score"`
	AnalysisRec    *string        `json:"analysis_recommendation"`
	AnalysisStart  *time.Time     `json:"analysis_started_at"`
	AnalysisEnd    *time.Time     `json:"analysis_completed_at"`
	AnalysisError  *string        `json:"analysis_error"`
}

// WebhookEvent is a database insert event as delivered by the row-insert
// webhook. The inserted row arrives either nested under "record" or at the
// top level, so both shapes must resolve to a policy id.
type WebhookEvent struct {
	Type   string         `json:"type,omitempty"`
	Table  string         `json:"table,omitempty"`
	Record *WebhookRecord `json:"record,omitempty"`
	WebhookRecord
}

type WebhookRecord struct {
	ID string `json:"id"`
}

// PolicyID resolves the inserted row's id from either payload shape.
func (e *WebhookEvent) PolicyID() string {
	if e.Record != nil && e.Record.ID != "" {
		return e.Record.ID
	}
	return e.ID
}

type AutoDispatchResponse struct {
	Success    bool   `json:"success,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
	AnalysisID string `json:"analysis_id,omitempty"`
	PolicyID   string `json:"policy_id,omitempty"`
}

// AnalysisResult is the callback body the analysis engine posts when a run
// finishes (successfully or not).
type AnalysisResult struct {
	AnalysisID        string                 `json:"analysis_id"`
	PolicyID          string                 `json:"policy_id"`
	Status            AnalysisStatus         `json:"status"`
	OverallScore      *float64               `json:"overall_score,omitempty"`
	Recommendation    *string                `json:"recommendation,omitempty"`
	AnalysisData      map[string]interface{} `json:"analysis_data,omitempty"`
	ReportStoragePath *string                `json:"report_storage_path,omitempty"`
	CompletedAt       *time.Time             `json:"completed_at,omitempty"`
	ErrorMessage      *string                `json:"error_message,omitempty"`
}
