package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/advisory-crm/policy-dispatch/internal/models"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Create(ctx context.Context, policy *models.Policy) error
	CreateCompany(ctx context.Context, id, tenantID, name, industry string) error
	GetByID(ctx context.Context, id string) (*models.Policy, error)
	GetStatus(ctx context.Context, id string) (*models.StatusResponse, error)
	ClaimForAnalysis(ctx context.Context, id string, startedAt time.Time, blocked []models.AnalysisStatus) (bool, error)
	MarkAnalyzing(ctx context.Context, id, analysisID string) error
	MarkFailed(ctx context.Context, id, analysisError string) error
	ApplyResult(ctx context.Context, result *models.AnalysisResult) error
}

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, policy *models.Policy) error {
	query := `
		INSERT INTO insurance_policies (id, tenant_id, company_id, partner_id, line_of_coverage,
		       storage_path, file_name, file_size, uploaded_by_type, analysis_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		policy.ID,
		policy.TenantID,
		policy.CompanyID,
		policy.PartnerID,
		policy.LineOfCoverage,
		policy.StoragePath,
		policy.FileName,
		policy.FileSize,
		policy.UploadedByType,
		nullableStatus(policy.AnalysisStatus),
		policy.CreatedAt,
		policy.UpdatedAt,
	)

	return err
}

func (r *repository) CreateCompany(ctx context.Context, id, tenantID, name, industry string) error {
	query := `
		INSERT INTO companies (id, tenant_id, name, industry, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query, id, tenantID, name, industry, time.Now())
	return err
}

func (r *repository) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	var p models.Policy
	var status sql.NullString
	var dataJSON sql.NullString
	var companyName, companyIndustry sql.NullString

	query := `
		SELECT p.id, p.tenant_id, p.company_id, p.partner_id, p.line_of_coverage,
		       p.storage_path, p.file_name, p.file_size, p.uploaded_by_type,
		       p.analysis_id, p.analysis_status, p.analysis_score, p.analysis_recommendation,
		       p.analysis_data, p.analysis_started_at, p.analysis_completed_at, p.analysis_error,
		       p.created_at, p.updated_at, c.name, c.industry
		FROM insurance_policies p
		LEFT JOIN companies c ON c.id = p.company_id
		WHERE p.id = ?
	`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID,
		&p.TenantID,
		&p.CompanyID,
		&p.PartnerID,
		&p.LineOfCoverage,
		&p.StoragePath,
		&p.FileName,
		&p.FileSize,
		&p.UploadedByType,
		&p.AnalysisID,
		&status,
		&p.AnalysisScore,
		&p.AnalysisRec,
		&dataJSON,
		&p.AnalysisStart,
		&p.AnalysisEnd,
		&p.AnalysisError,
		&p.CreatedAt,
		&p.UpdatedAt,
		&companyName,
		&companyIndustry,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if status.Valid {
		p.AnalysisStatus = models.AnalysisStatus(status.String)
	}

	if dataJSON.Valid && dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &p.AnalysisData); err != nil {
			return nil, err
		}
	}

	if companyName.Valid {
		p.Company = &models.Company{
			ID:       p.CompanyID,
			Name:     companyName.String,
			Industry: companyIndustry.String,
		}
	}

	return &p, nil
}

func (r *repository) GetStatus(ctx context.Context, id string) (*models.StatusResponse, error) {
	var s models.StatusResponse
	var status sql.NullString

	query := `
		SELECT id, analysis_id, analysis_status, analysis_score, analysis_recommendation,
		       analysis_started_at, analysis_completed_at, analysis_error
		FROM insurance_policies
		WHERE id = ?
	`

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&s.PolicyID,
		&s.AnalysisID,
		&status,
		&s.AnalysisScore,
		&s.AnalysisRec,
		&s.AnalysisStart,
		&s.AnalysisEnd,
		&s.AnalysisError,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if status.Valid {
		s.AnalysisStatus = models.AnalysisStatus(status.String)
	}

	return &s, nil
}

// ClaimForAnalysis atomically moves a policy into "processing" unless its
// current status is in the blocked set. The read-then-write precondition
// check alone is racy when the explicit and webhook triggers fire for the
// same policy; the conditional update closes that window. Returns false if
// the claim lost, i.e. another dispatch already holds the policy.
func (r *repository) ClaimForAnalysis(ctx context.Context, id string, startedAt time.Time, blocked []models.AnalysisStatus) (bool, error) {
	query, args, err := sqlx.In(`
		UPDATE insurance_policies
		SET analysis_status = ?, analysis_started_at = ?, analysis_error = NULL, updated_at = ?
		WHERE id = ?
		  AND (analysis_status IS NULL OR analysis_status = '' OR analysis_status NOT IN (?))
	`, string(models.StatusProcessing), startedAt, time.Now(), id, blockedStrings(blocked))
	if err != nil {
		return false, err
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *repository) MarkAnalyzing(ctx context.Context, id, analysisID string) error {
	query := `
		UPDATE insurance_policies
		SET analysis_id = ?, analysis_status = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query, analysisID, string(models.StatusAnalyzing), time.Now(), id)
	return err
}

func (r *repository) MarkFailed(ctx context.Context, id, analysisError string) error {
	query := `
		UPDATE insurance_policies
		SET analysis_status = ?, analysis_error = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query, string(models.StatusFailed), analysisError, time.Now(), id)
	return err
}

// ApplyResult persists an analysis-complete callback onto the policy row.
func (r *repository) ApplyResult(ctx context.Context, result *models.AnalysisResult) error {
	var dataJSON interface{}
	if result.AnalysisData != nil {
		raw, err := json.Marshal(result.AnalysisData)
		if err != nil {
			return err
		}
		dataJSON = string(raw)
	}

	query := `
		UPDATE insurance_policies
		SET analysis_id = ?,
		    analysis_status = ?,
		    analysis_completed_at = ?,
		    analysis_score = COALESCE(?, analysis_score),
		    analysis_recommendation = COALESCE(?, analysis_recommendation),
		    analysis_data = COALESCE(?, analysis_data),
		    analysis_error = ?,
		    updated_at = ?
		WHERE id = ?
	`

	_, err := r.db.ExecContext(ctx, query,
		result.AnalysisID,
		string(result.Status),
		result.CompletedAt,
		result.OverallScore,
		result.Recommendation,
		dataJSON,
		result.ErrorMessage,
		time.Now(),
		result.PolicyID,
	)

	return err
}

func nullableStatus(s models.AnalysisStatus) interface{} {
	if s == "" {
		return nil
	}
	return string(s)
}

func blockedStrings(blocked []models.AnalysisStatus) []string {
	out := make([]string, len(blocked))
	for i, s := range blocked {
		out[i] = string(s)
	}
	return out
}
