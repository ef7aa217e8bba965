package engine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/advisory-crm/policy-dispatch/internal/models"
	"github.com/advisory-crm/policy-dispatch/internal/utils"
)

// Engine is the outbound contract with the policy analysis service. It is
// narrow on purpose so tests can stub it without network access.
type Engine interface {
	Submit(ctx context.Context, payload *models.DispatchPayload) (*models.DispatchResult, error)
}

type client struct {
	baseURL string
	secret  string
	logger  *utils.Logger
	client  *http.Client
}

type submitRequest struct {
	EventType string `json:"event_type"`
	*models.DispatchPayload
}

type submitResponse struct {
	Success              bool   `json:"success"`
	AnalysisID           string `json:"analysis_id"`
	Message              string `json:"message"`
	EstimatedTimeSeconds int    `json:"estimated_time_seconds"`
	Error                string `json:"error,omitempty"`
}

func NewClient(baseURL, secret string, timeout time.Duration, logger *utils.Logger) Engine {
	return &client{
		baseURL: baseURL,
		secret:  secret,
		logger:  logger,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Submit posts the policy to the analysis engine's intake webhook. The body
// is signed with HMAC-SHA256 so the engine can reject forged dispatches.
func (c *client) Submit(ctx context.Context, payload *models.DispatchPayload) (*models.DispatchResult, error) {
	body := submitRequest{
		EventType:       "policy.uploaded",
		DispatchPayload: payload,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/webhook/policy-uploaded", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "sha256="+Sign(jsonData, c.secret))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("Analysis API error", "status", resp.StatusCode, "body", string(respBody))
		return nil, fmt.Errorf("analysis API error: %d - %s", resp.StatusCode, string(respBody))
	}

	var result submitResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if result.AnalysisID == "" {
		return nil, fmt.Errorf("analysis API returned no analysis id")
	}

	return &models.DispatchResult{
		AnalysisID:           result.AnalysisID,
		Message:              result.Message,
		EstimatedTimeSeconds: result.EstimatedTimeSeconds,
	}, nil
}

// Sign computes the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received hex signature against the raw body.
// Comparison is constant-time.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := Sign(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}
