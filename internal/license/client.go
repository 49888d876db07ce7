package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"entitled/internal/infrastructure"
)

// HTTPAuthorityClient talks JSON to the validation authority over HTTP.
// Transport-level failures come back as NetworkError so the orchestrator
// can apply grace semantics; authority-level rejections come back as the
// decoded response envelope for the resolver to interpret.
type HTTPAuthorityClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPAuthorityClient creates a client for an authority base URL.
func NewHTTPAuthorityClient(baseURL, apiKey string, timeout time.Duration) *HTTPAuthorityClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAuthorityClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// ValidateLicense asks the authority whether a license is valid for this
// installation.
func (c *HTTPAuthorityClient) ValidateLicense(ctx context.Context, licenseKey, contextID string) (map[string]any, error) {
	return c.post(ctx, "/licenses/validate", map[string]any{
		"license_key": licenseKey,
		"hardware_id": contextID,
	})
}

// ActivateLicense binds the license to this installation's context.
func (c *HTTPAuthorityClient) ActivateLicense(ctx context.Context, licenseKey, contextID string) (map[string]any, error) {
	return c.post(ctx, "/licenses/activate", map[string]any{
		"license_key": licenseKey,
		"hardware_id": contextID,
	})
}

// CheckFeature asks the authority about a single feature grant.
func (c *HTTPAuthorityClient) CheckFeature(ctx context.Context, licenseKey, feature string) (map[string]any, error) {
	return c.post(ctx, "/licenses/feature-check", map[string]any{
		"license_key": licenseKey,
		"feature":     feature,
	})
}

func (c *HTTPAuthorityClient) post(ctx context.Context, path string, payload map[string]any) (map[string]any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	logger := infrastructure.LoggerWithContext(ctx)
	logger.Debug("authority request completed",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	// Authority rejections arrive as JSON envelopes with result codes on
	// 4xx statuses; those are decoded and returned for the resolver.
	// 5xx means the authority itself is unwell, which counts as a network
	// failure for grace purposes.
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &NetworkError{Op: path, Err: fmt.Errorf("authority returned status %d", resp.StatusCode)}
	}

	limited := io.LimitReader(resp.Body, 1<<20)
	decoder := json.NewDecoder(limited)
	decoder.UseNumber()

	var envelope map[string]any
	if err := decoder.Decode(&envelope); err != nil {
		return nil, &NetworkError{Op: path, Err: fmt.Errorf("failed to decode authority response: %w", err)}
	}
	return envelope, nil
}
