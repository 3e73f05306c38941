package coverage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gantry/internal/logging"
)

// Report is the JSON payload posted to the coverage service.
type Report struct {
	BuildID string         `json:"build_id"`
	Tag     string         `json:"tag,omitempty"`
	Branch  string         `json:"branch,omitempty"`
	Runtime string         `json:"runtime,omitempty"`
	Flags   []string       `json:"flags,omitempty"`
	Total   float64        `json:"total_percent"`
	Files   []FileCoverage `json:"files"`
}

// Uploader posts coverage reports to a reporting service.
type Uploader struct {
	// URL is the report endpoint.
	URL string

	// TokenEnv names the env var holding the upload token. Empty means
	// unauthenticated upload.
	TokenEnv string

	// Client defaults to a 30s-timeout http.Client.
	Client *http.Client
}

func (u *Uploader) client() *http.Client {
	if u.Client != nil {
		return u.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// Upload posts the report. Non-2xx responses are errors.
func (u *Uploader) Upload(ctx context.Context, report *Report) error {
	if u.URL == "" {
		return fmt.Errorf("coverage upload: no service URL configured")
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("coverage upload: marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("coverage upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if u.TokenEnv != "" {
		token := os.Getenv(u.TokenEnv)
		if token == "" {
			return fmt.Errorf("coverage upload: token env %s is empty", u.TokenEnv)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := u.client().Do(req)
	if err != nil {
		return fmt.Errorf("coverage upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("coverage upload: service returned %d: %s", resp.StatusCode, snippet)
	}

	logging.Get(logging.CategoryCoverage).Info(
		"uploaded report for build %s (%.1f%%)", report.BuildID, report.Total)
	return nil
}
