package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

func init() {
	Register(&IndexProvider{})
	Register(&ScriptProvider{})
}

// IndexProvider publishes built artifacts to a package index over HTTP
// multipart upload with basic-auth credentials.
type IndexProvider struct {
	// Client defaults to a 60s-timeout http.Client.
	Client *http.Client
}

// Name implements Provider.
func (p *IndexProvider) Name() string { return "index" }

func (p *IndexProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// Deploy uploads every file matching settings["artifact"] (a glob) to
// settings["url"].
func (p *IndexProvider) Deploy(ctx context.Context, req Request) error {
	indexURL := req.Settings["url"]
	if indexURL == "" {
		return fmt.Errorf("index provider: settings.url required")
	}
	pattern := req.Settings["artifact"]
	if pattern == "" {
		pattern = "dist/*"
	}
	// Relative globs are workspace-relative, like every pipeline step.
	if !filepath.IsAbs(pattern) && req.Context.Workspace != "" {
		pattern = filepath.Join(req.Context.Workspace, pattern)
	}

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("index provider: bad artifact glob %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("index provider: no artifacts match %q", pattern)
	}

	for _, artifact := range matches {
		if err := p.uploadOne(ctx, indexURL, artifact, req); err != nil {
			return err
		}
	}
	return nil
}

func (p *IndexProvider) uploadOne(ctx context.Context, indexURL, artifact string, req Request) error {
	f, err := os.Open(artifact)
	if err != nil {
		return fmt.Errorf("index provider: open artifact: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("content", filepath.Base(artifact))
	if err != nil {
		return fmt.Errorf("index provider: build form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("index provider: read artifact: %w", err)
	}
	if req.Context.Tag != "" {
		_ = writer.WriteField("version", req.Context.Tag)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("index provider: finalize form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, indexURL, &body)
	if err != nil {
		return fmt.Errorf("index provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	if req.Username != "" {
		httpReq.SetBasicAuth(req.Username, req.Password)
	}

	resp, err := p.client().Do(httpReq)
	if err != nil {
		return fmt.Errorf("index provider: upload %s: %w", artifact, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("index provider: upload %s: index returned %d: %s",
			artifact, resp.StatusCode, snippet)
	}
	return nil
}
