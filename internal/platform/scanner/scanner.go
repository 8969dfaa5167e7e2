package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/assetforge/assetforge-backend/internal/platform/logger"
)

// Verdict statuses as reported by the backend. A backend error is not a
// verdict; it is returned as a plain error and retried by the dispatcher.
const (
	VerdictClean    = "clean"
	VerdictInfected = "infected"
)

type Verdict struct {
	Status    string    `json:"status"`
	Engine    string    `json:"engine"`
	Version   string    `json:"version"`
	Threats   []string  `json:"threats,omitempty"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Backend is the pluggable content scanner.
type Backend interface {
	Scan(ctx context.Context, r io.Reader) (*Verdict, error)
	// Enabled is false only for the explicit non-production stub; callers
	// record scan_status=skipped instead of invoking Scan.
	Enabled() bool
}

// NewBackendFromEnv picks the backend. SCAN_BACKEND=disabled must be set
// explicitly to get the stub; the default is the HTTP backend, which requires
// SCANNER_URL.
func NewBackendFromEnv(log *logger.Logger) (Backend, error) {
	mode := strings.TrimSpace(strings.ToLower(os.Getenv("SCAN_BACKEND")))
	if mode == "disabled" {
		log.Warn("Scan backend disabled; assets will be marked skipped, never use this in production")
		return &disabledBackend{}, nil
	}
	baseURL := strings.TrimRight(strings.TrimSpace(os.Getenv("SCANNER_URL")), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("missing SCANNER_URL (or set SCAN_BACKEND=disabled explicitly)")
	}
	return &httpBackend{
		log:     log.With("service", "ScanBackend"),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// httpBackend streams the object to a clamd-style REST scanner and decodes
// its JSON verdict.
type httpBackend struct {
	log     *logger.Logger
	baseURL string
	client  *http.Client
}

func (b *httpBackend) Enabled() bool { return true }

func (b *httpBackend) Scan(ctx context.Context, r io.Reader) (*Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/scan", r)
	if err != nil {
		return nil, fmt.Errorf("build scan request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scan request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("scanner returned status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Status  string   `json:"status"`
		Engine  string   `json:"engine"`
		Version string   `json:"version"`
		Threats []string `json:"threats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode scan verdict: %w", err)
	}
	status := strings.ToLower(strings.TrimSpace(payload.Status))
	if status != VerdictClean && status != VerdictInfected {
		return nil, fmt.Errorf("scanner returned unknown verdict %q", payload.Status)
	}
	return &Verdict{
		Status:    status,
		Engine:    payload.Engine,
		Version:   payload.Version,
		Threats:   payload.Threats,
		ScannedAt: time.Now().UTC(),
	}, nil
}

type disabledBackend struct{}

func (d *disabledBackend) Enabled() bool { return false }

func (d *disabledBackend) Scan(ctx context.Context, r io.Reader) (*Verdict, error) {
	return nil, fmt.Errorf("scan backend is disabled")
}
