// Package connectivity checks outbound network reachability before a run.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Prober reports whether an outbound HTTP request to a well-known URL
// succeeds. Any response, whatever its status, counts as connectivity.
type Prober struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProber creates a prober for url with the given request timeout.
func NewProber(url string, timeout time.Duration, logger *slog.Logger) *Prober {
	return &Prober{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Probe never returns an error; failures are logged and reported as false.
func (p *Prober) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("connectivity probe request", "url", p.url, "error", err)
		return false
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Info("no internet connectivity", "url", p.url, "error", err)
		return false
	}
	resp.Body.Close()

	p.logger.Info("connectivity probe ok", "url", p.url, "status", resp.StatusCode)
	return true
}
