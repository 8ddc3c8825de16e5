package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"linkmon/internal/models"
)

// HTTPProber performs one request/response exchange per cycle against the
// target's ping endpoint. Nothing is held open between cycles beyond the
// client's idle pool.
type HTTPProber struct {
	link   models.Link
	url    string
	client *http.Client
}

// NewHTTPProber probes baseURL/ping with the given total request timeout.
func NewHTTPProber(link models.Link, baseURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		link:   link,
		url:    strings.TrimSuffix(baseURL, "/") + "/ping",
		client: &http.Client{Timeout: timeout},
	}
}

// Link implements Prober.
func (p *HTTPProber) Link() models.Link { return p.link }

// Cycle issues one GET and succeeds iff the response indicates success.
func (p *HTTPProber) Cycle(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("request timed out")
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("http %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}

// Close implements Prober.
func (p *HTTPProber) Close() {
	p.client.CloseIdleConnections()
}
