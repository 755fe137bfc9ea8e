package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProber probes a liveness endpoint over HTTP. Any 2xx response is UP;
// every other status, transport failure or timeout is DOWN.
type HTTPProber struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProber creates a prober for the given liveness URL
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{},
	}
}

func (p *HTTPProber) Kind() string {
	return "http"
}

// Probe issues one GET against the liveness endpoint
func (p *HTTPProber) Probe(ctx context.Context) Result {
	return run(ctx, p.Timeout, func(ctx context.Context) (Verdict, string) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			return VerdictDown, fmt.Sprintf("invalid probe URL: %v", err)
		}

		resp, err := p.Client.Do(req)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return VerdictDown, "probe timed out"
			}
			return VerdictDown, err.Error()
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return VerdictUp, ""
		}
		return VerdictDown, fmt.Sprintf("liveness endpoint returned status %d", resp.StatusCode)
	})
}
