package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"relaysync/internal/cache"
	"relaysync/internal/config"
	"relaysync/internal/models"

	"github.com/rs/zerolog"
)

// hopHeaders are stripped before relaying in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Upstream forwards requests to the origin API. It backs the cache engine's
// fetches, write pass-through, and queued request replay.
type Upstream struct {
	baseURL string
	client  *http.Client
	logger  *zerolog.Logger
}

func NewUpstream(cfg config.UpstreamConfig, logger *zerolog.Logger) *Upstream {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Upstream{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Fetch satisfies the cache engine's fetcher contract for GETs.
func (u *Upstream) Fetch(ctx context.Context, req *cache.Request) (*cache.Response, error) {
	return u.Forward(ctx, http.MethodGet, req.URL, req.Header, nil)
}

// Forward relays one request to the origin and buffers the response.
func (u *Upstream) Forward(ctx context.Context, method, target string, header http.Header, body []byte) (*cache.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.baseURL+target, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	copyHeader(httpReq.Header, header)

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	out := &cache.Response{
		StatusCode: resp.StatusCode,
		Header:     make(http.Header, len(resp.Header)),
		Body:       respBody,
	}
	copyHeader(out.Header, resp.Header)
	return out, nil
}

// Replay reissues a captured write request and returns the origin's status.
func (u *Upstream) Replay(ctx context.Context, req *models.QueuedRequest) (int, error) {
	resp, err := u.Forward(ctx, req.Method, req.URL, req.Header, req.Body)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode, nil
}

func copyHeader(dst, src http.Header) {
	for name, values := range src {
		if isHopHeader(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
