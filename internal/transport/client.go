// Package transport speaks the CMS's versioned REST protocol (§4.1):
// register, requiredFiles, schedule, getResource, notifyStatus,
// mediaInventory, submitStats, submitLog, submitScreenshot, reportFaults,
// getWeather — plus ETag-cached GETs and backoff/circuit-breaker protected
// calls. The request/response plumbing is adapted from the teacher's
// transport.Registry (pkg/transport/transport.go) only in spirit: the
// teacher multiplexes QUIC/TCP dial/listen, which this spec has no use
// for, so the shape here instead follows cartographus's HTTP client +
// circuit breaker pairing (internal/sync/circuit_breaker.go,
// internal/sync/tautulli_client.go).
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/skyline-signage/player-core/internal/logging"
	"github.com/skyline-signage/player-core/internal/playererr"
)

// SchemaVersion is the CMS protocol version this client speaks (§6, "v",
// schema version integer, 7 reference).
const SchemaVersion = 7

// Config holds the tunables for a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	// MaxRetries bounds the backoff retry loop for transient failures.
	MaxRetries int
}

// DefaultConfig returns sane defaults for a Client.
func DefaultConfig() Config {
	return Config{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		MaxRetries: 4,
	}
}

// Client is the CMS REST client. One Client handles every operation in
// §4.1's table; ETag caching is per-operation (single slot, last-writer-wins
// per §5 "ETag cache").
type Client struct {
	baseURL string
	http    *http.Client
	auth    Authenticator
	log     zerologLogger

	cb         *gobreaker.CircuitBreaker[[]byte]
	maxRetries int

	etagMu sync.Mutex
	etags  map[string]etagEntry
}

type etagEntry struct {
	ETag string
	Body []byte
}

// zerologLogger narrows the logging dependency to what this file uses, so
// tests can swap in a no-op without importing zerolog directly here.
type zerologLogger interface {
	infof(correlationID, op string)
	warnf(correlationID string, err error)
}

type componentLogger struct{ name string }

func (c componentLogger) infof(correlationID, op string) {
	logging.Component(c.name).Info().Str("correlationId", correlationID).Str("op", op).Msg("request completed")
}

func (c componentLogger) warnf(correlationID string, err error) {
	logging.Component(c.name).Warn().Str("correlationId", correlationID).Err(err).Msg("retrying after transient failure")
}

// New constructs a Client. auth selects the v1/v2 authentication mode.
func New(cfg Config, auth Authenticator) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = DefaultConfig().HTTPClient
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "cms-transport",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 6 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})

	return &Client{
		baseURL:    cfg.BaseURL,
		http:       cfg.HTTPClient,
		auth:       auth,
		log:        componentLogger{name: "transport"},
		cb:         cb,
		maxRetries: cfg.MaxRetries,
		etags:      make(map[string]etagEntry),
	}
}

// requestOpts customize a single CMS call.
type requestOpts struct {
	method      string
	path        string
	query       url.Values
	jsonBody    any
	rawBody     []byte
	etagCache   bool // op is ETag-cached (requiredFiles, schedule)
	opName      string
	wantOpaque  bool // response is opaque text, not JSON
}

// do performs one CMS call with backoff retry and circuit breaker
// protection, honouring the ETag cache for idempotent GETs (§5 "ETag
// cache: per-endpoint single slot, last-writer-wins").
func (c *Client) do(ctx context.Context, opts requestOpts) (body []byte, status int, err error) {
	correlationID := uuid.NewString()

	op := func() ([]byte, error) {
		req, err := c.buildRequest(ctx, opts)
		if err != nil {
			return nil, playererr.Wrap(playererr.Protocol, "transport."+opts.opName, "failed to build request", err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, playererr.Wrap(playererr.Transient, "transport."+opts.opName, "request failed", err)
		}
		defer resp.Body.Close()
		status = resp.StatusCode

		if opts.etagCache && resp.StatusCode == http.StatusNotModified {
			c.etagMu.Lock()
			cached := c.etags[opts.opName]
			c.etagMu.Unlock()
			return cached.Body, nil
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, playererr.Wrap(playererr.Transient, "transport."+opts.opName, "failed to read response body", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, playererr.New(playererr.Auth, "transport."+opts.opName, fmt.Sprintf("CMS returned %d", resp.StatusCode))
		case resp.StatusCode == http.StatusNotFound:
			return nil, playererr.New(playererr.NotFound, "transport."+opts.opName, "resource not found")
		case resp.StatusCode >= 500:
			return nil, playererr.New(playererr.Transient, "transport."+opts.opName, fmt.Sprintf("CMS returned %d", resp.StatusCode))
		case resp.StatusCode >= 400:
			return nil, playererr.New(playererr.Protocol, "transport."+opts.opName, fmt.Sprintf("CMS returned %d", resp.StatusCode))
		}

		if opts.etagCache {
			if etag := resp.Header.Get("ETag"); etag != "" {
				c.etagMu.Lock()
				c.etags[opts.opName] = etagEntry{ETag: etag, Body: raw}
				c.etagMu.Unlock()
			}
		}
		return raw, nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries))
	bo = backoff.WithContext(bo, ctx)

	result, cbErr := c.cb.Execute(func() ([]byte, error) {
		var last error
		var out []byte
		retryErr := backoff.Retry(func() error {
			b, opErr := op()
			if opErr == nil {
				out = b
				return nil
			}
			last = opErr
			if playererr.IsRetryable(opErr) {
				c.log.warnf(correlationID, opErr)
				return opErr
			}
			return backoff.Permanent(opErr)
		}, bo)
		if retryErr != nil {
			return nil, last
		}
		return out, nil
	})

	if cbErr != nil {
		if _, ok := cbErr.(*playererr.Error); !ok {
			cbErr = playererr.Wrap(playererr.Transient, "transport."+opts.opName, "circuit breaker rejected request", cbErr)
		}
		return nil, status, cbErr
	}
	c.log.infof(correlationID, opts.opName)
	return result, status, nil
}

func (c *Client) buildRequest(ctx context.Context, opts requestOpts) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + opts.path)
	if err != nil {
		return nil, err
	}
	query := u.Query()
	for k, vs := range opts.query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("v", fmt.Sprintf("%d", SchemaVersion))

	var reader io.Reader
	if opts.jsonBody != nil {
		encoded, err := json.Marshal(opts.jsonBody)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(encoded)
	} else if opts.rawBody != nil {
		reader = bytes.NewReader(opts.rawBody)
	}

	req, err := http.NewRequestWithContext(ctx, opts.method, u.String(), reader)
	if err != nil {
		return nil, err
	}
	if opts.jsonBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.auth.Apply(req, query)
	req.URL.RawQuery = query.Encode()

	if opts.etagCache {
		c.etagMu.Lock()
		if cached, ok := c.etags[opts.opName]; ok {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		c.etagMu.Unlock()
	}
	return req, nil
}
