// Package client provides the authenticated request pipeline used by every
// data-fetching caller: bearer attachment, and transparent recovery from
// credential rejection through a bounded refresh-and-retry protocol.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"puplink-authkit/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Response is the outcome of a dispatched request. Non-auth HTTP errors
// are passed through here unchanged; only authentication rejections are
// intercepted by the pipeline.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Pipeline is the authenticated API client. It attaches the current
// bearer token to every outbound call and, on an authentication
// rejection, refreshes the session and retries exactly once.
type Pipeline struct {
	baseURL    string
	tokens     domain.TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.httpClient = c }
}

// WithRateLimit throttles outbound dispatches client-side.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(p *Pipeline) { p.limiter = rate.NewLimiter(r, burst) }
}

// NewPipeline creates an authenticated pipeline for the API at baseURL,
// drawing tokens from the given source.
func NewPipeline(baseURL string, tokens domain.TokenSource, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		tracer:  otel.Tracer("puplink-authkit/client"),
		logger:  logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execute dispatches an authenticated request. body may be nil, a []byte
// passed through verbatim, or any value marshalled to JSON. A 401 or 403
// triggers one session refresh and one retry; a second rejection, or any
// refresh failure, finalizes the session as signed out and returns
// domain.ErrSessionExpired. Every other status is returned unchanged.
func (p *Pipeline) Execute(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	tok, err := p.tokens.ValidToken(ctx)
	if err != nil {
		return nil, err
	}
	return p.execute(ctx, method, path, body, tok, true)
}

// Get issues an authenticated GET.
func (p *Pipeline) Get(ctx context.Context, path string) (*Response, error) {
	return p.Execute(ctx, http.MethodGet, path, nil)
}

// Post issues an authenticated POST.
func (p *Pipeline) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	return p.Execute(ctx, http.MethodPost, path, body)
}

// Put issues an authenticated PUT.
func (p *Pipeline) Put(ctx context.Context, path string, body interface{}) (*Response, error) {
	return p.Execute(ctx, http.MethodPut, path, body)
}

// Delete issues an authenticated DELETE.
func (p *Pipeline) Delete(ctx context.Context, path string) (*Response, error) {
	return p.Execute(ctx, http.MethodDelete, path, nil)
}

// execute runs one dispatch attempt. allowRetry is false on the retry
// leg, which makes a second refresh structurally impossible.
func (p *Pipeline) execute(ctx context.Context, method, path string, body interface{}, tok string, allowRetry bool) (*Response, error) {
	ctx, span := p.tracer.Start(ctx, "authkit.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
			attribute.Bool("authkit.retry", !allowRetry),
		))
	defer span.End()

	resp, err := p.dispatch(ctx, method, path, body, tok)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if !isAuthRejection(resp.StatusCode) {
		return resp, nil
	}

	if !allowRetry {
		// Already the retry leg: no second refresh, the session is gone.
		p.logger.Warn("request rejected after refresh, finalizing session",
			"method", method, "path", path, "status", resp.StatusCode)
		p.tokens.Invalidate(ctx)
		span.SetStatus(codes.Error, "session expired")
		return nil, domain.ErrSessionExpired
	}

	p.logger.Info("credential rejected, refreshing session",
		"method", method, "path", path, "status", resp.StatusCode)

	newTok, err := p.tokens.Refresh(ctx, tok)
	if err != nil {
		p.tokens.Invalidate(ctx)
		span.SetStatus(codes.Error, "session expired")
		return nil, fmt.Errorf("%w: %w", domain.ErrSessionExpired, err)
	}

	return p.execute(ctx, method, path, body, newTok, false)
}

// dispatch performs a single HTTP round trip with the token attached.
func (p *Pipeline) dispatch(ctx context.Context, method, path string, body interface{}, tok string) (*Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reader, contentType, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", domain.ErrNetwork, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "application/json", nil
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return bytes.NewReader(buf), "application/json", nil
	}
}

// isAuthRejection reports whether the status signals a rejected
// credential. Forbidden is treated the same as unauthorized, matching the
// backend's behavior of returning 403 for expired sessions.
func isAuthRejection(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
