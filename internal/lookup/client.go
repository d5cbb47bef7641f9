// Package lookup resolves national patient identifiers against the authoritative registry.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"optout/internal/verification/models"
	"optout/pkg/platform/circuit"
	"optout/pkg/platform/tracer"
	"optout/pkg/requestcontext"
)

const (
	lookupPath      = "/api/v1/patients/lookup"
	healthPath      = "/health"
	maxResponseSize = 1 << 20
	defaultTimeout  = 5 * time.Second
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

type lookupRequest struct {
	Identifier string `json:"identifier"`
}

type lookupResponse struct {
	Identifier  string `json:"identifier"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	DateOfBirth string `json:"date_of_birth"`
	AddressLine string `json:"address_line"`
	Postcode    string `json:"postcode"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

// Client calls the registry over HTTP behind a circuit breaker.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    HTTPDoer
	breaker *circuit.Breaker
	tracer  tracer.Tracer
	logger  *slog.Logger

	breakerClock func() time.Time
}

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		c.http = doer
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(c *Client) {
		c.tracer = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithClock drives the breaker cooldown from now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.breakerClock = now
	}
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		tracer:  tracer.NewNoop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}

	breakerOpts := []circuit.Option{
		circuit.WithFailureThreshold(cfg.FailureThreshold),
		circuit.WithCooldown(cfg.Cooldown),
		circuit.WithStateChangeHook(func(name string, from, to circuit.State) {
			c.logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
	}
	if c.breakerClock != nil {
		breakerOpts = append(breakerOpts, circuit.WithClock(c.breakerClock))
	}
	c.breaker = circuit.New("patient_registry", breakerOpts...)
	return c
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() circuit.State {
	return c.breaker.State()
}

// Lookup fetches the registry's demographics for identifier.
func (c *Client) Lookup(ctx context.Context, identifier string) (demographics *models.Demographics, err error) {
	ctx, span := c.tracer.Start(ctx, tracer.SpanLookupCall,
		tracer.String(tracer.AttrIdentifierHash, tracer.HashIdentifier(identifier)),
		tracer.String(tracer.AttrBreakerState, c.breaker.State().String()),
	)
	defer func() { span.End(err) }()

	if !c.breaker.Allow() {
		return nil, newError(ErrorProviderOutage, "circuit breaker open", nil)
	}

	start := time.Now()
	demographics, status, err := c.call(ctx, identifier)
	span.SetAttributes(tracer.Int64(tracer.AttrStatusCode, int64(status)), tracer.Duration("lookup.duration_ms", time.Since(start)))

	var pe *ProviderError
	if errors.As(err, &pe) && pe.countsAsFailure() {
		c.breaker.RecordFailure()
		c.logger.WarnContext(ctx, "patient registry call failed",
			"category", string(pe.Category),
			"status", status,
			"request_id", requestcontext.RequestID(ctx),
		)
	} else if err == nil || CategoryOf(err) == ErrorNotFound {
		c.breaker.RecordSuccess()
	}
	return demographics, err
}

func (c *Client) call(ctx context.Context, identifier string) (*models.Demographics, int, error) {
	body, err := json.Marshal(lookupRequest{Identifier: identifier})
	if err != nil {
		return nil, 0, newError(ErrorInternal, "failed to marshal request", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+lookupPath, bytes.NewReader(body))
	if err != nil {
		return nil, 0, newError(ErrorInternal, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if abandoned := callerGone(ctx); abandoned != nil {
			return nil, 0, abandoned
		}
		var netErr net.Error
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, 0, newError(ErrorTimeout, "request timeout", err)
		}
		return nil, 0, newError(ErrorProviderOutage, "failed to execute request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if abandoned := callerGone(ctx); abandoned != nil {
			return nil, resp.StatusCode, abandoned
		}
		return nil, resp.StatusCode, newError(ErrorBadData, "failed to read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, resp.StatusCode, newError(ErrorNotFound, "patient not found in registry", nil)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, resp.StatusCode, newError(ErrorAuthentication, fmt.Sprintf("authentication failed: %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, resp.StatusCode, newError(ErrorRateLimited, "rate limit exceeded", nil)
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, resp.StatusCode, newError(ErrorTimeout, "registry gateway timeout", nil)
	case resp.StatusCode >= 500:
		return nil, resp.StatusCode, newError(ErrorProviderOutage, fmt.Sprintf("registry unavailable: %d", resp.StatusCode), nil)
	default:
		return nil, resp.StatusCode, newError(ErrorBadData, fmt.Sprintf("unexpected status: %d", resp.StatusCode), nil)
	}

	demographics, err := parse(raw, identifier)
	if err != nil {
		return nil, resp.StatusCode, newError(ErrorBadData, "failed to parse response", err)
	}
	return demographics, resp.StatusCode, nil
}

// callerGone reports a call cut short by the caller's own context. It is not a ProviderError,
// so it never counts against the registry's breaker.
func callerGone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("patient registry call abandoned by caller: %w", err)
	}
	return nil
}

func parse(raw []byte, identifier string) (*models.Demographics, error) {
	var body lookupResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	if body.Identifier != identifier {
		return nil, fmt.Errorf("response identifier does not match request")
	}
	if body.GivenName == "" && body.FamilyName == "" {
		return nil, fmt.Errorf("response carries no name")
	}
	demographics := &models.Demographics{
		GivenName:   body.GivenName,
		FamilyName:  body.FamilyName,
		AddressLine: body.AddressLine,
		Postcode:    body.Postcode,
		Email:       body.Email,
		Phone:       body.Phone,
	}
	if body.DateOfBirth != "" {
		dob, err := time.Parse(time.DateOnly, body.DateOfBirth)
		if err != nil {
			return nil, fmt.Errorf("date_of_birth: %w", err)
		}
		demographics.DateOfBirth = dob
	}
	return demographics, nil
}

// Health checks that the registry answers its health endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return newError(ErrorProviderOutage, "health check failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return newError(ErrorProviderOutage, fmt.Sprintf("unhealthy status: %d", resp.StatusCode), nil)
	}
	return nil
}
