package sessionhost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/sessionsync/pkg/log"
	"github.com/cuemby/sessionsync/pkg/metrics"
	"github.com/cuemby/sessionsync/pkg/retry"
	"github.com/cuemby/sessionsync/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultListTimeout    = 15 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultProbeTimeout   = 5 * time.Second

	maxResponseBytes = 4 << 20
)

// Operation names used in errors, logs and metrics
const (
	OpListSessions = "list_sessions"
	OpGetStatus    = "get_status"
	OpCreate       = "create_session"
	OpDelete       = "delete_session"
	OpProbe        = "probe"
)

// SessionState is the host's answer for a single session
type SessionState struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Phone       string `json:"phone,omitempty"`
	ProfileName string `json:"profileName,omitempty"`
}

// SessionConfig is sent when asking the host to start a session
type SessionConfig struct {
	OwnerID     string `json:"ownerId,omitempty"`
	DisplayName string `json:"name,omitempty"`
	WebhookURL  string `json:"webhookUrl,omitempty"`
}

// Client talks to the session host. Failures are returned as *HostError
// values; no method panics on an unreachable host.
type Client interface {
	// ListSessions returns every session the host knows about. healthy is
	// false when the host could not be listed within the retry budget.
	ListSessions(ctx context.Context) (sessions []types.RemoteSession, healthy bool)
	GetSessionStatus(ctx context.Context, sessionID string) (*SessionState, error)
	CreateSession(ctx context.Context, sessionID string, cfg SessionConfig) (*SessionState, error)
	DeleteSession(ctx context.Context, sessionID string) error
	// SendProbe asks for the session status once, without retries
	SendProbe(ctx context.Context, sessionID string) (*SessionState, error)
}

// Options configures an HTTPClient
type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	ListTimeout    time.Duration
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	Retry          retry.Policy

	// RateLimit caps requests per second to the host; zero disables it
	RateLimit float64
	Burst     int
}

// HTTPClient implements Client over the host's REST API
type HTTPClient struct {
	baseURL        string
	token          string
	httpClient     *http.Client
	listTimeout    time.Duration
	requestTimeout time.Duration
	probeTimeout   time.Duration
	policy         retry.Policy
	limiter        *rate.Limiter
	logger         zerolog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient validates opts and fills in defaults
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, &types.ConfigurationError{Field: "host.url", Reason: "must not be empty"}
	}
	if u, err := url.Parse(baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &types.ConfigurationError{Field: "host.url", Reason: fmt.Sprintf("invalid URL %q", baseURL)}
	}
	token := strings.TrimSpace(opts.Token)
	if token == "" {
		return nil, &types.ConfigurationError{Field: "host.token", Reason: "must not be empty"}
	}

	c := &HTTPClient{
		baseURL:        baseURL,
		token:          token,
		httpClient:     opts.HTTPClient,
		listTimeout:    opts.ListTimeout,
		requestTimeout: opts.RequestTimeout,
		probeTimeout:   opts.ProbeTimeout,
		policy:         opts.Retry,
		logger:         log.WithComponent("sessionhost"),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.listTimeout <= 0 {
		c.listTimeout = DefaultListTimeout
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.probeTimeout <= 0 {
		c.probeTimeout = DefaultProbeTimeout
	}
	if c.policy.Attempts <= 0 {
		c.policy = retry.DefaultPolicy()
	}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c, nil
}

type listResponse struct {
	Sessions []SessionState `json:"sessions"`
}

func (c *HTTPClient) ListSessions(ctx context.Context) ([]types.RemoteSession, bool) {
	var resp listResponse
	err := c.call(ctx, OpListSessions, "", c.policy, c.listTimeout, http.MethodGet, "/sessions", nil, &resp)
	if err != nil {
		metrics.HostHealthy.Set(0)
		c.logger.Warn().Err(err).Int("attempts", c.policy.Attempts).Msg("Session host unreachable, listing marked unhealthy")
		return nil, false
	}
	metrics.HostHealthy.Set(1)

	sessions := make([]types.RemoteSession, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		sessions = append(sessions, types.RemoteSession{
			ID:          s.ID,
			RawStatus:   s.Status,
			Phone:       s.Phone,
			ProfileName: s.ProfileName,
		})
	}
	return sessions, true
}

func (c *HTTPClient) GetSessionStatus(ctx context.Context, sessionID string) (*SessionState, error) {
	var state SessionState
	if err := c.call(ctx, OpGetStatus, sessionID, c.policy, c.requestTimeout, http.MethodGet, sessionPath(sessionID)+"/status", nil, &state); err != nil {
		return nil, err
	}
	if state.ID == "" {
		state.ID = sessionID
	}
	return &state, nil
}

type createRequest struct {
	ID string `json:"id"`
	SessionConfig
}

func (c *HTTPClient) CreateSession(ctx context.Context, sessionID string, cfg SessionConfig) (*SessionState, error) {
	var state SessionState
	body := createRequest{ID: sessionID, SessionConfig: cfg}
	if err := c.call(ctx, OpCreate, sessionID, c.policy, c.requestTimeout, http.MethodPost, "/sessions", body, &state); err != nil {
		return nil, err
	}
	if state.ID == "" {
		state.ID = sessionID
	}
	return &state, nil
}

type deleteResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	var resp deleteResponse
	if err := c.call(ctx, OpDelete, sessionID, c.policy, c.requestTimeout, http.MethodDelete, sessionPath(sessionID), nil, &resp); err != nil {
		return err
	}
	if resp.Success != nil && !*resp.Success {
		return &HostError{Op: OpDelete, SessionID: sessionID, Code: CodeBadResponse, Err: errors.New(firstNonEmpty(resp.Error, "host reported success=false"))}
	}
	return nil
}

func (c *HTTPClient) SendProbe(ctx context.Context, sessionID string) (*SessionState, error) {
	var state SessionState
	single := retry.Policy{Attempts: 1}
	if err := c.call(ctx, OpProbe, sessionID, single, c.probeTimeout, http.MethodGet, sessionPath(sessionID)+"/status", nil, &state); err != nil {
		return nil, err
	}
	if state.ID == "" {
		state.ID = sessionID
	}
	return &state, nil
}

// call runs one logical operation under policy, bounding every attempt by
// timeout. Only transport failures, 429 and 5xx are retried.
func (c *HTTPClient) call(ctx context.Context, op, sessionID string, policy retry.Policy, timeout time.Duration, method, path string, body, out any) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.HostRequestDuration, op)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return &HostError{Op: op, SessionID: sessionID, Code: CodeBadResponse, Err: err}
		}
	}

	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		hostErr := c.attempt(ctx, op, sessionID, timeout, method, path, payload, out)
		if hostErr == nil {
			return nil
		}
		if !hostErr.transient() {
			return retry.Permanent(hostErr)
		}
		c.logger.Debug().
			Str("operation", op).
			Str("session_id", sessionID).
			Int("attempt", attempt).
			Err(hostErr).
			Msg("Session host request failed")
		return hostErr
	})

	var hostErr *HostError
	if err != nil && !errors.As(err, &hostErr) {
		// parent context ended before the first attempt
		hostErr = classifyTransport(op, sessionID, err)
		err = hostErr
	}

	result := "ok"
	if err != nil {
		result = string(hostErr.Code)
	}
	metrics.HostRequestsTotal.WithLabelValues(op, result).Inc()
	return err
}

func (c *HTTPClient) attempt(ctx context.Context, op, sessionID string, timeout time.Duration, method, path string, payload []byte, out any) *HostError {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return classifyTransport(op, sessionID, err)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &HostError{Op: op, SessionID: sessionID, Code: CodeTransport, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(op, sessionID, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransport(op, sessionID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(op, sessionID, resp.StatusCode, errorMessage(respBody))
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &HostError{Op: op, SessionID: sessionID, Code: CodeBadResponse, StatusCode: resp.StatusCode, Err: err}
	}
	return nil
}

func sessionPath(sessionID string) string {
	return "/sessions/" + url.PathEscape(sessionID)
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from a
// failed response, falling back to the raw body
func errorMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if msg := firstNonEmpty(parsed.Error, parsed.Message); msg != "" {
			return msg
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
