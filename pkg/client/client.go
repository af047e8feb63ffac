package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/sessionsync/pkg/reconciler"
	"github.com/cuemby/sessionsync/pkg/types"
)

// DefaultTimeout bounds a single API call. Reconcile can run for a whole
// cycle, so it is longer than the host client's timeouts.
const DefaultTimeout = 3 * time.Minute

// Client talks to a running sessionsync API server
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode    int
	Code          string `json:"code"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlationId"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
	if e.CorrelationID != "" {
		msg += " (correlation id " + e.CorrelationID + ")"
	}
	return msg
}

// Is lets callers match API errors against the shared taxonomy
func (e *APIError) Is(target error) bool {
	switch target {
	case types.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case types.ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	case reconciler.ErrCycleInProgress:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Plan is the dry-run result of GET /v1/reconcile/plan
type Plan struct {
	HostHealthy bool                   `json:"host_healthy" yaml:"host_healthy"`
	Entries     []reconciler.PlanEntry `json:"entries" yaml:"entries"`
}

// NewClient creates a client for the server at addr. A bare host:port is
// treated as http.
func NewClient(addr, token string) (*Client, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, &types.ConfigurationError{Field: "server", Reason: "address is required"}
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return nil, &types.ConfigurationError{Field: "server", Reason: fmt.Sprintf("invalid address %q", addr)}
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultTimeout},
	}, nil
}

// Reconcile runs one cycle on the server
func (c *Client) Reconcile(ctx context.Context) (*types.ReconciliationSummary, error) {
	var summary types.ReconciliationSummary
	if err := c.do(ctx, http.MethodPost, "/v1/reconcile", nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Plan returns what the next cycle would do
func (c *Client) Plan(ctx context.Context) (*Plan, error) {
	var plan Plan
	if err := c.do(ctx, http.MethodGet, "/v1/reconcile/plan", nil, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// History returns up to limit persisted cycle summaries, newest first
func (c *Client) History(ctx context.Context, limit int) ([]*types.ReconciliationSummary, error) {
	var resp struct {
		Cycles []*types.ReconciliationSummary `json:"cycles"`
	}
	path := "/v1/reconcile/history?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Cycles, nil
}

// ListInstances lists records, optionally for one owner
func (c *Client) ListInstances(ctx context.Context, ownerID string) ([]*types.SessionRecord, error) {
	path := "/v1/instances"
	if ownerID != "" {
		path += "?owner=" + url.QueryEscape(ownerID)
	}
	var resp struct {
		Instances []*types.SessionRecord `json:"instances"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

func (c *Client) GetInstance(ctx context.Context, id string) (*types.SessionRecord, error) {
	var record types.SessionRecord
	if err := c.do(ctx, http.MethodGet, "/v1/instances/"+url.PathEscape(id), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// CreateInstance requests a new session. A degraded result is not an error.
func (c *Client) CreateInstance(ctx context.Context, ownerID, displayName string) (*types.CreationResult, error) {
	req := map[string]string{"owner_id": ownerID}
	if displayName != "" {
		req["display_name"] = displayName
	}
	var result types.CreationResult
	if err := c.do(ctx, http.MethodPost, "/v1/instances", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) RetryInstance(ctx context.Context, id string) (*types.CreationResult, error) {
	var result types.CreationResult
	if err := c.do(ctx, http.MethodPost, "/v1/instances/"+url.PathEscape(id)+"/retry", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DeleteInstance(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/instances/"+url.PathEscape(id), nil, nil)
}

// CreateContact registers a tenant phone number used for orphan attribution
func (c *Client) CreateContact(ctx context.Context, ownerID, phone, name string) (*types.Contact, error) {
	req := map[string]string{"owner_id": ownerID, "phone": phone}
	if name != "" {
		req["name"] = name
	}
	var contact types.Contact
	if err := c.do(ctx, http.MethodPost, "/v1/contacts", req, &contact); err != nil {
		return nil, err
	}
	return &contact, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = "http_status"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the server
func IsNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
