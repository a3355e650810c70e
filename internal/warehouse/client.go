package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxTries     = 5
	defaultRetryBackoff = 500 * time.Millisecond
	defaultPollInterval = 10 * time.Second
	defaultWaitTimeout  = 20 * time.Minute

	StateRunning  = "RUNNING"
	StateStarting = "STARTING"
	StateStopped  = "STOPPED"
	StateDeleted  = "DELETED"
	StateDeleting = "DELETING"
)

// Warehouse is the subset of the SQL warehouse resource the benchmark uses.
type Warehouse struct {
	ID                      string      `json:"id"`
	Name                    string      `json:"name"`
	State                   string      `json:"state,omitempty"`
	ClusterSize             string      `json:"cluster_size,omitempty"`
	NumClusters             int         `json:"num_clusters,omitempty"`
	MinNumClusters          int         `json:"min_num_clusters,omitempty"`
	MaxNumClusters          int         `json:"max_num_clusters,omitempty"`
	WarehouseType           string      `json:"warehouse_type,omitempty"`
	EnableServerlessCompute bool        `json:"enable_serverless_compute,omitempty"`
	EnablePhoton            bool        `json:"enable_photon,omitempty"`
	ODBCParams              *ODBCParams `json:"odbc_params,omitempty"`
}

// ODBCParams carries the connection coordinates reported by the API.
type ODBCParams struct {
	Hostname string `json:"hostname"`
	Path     string `json:"path"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
}

// Client wraps the workspace SQL warehouse REST API.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	maxTries     uint
	retryBackoff time.Duration
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry sets how many attempts a request gets and the initial backoff
// between them.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		c.maxTries = maxTries
		c.retryBackoff = initial
	}
}

// WithPolling sets the state polling interval and the overall wait used by
// WaitRunning.
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = interval
		c.waitTimeout = timeout
	}
}

// New creates a Client for the workspace at baseURL (e.g.
// "https://adb-123.cloud.databricks.com") authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		token:        token,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		maxTries:     defaultMaxTries,
		retryBackoff: defaultRetryBackoff,
		pollInterval: defaultPollInterval,
		waitTimeout:  defaultWaitTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// List fetches GET /api/2.0/sql/warehouses.
func (c *Client) List(ctx context.Context) ([]Warehouse, error) {
	var resp struct {
		Warehouses []Warehouse `json:"warehouses"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/2.0/sql/warehouses", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Warehouses, nil
}

// Get fetches GET /api/2.0/sql/warehouses/{id}.
func (c *Client) Get(ctx context.Context, id string) (*Warehouse, error) {
	var w Warehouse
	if err := c.do(ctx, http.MethodGet, "/api/2.0/sql/warehouses/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Create submits POST /api/2.0/sql/warehouses and returns the new warehouse ID.
func (c *Client) Create(ctx context.Context, req CreateRequest) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/2.0/sql/warehouses", req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("create warehouse %q: response carried no id", req.Name)
	}
	return resp.ID, nil
}

// Start submits POST /api/2.0/sql/warehouses/{id}/start.
func (c *Client) Start(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/2.0/sql/warehouses/"+url.PathEscape(id)+"/start", struct{}{}, nil)
}

// Stop submits POST /api/2.0/sql/warehouses/{id}/stop.
func (c *Client) Stop(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/2.0/sql/warehouses/"+url.PathEscape(id)+"/stop", struct{}{}, nil)
}

// WaitRunning polls the warehouse until it reports RUNNING. A deleted
// warehouse ends the wait immediately.
func (c *Client) WaitRunning(ctx context.Context, id string) (*Warehouse, error) {
	op := func() (*Warehouse, error) {
		w, err := c.Get(ctx, id)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		switch w.State {
		case StateRunning:
			return w, nil
		case StateDeleted, StateDeleting:
			return nil, backoff.Permanent(fmt.Errorf("warehouse %s is %s", id, w.State))
		default:
			return nil, fmt.Errorf("warehouse %s is %s", id, w.State)
		}
	}
	w, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.pollInterval)),
		backoff.WithMaxElapsedTime(c.waitTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("wait for warehouse %s: %w", id, err)
	}
	return w, nil
}

// do sends one API call, retrying throttling, server errors and transport
// failures with exponential backoff.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	op := func() (struct{}, error) {
		err := c.doOnce(ctx, method, path, body, out)
		if err == nil {
			return struct{}{}, nil
		}
		var apiErr *APIError
		var urlErr *url.Error
		switch {
		case errors.As(err, &apiErr) && apiErr.IsRetryable():
			return struct{}{}, err
		case errors.As(err, &urlErr) && ctx.Err() == nil:
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryBackoff
	_, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries))
	return err
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
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
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
