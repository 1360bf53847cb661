// Package registry is a client for the model serving platform's model
// registry: listing models, registering checkpoints, and creating or removing
// deployments.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spachava753/deployeval/internal/models"
)

// DefaultUserAgent is sent on every request.
const DefaultUserAgent = "deployeval/1.0"

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4096

// StatusError is returned when the platform answers with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client talks to the registry at a base URL such as
// https://platform.example.com/api/models.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a registry client authenticating with a bearer token.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userAgent:  DefaultUserAgent,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listResponse struct {
	Items []models.ModelRecord `json:"items"`
}

type registerRequest struct {
	Name           string `json:"name"`
	CheckpointPath string `json:"checkpoint_path"`
}

type registerResponse struct {
	ID models.ModelID `json:"id"`
}

// ListModels fetches every model known to the platform.
func (c *Client) ListModels(ctx context.Context) ([]models.ModelRecord, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, c.baseURL, nil, &resp); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return resp.Items, nil
}

// RegisterModel registers a checkpoint under a name and returns the new model
// id.
func (c *Client) RegisterModel(ctx context.Context, name, checkpointPath string) (models.ModelID, error) {
	var resp registerResponse
	body := registerRequest{Name: name, CheckpointPath: checkpointPath}
	if err := c.do(ctx, http.MethodPost, c.baseURL, body, &resp); err != nil {
		return "", fmt.Errorf("registering model: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("registering model: response carried no id")
	}
	return resp.ID, nil
}

// Deploy asks the platform to deploy a registered model. Deployment is
// asynchronous; poll ListModels for readiness.
func (c *Client) Deploy(ctx context.Context, id models.ModelID) error {
	if err := c.do(ctx, http.MethodPost, c.deploysURL(id), nil, nil); err != nil {
		return fmt.Errorf("deploying model %s: %w", id, err)
	}
	return nil
}

// Drop removes a model's deployment.
func (c *Client) Drop(ctx context.Context, id models.ModelID) error {
	if err := c.do(ctx, http.MethodDelete, c.deploysURL(id), nil, nil); err != nil {
		return fmt.Errorf("dropping model %s: %w", id, err)
	}
	return nil
}

func (c *Client) deploysURL(id models.ModelID) string {
	return fmt.Sprintf("%s/%s/deploys", c.baseURL, url.PathEscape(string(id)))
}

func (c *Client) do(ctx context.Context, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("registry request", "method", method, "url", endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing response JSON: %w", err)
	}
	return nil
}
