// Package solver is a client for the Solvium challenge-solving API. Work is
// asynchronous: a challenge is submitted as a task, then polled until a
// solution is ready.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Default base URL for the Solvium v1 API.
const defaultBaseURL = "https://api.solvium.io/v1"

// ChallengeType identifies the kind of anti-bot challenge on a page.
type ChallengeType string

const (
	ChallengeCheckboxV2 ChallengeType = "checkbox_v2"
	ChallengeSliderV3   ChallengeType = "slider_v3"
	ChallengeSliderV4   ChallengeType = "slider_v4"
	ChallengeBehavioral ChallengeType = "behavioral_slider"
)

// Task status values returned by GET /tasks/{id}.
const (
	TaskProcessing = "processing"
	TaskReady      = "ready"
	TaskFailed     = "failed"
)

// Error codes the service reports on failed tasks.
const errCodeUnsolvable = "ERROR_UNSOLVABLE"

// Challenge describes one challenge instance as detected on a page.
// SiteKey applies to checkbox challenges; GT and ChallengeKey to sliders.
// Behavioral challenges are solved by the service driving the page itself,
// which requires a residential ProxyURL matching the browser's egress.
type Challenge struct {
	Type         ChallengeType `json:"type"`
	PageURL      string        `json:"page_url"`
	SiteKey      string        `json:"site_key,omitempty"`
	GT           string        `json:"gt,omitempty"`
	ChallengeKey string        `json:"challenge_key,omitempty"`
	UserAgent    string        `json:"user_agent,omitempty"`
	ProxyURL     string        `json:"proxy_url,omitempty"`
}

// Solution carries the artifacts to apply on the page. Token for checkbox
// challenges; Validate/Seccode (plus the echoed ChallengeKey) for sliders;
// CookieName/CookieValue for behavioral challenges.
type Solution struct {
	Token        string  `json:"token,omitempty"`
	Validate     string  `json:"validate,omitempty"`
	Seccode      string  `json:"seccode,omitempty"`
	ChallengeKey string  `json:"challenge_key,omitempty"`
	CookieName   string  `json:"cookie_name,omitempty"`
	CookieValue  string  `json:"cookie_value,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Task is the response from GET /tasks/{id}.
type Task struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Solution  *Solution `json:"solution,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
}

type createTaskResponse struct {
	ID string `json:"id"`
}

// Client defines the Solvium API operations.
type Client interface {
	CreateTask(ctx context.Context, ch Challenge) (string, error)
	GetTask(ctx context.Context, id string) (*Task, error)
}

// APIError is returned when the service responds with a non-2xx status.
// A rejected submission surfaces as an APIError from CreateTask.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("solver: HTTP %d: %s", e.StatusCode, e.Body)
}

// ErrProxyRequired is returned for behavioral challenges submitted without a
// residential proxy. The check is client-side; the task would be rejected
// by the service anyway.
var ErrProxyRequired = eris.New("solver: behavioral challenge requires a residential proxy")

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new Solvium client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreateTask(ctx context.Context, ch Challenge) (string, error) {
	if ch.Type == ChallengeBehavioral && ch.ProxyURL == "" {
		return "", ErrProxyRequired
	}

	var resp createTaskResponse
	if err := c.post(ctx, "/tasks", ch, &resp); err != nil {
		return "", eris.Wrap(err, "solver: create task")
	}
	if resp.ID == "" {
		return "", eris.New("solver: create task: empty task id")
	}
	return resp.ID, nil
}

func (c *httpClient) GetTask(ctx context.Context, id string) (*Task, error) {
	var resp Task
	if err := c.get(ctx, fmt.Sprintf("/tasks/%s", id), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("solver: get task %s", id))
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(req, out)
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
