package stakepilot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the StakePilot operator REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// PromptAck acknowledges an accepted trigger.
type PromptAck struct {
	ID string `json:"id"`
}

// Step identifies one proposed rebalancing move.
type Step struct {
	Action  string `json:"action"`
	YieldID string `json:"yieldId"`
	Amount  string `json:"amount,omitempty"`
}

// TxOutcome is the terminal state one driven transaction reached.
type TxOutcome struct {
	TxID        string `json:"tx_id"`
	Type        string `json:"type,omitempty"`
	State       string `json:"state"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// StepResult mirrors the per-step outcome of a recorded run.
type StepResult struct {
	Step       Step        `json:"step"`
	Amount     string      `json:"amount,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`
	SkipReason string      `json:"skip_reason,omitempty"`
	Outcomes   []TxOutcome `json:"outcomes,omitempty"`
}

// Run is one recorded refresh-decide-execute cycle.
type Run struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Prompt       string       `json:"prompt"`
	Reply        string       `json:"reply"`
	Steps        []StepResult `json:"steps,omitempty"`
	Observations string       `json:"observations"`
	CreatedAt    int64        `json:"created_at"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("stakepilot api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the StakePilot API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Prompt asks the daemon to run one cycle with the given message. The call
// returns as soon as the trigger is queued; the cycle itself runs
// asynchronously and may be dropped if another cycle is already in flight.
func (c *Client) Prompt(ctx context.Context, message string) (PromptAck, error) {
	var ack PromptAck
	payload := map[string]string{"message": message}
	if err := c.post(ctx, "/api/v1/prompts", payload, &ack); err != nil {
		return PromptAck{}, err
	}
	return ack, nil
}

// Runs fetches the most recent recorded cycles, newest first.
func (c *Client) Runs(ctx context.Context, limit int) ([]Run, error) {
	endpoint := "/api/v1/runs"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var runs []Run
	if err := c.get(ctx, endpoint, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// Health probes the daemon's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/healthz", nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	query := ""
	if idx := strings.IndexByte(endpoint, '?'); idx >= 0 {
		query = endpoint[idx+1:]
		endpoint = endpoint[:idx]
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, err := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(data))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
