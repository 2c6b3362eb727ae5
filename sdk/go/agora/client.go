package agora

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. It is intentionally short to avoid hanging network calls.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the OpenAgora REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// Weights mirrors the selection preferences accepted by the API.
type Weights struct {
	Price       float64 `json:"price_weight"`
	Quality     float64 `json:"quality_weight"`
	Speed       float64 `json:"speed_weight"`
	Temperature float64 `json:"temperature"`
}

// AgentRegistration is the payload required to register a seller agent.
type AgentRegistration struct {
	Name       string  `json:"name"`
	Capability string  `json:"capability"`
	Price      float64 `json:"price"`
	Endpoint   string  `json:"endpoint"`
	Rating     float64 `json:"rating,omitempty"`
}

// Agent describes a registered seller agent.
type Agent struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Capability     string  `json:"capability"`
	Price          float64 `json:"price"`
	Endpoint       string  `json:"endpoint"`
	Rating         float64 `json:"rating"`
	TotalJobs      int64   `json:"total_jobs"`
	SuccessfulJobs int64   `json:"successful_jobs"`
	TotalEarned    float64 `json:"total_earned"`
	AverageLatency float64 `json:"average_latency"`
	RegisteredAt   int64   `json:"registered_at"`
}

// JobSubmission represents the payload required to create a new job.
type JobSubmission struct {
	ID         string   `json:"id,omitempty"`
	BuyerID    string   `json:"buyer_id"`
	Capability string   `json:"capability"`
	Payload    string   `json:"payload,omitempty"`
	Weights    *Weights `json:"weights,omitempty"`
	Profile    string   `json:"profile,omitempty"`
}

// JobResult contains the outcome of a successfully settled job.
type JobResult struct {
	Artifact     string  `json:"artifact"`
	SellerID     string  `json:"seller_id"`
	SellerName   string  `json:"seller_name"`
	PriceCharged float64 `json:"price_charged"`
	TotalCost    float64 `json:"total_cost"`
}

// Job contains the current view of a submitted job.
type Job struct {
	ID         string     `json:"id"`
	BuyerID    string     `json:"buyer_id"`
	Capability string     `json:"capability"`
	Status     string     `json:"status"`
	Attempts   int        `json:"attempts"`
	MaxRetries int        `json:"max_retries"`
	LastError  string     `json:"last_error,omitempty"`
	ErrorCode  string     `json:"error_code,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
}

// Transaction is a settled marketplace trade.
type Transaction struct {
	ID           string  `json:"id"`
	BuyerID      string  `json:"buyer_id"`
	SellerID     string  `json:"seller_id"`
	SellerName   string  `json:"seller_name"`
	Capability   string  `json:"capability"`
	PriceCharged float64 `json:"price_charged"`
	Outcome      string  `json:"outcome"`
	CompletedAt  int64   `json:"completed_at"`
}

// WalletBalance reports the current balance of an account.
type WalletBalance struct {
	Account string  `json:"account"`
	Balance float64 `json:"balance"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("agora api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("agora api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the OpenAgora API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) *Client {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		panic(fmt.Sprintf("invalid base url: %v", err))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}
}

// RegisterAgent registers a seller agent in the catalog.
func (c *Client) RegisterAgent(ctx context.Context, registration AgentRegistration) (Agent, error) {
	var agent Agent
	if err := c.post(ctx, "/api/v1/agents", registration, &agent); err != nil {
		return Agent{}, err
	}
	return agent, nil
}

// ListAgents returns registered agents, optionally filtered by capability.
func (c *Client) ListAgents(ctx context.Context, capability string) ([]Agent, error) {
	endpoint := "/api/v1/agents"
	if capability != "" {
		endpoint += "?capability=" + url.QueryEscape(capability)
	}
	var agents []Agent
	if err := c.get(ctx, endpoint, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// SubmitJob creates a new job.
func (c *Client) SubmitJob(ctx context.Context, submission JobSubmission) (Job, error) {
	var created Job
	if err := c.post(ctx, "/api/v1/jobs", submission, &created); err != nil {
		return Job{}, err
	}
	return created, nil
}

// GetJob fetches job details by identifier.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var detail Job
	endpoint := "/api/v1/jobs/" + url.PathEscape(jobID)
	if err := c.get(ctx, endpoint, &detail); err != nil {
		return Job{}, err
	}
	return detail, nil
}

// WaitForJob polls the job until it reaches a terminal status.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		detail, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		if detail.Status == "succeeded" || detail.Status == "failed" {
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Transactions returns the settlement history, optionally filtered by seller.
func (c *Client) Transactions(ctx context.Context, sellerID string) ([]Transaction, error) {
	endpoint := "/api/v1/transactions"
	if sellerID != "" {
		endpoint += "?seller_id=" + url.QueryEscape(sellerID)
	}
	var records []Transaction
	if err := c.get(ctx, endpoint, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Balance returns the wallet balance of the given account.
func (c *Client) Balance(ctx context.Context, account string) (WalletBalance, error) {
	var balance WalletBalance
	endpoint := "/api/v1/wallets/" + url.PathEscape(account)
	if err := c.get(ctx, endpoint, &balance); err != nil {
		return WalletBalance{}, err
	}
	return balance, nil
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
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	rel := &url.URL{Path: path.Join(c.baseURL.Path, parsed.Path), RawQuery: parsed.RawQuery}
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
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
