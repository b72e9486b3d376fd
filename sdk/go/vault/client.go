package vault

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

// Client wraps the HTTP interactions with the vault daemon's REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	apiKey     string
}

// Option configures optional client behaviour.
type Option func(*Client)

// WithAPIKey attaches an API key to every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// NewClient instantiates a client for the vault API.
func NewClient(rawURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: DefaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateSubjectRequest registers a wallet's spending policy.
type CreateSubjectRequest struct {
	ID               string `json:"id,omitempty"`
	Owner            string `json:"owner"`
	Controller       string `json:"controller"`
	Recovery         string `json:"recovery"`
	LimitPerTx       string `json:"limit_per_tx"`
	DailyLimit       string `json:"daily_limit"`
	CoSignLimitPerTx string `json:"cosign_limit_per_tx,omitempty"`
	CoSignDailyLimit string `json:"cosign_daily_limit,omitempty"`
}

// Subject mirrors the server's policy record. Amounts arrive as JSON
// numbers of arbitrary precision, so they are kept as raw messages.
type Subject struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Controller string `json:"controller"`
	Recovery   string `json:"recovery"`
	Paused     bool   `json:"paused"`
}

// Decision reports the outcome of an accepted authorization.
type Decision struct {
	SubjectID      string `json:"subject_id"`
	SpentToday     string `json:"spent_today"`
	DailyRemaining string `json:"daily_remaining"`
}

// AuthorizeRequest describes one payment instruction.
type AuthorizeRequest struct {
	Merchant string `json:"merchant"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Elevated bool   `json:"elevated,omitempty"`
}

// Hold mirrors the server's reservation record.
type Hold struct {
	ID        string `json:"id"`
	Merchant  string `json:"merchant"`
	Token     string `json:"token"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
	Status    string `json:"status"`
}

// CreateHoldRequest reserves part of the daily budget for later capture.
type CreateHoldRequest struct {
	Merchant        string `json:"merchant"`
	Token           string `json:"token"`
	Amount          string `json:"amount"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// CreateEscrowRequest opens a custody agreement between buyer and seller.
type CreateEscrowRequest struct {
	Seller        string           `json:"seller"`
	Token         string           `json:"token"`
	Amount        string           `json:"amount"`
	Deadline      int64            `json:"deadline"`
	ConditionHash string           `json:"condition_hash,omitempty"`
	Description   string           `json:"description,omitempty"`
	Milestones    []MilestoneInput `json:"milestones,omitempty"`
}

// MilestoneInput describes one stage of a milestone escrow.
type MilestoneInput struct {
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

// Escrow mirrors the server's custody record.
type Escrow struct {
	ID       string `json:"id"`
	Buyer    string `json:"buyer"`
	Seller   string `json:"seller"`
	Token    string `json:"token"`
	State    string `json:"state"`
	Deadline int64  `json:"deadline"`
}

// APIError represents server side validation or policy errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("vault api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("vault api error (%d): %s", e.StatusCode, e.Message)
}

// CreateSubject registers a new spending policy record.
func (c *Client) CreateSubject(ctx context.Context, req CreateSubjectRequest) (Subject, error) {
	var subject Subject
	if err := c.post(ctx, "/api/v1/subjects", req, &subject); err != nil {
		return Subject{}, err
	}
	return subject, nil
}

// GetSubject fetches a policy record by identifier.
func (c *Client) GetSubject(ctx context.Context, id string) (Subject, error) {
	var subject Subject
	if err := c.get(ctx, "/api/v1/subjects/"+url.PathEscape(id), &subject); err != nil {
		return Subject{}, err
	}
	return subject, nil
}

// Authorize submits a payment instruction for policy evaluation.
func (c *Client) Authorize(ctx context.Context, subjectID string, req AuthorizeRequest) (Decision, error) {
	var decision Decision
	endpoint := "/api/v1/subjects/" + url.PathEscape(subjectID) + "/authorize"
	if err := c.post(ctx, endpoint, req, &decision); err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// CreateHold reserves spending capacity against a merchant.
func (c *Client) CreateHold(ctx context.Context, subjectID string, req CreateHoldRequest) (Hold, error) {
	var hold Hold
	endpoint := "/api/v1/subjects/" + url.PathEscape(subjectID) + "/holds"
	if err := c.post(ctx, endpoint, req, &hold); err != nil {
		return Hold{}, err
	}
	return hold, nil
}

// CaptureHold settles a hold for the given amount.
func (c *Client) CaptureHold(ctx context.Context, subjectID, holdID, amount string) error {
	endpoint := "/api/v1/subjects/" + url.PathEscape(subjectID) + "/holds/" + url.PathEscape(holdID) + "/capture"
	return c.post(ctx, endpoint, map[string]string{"amount": amount}, nil)
}

// VoidHold releases a hold without settling it.
func (c *Client) VoidHold(ctx context.Context, subjectID, holdID string) error {
	endpoint := "/api/v1/subjects/" + url.PathEscape(subjectID) + "/holds/" + url.PathEscape(holdID) + "/void"
	return c.post(ctx, endpoint, nil, nil)
}

// CreateEscrow opens a custody agreement. The caller is the buyer.
func (c *Client) CreateEscrow(ctx context.Context, req CreateEscrowRequest) (Escrow, error) {
	var record Escrow
	if err := c.post(ctx, "/api/v1/escrows", req, &record); err != nil {
		return Escrow{}, err
	}
	return record, nil
}

// GetEscrow fetches a custody record by identifier.
func (c *Client) GetEscrow(ctx context.Context, id string) (Escrow, error) {
	var record Escrow
	if err := c.get(ctx, "/api/v1/escrows/"+url.PathEscape(id), &record); err != nil {
		return Escrow{}, err
	}
	return record, nil
}

// FundEscrow moves the locked amount plus fee into custody.
func (c *Client) FundEscrow(ctx context.Context, id string) error {
	return c.escrowAction(ctx, id, "fund")
}

// ConfirmDelivery marks the agreement as delivered by the seller.
func (c *Client) ConfirmDelivery(ctx context.Context, id string) error {
	return c.escrowAction(ctx, id, "confirm")
}

// ApproveRelease pays the seller out of custody.
func (c *Client) ApproveRelease(ctx context.Context, id string) error {
	return c.escrowAction(ctx, id, "approve")
}

// RaiseDispute freezes the agreement until the arbiter rules.
func (c *Client) RaiseDispute(ctx context.Context, id string) error {
	return c.escrowAction(ctx, id, "dispute")
}

// Refund returns the remaining custody balance to the buyer.
func (c *Client) Refund(ctx context.Context, id string) error {
	return c.escrowAction(ctx, id, "refund")
}

func (c *Client) escrowAction(ctx context.Context, id, action string) error {
	endpoint := "/api/v1/escrows/" + url.PathEscape(id) + "/" + action
	return c.post(ctx, endpoint, nil, nil)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
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
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
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
		var apiErr APIError
		apiErr.StatusCode = resp.StatusCode
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
