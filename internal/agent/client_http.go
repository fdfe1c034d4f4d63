package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	id "accord/pkg/domain"
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient talks to the protocol agent's admin API (aca-py style). All
// operations return once the agent has accepted the request; protocol
// progress arrives via the webhook stream.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  HTTPDoer
}

// HTTPClientConfig configures the agent client.
type HTTPClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient HTTPDoer
}

// NewHTTPClient creates an agent client against the given admin endpoint.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

func (c *HTTPClient) CreateInvitation(ctx context.Context, label string) (*Invitation, error) {
	var out Invitation
	err := c.post(ctx, "/connections/create-invitation", map[string]string{"label": label}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) InitiateCredentialRequest(ctx context.Context, partnerDID id.DID, documentID string) (string, error) {
	var out struct {
		CorrelationID string `json:"correlation_id"`
	}
	body := map[string]string{
		"partner_did": partnerDID.String(),
		"document_id": documentID,
	}
	if err := c.post(ctx, "/issue-credential/send-proposal", body, &out); err != nil {
		return "", err
	}
	return out.CorrelationID, nil
}

func (c *HTTPClient) InitiateProofRequest(ctx context.Context, partnerDID id.DID, spec ProofSpec) (string, error) {
	var out struct {
		CorrelationID string `json:"correlation_id"`
	}
	body := map[string]any{
		"partner_did": partnerDID.String(),
		"proof_spec":  spec,
	}
	if err := c.post(ctx, "/present-proof/send-request", body, &out); err != nil {
		return "", err
	}
	return out.CorrelationID, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, partnerDID id.DID, content string) error {
	body := map[string]string{
		"partner_did": partnerDID.String(),
		"content":     content,
	}
	return c.post(ctx, "/basicmessages/send", body, nil)
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal agent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent %s: %w", path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("agent %s: status %d: %s", path, resp.StatusCode, string(snippet))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode agent response from %s: %w", path, err)
	}
	return nil
}
