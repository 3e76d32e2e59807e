package provider

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

	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

var (
	// ErrAccountNotFound is the orphan signal: the subject of the call no
	// longer exists at the provider.
	ErrAccountNotFound = errors.New("provider: account not found")
	// ErrAccountConflict indicates an account already exists for the address.
	ErrAccountConflict = errors.New("provider: account already exists")
	// ErrGrantInvalid indicates the one-time secret expired or was consumed.
	ErrGrantInvalid = errors.New("provider: grant invalid or expired")
	// ErrSessionActive is the provider's own idempotency signal: a session
	// for the subject already exists. Callers treat it as success.
	ErrSessionActive = errors.New("provider: session is active")

	errMissingEndpoint  = errors.New("provider: endpoint required")
	errMissingProjectID = errors.New("provider: project id required")
	errMissingAPIKey    = errors.New("provider: api key required")
	errMissingAccountID = errors.New("provider: account id required")
	errMissingSecret    = errors.New("provider: secret required")
)

// Account is the provider-side identity record.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Grant is a transient one-time login secret bound to an account. The
// provider enforces its validity window and single use; we never store it.
type Grant struct {
	AccountID string `json:"account_id"`
	Secret    string `json:"secret"`
}

// Session is the provider-side session created by exchanging a grant.
type Session struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
}

// ClientConfig bundles configuration for the account provider client.
type ClientConfig struct {
	Endpoint   string
	ProjectID  string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the external account provider's REST API.
type Client struct {
	endpoint   string
	projectID  string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a provider client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		return nil, errMissingEndpoint
	}
	projectID := strings.TrimSpace(cfg.ProjectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errMissingAPIKey
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:   endpoint,
		projectID:  projectID,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// CreateAccount provisions a new account identity. A 409 from the provider
// maps to ErrAccountConflict so callers can surface the specific
// already-registered message instead of a generic failure.
func (c *Client) CreateAccount(ctx context.Context, accountID, email, password, name string) (Account, error) {
	if strings.TrimSpace(accountID) == "" {
		return Account{}, errMissingAccountID
	}
	payload := map[string]string{
		"id":       accountID,
		"email":    email,
		"password": password,
		"name":     name,
	}
	var account Account
	if err := c.do(ctx, http.MethodPost, "/v1/users", payload, &account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// MintGrant requests a one-time login secret for an account. A 404 is the
// orphan signal and maps to ErrAccountNotFound.
func (c *Client) MintGrant(ctx context.Context, accountID string) (Grant, error) {
	if strings.TrimSpace(accountID) == "" {
		return Grant{}, errMissingAccountID
	}
	path := fmt.Sprintf("/v1/users/%s/tokens", url.PathEscape(accountID))
	var grant Grant
	if err := c.do(ctx, http.MethodPost, path, map[string]string{}, &grant); err != nil {
		return Grant{}, err
	}
	if grant.AccountID == "" {
		grant.AccountID = accountID
	}
	return grant, nil
}

// CreateSession exchanges a grant secret for a provider session.
func (c *Client) CreateSession(ctx context.Context, accountID, secret string) (Session, error) {
	if strings.TrimSpace(accountID) == "" {
		return Session{}, errMissingAccountID
	}
	if strings.TrimSpace(secret) == "" {
		return Session{}, errMissingSecret
	}
	payload := map[string]string{
		"account_id": accountID,
		"secret":     secret,
	}
	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/token", payload, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

type errorDocument struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("provider: encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("provider: build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("X-Provider-Project", c.projectID)
	request.Header.Set("X-Provider-Key", c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("provider: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return c.mapError(method, path, response)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("provider: decode response: %w", err)
	}
	return nil
}

func (c *Client) mapError(method, path string, response *http.Response) error {
	var document errorDocument
	raw, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
	_ = json.Unmarshal(raw, &document)
	message := strings.ToLower(document.Message)

	switch {
	case response.StatusCode == http.StatusNotFound:
		return ErrAccountNotFound
	case response.StatusCode == http.StatusConflict:
		return ErrAccountConflict
	case strings.Contains(message, "session is active"):
		return ErrSessionActive
	case response.StatusCode == http.StatusUnauthorized:
		return ErrGrantInvalid
	}

	c.logger.Warn("provider request failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", response.StatusCode),
		zap.String("message", document.Message))
	return fmt.Errorf("provider: %s %s returned status %d", method, path, response.StatusCode)
}
