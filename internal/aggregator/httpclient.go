package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient is the HTTP implementation of Client. It speaks the provider's
// JSON-over-POST API and maps error responses into the package error
// taxonomy so callers can distinguish transient from fatal failures.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	clientID   string
	// secret is SENSITIVE - never logged
	secret string
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	// BaseURL is the provider API endpoint.
	BaseURL string

	// ClientID identifies the credential set.
	ClientID string

	// Secret is the API secret.
	// SENSITIVE: Never log this value.
	Secret string

	// HTTPClient is an optional custom HTTP client (for testing).
	HTTPClient *http.Client

	// Timeout is the request timeout. Defaults to 30s.
	Timeout time.Duration
}

// NewHTTPClient creates a new aggregator HTTP client.
func NewHTTPClient(config HTTPClientConfig) (*HTTPClient, error) {
	if config.ClientID == "" || config.Secret == "" || config.BaseURL == "" {
		return nil, ErrNotConfigured
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    config.BaseURL,
		clientID:   config.ClientID,
		secret:     config.Secret,
	}, nil
}

// FetchTransactions fetches one page of transactions for the account.
func (c *HTTPClient) FetchTransactions(ctx context.Context, accountID string, since time.Time, pageToken string) (*TransactionsPage, error) {
	body := map[string]interface{}{
		"account_id": accountID,
		"since":      since.UTC().Format(time.RFC3339),
	}
	if pageToken != "" {
		body["page_token"] = pageToken
	}
	return doPost[TransactionsPage](ctx, c, "/transactions/get", body)
}

// FetchAccountMetadata fetches the provider's view of the account.
func (c *HTTPClient) FetchAccountMetadata(ctx context.Context, accountID string) (*AccountInfo, error) {
	body := map[string]interface{}{
		"account_id": accountID,
	}
	return doPost[AccountInfo](ctx, c, "/accounts/get", body)
}

// errorResponse is the provider's error body shape.
type errorResponse struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}

// doPost performs a POST request with JSON body and decodes the response.
func doPost[Resp any](ctx context.Context, c *HTTPClient, path string, reqBody map[string]interface{}) (*Resp, error) {
	reqBody["client_id"] = c.clientID
	reqBody["secret"] = c.secret

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("doPost: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("doPost: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doPost: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result Resp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("doPost: decode response: %w", err)
	}

	return &result, nil
}

// parseError maps a non-200 response to the package error taxonomy.
func (c *HTTPClient) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
	}

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err == nil {
		apiErr.ErrorType = errResp.ErrorType
		apiErr.ErrorCode = errResp.ErrorCode
		apiErr.ErrorMessage = errResp.ErrorMessage
		apiErr.RequestID = errResp.RequestID
	} else {
		apiErr.ErrorMessage = string(body)
	}

	switch apiErr.ErrorType {
	case "INVALID_ACCESS_TOKEN", "INVALID_CREDENTIALS":
		return ErrInvalidToken
	case "RATE_LIMIT_EXCEEDED":
		return ErrRateLimited
	case "ACCOUNT_NOT_FOUND":
		return ErrAccountNotFound
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	return apiErr
}

// SetBaseURL overrides the base URL (for testing against a local server).
func (c *HTTPClient) SetBaseURL(url string) {
	c.baseURL = url
}

var _ Client = (*HTTPClient)(nil)
