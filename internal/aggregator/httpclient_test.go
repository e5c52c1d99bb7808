package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewHTTPClient(HTTPClientConfig{
		BaseURL:  srv.URL,
		ClientID: "client-1",
		Secret:   "secret-1",
	})
	require.NoError(t, err)
	return client
}

func TestNewHTTPClient_RequiresCredentials(t *testing.T) {
	_, err := NewHTTPClient(HTTPClientConfig{BaseURL: "http://localhost"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFetchTransactions(t *testing.T) {
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/get", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "acct-1", body["account_id"])
		assert.Equal(t, "client-1", body["client_id"])
		assert.Equal(t, since.Format(time.RFC3339), body["since"])

		json.NewEncoder(w).Encode(TransactionsPage{
			Transactions: []RemoteTransaction{
				{ExternalID: "ext-1", AccountID: "acct-1", Amount: "-45.00", MerchantName: "Walmart"},
			},
			NextPageToken: "page-2",
		})
	})

	page, err := client.FetchTransactions(context.Background(), "acct-1", since, "")
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "ext-1", page.Transactions[0].ExternalID)
	assert.Equal(t, "page-2", page.NextPageToken)
}

func TestFetchTransactions_PageToken(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "page-2", body["page_token"])
		json.NewEncoder(w).Encode(TransactionsPage{})
	})

	_, err := client.FetchTransactions(context.Background(), "acct-1", time.Now(), "page-2")
	require.NoError(t, err)
}

func TestFetchAccountMetadata(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/accounts/get", r.URL.Path)
		json.NewEncoder(w).Encode(AccountInfo{
			AccountID: "acct-1",
			Name:      "Everyday Checking",
			Status:    AccountStatusActive,
		})
	})

	info, err := client.FetchAccountMetadata(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, AccountStatusActive, info.Status)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       errorResponse
		wantErr    error
		wantAPIErr bool
	}{
		{
			name:    "invalid token",
			status:  http.StatusUnauthorized,
			body:    errorResponse{ErrorType: "INVALID_ACCESS_TOKEN"},
			wantErr: ErrInvalidToken,
		},
		{
			name:    "rate limited by type",
			status:  http.StatusTooManyRequests,
			body:    errorResponse{ErrorType: "RATE_LIMIT_EXCEEDED"},
			wantErr: ErrRateLimited,
		},
		{
			name:    "rate limited by status only",
			status:  http.StatusTooManyRequests,
			body:    errorResponse{ErrorType: "SOMETHING_ELSE"},
			wantErr: ErrRateLimited,
		},
		{
			name:    "account not found",
			status:  http.StatusNotFound,
			body:    errorResponse{ErrorType: "ACCOUNT_NOT_FOUND"},
			wantErr: ErrAccountNotFound,
		},
		{
			name:       "server error stays APIError",
			status:     http.StatusInternalServerError,
			body:       errorResponse{ErrorType: "INTERNAL", ErrorMessage: "oops"},
			wantAPIErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			})

			_, err := client.FetchTransactions(context.Background(), "acct-1", time.Now(), "")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantAPIErr {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.status, apiErr.StatusCode)
				assert.True(t, IsTransient(err))
			}
		})
	}
}
