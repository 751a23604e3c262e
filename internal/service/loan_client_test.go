package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoanServiceClientLifecycle(t *testing.T) {
	var commands []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "mifos", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "default", r.Header.Get("X-Tenant-ID"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch {
		case r.URL.Path == "/api/v1/loans" && r.URL.RawQuery == "":
			assert.Equal(t, "buy-process-42", body["externalId"])
			assert.Equal(t, "2024-03-15", body["submittedOnDate"])
			_, _ = w.Write([]byte(`{"loanId":3001,"resourceId":3001}`))
		case r.URL.Path == "/api/v1/loans/3001":
			commands = append(commands, r.URL.Query().Get("command"))
			_, _ = w.Write([]byte(`{"loanId":3001}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewLoanServiceClient(LoanServiceConfig{
		BaseURL:  server.URL + "/api/v1/",
		Username: "mifos",
		Password: "secret",
		TenantID: "default",
	})
	ctx := context.Background()

	loanID, err := client.CreateLoan(ctx, CreateLoanPayload{
		ExternalID:  "buy-process-42",
		ClientID:    5,
		ProductID:   1,
		Principal:   decimal.NewFromInt(500),
		SubmittedOn: fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3001), loanID)

	require.NoError(t, client.ApproveLoan(ctx, loanID, ApproveLoanPayload{ApprovedOn: fixedNow, ApprovedAmount: decimal.NewFromInt(500)}))
	require.NoError(t, client.DisburseLoan(ctx, loanID, DisburseLoanPayload{ActualDisbursementDate: fixedNow, TransactionAmount: decimal.NewFromInt(500)}))
	assert.Equal(t, []string{"approve", "disburse"}, commands)
}

func TestLoanServiceClientSurfacesMessageVerbatim(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{
			name:   "field error",
			status: http.StatusForbidden,
			body:   `{"defaultUserMessage":"Validation errors exist.","errors":[{"defaultUserMessage":"insufficient ally ceiling"}]}`,
			want:   "insufficient ally ceiling",
		},
		{
			name:   "top level message",
			status: http.StatusBadRequest,
			body:   `{"defaultUserMessage":"Loan product is inactive"}`,
			want:   "Loan product is inactive",
		},
		{
			name:   "plain body",
			status: http.StatusBadGateway,
			body:   "upstream unavailable\n",
			want:   "upstream unavailable",
		},
		{
			name:   "empty body",
			status: http.StatusServiceUnavailable,
			want:   "Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewLoanServiceClient(LoanServiceConfig{BaseURL: server.URL})
			_, err := client.CreateLoan(context.Background(), CreateLoanPayload{})

			var loanErr *LoanServiceError
			require.True(t, errors.As(err, &loanErr))
			assert.Equal(t, tt.status, loanErr.StatusCode)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}
