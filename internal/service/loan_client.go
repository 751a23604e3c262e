package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"buy-process-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const loanDateFormat = "2006-01-02"

// LoanServiceError is a non-2xx answer of the loan service. Error returns the
// service's own message unchanged so it can be stored on the buy process.
type LoanServiceError struct {
	StatusCode int
	Message    string
}

func (e *LoanServiceError) Error() string {
	return e.Message
}

// LoanServiceConfig configures the loan service client
type LoanServiceConfig struct {
	BaseURL  string
	Username string
	Password string
	TenantID string
	Timeout  time.Duration
}

// LoanServiceClient calls the core-banking loan API over HTTP/JSON.
type LoanServiceClient struct {
	cfg        LoanServiceConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLoanServiceClient creates a new loan service client
func NewLoanServiceClient(cfg LoanServiceConfig) *LoanServiceClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &LoanServiceClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     util.GetLogger(),
	}
}

type createLoanRequest struct {
	ExternalID               string          `json:"externalId"`
	ClientID                 int64           `json:"clientId"`
	ProductID                int64           `json:"productId"`
	Principal                decimal.Decimal `json:"principal"`
	NumberOfRepayments       int             `json:"numberOfRepayments"`
	LoanTermFrequency        int             `json:"loanTermFrequency"`
	SubmittedOnDate          string          `json:"submittedOnDate"`
	ExpectedDisbursementDate string          `json:"expectedDisbursementDate"`
	LoanOfficerID            *int64          `json:"loanOfficerId,omitempty"`
	FundID                   *int64          `json:"fundId,omitempty"`
	ChannelID                int64           `json:"channelId"`
	PointOfSaleID            int64           `json:"pointOfSaleId"`
	DateFormat               string          `json:"dateFormat"`
}

type createLoanResponse struct {
	LoanID     int64 `json:"loanId"`
	ResourceID int64 `json:"resourceId"`
}

type approveLoanRequest struct {
	ApprovedOnDate string          `json:"approvedOnDate"`
	ApprovedAmount decimal.Decimal `json:"approvedLoanAmount"`
	Note           string          `json:"note,omitempty"`
	DateFormat     string          `json:"dateFormat"`
}

type disburseLoanRequest struct {
	ActualDisbursementDate string          `json:"actualDisbursementDate"`
	TransactionAmount      decimal.Decimal `json:"transactionAmount"`
	PaymentTypeID          *int64          `json:"paymentTypeId,omitempty"`
	Note                   string          `json:"note,omitempty"`
	DateFormat             string          `json:"dateFormat"`
}

type loanServiceErrorBody struct {
	DefaultUserMessage string `json:"defaultUserMessage"`
	Errors             []struct {
		DefaultUserMessage string `json:"defaultUserMessage"`
	} `json:"errors"`
}

// CreateLoan creates the loan and returns its id.
func (c *LoanServiceClient) CreateLoan(ctx context.Context, payload CreateLoanPayload) (int64, error) {
	ctx, span := util.StartSpan(ctx, "LoanServiceClient.CreateLoan")
	defer span.End()

	req := createLoanRequest{
		ExternalID:               payload.ExternalID,
		ClientID:                 payload.ClientID,
		ProductID:                payload.ProductID,
		Principal:                payload.Principal,
		NumberOfRepayments:       payload.Installments,
		LoanTermFrequency:        payload.Installments,
		SubmittedOnDate:          payload.SubmittedOn.Format(loanDateFormat),
		ExpectedDisbursementDate: payload.ExpectedDisbursement.Format(loanDateFormat),
		LoanOfficerID:            payload.LoanOfficerID,
		FundID:                   payload.FundID,
		ChannelID:                payload.ChannelID,
		PointOfSaleID:            payload.PointOfSaleID,
		DateFormat:               loanDateFormat,
	}

	var resp createLoanResponse
	if err := c.post(ctx, "/loans", req, &resp); err != nil {
		util.RecordError(span, err)
		return 0, err
	}

	loanID := resp.LoanID
	if loanID == 0 {
		loanID = resp.ResourceID
	}
	c.logger.Info("Loan created", zap.String("external_id", payload.ExternalID), zap.Int64("loan_id", loanID))
	return loanID, nil
}

// ApproveLoan approves a created loan.
func (c *LoanServiceClient) ApproveLoan(ctx context.Context, loanID int64, payload ApproveLoanPayload) error {
	ctx, span := util.StartSpan(ctx, "LoanServiceClient.ApproveLoan")
	defer span.End()

	req := approveLoanRequest{
		ApprovedOnDate: payload.ApprovedOn.Format(loanDateFormat),
		ApprovedAmount: payload.ApprovedAmount,
		Note:           payload.Note,
		DateFormat:     loanDateFormat,
	}
	if err := c.post(ctx, fmt.Sprintf("/loans/%d?command=approve", loanID), req, nil); err != nil {
		util.RecordError(span, err)
		return err
	}
	return nil
}

// DisburseLoan disburses an approved loan.
func (c *LoanServiceClient) DisburseLoan(ctx context.Context, loanID int64, payload DisburseLoanPayload) error {
	ctx, span := util.StartSpan(ctx, "LoanServiceClient.DisburseLoan")
	defer span.End()

	req := disburseLoanRequest{
		ActualDisbursementDate: payload.ActualDisbursementDate.Format(loanDateFormat),
		TransactionAmount:      payload.TransactionAmount,
		PaymentTypeID:          payload.PaymentTypeID,
		Note:                   payload.Note,
		DateFormat:             loanDateFormat,
	}
	if err := c.post(ctx, fmt.Sprintf("/loans/%d?command=disburse", loanID), req, nil); err != nil {
		util.RecordError(span, err)
		return err
	}
	return nil
}

func (c *LoanServiceClient) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.TenantID != "" {
		req.Header.Set("X-Tenant-ID", c.cfg.TenantID)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return c.do(req, result)
}

func (c *LoanServiceClient) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call loan service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read loan service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &LoanServiceError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, body)}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to decode loan service response: %w", err)
		}
	}
	return nil
}

// errorMessage prefers the first field-level message, then the top-level one,
// then the raw body.
func errorMessage(status int, body []byte) string {
	var parsed loanServiceErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, e := range parsed.Errors {
			if e.DefaultUserMessage != "" {
				return e.DefaultUserMessage
			}
		}
		if parsed.DefaultUserMessage != "" {
			return parsed.DefaultUserMessage
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
