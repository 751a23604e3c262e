package service

import (
	"context"
	"time"

	"buy-process-service/internal/models"
	"buy-process-service/internal/redisclient"

	"github.com/shopspring/decimal"
)

// ReferenceDataReader reads the entities a buy process is checked against.
// Every method returns models.ErrNotFound (possibly wrapped) when the row does not exist.
type ReferenceDataReader interface {
	GetChannel(ctx context.Context, id int64) (*models.Channel, error)
	GetClient(ctx context.Context, id int64) (*models.Client, error)
	GetPointOfSale(ctx context.Context, id int64) (*models.PointOfSale, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetAllyCeiling(ctx context.Context, allyID int64) (*models.AllyCeiling, error)
	GetClientAvailableCredit(ctx context.Context, clientID int64) (*models.CreditLine, error)
}

// MessageStore finds the configured wording for a channel and rule priority.
// A missing row is models.ErrNotFound.
type MessageStore interface {
	FindMessage(ctx context.Context, channelID int64, rulePriority int) (string, error)
}

// LoanLifecycle is the external loan system.
type LoanLifecycle interface {
	CreateLoan(ctx context.Context, payload CreateLoanPayload) (int64, error)
	ApproveLoan(ctx context.Context, loanID int64, payload ApproveLoanPayload) error
	DisburseLoan(ctx context.Context, loanID int64, payload DisburseLoanPayload) error
}

// StateRecorder persists the mutable part of a buy process.
type StateRecorder interface {
	UpdateBuyProcessState(ctx context.Context, bp *models.BuyProcess) error
}

// BuyProcessRepository stores buy processes.
type BuyProcessRepository interface {
	StateRecorder
	CreateBuyProcess(ctx context.Context, bp *models.BuyProcess) error
	GetBuyProcessByID(ctx context.Context, id int64) (*models.BuyProcess, error)
	GetBuyProcessByIdempotencyKey(ctx context.Context, key string) (*models.BuyProcess, error)
}

// EventPublisher publishes buy process lifecycle events.
type EventPublisher interface {
	PublishBuyProcessEvent(ctx context.Context, event *models.BuyProcessEvent) error
}

// Coordinator provides the cross-instance guards around submission and provisioning.
type Coordinator interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseIdempotencyKey(ctx context.Context, key string) error
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (*redisclient.Lock, error)
	ReleaseLock(ctx context.Context, lock *redisclient.Lock) error
}

// RequestContext carries the per-request metadata that used to travel as
// ambient state: the raw channel header, caller address and device.
type RequestContext struct {
	ChannelHeader string
	ClientIP      string
	DeviceInfo    string
	Actor         string
}

// CreateLoanPayload is sent to create the loan for a buy process.
type CreateLoanPayload struct {
	ExternalID           string
	ClientID             int64
	ProductID            int64
	Principal            decimal.Decimal
	Installments         int
	SubmittedOn          time.Time
	ExpectedDisbursement time.Time
	LoanOfficerID        *int64
	FundID               *int64
	ChannelID            int64
	PointOfSaleID        int64
}

// ApproveLoanPayload approves a created loan.
type ApproveLoanPayload struct {
	ApprovedOn     time.Time
	ApprovedAmount decimal.Decimal
	Note           string
}

// DisburseLoanPayload disburses an approved loan.
type DisburseLoanPayload struct {
	ActualDisbursementDate time.Time
	TransactionAmount      decimal.Decimal
	PaymentTypeID          *int64
	Note                   string
}
