package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FollowUp markers recorded when provisioning stops part way.
const (
	FollowUpNone                 = ""
	FollowUpManualReconciliation = "MANUAL_RECONCILIATION"
)

// BuyProcess is a point-of-sale credit purchase and everything recorded while
// it is validated and provisioned. Rows are never deleted.
type BuyProcess struct {
	ID             int64           `db:"id" json:"id"`
	ChannelID      int64           `db:"channel_id" json:"channel_id"`
	ClientID       int64           `db:"client_id" json:"client_id"`
	PointOfSaleID  int64           `db:"point_of_sale_id" json:"point_of_sale_id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	CreditLineID   int64           `db:"credit_line_id" json:"credit_line_id"`
	RequestedDate  time.Time       `db:"requested_date" json:"requested_date"`
	Amount         decimal.Decimal `db:"amount" json:"amount"`
	Term           int             `db:"term" json:"term"`
	CreatedBy      string          `db:"created_by" json:"created_by"`
	ClientIP       string          `db:"client_ip" json:"client_ip,omitempty"`
	DeviceInfo     string          `db:"device_info" json:"device_info,omitempty"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key,omitempty"`
	LoanID         *int64          `db:"loan_id" json:"loan_id"`
	Diagnostics    Diagnostics     `db:"diagnostics" json:"diagnostics"`
	Status         Status          `db:"status" json:"status"`
	StageError     string          `db:"stage_error" json:"stage_error,omitempty"`
	FailedStage    Stage           `db:"failed_stage" json:"failed_stage,omitempty"`
	FollowUp       string          `db:"follow_up" json:"follow_up,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// Advance moves the record to status to, enforcing the state machine.
func (bp *BuyProcess) Advance(to Status) error {
	if !CanTransition(bp.Status, to) {
		return transitionError(bp.Status, to)
	}
	bp.Status = to
	return nil
}

// Valid reports whether validation recorded no failures.
func (bp *BuyProcess) Valid() bool {
	return bp.Diagnostics.Empty()
}

// Provisioned reports whether a loan was created for the record.
func (bp *BuyProcess) Provisioned() bool {
	return bp.LoanID != nil
}

// FailedAt reports the stage provisioning stopped at, if any.
func (bp *BuyProcess) FailedAt() (Stage, bool) {
	return bp.FailedStage, bp.FailedStage != ""
}
