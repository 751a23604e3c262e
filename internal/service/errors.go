package service

import (
	"errors"
	"fmt"

	"buy-process-service/internal/models"
)

var (
	// ErrInvalidRequest wraps intake errors: missing fields, non-positive amount or term.
	ErrInvalidRequest = errors.New("invalid buy process request")

	// ErrNotValidated is returned when provisioning is asked for a record that did not pass validation.
	ErrNotValidated = errors.New("buy process is not validated")

	// ErrProvisioningInProgress is returned when another instance holds the provisioning lock.
	ErrProvisioningInProgress = errors.New("buy process provisioning already in progress")

	// ErrSubmissionInProgress is returned when a duplicate submission arrives before the first one was stored.
	ErrSubmissionInProgress = errors.New("buy process submission already in progress")
)

// StageFailure is returned when a provisioning stage did not complete.
// Message is the collaborator's error text, unmodified.
type StageFailure struct {
	Stage    models.Stage
	Message  string
	FollowUp string
	LoanID   *int64
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("%s stage failed: %s", e.Stage, e.Message)
}

// AlreadyProvisionedError is returned when a record already carries a loan.
type AlreadyProvisionedError struct {
	BuyProcessID int64
	LoanID       int64
}

func (e *AlreadyProvisionedError) Error() string {
	return fmt.Sprintf("buy process %d already provisioned with loan %d", e.BuyProcessID, e.LoanID)
}
