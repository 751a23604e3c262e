package models

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a buy process.
type Status string

const (
	StatusReceived         Status = "RECEIVED"
	StatusValidating       Status = "VALIDATING"
	StatusValidationFailed Status = "VALIDATION_FAILED"
	StatusValidated        Status = "VALIDATED"
	StatusCreating         Status = "CREATING"
	StatusFailedCreate     Status = "FAILED_CREATE"
	StatusCreated          Status = "CREATED"
	StatusApproving        Status = "APPROVING"
	StatusFailedApprove    Status = "FAILED_APPROVE"
	StatusApproved         Status = "APPROVED"
	StatusDisbursing       Status = "DISBURSING"
	StatusFailedDisburse   Status = "FAILED_DISBURSE"
	StatusCompleted        Status = "COMPLETED"
)

// Stage is one step of loan provisioning.
type Stage string

const (
	StageCreate   Stage = "CREATE"
	StageApprove  Stage = "APPROVE"
	StageDisburse Stage = "DISBURSE"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrImmutable is returned when a write targets a record in a terminal status.
var ErrImmutable = errors.New("buy process is in a terminal status")

var transitions = map[Status][]Status{
	StatusReceived:   {StatusValidating},
	StatusValidating: {StatusValidationFailed, StatusValidated},
	StatusValidated:  {StatusCreating},
	StatusCreating:   {StatusFailedCreate, StatusCreated},
	StatusCreated:    {StatusApproving},
	StatusApproving:  {StatusFailedApprove, StatusApproved},
	StatusApproved:   {StatusDisbursing},
	StatusDisbursing: {StatusFailedDisburse, StatusCompleted},
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func transitionError(from, to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
