package models

import "time"

// Event types
const (
	EventTypeBuyProcessValidated    = "BUY_PROCESS_VALIDATED"
	EventTypeBuyProcessRejected     = "BUY_PROCESS_REJECTED"
	EventTypeBuyProcessLoanCreated  = "BUY_PROCESS_LOAN_CREATED"
	EventTypeBuyProcessCompleted    = "BUY_PROCESS_COMPLETED"
	EventTypeBuyProcessStageFailed  = "BUY_PROCESS_STAGE_FAILED"
	EventTypeChannelMessagesUpdated = "CHANNEL_MESSAGES_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// BuyProcessEvent is published on every externally visible status change.
type BuyProcessEvent struct {
	BaseEvent
	BuyProcessID int64        `json:"buy_process_id"`
	ChannelID    int64        `json:"channel_id"`
	ClientID     int64        `json:"client_id"`
	Status       Status       `json:"status"`
	LoanID       *int64       `json:"loan_id,omitempty"`
	Stage        Stage        `json:"stage,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Diagnostics  []Diagnostic `json:"diagnostics,omitempty"`
}

// ChannelMessagesUpdatedEvent is published by administration tooling after
// channel messages are edited. ChannelID 0 means every channel.
type ChannelMessagesUpdatedEvent struct {
	BaseEvent
	ChannelID int64 `json:"channel_id"`
}
