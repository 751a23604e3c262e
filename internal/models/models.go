package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// GenericChannelID is the channel whose messages are the fallback for every rule.
const GenericChannelID int64 = 1

// ErrNotFound is returned by readers when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Channel is an integration channel through which purchases arrive.
// The optional ids are defaults applied when a loan is created for the channel.
type Channel struct {
	ID            int64  `db:"id" json:"id"`
	Name          string `db:"name" json:"name"`
	Active        bool   `db:"active" json:"active"`
	LoanOfficerID *int64 `db:"loan_officer_id" json:"loan_officer_id,omitempty"`
	FundID        *int64 `db:"fund_id" json:"fund_id,omitempty"`
	PaymentTypeID *int64 `db:"payment_type_id" json:"payment_type_id,omitempty"`
}

// Client is the buyer requesting credit.
type Client struct {
	ID          int64  `db:"id" json:"id"`
	DisplayName string `db:"display_name" json:"display_name"`
	Active      bool   `db:"active" json:"active"`
	Blacklisted bool   `db:"blacklisted" json:"blacklisted"`
	Blocked     bool   `db:"blocked" json:"blocked"`
}

// Eligible reports whether the client may take new credit.
func (c *Client) Eligible() bool {
	return c.Active && !c.Blacklisted && !c.Blocked
}

// PointOfSale belongs to an ally and is reachable through a channel.
type PointOfSale struct {
	ID        int64  `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	ChannelID int64  `db:"channel_id" json:"channel_id"`
	AllyID    int64  `db:"ally_id" json:"ally_id"`
	Active    bool   `db:"active" json:"active"`
}

// Product is the loan product a purchase is financed with.
type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	MinTerm   int             `db:"min_term" json:"min_term"`
	MaxTerm   int             `db:"max_term" json:"max_term"`
	MinAmount decimal.Decimal `db:"min_amount" json:"min_amount"`
}

// AllyCeiling is the settlement ceiling of an ally.
type AllyCeiling struct {
	AllyID  int64           `db:"ally_id" json:"ally_id"`
	Ceiling decimal.Decimal `db:"ceiling" json:"ceiling"`
	Used    decimal.Decimal `db:"used" json:"used"`
}

func (a *AllyCeiling) Available() decimal.Decimal {
	return a.Ceiling.Sub(a.Used)
}

// CreditLine is the cupo assigned to a client.
type CreditLine struct {
	ID       int64           `db:"id" json:"id"`
	ClientID int64           `db:"client_id" json:"client_id"`
	Limit    decimal.Decimal `db:"credit_limit" json:"credit_limit"`
	Used     decimal.Decimal `db:"used" json:"used"`
}

func (l *CreditLine) Available() decimal.Decimal {
	return l.Limit.Sub(l.Used)
}

// ChannelMessage is the wording a channel shows when a rule fails.
type ChannelMessage struct {
	ID           int64  `db:"id" json:"id"`
	ChannelID    int64  `db:"channel_id" json:"channel_id"`
	RulePriority int    `db:"rule_priority" json:"rule_priority"`
	Message      string `db:"message" json:"message"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
