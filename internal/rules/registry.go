// Package rules holds the fixed catalogue of checks a buy process must pass.
//
// The catalogue is the only place that defines rule order. Priorities are unique
// and ascending; unused priorities (currently 5) are reserved slots and are
// skipped by every caller.
package rules

import (
	"fmt"
	"sort"
)

// Name is the stable key of a rule. It is used for message lookup and as the
// key of the diagnostic map.
type Name string

const (
	Channel                          Name = "CHANNEL"
	CurrentDate                      Name = "CURRENT_DATE"
	PointOfSales                     Name = "POINT_OF_SALES"
	Client                           Name = "CLIENT"
	RequestedVsAvailableAmountClient Name = "REQUESTED_VS_AVAILABLE_AMOUNT_CLIENT"
	Term                             Name = "TERM"
	MinimumAmount                    Name = "MINIMUM_AMOUNT"
	RequestedVsAvailableAmountAlly   Name = "REQUESTED_VS_AVAILABLE_AMOUNT_ALLY"
)

// Value types checked by a rule.
const (
	ValueTypeID     = "id"
	ValueTypeDate   = "date"
	ValueTypeAmount = "amount"
	ValueTypeTerm   = "term"
)

// ReservedPriority was historically an amount-vs-assigned-limit rule. It has no
// entry in the catalogue and is treated as a no-op.
const ReservedPriority = 5

// Rule is one entry of the catalogue.
type Rule struct {
	Priority  int
	Name      Name
	ValueType string
	Mandatory bool
}

func (r Rule) String() string {
	return fmt.Sprintf("%d:%s", r.Priority, r.Name)
}

var catalogue = []Rule{
	{Priority: 1, Name: Channel, ValueType: ValueTypeID, Mandatory: true},
	{Priority: 2, Name: CurrentDate, ValueType: ValueTypeDate, Mandatory: true},
	{Priority: 3, Name: PointOfSales, ValueType: ValueTypeID, Mandatory: true},
	{Priority: 4, Name: Client, ValueType: ValueTypeID, Mandatory: true},
	{Priority: 6, Name: RequestedVsAvailableAmountClient, ValueType: ValueTypeAmount, Mandatory: true},
	{Priority: 7, Name: Term, ValueType: ValueTypeTerm, Mandatory: true},
	{Priority: 8, Name: MinimumAmount, ValueType: ValueTypeAmount, Mandatory: true},
	{Priority: 9, Name: RequestedVsAvailableAmountAlly, ValueType: ValueTypeAmount, Mandatory: true},
}

var (
	byName     map[Name]Rule
	byPriority map[int]Rule
)

func init() {
	if err := check(catalogue); err != nil {
		panic(err)
	}
	byName = make(map[Name]Rule, len(catalogue))
	byPriority = make(map[int]Rule, len(catalogue))
	for _, r := range catalogue {
		byName[r.Name] = r
		byPriority[r.Priority] = r
	}
}

// check rejects a malformed catalogue.
func check(rs []Rule) error {
	names := make(map[Name]bool, len(rs))
	priorities := make(map[int]bool, len(rs))
	for _, r := range rs {
		if r.Name == "" {
			return &ConfigurationError{Reason: fmt.Sprintf("rule with priority %d has no name", r.Priority)}
		}
		if r.Priority <= 0 {
			return &ConfigurationError{Name: r.Name, Reason: "priority must be positive"}
		}
		if r.Priority == ReservedPriority {
			return &ConfigurationError{Name: r.Name, Reason: "priority 5 is reserved"}
		}
		if names[r.Name] {
			return &ConfigurationError{Name: r.Name, Reason: "duplicate name"}
		}
		if priorities[r.Priority] {
			return &ConfigurationError{Name: r.Name, Reason: fmt.Sprintf("duplicate priority %d", r.Priority)}
		}
		names[r.Name] = true
		priorities[r.Priority] = true
	}
	return nil
}

// All returns the catalogue sorted by ascending priority. The slice is a copy.
func All() []Rule {
	out := make([]Rule, len(catalogue))
	copy(out, catalogue)
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Lookup returns the rule registered under name. An unknown name is a
// deployment defect and yields a *ConfigurationError.
func Lookup(name Name) (Rule, error) {
	r, ok := byName[name]
	if !ok {
		return Rule{}, &ConfigurationError{Name: name, Reason: "unknown rule"}
	}
	return r, nil
}

// ByPriority reports the rule at priority p. Reserved or unused slots return false.
func ByPriority(p int) (Rule, bool) {
	r, ok := byPriority[p]
	return r, ok
}

// ConfigurationError reports a defect in the catalogue or in code that refers to it.
type ConfigurationError struct {
	Name   Name
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Name == "" {
		return "rule configuration: " + e.Reason
	}
	return fmt.Sprintf("rule configuration: %s: %s", e.Name, e.Reason)
}
