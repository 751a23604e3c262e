package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// Diagnostic is one failed rule and the message shown for it.
type Diagnostic struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Diagnostics maps rule name to message and keeps insertion order.
// A rule absent from the map passed. It is stored as a JSON object whose key
// order is the insertion order.
type Diagnostics struct {
	entries []Diagnostic
	index   map[string]int
}

// Add records a failure for rule. Adding the same rule again replaces its
// message and keeps its original position.
func (d *Diagnostics) Add(rule, message string) {
	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[rule]; ok {
		d.entries[i].Message = message
		return
	}
	d.index[rule] = len(d.entries)
	d.entries = append(d.entries, Diagnostic{Rule: rule, Message: message})
}

// Get returns the message recorded for rule.
func (d *Diagnostics) Get(rule string) (string, bool) {
	i, ok := d.index[rule]
	if !ok {
		return "", false
	}
	return d.entries[i].Message, true
}

func (d *Diagnostics) Len() int {
	return len(d.entries)
}

func (d *Diagnostics) Empty() bool {
	return len(d.entries) == 0
}

// Rules returns the failed rule names in insertion order.
func (d *Diagnostics) Rules() []string {
	out := make([]string, len(d.entries))
	for i, e := range d.entries {
		out[i] = e.Rule
	}
	return out
}

// Entries returns a copy of the entries in insertion order.
func (d *Diagnostics) Entries() []Diagnostic {
	out := make([]Diagnostic, len(d.entries))
	copy(out, d.entries)
	return out
}

// Reset clears every entry.
func (d *Diagnostics) Reset() {
	d.entries = nil
	d.index = nil
}

// MarshalJSON writes the entries as an object, preserving order.
func (d Diagnostics) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range d.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Rule)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Message)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping the key order of the document.
func (d *Diagnostics) UnmarshalJSON(data []byte) error {
	d.Reset()
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("diagnostics: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("diagnostics: expected string key, got %v", tok)
		}
		var msg string
		if err := dec.Decode(&msg); err != nil {
			return fmt.Errorf("diagnostics: value for %q: %w", key, err)
		}
		d.Add(key, msg)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// Value implements the driver.Valuer interface for JSON column storage
func (d Diagnostics) Value() (driver.Value, error) {
	b, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface
func (d *Diagnostics) Scan(value interface{}) error {
	if value == nil {
		d.Reset()
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return d.UnmarshalJSON(v)
	case string:
		return d.UnmarshalJSON([]byte(v))
	default:
		return errors.New("cannot scan non-string/[]byte value into Diagnostics")
	}
}
