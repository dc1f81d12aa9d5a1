package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TextRecord is a free-form text or log line to be scanned for sensitive data
type TextRecord struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// TransactionRecord is a single financial transaction
type TransactionRecord struct {
	ID        string                 `json:"id,omitempty"`
	Account   string                 `json:"account,omitempty"`
	Amount    Amount                 `json:"amount"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Date      string                 `json:"date,omitempty"`
	Raw       map[string]interface{} `json:"raw,omitempty"`
}

// EventTime returns the transaction time, falling back to Date when
// Timestamp is absent.
func (t TransactionRecord) EventTime() (time.Time, error) {
	value := t.Timestamp
	if value == "" {
		value = t.Date
	}
	return ParseTimestamp(value)
}

// UnmarshalJSON keeps the full decoded object in Raw so that evidence can
// carry the (redacted) transaction as received. Identifiers and times given
// as numbers or booleans are kept as their text.
func (t *TransactionRecord) UnmarshalJSON(data []byte) error {
	var p struct {
		ID        scalar                 `json:"id"`
		Account   scalar                 `json:"account"`
		Amount    Amount                 `json:"amount"`
		Timestamp scalar                 `json:"timestamp"`
		Date      scalar                 `json:"date"`
		Raw       map[string]interface{} `json:"raw"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Raw == nil {
		var raw map[string]interface{}
		if err := json.Unmarshal(data, &raw); err == nil {
			p.Raw = raw
		}
	}
	*t = TransactionRecord{
		ID:        string(p.ID),
		Account:   string(p.Account),
		Amount:    p.Amount,
		Timestamp: string(p.Timestamp),
		Date:      string(p.Date),
		Raw:       p.Raw,
	}
	return nil
}

// TelemetryRecord is the daily usage report of one API source
type TelemetryRecord struct {
	Name         string  `json:"name"`
	CallsToday   float64 `json:"callsToday"`
	Status       string  `json:"status,omitempty"`
	AlertStatus  string  `json:"alertStatus,omitempty"`
	LastActivity string  `json:"lastActivity,omitempty"`
}

func (t *TelemetryRecord) UnmarshalJSON(data []byte) error {
	var p struct {
		Name         scalar  `json:"name"`
		CallsToday   float64 `json:"callsToday"`
		Status       scalar  `json:"status"`
		AlertStatus  scalar  `json:"alertStatus"`
		LastActivity scalar  `json:"lastActivity"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = TelemetryRecord{
		Name:         string(p.Name),
		CallsToday:   p.CallsToday,
		Status:       string(p.Status),
		AlertStatus:  string(p.AlertStatus),
		LastActivity: string(p.LastActivity),
	}
	return nil
}

func (t TelemetryRecord) SourceName() string {
	if t.Name == "" {
		return "Unknown"
	}
	return t.Name
}

// APICallRecord is a single inbound API call
type APICallRecord struct {
	Timestamp string `json:"timestamp,omitempty"`
	ClientIP  string `json:"clientIP,omitempty"`
	Country   string `json:"country,omitempty"`
}

func (c *APICallRecord) UnmarshalJSON(data []byte) error {
	var p struct {
		Timestamp scalar `json:"timestamp"`
		ClientIP  scalar `json:"clientIP"`
		Country   scalar `json:"country"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = APICallRecord{
		Timestamp: string(p.Timestamp),
		ClientIP:  string(p.ClientIP),
		Country:   string(p.Country),
	}
	return nil
}

// scalar is a text field that also accepts JSON numbers and booleans,
// keeping the token as written. Objects and arrays are rejected.
type scalar string

func (s *scalar) UnmarshalJSON(data []byte) error {
	token := strings.TrimSpace(string(data))
	switch {
	case token == "null":
		*s = ""
	case strings.HasPrefix(token, `"`):
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = scalar(v)
	case strings.HasPrefix(token, "{"), strings.HasPrefix(token, "["):
		return fmt.Errorf("expected a scalar value, got %s", token)
	default:
		*s = scalar(token)
	}
	return nil
}

// Amount keeps the raw amount token of a record so that an unparsable value
// only skips the checks that need it instead of failing the whole batch.
type Amount struct {
	raw string
	set bool
}

func NewAmount(raw string) Amount {
	return Amount{raw: strings.TrimSpace(raw), set: true}
}

func AmountFromFloat(f float64) Amount {
	return NewAmount(strconv.FormatFloat(f, 'f', -1, 64))
}

func (a Amount) IsSet() bool {
	return a.set && a.raw != ""
}

func (a Amount) String() string {
	return a.raw
}

// Decimal parses the amount. Empty or malformed amounts return an error.
func (a Amount) Decimal() (decimal.Decimal, error) {
	if !a.IsSet() {
		return decimal.Zero, ErrAmountMissing
	}
	return decimal.NewFromString(a.raw)
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = Amount{}
		return nil
	}
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = unquoted
	}
	*a = NewAmount(s)
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.IsSet() {
		return []byte("null"), nil
	}
	if d, err := a.Decimal(); err == nil {
		return []byte(d.String()), nil
	}
	return json.Marshal(a.raw)
}
