package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{in: "critical", want: SeverityCritical},
		{in: " Warning ", want: SeverityWarning},
		{in: "high", want: SeverityWarning},
		{in: "medium", want: SeverityWarning},
		{in: "low", want: SeverityInfo},
		{in: "info", want: SeverityInfo},
		{in: "", wantErr: true},
		{in: "severe", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.True(t, SeverityCritical.AtLeast(SeverityWarning))
	assert.False(t, SeverityInfo.AtLeast(SeverityWarning))
	assert.False(t, Severity("bogus").Valid())
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("Redact")
	require.NoError(t, err)
	assert.Equal(t, ActionRedact, a)

	_, err = ParseAction("")
	assert.Error(t, err)
	_, err = ParseAction("shrug")
	assert.Error(t, err)
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "2024-03-01T10:15:00Z", want: time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)},
		{in: "2024-03-01T12:15:00+02:00", want: time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)},
		{in: "2024-03-01 10:15:00", want: time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)},
		{in: "2024-03-01T10:15", want: time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)},
		{in: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := ParseTimestamp("  ")
	assert.ErrorIs(t, err, ErrTimestampMissing)
	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestTransactionRecord_JSON(t *testing.T) {
	var txs []TransactionRecord
	require.NoError(t, json.Unmarshal([]byte(`[
		{"id": "t1", "amount": "12500.50", "date": "2024-03-01", "memo": "rent"},
		{"id": "t2", "amount": "n/a"},
		{"id": "t3"}
	]`), &txs))
	require.Len(t, txs, 3)

	d, err := txs[0].Amount.Decimal()
	require.NoError(t, err)
	assert.Equal(t, "12500.5", d.String())
	assert.Equal(t, "rent", txs[0].Raw["memo"])

	at, err := txs[0].EventTime()
	require.NoError(t, err)
	assert.Equal(t, 2024, at.Year())

	_, err = txs[1].Amount.Decimal()
	assert.Error(t, err)
	_, err = txs[2].Amount.Decimal()
	assert.ErrorIs(t, err, ErrAmountMissing)

	out, err := json.Marshal(struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
		C Amount `json:"c"`
	}{A: AmountFromFloat(10.25), B: NewAmount("n/a")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 10.25, "b": "n/a", "c": null}`, string(out))
}

func TestTelemetrySourceName(t *testing.T) {
	assert.Equal(t, "Unknown", TelemetryRecord{}.SourceName())
	assert.Equal(t, "plaid", TelemetryRecord{Name: "plaid"}.SourceName())
}

func TestRecords_ScalarFieldsAcceptNumbers(t *testing.T) {
	var tx TransactionRecord
	require.NoError(t, json.Unmarshal([]byte(`{"id": 42, "account": true, "amount": 20000, "timestamp": 1709287380}`), &tx))
	assert.Equal(t, "42", tx.ID)
	assert.Equal(t, "true", tx.Account)
	assert.Equal(t, "1709287380", tx.Timestamp)
	assert.Equal(t, float64(1709287380), tx.Raw["timestamp"])
	_, err := tx.EventTime()
	assert.Error(t, err)

	var src TelemetryRecord
	require.NoError(t, json.Unmarshal([]byte(`{"name": 7, "callsToday": 12, "status": null, "lastActivity": 1709287380}`), &src))
	assert.Equal(t, TelemetryRecord{Name: "7", CallsToday: 12, LastActivity: "1709287380"}, src)

	var call APICallRecord
	require.NoError(t, json.Unmarshal([]byte(`{"timestamp": 1709287380, "clientIP": "10.0.0.1", "country": 1}`), &call))
	assert.Equal(t, APICallRecord{Timestamp: "1709287380", ClientIP: "10.0.0.1", Country: "1"}, call)

	assert.Error(t, json.Unmarshal([]byte(`{"id": {"nested": true}}`), &tx))
	assert.Error(t, json.Unmarshal([]byte(`{"name": ["a"]}`), &src))
	assert.Error(t, json.Unmarshal([]byte(`{"callsToday": "many"}`), &src))
}
