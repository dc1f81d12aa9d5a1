package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"guarddog/internal/model"
	"guarddog/internal/rules"

	"github.com/sirupsen/logrus"
)

// Kind tags the record type of a batch
type Kind string

const (
	KindText         Kind = "text"
	KindLogs         Kind = "logs"
	KindDocument     Kind = "document"
	KindTransactions Kind = "transactions"
	KindTelemetry    Kind = "telemetry"
	KindAPICalls     Kind = "api_calls"
)

// Batch is one group of records of a single kind. Records holds the raw JSON
// payload and is decoded according to Kind.
type Batch struct {
	Kind    Kind            `json:"kind"`
	Source  string          `json:"source,omitempty"`
	Records json.RawMessage `json:"records"`
}

// Processor receives batches, normalizes them and evaluates them against the
// engine. All batches of one processor share a session, so rapid transaction
// windows carry over from one batch to the next.
type Processor struct {
	engine  *rules.Engine
	logger  *logrus.Logger
	options []rules.SessionOption
	session *rules.Session
	mu      sync.Mutex
}

// NewProcessor creates a new processor instance
func NewProcessor(engine *rules.Engine, logger *logrus.Logger, opts ...rules.SessionOption) *Processor {
	return &Processor{
		engine:  engine,
		logger:  logger,
		options: opts,
		session: engine.NewSession(opts...),
	}
}

// Reset discards all window state by starting a new session.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = p.engine.NewSession(p.options...)
}

// Process evaluates the batches in order and returns their findings in the
// same order. Batches are evaluated one at a time.
func (p *Processor) Process(ctx context.Context, batches ...Batch) ([]model.Finding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var findings []model.Finding
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return findings, err
		}

		out, err := p.process(batch)
		if err != nil {
			return findings, fmt.Errorf("batch %d (%s): %w", i, batch.Kind, err)
		}
		p.logger.Debugf("[Pipeline] Batch %d (%s) produced %d findings", i, batch.Kind, len(out))
		findings = append(findings, out...)
	}
	return findings, nil
}

func (p *Processor) process(batch Batch) ([]model.Finding, error) {
	switch batch.Kind {
	case KindText:
		records, err := p.decodeText(batch.Records, batch.Source)
		if err != nil {
			return nil, err
		}
		return p.session.ScanText(records), nil

	case KindLogs:
		lines, err := decodeLines(batch.Records)
		if err != nil {
			return nil, err
		}
		return p.session.ScanLogs(lines, batch.Source), nil

	case KindDocument:
		var doc interface{}
		if err := decode(batch.Records, &doc); err != nil {
			return nil, err
		}
		return p.session.ScanDocument(doc, batch.Source), nil

	case KindTransactions:
		txs, err := decodeEach[model.TransactionRecord](p.session, rules.KindTransactions, batch.Records)
		if err != nil {
			return nil, err
		}
		return p.session.ScanTransactions(txs), nil

	case KindTelemetry:
		sources, err := decodeEach[model.TelemetryRecord](p.session, rules.KindTelemetry, batch.Records)
		if err != nil {
			return nil, err
		}
		return p.session.ScanTelemetry(sources), nil

	case KindAPICalls:
		calls, err := decodeEach[model.APICallRecord](p.session, rules.KindAPICalls, batch.Records)
		if err != nil {
			return nil, err
		}
		return p.session.ScanAPICalls(calls), nil

	default:
		return nil, fmt.Errorf("unknown batch kind %q", batch.Kind)
	}
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode records: %w", err)
	}
	return nil
}

// decodeEach decodes a list of records one element at a time. An element
// that does not decode is reported to the session and left out; only a
// payload that is not a list fails the batch.
func decodeEach[T any](session *rules.Session, kind string, raw json.RawMessage) ([]T, error) {
	var items []json.RawMessage
	if err := decode(raw, &items); err != nil {
		return nil, err
	}

	records := make([]T, 0, len(items))
	for i, item := range items {
		var record T
		if err := json.Unmarshal(item, &record); err != nil {
			session.SkipRecord(kind, i, err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// decodeText accepts either a list of strings or a list of text records.
func (p *Processor) decodeText(raw json.RawMessage, source string) ([]model.TextRecord, error) {
	var items []json.RawMessage
	if err := decode(raw, &items); err != nil {
		return nil, err
	}

	records := make([]model.TextRecord, 0, len(items))
	for i, item := range items {
		var record model.TextRecord
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			record.Content = s
		} else if err := json.Unmarshal(item, &record); err != nil {
			p.session.SkipRecord(rules.KindText, i, err)
			continue
		}
		if record.Source == "" {
			record.Source = source
		}
		record.Content = normalize(record.Content)
		records = append(records, record)
	}
	return records, nil
}

// decodeLines accepts a single log blob or a list of lines. Multi-line
// entries are split so that every finding points at one line.
func decodeLines(raw json.RawMessage) ([]string, error) {
	var blob string
	if err := json.Unmarshal(raw, &blob); err == nil {
		return strings.Split(blob, "\n"), nil
	}

	var entries []string
	if err := decode(raw, &entries); err != nil {
		return nil, err
	}
	var lines []string
	for _, entry := range entries {
		lines = append(lines, strings.Split(entry, "\n")...)
	}
	return lines, nil
}

func normalize(text string) string {
	return strings.TrimRight(text, "\r\n")
}
