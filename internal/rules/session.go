package rules

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"guarddog/internal/baseline"
	"guarddog/internal/matcher"
	"guarddog/internal/model"
	"guarddog/internal/window"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Record kinds used in metrics and logs
const (
	KindText         = "text"
	KindTransactions = "transactions"
	KindTelemetry    = "telemetry"
	KindAPICalls     = "api_calls"
)

// Session evaluates batches against one catalog. Rapid transaction windows
// persist across calls of the same session and are never shared with
// another session.
type Session struct {
	catalog  *Catalog
	redactor *matcher.Redactor
	logger   *logrus.Logger
	metrics  *Metrics
	emitter  *Emitter
	clock    func() time.Time
	workers  int
	rapid    *window.Tracker
}

func (s *Session) emit(detections []model.Detection, now time.Time) []model.Finding {
	var out []model.Finding
	for _, d := range detections {
		if f, ok := s.emitter.Emit(d, now); ok {
			out = append(out, f)
		}
	}
	return out
}

// SkipRecord reports a record of kind that could not be decoded and was left
// out of its batch. The other records of the batch are still evaluated.
func (s *Session) SkipRecord(kind string, index int, err error) {
	s.logger.WithField("kind", kind).Warnf("%v: record %d not decodable: %v", ErrParseSkip, index, err)
	s.metrics.recordSkipped(kind, "undecodable")
}

func (s *Session) skip(kind string, format string, args ...interface{}) {
	s.logger.WithField("kind", kind).Debugf("%v: "+format, append([]interface{}{ErrParseSkip}, args...)...)
	s.metrics.recordSkipped(kind, "unparsable")
}

// ScanText scans free-form text records for sensitive data. One finding is
// produced per record and matching pattern.
func (s *Session) ScanText(records []model.TextRecord) []model.Finding {
	started := time.Now()
	defer s.metrics.observeScan(KindText, started)
	s.metrics.recordScanned(KindText, len(records))

	pii := s.catalog.PII()
	if pii == nil {
		s.logger.Debugf("Category %s not enabled, skipping %d text records", model.CategoryPII, len(records))
		return nil
	}

	now := s.clock()
	var detections []model.Detection
	for i, r := range records {
		source := r.Source
		if source == "" {
			source = fmt.Sprintf("text[%d]", i)
		}
		detections = append(detections, s.detectPII(r.Content, source, "", pii.Patterns)...)
	}
	return s.emit(detections, now)
}

// ScanLogs scans log lines, reporting each finding with its 1-based line
// number. Blank lines are ignored.
func (s *Session) ScanLogs(lines []string, source string) []model.Finding {
	if source == "" {
		source = "logs"
	}

	records := make([]model.TextRecord, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, model.TextRecord{
			Content: line,
			Source:  fmt.Sprintf("%s:%d", source, i+1),
		})
	}
	return s.ScanText(records)
}

// ScanDocument walks a decoded JSON value and scans every string in it.
// Findings carry the JSON path of the string they were found in.
func (s *Session) ScanDocument(value interface{}, source string) []model.Finding {
	started := time.Now()
	defer s.metrics.observeScan(KindText, started)

	pii := s.catalog.PII()
	if pii == nil {
		s.logger.Debugf("Category %s not enabled, skipping document %s", model.CategoryPII, source)
		return nil
	}
	if source == "" {
		source = "document"
	}

	now := s.clock()
	texts := matcher.Strings(value)
	s.metrics.recordScanned(KindText, len(texts))

	var detections []model.Detection
	for _, t := range texts {
		detections = append(detections, s.detectPII(t.Text, source, t.Path, pii.Patterns)...)
	}
	return s.emit(detections, now)
}

func (s *Session) detectPII(text, source, path string, patterns []model.PatternRule) []model.Detection {
	all := matcher.Match(text, patterns)
	if len(all) == 0 {
		return nil
	}

	// every type is removed from the evidence, not only the one reported
	redacted := s.redactor.RedactAll(text, all)

	var detections []model.Detection
	for _, p := range patterns {
		var matches []matcher.MatchResult
		for _, m := range all {
			if m.PatternName == p.Name {
				matches = append(matches, m)
			}
		}
		if len(matches) == 0 {
			continue
		}

		offsets := make([]int, len(matches))
		for i, m := range matches {
			offsets[i] = m.Start
		}

		evidence := model.Evidence{
			"content":  redacted,
			"position": matches[0].Position,
			"offsets":  offsets,
		}
		if path != "" {
			evidence["path"] = path
		}

		detections = append(detections, model.Detection{
			Category:    model.CategoryPII,
			Subtype:     p.Type(),
			Rule:        p.RuleMeta,
			Source:      source,
			Description: fmt.Sprintf("Found %d %s match(es)", len(matches), p.Type()),
			Evidence:    evidence,
			MatchCount:  len(matches),
		})
	}
	return detections
}

type windowEntry struct {
	index int
	at    time.Time
}

// ScanTransactions evaluates transactions against the financial rules.
// Records are partitioned by window key and each partition is applied to
// the window in event-time order; partitions run concurrently. A record
// older than events stored by an earlier call is counted only against the
// events at or before its own time. Findings come back in input order,
// high value before rapid for the same record.
func (s *Session) ScanTransactions(txs []model.TransactionRecord) []model.Finding {
	started := time.Now()
	defer s.metrics.observeScan(KindTransactions, started)
	s.metrics.recordScanned(KindTransactions, len(txs))

	fin := s.catalog.Financial()
	if fin == nil {
		s.logger.Debugf("Category %s not enabled, skipping %d transactions", model.CategoryFinancial, len(txs))
		return nil
	}

	now := s.clock()
	highValue := make([]*model.Detection, len(txs))
	rapid := make([]*model.Detection, len(txs))

	var order []string
	partitions := make(map[string][]windowEntry)

	for i, tx := range txs {
		if fin.HighValue != nil {
			highValue[i] = s.checkHighValue(i, tx, fin.HighValue)
		}

		if fin.Rapid != nil {
			at, err := tx.EventTime()
			if err != nil {
				s.skip(KindTransactions, "transaction %s has no usable timestamp, window check skipped", transactionLabel(i, tx))
				continue
			}
			key := fin.Rapid.KeyFor(tx)
			if _, ok := partitions[key]; !ok {
				order = append(order, key)
			}
			partitions[key] = append(partitions[key], windowEntry{index: i, at: at})
		}
	}

	if fin.Rapid != nil && len(order) > 0 {
		g := new(errgroup.Group)
		g.SetLimit(s.workers)
		for _, key := range order {
			key := key
			entries := partitions[key]
			g.Go(func() error {
				sort.SliceStable(entries, func(a, b int) bool {
					return entries[a].at.Before(entries[b].at)
				})
				for _, e := range entries {
					res := s.rapid.Observe(key, e.at)
					if !res.Breached {
						continue
					}
					// each index belongs to exactly one partition
					rapid[e.index] = rapidDetection(e.index, txs[e.index], fin.Rapid, res)
				}
				return nil
			})
		}
		_ = g.Wait()
		s.metrics.setWindowKeys(fin.Rapid.Name, s.rapid.Keys())
	}

	var detections []model.Detection
	for i := range txs {
		if highValue[i] != nil {
			detections = append(detections, *highValue[i])
		}
		if rapid[i] != nil {
			detections = append(detections, *rapid[i])
		}
	}
	return s.emit(detections, now)
}

func (s *Session) checkHighValue(i int, tx model.TransactionRecord, rule *model.ThresholdRule) *model.Detection {
	amount, err := tx.Amount.Decimal()
	if err != nil {
		s.skip(KindTransactions, "transaction %s amount %q not usable, high value check skipped", transactionLabel(i, tx), tx.Amount.String())
		return nil
	}
	if !amount.GreaterThan(rule.Threshold) {
		return nil
	}

	evidence := model.Evidence{
		"amount":    amount.String(),
		"threshold": rule.Threshold.String(),
	}
	if tx.ID != "" {
		evidence["transaction_id"] = tx.ID
	}
	if tx.Account != "" {
		evidence["account"] = tx.Account
	}
	if len(tx.Raw) > 0 {
		raw := interface{}(tx.Raw)
		if pii := s.catalog.PII(); pii != nil {
			raw = s.redactor.RedactValue(raw, pii.Patterns)
		}
		evidence["transaction"] = raw
	}

	value, _ := amount.Float64()
	return &model.Detection{
		Category:    model.CategoryFinancial,
		Subtype:     rule.Name,
		Rule:        rule.RuleMeta,
		Source:      transactionLabel(i, tx),
		Description: fmt.Sprintf("Transaction amount %s exceeds threshold %s", amount.String(), rule.Threshold.String()),
		Evidence:    evidence,
		Value:       model.Float(value),
	}
}

func rapidDetection(i int, tx model.TransactionRecord, rule *model.WindowRule, res window.Result) *model.Detection {
	evidence := model.Evidence{
		"window_key":        res.Key,
		"transaction_count": res.Count,
		"max_count":         rule.MaxCount,
		"window":            rule.Window.String(),
	}
	if tx.ID != "" {
		evidence["transaction_id"] = tx.ID
	}

	return &model.Detection{
		Category:    model.CategoryFinancial,
		Subtype:     rule.Name,
		Rule:        rule.RuleMeta,
		Source:      transactionLabel(i, tx),
		Description: fmt.Sprintf("%d transactions within %s, limit is %d", res.Count, rule.Window, rule.MaxCount),
		Evidence:    evidence,
		MatchCount:  res.Count,
		Value:       model.Float(float64(res.Count)),
	}
}

func transactionLabel(i int, tx model.TransactionRecord) string {
	if tx.ID != "" {
		return tx.ID
	}
	return fmt.Sprintf("transaction[%d]", i)
}

// ScanTelemetry evaluates per-source usage reports. The volume baseline is
// the mean of the whole batch. Checks run per source in the order
// volume_spike, service_status, alert_escalation, stale_data.
func (s *Session) ScanTelemetry(sources []model.TelemetryRecord) []model.Finding {
	started := time.Now()
	defer s.metrics.observeScan(KindTelemetry, started)
	s.metrics.recordScanned(KindTelemetry, len(sources))

	usage := s.catalog.UsageBaseline()
	service := s.catalog.ServiceHealth()
	if usage == nil && service == nil {
		s.logger.Debugf("No telemetry categories enabled, skipping %d sources", len(sources))
		return nil
	}

	var (
		volume     *model.VolumeRule
		status     *model.StatusRule
		escalation *model.EscalationRule
		staleness  *model.StalenessRule
	)
	if usage != nil {
		volume = usage.Volume
	}
	if service != nil {
		status = service.Status
		escalation = service.Escalation
		staleness = service.Staleness
	}

	now := s.clock()
	stats := baseline.BaselineVolume(sources)
	if volume != nil && stats.Mean <= 0 && len(sources) > 0 {
		s.logger.Debugf("Volume baseline is zero over %d sources, volume check skipped", len(sources))
	}

	var detections []model.Detection
	for _, src := range sources {
		if d := baseline.DetectVolumeAnomaly(src, stats, volume); d != nil {
			detections = append(detections, *d)
		}
		if d := baseline.CheckStatus(src, status); d != nil {
			detections = append(detections, *d)
		}
		if d := baseline.CheckAlertStatus(src, escalation); d != nil {
			detections = append(detections, *d)
		}
		if staleness != nil && src.LastActivity != "" {
			if _, err := model.ParseTimestamp(src.LastActivity); err != nil {
				s.skip(KindTelemetry, "source %s lastActivity %q not parsable, staleness check skipped", src.SourceName(), src.LastActivity)
				continue
			}
			if d := baseline.CheckStaleness(src, staleness, now); d != nil {
				detections = append(detections, *d)
			}
		}
	}
	return s.emit(detections, now)
}

// ScanAPICalls evaluates a batch of API calls in the order unusual_timing,
// ip_concentration, geographic_spread.
func (s *Session) ScanAPICalls(calls []model.APICallRecord) []model.Finding {
	started := time.Now()
	defer s.metrics.observeScan(KindAPICalls, started)
	s.metrics.recordScanned(KindAPICalls, len(calls))

	usage := s.catalog.UsageBaseline()
	if usage == nil {
		s.logger.Debugf("Category %s not enabled, skipping %d API calls", model.CategoryUsageBaseline, len(calls))
		return nil
	}

	now := s.clock()
	var detections []model.Detection

	if usage.Timing != nil && len(calls) > 0 {
		if stats := baseline.MeasureTiming(calls, usage.Timing); stats.Skipped > 0 {
			s.skip(KindAPICalls, "%d of %d calls have no usable timestamp, excluded from timing", stats.Skipped, len(calls))
		}
		if d := baseline.DetectTiming(calls, usage.Timing); d != nil {
			detections = append(detections, *d)
		}
	}
	detections = append(detections, baseline.DetectConcentration(calls, usage.Concentration)...)
	if d := baseline.DetectSpread(calls, usage.Spread); d != nil {
		detections = append(detections, *d)
	}

	return s.emit(detections, now)
}
