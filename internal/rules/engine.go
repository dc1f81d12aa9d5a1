package rules

import (
	"io"
	"runtime"
	"sync"
	"time"

	"guarddog/internal/matcher"
	"guarddog/internal/model"
	"guarddog/internal/window"

	"github.com/sirupsen/logrus"
)

// Notifier receives every finding once it is emitted
type Notifier interface {
	SendFinding(finding model.Finding) error
}

// Engine evaluates a loaded catalog. It is safe for concurrent use; all
// evaluation state lives in the sessions it creates.
type Engine struct {
	catalog   *Catalog
	redactor  *matcher.Redactor
	notifiers []Notifier
	metrics   *Metrics
	logger    *logrus.Logger
	mu        sync.RWMutex
}

func NewEngine(catalog *Catalog, logger *logrus.Logger) *Engine {
	redactor := matcher.NewRedactor(logger)
	if pii := catalog.PII(); pii != nil {
		redactor.RegisterPatterns(pii.Patterns)
	}

	for _, category := range catalog.Enabled() {
		rules, _ := catalog.Category(category)
		logger.Infof("Registered %s rules: %v", category, rules.RuleNames())
	}

	return &Engine{
		catalog:   catalog,
		redactor:  redactor,
		notifiers: make([]Notifier, 0),
		logger:    logger,
	}
}

func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

func (e *Engine) RegisterNotifier(notifier Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifiers = append(e.notifiers, notifier)
}

// Close flushes notifiers that deliver in the background. Sessions must
// not emit after Close.
func (e *Engine) Close() error {
	e.mu.RLock()
	notifiers := make([]Notifier, len(e.notifiers))
	copy(notifiers, e.notifiers)
	e.mu.RUnlock()

	for _, notifier := range notifiers {
		closer, ok := notifier.(io.Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			e.logger.Errorf("Failed to close notifier: %v", err)
		}
	}
	return nil
}

// SetMetrics attaches the collectors updated by every session.
func (e *Engine) SetMetrics(metrics *Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = metrics
}

type SessionOption func(*Session)

// WithClock fixes the time source used to stamp findings and to measure
// staleness.
func WithClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithWorkers bounds how many transaction partitions are evaluated at once.
func WithWorkers(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewSession starts an evaluation session with empty window state.
func (e *Engine) NewSession(opts ...SessionOption) *Session {
	e.mu.RLock()
	notifiers := make([]Notifier, len(e.notifiers))
	copy(notifiers, e.notifiers)
	metrics := e.metrics
	e.mu.RUnlock()

	s := &Session{
		catalog:  e.catalog,
		redactor: e.redactor,
		logger:   e.logger,
		metrics:  metrics,
		emitter:  NewEmitter(e.logger, metrics, notifiers...),
		clock:    time.Now,
		workers:  runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(s)
	}

	if fin := e.catalog.Financial(); fin != nil && fin.Rapid != nil {
		s.rapid = window.NewTracker(fin.Rapid.Window, fin.Rapid.MaxCount)
	}
	return s
}
