package alert

import (
	"fmt"
	"sync"

	"guarddog/internal/model"

	"github.com/sirupsen/logrus"
)

// AsyncNotifier hands findings to a slower notifier through a bounded
// queue drained by one goroutine. SendFinding never blocks: when the queue
// is full the finding is dropped for this channel and an error returned.
type AsyncNotifier struct {
	name   string
	next   Notifier
	queue  chan model.Finding
	logger *logrus.Logger

	mu     sync.RWMutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

func NewAsyncNotifier(name string, next Notifier, size int, logger *logrus.Logger) *AsyncNotifier {
	if size <= 0 {
		size = 100
	}
	a := &AsyncNotifier{
		name:   name,
		next:   next,
		queue:  make(chan model.Finding, size),
		logger: logger,
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncNotifier) SendFinding(finding model.Finding) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return fmt.Errorf("%s notifier closed, finding %s/%s dropped", a.name, finding.Category, finding.Subtype)
	}

	select {
	case a.queue <- finding:
		return nil
	default:
		return fmt.Errorf("%s queue is full, dropping finding %s/%s", a.name, finding.Category, finding.Subtype)
	}
}

func (a *AsyncNotifier) run() {
	defer close(a.done)
	for finding := range a.queue {
		if err := a.next.SendFinding(finding); err != nil {
			a.logger.Errorf("[%s] Failed to send finding: %v", a.name, err)
		}
	}
}

// Close stops accepting findings and waits until the queued ones are sent.
func (a *AsyncNotifier) Close() error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
	return nil
}
