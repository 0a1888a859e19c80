package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"semaphore/auth-core/internal/events"
)

type DispatchObserver interface {
	EventPublished(eventType string, err error)
	EventDropped()
}

type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	PublishTimeout time.Duration
}

// Dispatcher hands lifecycle events to a publisher on background workers.
// Notify never blocks the caller; events are dropped when the queue is full.
type Dispatcher struct {
	publisher events.Publisher
	config    DispatcherConfig
	logger    *slog.Logger
	observer  DispatchObserver

	mu      sync.RWMutex
	queue   chan events.Event
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(publisher events.Publisher, cfg DispatcherConfig, logger *slog.Logger, observer DispatchObserver) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		publisher: publisher,
		config:    cfg,
		logger:    logger,
		observer:  observer,
		queue:     make(chan events.Event, cfg.QueueSize),
	}
}

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

func (d *Dispatcher) Notify(event events.Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("event dropped after shutdown", "event_type", event.Type, "user_id", event.UserID)
		return
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("event queue full, dropping event", "event_type", event.Type, "user_id", event.UserID)
		if d.observer != nil {
			d.observer.EventDropped()
		}
	}
}

// Stop closes the queue and waits for queued events to be published or ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for event := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.PublishTimeout)
		err := d.publisher.Publish(ctx, event)
		cancel()
		if d.observer != nil {
			d.observer.EventPublished(string(event.Type), err)
		}
		if err != nil {
			d.logger.Error("event publish failed", "event_type", event.Type, "user_id", event.UserID, "error", err)
			continue
		}
		d.logger.Debug("event published", "event_type", event.Type, "user_id", event.UserID)
	}
}
