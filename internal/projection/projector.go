// Package projection fans persisted changes out to exports and subscribers
// off the interview's critical path.
package projection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/screening-bot/internal/domain"
)

// DefaultQueueSize is the number of changes buffered before the oldest is dropped.
const DefaultQueueSize = 256

// Sink consumes batches of changes in publication order.
type Sink interface {
	Name() string
	Apply(ctx context.Context, batch []domain.Change) error
}

// Projector queues changes and applies them to every sink on a background worker.
// Publish never blocks: when the queue is full the oldest change is dropped.
type Projector struct {
	queue     chan domain.Change
	sinks     []Sink
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	published atomic.Int64
	dropped   atomic.Int64
	failures  atomic.Int64
}

// New creates a projector and starts its worker.
func New(queueSize int, logger *slog.Logger, sinks ...Sink) *Projector {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Projector{
		queue:  make(chan domain.Change, queueSize),
		sinks:  sinks,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(1)
	go p.run()
	return p
}

// Publish queues a change.
func (p *Projector) Publish(change domain.Change) {
	if p.closed.Load() {
		return
	}
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}

	select {
	case p.queue <- change:
		p.published.Add(1)
		return
	default:
	}

	// Queue full: make room by dropping the oldest change.
	select {
	case old := <-p.queue:
		p.dropped.Add(1)
		p.logger.Warn("[PROJECTION] Queue full, dropped oldest change",
			"kind", old.Kind,
			"candidate_id", old.CandidateID,
			"queue_len", len(p.queue),
		)
	default:
	}

	select {
	case p.queue <- change:
		p.published.Add(1)
	default:
		p.dropped.Add(1)
		p.logger.Warn("[PROJECTION] Failed to queue change after backpressure",
			"kind", change.Kind,
			"candidate_id", change.CandidateID,
		)
	}
}

func (p *Projector) run() {
	defer p.wg.Done()
	p.logger.Info("[PROJECTION] Worker started", "sinks", len(p.sinks), "queue_capacity", cap(p.queue))

	for {
		select {
		case <-p.ctx.Done():
			// Flush what was queued before Close.
			if batch := p.drain(nil); len(batch) > 0 {
				p.apply(batch)
			}
			p.logger.Info("[PROJECTION] Worker stopped")
			return
		case change := <-p.queue:
			p.apply(p.drain([]domain.Change{change}))
		}
	}
}

// drain appends every change already waiting in the queue.
func (p *Projector) drain(batch []domain.Change) []domain.Change {
	for {
		select {
		case change := <-p.queue:
			batch = append(batch, change)
		default:
			return batch
		}
	}
}

func (p *Projector) apply(batch []domain.Change) {
	for _, sink := range p.sinks {
		start := time.Now()
		if err := sink.Apply(context.Background(), batch); err != nil {
			p.failures.Add(1)
			p.logger.Error("[PROJECTION] Sink failed",
				"sink", sink.Name(),
				"batch_len", len(batch),
				"error", err,
			)
			continue
		}
		if d := time.Since(start); d > time.Second {
			p.logger.Warn("[PROJECTION] Slow sink",
				"sink", sink.Name(),
				"duration_ms", d.Milliseconds(),
			)
		}
	}
}

// Close stops accepting changes, flushes the queue and waits for the worker
// up to timeout.
func (p *Projector) Close(timeout time.Duration) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.Warn("[PROJECTION] Worker shutdown timeout", "queue_remaining", len(p.queue))
	}
}

// Stats reports queue counters.
func (p *Projector) Stats() map[string]any {
	return map[string]any{
		"queue_len":      len(p.queue),
		"queue_capacity": cap(p.queue),
		"published":      p.published.Load(),
		"dropped":        p.dropped.Load(),
		"sink_failures":  p.failures.Load(),
	}
}
