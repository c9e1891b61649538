// Package admission decouples activity sample arrival from consumer
// readiness. Samples that arrive while the detection engine is unavailable
// are held in a bounded drop-oldest FIFO and replayed, in order, once the
// engine comes up. Delivery is fire-and-forget with explicit bounded loss.
package admission

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/config"
	"github.com/banshee-data/journey.report/internal/monitoring"
	"github.com/banshee-data/journey.report/internal/timeutil"
)

// ErrUnavailable is returned by a Consumer that cannot accept samples yet.
var ErrUnavailable = errors.New("consumer unavailable")

// Consumer receives admitted samples.
type Consumer interface {
	// Ready reports whether Deliver is expected to succeed.
	Ready() bool
	// Deliver hands over one sample. It returns ErrUnavailable (possibly
	// wrapped) when the consumer is not running.
	Deliver(activity.Event) error
}

// Options configures a Buffer.
type Options struct {
	Capacity    int           // FIFO size; the oldest sample is evicted when full
	MaxAttempts int           // replay attempts before dropping the FIFO
	BaseDelay   time.Duration // attempt n waits n × BaseDelay
	Clock       timeutil.Clock

	// StartConsumer is invoked when a replay sequence begins. It must be
	// idempotent.
	StartConsumer func()
}

// OptionsFromTuning builds Options from a loaded TuningConfig.
func OptionsFromTuning(cfg *config.TuningConfig) Options {
	return Options{
		Capacity:    cfg.GetBufferCapacity(),
		MaxAttempts: cfg.GetReplayAttempts(),
		BaseDelay:   cfg.GetReplayBaseDelay(),
	}
}

// Stats counts samples by outcome.
type Stats struct {
	Delivered int64 `json:"delivered"` // handed over directly
	Buffered  int64 `json:"buffered"`  // enqueued while unavailable
	Replayed  int64 `json:"replayed"`  // delivered from the FIFO
	Evicted   int64 `json:"evicted"`   // dropped on overflow
	Abandoned int64 `json:"abandoned"` // dropped after replay gave up
	Failed    int64 `json:"failed"`    // rejected by the consumer with a non-availability error
	Pending   int   `json:"pending"`
	Replaying bool  `json:"replaying"`
}

// Buffer is safe for concurrent use by multiple producers.
type Buffer struct {
	consumer Consumer
	opts     Options

	mu        sync.Mutex
	queue     []activity.Event
	replaying bool
	stats     Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Buffer delivering to consumer.
func New(consumer Consumer, opts Options) *Buffer {
	if opts.Capacity <= 0 {
		opts.Capacity = config.DefaultBufferCapacity
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = config.DefaultReplayAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = config.DefaultReplayBaseDelay
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.StartConsumer == nil {
		opts.StartConsumer = func() {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Buffer{
		consumer: consumer,
		opts:     opts,
		queue:    make([]activity.Event, 0, opts.Capacity),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Admit delivers ev immediately when the consumer is available, otherwise
// buffers it and makes sure a replay sequence is running. Samples admitted
// during a replay are queued behind the samples already buffered.
func (b *Buffer) Admit(ev activity.Event) {
	b.mu.Lock()
	if b.replaying {
		b.enqueueLocked(ev)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if b.consumer.Ready() {
		err := b.consumer.Deliver(ev)
		if err == nil {
			b.mu.Lock()
			b.stats.Delivered++
			b.mu.Unlock()
			return
		}
		if !errors.Is(err, ErrUnavailable) {
			b.recordFailure(ev, err)
			return
		}
	}

	b.mu.Lock()
	b.enqueueLocked(ev)
	start := !b.replaying
	if start {
		b.replaying = true
	}
	b.mu.Unlock()

	if start {
		monitoring.Warnf("consumer unavailable, buffering samples and requesting start")
		b.opts.StartConsumer()
		b.wg.Add(1)
		go b.replay()
	}
}

func (b *Buffer) enqueueLocked(ev activity.Event) {
	if len(b.queue) >= b.opts.Capacity {
		evicted := b.queue[0]
		b.queue = append(b.queue[:0], b.queue[1:]...)
		b.stats.Evicted++
		monitoring.Warnf("admission buffer full (%d): evicted oldest sample %s", b.opts.Capacity, evicted)
	}
	b.queue = append(b.queue, ev)
	b.stats.Buffered++
}

func (b *Buffer) recordFailure(ev activity.Event, err error) {
	b.mu.Lock()
	b.stats.Failed++
	b.mu.Unlock()
	monitoring.Logf("failed to process sample %s: %v", ev, err)
}

// replay waits for the consumer with linear back-off, then drains the FIFO.
func (b *Buffer) replay() {
	defer b.wg.Done()

	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		delay := time.Duration(attempt) * b.opts.BaseDelay
		select {
		case <-b.ctx.Done():
			b.abandon("buffer closed")
			return
		case <-b.opts.Clock.After(delay):
		}

		if !b.consumer.Ready() {
			monitoring.Warnf("consumer still unavailable after replay attempt %d/%d", attempt, b.opts.MaxAttempts)
			continue
		}
		if b.drain() {
			return
		}
	}

	b.abandon("replay attempts exhausted")
}

// drain delivers queued samples in FIFO order until the queue is empty, in
// which case it clears the replaying flag and returns true. It returns false
// if the consumer became unavailable mid-drain.
func (b *Buffer) drain() bool {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.replaying = false
			b.mu.Unlock()
			return true
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		err := b.consumer.Deliver(ev)
		switch {
		case err == nil:
			b.mu.Lock()
			b.stats.Replayed++
			b.mu.Unlock()
		case errors.Is(err, ErrUnavailable):
			b.mu.Lock()
			if len(b.queue) >= b.opts.Capacity {
				b.stats.Evicted++
				monitoring.Warnf("admission buffer full (%d): evicted oldest sample %s", b.opts.Capacity, ev)
			} else {
				b.queue = append([]activity.Event{ev}, b.queue...)
			}
			b.mu.Unlock()
			return false
		default:
			b.recordFailure(ev, err)
		}
	}
}

func (b *Buffer) abandon(reason string) {
	b.mu.Lock()
	n := len(b.queue)
	b.queue = b.queue[:0]
	b.replaying = false
	b.stats.Abandoned += int64(n)
	b.mu.Unlock()
	if n > 0 {
		monitoring.Warnf("%s: dropped %d buffered samples", reason, n)
	}
}

// Pending returns a copy of the buffered samples in delivery order.
func (b *Buffer) Pending() []activity.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]activity.Event, len(b.queue))
	copy(out, b.queue)
	return out
}

// Stats returns a snapshot of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Pending = len(b.queue)
	s.Replaying = b.replaying
	return s
}

// Close stops any running replay, dropping what is still buffered.
func (b *Buffer) Close() {
	b.cancel()
	b.wg.Wait()
}
