package feed

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/monitoring"
	"github.com/banshee-data/journey.report/internal/timeutil"
)

// Admitter accepts parsed samples. *admission.Buffer implements it.
type Admitter interface {
	Admit(activity.Event)
}

// Stats counts lines by outcome.
type Stats struct {
	Lines     int64 `json:"lines"`
	Admitted  int64 `json:"admitted"`
	Skipped   int64 `json:"skipped"`
	Malformed int64 `json:"malformed"`
}

// Reader parses lines from a stream and admits each sample.
type Reader struct {
	src   io.Reader
	admit Admitter
	clock timeutil.Clock

	mu    sync.Mutex
	stats Stats
}

// NewReader creates a Reader. A nil clock uses the real clock.
func NewReader(src io.Reader, admit Admitter, clock timeutil.Clock) *Reader {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Reader{src: src, admit: admit, clock: clock}
}

// Monitor reads lines until the stream ends, fails, or ctx is cancelled.
// A clean end of stream returns nil.
func (r *Reader) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(r.src)
	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking Scan runs apart from the loop below so cancellation is
	// observed even while the stream is idle.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			scanErrChan <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lineChan:
			if !ok {
				select {
				case err := <-scanErrChan:
					return err
				default:
					return nil
				}
			}
			r.handleLine(line)
		}
	}
}

func (r *Reader) handleLine(line string) {
	ev, ok, err := ParseLine(line)

	r.mu.Lock()
	r.stats.Lines++
	switch {
	case err != nil:
		r.stats.Malformed++
	case !ok:
		r.stats.Skipped++
	default:
		r.stats.Admitted++
	}
	r.mu.Unlock()

	if err != nil {
		monitoring.Logf("skipping feed line %q: %v", line, err)
		return
	}
	if !ok {
		return
	}
	r.admit.Admit(stamp(ev, r.clock))
}

// Stats returns the line counters.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func stamp(ev activity.Event, clock timeutil.Clock) activity.Event {
	if ev.Timestamp == 0 {
		ev.Timestamp = clock.Now().UnixMilli()
	}
	return ev
}
