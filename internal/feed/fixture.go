package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/monitoring"
	"github.com/banshee-data/journey.report/internal/timeutil"
)

// LoadFixture parses every sample in r. Malformed lines are logged and
// skipped.
func LoadFixture(r io.Reader) ([]activity.Event, error) {
	var events []activity.Event
	scan := bufio.NewScanner(r)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		ev, ok, err := ParseLine(scan.Text())
		if err != nil {
			monitoring.Logf("fixture line %d: %v", lineNo, err)
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	if err := scan.Err(); err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return events, nil
}

// LoadFixtureFile parses the fixture at path.
func LoadFixtureFile(path string) ([]activity.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer f.Close()
	return LoadFixture(f)
}

// Replay admits events one per tick of interval, the way a polling feed
// would deliver them. It returns when every event has been admitted or ctx
// is cancelled.
func Replay(ctx context.Context, events []activity.Event, admit Admitter, clock timeutil.Clock, interval time.Duration) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if len(events) == 0 {
		return nil
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for i, ev := range events {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C():
			}
		}
		admit.Admit(stamp(ev, clock))
	}
	monitoring.Logf("fixture replay complete: %d samples", len(events))
	return nil
}
