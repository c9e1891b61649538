// Package feed reads line-delimited activity samples from a stream (a serial
// bridge, a pipe or a recorded fixture) and admits them to the detection
// pipeline.
//
// Two line formats are accepted:
//
//	{"type":"WALKING","confidence":80,"timestamp":1700000000000}
//	WALKING,80,1700000000000
//
// The type may be a symbolic name or a platform activity code. A zero or
// missing timestamp is stamped with the reader's clock. Blank lines and lines
// starting with '#' are skipped.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/journey.report/internal/activity"
)

// ErrMalformedLine is wrapped by every parse failure.
var ErrMalformedLine = errors.New("malformed activity line")

type jsonSample struct {
	Type       json.RawMessage `json:"type"`
	Confidence *int            `json:"confidence"`
	Timestamp  int64           `json:"timestamp"`
}

// ParseLine parses one feed line. ok is false for blank and comment lines.
func ParseLine(line string) (ev activity.Event, ok bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return activity.Event{}, false, nil
	}
	if strings.HasPrefix(line, "{") {
		ev, err = parseJSON(line)
	} else {
		ev, err = parseCSV(line)
	}
	if err != nil {
		return activity.Event{}, false, err
	}
	return ev, true, nil
}

func parseJSON(line string) (activity.Event, error) {
	var s jsonSample
	if err := json.Unmarshal([]byte(line), &s); err != nil {
		return activity.Event{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	if len(s.Type) == 0 {
		return activity.Event{}, fmt.Errorf("%w: missing type", ErrMalformedLine)
	}
	if s.Confidence == nil {
		return activity.Event{}, fmt.Errorf("%w: missing confidence", ErrMalformedLine)
	}

	var t activity.Type
	var name string
	var code int
	switch {
	case json.Unmarshal(s.Type, &name) == nil:
		t = activity.ParseType(name)
	case json.Unmarshal(s.Type, &code) == nil:
		t = activity.FromCode(code)
	default:
		return activity.Event{}, fmt.Errorf("%w: type must be a string or an integer code", ErrMalformedLine)
	}
	return activity.NewEvent(t, *s.Confidence, s.Timestamp), nil
}

func parseCSV(line string) (activity.Event, error) {
	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return activity.Event{}, fmt.Errorf("%w: expected type,confidence[,timestamp], got %d fields", ErrMalformedLine, len(fields))
	}

	confidence, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return activity.Event{}, fmt.Errorf("%w: confidence %q: %v", ErrMalformedLine, fields[1], err)
	}

	var ts int64
	if len(fields) == 3 {
		if raw := strings.TrimSpace(fields[2]); raw != "" {
			ts, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return activity.Event{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformedLine, fields[2], err)
			}
		}
	}

	return activity.NewEvent(activity.ParseType(fields[0]), confidence, ts), nil
}
