// Package api serves the journey HTTP surface: journey queries and edits,
// trip simulation, the debug toggle, engine status, the notification stream
// and a distance chart.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/journey.report/internal/admission"
	"github.com/banshee-data/journey.report/internal/db"
	"github.com/banshee-data/journey.report/internal/engine"
)

const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// JourneyStore is the subset of *db.DB used by the handlers.
type JourneyStore interface {
	GetJourney(ctx context.Context, id string) (*db.Journey, error)
	UpdateJourney(ctx context.Context, id string, u db.JourneyUpdate) error
	DeleteJourney(ctx context.Context, id string) error
	MarkJourneyStatus(ctx context.Context, id string, status db.Status) error
	ListJourneys(ctx context.Context) ([]db.Journey, error)
	ListJourneysByStatus(ctx context.Context, status db.Status) ([]db.Journey, error)
	CountJourneysByStatus(ctx context.Context, status db.Status) (int, error)
	TotalsByTransport(ctx context.Context) ([]db.ModeTotal, error)
}

// Engine is the subset of *engine.Engine used by the handlers.
type Engine interface {
	SimulateTrip(ctx context.Context) (*db.Journey, error)
	SetDebugMode(on bool)
	DebugMode() bool
	Status() engine.Status
}

// BufferStats reports admission buffer counters.
type BufferStats interface {
	Stats() admission.Stats
}

type Server struct {
	store  JourneyStore
	engine Engine
	buffer BufferStats
	events http.Handler
}

// NewServer creates a Server. buffer and events may be nil.
func NewServer(store JourneyStore, eng Engine, buffer BufferStats, events http.Handler) *Server {
	return &Server{
		store:  store,
		engine: eng,
		buffer: buffer,
		events: events,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.AttachRoutes(mux)
	return mux
}

// AttachRoutes registers the API routes on mux.
func (s *Server) AttachRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/journeys", s.listJourneys)
	mux.HandleFunc("/api/journeys/count", s.countJourneys)
	mux.HandleFunc("/api/journeys/chart", s.showDistanceChart)
	mux.HandleFunc("/api/journeys/", s.handleJourneyByID)
	mux.HandleFunc("/api/simulate", s.simulateTrip)
	mux.HandleFunc("/api/debug", s.handleDebugMode)
	mux.HandleFunc("/api/status", s.showStatus)
	if s.events != nil {
		mux.Handle("/api/events", s.events)
	}
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Version   string           `json:"version"`
	Engine    engine.Status    `json:"engine"`
	Admission *admission.Stats `json:"admission,omitempty"`
	Pending   int              `json:"pending_journeys"`
}
