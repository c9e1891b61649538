package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/tripdetect"
)

var (
	// ErrNotFound is returned when no journey has the requested id.
	ErrNotFound = errors.New("journey not found")
	// ErrImmutable is returned when editing or deleting a SENT journey.
	ErrImmutable = errors.New("journey already sent")
)

// Status is the lifecycle status of a journey record.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
)

// ParseStatus accepts PENDING or SENT in any case.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusSent:
		return StatusSent, nil
	}
	return "", fmt.Errorf("invalid journey status %q", s)
}

// Placeholder places for journeys created from a detected trip.
const (
	DefaultDeparturePlace = "Départ inconnu"
	DefaultArrivalPlace   = "Arrivée inconnue"
)

// Journey is a locally owned journey record.
type Journey struct {
	ID              string                 `json:"id"`
	TimeDeparture   int64                  `json:"time_departure"` // epoch ms
	TimeArrival     int64                  `json:"time_arrival"`   // epoch ms
	DurationMinutes int                    `json:"duration_minutes"`
	DistanceKm      float64                `json:"distance_km"`
	TransportType   activity.TransportType `json:"transport_type"`
	ConfidenceAvg   int                    `json:"confidence_avg"`
	DeparturePlace  string                 `json:"departure_place"`
	ArrivalPlace    string                 `json:"arrival_place"`
	Status          Status                 `json:"status"`
	Simulated       bool                   `json:"simulated"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// JourneyFromTrip builds a PENDING journey with placeholder places.
func JourneyFromTrip(trip tripdetect.DetectedTrip, simulated bool) *Journey {
	return &Journey{
		TimeDeparture:   trip.TimeDeparture,
		TimeArrival:     trip.TimeArrival,
		DurationMinutes: trip.DurationMinutes,
		DistanceKm:      trip.DistanceKm,
		TransportType:   trip.TransportType,
		ConfidenceAvg:   trip.ConfidenceAvg,
		DeparturePlace:  DefaultDeparturePlace,
		ArrivalPlace:    DefaultArrivalPlace,
		Status:          StatusPending,
		Simulated:       simulated,
	}
}

// JourneyUpdate holds the user-editable fields of a journey. A nil field
// keeps the stored value.
type JourneyUpdate struct {
	TransportType  *activity.TransportType `json:"transport_type,omitempty"`
	DistanceKm     *float64                `json:"distance_km,omitempty"`
	DeparturePlace *string                 `json:"departure_place,omitempty"`
	ArrivalPlace   *string                 `json:"arrival_place,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u JourneyUpdate) IsEmpty() bool {
	return u.TransportType == nil && u.DistanceKm == nil && u.DeparturePlace == nil && u.ArrivalPlace == nil
}

// Validate checks the present fields.
func (u JourneyUpdate) Validate() error {
	if u.TransportType != nil {
		if _, err := activity.ParseTransportType(string(*u.TransportType)); err != nil {
			return err
		}
	}
	if u.DistanceKm != nil && *u.DistanceKm < 0 {
		return fmt.Errorf("distance_km must be non-negative, got %v", *u.DistanceKm)
	}
	return nil
}

const journeyColumns = `
	id, time_departure, time_arrival, duration_minutes, distance_km,
	transport_type, confidence_avg, departure_place, arrival_place,
	status, simulated, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJourney(row rowScanner) (*Journey, error) {
	var (
		j                      Journey
		transport, status      string
		simulatedInt           int
		createdAtMs, updatedMs int64
	)
	if err := row.Scan(
		&j.ID,
		&j.TimeDeparture,
		&j.TimeArrival,
		&j.DurationMinutes,
		&j.DistanceKm,
		&transport,
		&j.ConfidenceAvg,
		&j.DeparturePlace,
		&j.ArrivalPlace,
		&status,
		&simulatedInt,
		&createdAtMs,
		&updatedMs,
	); err != nil {
		return nil, err
	}
	j.TransportType = activity.TransportType(transport)
	j.Status = Status(status)
	j.Simulated = simulatedInt == 1
	j.CreatedAt = time.UnixMilli(createdAtMs)
	j.UpdatedAt = time.UnixMilli(updatedMs)
	return &j, nil
}

// InsertJourney stores j, assigning a new id and timestamps, and returns the
// id. j is updated in place.
func (db *DB) InsertJourney(ctx context.Context, j *Journey) (string, error) {
	if j.Status == "" {
		j.Status = StatusPending
	}
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now()
	j.CreatedAt = now
	j.UpdatedAt = now

	simulatedInt := 0
	if j.Simulated {
		simulatedInt = 1
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO journeys (`+journeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID,
		j.TimeDeparture,
		j.TimeArrival,
		j.DurationMinutes,
		j.DistanceKm,
		string(j.TransportType),
		j.ConfidenceAvg,
		j.DeparturePlace,
		j.ArrivalPlace,
		string(j.Status),
		simulatedInt,
		now.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert journey: %w", err)
	}
	return j.ID, nil
}

// GetJourney returns the journey with the given id, or ErrNotFound.
func (db *DB) GetJourney(ctx context.Context, id string) (*Journey, error) {
	row := db.QueryRowContext(ctx, `SELECT `+journeyColumns+` FROM journeys WHERE id = ?`, id)
	j, err := scanJourney(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journey: %w", err)
	}
	return j, nil
}

// UpdateJourney applies the present fields of u to a PENDING journey.
func (db *DB) UpdateJourney(ctx context.Context, id string, u JourneyUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkMutable(ctx, tx, id); err != nil {
		return err
	}
	if u.IsEmpty() {
		return nil
	}

	var (
		sets []string
		args []any
	)
	if u.TransportType != nil {
		sets = append(sets, "transport_type = ?")
		args = append(args, string(*u.TransportType))
	}
	if u.DistanceKm != nil {
		sets = append(sets, "distance_km = ?")
		args = append(args, *u.DistanceKm)
	}
	if u.DeparturePlace != nil {
		sets = append(sets, "departure_place = ?")
		args = append(args, *u.DeparturePlace)
	}
	if u.ArrivalPlace != nil {
		sets = append(sets, "arrival_place = ?")
		args = append(args, *u.ArrivalPlace)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UnixMilli(), id)

	if _, err := tx.ExecContext(ctx, `UPDATE journeys SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("failed to update journey: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journey update: %w", err)
	}
	return nil
}

// DeleteJourney removes a PENDING journey.
func (db *DB) DeleteJourney(ctx context.Context, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkMutable(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM journeys WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete journey: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit journey delete: %w", err)
	}
	return nil
}

func checkMutable(ctx context.Context, tx *sql.Tx, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM journeys WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read journey status: %w", err)
	}
	if Status(status) == StatusSent {
		return ErrImmutable
	}
	return nil
}

// MarkJourneyStatus sets the lifecycle status of a journey. A SENT journey
// is final: any further change returns ErrImmutable.
func (db *DB) MarkJourneyStatus(ctx context.Context, id string, status Status) error {
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkMutable(ctx, tx, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE journeys SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UnixMilli(), id); err != nil {
		return fmt.Errorf("failed to mark journey status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status change: %w", err)
	}
	return nil
}

// ListJourneysByStatus returns journeys with the given status, most recent
// departure first.
func (db *DB) ListJourneysByStatus(ctx context.Context, status Status) ([]Journey, error) {
	return db.queryJourneys(ctx,
		`SELECT `+journeyColumns+` FROM journeys WHERE status = ? ORDER BY time_departure DESC, id`,
		string(status))
}

// ListJourneys returns every journey, most recent departure first.
func (db *DB) ListJourneys(ctx context.Context) ([]Journey, error) {
	return db.queryJourneys(ctx, `SELECT `+journeyColumns+` FROM journeys ORDER BY time_departure DESC, id`)
}

func (db *DB) queryJourneys(ctx context.Context, query string, args ...any) ([]Journey, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journeys: %w", err)
	}
	defer rows.Close()

	journeys := []Journey{}
	for rows.Next() {
		j, err := scanJourney(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journey: %w", err)
		}
		journeys = append(journeys, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journeys: %w", err)
	}
	return journeys, nil
}

// CountJourneysByStatus returns how many journeys have the given status.
func (db *DB) CountJourneysByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM journeys WHERE status = ?`, string(status)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count journeys: %w", err)
	}
	return n, nil
}

// ModeTotal aggregates journeys of one transport type.
type ModeTotal struct {
	TransportType   activity.TransportType `json:"transport_type"`
	Journeys        int                    `json:"journeys"`
	DistanceKm      float64                `json:"distance_km"`
	DurationMinutes int                    `json:"duration_minutes"`
}

// TotalsByTransport sums distance and duration per transport type.
func (db *DB) TotalsByTransport(ctx context.Context) ([]ModeTotal, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT transport_type, COUNT(*), COALESCE(SUM(distance_km), 0), COALESCE(SUM(duration_minutes), 0)
		FROM journeys
		GROUP BY transport_type
		ORDER BY transport_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transport totals: %w", err)
	}
	defer rows.Close()

	var totals []ModeTotal
	for rows.Next() {
		var (
			t         ModeTotal
			transport string
		)
		if err := rows.Scan(&transport, &t.Journeys, &t.DistanceKm, &t.DurationMinutes); err != nil {
			return nil, fmt.Errorf("failed to scan transport totals: %w", err)
		}
		t.TransportType = activity.TransportType(transport)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
