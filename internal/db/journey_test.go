package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/tripdetect"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "journeys.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testTrip(departureMs int64) tripdetect.DetectedTrip {
	return tripdetect.NewDetectedTrip(departureMs, departureMs+6*60_000, activity.OnBicycle, 77)
}

func insertTestJourney(t *testing.T, db *DB, departureMs int64) string {
	t.Helper()
	id, err := db.InsertJourney(context.Background(), JourneyFromTrip(testTrip(departureMs), false))
	if err != nil {
		t.Fatalf("InsertJourney failed: %v", err)
	}
	return id
}

func TestInsertAndGetJourney(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	j := JourneyFromTrip(testTrip(1_700_000_000_000), true)
	id, err := db.InsertJourney(ctx, j)
	if err != nil {
		t.Fatalf("InsertJourney failed: %v", err)
	}
	if id == "" || id != j.ID {
		t.Fatalf("InsertJourney returned id %q, journey has %q", id, j.ID)
	}

	got, err := db.GetJourney(ctx, id)
	if err != nil {
		t.Fatalf("GetJourney failed: %v", err)
	}

	want := Journey{
		ID:              id,
		TimeDeparture:   1_700_000_000_000,
		TimeArrival:     1_700_000_360_000,
		DurationMinutes: 6,
		DistanceKm:      1.5,
		TransportType:   activity.Velo,
		ConfidenceAvg:   77,
		DeparturePlace:  DefaultDeparturePlace,
		ArrivalPlace:    DefaultArrivalPlace,
		Status:          StatusPending,
		Simulated:       true,
	}
	if diff := cmp.Diff(want, *got, cmpopts.IgnoreFields(Journey{}, "CreatedAt", "UpdatedAt")); diff != "" {
		t.Errorf("GetJourney mismatch (-want +got):\n%s", diff)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestGetJourneyNotFound(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.GetJourney(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJourney(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateJourneyAppliesOnlyPresentFields(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertTestJourney(t, db, 1_700_000_000_000)

	transport := activity.TransportCommun
	place := "Gare de Lyon"
	if err := db.UpdateJourney(ctx, id, JourneyUpdate{TransportType: &transport, ArrivalPlace: &place}); err != nil {
		t.Fatalf("UpdateJourney failed: %v", err)
	}

	got, err := db.GetJourney(ctx, id)
	if err != nil {
		t.Fatalf("GetJourney failed: %v", err)
	}
	if got.TransportType != activity.TransportCommun {
		t.Errorf("TransportType = %q, want %q", got.TransportType, activity.TransportCommun)
	}
	if got.ArrivalPlace != place {
		t.Errorf("ArrivalPlace = %q, want %q", got.ArrivalPlace, place)
	}
	// Absent fields retain their values; distance is not recomputed.
	if got.DeparturePlace != DefaultDeparturePlace {
		t.Errorf("DeparturePlace = %q, want placeholder", got.DeparturePlace)
	}
	if got.DistanceKm != 1.5 {
		t.Errorf("DistanceKm = %v, want 1.5", got.DistanceKm)
	}
}

func TestUpdateJourneyValidation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertTestJourney(t, db, 1_700_000_000_000)

	bad := activity.TransportType("rocket")
	if err := db.UpdateJourney(ctx, id, JourneyUpdate{TransportType: &bad}); err == nil {
		t.Error("expected error for unknown transport type")
	}
	negative := -1.0
	if err := db.UpdateJourney(ctx, id, JourneyUpdate{DistanceKm: &negative}); err == nil {
		t.Error("expected error for negative distance")
	}
	if err := db.UpdateJourney(ctx, "missing", JourneyUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateJourney(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSentJourneyIsImmutable(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertTestJourney(t, db, 1_700_000_000_000)

	if err := db.MarkJourneyStatus(ctx, id, StatusSent); err != nil {
		t.Fatalf("MarkJourneyStatus failed: %v", err)
	}

	distance := 3.0
	if err := db.UpdateJourney(ctx, id, JourneyUpdate{DistanceKm: &distance}); !errors.Is(err, ErrImmutable) {
		t.Errorf("UpdateJourney(sent) error = %v, want ErrImmutable", err)
	}
	if err := db.DeleteJourney(ctx, id); !errors.Is(err, ErrImmutable) {
		t.Errorf("DeleteJourney(sent) error = %v, want ErrImmutable", err)
	}
	if _, err := db.GetJourney(ctx, id); err != nil {
		t.Errorf("sent journey should still exist: %v", err)
	}
}

func TestDeleteJourney(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	id := insertTestJourney(t, db, 1_700_000_000_000)

	if err := db.DeleteJourney(ctx, id); err != nil {
		t.Fatalf("DeleteJourney failed: %v", err)
	}
	if _, err := db.GetJourney(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetJourney after delete error = %v, want ErrNotFound", err)
	}
	if err := db.DeleteJourney(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteJourney error = %v, want ErrNotFound", err)
	}
}

func TestMarkJourneyStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if err := db.MarkJourneyStatus(ctx, "missing", StatusSent); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkJourneyStatus(missing) error = %v, want ErrNotFound", err)
	}
	id := insertTestJourney(t, db, 1_700_000_000_000)
	if err := db.MarkJourneyStatus(ctx, id, Status("ARCHIVED")); err == nil {
		t.Error("expected error for invalid status")
	}
	if err := db.MarkJourneyStatus(ctx, id, StatusPending); err != nil {
		t.Errorf("MarkJourneyStatus(pending->pending) failed: %v", err)
	}
	if err := db.MarkJourneyStatus(ctx, id, StatusSent); err != nil {
		t.Fatalf("MarkJourneyStatus(pending->sent) failed: %v", err)
	}

	for _, status := range []Status{StatusPending, StatusSent} {
		if err := db.MarkJourneyStatus(ctx, id, status); !errors.Is(err, ErrImmutable) {
			t.Errorf("MarkJourneyStatus(sent->%s) error = %v, want ErrImmutable", status, err)
		}
	}
	got, err := db.GetJourney(ctx, id)
	if err != nil {
		t.Fatalf("GetJourney failed: %v", err)
	}
	if got.Status != StatusSent {
		t.Errorf("status = %s, want SENT", got.Status)
	}
	if err := db.DeleteJourney(ctx, id); !errors.Is(err, ErrImmutable) {
		t.Errorf("DeleteJourney(sent) error = %v, want ErrImmutable", err)
	}
}

func TestListAndCountByStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	oldest := insertTestJourney(t, db, 1_700_000_000_000)
	newest := insertTestJourney(t, db, 1_700_000_900_000)
	middle := insertTestJourney(t, db, 1_700_000_500_000)
	sent := insertTestJourney(t, db, 1_700_001_000_000)
	if err := db.MarkJourneyStatus(ctx, sent, StatusSent); err != nil {
		t.Fatalf("MarkJourneyStatus failed: %v", err)
	}

	pending, err := db.ListJourneysByStatus(ctx, StatusPending)
	if err != nil {
		t.Fatalf("ListJourneysByStatus failed: %v", err)
	}
	var ids []string
	for _, j := range pending {
		ids = append(ids, j.ID)
	}
	if diff := cmp.Diff([]string{newest, middle, oldest}, ids); diff != "" {
		t.Errorf("pending order mismatch (-want +got):\n%s", diff)
	}

	if n, err := db.CountJourneysByStatus(ctx, StatusPending); err != nil || n != 3 {
		t.Errorf("CountJourneysByStatus(PENDING) = %d, %v; want 3", n, err)
	}
	if n, err := db.CountJourneysByStatus(ctx, StatusSent); err != nil || n != 1 {
		t.Errorf("CountJourneysByStatus(SENT) = %d, %v; want 1", n, err)
	}

	all, err := db.ListJourneys(ctx)
	if err != nil {
		t.Fatalf("ListJourneys failed: %v", err)
	}
	if len(all) != 4 || all[0].ID != sent {
		t.Errorf("ListJourneys returned %d journeys, first %q; want 4 starting with %q", len(all), all[0].ID, sent)
	}
}

func TestListJourneysEmpty(t *testing.T) {
	db := setupTestDB(t)

	got, err := db.ListJourneysByStatus(context.Background(), StatusSent)
	if err != nil {
		t.Fatalf("ListJourneysByStatus failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}

func TestTotalsByTransport(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	insertTestJourney(t, db, 1_700_000_000_000)
	insertTestJourney(t, db, 1_700_000_900_000)
	walk := JourneyFromTrip(tripdetect.NewDetectedTrip(1_700_002_000_000, 1_700_002_000_000+12*60_000, activity.Walking, 80), false)
	if _, err := db.InsertJourney(ctx, walk); err != nil {
		t.Fatalf("InsertJourney failed: %v", err)
	}

	totals, err := db.TotalsByTransport(ctx)
	if err != nil {
		t.Fatalf("TotalsByTransport failed: %v", err)
	}
	want := []ModeTotal{
		{TransportType: activity.Marche, Journeys: 1, DistanceKm: 1, DurationMinutes: 12},
		{TransportType: activity.Velo, Journeys: 2, DistanceKm: 3, DurationMinutes: 12},
	}
	if diff := cmp.Diff(want, totals); diff != "" {
		t.Errorf("TotalsByTransport mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{"PENDING", StatusPending, false},
		{"sent", StatusSent, false},
		{" Pending ", StatusPending, false},
		{"draft", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, %v; want %q, wantErr %v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
