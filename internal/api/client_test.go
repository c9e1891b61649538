package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/journey.report/internal/activity"
	"github.com/banshee-data/journey.report/internal/db"
	"github.com/banshee-data/journey.report/internal/httputil"
)

func TestClientSimulate(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusCreated, `{"id":"j-1","transport_type":"voiture","duration_minutes":15,"simulated":true}`)
	c := NewClient("http://localhost:8080/", mock)

	j, err := c.Simulate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "j-1", j.ID)
	assert.Equal(t, activity.Voiture, j.TransportType)
	assert.True(t, j.Simulated)

	req, body := mock.Request(0)
	require.NotNil(t, req)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://localhost:8080/api/simulate", req.URL.String())
	assert.Empty(t, body)
}

func TestClientSetDebugMode(t *testing.T) {
	mock := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, `{"debug_mode":true}`)
	c := NewClient("http://journey.local", mock)

	on, err := c.SetDebugMode(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, on)

	req, body := mock.Request(0)
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"debug_mode":true}`, body)
}

func TestClientStatusAndPending(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusOK, `{"version":"dev","engine":{"running":true,"source":"state_machine"},"pending_journeys":2}`).
		AddResponse(http.StatusOK, `[{"id":"a","status":"PENDING"},{"id":"b","status":"PENDING"}]`)
	c := NewClient("http://journey.local", mock)

	s, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Engine.Running)
	assert.Equal(t, 2, s.Pending)

	js, err := c.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, js, 2)
	assert.Equal(t, db.StatusPending, js[1].Status)

	req, _ := mock.Request(1)
	assert.Equal(t, "status=PENDING", req.URL.RawQuery)
}

func TestClientErrors(t *testing.T) {
	mock := httputil.NewMockHTTPClient().
		AddResponse(http.StatusConflict, `{"error":"journey already sent"}`).
		AddResponse(http.StatusBadGateway, ``).
		AddError(errors.New("connection refused")).
		AddResponse(http.StatusOK, `not json`)
	c := NewClient("http://journey.local", mock)
	ctx := context.Background()

	_, err := c.MarkSent(ctx, "j-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409 journey already sent")

	_, err = c.Status(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad Gateway")

	_, err = c.Simulate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	_, err = c.Status(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode response")
}

func TestClientAgainstServer(t *testing.T) {
	f := newFixture(t)
	id := f.insert(t, baseMs, activity.Walking)

	srv := newTestHTTPServer(t, f)
	c := NewClient(srv, nil)

	j, err := c.MarkSent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, db.StatusSent, j.Status)

	pending, err := c.Pending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
}
