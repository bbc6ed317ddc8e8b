package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scrapeshifter/goldenrecord/client"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/leads", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /v1/runs", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"run_id": "run-123"})
	})
	mux.HandleFunc("GET /v1/runs/run-123", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"run_id": "run-123", "status": "completed"})
	})
	mux.HandleFunc("GET /v1/runs/run-123/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"type":"progress","step":"identity"}` + "\n"))
		_, _ = w.Write([]byte(`{"type":"done","status":"completed","success":true}` + "\n"))
	})
	return httptest.NewServer(mux)
}

func TestStartAndGetRun(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()
	c := client.New(srv.URL)

	runID, err := c.StartRun(context.Background(), map[string]any{"name": "Jane Doe"})
	require.NoError(t, err)
	require.Equal(t, "run-123", runID)

	run, found, err := c.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "completed", run.Status)

	_, found, err = c.GetRun(context.Background(), "run-999")
	require.NoError(t, err)
	require.False(t, found)
}

func TestEnqueueLead(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()
	c := client.New(srv.URL)

	require.NoError(t, c.EnqueueLead(context.Background(), map[string]any{"name": "Jane Doe"}))
}

func TestStreamRunDeliversEvents(t *testing.T) {
	srv := newAPIServer(t)
	defer srv.Close()
	c := client.New(srv.URL)

	var events []map[string]any
	require.NoError(t, c.StreamRun(context.Background(), "run-123", func(ev map[string]any) {
		events = append(events, ev)
	}))

	require.Len(t, events, 2)
	require.Equal(t, "progress", events[0]["type"])
	require.Equal(t, "done", events[1]["type"])
}
