package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/onnwee/live-herald/db"
	"github.com/onnwee/live-herald/testutil"
)

func TestHealthz(t *testing.T) {
	database := testutil.SetupTestDB(t)
	mux := NewMux(database)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Correlation-ID") == "" {
		t.Errorf("missing correlation id header")
	}
}

func TestCorrelationIDReused(t *testing.T) {
	database := testutil.SetupTestDB(t)
	mux := NewMux(database)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-from-caller")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != "corr-from-caller" {
		t.Errorf("correlation id = %q, want corr-from-caller", got)
	}
}

func TestStatusEndpoint(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := &db.Store{DB: database}
	if _, err := database.ExecContext(ctx, `DELETE FROM streamers`); err != nil {
		t.Fatalf("clean: %v", err)
	}
	if err := store.UpsertStreamer(ctx, "alice", "1001"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.SetLive(ctx, "alice", "msg-42", "{}"); err != nil {
		t.Fatalf("set live: %v", err)
	}
	if err := store.UpsertStreamer(ctx, "bob", "1002"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	mux := NewMux(database)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Streamers []struct {
			TwitchUsername string `json:"twitch_username"`
			Live           bool   `json:"live"`
		} `json:"streamers"`
		LiveCount int `json:"live_count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Streamers) != 2 {
		t.Fatalf("streamers = %d, want 2", len(body.Streamers))
	}
	if body.LiveCount != 1 {
		t.Errorf("live_count = %d, want 1", body.LiveCount)
	}
}

func TestReadyzReportsStaleLoop(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	store := &db.Store{DB: database}

	// Recent tick: ready.
	if err := store.SetKV(ctx, "announce_last_tick", time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	mux := NewMux(database)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz with fresh tick = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	// Stale tick: not ready.
	if err := store.SetKV(ctx, "announce_last_tick", time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("set kv: %v", err)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with stale tick = %d, want 503", rec.Code)
	}
}
