package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/onnwee/live-herald/db"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db    *sql.DB
	store *db.Store
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(dbc *sql.DB) *Handlers {
	return &Handlers{db: dbc, store: &db.Store{DB: dbc}}
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		http.Error(w, "unhealthy", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests. Besides database
// connectivity it verifies the announce loop has completed a pass recently;
// a stalled loop means announcements are going stale even though the process
// is alive.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"database", func() error { return h.db.PingContext(r.Context()) }},
		{"announce_loop", func() error {
			last, err := h.store.LastTick(r.Context())
			if err != nil {
				return err
			}
			if last.IsZero() {
				// No pass yet; fresh boot is still "becoming ready".
				return fmt.Errorf("no announce pass completed yet")
			}
			if stale := time.Since(last); stale > staleTickThreshold() {
				return fmt.Errorf("last announce pass %s ago", stale.Round(time.Second))
			}
			return nil
		}},
	}

	type checkResult struct {
		Name  string `json:"name"`
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	results := make([]checkResult, 0, len(checks))
	allOK := true
	for _, c := range checks {
		res := checkResult{Name: c.name, OK: true}
		if err := c.fn(); err != nil {
			res.OK = false
			res.Error = err.Error()
			allOK = false
		}
		results = append(results, res)
	}

	w.Header().Set("Content-Type", "application/json")
	if !allOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ready": allOK, "checks": results})
}

// staleTickThreshold returns how old the last announce pass may be before the
// service reports not-ready. Defaults to five poll intervals.
func staleTickThreshold() time.Duration {
	if v := os.Getenv("READYZ_STALE_TICK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return 5 * time.Minute
}

// HandleStatus returns a JSON snapshot of tracked streamers for the frontend
// and for operators.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	streamers, err := h.store.ListStreamers(r.Context())
	if err != nil {
		http.Error(w, "status query failed", http.StatusInternalServerError)
		return
	}
	type streamerStatus struct {
		TwitchUsername string `json:"twitch_username"`
		Live           bool   `json:"live"`
		MessageID      string `json:"announce_message_id,omitempty"`
	}
	out := struct {
		Streamers []streamerStatus `json:"streamers"`
		LiveCount int              `json:"live_count"`
		LastTick  string           `json:"last_tick,omitempty"`
	}{Streamers: make([]streamerStatus, 0, len(streamers))}

	for _, s := range streamers {
		live := s.AnnounceMessageID != ""
		if live {
			out.LiveCount++
		}
		out.Streamers = append(out.Streamers, streamerStatus{
			TwitchUsername: s.TwitchUsername,
			Live:           live,
			MessageID:      s.AnnounceMessageID,
		})
	}
	if last, err := h.store.LastTick(r.Context()); err == nil && !last.IsZero() {
		out.LastTick = last.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Streamer-Count", strconv.Itoa(len(streamers)))
	_ = json.NewEncoder(w).Encode(out)
}
