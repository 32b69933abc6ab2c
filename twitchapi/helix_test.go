package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(serverURL string) *Client {
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret"}
	ts.SetToken("test-token", time.Now().Add(1*time.Hour))
	return &Client{
		AppTokenSource: ts,
		ClientID:       "test-client-id",
		HTTPClient: &http.Client{Transport: &rewriteTransport{
			Transport: http.DefaultTransport,
			host:      serverURL,
		}},
	}
}

func TestFetchStatusLive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("missing or wrong Authorization header")
		}
		switch r.URL.Path {
		case "/helix/streams":
			if got := r.URL.Query().Get("user_login"); got != "alice" {
				t.Errorf("user_login=%q want alice", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{
					"user_name":     "Alice",
					"game_id":       "509670",
					"title":         "Design Patterns",
					"viewer_count":  42,
					"started_at":    "2026-03-01T14:30:00Z",
					"thumbnail_url": "https://static-cdn.example/live_alice-{width}x{height}.jpg",
				}},
			})
		case "/helix/games":
			if got := r.URL.Query().Get("id"); got != "509670" {
				t.Errorf("game id=%q want 509670", got)
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]string{{
					"name":        "Software and Game Development",
					"box_art_url": "https://static-cdn.example/sagd-{width}x{height}.jpg",
				}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	status, err := client.FetchStatus(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FetchStatus() error = %v", err)
	}
	if !status.Live {
		t.Fatalf("expected live status")
	}
	if status.Title != "Design Patterns" {
		t.Errorf("title = %q", status.Title)
	}
	if status.GameName != "Software and Game Development" {
		t.Errorf("game = %q", status.GameName)
	}
	if status.ViewerCount != 42 {
		t.Errorf("viewers = %d", status.ViewerCount)
	}
	want := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	if !status.StartedAt.Equal(want) {
		t.Errorf("started_at = %v, want %v", status.StartedAt, want)
	}
	if !strings.Contains(status.GameBoxArtURL, "{width}x{height}") {
		t.Errorf("box art template lost placeholders: %q", status.GameBoxArtURL)
	}
}

func TestFetchStatusOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/helix/streams" {
			t.Errorf("unexpected second request to %s for offline channel", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{}})
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	status, err := client.FetchStatus(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FetchStatus() error = %v", err)
	}
	if status.Live {
		t.Fatalf("expected offline status")
	}
	if status.Login != "alice" {
		t.Errorf("login = %q", status.Login)
	}
}

func TestFetchStatusFailures(t *testing.T) {
	tests := []struct {
		name          string
		streamsStatus int
		streamsBody   string
		gamesStatus   int
		gamesBody     string
		wantAuth      bool
		wantPartial   bool
	}{
		{
			name:          "streams 500 is transient",
			streamsStatus: http.StatusInternalServerError,
			streamsBody:   `{"error":"Internal Server Error","status":500}`,
		},
		{
			name:          "streams 401 is auth expired",
			streamsStatus: http.StatusUnauthorized,
			streamsBody:   `{"error":"Unauthorized","status":401}`,
			wantAuth:      true,
		},
		{
			name:          "streams malformed body is transient",
			streamsStatus: http.StatusOK,
			streamsBody:   `{"data": not-json`,
		},
		{
			name:          "games failure is partial data",
			streamsStatus: http.StatusOK,
			streamsBody:   `{"data":[{"user_name":"Alice","game_id":"1","title":"t","viewer_count":1,"started_at":"2026-03-01T14:30:00Z","thumbnail_url":"u"}]}`,
			gamesStatus:   http.StatusBadGateway,
			gamesBody:     `{"error":"Bad Gateway","status":502}`,
			wantPartial:   true,
		},
		{
			name:          "games empty data is partial data",
			streamsStatus: http.StatusOK,
			streamsBody:   `{"data":[{"user_name":"Alice","game_id":"1","title":"t","viewer_count":1,"started_at":"2026-03-01T14:30:00Z","thumbnail_url":"u"}]}`,
			gamesStatus:   http.StatusOK,
			gamesBody:     `{"data":[]}`,
			wantPartial:   true,
		},
		{
			name:          "missing category id is partial data",
			streamsStatus: http.StatusOK,
			streamsBody:   `{"data":[{"user_name":"Alice","game_id":"","title":"t","viewer_count":1,"started_at":"2026-03-01T14:30:00Z","thumbnail_url":"u"}]}`,
			wantPartial:   true,
		},
		{
			name:          "games 401 is auth expired",
			streamsStatus: http.StatusOK,
			streamsBody:   `{"data":[{"user_name":"Alice","game_id":"1","title":"t","viewer_count":1,"started_at":"2026-03-01T14:30:00Z","thumbnail_url":"u"}]}`,
			gamesStatus:   http.StatusUnauthorized,
			gamesBody:     `{"error":"Unauthorized","status":401}`,
			wantAuth:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/helix/streams":
					w.WriteHeader(tt.streamsStatus)
					_, _ = w.Write([]byte(tt.streamsBody))
				case "/helix/games":
					w.WriteHeader(tt.gamesStatus)
					_, _ = w.Write([]byte(tt.gamesBody))
				default:
					w.WriteHeader(http.StatusNotFound)
				}
			}))
			defer server.Close()

			client := newTestClient(server.URL)
			_, err := client.FetchStatus(context.Background(), "alice")
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errors.Is(err, ErrAuthExpired); got != tt.wantAuth {
				t.Errorf("errors.Is(err, ErrAuthExpired) = %v, want %v (err=%v)", got, tt.wantAuth, err)
			}
			if got := errors.Is(err, ErrPartialData); got != tt.wantPartial {
				t.Errorf("errors.Is(err, ErrPartialData) = %v, want %v (err=%v)", got, tt.wantPartial, err)
			}
		})
	}
}

func TestFetchStatusEmptyLogin(t *testing.T) {
	client := newTestClient("http://unused")
	if _, err := client.FetchStatus(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty login")
	}
}

type rewriteTransport struct {
	Transport http.RoundTripper
	host      string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Rewrite URL to point to test server
	req.URL.Scheme = "http"
	if t.host != "" {
		host := t.host
		host = strings.TrimPrefix(host, "http://")
		host = strings.TrimPrefix(host, "https://")
		req.URL.Host = host
	}
	return t.Transport.RoundTrip(req)
}
