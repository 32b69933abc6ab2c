// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for live-stream status lookup, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// Sentinel failure kinds surfaced to the announce job. Anything else returned
// by Client methods is a transient failure (network, 5xx, malformed body).
var (
	// ErrAuthExpired marks a 401 from Helix; credential refresh is handled
	// by the token source, so a 401 here means the configured client
	// id/secret pair itself is no longer accepted.
	ErrAuthExpired = errors.New("twitch credentials rejected")
	// ErrPartialData marks a successful live lookup whose category could not
	// be resolved. The stream must not be announced with a missing category.
	ErrPartialData = errors.New("twitch category lookup incomplete")
)

// StreamStatus is the result of one status query. When Live is false the
// remaining fields are zero. Thumbnail URLs are Helix templates containing
// {width} and {height} placeholders.
type StreamStatus struct {
	Live          bool
	Login         string
	DisplayName   string
	Title         string
	GameName      string
	GameBoxArtURL string
	ViewerCount   int
	StartedAt     time.Time
	ThumbnailURL  string
}

// Client provides the live-status lookup used by the announce job. It performs
// no retries and caches nothing beyond the app token: the announce job owns
// all policy about skipping and retrying.
type Client struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) get(ctx context.Context, rawURL string, params url.Values, out any) error {
	tok, err := c.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("twitch api %s: %w", req.URL.Path, ErrAuthExpired)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twitch api %s failed: %s: %s", req.URL.Path, resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("twitch api %s decode: %w", req.URL.Path, err)
	}
	return nil
}

// FetchStatus queries the current stream for a login and, when live, resolves
// the category name and box art in a second lookup. An offline channel yields
// {Live: false} with a nil error; failures never produce a partially filled
// live status.
func (c *Client) FetchStatus(ctx context.Context, login string) (*StreamStatus, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			UserName     string `json:"user_name"`
			GameID       string `json:"game_id"`
			Title        string `json:"title"`
			ViewerCount  int    `json:"viewer_count"`
			StartedAt    string `json:"started_at"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("user_login", login)
	if err := c.get(ctx, "https://api.twitch.tv/helix/streams", q, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return &StreamStatus{Login: login}, nil
	}
	s := body.Data[0]
	startedAt, err := time.Parse(time.RFC3339, s.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", s.StartedAt, err)
	}
	status := &StreamStatus{
		Live:         true,
		Login:        login,
		DisplayName:  s.UserName,
		Title:        s.Title,
		ViewerCount:  s.ViewerCount,
		StartedAt:    startedAt.UTC(),
		ThumbnailURL: s.ThumbnailURL,
	}
	name, boxArt, err := c.fetchGame(ctx, s.GameID)
	if err != nil {
		if errors.Is(err, ErrAuthExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPartialData, err)
	}
	status.GameName = name
	status.GameBoxArtURL = boxArt
	return status, nil
}

// fetchGame resolves a category id to its name and box art template.
func (c *Client) fetchGame(ctx context.Context, gameID string) (name, boxArtURL string, err error) {
	if gameID == "" {
		return "", "", fmt.Errorf("stream has no category id")
	}
	var body struct {
		Data []struct {
			Name      string `json:"name"`
			BoxArtURL string `json:"box_art_url"`
		} `json:"data"`
	}
	q := url.Values{}
	q.Set("id", gameID)
	if err := c.get(ctx, "https://api.twitch.tv/helix/games", q, &body); err != nil {
		return "", "", err
	}
	if len(body.Data) == 0 {
		return "", "", fmt.Errorf("category %s not found", gameID)
	}
	return body.Data[0].Name, body.Data[0].BoxArtURL, nil
}
