// Package announce implements the live-announcement loop: it polls Twitch for
// each registered streamer and keeps exactly one Discord announcement message
// per streamer in sync with observed status. A streamer is in one of two
// states: offline (no announcement message stored) or live (message id plus a
// fingerprint of the announced content stored).
package announce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/live-herald/db"
	"github.com/onnwee/live-herald/discord"
	"github.com/onnwee/live-herald/telemetry"
	"github.com/onnwee/live-herald/twitchapi"
)

// Store is the tracked-streamer persistence consumed by the Announcer. The
// Announcer is the sole writer of the status fields.
type Store interface {
	ListStreamers(ctx context.Context) ([]db.Streamer, error)
	SetLive(ctx context.Context, username, messageID, stateJSON string) error
	SetOffline(ctx context.Context, username string) error
	SetKV(ctx context.Context, key, value string) error
}

// StatusFetcher queries the current live status for a Twitch login.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, login string) (*twitchapi.StreamStatus, error)
}

// Messenger is the narrow Discord surface the Announcer drives.
type Messenger interface {
	SendMessage(ctx context.Context, channelID, content string, embed *discordgo.MessageEmbed) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, content string, embed *discordgo.MessageEmbed) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchUser(ctx context.Context, userID string) (username, avatarURL string, err error)
}

// Fingerprint is the snapshot of announced stream content. Any field drift
// between the stored fingerprint and a fresh fetch triggers an in-place edit.
type Fingerprint struct {
	Title         string    `json:"title"`
	GameName      string    `json:"game_name"`
	ViewerCount   int       `json:"viewer_count"`
	StartedAt     time.Time `json:"started_at"`
	ThumbnailURL  string    `json:"thumbnail_url"`
	GameBoxArtURL string    `json:"game_box_art_url"`
}

// Equal reports exact-field equality. StartedAt is compared with time.Equal
// so a JSON round trip through the store never reads as drift.
func (f Fingerprint) Equal(o Fingerprint) bool {
	return f.Title == o.Title &&
		f.GameName == o.GameName &&
		f.ViewerCount == o.ViewerCount &&
		f.StartedAt.Equal(o.StartedAt) &&
		f.ThumbnailURL == o.ThumbnailURL &&
		f.GameBoxArtURL == o.GameBoxArtURL
}

func fingerprintOf(st *twitchapi.StreamStatus) Fingerprint {
	return Fingerprint{
		Title:         st.Title,
		GameName:      st.GameName,
		ViewerCount:   st.ViewerCount,
		StartedAt:     st.StartedAt,
		ThumbnailURL:  st.ThumbnailURL,
		GameBoxArtURL: st.GameBoxArtURL,
	}
}

// Announcer drives the per-streamer announcement lifecycle. Collaborators are
// injected; it holds no state of its own beyond configuration, so a single
// value is safe to reuse across ticks.
type Announcer struct {
	Store     Store
	Twitch    StatusFetcher
	Chat      Messenger
	ChannelID string
	// Debug suppresses the @everyone tag on posts and edits.
	Debug bool
}

// Tick runs one full announce pass over all registered streamers,
// sequentially. Per-streamer failures are logged and skipped; they never
// abort the rest of the pass. Ticks are idempotent: a pass against unchanged
// external status performs no chat actions and no status writes.
func (a *Announcer) Tick(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "announce", "announce.tick")
	defer span.End()

	streamers, err := a.Store.ListStreamers(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("list streamers: %w", err)
	}

	live := 0
	for _, st := range streamers {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if st.TwitchUsername == "" {
			continue
		}
		isLive, err := a.reconcile(ctx, st)
		if err != nil {
			if telemetry.StreamerErrors != nil {
				telemetry.StreamerErrors.Inc()
			}
			slog.Warn("announce: streamer skipped this tick",
				slog.String("streamer", st.TwitchUsername), slog.Any("err", err))
			// Stored state was not touched; count what the store still believes.
			if st.AnnounceMessageID != "" {
				live++
			}
			continue
		}
		if isLive {
			live++
		}
	}

	telemetry.SetLiveStreamers(live)
	if telemetry.TicksTotal != nil {
		telemetry.TicksTotal.Inc()
	}
	if err := a.Store.SetKV(ctx, "announce_last_tick", time.Now().UTC().Format(time.RFC3339)); err != nil {
		slog.Warn("announce: record last tick", slog.Any("err", err))
	}
	return nil
}

// reconcile processes a single streamer and reports whether it is live after
// processing. A nil error means stored state and the announcement message are
// consistent with the fetched status; on error nothing was persisted beyond
// any chat action that already succeeded, and the next tick re-converges.
func (a *Announcer) reconcile(ctx context.Context, row db.Streamer) (live bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "announce", "announce.reconcile",
		telemetry.StreamerAttr(row.TwitchUsername))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			live = row.AnnounceMessageID != ""
			err = fmt.Errorf("panic reconciling %s: %v", row.TwitchUsername, r)
		}
		telemetry.RecordError(span, err)
	}()

	status, err := a.Twitch.FetchStatus(ctx, row.TwitchUsername)
	if err != nil {
		// Transient, auth, and partial-data failures all get the same
		// treatment here: skip the streamer, change nothing. A failed fetch
		// must never be read as "went offline".
		if telemetry.StatusFetchErrors != nil {
			telemetry.StatusFetchErrors.Inc()
		}
		kind := "transient"
		switch {
		case errors.Is(err, twitchapi.ErrAuthExpired):
			kind = "auth_expired"
		case errors.Is(err, twitchapi.ErrPartialData):
			kind = "partial_data"
		}
		return row.AnnounceMessageID != "", fmt.Errorf("status fetch (%s): %w", kind, err)
	}

	if !status.Live {
		return a.reconcileOffline(ctx, row)
	}
	return a.reconcileLive(ctx, row, status)
}

// reconcileOffline handles a not-live status: delete the announcement if one
// exists, then clear stored state. Already-offline streamers are a no-op.
func (a *Announcer) reconcileOffline(ctx context.Context, row db.Streamer) (bool, error) {
	if row.AnnounceMessageID == "" {
		return false, nil
	}
	if err := a.Chat.DeleteMessage(ctx, a.ChannelID, row.AnnounceMessageID); err != nil {
		// A missing message means someone cleaned it up for us; anything else
		// is logged but still clears state, matching the message's absence
		// being the source of truth for "offline".
		if errors.Is(err, discord.ErrMessageNotFound) {
			slog.Info("announce: message already gone",
				slog.String("streamer", row.TwitchUsername), slog.String("message_id", row.AnnounceMessageID))
		} else {
			slog.Warn("announce: delete failed, clearing state anyway",
				slog.String("streamer", row.TwitchUsername), slog.Any("err", err))
		}
	}
	if err := a.Store.SetOffline(ctx, row.TwitchUsername); err != nil {
		return true, err
	}
	if telemetry.AnnouncesDeleted != nil {
		telemetry.AnnouncesDeleted.Inc()
	}
	slog.Info("announce: stream ended", slog.String("streamer", row.TwitchUsername))
	return false, nil
}

// reconcileLive handles a live status: post a new announcement on the
// offline-to-live transition, edit in place when content drifted, or do
// nothing when the fingerprint is unchanged.
func (a *Announcer) reconcileLive(ctx context.Context, row db.Streamer, status *twitchapi.StreamStatus) (bool, error) {
	fp := fingerprintOf(status)

	if row.AnnounceMessageID != "" {
		prev, ok := decodeFingerprint(row.LastStreamState)
		if ok && fp.Equal(prev) {
			return true, nil
		}
	}

	stateJSON, err := json.Marshal(fp)
	if err != nil {
		return row.AnnounceMessageID != "", fmt.Errorf("encode fingerprint: %w", err)
	}
	ownerName, ownerAvatar, err := a.Chat.FetchUser(ctx, row.DiscordUserID)
	if err != nil {
		return row.AnnounceMessageID != "", err
	}
	embed := buildEmbed(status, ownerName, ownerAvatar)
	content := a.content(row.DiscordUserID)

	if row.AnnounceMessageID == "" {
		msgID, err := a.Chat.SendMessage(ctx, a.ChannelID, content, embed)
		if err != nil {
			return false, err
		}
		if err := a.Store.SetLive(ctx, row.TwitchUsername, msgID, string(stateJSON)); err != nil {
			// The message is posted but not recorded. The next tick sees the
			// streamer as offline-with-live-status and would post again, so
			// surface loudly; this is the one window where a duplicate is
			// possible and it only opens if the store write itself fails.
			return true, fmt.Errorf("announcement posted (message %s) but not persisted: %w", msgID, err)
		}
		if telemetry.AnnouncesPosted != nil {
			telemetry.AnnouncesPosted.Inc()
		}
		slog.Info("announce: stream live, posted announcement",
			slog.String("streamer", row.TwitchUsername), slog.String("message_id", msgID),
			slog.String("title", status.Title))
		return true, nil
	}

	// Content drifted while live: edit in place, never repost. A missing edit
	// target is surfaced as an anomaly rather than silently recreated.
	if err := a.Chat.EditMessage(ctx, a.ChannelID, row.AnnounceMessageID, content, embed); err != nil {
		return true, fmt.Errorf("edit announcement: %w", err)
	}
	if err := a.Store.SetLive(ctx, row.TwitchUsername, row.AnnounceMessageID, string(stateJSON)); err != nil {
		return true, err
	}
	if telemetry.AnnouncesEdited != nil {
		telemetry.AnnouncesEdited.Inc()
	}
	slog.Info("announce: updated live announcement", slog.String("streamer", row.TwitchUsername))
	return true, nil
}

// decodeFingerprint parses a stored fingerprint. A corrupt value reads as
// "no fingerprint", which forces a refresh edit rather than a crash.
func decodeFingerprint(stateJSON string) (Fingerprint, bool) {
	if stateJSON == "" {
		return Fingerprint{}, false
	}
	var fp Fingerprint
	if err := json.Unmarshal([]byte(stateJSON), &fp); err != nil {
		slog.Warn("announce: corrupt stored fingerprint", slog.Any("err", err))
		return Fingerprint{}, false
	}
	return fp, true
}

// content builds the announcement message text. Debug mode drops the
// @everyone tag; the embed and state machine are unaffected.
func (a *Announcer) content(discordUserID string) string {
	mention := "<@" + discordUserID + ">"
	if a.Debug {
		return mention + " is live!"
	}
	return "@everyone " + mention + " is live!"
}

// buildEmbed renders the announcement embed from a live status. Pure data
// transformation; no state.
func buildEmbed(status *twitchapi.StreamStatus, ownerName, ownerAvatarURL string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:     status.Title,
		URL:       "https://twitch.tv/" + status.Login,
		Type:      discordgo.EmbedTypeLink,
		Timestamp: status.StartedAt.UTC().Format(time.RFC3339),
		Color:     0x8000ff,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Started streaming at (UTC):"},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Game", Value: status.GameName, Inline: true},
			{Name: "Viewers", Value: strconv.Itoa(status.ViewerCount), Inline: true},
		},
		Author: &discordgo.MessageEmbedAuthor{Name: ownerName, IconURL: ownerAvatarURL},
		Thumbnail: &discordgo.MessageEmbedThumbnail{
			URL:    renderThumbnail(status.GameBoxArtURL, 390, 519),
			Width:  390,
			Height: 519,
		},
		Image: &discordgo.MessageEmbedImage{
			URL:    renderThumbnail(status.ThumbnailURL, 1280, 720),
			Width:  1280,
			Height: 720,
		},
	}
}

// renderThumbnail fills the {width}x{height} placeholders of a Helix template URL.
func renderThumbnail(template string, width, height int) string {
	r := strings.NewReplacer("{width}", strconv.Itoa(width), "{height}", strconv.Itoa(height))
	return r.Replace(template)
}

// StartAnnounceJob runs the announce loop until ctx is cancelled. Callers must
// gate this on chat readiness (discord.Bot.WaitReady) so the first tick does
// not race the gateway handshake. The first pass runs immediately; later
// passes run on the interval.
func StartAnnounceJob(ctx context.Context, a *Announcer, interval time.Duration) {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	slog.Info("announce job starting", slog.Duration("interval", interval))
	runTick := func() {
		d := telemetry.TimeFunc(telemetry.TickDuration, func() {
			if err := a.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("announce tick", slog.Any("err", err))
			}
		})
		slog.Debug("announce tick complete", slog.Duration("took", d))
	}
	runTick()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("announce job stopped")
			return
		case <-ticker.C:
			runTick()
		}
	}
}
