package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerlab/escrowd/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
	bodies []string
}

func (r *recordingSender) Send(_ context.Context, title, body string) error {
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recordingSender) Name() string { return r.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventRendersBetContext(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, nil, discardLogger())

	err := n.Event(context.Background(), domain.Event{
		Kind:      domain.EventBetClaimed,
		BetNumber: 42,
		Actor:     "0xabc",
		Detail:    map[string]any{"winner": "maker", "rake": "200"},
	})
	require.NoError(t, err)

	require.Len(t, sender.titles, 1)
	assert.Equal(t, "Bet claimed", sender.titles[0])
	assert.Equal(t, "bet #42\nactor 0xabc\nrake: 200\nwinner: maker", sender.bodies[0])
}

func TestEventKindFilter(t *testing.T) {
	sender := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{sender}, []string{string(domain.EventBetCancelled)}, discardLogger())
	ctx := context.Background()

	require.NoError(t, n.Event(ctx, domain.Event{Kind: domain.EventBetCreated, BetNumber: 1}))
	assert.Empty(t, sender.titles, "unlisted kinds are dropped")

	require.NoError(t, n.Event(ctx, domain.Event{Kind: domain.EventBetCancelled, BetNumber: 1}))
	assert.Len(t, sender.titles, 1)

	// Announce bypasses the filter.
	require.NoError(t, n.Announce(ctx, "service started", ""))
	assert.Len(t, sender.titles, 2)
}

func TestDispatchSurvivesFailingSender(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("webhook down")}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, discardLogger())

	err := n.Announce(context.Background(), "title", "body")
	assert.ErrorContains(t, err, "broken")
	assert.Len(t, healthy.titles, 1, "one dead channel must not block the rest")
}

func TestTelegramSenderPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := NewTelegramSender("bot-token", "chat-1")
	sender.apiBase = srv.URL

	require.NoError(t, sender.Send(context.Background(), "Bet claimed", "bet #7 <pending>"))
	assert.Equal(t, "chat-1", got["chat_id"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, "<b>Bet claimed</b>\nbet #7 &lt;pending&gt;", got["text"])
}

func TestDiscordSenderEmbeds(t *testing.T) {
	var got map[string][]discordEmbed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	require.NoError(t, sender.Send(context.Background(), "Bet created", "bet #3"))

	require.Len(t, got["embeds"], 1)
	assert.Equal(t, "Bet created", got["embeds"][0].Title)
	assert.Equal(t, "bet #3", got["embeds"][0].Description)
}

func TestDiscordSenderSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid webhook", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "b")
	assert.ErrorContains(t, err, "401")
}
