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

	"github.com/alanyoungcy/poefixer/internal/domain"
)

type recordingSender struct {
	name   string
	err    error
	titles []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{domain.EventPassFailed, " "}, quiet())

	require.NoError(t, n.Notify(context.Background(), domain.EventPassComplete, "done", ""))
	require.NoError(t, n.Notify(context.Background(), domain.EventPassFailed, "failed", ""))
	assert.Equal(t, []string{"failed"}, s.titles)
	assert.False(t, n.Enabled(domain.EventIngestFailed))
}

func TestNotifierEmptyFilterAdmitsAll(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, quiet())
	require.NoError(t, n.Notify(context.Background(), domain.EventIngestFailed, "a", ""))
	require.NoError(t, n.Notify(context.Background(), domain.EventPassComplete, "b", ""))
	assert.Equal(t, []string{"a", "b"}, s.titles)

	assert.False(t, NewNotifier(nil, nil, quiet()).Enabled(domain.EventPassFailed))
}

func TestNotifierContinuesAfterSenderFailure(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, quiet())

	err := n.Notify(context.Background(), domain.EventPassFailed, "t", "m")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, []string{"t"}, good.titles)
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Pass failed", "db down"))
	assert.Equal(t, "**Pass failed**\ndb down", got["content"])
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botsecret/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "secret", "42")
	require.NoError(t, s.Send(context.Background(), "Pass complete", "5 sales"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Pass complete*\n5 sales", got["text"])
	assert.Equal(t, "telegram", s.Name())
}
