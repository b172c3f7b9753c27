package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	paths []string
	body  []map[string]string
}

func (r *recorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var m map[string]string
		_ = json.NewDecoder(req.Body).Decode(&m)
		r.mu.Lock()
		r.paths = append(r.paths, req.URL.Path)
		r.body = append(r.body, m)
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTelegramSender_Send(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "tok", "42")
	require.NoError(t, s.Send(context.Background(), "Pool created", "Pool p1 created"))

	require.Equal(t, []string{"/bottok/sendMessage"}, rec.paths)
	require.Equal(t, "42", rec.body[0]["chat_id"])
	require.Equal(t, "*Pool created*\nPool p1 created", rec.body[0]["text"])
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusBadRequest))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), "discord: unexpected status 400")
}

func TestNotifier_FiltersAndPrefixes(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusNoContent))
	defer srv.Close()

	n := NewNotifier([]Sender{NewDiscordSender(srv.URL)}, []string{"pool_deleted", " "}, "prod", quietLogger())
	require.True(t, n.Enabled())

	require.NoError(t, n.Notify(context.Background(), "pool_created", "Pool created", "x"))
	require.Empty(t, rec.body)

	require.NoError(t, n.Notify(context.Background(), "pool_deleted", "Pool deleted", "Pool p1 deleted"))
	require.Len(t, rec.body, 1)
	require.Equal(t, "**[prod] Pool deleted**\nPool p1 deleted", rec.body[0]["content"])
}

func TestNotifier_NoSenders(t *testing.T) {
	n := NewNotifier(nil, nil, "", quietLogger())
	require.False(t, n.Enabled())
	require.NoError(t, n.Notify(context.Background(), "anything", "t", "m"))
}
