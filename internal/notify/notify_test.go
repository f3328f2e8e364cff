package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarchanoGG/Watchdog/internal/config"
)

type capture struct {
	mu      sync.Mutex
	bodies  []map[string]any
	headers []http.Header
	paths   []string
}

func (c *capture) server(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.headers = append(c.headers, r.Header.Clone())
		c.paths = append(c.paths, r.URL.Path)
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sample() Message {
	return Message{
		Content: "pulse finished",
		Embeds: []Embed{{
			Title:  "WatchDog Pulse",
			Color:  0x00FF00,
			Fields: []Field{{Name: "Backup", Value: "ok", Inline: true}},
		}},
	}
}

func TestDiscordSendsEmbeds(t *testing.T) {
	c := &capture{}
	srv := c.server(t, http.StatusNoContent)

	err := Discord{Name: "ops", URL: srv.URL, Username: "WatchDog"}.Send(context.Background(), sample())
	require.NoError(t, err)
	require.Len(t, c.bodies, 1)
	body := c.bodies[0]
	assert.Equal(t, "WatchDog", body["username"])
	assert.Equal(t, "pulse finished", body["content"])
	embeds := body["embeds"].([]any)
	require.Len(t, embeds, 1)
	assert.Equal(t, "WatchDog Pulse", embeds[0].(map[string]any)["title"])
	assert.EqualValues(t, 0x00FF00, embeds[0].(map[string]any)["color"])
}

func TestDiscordClampsContentAndFields(t *testing.T) {
	c := &capture{}
	srv := c.server(t, http.StatusNoContent)

	msg := sample()
	msg.Content = strings.Repeat("x", 2500)
	msg.Embeds[0].Fields[0].Value = strings.Repeat("y", 3000)
	require.NoError(t, Discord{URL: srv.URL}.Send(context.Background(), msg))

	body := c.bodies[0]
	assert.Len(t, []rune(body["content"].(string)), MaxContent)
	field := body["embeds"].([]any)[0].(map[string]any)["fields"].([]any)[0].(map[string]any)
	assert.Len(t, []rune(field["value"].(string)), MaxFieldValue)
	assert.Len(t, msg.Content, 2500, "caller's message untouched")
}

func TestWebhookErrorStatus(t *testing.T) {
	c := &capture{}
	srv := c.server(t, http.StatusBadGateway)
	err := Webhook{Name: "hook", URL: srv.URL, Headers: map[string]string{"X-Token": "t"}}.Send(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook hook returned 502")
	assert.Equal(t, "t", c.headers[0].Get("X-Token"))
}

func TestMattermostAndMatrixUsePlainText(t *testing.T) {
	c := &capture{}
	srv := c.server(t, http.StatusOK)

	require.NoError(t, Mattermost{URL: srv.URL}.Send(context.Background(), sample()))
	require.NoError(t, Matrix{ServerURL: srv.URL + "/", AccessToken: "tok", RoomID: "!room:example.org"}.Send(context.Background(), sample()))

	want := "pulse finished\nWatchDog Pulse\nBackup: ok"
	assert.Equal(t, want, c.bodies[0]["text"])
	assert.Equal(t, want, c.bodies[1]["body"])
	assert.Equal(t, "Bearer tok", c.headers[1].Get("Authorization"))
	assert.True(t, strings.HasPrefix(c.paths[1], "/_matrix/client/v3/rooms/!room:example.org/send/m.room.message/"), c.paths[1])
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := (&capture{}).server(t, http.StatusOK)
	bad := (&capture{}).server(t, http.StatusInternalServerError)

	m := FromConfig(config.NotificationsConfig{
		Discord:  []config.DiscordConfig{{Name: "primary", URL: bad.URL}},
		Webhooks: []config.WebhookConfig{{Name: "audit", URL: ok.URL}},
	})
	require.Len(t, m.Targets, 2)
	err := m.Send(context.Background(), sample())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord primary returned 500")
	assert.False(t, m.Empty())
	assert.True(t, Multi{}.Empty())
}

func TestMultiWithoutSinks(t *testing.T) {
	m := FromConfig(config.NotificationsConfig{})
	assert.True(t, m.Empty())
	assert.ErrorIs(t, m.Send(context.Background(), sample()), ErrNoSinks)
	assert.True(t, Multi{Targets: []Sink{nil}}.Empty())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "ab…", Truncate("abcd", 3))
	assert.Equal(t, "📊…", Truncate("📊📊📊", 2))
}
