// Package notify delivers run reports to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarchanoGG/Watchdog/internal/config"
)

// Discord rejects messages beyond these sizes.
const (
	MaxContent    = 2000
	MaxFieldValue = 1024
	MaxTitle      = 256
)

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Timestamp   string  `json:"timestamp,omitempty"` // RFC 3339
}

type Message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

// Text renders m for sinks without rich formatting.
func (m Message) Text() string {
	var b strings.Builder
	b.WriteString(m.Content)
	for _, e := range m.Embeds {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if e.Title != "" {
			b.WriteString(e.Title + "\n")
		}
		if e.Description != "" {
			b.WriteString(e.Description + "\n")
		}
		for _, f := range e.Fields {
			fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Sink accepts one message per call.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// ErrNoSinks is returned when a message has nowhere to go.
var ErrNoSinks = errors.New("no notification sinks configured")

// Multi sends to every sink and joins their errors.
type Multi struct {
	Targets []Sink
}

func (m Multi) Send(ctx context.Context, msg Message) error {
	if m.Empty() {
		return ErrNoSinks
	}
	var errs []error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if err := target.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Empty() bool {
	for _, t := range m.Targets {
		if t != nil {
			return false
		}
	}
	return true
}

type Discord struct {
	Name      string
	URL       string
	Username  string
	AvatarURL string
}

func (d Discord) Send(ctx context.Context, msg Message) error {
	payload := struct {
		Message
		Username  string `json:"username,omitempty"`
		AvatarURL string `json:"avatar_url,omitempty"`
	}{Message: clampDiscord(msg), Username: d.Username, AvatarURL: d.AvatarURL}
	return postJSON(ctx, "discord", d.Name, d.URL, payload, nil)
}

func clampDiscord(msg Message) Message {
	out := Message{Content: Truncate(msg.Content, MaxContent)}
	for _, e := range msg.Embeds {
		e.Title = Truncate(e.Title, MaxTitle)
		fields := make([]Field, len(e.Fields))
		for i, f := range e.Fields {
			f.Value = Truncate(f.Value, MaxFieldValue)
			fields[i] = f
		}
		e.Fields = fields
		out.Embeds = append(out.Embeds, e)
	}
	return out
}

// Webhook posts the message as JSON.
type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, "webhook", w.Name, w.URL, msg, w.Headers)
}

type Mattermost struct {
	Name string
	URL  string
}

func (m Mattermost) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, "mattermost", m.Name, m.URL, map[string]string{"text": msg.Text()}, nil)
}

type Matrix struct {
	Name        string
	ServerURL   string
	AccessToken string
	RoomID      string
}

func (m Matrix) Send(ctx context.Context, msg Message) error {
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%d",
		strings.TrimRight(m.ServerURL, "/"), url.PathEscape(m.RoomID), time.Now().UnixNano())
	payload := map[string]any{
		"msgtype": "m.text",
		"body":    msg.Text(),
	}
	return postJSON(ctx, "matrix", m.Name, endpoint, payload, map[string]string{"Authorization": "Bearer " + m.AccessToken})
}

// FromConfig builds one sink per configured endpoint.
func FromConfig(cfg config.NotificationsConfig) Multi {
	var targets []Sink
	for _, d := range cfg.Discord {
		targets = append(targets, Discord{Name: d.Name, URL: d.URL, Username: d.Username, AvatarURL: d.AvatarURL})
	}
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	for _, mx := range cfg.Matrix {
		targets = append(targets, Matrix{Name: mx.Name, ServerURL: mx.ServerURL, AccessToken: mx.AccessToken, RoomID: mx.RoomID})
	}
	return Multi{Targets: targets}
}

// Truncate shortens s to at most n runes, marking the cut with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func postJSON(ctx context.Context, kind, name, endpoint string, payload any, headers map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s %s: encode: %w", kind, name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s returned %s", kind, name, resp.Status)
	}
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
