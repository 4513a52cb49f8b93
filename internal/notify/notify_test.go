package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"polymarket-compounder/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBotServer speaks just enough of the Telegram Bot API to let the
// client authenticate (getMe) and deliver messages (sendMessage).
type fakeBotServer struct {
	mu        sync.Mutex
	sent      []map[string]string
	rejectAll bool
}

func (f *fakeBotServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if f.rejectAll {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
			return
		}
		switch {
		case r.URL.Path == "/bottest-token/getMe":
			fmt.Fprint(w, `{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"compounder","username":"compounder_bot"}}`)
		case r.URL.Path == "/bottest-token/sendMessage":
			if err := r.ParseForm(); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.sent = append(f.sent, map[string]string{
				"chat_id":    r.Form.Get("chat_id"),
				"text":       r.Form.Get("text"),
				"parse_mode": r.Form.Get("parse_mode"),
			})
			f.mu.Unlock()
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":42},"text":"ok"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"ok":false,"error_code":404,"description":"Not Found"}`)
		}
	}
}

func newFakeTelegram(t *testing.T, fake *fakeBotServer) *Telegram {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	cfg := config.TelegramConfig{BotToken: "test-token", ChatID: 42}
	return newTelegram(cfg, srv.URL+"/bot%s/%s", quietLogger())
}

func TestDisabledWithoutCredentials(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  config.TelegramConfig
	}{
		{"no token", config.TelegramConfig{ChatID: 42}},
		{"no chat id", config.TelegramConfig{BotToken: "test-token"}},
		{"neither", config.TelegramConfig{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tg := NewTelegram(tc.cfg, quietLogger())
			if tg.Enabled() {
				t.Fatal("notifier should be disabled")
			}
			// Must be a pure no-op, no network, no panic.
			tg.Send("hello")
		})
	}
}

func TestSendDeliversMessage(t *testing.T) {
	t.Parallel()

	fake := &fakeBotServer{}
	tg := newFakeTelegram(t, fake)
	if !tg.Enabled() {
		t.Fatal("notifier should be enabled")
	}

	tg.Send("📊 Daily Summary")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(fake.sent))
	}
	msg := fake.sent[0]
	if msg["chat_id"] != "42" {
		t.Errorf("chat_id = %q, want 42", msg["chat_id"])
	}
	if msg["text"] != "📊 Daily Summary" {
		t.Errorf("text = %q", msg["text"])
	}
	if msg["parse_mode"] != "Markdown" {
		t.Errorf("parse_mode = %q, want Markdown", msg["parse_mode"])
	}
}

func TestSendFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	fake := &fakeBotServer{}
	tg := newFakeTelegram(t, fake)

	// Flip the server into rejecting everything after connect.
	fake.rejectAll = true
	tg.Send("will fail") // must not panic
}

func TestConnectFailureDisablesAlerts(t *testing.T) {
	t.Parallel()

	fake := &fakeBotServer{rejectAll: true}
	tg := newFakeTelegram(t, fake)
	if tg.Enabled() {
		t.Fatal("notifier should be disabled after failed connect")
	}
	tg.Send("dropped")
}
