package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/lock"
	"github.com/matheus3301/livesync/internal/profile"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/matheus3301/livesync/internal/wire"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap/zaptest"
)

const waitTimeout = 2 * time.Second

func testConfig(apiURL, pushURL string) *config.Config {
	cfg := config.Default()
	cfg.Server = config.ServerConfig{
		APIURL:  apiURL,
		PushURL: pushURL,
		Token:   "tok",
		UserID:  "alice",
	}
	cfg.Transport.ReconnectBase = config.Duration{Duration: 10 * time.Millisecond}
	cfg.Transport.ReconnectMax = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Feed.Timezone = "UTC"
	return cfg
}

func newPushServer(t *testing.T) (string, chan *websocket.Conn, chan wire.Envelope) {
	t.Helper()
	conns := make(chan *websocket.Conn, 4)
	frames := make(chan wire.Envelope, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
		for {
			_, data, err := c.Read(context.Background())
			if err != nil {
				return
			}
			if env, err := wire.Decode(data); err == nil {
				frames <- env
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), conns, frames
}

func newAPIServer(t *testing.T) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations/bob/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"serverId":"m1","senderId":"bob","recipientId":"alice","content":"hi","createdAt":"2025-01-15T12:00:00Z"}]`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv.URL
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientLifecycle(t *testing.T) {
	t.Setenv(profile.HomeEnv, t.TempDir())
	pushURL, conns, frames := newPushServer(t)

	var c *Client
	app := fxtest.New(t,
		Module(Params{
			Profile:   "test",
			Config:    testConfig(newAPIServer(t), pushURL),
			Exclusive: true,
			Logger:    zaptest.NewLogger(t),
		}),
		fx.Populate(&c),
	)
	app.RequireStart()
	defer app.RequireStop()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.Session.AwaitState(ctx, status.Connected); err != nil {
		t.Fatalf("session never connected: %v", err)
	}
	var conn *websocket.Conn
	select {
	case conn = <-conns:
	case <-ctx.Done():
		t.Fatal("push server saw no connection")
	}

	if err := c.Conversations.LoadHistory(ctx, "bob"); err != nil {
		t.Fatalf("LoadHistory() error = %v", err)
	}
	if got := c.Conversations.Messages("alice:bob"); len(got) != 1 {
		t.Fatalf("history = %d messages, want 1", len(got))
	}
	select {
	case env := <-frames:
		p, _ := wire.DecodePayload[wire.RoomPayload](env.Payload)
		if env.Type != wire.EventJoinRoom || p.RoomID != "alice:bob" {
			t.Errorf("frame = %s %+v, want join_room alice:bob", env.Type, p)
		}
	case <-ctx.Done():
		t.Fatal("no join_room frame")
	}

	data, _ := wire.Encode(wire.EventNewMessage, wire.MessageRecord{
		ServerID:    "m2",
		SenderID:    "bob",
		RecipientID: "alice",
		Content:     "still there?",
		CreatedAt:   time.Date(2025, 1, 15, 12, 1, 0, 0, time.UTC),
	})
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(c.Conversations.Messages("alice:bob")) == 2 })
}

func TestProfileIsExclusive(t *testing.T) {
	t.Setenv(profile.HomeEnv, t.TempDir())
	cfg := testConfig("http://127.0.0.1:1", "ws://127.0.0.1:1")

	var held *lock.Profile
	first := fx.New(
		Module(Params{Profile: "work", Config: cfg, Exclusive: true, Logger: zaptest.NewLogger(t)}),
		fx.Populate(&held),
		fx.NopLogger,
	)
	if err := first.Err(); err != nil {
		t.Fatalf("first client: %v", err)
	}
	t.Cleanup(func() { _ = held.Release() })

	second := fx.New(
		Module(Params{Profile: "work", Config: cfg, Exclusive: true, Logger: zaptest.NewLogger(t)}),
		fx.NopLogger,
	)
	if err := second.Err(); err == nil || !strings.Contains(err.Error(), "in use") {
		t.Errorf("second client err = %v, want profile in use", err)
	}

	shared := fx.New(
		Module(Params{Profile: "work", Config: cfg, Logger: zaptest.NewLogger(t)}),
		fx.NopLogger,
	)
	if err := shared.Err(); err != nil {
		t.Errorf("non-exclusive client err = %v", err)
	}
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"missing", nil},
		{"invalid", config.Default()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fx.New(
				Module(Params{Profile: "x", Config: tt.cfg, Logger: zaptest.NewLogger(t)}),
				fx.NopLogger,
			)
			if app.Err() == nil {
				t.Error("expected construction error")
			}
		})
	}
}
