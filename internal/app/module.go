// Package app composes the client from its parts with fx.
package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/config"
	"github.com/matheus3301/livesync/internal/conversation"
	"github.com/matheus3301/livesync/internal/lock"
	"github.com/matheus3301/livesync/internal/logging"
	"github.com/matheus3301/livesync/internal/notification"
	"github.com/matheus3301/livesync/internal/outbox"
	"github.com/matheus3301/livesync/internal/presence"
	"github.com/matheus3301/livesync/internal/profile"
	"github.com/matheus3301/livesync/internal/status"
	intsync "github.com/matheus3301/livesync/internal/sync"
	"github.com/matheus3301/livesync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var errNoConfig = errors.New("app: no configuration supplied")

// Params holds what the caller resolved before building the graph.
type Params struct {
	Profile string
	Config  *config.Config
	// Exclusive takes the profile lock so only one long-running client
	// holds the push connection.
	Exclusive bool

	// Test overrides; zero values use the real implementations.
	Logger     *zap.Logger
	HTTPClient *http.Client
	Dial       transport.Dialer
}

// Client is the assembled client handed to commands.
type Client struct {
	Config        *config.Config
	Bus           *bus.Bus
	Session       *transport.Session
	Conversations *conversation.Store
	Feed          *notification.Feed
	Presence      *presence.Tracker
	Outbox        *outbox.Outbox
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("livesync",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideBus,
			provideStateMachine,
			provideSession,
			provideAPI,
			provideOutbox,
			provideConversations,
			provideFeed,
			providePresence,
			provideEngine,
			newClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config == nil {
		return nil, errNoConfig
	}
	if err := p.Config.Validate(); err != nil {
		return nil, err
	}
	return p.Config, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger.With(zap.String("profile", p.Profile)), nil
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, cfg.Log.Level)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Profile, error) {
	if !p.Exclusive {
		return nil, nil
	}
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideSession(p Params, cfg *config.Config, m *status.Machine, logger *zap.Logger) *transport.Session {
	return transport.NewSession(transport.Options{
		URL:               cfg.Server.PushURL,
		ReconnectBase:     cfg.Transport.ReconnectBase.Duration,
		ReconnectMax:      cfg.Transport.ReconnectMax.Duration,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval.Duration,
		Dial:              p.Dial,
	}, m, logger)
}

func provideAPI(p Params, cfg *config.Config, logger *zap.Logger) *api.Client {
	return api.NewClient(cfg.Server.APIURL, cfg.Server.Token, p.HTTPClient, logger)
}

func provideOutbox(s *transport.Session, b *bus.Bus, logger *zap.Logger) *outbox.Outbox {
	return outbox.New(s, b, logger)
}

func provideConversations(cfg *config.Config, c *api.Client, s *transport.Session, ob *outbox.Outbox, b *bus.Bus, logger *zap.Logger) *conversation.Store {
	return conversation.New(c, s, ob, b, logger, conversation.Options{
		SelfID:   cfg.Server.UserID,
		PageSize: cfg.History.PageSize,
	})
}

func provideFeed(cfg *config.Config, c *api.Client, s *transport.Session, ob *outbox.Outbox, b *bus.Bus, logger *zap.Logger) (*notification.Feed, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return notification.New(c, s, ob, b, logger, loc), nil
}

func providePresence(cfg *config.Config, s *transport.Session, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.New(s, b, logger, presence.Options{
		SelfID:        cfg.Server.UserID,
		Debounce:      cfg.Presence.Debounce.Duration,
		StopTimeout:   cfg.Presence.StopTimeout.Duration,
		RemoteTimeout: cfg.Presence.RemoteTimeout.Duration,
	})
}

func provideEngine(s *transport.Session, cs *conversation.Store, f *notification.Feed, t *presence.Tracker, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(s, cs, f, t, logger)
}

func newClient(cfg *config.Config, b *bus.Bus, s *transport.Session, cs *conversation.Store, f *notification.Feed, t *presence.Tracker, ob *outbox.Outbox) *Client {
	return &Client{
		Config:        cfg,
		Bus:           b,
		Session:       s,
		Conversations: cs,
		Feed:          f,
		Presence:      t,
		Outbox:        ob,
	}
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, lk *lock.Profile, s *transport.Session, engine *intsync.Engine, ob *outbox.Outbox, cs *conversation.Store, f *notification.Feed, t *presence.Tracker, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Handlers go in before the first frame can arrive.
			engine.Start()
			ob.Start(context.Background())
			return s.Connect(ctx, transport.Identity{
				UserID: cfg.Server.UserID,
				Token:  cfg.Server.Token,
			})
		},
		OnStop: func(_ context.Context) error {
			engine.Stop()
			t.Close()
			s.Disconnect()
			ob.Stop()
			cs.Close()
			f.Close()
			b.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing profile lock", zap.Error(err))
			}
			logger.Info("client stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
