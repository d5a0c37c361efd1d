package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/elliotchance/orderedmap/v3"
	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/matheus3301/livesync/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Identity is who the session connects as.
type Identity struct {
	UserID string
	Token  string
}

// Dialer opens a WebSocket connection. Tests substitute their own.
type Dialer func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

// Options configures a Session.
type Options struct {
	URL               string
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	HeartbeatInterval time.Duration
	PingTimeout       time.Duration
	ReadLimit         int64
	Dial              Dialer
}

func (o *Options) defaults() {
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20
	}
	if o.Dial == nil {
		o.Dial = defaultDial
	}
}

func defaultDial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	return conn, err
}

// Handler receives the raw payload of a subscribed event.
type Handler func(payload json.RawMessage)

// Token identifies a subscription for Unsubscribe.
type Token struct {
	event string
	id    uint64
}

// Session owns the persistent push connection: connect/reconnect lifecycle,
// room membership and event subscribe/emit. Create one per active messaging
// UI and call Disconnect when it goes away.
type Session struct {
	opts    Options
	machine *status.Machine
	logger  *zap.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	identity Identity
	rooms    *orderedmap.OrderedMap[string, struct{}]
	cancel   context.CancelFunc
	done     chan struct{}
	changed  chan struct{}

	hmu      sync.RWMutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
}

// NewSession creates a disconnected session.
func NewSession(opts Options, machine *status.Machine, logger *zap.Logger) *Session {
	opts.defaults()
	if machine == nil {
		machine = status.NewMachine(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		opts:     opts,
		machine:  machine,
		logger:   logger.Named("transport"),
		rooms:    orderedmap.NewOrderedMap[string, struct{}](),
		changed:  make(chan struct{}),
		handlers: make(map[string]map[uint64]Handler),
	}
}

// State returns the current connection state.
func (s *Session) State() status.State {
	return s.machine.Current()
}

// Identity returns the identity passed to Connect.
func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Connect starts the connection loop in the background. The loop dials,
// re-joins rooms, serves the connection and, when it drops, redials with
// exponential backoff until Disconnect is called. Calling Connect on a
// running session is a no-op.
func (s *Session) Connect(ctx context.Context, id Identity) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	s.identity = id
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.transition(status.Connecting)
	go s.run(runCtx, done)
	return nil
}

// Disconnect stops the connection loop and closes the connection. Room
// membership is kept, so a later Connect restores it. Handlers must not call
// Disconnect synchronously.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel, done, conn := s.cancel, s.done, s.conn
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	<-done
	s.transition(status.Disconnected)
	s.logger.Info("push channel disconnected")
}

// AwaitState blocks until the session reaches want or ctx is done.
func (s *Session) AwaitState(ctx context.Context, want status.State) error {
	for {
		s.mu.Lock()
		ch := s.changed
		s.mu.Unlock()
		if s.State() == want {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// JoinRoom adds room to the membership set and, when connected, tells the
// server. Rooms joined while disconnected or mid-reconnect are joined by the
// connect handshake.
func (s *Session) JoinRoom(ctx context.Context, room string) {
	s.mu.Lock()
	added := s.rooms.Set(room, struct{}{})
	conn := s.conn
	s.mu.Unlock()
	if !added {
		return
	}
	if conn == nil {
		s.logger.Debug("join deferred until connected", zap.String("room", room))
		return
	}
	if err := s.write(ctx, conn, wire.EventJoinRoom, wire.RoomPayload{RoomID: room}); err != nil {
		s.logger.Warn("join not sent", zap.String("room", room), zap.Error(err))
	}
}

// LeaveRoom removes room from the membership set and, when connected, tells
// the server.
func (s *Session) LeaveRoom(ctx context.Context, room string) {
	s.mu.Lock()
	removed := s.rooms.Delete(room)
	conn := s.conn
	s.mu.Unlock()
	if !removed {
		return
	}
	if conn == nil {
		s.logger.Debug("leave deferred until connected", zap.String("room", room))
		return
	}
	if err := s.write(ctx, conn, wire.EventLeaveRoom, wire.RoomPayload{RoomID: room}); err != nil {
		s.logger.Warn("leave not sent", zap.String("room", room), zap.Error(err))
	}
}

// Rooms returns the membership set in join order.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, s.rooms.Len())
	for el := s.rooms.Front(); el != nil; el = el.Next() {
		out = append(out, el.Key)
	}
	return out
}

// Subscribe registers h for events of the given type. Handlers run on the
// read loop in arrival order and must not block for long.
func (s *Session) Subscribe(event string, h Handler) Token {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.nextID++
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]Handler)
	}
	s.handlers[event][s.nextID] = h
	return Token{event: event, id: s.nextID}
}

// Unsubscribe removes a subscription. Unknown tokens are ignored.
func (s *Session) Unsubscribe(tok Token) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	delete(s.handlers[tok.event], tok.id)
}

// Emit sends an event. It fails fast with a *model.TransportError when the
// session has no live connection; queuing is the caller's business.
func (s *Session) Emit(ctx context.Context, event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &model.TransportError{Op: "emit " + event}
	}
	return s.write(ctx, conn, event, payload)
}

func (s *Session) write(ctx context.Context, conn *websocket.Conn, event string, payload any) error {
	data, err := wire.Encode(event, payload)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &model.TransportError{Op: "emit " + event, Err: err}
	}
	return nil
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.ReconnectBase
	b.MaxInterval = s.opts.ReconnectMax
	b.MaxElapsedTime = 0
	b.Reset()

	for attempt := 1; ; attempt++ {
		conn, err := s.dial(ctx)
		if err == nil {
			b.Reset()
			attempt = 0
			err = s.serve(ctx, conn)
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			_ = conn.CloseNow()
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("push channel dropped", zap.Error(err))
			s.transition(status.Connecting)
		}
		if ctx.Err() != nil {
			return
		}

		delay := b.NextBackOff()
		if err != nil && attempt > 0 {
			s.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempt), zap.Duration("retry_in", delay), zap.Error(err))
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	id := s.Identity()
	header := http.Header{}
	if id.Token != "" {
		header.Set("Authorization", "Bearer "+id.Token)
	}
	if id.UserID != "" {
		header.Set("X-User-ID", id.UserID)
	}

	conn, err := s.opts.Dial(ctx, s.opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}
	conn.SetReadLimit(s.opts.ReadLimit)

	if err := s.rejoin(ctx, conn); err != nil {
		_ = conn.CloseNow()
		return nil, err
	}
	if ctx.Err() != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		_ = conn.CloseNow()
		return nil, ctx.Err()
	}

	s.transition(status.Connected)
	s.logger.Info("push channel connected", zap.String("url", s.opts.URL), zap.Strings("rooms", s.Rooms()))
	return conn, nil
}

// rejoin restores room membership on a fresh connection. It keeps sending
// the difference between the membership set and what this connection has
// been told until the two agree, then publishes conn in the same critical
// section, so a JoinRoom or LeaveRoom racing the handshake is sent exactly
// once: either here or by the caller over the published conn.
func (s *Session) rejoin(ctx context.Context, conn *websocket.Conn) error {
	sent := make(map[string]bool)
	for {
		var joins, leaves []string
		s.mu.Lock()
		for el := s.rooms.Front(); el != nil; el = el.Next() {
			if !sent[el.Key] {
				joins = append(joins, el.Key)
			}
		}
		for room := range sent {
			if _, ok := s.rooms.Get(room); !ok {
				leaves = append(leaves, room)
			}
		}
		if len(joins) == 0 && len(leaves) == 0 {
			s.conn = conn
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		for _, room := range leaves {
			if err := s.write(ctx, conn, wire.EventLeaveRoom, wire.RoomPayload{RoomID: room}); err != nil {
				return fmt.Errorf("rejoin: leave %s: %w", room, err)
			}
			delete(sent, room)
		}
		for _, room := range joins {
			if err := s.write(ctx, conn, wire.EventJoinRoom, wire.RoomPayload{RoomID: room}); err != nil {
				return fmt.Errorf("rejoin %s: %w", room, err)
			}
			sent[room] = true
		}
	}
}

func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx, conn) })
	if s.opts.HeartbeatInterval > 0 {
		g.Go(func() error { return s.heartbeat(gctx, conn) })
	}
	return g.Wait()
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, err := wire.Decode(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		s.dispatch(env.Type, env.Payload)
	}
}

func (s *Session) heartbeat(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, s.opts.PingTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}
		}
	}
}

func (s *Session) dispatch(event string, payload json.RawMessage) {
	s.hmu.RLock()
	hs := make([]Handler, 0, len(s.handlers[event]))
	for _, h := range s.handlers[event] {
		hs = append(hs, h)
	}
	s.hmu.RUnlock()

	for _, h := range hs {
		s.invoke(event, h, payload)
	}
}

func (s *Session) invoke(event string, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panicked", zap.String("event", event), zap.Any("panic", r))
		}
	}()
	h(payload)
}

func (s *Session) transition(to status.State) {
	change, err := s.machine.Transition(to)
	if err != nil {
		s.logger.Debug("state transition skipped", zap.Error(err))
		return
	}

	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	payload, _ := json.Marshal(wire.StateChangedPayload{From: string(change.From), To: string(change.To)})
	s.dispatch(wire.EventStateChanged, payload)
}
