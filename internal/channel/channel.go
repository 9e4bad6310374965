package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"
	"palaver/internal/session"
)

// ErrNoChannel is returned by Emit while no channel is live. Dependent
// components treat it as a valid quiescent state and no-op.
var ErrNoChannel = errors.New("channel: not connected")

const (
	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 30 * time.Second
)

// Conn is the minimal surface the manager needs from a websocket
// connection. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Dialer establishes a new connection to the server.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Handlers holds the typed callbacks inbound events are dispatched to
// after boundary decoding. Nil entries drop their event.
type Handlers struct {
	NewMessage     func(models.NewMessageEvent)
	UserTyping     func(models.TypingEvent)
	UserStopTyping func(models.StopTypingEvent)
	UserUpdated    func(models.UserUpdatedEvent)
	UserFollowed   func(models.UserFollowedEvent)
	UserUnfollowed func(models.UserUnfollowedEvent)
	PostDeleted    func(models.PostDeletedEvent)
	PostUpdated    func(models.PostUpdatedEvent)
}

type Config struct {
	URL          string
	Dialer       Dialer
	Handlers     Handlers
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	Logger       *slog.Logger
}

// Manager owns the single live channel for the current session
// identity. It dials, announces the identity with a join signal,
// pumps inbound frames to the typed handlers, and redials with bounded
// backoff after transport errors, re-announcing the identity every
// time because the server's routing table does not survive a
// disconnect. Identity changes tear the channel down first; no two
// channels for different identities are ever live concurrently.
type Manager struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    Conn
	userID  string
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewManager(cfg Config) *Manager {
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = defaultReconnectMin
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		cfg: cfg,
		log: cfg.Logger.With("component", "channel"),
	}
}

// Connect establishes the channel for the given identity. Any channel
// for a different identity is torn down first. The initial dial is
// synchronous so sign-in can surface connection errors; later drops
// are handled by the background redial loop.
func (m *Manager) Connect(ctx context.Context, identity session.Identity) error {
	m.mu.Lock()
	if m.conn != nil && m.userID == identity.UserID {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	m.Disconnect()

	runCtx, cancel := context.WithCancel(ctx)
	conn, err := m.dial(runCtx, identity.UserID)
	if err != nil {
		cancel()
		return err
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.conn = conn
	m.userID = identity.UserID
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(runCtx, conn, identity.UserID, done)
	return nil
}

// Disconnect tears the channel down. Safe to call repeatedly and while
// no channel exists. After it returns no handler will fire and Emit
// returns ErrNoChannel.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.cancel = nil
	m.conn = nil
	m.done = nil
	m.userID = ""
	if cancel != nil {
		// Cancel while holding the lock: a concurrent redial installs
		// its connection under the same lock after checking the
		// context, so it either lands before this teardown (and the
		// Close below reaches it) or observes the cancellation and
		// discards its connection.
		cancel()
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// Connected reports whether a channel is currently live.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Emit sends an outbound signal over the live channel. Returns
// ErrNoChannel while disconnected; callers for fire-and-forget signals
// treat that as a no-op.
func (m *Manager) Emit(ev models.Outbound) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNoChannel
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteJSON(ev); err != nil {
		return fmt.Errorf("failed to emit %s: %w", ev.Event, err)
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, userID string) (Conn, error) {
	conn, err := m.cfg.Dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", m.cfg.URL, err)
	}
	if err := conn.WriteJSON(models.Join(userID)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to announce identity: %w", err)
	}
	return conn, nil
}

func (m *Manager) run(ctx context.Context, conn Conn, userID string, done chan struct{}) {
	defer close(done)

	for {
		err := m.readLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		m.log.Debug("channel dropped", "error", err)

		conn = m.redial(ctx, userID)
		if conn == nil {
			return
		}
		m.log.Debug("channel re-established", "user_id", userID)
	}
}

// redial retries with doubling backoff until the context is cancelled.
// Every successful dial re-announces the identity (inside dial).
func (m *Manager) redial(ctx context.Context, userID string) Conn {
	backoff := m.cfg.ReconnectMin
	for {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}

		conn, err := m.dial(ctx, userID)
		if err == nil {
			m.mu.Lock()
			if ctx.Err() != nil {
				// Disconnect won the race during the handshake; this
				// connection must not outlive the teardown.
				m.mu.Unlock()
				_ = conn.Close()
				return nil
			}
			m.conn = conn
			m.mu.Unlock()
			return conn
		}

		m.log.Debug("redial failed", "error", err, "backoff", backoff)
		backoff *= 2
		if backoff > m.cfg.ReconnectMax {
			backoff = m.cfg.ReconnectMax
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, conn Conn) error {
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.dispatch(env)
	}
}

// dispatch decodes the frame into its tagged variant and hands it to
// the matching handler. Unknown events and malformed payloads are
// dropped at the boundary.
func (m *Manager) dispatch(env models.Envelope) {
	switch env.Event {
	case models.EventNewMessage:
		dispatchTo(m, env, m.cfg.Handlers.NewMessage)
	case models.EventUserTyping:
		dispatchTo(m, env, m.cfg.Handlers.UserTyping)
	case models.EventUserStopTyping:
		dispatchTo(m, env, m.cfg.Handlers.UserStopTyping)
	case models.EventUserUpdated:
		dispatchTo(m, env, m.cfg.Handlers.UserUpdated)
	case models.EventUserFollowed:
		dispatchTo(m, env, m.cfg.Handlers.UserFollowed)
	case models.EventUserUnfollowed:
		dispatchTo(m, env, m.cfg.Handlers.UserUnfollowed)
	case models.EventPostDeleted:
		dispatchTo(m, env, m.cfg.Handlers.PostDeleted)
	case models.EventPostUpdated:
		dispatchTo(m, env, m.cfg.Handlers.PostUpdated)
	default:
		m.log.Debug("unknown event dropped", "event", env.Event)
	}
}

func dispatchTo[T any](m *Manager, env models.Envelope, handler func(T)) {
	if handler == nil {
		return
	}
	var ev T
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		m.log.Debug("malformed payload dropped", "event", env.Event, "error", err)
		return
	}
	handler(ev)
}
