package typing

import (
	"log/slog"
	"sync"
	"time"

	"palaver/internal/models"
)

const (
	// DefaultSignalInterval bounds outbound typing signals to one per
	// window of continuous typing, independent of keystroke rate.
	DefaultSignalInterval = 1000 * time.Millisecond

	// DefaultIdleTimeout is both the outbound idle window (emit
	// stopTyping after the user pauses) and the inbound safety expiry
	// (clear the indicator when a remote stopTyping is lost).
	DefaultIdleTimeout = 2000 * time.Millisecond
)

// Emitter sends fire-and-forget signals over the live channel.
type Emitter interface {
	Emit(ev models.Outbound) error
}

type Config struct {
	Emitter        Emitter
	SignalInterval time.Duration
	IdleTimeout    time.Duration

	// OnChange is invoked when the remote typing indicator for the
	// open conversation transitions. Optional.
	OnChange func(typing bool)

	Logger *slog.Logger
}

// Coalescer rate-limits outbound typing signals and manages the
// inbound typing-indicator lifecycle for the open conversation. All
// timers are single-shot and replaced, never accumulated: at most one
// live idle timer and one live expiry timer exist at any time, and
// none survive a conversation switch or Close.
type Coalescer struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	userID string
	open   *models.Conversation

	// gen invalidates timer callbacks created before the last reset.
	gen int

	windowOpen  bool
	windowTimer *time.Timer
	idleTimer   *time.Timer

	remoteTyping bool
	expiryTimer  *time.Timer
}

func New(cfg Config) *Coalescer {
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = DefaultSignalInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coalescer{
		cfg: cfg,
		log: cfg.Logger.With("component", "typing"),
	}
}

// SetIdentity binds outbound signals to the signed-in user.
func (c *Coalescer) SetIdentity(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// SetOpenConversation switches the conversation the coalescer is
// scoped to (nil for none). All pending timers and state for the
// previous conversation are dropped without emitting.
func (c *Coalescer) SetOpenConversation(conv *models.Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.open = conv
}

// Close tears the coalescer down. No signal fires afterwards.
func (c *Coalescer) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.open = nil
	c.userID = ""
}

// LocalTextChanged is called on every local text-input mutation while
// composing. It emits a typing signal at most once per signal interval
// and (re)starts the idle timer that will emit stopTyping when the
// user pauses.
func (c *Coalescer) LocalTextChanged() {
	c.mu.Lock()
	if c.open == nil || c.userID == "" {
		c.mu.Unlock()
		return
	}
	conversationID := c.open.ID
	userID := c.userID
	gen := c.gen

	emitTyping := false
	if !c.windowOpen {
		c.windowOpen = true
		emitTyping = true
		if c.windowTimer != nil {
			c.windowTimer.Stop()
		}
		c.windowTimer = time.AfterFunc(c.cfg.SignalInterval, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.gen != gen {
				return
			}
			c.windowOpen = false
		})
	}

	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	// The emit stays under the lock so the generation check and the
	// signal are atomic with respect to teardown: once reset bumps the
	// generation, no signal can escape.
	c.idleTimer = time.AfterFunc(c.cfg.IdleTimeout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen {
			return
		}
		c.windowOpen = false
		c.emit(models.StopTyping(conversationID, userID))
	})

	if emitTyping {
		c.emit(models.Typing(conversationID, userID))
	}
	c.mu.Unlock()
}

// RemoteTypingStarted handles an inbound typing signal. Only signals
// from a participant of the open conversation are applied; everything
// else is ignored so typing state never leaks across conversations.
func (c *Coalescer) RemoteTypingStarted(userID string) {
	c.mu.Lock()
	if c.open == nil || userID == c.userID || !c.open.HasParticipant(userID) {
		c.mu.Unlock()
		return
	}

	changed := !c.remoteTyping
	c.remoteTyping = true
	gen := c.gen

	// Safety expiry covering a lost stopTyping signal. Restarting
	// replaces the previous timer, keeping exactly one live.
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
	}
	c.expiryTimer = time.AfterFunc(c.cfg.IdleTimeout, func() {
		c.mu.Lock()
		if c.gen != gen || !c.remoteTyping {
			c.mu.Unlock()
			return
		}
		c.remoteTyping = false
		cb := c.cfg.OnChange
		c.mu.Unlock()
		if cb != nil {
			cb(false)
		}
	})
	cb := c.cfg.OnChange
	c.mu.Unlock()

	if changed && cb != nil {
		cb(true)
	}
}

// RemoteTypingStopped handles an explicit inbound stopTyping signal:
// the flag clears immediately and the safety timer is cancelled.
func (c *Coalescer) RemoteTypingStopped(userID string) {
	c.mu.Lock()
	if c.open == nil || !c.open.HasParticipant(userID) {
		c.mu.Unlock()
		return
	}
	changed := c.remoteTyping
	c.remoteTyping = false
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
	cb := c.cfg.OnChange
	c.mu.Unlock()

	if changed && cb != nil {
		cb(false)
	}
}

// Typing reports whether the remote party of the open conversation is
// currently typing.
func (c *Coalescer) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteTyping
}

// reset drops all timers and flags. Callers hold c.mu.
func (c *Coalescer) reset() {
	c.gen++
	if c.windowTimer != nil {
		c.windowTimer.Stop()
		c.windowTimer = nil
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
	c.windowOpen = false
	c.remoteTyping = false
}

func (c *Coalescer) emit(ev models.Outbound) {
	if err := c.cfg.Emitter.Emit(ev); err != nil {
		c.log.Debug("typing signal dropped", "event", ev.Event, "error", err)
	}
}
