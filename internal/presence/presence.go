package presence

import (
	"log/slog"
	"sync"

	"palaver/internal/models"
)

// Emitter sends fire-and-forget signals over the live channel. A nil
// or disconnected channel is expected: emit errors are advisory only.
type Emitter interface {
	Emit(ev models.Outbound) error
}

// Tracker owns the Active Chat value: at most one conversation the
// user is currently looking at. Transitions are announced to the
// server so it can suppress pushes for that pairing; the synchronizer
// and the notification dispatcher read the value synchronously to
// decide notification eligibility.
type Tracker struct {
	mu      sync.RWMutex
	emitter Emitter
	log     *slog.Logger
	userID  string
	active  string
}

func NewTracker(emitter Emitter, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		emitter: emitter,
		log:     log.With("component", "presence"),
	}
}

// SetIdentity binds the tracker to the signed-in user. Presence
// signals carry this id.
func (t *Tracker) SetIdentity(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userID = userID
}

// Reset drops both identity and Active Chat without emitting: the
// channel for the old identity is already gone.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userID = ""
	t.active = ""
}

// SetActive records the conversation currently on screen ("" for
// none). A no-op transition emits nothing. A real transition emits
// "left previous" (if any) followed by "entered next" (if any).
func (t *Tracker) SetActive(conversationID string) {
	t.mu.Lock()
	prev := t.active
	if prev == conversationID {
		t.mu.Unlock()
		return
	}
	t.active = conversationID
	userID := t.userID
	t.mu.Unlock()

	if userID == "" {
		return
	}
	if prev != "" {
		t.emit(models.LeaveConversation(userID))
	}
	if conversationID != "" {
		t.emit(models.EnterConversation(userID, conversationID))
	}
}

// Active returns the Active Chat conversation id, or "" when the user
// is not viewing any conversation.
func (t *Tracker) Active() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

func (t *Tracker) emit(ev models.Outbound) {
	if err := t.emitter.Emit(ev); err != nil {
		t.log.Debug("presence signal dropped", "event", ev.Event, "error", err)
	}
}
