package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"palaver/internal/models"
)

type historyAPI interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
}

type activeChat interface {
	Active() string
}

type snapshotStore interface {
	SaveConversations(conversations []models.Conversation) error
	LoadConversations() ([]models.Conversation, error)
	SaveMessages(conversationID string, messages []models.Message) error
	LoadMessages(conversationID string) ([]models.Message, error)
}

// Inbox merges server-pushed message events into the locally held
// conversation list and the message sequence of the open conversation.
// The list is kept most-recent-first by hoisting the touched
// conversation rather than re-sorting; messages are appended in
// arrival order and never reordered or deduplicated (the transport is
// at-most-once).
type Inbox struct {
	api    historyAPI
	active activeChat
	snap   snapshotStore // may be nil
	log    *slog.Logger

	mu            sync.RWMutex
	conversations []models.Conversation
	messages      []models.Message
}

func New(api historyAPI, active activeChat, snap snapshotStore, log *slog.Logger) *Inbox {
	if log == nil {
		log = slog.Default()
	}
	return &Inbox{
		api:    api,
		active: active,
		snap:   snap,
		log:    log.With("component", "inbox"),
	}
}

// ApplyNewMessage merges one pushed message event: the message is
// appended only when its conversation is the Active Chat; the
// conversation summary is upserted to the front unconditionally.
func (ib *Inbox) ApplyNewMessage(ev models.NewMessageEvent) {
	activeID := ib.active.Active()

	ib.mu.Lock()
	if ev.Message.ConversationID == activeID && activeID != "" {
		ib.messages = append(ib.messages, ev.Message)
	}
	ib.upsertLocked(ev.Conversation)
	conversations := ib.conversationsLocked()
	messages := ib.messagesLocked()
	ib.mu.Unlock()

	ib.persistConversations(conversations)
	if ev.Message.ConversationID == activeID && activeID != "" {
		ib.persistMessages(activeID, messages)
	}
}

// HydrateConversations performs the one-time REST fetch that seeds the
// conversation list. On error local state is left untouched and the
// caller decides whether to retry or show an empty state.
func (ib *Inbox) HydrateConversations(ctx context.Context) error {
	conversations, err := ib.api.Conversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to hydrate conversations: %w", err)
	}

	ib.mu.Lock()
	ib.conversations = conversations
	ib.mu.Unlock()

	ib.persistConversations(conversations)
	return nil
}

// OpenConversation fetches the message history for a conversation the
// user just opened. If the Active Chat has moved on while the fetch
// was in flight, the result is discarded: a stale fetch must never
// overwrite newer state.
func (ib *Inbox) OpenConversation(ctx context.Context, conversationID string) error {
	messages, err := ib.api.Messages(ctx, conversationID)
	if err != nil {
		// Offline-first: show the cached tail while the error
		// propagates, so the caller still knows the view is stale.
		ib.seedMessagesFromSnapshot(conversationID)
		return fmt.Errorf("failed to fetch messages for %s: %w", conversationID, err)
	}

	if ib.active.Active() != conversationID {
		ib.log.Debug("stale history fetch discarded", "conversation_id", conversationID)
		return nil
	}

	ib.mu.Lock()
	ib.messages = messages
	ib.mu.Unlock()

	ib.persistMessages(conversationID, messages)
	return nil
}

// CloseConversation drops the open-conversation message sequence.
func (ib *Inbox) CloseConversation() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.messages = nil
}

// Reset drops all local state. Used on sign-out so nothing leaks into
// the next session.
func (ib *Inbox) Reset() {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.conversations = nil
	ib.messages = nil
}

// SeedFromSnapshot loads the cached conversation list for
// offline-first display. Missing or failed snapshots are not errors.
func (ib *Inbox) SeedFromSnapshot() {
	if ib.snap == nil {
		return
	}
	conversations, err := ib.snap.LoadConversations()
	if err != nil {
		ib.log.Debug("snapshot load failed", "error", err)
		return
	}
	if len(conversations) == 0 {
		return
	}
	ib.mu.Lock()
	defer ib.mu.Unlock()
	if ib.conversations == nil {
		ib.conversations = conversations
	}
}

// seedMessagesFromSnapshot loads the cached tail of a conversation
// whose live fetch failed. The stale-fetch guard applies here too: a
// cached tail must not land after the user has moved on.
func (ib *Inbox) seedMessagesFromSnapshot(conversationID string) {
	if ib.snap == nil {
		return
	}
	messages, err := ib.snap.LoadMessages(conversationID)
	if err != nil {
		ib.log.Debug("snapshot load failed", "conversation_id", conversationID, "error", err)
		return
	}
	if len(messages) == 0 || ib.active.Active() != conversationID {
		return
	}
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.messages = messages
}

// Conversations returns a copy of the conversation list,
// most-recent-first.
func (ib *Inbox) Conversations() []models.Conversation {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	return ib.conversationsLocked()
}

// Messages returns a copy of the open conversation's message sequence
// in arrival order.
func (ib *Inbox) Messages() []models.Message {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	return ib.messagesLocked()
}

// upsertLocked replaces an existing conversation with the fresh server
// copy and hoists it to the front, or inserts an unseen conversation
// at the head. The relative order of everything else is preserved, so
// the list stays most-recent-first without a full re-sort.
func (ib *Inbox) upsertLocked(conv models.Conversation) {
	for i := range ib.conversations {
		if ib.conversations[i].ID == conv.ID {
			copy(ib.conversations[1:i+1], ib.conversations[:i])
			ib.conversations[0] = conv
			return
		}
	}
	ib.conversations = append([]models.Conversation{conv}, ib.conversations...)
}

func (ib *Inbox) conversationsLocked() []models.Conversation {
	out := make([]models.Conversation, len(ib.conversations))
	copy(out, ib.conversations)
	return out
}

func (ib *Inbox) messagesLocked() []models.Message {
	out := make([]models.Message, len(ib.messages))
	copy(out, ib.messages)
	return out
}

func (ib *Inbox) persistConversations(conversations []models.Conversation) {
	if ib.snap == nil {
		return
	}
	if err := ib.snap.SaveConversations(conversations); err != nil {
		ib.log.Debug("snapshot save failed", "error", err)
	}
}

func (ib *Inbox) persistMessages(conversationID string, messages []models.Message) {
	if ib.snap == nil {
		return
	}
	if err := ib.snap.SaveMessages(conversationID, messages); err != nil {
		ib.log.Debug("snapshot save failed", "conversation_id", conversationID, "error", err)
	}
}
