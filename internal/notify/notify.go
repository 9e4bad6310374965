package notify

import (
	"context"
	"log/slog"
	"sync"

	"palaver/internal/content"
	"palaver/internal/models"

	"github.com/google/uuid"
)

const (
	previewLength = 120

	// fallbackBody is used when the message has no text content
	// (media-only messages).
	fallbackBody = "sent you a message"
)

// PermissionStatus mirrors the OS notification permission state.
// Denial is an expected configuration, never an error.
type PermissionStatus int

const (
	PermissionUndetermined PermissionStatus = iota
	PermissionGranted
	PermissionDenied
)

// Permissions is the platform permission collaborator.
type Permissions interface {
	Status() PermissionStatus
	Request(ctx context.Context) (PermissionStatus, error)
}

// Scheduler is the platform alert collaborator: it shows a local alert
// and later feeds the user's interaction back as a Payload.
type Scheduler interface {
	Schedule(alert Alert) error
}

// Payload is the structured data attached to a delivered alert. The
// same schema carries all three alert kinds; exactly one identifying
// field set (PostID, Type=="follow"+UserID, or ConversationID) is
// expected per alert and the resolver branches on which is present.
type Payload struct {
	ConversationID string        `json:"conversationId,omitempty"`
	ReceiverID     string        `json:"receiverId,omitempty"`
	SenderID       string        `json:"senderId,omitempty"`
	Username       string        `json:"username,omitempty"`
	ProfileImage   string        `json:"profileImage,omitempty"`
	Participants   []models.User `json:"participants,omitempty"`
	PostID         string        `json:"PostId,omitempty"`
	Type           string        `json:"type,omitempty"`
	UserID         string        `json:"userId,omitempty"`
}

// Alert is a local user-facing notification ready for scheduling.
type Alert struct {
	ID      string
	Title   string
	Body    string
	Payload Payload
}

type activeChat interface {
	Active() string
}

// Dispatcher decides, for every inbound message, whether to surface a
// local alert. The single suppression rule: messages for the Active
// Chat update visible state and never notify; everything else notifies
// subject to OS permission. There is no batching or dedup beyond that.
type Dispatcher struct {
	active activeChat
	perms  Permissions
	sched  Scheduler
	log    *slog.Logger

	// permMu serializes the permission gate so concurrent messages
	// cannot raise more than one OS prompt.
	permMu sync.Mutex
}

func NewDispatcher(active activeChat, perms Permissions, sched Scheduler, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		active: active,
		perms:  perms,
		sched:  sched,
		log:    log.With("component", "notify"),
	}
}

// HandleNewMessage schedules an alert for the event unless its
// conversation is the Active Chat or permission is not granted.
func (d *Dispatcher) HandleNewMessage(ctx context.Context, ev models.NewMessageEvent) {
	if active := d.active.Active(); active != "" && active == ev.Message.ConversationID {
		return
	}

	d.permMu.Lock()
	status := d.perms.Status()
	if status == PermissionUndetermined {
		var err error
		status, err = d.perms.Request(ctx)
		if err != nil {
			d.permMu.Unlock()
			d.log.Debug("permission request failed", "error", err)
			return
		}
	}
	d.permMu.Unlock()
	if status != PermissionGranted {
		return
	}

	sender, _ := ev.Conversation.Participant(ev.Message.SenderID)
	title := sender.Name()
	if title == "" {
		title = "New message"
	}

	body := content.Preview(ev.Message.Content, previewLength)
	if body == "" {
		body = fallbackBody
	}

	alert := Alert{
		ID:    uuid.NewString(),
		Title: title,
		Body:  body,
		Payload: Payload{
			ConversationID: ev.Message.ConversationID,
			SenderID:       ev.Message.SenderID,
			Username:       sender.Username,
			ProfileImage:   sender.ProfileImage,
			Participants:   ev.Conversation.Participants,
		},
	}

	if err := d.sched.Schedule(alert); err != nil {
		d.log.Debug("alert dropped", "alert_id", alert.ID, "error", err)
	}
}
