package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
)

// User is a participant profile as the server describes it.
type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"displayName"`
	ProfileImage string `json:"profileImage"`
	Bio          string `json:"bio,omitempty"`
}

// Name returns the best available human-readable name for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Post is a shared feed post referenced from messages and notifications.
type Post struct {
	ID       string `json:"id"`
	AuthorID string `json:"authorId"`
	Caption  string `json:"caption"`
	ImageURL string `json:"imageUrl"`
}

type AttachmentKind string

const (
	AttachmentKindImage AttachmentKind = "image"
	AttachmentKindVideo AttachmentKind = "video"
	AttachmentKindFile  AttachmentKind = "file"
)

// Attachment is a single media item carried by a message. The client
// only ever holds the reference, never the bytes.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	URL      string         `json:"url"`
	MimeType string         `json:"mimeType,omitempty"`
}

// Message is append-only from the client's point of view: once
// received it is never mutated, only appended to the per-conversation
// sequence in arrival order.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	Content        string      `json:"content,omitempty"`
	Attachment     *Attachment `json:"attachment,omitempty"`
	SharedPost     *Post       `json:"sharedPost,omitempty"`
	CreatedAt      int64       `json:"createdAt"` // server-assigned, Unix millis
}

// Conversation is a server-authoritative summary. The client never
// invents conversation ids; it only merges copies pushed or fetched
// from the server.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
}

// Participant returns the participant with the given id, if present.
func (c Conversation) Participant(userID string) (User, bool) {
	for _, p := range c.Participants {
		if p.ID == userID {
			return p, true
		}
	}
	return User{}, false
}

// HasParticipant reports whether userID is part of the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participant(userID)
	return ok
}
