package models

import "encoding/json"

// Channel event names. Each name has exactly one payload schema;
// frames are decoded at the channel boundary before any handler runs.
const (
	EventNewMessage     = "newMessage"
	EventUserTyping     = "userTyping"
	EventUserStopTyping = "userStopTyping"
	EventUserUpdated    = "userUpdated"
	EventUserFollowed   = "userFollowed"
	EventUserUnfollowed = "userUnfollowed"
	EventPostDeleted    = "postDeleted"
	EventPostUpdated    = "postUpdated"

	EventJoin               = "join"
	EventAddUserToList      = "addUserToList"
	EventRemoveUserFromList = "removeUserFromList"
	EventTyping             = "typing"
	EventStopTyping         = "stopTyping"
	EventJoinChat           = "joinChat"
	EventLeaveChat          = "leaveChat"
)

// Envelope is the wire frame for both directions: an event name plus
// its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewMessageEvent is pushed for every message created server-side.
type NewMessageEvent struct {
	Message      Message      `json:"message"`
	Conversation Conversation `json:"conversation"`
}

type TypingEvent struct {
	UserID string `json:"userId"`
}

type StopTypingEvent struct {
	UserID string `json:"userId"`
}

type UserUpdatedEvent struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ProfileImage string `json:"profileImage"`
	Bio          string `json:"bio"`
}

type UserFollowedEvent struct {
	FollowerID string `json:"followerId"`
	FollowedID string `json:"followedId"`
}

type UserUnfollowedEvent struct {
	UserID       string `json:"userId"`
	UnfollowedID string `json:"unfollowedId"`
}

type PostDeletedEvent struct {
	PostID string `json:"postId"`
}

type PostUpdatedEvent struct {
	Post Post `json:"post"`
}

// Outbound is a client-to-server signal ready for encoding. Data is
// marshaled into the envelope's data field as-is.
type Outbound struct {
	Event string
	Data  any
}

// Join announces the session identity so the server can route
// per-user pushes. Sent on every (re)connect.
func Join(userID string) Outbound {
	return Outbound{Event: EventJoin, Data: userID}
}

type presencePayload struct {
	UserID   string `json:"userId"`
	ActiveID string `json:"activeId"`
}

// EnterConversation tells the server the user is now viewing the given
// conversation, so it can suppress pushes for that pairing.
func EnterConversation(userID, conversationID string) Outbound {
	return Outbound{Event: EventAddUserToList, Data: presencePayload{UserID: userID, ActiveID: conversationID}}
}

// LeaveConversation withdraws the presence advisory for the user.
func LeaveConversation(userID string) Outbound {
	return Outbound{Event: EventRemoveUserFromList, Data: userID}
}

type typingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

func Typing(conversationID, userID string) Outbound {
	return Outbound{Event: EventTyping, Data: typingPayload{ConversationID: conversationID, UserID: userID}}
}

func StopTyping(conversationID, userID string) Outbound {
	return Outbound{Event: EventStopTyping, Data: typingPayload{ConversationID: conversationID, UserID: userID}}
}

func JoinChat(conversationID string) Outbound {
	return Outbound{Event: EventJoinChat, Data: conversationID}
}

func LeaveChat(conversationID string) Outbound {
	return Outbound{Event: EventLeaveChat, Data: conversationID}
}

// MarshalJSON encodes the outbound signal as an envelope.
func (o Outbound) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(o.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: o.Event, Data: data})
}
