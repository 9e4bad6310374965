package storage

import (
	"palaver/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

// On-disk representations are kept separate from the wire models so
// the snapshot format can evolve independently of the server schema.

type DBUser struct {
	ID           string `msgpack:"id"`
	Username     string `msgpack:"username"`
	DisplayName  string `msgpack:"displayName"`
	ProfileImage string `msgpack:"profileImage"`
	Bio          string `msgpack:"bio"`
}

func (u *DBUser) MarshalBinary() ([]byte, error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBAttachment struct {
	Kind     string `msgpack:"kind"`
	URL      string `msgpack:"url"`
	MimeType string `msgpack:"mimeType"`
}

type DBPost struct {
	ID       string `msgpack:"id"`
	AuthorID string `msgpack:"authorId"`
	Caption  string `msgpack:"caption"`
	ImageURL string `msgpack:"imageUrl"`
}

type DBMessage struct {
	ID             string        `msgpack:"id"`
	ConversationID string        `msgpack:"conversationId"`
	SenderID       string        `msgpack:"senderId"`
	Content        string        `msgpack:"content"`
	Attachment     *DBAttachment `msgpack:"attachment"`
	SharedPost     *DBPost       `msgpack:"sharedPost"`
	CreatedAt      int64         `msgpack:"createdAt"`
}

func (m *DBMessage) MarshalBinary() ([]byte, error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBConversation struct {
	ID           string     `msgpack:"id"`
	Participants []DBUser   `msgpack:"participants"`
	LastMessage  *DBMessage `msgpack:"lastMessage"`
}

func (c *DBConversation) MarshalBinary() ([]byte, error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessageList struct {
	Messages []DBMessage `msgpack:"messages"`
}

func (l *DBMessageList) MarshalBinary() ([]byte, error) {
	type alias DBMessageList
	return msgpack.Marshal((*alias)(l))
}

func (l *DBMessageList) UnmarshalBinary(data []byte) error {
	type alias DBMessageList
	return msgpack.Unmarshal(data, (*alias)(l))
}

func toDBUser(u models.User) DBUser {
	return DBUser{
		ID:           u.ID,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		ProfileImage: u.ProfileImage,
		Bio:          u.Bio,
	}
}

func fromDBUser(u DBUser) models.User {
	return models.User{
		ID:           u.ID,
		Username:     u.Username,
		DisplayName:  u.DisplayName,
		ProfileImage: u.ProfileImage,
		Bio:          u.Bio,
	}
}

func toDBMessage(m models.Message) DBMessage {
	dbm := DBMessage{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if m.Attachment != nil {
		dbm.Attachment = &DBAttachment{
			Kind:     string(m.Attachment.Kind),
			URL:      m.Attachment.URL,
			MimeType: m.Attachment.MimeType,
		}
	}
	if m.SharedPost != nil {
		dbm.SharedPost = &DBPost{
			ID:       m.SharedPost.ID,
			AuthorID: m.SharedPost.AuthorID,
			Caption:  m.SharedPost.Caption,
			ImageURL: m.SharedPost.ImageURL,
		}
	}
	return dbm
}

func fromDBMessage(m DBMessage) models.Message {
	msg := models.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	if m.Attachment != nil {
		msg.Attachment = &models.Attachment{
			Kind:     models.AttachmentKind(m.Attachment.Kind),
			URL:      m.Attachment.URL,
			MimeType: m.Attachment.MimeType,
		}
	}
	if m.SharedPost != nil {
		msg.SharedPost = &models.Post{
			ID:       m.SharedPost.ID,
			AuthorID: m.SharedPost.AuthorID,
			Caption:  m.SharedPost.Caption,
			ImageURL: m.SharedPost.ImageURL,
		}
	}
	return msg
}

func toDBConversation(c models.Conversation) DBConversation {
	dbc := DBConversation{ID: c.ID}
	for _, p := range c.Participants {
		dbc.Participants = append(dbc.Participants, toDBUser(p))
	}
	if c.LastMessage != nil {
		m := toDBMessage(*c.LastMessage)
		dbc.LastMessage = &m
	}
	return dbc
}

func fromDBConversation(c DBConversation) models.Conversation {
	conv := models.Conversation{ID: c.ID}
	for _, p := range c.Participants {
		conv.Participants = append(conv.Participants, fromDBUser(p))
	}
	if c.LastMessage != nil {
		m := fromDBMessage(*c.LastMessage)
		conv.LastMessage = &m
	}
	return conv
}
