package storage

import (
	"encoding/binary"
	"fmt"
	"time"

	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
)

// Snapshot is the local offline cache seeded from hydration and kept
// current as live events are applied. It is strictly best-effort: the
// in-memory state never depends on it.
type Snapshot struct {
	db *bbolt.DB
}

func NewSnapshot(path string) (*Snapshot, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketConversations); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketMessages); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &Snapshot{db: db}, nil
}

func (s *Snapshot) Close() error {
	return s.db.Close()
}

// SaveConversations replaces the stored conversation list. Keys carry
// the list position so a later load preserves most-recent-first order.
func (s *Snapshot) SaveConversations(conversations []models.Conversation) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketConversations); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketConversations)
		if err != nil {
			return err
		}

		for i, conv := range conversations {
			dbc := toDBConversation(conv)
			data, err := dbc.MarshalBinary()
			if err != nil {
				return err
			}
			key := make([]byte, 4)
			binary.BigEndian.PutUint32(key, uint32(i))
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadConversations returns the stored list in its saved order. An
// empty snapshot yields an empty list, not an error.
func (s *Snapshot) LoadConversations() ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		return b.ForEach(func(k, v []byte) error {
			var dbc DBConversation
			if err := dbc.UnmarshalBinary(v); err != nil {
				return err
			}
			conversations = append(conversations, fromDBConversation(dbc))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	return conversations, nil
}

// SaveMessages stores the message tail of one conversation.
func (s *Snapshot) SaveMessages(conversationID string, messages []models.Message) error {
	list := DBMessageList{Messages: make([]DBMessage, 0, len(messages))}
	for _, m := range messages {
		list.Messages = append(list.Messages, toDBMessage(m))
	}
	data, err := list.MarshalBinary()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMessages).Put([]byte(conversationID), data)
	})
}

// LoadMessages returns the stored tail for a conversation, or an empty
// list when nothing has been cached for it yet.
func (s *Snapshot) LoadMessages(conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(conversationID))
		if data == nil {
			return nil
		}
		var list DBMessageList
		if err := list.UnmarshalBinary(data); err != nil {
			return err
		}
		for _, m := range list.Messages {
			messages = append(messages, fromDBMessage(m))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", conversationID, err)
	}
	return messages, nil
}
