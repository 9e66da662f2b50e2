package types

import (
	"fmt"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

const (
	// SystemSender is the reserved sender id for server-generated messages.
	SystemSender = "system"

	MessageTypeSystem  = "system"
	MessageTypeDeleted = "deleted"
	MessageTypeImage   = "image"
	MessageTypeVoice   = "voice"

	// MaxMessageLen is the body clamp for normal text messages.
	// Image/voice payloads carry references, not prose, and are exempt.
	MaxMessageLen = 700

	// HistorySize is the per-room retention window: on every insert the store
	// evicts the oldest message beyond the newest HistorySize (FIFO, not
	// time-based).
	HistorySize = 100
)

// Reaction is a single user's emoji on a message. At most one per
// (message, user); an empty emoji means removal.
type Reaction struct {
	UserId string `json:"userId"`
	Emoji  string `json:"emoji"`
}

type Message struct {
	Seq    int64  `json:"-" gorm:"primaryKey;autoIncrement" hash:"ignore"`
	Id     string `json:"id" gorm:"index" hash:"ignore"`
	RoomId string `json:"roomId" gorm:"index"`
	Sender string `json:"sender"`
	// SenderNickname is resolved at sync/broadcast time, never persisted.
	SenderNickname string       `json:"senderNickname,omitempty" gorm:"-" hash:"ignore"`
	Content        string       `json:"content"`
	Type           string       `json:"type,omitempty"`
	Edited         bool         `json:"edited,omitempty" hash:"ignore"`
	ReplyTo        string       `json:"replyTo,omitempty"`
	Mentions       StringSlice  `json:"mentions,omitempty"`
	Reactions      ReactionList `json:"reactions,omitempty" hash:"ignore"`
	Timestamp      time.Time    `json:"timestamp"`
}

// CreateId derives the message id from a hash over the message content and
// timestamp.
func (m *Message) CreateId() error {
	h, err := hashstructure.Hash(m, hashstructure.FormatV2, nil)
	if err != nil {
		return err
	}
	m.Id = fmt.Sprintf("%016x", h)
	return nil
}

// ClampBody applies the body length clamp unless the message type is exempt.
func (m *Message) ClampBody() {
	if m.Type == MessageTypeImage || m.Type == MessageTypeVoice {
		return
	}
	runes := []rune(m.Content)
	if len(runes) > MaxMessageLen {
		m.Content = string(runes[:MaxMessageLen])
	}
}
