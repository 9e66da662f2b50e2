package types

import "encoding/json"

// Inbound packet types.
const (
	PacketTypeMessage          = "message"
	PacketTypeReaction         = "reaction"
	PacketTypeMessageDelete    = "message_delete"
	PacketTypeEditMessage      = "edit_message"
	PacketTypeChangeNickname   = "change_nickname"
	PacketTypeChangeTheme      = "change_theme"
	PacketTypeDisconnect       = "disconnect"
	PacketTypeTyping           = "typing"
	PacketTypeMusicSet         = "music_set"
	PacketTypeMusicPause       = "music_pause"
	PacketTypeMusicPlay        = "music_play"
	PacketTypeMusicProgress    = "music_progress"
	PacketTypeMusicSkipRequest = "music_skip_request"
	PacketTypeMusicAddQueue    = "music_add_queue"
	PacketTypeMusicFinished    = "music_finished"
)

// Outbound-only packet types.
const (
	PacketTypeParticipantJoined = "participant_joined"
	PacketTypeOffline           = "offline"
	PacketTypeMessageAck        = "message_acknowledgment"
	PacketTypeMessagesSync      = "messages_sync"
	PacketTypeParticipantsSync  = "participants_sync"
	PacketTypeMusicSync         = "music_sync"
	PacketTypeMusicQueueUpdate  = "music_queue_update"
	PacketTypeMusicSkipResult   = "music_skip_result"
	PacketTypeThemeChange       = "theme_change"
	PacketTypeError             = "error"
)

// Close codes, distinct per rejection reason so clients do not have to parse
// the reason string.
const (
	CloseBadRequest = 4400
	CloseBanned     = 4403
	CloseRoomFull   = 4409
)

// Packet is the outbound wire envelope.
type Packet struct {
	Type    string      `json:"type"`
	Content interface{} `json:"content,omitempty"`
	Sender  string      `json:"sender,omitempty"`
}

// RawPacket is the inbound wire envelope; Content is decoded per type.
type RawPacket struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	Sender  string          `json:"sender"`
}

// Inbound payloads.

type MessageContent struct {
	Content  string   `json:"content" mapstructure:"content"`
	Type     string   `json:"type,omitempty" mapstructure:"type"`
	ReplyTo  string   `json:"replyTo,omitempty" mapstructure:"replyTo"`
	Mentions []string `json:"mentions,omitempty" mapstructure:"mentions"`
}

type ReactionContent struct {
	MessageId string `json:"messageId" mapstructure:"messageId"`
	Emoji     string `json:"emoji" mapstructure:"emoji"`
}

type MessageRefContent struct {
	MessageId string `json:"messageId" mapstructure:"messageId"`
}

type EditContent struct {
	MessageId string `json:"messageId" mapstructure:"messageId"`
	Content   string `json:"content" mapstructure:"content"`
}

type NicknameContent struct {
	Nickname string `json:"nickname" mapstructure:"nickname"`
}

type ThemeContent struct {
	Mode  string `json:"mode" mapstructure:"mode"`
	Theme string `json:"theme" mapstructure:"theme"`
}

type MusicSetContent struct {
	Name string `json:"name" mapstructure:"name"`
	Url  string `json:"url" mapstructure:"url"`
}

type MusicPositionContent struct {
	CurrentTime float64 `json:"currentTime" mapstructure:"currentTime"`
}

// Outbound payloads.

type AckContent struct {
	Id string `json:"id"`
}

type PresenceContent struct {
	UserId   string `json:"userId"`
	Nickname string `json:"nickname,omitempty"`
}

type ParticipantInfo struct {
	UserId   string `json:"userId"`
	Nickname string `json:"nickname"`
	Online   bool   `json:"online"`
}

type MessagesSyncContent struct {
	Messages []*Message `json:"messages"`
}

type SkipResultContent struct {
	Skipped bool `json:"skipped"`
	Votes   int  `json:"votes"`
	Needed  int  `json:"needed"`
}

type ErrorContent struct {
	Reason string `json:"reason"`
}
