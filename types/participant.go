package types

import "time"

// MaxNicknameLen is the hard limit on nickname length, longer names are truncated.
const MaxNicknameLen = 20

// Participant is the durable (room, user) membership record. It is created on
// the first successful connection and survives disconnects; it is only removed
// together with its room. A ghost participant does not occupy a capacity slot
// and does not trigger join/offline broadcasts.
type Participant struct {
	RoomId    string    `json:"roomId" gorm:"primaryKey"`
	UserId    string    `json:"userId" gorm:"primaryKey"`
	Nickname  string    `json:"nickname"`
	Ghost     bool      `json:"ghost"`
	CreatedAt time.Time `json:"-"`
}

// TruncateNickname clamps a nickname to MaxNicknameLen runes.
func TruncateNickname(nick string) string {
	runes := []rune(nick)
	if len(runes) > MaxNicknameLen {
		return string(runes[:MaxNicknameLen])
	}
	return nick
}
