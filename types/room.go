package types

import "time"

// DefaultMaxParticipants is the capacity of an ephemeral pair room.
// Rooms with this capacity are auto-created on first connection attempt and
// deleted once they are both closed and empty. Larger rooms are created
// out-of-band (admin CLI or the HTTP surface) and are never auto-deleted.
const DefaultMaxParticipants = 2

type Room struct {
	Id              string    `json:"id" gorm:"primaryKey"`
	Name            string    `json:"name"`
	MaxParticipants int       `json:"maxParticipants"`
	IsPublic        bool      `json:"isPublic"`
	Closed          bool      `json:"closed"`
	ThemeMode       string    `json:"themeMode"`
	Theme           string    `json:"theme"`
	TotalMessages   int64     `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (r *Room) IsPairRoom() bool {
	return r.MaxParticipants == DefaultMaxParticipants
}
