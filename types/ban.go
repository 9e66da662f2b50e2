package types

import "time"

// Ban blocks a user id or an origin ip from a room. The two sets are
// independent, either match rejects or terminates a connection.
type Ban struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	RoomId    string    `json:"roomId" gorm:"index"`
	UserId    string    `json:"userId,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
