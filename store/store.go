package store

import (
	"errors"
	"fmt"

	"github.com/veilchat/veilchat/config"
	"github.com/veilchat/veilchat/types"
)

// ErrNotFound is returned for missing rooms, participants, messages and music
// state, independent of the backend.
var ErrNotFound = errors.New("not found")

// Store is the durable authority for rooms, participants, messages, bans and
// music state. The core depends only on this interface, never on a backend's
// query shapes.
type Store interface {
	GetRoom(id string) (*types.Room, error)
	CreateRoom(room *types.Room) error
	UpdateRoom(room *types.Room) error
	// DeleteRoom removes the room and cascades to its participants, messages,
	// bans and music state.
	DeleteRoom(id string) error
	ListPublicRooms() ([]*types.Room, error)

	GetParticipant(roomId, userId string) (*types.Participant, error)
	CreateParticipant(participant *types.Participant) error
	UpdateParticipant(participant *types.Participant) error
	ListParticipants(roomId string) ([]*types.Participant, error)

	// AppendMessage appends to the room's retained window, evicting the
	// oldest message beyond types.HistorySize and bumping the total counter.
	AppendMessage(roomId string, msg *types.Message) error
	// Messages returns the retained window in insertion order, oldest first.
	Messages(roomId string) ([]*types.Message, error)
	// UpdateMessage overwrites a message within the retained window by id.
	// Returns ErrNotFound if the id has scrolled out of the window.
	UpdateMessage(roomId string, msg *types.Message) error
	// TotalMessages is the number of messages ever appended, including
	// evicted ones.
	TotalMessages(roomId string) (int64, error)

	BanUser(roomId, userId string) error
	BanIP(roomId, ip string) error
	IsBanned(roomId, userId, ip string) (bool, error)

	// Music returns ErrNotFound while the room has never had a song set.
	Music(roomId string) (*types.MusicInfo, error)
	SaveMusic(info *types.MusicInfo) error
	ClearMusic(roomId string) error

	Close() error
}

// NewStore creates the store backend selected in the configuration.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.PersistenceConfig.Type {
	case "buntdb":
		return NewBuntStore(cfg)
	case "sqlite", "postgres":
		return NewGormStore(cfg)
	}
	return nil, fmt.Errorf("invalid persistence type %q", cfg.PersistenceConfig.Type)
}
