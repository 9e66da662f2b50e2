package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/buntdb"
	"github.com/veilchat/veilchat/config"
	"github.com/veilchat/veilchat/types"
)

// BuntStore is the collection-oriented backend. Entities live under prefixed
// keys, messages under zero-padded sequence keys so that lexicographic key
// order is insertion order.
type BuntStore struct {
	db *buntdb.DB
}

func NewBuntStore(cfg *config.Config) (Store, error) {
	name := cfg.PersistenceConfig.DSN
	if name == "" {
		name = ":memory:"
	}
	db, err := buntdb.Open(name)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func roomKey(id string) string                 { return "room:" + id }
func participantKey(roomId, userId string) string { return "participant:" + roomId + ":" + userId }
func messageKey(roomId string, seq int64) string  { return fmt.Sprintf("message:%s:%020d", roomId, seq) }
func messageSeqKey(roomId string) string       { return "msgseq:" + roomId }
func banUserKey(roomId, userId string) string  { return "ban:user:" + roomId + ":" + userId }
func banIPKey(roomId, ip string) string        { return "ban:ip:" + roomId + ":" + ip }
func musicKey(roomId string) string            { return "music:" + roomId }

func translateBuntErr(err error) error {
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (p *BuntStore) getJSON(key string, out interface{}) error {
	return p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			return translateBuntErr(err)
		}
		return json.Unmarshal([]byte(val), out)
	})
}

func (p *BuntStore) setJSON(key string, val interface{}) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(raw), nil)
		return err
	})
}

func (p *BuntStore) GetRoom(id string) (*types.Room, error) {
	room := &types.Room{}
	if err := p.getJSON(roomKey(id), room); err != nil {
		return nil, err
	}
	return room, nil
}

func (p *BuntStore) CreateRoom(room *types.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	return p.setJSON(roomKey(room.Id), room)
}

func (p *BuntStore) UpdateRoom(room *types.Room) error {
	return p.setJSON(roomKey(room.Id), room)
}

func (p *BuntStore) DeleteRoom(id string) error {
	prefixes := []string{
		roomKey(id),
		"participant:" + id + ":*",
		"message:" + id + ":*",
		messageSeqKey(id),
		"ban:user:" + id + ":*",
		"ban:ip:" + id + ":*",
		musicKey(id),
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		doomed := make([]string, 0)
		for _, pattern := range prefixes {
			err := tx.AscendKeys(pattern, func(key, _ string) bool {
				doomed = append(doomed, key)
				return true
			})
			if err != nil {
				return err
			}
		}
		for _, key := range doomed {
			if _, err := tx.Delete(key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

func (p *BuntStore) ListPublicRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("room:*", func(_, val string) bool {
			room := &types.Room{}
			if err := json.Unmarshal([]byte(val), room); err == nil && room.IsPublic {
				rooms = append(rooms, room)
			}
			return true
		})
	})
	return rooms, err
}

func (p *BuntStore) GetParticipant(roomId, userId string) (*types.Participant, error) {
	participant := &types.Participant{}
	if err := p.getJSON(participantKey(roomId, userId), participant); err != nil {
		return nil, err
	}
	return participant, nil
}

func (p *BuntStore) CreateParticipant(participant *types.Participant) error {
	if participant.CreatedAt.IsZero() {
		participant.CreatedAt = time.Now()
	}
	return p.setJSON(participantKey(participant.RoomId, participant.UserId), participant)
}

func (p *BuntStore) UpdateParticipant(participant *types.Participant) error {
	return p.setJSON(participantKey(participant.RoomId, participant.UserId), participant)
}

func (p *BuntStore) ListParticipants(roomId string) ([]*types.Participant, error) {
	participants := make([]*types.Participant, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("participant:"+roomId+":*", func(_, val string) bool {
			participant := &types.Participant{}
			if err := json.Unmarshal([]byte(val), participant); err == nil {
				participants = append(participants, participant)
			}
			return true
		})
	})
	return participants, err
}

// marshalMessage serializes a message for storage. SenderNickname is resolved
// at sync/broadcast time and must not be written to disk, where it would go
// stale on the next nickname change.
func marshalMessage(msg *types.Message) ([]byte, error) {
	stored := *msg
	stored.SenderNickname = ""
	return json.Marshal(&stored)
}

func (p *BuntStore) AppendMessage(roomId string, msg *types.Message) error {
	raw, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		seq := int64(0)
		if val, err := tx.Get(messageSeqKey(roomId)); err == nil {
			seq, _ = strconv.ParseInt(val, 10, 64)
		} else if err != buntdb.ErrNotFound {
			return err
		}
		seq++
		if _, _, err := tx.Set(messageSeqKey(roomId), strconv.FormatInt(seq, 10), nil); err != nil {
			return err
		}
		if _, _, err := tx.Set(messageKey(roomId, seq), string(raw), nil); err != nil {
			return err
		}
		// evict the oldest beyond the retention window
		doomed := make([]string, 0)
		count := 0
		err := tx.DescendKeys("message:"+roomId+":*", func(key, _ string) bool {
			count++
			if count > types.HistorySize {
				doomed = append(doomed, key)
			}
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range doomed {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *BuntStore) Messages(roomId string) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("message:"+roomId+":*", func(_, val string) bool {
			msg := &types.Message{}
			if err := json.Unmarshal([]byte(val), msg); err == nil {
				messages = append(messages, msg)
			}
			return true
		})
	})
	return messages, err
}

func (p *BuntStore) UpdateMessage(roomId string, msg *types.Message) error {
	raw, err := marshalMessage(msg)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		targetKey := ""
		err := tx.AscendKeys("message:"+roomId+":*", func(key, val string) bool {
			existing := &types.Message{}
			if err := json.Unmarshal([]byte(val), existing); err == nil && existing.Id == msg.Id {
				targetKey = key
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if targetKey == "" {
			return ErrNotFound
		}
		_, _, err = tx.Set(targetKey, string(raw), nil)
		return err
	})
}

func (p *BuntStore) TotalMessages(roomId string) (int64, error) {
	total := int64(0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(messageSeqKey(roomId))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		total, err = strconv.ParseInt(val, 10, 64)
		return err
	})
	return total, err
}

func (p *BuntStore) BanUser(roomId, userId string) error {
	ban := types.Ban{RoomId: roomId, UserId: userId, CreatedAt: time.Now()}
	return p.setJSON(banUserKey(roomId, userId), &ban)
}

func (p *BuntStore) BanIP(roomId, ip string) error {
	ban := types.Ban{RoomId: roomId, IP: ip, CreatedAt: time.Now()}
	return p.setJSON(banIPKey(roomId, ip), &ban)
}

func (p *BuntStore) IsBanned(roomId, userId, ip string) (bool, error) {
	banned := false
	err := p.db.View(func(tx *buntdb.Tx) error {
		if userId != "" {
			if _, err := tx.Get(banUserKey(roomId, userId)); err == nil {
				banned = true
				return nil
			} else if err != buntdb.ErrNotFound {
				return err
			}
		}
		if ip != "" {
			if _, err := tx.Get(banIPKey(roomId, ip)); err == nil {
				banned = true
				return nil
			} else if err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
	return banned, err
}

func (p *BuntStore) Music(roomId string) (*types.MusicInfo, error) {
	info := &types.MusicInfo{}
	if err := p.getJSON(musicKey(roomId), info); err != nil {
		return nil, err
	}
	return info, nil
}

func (p *BuntStore) SaveMusic(info *types.MusicInfo) error {
	return p.setJSON(musicKey(info.RoomId), info)
}

func (p *BuntStore) ClearMusic(roomId string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(musicKey(roomId))
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

func (p *BuntStore) Close() error {
	return p.db.Close()
}
