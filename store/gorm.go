package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/veilchat/veilchat/config"
	"github.com/veilchat/veilchat/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the relational backend, usable with sqlite and postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(cfg *config.Config) (Store, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&types.Room{}, &types.Participant{}, &types.Message{}, &types.Ban{}, &types.MusicInfo{})
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func translateGormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormStore) GetRoom(id string) (*types.Room, error) {
	room := &types.Room{}
	err := p.db.First(room, "id = ?", id).Error
	if err != nil {
		return nil, translateGormErr(err)
	}
	return room, nil
}

func (p *GormStore) CreateRoom(room *types.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now()
	}
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(room).Error
}

func (p *GormStore) UpdateRoom(room *types.Room) error {
	return p.db.Save(room).Error
}

func (p *GormStore) DeleteRoom(id string) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&types.Room{}, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&types.Participant{}, "room_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&types.Message{}, "room_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&types.Ban{}, "room_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&types.MusicInfo{}, "room_id = ?", id).Error
	})
}

func (p *GormStore) ListPublicRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Where("is_public = ?", true).Find(&rooms).Error
	return rooms, err
}

func (p *GormStore) GetParticipant(roomId, userId string) (*types.Participant, error) {
	participant := &types.Participant{}
	err := p.db.First(participant, "room_id = ? AND user_id = ?", roomId, userId).Error
	if err != nil {
		return nil, translateGormErr(err)
	}
	return participant, nil
}

func (p *GormStore) CreateParticipant(participant *types.Participant) error {
	if participant.CreatedAt.IsZero() {
		participant.CreatedAt = time.Now()
	}
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(participant).Error
}

func (p *GormStore) UpdateParticipant(participant *types.Participant) error {
	return p.db.Save(participant).Error
}

func (p *GormStore) ListParticipants(roomId string) ([]*types.Participant, error) {
	participants := make([]*types.Participant, 0)
	err := p.db.Where("room_id = ?", roomId).Find(&participants).Error
	return participants, err
}

func (p *GormStore) AppendMessage(roomId string, msg *types.Message) error {
	msg.RoomId = roomId
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		err := tx.Model(&types.Room{}).Where("id = ?", roomId).
			UpdateColumn("total_messages", gorm.Expr("total_messages + 1")).Error
		if err != nil {
			return err
		}
		// evict the oldest beyond the retention window
		keep := tx.Model(&types.Message{}).Select("seq").
			Where("room_id = ?", roomId).Order("seq DESC").Limit(types.HistorySize)
		return tx.Where("room_id = ? AND seq NOT IN (?)", roomId, keep).
			Delete(&types.Message{}).Error
	})
}

func (p *GormStore) Messages(roomId string) ([]*types.Message, error) {
	messages := make([]*types.Message, 0)
	err := p.db.Where("room_id = ?", roomId).Order("seq ASC").Find(&messages).Error
	return messages, err
}

func (p *GormStore) UpdateMessage(roomId string, msg *types.Message) error {
	res := p.db.Model(&types.Message{}).
		Where("room_id = ? AND id = ?", roomId, msg.Id).
		Updates(map[string]interface{}{
			"content":   msg.Content,
			"type":      msg.Type,
			"edited":    msg.Edited,
			"reactions": msg.Reactions,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *GormStore) TotalMessages(roomId string) (int64, error) {
	room := &types.Room{}
	err := p.db.Select("total_messages").First(room, "id = ?", roomId).Error
	if err != nil {
		return 0, translateGormErr(err)
	}
	return room.TotalMessages, nil
}

func (p *GormStore) BanUser(roomId, userId string) error {
	ban := types.Ban{RoomId: roomId, UserId: userId}
	return p.db.Create(&ban).Error
}

func (p *GormStore) BanIP(roomId, ip string) error {
	ban := types.Ban{RoomId: roomId, IP: ip}
	return p.db.Create(&ban).Error
}

func (p *GormStore) IsBanned(roomId, userId, ip string) (bool, error) {
	var count int64
	err := p.db.Model(&types.Ban{}).
		Where("room_id = ? AND ((user_id <> '' AND user_id = ?) OR (ip <> '' AND ip = ?))", roomId, userId, ip).
		Count(&count).Error
	return count > 0, err
}

func (p *GormStore) Music(roomId string) (*types.MusicInfo, error) {
	info := &types.MusicInfo{}
	err := p.db.First(info, "room_id = ?", roomId).Error
	if err != nil {
		return nil, translateGormErr(err)
	}
	return info, nil
}

func (p *GormStore) SaveMusic(info *types.MusicInfo) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(info).Error
}

func (p *GormStore) ClearMusic(roomId string) error {
	return p.db.Delete(&types.MusicInfo{}, "room_id = ?", roomId).Error
}

func (p *GormStore) Close() error {
	return nil
}
