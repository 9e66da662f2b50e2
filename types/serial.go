package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSON-column slice types, need to implement the driver.Valuer and
// sql.Scanner interfaces so the relational backend can embed them.

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	ba, err := json.Marshal([]string(s))
	return string(ba), err
}

func (s *StringSlice) Scan(val interface{}) error {
	ba, err := scanBytes(val)
	if err != nil {
		return err
	}
	t := make([]string, 0)
	err = json.Unmarshal(ba, &t)
	*s = StringSlice(t)
	return err
}

func (StringSlice) GormDataType() string {
	return "stringslice"
}

func (StringSlice) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

type ReactionList []Reaction

func (l ReactionList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	ba, err := json.Marshal([]Reaction(l))
	return string(ba), err
}

func (l *ReactionList) Scan(val interface{}) error {
	ba, err := scanBytes(val)
	if err != nil {
		return err
	}
	t := make([]Reaction, 0)
	err = json.Unmarshal(ba, &t)
	*l = ReactionList(t)
	return err
}

func (ReactionList) GormDataType() string {
	return "reactionlist"
}

func (ReactionList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

type SongList []Song

func (l SongList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	ba, err := json.Marshal([]Song(l))
	return string(ba), err
}

func (l *SongList) Scan(val interface{}) error {
	ba, err := scanBytes(val)
	if err != nil {
		return err
	}
	t := make([]Song, 0)
	err = json.Unmarshal(ba, &t)
	*l = SongList(t)
	return err
}

func (SongList) GormDataType() string {
	return "songlist"
}

func (SongList) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonColumnType(db)
}

func scanBytes(val interface{}) ([]byte, error) {
	if val == nil {
		return []byte("null"), nil
	}
	switch v := val.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New(fmt.Sprint("failed to unmarshal JSON value:", val))
	}
}

func jsonColumnType(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "JSON"
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
