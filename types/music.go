package types

import "time"

const (
	MusicStatePlaying = "playing"
	MusicStatePaused  = "paused"
)

type Song struct {
	Name string `json:"name"`
	Url  string `json:"url"`
}

// MusicInfo is the shared per-room playback state. It exists only once a room
// has ever set a song and is mutated exclusively through the music handlers.
// PlayTime anchors the wall clock while playing so that late joiners can be
// started at a drift-compensated position instead of the stored progress.
type MusicInfo struct {
	RoomId        string      `json:"roomId" gorm:"primaryKey"`
	Song          Song        `json:"song" gorm:"embedded;embeddedPrefix:song_"`
	Progress      float64     `json:"progress"`
	State         string      `json:"state"`
	PlayTime      time.Time   `json:"playTime"`
	Queue         SongList    `json:"queue"`
	SkipVotes     StringSlice `json:"skipVotes"`
	FinishedUsers StringSlice `json:"finishedUsers"`
}

// CurrentPosition returns the playback position in seconds as of now,
// compensating for the wall-clock time elapsed since PlayTime when playing.
func (m *MusicInfo) CurrentPosition(now time.Time) float64 {
	if m.State != MusicStatePlaying {
		return m.Progress
	}
	return m.Progress + now.Sub(m.PlayTime).Seconds()
}

// AddSkipVote records a skip vote, returns false for a duplicate.
func (m *MusicInfo) AddSkipVote(userId string) bool {
	for _, u := range m.SkipVotes {
		if u == userId {
			return false
		}
	}
	m.SkipVotes = append(m.SkipVotes, userId)
	return true
}

// AddFinishedVote records a track-ended report, returns false for a duplicate.
func (m *MusicInfo) AddFinishedVote(userId string) bool {
	for _, u := range m.FinishedUsers {
		if u == userId {
			return false
		}
	}
	m.FinishedUsers = append(m.FinishedUsers, userId)
	return true
}

// Advance pops the queue head as the new current song and clears both vote
// sets. It returns false if the queue was empty, in which case the music
// state should transition to absent.
func (m *MusicInfo) Advance() bool {
	m.SkipVotes = nil
	m.FinishedUsers = nil
	m.Progress = 0
	m.State = MusicStatePaused
	if len(m.Queue) == 0 {
		m.Song = Song{}
		return false
	}
	m.Song = m.Queue[0]
	m.Queue = m.Queue[1:]
	return true
}

// Quorum is the number of votes required to advance playback: a majority of
// the users online in the room at the moment of the vote.
func Quorum(onlineCount int) int {
	if onlineCount < 1 {
		return 1
	}
	return (onlineCount + 1) / 2
}
