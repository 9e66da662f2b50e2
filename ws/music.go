package ws

import (
	"encoding/json"
	"fmt"

	"github.com/veilchat/veilchat/globals"
	"github.com/veilchat/veilchat/store"
	"github.com/veilchat/veilchat/types"
)

// Shared playback state machine: absent -> paused -> playing -> paused ...
// -> absent once the queue empties. All mutations go through these handlers;
// the store row is the authority, clients only mirror it.

// music loads the room's music state, nil means absent.
func (h *Hub) music(roomId string) (*types.MusicInfo, bool) {
	info, err := h.store.Music(roomId)
	if err == store.ErrNotFound {
		return nil, true
	}
	if err != nil {
		globals.AppLogger.Error("could not load music state", "room", roomId, "error", err)
		return nil, false
	}
	return info, true
}

func (h *Hub) saveMusic(c *Client, info *types.MusicInfo) bool {
	if err := h.store.SaveMusic(info); err != nil {
		globals.AppLogger.Error("could not store music state", "room", info.RoomId, "error", err)
		h.sendError(c, "could not update music state")
		return false
	}
	return true
}

// handleMusicSet replaces the current song. If one was already set, an
// implicit pause is broadcast first to stop the previous client-side clocks.
func (h *Hub) handleMusicSet(c *Client, content json.RawMessage) {
	in := types.MusicSetContent{}
	if err := decodeContent(content, &in); err != nil || in.Url == "" {
		h.sendError(c, "malformed song")
		return
	}
	info, ok := h.music(c.roomId)
	if !ok {
		h.sendError(c, "could not update music state")
		return
	}
	if info != nil && info.Song.Url != "" {
		h.BroadcastRoom(c.roomId, &types.Packet{Type: types.PacketTypeMusicPause})
	}
	if info == nil {
		info = &types.MusicInfo{RoomId: c.roomId}
	}
	info.Song = types.Song{Name: in.Name, Url: in.Url}
	info.Progress = 0
	info.State = types.MusicStatePaused
	info.SkipVotes = nil
	info.FinishedUsers = nil
	if !h.saveMusic(c, info) {
		return
	}
	h.BroadcastRoom(c.roomId, &types.Packet{
		Type:    types.PacketTypeMusicSet,
		Content: info.Song,
		Sender:  c.userId,
	})
}

func (h *Hub) handleMusicPlay(c *Client, content json.RawMessage) {
	in := types.MusicPositionContent{}
	if err := decodeContent(content, &in); err != nil {
		h.sendError(c, "malformed play packet")
		return
	}
	info, ok := h.music(c.roomId)
	if !ok || info == nil {
		return
	}
	info.State = types.MusicStatePlaying
	info.PlayTime = h.now()
	info.Progress = in.CurrentTime
	if !h.saveMusic(c, info) {
		return
	}
	h.BroadcastRoom(c.roomId, &types.Packet{
		Type:    types.PacketTypeMusicPlay,
		Content: types.MusicPositionContent{CurrentTime: info.Progress},
		Sender:  c.userId,
	})
}

func (h *Hub) handleMusicPause(c *Client, content json.RawMessage) {
	in := types.MusicPositionContent{}
	if err := decodeContent(content, &in); err != nil {
		h.sendError(c, "malformed pause packet")
		return
	}
	info, ok := h.music(c.roomId)
	if !ok || info == nil {
		return
	}
	if in.CurrentTime > 0 {
		info.Progress = in.CurrentTime
	} else {
		info.Progress = info.CurrentPosition(h.now())
	}
	info.State = types.MusicStatePaused
	if !h.saveMusic(c, info) {
		return
	}
	h.BroadcastRoom(c.roomId, &types.Packet{
		Type:    types.PacketTypeMusicPause,
		Content: types.MusicPositionContent{CurrentTime: info.Progress},
		Sender:  c.userId,
	})
	h.systemMessage(c.roomId, fmt.Sprintf("%s paused the music", h.resolveNickname(c)))
}

// handleMusicProgress is a passive position report from the playing client.
// It refreshes the stored position and anchor for late-joiner sync, nothing
// is broadcast.
func (h *Hub) handleMusicProgress(c *Client, content json.RawMessage) {
	in := types.MusicPositionContent{}
	if err := decodeContent(content, &in); err != nil {
		return
	}
	info, ok := h.music(c.roomId)
	if !ok || info == nil {
		return
	}
	info.Progress = in.CurrentTime
	if info.State == types.MusicStatePlaying {
		info.PlayTime = h.now()
	}
	if err := h.store.SaveMusic(info); err != nil {
		globals.AppLogger.Error("could not store music progress", "room", c.roomId, "error", err)
	}
}

// handleMusicAddQueue appends a song to the queue, or makes it the current
// song immediately when nothing is set.
func (h *Hub) handleMusicAddQueue(c *Client, content json.RawMessage) {
	in := types.MusicSetContent{}
	if err := decodeContent(content, &in); err != nil || in.Url == "" {
		h.sendError(c, "malformed song")
		return
	}
	info, ok := h.music(c.roomId)
	if !ok {
		h.sendError(c, "could not update music state")
		return
	}
	song := types.Song{Name: in.Name, Url: in.Url}
	if info == nil || info.Song.Url == "" {
		if info == nil {
			info = &types.MusicInfo{RoomId: c.roomId}
		}
		info.Song = song
		info.Progress = 0
		info.State = types.MusicStatePaused
		if !h.saveMusic(c, info) {
			return
		}
		h.BroadcastRoom(c.roomId, &types.Packet{
			Type:    types.PacketTypeMusicSet,
			Content: info.Song,
			Sender:  c.userId,
		})
		return
	}
	info.Queue = append(info.Queue, song)
	if !h.saveMusic(c, info) {
		return
	}
	h.BroadcastRoom(c.roomId, &types.Packet{
		Type:    types.PacketTypeMusicQueueUpdate,
		Content: info.Queue,
		Sender:  c.userId,
	})
}

// handleMusicSkipRequest tallies a deduplicated skip vote against a majority
// of the currently online users. Votes are deliberately not purged when a
// voter disconnects: a vote survives a tab refresh and still counts at the
// next tally, which can at worst advance the track one live vote early.
func (h *Hub) handleMusicSkipRequest(c *Client, _ json.RawMessage) {
	info, ok := h.music(c.roomId)
	if !ok || info == nil || info.Song.Url == "" {
		return
	}
	if !info.AddSkipVote(c.userId) {
		return
	}
	votes := len(info.SkipVotes)
	needed := types.Quorum(h.registry.UserCount(c.roomId))
	if votes < needed {
		if !h.saveMusic(c, info) {
			return
		}
		h.BroadcastRoom(c.roomId, &types.Packet{
			Type:    types.PacketTypeMusicSkipResult,
			Content: types.SkipResultContent{Skipped: false, Votes: votes, Needed: needed},
		})
		h.systemMessage(c.roomId, fmt.Sprintf("skip requested: %d/%d votes needed", votes, needed))
		return
	}
	h.advanceMusic(c, info, true)
	h.BroadcastRoom(c.roomId, &types.Packet{
		Type:    types.PacketTypeMusicSkipResult,
		Content: types.SkipResultContent{Skipped: true, Votes: votes, Needed: needed},
	})
}

// handleMusicFinished is the end-of-track counterpart of the skip vote: same
// quorum rule over the finished set, but the advance is silent.
func (h *Hub) handleMusicFinished(c *Client, _ json.RawMessage) {
	info, ok := h.music(c.roomId)
	if !ok || info == nil || info.Song.Url == "" {
		return
	}
	if !info.AddFinishedVote(c.userId) {
		return
	}
	votes := len(info.FinishedUsers)
	needed := types.Quorum(h.registry.UserCount(c.roomId))
	if votes < needed {
		h.saveMusic(c, info)
		return
	}
	h.advanceMusic(c, info, false)
}

// advanceMusic pops the queue head as the new current song or clears the
// music state entirely when the queue is empty.
func (h *Hub) advanceMusic(c *Client, info *types.MusicInfo, announce bool) {
	if info.Advance() {
		if !h.saveMusic(c, info) {
			return
		}
		if announce {
			h.systemMessage(c.roomId, fmt.Sprintf("skipped to %s", info.Song.Name))
		}
		h.BroadcastRoom(c.roomId, &types.Packet{
			Type:    types.PacketTypeMusicSet,
			Content: info.Song,
		})
		return
	}
	if err := h.store.ClearMusic(c.roomId); err != nil {
		globals.AppLogger.Error("could not clear music state", "room", c.roomId, "error", err)
		return
	}
	if announce {
		h.systemMessage(c.roomId, "skipped, queue is empty")
	}
	h.BroadcastRoom(c.roomId, &types.Packet{
		Type:    types.PacketTypeMusicSet,
		Content: types.Song{},
	})
}

// syncMusicTo pushes the full music state to a newly attached connection.
// While playing, an additional play packet carries the drift-compensated
// position so the new client starts in sync rather than at the stored
// progress.
func (h *Hub) syncMusicTo(c *Client) {
	info, ok := h.music(c.roomId)
	if !ok || info == nil {
		return
	}
	h.sendTo(c, &types.Packet{
		Type:    types.PacketTypeMusicSync,
		Content: info,
	})
	if info.State == types.MusicStatePlaying {
		h.sendTo(c, &types.Packet{
			Type:    types.PacketTypeMusicPlay,
			Content: types.MusicPositionContent{CurrentTime: info.CurrentPosition(h.now())},
		})
	}
}
