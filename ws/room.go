package ws

import (
	"encoding/json"
	"fmt"

	"github.com/veilchat/veilchat/globals"
	"github.com/veilchat/veilchat/nickname"
	"github.com/veilchat/veilchat/store"
	"github.com/veilchat/veilchat/types"
)

// AdmissionError is a connection-fatal rejection, carrying the close code the
// client receives.
type AdmissionError struct {
	Code   int
	Reason string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected (%d): %s", e.Code, e.Reason)
}

// Admit runs the full admission protocol for a connection attempt and
// returns the (possibly just created) participant record. Any error is
// fatal to the attempt: an *AdmissionError carries a distinct close code,
// store failures map to the bad-request code. No state is mutated on
// rejection.
func (h *Hub) Admit(roomId, userId, displayName string, capacity int, originIP string) (*types.Participant, error) {
	if originIP == "" {
		return nil, &AdmissionError{Code: types.CloseBadRequest, Reason: "no origin address"}
	}

	room, err := h.store.GetRoom(roomId)
	if err == store.ErrNotFound {
		if capacity == 0 {
			capacity = types.DefaultMaxParticipants
		}
		// only pair rooms are auto-created; larger rooms require an explicit
		// out-of-band create
		if capacity != types.DefaultMaxParticipants {
			return nil, &AdmissionError{Code: types.CloseBadRequest, Reason: "room does not exist"}
		}
		name := displayName
		if name == "" {
			name = roomId
		}
		room = &types.Room{
			Id:              roomId,
			Name:            name,
			MaxParticipants: types.DefaultMaxParticipants,
		}
		if err := h.store.CreateRoom(room); err != nil {
			globals.AppLogger.Error("could not auto-create room", "room", roomId, "error", err)
			return nil, &AdmissionError{Code: types.CloseBadRequest, Reason: "could not create room"}
		}
	} else if err != nil {
		globals.AppLogger.Error("could not get room", "room", roomId, "error", err)
		return nil, &AdmissionError{Code: types.CloseBadRequest, Reason: "store unavailable"}
	}

	banned, err := h.store.IsBanned(roomId, userId, originIP)
	if err != nil {
		globals.AppLogger.Error("could not check ban status", "room", roomId, "user", userId, "error", err)
		return nil, &AdmissionError{Code: types.CloseBadRequest, Reason: "store unavailable"}
	}
	if banned {
		return nil, &AdmissionError{Code: types.CloseBanned, Reason: "banned"}
	}

	participant, err := h.store.GetParticipant(roomId, userId)
	if err != nil && err != store.ErrNotFound {
		globals.AppLogger.Error("could not get participant", "room", roomId, "user", userId, "error", err)
		return nil, &AdmissionError{Code: types.CloseBadRequest, Reason: "store unavailable"}
	}
	ghost := participant != nil && participant.Ghost

	// ghosts neither occupy nor count against capacity, and an existing
	// participant may always bring up additional connections
	if h.registry.OccupantCount(roomId) >= room.MaxParticipants && participant == nil && !ghost {
		return nil, &AdmissionError{Code: types.CloseRoomFull, Reason: "room full"}
	}

	if participant == nil {
		participants, err := h.store.ListParticipants(roomId)
		if err != nil {
			globals.AppLogger.Error("could not list participants", "room", roomId, "error", err)
			return nil, &AdmissionError{Code: types.CloseBadRequest, Reason: "store unavailable"}
		}
		participant = &types.Participant{
			RoomId:   roomId,
			UserId:   userId,
			Nickname: nickname.Generate(nickname.Taken(participants)),
		}
		if err := h.store.CreateParticipant(participant); err != nil {
			globals.AppLogger.Error("could not create participant", "room", roomId, "user", userId, "error", err)
			return nil, &AdmissionError{Code: types.CloseBadRequest, Reason: "store unavailable"}
		}
	}
	return participant, nil
}

// Register attaches an admitted connection to the presence registry,
// announces the join on the user's first connection and pushes the initial
// sync packets to the new connection.
func (h *Hub) Register(c *Client, participant *types.Participant) {
	c.nickname = participant.Nickname
	c.ghost = participant.Ghost

	connCount := h.registry.Attach(c)
	if connCount == 1 && !c.ghost {
		h.BroadcastRoom(c.roomId, &types.Packet{
			Type:    types.PacketTypeParticipantJoined,
			Content: types.PresenceContent{UserId: c.userId, Nickname: c.nickname},
		})
	}

	if msgs, err := h.SyncMessages(c.roomId); err == nil {
		h.sendTo(c, &types.Packet{
			Type:    types.PacketTypeMessagesSync,
			Content: types.MessagesSyncContent{Messages: msgs},
		})
	} else {
		globals.AppLogger.Error("could not sync messages", "room", c.roomId, "error", err)
	}

	h.sendTo(c, h.participantsSyncPacket(c.roomId))

	if room, err := h.store.GetRoom(c.roomId); err == nil {
		h.sendTo(c, &types.Packet{
			Type:    types.PacketTypeThemeChange,
			Content: types.ThemeContent{Mode: room.ThemeMode, Theme: room.Theme},
		})
	}

	h.syncMusicTo(c)
}

// Disconnect detaches the connection, announces the user offline on their
// last connection and deletes a pair room that has become both closed and
// empty. Deletion requires the closed flag so a tab refresh (disconnect
// followed by an immediate reconnect) does not tear the room down.
func (h *Hub) Disconnect(c *Client) {
	remaining, roomEmpty := h.registry.Detach(c)
	if remaining == 0 && !c.ghost {
		h.BroadcastRoom(c.roomId, &types.Packet{
			Type:    types.PacketTypeOffline,
			Content: types.PresenceContent{UserId: c.userId},
		})
	}
	if !roomEmpty {
		return
	}
	room, err := h.store.GetRoom(c.roomId)
	if err != nil {
		if err != store.ErrNotFound {
			globals.AppLogger.Error("could not get room on disconnect", "room", c.roomId, "error", err)
		}
		return
	}
	if room.IsPairRoom() && room.Closed {
		if err := h.store.DeleteRoom(room.Id); err != nil {
			globals.AppLogger.Error("could not delete closed room", "room", room.Id, "error", err)
		}
	}
}

// handleDisconnectIntent flips the room's closed flag. Closing a pair room is
// a two-step protocol: the intent marks the room closed, the actual deletion
// happens once the room is also empty.
func (h *Hub) handleDisconnectIntent(c *Client, _ json.RawMessage) {
	room, err := h.store.GetRoom(c.roomId)
	if err != nil {
		globals.AppLogger.Error("could not get room", "room", c.roomId, "error", err)
		return
	}
	if room.Closed {
		return
	}
	room.Closed = true
	if err := h.store.UpdateRoom(room); err != nil {
		globals.AppLogger.Error("could not mark room closed", "room", c.roomId, "error", err)
	}
}

// handleChangeTheme is authoritative last-writer-wins: persist, then
// broadcast to everyone but the sender.
func (h *Hub) handleChangeTheme(c *Client, content json.RawMessage) {
	theme := types.ThemeContent{}
	if err := decodeContent(content, &theme); err != nil {
		h.sendError(c, "malformed theme")
		return
	}
	room, err := h.store.GetRoom(c.roomId)
	if err != nil {
		globals.AppLogger.Error("could not get room", "room", c.roomId, "error", err)
		h.sendError(c, "could not change theme")
		return
	}
	room.ThemeMode = theme.Mode
	room.Theme = theme.Theme
	if err := h.store.UpdateRoom(room); err != nil {
		globals.AppLogger.Error("could not store theme", "room", c.roomId, "error", err)
		h.sendError(c, "could not change theme")
		return
	}
	h.BroadcastOthers(c.roomId, c, &types.Packet{
		Type:    types.PacketTypeThemeChange,
		Content: theme,
		Sender:  c.userId,
	})
}

func (h *Hub) handleChangeNickname(c *Client, content json.RawMessage) {
	nick := types.NicknameContent{}
	if err := decodeContent(content, &nick); err != nil || nick.Nickname == "" {
		h.sendError(c, "malformed nickname")
		return
	}
	participant, err := h.store.GetParticipant(c.roomId, c.userId)
	if err != nil {
		globals.AppLogger.Error("could not get participant", "room", c.roomId, "user", c.userId, "error", err)
		h.sendError(c, "could not change nickname")
		return
	}
	participant.Nickname = types.TruncateNickname(nick.Nickname)
	if err := h.store.UpdateParticipant(participant); err != nil {
		globals.AppLogger.Error("could not store nickname", "room", c.roomId, "user", c.userId, "error", err)
		h.sendError(c, "could not change nickname")
		return
	}
	for _, conn := range h.registry.Connections(c.roomId) {
		if conn.userId == c.userId {
			conn.nickname = participant.Nickname
		}
	}
	h.broadcastParticipantsSync(c.roomId)
}

// handleTyping relays the indicator to the rest of the room, nothing is
// persisted.
func (h *Hub) handleTyping(c *Client, _ json.RawMessage) {
	h.BroadcastOthers(c.roomId, c, &types.Packet{
		Type:    types.PacketTypeTyping,
		Content: types.PresenceContent{UserId: c.userId, Nickname: c.nickname},
		Sender:  c.userId,
	})
}
