package ws

import (
	"encoding/json"
	"fmt"

	"github.com/veilchat/veilchat/globals"
	"github.com/veilchat/veilchat/store"
	"github.com/veilchat/veilchat/types"
)

func (h *Hub) handleMessage(c *Client, content json.RawMessage) {
	in := types.MessageContent{}
	if err := decodeContent(content, &in); err != nil {
		h.sendError(c, "malformed message")
		return
	}
	msg := &types.Message{
		RoomId:    c.roomId,
		Sender:    c.userId,
		Content:   in.Content,
		Type:      in.Type,
		ReplyTo:   in.ReplyTo,
		Mentions:  in.Mentions,
		Timestamp: h.now(),
	}
	msg.ClampBody()
	msg.SenderNickname = h.resolveNickname(c)
	if err := msg.CreateId(); err != nil {
		globals.AppLogger.Error("could not hash message", "error", err)
		h.sendError(c, "could not send message")
		return
	}
	if err := h.store.AppendMessage(c.roomId, msg); err != nil {
		globals.AppLogger.Error("could not store message", "room", c.roomId, "error", err)
		h.sendError(c, "could not send message")
		return
	}
	h.sendTo(c, &types.Packet{
		Type:    types.PacketTypeMessageAck,
		Content: types.AckContent{Id: msg.Id},
	})
	h.BroadcastOthers(c.roomId, c, &types.Packet{
		Type:    types.PacketTypeMessage,
		Content: msg,
		Sender:  c.userId,
	})
}

// handleEditMessage overwrites a retained message's body. An id that has
// scrolled out of the retention window is a silent no-op, the edit is
// best-effort.
func (h *Hub) handleEditMessage(c *Client, content json.RawMessage) {
	in := types.EditContent{}
	if err := decodeContent(content, &in); err != nil {
		h.sendError(c, "malformed edit")
		return
	}
	msg, ok := h.findMessage(c.roomId, in.MessageId)
	if !ok || msg.Sender != c.userId {
		return
	}
	msg.Content = in.Content
	msg.ClampBody()
	msg.Edited = true
	if err := h.store.UpdateMessage(c.roomId, msg); err != nil {
		if err != store.ErrNotFound {
			globals.AppLogger.Error("could not store edit", "room", c.roomId, "error", err)
			h.sendError(c, "could not edit message")
		}
		return
	}
	h.BroadcastOthers(c.roomId, c, &types.Packet{
		Type:    types.PacketTypeEditMessage,
		Content: msg,
		Sender:  c.userId,
	})
}

// handleMessageDelete is a soft delete: the slot and ordering survive, the
// content is cleared and the type marks the tombstone.
func (h *Hub) handleMessageDelete(c *Client, content json.RawMessage) {
	in := types.MessageRefContent{}
	if err := decodeContent(content, &in); err != nil {
		h.sendError(c, "malformed delete")
		return
	}
	msg, ok := h.findMessage(c.roomId, in.MessageId)
	if !ok || msg.Sender != c.userId {
		return
	}
	msg.Content = ""
	msg.Type = types.MessageTypeDeleted
	if err := h.store.UpdateMessage(c.roomId, msg); err != nil {
		if err != store.ErrNotFound {
			globals.AppLogger.Error("could not store delete", "room", c.roomId, "error", err)
			h.sendError(c, "could not delete message")
		}
		return
	}
	h.BroadcastOthers(c.roomId, c, &types.Packet{
		Type:    types.PacketTypeMessageDelete,
		Content: types.MessageRefContent{MessageId: msg.Id},
		Sender:  c.userId,
	})
}

// handleReaction upserts or removes the user's single reaction on a message:
// a non-empty emoji appends or replaces, an empty emoji removes.
func (h *Hub) handleReaction(c *Client, content json.RawMessage) {
	in := types.ReactionContent{}
	if err := decodeContent(content, &in); err != nil {
		h.sendError(c, "malformed reaction")
		return
	}
	msg, ok := h.findMessage(c.roomId, in.MessageId)
	if !ok {
		return
	}
	idx := -1
	for i, r := range msg.Reactions {
		if r.UserId == c.userId {
			idx = i
			break
		}
	}
	switch {
	case in.Emoji != "" && idx < 0:
		msg.Reactions = append(msg.Reactions, types.Reaction{UserId: c.userId, Emoji: in.Emoji})
	case in.Emoji != "":
		msg.Reactions[idx].Emoji = in.Emoji
	case idx >= 0:
		msg.Reactions = append(msg.Reactions[:idx], msg.Reactions[idx+1:]...)
	default:
		return
	}
	if err := h.store.UpdateMessage(c.roomId, msg); err != nil {
		if err != store.ErrNotFound {
			globals.AppLogger.Error("could not store reaction", "room", c.roomId, "error", err)
			h.sendError(c, "could not react")
		}
		return
	}
	h.BroadcastOthers(c.roomId, c, &types.Packet{
		Type:    types.PacketTypeReaction,
		Content: types.ReactionContent{MessageId: msg.Id, Emoji: in.Emoji},
		Sender:  c.userId,
	})
}

// findMessage locates a message in the retained window by id. The window is
// unindexed, the linear scan is fine at the capped size.
func (h *Hub) findMessage(roomId, messageId string) (*types.Message, bool) {
	if messageId == "" {
		return nil, false
	}
	msgs, err := h.store.Messages(roomId)
	if err != nil {
		globals.AppLogger.Error("could not load messages", "room", roomId, "error", err)
		return nil, false
	}
	for _, msg := range msgs {
		if msg.Id == messageId {
			return msg, true
		}
	}
	return nil, false
}

// SyncMessages returns the retained window annotated with resolved sender
// nicknames. When the total historical count has reached the window size, a
// synthetic system message announcing the truncation is spliced in at the
// oldest slot.
func (h *Hub) SyncMessages(roomId string) ([]*types.Message, error) {
	msgs, err := h.store.Messages(roomId)
	if err != nil {
		return nil, err
	}
	nicknames := make(map[string]string)
	for _, msg := range msgs {
		if msg.Sender == types.SystemSender {
			continue
		}
		nick, ok := nicknames[msg.Sender]
		if !ok {
			if participant, err := h.store.GetParticipant(roomId, msg.Sender); err == nil {
				nick = participant.Nickname
			}
			nicknames[msg.Sender] = nick
		}
		msg.SenderNickname = nick
	}
	total, err := h.store.TotalMessages(roomId)
	if err != nil {
		globals.AppLogger.Error("could not count messages", "room", roomId, "error", err)
		return msgs, nil
	}
	if total >= types.HistorySize {
		notice := &types.Message{
			RoomId:    roomId,
			Sender:    types.SystemSender,
			Type:      types.MessageTypeSystem,
			Content:   fmt.Sprintf("older messages were truncated, %d messages in total", total),
			Timestamp: h.now(),
		}
		msgs = append([]*types.Message{notice}, msgs...)
	}
	return msgs, nil
}

func (h *Hub) resolveNickname(c *Client) string {
	if c.nickname != "" {
		return c.nickname
	}
	if participant, err := h.store.GetParticipant(c.roomId, c.userId); err == nil {
		c.nickname = participant.Nickname
	}
	return c.nickname
}
