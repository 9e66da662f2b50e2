package ws

import (
	"encoding/json"

	"github.com/mitchellh/mapstructure"
	"github.com/veilchat/veilchat/globals"
	"github.com/veilchat/veilchat/types"
)

type handlerFunc func(c *Client, content json.RawMessage)

// Dispatch parses one inbound frame and routes it. Order matters: the ban
// recheck runs on every frame so a ban issued mid-session takes effect on the
// next frame, then the rate limiter, then the handler lookup. A frame with an
// unrecognized type is passed through to the rest of the room unchanged,
// favoring forward compatibility with newer clients over server-side
// validation.
func (h *Hub) Dispatch(c *Client, raw []byte) {
	pkt := types.RawPacket{}
	if err := json.Unmarshal(raw, &pkt); err != nil || pkt.Type == "" {
		h.sendError(c, "malformed packet")
		return
	}

	banned, err := h.store.IsBanned(c.roomId, c.userId, c.originIP)
	if err != nil {
		globals.AppLogger.Error("could not check ban status", "room", c.roomId, "user", c.userId, "error", err)
	}
	if banned {
		c.CloseWithCode(types.CloseBanned, "banned")
		return
	}

	if !h.limiter.Allow(c.userId) {
		h.sendError(c, "rate limit exceeded")
		return
	}

	handler, ok := h.handlers[pkt.Type]
	if !ok {
		h.broadcastRawOthers(c.roomId, c, raw)
		return
	}
	handler(c, pkt.Content)
}

// decodeContent weakly decodes a packet payload, tolerating clients that send
// numbers as strings and vice versa.
func decodeContent(data json.RawMessage, out interface{}) error {
	contentMap := make(map[string]interface{})
	if len(data) > 0 {
		if err := json.Unmarshal(data, &contentMap); err != nil {
			return err
		}
	}
	return mapstructure.WeakDecode(contentMap, out)
}
