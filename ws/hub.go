package ws

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/veilchat/veilchat/config"
	"github.com/veilchat/veilchat/globals"
	"github.com/veilchat/veilchat/ratelimit"
	"github.com/veilchat/veilchat/store"
	"github.com/veilchat/veilchat/types"
)

// Hub is the per-instance session coordinator: it owns the presence registry,
// routes typed packets to handlers and fans serialized packets out to the
// live connections of a room. Durable state goes through the Store, presence
// never does.
type Hub struct {
	registry *Registry
	store    store.Store
	limiter  *ratelimit.Limiter
	cfg      *config.Config

	handlers map[string]handlerFunc

	cronRunner *cron.Cron
	now        func() time.Time
}

func NewHub(cfg *config.Config, st store.Store, limiter *ratelimit.Limiter) *Hub {
	h := &Hub{
		registry: NewRegistry(),
		store:    st,
		limiter:  limiter,
		cfg:      cfg,
		now:      time.Now,
	}
	h.handlers = map[string]handlerFunc{
		types.PacketTypeMessage:          h.handleMessage,
		types.PacketTypeReaction:         h.handleReaction,
		types.PacketTypeMessageDelete:    h.handleMessageDelete,
		types.PacketTypeEditMessage:      h.handleEditMessage,
		types.PacketTypeChangeNickname:   h.handleChangeNickname,
		types.PacketTypeChangeTheme:      h.handleChangeTheme,
		types.PacketTypeDisconnect:       h.handleDisconnectIntent,
		types.PacketTypeTyping:           h.handleTyping,
		types.PacketTypeMusicSet:         h.handleMusicSet,
		types.PacketTypeMusicPause:       h.handleMusicPause,
		types.PacketTypeMusicPlay:        h.handleMusicPlay,
		types.PacketTypeMusicProgress:    h.handleMusicProgress,
		types.PacketTypeMusicSkipRequest: h.handleMusicSkipRequest,
		types.PacketTypeMusicAddQueue:    h.handleMusicAddQueue,
		types.PacketTypeMusicFinished:    h.handleMusicFinished,
	}
	return h
}

// Registry exposes the presence registry to the HTTP query surface.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Run starts the periodic participants resync, so that room member lists
// converge even if an individual join/offline broadcast was missed.
func (h *Hub) Run() {
	spec := h.cfg.ResyncSpec
	if spec == "" {
		return
	}
	h.cronRunner = cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := h.cronRunner.AddFunc(spec, func() {
		for _, roomId := range h.registry.ActiveRooms() {
			h.broadcastParticipantsSync(roomId)
		}
	})
	if err != nil {
		globals.AppLogger.Error("could not schedule participants resync", "error", err)
		return
	}
	h.cronRunner.Start()
}

func (h *Hub) Stop() {
	if h.cronRunner != nil {
		h.cronRunner.Stop()
	}
}

// OnlineCount is the number of distinct online users in the room on this
// instance.
func (h *Hub) OnlineCount(roomId string) int {
	return h.registry.UserCount(roomId)
}

func marshalPacket(pkt *types.Packet) ([]byte, bool) {
	data, err := json.Marshal(pkt)
	if err != nil {
		globals.AppLogger.Error("could not marshal packet", "type", pkt.Type, "error", err)
		return nil, false
	}
	return data, true
}

// BroadcastRoom fans the packet out to every live connection in the room,
// including the sender's.
func (h *Hub) BroadcastRoom(roomId string, pkt *types.Packet) {
	data, ok := marshalPacket(pkt)
	if !ok {
		return
	}
	for _, c := range h.registry.Connections(roomId) {
		c.Enqueue(data)
	}
}

// BroadcastOthers fans the packet out to every live connection in the room
// except the sending connection.
func (h *Hub) BroadcastOthers(roomId string, sender *Client, pkt *types.Packet) {
	data, ok := marshalPacket(pkt)
	if !ok {
		return
	}
	h.broadcastRawOthers(roomId, sender, data)
}

func (h *Hub) broadcastRawOthers(roomId string, sender *Client, data []byte) {
	for _, c := range h.registry.Connections(roomId) {
		if c == sender {
			continue
		}
		c.Enqueue(data)
	}
}

func (h *Hub) sendTo(c *Client, pkt *types.Packet) {
	data, ok := marshalPacket(pkt)
	if !ok {
		return
	}
	c.Enqueue(data)
}

func (h *Hub) sendError(c *Client, reason string) {
	h.sendTo(c, &types.Packet{
		Type:    types.PacketTypeError,
		Content: types.ErrorContent{Reason: reason},
	})
}

// MarkGhost flips the ghost flag on the user's live connections, so a shadow
// ban applied mid-session frees the capacity slot immediately and suppresses
// the eventual offline broadcast. The member list is resynced to drop the
// user. The durable participant flag is the caller's responsibility.
func (h *Hub) MarkGhost(roomId, userId string) {
	for _, conn := range h.registry.Connections(roomId) {
		if conn.userId == userId {
			conn.ghost = true
		}
	}
	h.broadcastParticipantsSync(roomId)
}

// SystemMessage appends a server-generated message to the room history and
// broadcasts it. Exposed for the HTTP surface.
func (h *Hub) SystemMessage(roomId, text string) {
	h.systemMessage(roomId, text)
}

func (h *Hub) systemMessage(roomId, text string) {
	msg := &types.Message{
		RoomId:    roomId,
		Sender:    types.SystemSender,
		Content:   text,
		Type:      types.MessageTypeSystem,
		Timestamp: h.now(),
	}
	if err := msg.CreateId(); err != nil {
		globals.AppLogger.Error("could not hash system message", "error", err)
		return
	}
	if err := h.store.AppendMessage(roomId, msg); err != nil {
		globals.AppLogger.Error("could not store system message", "error", err)
	}
	h.BroadcastRoom(roomId, &types.Packet{
		Type:    types.PacketTypeMessage,
		Content: msg,
		Sender:  types.SystemSender,
	})
}

// ParticipantList builds the non-ghost member list with online flags, used by
// participants_sync and the HTTP room sync.
func (h *Hub) ParticipantList(roomId string) []types.ParticipantInfo {
	participants, err := h.store.ListParticipants(roomId)
	if err != nil {
		globals.AppLogger.Error("could not list participants", "room", roomId, "error", err)
		return nil
	}
	infos := make([]types.ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		if p.Ghost {
			continue
		}
		infos = append(infos, types.ParticipantInfo{
			UserId:   p.UserId,
			Nickname: p.Nickname,
			Online:   h.registry.IsOnline(roomId, p.UserId),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UserId < infos[j].UserId })
	return infos
}

func (h *Hub) participantsSyncPacket(roomId string) *types.Packet {
	return &types.Packet{
		Type:    types.PacketTypeParticipantsSync,
		Content: h.ParticipantList(roomId),
	}
}

func (h *Hub) broadcastParticipantsSync(roomId string) {
	h.BroadcastRoom(roomId, h.participantsSyncPacket(roomId))
}
