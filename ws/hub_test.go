package ws

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veilchat/veilchat/config"
	"github.com/veilchat/veilchat/ratelimit"
	"github.com/veilchat/veilchat/store"
	"github.com/veilchat/veilchat/types"
)

func newTestHub(t *testing.T, quota int) *Hub {
	cfg := &config.Config{
		PersistenceConfig: config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"},
	}
	st, err := store.NewStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewHub(cfg, st, ratelimit.NewLimiter(quota))
}

// join runs admission and registration for a fresh connection. The nil conn is
// fine for handler tests: outbound frames only ever touch the Send channel.
func join(t *testing.T, h *Hub, roomId, userId string) *Client {
	c := NewClient(h, nil, roomId, userId, "10.0.0.1")
	participant, err := h.Admit(roomId, userId, "", 0, c.originIP)
	require.NoError(t, err)
	h.Register(c, participant)
	return c
}

func frame(t *testing.T, typ string, content interface{}) []byte {
	raw, err := json.Marshal(map[string]interface{}{"type": typ, "content": content})
	require.NoError(t, err)
	return raw
}

// drain empties the client's send buffer and returns the decoded packets.
func drain(c *Client) []types.RawPacket {
	pkts := make([]types.RawPacket, 0)
	for {
		select {
		case data := <-c.Send:
			pkt := types.RawPacket{}
			if err := json.Unmarshal(data, &pkt); err == nil {
				pkts = append(pkts, pkt)
			}
		default:
			return pkts
		}
	}
}

func packetsOfType(pkts []types.RawPacket, typ string) []types.RawPacket {
	out := make([]types.RawPacket, 0)
	for _, pkt := range pkts {
		if pkt.Type == typ {
			out = append(out, pkt)
		}
	}
	return out
}

func TestRegisterPushesInitialSync(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")

	pkts := drain(alice)
	assert.Len(t, packetsOfType(pkts, types.PacketTypeParticipantJoined), 1)
	assert.Len(t, packetsOfType(pkts, types.PacketTypeMessagesSync), 1)
	assert.Len(t, packetsOfType(pkts, types.PacketTypeParticipantsSync), 1)
	assert.Len(t, packetsOfType(pkts, types.PacketTypeThemeChange), 1)
	// no music has ever been set
	assert.Empty(t, packetsOfType(pkts, types.PacketTypeMusicSync))

	// the pair room was auto-created
	room, err := h.store.GetRoom("lobby")
	require.NoError(t, err)
	assert.Equal(t, types.DefaultMaxParticipants, room.MaxParticipants)
}

func TestMessageAckAndBroadcast(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")
	drain(alice)
	drain(bob)

	h.Dispatch(alice, frame(t, types.PacketTypeMessage, types.MessageContent{Content: "hello"}))

	acks := packetsOfType(drain(alice), types.PacketTypeMessageAck)
	require.Len(t, acks, 1)
	ack := types.AckContent{}
	require.NoError(t, json.Unmarshal(acks[0].Content, &ack))
	assert.NotEmpty(t, ack.Id)

	msgs := packetsOfType(drain(bob), types.PacketTypeMessage)
	require.Len(t, msgs, 1)
	got := types.Message{}
	require.NoError(t, json.Unmarshal(msgs[0].Content, &got))
	assert.Equal(t, ack.Id, got.Id)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, "alice", got.Sender)
	assert.Equal(t, alice.nickname, got.SenderNickname)
	assert.NotEmpty(t, got.SenderNickname)
}

func TestReactionUpsertThenRemove(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")

	h.Dispatch(alice, frame(t, types.PacketTypeMessage, types.MessageContent{Content: "react to me"}))
	msgs, err := h.store.Messages("lobby")
	require.NoError(t, err)
	id := msgs[len(msgs)-1].Id

	react := func(emoji string) {
		h.Dispatch(bob, frame(t, types.PacketTypeReaction, types.ReactionContent{MessageId: id, Emoji: emoji}))
	}
	stored := func() types.ReactionList {
		msg, ok := h.findMessage("lobby", id)
		require.True(t, ok)
		return msg.Reactions
	}

	react("+1")
	require.Len(t, stored(), 1)
	assert.Equal(t, "+1", stored()[0].Emoji)

	// same user reacting again replaces, never stacks
	react("heart")
	require.Len(t, stored(), 1)
	assert.Equal(t, "heart", stored()[0].Emoji)

	react("")
	assert.Empty(t, stored())

	// removing with no reaction present is a no-op, nothing is broadcast
	drain(alice)
	react("")
	assert.Empty(t, packetsOfType(drain(alice), types.PacketTypeReaction))
}

func TestEditMessage(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")

	h.Dispatch(alice, frame(t, types.PacketTypeMessage, types.MessageContent{Content: "tpyo"}))
	msgs, err := h.store.Messages("lobby")
	require.NoError(t, err)
	id := msgs[len(msgs)-1].Id
	drain(bob)

	h.Dispatch(alice, frame(t, types.PacketTypeEditMessage, types.EditContent{MessageId: id, Content: "typo"}))
	edits := packetsOfType(drain(bob), types.PacketTypeEditMessage)
	require.Len(t, edits, 1)

	msg, ok := h.findMessage("lobby", id)
	require.True(t, ok)
	assert.Equal(t, "typo", msg.Content)
	assert.True(t, msg.Edited)

	// only the original sender may edit
	h.Dispatch(bob, frame(t, types.PacketTypeEditMessage, types.EditContent{MessageId: id, Content: "hijacked"}))
	msg, _ = h.findMessage("lobby", id)
	assert.Equal(t, "typo", msg.Content)

	// an id outside the retention window is a silent no-op
	drain(bob)
	h.Dispatch(alice, frame(t, types.PacketTypeEditMessage, types.EditContent{MessageId: "gone", Content: "x"}))
	assert.Empty(t, drain(bob))
}

func TestDeleteMessageIsSoft(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")

	h.Dispatch(alice, frame(t, types.PacketTypeMessage, types.MessageContent{Content: "one"}))
	h.Dispatch(alice, frame(t, types.PacketTypeMessage, types.MessageContent{Content: "two"}))
	msgs, err := h.store.Messages("lobby")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	first := msgs[0].Id
	drain(bob)

	h.Dispatch(alice, frame(t, types.PacketTypeMessageDelete, types.MessageRefContent{MessageId: first}))
	require.Len(t, packetsOfType(drain(bob), types.PacketTypeMessageDelete), 1)

	// the slot and ordering survive as a tombstone
	msgs, err = h.store.Messages("lobby")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, first, msgs[0].Id)
	assert.Equal(t, types.MessageTypeDeleted, msgs[0].Type)
	assert.Empty(t, msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
}

func TestJoinAndOfflineOncePerUser(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	drain(alice)

	// second connection of the same user must not re-announce the join
	bob1 := join(t, h, "lobby", "bob")
	assert.Len(t, packetsOfType(drain(alice), types.PacketTypeParticipantJoined), 1)
	bob2 := join(t, h, "lobby", "bob")
	assert.Empty(t, packetsOfType(drain(alice), types.PacketTypeParticipantJoined))

	// offline fires only when the last connection goes
	h.Disconnect(bob1)
	assert.Empty(t, packetsOfType(drain(alice), types.PacketTypeOffline))
	h.Disconnect(bob2)
	offline := packetsOfType(drain(alice), types.PacketTypeOffline)
	require.Len(t, offline, 1)
	presence := types.PresenceContent{}
	require.NoError(t, json.Unmarshal(offline[0].Content, &presence))
	assert.Equal(t, "bob", presence.UserId)
}

func TestPairRoomCapacity(t *testing.T) {
	h := newTestHub(t, 0)
	join(t, h, "lobby", "alice")
	join(t, h, "lobby", "bob")

	// a third user is rejected with the room-full close code
	_, err := h.Admit("lobby", "carol", "", 0, "10.0.0.3")
	var admErr *AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, types.CloseRoomFull, admErr.Code)

	// an existing participant may always bring up another connection
	_, err = h.Admit("lobby", "alice", "", 0, "10.0.0.1")
	assert.NoError(t, err)
}

func TestAdmitRejectsMissingOrigin(t *testing.T) {
	h := newTestHub(t, 0)
	_, err := h.Admit("lobby", "alice", "", 0, "")
	var admErr *AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, types.CloseBadRequest, admErr.Code)
}

func TestAdmitRejectsBanned(t *testing.T) {
	h := newTestHub(t, 0)
	require.NoError(t, h.store.BanUser("lobby", "mallory"))
	require.NoError(t, h.store.BanIP("lobby", "10.0.0.66"))

	_, err := h.Admit("lobby", "mallory", "", 0, "10.0.0.1")
	var admErr *AdmissionError
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, types.CloseBanned, admErr.Code)

	_, err = h.Admit("lobby", "eve", "", 0, "10.0.0.66")
	require.ErrorAs(t, err, &admErr)
	assert.Equal(t, types.CloseBanned, admErr.Code)
}

func TestBanTakesEffectMidSession(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")
	drain(alice)

	require.NoError(t, h.store.BanUser("lobby", "bob"))
	h.Dispatch(bob, frame(t, types.PacketTypeMessage, types.MessageContent{Content: "too late"}))

	assert.True(t, bob.closed)
	assert.Empty(t, packetsOfType(drain(alice), types.PacketTypeMessage))
}

func TestRateLimitSendsError(t *testing.T) {
	h := newTestHub(t, 1)
	alice := join(t, h, "lobby", "alice")
	drain(alice)

	h.Dispatch(alice, frame(t, types.PacketTypeTyping, nil))
	h.Dispatch(alice, frame(t, types.PacketTypeTyping, nil))

	errs := packetsOfType(drain(alice), types.PacketTypeError)
	require.Len(t, errs, 1)
	reason := types.ErrorContent{}
	require.NoError(t, json.Unmarshal(errs[0].Content, &reason))
	assert.Equal(t, "rate limit exceeded", reason.Reason)
	assert.False(t, alice.closed)
}

func TestUnknownTypePassthrough(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")
	drain(alice)
	drain(bob)

	raw := []byte(`{"type":"webrtc_offer","content":{"sdp":"v=0"}}`)
	h.Dispatch(alice, raw)

	// relayed byte-for-byte to the others, echoed to nobody
	select {
	case data := <-bob.Send:
		assert.Equal(t, raw, data)
	default:
		t.Fatal("expected passthrough frame")
	}
	assert.Empty(t, drain(alice))
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	drain(alice)

	h.Dispatch(alice, []byte(`{not json`))
	errs := packetsOfType(drain(alice), types.PacketTypeError)
	require.Len(t, errs, 1)
	assert.False(t, alice.closed)
}

func TestThemeChangeGoesToOthersOnly(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")
	drain(alice)
	drain(bob)

	h.Dispatch(alice, frame(t, types.PacketTypeChangeTheme, types.ThemeContent{Mode: "dark", Theme: "midnight"}))

	assert.Empty(t, packetsOfType(drain(alice), types.PacketTypeThemeChange))
	changes := packetsOfType(drain(bob), types.PacketTypeThemeChange)
	require.Len(t, changes, 1)

	room, err := h.store.GetRoom("lobby")
	require.NoError(t, err)
	assert.Equal(t, "dark", room.ThemeMode)
	assert.Equal(t, "midnight", room.Theme)
}

func TestChangeNicknameResyncsParticipants(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")
	drain(bob)

	h.Dispatch(alice, frame(t, types.PacketTypeChangeNickname, types.NicknameContent{Nickname: "Night Owl"}))

	assert.Equal(t, "Night Owl", alice.nickname)
	participant, err := h.store.GetParticipant("lobby", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Night Owl", participant.Nickname)
	assert.Len(t, packetsOfType(drain(bob), types.PacketTypeParticipantsSync), 1)
}

func TestPairRoomDeletedWhenClosedAndEmpty(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")

	h.Dispatch(alice, frame(t, types.PacketTypeDisconnect, nil))
	room, err := h.store.GetRoom("lobby")
	require.NoError(t, err)
	assert.True(t, room.Closed)

	// still occupied, nothing is torn down yet
	h.Disconnect(alice)
	_, err = h.store.GetRoom("lobby")
	require.NoError(t, err)

	h.Disconnect(bob)
	_, err = h.store.GetRoom("lobby")
	assert.Equal(t, store.ErrNotFound, err)
}

func TestPairRoomSurvivesRefreshWithoutCloseIntent(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")

	h.Disconnect(alice)
	h.Disconnect(bob)

	_, err := h.store.GetRoom("lobby")
	assert.NoError(t, err)
}

func TestGhostJoinsSilentlyAndBypassesCapacity(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	join(t, h, "lobby", "bob")
	require.NoError(t, h.store.CreateParticipant(&types.Participant{
		RoomId: "lobby", UserId: "watcher", Nickname: "Watcher", Ghost: true,
	}))
	drain(alice)

	// room is at pair capacity, the ghost gets in anyway
	ghost := NewClient(h, nil, "lobby", "watcher", "10.0.0.9")
	participant, err := h.Admit("lobby", "watcher", "", 0, ghost.originIP)
	require.NoError(t, err)
	h.Register(ghost, participant)

	assert.Empty(t, packetsOfType(drain(alice), types.PacketTypeParticipantJoined))

	// and is absent from the member list
	for _, info := range h.ParticipantList("lobby") {
		assert.NotEqual(t, "watcher", info.UserId)
	}

	h.Disconnect(ghost)
	assert.Empty(t, packetsOfType(drain(alice), types.PacketTypeOffline))
}

func TestOnlineGhostDoesNotBlockAdmission(t *testing.T) {
	h := newTestHub(t, 0)
	join(t, h, "lobby", "alice")
	require.NoError(t, h.store.CreateParticipant(&types.Participant{
		RoomId: "lobby", UserId: "watcher", Nickname: "Watcher", Ghost: true,
	}))

	ghost := NewClient(h, nil, "lobby", "watcher", "10.0.0.9")
	participant, err := h.Admit("lobby", "watcher", "", 0, ghost.originIP)
	require.NoError(t, err)
	h.Register(ghost, participant)

	// one normal user plus one online ghost leaves a pair room with a free slot
	_, err = h.Admit("lobby", "bob", "", 0, "10.0.0.2")
	assert.NoError(t, err)
}

func TestShadowBanMidSessionSuppressesOffline(t *testing.T) {
	h := newTestHub(t, 0)
	alice := join(t, h, "lobby", "alice")
	bob := join(t, h, "lobby", "bob")

	participant, err := h.store.GetParticipant("lobby", "bob")
	require.NoError(t, err)
	participant.Ghost = true
	require.NoError(t, h.store.UpdateParticipant(participant))
	h.MarkGhost("lobby", "bob")

	// the member list is resynced without the shadow-banned user
	syncs := packetsOfType(drain(alice), types.PacketTypeParticipantsSync)
	require.NotEmpty(t, syncs)
	infos := make([]types.ParticipantInfo, 0)
	require.NoError(t, json.Unmarshal(syncs[len(syncs)-1].Content, &infos))
	for _, info := range infos {
		assert.NotEqual(t, "bob", info.UserId)
	}

	// the capacity slot is freed immediately
	_, err = h.Admit("lobby", "carol", "", 0, "10.0.0.3")
	assert.NoError(t, err)

	// and the eventual disconnect no longer announces the user offline
	h.Disconnect(bob)
	assert.Empty(t, packetsOfType(drain(alice), types.PacketTypeOffline))
}

func TestSyncMessagesTruncationNotice(t *testing.T) {
	h := newTestHub(t, 0)
	join(t, h, "lobby", "alice")

	for i := 0; i < types.HistorySize; i++ {
		msg := &types.Message{RoomId: "lobby", Sender: "alice", Content: fmt.Sprintf("m%d", i), Timestamp: h.now()}
		require.NoError(t, msg.CreateId())
		require.NoError(t, h.store.AppendMessage("lobby", msg))
	}

	msgs, err := h.SyncMessages("lobby")
	require.NoError(t, err)
	require.Len(t, msgs, types.HistorySize+1)
	assert.Equal(t, types.SystemSender, msgs[0].Sender)
	assert.Equal(t, types.MessageTypeSystem, msgs[0].Type)
	// the rest carry resolved sender nicknames
	assert.NotEmpty(t, msgs[1].SenderNickname)
}
