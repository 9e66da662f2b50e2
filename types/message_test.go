package types

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampBody(t *testing.T) {
	long := strings.Repeat("a", MaxMessageLen+50)

	msg := Message{Content: long}
	msg.ClampBody()
	assert.Len(t, msg.Content, MaxMessageLen)

	// image and voice payloads are exempt
	img := Message{Content: long, Type: MessageTypeImage}
	img.ClampBody()
	assert.Len(t, img.Content, MaxMessageLen+50)

	voice := Message{Content: long, Type: MessageTypeVoice}
	voice.ClampBody()
	assert.Len(t, voice.Content, MaxMessageLen+50)
}

func TestCreateIdStableOverMutableFields(t *testing.T) {
	msg := Message{RoomId: "lobby", Sender: "alice", Content: "hi", Timestamp: time.Unix(1000, 0)}
	require.NoError(t, msg.CreateId())
	require.NotEmpty(t, msg.Id)

	// edits and reactions must not change the identity hash
	other := msg
	other.Edited = true
	other.Reactions = ReactionList{{UserId: "bob", Emoji: "+1"}}
	require.NoError(t, other.CreateId())
	assert.Equal(t, msg.Id, other.Id)

	// a different body yields a different id
	changed := msg
	changed.Content = "bye"
	require.NoError(t, changed.CreateId())
	assert.NotEqual(t, msg.Id, changed.Id)
}

func TestTruncateNickname(t *testing.T) {
	assert.Equal(t, "short", TruncateNickname("short"))
	assert.Equal(t, strings.Repeat("x", MaxNicknameLen), TruncateNickname(strings.Repeat("x", MaxNicknameLen+5)))
}
