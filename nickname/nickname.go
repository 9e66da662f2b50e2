package nickname

import (
	"fmt"

	"github.com/folkengine/goname"
	"github.com/veilchat/veilchat/types"
)

const maxAttempts = 10

// Generate returns a human-friendly nickname not present in taken. After a
// few collision retries it falls back to a numbered variant so the call
// always terminates.
func Generate(taken map[string]struct{}) string {
	var nick string
	for i := 0; i < maxAttempts; i++ {
		nick = types.TruncateNickname(goname.New(goname.FantasyMap).FirstLast())
		if _, ok := taken[nick]; !ok {
			return nick
		}
	}
	for i := 2; ; i++ {
		candidate := types.TruncateNickname(fmt.Sprintf("%.15s %d", nick, i))
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

// Taken builds the collision set from a room's persisted participants.
func Taken(participants []*types.Participant) map[string]struct{} {
	taken := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		taken[p.Nickname] = struct{}{}
	}
	return taken
}
