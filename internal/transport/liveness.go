package transport

import (
	"encoding/json"
	"time"

	wire "github.com/DoyleJ11/anifight-draft/internal/types"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
)

// Backoff returns the delay before reconnect attempt n (1-based):
// base * 2^(n-1), capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling || d <= 0 {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// parsePing reports whether data is a ping and returns its raw timestamp.
func parsePing(data []byte) (json.RawMessage, bool) {
	var m wire.ServerMessage
	if err := json.Unmarshal(data, &m); err != nil || m.Type != types.MsgPing {
		return nil, false
	}
	return m.Timestamp, true
}

func pongFrame(ts json.RawMessage) []byte {
	b, _ := json.Marshal(wire.ClientMessage{Type: types.MsgPong, Timestamp: ts})
	return b
}

func syncRequestFrame() []byte {
	b, _ := json.Marshal(wire.ClientMessage{Type: types.MsgRequestSync})
	return b
}
