package hub

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/anifight-draft/internal/lobby"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func get(t *testing.T, h *Hub, code string) *lobby.Lobby {
	t.Helper()
	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- GetLobby{Code: code, Reply: reply}
	select {
	case lb := <-reply:
		return lb
	case <-time.After(time.Second):
		t.Fatalf("hub did not reply")
		return nil
	}
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewHub(ctx, lobby.Config{Logger: zaptest.NewLogger(t), PingInterval: time.Hour, TickInterval: time.Hour})
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h := newTestHub(t)
	reply := make(chan *lobby.Lobby, 1)

	h.Inbox() <- CreateLobby{Code: "ZED123", Reply: reply}
	lb1 := <-reply
	h.Inbox() <- EnsureLobby{Code: "ZED123", Reply: reply}
	lb2 := <-reply

	require.NotNil(t, lb1)
	assert.Same(t, lb1, lb2)
	assert.Same(t, lb1, get(t, h, "ZED123"))
	assert.Nil(t, get(t, h, "NOPE00"))
}

func TestHub_StoppedRoomIsRemoved(t *testing.T) {
	h := newTestHub(t)
	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- CreateLobby{Code: "ABC123", Reply: reply}
	lb := <-reply

	lb.Inbox() <- lobby.Shutdown{}
	<-lb.Done()
	assert.Eventually(t, func() bool {
		list := make(chan []string, 1)
		h.Inbox() <- ListLobbies{Reply: list}
		return len(<-list) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Nil(t, get(t, h, "ABC123"))

	// the code can be reused for a fresh room
	h.Inbox() <- EnsureLobby{Code: "ABC123", Reply: reply}
	fresh := <-reply
	require.NotNil(t, fresh)
	assert.NotSame(t, lb, fresh)
}

func TestHub_ShutdownStopsRooms(t *testing.T) {
	h := newTestHub(t)
	reply := make(chan *lobby.Lobby, 1)
	h.Inbox() <- CreateLobby{Code: "ROOM01", Reply: reply}
	lb := <-reply

	h.Inbox() <- ShutdownHub{}
	select {
	case <-lb.Done():
	case <-time.After(time.Second):
		t.Fatalf("room still running after hub shutdown")
	}
	<-h.Done()
}
