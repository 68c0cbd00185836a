package lobby

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/DoyleJ11/anifight-draft/internal/catalog"
	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	wire "github.com/DoyleJ11/anifight-draft/internal/types"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// helper: receive one frame with a timeout so tests never hang
func recvMsg(t *testing.T, ch <-chan []byte, within time.Duration) wire.ServerMessage {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		var m wire.ServerMessage
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for frame")
		return wire.ServerMessage{}
	}
}

func recvNoMsg(t *testing.T, ch <-chan []byte, within time.Duration) {
	t.Helper()
	select {
	case data, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no frame within %v, got %s", within, data)
	case <-time.After(within):
	}
}

func recvView(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func newTestLobby(t *testing.T, cfg Config) *Lobby {
	t.Helper()
	cat, err := catalog.LoadFile(filepath.Join("..", "catalog", "testdata", "catalog.yaml"))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Catalog = cat
	if cfg.PingInterval == 0 {
		cfg.PingInterval = time.Hour
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Hour
	}
	return NewLobby(ctx, "ROOM01", cfg)
}

func join(t *testing.T, l *Lobby, token string, out chan []byte) JoinResult {
	t.Helper()
	reply := make(chan JoinResult, 1)
	l.Inbox() <- Join{Token: token, Outbox: out, Reply: reply}
	select {
	case r := <-reply:
		return r
	case <-time.After(time.Second):
		t.Fatalf("timed out joining")
		return JoinResult{}
	}
}

// seatBoth joins a host and a guest and drains the handshake frames.
func seatBoth(t *testing.T, l *Lobby) (host, guest chan []byte) {
	t.Helper()
	host = make(chan []byte, 16)
	guest = make(chan []byte, 16)
	require.Equal(t, types.RoleHost, join(t, l, "tok-host", host).Role)
	require.Equal(t, types.RoleGuest, join(t, l, "tok-guest", guest).Role)
	recvMsg(t, host, time.Second)  // connection_established
	recvMsg(t, host, time.Second)  // player_joined
	recvMsg(t, guest, time.Second) // connection_established
	return host, guest
}

func startDuel(t *testing.T, l *Lobby, host, guest chan []byte) {
	t.Helper()
	l.Inbox() <- FromClient{Role: types.RoleHost, Msg: wire.ClientMessage{Type: types.MsgStartGame, TemplateID: 2, AnimePoolIDs: []int64{10, 11}}}
	assert.Equal(t, types.MsgGameStarted, recvMsg(t, host, time.Second).Type)
	assert.Equal(t, types.MsgGameStarted, recvMsg(t, guest, time.Second).Type)
}

func draw(l *Lobby, role types.Role, id int64) {
	l.Inbox() <- FromClient{Role: role, Msg: wire.ClientMessage{Type: types.MsgDrawCharacter, Character: &score.Entity{ID: score.EntityID(id)}}}
}

// drawThenPlace announces id, drains the character_drawn broadcast and places it.
func drawThenPlace(t *testing.T, l *Lobby, host, guest chan []byte, role types.Role, slot string, id int64) {
	t.Helper()
	draw(l, role, id)
	for _, ch := range []chan []byte{host, guest} {
		m := recvMsg(t, ch, time.Second)
		require.Equal(t, types.MsgCharacterDrawn, m.Type)
		require.Equal(t, score.EntityID(id), m.Character.ID)
	}
	place(l, role, slot, id)
}

func place(l *Lobby, role types.Role, slot string, id int64) {
	l.Inbox() <- FromClient{Role: role, Msg: wire.ClientMessage{Type: types.MsgPlaceCharacter, RoleName: slot, CharacterID: id}}
}

func TestLobby_JoinAssignsRolesAndAnnounces(t *testing.T) {
	l := newTestLobby(t, Config{})
	host := make(chan []byte, 4)
	guest := make(chan []byte, 4)

	require.NoError(t, join(t, l, "tok-host", host).Err)
	first := recvMsg(t, host, time.Second)
	assert.Equal(t, types.MsgConnectionEstablished, first.Type)
	assert.Equal(t, types.RoleHost, first.PlayerRole)
	assert.False(t, first.OpponentConnected)
	require.NotNil(t, first.CurrentState)
	assert.Equal(t, types.StatusWaiting, first.CurrentState.Status)

	require.NoError(t, join(t, l, "tok-guest", guest).Err)
	g := recvMsg(t, guest, time.Second)
	assert.Equal(t, types.RoleGuest, g.PlayerRole)
	assert.True(t, g.OpponentConnected)

	joined := recvMsg(t, host, time.Second)
	assert.Equal(t, types.MsgPlayerJoined, joined.Type)
	assert.Equal(t, types.RoleGuest, joined.PlayerRole)
	recvNoMsg(t, guest, 50*time.Millisecond)

	assert.ErrorIs(t, join(t, l, "tok-third", make(chan []byte, 1)).Err, ErrRoomFull)
}

func TestLobby_ReturningPlayerKeepsRole(t *testing.T) {
	l := newTestLobby(t, Config{})
	host, guest := seatBoth(t, l)

	l.Inbox() <- Leave{Role: types.RoleGuest, Outbox: guest}
	left := recvMsg(t, host, time.Second)
	assert.Equal(t, types.MsgPlayerDisconnected, left.Type)

	again := make(chan []byte, 4)
	assert.Equal(t, types.RoleGuest, join(t, l, "tok-guest", again).Role)
	back := recvMsg(t, host, time.Second)
	assert.Equal(t, types.MsgPlayerReconnected, back.Type)
	assert.Equal(t, types.RoleGuest, back.PlayerRole)

	// a stale leave from the old socket changes nothing
	l.Inbox() <- Leave{Role: types.RoleGuest, Outbox: guest}
	assert.True(t, recvView(t, l).Connected[types.RoleGuest])
}

func TestLobby_OnlyHostStarts(t *testing.T) {
	l := newTestLobby(t, Config{})
	_, guest := seatBoth(t, l)

	l.Inbox() <- FromClient{Role: types.RoleGuest, Msg: wire.ClientMessage{Type: types.MsgStartGame, TemplateID: 2, AnimePoolIDs: []int64{10}}}
	m := recvMsg(t, guest, time.Second)
	assert.Equal(t, types.MsgError, m.Type)
	assert.Equal(t, "Only host can start the game", m.Message)
}

func TestLobby_FullGameBroadcastsResults(t *testing.T) {
	l := newTestLobby(t, Config{})
	host, guest := seatBoth(t, l)
	startDuel(t, l, host, guest)

	draw(l, types.RoleGuest, 101)
	assert.Equal(t, "Not your turn", recvMsg(t, guest, time.Second).Message)

	moves := []struct {
		role types.Role
		slot string
		id   int64
	}{
		{types.RoleHost, "CAPTAIN-0", 100},
		{types.RoleGuest, "CAPTAIN-0", 110},
		{types.RoleHost, "TANK-0", 101},
		{types.RoleGuest, "TANK-0", 113},
	}
	for i, mv := range moves {
		drawThenPlace(t, l, host, guest, mv.role, mv.slot, mv.id)
		for _, ch := range []chan []byte{host, guest} {
			m := recvMsg(t, ch, time.Second)
			assert.Equal(t, types.MsgCharacterPlaced, m.Type)
			assert.Equal(t, mv.role, m.PlayerRole)
			assert.Equal(t, i == len(moves)-1, m.IsComplete)
		}
	}

	for _, ch := range []chan []byte{host, guest} {
		end := recvMsg(t, ch, time.Second)
		assert.Equal(t, types.MsgGameEnded, end.Type)
		assert.Equal(t, draft.EndCompleted, end.Reason)
		var res score.Result
		require.NoError(t, json.Unmarshal(end.Results, &res))
		// host: 85*8.5*1.5 + 80*8.5*1.5 ; guest: 90*7.25*1.5 + 45*7.25*1.5
		assert.Equal(t, score.Points(210375), res.Left.Total)
		assert.Equal(t, score.Points(146813), res.Right.Total)
		assert.Equal(t, score.WinnerLeft, res.Winner)
	}
	st := recvView(t, l).State
	assert.True(t, st.IsComplete)
	assert.Equal(t, types.StatusCompleted, st.Status)
}

func TestLobby_DuplicatePlacementIgnored(t *testing.T) {
	l := newTestLobby(t, Config{})
	host, guest := seatBoth(t, l)
	startDuel(t, l, host, guest)

	drawThenPlace(t, l, host, guest, types.RoleHost, "CAPTAIN-0", 100)
	recvMsg(t, host, time.Second)
	recvMsg(t, guest, time.Second)

	place(l, types.RoleHost, "CAPTAIN-0", 100)
	recvNoMsg(t, host, 50*time.Millisecond)
	recvNoMsg(t, guest, 50*time.Millisecond)
	assert.Equal(t, types.RoleGuest, recvView(t, l).State.CurrentTurn)
}

func TestLobby_RequestSyncAndReset(t *testing.T) {
	l := newTestLobby(t, Config{})
	host, guest := seatBoth(t, l)
	startDuel(t, l, host, guest)
	drawThenPlace(t, l, host, guest, types.RoleHost, "TANK-0", 102)
	recvMsg(t, host, time.Second)
	recvMsg(t, guest, time.Second)

	l.Inbox() <- FromClient{Role: types.RoleGuest, Msg: wire.ClientMessage{Type: types.MsgRequestSync}}
	sync := recvMsg(t, guest, time.Second)
	require.Equal(t, types.MsgStateSync, sync.Type)
	require.NotNil(t, sync.State)
	assert.Equal(t, map[string]int64{"TANK-0": 102}, sync.State.HostPlacements)
	assert.Equal(t, types.RoleGuest, sync.State.CurrentTurn)
	assert.Len(t, sync.State.RemainingCharacterIDs, 7)
	recvNoMsg(t, host, 50*time.Millisecond)

	l.Inbox() <- FromClient{Role: types.RoleGuest, Msg: wire.ClientMessage{Type: types.MsgResetGame}}
	assert.Equal(t, types.MsgGameReset, recvMsg(t, host, time.Second).Type)
	assert.Equal(t, types.MsgGameReset, recvMsg(t, guest, time.Second).Type)
	st := recvView(t, l).State
	assert.Empty(t, st.HostPlacements)
	assert.Equal(t, types.RoleHost, st.CurrentTurn)
}

func TestLobby_PlacementMustMatchDraw(t *testing.T) {
	l := newTestLobby(t, Config{})
	host, guest := seatBoth(t, l)
	startDuel(t, l, host, guest)

	place(l, types.RoleHost, "CAPTAIN-0", 100)
	assert.Equal(t, "Place the character you drew", recvMsg(t, host, time.Second).Message)

	draw(l, types.RoleHost, 101)
	recvMsg(t, host, time.Second)
	recvMsg(t, guest, time.Second)
	place(l, types.RoleHost, "CAPTAIN-0", 100)
	assert.Equal(t, "Place the character you drew", recvMsg(t, host, time.Second).Message)
	recvNoMsg(t, guest, 50*time.Millisecond)

	place(l, types.RoleHost, "CAPTAIN-0", 101)
	assert.Equal(t, types.MsgCharacterPlaced, recvMsg(t, host, time.Second).Type)
	assert.Equal(t, map[string]int64{"CAPTAIN-0": 101}, recvView(t, l).State.HostPlacements)
}

func TestLobby_GraceExpiryEndsGame(t *testing.T) {
	l := newTestLobby(t, Config{TickInterval: 5 * time.Millisecond, GraceTicks: 3})
	host, guest := seatBoth(t, l)
	startDuel(t, l, host, guest)

	l.Inbox() <- Leave{Role: types.RoleGuest, Outbox: guest}
	assert.Equal(t, types.MsgPlayerDisconnected, recvMsg(t, host, time.Second).Type)
	end := recvMsg(t, host, time.Second)
	assert.Equal(t, types.MsgGameEnded, end.Type)
	assert.Equal(t, draft.EndOpponentDisconnected, end.Reason)

	st := recvView(t, l).State
	assert.Equal(t, types.StatusCompleted, st.Status)
	assert.Equal(t, draft.EndOpponentDisconnected, st.EndReason)
}

func TestLobby_PingsConnectedPlayers(t *testing.T) {
	l := newTestLobby(t, Config{PingInterval: 10 * time.Millisecond})
	host := make(chan []byte, 8)
	join(t, l, "tok-host", host)
	recvMsg(t, host, time.Second)

	ping := recvMsg(t, host, time.Second)
	assert.Equal(t, types.MsgPing, ping.Type)
	assert.NotEmpty(t, ping.Timestamp)
}

func TestLobby_DropSlowClient(t *testing.T) {
	l := newTestLobby(t, Config{})
	host := make(chan []byte, 1)
	join(t, l, "tok-host", host) // fills the buffer with connection_established

	l.Inbox() <- FromClient{Role: types.RoleHost, Msg: wire.ClientMessage{Type: types.MsgRequestSync}}
	assert.False(t, recvView(t, l).Connected[types.RoleHost])
}

func TestLobby_ShutdownClosesOutboxesAndNotifies(t *testing.T) {
	closed := make(chan string, 1)
	l := newTestLobby(t, Config{OnClose: func(code string) { closed <- code }})
	host := make(chan []byte, 4)
	join(t, l, "tok-host", host)
	recvMsg(t, host, time.Second)

	l.Inbox() <- Shutdown{}
	select {
	case code := <-closed:
		assert.Equal(t, "ROOM01", code)
	case <-time.After(time.Second):
		t.Fatalf("OnClose not called")
	}
	_, ok := <-host
	assert.False(t, ok)
}
