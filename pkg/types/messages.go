package types

// Message type discriminators carried in every frame's "type" field.
//
// Server -> Client
//
//	connection_established: player_role, room_code, current_state
//	player_joined / player_disconnected / player_reconnected: player_role
//	game_started: template_id, anime_pool_ids
//	character_drawn: character, player_role
//	character_placed: player_role, role_name ("ROLE-index"), character_id, is_complete
//	game_reset: {}
//	game_ended: reason, results
//	state_sync: state
//	error: message
//	ping: timestamp
//
// Client -> Server
//
//	start_game: template_id, anime_pool_ids
//	draw_character: character
//	place_character: role_name, character_id
//	reset_game / request_sync: {}
//	pong: timestamp (echoed verbatim)
const (
	MsgConnectionEstablished = "connection_established"
	MsgPlayerJoined          = "player_joined"
	MsgPlayerDisconnected    = "player_disconnected"
	MsgPlayerReconnected     = "player_reconnected"
	MsgGameStarted           = "game_started"
	MsgCharacterDrawn        = "character_drawn"
	MsgCharacterPlaced       = "character_placed"
	MsgGameReset             = "game_reset"
	MsgGameEnded             = "game_ended"
	MsgStateSync             = "state_sync"
	MsgError                 = "error"
	MsgPing                  = "ping"
	MsgPong                  = "pong"

	MsgStartGame      = "start_game"
	MsgDrawCharacter  = "draw_character"
	MsgPlaceCharacter = "place_character"
	MsgResetGame      = "reset_game"
	MsgRequestSync    = "request_sync"
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

func (r Role) Valid() bool { return r == RoleHost || r == RoleGuest }

func (r Role) Opponent() Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)
