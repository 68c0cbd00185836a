package protocol

import (
	"encoding/json"

	"github.com/DoyleJ11/anifight-draft/internal/draft"
	"github.com/DoyleJ11/anifight-draft/internal/score"
	wire "github.com/DoyleJ11/anifight-draft/internal/types"
	"github.com/DoyleJ11/anifight-draft/pkg/types"
)

func encode(m wire.ClientMessage) []byte {
	b, _ := json.Marshal(m)
	return b
}

func StartGame(templateID int64, poolIDs []int64) []byte {
	return encode(wire.ClientMessage{Type: types.MsgStartGame, TemplateID: templateID, AnimePoolIDs: poolIDs})
}

func DrawCharacter(e score.Entity) []byte {
	return encode(wire.ClientMessage{Type: types.MsgDrawCharacter, Character: &e})
}

func PlaceCharacter(slot draft.SlotKey, id score.EntityID) []byte {
	return encode(wire.ClientMessage{Type: types.MsgPlaceCharacter, RoleName: slot.String(), CharacterID: int64(id)})
}

func ResetGame() []byte {
	return encode(wire.ClientMessage{Type: types.MsgResetGame})
}

func RequestSync() []byte {
	return encode(wire.ClientMessage{Type: types.MsgRequestSync})
}
