package score

import "fmt"

// RoleAssignment is the wire form of one slot in a scoring request.
type RoleAssignment struct {
	Role        string   `json:"role"`
	CharacterID EntityID `json:"characterId"`
}

type TeamRequest struct {
	Assignments []RoleAssignment `json:"assignments"`
}

// Request asks for a final score of two committed teams.
type Request struct {
	TemplateID int64       `json:"templateId"`
	LeftTeam   TeamRequest `json:"leftTeam"`
	RightTeam  TeamRequest `json:"rightTeam"`
}

// CharacterIDs lists every character referenced by the request, left team first.
func (r Request) CharacterIDs() []EntityID {
	ids := make([]EntityID, 0, len(r.LeftTeam.Assignments)+len(r.RightTeam.Assignments))
	for _, a := range r.LeftTeam.Assignments {
		ids = append(ids, a.CharacterID)
	}
	for _, a := range r.RightTeam.Assignments {
		ids = append(ids, a.CharacterID)
	}
	return ids
}

// Evaluate resolves the request's character ids against entities and finalizes.
func Evaluate(req Request, t Template, entities map[EntityID]Entity, match Matcher) (Result, error) {
	left, err := resolve(req.LeftTeam, entities)
	if err != nil {
		return Result{}, err
	}
	right, err := resolve(req.RightTeam, entities)
	if err != nil {
		return Result{}, err
	}
	return Finalize(left, right, t, match)
}

func resolve(team TeamRequest, entities map[EntityID]Entity) ([]Assignment, error) {
	out := make([]Assignment, 0, len(team.Assignments))
	for _, a := range team.Assignments {
		e, ok := entities[a.CharacterID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownEntity, a.CharacterID)
		}
		out = append(out, Assignment{Role: a.Role, Entity: e})
	}
	return out, nil
}
