package score

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Matcher reports whether an entity's specialties fit a role.
type Matcher func(roleName string, specialties []string) bool

// MatchSpecialty compares the role name with each specialty, trimmed and
// case-folded.
func MatchSpecialty(roleName string, specialties []string) bool {
	fold := cases.Fold()
	role := fold.String(strings.TrimSpace(roleName))
	if role == "" {
		return false
	}
	for _, s := range specialties {
		if fold.String(strings.TrimSpace(s)) == role {
			return true
		}
	}
	return false
}

// Assignment is one committed slot of a team.
type Assignment struct {
	Role   string
	Entity Entity
}

// Row is one line of a team breakdown.
type Row struct {
	Role            string   `json:"role"`
	CharacterID     EntityID `json:"character_id"`
	CharacterName   string   `json:"character_name"`
	CharacterPower  float64  `json:"character_power"`
	AnimePowerScale float64  `json:"anime_power_scale"`
	Specialties     []string `json:"specialties"`
	SpecialtyMatch  bool     `json:"specialty_match"`
	Multiplier      float64  `json:"specialty_multiplier"`
	RoleScore       Points   `json:"role_score"`
}

type TeamResult struct {
	Breakdown []Row  `json:"breakdown"`
	Total     Points `json:"total"`
}

type Result struct {
	Left   TeamResult `json:"leftTeam"`
	Right  TeamResult `json:"rightTeam"`
	Winner Winner     `json:"winner"`
}

// ScoreAssignment scores entity in roleName. A nil match uses MatchSpecialty.
func ScoreAssignment(e Entity, roleName string, t Template, match Matcher) Row {
	if match == nil {
		match = MatchSpecialty
	}
	matched := match(roleName, e.Specialties)
	mult := 1.0
	if matched {
		mult = t.SpecialtyMultiplier
	}
	return Row{
		Role:            roleName,
		CharacterID:     e.ID,
		CharacterName:   e.Name,
		CharacterPower:  e.BasePower,
		AnimePowerScale: e.GroupScale,
		Specialties:     e.Specialties,
		SpecialtyMatch:  matched,
		Multiplier:      mult,
		RoleScore:       RoundPoints(e.BasePower * e.GroupScale * mult),
	}
}

func scoreTeam(assignments []Assignment, t Template, match Matcher) (TeamResult, error) {
	if len(assignments) != len(t.Roles) {
		return TeamResult{}, fmt.Errorf("%w: have %d, want %d", ErrIncomplete, len(assignments), len(t.Roles))
	}
	res := TeamResult{Breakdown: make([]Row, 0, len(assignments))}
	for _, a := range assignments {
		if !t.hasRole(a.Role) {
			return TeamResult{}, fmt.Errorf("%w: %q", ErrUnknownRole, a.Role)
		}
		row := ScoreAssignment(a.Entity, a.Role, t, match)
		res.Breakdown = append(res.Breakdown, row)
		res.Total += row.RoleScore
	}
	return res, nil
}

// Finalize scores both teams and names the winner. Both teams must fill every
// template slot.
func Finalize(left, right []Assignment, t Template, match Matcher) (Result, error) {
	l, err := scoreTeam(left, t, match)
	if err != nil {
		return Result{}, fmt.Errorf("left team: %w", err)
	}
	r, err := scoreTeam(right, t, match)
	if err != nil {
		return Result{}, fmt.Errorf("right team: %w", err)
	}

	winner := WinnerDraw
	switch {
	case l.Total > r.Total:
		winner = WinnerLeft
	case l.Total < r.Total:
		winner = WinnerRight
	}
	return Result{Left: l, Right: r, Winner: winner}, nil
}
