// Package score holds the deterministic rating and scoring rules shared by both
// players of a draft. Everything here is pure: identical inputs always produce
// identical outputs on every client.
package score

import "errors"

var ErrIncomplete = errors.New("assignments do not fill every template slot")
var ErrUnknownRole = errors.New("role not in template")
var ErrUnknownEntity = errors.New("unknown character")
var ErrInvalidTemplate = errors.New("invalid template")

type EntityID int64

// Entity is a drawable character.
type Entity struct {
	ID          EntityID `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	BasePower   float64  `json:"character_power" yaml:"character_power"`
	GroupScale  float64  `json:"anime_power_scale" yaml:"anime_power_scale"`
	Specialties []string `json:"specialties" yaml:"specialties"`
}

// DrawScore is the unmultiplied contribution used for tier ratings.
func (e Entity) DrawScore() float64 {
	return e.BasePower * e.GroupScale
}

type Template struct {
	ID                  int64    `json:"id" yaml:"id"`
	Name                string   `json:"name" yaml:"name"`
	Roles               []string `json:"roles" yaml:"roles"`
	SpecialtyMultiplier float64  `json:"specialty_match_multiplier" yaml:"specialty_match_multiplier"`
}

func (t Template) Validate() error {
	if len(t.Roles) == 0 {
		return errors.Join(ErrInvalidTemplate, errors.New("no roles"))
	}
	if t.SpecialtyMultiplier < 1.0 {
		return errors.Join(ErrInvalidTemplate, errors.New("specialty multiplier below 1.0"))
	}
	return nil
}

func (t Template) hasRole(name string) bool {
	for _, r := range t.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Winner tags the side with the higher total.
type Winner string

const (
	WinnerLeft  Winner = "left"
	WinnerRight Winner = "right"
	WinnerDraw  Winner = "draw"
)
