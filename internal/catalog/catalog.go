// Package catalog is the read-only source of templates and characters a
// draft is played with.
package catalog

import (
	"context"
	"errors"
	"slices"

	"github.com/DoyleJ11/anifight-draft/internal/score"
)

var ErrNotFound = errors.New("not found")
var ErrEmptyPool = errors.New("no characters in selected anime")

type Catalog interface {
	Template(ctx context.Context, id int64) (score.Template, error)
	// Pool lists every character belonging to the given anime, ordered by id.
	Pool(ctx context.Context, animeIDs []int64) ([]score.Entity, error)
	Characters(ctx context.Context, ids []score.EntityID) (map[score.EntityID]score.Entity, error)
	Close() error
}

// Anime is a character's origin group; its power scale multiplies every member.
type Anime struct {
	ID         int64    `yaml:"id"`
	Name       string   `yaml:"name"`
	PowerScale *float64 `yaml:"power_scale"`
}

type Character struct {
	ID          int64    `yaml:"id"`
	AnimeID     int64    `yaml:"anime_id"`
	Name        string   `yaml:"name"`
	Power       *float64 `yaml:"power"`
	Specialties []string `yaml:"specialties"`
}

// entity applies the null-as-zero rule for missing powers.
func entity(c Character, a *Anime) score.Entity {
	e := score.Entity{ID: score.EntityID(c.ID), Name: c.Name, Specialties: slices.Clone(c.Specialties)}
	if c.Power != nil {
		e.BasePower = *c.Power
	}
	if a != nil && a.PowerScale != nil {
		e.GroupScale = *a.PowerScale
	}
	return e
}

func sortEntities(es []score.Entity) {
	slices.SortFunc(es, func(a, b score.Entity) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}
