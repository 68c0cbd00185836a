package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/DoyleJ11/anifight-draft/internal/score"
	"gopkg.in/yaml.v3"
)

// Memory serves a catalog held entirely in memory.
type Memory struct {
	templates  map[int64]score.Template
	anime      map[int64]Anime
	characters map[int64]Character
}

type fileCatalog struct {
	Templates  []score.Template `yaml:"templates"`
	Anime      []Anime          `yaml:"anime"`
	Characters []Character      `yaml:"characters"`
}

func NewMemory(templates []score.Template, anime []Anime, characters []Character) (*Memory, error) {
	m := &Memory{
		templates:  make(map[int64]score.Template, len(templates)),
		anime:      make(map[int64]Anime, len(anime)),
		characters: make(map[int64]Character, len(characters)),
	}
	for _, t := range templates {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("template %d: %w", t.ID, err)
		}
		m.templates[t.ID] = t
	}
	for _, a := range anime {
		m.anime[a.ID] = a
	}
	for _, c := range characters {
		if _, dup := m.characters[c.ID]; dup {
			return nil, fmt.Errorf("duplicate character id %d", c.ID)
		}
		m.characters[c.ID] = c
	}
	return m, nil
}

// LoadFile reads a YAML catalog fixture.
func LoadFile(path string) (*Memory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var f fileCatalog
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return NewMemory(f.Templates, f.Anime, f.Characters)
}

func (m *Memory) Template(_ context.Context, id int64) (score.Template, error) {
	t, ok := m.templates[id]
	if !ok {
		return score.Template{}, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	t.Roles = append([]string(nil), t.Roles...)
	return t, nil
}

func (m *Memory) Pool(_ context.Context, animeIDs []int64) ([]score.Entity, error) {
	want := make(map[int64]bool, len(animeIDs))
	for _, id := range animeIDs {
		want[id] = true
	}
	var out []score.Entity
	for _, c := range m.characters {
		if !want[c.AnimeID] {
			continue
		}
		out = append(out, m.entity(c))
	}
	if len(out) == 0 {
		return nil, ErrEmptyPool
	}
	sortEntities(out)
	return out, nil
}

func (m *Memory) Characters(_ context.Context, ids []score.EntityID) (map[score.EntityID]score.Entity, error) {
	out := make(map[score.EntityID]score.Entity, len(ids))
	for _, id := range ids {
		c, ok := m.characters[int64(id)]
		if !ok {
			return nil, fmt.Errorf("character %d: %w", id, ErrNotFound)
		}
		out[id] = m.entity(c)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) entity(c Character) score.Entity {
	if a, ok := m.anime[c.AnimeID]; ok {
		return entity(c, &a)
	}
	return entity(c, nil)
}
