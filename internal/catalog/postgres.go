package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/anifight-draft/internal/score"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Rows of the content tables owned by the catalog admin service. Read only.
type animeRow struct {
	ID              int64
	Name            string
	AnimePowerScale *float64
}

func (animeRow) TableName() string { return "game_anime" }

type characterRow struct {
	ID             int64
	AnimeID        *int64
	Name           string
	CharacterPower *float64
	Specialties    []string  `gorm:"serializer:json"`
	Anime          *animeRow `gorm:"foreignKey:AnimeID"`
}

func (characterRow) TableName() string { return "game_character" }

type templateRow struct {
	ID                       int64
	Name                     string
	RolesJSON                []string `gorm:"column:roles_json;serializer:json"`
	SpecialtyMatchMultiplier float64
}

func (templateRow) TableName() string { return "game_gametemplate" }

type Postgres struct {
	db     *gorm.DB
	logger *zap.Logger
}

func OpenPostgres(dsn string, logger *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	return &Postgres{db: db, logger: logger.Named("catalog")}, nil
}

func (p *Postgres) Template(ctx context.Context, id int64) (score.Template, error) {
	var row templateRow
	err := p.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return score.Template{}, fmt.Errorf("template %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return score.Template{}, fmt.Errorf("load template %d: %w", id, err)
	}
	return score.Template{ID: row.ID, Name: row.Name, Roles: row.RolesJSON, SpecialtyMultiplier: row.SpecialtyMatchMultiplier}, nil
}

func (p *Postgres) Pool(ctx context.Context, animeIDs []int64) ([]score.Entity, error) {
	var rows []characterRow
	err := p.db.WithContext(ctx).
		Preload("Anime").
		Where("anime_id IN ?", animeIDs).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrEmptyPool
	}
	out := make([]score.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entity())
	}
	p.logger.Debug("pool loaded", zap.Int64s("anime_ids", animeIDs), zap.Int("characters", len(out)))
	return out, nil
}

func (p *Postgres) Characters(ctx context.Context, ids []score.EntityID) (map[score.EntityID]score.Entity, error) {
	var rows []characterRow
	if err := p.db.WithContext(ctx).Preload("Anime").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load characters: %w", err)
	}
	out := make(map[score.EntityID]score.Entity, len(rows))
	for _, r := range rows {
		out[score.EntityID(r.ID)] = r.entity()
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("character %d: %w", id, ErrNotFound)
		}
	}
	return out, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r characterRow) entity() score.Entity {
	c := Character{ID: r.ID, Name: r.Name, Power: r.CharacterPower, Specialties: r.Specialties}
	if r.Anime == nil {
		return entity(c, nil)
	}
	return entity(c, &Anime{ID: r.Anime.ID, Name: r.Anime.Name, PowerScale: r.Anime.AnimePowerScale})
}
