package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/panorama-harvester/internal/harvest"
)

const defaultCatalogTable = "harvest_images"

type execer interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}

// CatalogStore mirrors output log rows into Postgres.
type CatalogStore struct {
	db    execer
	table string
}

// NewCatalogStore wraps a pool (or pgxmock) for catalog inserts.
func NewCatalogStore(db execer, table string) (*CatalogStore, error) {
	if db == nil {
		return nil, errors.New("pool is required")
	}
	table, err := checkTable(table, defaultCatalogTable)
	if err != nil {
		return nil, err
	}
	return &CatalogStore{db: db, table: table}, nil
}

// RecordImage upserts one saved view keyed by year and sequence ID.
func (s *CatalogStore) RecordImage(ctx context.Context, rec harvest.OutputRecord) error {
	if s == nil || s.db == nil {
		return errors.New("catalog store is not configured")
	}
	if rec.ID <= 0 {
		return errors.New("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	year,
	id,
	object_id,
	pano_id,
	road_name,
	latitude,
	longitude,
	view,
	file_path,
	captured_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (year, id) DO NOTHING`, s.table)

	var captured any
	if !rec.CapturedAt.IsZero() {
		captured = rec.CapturedAt.UTC()
	}
	args := []any{
		rec.Year,
		rec.ID,
		rec.ObjectID,
		rec.PanoID,
		rec.RoadName,
		rec.Lat,
		rec.Lon,
		rec.View,
		rec.FilePath,
		captured,
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert catalog row: %w", err)
	}
	return nil
}
