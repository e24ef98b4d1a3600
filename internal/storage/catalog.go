package storage

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/edustats/internal/model"
)

// DistinctCatalogItems derives the year's catalog entries from the committed
// fact rows, so the catalog only ever names what the fact store holds.
// Labels come from dir, with generated fallbacks.
func (db *DB) DistinctCatalogItems(ctx context.Context, year int, dir model.Directory) ([]model.ReferenceEntity, error) {
	var items []model.ReferenceEntity

	// The most recently loaded row names the location; rows of one load tie
	// on loaded_at and fall back to identity order.
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (entity_key) entity_key,
		        county_code, county_name, district_code, district_name, school_code, school_name
		 FROM fact_scores WHERE year_key = $1
		 ORDER BY entity_key, loaded_at DESC, subject, subgroup, grade`, year)
	if err != nil {
		return nil, fmt.Errorf("storage: catalog locations: %w", err)
	}
	for rows.Next() {
		var (
			key string
			loc [6]*string
		)
		if err := rows.Scan(&key, &loc[0], &loc[1], &loc[2], &loc[3], &loc[4], &loc[5]); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan catalog location: %w", err)
		}
		l := model.Location{
			CountyCode: deref(loc[0]), CountyName: deref(loc[1]),
			DistrictCode: deref(loc[2]), DistrictName: deref(loc[3]),
			SchoolCode: deref(loc[4]), SchoolName: deref(loc[5]),
		}
		l = dir.Enrich(l)
		label := l.Label()
		if label == "" {
			label = key
		}
		meta := map[string]any{}
		if l.HasCodes() {
			meta["county_code"] = l.CountyCode
			meta["district_code"] = l.DistrictCode
			meta["school_code"] = l.SchoolCode
		}
		items = append(items, model.ReferenceEntity{
			Kind: model.KindLocation, ID: key, Label: label, Years: []int{year}, Metadata: meta,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: catalog locations: %w", err)
	}

	simple := []struct {
		kind  model.EntityKind
		col   string
		label func(string) string
	}{
		{model.KindSubgroup, "subgroup", dir.SubgroupLabel},
		{model.KindTest, "subject", func(s string) string { return dir.TestLabel(model.Subject(s)) }},
		{model.KindGrade, "grade", model.GradeLabel},
	}
	for _, s := range simple {
		var ids []string
		rows, err := db.pool.Query(ctx,
			fmt.Sprintf(`SELECT DISTINCT %[1]s FROM fact_scores WHERE year_key = $1 ORDER BY %[1]s`, s.col), year)
		if err != nil {
			return nil, fmt.Errorf("storage: catalog %s: %w", s.kind, err)
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("storage: catalog %s: %w", s.kind, err)
		}
		for _, id := range ids {
			items = append(items, model.ReferenceEntity{
				Kind: s.kind, ID: id, Label: s.label(id), Years: []int{year},
			})
		}
	}

	model.SortEntities(items)
	return items, nil
}

// RecordCatalogObservations mirrors items into reference_entities, adding
// year to each entity's observed years. The write is additive: existing
// entities are only touched when year is new to them, so repeating a year
// changes nothing. Returns the number of rows written.
func (db *DB) RecordCatalogObservations(ctx context.Context, year int, items []model.ReferenceEntity) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, it := range items {
		meta := it.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO reference_entities (kind, entity_id, point_id, label, years, metadata)
			 VALUES ($1, $2, $3, $4, ARRAY[$5::int], $6)
			 ON CONFLICT (kind, entity_id) DO UPDATE SET
			     years = (SELECT array_agg(y ORDER BY y) FROM unnest(array_append(reference_entities.years, $5::int)) AS y),
			     label = EXCLUDED.label,
			     metadata = reference_entities.metadata || EXCLUDED.metadata,
			     updated_at = now()
			 WHERE NOT ($5::int = ANY (reference_entities.years))`,
			string(it.Kind), it.ID, it.PointID(), it.Label, year, meta,
		)
	}

	written := 0
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for range items {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return err
			}
			written += int(tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("storage: record catalog observations: %w", err)
	}
	return written, nil
}

// ListCatalog returns mirrored entities of kind, or of every kind when kind
// is empty.
func (db *DB) ListCatalog(ctx context.Context, kind model.EntityKind) ([]model.ReferenceEntity, error) {
	query := `SELECT kind, entity_id, label, years, metadata FROM reference_entities`
	var args []any
	if kind != "" {
		query += ` WHERE kind = $1`
		args = append(args, string(kind))
	}
	query += ` ORDER BY kind, entity_id`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list catalog: %w", err)
	}
	defer rows.Close()

	var out []model.ReferenceEntity
	for rows.Next() {
		var (
			e     model.ReferenceEntity
			k     string
			years []int32
		)
		if err := rows.Scan(&k, &e.ID, &e.Label, &years, &e.Metadata); err != nil {
			return nil, fmt.Errorf("storage: scan catalog entity: %w", err)
		}
		e.Kind = model.EntityKind(k)
		for _, y := range years {
			e.Years = append(e.Years, int(y))
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CatalogIndex is the similarity index kept in the reference_entities
// embedding column. It is used when no external index is configured.
type CatalogIndex struct {
	db *DB
}

// NewCatalogIndex returns a pgvector-backed index over db.
func NewCatalogIndex(db *DB) *CatalogIndex {
	return &CatalogIndex{db: db}
}

// Existing reports which of ids already carry an embedding.
func (ci *CatalogIndex) Existing(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]bool, error) {
	found := make(map[uuid.UUID]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rows, err := ci.db.pool.Query(ctx,
		`SELECT point_id FROM reference_entities WHERE point_id = ANY($1) AND embedding IS NOT NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("storage: catalog index lookup: %w", err)
	}
	present, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("storage: catalog index lookup: %w", err)
	}
	for _, id := range present {
		found[id] = true
	}
	return found, nil
}

// Upsert stores point embeddings. Entities missing from the mirror are
// inserted with the point's year set.
func (ci *CatalogIndex) Upsert(ctx context.Context, points []model.IndexPoint) error {
	if len(points) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range points {
		years := slices.Clone(p.Entity.Years)
		if years == nil {
			years = []int{}
		}
		meta := p.Entity.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		batch.Queue(
			`INSERT INTO reference_entities (kind, entity_id, point_id, label, years, metadata, embedding, indexed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			 ON CONFLICT (kind, entity_id) DO UPDATE SET
			     embedding = EXCLUDED.embedding, indexed_at = now(), updated_at = now()`,
			string(p.Entity.Kind), p.Entity.ID, p.ID, p.Entity.Label, years, meta, p.Vector,
		)
	}
	err := pgx.BeginFunc(ctx, ci.db.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("storage: catalog index upsert: %w", err)
	}
	return nil
}

// Name identifies the index in logs and run reports.
func (ci *CatalogIndex) Name() string { return "pgvector" }
