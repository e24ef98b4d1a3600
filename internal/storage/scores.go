package storage

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/ashita-ai/edustats/internal/config"
	"github.com/ashita-ai/edustats/internal/model"
)

// LoadParams describes one year-scoped batch.
type LoadParams struct {
	Year       int
	RunID      uuid.UUID
	Generation string
	Records    []model.ScoreRecord
	// Policy is config.PolicyReplace (default) or config.PolicyReloadYear.
	Policy string
}

// LoadResult reports what a committed load changed.
type LoadResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
}

// factColumns lists fact_scores columns in COPY order. loaded_at is left to
// its default.
var factColumns = []string{
	"year_key", "subject", "subgroup", "grade", "entity_key", "test_type",
	"county_code", "county_name", "district_code", "district_name", "school_code", "school_name",
	"tested", "tested_with_scores", "mean_scale_score",
	"pct_exceeded", "cnt_exceeded",
	"pct_met", "cnt_met",
	"pct_met_and_above", "cnt_met_and_above",
	"pct_nearly_met", "cnt_nearly_met",
	"pct_not_met", "cnt_not_met",
	"source_generation", "ingestion_run_id",
}

const identityColumns = "year_key, subject, subgroup, grade, entity_key"

var upsertScoresSQL = func() string {
	cols := strings.Join(factColumns, ", ")
	sets := make([]string, 0, len(factColumns))
	for _, c := range factColumns[5:] {
		sets = append(sets, c+" = EXCLUDED."+c)
	}
	sets = append(sets, "loaded_at = now()")
	return fmt.Sprintf(
		`INSERT INTO fact_scores (%s) SELECT %s FROM stage_scores
		 ON CONFLICT (%s) DO UPDATE SET %s
		 RETURNING (xmax = 0) AS inserted`,
		cols, cols, identityColumns, strings.Join(sets, ", "))
}()

// LoadYear writes a year's records in a single transaction. Writers of the
// same year are serialized by an advisory lock. Records are staged with COPY
// and merged by identity key: the replace policy overwrites every column of
// an existing row, the reload-year policy first removes every row of the
// year. Any failure rolls the whole batch back and is returned as a
// *LoadError.
func (db *DB) LoadYear(ctx context.Context, p LoadParams) (LoadResult, error) {
	for i := range p.Records {
		if p.Records[i].YearKey != p.Year {
			return LoadResult{}, &LoadError{Year: p.Year,
				Err: fmt.Errorf("record %d belongs to year %d", i, p.Records[i].YearKey)}
		}
	}

	var res LoadResult
	err := retryLoad(ctx, db.logger, p.Year, loadAttempts, loadRetryBase, func() error {
		res = LoadResult{}
		return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
			return db.loadYearTx(ctx, tx, p, &res)
		})
	})
	if err != nil {
		return LoadResult{}, newLoadError(p.Year, err)
	}

	db.logger.Info("storage: year loaded",
		"year", p.Year, "generation", p.Generation, "policy", p.Policy,
		"inserted", res.Inserted, "updated", res.Updated, "deleted", res.Deleted)
	return res, nil
}

func (db *DB) loadYearTx(ctx context.Context, tx pgx.Tx, p LoadParams, res *LoadResult) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(p.Year)); err != nil {
		return fmt.Errorf("lock year: %w", err)
	}

	if p.Policy == config.PolicyReloadYear {
		tag, err := tx.Exec(ctx, `DELETE FROM fact_scores WHERE year_key = $1`, p.Year)
		if err != nil {
			return fmt.Errorf("clear year: %w", err)
		}
		res.Deleted = int(tag.RowsAffected())
	}

	if len(p.Records) == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE stage_scores (LIKE fact_scores INCLUDING DEFAULTS) ON COMMIT DROP`,
	); err != nil {
		return fmt.Errorf("create stage: %w", err)
	}

	runID := nullUUID(p.RunID)
	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"stage_scores"}, factColumns,
		pgx.CopyFromSlice(len(p.Records), func(i int) ([]any, error) {
			return factRow(p.Records[i], p.Generation, runID), nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy stage: %w", err)
	}
	if int(copied) != len(p.Records) {
		return fmt.Errorf("copy stage: copied %d of %d rows", copied, len(p.Records))
	}

	rows, err := tx.Query(ctx, upsertScoresSQL)
	if err != nil {
		return fmt.Errorf("merge stage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return fmt.Errorf("merge stage: scan: %w", err)
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("merge stage: %w", err)
	}
	return nil
}

func factRow(r model.ScoreRecord, generation string, runID *uuid.UUID) []any {
	l := r.Location
	row := []any{
		r.YearKey, string(r.Subject), r.Subgroup, r.Grade, l.Key(), nullStr(r.TestType),
		nullStr(l.CountyCode), nullStr(l.CountyName),
		nullStr(l.DistrictCode), nullStr(l.DistrictName),
		nullStr(l.SchoolCode), nullStr(l.SchoolName),
		r.Tested, r.TestedWithScores, toNumeric(r.MeanScaleScore),
	}
	for _, b := range model.Bands {
		row = append(row, toNumeric(r.Bands[b].Pct), r.Bands[b].Count)
	}
	return append(row, generation, runID)
}

// QueryScores returns fact rows matching f, ordered by identity key, and the
// total number of matches.
func (db *DB) QueryScores(ctx context.Context, f model.ScoreFilter) ([]model.StoredScore, int, error) {
	where, args := buildScoreWhereClause(f, 1)

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM fact_scores"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count scores: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 10000 {
		limit = 10000
	}
	offset := max(f.Offset, 0)

	query := fmt.Sprintf(
		`SELECT %s, loaded_at FROM fact_scores%s ORDER BY %s LIMIT %d OFFSET %d`,
		strings.Join(factColumns, ", "), where, identityColumns, limit, offset)
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: query scores: %w", err)
	}
	defer rows.Close()

	var out []model.StoredScore
	for rows.Next() {
		s, err := scanScore(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan score: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("storage: query scores: %w", err)
	}
	return out, total, nil
}

// CountScores returns the number of fact rows stored for a year.
func (db *DB) CountScores(ctx context.Context, year int) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM fact_scores WHERE year_key = $1`, year,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count scores: %w", err)
	}
	return n, nil
}

func buildScoreWhereClause(f model.ScoreFilter, startArgIdx int) (string, []any) {
	var conditions []string
	var args []any
	idx := startArgIdx

	add := func(col string, v any) {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, v)
		idx++
	}
	if f.YearKey != nil {
		add("year_key", *f.YearKey)
	}
	if f.Subject != nil {
		add("subject", string(*f.Subject))
	}
	if f.Grade != nil {
		add("grade", *f.Grade)
	}
	if f.Subgroup != nil {
		add("subgroup", *f.Subgroup)
	}
	if f.Entity != nil {
		add("entity_key", *f.Entity)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanScore(rows pgx.Rows) (model.StoredScore, error) {
	var (
		s        model.StoredScore
		subject  string
		testType *string
		loc      [6]*string
		mean     pgtype.Numeric
		pct      [model.NumBands]pgtype.Numeric
		cnt      [model.NumBands]*int64
	)
	dest := []any{
		&s.YearKey, &subject, &s.Subgroup, &s.Grade, &s.EntityKey, &testType,
		&loc[0], &loc[1], &loc[2], &loc[3], &loc[4], &loc[5],
		&s.Tested, &s.TestedWithScores, &mean,
	}
	for i := range model.NumBands {
		dest = append(dest, &pct[i], &cnt[i])
	}
	dest = append(dest, &s.Generation, &s.IngestionRunID, &s.LoadedAt)
	if err := rows.Scan(dest...); err != nil {
		return model.StoredScore{}, err
	}

	s.Subject = model.Subject(subject)
	s.TestType = deref(testType)
	s.Location = model.Location{
		CountyCode: deref(loc[0]), CountyName: deref(loc[1]),
		DistrictCode: deref(loc[2]), DistrictName: deref(loc[3]),
		SchoolCode: deref(loc[4]), SchoolName: deref(loc[5]),
	}
	s.MeanScaleScore = fromNumeric(mean)
	for i := range model.NumBands {
		s.Bands[i] = model.BandValue{Pct: fromNumeric(pct[i]), Count: cnt[i]}
	}
	return s, nil
}

func toNumeric(d decimal.NullDecimal) pgtype.Numeric {
	if !d.Valid {
		return pgtype.Numeric{}
	}
	return pgtype.Numeric{Int: d.Decimal.Coefficient(), Exp: d.Decimal.Exponent(), Valid: true}
}

func fromNumeric(n pgtype.Numeric) decimal.NullDecimal {
	if !n.Valid || n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.NullDecimal{}
	}
	i := n.Int
	if i == nil {
		i = new(big.Int)
	}
	return decimal.NullDecimal{Decimal: decimal.NewFromBigInt(i, n.Exp), Valid: true}
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
