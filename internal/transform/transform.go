// Package transform turns reconciled rows into validated score records and
// builds the per-year lookup directory from the auxiliary files.
package transform

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/ashita-ai/edustats/internal/model"
	"github.com/ashita-ai/edustats/internal/schema"
)

// DefaultSampleSize bounds the rejections kept for the run report.
const DefaultSampleSize = 20

// Engine validates source files against a schema registry.
type Engine struct {
	registry      *schema.Registry
	maxRejectRate float64
	sampleSize    int
	logger        *slog.Logger
}

// NewEngine creates an Engine. maxRejectRate is a fraction in [0,1].
func NewEngine(registry *schema.Registry, maxRejectRate float64, logger *slog.Logger) *Engine {
	return &Engine{
		registry:      registry,
		maxRejectRate: maxRejectRate,
		sampleSize:    DefaultSampleSize,
		logger:        logger,
	}
}

// Result is the outcome of transforming one results file.
type Result struct {
	Generation string
	Records    []model.ScoreRecord
	Counts     model.RunCounts
	Sample     []*RowValidationError
}

// Scores parses a results file for year. On a BatchQualityError the
// returned Result carries the counts but no records.
func (e *Engine) Scores(year int, data []byte, dir model.Directory) (*Result, error) {
	rd, err := schema.NewReader(data)
	if err != nil {
		return nil, err
	}
	m, err := e.registry.Reconcile(schema.CategoryResults, rd.Header())
	if err != nil {
		return nil, err
	}

	res := &Result{Generation: m.Generation(), Counts: model.RunCounts{ByField: map[string]int{}}}
	index := map[model.IdentityKey]int{}
	reject := func(rv *RowValidationError) {
		res.Counts.Rejected++
		res.Counts.ByField[rv.Field]++
		if len(res.Sample) < e.sampleSize {
			res.Sample = append(res.Sample, rv)
		}
		e.logger.Debug("transform: row rejected", "year", year, "line", rv.Line, "field", rv.Field, "reason", rv.Reason)
	}

	for {
		cells, line, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		res.Counts.Read++
		if err != nil {
			reject(&RowValidationError{Line: line, Field: "row", Reason: err.Error()})
			continue
		}
		if len(cells) != m.Width() {
			reject(&RowValidationError{Line: line, Field: "row",
				Reason: fmt.Sprintf("has %d cells, header has %d", len(cells), m.Width())})
			continue
		}
		rec, rv := buildRecord(year, m.Row(cells), line, dir)
		if rv != nil {
			reject(rv)
			continue
		}

		key := rec.Identity()
		if i, seen := index[key]; seen {
			if res.Records[i].Equal(rec) {
				res.Counts.Duplicates++
			} else {
				res.Records[i] = rec
				res.Counts.Corrections++
			}
			continue
		}
		index[key] = len(res.Records)
		res.Records = append(res.Records, rec)
	}
	res.Counts.Accepted = len(res.Records)

	if res.Counts.Read == 0 {
		res.Records = nil
		return res, &BatchQualityError{Generation: res.Generation, Threshold: e.maxRejectRate}
	}
	rate := float64(res.Counts.Rejected) / float64(res.Counts.Read)
	if rate > e.maxRejectRate {
		res.Records = nil
		res.Counts.Accepted = 0
		return res, &BatchQualityError{
			Generation: res.Generation,
			Read:       res.Counts.Read,
			Rejected:   res.Counts.Rejected,
			Rate:       rate,
			Threshold:  e.maxRejectRate,
		}
	}
	return res, nil
}

// buildRecord coerces and validates one row.
func buildRecord(year int, row schema.Row, line int, dir model.Directory) (model.ScoreRecord, *RowValidationError) {
	bad := func(f schema.Field, reason string) (model.ScoreRecord, *RowValidationError) {
		return model.ScoreRecord{}, &RowValidationError{Line: line, Field: string(f), Value: row.Cell(f), Reason: reason}
	}

	rec := model.ScoreRecord{YearKey: year, TestType: row.Cell(schema.FieldTestType)}

	if row.Has(schema.FieldTestYear) {
		if cell := row.Cell(schema.FieldTestYear); !Suppressed(cell) {
			y, err := strconv.Atoi(cell)
			if err != nil {
				return bad(schema.FieldTestYear, errNotInteger.Error())
			}
			if y != year {
				return bad(schema.FieldTestYear, fmt.Sprintf("file is for %d", year))
			}
		}
	}

	subject, ok := NormalizeSubject(row.Cell(schema.FieldSubject), row.Type(schema.FieldSubject))
	if !ok {
		return bad(schema.FieldSubject, "unknown subject")
	}
	rec.Subject = subject

	grade, ok := NormalizeGrade(row.Cell(schema.FieldGrade))
	if !ok {
		return bad(schema.FieldGrade, "unknown grade")
	}
	rec.Grade = grade

	rec.Subgroup = row.Cell(schema.FieldSubgroup)
	if rec.Subgroup == "" {
		return bad(schema.FieldSubgroup, "missing subgroup")
	}

	rec.Location = dir.Enrich(model.Location{
		CountyCode:   row.Cell(schema.FieldCountyCode),
		CountyName:   row.Cell(schema.FieldCountyName),
		DistrictCode: row.Cell(schema.FieldDistrictCode),
		DistrictName: row.Cell(schema.FieldDistrictName),
		SchoolCode:   row.Cell(schema.FieldSchoolCode),
		SchoolName:   row.Cell(schema.FieldSchoolName),
	})
	if rec.Location.Key() == "" {
		return model.ScoreRecord{}, &RowValidationError{Line: line, Field: "entity", Reason: "row names no location"}
	}

	var err error
	if rec.Tested, err = parseCount(row.Cell(schema.FieldTested), row.Type(schema.FieldTested)); err != nil {
		return bad(schema.FieldTested, err.Error())
	}
	if rec.TestedWithScores, err = parseCount(row.Cell(schema.FieldTestedWithScores), row.Type(schema.FieldTestedWithScores)); err != nil {
		return bad(schema.FieldTestedWithScores, err.Error())
	}
	if rec.Tested != nil && rec.TestedWithScores != nil && *rec.TestedWithScores > *rec.Tested {
		return bad(schema.FieldTestedWithScores, "exceeds tested")
	}
	if rec.MeanScaleScore, err = parseDecimal(row.Cell(schema.FieldMeanScaleScore)); err != nil {
		return bad(schema.FieldMeanScaleScore, err.Error())
	}
	if rec.MeanScaleScore.Valid && rec.MeanScaleScore.Decimal.IsNegative() {
		return bad(schema.FieldMeanScaleScore, errNegative.Error())
	}

	for _, b := range model.Bands {
		pf, cf := schema.BandPct(b), schema.BandCount(b)
		pct, err := parsePct(row.Cell(pf))
		if err != nil {
			return bad(pf, err.Error())
		}
		cnt, err := parseCount(row.Cell(cf), row.Type(cf))
		if err != nil {
			return bad(cf, err.Error())
		}
		if cnt != nil && rec.Tested != nil && *cnt > *rec.Tested {
			return bad(cf, "exceeds tested")
		}
		rec.Bands[b] = model.BandValue{Pct: pct, Count: cnt}
	}
	return rec, nil
}
