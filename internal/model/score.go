// Package model defines the core domain types for edustats.
//
// Types correspond to the fact/dimension tables in migrations/ and to the
// reference catalog entries mirrored into the similarity index. Numeric
// source values that were suppressed stay absent (nil pointer or invalid
// NullDecimal) and are never coerced to zero.
package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Subject is the closed set of tested subjects.
type Subject string

const (
	SubjectMath Subject = "Math"
	SubjectELA  Subject = "ELA"
)

// Valid reports whether s is one of the known subjects.
func (s Subject) Valid() bool {
	return s == SubjectMath || s == SubjectELA
}

// GradeAll is the canonical token for the all-grades aggregate.
const GradeAll = "All"

// Band identifies one of the five proficiency bands.
type Band int

const (
	BandExceeded Band = iota
	BandMet
	BandMetAndAbove
	BandNearlyMet
	BandNotMet

	NumBands = 5
)

// Bands lists all bands in storage column order.
var Bands = [NumBands]Band{BandExceeded, BandMet, BandMetAndAbove, BandNearlyMet, BandNotMet}

var bandNames = [NumBands]string{"exceeded", "met", "met_and_above", "nearly_met", "not_met"}

func (b Band) String() string {
	if b < 0 || int(b) >= NumBands {
		return fmt.Sprintf("band(%d)", int(b))
	}
	return bandNames[b]
}

// BandValue is one (percentage, count) pair. Either side may be suppressed.
type BandValue struct {
	Pct   decimal.NullDecimal `json:"pct"`
	Count *int64              `json:"count,omitempty"`
}

// Location describes the reporting entity of a score row. Codes are empty
// when the source generation does not carry them.
type Location struct {
	CountyCode   string `json:"county_code,omitempty"`
	CountyName   string `json:"county_name,omitempty"`
	DistrictCode string `json:"district_code,omitempty"`
	DistrictName string `json:"district_name,omitempty"`
	SchoolCode   string `json:"school_code,omitempty"`
	SchoolName   string `json:"school_name,omitempty"`
}

// HasCodes reports whether any organizational code is present.
func (l Location) HasCodes() bool {
	return l.CountyCode != "" || l.DistrictCode != "" || l.SchoolCode != ""
}

// Key returns the stable entity identifier: the code triple when the source
// provides codes, otherwise a normalized name key. Empty when the row names
// no entity at all.
func (l Location) Key() string {
	if l.HasCodes() {
		return "cds:" + l.CountyCode + "-" + l.DistrictCode + "-" + l.SchoolCode
	}
	name := NormalizeLabel(strings.Join([]string{l.CountyName, l.DistrictName, l.SchoolName}, "|"))
	if strings.Trim(name, "|") == "" {
		return ""
	}
	return "name:" + name
}

// Label is the display form used by the reference catalog.
func (l Location) Label() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.CountyName, l.DistrictName, l.SchoolName} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " | ")
}

// NormalizeLabel lower-cases s and collapses internal whitespace.
func NormalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ScoreRecord is one (year, subject, grade, subgroup, entity) observation.
type ScoreRecord struct {
	YearKey          int                 `json:"year_key"`
	Subject          Subject             `json:"subject"`
	Subgroup         string              `json:"subgroup"`
	Grade            string              `json:"grade"`
	TestType         string              `json:"test_type,omitempty"`
	Location         Location            `json:"location"`
	Tested           *int64              `json:"tested,omitempty"`
	TestedWithScores *int64              `json:"tested_with_scores,omitempty"`
	MeanScaleScore   decimal.NullDecimal `json:"mean_scale_score"`
	Bands            [NumBands]BandValue `json:"bands"`
}

// IdentityKey uniquely identifies a fact row.
type IdentityKey struct {
	YearKey  int
	Subject  Subject
	Subgroup string
	Grade    string
	Entity   string
}

func (k IdentityKey) String() string {
	return fmt.Sprintf("%d/%s/%s/%s/%s", k.YearKey, k.Subject, k.Subgroup, k.Grade, k.Entity)
}

// Identity returns the record's identity key.
func (r ScoreRecord) Identity() IdentityKey {
	return IdentityKey{
		YearKey:  r.YearKey,
		Subject:  r.Subject,
		Subgroup: r.Subgroup,
		Grade:    r.Grade,
		Entity:   r.Location.Key(),
	}
}

// Band returns the value of band b.
func (r ScoreRecord) Band(b Band) BandValue {
	return r.Bands[b]
}

// Equal reports whether two records carry identical values.
func (r ScoreRecord) Equal(o ScoreRecord) bool {
	if r.YearKey != o.YearKey || r.Subject != o.Subject || r.Subgroup != o.Subgroup ||
		r.Grade != o.Grade || r.TestType != o.TestType || r.Location != o.Location {
		return false
	}
	if !eqInt(r.Tested, o.Tested) || !eqInt(r.TestedWithScores, o.TestedWithScores) ||
		!eqDec(r.MeanScaleScore, o.MeanScaleScore) {
		return false
	}
	for i := range r.Bands {
		if !eqDec(r.Bands[i].Pct, o.Bands[i].Pct) || !eqInt(r.Bands[i].Count, o.Bands[i].Count) {
			return false
		}
	}
	return true
}

func eqInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func eqDec(a, b decimal.NullDecimal) bool {
	if !a.Valid || !b.Valid {
		return a.Valid == b.Valid
	}
	return a.Decimal.Equal(b.Decimal)
}
