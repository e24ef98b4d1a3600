package model_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/edustats/internal/model"
)

func ptr(v int64) *int64 { return &v }

func TestLocationKey(t *testing.T) {
	tests := []struct {
		name string
		loc  model.Location
		want string
	}{
		{
			name: "full code triple",
			loc:  model.Location{CountyCode: "01", DistrictCode: "61119", SchoolCode: "0000000"},
			want: "cds:01-61119-0000000",
		},
		{
			name: "codes without county",
			loc:  model.Location{DistrictCode: "61119", SchoolCode: "0123456", SchoolName: "Lincoln"},
			want: "cds:-61119-0123456",
		},
		{
			name: "names only are normalized",
			loc:  model.Location{DistrictName: "Oakland  Unified", SchoolName: "Lincoln Elementary"},
			want: "name:|oakland unified|lincoln elementary",
		},
		{
			name: "nothing at all",
			loc:  model.Location{},
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.loc.Key())
		})
	}
}

func TestLocationLabelSkipsEmptyParts(t *testing.T) {
	l := model.Location{CountyName: "Alameda", SchoolName: "Lincoln Elementary"}
	assert.Equal(t, "Alameda | Lincoln Elementary", l.Label())
}

func TestScoreRecordEqual(t *testing.T) {
	base := model.ScoreRecord{
		YearKey:  2023,
		Subject:  model.SubjectMath,
		Subgroup: "1",
		Grade:    "3",
		Location: model.Location{DistrictCode: "61119"},
		Tested:   ptr(100),
	}
	base.Bands[model.BandMet].Pct = decimal.NewNullDecimal(decimal.RequireFromString("41.50"))

	same := base
	same.Bands[model.BandMet].Pct = decimal.NewNullDecimal(decimal.RequireFromString("41.5"))
	same.Tested = ptr(100)
	assert.True(t, base.Equal(same), "numerically equal decimals compare equal")

	changed := base
	changed.Tested = ptr(101)
	assert.False(t, base.Equal(changed))

	suppressed := base
	suppressed.Tested = nil
	assert.False(t, base.Equal(suppressed), "suppressed differs from a value")

	assert.Equal(t, base.Identity(), changed.Identity())
}

func TestBandString(t *testing.T) {
	assert.Equal(t, "met_and_above", model.BandMetAndAbove.String())
	assert.Equal(t, "band(9)", model.Band(9).String())
}

func TestPointIDDeterministic(t *testing.T) {
	a := model.ReferenceEntity{Kind: model.KindGrade, ID: "3", Label: "Grade 3"}
	b := model.ReferenceEntity{Kind: model.KindGrade, ID: "3", Label: "Grade Three"}
	c := model.ReferenceEntity{Kind: model.KindSubgroup, ID: "3"}
	assert.Equal(t, a.PointID(), b.PointID(), "label does not affect identity")
	assert.NotEqual(t, a.PointID(), c.PointID(), "kind is part of identity")
}

func TestYearWindow(t *testing.T) {
	assert.Equal(t, []int{2022, 2023, 2024}, model.YearWindow(2024, 3))
	assert.Nil(t, model.YearWindow(2024, 0))
	assert.Equal(t, "AY 2023-2024", model.YearLabel(2023))
}

func TestDirectoryEnrich(t *testing.T) {
	dir := model.NewDirectory()
	ref := model.Location{CountyCode: "01", DistrictCode: "61119", SchoolCode: "0000000",
		CountyName: "Alameda", DistrictName: "Oakland Unified"}
	dir.AddLocation(ref)

	got := dir.Enrich(model.Location{CountyCode: "01", DistrictCode: "61119", SchoolCode: "0000000"})
	assert.Equal(t, "Alameda", got.CountyName)
	assert.Equal(t, "Oakland Unified", got.DistrictName)

	got = dir.Enrich(model.Location{DistrictCode: "61119", SchoolCode: "0000000"})
	assert.Equal(t, "Oakland Unified", got.DistrictName, "county-less rows match on district and school")
	assert.Empty(t, got.CountyName)
	assert.Empty(t, got.CountyCode)

	got = dir.Enrich(model.Location{DistrictCode: "61119", SchoolCode: "9999999"})
	assert.Empty(t, got.DistrictName)

	var zero model.Directory
	assert.Equal(t, model.Location{DistrictCode: "1", SchoolCode: "2"},
		zero.Enrich(model.Location{DistrictCode: "1", SchoolCode: "2"}))

	assert.Equal(t, "Student group 128", dir.SubgroupLabel("128"))
	assert.Equal(t, "Smarter Balanced Math", dir.TestLabel(model.SubjectMath))
	assert.Equal(t, "All Grades", model.GradeLabel(model.GradeAll))
}
