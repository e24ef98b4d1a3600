package transform

import (
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/edustats/internal/model"
	"github.com/ashita-ai/edustats/internal/schema"
	"github.com/ashita-ai/edustats/internal/testutil"
)

var bandCols = []string{
	"Percentage Standard Exceeded", "Count Standard Exceeded",
	"Percentage Standard Met", "Count Standard Met",
	"Percentage Standard Met and Above", "Count Standard Met and Above",
	"Percentage Standard Nearly Met", "Count Standard Nearly Met",
	"Percentage Standard Not Met", "Count Standard Not Met",
}

var v1Cols = append([]string{"District Code", "School Code", "District Name", "School Name", "Test Year",
	"Test Type", "Test ID", "Student Group ID", "Grade", "Total Students Tested",
	"Total Students Tested with Scores", "Mean Scale Score"}, bandCols...)

var v2Cols = append([]string{"County Code", "County Name"}, v1Cols...)

type row map[string]string

func baseRow(subgroup int) row {
	return row{
		"County Code": "01", "County Name": "Alameda",
		"District Code": "61119", "School Code": "0000000",
		"District Name": "Oakland Unified", "Test Year": "2023", "Test Type": "B",
		"Test ID": "2", "Student Group ID": strconv.Itoa(subgroup), "Grade": "3",
		"Total Students Tested": "100", "Total Students Tested with Scores": "98",
		"Mean Scale Score": "2431.5",
		"Percentage Standard Exceeded": "20.00", "Count Standard Exceeded": "20",
		"Percentage Standard Met": "21.50", "Count Standard Met": "21",
		"Percentage Standard Met and Above": "41.50", "Count Standard Met and Above": "41",
		"Percentage Standard Nearly Met": "30.00", "Count Standard Nearly Met": "30",
		"Percentage Standard Not Met": "28.50", "Count Standard Not Met": "28",
	}
}

func (r row) with(kv ...string) row {
	out := row{}
	for k, v := range r {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

func caretFile(cols []string, rows ...row) []byte {
	var b strings.Builder
	b.WriteString(strings.Join(cols, "^"))
	b.WriteString("\r\n")
	for _, r := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = r[c]
		}
		b.WriteString(strings.Join(cells, "^"))
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

func newEngine(t *testing.T, threshold float64) *Engine {
	t.Helper()
	reg, err := schema.Default()
	require.NoError(t, err)
	return NewEngine(reg, threshold, testutil.TestLogger())
}

func TestScoresGenerationB(t *testing.T) {
	e := newEngine(t, 0.05)
	res, err := e.Scores(2023, caretFile(v1Cols, baseRow(1), baseRow(2)), model.NewDirectory())
	require.NoError(t, err)
	assert.Equal(t, "results-v1", res.Generation)
	require.Len(t, res.Records, 2)

	r := res.Records[0]
	assert.Equal(t, model.SubjectMath, r.Subject)
	assert.Equal(t, "3", r.Grade)
	assert.Equal(t, "", r.Location.CountyName, "generation without county fields")
	assert.Equal(t, "61119", r.Location.DistrictCode)
	require.NotNil(t, r.Tested)
	assert.Equal(t, int64(100), *r.Tested)
	assert.Equal(t, "41.5", r.Band(model.BandMetAndAbove).Pct.Decimal.String())
	assert.Equal(t, 2, res.Counts.Read)
	assert.Equal(t, 2, res.Counts.Accepted)
}

func TestScoresGenerationA(t *testing.T) {
	e := newEngine(t, 0.05)
	r1 := baseRow(1).with("Total Students Tested", "100.0", "Count Standard Met", "21.00")
	res, err := e.Scores(2022, caretFile(v2Cols, r1.with("Test Year", "2022")), model.NewDirectory())
	require.NoError(t, err)
	assert.Equal(t, "results-v2", res.Generation)
	require.Len(t, res.Records, 1)

	r := res.Records[0]
	assert.Equal(t, "Alameda", r.Location.CountyName)
	assert.Equal(t, int64(100), *r.Tested, "decimal count stored as integer")
	assert.Equal(t, int64(21), *r.Band(model.BandMet).Count)
}

func TestScoresRejectsOutOfRangePercentage(t *testing.T) {
	rows := make([]row, 0, 25)
	for i := 1; i <= 24; i++ {
		rows = append(rows, baseRow(i))
	}
	rows = append(rows, baseRow(99).with("Percentage Standard Met and Above", "150"))

	e := newEngine(t, 0.05)
	res, err := e.Scores(2023, caretFile(v1Cols, rows...), model.NewDirectory())
	require.NoError(t, err)
	assert.Len(t, res.Records, 24, "valid rows still load")
	assert.Equal(t, 1, res.Counts.Rejected)
	assert.Equal(t, 1, res.Counts.ByField["pct_met_and_above"])
	require.Len(t, res.Sample, 1)
	assert.Equal(t, "150", res.Sample[0].Value)
	assert.Equal(t, 26, res.Sample[0].Line)

	for _, r := range res.Records {
		for _, b := range model.Bands {
			v := r.Band(b)
			if v.Pct.Valid {
				assert.True(t, v.Pct.Decimal.GreaterThanOrEqual(decimal.Zero) && v.Pct.Decimal.LessThanOrEqual(hundred))
			}
			if v.Count != nil && r.Tested != nil {
				assert.LessOrEqual(t, *v.Count, *r.Tested)
			}
		}
	}
}

func TestScoresSuppressedCellsAreAbsent(t *testing.T) {
	e := newEngine(t, 0.05)
	r := baseRow(1).with("Total Students Tested", "*", "Total Students Tested with Scores", "*",
		"Mean Scale Score", "", "Percentage Standard Met", "N/A", "Count Standard Met", "**")
	res, err := e.Scores(2023, caretFile(v1Cols, r), model.NewDirectory())
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	rec := res.Records[0]
	assert.Nil(t, rec.Tested)
	assert.Nil(t, rec.TestedWithScores)
	assert.False(t, rec.MeanScaleScore.Valid)
	assert.False(t, rec.Band(model.BandMet).Pct.Valid)
	assert.Nil(t, rec.Band(model.BandMet).Count)
	assert.NotNil(t, rec.Band(model.BandExceeded).Count)
}

func TestScoresRowGates(t *testing.T) {
	tests := []struct {
		name  string
		row   row
		field string
	}{
		{"unknown subject", baseRow(1).with("Test ID", "7"), "subject"},
		{"unknown grade", baseRow(1).with("Grade", "12"), "grade"},
		{"missing subgroup", baseRow(1).with("Student Group ID", ""), "subgroup"},
		{"no location", baseRow(1).with("District Code", "", "School Code", "", "District Name", ""), "entity"},
		{"count above tested", baseRow(1).with("Count Standard Not Met", "101"), "cnt_not_met"},
		{"with scores above tested", baseRow(1).with("Total Students Tested with Scores", "101"), "tested_with_scores"},
		{"negative count", baseRow(1).with("Count Standard Met", "-1"), "cnt_met"},
		{"negative pct", baseRow(1).with("Percentage Standard Met", "-0.5"), "pct_met"},
		{"fractional int count", baseRow(1).with("Count Standard Met", "2.5"), "cnt_met"},
		{"wrong year", baseRow(1).with("Test Year", "2021"), "test_year"},
		{"garbage tested", baseRow(1).with("Total Students Tested", "lots"), "tested"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, 1)
			res, err := e.Scores(2023, caretFile(v1Cols, baseRow(50), tt.row), model.NewDirectory())
			require.NoError(t, err)
			assert.Len(t, res.Records, 1)
			assert.Equal(t, 1, res.Counts.ByField[tt.field], "by field: %v", res.Counts.ByField)
		})
	}
}

func TestScoresDecimalCountMustBeWhole(t *testing.T) {
	e := newEngine(t, 1)
	r := baseRow(1).with("Count Standard Met", "12.5")
	res, err := e.Scores(2023, caretFile(v2Cols, r), model.NewDirectory())
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 1, res.Counts.ByField["cnt_met"])
}

func TestScoresShortRowRejected(t *testing.T) {
	data := append(caretFile(v1Cols, baseRow(1)), []byte("61119^0000000^Oakland\r\n")...)
	e := newEngine(t, 1)
	res, err := e.Scores(2023, data, model.NewDirectory())
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Counts.ByField["row"])
}

func TestScoresBatchQualityThreshold(t *testing.T) {
	rows := []row{baseRow(1), baseRow(2), baseRow(3).with("Grade", "twelve")}
	e := newEngine(t, 0.05)
	res, err := e.Scores(2023, caretFile(v1Cols, rows...), model.NewDirectory())
	var bq *BatchQualityError
	require.ErrorAs(t, err, &bq)
	assert.Equal(t, 3, bq.Read)
	assert.Equal(t, 1, bq.Rejected)
	require.NotNil(t, res)
	assert.Nil(t, res.Records, "nothing is handed to the loader")
	assert.Equal(t, 1, res.Counts.Rejected)
}

func TestScoresEmptyFile(t *testing.T) {
	e := newEngine(t, 0.05)
	_, err := e.Scores(2023, caretFile(v1Cols), model.NewDirectory())
	var bq *BatchQualityError
	require.ErrorAs(t, err, &bq)
	assert.Equal(t, 0, bq.Read)
}

func TestScoresUnknownLayout(t *testing.T) {
	e := newEngine(t, 0.05)
	_, err := e.Scores(2023, []byte("a^b^c\r\n1^2^3\r\n"), model.NewDirectory())
	var ue *schema.UnknownSchemaError
	assert.ErrorAs(t, err, &ue)
}

func TestScoresDuplicatesAndCorrections(t *testing.T) {
	e := newEngine(t, 0.05)
	rows := []row{
		baseRow(1),
		baseRow(1),
		baseRow(2),
		baseRow(2).with("Mean Scale Score", "2440.0"),
	}
	res, err := e.Scores(2023, caretFile(v1Cols, rows...), model.NewDirectory())
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, 1, res.Counts.Duplicates)
	assert.Equal(t, 1, res.Counts.Corrections)
	assert.Equal(t, "2440", res.Records[1].MeanScaleScore.Decimal.String(), "later row wins")
}

func TestScoresEnrichesFromDirectory(t *testing.T) {
	e := newEngine(t, 0.05)
	locations := caretFile(
		[]string{"County Code", "District Code", "School Code", "Charter School Number", "Type ID",
			"Test Year", "County Name", "District Name", "School Name", "Zip Code"},
		row{"County Code": "01", "District Code": "61119", "School Code": "0123456", "Type ID": "7",
			"Test Year": "2023", "County Name": "Alameda", "District Name": "Oakland Unified",
			"School Name": "Lincoln Elementary"},
	)
	subgroups := caretFile([]string{"Demographic ID", "Demographic Name", "Student Group"},
		row{"Demographic ID": "1", "Demographic Name": "All Students", "Student Group": "All Students"},
		row{"Demographic ID": "128", "Demographic Name": "Reported Disabilities", "Student Group": "Disability Status"},
	)
	tests := caretFile([]string{"Test ID", "Test Name"},
		row{"Test ID": "1", "Test Name": "Smarter Balanced English Language Arts/Literacy"},
		row{"Test ID": "2", "Test Name": "Smarter Balanced Mathematics"},
		row{"Test ID": "9", "Test Name": "California Alternate Assessment"},
	)
	dir, err := e.Directory(map[string][]byte{
		schema.CategoryLocations: locations,
		schema.CategorySubgroups: subgroups,
		schema.CategoryTests:     tests,
	})
	require.NoError(t, err)
	assert.Len(t, dir.Locations, 1)
	assert.Equal(t, "Reported Disabilities", dir.SubgroupLabel("128"))
	assert.Equal(t, "Smarter Balanced Mathematics", dir.TestLabel(model.SubjectMath))
	assert.Len(t, dir.Tests, 2, "tests outside Math and ELA are ignored")

	r := baseRow(1).with("County Code", "01", "School Code", "0123456", "District Name", "", "County Name", "")
	res, err := e.Scores(2023, caretFile(v2Cols, r), dir)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	loc := res.Records[0].Location
	assert.Equal(t, "Alameda", loc.CountyName)
	assert.Equal(t, "Lincoln Elementary", loc.SchoolName)

	r = baseRow(1).with("School Code", "0123456", "District Name", "")
	res, err = e.Scores(2023, caretFile(v1Cols, r), dir)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	loc = res.Records[0].Location
	assert.Equal(t, "Oakland Unified", loc.DistrictName, "layouts without county codes enrich on district and school")
	assert.Equal(t, "Lincoln Elementary", loc.SchoolName)
	assert.Empty(t, loc.CountyName)
	assert.Empty(t, loc.CountyCode)
}

func TestDirectoryUnknownLayout(t *testing.T) {
	e := newEngine(t, 0.05)
	_, err := e.Directory(map[string][]byte{schema.CategoryTests: []byte("Code^Label\r\n1^x\r\n")})
	var ue *schema.UnknownSchemaError
	assert.ErrorAs(t, err, &ue)
}

func TestNormalizeGrade(t *testing.T) {
	valid := map[string]string{
		"3": "3", "03": "3", "Grade 3": "3", "third": "3", "3rd": "3",
		"8": "8", "eighth": "8", "11": "11", "Grade 11": "11", "11th": "11",
		"13": model.GradeAll, "All": model.GradeAll, "all grades": model.GradeAll,
	}
	for in, want := range valid {
		got, ok := NormalizeGrade(in)
		assert.True(t, ok, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}
	for _, in := range []string{"", "2", "9", "10", "12", "kindergarten", "grade"} {
		_, ok := NormalizeGrade(in)
		assert.False(t, ok, "input %q", in)
	}
}

func TestNormalizeSubject(t *testing.T) {
	s, ok := NormalizeSubject("1", schema.TypeSubjectCode)
	assert.True(t, ok)
	assert.Equal(t, model.SubjectELA, s)
	s, ok = NormalizeSubject("02", schema.TypeSubjectCode)
	assert.True(t, ok)
	assert.Equal(t, model.SubjectMath, s)
	_, ok = NormalizeSubject("math", schema.TypeSubjectCode)
	assert.False(t, ok, "names are not codes")

	s, ok = NormalizeSubject("English Language Arts/Literacy", schema.TypeSubjectName)
	assert.True(t, ok)
	assert.Equal(t, model.SubjectELA, s)
	s, ok = NormalizeSubject("Mathematics", schema.TypeSubjectName)
	assert.True(t, ok)
	assert.Equal(t, model.SubjectMath, s)
	_, ok = NormalizeSubject("Science", schema.TypeSubjectName)
	assert.False(t, ok)
	_, ok = NormalizeSubject("1", schema.TypeSubjectName)
	assert.False(t, ok, "codes are not names")
}

func TestSuppressed(t *testing.T) {
	for _, tok := range []string{"", " ", "*", "**", "N/A", "na", "--", "-"} {
		assert.True(t, Suppressed(tok), "token %q", tok)
	}
	for _, tok := range []string{"0", "0.0", "none"} {
		assert.False(t, Suppressed(tok), "token %q", tok)
	}
}
