package schema

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var bandHeaders = []string{
	"Percentage Standard Exceeded", "Count Standard Exceeded",
	"Percentage Standard Met", "Count Standard Met",
	"Percentage Standard Met and Above", "Count Standard Met and Above",
	"Percentage Standard Nearly Met", "Count Standard Nearly Met",
	"Percentage Standard Not Met", "Count Standard Not Met",
}

func v1Header() []string {
	h := []string{"District Code", "School Code", "District Name", "School Name", "Test Year",
		"Test Type", "Test ID", "Student Group ID", "Grade", "Total Students Tested",
		"Total Students Tested with Scores", "Mean Scale Score"}
	return append(h, bandHeaders...)
}

func v2Header() []string {
	return append([]string{"County Code", "County Name"}, v1Header()...)
}

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		"County Code":                         "county_code",
		"\ufeffCounty Code":                   "county_code",
		"  Total Students Tested with Scores": "total_students_tested_with_scores",
		"Percentage Standard Met and Above":   "percentage_standard_met_and_above",
		"__Mean--Scale  Score__":              "mean_scale_score",
		"Filler":                              "filler",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeHeader(in), "input %q", in)
	}
}

func TestSniffDelimiter(t *testing.T) {
	assert.Equal(t, '^', SniffDelimiter("County Code^District Code^School Code"))
	assert.Equal(t, ',', SniffDelimiter("County Code,District Code,School Code"))
	assert.Equal(t, '\t', SniffDelimiter("County Code\tDistrict Code"))
	assert.Equal(t, '^', SniffDelimiter("single"))
}

func TestDefaultRegistryOrder(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)
	var names []string
	for _, g := range r.Generations(CategoryResults) {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{"results-v2", "results-v1"}, names)
	assert.Len(t, r.Generations(CategoryLocations), 1)
	assert.Len(t, r.Generations(CategorySubgroups), 1)
	assert.Len(t, r.Generations(CategoryTests), 1)
}

func TestReconcileGenerations(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	m1, err := r.Reconcile(CategoryResults, v1Header())
	require.NoError(t, err)
	assert.Equal(t, "results-v1", m1.Generation())
	assert.False(t, m1.Has(FieldCountyName))
	assert.Equal(t, TypeInt, m1.Type(FieldTested))
	assert.Equal(t, TypeInt, m1.Type(FieldCntMet))

	m2, err := r.Reconcile(CategoryResults, v2Header())
	require.NoError(t, err)
	assert.Equal(t, "results-v2", m2.Generation())
	assert.True(t, m2.Has(FieldCountyName))
	assert.Equal(t, TypeDecimal, m2.Type(FieldTested))
	assert.Equal(t, TypeDecimal, m2.Type(FieldCntMet))
	assert.Equal(t, TypeSubjectCode, m2.Type(FieldSubject))
}

func TestReconcileIgnoresColumnOrderAndExtras(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	h := v1Header()
	h[0], h[1] = h[1], h[0]
	h = append([]string{"Filler"}, h...)
	m, err := r.Reconcile(CategoryResults, h)
	require.NoError(t, err)

	cells := make([]string, len(h))
	cells[1] = "0123456" // school code now precedes district code
	cells[2] = "61119"
	row := m.Row(cells)
	assert.Equal(t, "61119", row.Cell(FieldDistrictCode))
	assert.Equal(t, "0123456", row.Cell(FieldSchoolCode))
	assert.Equal(t, "", row.Cell(FieldCountyCode), "unmapped fields are empty")
}

func TestReconcileUnknownLayout(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	h := v1Header()[:10] // drops Total Students Tested with Scores and later
	m, err := r.Reconcile(CategoryResults, h)
	assert.Nil(t, m, "no partial mapping")
	var ue *UnknownSchemaError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "results-v1", ue.Nearest)
	assert.Contains(t, ue.Missing, "total_students_tested_with_scores")
	assert.Contains(t, ue.Error(), "results-v1")

	_, err = NewRegistry().Reconcile(CategoryResults, h)
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "", ue.Nearest)
}

func TestRegisterIsAdditive(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	// Superset of results-v2: allowed, and does not capture older files.
	v3 := Generation{Name: "results-v3", Category: CategoryResults, Columns: []Column{
		{Source: "County Code", Field: FieldCountyCode},
		{Source: "County Name", Field: FieldCountyName},
		{Source: "District Code", Field: FieldDistrictCode},
		{Source: "School Code", Field: FieldSchoolCode},
		{Source: "Test ID", Field: FieldSubject, Type: TypeSubjectCode},
		{Source: "Student Group ID", Field: FieldSubgroup},
		{Source: "Grade", Field: FieldGrade, Type: TypeGrade},
		{Source: "Type ID", Field: FieldTypeID},
	}}
	require.NoError(t, r.Register(v3))

	m, err := r.Reconcile(CategoryResults, v1Header())
	require.NoError(t, err)
	assert.Equal(t, "results-v1", m.Generation())

	m, err = r.Reconcile(CategoryResults, append(v2Header(), "Type ID"))
	require.NoError(t, err)
	assert.Equal(t, "results-v3", m.Generation())
}

func TestRegisterRefusesCapture(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	loose := Generation{Name: "results-loose", Category: CategoryResults, Columns: []Column{
		{Source: "Test ID", Field: FieldSubject, Type: TypeSubjectName},
		{Source: "Student Group ID", Field: FieldSubgroup},
		{Source: "Grade", Field: FieldGrade, Type: TypeGrade},
	}}
	err = r.Register(loose)
	var re *RegistrationError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Reason, "subset")

	m, err := r.Reconcile(CategoryResults, v2Header())
	require.NoError(t, err)
	assert.Equal(t, "results-v2", m.Generation(), "refused generation left no trace")
}

func TestRegisterValidation(t *testing.T) {
	base := func() Generation {
		return Generation{Name: "tests-v9", Category: CategoryTests, Columns: []Column{
			{Source: "Test Code", Field: FieldSubject, Type: TypeSubjectName},
			{Source: "Test Label", Field: FieldTestName},
		}}
	}
	tests := []struct {
		name   string
		mutate func(*Generation)
	}{
		{"missing name", func(g *Generation) { g.Name = "" }},
		{"unknown category", func(g *Generation) { g.Category = "scores" }},
		{"unknown field", func(g *Generation) { g.Columns[0].Field = "percent" }},
		{"unknown type", func(g *Generation) { g.Columns[0].Type = "float" }},
		{"duplicate source", func(g *Generation) { g.Columns[1].Source = "test code" }},
		{"mandatory field missing", func(g *Generation) { g.Columns = g.Columns[:1] }},
		{"duplicate name", func(g *Generation) { g.Name = "tests-v1" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Default()
			require.NoError(t, err)
			g := base()
			tt.mutate(&g)
			assert.Error(t, r.Register(g))
		})
	}

	r, err := Default()
	require.NoError(t, err)
	assert.NoError(t, r.Register(base()))
}

func TestLoadRegistryRejectsUnknownKeys(t *testing.T) {
	_, err := LoadRegistry([]byte("generations:\n  - name: x\n    category: tests\n    colums: []\n"))
	assert.Error(t, err)
}

func TestReader(t *testing.T) {
	data := "\ufeffTest ID^Test Name\r\n1^Smarter Balanced ELA\r\n\r\n2^Smarter Balanced Math\r\n"
	rd, err := NewReader([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, '^', rd.Delimiter())
	assert.Equal(t, []string{"Test ID", "Test Name"}, rd.Header())

	var rows [][]string
	var lines []int
	for {
		rec, line, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		rows = append(rows, rec)
		lines = append(lines, line)
	}
	assert.Equal(t, [][]string{{"1", "Smarter Balanced ELA"}, {"2", "Smarter Balanced Math"}}, rows)
	assert.Equal(t, []int{2, 4}, lines)
}

func TestReaderCommaAndEmpty(t *testing.T) {
	rd, err := NewReader([]byte(strings.Join([]string{"a,b", `1,"x, y"`}, "\n")))
	require.NoError(t, err)
	rec, _, err := rd.Next()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "x, y"}, rec)

	_, err = NewReader([]byte("\n"))
	assert.Error(t, err)
}
