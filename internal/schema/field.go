package schema

import "github.com/ashita-ai/edustats/internal/model"

// Field is a canonical column name. Downstream code reads cells only
// through Fields, never through source header text.
type Field string

const (
	FieldCountyCode   Field = "county_code"
	FieldCountyName   Field = "county_name"
	FieldDistrictCode Field = "district_code"
	FieldDistrictName Field = "district_name"
	FieldSchoolCode   Field = "school_code"
	FieldSchoolName   Field = "school_name"
	FieldTypeID       Field = "type_id"
	FieldZipCode      Field = "zip_code"

	FieldTestYear         Field = "test_year"
	FieldTestType         Field = "test_type"
	FieldSubject          Field = "subject"
	FieldSubgroup         Field = "subgroup"
	FieldGrade            Field = "grade"
	FieldTested           Field = "tested"
	FieldTestedWithScores Field = "tested_with_scores"
	FieldMeanScaleScore   Field = "mean_scale_score"

	FieldPctExceeded    Field = "pct_exceeded"
	FieldCntExceeded    Field = "cnt_exceeded"
	FieldPctMet         Field = "pct_met"
	FieldCntMet         Field = "cnt_met"
	FieldPctMetAndAbove Field = "pct_met_and_above"
	FieldCntMetAndAbove Field = "cnt_met_and_above"
	FieldPctNearlyMet   Field = "pct_nearly_met"
	FieldCntNearlyMet   Field = "cnt_nearly_met"
	FieldPctNotMet      Field = "pct_not_met"
	FieldCntNotMet      Field = "cnt_not_met"

	FieldSubgroupName     Field = "subgroup_name"
	FieldSubgroupCategory Field = "subgroup_category"
	FieldTestName         Field = "test_name"
)

var knownFields = map[Field]bool{}

func init() {
	for _, f := range []Field{
		FieldCountyCode, FieldCountyName, FieldDistrictCode, FieldDistrictName,
		FieldSchoolCode, FieldSchoolName, FieldTypeID, FieldZipCode,
		FieldTestYear, FieldTestType, FieldSubject, FieldSubgroup, FieldGrade,
		FieldTested, FieldTestedWithScores, FieldMeanScaleScore,
		FieldPctExceeded, FieldCntExceeded, FieldPctMet, FieldCntMet,
		FieldPctMetAndAbove, FieldCntMetAndAbove, FieldPctNearlyMet, FieldCntNearlyMet,
		FieldPctNotMet, FieldCntNotMet,
		FieldSubgroupName, FieldSubgroupCategory, FieldTestName,
	} {
		knownFields[f] = true
	}
}

// Valid reports whether f is a canonical field.
func (f Field) Valid() bool { return knownFields[f] }

var (
	bandPct = [model.NumBands]Field{FieldPctExceeded, FieldPctMet, FieldPctMetAndAbove, FieldPctNearlyMet, FieldPctNotMet}
	bandCnt = [model.NumBands]Field{FieldCntExceeded, FieldCntMet, FieldCntMetAndAbove, FieldCntNearlyMet, FieldCntNotMet}
)

// BandPct returns the percentage field of band b.
func BandPct(b model.Band) Field { return bandPct[b] }

// BandCount returns the count field of band b.
func BandCount(b model.Band) Field { return bandCnt[b] }

// Type is the coercion applied to a field's cells.
type Type string

const (
	TypeText        Type = "text"
	TypeInt         Type = "int"
	TypeDecimal     Type = "decimal"
	TypeSubjectCode Type = "subject_code" // numeric test id, 1 = ELA, 2 = Math
	TypeSubjectName Type = "subject_name"
	TypeGrade       Type = "grade"
)

// Valid reports whether t is a known coercion.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeInt, TypeDecimal, TypeSubjectCode, TypeSubjectName, TypeGrade:
		return true
	}
	return false
}

// Category names used by the registry. They match the fetch categories.
const (
	CategoryResults   = "results"
	CategoryLocations = "locations"
	CategorySubgroups = "subgroups"
	CategoryTests     = "tests"
)

// mandatory lists fields every generation of a category must map.
var mandatory = map[string][]Field{
	CategoryResults:   {FieldSubject, FieldGrade, FieldSubgroup},
	CategoryLocations: {FieldDistrictCode, FieldSchoolCode},
	CategorySubgroups: {FieldSubgroup, FieldSubgroupName},
	CategoryTests:     {FieldSubject, FieldTestName},
}
