package transform

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ashita-ai/edustats/internal/model"
	"github.com/ashita-ai/edustats/internal/schema"
)

// suppressed lists the tokens the source uses for withheld small cells.
var suppressed = map[string]bool{
	"":    true,
	"*":   true,
	"**":  true,
	"n/a": true,
	"na":  true,
	"--":  true,
	"-":   true,
}

// Suppressed reports whether cell is a suppression placeholder.
func Suppressed(cell string) bool {
	return suppressed[strings.ToLower(strings.TrimSpace(cell))]
}

var (
	errNotInteger  = errors.New("not an integer")
	errFractional  = errors.New("count has a fractional part")
	errNotDecimal  = errors.New("not a number")
	errNegative    = errors.New("negative value")
	errOutOfRange  = errors.New("percentage outside [0,100]")
	errUnknownType = errors.New("field has no numeric coercion")
)

var hundred = decimal.NewFromInt(100)

// parseCount coerces a count cell. Suppressed cells yield nil. Decimal
// generations must still carry whole numbers.
func parseCount(cell string, t schema.Type) (*int64, error) {
	if Suppressed(cell) {
		return nil, nil
	}
	var n int64
	switch t {
	case schema.TypeInt:
		v, err := strconv.ParseInt(cell, 10, 64)
		if err != nil {
			return nil, errNotInteger
		}
		n = v
	case schema.TypeDecimal:
		d, err := decimal.NewFromString(cell)
		if err != nil {
			return nil, errNotDecimal
		}
		if !d.Equal(d.Truncate(0)) {
			return nil, errFractional
		}
		n = d.IntPart()
	default:
		return nil, errUnknownType
	}
	if n < 0 {
		return nil, errNegative
	}
	return &n, nil
}

// parseDecimal coerces a decimal cell. A trailing "%" is tolerated.
func parseDecimal(cell string) (decimal.NullDecimal, error) {
	if Suppressed(cell) {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(cell, "%"))
	if err != nil {
		return decimal.NullDecimal{}, errNotDecimal
	}
	return decimal.NewNullDecimal(d), nil
}

// parsePct coerces a percentage and enforces [0,100]. Out-of-range values
// signal a column-mapping defect and are never clamped.
func parsePct(cell string) (decimal.NullDecimal, error) {
	d, err := parseDecimal(cell)
	if err != nil || !d.Valid {
		return d, err
	}
	if d.Decimal.IsNegative() || d.Decimal.GreaterThan(hundred) {
		return decimal.NullDecimal{}, errOutOfRange
	}
	return d, nil
}

var gradeWords = map[string]string{
	"third": "3", "fourth": "4", "fifth": "5", "sixth": "6",
	"seventh": "7", "eighth": "8", "eleventh": "11",
	"three": "3", "four": "4", "five": "5", "six": "6",
	"seven": "7", "eight": "8", "eleven": "11",
}

var validGrades = map[string]bool{"3": true, "4": true, "5": true, "6": true, "7": true, "8": true, "11": true}

// NormalizeGrade maps a grade token to its canonical form ("3".."8", "11"
// or model.GradeAll). Code 13 is the source's all-grades aggregate.
func NormalizeGrade(token string) (string, bool) {
	t := strings.ToLower(strings.Join(strings.Fields(token), " "))
	switch t {
	case "13", "all", "all grades", "grade all", "all grade":
		return model.GradeAll, true
	}
	t = strings.TrimPrefix(t, "grade ")
	t = strings.TrimPrefix(t, "grade")
	t = strings.TrimPrefix(t, "gr ")
	t = strings.TrimSpace(t)
	if w, ok := gradeWords[t]; ok {
		return w, true
	}
	for _, suffix := range []string{"th", "rd", "nd", "st"} {
		if strings.HasSuffix(t, suffix) && len(t) > len(suffix) {
			t = strings.TrimSuffix(t, suffix)
			break
		}
	}
	n, err := strconv.Atoi(t)
	if err != nil {
		return "", false
	}
	if n == 13 {
		return model.GradeAll, true
	}
	g := strconv.Itoa(n)
	return g, validGrades[g]
}

var subjectCodes = map[string]model.Subject{"1": model.SubjectELA, "2": model.SubjectMath}

var subjectNames = map[string]model.Subject{
	"ela":                             model.SubjectELA,
	"english":                         model.SubjectELA,
	"english language arts":           model.SubjectELA,
	"english language arts/literacy":  model.SubjectELA,
	"english language arts/ literacy": model.SubjectELA,
	"math":                            model.SubjectMath,
	"maths":                           model.SubjectMath,
	"mathematics":                     model.SubjectMath,
}

// NormalizeSubject maps a subject cell to Math or ELA according to the
// column's declared type. Numeric test ids are only accepted from
// subject_code columns, names only from subject_name or text columns.
func NormalizeSubject(token string, t schema.Type) (model.Subject, bool) {
	tok := strings.ToLower(strings.Join(strings.Fields(token), " "))
	if t == schema.TypeSubjectCode {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return "", false
		}
		s, ok := subjectCodes[strconv.Itoa(n)]
		return s, ok
	}
	if tok == strings.ToLower(string(model.SubjectMath)) {
		return model.SubjectMath, true
	}
	s, ok := subjectNames[tok]
	return s, ok
}
