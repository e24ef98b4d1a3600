package model

import "fmt"

// Subgroup is a demographic student group from the subgroups file.
type Subgroup struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group string `json:"group,omitempty"`
}

// Directory holds the per-year lookup files that accompany the results file.
// Any map may be empty when the corresponding file was not published.
type Directory struct {
	Locations map[string]Location
	Subgroups map[string]Subgroup
	Tests     map[Subject]string

	// schools indexes Locations by district and school code for layouts
	// that publish no county code.
	schools map[string]Location
}

// NewDirectory returns an empty directory with allocated maps.
func NewDirectory() Directory {
	return Directory{
		Locations: map[string]Location{},
		Subgroups: map[string]Subgroup{},
		Tests:     map[Subject]string{},
		schools:   map[string]Location{},
	}
}

// AddLocation registers a locations-file entry. Entries without codes are
// ignored.
func (d Directory) AddLocation(l Location) {
	if !l.HasCodes() {
		return
	}
	d.Locations[l.Key()] = l
	if d.schools != nil {
		d.schools[schoolKey(l)] = l
	}
}

func schoolKey(l Location) string {
	return l.DistrictCode + "-" + l.SchoolCode
}

// Enrich fills missing location names from the locations file, matching on
// the code triple. A location without a county code matches on district and
// school code and only receives district and school names.
func (d Directory) Enrich(l Location) Location {
	if !l.HasCodes() {
		return l
	}
	if l.CountyCode == "" {
		ref, ok := d.schools[schoolKey(l)]
		if !ok {
			return l
		}
		if l.DistrictName == "" {
			l.DistrictName = ref.DistrictName
		}
		if l.SchoolName == "" {
			l.SchoolName = ref.SchoolName
		}
		return l
	}
	ref, ok := d.Locations[l.Key()]
	if !ok {
		return l
	}
	if l.CountyName == "" {
		l.CountyName = ref.CountyName
	}
	if l.DistrictName == "" {
		l.DistrictName = ref.DistrictName
	}
	if l.SchoolName == "" {
		l.SchoolName = ref.SchoolName
	}
	return l
}

// SubgroupLabel returns the display label of a subgroup ID.
func (d Directory) SubgroupLabel(id string) string {
	if sg, ok := d.Subgroups[id]; ok && sg.Name != "" {
		return sg.Name
	}
	return "Student group " + id
}

// TestLabel returns the display label of a subject's test.
func (d Directory) TestLabel(s Subject) string {
	if name, ok := d.Tests[s]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("Smarter Balanced %s", s)
}

// GradeLabel returns the display label of a canonical grade token.
func GradeLabel(grade string) string {
	if grade == GradeAll {
		return "All Grades"
	}
	return "Grade " + grade
}
