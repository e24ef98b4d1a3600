package transform

import (
	"errors"
	"fmt"
	"io"

	"github.com/ashita-ai/edustats/internal/model"
	"github.com/ashita-ai/edustats/internal/schema"
)

// Directory builds the year's lookup directory from the auxiliary files,
// keyed by schema category. Missing or nil entries are skipped. Malformed
// rows in these files are dropped; an unrecognized layout is an error.
func (e *Engine) Directory(files map[string][]byte) (model.Directory, error) {
	dir := model.NewDirectory()
	for _, category := range []string{schema.CategoryLocations, schema.CategorySubgroups, schema.CategoryTests} {
		data := files[category]
		if len(data) == 0 {
			continue
		}
		n, err := e.readDirectory(category, data, dir)
		if err != nil {
			return dir, fmt.Errorf("directory %s: %w", category, err)
		}
		e.logger.Debug("transform: directory loaded", "category", category, "entries", n)
	}
	return dir, nil
}

func (e *Engine) readDirectory(category string, data []byte, dir model.Directory) (int, error) {
	rd, err := schema.NewReader(data)
	if err != nil {
		return 0, err
	}
	m, err := e.registry.Reconcile(category, rd.Header())
	if err != nil {
		return 0, err
	}

	n := 0
	for {
		cells, _, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			continue
		}
		row := m.Row(cells)
		switch category {
		case schema.CategoryLocations:
			loc := model.Location{
				CountyCode:   row.Cell(schema.FieldCountyCode),
				CountyName:   row.Cell(schema.FieldCountyName),
				DistrictCode: row.Cell(schema.FieldDistrictCode),
				DistrictName: row.Cell(schema.FieldDistrictName),
				SchoolCode:   row.Cell(schema.FieldSchoolCode),
				SchoolName:   row.Cell(schema.FieldSchoolName),
			}
			if !loc.HasCodes() {
				continue
			}
			dir.AddLocation(loc)
		case schema.CategorySubgroups:
			sg := model.Subgroup{
				ID:    row.Cell(schema.FieldSubgroup),
				Name:  row.Cell(schema.FieldSubgroupName),
				Group: row.Cell(schema.FieldSubgroupCategory),
			}
			if sg.ID == "" {
				continue
			}
			dir.Subgroups[sg.ID] = sg
		case schema.CategoryTests:
			s, ok := NormalizeSubject(row.Cell(schema.FieldSubject), row.Type(schema.FieldSubject))
			if !ok {
				continue
			}
			dir.Tests[s] = row.Cell(schema.FieldTestName)
		}
		n++
	}
}
