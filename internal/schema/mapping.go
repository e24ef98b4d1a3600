package schema

import "strings"

// Mapping binds one file's column positions to canonical fields.
type Mapping struct {
	gen   *Generation
	pos   map[Field]int
	types map[Field]Type
	width int
}

func newMapping(g *Generation, index map[string]int, width int) *Mapping {
	m := &Mapping{
		gen:   g,
		pos:   make(map[Field]int, len(g.Columns)),
		types: make(map[Field]Type, len(g.Columns)),
		width: width,
	}
	for _, c := range g.Columns {
		if i, ok := index[c.Source]; ok {
			m.pos[c.Field] = i
			m.types[c.Field] = c.Type
		}
	}
	return m
}

// Generation returns the name of the matched generation.
func (m *Mapping) Generation() string { return m.gen.Name }

// Has reports whether the file carries f.
func (m *Mapping) Has(f Field) bool {
	_, ok := m.pos[f]
	return ok
}

// Type returns the coercion declared for f, or "" when f is not mapped.
func (m *Mapping) Type(f Field) Type { return m.types[f] }

// Width is the number of header columns.
func (m *Mapping) Width() int { return m.width }

// Row wraps one record's cells.
func (m *Mapping) Row(cells []string) Row { return Row{m: m, cells: cells} }

// Row gives canonical access to one record.
type Row struct {
	m     *Mapping
	cells []string
}

// Cell returns the trimmed cell of f. Unmapped fields and short rows
// yield "".
func (r Row) Cell(f Field) string {
	i, ok := r.m.pos[f]
	if !ok || i >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[i])
}

// Has reports whether the row's file carries f.
func (r Row) Has(f Field) bool { return r.m.Has(f) }

// Type returns the coercion declared for f.
func (r Row) Type(f Field) Type { return r.m.Type(f) }

// Width returns the number of cells in the row.
func (r Row) Width() int { return len(r.cells) }
