// Package schema classifies source file layouts against an ordered registry
// of known generations and maps their columns to canonical fields.
//
// Generations are static configuration (layouts.yaml). Lookup is
// most-recent-first and the first generation whose required columns are all
// present wins. A header that matches nothing is an UnknownSchemaError; no
// partial mapping is ever produced.
package schema

import (
	"bytes"
	_ "embed"
	"fmt"
	"slices"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed layouts.yaml
var defaultLayouts []byte

// Column maps one normalized source header to a canonical field.
type Column struct {
	Source   string `yaml:"source"`
	Field    Field  `yaml:"field"`
	Type     Type   `yaml:"type"`
	Optional bool   `yaml:"optional"`
}

// Generation is one historical layout of a file category.
type Generation struct {
	Name        string   `yaml:"name"`
	Category    string   `yaml:"category"`
	Description string   `yaml:"description"`
	Columns     []Column `yaml:"columns"`

	required []string
}

// Required returns the sorted normalized headers the generation requires.
func (g *Generation) Required() []string { return slices.Clone(g.required) }

type layoutFile struct {
	Generations []Generation `yaml:"generations"`
}

// Registry holds generations in registration order.
type Registry struct {
	mu   sync.RWMutex
	gens []*Generation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Default returns a registry loaded from the embedded layouts.
func Default() (*Registry, error) { return LoadRegistry(defaultLayouts) }

// LoadRegistry registers every generation in a YAML layout document, in
// document order (oldest first).
func LoadRegistry(data []byte) (*Registry, error) {
	var lf layoutFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&lf); err != nil {
		return nil, fmt.Errorf("schema: parse layouts: %w", err)
	}
	r := NewRegistry()
	for _, g := range lf.Generations {
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends g as the most recent generation of its category.
//
// A generation whose required set is a subset of an existing generation of
// the same category is refused: being checked first it would capture that
// generation's files and change how they reconcile.
func (r *Registry) Register(g Generation) error {
	if g.Name == "" {
		return &RegistrationError{Generation: g.Name, Reason: "name is required"}
	}
	if _, ok := mandatory[g.Category]; !ok {
		return &RegistrationError{Generation: g.Name, Reason: fmt.Sprintf("unknown category %q", g.Category)}
	}
	if len(g.Columns) == 0 {
		return &RegistrationError{Generation: g.Name, Reason: "no columns"}
	}

	g.Columns = slices.Clone(g.Columns)
	sources := map[string]bool{}
	fields := map[Field]bool{}
	var required []string
	for i, c := range g.Columns {
		c.Source = NormalizeHeader(c.Source)
		if c.Type == "" {
			c.Type = TypeText
		}
		g.Columns[i] = c
		switch {
		case c.Source == "":
			return &RegistrationError{Generation: g.Name, Reason: fmt.Sprintf("column %d has no source", i)}
		case !c.Field.Valid():
			return &RegistrationError{Generation: g.Name, Reason: fmt.Sprintf("unknown field %q", c.Field)}
		case !c.Type.Valid():
			return &RegistrationError{Generation: g.Name, Reason: fmt.Sprintf("unknown type %q for %s", c.Type, c.Field)}
		case sources[c.Source]:
			return &RegistrationError{Generation: g.Name, Reason: fmt.Sprintf("source column %q mapped twice", c.Source)}
		case fields[c.Field]:
			return &RegistrationError{Generation: g.Name, Reason: fmt.Sprintf("field %s mapped twice", c.Field)}
		}
		sources[c.Source] = true
		fields[c.Field] = true
		if !c.Optional {
			required = append(required, c.Source)
		}
	}
	if len(required) == 0 {
		return &RegistrationError{Generation: g.Name, Reason: "no required columns"}
	}
	for _, f := range mandatory[g.Category] {
		if !fields[f] {
			return &RegistrationError{Generation: g.Name, Reason: fmt.Sprintf("%s layouts must map %s", g.Category, f)}
		}
	}
	sort.Strings(required)
	g.required = required

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.gens {
		if existing.Name == g.Name {
			return &RegistrationError{Generation: g.Name, Reason: "already registered"}
		}
		if existing.Category == g.Category && subset(g.required, existing.required) {
			return &RegistrationError{
				Generation: g.Name,
				Reason:     fmt.Sprintf("required columns are a subset of %q and would capture its files", existing.Name),
			}
		}
	}
	gen := g
	r.gens = append(r.gens, &gen)
	return nil
}

// Generations returns the category's generations, most recent first.
func (r *Registry) Generations(category string) []*Generation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Generation
	for i := len(r.gens) - 1; i >= 0; i-- {
		if r.gens[i].Category == category {
			out = append(out, r.gens[i])
		}
	}
	return out
}

// Reconcile classifies header (raw or normalized) and returns its mapping.
func (r *Registry) Reconcile(category string, header []string) (*Mapping, error) {
	norm := make([]string, len(header))
	index := make(map[string]int, len(header))
	for i, h := range header {
		norm[i] = NormalizeHeader(h)
		if _, dup := index[norm[i]]; !dup {
			index[norm[i]] = i
		}
	}

	gens := r.Generations(category)
	var nearest *Generation
	var nearestMissing []string
	for _, g := range gens {
		missing := missingColumns(g.required, index)
		if len(missing) == 0 {
			return newMapping(g, index, len(header)), nil
		}
		if nearest == nil || len(missing) < len(nearestMissing) {
			nearest, nearestMissing = g, missing
		}
	}

	e := &UnknownSchemaError{Category: category, Header: norm}
	if nearest != nil {
		e.Nearest = nearest.Name
		e.Missing = nearestMissing
	}
	return nil, e
}

func missingColumns(required []string, index map[string]int) []string {
	var missing []string
	for _, c := range required {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

// subset reports whether every element of a is in b. Both are sorted.
func subset(a, b []string) bool {
	for _, x := range a {
		if _, found := slices.BinarySearch(b, x); !found {
			return false
		}
	}
	return true
}
