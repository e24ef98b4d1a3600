package model

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EntityKind classifies reference catalog entries.
type EntityKind string

const (
	KindLocation EntityKind = "location"
	KindSubgroup EntityKind = "subgroup"
	KindTest     EntityKind = "test"
	KindGrade    EntityKind = "grade"
)

// EntityKinds lists every catalog kind.
var EntityKinds = []EntityKind{KindLocation, KindSubgroup, KindTest, KindGrade}

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindLocation, KindSubgroup, KindTest, KindGrade:
		return true
	}
	return false
}

// catalogNamespace seeds deterministic point IDs so the same entity maps to
// the same index point across runs and processes.
var catalogNamespace = uuid.MustParse("6f1c2a52-4c0e-4e4f-9d1b-5b2f3f1d8a11")

// ReferenceEntity is one distinct catalog item.
type ReferenceEntity struct {
	Kind     EntityKind     `json:"kind"`
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Years    []int          `json:"years,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PointID returns the deterministic similarity-index ID for the entity.
func (e ReferenceEntity) PointID() uuid.UUID {
	return uuid.NewSHA1(catalogNamespace, []byte(string(e.Kind)+":"+e.ID))
}

// Text is the string handed to the embedding function.
func (e ReferenceEntity) Text() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Label)
}

// SortEntities orders entities by kind then ID for stable output.
func SortEntities(es []ReferenceEntity) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].Kind != es[j].Kind {
			return es[i].Kind < es[j].Kind
		}
		return es[i].ID < es[j].ID
	})
}

// IndexPoint is a catalog entry paired with its label embedding, ready to be
// written to a similarity index.
type IndexPoint struct {
	ID     uuid.UUID
	Entity ReferenceEntity
	Vector pgvector.Vector
}
