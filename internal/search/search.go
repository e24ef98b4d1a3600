// Package search maintains the external similarity index of reference
// catalog entries. Points are keyed by the entity's deterministic point ID
// and carry the entity's kind, ID, label and observed years as payload.
// Postgres remains the source of truth; the index is only ever added to.
package search

import (
	"fmt"
	"sort"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ashita-ai/edustats/internal/model"
)

// Payload field names.
const (
	fieldKind     = "kind"
	fieldEntityID = "entity_id"
	fieldLabel    = "label"
	fieldYears    = "years"
)

// entityPayload builds the point payload of a catalog entity.
func entityPayload(e model.ReferenceEntity) map[string]any {
	years := make([]any, len(e.Years))
	for i, y := range e.Years {
		years[i] = int64(y)
	}
	return map[string]any{
		fieldKind:     string(e.Kind),
		fieldEntityID: e.ID,
		fieldLabel:    e.Label,
		fieldYears:    years,
	}
}

// entityFromPayload is the inverse of entityPayload.
func entityFromPayload(p map[string]*qdrant.Value) (model.ReferenceEntity, error) {
	e := model.ReferenceEntity{
		Kind:  model.EntityKind(p[fieldKind].GetStringValue()),
		ID:    p[fieldEntityID].GetStringValue(),
		Label: p[fieldLabel].GetStringValue(),
	}
	if !e.Kind.Valid() || e.ID == "" {
		return model.ReferenceEntity{}, fmt.Errorf("search: malformed catalog payload (kind=%q id=%q)", e.Kind, e.ID)
	}
	for _, v := range p[fieldYears].GetListValue().GetValues() {
		e.Years = append(e.Years, int(v.GetIntegerValue()))
	}
	sort.Ints(e.Years)
	return e, nil
}
