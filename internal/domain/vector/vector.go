// Package vector holds the typed metadata and query types of the vector index.
package vector

import (
	"errors"
	"fmt"

	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/filter"
)

// Metadata field names as stored in the index.
const (
	FieldType       = "type"
	FieldEntityID   = "entity_id"
	FieldLabel      = "label"
	FieldGeneration = "generation"
)

// ErrMissingType is returned for queries without a type restriction.
var ErrMissingType = errors.New("vector query requires a type filter")

// Metadata is stored alongside every vector.
type Metadata struct {
	Type       entity.Kind
	EntityID   string
	Label      string
	Generation string // job ingestion generation, empty for other kinds
}

// MetadataFor derives metadata from an entity.
func MetadataFor(e entity.Entity) Metadata {
	return Metadata{Type: e.Kind(), EntityID: e.ID(), Label: e.Label()}
}

// Match is a single similarity hit.
type Match struct {
	ID       string
	Score    float64
	Metadata Metadata
}

// Filter restricts a similarity query. Type is mandatory.
type Filter struct {
	Type       entity.Kind
	Generation string
	EntityID   string
	ExcludeIDs []string
}

// OfType starts a filter restricted to kind.
func OfType(kind entity.Kind) Filter {
	return Filter{Type: kind}
}

// WithGeneration narrows the filter to one ingestion generation.
func (f Filter) WithGeneration(g string) Filter {
	f.Generation = g
	return f
}

// Excluding drops the given entity ids from results.
func (f Filter) Excluding(ids ...string) Filter {
	f.ExcludeIDs = append(append([]string(nil), f.ExcludeIDs...), ids...)
	return f
}

// Expression converts the filter to a tag pre-filter.
func (f Filter) Expression() (filter.Expression, error) {
	if f.Type == "" {
		return filter.Expression{}, ErrMissingType
	}
	if !f.Type.Valid() {
		return filter.Expression{}, fmt.Errorf("invalid vector type %q", f.Type)
	}

	must := make([]filter.Condition, 0, 3)
	add := func(key, val string) error {
		if val == "" {
			return nil
		}
		c, err := filter.NewMatch(key, val)
		if err != nil {
			return err
		}
		must = append(must, c)
		return nil
	}
	if err := add(FieldType, string(f.Type)); err != nil {
		return filter.Expression{}, err
	}
	if err := add(FieldGeneration, f.Generation); err != nil {
		return filter.Expression{}, err
	}
	if err := add(FieldEntityID, f.EntityID); err != nil {
		return filter.Expression{}, err
	}

	var mustNot []filter.Condition
	for _, id := range f.ExcludeIDs {
		if id == "" {
			continue
		}
		c, err := filter.NewMatch(FieldEntityID, id)
		if err != nil {
			return filter.Expression{}, err
		}
		mustNot = append(mustNot, c)
	}

	return filter.NewExpression(must, mustNot)
}

// Matches reports whether md satisfies the filter. Used to post-check index results.
func (f Filter) Matches(md Metadata) bool {
	if md.Type != f.Type {
		return false
	}
	if f.Generation != "" && md.Generation != f.Generation {
		return false
	}
	if f.EntityID != "" && md.EntityID != f.EntityID {
		return false
	}
	for _, id := range f.ExcludeIDs {
		if md.EntityID == id {
			return false
		}
	}
	return true
}
