// Package entity defines the closed set of retrievable entities and their text surfaces.
package entity

import "fmt"

// Kind discriminates the entity variants. It doubles as the vector metadata type tag.
type Kind string

const (
	// KindUser is a platform member profile.
	KindUser Kind = "user"
	// KindProject is a user-owned portfolio project.
	KindProject Kind = "project"
	// KindJob is a job posting ingested from the job board.
	KindJob Kind = "job"
	// KindResearch is a research paper.
	KindResearch Kind = "research"
	// KindQuery tags transient query vectors. It never names a stored entity.
	KindQuery Kind = "query"
)

// ParseKind validates a raw type tag.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindUser, KindProject, KindJob, KindResearch, KindQuery:
		return true
	}
	return false
}

// Searchable reports whether vectors of kind k may be returned by recommendations.
func (k Kind) Searchable() bool {
	return k.Valid() && k != KindQuery
}

func (k Kind) String() string { return string(k) }
