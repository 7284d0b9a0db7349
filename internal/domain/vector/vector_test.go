package vector

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/silo/internal/domain/entity"
)

func TestFilter_RequiresType(t *testing.T) {
	_, err := Filter{}.Expression()
	if !errors.Is(err, ErrMissingType) {
		t.Fatalf("expected ErrMissingType, got %v", err)
	}
}

func TestFilter_Expression(t *testing.T) {
	expr, err := OfType(entity.KindJob).WithGeneration("20260101").Excluding("j1", "").Expression()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expr.Must()) != 2 {
		t.Fatalf("expected 2 must conditions, got %d", len(expr.Must()))
	}
	if !expr.Requires(FieldType, "job") || !expr.Requires(FieldGeneration, "20260101") {
		t.Error("missing required conditions")
	}
	if len(expr.MustNot()) != 1 || expr.MustNot()[0].Value() != "j1" {
		t.Errorf("unexpected exclusions: %+v", expr.MustNot())
	}
}

func TestFilter_Matches(t *testing.T) {
	f := OfType(entity.KindUser).Excluding("u1")

	if f.Matches(Metadata{Type: entity.KindProject, EntityID: "p1"}) {
		t.Error("cross-type metadata must not match")
	}
	if f.Matches(Metadata{Type: entity.KindUser, EntityID: "u1"}) {
		t.Error("excluded id must not match")
	}
	if !f.Matches(Metadata{Type: entity.KindUser, EntityID: "u2"}) {
		t.Error("expected match")
	}
}

func TestMetadataFor(t *testing.T) {
	md := MetadataFor(&entity.User{UserID: "u1", Username: "ada"})
	if md.Type != entity.KindUser || md.EntityID != "u1" || md.Label != "ada" {
		t.Errorf("unexpected metadata: %+v", md)
	}
}
