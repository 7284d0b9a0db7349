package retrieval

import (
	"math"
	"testing"

	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFuse_Formula(t *testing.T) {
	hits := []entity.KeywordHit{{ID: "a", Matches: 2}, {ID: "b", Matches: 1}}
	matches := []vector.Match{userMatch("b", 0.8), userMatch("c", 0.4)}

	got := fuse(hits, matches)
	if len(got) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(got))
	}

	want := map[string]float64{"a": 2, "b": 2, "c": 0.5}
	for _, c := range got {
		if !approx(c.total(), want[c.id]) {
			t.Errorf("%s: total = %f, want %f", c.id, c.total(), want[c.id])
		}
	}
	// a and b tie at 2; a was discovered first
	if got[0].id != "a" || got[1].id != "b" || got[2].id != "c" {
		t.Errorf("unexpected order: %s %s %s", got[0].id, got[1].id, got[2].id)
	}
	if !approx(got[1].keyword, 1) || !approx(got[1].vector, 1) {
		t.Errorf("b components: keyword=%f vector=%f", got[1].keyword, got[1].vector)
	}
}

func TestFuse_VectorOnly(t *testing.T) {
	got := fuse(nil, []vector.Match{userMatch("x", 0.5), userMatch("y", 0.25)})
	if len(got) != 2 || got[0].id != "x" {
		t.Fatalf("unexpected result: %+v", got)
	}
	if !approx(got[0].total(), 1) || !approx(got[1].total(), 0.5) {
		t.Errorf("expected normalized scores 1 and 0.5, got %f and %f", got[0].total(), got[1].total())
	}
}

func TestFuse_KeywordOnly(t *testing.T) {
	got := fuse([]entity.KeywordHit{{ID: "k1", Matches: 1}, {ID: "k2", Matches: 3}}, nil)
	if len(got) != 2 || got[0].id != "k2" || !approx(got[0].total(), 3) {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestFuse_NonPositiveMax(t *testing.T) {
	got := fuse(nil, []vector.Match{userMatch("z", 0)})
	if len(got) != 1 || got[0].total() != 0 {
		t.Fatalf("expected a single zero-score candidate, got %+v", got)
	}
}

func TestFuse_Empty(t *testing.T) {
	if got := fuse(nil, nil); len(got) != 0 {
		t.Errorf("expected no candidates, got %d", len(got))
	}
}

func TestCandidateEvidence(t *testing.T) {
	c := &candidate{id: "a", keyword: 1, vector: 0.756, inVector: true}
	ev := c.evidence()
	if len(ev) != 2 || ev[0] != "Keyword Match" || ev[1] != "Embedding Score: 0.76" {
		t.Errorf("unexpected evidence: %v", ev)
	}
	if ev := (&candidate{keyword: 2}).evidence(); len(ev) != 1 {
		t.Errorf("keyword-only evidence: %v", ev)
	}
}
