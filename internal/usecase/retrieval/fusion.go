package retrieval

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/silo/internal/domain/entity"
	"github.com/kailas-cloud/silo/internal/domain/vector"
)

type candidate struct {
	id       string
	keyword  float64
	vector   float64
	inVector bool
}

func (c *candidate) total() float64 { return c.keyword + c.vector }

// evidence lists the signals that ranked c, fed to the explainer.
func (c *candidate) evidence() []string {
	var out []string
	if c.keyword > 0 {
		out = append(out, "Keyword Match")
	}
	if c.inVector {
		out = append(out, fmt.Sprintf("Embedding Score: %.2f", c.vector))
	}
	return out
}

// fuse merges keyword hits and vector matches.
// score(id) = distinct keyword matches + raw/max_raw similarity.
// Ties keep discovery order: keyword hits first, then vector matches.
func fuse(hits []entity.KeywordHit, matches []vector.Match) []*candidate {
	byID := make(map[string]*candidate, len(hits)+len(matches))
	order := make([]*candidate, 0, len(hits)+len(matches))
	get := func(id string) *candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &candidate{id: id}
		byID[id] = c
		order = append(order, c)
		return c
	}

	for _, h := range hits {
		get(h.ID).keyword += float64(h.Matches)
	}

	maxRaw := 0.0
	for _, m := range matches {
		if m.Score > maxRaw {
			maxRaw = m.Score
		}
	}
	for _, m := range matches {
		c := get(matchEntityID(m))
		c.inVector = true
		if maxRaw > 0 {
			c.vector = m.Score / maxRaw
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].total() > order[j].total()
	})
	return order
}

func matchEntityID(m vector.Match) string {
	if m.Metadata.EntityID != "" {
		return m.Metadata.EntityID
	}
	return m.ID
}
