package db

import "github.com/kailas-cloud/silo/internal/domain/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // defaults to "vector"
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// TagQuery lists keys matching a tag filter, without document content.
type TagQuery struct {
	IndexName string
	Filters   filter.Expression
	Offset    int
	Limit     int
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hit. Score is cosine similarity in [0, 1] for KNN queries.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
