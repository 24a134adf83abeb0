package marqo

import (
	"context"
	"fmt"
	"maps"
)

// DefaultTopK is the number of documents a retriever returns per query.
const DefaultTopK = 10

// Searcher runs queries against a document index. *DocumentStore implements it.
type Searcher interface {
	Search(ctx context.Context, queries []Query, topK int, filters Filters) ([][]Document, error)
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithDefaultFilters sets the filters used when a call passes none.
func WithDefaultFilters(f Filters) RetrieverOption {
	return func(r *Retriever) {
		r.filters = maps.Clone(f)
	}
}

// WithDefaultTopK sets the result count used when a call passes 0.
func WithDefaultTopK(k int) RetrieverOption {
	return func(r *Retriever) {
		r.topK = k
	}
}

// Retriever fetches the documents most relevant to a batch of queries.
type Retriever struct {
	store   Searcher
	filters Filters
	topK    int
}

// NewRetriever builds a retriever over store.
func NewRetriever(store Searcher, opts ...RetrieverOption) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: retriever needs a document store", ErrConfig)
	}
	r := &Retriever{store: store, topK: DefaultTopK}
	for _, o := range opts {
		o(r)
	}
	if r.topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrConfig, r.topK)
	}
	return r, nil
}

// Run returns one result list per query. Nil or empty filters fall back to
// the retriever's default filters and topK <= 0 to its default top_k.
func (r *Retriever) Run(ctx context.Context, queries []string, filters Filters, topK int) ([][]Document, error) {
	return r.RunQueries(ctx, TextQueries(queries), filters, topK)
}

// RunQueries is Run for weighted or mixed queries.
func (r *Retriever) RunQueries(ctx context.Context, queries []Query, filters Filters, topK int) ([][]Document, error) {
	if len(filters) == 0 {
		filters = r.filters
	}
	if topK <= 0 {
		topK = r.topK
	}
	if len(queries) == 0 {
		return [][]Document{}, nil
	}
	return r.store.Search(ctx, queries, topK, filters)
}

// SingleRetriever answers one query at a time.
type SingleRetriever struct {
	r *Retriever
}

// NewSingleRetriever builds a single-query retriever over store.
func NewSingleRetriever(store Searcher, opts ...RetrieverOption) (*SingleRetriever, error) {
	r, err := NewRetriever(store, opts...)
	if err != nil {
		return nil, err
	}
	return &SingleRetriever{r: r}, nil
}

// Run returns the documents for query, with the same fallbacks as Retriever.Run.
func (s *SingleRetriever) Run(ctx context.Context, query string, filters Filters, topK int) ([]Document, error) {
	res, err := s.r.Run(ctx, []string{query}, filters, topK)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return []Document{}, nil
	}
	return res[0], nil
}
