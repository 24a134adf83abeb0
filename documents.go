package marqo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	api "github.com/marqo-ai/marqo-haystack/internal/marqo"
)

// filterLimit is the page size used when listing documents by filter.
const filterLimit = 10000

// tensorFields are the fields Marqo embeds on write.
var tensorFields = []string{fieldContent}

// DuplicatePolicy decides what a write does with IDs already in the index.
type DuplicatePolicy string

// Duplicate policies.
const (
	// PolicyNone behaves like PolicyOverwrite.
	PolicyNone DuplicatePolicy = "none"
	// PolicySkip leaves existing documents alone and writes the rest.
	PolicySkip DuplicatePolicy = "skip"
	// PolicyOverwrite replaces existing documents.
	PolicyOverwrite DuplicatePolicy = "overwrite"
	// PolicyFail rejects the whole write when any ID exists.
	PolicyFail DuplicatePolicy = "fail"
)

// ParseDuplicatePolicy parses a policy name; "" yields PolicyNone.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch p := DuplicatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyNone, nil
	case PolicyNone, PolicySkip, PolicyOverwrite, PolicyFail:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown duplicate policy %q", ErrConfig, s)
	}
}

// CountDocuments returns the number of documents in the index.
func (s *DocumentStore) CountDocuments(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { s.obs.observe("count_documents", start, err) }(time.Now())

	st, err := s.index.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return st.NumberOfDocuments, nil
}

// CountVectors returns the number of vectors in the index. A document split
// into chunks contributes one vector per chunk.
func (s *DocumentStore) CountVectors(ctx context.Context) (n int, err error) {
	defer func(start time.Time) { s.obs.observe("count_vectors", start, err) }(time.Now())

	st, err := s.index.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("count vectors: %w", err)
	}
	return st.NumberOfVectors, nil
}

// FilterDocuments returns up to 10000 documents matching filters, or any
// documents when filters is empty. Returned documents carry no score.
func (s *DocumentStore) FilterDocuments(ctx context.Context, filters Filters) (docs []Document, err error) {
	defer func(start time.Time) { s.obs.observe("filter_documents", start, err) }(time.Now())

	fs, err := filters.FilterString()
	if err != nil {
		return nil, err
	}
	resp, err := s.index.Search(ctx, api.SearchRequest{
		Q:            "",
		Limit:        filterLimit,
		Filter:       fs,
		SearchMethod: s.searchMethod,
	})
	if err != nil {
		return nil, fmt.Errorf("filter documents: %w", err)
	}
	docs, err = fromMarqoAll(resp.Hits)
	if err != nil {
		return nil, err
	}
	for i := range docs {
		docs[i].Score = nil
	}
	return docs, nil
}

// GetDocumentsByID returns the documents with the given IDs, in the order
// Marqo returns them. IDs not in the index are skipped.
func (s *DocumentStore) GetDocumentsByID(ctx context.Context, ids []string) (docs []Document, err error) {
	defer func(start time.Time) { s.obs.observe("get_documents", start, err) }(time.Now())

	if len(ids) == 0 {
		return []Document{}, nil
	}
	results, err := s.index.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get documents: %w", err)
	}
	docs = make([]Document, 0, len(results))
	for _, r := range results {
		if found, _ := r[fieldFound].(bool); !found {
			continue
		}
		d, err := fromMarqo(r)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// WriteDocuments upserts documents and returns how many were written.
// Documents without an ID get a content-derived one. Documents Marqo rejects
// are reported in a *WriteError; the others are still written.
func (s *DocumentStore) WriteDocuments(
	ctx context.Context, docs []Document, policy DuplicatePolicy,
) (written int, err error) {
	defer func(start time.Time) { s.obs.observe("write_documents", start, err) }(time.Now())

	policy, err = ParseDuplicatePolicy(string(policy))
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	prepared := make([]Document, len(docs))
	payload := make([]map[string]any, len(docs))
	for i, d := range docs {
		d = d.Clone()
		d.EnsureID()
		m, err := d.toMarqo()
		if err != nil {
			return 0, err
		}
		prepared[i], payload[i] = d, m
	}

	if policy == PolicySkip || policy == PolicyFail {
		existing, err := s.existingIDs(ctx, prepared)
		if err != nil {
			return 0, err
		}
		if len(existing) > 0 {
			if policy == PolicyFail {
				ids := make([]string, 0, len(existing))
				for _, d := range prepared {
					if _, ok := existing[d.ID]; ok {
						ids = append(ids, d.ID)
					}
				}
				return 0, fmt.Errorf("%w: ids already exist: %s", ErrDuplicateDocument, strings.Join(ids, ", "))
			}
			kept := payload[:0]
			for i, d := range prepared {
				if _, ok := existing[d.ID]; ok {
					s.logger.Info("document already exists, skipping", zap.String("id", d.ID))
					continue
				}
				kept = append(kept, payload[i])
			}
			payload = kept
		}
	}
	if len(payload) == 0 {
		return 0, nil
	}

	resps, err := s.index.AddDocuments(ctx, payload, api.AddDocumentsOptions{
		TensorFields:    tensorFields,
		ClientBatchSize: s.batchSize,
	})
	var failed []ItemError
	for _, r := range resps {
		for _, item := range r.Items {
			if !item.Failed() {
				written++
				continue
			}
			msg := item.Message
			if msg == "" {
				msg = item.Error
			}
			failed = append(failed, ItemError{ID: item.ID, Status: item.Status, Message: msg})
		}
	}
	if err != nil {
		return written, fmt.Errorf("write documents: %w", err)
	}
	if len(failed) > 0 {
		return written, &WriteError{Failed: failed}
	}
	return written, nil
}

func (s *DocumentStore) existingIDs(ctx context.Context, docs []Document) (map[string]struct{}, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	found, err := s.GetDocumentsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(found))
	for _, d := range found {
		out[d.ID] = struct{}{}
	}
	return out, nil
}

// DeleteDocuments removes documents by ID. Unknown IDs are ignored.
func (s *DocumentStore) DeleteDocuments(ctx context.Context, ids []string) (err error) {
	defer func(start time.Time) { s.obs.observe("delete_documents", start, err) }(time.Now())

	if err := s.index.DeleteDocuments(ctx, ids); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Search runs each query against the index and returns one result list per
// query, in query order. Hits carry their relevance score.
func (s *DocumentStore) Search(
	ctx context.Context, queries []Query, topK int, filters Filters,
) (results [][]Document, err error) {
	defer func(start time.Time) { s.obs.observe("search", start, err) }(time.Now())

	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrConfig, topK)
	}
	fs, err := filters.FilterString()
	if err != nil {
		return nil, err
	}

	results = make([][]Document, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			resp, err := s.index.Search(gctx, api.SearchRequest{
				Q:            q.wire(),
				Limit:        topK,
				Filter:       fs,
				SearchMethod: s.searchMethod,
			})
			if err != nil {
				return fmt.Errorf("search query %d: %w", i, err)
			}
			docs, err := fromMarqoAll(resp.Hits)
			if err != nil {
				return err
			}
			results[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
