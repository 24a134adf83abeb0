package marqo

import (
	"context"
	"fmt"
	"net/http"

	"github.com/marqo-ai/marqo-haystack/internal/metrics"
)

// DefaultClientBatchSize is how many documents go into one upsert request.
const DefaultClientBatchSize = 4

// Index is a handle for one Marqo index.
type Index struct {
	name   string
	client *Client
}

// Name returns the index name.
func (i *Index) Name() string { return i.name }

// Stats returns document and vector counts.
func (i *Index) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	if err := i.client.do(ctx, "get_stats", http.MethodGet, indexPath(i.name, "stats"), nil, &s); err != nil {
		return Stats{}, err
	}
	return s, nil
}

// Health returns the index health as reported by Marqo.
func (i *Index) Health(ctx context.Context) (Health, error) {
	var h Health
	if err := i.client.do(ctx, "health", http.MethodGet, indexPath(i.name, "health"), nil, &h); err != nil {
		return Health{}, err
	}
	return h, nil
}

// AddDocuments upserts documents in sequential client batches and returns
// one response per batch. Documents must carry an `_id` to be addressable.
func (i *Index) AddDocuments(
	ctx context.Context, docs []map[string]any, opts AddDocumentsOptions,
) ([]AddDocumentsResponse, error) {
	size := opts.ClientBatchSize
	if size <= 0 {
		size = DefaultClientBatchSize
	}
	tensorFields := opts.TensorFields
	if tensorFields == nil {
		tensorFields = []string{}
	}

	out := make([]AddDocumentsResponse, 0, (len(docs)+size-1)/size)
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))

		var resp AddDocumentsResponse
		body := addDocumentsRequest{Documents: docs[start:end], TensorFields: tensorFields}
		if err := i.client.do(ctx, "add_documents", http.MethodPost, indexPath(i.name, "documents"), body, &resp); err != nil {
			return out, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		for _, item := range resp.Items {
			if item.Failed() {
				metrics.MarqoDocumentsWrittenTotal.WithLabelValues("error").Inc()
			} else {
				metrics.MarqoDocumentsWrittenTotal.WithLabelValues("ok").Inc()
			}
		}
		out = append(out, resp)
	}
	return out, nil
}

// GetDocuments fetches documents by ID. Every requested ID yields one result;
// missing documents have `_found` set to false.
func (i *Index) GetDocuments(ctx context.Context, ids []string) ([]map[string]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp getDocumentsResponse
	if err := i.client.do(ctx, "get_documents", http.MethodGet, indexPath(i.name, "documents"), ids, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// DeleteDocuments removes documents by ID. Unknown IDs are ignored by Marqo.
func (i *Index) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return i.client.do(ctx, "delete_documents", http.MethodPost, indexPath(i.name, "documents", "delete-batch"), ids, nil)
}

// Search runs one query against the index.
func (i *Index) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	var resp SearchResponse
	if err := i.client.do(ctx, "search", http.MethodPost, indexPath(i.name, "search"), req, &resp); err != nil {
		return SearchResponse{}, err
	}
	return resp, nil
}
