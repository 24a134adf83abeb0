package marqo

// SearchMethod selects Marqo's retrieval method.
type SearchMethod string

// Search methods supported by Marqo.
const (
	SearchTensor  SearchMethod = "TENSOR"
	SearchLexical SearchMethod = "LEXICAL"
	SearchHybrid  SearchMethod = "HYBRID"
)

// Stats is the response of the index stats endpoint.
type Stats struct {
	NumberOfDocuments int `json:"numberOfDocuments"`
	NumberOfVectors   int `json:"numberOfVectors"`
}

// Health is the response of the index health endpoint.
type Health struct {
	Status string `json:"status"`
}

// SearchRequest is the body of a search call. Q is either a string or a
// map of weighted terms.
type SearchRequest struct {
	Q            any          `json:"q"`
	Limit        int          `json:"limit,omitempty"`
	Filter       string       `json:"filter,omitempty"`
	SearchMethod SearchMethod `json:"searchMethod,omitempty"`
}

// SearchResponse carries the raw hits; each hit is a flat field map with
// Marqo's `_id`, `_score` and `_highlights` keys. Numbers are json.Number.
type SearchResponse struct {
	Hits []map[string]any `json:"hits"`
}

// AddDocumentsOptions controls an upsert.
type AddDocumentsOptions struct {
	TensorFields    []string
	ClientBatchSize int
}

// AddDocumentsResponse is the outcome of one client batch.
type AddDocumentsResponse struct {
	Errors bool      `json:"errors"`
	Items  []AddItem `json:"items"`
}

// AddItem is the per-document outcome of an upsert.
type AddItem struct {
	ID      string `json:"_id"`
	Status  int    `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Failed reports whether Marqo rejected the document.
func (i AddItem) Failed() bool {
	return i.Status >= 300 || i.Error != ""
}

type addDocumentsRequest struct {
	Documents    []map[string]any `json:"documents"`
	TensorFields []string         `json:"tensorFields"`
}

type getDocumentsResponse struct {
	Results []map[string]any `json:"results"`
}

type listIndexesResponse struct {
	Results []indexEntry `json:"results"`
}

// indexEntry accepts both the current and the legacy index name key.
type indexEntry struct {
	IndexName       string `json:"indexName"`
	LegacyIndexName string `json:"index_name"`
}

func (e indexEntry) name() string {
	if e.IndexName != "" {
		return e.IndexName
	}
	return e.LegacyIndexName
}
