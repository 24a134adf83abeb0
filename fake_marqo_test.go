package marqo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeMarqo is an in-memory Marqo serving the endpoints the store uses.
// Search matches documents whose content contains the query text.
type fakeMarqo struct {
	mu       sync.Mutex
	indexes  map[string]map[string]map[string]any
	order    map[string][]string
	calls    []string
	filters  []string
	queries  []any
	settings map[string]any

	// rejectContent makes the upsert fail for documents with this content.
	rejectContent string
}

func newFakeMarqo(t *testing.T, existing ...string) (*fakeMarqo, *httptest.Server) {
	t.Helper()
	f := &fakeMarqo{
		indexes: make(map[string]map[string]map[string]any),
		order:   make(map[string][]string),
	}
	for _, name := range existing {
		f.indexes[name] = make(map[string]map[string]any)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /indexes", f.listIndexes)
	mux.HandleFunc("POST /indexes/{name}", f.createIndex)
	mux.HandleFunc("DELETE /indexes/{name}", f.deleteIndex)
	mux.HandleFunc("GET /indexes/{name}/stats", f.stats)
	mux.HandleFunc("GET /indexes/{name}/health", f.health)
	mux.HandleFunc("POST /indexes/{name}/documents", f.addDocuments)
	mux.HandleFunc("GET /indexes/{name}/documents", f.getDocuments)
	mux.HandleFunc("POST /indexes/{name}/documents/delete-batch", f.deleteDocuments)
	mux.HandleFunc("POST /indexes/{name}/search", f.search)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestStore(t *testing.T, srv *httptest.Server, opts ...Option) *DocumentStore {
	t.Helper()
	opts = append([]Option{WithURL(srv.URL), WithIndex("docs")}, opts...)
	s, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func (f *fakeMarqo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeMarqo) hasIndex(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.indexes[name]
	return ok
}

// stored returns a field of a stored document, or nil.
func (f *fakeMarqo) stored(id, field string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indexes["docs"][id][field]
}

func (f *fakeMarqo) setting(key string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings[key]
}

func (f *fakeMarqo) lastQuery() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queries) == 0 {
		return nil
	}
	return f.queries[len(f.queries)-1]
}

func (f *fakeMarqo) lastFilter() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.filters) == 0 {
		return ""
	}
	return f.filters[len(f.filters)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"message": "index " + name + " does not exist", "code": "index_not_found", "type": "invalid_request",
	})
}

func (f *fakeMarqo) index(w http.ResponseWriter, r *http.Request) (string, map[string]map[string]any, bool) {
	name := r.PathValue("name")
	idx, ok := f.indexes[name]
	if !ok {
		notFound(w, name)
	}
	return name, idx, ok
}

func (f *fakeMarqo) listIndexes(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	results := make([]map[string]string, 0, len(f.indexes))
	for name := range f.indexes {
		results = append(results, map[string]string{"indexName": name})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (f *fakeMarqo) createIndex(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := r.PathValue("name")
	if _, ok := f.indexes[name]; ok {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "index exists", "code": "index_already_exists"})
		return
	}
	_ = json.NewDecoder(r.Body).Decode(&f.settings)
	f.indexes[name] = make(map[string]map[string]any)
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": name})
}

func (f *fakeMarqo) deleteIndex(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, _, ok := f.index(w, r)
	if !ok {
		return
	}
	delete(f.indexes, name)
	delete(f.order, name)
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (f *fakeMarqo) stats(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, idx, ok := f.index(w, r)
	if !ok {
		return
	}
	vectors := 0
	for _, d := range idx {
		// One vector per sentence, roughly what Marqo's default chunking yields.
		content, _ := d["content"].(string)
		vectors += max(1, strings.Count(content, "."))
	}
	writeJSON(w, http.StatusOK, map[string]int{"numberOfDocuments": len(idx), "numberOfVectors": vectors})
}

func (f *fakeMarqo) health(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, _, ok := f.index(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "green", "backend": map[string]string{"status": "green"}})
}

func (f *fakeMarqo) addDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, idx, ok := f.index(w, r)
	if !ok {
		return
	}
	var req struct {
		Documents    []map[string]any `json:"documents"`
		TensorFields []string         `json:"tensorFields"`
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	resp := map[string]any{"errors": false}
	var items []map[string]any
	for _, d := range req.Documents {
		id, _ := d["_id"].(string)
		if f.rejectContent != "" && d["content"] == f.rejectContent {
			items = append(items, map[string]any{"_id": id, "status": 400, "error": "rejected", "message": "document rejected"})
			resp["errors"] = true
			continue
		}
		if _, exists := idx[id]; !exists {
			f.order[name] = append(f.order[name], id)
		}
		idx[id] = d
		items = append(items, map[string]any{"_id": id, "status": 200})
	}
	resp["items"] = items
	writeJSON(w, http.StatusOK, resp)
}

func (f *fakeMarqo) getDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, idx, ok := f.index(w, r)
	if !ok {
		return
	}
	var ids []string
	_ = json.NewDecoder(r.Body).Decode(&ids)
	results := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		d, found := idx[id]
		if !found {
			results = append(results, map[string]any{"_id": id, "_found": false})
			continue
		}
		out := map[string]any{"_found": true}
		for k, v := range d {
			out[k] = v
		}
		results = append(results, out)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (f *fakeMarqo) deleteDocuments(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, idx, ok := f.index(w, r)
	if !ok {
		return
	}
	var ids []string
	_ = json.NewDecoder(r.Body).Decode(&ids)
	for _, id := range ids {
		delete(idx, id)
	}
	kept := f.order[name][:0]
	for _, id := range f.order[name] {
		if _, ok := idx[id]; ok {
			kept = append(kept, id)
		}
	}
	f.order[name] = kept
	writeJSON(w, http.StatusOK, map[string]any{"status": "succeeded"})
}

func (f *fakeMarqo) search(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, idx, ok := f.index(w, r)
	if !ok {
		return
	}
	var req struct {
		Q      any    `json:"q"`
		Limit  int    `json:"limit"`
		Filter string `json:"filter"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.filters = append(f.filters, req.Filter)
	f.queries = append(f.queries, req.Q)

	text, _ := req.Q.(string)
	hits := []map[string]any{}
	for _, id := range f.order[name] {
		if len(hits) == req.Limit {
			break
		}
		d := idx[id]
		content, _ := d["content"].(string)
		if text != "" && !strings.Contains(content, text) {
			continue
		}
		hit := map[string]any{"_score": 1.0 / float64(len(hits)+1), "_highlights": []any{}}
		for k, v := range d {
			hit[k] = v
		}
		hits = append(hits, hit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits, "limit": req.Limit})
}
