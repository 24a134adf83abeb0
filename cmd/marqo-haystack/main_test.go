package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	marqo "github.com/marqo-ai/marqo-haystack"
)

// fakeMarqo is an in-memory "cli" index. Search returns the stored
// documents whose content contains the query text.
type fakeMarqo struct {
	mu       sync.Mutex
	docs     map[string]map[string]any
	order    []string
	searches []map[string]any
	deleted  [][]string
	writes   int

	// reject fails the upsert of documents with this content.
	reject string
}

func newFakeMarqo(t *testing.T) (*fakeMarqo, string) {
	t.Helper()
	f := &fakeMarqo{docs: make(map[string]map[string]any)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /indexes", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, map[string]any{"results": []map[string]string{{"indexName": "cli"}}})
	})
	mux.HandleFunc("GET /indexes/cli/stats", f.stats)
	mux.HandleFunc("POST /indexes/cli/documents", f.add)
	mux.HandleFunc("GET /indexes/cli/documents", f.get)
	mux.HandleFunc("POST /indexes/cli/documents/delete-batch", f.deleteBatch)
	mux.HandleFunc("POST /indexes/cli/search", f.search)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv.URL
}

func reply(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// seed stores a document in Marqo's flat layout.
func (f *fakeMarqo) seed(doc map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put(doc)
}

func (f *fakeMarqo) put(doc map[string]any) {
	id := doc["_id"].(string)
	if _, ok := f.docs[id]; !ok {
		f.order = append(f.order, id)
	}
	f.docs[id] = doc
}

// stats reports two vectors per document.
func (f *fakeMarqo) stats(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reply(w, map[string]int{"numberOfDocuments": len(f.docs), "numberOfVectors": 2 * len(f.docs)})
}

func (f *fakeMarqo) add(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var req struct {
		Documents []map[string]any `json:"documents"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.writes++
	var items []map[string]any
	for _, d := range req.Documents {
		id, _ := d["_id"].(string)
		if f.reject != "" && d["content"] == f.reject {
			items = append(items, map[string]any{"_id": id, "status": 400, "message": "unsupported content"})
			continue
		}
		f.put(d)
		items = append(items, map[string]any{"_id": id, "status": 200})
	}
	reply(w, map[string]any{"errors": false, "items": items})
}

func (f *fakeMarqo) get(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	_ = json.NewDecoder(r.Body).Decode(&ids)
	results := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		d, ok := f.docs[id]
		if !ok {
			results = append(results, map[string]any{"_id": id, "_found": false})
			continue
		}
		out := map[string]any{"_found": true}
		maps.Copy(out, d)
		results = append(results, out)
	}
	reply(w, map[string]any{"results": results})
}

func (f *fakeMarqo) deleteBatch(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	_ = json.NewDecoder(r.Body).Decode(&ids)
	f.deleted = append(f.deleted, ids)
	for _, id := range ids {
		delete(f.docs, id)
	}
	reply(w, map[string]any{"status": "succeeded"})
}

func (f *fakeMarqo) search(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.searches = append(f.searches, req)

	text, _ := req["q"].(string)
	hits := []map[string]any{}
	for _, id := range f.order {
		d, ok := f.docs[id]
		if !ok {
			continue
		}
		if content, _ := d["content"].(string); !strings.Contains(content, text) {
			continue
		}
		hit := map[string]any{"_score": 1.0 / float64(len(hits)+1)}
		maps.Copy(hit, d)
		hits = append(hits, hit)
	}
	reply(w, map[string]any{"hits": hits})
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(&app{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// runAgainst runs a command against the fake index.
func runAgainst(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	return run(t, append(args, "--env", "local", "--url", url, "--index", "cli", "--log-level", "error")...)
}

func writeFiles(t *testing.T, contents ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, fmt.Sprintf("doc%d.txt", i))
		if err := os.WriteFile(paths[i], []byte(c), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestCountCommand(t *testing.T) {
	fake, url := newFakeMarqo(t)
	fake.seed(map[string]any{"_id": "a", "content": "x"})
	fake.seed(map[string]any{"_id": "b", "content": "y"})

	out, err := runAgainst(t, url, "count")
	if err != nil {
		t.Fatalf("count: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Documents: 2") || !strings.Contains(out, "Vectors:   4") {
		t.Errorf("output = %q", out)
	}
}

func TestIndexAndQueryCommands(t *testing.T) {
	fake, url := newFakeMarqo(t)
	paths := writeFiles(t, "alpha is the first letter", "beta comes second")

	out, err := runAgainst(t, url, append([]string{"index"}, paths...)...)
	if err != nil {
		t.Fatalf("index: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Wrote 2 of 2 documents to cli") {
		t.Errorf("index output = %q", out)
	}

	out, err = runAgainst(t, url, "query", "alpha", "beta", "--top-k", "2", "--filters", `{"lang": "en"}`)
	if err != nil {
		t.Fatalf("query: %v\n%s", err, out)
	}
	for i, q := range []string{"alpha", "beta"} {
		want := fmt.Sprintf("Query: %s\n  {file_path=%s} 1.0000\n", q, paths[i])
		if !strings.Contains(out, want) {
			t.Errorf("output = %q, want %q", out, want)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.searches) != 2 {
		t.Fatalf("searches = %d, want 2", len(fake.searches))
	}
	for _, req := range fake.searches {
		if req["filter"] != "__metadata_lang:(en)" || req["limit"] != 2.0 {
			t.Errorf("search body = %v", req)
		}
	}
}

func TestQueryCommand_JSONAndNoResults(t *testing.T) {
	_, url := newFakeMarqo(t)

	out, err := runAgainst(t, url, "query", "nothing")
	if err != nil {
		t.Fatalf("query: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Query: nothing\n  (no results)") {
		t.Errorf("output = %q", out)
	}

	out, err = runAgainst(t, url, "query", "nothing", "--json")
	if err != nil {
		t.Fatalf("query --json: %v", err)
	}
	var results [][]marqo.Document
	if err := json.Unmarshal([]byte(out), &results); err != nil || len(results) != 1 || len(results[0]) != 0 {
		t.Errorf("output = %q, err = %v", out, err)
	}

	if _, err := runAgainst(t, url, "query", "x", "--filters", `{"a": {"$like": 1}}`); !errors.Is(err, marqo.ErrFilter) {
		t.Errorf("err = %v, want ErrFilter", err)
	}
}

func TestIndexCommand_Policies(t *testing.T) {
	fake, url := newFakeMarqo(t)
	paths := writeFiles(t, "one", "two")

	if _, err := runAgainst(t, url, "index", paths[0]); err != nil {
		t.Fatalf("index: %v", err)
	}

	out, err := runAgainst(t, url, "index", "--policy", "skip", paths[0], paths[1])
	if err != nil {
		t.Fatalf("index --policy skip: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Wrote 1 of 2 documents") {
		t.Errorf("skip output = %q", out)
	}

	_, err = runAgainst(t, url, "index", "--policy", "fail", paths[1])
	if !errors.Is(err, marqo.ErrDuplicateDocument) {
		t.Errorf("err = %v, want ErrDuplicateDocument", err)
	}

	fake.mu.Lock()
	writes := fake.writes
	fake.mu.Unlock()
	if _, err := runAgainst(t, url, "index", "--policy", "sometimes", paths[0]); !errors.Is(err, marqo.ErrConfig) {
		t.Errorf("err = %v, want ErrConfig", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.writes != writes {
		t.Error("an unknown policy must not write")
	}
}

func TestIndexCommand_RejectedDocuments(t *testing.T) {
	fake, url := newFakeMarqo(t)
	fake.mu.Lock()
	fake.reject = "bad"
	fake.mu.Unlock()
	paths := writeFiles(t, "good", "bad")

	out, err := runAgainst(t, url, "index", paths[0], paths[1])
	var we *marqo.WriteError
	if !errors.As(err, &we) || len(we.Failed) != 1 {
		t.Fatalf("err = %v, want one rejected document", err)
	}
	if !strings.Contains(out, "rejected "+we.Failed[0].ID+": unsupported content") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "Wrote 1 of 2 documents") {
		t.Errorf("output = %q", out)
	}
}

func TestGetAndDeleteCommands(t *testing.T) {
	fake, url := newFakeMarqo(t)
	fake.seed(map[string]any{
		"_id": "a", "id": "a", "content": "hello", "content_type": "text", "__metadata_lang": "en",
	})

	out, err := runAgainst(t, url, "get", "a", "missing")
	if err != nil {
		t.Fatalf("get: %v\n%s", err, out)
	}
	var docs []marqo.Document
	if err := json.Unmarshal([]byte(out), &docs); err != nil {
		t.Fatalf("output %q: %v", out, err)
	}
	if len(docs) != 1 || docs[0].ID != "a" || docs[0].Content != "hello" || docs[0].Metadata["lang"] != "en" {
		t.Errorf("docs = %+v", docs)
	}

	out, err = runAgainst(t, url, "delete", "a", "missing")
	if err != nil {
		t.Fatalf("delete: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Requested deletion of 2 id(s)") {
		t.Errorf("output = %q", out)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.deleted) != 1 || strings.Join(fake.deleted[0], ",") != "a,missing" {
		t.Errorf("deleted = %v", fake.deleted)
	}
	if _, ok := fake.docs["a"]; ok {
		t.Error("document a still stored")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version", "--env", "nonsense")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "dev") {
		t.Errorf("output = %q", out)
	}
}

func TestDropRequiresConfirmation(t *testing.T) {
	_, url := newFakeMarqo(t)
	_, err := runAgainst(t, url, "drop")
	if err == nil || !strings.Contains(err.Error(), "--yes") {
		t.Errorf("err = %v, want confirmation error", err)
	}
}

func TestParseFilters(t *testing.T) {
	f, err := parseFilters(`{"lang": "en", "year": {"$gte": 2020}}`)
	if err != nil {
		t.Fatalf("parseFilters: %v", err)
	}
	if f["lang"] != "en" {
		t.Errorf("filters = %v", f)
	}
	if f, err := parseFilters("  "); err != nil || f != nil {
		t.Errorf("blank: f=%v err=%v", f, err)
	}
	if _, err := parseFilters(`{"a": {"$like": 1}}`); err == nil {
		t.Error("expected filter error")
	}
	if _, err := parseFilters(`[1]`); err == nil {
		t.Error("expected JSON error")
	}
}

func TestPrintHits(t *testing.T) {
	var buf bytes.Buffer
	s := 0.5
	printHits(&buf, []marqo.Document{{Metadata: map[string]any{"b": 2, "a": "x"}, Score: &s}})
	if got := buf.String(); got != "  {a=x b=2} 0.5000\n" {
		t.Errorf("got %q", got)
	}

	buf.Reset()
	printHits(&buf, nil)
	if !strings.Contains(buf.String(), "no results") {
		t.Errorf("got %q", buf.String())
	}
}
