package marqo

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
)

// ContentType tells how Document.Content is to be interpreted.
type ContentType string

// Content types understood by the store.
const (
	ContentText  ContentType = "text"
	ContentTable ContentType = "table"
	ContentAudio ContentType = "audio"
	ContentImage ContentType = "image"
)

// Field names of the stored Marqo document.
const (
	fieldMarqoID     = "_id"
	fieldScore       = "_score"
	fieldFound       = "_found"
	fieldID          = "id"
	fieldContent     = "content"
	fieldContentType = "content_type"
	metadataPrefix   = "__metadata_"
)

// idNamespace seeds content-derived document IDs.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/marqo-ai/marqo-haystack"))

// Document is the record exchanged with the store.
//
// Content holds plain text for ContentText, a JSON document for ContentTable
// and a file path for ContentAudio and ContentImage.
type Document struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	ContentType ContentType    `json:"content_type"`
	Metadata    map[string]any `json:"meta,omitempty"`

	// Score is set only on documents returned by a search.
	Score *float64 `json:"score,omitempty"`
}

// NewDocument creates a text document with a content-derived ID.
func NewDocument(content string, metadata map[string]any) Document {
	d := Document{Content: content, ContentType: ContentText, Metadata: metadata}
	d.EnsureID()
	return d
}

// EnsureID assigns a deterministic ID when the document has none.
// Documents with equal content, content type and metadata get equal IDs.
func (d *Document) EnsureID() {
	if d.ID != "" {
		return
	}
	d.ID = deriveID(d.contentType(), d.Content, d.Metadata)
}

func (d *Document) contentType() ContentType {
	if d.ContentType == "" {
		return ContentText
	}
	return d.ContentType
}

func deriveID(ct ContentType, content string, metadata map[string]any) string {
	meta, err := json.Marshal(metadata)
	if err != nil {
		meta = []byte(fmt.Sprint(metadata))
	}
	var b strings.Builder
	b.WriteString(string(ct))
	b.WriteByte(0)
	b.WriteString(content)
	b.WriteByte(0)
	b.Write(meta)
	return uuid.NewSHA1(idNamespace, []byte(b.String())).String()
}

// toMarqo renames the document fields into Marqo's flat layout:
// `_id`/`id`, `content`, `content_type` and one `__metadata_<k>` per metadata key.
func (d *Document) toMarqo() (map[string]any, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}
	ct := d.contentType()
	text, err := contentAsText(ct, d.Content)
	if err != nil {
		return nil, fmt.Errorf("document %s: %w", d.ID, err)
	}

	out := make(map[string]any, len(d.Metadata)+4)
	for k, v := range d.Metadata {
		out[metadataPrefix+k] = v
	}
	out[fieldMarqoID] = d.ID
	out[fieldID] = d.ID
	out[fieldContent] = text
	out[fieldContentType] = string(ct)
	return out, nil
}

// fromMarqo maps a stored document or search hit back into a Document.
// Marqo bookkeeping keys other than `_id` and `_score` are dropped.
func fromMarqo(m map[string]any) (Document, error) {
	var d Document
	d.ID, _ = m[fieldMarqoID].(string)

	ct, _ := m[fieldContentType].(string)
	d.ContentType = ContentType(ct)

	if raw, _ := m[fieldContent].(string); raw != "" {
		if d.ContentType == "" {
			d.ContentType = ContentText
		}
		content, err := contentFromText(d.ContentType, raw)
		if err != nil {
			return Document{}, fmt.Errorf("document %s: %w", d.ID, err)
		}
		d.Content = content
	}

	for k, v := range m {
		if name, ok := strings.CutPrefix(k, metadataPrefix); ok {
			if d.Metadata == nil {
				d.Metadata = make(map[string]any)
			}
			d.Metadata[name] = fromJSONNumber(v)
		}
	}

	switch s := m[fieldScore].(type) {
	case json.Number:
		f, err := s.Float64()
		if err != nil {
			return Document{}, fmt.Errorf("document %s: invalid score %q", d.ID, s)
		}
		d.Score = &f
	case float64:
		d.Score = &s
	}
	return d, nil
}

// fromJSONNumber turns decoded json.Numbers back into int64, or float64 when
// the number is not an integer, recursing into maps and lists.
func fromJSONNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case map[string]any:
		for k, e := range x {
			x[k] = fromJSONNumber(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = fromJSONNumber(e)
		}
		return x
	default:
		return v
	}
}

func fromMarqoAll(hits []map[string]any) ([]Document, error) {
	out := make([]Document, 0, len(hits))
	for _, h := range hits {
		d, err := fromMarqo(h)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Clone returns a copy with its own metadata map.
func (d Document) Clone() Document {
	c := d
	if d.Metadata != nil {
		c.Metadata = maps.Clone(d.Metadata)
	}
	if d.Score != nil {
		s := *d.Score
		c.Score = &s
	}
	return c
}

// Query is a search query: plain text, or weighted terms when Weights is set.
type Query struct {
	Text    string
	Weights map[string]float64
}

// TextQuery builds a plain text query.
func TextQuery(text string) Query { return Query{Text: text} }

// WeightedQuery builds a query out of weighted terms; negative weights push
// results away from a term.
func WeightedQuery(weights map[string]float64) Query { return Query{Weights: weights} }

// TextQueries wraps plain strings.
func TextQueries(texts []string) []Query {
	out := make([]Query, len(texts))
	for i, t := range texts {
		out[i] = TextQuery(t)
	}
	return out
}

func (q Query) wire() any {
	if q.Weights != nil {
		return q.Weights
	}
	return q.Text
}
