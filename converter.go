package marqo

import (
	"fmt"
	"os"
	"unicode/utf8"
)

// FilePathKey is the metadata key holding a converted file's path.
const FilePathKey = "file_path"

// TextFilesToDocuments reads UTF-8 text files into documents, one per file,
// in input order. Each document records its source in metadata["file_path"].
func TextFilesToDocuments(paths []string, metadata map[string]any) ([]Document, error) {
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", ErrInvalidDocument, p)
		}
		meta := make(map[string]any, len(metadata)+1)
		for k, v := range metadata {
			meta[k] = v
		}
		meta[FilePathKey] = p
		docs = append(docs, NewDocument(string(raw), meta))
	}
	return docs, nil
}
