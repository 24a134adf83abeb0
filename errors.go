package marqo

import (
	"errors"
	"fmt"
	"strings"

	api "github.com/marqo-ai/marqo-haystack/internal/marqo"
)

// Sentinel errors. Use errors.Is() to check.
var (
	// ErrDocumentStore is the root of every error raised by the store itself.
	ErrDocumentStore = errors.New("marqo document store error")
	// ErrFilter signals a filter that cannot be converted to a Marqo filter string.
	ErrFilter = errors.New("marqo filter error")
	// ErrConfig signals invalid store configuration.
	ErrConfig = fmt.Errorf("%w: invalid configuration", ErrDocumentStore)
	// ErrUnknownContentType signals a content type the store cannot serialise.
	ErrUnknownContentType = fmt.Errorf("%w: unknown content type", ErrDocumentStore)
	// ErrInvalidDocument signals a document that cannot be written as is.
	ErrInvalidDocument = fmt.Errorf("%w: invalid document", ErrDocumentStore)
	// ErrDuplicateDocument signals a write that would overwrite an existing document
	// under PolicyFail.
	ErrDuplicateDocument = fmt.Errorf("%w: duplicate document", ErrDocumentStore)
)

// APIError is a non-2xx response from Marqo, re-exported for errors.As.
type APIError = api.APIError

// ItemError is a document Marqo refused to index.
type ItemError struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// WriteError lists the documents of a write that Marqo rejected.
// The remaining documents of the same write were indexed.
type WriteError struct {
	Failed []ItemError
}

func (e *WriteError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = f.ID
	}
	return fmt.Sprintf("%s: %d document(s) rejected: %s",
		ErrDocumentStore.Error(), len(e.Failed), strings.Join(ids, ", "))
}

func (e *WriteError) Unwrap() error { return ErrDocumentStore }

func filterErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFilter, fmt.Sprintf(format, args...))
}
