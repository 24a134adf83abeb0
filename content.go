package marqo

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// contentAsText serialises content for storage in Marqo's `content` field.
func contentAsText(ct ContentType, content string) (string, error) {
	switch ct {
	case ContentText:
		return content, nil
	case ContentTable:
		if !json.Valid([]byte(content)) {
			return "", fmt.Errorf("%w: table content must be JSON", ErrInvalidDocument)
		}
		return content, nil
	case ContentAudio, ContentImage:
		abs, err := filepath.Abs(content)
		if err != nil {
			return "", fmt.Errorf("%w: resolve %s path: %w", ErrInvalidDocument, ct, err)
		}
		return abs, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownContentType, ct)
	}
}

// contentFromText is the inverse of contentAsText.
func contentFromText(ct ContentType, text string) (string, error) {
	switch ct {
	case ContentText, ContentTable, ContentAudio, ContentImage:
		return text, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownContentType, ct)
	}
}
