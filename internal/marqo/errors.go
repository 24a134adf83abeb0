package marqo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// APIError is a non-2xx response from Marqo.
type APIError struct {
	StatusCode int
	Code       string
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("marqo api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("marqo api error %d: %s", e.StatusCode, e.Message)
}

// parseAPIError builds an APIError from Marqo's error body
// ({"message", "code", "type", "link"}), falling back to the raw text.
func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}

	var parsed struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Type    string `json:"type"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		e.Code = parsed.Code
		e.Type = parsed.Type
		e.Message = parsed.Message
		if e.Message == "" {
			e.Message = parsed.Detail
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}
