package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNotFound matches (via errors.Is) any *Error that reports a missing
// resource.
var ErrNotFound = errors.New("resource not found")

// ErrorItem is one entry of a structured error list.
type ErrorItem struct {
	LogRef  string `json:"logref"`
	Message string `json:"message"`
}

// Error is a terminal control-plane failure: a 4xx status or a structured
// error list embedded in the response body.
type Error struct {
	Op         string
	StatusCode int
	Items      []ErrorItem
	Body       string
}

func (e *Error) Error() string {
	if len(e.Items) > 0 {
		msgs := make([]string, 0, len(e.Items))
		for _, it := range e.Items {
			if it.LogRef != "" {
				msgs = append(msgs, it.LogRef+": "+it.Message)
			} else {
				msgs = append(msgs, it.Message)
			}
		}
		return fmt.Sprintf("%s: control plane error (status %d): %s", e.Op, e.StatusCode, strings.Join(msgs, "; "))
	}
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: control plane answered %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: control plane answered %d: %s", e.Op, e.StatusCode, body)
}

// Is lets errors.Is(err, ErrNotFound) classify missing resources.
func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.NotFound()
}

// HasLogRef reports whether any item's logref contains ref.
func (e *Error) HasLogRef(ref string) bool {
	for _, it := range e.Items {
		if strings.Contains(it.LogRef, ref) {
			return true
		}
	}
	return false
}

// NotFound reports a missing resource.
func (e *Error) NotFound() bool {
	return e.StatusCode == http.StatusNotFound || e.HasLogRef("NoSuch") || e.HasLogRef("NotFound")
}

// AlreadyRegistered reports a component registered under a different
// artifact reference.
func (e *Error) AlreadyRegistered() bool {
	return e.HasLogRef("AppAlreadyRegistered") || e.HasLogRef("AlreadyRegistered")
}

// DuplicateDefinition reports a definition name collision.
func (e *Error) DuplicateDefinition() bool {
	return e.HasLogRef("DuplicateStreamDefinition") || (e.StatusCode == http.StatusConflict && len(e.Items) == 0)
}

// AlreadyDeployed reports a deploy request for a running deployment.
func (e *Error) AlreadyDeployed() bool {
	return e.HasLogRef("StreamAlreadyDeployed") || e.HasLogRef("AlreadyDeployed")
}

// Validation reports a malformed request, such as a missing or malformed
// artifact reference.
func (e *Error) Validation() bool {
	return e.StatusCode == http.StatusBadRequest ||
		e.HasLogRef("Validation") ||
		e.HasLogRef("IllegalArgument") ||
		e.HasLogRef("InvalidReference")
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether err marks a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// parseErrorItems recognises the three error list shapes control planes
// use: {"_embedded":{"errors":[...]}}, {"errors":[...]} and a top-level
// array. Only entries with a logref or message count.
func parseErrorItems(body []byte) []ErrorItem {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil
	}

	var items []ErrorItem
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(body, &items); err != nil {
			return nil
		}
	case '{':
		var envelope struct {
			Embedded struct {
				Errors []ErrorItem `json:"errors"`
			} `json:"_embedded"`
			Errors json.RawMessage `json:"errors"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil
		}
		items = envelope.Embedded.Errors
		if len(items) == 0 && len(envelope.Errors) > 0 {
			// "errors" may be a list or something else entirely
			if err := json.Unmarshal(envelope.Errors, &items); err != nil {
				return nil
			}
		}
	default:
		return nil
	}

	out := items[:0]
	for _, it := range items {
		if it.LogRef != "" || it.Message != "" {
			out = append(out, it)
		}
	}
	return out
}
