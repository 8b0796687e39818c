// Package dispatch implements the two request routers, memory and
// admin, plus the session lifecycle calls. Each handler validates its
// params, calls into the repository or service layer, and formats the
// result into the tool response envelope. Returned errors become
// isError responses; panics are not recovered here.
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/keggan-std/engramd/internal/apperr"
)

// ContentItem is one element of a tool response body.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Result is the dispatcher response envelope:
// {content:[{type:"text",text:...}], isError?}.
type Result struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// textResult wraps a plain message.
func textResult(msg string) Result {
	return Result{Content: []ContentItem{{Type: "text", Text: msg}}}
}

// jsonResult marshals v into the envelope. A marshal failure (should
// never happen for our own types) degrades to an error result rather
// than panicking.
func jsonResult(v any) Result {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResult(fmt.Errorf("encoding response: %w", err))
	}
	return Result{Content: []ContentItem{{Type: "text", Text: string(b)}}}
}

// errorPayload is the typed error structure embedded in error responses.
type errorPayload struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// errorResult translates any error into the isError envelope, keeping
// the taxonomy kind machine-readable.
func errorResult(err error) Result {
	payload := errorPayload{Error: err.Error(), Kind: string(apperr.KindOf(err))}
	b, mErr := json.Marshal(payload)
	if mErr != nil {
		return Result{Content: []ContentItem{{Type: "text", Text: err.Error()}}, IsError: true}
	}
	return Result{Content: []ContentItem{{Type: "text", Text: string(b)}}, IsError: true}
}

// ErrorText builds an isError envelope from a bare message, for the
// transport layer's own failures (malformed line, unknown tool).
func ErrorText(msg string) Result {
	return Result{Content: []ContentItem{{Type: "text", Text: msg}}, IsError: true}
}

// decodeParams unmarshals raw params into target, reporting a
// validation error on malformed input. Nil raw decodes to the zero args.
func decodeParams(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperr.Validation("invalid params: %v", err)
	}
	return nil
}
