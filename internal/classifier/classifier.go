// Package classifier decides whether an upstream job-status payload means
// pending, billable success, or failure. The renderer's schema is not
// contractually fixed, so the rules probe a fixed table of known field names
// and prefer Pending over a wrong Success or Failure.
package classifier

import (
	"encoding/json"
	"strings"
)

// Outcome is the classification of one status observation.
type Outcome string

const (
	Pending Outcome = "pending"
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Candidate field names, in probe order. Extending support for a new
// renderer shape means adding names here, nowhere else.
var (
	statusFields = []string{"status", "state", "job_status", "jobStatus", "phase"}
	errorFields  = []string{"error", "errors", "error_message", "errorMessage", "failure_reason", "failureReason", "exception_message"}
	outputFields = []string{"output", "result", "data", "response", "outputs"}
	assetFields  = []string{
		"image", "images", "image_url", "imageUrl", "image_urls",
		"video", "videos", "video_url", "videoUrl", "video_urls",
		"gif", "gifs", "media", "assets", "artifacts", "urls", "url",
	}

	failureMarkers = []string{"fail", "error", "cancel"}
	successMarkers = []string{"complete", "success", "succeed", "finished"}
)

// How deep nested output/result sub-objects are probed. ComfyUI histories
// nest assets two levels down (outputs.<node>.images).
const maxDepth = 3

// Classify maps a raw status payload to an Outcome. Invalid JSON and
// non-object payloads are Pending: ambiguity must never bill or refund.
func Classify(payload []byte) Outcome {
	if len(payload) == 0 {
		return Pending
	}
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Pending
	}
	return ClassifyDoc(doc)
}

// ClassifyDoc classifies an already-decoded payload.
func ClassifyDoc(doc map[string]any) Outcome {
	if doc == nil {
		return Pending
	}

	status, hasStatus := statusValue(doc)

	// Rule 1: explicit failure status wins over everything.
	if hasStatus && containsAny(status, failureMarkers) {
		return Failure
	}

	// Rule 2: an error field anywhere in the known nesting means failure,
	// regardless of what the status field claims.
	if hasError(doc, maxDepth) {
		return Failure
	}

	// Rule 3: completion status or at least one concrete asset reference.
	if hasStatus && containsAny(status, successMarkers) {
		return Success
	}
	if hasAsset(doc, maxDepth) {
		return Success
	}

	// Rule 4: everything unrecognized stays pending.
	return Pending
}

func statusValue(doc map[string]any) (string, bool) {
	for _, field := range statusFields {
		if raw, ok := doc[field]; ok {
			if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
				return strings.ToLower(s), true
			}
		}
	}
	return "", false
}

func containsAny(value string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(value, marker) {
			return true
		}
	}
	return false
}

func hasError(doc map[string]any, depth int) bool {
	for _, field := range errorFields {
		if nonEmpty(doc[field]) {
			return true
		}
	}
	if depth <= 0 {
		return false
	}
	for _, field := range outputFields {
		switch nested := doc[field].(type) {
		case map[string]any:
			if hasError(nested, depth-1) {
				return true
			}
			// outputs.<node>.{...} keys are renderer-generated node ids.
			for _, child := range nested {
				if childDoc, ok := child.(map[string]any); ok && field == "outputs" {
					if hasError(childDoc, depth-1) {
						return true
					}
				}
			}
		case []any:
			for _, item := range nested {
				if childDoc, ok := item.(map[string]any); ok && hasError(childDoc, depth-1) {
					return true
				}
			}
		}
	}
	return false
}

func hasAsset(doc map[string]any, depth int) bool {
	for _, field := range assetFields {
		if nonEmpty(doc[field]) {
			return true
		}
	}
	if depth <= 0 {
		return false
	}
	for _, field := range outputFields {
		switch nested := doc[field].(type) {
		case map[string]any:
			if hasAsset(nested, depth-1) {
				return true
			}
			for _, child := range nested {
				if childDoc, ok := child.(map[string]any); ok && field == "outputs" {
					if hasAsset(childDoc, depth-1) {
						return true
					}
				}
			}
		case []any:
			for _, item := range nested {
				if childDoc, ok := item.(map[string]any); ok && hasAsset(childDoc, depth-1) {
					return true
				}
			}
		}
	}
	return false
}

// nonEmpty reports whether a candidate field carries an actual value:
// a non-blank string, a non-empty list with a usable first element, or a
// non-empty object.
func nonEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case []any:
		for _, item := range v {
			if nonEmpty(item) {
				return true
			}
		}
		return false
	case map[string]any:
		return len(v) > 0
	case bool:
		return v
	case float64:
		return true
	default:
		return false
	}
}
