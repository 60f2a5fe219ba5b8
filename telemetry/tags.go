package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

// requestTagsKey is the context key for request tags holder.
const requestTagsKey contextKey = "request_tags"

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Endpoint string
	Action   string
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, &RequestTags{}))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetEndpoint sets the endpoint name for logging and metrics.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetAction sets the extension message action for logging.
func SetAction(r *http.Request, action string) {
	if tags := GetTags(r); tags != nil {
		tags.Action = action
	}
}
