// Package problem writes the two error shapes the mock server emits:
// RFC 7807 documents for server-level rejections (rate limits, oversized
// bodies, CORS) and the flat {"error": "..."} envelope that fixture lookups
// have always returned to clients.
package problem

import (
	"encoding/json"
	"net/http"
)

// Response represents an RFC 7807 problem document.
type Response struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"traceId,omitempty"`
}

// Envelope is the error body returned for fixture misses and failures.
type Envelope struct {
	Error string `json:"error"`
}

// Write emits a problem+json response.
func Write(w http.ResponseWriter, status int, title, detail, traceID, instance string) {
	resp := Response{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
		TraceID:  traceID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// WriteError emits {"error": message} with a JSON content type.
func WriteError(w http.ResponseWriter, status int, message string) {
	body, err := json.Marshal(Envelope{Error: message})
	if err != nil {
		http.Error(w, message, status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
