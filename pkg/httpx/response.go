package httpx

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache marks the response as uncacheable. Session tokens and user records
// must never land in shared caches.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// ReadJSONBody decodes the request body into a generic field map. A missing
// or empty body yields an empty map and ok=false; malformed JSON yields
// ok=false as well. Handlers decide whether an absent body is an error.
func ReadJSONBody(r *http.Request) (map[string]any, bool) {
	if r.Body == nil {
		return map[string]any{}, false
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body == nil {
		return map[string]any{}, false
	}
	return body, true
}
