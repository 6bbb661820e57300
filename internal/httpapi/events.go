package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/exzibtx/deployd/internal/service"
	"github.com/exzibtx/deployd/pkg/httpx"
	"github.com/exzibtx/deployd/pkg/slogx"
)

// EventsHandler serves one collection's custom events and its change stream.
type EventsHandler struct {
	Users    *service.UserCollection
	Sessions *service.SessionService
}

// HandleEmit runs the handler chain for a named custom event and echoes
// whatever the chain produced.
func (h *EventsHandler) HandleEmit(w http.ResponseWriter, r *http.Request) {
	body, _ := httpx.ReadJSONBody(r)
	result, err := h.Users.Emit(r.Context(), r.PathValue("name"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, result)
}

// HandleChanges streams the collection's change notifications as
// server-sent events. The opening comment line tells the client its
// subscription is registered, so a mutation fired after reading it is
// guaranteed to be observed.
func (h *EventsHandler) HandleChanges(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "streaming unsupported"})
		return
	}

	ch := h.Users.Bus.Subscribe(r.Context(), h.Users.Name)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	log := slogx.FromContext(r.Context())
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error("failed to encode change event", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
