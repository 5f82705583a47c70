package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tinkerloft/deskpilot/internal/planstore"
)

// handleTaskEvents streams session events for one task over SSE. The current
// persisted state is sent immediately so late subscribers see where the run
// stands before live events arrive.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before the first flush so no event published after the
	// client sees the initial frame can be missed.
	events, cancel := s.broker.Subscribe()
	defer cancel()

	if rec, found := s.findTask(id); found {
		data, _ := json.Marshal(summarize(rec))
		fmt.Fprintf(w, "event: status\ndata: %s\n\n", data)
	} else {
		fmt.Fprintf(w, "event: status\ndata: {}\n\n")
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if planstore.TaskID(e.Task) != id {
				continue
			}
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
			flusher.Flush()
		}
	}
}
