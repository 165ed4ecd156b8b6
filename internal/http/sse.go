package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/hperssn/focuswatch/internal/runner"
)

// StreamEvents pushes the caller's events to the browser as they are
// finalized.
func StreamEvents(manager *runner.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		id, events := manager.Subscribe(user.ID)
		defer manager.Unsubscribe(id)

		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}

				data, _ := json.Marshal(newEventView(ev))
				w.Write([]byte("data: "))
				w.Write(data)
				w.Write([]byte("\n\n"))

				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}
