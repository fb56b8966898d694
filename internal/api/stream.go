package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const streamKeepAlive = 15 * time.Second

// streamEvents writes each update as a Server-Sent Event until the client
// goes away or updates closes.
func streamEvents[T any](w http.ResponseWriter, r *http.Request, event string, updates <-chan T, render func(T) any) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return
	}

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		case update, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(render(update))
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
