package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/eldtechnologies/parley/internal/api/middleware"
	"github.com/eldtechnologies/parley/internal/engine"
)

// streamBuffer bounds how many events a slow consumer may fall behind
// before the stream is considered broken and closed.
const streamBuffer = 64

// Events streams the viewer's session events over Server-Sent Events.
// Each event is one JSON object on a data line, with the SSE event field
// set to the engine event type. A heartbeat comment goes out every 25
// seconds to keep intermediaries from timing out the connection.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := middleware.GetViewerFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s := h.manager.Session(viewerID)

	events := make(chan engine.Event, streamBuffer)
	overflow := make(chan struct{}, 1)
	remove := s.AddListener(func(e engine.Event) {
		select {
		case events <- e:
		default:
			// Consumer too far behind; drop the stream rather than block
			// the engine. The client reconnects and reloads state.
			select {
			case overflow <- struct{}{}:
			default:
			}
		}
	})
	defer remove()

	heartbeat := time.NewTicker(25 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-overflow:
			h.logger.Warn().Str("viewer_id", viewerID.String()).Msg("event stream consumer fell behind, closing")
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case e := <-events:
			payload, err := json.Marshal(e)
			if err != nil {
				h.logger.Error().Err(err).Msg("event marshal failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
