package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"tavolino/pkg/models"
)

// streamGlobal serves the operations dashboard: every new_order and
// order_update flows through this stream.
func (h *Handler) streamGlobal(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, nil)
}

// streamOrder serves one customer's tracking view: only updates for the
// requested order id are delivered.
func (h *Handler) streamOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	// A stream for an unknown order would hang forever; reject it up front.
	if _, _, err := h.svc.GetOrder(r.Context(), id); err != nil {
		h.writeDomainError(w, middleware.GetReqID(r.Context()), "stream_order_failed", err)
		return
	}

	h.stream(w, r, &id)
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, orderID *int64) {
	requestID := middleware.GetReqID(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sub := h.hub.Subscribe(orderID)
	defer h.hub.Unsubscribe(sub.ID)

	writeFrame(w, models.Event{Type: models.EventConnected})
	flusher.Flush()

	h.logger.Debug(requestID, "sse_connected", "Event stream opened")

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done():
			return
		case event := <-sub.C:
			if event.Type == models.EventHeartbeat {
				// Comment frames keep the connection alive without waking
				// client-side event handlers.
				fmt.Fprint(w, ": heartbeat\n\n")
			} else {
				writeFrame(w, event)
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, event models.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", body)
}
