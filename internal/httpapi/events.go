package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"cafepos/backend/internal/events"
)

const eventStreamBuffer = 64

// handleEvents streams bus events as server-sent events. ?register=R limits
// the stream to one terminal; events without a register always pass.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	select {
	case <-a.streamsDone:
		writeError(w, http.StatusServiceUnavailable, errors.New("server is shutting down"))
		return
	default:
	}
	registerID := strings.TrimSpace(r.URL.Query().Get("register"))

	queue := make(chan events.Event, eventStreamBuffer)
	unsubscribe := a.service.Bus().SubscribeAll(func(event events.Event) {
		if registerID != "" && event.RegisterID != "" && event.RegisterID != registerID {
			return
		}
		select {
		case queue <- event:
		default:
			a.logger.Warn("event stream lagging, event dropped",
				zap.String("type", string(event.Type)),
				zap.String("register_id", event.RegisterID),
			)
		}
	})
	defer unsubscribe()

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		a.logger.Warn("event stream not flushable", zap.Error(err))
		return
	}

	ticker := time.NewTicker(a.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-a.streamsDone:
			return
		case event := <-queue:
			payload, err := json.Marshal(event)
			if err != nil {
				a.logger.Warn("event not encodable", zap.String("type", string(event.Type)), zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
