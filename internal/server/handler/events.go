package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/poefixer/internal/domain"
)

// eventChannels maps the ?channel= values to bus channels.
var eventChannels = map[string]string{
	"":          domain.ChannelSummaries,
	"summaries": domain.ChannelSummaries,
	"passes":    domain.ChannelPasses,
	"all":       "poefixer:*",
}

// EventsHandler relays event bus messages to HTTP clients as server-sent
// events.
type EventsHandler struct {
	bus    domain.EventBus
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler. Without a bus every request is
// answered with 503.
func NewEventsHandler(bus domain.EventBus, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		bus:    bus,
		logger: logger.With(slog.String("handler", "events")),
	}
}

// Stream handles GET /api/events?channel=summaries|passes|all and writes one
// "data:" frame per published payload until the client goes away.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream requires redis")
		return
	}
	channel, ok := eventChannels[r.URL.Query().Get("channel")]
	if !ok {
		writeError(w, http.StatusBadRequest, "channel must be summaries, passes or all")
		return
	}

	ctx := r.Context()
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		internalError(w, r, h.logger, err)
		return
	}

	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(ctx, "event stream not flushable", slog.String("error", err.Error()))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
