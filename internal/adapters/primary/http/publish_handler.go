package http

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
	apperrors "github.com/lorrc/taskboard-realtime/internal/core/errors"
	"github.com/lorrc/taskboard-realtime/internal/metrics"
)

// PublishSecretHeader carries the pre-shared secret on publish requests.
const PublishSecretHeader = "X-Realtime-Secret"

// EventSink is the slice of the hub the publish endpoint needs.
type EventSink interface {
	Publish(event domain.Event) int
	ClientCount() int
}

// EventsHandler accepts publish requests from the trusted internal caller
// (the Event Publisher) and fans them out through the hub.
type EventsHandler struct {
	sink   EventSink
	secret string
	logger *slog.Logger
}

// NewEventsHandler creates the publish endpoint handler. An empty secret
// disables publishing entirely: every request is refused.
func NewEventsHandler(sink EventSink, secret string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		sink:   sink,
		secret: secret,
		logger: logger,
	}
}

// publishRequest is the wire shape of a publish call.
type publishRequest struct {
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	TaskID    int64     `json:"taskId"`
	UpdatedAt time.Time `json:"updatedAt"`
	Room      string    `json:"room,omitempty"`
}

// publishResponse reports the fan-out result.
type publishResponse struct {
	OK         bool `json:"ok"`
	Recipients int  `json:"recipients"`
}

// HandlePublish handles POST /api/v1/events.
func (h *EventsHandler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if !h.authorized(r) {
		h.logger.Warn("publish rejected: secret missing or mismatched",
			"request_id", requestID,
			"remote_addr", r.RemoteAddr,
		)
		metrics.PublishRejected.WithLabelValues("unauthorized").Inc()
		WriteError(w, apperrors.NewUnauthorizedError("Invalid publish secret"))
		return
	}

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("publish rejected: unparseable body",
			"request_id", requestID,
			"error", err,
		)
		metrics.PublishRejected.WithLabelValues("bad_request").Inc()
		WriteError(w, apperrors.NewBadRequestError(apperrors.ErrBadRequest, "Unparseable event body"))
		return
	}

	event := domain.Event{
		Type:      req.Type,
		Action:    req.Action,
		TaskID:    req.TaskID,
		UpdatedAt: req.UpdatedAt,
		Room:      req.Room,
	}
	// Room defaulting happens inside the hub via TargetRoom; the envelope is
	// otherwise relayed verbatim.

	recipients := h.sink.Publish(event)
	metrics.EventsPublished.WithLabelValues(event.Action).Inc()

	h.logger.Info("event published",
		"request_id", requestID,
		"action", event.Action,
		"task_id", event.TaskID,
		"room", event.TargetRoom(),
		"recipients", recipients,
	)

	WriteJSON(w, http.StatusOK, publishResponse{OK: true, Recipients: recipients})
}

// authorized checks the pre-shared secret in constant time. An unconfigured
// secret means the publish channel is disabled, never open.
func (h *EventsHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return false
	}
	presented := r.Header.Get(PublishSecretHeader)
	if presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.secret)) == 1
}
