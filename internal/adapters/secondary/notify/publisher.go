package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/lorrc/taskboard-realtime/internal/core/domain"
	"github.com/lorrc/taskboard-realtime/internal/core/ports"
)

const publishPath = "/api/v1/events"

// Publisher is the fire-and-forget notifier the data-mutation path calls
// after a change is durably applied. Delivery is best-effort, at-most-once:
// every transport failure is swallowed, because correctness of the underlying
// data never depends on this channel.
type Publisher struct {
	baseURL string
	secret  string
	client  *http.Client
	logger  *slog.Logger
}

// Ensure Publisher implements the ChangeNotifier interface.
var _ ports.ChangeNotifier = (*Publisher)(nil)

// NewPublisher creates a publisher targeting the broker at baseURL. An empty
// secret disables the publisher entirely. The timeout bounds each publish
// call; expired calls are abandoned, never retried.
func NewPublisher(baseURL, secret string, timeout time.Duration, logger *slog.Logger) *Publisher {
	return &Publisher{
		baseURL: baseURL,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "event_publisher"),
	}
}

// Enabled reports whether a publish secret is configured.
func (p *Publisher) Enabled() bool {
	return p.secret != ""
}

// TaskChanged notifies the broker that a task changed. Pass an empty room to
// target the global room. The calling mutation never fails or blocks past the
// configured timeout because of this call.
func (p *Publisher) TaskChanged(ctx context.Context, action string, taskID int64, updatedAt time.Time, room string) {
	if !p.Enabled() {
		return
	}

	event := domain.NewTaskChanged(action, taskID, updatedAt)
	event.Room = room

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("failed to marshal event", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+publishPath, bytes.NewReader(body))
	if err != nil {
		p.logger.Warn("failed to build publish request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Realtime-Secret", p.secret)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("publish failed, event dropped",
			"action", action,
			"task_id", taskID,
			"error", err,
		)
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("publish refused, event dropped",
			"action", action,
			"task_id", taskID,
			"status", resp.StatusCode,
		)
	}
}
