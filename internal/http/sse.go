package http

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/makr-code/VCC-Veritas-sub002/internal/stream"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
const heartbeatInterval = 30 * time.Second

// handleRunEvents streams the events of a run as Server-Sent Events.
//
// The handler subscribes to the run's NATS subject and forwards every event
// until the run ends (an error event, the final 100% progress tick, or the
// cancelled-run marker) or the client disconnects. Events published before the
// subscription are not replayed.
//
//	GET /api/v1/runs/{run_id}/events
//
//	event: phase_complete
//	data: {"type":"phase_complete","timestamp":"...","data":{"phase_id":"hypothesis",...}}
func (s *Server) handleRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	if runID == "" || strings.ContainsAny(runID, ".*> ") {
		return echo.NewHTTPError(400, "invalid run id")
	}
	ctx := c.Request().Context()

	msgChan := make(chan *nats.Msg, 64)
	sub, err := s.events.Subscribe(runID, msgChan)
	if err != nil {
		s.logger.Error(ctx, "event subscription failed", zap.String("run_id", runID), zap.Error(err))
		return echo.NewHTTPError(503, "event bus unavailable")
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, contentTypeSSE)
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(200)
	resp.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			var ev stream.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				s.logger.Warn(ctx, "dropping malformed run event", zap.String("subject", msg.Subject), zap.Error(err))
				continue
			}
			fmt.Fprintf(resp, "event: %s\n", ev.Kind)
			fmt.Fprintf(resp, "data: %s\n\n", msg.Data)
			resp.Flush()

			if stream.Terminal(ev) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(resp, ": heartbeat\n\n")
			resp.Flush()

		case <-ctx.Done():
			return nil
		}
	}
}
