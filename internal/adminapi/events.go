package adminapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
)

func registerEventsRoutes() {
	webserver.ApiGET("/whatsapp/sessions/:id/events", getSessionEvents)
}

// getSessionEvents streams the agent's lifecycle events as server-sent
// events. The first frame is always a status snapshot; periodic comment
// pings keep idle proxies from closing the connection.
func getSessionEvents(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}

	// A slow reader must not stall the broadcaster; frames beyond the
	// buffer are dropped and the next status event resynchronizes.
	frames := make(chan session.StreamEvent, 16)
	unsub, err := supervisor.Subscribe(id, func(ev session.StreamEvent) {
		select {
		case frames <- ev:
		default:
			zap.L().Warn("adminapi: event frame dropped", zap.Int64("agent_id", id))
		}
	})
	if errors.Is(err, session.ErrAgentNotFound) {
		return fail(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "SUBSCRIBE_FAILED", "Failed to subscribe", err.Error())
	}
	defer unsub()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	pingInterval := time.Duration(appCtx.GetSettingsInt64Value("whatsapp", "EventPingSeconds")) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ping.C:
			if _, err := fmt.Fprint(resp, ": ping\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		case ev := <-frames:
			data, err := jsoniter.Marshal(ev)
			if err != nil {
				zap.L().Error("adminapi: event marshal failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
