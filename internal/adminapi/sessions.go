package adminapi

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
)

func registerSessionsRoutes() {
	webserver.ApiGET("/whatsapp/sessions", listSessions)
	webserver.ApiGET("/whatsapp/sessions/:id/status", getSessionStatus)
	webserver.ApiPOST("/whatsapp/sessions/:id/initialize", postSessionInitialize)
	webserver.ApiPOST("/whatsapp/sessions/:id/disconnect", postSessionDisconnect)
	webserver.ApiPOST("/whatsapp/sessions/:id/send", postSessionSend)
}

func listSessions(c echo.Context) error {
	page, pageSize := parsePagination(c)

	base := GetDB(c).Model(&domain.WaSession{})
	if status := strings.TrimSpace(c.QueryParam("status")); status != "" {
		base = base.Where("status = ?", status)
	}

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query sessions", err.Error())
	}
	var rows []domain.WaSession
	if err := base.Order("agent_id").Offset((page-1)*pageSize).Limit(pageSize).Find(&rows).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query sessions", err.Error())
	}
	return paged(c, rows, total, page, pageSize)
}

func getSessionStatus(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}
	info, err := supervisor.Status(id)
	if errors.Is(err, session.ErrAgentNotFound) {
		return fail(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DATABASE_ERROR", "Failed to query session", err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

// postSessionInitialize starts or resumes the agent's connection. The
// response mirrors the attempt outcome directly rather than the usual
// envelope so pollers can branch on success and status alone.
func postSessionInitialize(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}

	res, err := supervisor.Initialize(c.Request().Context(), id)
	switch {
	case err == nil:
		logOperation(c, "initialize_session", strconv.FormatInt(id, 10))
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, session.ErrInFlight):
		// advisory: an attempt is already running, current state attached
		return c.JSON(http.StatusAccepted, res)
	case errors.Is(err, session.ErrAgentNotFound):
		return fail(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found", nil)
	}
	var cd *session.CooldownError
	if errors.As(err, &cd) {
		retryAfter := int64(math.Ceil(cd.RetryAfter.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		c.Response().Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
			"success":    false,
			"status":     "cooldown",
			"retryAfter": retryAfter,
		})
	}
	zap.L().Error("adminapi: initialize failed", zap.Int64("agent_id", id), zap.Error(err))
	return fail(c, http.StatusBadGateway, "CONNECT_FAILED", "Connection attempt failed", err.Error())
}

func postSessionDisconnect(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}
	err = supervisor.Disconnect(c.Request().Context(), id)
	if errors.Is(err, session.ErrAgentNotFound) {
		return fail(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "DISCONNECT_FAILED", "Failed to disconnect session", err.Error())
	}
	logOperation(c, "disconnect_session", strconv.FormatInt(id, 10))
	return ok(c, map[string]interface{}{"disconnected": true})
}

func postSessionSend(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}
	var payload struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.To == "" || payload.Message == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to and message are required", nil)
	}

	err = gateway.Send(c.Request().Context(), id, payload.To, payload.Message)
	switch {
	case err == nil:
		return ok(c, map[string]interface{}{"sent": true})
	case errors.Is(err, session.ErrAgentNotFound):
		return fail(c, http.StatusNotFound, "AGENT_NOT_FOUND", "Agent not found", nil)
	case errors.Is(err, session.ErrNotConnected):
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "Session is not connected", nil)
	case errors.Is(err, session.ErrInvalidRecipient):
		return fail(c, http.StatusBadRequest, "INVALID_RECIPIENT", "Recipient number is not valid", nil)
	case errors.Is(err, session.ErrMessageTooLong):
		return fail(c, http.StatusBadRequest, "MESSAGE_TOO_LONG", "Message exceeds the maximum length", nil)
	case errors.Is(err, session.ErrConnectionLost):
		return fail(c, http.StatusBadGateway, "CONNECTION_LOST", "Connection lost during send", err.Error())
	}
	return fail(c, http.StatusInternalServerError, "SEND_FAILED", "Failed to send message", err.Error())
}
