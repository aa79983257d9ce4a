// Package adminapi is the management surface: agent CRUD, the session
// lifecycle operations, the SSE status stream and the message gateway.
package adminapi

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ctxKeyDB = "adminapi.db"

var (
	appCtx     app.AppContext
	supervisor *session.Supervisor
	gateway    *session.Gateway
	store      *session.Store
)

// Setup wires the handlers to their collaborators and registers all routes.
// webserver.Init must have run first.
func Setup(a app.AppContext, sup *session.Supervisor, gw *session.Gateway, st *session.Store) {
	appCtx = a
	supervisor = sup
	gateway = gw
	store = st

	webserver.SetAuthenticator(checkOperator)

	registerAgentsRoutes()
	registerSessionsRoutes()
	registerEventsRoutes()
}

// checkOperator validates /api/token credentials against sys_opr.
func checkOperator(username, password string) bool {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false
	}
	var opr domain.SysOpr
	err := appCtx.DB().
		Where("username = ? and status = ?", username, common.ENABLED).
		First(&opr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if err != nil {
		zap.L().Error("adminapi: operator lookup failed", zap.Error(err))
		return false
	}
	return opr.Password == common.Sha256HashWithSalt(password, common.GetSecretSalt())
}

// logOperation records a mutating admin action in the audit trail.
func logOperation(c echo.Context, action, desc string) {
	row := domain.SysOprLog{
		ID:        common.UUIDint64(),
		OprName:   operatorName(c),
		OprIp:     c.RealIP(),
		OptAction: action,
		OptDesc:   desc,
		OptTime:   time.Now(),
	}
	if err := appCtx.DB().Create(&row).Error; err != nil {
		zap.L().Warn("adminapi: audit write failed", zap.String("action", action), zap.Error(err))
	}
}

// operatorName extracts the username from the request's JWT, empty when the
// API runs without auth.
func operatorName(c echo.Context) string {
	token, okk := c.Get("user").(*jwt.Token)
	if !okk {
		return ""
	}
	claims, okk := token.Claims.(jwt.MapClaims)
	if !okk {
		return ""
	}
	name, _ := claims["usr"].(string)
	return name
}
