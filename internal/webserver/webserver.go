// Package webserver hosts the embedded echo instance. Route registration
// goes through the Api helpers so every handler lands under /api behind the
// same JWT guard.
package webserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/talkincode/wagate/config"
	"go.uber.org/zap"
)

type WebServer struct {
	cfg          *config.AppConfig
	root         *echo.Echo
	api          *echo.Group
	authenticate authenticateFunc
}

var server *WebServer

// Init builds the global server instance. Must run before any route
// registration.
func Init(cfg *config.AppConfig) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			zap.L().Error("http handler panic", zap.Error(err), zap.ByteString("stack", stack))
			return err
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			zap.L().Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	api := e.Group("/api")
	if cfg.Web.Secret != "" {
		api.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey: []byte(cfg.Web.Secret),
			Skipper: func(c echo.Context) bool {
				// token issuance itself cannot require a token
				return c.Path() == "/api/token"
			},
		}))
	}

	server = &WebServer{cfg: cfg, root: e, api: api}
	server.initTokenRoute()
	return server
}

// Instance returns the global server, nil before Init.
func Instance() *WebServer {
	return server
}

// Echo exposes the underlying engine for tests.
func (s *WebServer) Echo() *echo.Echo {
	return s.root
}

// Start serves until the listener fails.
func (s *WebServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	zap.L().Info("starting web server", zap.String("listen", addr))
	return s.root.Start(addr)
}

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

// initTokenRoute registers the token issuance endpoint. Credential checking
// is delegated through SetAuthenticator by the adminapi package.
func (s *WebServer) initTokenRoute() {
	s.api.POST("/token", func(c echo.Context) error {
		var payload struct {
			Username string `json:"username" form:"username"`
			Password string `json:"password" form:"password"`
		}
		if err := c.Bind(&payload); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"code": 1, "msg": "unable to parse request",
			})
		}
		if s.authenticate == nil || !s.authenticate(payload.Username, payload.Password) {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"code": 1, "msg": "invalid username or password",
			})
		}

		claims := jwt.MapClaims{
			"usr": payload.Username,
			"exp": time.Now().Add(24 * time.Hour).Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(s.cfg.Web.Secret))
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"code": 1, "msg": "token signing failed",
			})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"code": 0, "access_token": signed, "token_type": "Bearer",
		})
	})
}

type authenticateFunc func(username, password string) bool

// SetAuthenticator installs the credential check used by /api/token.
func SetAuthenticator(f authenticateFunc) {
	server.authenticate = f
}
