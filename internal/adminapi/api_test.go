package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/talkincode/wagate/config"
	"github.com/talkincode/wagate/internal/app"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/internal/session"
	"github.com/talkincode/wagate/internal/webserver"
	"github.com/talkincode/wagate/pkg/common"
)

var setupOnce sync.Once

type apiRig struct {
	db  *gorm.DB
	sup *session.Supervisor
	st  *session.Store
}

// pendingLink hands out connections that never emit, so an initialize parks
// in connecting until the test pushes events.
type pendingLink struct {
	mu    sync.Mutex
	conns []chan session.LinkEvent
}

type pendingConn struct {
	events chan session.LinkEvent
	once   sync.Once
}

func (c *pendingConn) Events() <-chan session.LinkEvent { return c.events }

func (c *pendingConn) SendText(context.Context, string, string) error { return nil }

func (c *pendingConn) Close() error {
	c.once.Do(func() { close(c.events) })
	return nil
}

func (l *pendingLink) Dial(context.Context, int64, []byte) (session.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch := make(chan session.LinkEvent, 8)
	l.conns = append(l.conns, ch)
	return &pendingConn{events: ch}, nil
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	dbfile := filepath.Join(t.TempDir(), "api_test.db")
	db, err := gorm.Open(sqlite.Open(dbfile), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))

	st := session.NewStore(db)
	reg := session.NewRegistry()
	bus := session.NewBroadcaster()
	sup := session.NewSupervisor(st, reg, &pendingLink{}, bus, session.LocalOwner(), session.Config{
		Cooldown:    time.Second,
		QRTimeout:   time.Second,
		ConnectWait: 200 * time.Millisecond,
	})
	gw := session.NewGateway(st, reg)

	application := app.NewApplication(config.DefaultAppConfig)
	application.OverrideDB(db)

	setupOnce.Do(func() {
		cfg := *config.DefaultAppConfig
		cfg.Web.Secret = "" // no JWT in tests
		webserver.Init(&cfg)
		Setup(application, sup, gw, st)
	})
	// later rigs re-point the package collaborators at their own fixtures
	appCtx = application
	supervisor = sup
	gateway = gw
	store = st

	return &apiRig{db: db, sup: sup, st: st}
}

func (r *apiRig) seedAgent(t *testing.T) int64 {
	t.Helper()
	agentID := common.UUIDint64()
	require.NoError(t, r.db.Create(&domain.WaAgent{ID: agentID, Name: "api-agent", Status: common.ENABLED}).Error)
	require.NoError(t, r.st.Create(nil, agentID))
	return agentID
}

func doJSON(method, target, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	webserver.Instance().Echo().ServeHTTP(rec, req)
	return rec
}

func TestAPI_StatusUnknownAgent(t *testing.T) {
	newAPIRig(t)
	rec := doJSON(http.MethodGet, "/api/whatsapp/sessions/999999/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_StatusShape(t *testing.T) {
	rig := newAPIRig(t)
	agentID := rig.seedAgent(t)

	rec := doJSON(http.MethodGet, "/api/whatsapp/sessions/"+formatID(agentID)+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["connected"])
	assert.Equal(t, domain.SessionDisconnected, body["status"])
	assert.Equal(t, false, body["is_active"])
}

func TestAPI_InitializeInFlightReturns202(t *testing.T) {
	rig := newAPIRig(t)
	agentID := rig.seedAgent(t)

	// first call parks in connecting for ConnectWait, then answers 200
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doJSON(http.MethodPost, "/api/whatsapp/sessions/"+formatID(agentID)+"/initialize", "")
	}()

	require.Eventually(t, func() bool {
		h := rig.sup.Registry().Get(agentID)
		return h != nil
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	rec := doJSON(http.MethodPost, "/api/whatsapp/sessions/"+formatID(agentID)+"/initialize", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]interface{}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, domain.SessionConnecting, body["status"])

	first := <-done
	assert.Equal(t, http.StatusOK, first.Code)
}

func TestAPI_SendRejections(t *testing.T) {
	rig := newAPIRig(t)
	agentID := rig.seedAgent(t)
	base := "/api/whatsapp/sessions/" + formatID(agentID) + "/send"

	rec := doJSON(http.MethodPost, base, `{"to":"628123456789","message":"hi"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "disconnected session rejects sends")

	rec = doJSON(http.MethodPost, base, `{"to":"628123456789"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(http.MethodPost, "/api/whatsapp/sessions/31337/send", `{"to":"628123456789","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_AgentCRUDCreatesSessionRow(t *testing.T) {
	rig := newAPIRig(t)

	rec := doJSON(http.MethodPost, "/api/whatsapp/agents", `{"name":"crud-agent","remark":"r1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created struct {
		Data domain.WaAgent `json:"data"`
	}
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &created))
	require.NotZero(t, created.Data.ID)

	// the session row rides along in the same transaction
	row, err := rig.st.Get(created.Data.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionDisconnected, row.Status)

	rec = doJSON(http.MethodPost, "/api/whatsapp/agents", `{"name":"crud-agent"}`)
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate name rejected")

	rec = doJSON(http.MethodDelete, "/api/whatsapp/agents/"+formatID(created.Data.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	_, err = rig.st.Get(created.Data.ID)
	assert.ErrorIs(t, err, session.ErrAgentNotFound)
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
