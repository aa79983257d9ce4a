package session

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/common"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dbfile := filepath.Join(t.TempDir(), "session_test.db")
	db, err := gorm.Open(sqlite.Open(dbfile), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: true},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.WaAgent{}, &domain.WaSession{}, &domain.WaMessageLog{}))
	return db
}

func newTestStore(t *testing.T) *Store {
	return NewStore(newTestDB(t))
}

// seedAgent creates the agent row plus its session row and returns the agent id.
func seedAgent(t *testing.T, store *Store) int64 {
	t.Helper()
	agentID := common.UUIDint64()
	require.NoError(t, store.db.Create(&domain.WaAgent{
		ID:     agentID,
		Name:   "test-agent",
		Status: common.ENABLED,
	}).Error)
	require.NoError(t, store.Create(nil, agentID))
	return agentID
}

type sentMessage struct {
	To   string
	Text string
}

// fakeConn is a scriptable device connection. Tests push link events through
// the events channel to drive the supervisor's run loop.
type fakeConn struct {
	mu      sync.Mutex
	events  chan LinkEvent
	sendErr error
	sent    []sentMessage
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan LinkEvent, 16)}
}

func (c *fakeConn) Events() <-chan LinkEvent { return c.events }

func (c *fakeConn) SendText(_ context.Context, to, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentMessage{To: to, Text: text})
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

func (c *fakeConn) push(ev LinkEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.events <- ev
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) sentMessages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// fakeLink hands out fakeConns and records the credentials each dial saw.
type fakeLink struct {
	mu        sync.Mutex
	dialErr   error
	conns     []*fakeConn
	dialCreds [][]byte
	// script runs against each new conn right after dial, before the
	// supervisor starts consuming its events.
	script func(conn *fakeConn)
}

func (l *fakeLink) Dial(_ context.Context, _ int64, credentials []byte) (Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dialErr != nil {
		return nil, l.dialErr
	}
	conn := newFakeConn()
	l.conns = append(l.conns, conn)
	creds := make([]byte, len(credentials))
	copy(creds, credentials)
	l.dialCreds = append(l.dialCreds, creds)
	if l.script != nil {
		l.script(conn)
	}
	return conn, nil
}

func (l *fakeLink) lastConn() *fakeConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.conns) == 0 {
		return nil
	}
	return l.conns[len(l.conns)-1]
}

func (l *fakeLink) dialCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func testConfig() Config {
	return Config{
		Cooldown:    200 * time.Millisecond,
		QRTimeout:   300 * time.Millisecond,
		ConnectWait: 2 * time.Second,
	}
}

type testRig struct {
	store *Store
	reg   *Registry
	link  *fakeLink
	bus   *Broadcaster
	sup   *Supervisor
}

func newTestRig(t *testing.T, cfg Config, link *fakeLink) *testRig {
	t.Helper()
	store := newTestStore(t)
	reg := NewRegistry()
	bus := NewBroadcaster()
	sup := NewSupervisor(store, reg, link, bus, LocalOwner(), cfg)
	return &testRig{store: store, reg: reg, link: link, bus: bus, sup: sup}
}

func waitStatus(t *testing.T, store *Store, agentID int64, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		row, err := store.Get(agentID)
		return err == nil && row.Status == want
	}, 3*time.Second, 10*time.Millisecond, "session never reached status %q", want)
}
