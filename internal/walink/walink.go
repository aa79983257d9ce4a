// Package walink implements the session.DeviceLink contract on top of
// whatsmeow. Credentials persisted by the session store are the device JID;
// the pairing key material itself lives in whatsmeow's sqlstore tables,
// which share the application database connection.
package walink

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/session"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Link dials whatsmeow clients backed by a shared sqlstore container.
type Link struct {
	container *sqlstore.Container
}

var _ session.DeviceLink = (*Link)(nil)

// New wraps an existing database connection so whatsmeow keeps its device
// tables in the same database, then runs the sqlstore migrations.
func New(db *sql.DB, driver string) (*Link, error) {
	container := sqlstore.NewWithDB(db, driver, nil)
	if err := container.Upgrade(); err != nil {
		return nil, errors.Wrap(err, "sqlstore upgrade")
	}
	return &Link{container: container}, nil
}

// Dial opens a socket for the agent. With credentials (a stored device JID)
// it resumes the existing pairing; without, it provisions a fresh device and
// the QR channel starts emitting challenges.
func (l *Link) Dial(ctx context.Context, agentID int64, credentials []byte) (session.Conn, error) {
	var device *store.Device
	if len(credentials) > 0 {
		jid, err := types.ParseJID(string(credentials))
		if err != nil {
			zap.L().Warn("walink: stored credentials unparsable, repairing",
				zap.Int64("agent_id", agentID), zap.Error(err))
		} else {
			device, err = l.container.GetDevice(jid)
			if err != nil {
				zap.L().Warn("walink: stored device lookup failed",
					zap.Int64("agent_id", agentID), zap.Error(err))
			}
		}
	}
	if device == nil {
		device = l.container.NewDevice()
	}

	cli := whatsmeow.NewClient(device, nil)
	c := &conn{
		cli:    cli,
		events: make(chan session.LinkEvent, 32),
	}
	cli.AddEventHandler(c.handleEvent)

	if device.ID == nil {
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "qr channel")
		}
		go c.forwardQR(qrChan)
	}

	if err := cli.Connect(); err != nil {
		return nil, errors.Wrap(err, "whatsmeow connect")
	}
	return c, nil
}

type conn struct {
	cli       *whatsmeow.Client
	events    chan session.LinkEvent
	closeOnce sync.Once
}

func (c *conn) Events() <-chan session.LinkEvent {
	return c.events
}

func (c *conn) SendText(ctx context.Context, to string, text string) error {
	jid := types.NewJID(to, types.DefaultUserServer)
	msg := &waE2E.Message{Conversation: proto.String(text)}
	_, err := c.cli.SendMessage(ctx, jid, msg)
	return err
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.cli.Disconnect()
		close(c.events)
	})
	return nil
}

// emit never blocks the whatsmeow handler goroutine; if the consumer loop
// has fallen this far behind the event is dropped.
func (c *conn) emit(ev session.LinkEvent) {
	defer func() {
		// channel may already be closed by a concurrent Close
		_ = recover()
	}()
	select {
	case c.events <- ev:
	default:
		zap.L().Warn("walink: event dropped", zap.Int("type", int(ev.Type)))
	}
}

func (c *conn) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.emit(session.LinkEvent{Type: session.LinkQR, Code: item.Code})
		case "success":
			// pairing completed; events.Connected follows with the JID
		case "timeout":
			c.emit(session.LinkEvent{
				Type: session.LinkError,
				Err:  errors.New("qr channel timeout"),
			})
		}
	}
}

func (c *conn) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		c.emit(session.LinkEvent{
			Type:        session.LinkPairSuccess,
			Credentials: []byte(e.ID.String()),
		})
	case *events.Connected:
		var phone string
		var creds []byte
		if id := c.cli.Store.ID; id != nil {
			phone = id.User
			creds = []byte(id.String())
		}
		c.emit(session.LinkEvent{
			Type:        session.LinkConnected,
			PhoneNumber: phone,
			Credentials: creds,
		})
	case *events.StreamReplaced:
		// another socket took over this account
		c.emit(session.LinkEvent{Type: session.LinkConflict})
	case *events.LoggedOut:
		c.emit(session.LinkEvent{Type: session.LinkLoggedOut})
	case *events.Disconnected:
		c.emit(session.LinkEvent{Type: session.LinkDisconnected})
	case *events.KeepAliveTimeout:
		zap.L().Debug("walink: keepalive timeout", zap.Int("error_count", e.ErrorCount))
	}
}
