package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wagate/internal/domain"
)

// bindFakeSession wires a connected handle and matching store row without
// running a full initialize.
func bindFakeSession(t *testing.T, store *Store, reg *Registry, agentID int64) *fakeConn {
	t.Helper()
	require.NoError(t, store.MarkConnected(agentID, "628123456789", []byte("jid:test")))
	conn := newFakeConn()
	h := reg.GetOrCreate(agentID)
	h.mu.Lock()
	h.connected = true
	h.conn = conn
	h.mu.Unlock()
	return conn
}

func TestNormalizeRecipient(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "15551234567"},
		{"628123456789", "628123456789"},
		{" 62 812 345 6789 ", "628123456789"},
	}
	for _, tc := range cases {
		got, err := NormalizeRecipient(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}

	for _, bad := range []string{"", "abc", "555-CALL-NOW", "12345", "+++"} {
		_, err := NormalizeRecipient(bad)
		assert.ErrorIs(t, err, ErrInvalidRecipient, "input %q", bad)
	}
}

func TestSend_Delivers(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry()
	agentID := seedAgent(t, store)
	conn := bindFakeSession(t, store, reg, agentID)

	gw := NewGateway(store, reg)
	err := gw.Send(context.Background(), agentID, "+62 812-345-6789", "hello there")
	require.NoError(t, err)

	sent := conn.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "628123456789", sent[0].To)
	assert.Equal(t, "hello there", sent[0].Text)

	var logs []domain.WaMessageLog
	require.NoError(t, store.db.Where("agent_id = ?", agentID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "sent", logs[0].Result)
}

func TestSend_NotConnected(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry()
	agentID := seedAgent(t, store)

	gw := NewGateway(store, reg)
	err := gw.Send(context.Background(), agentID, "628123456789", "hello")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSend_UnknownAgent(t *testing.T) {
	gw := NewGateway(newTestStore(t), NewRegistry())
	err := gw.Send(context.Background(), 987654, "628123456789", "hello")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestSend_InvalidRecipient(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry()
	agentID := seedAgent(t, store)
	conn := bindFakeSession(t, store, reg, agentID)

	gw := NewGateway(store, reg)
	err := gw.Send(context.Background(), agentID, "not-a-number", "hello")
	assert.ErrorIs(t, err, ErrInvalidRecipient)
	assert.Empty(t, conn.sentMessages())
}

func TestSend_TooLongRejectedBeforeTransport(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry()
	agentID := seedAgent(t, store)
	conn := bindFakeSession(t, store, reg, agentID)

	gw := NewGateway(store, reg)
	err := gw.Send(context.Background(), agentID, "628123456789", strings.Repeat("x", MaxMessageChars+1))
	assert.ErrorIs(t, err, ErrMessageTooLong)
	assert.Empty(t, conn.sentMessages(), "oversized message must never reach the socket")

	// limit counts characters, not bytes
	err = gw.Send(context.Background(), agentID, "628123456789", strings.Repeat("ñ", MaxMessageChars))
	require.NoError(t, err)
}

func TestSend_ConfiguredLengthLimit(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry()
	agentID := seedAgent(t, store)
	conn := bindFakeSession(t, store, reg, agentID)

	gw := NewGateway(store, reg)
	gw.SetMaxChars(5)
	err := gw.Send(context.Background(), agentID, "628123456789", "123456")
	assert.ErrorIs(t, err, ErrMessageTooLong)
	assert.Empty(t, conn.sentMessages())

	gw.SetMaxChars(0) // ignored, limit stays at 5
	err = gw.Send(context.Background(), agentID, "628123456789", "12345")
	require.NoError(t, err)
}

func TestSend_TransportFailureMarksError(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry()
	agentID := seedAgent(t, store)
	conn := bindFakeSession(t, store, reg, agentID)
	conn.mu.Lock()
	conn.sendErr = errors.New("socket reset")
	conn.mu.Unlock()

	gw := NewGateway(store, reg)
	err := gw.Send(context.Background(), agentID, "628123456789", "hello")
	assert.ErrorIs(t, err, ErrConnectionLost)

	row, gerr := store.Get(agentID)
	require.NoError(t, gerr)
	assert.Equal(t, domain.SessionError, row.Status)
	assert.True(t, row.IsActive, "failed send leaves the session retryable")

	h := reg.Get(agentID)
	assert.False(t, h.Connected())

	var logs []domain.WaMessageLog
	require.NoError(t, store.db.Where("agent_id = ?", agentID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "failed", logs[0].Result)
}
