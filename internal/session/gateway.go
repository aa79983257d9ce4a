package session

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/domain"
	"go.uber.org/zap"
)

// MaxMessageChars is the hard protocol limit for one outbound text.
const MaxMessageChars = 4096

// MinRecipientDigits is the shortest accepted normalized number.
const MinRecipientDigits = 10

var (
	recipientStrip = regexp.MustCompile(`[\s().+\-]`)
	digitsOnly     = regexp.MustCompile(`^[0-9]+$`)
)

// NormalizeRecipient strips phone formatting and validates the result is a
// digit-only string of at least MinRecipientDigits.
func NormalizeRecipient(to string) (string, error) {
	n := recipientStrip.ReplaceAllString(strings.TrimSpace(to), "")
	if n == "" || !digitsOnly.MatchString(n) || len(n) < MinRecipientDigits {
		return "", ErrInvalidRecipient
	}
	return n, nil
}

// Gateway is the guarded outbound send path. Every precondition failure is a
// typed rejection; nothing is silently dropped.
type Gateway struct {
	store    *Store
	reg      *Registry
	maxChars int
}

func NewGateway(store *Store, reg *Registry) *Gateway {
	return &Gateway{store: store, reg: reg, maxChars: MaxMessageChars}
}

// SetMaxChars overrides the outbound length limit. Values below one keep the
// current limit.
func (g *Gateway) SetMaxChars(n int) {
	if n > 0 {
		g.maxChars = n
	}
}

// Send delivers one text message for the agent. Preconditions: the session
// is connected and active, the message fits the protocol limit, and the
// recipient normalizes cleanly. A transport failure during send surfaces as
// ErrConnectionLost so callers prompt a reconnect instead of retrying.
func (g *Gateway) Send(ctx context.Context, agentID int64, to string, text string) error {
	if utf8.RuneCountInString(text) > g.maxChars {
		return ErrMessageTooLong
	}
	recipient, err := NormalizeRecipient(to)
	if err != nil {
		return err
	}

	row, err := g.store.Get(agentID)
	if err != nil {
		return err
	}
	if row.Status != domain.SessionConnected || !row.IsActive {
		return ErrNotConnected
	}
	h := g.reg.Get(agentID)
	if h == nil || !h.Connected() {
		return ErrNotConnected
	}
	conn := h.Conn()
	if conn == nil {
		return ErrNotConnected
	}

	if err := conn.SendText(ctx, recipient, text); err != nil {
		h.mu.Lock()
		h.connected = false
		h.mu.Unlock()
		if serr := g.store.MarkError(agentID); serr != nil {
			zap.L().Error("gateway: mark error failed", zap.Int64("agent_id", agentID), zap.Error(serr))
		}
		g.store.LogMessage(agentID, recipient, utf8.RuneCountInString(text), "failed", err)
		zap.L().Warn("gateway: send failed", zap.Int64("agent_id", agentID), zap.Error(err))
		return errors.Wrap(ErrConnectionLost, err.Error())
	}

	h.touch()
	g.store.LogMessage(agentID, recipient, utf8.RuneCountInString(text), "sent", nil)
	zap.L().Info("gateway: message sent", zap.Int64("agent_id", agentID), zap.String("to", recipient))
	return nil
}
