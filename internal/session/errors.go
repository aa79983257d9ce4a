package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAgentNotFound means no session row exists for the agent.
	ErrAgentNotFound = errors.New("agent session not found")
	// ErrInFlight means an initialize is already running for the agent;
	// callers should poll status rather than retry.
	ErrInFlight = errors.New("initialize already in flight")
	// ErrNotConnected rejects sends while the session is not connected.
	ErrNotConnected = errors.New("session not connected")
	// ErrInvalidRecipient rejects recipients that do not normalize to a
	// digit-only number of at least 10 digits.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrMessageTooLong rejects messages over the protocol limit.
	ErrMessageTooLong = errors.New("message too long")
	// ErrConnectionLost marks a transport failure during send, so callers
	// can prompt a reconnect instead of retrying blindly.
	ErrConnectionLost = errors.New("connection lost")
	// ErrConflict means another process holds a live socket for the agent.
	ErrConflict = errors.New("another session is active")
	// ErrInvalidStatus rejects session status writes outside the known set.
	ErrInvalidStatus = errors.New("invalid session status")
)

// CooldownError rejects an initialize that arrives too soon after the
// previous attempt ended. RetryAfter counts down against a fixed deadline,
// so concurrent callers observe the same decreasing basis.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("connect cooldown active, retry after %s", e.RetryAfter.Round(time.Second))
}
