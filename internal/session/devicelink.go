package session

import "context"

// LinkEventType identifies an event emitted by a device link connection.
type LinkEventType int

const (
	// LinkQR carries a pairing challenge code to present to the user.
	LinkQR LinkEventType = iota
	// LinkPairSuccess fires when a fresh QR scan binds the device; carries
	// the initial credentials blob.
	LinkPairSuccess
	// LinkConnected fires once the socket is live and authenticated.
	LinkConnected
	// LinkCredentials carries refreshed key material during a live session.
	LinkCredentials
	// LinkDisconnected fires when the transport drops unexpectedly.
	LinkDisconnected
	// LinkLoggedOut fires when the remote device explicitly unpairs.
	LinkLoggedOut
	// LinkConflict fires when the network rejects a duplicate socket for
	// the same account.
	LinkConflict
	// LinkError carries a non-terminal link failure.
	LinkError
)

// LinkEvent is a single lifecycle notification from a Conn.
type LinkEvent struct {
	Type        LinkEventType
	Code        string // QR challenge string
	PhoneNumber string
	Credentials []byte
	Err         error
}

// Conn is a live device link socket. Events delivers lifecycle notifications
// until Close; the channel is closed when the link is gone.
type Conn interface {
	Events() <-chan LinkEvent
	SendText(ctx context.Context, to string, text string) error
	Close() error
}

// DeviceLink opens sockets to the messaging network. Given persisted
// credentials it resumes the existing pairing; given none it starts a fresh
// pairing that emits QR challenges. Pairing crypto and the wire protocol are
// entirely the implementation's concern.
type DeviceLink interface {
	Dial(ctx context.Context, agentID int64, credentials []byte) (Conn, error)
}
