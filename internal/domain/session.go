package domain

import "time"

// Session status values. The storage layer rejects writes outside this set.
const (
	SessionDisconnected = "disconnected"
	SessionConnecting   = "connecting"
	SessionQrPending    = "qr_pending"
	SessionConnected    = "connected"
	SessionConflict     = "conflict"
	SessionError        = "error"
)

// SessionStatuses lists every status the wa_session.status column accepts.
var SessionStatuses = []string{
	SessionDisconnected,
	SessionConnecting,
	SessionQrPending,
	SessionConnected,
	SessionConflict,
	SessionError,
}

// WaSession is the durable session row, one per agent. It is the source of
// truth for pairing state across process restarts: credentials survive
// disconnects, and the owner_*/last_heartbeat fields form the soft ownership
// lease between server instances.
type WaSession struct {
	ID              int64      `json:"id,string" gorm:"primaryKey"`
	AgentID         int64      `json:"agent_id,string" gorm:"uniqueIndex"`
	Status          string     `json:"status" gorm:"index;default:disconnected"`
	PhoneNumber     string     `json:"phone_number"`
	Credentials     []byte     `json:"-"` // opaque pairing secret, never serialized
	QrCode          string     `json:"qr_code"`
	QrIssuedAt      *time.Time `json:"qr_issued_at"`
	OwnerInstanceID string     `json:"owner_instance_id" gorm:"index"`
	OwnerHost       string     `json:"owner_host"`
	OwnerPid        int        `json:"owner_pid"`
	OwnerStartedAt  *time.Time `json:"owner_started_at"`
	LastHeartbeat   *time.Time `json:"last_heartbeat"`
	IsActive        bool       `json:"is_active" gorm:"index"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (WaSession) TableName() string {
	return "wa_session"
}
