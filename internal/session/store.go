package session

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/common"
	"gorm.io/gorm"
)

// Owner identifies the process holding an agent's live socket. Together with
// last_heartbeat it forms the soft ownership lease between instances.
type Owner struct {
	InstanceID string
	Host       string
	Pid        int
	StartedAt  time.Time
}

// LocalOwner builds the identity of this process.
func LocalOwner() Owner {
	host, _ := os.Hostname()
	return Owner{
		InstanceID: common.UUIDstr(),
		Host:       host,
		Pid:        os.Getpid(),
		StartedAt:  time.Now(),
	}
}

var validStatus = func() map[string]bool {
	m := make(map[string]bool, len(domain.SessionStatuses))
	for _, s := range domain.SessionStatuses {
		m[s] = true
	}
	return m
}()

// Store is the storage boundary for session rows. All status writes funnel
// through it and are validated against the six-state set.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get loads the session row for an agent.
func (s *Store) Get(agentID int64) (*domain.WaSession, error) {
	var row domain.WaSession
	err := s.db.Where("agent_id = ?", agentID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	return &row, nil
}

// Create inserts the initial disconnected row for a new agent.
func (s *Store) Create(tx *gorm.DB, agentID int64) error {
	if tx == nil {
		tx = s.db
	}
	row := domain.WaSession{
		ID:      common.UUIDint64(),
		AgentID: agentID,
		Status:  domain.SessionDisconnected,
	}
	return errors.Wrap(tx.Create(&row).Error, "create session")
}

// update applies column updates for an agent row, validating any status write.
func (s *Store) update(agentID int64, updates map[string]interface{}) error {
	if st, ok := updates["status"]; ok {
		if sv, _ := st.(string); !validStatus[sv] {
			return errors.Wrapf(ErrInvalidStatus, "%v", st)
		}
	}
	res := s.db.Model(&domain.WaSession{}).Where("agent_id = ?", agentID).Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update session")
	}
	if res.RowsAffected == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// UpdateStatus sets the status column alone, enforcing the allowed set.
func (s *Store) UpdateStatus(agentID int64, status string) error {
	return s.update(agentID, map[string]interface{}{"status": status})
}

// BeginAttempt claims ownership for a connect attempt: status moves to
// connecting, the owner lease is stamped, and any stale QR is cleared.
// Returns the persisted credentials blob for resume.
func (s *Store) BeginAttempt(agentID int64, owner Owner) ([]byte, error) {
	row, err := s.Get(agentID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	err = s.update(agentID, map[string]interface{}{
		"status":            domain.SessionConnecting,
		"qr_code":           "",
		"qr_issued_at":      nil,
		"owner_instance_id": owner.InstanceID,
		"owner_host":        owner.Host,
		"owner_pid":         owner.Pid,
		"owner_started_at":  owner.StartedAt,
		"last_heartbeat":    now,
	})
	if err != nil {
		return nil, err
	}
	return row.Credentials, nil
}

// SetQR stores a fresh QR challenge and moves the row to qr_pending.
func (s *Store) SetQR(agentID int64, code string) error {
	now := time.Now()
	return s.update(agentID, map[string]interface{}{
		"status":       domain.SessionQrPending,
		"qr_code":      code,
		"qr_issued_at": now,
		"is_active":    false,
	})
}

// MarkConnected binds the session: phone number set, credentials persisted,
// QR cleared, is_active raised.
func (s *Store) MarkConnected(agentID int64, phoneNumber string, credentials []byte) error {
	updates := map[string]interface{}{
		"status":         domain.SessionConnected,
		"qr_code":        "",
		"qr_issued_at":   nil,
		"is_active":      true,
		"last_heartbeat": time.Now(),
	}
	if phoneNumber != "" {
		updates["phone_number"] = phoneNumber
	}
	if len(credentials) > 0 {
		updates["credentials"] = credentials
	}
	return s.update(agentID, updates)
}

// SaveCredentials persists refreshed key material. Safe to call repeatedly.
func (s *Store) SaveCredentials(agentID int64, credentials []byte) error {
	if len(credentials) == 0 {
		return nil
	}
	return s.update(agentID, map[string]interface{}{"credentials": credentials})
}

// PurgeCredentials discards the pairing secret after a remote logout.
func (s *Store) PurgeCredentials(agentID int64) error {
	return s.update(agentID, map[string]interface{}{"credentials": []byte(nil)})
}

// MarkDisconnected tears the row down to disconnected. Credentials are kept
// so a later Initialize can resume without a new QR.
func (s *Store) MarkDisconnected(agentID int64) error {
	return s.update(agentID, map[string]interface{}{
		"status":            domain.SessionDisconnected,
		"qr_code":           "",
		"qr_issued_at":      nil,
		"is_active":         false,
		"owner_instance_id": "",
		"owner_host":        "",
		"owner_pid":         0,
	})
}

// MarkError records a transport failure. is_active stays up so the monitor
// keeps trying to reconnect the session.
func (s *Store) MarkError(agentID int64) error {
	return s.update(agentID, map[string]interface{}{
		"status":       domain.SessionError,
		"qr_code":      "",
		"qr_issued_at": nil,
	})
}

// MarkConflict records a duplicate-ownership collision. is_active drops so
// the monitor stops fighting over the agent until a user intervenes.
func (s *Store) MarkConflict(agentID int64) error {
	return s.update(agentID, map[string]interface{}{
		"status":       domain.SessionConflict,
		"qr_code":      "",
		"qr_issued_at": nil,
		"is_active":    false,
	})
}

// Touch refreshes the heartbeat for one agent row.
func (s *Store) Touch(agentID int64) error {
	return s.update(agentID, map[string]interface{}{"last_heartbeat": time.Now()})
}

// TouchOwned refreshes heartbeats for every connected row this instance owns.
func (s *Store) TouchOwned(instanceID string) error {
	err := s.db.Model(&domain.WaSession{}).
		Where("owner_instance_id = ? and status = ?", instanceID, domain.SessionConnected).
		Update("last_heartbeat", time.Now()).Error
	return errors.Wrap(err, "touch owned sessions")
}

// Active returns every row that should be connected somewhere.
func (s *Store) Active() ([]domain.WaSession, error) {
	var rows []domain.WaSession
	err := s.db.Where("is_active = ?", true).Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list active sessions")
	}
	return rows, nil
}

// LogMessage records an outbound send attempt.
func (s *Store) LogMessage(agentID int64, recipient string, length int, result string, sendErr error) {
	row := domain.WaMessageLog{
		ID:        common.UUIDint64(),
		AgentID:   agentID,
		Recipient: recipient,
		Length:    length,
		Result:    result,
	}
	if sendErr != nil {
		row.Error = sendErr.Error()
	}
	_ = s.db.Create(&row).Error
}
