package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagate/internal/domain"
	"go.uber.org/zap"
)

// Config holds the supervisor timing knobs.
type Config struct {
	// Cooldown is the minimum spacing between connect attempts per agent.
	Cooldown time.Duration
	// QRTimeout is the hard deadline for an unscanned QR challenge.
	QRTimeout time.Duration
	// ConnectWait bounds how long Initialize waits for the first decisive
	// link event before answering with the current status.
	ConnectWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.QRTimeout <= 0 {
		c.QRTimeout = 60 * time.Second
	}
	if c.ConnectWait <= 0 {
		c.ConnectWait = 25 * time.Second
	}
	return c
}

// InitResult is the external response shape of an accepted Initialize.
type InitResult struct {
	Success     bool   `json:"success"`
	Status      string `json:"status"`
	QrCode      string `json:"qrCode,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	IsActive    bool   `json:"isActive"`
}

// StatusInfo is the external response shape of a status poll.
type StatusInfo struct {
	Connected   bool   `json:"connected"`
	Status      string `json:"status"`
	IsActive    bool   `json:"is_active"`
	QrCode      string `json:"qr_code"`
	PhoneNumber string `json:"phone_number"`
}

// attempt tracks one connect attempt so Initialize can wait for the first
// decisive event (QR issued, connected, or failed) exactly once.
type attempt struct {
	decided chan struct{}
	once    sync.Once
}

func (a *attempt) decide() {
	a.once.Do(func() { close(a.decided) })
}

// Supervisor owns every session state transition: initialize, QR issue and
// expiry, bind, credential refresh, teardown, conflict. Transitions for one
// agent are serialized through its registry handle; link events are consumed
// by a single loop goroutine per connection.
type Supervisor struct {
	store *Store
	reg   *Registry
	link  DeviceLink
	bus   *Broadcaster
	owner Owner
	cfg   Config
}

func NewSupervisor(store *Store, reg *Registry, link DeviceLink, bus *Broadcaster, owner Owner, cfg Config) *Supervisor {
	return &Supervisor{
		store: store,
		reg:   reg,
		link:  link,
		bus:   bus,
		owner: owner,
		cfg:   cfg.withDefaults(),
	}
}

// Owner returns this process's lease identity.
func (s *Supervisor) Owner() Owner { return s.owner }

// Registry exposes the in-process handle table.
func (s *Supervisor) Registry() *Registry { return s.reg }

// Initialize moves a disconnected or errored agent toward connected. It
// claims ownership in the store, dials the device link with any persisted
// credentials, and waits a bounded time for the first decisive event.
// Concurrent calls for the same agent receive ErrInFlight; calls inside the
// cooldown window receive a CooldownError with the remaining delay.
func (s *Supervisor) Initialize(ctx context.Context, agentID int64) (*InitResult, error) {
	if _, err := s.store.Get(agentID); err != nil {
		return nil, err
	}

	h := s.reg.GetOrCreate(agentID)
	h.mu.Lock()
	if h.connected {
		res := &InitResult{
			Success:     true,
			Status:      domain.SessionConnected,
			PhoneNumber: h.phoneNumber,
			IsActive:    true,
		}
		h.mu.Unlock()
		return res, nil
	}
	if h.inFlight {
		h.mu.Unlock()
		return &InitResult{Status: domain.SessionConnecting}, ErrInFlight
	}
	if until := h.cooldownUntil; time.Now().Before(until) {
		h.mu.Unlock()
		return nil, &CooldownError{RetryAfter: time.Until(until)}
	}
	h.inFlight = true
	h.qrCode = ""
	h.lastActivity = time.Now()
	h.mu.Unlock()

	att := &attempt{decided: make(chan struct{})}

	creds, err := s.store.BeginAttempt(agentID, s.owner)
	if err != nil {
		s.failAttempt(h, err)
		return nil, err
	}

	conn, err := s.link.Dial(ctx, agentID, creds)
	if err != nil {
		if serr := s.store.MarkError(agentID); serr != nil {
			zap.L().Error("session: mark error failed", zap.Int64("agent_id", agentID), zap.Error(serr))
		}
		s.failAttempt(h, err)
		s.bus.Publish(agentID, EventError, map[string]interface{}{"error": err.Error()})
		return nil, errors.Wrap(err, "device link dial")
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()

	go s.runLoop(h, conn, att)

	wait := time.NewTimer(s.cfg.ConnectWait)
	defer wait.Stop()
	select {
	case <-att.decided:
	case <-wait.C:
	case <-ctx.Done():
	}
	return s.snapshot(agentID, h), nil
}

// Disconnect tears the agent's session down. It is idempotent: calling it on
// an already-disconnected agent is a no-op returning success. Credentials are
// kept, so a later Initialize resumes without a fresh QR.
func (s *Supervisor) Disconnect(ctx context.Context, agentID int64) error {
	row, err := s.store.Get(agentID)
	if err != nil {
		return err
	}

	var conn Conn
	if h := s.reg.Get(agentID); h != nil {
		h.mu.Lock()
		conn = h.conn
		h.conn = nil
		wasLive := h.connected || h.inFlight
		h.connected = false
		h.inFlight = false
		h.qrCode = ""
		h.qrSeq++
		if wasLive {
			h.cooldownUntil = time.Now().Add(s.cfg.Cooldown)
		}
		h.mu.Unlock()
	}
	if conn != nil {
		_ = conn.Close()
	}

	if row.Status != domain.SessionDisconnected {
		if err := s.store.MarkDisconnected(agentID); err != nil {
			return err
		}
		s.bus.Publish(agentID, EventDisconnected, nil)
		zap.L().Info("session: disconnected", zap.Int64("agent_id", agentID))
	}
	return nil
}

// Status builds the poll response. The QR code is only exposed while the row
// is qr_pending and not yet active, so a bound session never leaks one.
func (s *Supervisor) Status(agentID int64) (*StatusInfo, error) {
	row, err := s.store.Get(agentID)
	if err != nil {
		return nil, err
	}
	h := s.reg.Get(agentID)
	info := &StatusInfo{
		Connected:   h != nil && h.Connected(),
		Status:      row.Status,
		IsActive:    row.IsActive,
		PhoneNumber: row.PhoneNumber,
	}
	if row.Status == domain.SessionQrPending && !row.IsActive {
		info.QrCode = row.QrCode
	}
	return info, nil
}

// Subscribe attaches a sink to the agent's event stream. The current status
// snapshot is pushed immediately, then subsequent events follow in order.
// The returned unsubscribe is idempotent.
func (s *Supervisor) Subscribe(agentID int64, sink func(StreamEvent)) (func(), error) {
	info, err := s.Status(agentID)
	if err != nil {
		return nil, err
	}
	unsub, err := s.bus.Subscribe(agentID, sink)
	if err != nil {
		return nil, err
	}
	sink(StreamEvent{
		Type:    EventStatus,
		AgentID: agentID,
		Payload: map[string]interface{}{
			"connected":    info.Connected,
			"status":       info.Status,
			"is_active":    info.IsActive,
			"qr_code":      info.QrCode,
			"phone_number": info.PhoneNumber,
		},
		Timestamp: time.Now(),
	})
	return unsub, nil
}

// runLoop is the single writer for one connection's lifecycle events.
func (s *Supervisor) runLoop(h *Handle, conn Conn, att *attempt) {
	agentID := h.agentID
	for ev := range conn.Events() {
		switch ev.Type {
		case LinkQR:
			s.onQR(h, conn, ev.Code, att)
		case LinkPairSuccess, LinkCredentials:
			if err := s.store.SaveCredentials(agentID, ev.Credentials); err != nil {
				zap.L().Error("session: save credentials failed", zap.Int64("agent_id", agentID), zap.Error(err))
			}
		case LinkConnected:
			s.onConnected(h, ev, att)
		case LinkDisconnected:
			s.onDropped(h, conn, att)
			return
		case LinkLoggedOut:
			s.onLoggedOut(h, conn, att)
			return
		case LinkConflict:
			s.onConflict(h, conn, att)
			return
		case LinkError:
			zap.L().Warn("session: link error", zap.Int64("agent_id", agentID), zap.Error(ev.Err))
		}
	}
	// Channel closed without a terminal event: the link was shut down
	// locally (explicit disconnect or QR expiry already did the teardown).
	h.mu.Lock()
	h.inFlight = false
	h.mu.Unlock()
	att.decide()
}

func (s *Supervisor) onQR(h *Handle, conn Conn, code string, att *attempt) {
	agentID := h.agentID
	h.mu.Lock()
	if h.connected {
		h.mu.Unlock()
		return
	}
	h.qrCode = code
	h.qrSeq++
	seq := h.qrSeq
	h.mu.Unlock()

	if err := s.store.SetQR(agentID, code); err != nil {
		zap.L().Error("session: store qr failed", zap.Int64("agent_id", agentID), zap.Error(err))
	}
	s.bus.Publish(agentID, EventQR, map[string]interface{}{"qrCode": code})
	att.decide()
	zap.L().Info("session: qr issued", zap.Int64("agent_id", agentID), zap.Int("code_len", len(code)))

	time.AfterFunc(s.cfg.QRTimeout, func() { s.expireQR(h, seq) })
}

// expireQR demotes an unscanned QR back to disconnected. The seq guard makes
// scan success and timeout mutually exclusive outcomes of one QR instance:
// a bind or a newer code bumps the seq and this timer becomes a no-op.
func (s *Supervisor) expireQR(h *Handle, seq uint64) {
	agentID := h.agentID
	h.mu.Lock()
	if h.connected || h.qrSeq != seq || h.qrCode == "" {
		h.mu.Unlock()
		return
	}
	h.qrCode = ""
	h.inFlight = false
	h.cooldownUntil = time.Now().Add(s.cfg.Cooldown)
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if err := s.store.MarkDisconnected(agentID); err != nil {
		zap.L().Error("session: qr expiry teardown failed", zap.Int64("agent_id", agentID), zap.Error(err))
	}
	s.bus.Publish(agentID, EventStatus, map[string]interface{}{
		"status": domain.SessionDisconnected,
		"reason": "qr_timeout",
	})
	zap.L().Info("session: qr expired", zap.Int64("agent_id", agentID))
}

func (s *Supervisor) onConnected(h *Handle, ev LinkEvent, att *attempt) {
	agentID := h.agentID
	h.mu.Lock()
	h.connected = true
	h.inFlight = false
	h.qrCode = ""
	h.qrSeq++
	h.phoneNumber = ev.PhoneNumber
	h.lastActivity = time.Now()
	h.mu.Unlock()

	if err := s.store.MarkConnected(agentID, ev.PhoneNumber, ev.Credentials); err != nil {
		zap.L().Error("session: mark connected failed", zap.Int64("agent_id", agentID), zap.Error(err))
	}
	s.bus.Publish(agentID, EventConnected, map[string]interface{}{
		"phoneNumber": ev.PhoneNumber,
	})
	att.decide()
	zap.L().Info("session: connected", zap.Int64("agent_id", agentID), zap.String("phone", ev.PhoneNumber))
}

// onDropped handles an unexpected transport failure. The row moves to error
// but stays active, so the ownership monitor retries under cooldown.
func (s *Supervisor) onDropped(h *Handle, conn Conn, att *attempt) {
	agentID := h.agentID
	h.mu.Lock()
	h.connected = false
	h.inFlight = false
	h.qrCode = ""
	h.qrSeq++
	h.conn = nil
	h.cooldownUntil = time.Now().Add(s.cfg.Cooldown)
	h.mu.Unlock()

	_ = conn.Close()
	if err := s.store.MarkError(agentID); err != nil {
		zap.L().Error("session: mark error failed", zap.Int64("agent_id", agentID), zap.Error(err))
	}
	s.bus.Publish(agentID, EventError, map[string]interface{}{"error": "transport dropped"})
	att.decide()
	zap.L().Warn("session: transport dropped", zap.Int64("agent_id", agentID))
}

// onLoggedOut handles terminal de-pairing: credentials are purged and a
// fresh QR is required on the next Initialize.
func (s *Supervisor) onLoggedOut(h *Handle, conn Conn, att *attempt) {
	agentID := h.agentID
	h.mu.Lock()
	h.connected = false
	h.inFlight = false
	h.qrCode = ""
	h.qrSeq++
	h.conn = nil
	h.phoneNumber = ""
	h.cooldownUntil = time.Now().Add(s.cfg.Cooldown)
	h.mu.Unlock()

	_ = conn.Close()
	if err := s.store.PurgeCredentials(agentID); err != nil {
		zap.L().Error("session: purge credentials failed", zap.Int64("agent_id", agentID), zap.Error(err))
	}
	if err := s.store.MarkDisconnected(agentID); err != nil {
		zap.L().Error("session: logout teardown failed", zap.Int64("agent_id", agentID), zap.Error(err))
	}
	s.bus.Publish(agentID, EventDisconnected, map[string]interface{}{"reason": "logged_out"})
	att.decide()
	zap.L().Warn("session: remote logged out", zap.Int64("agent_id", agentID))
}

// onConflict handles a duplicate-socket rejection from the network: some
// other process owns the agent. Recoverable, but only by explicit user
// action (disconnect then reconnect).
func (s *Supervisor) onConflict(h *Handle, conn Conn, att *attempt) {
	agentID := h.agentID
	h.mu.Lock()
	h.connected = false
	h.inFlight = false
	h.qrCode = ""
	h.qrSeq++
	h.conn = nil
	h.cooldownUntil = time.Now().Add(s.cfg.Cooldown)
	h.mu.Unlock()

	_ = conn.Close()
	if err := s.store.MarkConflict(agentID); err != nil {
		zap.L().Error("session: mark conflict failed", zap.Int64("agent_id", agentID), zap.Error(err))
	}
	s.bus.Publish(agentID, EventStatus, map[string]interface{}{
		"status": domain.SessionConflict,
		"error":  ErrConflict.Error(),
	})
	att.decide()
	zap.L().Warn("session: ownership conflict", zap.Int64("agent_id", agentID))
}

// failAttempt releases the in-flight flag and arms the cooldown after a
// failed claim or dial.
func (s *Supervisor) failAttempt(h *Handle, err error) {
	h.mu.Lock()
	h.inFlight = false
	h.cooldownUntil = time.Now().Add(s.cfg.Cooldown)
	h.mu.Unlock()
	zap.L().Warn("session: initialize attempt failed", zap.Int64("agent_id", h.agentID), zap.Error(err))
}

// snapshot builds the Initialize response from the current durable state.
func (s *Supervisor) snapshot(agentID int64, h *Handle) *InitResult {
	row, err := s.store.Get(agentID)
	if err != nil {
		zap.L().Error("session: snapshot load failed", zap.Int64("agent_id", agentID), zap.Error(err))
		return &InitResult{Status: domain.SessionError}
	}
	res := &InitResult{
		Status:      row.Status,
		PhoneNumber: row.PhoneNumber,
		IsActive:    row.IsActive,
	}
	switch row.Status {
	case domain.SessionConnected:
		res.Success = true
	case domain.SessionQrPending:
		res.Success = true
		if !row.IsActive {
			res.QrCode = row.QrCode
		}
	case domain.SessionConnecting:
		// attempt accepted, still pending a decisive event
		res.Success = true
	}
	return res
}
