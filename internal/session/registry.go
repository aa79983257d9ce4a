package session

import (
	"sync"
	"time"
)

// Handle is the in-process state for one agent's session: the live socket,
// the cached QR, and the per-agent serialization point. Every state
// transition for an agent happens under its handle mutex, so a client
// Initialize and a monitor sweep can never interleave.
type Handle struct {
	agentID int64

	mu            sync.Mutex
	conn          Conn
	connected     bool
	inFlight      bool
	phoneNumber   string
	qrCode        string
	qrSeq         uint64
	cooldownUntil time.Time
	lastActivity  time.Time
}

// Connected reports whether this process currently holds a live socket.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Conn returns the current socket, or nil.
func (h *Handle) Conn() Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

// QR returns the cached QR challenge, empty when none is outstanding.
func (h *Handle) QR() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.qrCode
}

func (h *Handle) touch() {
	h.mu.Lock()
	h.lastActivity = time.Now()
	h.mu.Unlock()
}

// Registry maps agent IDs to live handles. It is the single source of truth
// for what this process currently holds; durable state lives in the Store.
type Registry struct {
	mu      sync.RWMutex
	handles map[int64]*Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[int64]*Handle)}
}

// Get returns the handle for the agent, or nil when this process holds none.
func (r *Registry) Get(agentID int64) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[agentID]
}

// GetOrCreate returns the agent's handle, creating an idle one if needed.
func (r *Registry) GetOrCreate(agentID int64) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[agentID]
	if !ok {
		h = &Handle{agentID: agentID}
		r.handles[agentID] = h
	}
	return h
}

// Remove drops the agent's handle from this process.
func (r *Registry) Remove(agentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, agentID)
}

// AgentIDs returns the agents this process currently tracks.
func (r *Registry) AgentIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	return ids
}

// ConnectedCount returns how many handles hold a live socket.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, h := range r.handles {
		if h.Connected() {
			n++
		}
	}
	return n
}
