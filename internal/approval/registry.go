package approval

import (
	"sync"

	"ava/internal/domain"
)

// Pending is an approval request waiting on a human. The reply channel has
// capacity 1 so delivery never blocks the callback router.
type Pending struct {
	ChatID    int64
	MessageID int64
	reply     chan domain.ApprovalDecision
}

// Registry maps nonces to pending approval requests. It is shared between
// the approver, which registers and expires entries, and the callback router,
// which resolves them. Each nonce is removed exactly once.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]*Pending)}
}

// Register records a pending request under nonce. reply must be buffered.
func (r *Registry) Register(nonce string, reply chan domain.ApprovalDecision, chatID, messageID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[nonce] = &Pending{ChatID: chatID, MessageID: messageID, reply: reply}
}

// Attach sets the message id of a registered request once the prompt is on
// screen. Returns false if the nonce is gone.
func (r *Registry) Attach(nonce string, messageID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[nonce]
	if !ok {
		return false
	}
	p.MessageID = messageID
	return true
}

// Resolve removes the entry for nonce and delivers decision to its waiter.
// It returns false for unknown or already-resolved nonces.
func (r *Registry) Resolve(nonce string, decision domain.ApprovalDecision) (Pending, bool) {
	r.mu.Lock()
	p, ok := r.pending[nonce]
	if ok {
		delete(r.pending, nonce)
	}
	r.mu.Unlock()

	if !ok {
		return Pending{}, false
	}
	select {
	case p.reply <- decision:
	default:
	}
	return *p, true
}

// Expire removes the entry for nonce without delivering anything.
func (r *Registry) Expire(nonce string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[nonce]; !ok {
		return false
	}
	delete(r.pending, nonce)
	return true
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
