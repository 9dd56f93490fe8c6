package session

import (
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"go.uber.org/zap"
)

// ticketLifetime is how long a cached session ticket is trusted for
// resumption before it's treated as stale and discarded rather than
// handed to a new handshake.
const ticketLifetime = 24 * time.Hour

// ticket is one cached TLS session resumption state.
type ticket struct {
	state    *utls.ClientSessionState
	storedAt time.Time
}

// TicketCache caches TLS session resumption state per server name for the
// client's uTLS dial, so a repeat connection to the same upstream can
// resume instead of paying for a full handshake. It implements
// utls.ClientSessionCache directly, so it's wired straight into
// utls.Config.ClientSessionCache rather than bridged through another type.
type TicketCache struct {
	mu      sync.RWMutex
	tickets map[string]ticket
	log     *zap.Logger
}

// NewTicketCache returns an empty cache.
func NewTicketCache(log *zap.Logger) *TicketCache {
	return &TicketCache{tickets: make(map[string]ticket), log: log}
}

// Get implements utls.ClientSessionCache for a handshake looking up
// whether a resumable session already exists for sessionKey.
func (c *TicketCache) Get(sessionKey string) (*utls.ClientSessionState, bool) {
	c.mu.RLock()
	t, ok := c.tickets[sessionKey]
	c.mu.RUnlock()
	if !ok || time.Since(t.storedAt) > ticketLifetime {
		return nil, false
	}
	return t.state, true
}

// Put implements utls.ClientSessionCache, storing (or clearing, when cs is
// nil) the session state a completed handshake offered for sessionKey.
func (c *TicketCache) Put(sessionKey string, cs *utls.ClientSessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cs == nil {
		delete(c.tickets, sessionKey)
		return
	}
	c.tickets[sessionKey] = ticket{state: cs, storedAt: time.Now()}
	if c.log != nil {
		c.log.Debug("stored session ticket", zap.String("server", sessionKey))
	}
}
