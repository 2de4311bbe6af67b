package chat

import (
	"sync"

	"ariachat/internal/domain"
)

// Guard decides whether a progress event may be merged into the active
// conversation. The authoritative session id is the externally supplied one
// (a shared link) when set, otherwise the locally tracked conversation id.
// All methods are safe for concurrent use; Valid reads the current state on
// every call so a Pause from another goroutine takes effect on the next event.
type Guard struct {
	mu         sync.Mutex
	localID    string
	externalID string
	paused     bool
}

// NewGuard returns a guard bound to the local conversation id.
func NewGuard(localID string) *Guard {
	return &Guard{localID: localID}
}

// Valid reports whether ev belongs to the active, non-paused session.
func (g *Guard) Valid(ev domain.ProgressEvent) bool {
	return g.Accepts(ev.Header().Session.ID)
}

// Accepts reports whether updates for sessionID may currently be applied.
func (g *Guard) Accepts(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.paused && sessionID == g.activeIDLocked()
}

// ActiveID returns the authoritative session id.
func (g *Guard) ActiveID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeIDLocked()
}

func (g *Guard) activeIDLocked() string {
	if g.externalID != "" {
		return g.externalID
	}
	return g.localID
}

// Pause rejects every further event until Resume or Bind.
func (g *Guard) Pause() {
	g.mu.Lock()
	g.paused = true
	g.mu.Unlock()
}

// Resume clears the pause flag at the start of a new turn.
func (g *Guard) Resume() {
	g.mu.Lock()
	g.paused = false
	g.mu.Unlock()
}

// Paused reports whether the guard is paused.
func (g *Guard) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Bind switches to a different local conversation. The external id and the
// pause flag are cleared.
func (g *Guard) Bind(localID string) {
	g.mu.Lock()
	g.localID = localID
	g.externalID = ""
	g.paused = false
	g.mu.Unlock()
}

// SetExternal sets the externally supplied session id. An empty id falls back
// to the local one.
func (g *Guard) SetExternal(id string) {
	g.mu.Lock()
	g.externalID = id
	g.mu.Unlock()
}
