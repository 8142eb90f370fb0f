package whatsnep

import (
	"context"
	"sync"
	"time"
)

// presenceStopTimeout bounds the best-effort offline write on teardown. The
// write may not complete before the process exits; nothing depends on it.
const presenceStopTimeout = 2 * time.Second

// ============================================================================
// PresenceTracker
// ============================================================================

// PresenceTracker maintains each known user's online flag and last-seen time.
// The local session's own presence is written through the remote store on
// lifecycle transitions; other users' presence purely reflects the latest
// pushed update, last-write-wins by the event's own timestamp.
//
// The tracker carries its own lock: lifecycle transitions come from the
// caller's goroutine while pushed updates arrive on the transport's read
// loop. Remote writes happen outside the lock.
type PresenceTracker struct {
	store  RemoteStore
	selfID string

	mu    sync.Mutex
	users map[string]Presence
}

// NewPresenceTracker returns a tracker writing the given user's presence.
func NewPresenceTracker(store RemoteStore, selfID string) *PresenceTracker {
	return &PresenceTracker{
		store:  store,
		selfID: selfID,
		users:  make(map[string]Presence),
	}
}

// Start marks the local user online after a successful sign-in.
func (p *PresenceTracker) Start(ctx context.Context) error {
	p.setSelf(true)
	return p.store.UpdatePresence(ctx, p.selfID, true)
}

// SetForeground reflects tab visibility: visible transitions the local user
// online, hidden transitions it offline.
func (p *PresenceTracker) SetForeground(ctx context.Context, visible bool) error {
	p.setSelf(visible)
	return p.store.UpdatePresence(ctx, p.selfID, visible)
}

// Stop marks the local user offline, best effort. The write is bounded and
// the error discarded: teardown must never fail on a presence write.
func (p *PresenceTracker) Stop() {
	p.setSelf(false)
	ctx, cancel := context.WithTimeout(context.Background(), presenceStopTimeout)
	defer cancel()
	_ = p.store.UpdatePresence(ctx, p.selfID, false)
}

func (p *PresenceTracker) setSelf(online bool) {
	p.mu.Lock()
	p.users[p.selfID] = Presence{Online: online, LastSeen: time.Now().UTC()}
	p.mu.Unlock()
}

// ApplyRemote records a pushed user update. Stale events — older than what is
// already recorded — are discarded.
func (p *PresenceTracker) ApplyRemote(u User) {
	if u.ID == p.selfID {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.users[u.ID]; ok && cur.LastSeen.After(u.LastSeen) {
		return
	}
	p.users[u.ID] = Presence{Online: u.IsOnline, LastSeen: u.LastSeen}
}

// Get returns the tracked presence for a user.
func (p *PresenceTracker) Get(userID string) (Presence, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.users[userID]
	return pr, ok
}
