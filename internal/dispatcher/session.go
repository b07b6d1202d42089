package dispatcher

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one live Stream Session (§3): ephemeral, in-memory only.
type Session struct {
	ID          string
	PortalID    string
	PortalName  string
	ChannelID   string
	ChannelName string
	MAC         string
	ClientIP    string
	StartedAt   time.Time

	cancel func()
	bytes  int64
}

// SessionView is the read-only snapshot returned to callers (the /streaming
// endpoint and tests), so nothing outside this package can mutate a live
// Session through a stale reference.
type SessionView struct {
	ID          string
	PortalID    string
	PortalName  string
	ChannelID   string
	ChannelName string
	MAC         string
	ClientIP    string
	StartedAt   time.Time
	Bytes       int64
}

// SessionTable is the in-memory mapping MAC -> {session_id set} the spec
// requires (§5): a single mutex guards every reservation, release, and byte
// count, so "no overselection" holds under arbitrary interleavings.
type SessionTable struct {
	mu       sync.Mutex
	byMAC    map[string]map[string]*Session
	byID     map[string]*Session
}

// NewSessionTable builds an empty, ready-to-use session table.
func NewSessionTable() *SessionTable {
	return &SessionTable{
		byMAC: map[string]map[string]*Session{},
		byID:  map[string]*Session{},
	}
}

// CountForMAC reports how many sessions are currently accounted against mac;
// this is macscheduler.BusyLookup's backing implementation.
func (t *SessionTable) CountForMAC(mac string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byMAC[mac])
}

// Reserve atomically admits a new session against mac if active < limit,
// implementing the strictly-serializable compare-and-set §5 calls for.
// Returns (session, true) on success; (nil, false) if the MAC is already at
// its effective limit.
func (t *SessionTable) Reserve(portalID, portalName, channelID, channelName, mac, clientIP string, limit int, cancel func()) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.byMAC[mac]
	if len(set) >= limit {
		return nil, false
	}
	s := &Session{
		ID:          uuid.NewString(),
		PortalID:    portalID,
		PortalName:  portalName,
		ChannelID:   channelID,
		ChannelName: channelName,
		MAC:         mac,
		ClientIP:    clientIP,
		StartedAt:   time.Now(),
		cancel:      cancel,
	}
	if set == nil {
		set = map[string]*Session{}
		t.byMAC[mac] = set
	}
	set[s.ID] = s
	t.byID[s.ID] = s
	return s, true
}

// Release tears down a session, removing it from both indexes. Safe to call
// more than once for the same session id.
func (t *SessionTable) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	if set := t.byMAC[s.MAC]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(t.byMAC, s.MAC)
		}
	}
}

// AddBytes accumulates bytes relayed for a session, for /streaming's byte
// counter and humanized log lines.
func (t *SessionTable) AddBytes(id string, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.byID[id]; ok {
		s.bytes += n
	}
}

// Cancel invokes the session's cancellation function, if any, tearing down
// its FFmpeg child. It does not remove the session from the table; the
// piping goroutine does that on its way out.
func (t *SessionTable) Cancel(id string) {
	t.mu.Lock()
	s, ok := t.byID[id]
	t.mu.Unlock()
	if ok && s.cancel != nil {
		s.cancel()
	}
}

// Snapshot returns every live session grouped by portal_id, for the
// /streaming JSON endpoint.
func (t *SessionTable) Snapshot() map[string][]SessionView {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[string][]SessionView{}
	for _, s := range t.byID {
		out[s.PortalID] = append(out[s.PortalID], SessionView{
			ID: s.ID, PortalID: s.PortalID, PortalName: s.PortalName,
			ChannelID: s.ChannelID, ChannelName: s.ChannelName,
			MAC: s.MAC, ClientIP: s.ClientIP, StartedAt: s.StartedAt, Bytes: s.bytes,
		})
	}
	return out
}

// Count returns the total number of live sessions, used by tests asserting
// §8 testable property 9 (sum(sessions per MAC) == live process count).
func (t *SessionTable) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}
