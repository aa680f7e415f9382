package mailbox

import (
	"sync"
	"time"
)

// seenTTL is how long a fetched UID is remembered. This set only absorbs
// rapid duplicate new-mail notifications; real de-duplication is the
// correlator's external Message-ID check.
const seenTTL = 5 * time.Minute

// SeenSet is a short-lived set of recently fetched (mailbox user, UID) keys,
// shared by all watchers.
type SeenSet struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	now     func() time.Time
}

// NewSeenSet creates a SeenSet with the default TTL.
func NewSeenSet() *SeenSet {
	return &SeenSet{
		entries: make(map[string]time.Time),
		ttl:     seenTTL,
		now:     time.Now,
	}
}

// MarkSeen records a key and reports whether it was new (or expired). Expired
// entries are pruned on each call.
func (s *SeenSet) MarkSeen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, at := range s.entries {
		if now.Sub(at) > s.ttl {
			delete(s.entries, k)
		}
	}

	if _, ok := s.entries[key]; ok {
		return false
	}
	s.entries[key] = now
	return true
}
