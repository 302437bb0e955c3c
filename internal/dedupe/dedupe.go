package dedupe

import (
	"strings"
	"sync"
)

// SeenSet remembers which transaction hashes have already been notified.
// It is purely in-memory: a restart forgets everything. An occasional
// duplicate notification after a restart beats a missed sale.
type SeenSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewSeenSet() *SeenSet {
	return &SeenSet{seen: make(map[string]struct{})}
}

// Admit returns true exactly once per transaction hash, regardless of how
// many goroutines race on the same hash. Hashes are compared
// case-insensitively.
func (s *SeenSet) Admit(txHash string) bool {
	key := strings.ToLower(txHash)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// Len reports the number of admitted hashes. Used for logging.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
