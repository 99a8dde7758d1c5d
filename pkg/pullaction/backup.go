package pullaction

import "github.com/fruitsalade/navigator/pkg/protocol"

// BackupEntrySet accumulates backup entries, deduplicated by the
// (resource, backupResource) pair and kept in first-seen order.
type BackupEntrySet struct {
	entries []protocol.BackupEntry
	seen    map[protocol.BackupEntry]struct{}
}

// Add inserts e unless an equal pair is already present.
func (s *BackupEntrySet) Add(e protocol.BackupEntry) bool {
	if s.seen == nil {
		s.seen = make(map[protocol.BackupEntry]struct{})
	}
	if _, ok := s.seen[e]; ok {
		return false
	}
	s.seen[e] = struct{}{}
	s.entries = append(s.entries, e)
	return true
}

// AddAll inserts every entry and returns how many were new.
func (s *BackupEntrySet) AddAll(entries []protocol.BackupEntry) int {
	added := 0
	for _, e := range entries {
		if s.Add(e) {
			added++
		}
	}
	return added
}

// Contains reports whether the pair is present.
func (s *BackupEntrySet) Contains(e protocol.BackupEntry) bool {
	_, ok := s.seen[e]
	return ok
}

// Len returns the number of distinct pairs.
func (s *BackupEntrySet) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the pairs in first-seen order.
func (s *BackupEntrySet) Entries() []protocol.BackupEntry {
	out := make([]protocol.BackupEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// pathSet is an insertion-ordered string set.
type pathSet struct {
	items []string
	seen  map[string]struct{}
}

func (s *pathSet) addAll(paths []string) {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	for _, p := range paths {
		if _, ok := s.seen[p]; ok {
			continue
		}
		s.seen[p] = struct{}{}
		s.items = append(s.items, p)
	}
}
