// Package presence tracks which identities currently hold at least one live
// chat connection. Connections are reference counted per identity so a user
// with several tabs open stays online until the last one closes.
package presence

import (
	"sort"
	"sync"
)

// Record is the presence view of an identity.
type Record struct {
	UserID int64
	Name   string
}

type entry struct {
	record Record
	conns  int
}

// Registry is a concurrency-safe presence set keyed by user id.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*entry)}
}

// Register counts a new connection for the identity and reports whether it
// just came online. Re-registering refreshes the display name so the roster
// follows renames; the last registered name wins.
func (r *Registry) Register(record Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[record.UserID]; ok {
		existing.conns++
		existing.record = record
		return false
	}
	r.entries[record.UserID] = &entry{record: record, conns: 1}
	return true
}

// Unregister drops one connection for the identity and reports whether it
// went offline. Unknown identities are a no-op.
func (r *Registry) Unregister(userID int64) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[userID]
	if !ok {
		return Record{}, false
	}
	existing.conns--
	if existing.conns > 0 {
		return existing.record, false
	}
	delete(r.entries, userID)
	return existing.record, true
}

// Contains reports whether the identity has at least one live connection.
func (r *Registry) Contains(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[userID]
	return ok
}

// Snapshot returns the online records ordered by user id. The slice is a
// copy and safe to hold across further registry mutations.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make([]Record, 0, len(r.entries))
	for _, e := range r.entries {
		records = append(records, e.record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UserID < records[j].UserID
	})
	return records
}

// Len returns the number of distinct identities online.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
