package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process memory. It is meant for local runs and
// tests; records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	last    time.Time
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Append stores rec with a fresh ID and a timestamp later than any previous one.
func (m *MemoryStore) Append(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.now().UTC()
	if !ts.After(m.last) {
		ts = m.last.Add(time.Nanosecond)
	}
	m.last = ts
	rec.ID = uuid.NewString()
	rec.Timestamp = ts
	m.records = append(m.records, rec)
	return rec, nil
}

// List returns matching records, newest first.
func (m *MemoryStore) List(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	matched := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if r.SchoolID != q.SchoolID || r.Timestamp.Before(q.Since) {
			continue
		}
		matched = append(matched, r)
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	docs := make([]Document, 0, len(matched))
	for _, r := range matched {
		docs = append(docs, r.document())
	}
	return docs, nil
}

// Records returns a copy of everything written so far.
func (m *MemoryStore) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Healthy always reports true.
func (m *MemoryStore) Healthy(context.Context) bool { return true }
