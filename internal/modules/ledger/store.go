// README: Durable ledger store contract, shared encoding and an in-memory backend.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ridesim/internal/types"
)

// Store persists the simulator State. Commit must be durable when it returns
// nil: a crash afterwards recovers every mutation in the batch.
type Store interface {
	Load(ctx context.Context) (*State, error)
	Commit(ctx context.Context, b *Batch) error
	Close() error
}

const dayLayout = time.RFC3339

func encodePersonRides(pr *PersonRides) ([]byte, error) {
	data, err := json.Marshal(pr)
	if err != nil {
		return nil, fmt.Errorf("encode rides of %s: %w", pr.Owner, err)
	}
	return data, nil
}

func decodePersonRides(id string, data []byte) (*PersonRides, error) {
	var pr PersonRides
	if err := json.Unmarshal(data, &pr); err != nil {
		return nil, fmt.Errorf("decode rides of %s: %w", id, err)
	}
	if pr.Owner == "" {
		pr.Owner = types.ID(id)
	}
	return &pr, nil
}

func encodeDay(day time.Time) string {
	return day.Format(dayLayout)
}

func decodeDay(s string) (*time.Time, error) {
	day, err := time.Parse(dayLayout, s)
	if err != nil {
		return nil, fmt.Errorf("decode last generated day: %w", err)
	}
	return &day, nil
}

// MemoryStore keeps encoded records in memory. Load always decodes fresh
// copies, so callers never share state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	rides   map[types.ID][]byte
	remote  map[string]types.ID
	lastDay string
	commits int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:  make(map[types.ID][]byte),
		remote: make(map[string]types.ID),
	}
}

func (m *MemoryStore) Load(_ context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := NewState()
	for id, data := range m.rides {
		pr, err := decodePersonRides(string(id), data)
		if err != nil {
			return nil, err
		}
		st.Rides[id] = pr
	}
	for remote, id := range m.remote {
		st.RemoteIDs[remote] = id
	}
	if m.lastDay != "" {
		day, err := decodeDay(m.lastDay)
		if err != nil {
			return nil, err
		}
		st.LastGeneratedDay = day
	}
	return st, nil
}

func (m *MemoryStore) Commit(_ context.Context, b *Batch) error {
	encoded := make(map[types.ID][]byte, len(b.Put))
	for id, pr := range b.Put {
		data, err := encodePersonRides(pr)
		if err != nil {
			return err
		}
		encoded[id] = data
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, data := range encoded {
		m.rides[id] = data
	}
	for remote, id := range b.RemoteIDs {
		m.remote[remote] = id
	}
	if b.LastGeneratedDay != nil {
		m.lastDay = encodeDay(*b.LastGeneratedDay)
	}
	m.commits++
	return nil
}

// Commits reports how many batches were committed.
func (m *MemoryStore) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

func (m *MemoryStore) Close() error { return nil }
