// Package runid mints and persists the opaque run identifier the console
// binds a run's WebSocket stream and HTTP calls to.
package runid

import (
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StorageKey names the persisted slot for the current run id.
const StorageKey = "masRunId"

// Store persists the current run id across console restarts. Implementations
// may fail; the manager degrades to an in-memory id.
type Store interface {
	LoadRunID() (string, error)
	SaveRunID(id string) error
}

// Manager owns the current run identifier.
type Manager struct {
	mu      sync.Mutex
	store   Store
	current string
	subs    map[int]chan string
	nextSub int
}

// New creates a manager. store may be nil for purely in-memory operation.
func New(store Store) *Manager {
	return &Manager{store: store, subs: make(map[int]chan string)}
}

// GetOrCreate returns the stored identifier when one exists, otherwise mints,
// persists and returns a fresh one. Storage failures are logged, not fatal.
func (m *Manager) GetOrCreate() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != "" {
		return m.current
	}
	if m.store != nil {
		stored, err := m.store.LoadRunID()
		if err != nil {
			log.Printf("WARN: load run id: %v", err)
		} else if stored != "" {
			m.current = stored
			return stored
		}
	}
	m.current = Generate()
	m.persistLocked()
	return m.current
}

// Reset unconditionally mints and persists a new identifier and notifies
// subscribers so every consumer converges on it.
func (m *Manager) Reset() string {
	m.mu.Lock()
	m.current = Generate()
	m.persistLocked()
	id := m.current
	subs := make([]chan string, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- id:
		default: // subscriber is not draining; drop rather than block
		}
	}
	return id
}

// Subscribe returns a channel receiving every new id minted by Reset, and a
// cancel func that releases it.
func (m *Manager) Subscribe() (<-chan string, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	ch := make(chan string, 4)
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *Manager) persistLocked() {
	if m.store == nil {
		return
	}
	if err := m.store.SaveRunID(m.current); err != nil {
		log.Printf("WARN: persist run id: %v", err)
	}
}

// Generate mints a collision-resistant id: a random UUID, or a
// timestamp+random string when UUID generation fails.
func Generate() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return fmt.Sprintf("run-%s-%s",
		strconv.FormatInt(time.Now().UnixMilli(), 36),
		strconv.FormatInt(rand.Int63n(1<<48), 36))
}
