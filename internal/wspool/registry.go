package wspool

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Registry maps a URL to at most one live connection. Consumers asking for
// the same URL while the existing connection is connecting or open share it;
// a closed entry is evicted so the next Get dials fresh.
type Registry struct {
	mu           sync.Mutex
	conns        map[string]*Conn
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewRegistry creates an empty registry using the default dialer and no
// write deadline.
func NewRegistry() *Registry {
	return NewRegistryWithOptions(websocket.DefaultDialer, 0)
}

// NewRegistryWithOptions creates a registry using a custom dialer and a write
// deadline applied to every outbound frame. A zero writeTimeout disables the
// deadline.
func NewRegistryWithOptions(dialer *websocket.Dialer, writeTimeout time.Duration) *Registry {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Registry{
		conns:        make(map[string]*Conn),
		dialer:       dialer,
		writeTimeout: writeTimeout,
	}
}

// Get returns the live connection for url, dialing one if none exists. The
// returned connection may still be connecting; use WaitOpen before Send.
func (r *Registry) Get(url string) *Conn {
	r.mu.Lock()
	if existing, ok := r.conns[url]; ok && existing.State() != StateClosed {
		r.mu.Unlock()
		return existing
	}

	conn := newConn(url, r.writeTimeout)
	r.conns[url] = conn
	conn.OnClose(func(code int, err error) {
		r.mu.Lock()
		if r.conns[url] == conn {
			delete(r.conns, url)
		}
		r.mu.Unlock()
	})
	r.mu.Unlock()

	go func() {
		ws, _, err := r.dialer.Dial(url, nil)
		if err != nil {
			log.Printf("WARN: dial %s: %v", url, err)
		}
		conn.dialDone(ws, err)
	}()
	return conn
}

// Len reports the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
