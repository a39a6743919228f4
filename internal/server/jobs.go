package server

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/keller/filmstrip/internal/queue"
)

// JobRecord is the server-side snapshot of one submitted job, mirroring
// the queue's lifecycle states plus the artifacts a client cares about
type JobRecord struct {
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	Description  string      `json:"description"`
	State        queue.State `json:"state"`
	Error        string      `json:"error,omitempty"`
	ManifestPath string      `json:"manifest_path,omitempty"`
	Result       string      `json:"result,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// jobRegistry tracks job records and fans state changes out to WebSocket
// subscribers
type jobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*JobRecord
	subs map[string]map[*websocket.Conn]struct{}
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{
		jobs: make(map[string]*JobRecord),
		subs: make(map[string]map[*websocket.Conn]struct{}),
	}
}

func (r *jobRegistry) add(record *JobRecord) {
	r.mu.Lock()
	r.jobs[record.ID] = record
	r.mu.Unlock()
}

// get returns a copy so callers never observe a record mid-update
func (r *jobRegistry) get(id string) (JobRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.jobs[id]
	if !ok {
		return JobRecord{}, false
	}
	return *record, true
}

// update applies fn under the lock, stamps the record, and broadcasts the
// new snapshot to subscribers
func (r *jobRegistry) update(id string, fn func(*JobRecord)) {
	r.mu.Lock()
	record, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	fn(record)
	record.UpdatedAt = time.Now()
	snapshot := *record
	r.mu.Unlock()

	r.broadcast(id, snapshot)
}

func (r *jobRegistry) subscribe(id string, conn *websocket.Conn) {
	r.mu.Lock()
	if r.subs[id] == nil {
		r.subs[id] = make(map[*websocket.Conn]struct{})
	}
	r.subs[id][conn] = struct{}{}
	r.mu.Unlock()
}

func (r *jobRegistry) unsubscribe(id string, conn *websocket.Conn) {
	r.mu.Lock()
	delete(r.subs[id], conn)
	r.mu.Unlock()
}

func (r *jobRegistry) broadcast(id string, snapshot JobRecord) {
	r.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(r.subs[id]))
	for c := range r.subs[id] {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		if err := c.WriteJSON(snapshot); err != nil {
			r.unsubscribe(id, c)
			_ = c.Close()
		}
	}
}
