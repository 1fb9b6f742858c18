// Package credential tracks outstanding credential requests for suspended
// pipeline targets. A Request is the single explicit resumption token: it
// carries the discovered field list so a resume supplies only secret values,
// never a re-discovery.
package credential

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Field describes one credential field an external producer asked for.
type Field struct {
	Name string `json:"name"`
	Kind string `json:"kind"` // text, password, totp, ...
}

// Values maps field names to user-supplied secret values. Values are handed
// to exactly one resume call and must not be retained afterwards.
type Values map[string]string

// Wipe overwrites and removes all values. Callers invoke it once the resume
// call returns.
func (v Values) Wipe() {
	for k := range v {
		v[k] = ""
		delete(v, k)
	}
}

// Request is one outstanding credential need for a suspended target.
type Request struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id"`
	Fields    []Field   `json:"fields"`
	Submitted bool      `json:"submitted"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager holds at most one outstanding Request per target.
type Manager struct {
	mu          sync.Mutex
	outstanding map[string]*Request
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{outstanding: make(map[string]*Request)}
}

// Open records a credential need for a target. If a request is already
// outstanding for the target it is replaced, keeping the invariant of one
// request per suspended target.
func (m *Manager) Open(targetID string, fields []Field) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := &Request{
		ID:        uuid.NewString(),
		TargetID:  targetID,
		Fields:    append([]Field(nil), fields...),
		CreatedAt: time.Now(),
	}
	m.outstanding[targetID] = req
	return req
}

// Outstanding returns the open request for a target, if any.
func (m *Manager) Outstanding(targetID string) (*Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.outstanding[targetID]
	return req, ok
}

// List returns all open requests sorted by target for stable output.
func (m *Manager) List() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Request, 0, len(m.outstanding))
	for _, req := range m.outstanding {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetID < out[j].TargetID })
	return out
}

// Consume marks the target's request submitted and removes it. The returned
// request still carries the discovered field list so the caller can re-invoke
// the suspended producer call.
func (m *Manager) Consume(targetID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.outstanding[targetID]
	if !ok {
		return nil, fmt.Errorf("no outstanding credential request for target %q", targetID)
	}
	delete(m.outstanding, targetID)
	req.Submitted = true
	return req, nil
}

// Reopen reinstates a request after a failed authentication, preserving the
// previously discovered fields so the user retries values only.
func (m *Manager) Reopen(req *Request) *Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	again := &Request{
		ID:        uuid.NewString(),
		TargetID:  req.TargetID,
		Fields:    append([]Field(nil), req.Fields...),
		CreatedAt: time.Now(),
	}
	m.outstanding[req.TargetID] = again
	return again
}
