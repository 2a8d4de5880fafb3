package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoCredentials is returned when a pool is built from an empty key list.
// The process cannot dispatch anything without at least one credential.
var ErrNoCredentials = errors.New("no API credentials configured")

// ErrDuplicateCredential is returned when two credentials share a name.
// Counters are recorded by name, so names must be unique.
var ErrDuplicateCredential = errors.New("duplicate credential name")

// Credential is one upstream API key and its usage counters.
type Credential struct {
	Name         string    `json:"name"`
	Secret       string    `json:"-"`
	LastUsed     time.Time `json:"lastUsed"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`
	Active       bool      `json:"active"`
}

// Pool is a rotating set of credentials. All reads and writes go through
// the pool mutex so concurrent dispatches never lose counter updates.
type Pool struct {
	mu     sync.Mutex
	creds  []*Credential
	cursor int
	now    func() time.Time
}

// NewPool builds a pool from the given credentials. Every credential starts
// active with zeroed counters. Credentials without a secret are skipped;
// unnamed ones are called "Key N" after their position in creds.
func NewPool(creds []Credential) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	p := &Pool{now: time.Now}
	seen := make(map[string]bool, len(creds))
	for i, c := range creds {
		if c.Secret == "" {
			continue
		}
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("Key %d", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateCredential, name)
		}
		seen[name] = true
		p.creds = append(p.creds, &Credential{Name: name, Secret: c.Secret, Active: true})
	}
	if len(p.creds) == 0 {
		return nil, ErrNoCredentials
	}
	return p, nil
}

// Current returns a copy of the credential at the cursor, indexed over the
// active members only. When no member is active the whole pool is
// reactivated first.
func (p *Pool) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.currentLocked()
}

func (p *Pool) currentLocked() *Credential {
	active := p.activeLocked()
	if len(active) == 0 {
		for _, c := range p.creds {
			c.Active = true
		}
		active = p.creds
	}
	return active[p.cursor%len(active)]
}

func (p *Pool) activeLocked() []*Credential {
	active := make([]*Credential, 0, len(p.creds))
	for _, c := range p.creds {
		if c.Active {
			active = append(active, c)
		}
	}
	return active
}

// Advance moves the cursor forward over the full pool and returns the new
// current credential.
func (p *Pool) Advance() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursor = (p.cursor + 1) % len(p.creds)
	return *p.currentLocked()
}

// RecordSuccess bumps the success counter of the named credential.
func (p *Pool) RecordSuccess(name string) {
	p.record(name, true)
}

// RecordError bumps the error counter of the named credential. Credentials
// are never deactivated here.
func (p *Pool) RecordError(name string) {
	p.record(name, false)
}

func (p *Pool) record(name string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.Name != name {
			continue
		}
		if ok {
			c.SuccessCount++
		} else {
			c.ErrorCount++
		}
		c.LastUsed = p.now()
		return
	}
}

// SetActive toggles a credential by name. It reports whether the name exists.
func (p *Pool) SetActive(name string, active bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.creds {
		if c.Name == name {
			c.Active = active
			return true
		}
	}
	return false
}

// ActiveCount returns the number of usable credentials, counting the full
// pool when every member is inactive since the next Current call revives them.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.activeLocked())
	if n == 0 {
		return len(p.creds)
	}
	return n
}

// Snapshot returns copies of every credential in pool order.
func (p *Pool) Snapshot() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Credential, len(p.creds))
	for i, c := range p.creds {
		out[i] = *c
	}
	return out
}

// Stats is a read-only view of the pool for observability.
type Stats struct {
	TotalCredentials  int               `json:"totalCredentials"`
	ActiveCredentials int               `json:"activeCredentials"`
	TotalAttempts     int               `json:"totalAttempts"`
	SuccessRate       float64           `json:"successRate"`
	Credentials       []CredentialStats `json:"credentials"`
}

// CredentialStats is the per-credential breakdown inside Stats.
type CredentialStats struct {
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	SuccessCount int       `json:"successCount"`
	ErrorCount   int       `json:"errorCount"`
	SuccessRate  float64   `json:"successRate"`
	LastUsed     time.Time `json:"lastUsed,omitempty"`
}

// Stats derives aggregate counters from the current pool state.
func (p *Pool) Stats() Stats {
	creds := p.Snapshot()
	st := Stats{TotalCredentials: len(creds)}
	var successes int
	for _, c := range creds {
		attempts := c.SuccessCount + c.ErrorCount
		cs := CredentialStats{
			Name:         c.Name,
			Active:       c.Active,
			SuccessCount: c.SuccessCount,
			ErrorCount:   c.ErrorCount,
			LastUsed:     c.LastUsed,
		}
		if attempts > 0 {
			cs.SuccessRate = float64(c.SuccessCount) / float64(attempts)
		}
		if c.Active {
			st.ActiveCredentials++
		}
		st.TotalAttempts += attempts
		successes += c.SuccessCount
		st.Credentials = append(st.Credentials, cs)
	}
	if st.TotalAttempts > 0 {
		st.SuccessRate = float64(successes) / float64(st.TotalAttempts)
	}
	return st
}
