package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config limits one queue, or one kind within a queue when Kind is set.
type Config struct {
	Name string
	Kind string

	// MaxConcurrency caps simultaneously running jobs. Zero means no cap.
	MaxConcurrency int

	// RateLimit is the sustained admissions per second. Zero disables it.
	RateLimit float64

	// RateBurst is the token-bucket size. Defaults to 1 when RateLimit is
	// set.
	RateBurst int
}

func (c Config) key() string {
	if c.Kind == "" {
		return c.Name
	}
	return c.Name + "\x00" + c.Kind
}

type gate struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

func newGate(cfg Config) *gate {
	g := &gate{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return g
}

func (g *gate) full() bool {
	return g != nil && g.config.MaxConcurrency > 0 && g.active >= g.config.MaxConcurrency
}

func (g *gate) hasToken(now time.Time) bool {
	return g == nil || g.limiter == nil || g.limiter.TokensAt(now) >= 1
}

func (g *gate) take(now time.Time) {
	if g == nil {
		return
	}
	if g.limiter != nil {
		g.limiter.AllowN(now, 1)
	}
	g.active++
}

// Manager tracks admission state. Safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	gates map[string]*gate
}

// NewManager creates a Manager with the given limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{gates: make(map[string]*gate, len(configs))}
	for _, cfg := range configs {
		m.gates[cfg.key()] = newGate(cfg)
	}
	return m
}

// Acquire admits one job of kind from queue if every applicable limit
// allows it. Callers that get true must call Release when the job ends.
func (m *Manager) Acquire(queue, kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.gates[queue]
	k := m.gates[Config{Name: queue, Kind: kind}.key()]
	if kind == "" {
		k = nil
	}

	// Every limit is checked before any token is spent, so a refusal by
	// one gate leaves the others untouched.
	now := time.Now()
	if q.full() || k.full() || !q.hasToken(now) || !k.hasToken(now) {
		return false
	}
	q.take(now)
	k.take(now)
	return true
}

// Release returns the slot taken by Acquire.
func (m *Manager) Release(queue, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q := m.gates[queue]; q != nil && q.active > 0 {
		q.active--
	}
	if kind == "" {
		return
	}
	if k := m.gates[Config{Name: queue, Kind: kind}.key()]; k != nil && k.active > 0 {
		k.active--
	}
}

// Set replaces or adds a limit, keeping the current active count.
func (m *Manager) Set(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg)
	if old := m.gates[cfg.key()]; old != nil {
		g.active = old.active
	}
	m.gates[cfg.key()] = g
}

// Active returns the running count tracked for queue, or for kind within
// queue when kind is non-empty.
func (m *Manager) Active(queue, kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.gates[Config{Name: queue, Kind: kind}.key()]; g != nil {
		return g.active
	}
	return 0
}
