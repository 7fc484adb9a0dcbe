package docker

import (
	"errors"
	"sync"
	"time"
)

// ErrDaemonUnavailable is returned without contacting the daemon while the
// guard is open.
var ErrDaemonUnavailable = errors.New("docker daemon unavailable")

// guardState tracks whether Engine API calls are attempted.
type guardState int

const (
	guardClosed  guardState = iota // calls go through
	guardOpen                      // calls fail fast
	guardProbing                   // cooldown elapsed; the next call decides
)

func (s guardState) String() string {
	switch s {
	case guardClosed:
		return "closed"
	case guardOpen:
		return "open"
	case guardProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// GuardConfig tunes how quickly an unreachable daemon is short-circuited.
type GuardConfig struct {
	Threshold int           // consecutive daemon failures before opening (default: 5)
	Cooldown  time.Duration // time open before probing again (default: 10s)
}

// guard short-circuits container lookups after repeated daemon failures.
type guard struct {
	mu        sync.Mutex
	state     guardState
	failures  int
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	now       func() time.Time
}

func newGuard(cfg GuardConfig) *guard {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	return &guard{
		threshold: cfg.Threshold,
		cooldown:  cfg.Cooldown,
		now:       time.Now,
	}
}

// allow reports whether a call should reach the daemon.
func (g *guard) allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == guardOpen && g.now().Sub(g.openedAt) >= g.cooldown {
		g.state = guardProbing
	}
	return g.state != guardOpen
}

// succeeded records a call the daemon answered, including "not found".
func (g *guard) succeeded() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = 0
	g.state = guardClosed
}

// failed records a call the daemon could not answer.
func (g *guard) failed() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	if g.state == guardProbing || g.failures >= g.threshold {
		g.state = guardOpen
		g.openedAt = g.now()
	}
}

func (g *guard) current() guardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
