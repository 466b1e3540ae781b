package hub

import (
	"context"
	"log"
	"sync"
	"time"

	"liveclass/internal/router"
	"liveclass/internal/session"
)

// Hub runs the periodic housekeeping that no single connection owns: expiring
// typing indicators whose TTL passed and pruning idle rate-limiter state.
// ARCHITECTURAL DISCOVERY: Room mutations stay inside the session package;
// the hub only drives them on a timer, so it never holds a room lock itself.
type Hub struct {
	registry    *session.Registry
	rateLimiter *router.RateLimiter
	interval    time.Duration
	now         func() time.Time

	shutdownChannel chan struct{}
	done            chan struct{}

	running bool
	mu      sync.RWMutex
}

// SweepResult reports what a single sweep cleaned up.
type SweepResult struct {
	TypingExpired  int
	LimiterEntries int
}

// NewHub creates a hub that sweeps every interval.
func NewHub(registry *session.Registry, rateLimiter *router.RateLimiter, interval time.Duration) *Hub {
	if interval <= 0 {
		interval = time.Second
	}
	return &Hub{
		registry:    registry,
		rateLimiter: rateLimiter,
		interval:    interval,
		now:         time.Now,
	}
}

// Start begins the sweep loop
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	log.Printf("Starting session janitor: interval=%s", h.interval)
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop shuts the loop down and waits for it to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	log.Println("Stopping session janitor...")
	<-done
	return nil
}

// IsRunning reports whether the loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Sweep runs one housekeeping pass
func (h *Hub) Sweep() SweepResult {
	result := SweepResult{}
	if h.registry != nil {
		result.TypingExpired = h.registry.ExpireTyping(h.now())
	}
	if h.rateLimiter != nil {
		result.LimiterEntries = h.rateLimiter.Cleanup()
	}
	return result
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Println("Session janitor stopped")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result := h.Sweep()
			if result.TypingExpired > 0 || result.LimiterEntries > 0 {
				log.Printf("Janitor sweep: typing_expired=%d limiter_pruned=%d", result.TypingExpired, result.LimiterEntries)
			}

		case <-shutdown:
			return

		case <-ctx.Done():
			log.Println("Session janitor context cancelled")
			return
		}
	}
}
