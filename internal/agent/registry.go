package agent

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/quantumflow/scribe/internal/logging"
	"github.com/quantumflow/scribe/internal/models"
)

// Registry holds the live containers. Reads are lock-free against an
// immutable map snapshot; writers copy the map and swap it in.
type Registry struct {
	containers atomic.Pointer[map[string]*Container]
	writeMu    sync.Mutex
	logger     logging.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger logging.Logger) *Registry {
	r := &Registry{logger: logging.OrNoOp(logger)}
	empty := map[string]*Container{}
	r.containers.Store(&empty)
	return r
}

func (r *Registry) snapshot() map[string]*Container {
	return *r.containers.Load()
}

// Register adds a container; IDs must be unique
func (r *Registry) Register(c *Container) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.snapshot()
	if _, exists := cur[c.ID()]; exists {
		return fmt.Errorf("agent %s already registered", c.ID())
	}

	next := make(map[string]*Container, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[c.ID()] = c
	r.containers.Store(&next)

	r.logger.Info("agent registered", "agent_id", c.ID(), "agent_type", string(c.Type()), "generation", string(c.Generation()))
	return nil
}

// Unregister removes a container. Requests already holding it finish normally.
func (r *Registry) Unregister(id string) (*Container, bool) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := r.snapshot()
	c, ok := cur[id]
	if !ok {
		return nil, false
	}

	next := make(map[string]*Container, len(cur))
	for k, v := range cur {
		if k != id {
			next[k] = v
		}
	}
	r.containers.Store(&next)

	r.logger.Info("agent unregistered", "agent_id", id)
	return c, true
}

// Get looks up a container by ID
func (r *Registry) Get(id string) (*Container, bool) {
	c, ok := r.snapshot()[id]
	return c, ok
}

// All returns every container ordered by ID
func (r *Registry) All() []*Container {
	snap := r.snapshot()
	out := make([]*Container, 0, len(snap))
	for _, c := range snap {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ByType returns the containers of one agent type ordered by ID
func (r *Registry) ByType(t models.AgentType) []*Container {
	var out []*Container
	for _, c := range r.All() {
		if c.Type() == t {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered containers
func (r *Registry) Len() int {
	return len(r.snapshot())
}

// Select picks the container best able to serve (t, gen): healthy before
// degraded before failed, idle before busy. A failed container is still
// returned when it is the only candidate so the caller gets a structured
// failure rather than no answer at all.
func (r *Registry) Select(t models.AgentType, gen models.Generation) (*Container, error) {
	var best *Container
	bestRank := 0
	for _, c := range r.ByType(t) {
		if c.Generation() != gen {
			continue
		}
		rank := statusRank(c.Health().Status) * 2
		if c.Busy() {
			rank++
		}
		if best == nil || rank < bestRank {
			best, bestRank = c, rank
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s/%s", models.ErrNoAgent, gen, t)
	}
	return best, nil
}

func statusRank(s models.HealthStatus) int {
	switch s {
	case models.HealthHealthy:
		return 0
	case models.HealthDegraded:
		return 1
	default:
		return 2
	}
}

// SystemHealth polls every container
func (r *Registry) SystemHealth() map[string]models.AgentHealth {
	snap := r.snapshot()
	out := make(map[string]models.AgentHealth, len(snap))
	for id, c := range snap {
		out[id] = c.Health()
	}
	return out
}
