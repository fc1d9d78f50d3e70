package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/onetalk/router/internal/models"
)

var (
	// ErrInvalidTransition reports an illegal agent state change. The
	// dispatcher logs and ignores it; the admin API surfaces it.
	ErrInvalidTransition = errors.New("invalid agent state transition")
	ErrUnknownAgent      = errors.New("unknown agent")
)

type agentState struct {
	models.Agent
	assignSeq uint64 // 0 = never assigned
	order     int
}

// AgentRegistry tracks agents and their availability. Individual
// operations are safe for concurrent use; the dispatcher serializes
// the pick-then-mark sequence per department with its own lock.
type AgentRegistry struct {
	mu         sync.RWMutex
	agents     map[string]*agentState
	nextOrder  int
	nextAssign uint64
}

func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: map[string]*agentState{}}
}

func (r *AgentRegistry) Load(agents []models.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = map[string]*agentState{}
	r.nextOrder = 0
	for _, a := range agents {
		if a.Status == "" {
			a.Status = models.AgentAvailable
		}
		r.agents[a.ID] = &agentState{Agent: a, order: r.nextOrder}
		r.nextOrder++
	}
}

func (r *AgentRegistry) Add(a models.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[a.ID]; ok {
		return fmt.Errorf("agent %s already registered", a.ID)
	}
	if a.Status == "" {
		a.Status = models.AgentAvailable
	}
	if a.Role == "" {
		a.Role = models.RoleMember
	}
	a.UpdatedAt = time.Now().UTC()
	r.agents[a.ID] = &agentState{Agent: a, order: r.nextOrder}
	r.nextOrder++
	return nil
}

func (r *AgentRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[id]; !ok {
		return ErrUnknownAgent
	}
	delete(r.agents, id)
	return nil
}

func (r *AgentRegistry) Get(id string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.agents[id]
	if !ok {
		return models.Agent{}, false
	}
	return s.Agent, true
}

// AvailableAgent returns the available agent in the department that
// was assigned least recently, spreading load evenly. Among agents
// that are equally idle, leads come first, then registration order.
func (r *AgentRegistry) AvailableAgent(deptID string) (models.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *agentState
	for _, s := range r.agents {
		if s.DepartmentID != deptID || s.Status != models.AgentAvailable {
			continue
		}
		if best == nil || lessIdle(s, best) {
			best = s
		}
	}
	if best == nil {
		return models.Agent{}, false
	}
	return best.Agent, true
}

func lessIdle(a, b *agentState) bool {
	if a.assignSeq != b.assignSeq {
		return a.assignSeq < b.assignSeq
	}
	if (a.Role == models.RoleLead) != (b.Role == models.RoleLead) {
		return a.Role == models.RoleLead
	}
	return a.order < b.order
}

// MarkBusy transitions an agent to busy and stamps its assignment
// counter. Marking a busy agent busy again is a no-op: external
// status feeds may be delayed or duplicated.
func (r *AgentRegistry) MarkBusy(id string) error {
	return r.setStatus(id, models.AgentBusy)
}

func (r *AgentRegistry) MarkAvailable(id string) error {
	return r.setStatus(id, models.AgentAvailable)
}

func (r *AgentRegistry) MarkOffline(id string) error {
	return r.setStatus(id, models.AgentOffline)
}

func (r *AgentRegistry) SetStatus(id string, to models.AgentStatus) error {
	switch to {
	case models.AgentAvailable, models.AgentBusy, models.AgentOffline:
		return r.setStatus(id, to)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
}

func (r *AgentRegistry) setStatus(id string, to models.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.agents[id]
	if !ok {
		return ErrUnknownAgent
	}
	from := s.Status
	if from == to {
		return nil
	}
	if !transitionAllowed(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.Status = to
	s.UpdatedAt = time.Now().UTC()
	if to == models.AgentBusy {
		r.nextAssign++
		s.assignSeq = r.nextAssign
	}
	return nil
}

// available -> busy -> available is the assignment cycle; offline is
// reachable from both and returns only to available.
func transitionAllowed(from, to models.AgentStatus) bool {
	switch from {
	case models.AgentAvailable:
		return to == models.AgentBusy || to == models.AgentOffline
	case models.AgentBusy:
		return to == models.AgentAvailable || to == models.AgentOffline
	case models.AgentOffline:
		return to == models.AgentAvailable
	}
	return false
}

func (r *AgentRegistry) List(deptID string) []models.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	states := make([]*agentState, 0, len(r.agents))
	for _, s := range r.agents {
		if deptID == "" || s.DepartmentID == deptID {
			states = append(states, s)
		}
	}
	sort.Slice(states, func(i, j int) bool { return states[i].order < states[j].order })
	out := make([]models.Agent, 0, len(states))
	for _, s := range states {
		out = append(out, s.Agent)
	}
	return out
}

// Counts reports availability per status for a department.
func (r *AgentRegistry) Counts(deptID string) (available, busy, offline int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.agents {
		if s.DepartmentID != deptID {
			continue
		}
		switch s.Status {
		case models.AgentAvailable:
			available++
		case models.AgentBusy:
			busy++
		case models.AgentOffline:
			offline++
		}
	}
	return
}
