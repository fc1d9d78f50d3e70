package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/onetalk/router/internal/models"
)

var (
	// ErrLineSaturated is returned when a reservation would exceed a
	// line's concurrent call capacity. Overselling a line implies a
	// physically impossible call count, so reservation fails instead.
	ErrLineSaturated = errors.New("line saturated")
	ErrUnknownLine   = errors.New("unknown line")
)

// LineRegistry tracks phone lines and their utilization.
type LineRegistry struct {
	mu    sync.RWMutex
	lines map[string]*models.Line
}

func NewLineRegistry() *LineRegistry {
	return &LineRegistry{lines: map[string]*models.Line{}}
}

func (r *LineRegistry) Load(lines []models.Line) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = map[string]*models.Line{}
	for _, l := range lines {
		cp := l
		r.lines[l.Number] = &cp
	}
}

func (r *LineRegistry) Add(l models.Line) error {
	if l.Capacity < 1 {
		return fmt.Errorf("line %s: capacity must be at least 1", l.Number)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lines[l.Number]; ok {
		return fmt.Errorf("line %s already provisioned", l.Number)
	}
	cp := l
	r.lines[l.Number] = &cp
	return nil
}

func (r *LineRegistry) Remove(number string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.lines[number]; !ok {
		return ErrUnknownLine
	}
	delete(r.lines, number)
	return nil
}

func (r *LineRegistry) Get(number string) (models.Line, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lines[number]
	if !ok {
		return models.Line{}, false
	}
	return *l, true
}

// Owner reports which department owns a number, used to default
// routing for events addressed to a department-owned line.
func (r *LineRegistry) Owner(number string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lines[number]
	if !ok {
		return "", false
	}
	return l.DepartmentID, true
}

// AvailableLines returns the department's lines with spare capacity,
// least-utilized first (by utilization ratio, then number).
func (r *LineRegistry) AvailableLines(deptID string) []models.Line {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Line
	for _, l := range r.lines {
		if l.DepartmentID == deptID && l.Utilization < l.Capacity {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ri := float64(out[i].Utilization) / float64(out[i].Capacity)
		rj := float64(out[j].Utilization) / float64(out[j].Capacity)
		if ri != rj {
			return ri < rj
		}
		return out[i].Number < out[j].Number
	})
	return out
}

func (r *LineRegistry) Reserve(number string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[number]
	if !ok {
		return ErrUnknownLine
	}
	if l.Utilization >= l.Capacity {
		return fmt.Errorf("%w: %s at %d/%d", ErrLineSaturated, number, l.Utilization, l.Capacity)
	}
	l.Utilization++
	return nil
}

// Release decrements utilization, clamping at zero so duplicate
// release signals stay safe.
func (r *LineRegistry) Release(number string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lines[number]
	if !ok {
		return ErrUnknownLine
	}
	if l.Utilization > 0 {
		l.Utilization--
	}
	return nil
}

func (r *LineRegistry) List(deptID string) []models.Line {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Line
	for _, l := range r.lines {
		if deptID == "" || l.DepartmentID == deptID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Utilization sums current and maximum concurrent capacity across a
// department's lines.
func (r *LineRegistry) Utilization(deptID string) (used, capacity int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.lines {
		if l.DepartmentID == deptID {
			used += l.Utilization
			capacity += l.Capacity
		}
	}
	return
}
