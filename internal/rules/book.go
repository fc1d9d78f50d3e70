package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onetalk/router/internal/models"
)

// Book holds the active rule set. Rules are immutable once added
// except for enable/disable; the set is read-only during dispatch via
// Snapshot.
type Book struct {
	mu      sync.RWMutex
	rules   []models.RoutingRule
	nextSeq int
}

func NewBook() *Book {
	return &Book{}
}

// Load replaces the active set with persisted rules. Every rule must
// validate; a rule that does not is corrupted state and fails the
// load.
func (b *Book) Load(ruleset []models.RoutingRule) error {
	for _, r := range ruleset {
		if err := Validate(r); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rules = append([]models.RoutingRule(nil), ruleset...)
	b.nextSeq = 0
	for _, r := range b.rules {
		if r.Seq >= b.nextSeq {
			b.nextSeq = r.Seq + 1
		}
	}
	return nil
}

// Add validates the rule, stamps id, insertion seq, and creation time,
// and appends it to the active set.
func (b *Book) Add(r models.RoutingRule) (models.RoutingRule, error) {
	if err := Validate(r); err != nil {
		return models.RoutingRule{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	r.Seq = b.nextSeq
	b.nextSeq++
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	b.rules = append(b.rules, r)
	return r, nil
}

func (b *Book) Remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.rules {
		if r.ID == id {
			b.rules = append(b.rules[:i], b.rules[i+1:]...)
			return true
		}
	}
	return false
}

func (b *Book) SetEnabled(id string, enabled bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.rules {
		if b.rules[i].ID == id {
			b.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

func (b *Book) Get(id string) (models.RoutingRule, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.rules {
		if r.ID == id {
			return r, true
		}
	}
	return models.RoutingRule{}, false
}

// Snapshot returns a copy of the active set in insertion order.
func (b *Book) Snapshot() []models.RoutingRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]models.RoutingRule(nil), b.rules...)
}
