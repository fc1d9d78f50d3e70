package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/onetalk/router/internal/models"
)

// ErrInvalidRule is returned when a rule is rejected at creation time.
// Dispatch never sees invalid rules; they are simply never added to
// the active set.
var ErrInvalidRule = errors.New("invalid routing rule")

// Escalation vocabulary that always triggers emergency routing, even
// when no emergency_keyword rule is configured.
var baseEscalationVocab = []string{"EMERGENCY", "URGENT"}

type Result struct {
	DepartmentID string
	Rule         *models.RoutingRule
	Escalated    bool
	VIP          bool
	Matched      bool
}

type Engine struct {
	vocab   []string
	vipDept string
}

// NewEngine builds a classifier. vipDept, when non-empty, overrides
// the target of any matching vip_pattern rule. extraVocab extends the
// built-in escalation vocabulary (EMERGENCY, URGENT).
func NewEngine(vipDept string, extraVocab ...string) *Engine {
	vocab := make([]string, 0, len(baseEscalationVocab)+len(extraVocab))
	vocab = append(vocab, baseEscalationVocab...)
	for _, w := range extraVocab {
		w = strings.ToUpper(strings.TrimSpace(w))
		if w != "" {
			vocab = append(vocab, w)
		}
	}
	return &Engine{vocab: vocab, vipDept: vipDept}
}

// Classify evaluates the rule set against an inbound event.
//
// Emergency rules are checked across the whole set first and
// short-circuit regardless of configured priority. Remaining rules are
// evaluated in ascending priority; ties break by insertion order,
// except vip_pattern rules which win over other kinds at equal
// priority. Classification is deterministic for a given rule set.
func (e *Engine) Classify(event models.InboundEvent, ruleset []models.RoutingRule) Result {
	content := strings.ToUpper(event.Content)

	for i := range ruleset {
		r := &ruleset[i]
		if !r.Enabled || r.Kind != models.RuleEmergencyKeyword {
			continue
		}
		if content != "" && strings.Contains(content, strings.ToUpper(r.Value)) {
			return Result{DepartmentID: r.DepartmentID, Rule: r, Escalated: true, Matched: true}
		}
	}
	for _, w := range e.vocab {
		if content != "" && strings.Contains(content, w) {
			return Result{Escalated: true}
		}
	}

	ordered := make([]models.RoutingRule, 0, len(ruleset))
	for _, r := range ruleset {
		if r.Enabled && r.Kind != models.RuleEmergencyKeyword {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		if ri, rj := kindRank(ordered[i].Kind), kindRank(ordered[j].Kind); ri != rj {
			return ri < rj
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	for i := range ordered {
		r := ordered[i]
		switch r.Kind {
		case models.RuleKeyword:
			if content != "" && strings.Contains(content, strings.ToUpper(r.Value)) {
				return Result{DepartmentID: r.DepartmentID, Rule: &ordered[i], Matched: true}
			}
		case models.RulePhonePattern:
			if matchNumber(r.Value, event.FromNumber) || matchNumber(r.Value, event.ToNumber) {
				return Result{DepartmentID: r.DepartmentID, Rule: &ordered[i], Matched: true}
			}
		case models.RuleVIPPattern:
			if matchNumber(r.Value, event.FromNumber) {
				dept := r.DepartmentID
				if e.vipDept != "" {
					dept = e.vipDept
				}
				return Result{DepartmentID: dept, Rule: &ordered[i], VIP: true, Matched: true}
			}
		}
	}
	return Result{}
}

// vip_pattern outranks other kinds at equal priority: VIP misrouting
// has higher business cost than a keyword mismatch.
func kindRank(k models.RuleKind) int {
	if k == models.RuleVIPPattern {
		return 0
	}
	return 1
}

// matchNumber tests a phone pattern against a number. Patterns with
// glob metacharacters match the whole number; plain patterns match as
// a case-insensitive substring, so "555-CREDIT" catches
// "+1-555-CREDIT-01".
func matchNumber(pattern, number string) bool {
	if number == "" || pattern == "" {
		return false
	}
	p := strings.ToUpper(pattern)
	n := strings.ToUpper(number)
	if strings.ContainsAny(p, "*?[") {
		g, err := glob.Compile(p)
		if err != nil {
			return false
		}
		return g.Match(n)
	}
	return strings.Contains(n, p)
}

// Validate rejects malformed rules before they reach the active set.
func Validate(r models.RoutingRule) error {
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("%w: empty condition value", ErrInvalidRule)
	}
	if strings.TrimSpace(r.DepartmentID) == "" {
		return fmt.Errorf("%w: missing target department", ErrInvalidRule)
	}
	switch r.Kind {
	case models.RuleKeyword, models.RulePhonePattern, models.RuleEmergencyKeyword, models.RuleVIPPattern:
	default:
		return fmt.Errorf("%w: unknown condition kind %q", ErrInvalidRule, r.Kind)
	}
	if strings.ContainsAny(r.Value, "*?[") {
		if _, err := glob.Compile(strings.ToUpper(r.Value)); err != nil {
			return fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidRule, r.Value, err)
		}
	}
	return nil
}
