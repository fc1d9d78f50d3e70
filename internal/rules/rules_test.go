package rules

import (
	"errors"
	"testing"

	"github.com/onetalk/router/internal/models"
)

func ruleset(rs ...models.RoutingRule) []models.RoutingRule {
	for i := range rs {
		rs[i].Enabled = true
		rs[i].Seq = i
		if rs[i].ID == "" {
			rs[i].ID = rs[i].Value
		}
	}
	return rs
}

func TestClassifyKeywordRule(t *testing.T) {
	e := NewEngine("")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis", Priority: 5},
	)
	ev := models.InboundEvent{Channel: models.ChannelSMS, Content: "Need help with my loan application"}

	res := e.Classify(ev, rs)
	if !res.Matched || res.DepartmentID != "credit_analysis" {
		t.Fatalf("expected credit_analysis, got %+v", res)
	}
	if res.Escalated {
		t.Fatalf("keyword match must not escalate")
	}
}

func TestClassifyEmergencyWinsRegardlessOfPriority(t *testing.T) {
	e := NewEngine("")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleKeyword, Value: "truck", DepartmentID: "vehicle_transport", Priority: 1},
		models.RoutingRule{Kind: models.RuleEmergencyKeyword, Value: "emergency", DepartmentID: "admin", Priority: 99},
	)
	ev := models.InboundEvent{Channel: models.ChannelCall, Content: "EMERGENCY our truck broke down"}

	res := e.Classify(ev, rs)
	if !res.Escalated {
		t.Fatalf("expected escalation, got %+v", res)
	}
	if res.Rule == nil || res.Rule.Kind != models.RuleEmergencyKeyword {
		t.Fatalf("expected emergency rule to win, got %+v", res.Rule)
	}
}

func TestClassifyBuiltinVocabularyEscalates(t *testing.T) {
	e := NewEngine("")
	ev := models.InboundEvent{Channel: models.ChannelCall, Content: "EMERGENCY customer stuck roadside"}

	res := e.Classify(ev, nil)
	if !res.Escalated {
		t.Fatalf("expected built-in vocabulary to escalate, got %+v", res)
	}
}

func TestClassifyConfiguredSynonymEscalates(t *testing.T) {
	e := NewEngine("", "crisis")
	ev := models.InboundEvent{Channel: models.ChannelSMS, Content: "this is a crisis situation"}

	if res := e.Classify(ev, nil); !res.Escalated {
		t.Fatalf("expected configured synonym to escalate, got %+v", res)
	}
}

func TestClassifyLowerPriorityNumberWins(t *testing.T) {
	e := NewEngine("")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleKeyword, Value: "vehicle", DepartmentID: "customer_service", Priority: 9},
		models.RoutingRule{Kind: models.RuleKeyword, Value: "vehicle", DepartmentID: "vehicle_transport", Priority: 2},
	)
	ev := models.InboundEvent{Content: "vehicle transport quote"}

	res := e.Classify(ev, rs)
	if res.DepartmentID != "vehicle_transport" {
		t.Fatalf("expected vehicle_transport, got %+v", res)
	}
}

func TestClassifyEqualPriorityInsertionOrder(t *testing.T) {
	e := NewEngine("")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleKeyword, Value: "help", DepartmentID: "customer_service", Priority: 5},
		models.RoutingRule{Kind: models.RuleKeyword, Value: "help", DepartmentID: "sales", Priority: 5},
	)
	ev := models.InboundEvent{Content: "please help"}

	res := e.Classify(ev, rs)
	if res.DepartmentID != "customer_service" {
		t.Fatalf("expected first-defined rule to win, got %+v", res)
	}
}

func TestClassifyVIPOutranksKeywordAtEqualPriority(t *testing.T) {
	e := NewEngine("sales")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis", Priority: 5},
		models.RoutingRule{Kind: models.RuleVIPPattern, Value: "555-0001", DepartmentID: "sales", Priority: 5},
	)
	ev := models.InboundEvent{FromNumber: "+1-555-0001", Content: "loan question"}

	res := e.Classify(ev, rs)
	if !res.VIP || res.DepartmentID != "sales" {
		t.Fatalf("expected VIP routing to sales, got %+v", res)
	}
	if res.Escalated {
		t.Fatalf("VIP match is flagged but not escalated")
	}
}

func TestClassifyVIPForcesConfiguredDepartment(t *testing.T) {
	e := NewEngine("sales")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleVIPPattern, Value: "555-0001", DepartmentID: "customer_service", Priority: 1},
	)
	ev := models.InboundEvent{FromNumber: "+1-555-0001"}

	res := e.Classify(ev, rs)
	if res.DepartmentID != "sales" {
		t.Fatalf("expected VIP department override, got %+v", res)
	}
}

func TestClassifyPhonePatternGlob(t *testing.T) {
	e := NewEngine("")
	rs := ruleset(
		models.RoutingRule{Kind: models.RulePhonePattern, Value: "*CREDIT*", DepartmentID: "credit_analysis", Priority: 5},
	)
	ev := models.InboundEvent{FromNumber: "+1234567890", ToNumber: "+1-555-CREDIT-01"}

	res := e.Classify(ev, rs)
	if res.DepartmentID != "credit_analysis" {
		t.Fatalf("expected glob pattern match, got %+v", res)
	}
}

func TestClassifyPhonePatternSubstring(t *testing.T) {
	e := NewEngine("")
	rs := ruleset(
		models.RoutingRule{Kind: models.RulePhonePattern, Value: "555-transport", DepartmentID: "vehicle_transport", Priority: 5},
	)
	ev := models.InboundEvent{ToNumber: "+1-555-TRANSPORT-01"}

	res := e.Classify(ev, rs)
	if res.DepartmentID != "vehicle_transport" {
		t.Fatalf("expected substring pattern match, got %+v", res)
	}
}

func TestClassifySkipsDisabledRules(t *testing.T) {
	e := NewEngine("")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis", Priority: 5},
	)
	rs[0].Enabled = false
	ev := models.InboundEvent{Content: "loan application"}

	if res := e.Classify(ev, rs); res.Matched {
		t.Fatalf("disabled rule must not match, got %+v", res)
	}
}

func TestClassifyNoMatch(t *testing.T) {
	e := NewEngine("")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis", Priority: 5},
	)
	ev := models.InboundEvent{Content: "hello there"}

	res := e.Classify(ev, rs)
	if res.Matched || res.Escalated || res.DepartmentID != "" {
		t.Fatalf("expected no match, got %+v", res)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	e := NewEngine("sales")
	rs := ruleset(
		models.RoutingRule{Kind: models.RuleKeyword, Value: "buy", DepartmentID: "sales", Priority: 5},
		models.RoutingRule{Kind: models.RulePhonePattern, Value: "*SUPPORT*", DepartmentID: "customer_service", Priority: 5},
	)
	ev := models.InboundEvent{FromNumber: "+1-555-1234", ToNumber: "+1-555-SUPPORT-01", Content: "want to buy a car"}

	first := e.Classify(ev, rs)
	for i := 0; i < 10; i++ {
		got := e.Classify(ev, rs)
		if got.DepartmentID != first.DepartmentID || got.Escalated != first.Escalated {
			t.Fatalf("classification not deterministic: %+v vs %+v", first, got)
		}
	}
}

func TestValidateRejectsMalformedRules(t *testing.T) {
	cases := []models.RoutingRule{
		{Kind: models.RuleKeyword, Value: "", DepartmentID: "sales"},
		{Kind: models.RuleKeyword, Value: "   ", DepartmentID: "sales"},
		{Kind: "time_based", Value: "09:00", DepartmentID: "sales"},
		{Kind: models.RulePhonePattern, Value: "[", DepartmentID: "sales"},
		{Kind: models.RuleKeyword, Value: "loan", DepartmentID: ""},
	}
	for _, c := range cases {
		if err := Validate(c); !errors.Is(err, ErrInvalidRule) {
			t.Fatalf("expected ErrInvalidRule for %+v, got %v", c, err)
		}
	}
	ok := models.RoutingRule{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis"}
	if err := Validate(ok); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}
}

func TestBookAddAssignsSequence(t *testing.T) {
	b := NewBook()
	r1, err := b.Add(models.RoutingRule{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis", Priority: 5, Enabled: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	r2, err := b.Add(models.RoutingRule{Kind: models.RuleKeyword, Value: "buy", DepartmentID: "sales", Priority: 5, Enabled: true})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if r1.Seq >= r2.Seq {
		t.Fatalf("expected increasing seq, got %d then %d", r1.Seq, r2.Seq)
	}
	if r1.ID == "" || r1.ID == r2.ID {
		t.Fatalf("expected distinct generated ids")
	}
}

func TestBookRejectsInvalidRule(t *testing.T) {
	b := NewBook()
	if _, err := b.Add(models.RoutingRule{Kind: models.RuleKeyword, Value: ""}); !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	if len(b.Snapshot()) != 0 {
		t.Fatalf("invalid rule must not enter the active set")
	}
}

func TestBookSetEnabled(t *testing.T) {
	b := NewBook()
	r, _ := b.Add(models.RoutingRule{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis", Enabled: true})
	if !b.SetEnabled(r.ID, false) {
		t.Fatalf("expected rule found")
	}
	got, _ := b.Get(r.ID)
	if got.Enabled {
		t.Fatalf("expected rule disabled")
	}
	if b.SetEnabled("missing", true) {
		t.Fatalf("expected missing rule to report false")
	}
}

func TestBookRemove(t *testing.T) {
	b := NewBook()
	r, _ := b.Add(models.RoutingRule{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis", Enabled: true})
	if !b.Remove(r.ID) {
		t.Fatalf("expected removal")
	}
	if len(b.Snapshot()) != 0 {
		t.Fatalf("expected empty book")
	}
}
