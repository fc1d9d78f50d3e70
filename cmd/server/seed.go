package main

import (
	"context"

	"github.com/onetalk/router/internal/db"
	"github.com/onetalk/router/internal/models"
	"github.com/onetalk/router/internal/registry"
	"github.com/onetalk/router/internal/rules"
)

func demoDepartments() []models.Department {
	return []models.Department{
		{ID: "sales", Name: "Sales"},
		{ID: "credit_analysis", Name: "Credit Analysis"},
		{ID: "vehicle_transport", Name: "Vehicle Transport"},
		{ID: "customer_service", Name: "Customer Service"},
		{ID: "admin", Name: "Admin", Escalation: true},
	}
}

func demoAgents() []models.Agent {
	return []models.Agent{
		{ID: "alice", Name: "Alice Johnson", DepartmentID: "sales", Role: models.RoleLead},
		{ID: "bob", Name: "Bob Martinez", DepartmentID: "sales", Role: models.RoleMember},
		{ID: "carol", Name: "Carol Chen", DepartmentID: "credit_analysis", Role: models.RoleLead},
		{ID: "david", Name: "David Okafor", DepartmentID: "credit_analysis", Role: models.RoleMember},
		{ID: "eve", Name: "Eve Williams", DepartmentID: "vehicle_transport", Role: models.RoleLead},
		{ID: "frank", Name: "Frank Russo", DepartmentID: "customer_service", Role: models.RoleMember},
		{ID: "grace", Name: "Grace Kim", DepartmentID: "customer_service", Role: models.RoleLead},
		{ID: "hannah", Name: "Hannah Lee", DepartmentID: "admin", Role: models.RoleLead},
	}
}

func demoLines() []models.Line {
	return []models.Line{
		{Number: "+1-555-0100", DepartmentID: "sales", Capacity: 3},
		{Number: "+1-555-0101", DepartmentID: "sales", Capacity: 2},
		{Number: "+1-555-0200", DepartmentID: "credit_analysis", Capacity: 2},
		{Number: "+1-555-0300", DepartmentID: "vehicle_transport", Capacity: 2},
		{Number: "+1-555-0400", DepartmentID: "customer_service", Capacity: 4},
		{Number: "+1-555-0900", DepartmentID: "admin", Capacity: 2},
	}
}

func demoRules() []models.RoutingRule {
	return []models.RoutingRule{
		{Kind: models.RuleKeyword, Value: "buy", DepartmentID: "sales", Priority: 5},
		{Kind: models.RuleKeyword, Value: "purchase", DepartmentID: "sales", Priority: 5},
		{Kind: models.RuleKeyword, Value: "loan", DepartmentID: "credit_analysis", Priority: 6},
		{Kind: models.RuleKeyword, Value: "financing", DepartmentID: "credit_analysis", Priority: 6},
		{Kind: models.RuleKeyword, Value: "shipping", DepartmentID: "vehicle_transport", Priority: 6},
		{Kind: models.RuleKeyword, Value: "delivery", DepartmentID: "vehicle_transport", Priority: 5},
		{Kind: models.RulePhonePattern, Value: "+1800*", DepartmentID: "sales", Priority: 4},
		{Kind: models.RuleVIPPattern, Value: "+1-555-99*", DepartmentID: "sales", Priority: 5},
		{Kind: models.RuleEmergencyKeyword, Value: "accident", DepartmentID: "admin", Priority: 10},
	}
}

func seedInMemory(agents *registry.AgentRegistry, lines *registry.LineRegistry, book *rules.Book) []models.Department {
	agents.Load(demoAgents())
	lines.Load(demoLines())
	for _, r := range demoRules() {
		r.Enabled = true
		_, _ = book.Add(r)
	}
	return demoDepartments()
}

// seedDemoData populates an empty database with a working demo
// configuration and mirrors it into the registries.
func seedDemoData(ctx context.Context, store *db.Store, agents *registry.AgentRegistry, lines *registry.LineRegistry, book *rules.Book) ([]models.Department, error) {
	departments := seedInMemory(agents, lines, book)
	for _, d := range departments {
		if err := store.UpsertDepartment(ctx, d); err != nil {
			return nil, err
		}
	}
	for _, a := range agents.List("") {
		if err := store.UpsertAgent(ctx, a); err != nil {
			return nil, err
		}
	}
	for _, l := range lines.List("") {
		if err := store.UpsertLine(ctx, l); err != nil {
			return nil, err
		}
	}
	for _, r := range book.Snapshot() {
		if err := store.UpsertRule(ctx, r); err != nil {
			return nil, err
		}
	}
	return departments, nil
}
