package notify

import (
	"context"
	"sync"

	"github.com/onetalk/router/internal/models"
)

// Sink receives routing decisions for delivery to an external system.
// Delivery is best-effort and happens outside the dispatch critical
// section; a failing sink never affects routing.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, d models.RoutingDecision) error
}

// MockSink records deliveries in memory. Used in dev mode when no
// webhook is configured, and by tests.
type MockSink struct {
	mu        sync.Mutex
	Delivered []models.RoutingDecision
}

func (m *MockSink) Name() string { return "mock" }

func (m *MockSink) Deliver(ctx context.Context, d models.RoutingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Delivered = append(m.Delivered, d)
	return nil
}

func (m *MockSink) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Delivered)
}
