package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/onetalk/router/internal/models"
	"github.com/onetalk/router/internal/notify"
	"github.com/onetalk/router/internal/registry"
	"github.com/onetalk/router/internal/rules"
)

// DecisionLog is the durable record of events and their routing
// decisions. A nil-safe implementation backed by Postgres lives in
// internal/db; tests use an in-memory one.
type DecisionLog interface {
	AppendDecision(ctx context.Context, ev models.InboundEvent, d models.RoutingDecision) error
	CompleteDecision(ctx context.Context, decisionID string, completedAt time.Time, duration time.Duration) error
	GetDecision(ctx context.Context, decisionID string) (models.RoutingDecision, error)
	// CallerAffinity returns the department that handled a caller's
	// previous communications, or "" for a first-time caller.
	CallerAffinity(ctx context.Context, number string) (string, error)
}

type Options struct {
	Agents               *registry.AgentRegistry
	Lines                *registry.LineRegistry
	Book                 *rules.Book
	Engine               *rules.Engine
	Log                  DecisionLog
	Sinks                []notify.Sink
	Logger               zerolog.Logger
	DefaultDepartment    string
	EscalationDepartment string
	// Grace bounds how long a dispatch waits for an agent to free up
	// before recording the event as unhandled.
	Grace time.Duration
}

// Dispatcher turns inbound events into routing decisions. Agent
// selection and line reservation form a critical section serialized
// per department; dispatches targeting different departments proceed
// in parallel. The event log append and sink notifications run after
// the department lock is released so slow collaborators never hold up
// other events.
type Dispatcher struct {
	agents *registry.AgentRegistry
	lines  *registry.LineRegistry
	book   *rules.Book
	engine *rules.Engine
	log    DecisionLog
	sinks  []notify.Sink
	logger zerolog.Logger

	defaultDept    string
	escalationDept string
	grace          time.Duration

	mu        sync.Mutex
	deptLocks map[string]*sync.Mutex
	freed     map[string]chan struct{}
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		agents:         opts.Agents,
		lines:          opts.Lines,
		book:           opts.Book,
		engine:         opts.Engine,
		log:            opts.Log,
		sinks:          opts.Sinks,
		logger:         opts.Logger,
		defaultDept:    opts.DefaultDepartment,
		escalationDept: opts.EscalationDepartment,
		grace:          opts.Grace,
		deptLocks:      map[string]*sync.Mutex{},
		freed:          map[string]chan struct{}{},
	}
}

// HandleIncomingCall is the telephony entry point for calls. The
// transcript may be empty when no transcription is available.
func (d *Dispatcher) HandleIncomingCall(ctx context.Context, fromNumber, toNumber, transcript string) models.RoutingDecision {
	return d.Dispatch(ctx, models.InboundEvent{
		ID:         uuid.NewString(),
		Channel:    models.ChannelCall,
		FromNumber: fromNumber,
		ToNumber:   toNumber,
		Content:    transcript,
		ReceivedAt: time.Now().UTC(),
	})
}

// HandleIncomingSMS is the telephony entry point for text messages.
func (d *Dispatcher) HandleIncomingSMS(ctx context.Context, fromNumber, toNumber, message string) models.RoutingDecision {
	return d.Dispatch(ctx, models.InboundEvent{
		ID:         uuid.NewString(),
		Channel:    models.ChannelSMS,
		FromNumber: fromNumber,
		ToNumber:   toNumber,
		Content:    message,
		ReceivedAt: time.Now().UTC(),
	})
}

// Dispatch always produces a decision: an event with no assignable
// agent or line is recorded as unhandled rather than dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.InboundEvent) models.RoutingDecision {
	res := d.engine.Classify(ev, d.book.Snapshot())

	var deptID, reason string
	switch {
	case res.Escalated:
		deptID = d.escalationDept
		if res.DepartmentID != "" {
			deptID = res.DepartmentID
		}
		reason = models.ReasonEmergency
	case res.VIP:
		deptID = res.DepartmentID
		reason = models.ReasonVIP
	case res.Matched:
		deptID = res.DepartmentID
		reason = models.ReasonRule
	default:
		deptID, reason = d.defaultTarget(ctx, ev)
	}

	assigned := d.assignWithGrace(ctx, deptID)

	dec := models.RoutingDecision{
		ID:           uuid.NewString(),
		EventID:      ev.ID,
		DepartmentID: deptID,
		Escalated:    res.Escalated,
		VIP:          res.VIP,
		Reason:       reason,
		DecidedAt:    time.Now().UTC(),
	}
	if res.Rule != nil {
		ruleID := res.Rule.ID
		dec.RuleID = &ruleID
	}
	if assigned.ok {
		dec.AgentID = &assigned.agentID
		dec.LineNumber = &assigned.line
		if assigned.dept != deptID {
			// Agent and line come from the escalation pool; the
			// decision's department follows so agent/line ownership
			// stays consistent.
			dec.DepartmentID = assigned.dept
			dec.Reason = models.ReasonFallbackAgent
		}
	} else {
		dec.Unhandled = true
		dec.Reason = assigned.failure
	}

	if d.log != nil {
		if err := d.log.AppendDecision(ctx, ev, dec); err != nil {
			d.logger.Error().Err(err).Str("event_id", ev.ID).Msg("event log append failed")
		}
	}
	d.deliver(ctx, dec)
	return dec
}

// defaultTarget resolves the department for events no rule matched:
// returning callers go back to the department that handled them,
// events addressed to a department-owned line go to that department,
// everything else to the configured default.
func (d *Dispatcher) defaultTarget(ctx context.Context, ev models.InboundEvent) (string, string) {
	if d.log != nil {
		dept, err := d.log.CallerAffinity(ctx, ev.FromNumber)
		if err != nil {
			d.logger.Warn().Err(err).Str("from", ev.FromNumber).Msg("caller affinity lookup failed")
		} else if dept != "" {
			return dept, models.ReasonAffinity
		}
	}
	if owner, ok := d.lines.Owner(ev.ToNumber); ok {
		return owner, models.ReasonLineOwner
	}
	return d.defaultDept, models.ReasonDefault
}

type assignment struct {
	agentID string
	line    string
	dept    string
	ok      bool
	failure string
}

func (d *Dispatcher) assignWithGrace(ctx context.Context, deptID string) assignment {
	deadline := time.Now().Add(d.grace)
	for {
		a := d.tryDepartment(deptID)
		if a.ok {
			return a
		}
		if deptID != d.escalationDept && d.escalationDept != "" {
			if fb := d.tryDepartment(d.escalationDept); fb.ok {
				return fb
			}
		}
		if d.grace <= 0 || !time.Now().Before(deadline) {
			return a
		}
		select {
		case <-d.freedCh(deptID):
		case <-time.After(time.Until(deadline)):
		case <-ctx.Done():
			return a
		}
	}
}

// tryDepartment is the per-department critical section: pick the
// least-recently-assigned available agent, mark it busy, and reserve
// the least-utilized line. A saturated line is retried with the next
// one; with an agent but no line the agent is released again and the
// attempt fails, never overcommitting capacity.
func (d *Dispatcher) tryDepartment(deptID string) assignment {
	mu := d.deptLock(deptID)
	mu.Lock()
	defer mu.Unlock()

	agent, ok := d.agents.AvailableAgent(deptID)
	if !ok {
		return assignment{dept: deptID, failure: models.ReasonNoAgent}
	}
	if err := d.agents.MarkBusy(agent.ID); err != nil {
		d.logger.Warn().Err(err).Str("agent_id", agent.ID).Msg("agent state transition rejected")
		return assignment{dept: deptID, failure: models.ReasonNoAgent}
	}
	for _, line := range d.lines.AvailableLines(deptID) {
		if err := d.lines.Reserve(line.Number); err != nil {
			if errors.Is(err, registry.ErrLineSaturated) {
				continue
			}
			d.logger.Warn().Err(err).Str("line", line.Number).Msg("line reservation failed")
			continue
		}
		return assignment{agentID: agent.ID, line: line.Number, dept: deptID, ok: true}
	}
	if err := d.agents.MarkAvailable(agent.ID); err != nil {
		d.logger.Warn().Err(err).Str("agent_id", agent.ID).Msg("agent rollback failed")
	}
	return assignment{dept: deptID, failure: models.ReasonNoLine}
}

// Complete releases the agent and line held by a decision and records
// the handling duration. Completing an already-completed decision is a
// no-op.
func (d *Dispatcher) Complete(ctx context.Context, decisionID string, duration time.Duration) error {
	if d.log == nil {
		return errors.New("no decision log configured")
	}
	dec, err := d.log.GetDecision(ctx, decisionID)
	if err != nil {
		return err
	}
	if dec.CompletedAt != nil {
		return nil
	}

	mu := d.deptLock(dec.DepartmentID)
	mu.Lock()
	if dec.AgentID != nil {
		if err := d.agents.MarkAvailable(*dec.AgentID); err != nil && !errors.Is(err, registry.ErrUnknownAgent) {
			d.logger.Warn().Err(err).Str("agent_id", *dec.AgentID).Msg("agent release rejected")
		}
	}
	if dec.LineNumber != nil {
		if err := d.lines.Release(*dec.LineNumber); err != nil && !errors.Is(err, registry.ErrUnknownLine) {
			d.logger.Warn().Err(err).Str("line", *dec.LineNumber).Msg("line release failed")
		}
	}
	mu.Unlock()
	d.signalFreed(dec.DepartmentID)

	return d.log.CompleteDecision(ctx, decisionID, time.Now().UTC(), duration)
}

// SetAgentStatus applies an external availability update. Illegal
// transitions are returned to the caller; stale or duplicate signals
// are no-ops inside the registry.
func (d *Dispatcher) SetAgentStatus(agentID string, status models.AgentStatus) error {
	if err := d.agents.SetStatus(agentID, status); err != nil {
		return err
	}
	if status == models.AgentAvailable {
		if a, ok := d.agents.Get(agentID); ok {
			d.signalFreed(a.DepartmentID)
		}
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, dec models.RoutingDecision) {
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := sink.Deliver(sctx, dec); err != nil {
			d.logger.Warn().Err(err).Str("sink", sink.Name()).Str("decision_id", dec.ID).Msg("notification delivery failed")
		}
		cancel()
	}
}

func (d *Dispatcher) deptLock(deptID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	mu, ok := d.deptLocks[deptID]
	if !ok {
		mu = &sync.Mutex{}
		d.deptLocks[deptID] = mu
	}
	return mu
}

func (d *Dispatcher) freedCh(deptID string) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	ch, ok := d.freed[deptID]
	if !ok {
		ch = make(chan struct{}, 1)
		d.freed[deptID] = ch
	}
	return ch
}

func (d *Dispatcher) signalFreed(deptID string) {
	select {
	case d.freedCh(deptID) <- struct{}{}:
	default:
	}
}
