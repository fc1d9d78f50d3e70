package models

import "time"

type Channel string

const (
	ChannelCall Channel = "call"
	ChannelSMS  Channel = "sms"
)

type AgentStatus string

const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

type AgentRole string

const (
	RoleLead   AgentRole = "lead"
	RoleMember AgentRole = "member"
)

type RuleKind string

const (
	RuleKeyword          RuleKind = "keyword"
	RulePhonePattern     RuleKind = "phone_pattern"
	RuleEmergencyKeyword RuleKind = "emergency_keyword"
	RuleVIPPattern       RuleKind = "vip_pattern"
)

type Department struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Escalation bool   `json:"escalation"`
}

type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	DepartmentID string      `json:"department_id"`
	Role         AgentRole   `json:"role"`
	Status       AgentStatus `json:"status"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Line is a phone number owned by exactly one department. Utilization
// counts concurrent active assignments and never exceeds Capacity.
type Line struct {
	Number       string `json:"number"`
	DepartmentID string `json:"department_id"`
	Utilization  int    `json:"utilization"`
	Capacity     int    `json:"capacity"`
}

// RoutingRule maps a condition to a target department. Seq records
// insertion order and breaks ties between rules of equal priority.
type RoutingRule struct {
	ID           string    `json:"id"`
	Kind         RuleKind  `json:"kind"`
	Value        string    `json:"value"`
	DepartmentID string    `json:"department_id"`
	Priority     int       `json:"priority"`
	Enabled      bool      `json:"enabled"`
	Seq          int       `json:"seq"`
	CreatedAt    time.Time `json:"created_at"`
}

type InboundEvent struct {
	ID         string    `json:"id"`
	Channel    Channel   `json:"channel"`
	FromNumber string    `json:"from_number"`
	ToNumber   string    `json:"to_number"`
	Content    string    `json:"content,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// RoutingDecision is the immutable outcome of dispatching one event.
// AgentID and LineNumber are nil when nobody could take the event, in
// which case Unhandled is set so the event surfaces for follow-up.
type RoutingDecision struct {
	ID           string     `json:"id"`
	EventID      string     `json:"event_id"`
	RuleID       *string    `json:"rule_id"`
	DepartmentID string     `json:"department_id"`
	AgentID      *string    `json:"agent_id"`
	LineNumber   *string    `json:"line_number"`
	Escalated    bool       `json:"escalated"`
	VIP          bool       `json:"vip"`
	Unhandled    bool       `json:"unhandled"`
	Reason       string     `json:"reason"`
	DecidedAt    time.Time  `json:"decided_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationSec  int        `json:"duration_sec,omitempty"`
}

const (
	ReasonRule          = "rule"
	ReasonEmergency     = "emergency"
	ReasonVIP           = "vip"
	ReasonAffinity      = "returning_caller"
	ReasonLineOwner     = "line_owner"
	ReasonDefault       = "default"
	ReasonFallbackAgent = "fallback_agent"
	ReasonNoAgent       = "no_agent_available"
	ReasonNoLine        = "no_line_available"
)
