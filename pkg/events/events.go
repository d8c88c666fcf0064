// Package events carries the engine's typed progress and health events.
//
// Invariants:
// - Publishers never block: a full buffer drops the event after a short grace period.
// - Consumers subscribe explicitly through Events(); there is no ambient listener registration.
package events

import "time"

// Type identifies the kind of an engine event.
type Type string

const (
	TypeItemTransition Type = "item_transition"
	TypeRoutingDecided Type = "routing_decided"
	TypeHealthChanged  Type = "health_changed"
	TypePlanCompleted  Type = "plan_completed"
	TypeFusionDone     Type = "fusion_done"
)

// Event is a single engine event. Exactly one of the payload pointers is set,
// matching Type.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	ItemTransition *ItemTransition `json:"item_transition,omitempty"`
	RoutingDecided *RoutingDecided `json:"routing_decided,omitempty"`
	HealthChanged  *HealthChanged  `json:"health_changed,omitempty"`
	PlanCompleted  *PlanCompleted  `json:"plan_completed,omitempty"`
	FusionDone     *FusionDone     `json:"fusion_done,omitempty"`
}

// ItemTransition records a work item status change.
type ItemTransition struct {
	PlanID     string `json:"plan_id"`
	ItemID     string `json:"item_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Error      string `json:"error,omitempty"`
}

// RoutingDecided records the outcome of one routing request.
type RoutingDecided struct {
	RequestID      string   `json:"request_id"`
	ChosenProvider string   `json:"chosen_provider"`
	Model          string   `json:"model"`
	FallbacksUsed  []string `json:"fallbacks_used,omitempty"`
	FinalStatus    string   `json:"final_status"`
}

// HealthChanged records a provider health state transition.
type HealthChanged struct {
	ProviderID string `json:"provider_id"`
	FromState  string `json:"from_state"`
	ToState    string `json:"to_state"`
	LastError  string `json:"last_error,omitempty"`
}

// PlanCompleted records the terminal state of a plan run.
type PlanCompleted struct {
	PlanID    string `json:"plan_id"`
	Status    string `json:"status"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Blocked   int    `json:"blocked"`
	Total     int    `json:"total"`
}

// FusionDone records the outcome of one fusion call.
type FusionDone struct {
	RequestID      string  `json:"request_id"`
	Providers      int     `json:"providers"`
	AgreementRatio float64 `json:"agreement_ratio"`
	LowConfidence  bool    `json:"low_confidence"`
}
