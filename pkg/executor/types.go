package executor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-cli/maestro/pkg/router"
)

// Status is the lifecycle state of a work item or plan.
type Status string

const (
	StatusPending    Status = "pending"
	StatusBlocked    Status = "blocked"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Kind distinguishes plan tasks from model-requested tool calls. Both are
// scheduled and executed the same way.
type Kind string

const (
	KindTask Kind = "task"
	KindTool Kind = "tool"
)

// WorkItem is a single schedulable unit. The payload is opaque to the
// engine; the provider call is what interprets it.
type WorkItem struct {
	ID         string                 `json:"id"`
	Kind       Kind                   `json:"kind"`
	Name       string                 `json:"name"`
	Prompt     string                 `json:"prompt,omitempty"`
	Params     map[string]interface{} `json:"params,omitempty"`
	DependsOn  []string               `json:"depends_on,omitempty"`
	Cacheable  bool                   `json:"cacheable,omitempty"`
	Complexity router.Complexity      `json:"complexity,omitempty"`

	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Plan is an ordered collection of work items plus their dependency map.
// A plan is owned by one engine run and discarded afterwards.
type Plan struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Items       []WorkItem `json:"items"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`

	// itemsMu guards item Status and Error fields, which level workers
	// write and read concurrently.
	itemsMu sync.Mutex
}

// NewPlan creates a plan over the given items, assigning ids where absent.
// Cycle detection happens at schedule-build time, not here.
func NewPlan(description string, items []WorkItem) (*Plan, error) {
	if description == "" {
		return nil, fmt.Errorf("plan description cannot be empty")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("plan must have at least one item")
	}

	seen := make(map[string]bool, len(items))
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = fmt.Sprintf("item-%d", i+1)
		}
		if seen[items[i].ID] {
			return nil, fmt.Errorf("duplicate item id: %s", items[i].ID)
		}
		seen[items[i].ID] = true

		if items[i].Kind == "" {
			items[i].Kind = KindTask
		}
		if items[i].Status == "" {
			items[i].Status = StatusPending
		}
	}

	return &Plan{
		ID:          uuid.New().String(),
		Description: description,
		Items:       items,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}, nil
}

// setItemState moves an item to a new status under the plan lock and
// returns the previous status.
func (p *Plan) setItemState(item *WorkItem, to Status, errText string) Status {
	p.itemsMu.Lock()
	defer p.itemsMu.Unlock()
	from := item.Status
	item.Status = to
	item.Error = errText
	return from
}

// itemState reads an item's status and error under the plan lock.
func (p *Plan) itemState(item *WorkItem) (Status, string) {
	p.itemsMu.Lock()
	defer p.itemsMu.Unlock()
	return item.Status, item.Error
}

// countStatus counts items currently in the given status.
func (p *Plan) countStatus(status Status) int {
	p.itemsMu.Lock()
	defer p.itemsMu.Unlock()
	n := 0
	for i := range p.Items {
		if p.Items[i].Status == status {
			n++
		}
	}
	return n
}

// Dependencies returns the plan's dependency map (item id -> prerequisites).
func (p *Plan) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(p.Items))
	for _, item := range p.Items {
		if len(item.DependsOn) > 0 {
			deps[item.ID] = item.DependsOn
		}
	}
	return deps
}

// Progress summarizes plan completion.
type Progress struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// ItemResult is the terminal record of one work item.
type ItemResult struct {
	Status   Status  `json:"status"`
	Output   string  `json:"output,omitempty"`
	Error    string  `json:"error,omitempty"`
	Provider string  `json:"provider,omitempty"`
	Model    string  `json:"model,omitempty"`
	Cost     float64 `json:"cost"`
	Attempts int     `json:"attempts"`
	Cached   bool    `json:"cached,omitempty"`
}

// PlanResult lists every item's final status. The engine always returns
// one for a scheduled plan; item failures never abort the whole run.
type PlanResult struct {
	PlanID   string                `json:"plan_id"`
	Status   Status                `json:"status"`
	Items    map[string]ItemResult `json:"items"`
	Progress Progress              `json:"progress"`
	Duration time.Duration         `json:"duration"`
}

// ErrAllProvidersExhausted marks a work item for which the primary and
// every fallback provider failed.
var ErrAllProvidersExhausted = errors.New("all providers exhausted")
