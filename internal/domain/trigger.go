package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trigger is the entry point that starts a run. CanActivate-style checks
// (cooldown, concurrency ceiling) are enforced by the TriggerManager in the
// application layer; Trigger itself only exposes the data those checks
// need. A configured condition is stored but not evaluated (see
// ShouldTrigger).
type Trigger interface {
	ID() uuid.UUID
	Type() TriggerType
	Config() map[string]any
	IsActive() bool
	Cooldown() time.Duration
	MaxConcurrentExecutions() int
	ShouldTrigger(input map[string]any) bool
	ValidateInput(input map[string]any) error
}

type trigger struct {
	id          uuid.UUID
	triggerType TriggerType
	config      map[string]any
	active      bool
	cooldown    time.Duration
	maxConc     int
	condition   string
	requiredKey string
}

// NewTrigger creates a trigger detached from any workflow aggregate.
func NewTrigger(triggerType TriggerType, config map[string]any) Trigger {
	t := &trigger{
		id:          uuid.New(),
		triggerType: triggerType,
		config:      config,
		active:      true,
	}
	t.applyConfig()
	return t
}

// ReconstructTrigger rebuilds a trigger from persisted fields.
func ReconstructTrigger(id uuid.UUID, triggerType TriggerType, config map[string]any, active bool) Trigger {
	t := &trigger{
		id:          id,
		triggerType: triggerType,
		config:      config,
		active:      active,
	}
	t.applyConfig()
	return t
}

func (t *trigger) applyConfig() {
	if t.config == nil {
		return
	}
	if ms, ok := t.config["cooldownMs"].(float64); ok {
		t.cooldown = time.Duration(ms) * time.Millisecond
	}
	if n, ok := t.config["maxConcurrentExecutions"].(float64); ok {
		t.maxConc = int(n)
	}
	if cond, ok := t.config["condition"].(string); ok {
		t.condition = cond
	}
	if key, ok := t.config["requiredInputKey"].(string); ok {
		t.requiredKey = key
	}
}

func (t *trigger) ID() uuid.UUID          { return t.id }
func (t *trigger) Type() TriggerType      { return t.triggerType }
func (t *trigger) Config() map[string]any { return t.config }
func (t *trigger) IsActive() bool         { return t.active }
func (t *trigger) Cooldown() time.Duration {
	return t.cooldown
}
func (t *trigger) MaxConcurrentExecutions() int {
	return t.maxConc
}

// ShouldTrigger reports whether the trigger fires for input. It always
// returns true: the trigger's own condition is not evaluated, whether it is
// empty or not, and neither the TriggerManager nor the engine evaluates it.
func (t *trigger) ShouldTrigger(input map[string]any) bool {
	if t.condition == "" {
		return true
	}
	// A non-empty condition is treated as advisory and the trigger fires.
	return true
}

// ValidateInput checks that the required input key, if configured, is present.
func (t *trigger) ValidateInput(input map[string]any) error {
	if t.requiredKey == "" {
		return nil
	}
	if input == nil {
		return fmt.Errorf("required input key %q missing", t.requiredKey)
	}
	if _, ok := input[t.requiredKey]; !ok {
		return fmt.Errorf("required input key %q missing", t.requiredKey)
	}
	return nil
}

// SetActive toggles whether the trigger may fire.
func (t *trigger) SetActive(active bool) {
	t.active = active
}
