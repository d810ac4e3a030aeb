package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionStatus is the lifecycle status of an execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimedOut  ExecutionStatus = "timed_out"
)

// IsTerminal reports whether no further transitions can happen.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed || s == ExecutionStatusTimedOut
}

// SuspensionKind identifies what a suspended execution waits for.
type SuspensionKind string

const (
	SuspensionWait     SuspensionKind = "wait"
	SuspensionCallback SuspensionKind = "callback"
)

// Suspension describes the point at which a running execution is parked.
type Suspension struct {
	Kind   SuspensionKind `json:"kind"`
	State  string         `json:"state"`
	Token  string         `json:"token,omitempty"`
	WakeAt *time.Time     `json:"wake_at,omitempty"`
	Since  time.Time      `json:"since"`
}

// HistoryEntry records one visited state.
type HistoryEntry struct {
	State     string    `json:"state"`
	Type      StateType `json:"type"`
	EnteredAt time.Time `json:"entered_at"`
}

// Execution is one run of a workflow. Version increases on every persisted
// transition and guards concurrent writers.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowName string          `json:"workflow_name"`
	Status       ExecutionStatus `json:"status"`
	CurrentState string          `json:"current_state"`
	Input        map[string]any  `json:"input"`
	Context      map[string]any  `json:"context"`
	Output       map[string]any  `json:"output,omitempty"`
	Error        string          `json:"error,omitempty"`
	Cause        string          `json:"cause,omitempty"`
	Suspension   *Suspension     `json:"suspension,omitempty"`
	History      []HistoryEntry  `json:"history"`
	Version      int64           `json:"version"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Deadline     time.Time       `json:"deadline"`
}

// IsSuspended reports whether the execution is parked at a Wait or callback state.
func (e *Execution) IsSuspended() bool {
	return e.Status == ExecutionStatusRunning && e.Suspension != nil
}

// Clone returns a deep copy so stored records never alias caller memory.
func (e *Execution) Clone() (*Execution, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execution %s: %w", e.ID, err)
	}

	var clone Execution

	err = DecodeJSON(data, &clone)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", e.ID, err)
	}

	return &clone, nil
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	WorkflowName string
	Status       ExecutionStatus
	Limit        int
	Offset       int
}

// Outcome is delivered to a suspended execution when it resumes. Timer resumes
// carry no output; callback resumes carry either Output or Failure.
type Outcome struct {
	State   string         `json:"state"`
	Token   string         `json:"-"`
	Output  map[string]any `json:"output,omitempty"`
	Failure *StepFailure   `json:"failure,omitempty"`
}

// Result returns the value merged into the context for this outcome.
func (o Outcome) Result() map[string]any {
	if o.Failure != nil {
		return o.Failure.Output()
	}

	return o.Output
}
