package web

import (
	"encoding/json"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/queue"
)

// StartExecutionResponse is returned when an execution was started.
type StartExecutionResponse struct {
	ExecutionID  string                 `json:"execution_id"`
	Workflow     string                 `json:"workflow"`
	Status       models.ExecutionStatus `json:"status"`
	CurrentState string                 `json:"current_state"`
	Suspended    bool                   `json:"suspended"`
	StartedAt    time.Time              `json:"started_at"`
}

func newStartExecutionResponse(exec *models.Execution) StartExecutionResponse {
	return StartExecutionResponse{
		ExecutionID:  exec.ID,
		Workflow:     exec.WorkflowName,
		Status:       exec.Status,
		CurrentState: exec.CurrentState,
		Suspended:    exec.IsSuspended(),
		StartedAt:    exec.StartedAt,
	}
}

// ExecutionResponse renders an execution for status queries. The callback
// token of a suspension is never rendered; only the dispatched step holds it.
type ExecutionResponse struct {
	ID           string                 `json:"id"`
	WorkflowName string                 `json:"workflow_name"`
	Status       models.ExecutionStatus `json:"status"`
	CurrentState string                 `json:"current_state"`
	Input        map[string]any         `json:"input"`
	Context      map[string]any         `json:"context"`
	Output       map[string]any         `json:"output,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Cause        string                 `json:"cause,omitempty"`
	Suspension   *SuspensionResponse    `json:"suspension,omitempty"`
	History      []models.HistoryEntry  `json:"history"`
	StartedAt    time.Time              `json:"started_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Deadline     time.Time              `json:"deadline"`
}

type SuspensionResponse struct {
	Kind   models.SuspensionKind `json:"kind"`
	State  string                `json:"state"`
	WakeAt *time.Time            `json:"wake_at,omitempty"`
	Since  time.Time             `json:"since"`
}

func newExecutionResponse(exec *models.Execution) ExecutionResponse {
	response := ExecutionResponse{
		ID:           exec.ID,
		WorkflowName: exec.WorkflowName,
		Status:       exec.Status,
		CurrentState: exec.CurrentState,
		Input:        exec.Input,
		Context:      exec.Context,
		Output:       exec.Output,
		Error:        exec.Error,
		Cause:        exec.Cause,
		History:      exec.History,
		StartedAt:    exec.StartedAt,
		UpdatedAt:    exec.UpdatedAt,
		CompletedAt:  exec.CompletedAt,
		Deadline:     exec.Deadline,
	}

	if exec.Suspension != nil {
		response.Suspension = &SuspensionResponse{
			Kind:   exec.Suspension.Kind,
			State:  exec.Suspension.State,
			WakeAt: exec.Suspension.WakeAt,
			Since:  exec.Suspension.Since,
		}
	}

	return response
}

// CallbackSuccessRequest reports the output of a step awaiting its callback.
type CallbackSuccessRequest struct {
	Token  string         `json:"token"  validate:"required"`
	Output map[string]any `json:"output"`
}

// CallbackFailureRequest reports a failed step. Cause is either a string or a
// JSON object whose fields are merged into the step result.
type CallbackFailureRequest struct {
	Token string `json:"token" validate:"required"`
	Error string `json:"error" validate:"required"`
	Cause any    `json:"cause"`
}

func (r CallbackFailureRequest) cause() string {
	switch cause := r.Cause.(type) {
	case nil:
		return ""
	case string:
		return cause
	case map[string]any:
		return models.FailureCause(cause)
	default:
		data, err := json.Marshal(cause)
		if err != nil {
			return ""
		}

		return string(data)
	}
}

// CallbackResponse describes the execution after a resolution.
type CallbackResponse struct {
	ExecutionID  string                 `json:"execution_id"`
	Status       models.ExecutionStatus `json:"status"`
	CurrentState string                 `json:"current_state"`
	Suspended    bool                   `json:"suspended"`
}

// WorkflowSummary is one entry of the workflow listing.
type WorkflowSummary struct {
	Name     string                `json:"name"`
	Comment  string                `json:"comment,omitempty"`
	StartAt  string                `json:"start_at"`
	States   int                   `json:"states"`
	Triggers []models.EventTrigger `json:"triggers,omitempty"`
}

// DeadLetterResponse renders a dead letter with its body inlined when it is JSON.
type DeadLetterResponse struct {
	ID             string          `json:"id"`
	Body           json.RawMessage `json:"body"`
	ReceiveCount   int             `json:"receive_count"`
	Cause          string          `json:"cause"`
	SentAt         time.Time       `json:"sent_at"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
}

func newDeadLetterResponse(letter queue.DeadLetter) DeadLetterResponse {
	body := json.RawMessage(letter.Body)
	if !json.Valid(letter.Body) {
		body, _ = json.Marshal(string(letter.Body))
	}

	return DeadLetterResponse{
		ID:             letter.ID,
		Body:           body,
		ReceiveCount:   letter.ReceiveCount,
		Cause:          letter.Cause,
		SentAt:         letter.SentAt,
		DeadLetteredAt: letter.DeadLetteredAt,
	}
}
