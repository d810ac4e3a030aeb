package models

import "time"

// CallbackTicket is one outstanding asynchronous step awaiting an external signal.
type CallbackTicket struct {
	Token       string     `json:"token"`
	ExecutionID string     `json:"execution_id"`
	State       string     `json:"state"`
	IssuedAt    time.Time  `json:"issued_at"`
	Resolved    bool       `json:"resolved"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// CallbackEnvelope is the queued dispatch of an InvokeWithCallback state. It is
// the only place a token travels besides the ticket store.
type CallbackEnvelope struct {
	Token       string         `json:"token"`
	ExecutionID string         `json:"execution_id"`
	Workflow    string         `json:"workflow"`
	State       string         `json:"state"`
	Resource    string         `json:"resource"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Input       any            `json:"input"`
}
