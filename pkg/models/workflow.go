// Package models defines the domain models for state-machine workflow orchestration.
package models

import "time"

// DefaultExecutionTimeout bounds an execution whose workflow declares no timeout.
const DefaultExecutionTimeout = 90 * 24 * time.Hour

// StateType is the kind of a state in the workflow graph.
type StateType string

const (
	StateTypePass               StateType = "Pass"
	StateTypeWait               StateType = "Wait"
	StateTypeInvoke             StateType = "Invoke"
	StateTypeInvokeWithCallback StateType = "InvokeWithCallback"
	StateTypeChoice             StateType = "Choice"
	StateTypeSucceed            StateType = "Succeed"
	StateTypeFail               StateType = "Fail"
)

// Workflow is a state-machine definition loaded from a definition document.
type Workflow struct {
	Name           string            `json:"name"                      yaml:"name"`
	Comment        string            `json:"comment,omitempty"         yaml:"comment,omitempty"`
	StartAt        string            `json:"start_at"                  yaml:"start_at"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	InputSchema    map[string]any    `json:"input_schema,omitempty"    yaml:"input_schema,omitempty"`
	Triggers       []EventTrigger    `json:"triggers,omitempty"        yaml:"triggers,omitempty"`
	States         map[string]*State `json:"states"                    yaml:"states"`
}

// Timeout returns the execution deadline offset, applying the default when unset.
func (w *Workflow) Timeout() time.Duration {
	if w.TimeoutSeconds <= 0 {
		return DefaultExecutionTimeout
	}

	return time.Duration(w.TimeoutSeconds) * time.Second
}

// EventTrigger starts the workflow when a notification with the same detail type is published.
type EventTrigger struct {
	DetailType string `json:"detail_type"      yaml:"detail_type"`
	Source     string `json:"source,omitempty" yaml:"source,omitempty"`
}

// Matches reports whether a notification selects this trigger. Detail types
// compare exactly; an empty source matches any source.
func (t EventTrigger) Matches(detailType, source string) bool {
	if t.DetailType != detailType {
		return false
	}

	return t.Source == "" || t.Source == source
}

// State is one node of the workflow graph. Only the fields relevant to Type are set.
type State struct {
	Type    StateType `json:"type"              yaml:"type"`
	Comment string    `json:"comment,omitempty" yaml:"comment,omitempty"`
	Next    string    `json:"next,omitempty"    yaml:"next,omitempty"`

	InputPath  string `json:"input_path,omitempty"  yaml:"input_path,omitempty"`
	ResultPath string `json:"result_path,omitempty" yaml:"result_path,omitempty"`

	// Pass
	Result any `json:"result,omitempty" yaml:"result,omitempty"`

	// Invoke and InvokeWithCallback
	Resource   string         `json:"resource,omitempty"   yaml:"resource,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Wait
	Seconds       *int64 `json:"seconds,omitempty"        yaml:"seconds,omitempty"`
	Timestamp     string `json:"timestamp,omitempty"      yaml:"timestamp,omitempty"`
	SecondsPath   string `json:"seconds_path,omitempty"   yaml:"seconds_path,omitempty"`
	TimestampPath string `json:"timestamp_path,omitempty" yaml:"timestamp_path,omitempty"`

	// Choice
	Choices []ChoiceRule `json:"choices,omitempty" yaml:"choices,omitempty"`
	Default string       `json:"default,omitempty" yaml:"default,omitempty"`

	// Fail
	Error     string `json:"error,omitempty"      yaml:"error,omitempty"`
	Cause     string `json:"cause,omitempty"      yaml:"cause,omitempty"`
	ErrorPath string `json:"error_path,omitempty" yaml:"error_path,omitempty"`
	CausePath string `json:"cause_path,omitempty" yaml:"cause_path,omitempty"`
}

// IsTerminal reports whether the state ends an execution.
func (s *State) IsTerminal() bool {
	return s.Type == StateTypeSucceed || s.Type == StateTypeFail
}

// Targets lists every state name this state can transition to.
func (s *State) Targets() []string {
	var targets []string

	if s.Next != "" {
		targets = append(targets, s.Next)
	}

	for _, rule := range s.Choices {
		if rule.Next != "" {
			targets = append(targets, rule.Next)
		}
	}

	if s.Default != "" {
		targets = append(targets, s.Default)
	}

	return targets
}

// ChoiceRule is a predicate over the execution context. A top-level rule of a
// Choice state carries Next; nested rules inside And, Or and Not do not.
type ChoiceRule struct {
	Variable string `json:"variable,omitempty" yaml:"variable,omitempty"`

	StringEquals            *string  `json:"string_equals,omitempty"              yaml:"string_equals,omitempty"`
	NumberEquals            *float64 `json:"number_equals,omitempty"              yaml:"number_equals,omitempty"`
	BooleanEquals           *bool    `json:"boolean_equals,omitempty"             yaml:"boolean_equals,omitempty"`
	NumberLessThan          *float64 `json:"number_less_than,omitempty"           yaml:"number_less_than,omitempty"`
	NumberLessThanEquals    *float64 `json:"number_less_than_equals,omitempty"    yaml:"number_less_than_equals,omitempty"`
	NumberGreaterThan       *float64 `json:"number_greater_than,omitempty"        yaml:"number_greater_than,omitempty"`
	NumberGreaterThanEquals *float64 `json:"number_greater_than_equals,omitempty" yaml:"number_greater_than_equals,omitempty"`
	IsPresent               *bool    `json:"is_present,omitempty"                 yaml:"is_present,omitempty"`

	And []ChoiceRule `json:"and,omitempty" yaml:"and,omitempty"`
	Or  []ChoiceRule `json:"or,omitempty"  yaml:"or,omitempty"`
	Not *ChoiceRule  `json:"not,omitempty" yaml:"not,omitempty"`

	Next string `json:"next,omitempty" yaml:"next,omitempty"`
}

// OperatorCount returns how many comparison operators or combinators the rule sets.
func (r *ChoiceRule) OperatorCount() int {
	count := 0

	for _, set := range []bool{
		r.StringEquals != nil,
		r.NumberEquals != nil,
		r.BooleanEquals != nil,
		r.NumberLessThan != nil,
		r.NumberLessThanEquals != nil,
		r.NumberGreaterThan != nil,
		r.NumberGreaterThanEquals != nil,
		r.IsPresent != nil,
		len(r.And) > 0,
		len(r.Or) > 0,
		r.Not != nil,
	} {
		if set {
			count++
		}
	}

	return count
}

// IsCombinator reports whether the rule composes other rules rather than comparing a variable.
func (r *ChoiceRule) IsCombinator() bool {
	return len(r.And) > 0 || len(r.Or) > 0 || r.Not != nil
}
