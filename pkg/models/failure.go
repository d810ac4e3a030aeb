package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	ErrorTaskFailed              = "States.TaskFailed"
	ErrorTimeout                 = "States.Timeout"
	ErrorDispatchFailed          = "States.DispatchFailed"
	ErrorTransitionLimitExceeded = "States.TransitionLimitExceeded"
	ErrorRuntime                 = "States.Runtime"
	ErrorNoChoiceMatched         = "States.NoChoiceMatched"
	ErrorFailed                  = "States.Failed"
)

// StepFailure is raised by a step executor when its external call fails. Once
// it crosses the executor boundary it is treated as step output.
type StepFailure struct {
	StatusCode int    `json:"statusCode"`
	Code       string `json:"error"`
	Cause      string `json:"cause"`
}

func NewStepFailure(statusCode int, code, cause string) *StepFailure {
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}

	if code == "" {
		code = ErrorTaskFailed
	}

	return &StepFailure{StatusCode: statusCode, Code: code, Cause: cause}
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step failed with status %d: %s: %s", f.StatusCode, f.Code, f.Cause)
}

// Output renders the failure as context data. Fields of a JSON object cause
// are lifted alongside error and cause; statusCode falls back to StatusCode.
func (f *StepFailure) Output() map[string]any {
	output := make(map[string]any)

	var structured map[string]any
	if err := DecodeJSON([]byte(f.Cause), &structured); err == nil {
		for k, v := range structured {
			output[k] = v
		}
	}

	output["error"] = f.Code
	output["cause"] = f.Cause

	if _, ok := output["statusCode"]; !ok {
		output["statusCode"] = f.StatusCode
	}

	return output
}

// AsStepFailure extracts a StepFailure from an error chain.
func AsStepFailure(err error) (*StepFailure, bool) {
	var failure *StepFailure
	if errors.As(err, &failure) {
		return failure, true
	}

	return nil, false
}

// FailureCause encodes a structured cause the way callers of resolveFailure send it.
func FailureCause(fields map[string]any) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Sprint(fields)
	}

	return string(data)
}
