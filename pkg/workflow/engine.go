// Package workflow drives state-machine executions: it starts them, runs
// synchronous states, parks them at Wait and InvokeWithCallback states and
// resumes them from timers and callback resolutions.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/elena-cav/stepflow/pkg/callback"
	"github.com/elena-cav/stepflow/pkg/datapath"
	"github.com/elena-cav/stepflow/pkg/eventbus"
	"github.com/elena-cav/stepflow/pkg/events"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/otelhelper"
	"github.com/elena-cav/stepflow/pkg/persistence"
	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultTransitionLimit = 1000
	DefaultSweepBatchSize  = 100
)

// StepInvoker performs the single external call of an Invoke state.
type StepInvoker interface {
	Invoke(ctx context.Context, resource string, parameters map[string]any, input any) (map[string]any, error)
}

// Dispatcher hands an InvokeWithCallback envelope to whoever performs the step.
type Dispatcher interface {
	Dispatch(ctx context.Context, envelope models.CallbackEnvelope) error
}

type Engine struct {
	definitions     *Definitions
	persistence     persistence.Persistence
	invoker         StepInvoker
	dispatcher      Dispatcher
	publisher       eventbus.EventPublisher
	callbacks       *callback.Correlator
	clock           clockwork.Clock
	tracer          trace.Tracer
	logger          *slog.Logger
	transitionLimit int
	sweepBatchSize  int
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(e *Engine) { e.publisher = publisher }
}

func WithDispatcher(dispatcher Dispatcher) Option {
	return func(e *Engine) { e.dispatcher = dispatcher }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithTransitionLimit(limit int) Option {
	return func(e *Engine) { e.transitionLimit = limit }
}

func WithSweepBatchSize(size int) Option {
	return func(e *Engine) { e.sweepBatchSize = size }
}

func NewEngine(definitions *Definitions, store persistence.Persistence, invoker StepInvoker, opts ...Option) *Engine {
	engine := &Engine{
		definitions:     definitions,
		persistence:     store,
		invoker:         invoker,
		publisher:       eventbus.NopPublisher{},
		clock:           clockwork.NewRealClock(),
		tracer:          otelhelper.NoopTracer(),
		logger:          slog.Default(),
		transitionLimit: DefaultTransitionLimit,
		sweepBatchSize:  DefaultSweepBatchSize,
	}

	for _, opt := range opts {
		opt(engine)
	}

	engine.logger = engine.logger.With("module", "workflow_engine")
	engine.callbacks = callback.NewCorrelator(store, engine, engine.clock, engine.logger)

	return engine
}

// Callbacks returns the correlator whose resolutions resume this engine's executions.
func (e *Engine) Callbacks() *callback.Correlator {
	return e.callbacks
}

func (e *Engine) Definitions() *Definitions {
	return e.definitions
}

// Start creates an execution of the named workflow and drives it until it
// suspends or terminates.
func (e *Engine) Start(ctx context.Context, workflowName string, input map[string]any) (*models.Execution, error) {
	def, ok := e.definitions.Get(workflowName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowName)
	}

	err := e.definitions.ValidateInput(workflowName, input)
	if err != nil {
		return nil, err
	}

	stored, err := models.CloneMap(input)
	if err != nil {
		return nil, newInputError(workflowName, []string{err.Error()})
	}

	data, err := models.CloneMap(stored)
	if err != nil {
		return nil, newInputError(workflowName, []string{err.Error()})
	}

	now := e.clock.Now().UTC()
	exec := &models.Execution{
		ID:           uuid.NewString(),
		WorkflowName: def.Name,
		Status:       models.ExecutionStatusRunning,
		CurrentState: def.StartAt,
		Input:        stored,
		Context:      data,
		History:      []models.HistoryEntry{},
		StartedAt:    now,
		UpdatedAt:    now,
		Deadline:     now.Add(def.Timeout()),
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.start",
		attribute.String(otelhelper.WorkflowNameKey, def.Name),
		attribute.String(otelhelper.ExecutionIDKey, exec.ID),
	)
	defer span.End()

	err = e.persistence.CreateExecution(ctx, exec)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	e.logger.InfoContext(ctx, "Execution started", "workflow", def.Name, "execution_id", exec.ID, "deadline", exec.Deadline)
	e.publish(ctx, events.ExecutionStarted{
		BaseEvent: events.NewBaseEvent(events.ExecutionStartedEvent, exec.ID, def.Name),
		Input:     exec.Input,
	})

	err = e.run(ctx, def, exec, true)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(exec.Status)))

	return exec, nil
}

// Resume continues an execution suspended at outcome.State. A resume that does
// not match the current suspension, or that arrives after the deadline, is
// rejected with ErrStaleResume and leaves the execution unchanged.
func (e *Engine) Resume(ctx context.Context, executionID string, outcome models.Outcome) (*models.Execution, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.resume",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.StateNameKey, outcome.State),
	)
	defer span.End()

	logger := e.logger.With("execution_id", executionID, "state", outcome.State)

	exec, err := e.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	err = e.checkResumable(ctx, exec, outcome)
	if err != nil {
		logger.WarnContext(ctx, "Rejected resume", "error", err)
		otelhelper.SetError(span, err)

		return nil, err
	}

	def, ok := e.definitions.Get(exec.WorkflowName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, exec.WorkflowName)
	}

	suspension := exec.Suspension

	// Claim the suspension first; a concurrent resume loses the version race.
	exec.Suspension = nil
	exec.UpdatedAt = e.clock.Now().UTC()

	err = e.persistence.UpdateExecution(ctx, exec)
	if err != nil {
		if persistence.IsVersionConflict(err) {
			err = staleResume(executionID, "was claimed by a concurrent resume")
			logger.WarnContext(ctx, "Rejected resume", "error", err)
		}

		otelhelper.SetError(span, err)

		return nil, err
	}

	e.publish(ctx, events.ExecutionResumed{
		BaseEvent: events.NewBaseEvent(events.ExecutionResumedEvent, exec.ID, exec.WorkflowName),
		State:     suspension.State,
		Failed:    outcome.Failure != nil,
	})

	drive := true

	state, ok := def.States[suspension.State]
	switch {
	case !ok:
		e.complete(exec, models.ExecutionStatusFailed, models.ErrorRuntime, fmt.Sprintf("state %q is not defined", suspension.State))

		drive = false
	case suspension.Kind == models.SuspensionCallback:
		result := outcome.Result()
		if result == nil {
			result = map[string]any{}
		}

		drive = e.merge(exec, state, result)
	}

	if drive {
		e.advance(exec, state.Next)
	}

	err = e.run(ctx, def, exec, drive)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	logger.InfoContext(ctx, "Execution resumed", "status", exec.Status, "current_state", exec.CurrentState)

	return exec, nil
}

func (e *Engine) checkResumable(ctx context.Context, exec *models.Execution, outcome models.Outcome) error {
	if exec.Status == models.ExecutionStatusTimedOut {
		return timedOutResume(exec.ID)
	}

	if !exec.IsSuspended() {
		return staleResume(exec.ID, "is not suspended")
	}

	suspension := exec.Suspension

	if outcome.State != "" && outcome.State != suspension.State {
		return staleResume(exec.ID, fmt.Sprintf("is suspended at %q, not %q", suspension.State, outcome.State))
	}

	if suspension.Token != outcome.Token {
		return staleResume(exec.ID, "was resumed with a token that does not match its suspension")
	}

	if !e.clock.Now().Before(exec.Deadline) {
		err := e.expire(ctx, exec)
		if err != nil && !persistence.IsVersionConflict(err) {
			return err
		}

		return timedOutResume(exec.ID)
	}

	return nil
}

// Status returns the execution record.
func (e *Engine) Status(ctx context.Context, executionID string) (*models.Execution, error) {
	exec, err := e.persistence.ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}

	return exec, nil
}

func (e *Engine) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, error) {
	return e.persistence.ListExecutions(ctx, filter)
}

// FireTimers resumes every execution whose Wait has elapsed and returns how many advanced.
func (e *Engine) FireTimers(ctx context.Context) (int, error) {
	due, err := e.persistence.DueWaits(ctx, e.clock.Now(), e.sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due timers: %w", err)
	}

	fired := 0

	for _, exec := range due {
		_, err := e.Resume(ctx, exec.ID, models.Outcome{State: exec.Suspension.State})
		if err != nil {
			if IsStaleResume(err) {
				continue
			}

			e.logger.ErrorContext(ctx, "Failed to fire timer", "execution_id", exec.ID, "error", err)

			continue
		}

		fired++
	}

	return fired, nil
}

// ExpireOverdue moves every running execution past its deadline to TimedOut.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := e.persistence.OverdueExecutions(ctx, e.clock.Now(), e.sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list overdue executions: %w", err)
	}

	expired := 0

	for _, exec := range overdue {
		err := e.expire(ctx, exec)
		if err != nil {
			if !persistence.IsVersionConflict(err) {
				e.logger.ErrorContext(ctx, "Failed to time out execution", "execution_id", exec.ID, "error", err)
			}

			continue
		}

		expired++
	}

	return expired, nil
}

// expire transitions exec to TimedOut. The version check makes it happen at
// most once even when a resolution or another sweeper races it.
func (e *Engine) expire(ctx context.Context, exec *models.Execution) error {
	now := e.clock.Now().UTC()
	state := exec.CurrentState

	exec.Status = models.ExecutionStatusTimedOut
	exec.Error = models.ErrorTimeout
	exec.Cause = fmt.Sprintf("execution exceeded its deadline %s", exec.Deadline.Format(time.RFC3339))
	exec.Suspension = nil
	exec.UpdatedAt = now
	exec.CompletedAt = &now

	err := e.persistence.UpdateExecution(ctx, exec)
	if err != nil {
		return err
	}

	err = e.callbacks.Release(ctx, exec.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to release callback tickets", "execution_id", exec.ID, "error", err)
	}

	e.logger.WarnContext(ctx, "Execution timed out", "execution_id", exec.ID, "workflow", exec.WorkflowName, "state", state)
	e.publish(ctx, events.ExecutionTimedOut{
		BaseEvent: events.NewBaseEvent(events.ExecutionTimedOutEvent, exec.ID, exec.WorkflowName),
		State:     state,
		Deadline:  exec.Deadline,
	})

	return nil
}

// run drives exec, persists the result and, when the drive parked at a
// callback state, dispatches the envelope after the suspension is stored.
func (e *Engine) run(ctx context.Context, def *models.Workflow, exec *models.Execution, drive bool) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "execution.drive",
		attribute.String(otelhelper.WorkflowNameKey, def.Name),
		attribute.String(otelhelper.ExecutionIDKey, exec.ID),
	)
	defer span.End()

	var envelope *models.CallbackEnvelope
	if drive {
		envelope = e.drive(ctx, def, exec)
	}

	exec.UpdatedAt = e.clock.Now().UTC()

	err := e.persistence.UpdateExecution(ctx, exec)
	if err != nil {
		if envelope != nil {
			_ = e.callbacks.Release(ctx, exec.ID)
		}

		otelhelper.SetError(span, err)

		if persistence.IsVersionConflict(err) {
			return staleResume(exec.ID, "changed while it was being driven")
		}

		return fmt.Errorf("failed to save execution: %w", err)
	}

	if envelope != nil {
		err = e.dispatch(ctx, *envelope)
		if err != nil {
			e.failDispatch(ctx, exec, err)
		}
	}

	span.SetAttributes(attribute.String(otelhelper.StatusKey, string(exec.Status)))
	e.announce(ctx, exec)

	return nil
}

func (e *Engine) dispatch(ctx context.Context, envelope models.CallbackEnvelope) error {
	if e.dispatcher == nil {
		return errors.New("no callback dispatcher configured")
	}

	return e.dispatcher.Dispatch(ctx, envelope)
}

func (e *Engine) failDispatch(ctx context.Context, exec *models.Execution, cause error) {
	e.logger.ErrorContext(ctx, "Failed to dispatch callback step", "execution_id", exec.ID, "state", exec.CurrentState, "error", cause)

	e.complete(exec, models.ExecutionStatusFailed, models.ErrorDispatchFailed, cause.Error())

	err := e.callbacks.Release(ctx, exec.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to release callback tickets", "execution_id", exec.ID, "error", err)
	}

	err = e.persistence.UpdateExecution(ctx, exec)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to record dispatch failure", "execution_id", exec.ID, "error", err)
	}
}

// drive runs synchronous states until exec suspends or terminates. Problems
// with the definition or the context fail the execution; they never escape.
func (e *Engine) drive(ctx context.Context, def *models.Workflow, exec *models.Execution) *models.CallbackEnvelope {
	logger := e.logger.With("execution_id", exec.ID, "workflow", def.Name)

	for transitions := 0; ; transitions++ {
		if transitions >= e.transitionLimit {
			e.complete(exec, models.ExecutionStatusFailed, models.ErrorTransitionLimitExceeded,
				fmt.Sprintf("more than %d transitions without suspending", e.transitionLimit))

			return nil
		}

		name := exec.CurrentState

		state, ok := def.States[name]
		if !ok {
			e.complete(exec, models.ExecutionStatusFailed, models.ErrorRuntime, fmt.Sprintf("state %q is not defined", name))

			return nil
		}

		now := e.clock.Now().UTC()
		exec.History = append(exec.History, models.HistoryEntry{State: name, Type: state.Type, EnteredAt: now})
		logger.DebugContext(ctx, "Entered state", "state", name, "type", state.Type)

		switch state.Type {
		case models.StateTypePass:
			if state.Result != nil && !e.merge(exec, state, state.Result) {
				return nil
			}

			e.advance(exec, state.Next)

		case models.StateTypeInvoke:
			input, ok := e.input(exec, state)
			if !ok {
				return nil
			}

			stepCtx := protocol.WithStepMetadata(ctx, protocol.StepMetadata{ExecutionID: exec.ID, WorkflowName: def.Name, State: name})

			var result any

			output, err := e.invoker.Invoke(stepCtx, state.Resource, state.Parameters, input)
			if err != nil {
				failure, isFailure := models.AsStepFailure(err)
				if !isFailure {
					failure = models.NewStepFailure(0, models.ErrorTaskFailed, err.Error())
				}

				result = failure.Output()
			} else {
				result = output
			}

			if !e.merge(exec, state, result) {
				return nil
			}

			e.advance(exec, state.Next)

		case models.StateTypeWait:
			wakeAt, err := e.wakeTime(exec, state, now)
			if err != nil {
				e.complete(exec, models.ExecutionStatusFailed, models.ErrorRuntime, fmt.Sprintf("state %q: %v", name, err))

				return nil
			}

			if !wakeAt.After(now) {
				e.advance(exec, state.Next)

				continue
			}

			exec.Suspension = &models.Suspension{Kind: models.SuspensionWait, State: name, WakeAt: &wakeAt, Since: now}

			return nil

		case models.StateTypeInvokeWithCallback:
			input, ok := e.input(exec, state)
			if !ok {
				return nil
			}

			token, err := e.callbacks.Issue(ctx, exec.ID, name)
			if err != nil {
				e.complete(exec, models.ExecutionStatusFailed, models.ErrorDispatchFailed, err.Error())

				return nil
			}

			exec.Suspension = &models.Suspension{Kind: models.SuspensionCallback, State: name, Token: token, Since: now}

			return &models.CallbackEnvelope{
				Token:       token,
				ExecutionID: exec.ID,
				Workflow:    def.Name,
				State:       name,
				Resource:    state.Resource,
				Parameters:  state.Parameters,
				Input:       input,
			}

		case models.StateTypeChoice:
			next, err := SelectChoice(state, exec.Context)
			if err != nil {
				e.complete(exec, models.ExecutionStatusFailed, models.ErrorNoChoiceMatched, fmt.Sprintf("state %q: %v", name, err))

				return nil
			}

			e.advance(exec, next)

		case models.StateTypeSucceed:
			output := exec.Context

			if state.InputPath != "" {
				selected, ok := e.input(exec, state)
				if !ok {
					return nil
				}

				object, isObject := selected.(map[string]any)
				if !isObject {
					object = map[string]any{"output": selected}
				}

				output = object
			}

			exec.Output = output
			e.complete(exec, models.ExecutionStatusSucceeded, "", "")

			return nil

		case models.StateTypeFail:
			code := stringAt(exec.Context, state.ErrorPath, state.Error)
			if code == "" {
				code = models.ErrorFailed
			}

			e.complete(exec, models.ExecutionStatusFailed, code, stringAt(exec.Context, state.CausePath, state.Cause))

			return nil

		default:
			e.complete(exec, models.ExecutionStatusFailed, models.ErrorRuntime, fmt.Sprintf("state %q has unknown type %q", name, state.Type))

			return nil
		}
	}
}

func (e *Engine) advance(exec *models.Execution, next string) {
	exec.CurrentState = next
}

func (e *Engine) complete(exec *models.Execution, status models.ExecutionStatus, code, cause string) {
	now := e.clock.Now().UTC()

	exec.Status = status
	exec.Error = code
	exec.Cause = cause
	exec.Suspension = nil
	exec.CompletedAt = &now
}

// merge stores a copy of result at the state's result_path. An empty path
// discards it. Results may share structure with their step input, so they are
// never stored by reference.
func (e *Engine) merge(exec *models.Execution, state *models.State, result any) bool {
	if state.ResultPath == "" {
		return true
	}

	result, err := cloneValue(result)
	if err == nil {
		err = datapath.Set(exec.Context, state.ResultPath, result)
	}

	if err != nil {
		e.complete(exec, models.ExecutionStatusFailed, models.ErrorRuntime, fmt.Sprintf("failed to merge result of %q: %v", exec.CurrentState, err))

		return false
	}

	return true
}

func (e *Engine) input(exec *models.Execution, state *models.State) (any, bool) {
	input, err := datapath.Get(exec.Context, state.InputPath)
	if err == nil {
		input, err = cloneValue(input)
	}

	if err != nil {
		e.complete(exec, models.ExecutionStatusFailed, models.ErrorRuntime, fmt.Sprintf("failed to select input of %q: %v", exec.CurrentState, err))

		return nil, false
	}

	return input, true
}

func (e *Engine) wakeTime(exec *models.Execution, state *models.State, now time.Time) (time.Time, error) {
	switch {
	case state.Seconds != nil:
		return now.Add(time.Duration(*state.Seconds) * time.Second), nil
	case state.Timestamp != "":
		return time.Parse(time.RFC3339, state.Timestamp)
	case state.SecondsPath != "":
		value, err := datapath.Get(exec.Context, state.SecondsPath)
		if err != nil {
			return time.Time{}, err
		}

		seconds, ok := toNumber(value)
		if !ok || seconds < 0 {
			return time.Time{}, fmt.Errorf("%s is not a non-negative number", state.SecondsPath)
		}

		return now.Add(time.Duration(seconds * float64(time.Second))), nil
	case state.TimestampPath != "":
		value, err := datapath.Get(exec.Context, state.TimestampPath)
		if err != nil {
			return time.Time{}, err
		}

		text, ok := value.(string)
		if !ok {
			return time.Time{}, fmt.Errorf("%s is not a timestamp string", state.TimestampPath)
		}

		return time.Parse(time.RFC3339, text)
	default:
		return time.Time{}, errors.New("wait state has no duration")
	}
}

// announce publishes the lifecycle event for where the drive left exec.
func (e *Engine) announce(ctx context.Context, exec *models.Execution) {
	base := func(eventType events.EventType) events.BaseEvent {
		return events.NewBaseEvent(eventType, exec.ID, exec.WorkflowName)
	}

	var duration time.Duration
	if exec.CompletedAt != nil {
		duration = exec.CompletedAt.Sub(exec.StartedAt)
	}

	switch {
	case exec.IsSuspended():
		e.logger.InfoContext(ctx, "Execution suspended", "execution_id", exec.ID, "state", exec.Suspension.State,
			"kind", exec.Suspension.Kind, "token", log.TokenPrefix(exec.Suspension.Token))
		e.publish(ctx, events.ExecutionSuspended{
			BaseEvent: base(events.ExecutionSuspendedEvent),
			State:     exec.Suspension.State,
			Kind:      string(exec.Suspension.Kind),
			WakeAt:    exec.Suspension.WakeAt,
		})
	case exec.Status == models.ExecutionStatusSucceeded:
		e.logger.InfoContext(ctx, "Execution succeeded", "execution_id", exec.ID, "workflow", exec.WorkflowName, "duration", duration)
		e.publish(ctx, events.ExecutionSucceeded{
			BaseEvent: base(events.ExecutionSucceededEvent),
			Output:    exec.Output,
			Duration:  duration,
		})
	case exec.Status == models.ExecutionStatusFailed:
		e.logger.WarnContext(ctx, "Execution failed", "execution_id", exec.ID, "workflow", exec.WorkflowName,
			"state", exec.CurrentState, "error", exec.Error, "cause", exec.Cause)
		e.publish(ctx, events.ExecutionFailed{
			BaseEvent: base(events.ExecutionFailedEvent),
			State:     exec.CurrentState,
			Error:     exec.Error,
			Cause:     exec.Cause,
			Duration:  duration,
		})
	}
}

func (e *Engine) publish(ctx context.Context, event eventbus.Event) {
	err := e.publisher.Publish(ctx, string(event.GetType()), event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func stringAt(data map[string]any, path, fallback string) string {
	if path == "" {
		return fallback
	}

	value, err := datapath.Get(data, path)
	if err != nil || value == nil {
		return fallback
	}

	if text, ok := value.(string); ok {
		return text
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}

	return string(encoded)
}

func cloneValue(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	var clone any

	err = models.DecodeJSON(data, &clone)

	return clone, err
}
