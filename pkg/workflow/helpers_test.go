package workflow_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/elena-cav/stepflow/pkg/actions/email"
	"github.com/elena-cav/stepflow/pkg/eventbus"
	"github.com/elena-cav/stepflow/pkg/events"
	"github.com/elena-cav/stepflow/pkg/executor"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/persistence/memory"
	"github.com/elena-cav/stepflow/pkg/protocol"
	"github.com/elena-cav/stepflow/pkg/registry"
	"github.com/elena-cav/stepflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type stepFunc func(input any) (map[string]any, error)

type stubAction struct {
	fn stepFunc
}

func (a stubAction) Execute(_ context.Context, input any, _ *slog.Logger) (map[string]any, error) {
	return a.fn(input)
}

type stubFactory struct {
	id string
	fn stepFunc
}

func (f stubFactory) ID() string                { return f.id }
func (f stubFactory) Name() string              { return f.id }
func (f stubFactory) Description() string       { return "test action" }
func (f stubFactory) Schema() map[string]any    { return nil }
func (f stubFactory) Create(context.Context, map[string]any) (protocol.Action, error) {
	return stubAction{fn: f.fn}, nil
}

type recordingSender struct {
	mu       sync.Mutex
	messages []email.Message
}

func (s *recordingSender) Send(_ context.Context, message email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, message)

	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) count(eventType events.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0

	for _, event := range p.events {
		if event.GetType() == eventType {
			n++
		}
	}

	return n
}

type recordingDispatcher struct {
	mu        sync.Mutex
	envelopes []models.CallbackEnvelope
	err       error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, envelope models.CallbackEnvelope) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return d.err
	}

	d.envelopes = append(d.envelopes, envelope)

	return nil
}

func (d *recordingDispatcher) last(t *testing.T) models.CallbackEnvelope {
	t.Helper()

	d.mu.Lock()
	defer d.mu.Unlock()

	require.NotEmpty(t, d.envelopes)

	return d.envelopes[len(d.envelopes)-1]
}

type harness struct {
	engine     *workflow.Engine
	store      *memory.Persistence
	clock      *clockwork.FakeClock
	publisher  *recordingPublisher
	dispatcher *recordingDispatcher
	sender     *recordingSender
}

func newHarness(t *testing.T, workflows []*models.Workflow, factories ...protocol.ActionFactory) *harness {
	t.Helper()

	logger := log.Discard()
	sender := &recordingSender{}

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(email.NewActionFactory(sender))

	for _, factory := range factories {
		reg.RegisterAction(factory)
	}

	definitions := workflow.NewDefinitions(reg, logger)
	for _, wf := range workflows {
		require.NoError(t, definitions.Register(wf))
	}

	h := &harness{
		store:      memory.NewPersistence(),
		clock:      clockwork.NewFakeClockAt(testEpoch),
		publisher:  &recordingPublisher{},
		dispatcher: &recordingDispatcher{},
		sender:     sender,
	}

	h.engine = workflow.NewEngine(definitions, h.store, executor.NewExecutor(reg, logger, nil),
		workflow.WithClock(h.clock),
		workflow.WithPublisher(h.publisher),
		workflow.WithDispatcher(h.dispatcher),
		workflow.WithLogger(logger),
	)

	return h
}

func ptr[T any](v T) *T {
	return &v
}

func visited(exec *models.Execution) []string {
	names := make([]string, 0, len(exec.History))
	for _, entry := range exec.History {
		names = append(names, entry.State)
	}

	return names
}

// emailSender mirrors the notification workflow: wait, email, check the status.
func emailSender() *models.Workflow {
	return &models.Workflow{
		Name:    "email-sender",
		StartAt: "WaitForDelivery",
		States: map[string]*models.State{
			"WaitForDelivery": {Type: models.StateTypeWait, Seconds: ptr(int64(0)), Next: "SendEmail"},
			"SendEmail": {
				Type:       models.StateTypeInvoke,
				Resource:   "email",
				InputPath:  "$.Payload",
				ResultPath: "$.email",
				Next:       "CheckEmailStatus",
			},
			"CheckEmailStatus": {
				Type: models.StateTypeChoice,
				Choices: []models.ChoiceRule{
					{Variable: "$.email.statusCode", NumberEquals: ptr(200.0), Next: "EmailSent"},
				},
				Default: "EmailFailed",
			},
			"EmailSent":   {Type: models.StateTypeSucceed},
			"EmailFailed": {Type: models.StateTypeFail, ErrorPath: "$.email.error", CausePath: "$.email.cause"},
		},
	}
}

// forwarder parks on a callback step and branches on its status code.
func forwarder(timeoutSeconds int64) *models.Workflow {
	return &models.Workflow{
		Name:           "forwarder",
		StartAt:        "Forward",
		TimeoutSeconds: timeoutSeconds,
		States: map[string]*models.State{
			"Forward": {
				Type:       models.StateTypeInvokeWithCallback,
				Resource:   "forward",
				InputPath:  "$.Payload",
				ResultPath: "$.forward",
				Next:       "CheckForward",
			},
			"CheckForward": {
				Type: models.StateTypeChoice,
				Choices: []models.ChoiceRule{
					{Variable: "$.forward.statusCode", NumberEquals: ptr(200.0), Next: "Forwarded"},
				},
				Default: "ForwardFailed",
			},
			"Forwarded":     {Type: models.StateTypeSucceed},
			"ForwardFailed": {Type: models.StateTypeFail, ErrorPath: "$.forward.error", Cause: "forwarding failed"},
		},
	}
}

func forwardFactory() stubFactory {
	return stubFactory{id: "forward", fn: func(any) (map[string]any, error) {
		return map[string]any{"statusCode": 200}, nil
	}}
}
