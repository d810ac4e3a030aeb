package rules_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/elena-cav/stepflow/pkg/events"
	"github.com/elena-cav/stepflow/pkg/log"
	"github.com/elena-cav/stepflow/pkg/mocks"
	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type staticMatcher map[string][]*models.Workflow

func (m staticMatcher) Triggered(detailType, _ string) []*models.Workflow {
	return m[detailType]
}

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) Start(ctx context.Context, name string, input map[string]any) (*models.Execution, error) {
	args := m.Called(ctx, name, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Execution), args.Error(1)
}

func notification(detailType string, detail any) *events.Notification {
	return &events.Notification{
		BaseEvent:  events.NewBaseEvent(events.NotificationEvent, "exec-1", "product-processor"),
		DetailType: detailType,
		Source:     "stepflow",
		Detail:     detail,
	}
}

func TestRouter_StartsTriggeredWorkflows(t *testing.T) {
	matcher := staticMatcher{
		"StartEmailSender": {{Name: "email-sender"}, {Name: "audit"}},
	}

	detail := map[string]any{
		"at":    "2024-06-01T09:00:30Z",
		"input": map[string]any{"insuranceProductId": json.Number("58305195")},
	}

	starter := &mockStarter{}
	starter.On("Start", mock.Anything, "email-sender", detail).Return(&models.Execution{ID: "e1"}, nil).Once()
	starter.On("Start", mock.Anything, "audit", detail).Return(&models.Execution{ID: "e2"}, nil).Once()

	router := rules.NewRouter(matcher, starter, log.Discard())

	started, err := router.Route(context.Background(), notification("StartEmailSender", detail))
	require.NoError(t, err)
	require.Len(t, started, 2)
	assert.Equal(t, "e1", started[0].ID)

	starter.AssertExpectations(t)
}

func TestRouter_NoMatch(t *testing.T) {
	starter := &mockStarter{}
	router := rules.NewRouter(staticMatcher{}, starter, log.Discard())

	started, err := router.Route(context.Background(), notification("SomethingElse", map[string]any{}))
	require.NoError(t, err)
	assert.Empty(t, started)
	starter.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter_NonObjectDetailIsWrapped(t *testing.T) {
	matcher := staticMatcher{"Ping": {{Name: "pinger"}}}

	starter := &mockStarter{}
	starter.On("Start", mock.Anything, "pinger", map[string]any{"detail": "hello"}).
		Return(&models.Execution{ID: "e1"}, nil)

	_, err := rules.NewRouter(matcher, starter, log.Discard()).Route(context.Background(), notification("Ping", "hello"))
	require.NoError(t, err)
	starter.AssertExpectations(t)
}

func TestRouter_StartFailureIsReported(t *testing.T) {
	matcher := staticMatcher{"StartEmailSender": {{Name: "email-sender"}, {Name: "audit"}}}

	starter := &mockStarter{}
	starter.On("Start", mock.Anything, "email-sender", mock.Anything).Return(nil, errors.New("invalid input"))
	starter.On("Start", mock.Anything, "audit", mock.Anything).Return(&models.Execution{ID: "e2"}, nil)

	started, err := rules.NewRouter(matcher, starter, log.Discard()).
		Route(context.Background(), notification("StartEmailSender", map[string]any{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email-sender")
	assert.Len(t, started, 1)
}

func TestRouter_HandleAcknowledgesStartFailures(t *testing.T) {
	matcher := staticMatcher{"StartEmailSender": {{Name: "email-sender"}, {Name: "audit"}}}

	starter := &mockStarter{}
	starter.On("Start", mock.Anything, "email-sender", mock.Anything).Return(nil, errors.New("invalid input")).Once()
	starter.On("Start", mock.Anything, "audit", mock.Anything).Return(&models.Execution{ID: "e2"}, nil).Once()

	err := rules.NewRouter(matcher, starter, log.Discard()).
		Handle(context.Background(), notification("StartEmailSender", map[string]any{}))
	require.NoError(t, err)

	starter.AssertExpectations(t)
}

func TestRouter_Register(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Handle", events.NotificationEvent, mock.Anything).Return(nil)

	router := rules.NewRouter(staticMatcher{}, &mockStarter{}, log.Discard())
	require.NoError(t, router.Register(bus))

	bus.AssertExpectations(t)
}

func TestRouter_HandleRejectsOtherEvents(t *testing.T) {
	router := rules.NewRouter(staticMatcher{}, &mockStarter{}, log.Discard())

	err := router.Handle(context.Background(), &events.ExecutionStarted{})
	require.Error(t, err)
}
