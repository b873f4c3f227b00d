package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/notifier/internal/domain"
	apperrors "github.com/utafrali/notifier/pkg/errors"
	pkgkafka "github.com/utafrali/notifier/pkg/kafka"
	"github.com/utafrali/notifier/pkg/logger"
)

// --- Mock Enqueuer ---

type mockEnqueuer struct {
	mock.Mock
}

func (m *mockEnqueuer) Queue(ctx context.Context, in *domain.CreateNotificationInput) (*domain.QueueResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueResult), args.Error(1)
}

// --- Test helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEvent(eventType string, data any) *pkgkafka.Event {
	dataBytes, _ := json.Marshal(data)
	return &pkgkafka.Event{
		EventID:       "evt-test-123",
		EventType:     eventType,
		AggregateID:   "agg-test-456",
		AggregateType: "order",
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        "order-service",
		Data:          dataBytes,
	}
}

func newTestEventRaw(eventType string, rawData json.RawMessage) *pkgkafka.Event {
	return &pkgkafka.Event{
		EventID:       "evt-test-123",
		EventType:     eventType,
		AggregateID:   "agg-test-456",
		AggregateType: "order",
		Version:       1,
		Timestamp:     time.Now().UTC(),
		Source:        "order-service",
		Data:          rawData,
	}
}

func validRequest() NotificationRequestedData {
	return NotificationRequestedData{
		UserID:   "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		Type:     domain.TypeAccountUpdate,
		Priority: domain.PriorityHigh,
		Title:    "Order shipped",
		Message:  "Your order is on its way.",
		Data:     map[string]any{"email": "jane@example.com"},
		Channels: []string{"email", "in_app"},
		DedupKey: "order-001-shipped",
	}
}

// ============================================================
// Handle tests
// ============================================================

func TestHandle_QueuesRequest(t *testing.T) {
	queue := new(mockEnqueuer)
	handler := NewConsumerHandler(queue, newTestLogger())
	ctx := context.Background()

	queue.On("Queue", mock.Anything, mock.MatchedBy(func(in *domain.CreateNotificationInput) bool {
		return in.UserID == "7c9e6679-7425-40de-944b-e07fc1f90ae7" &&
			in.Type == domain.TypeAccountUpdate &&
			in.Priority == domain.PriorityHigh &&
			in.DedupKey == "order-001-shipped" &&
			len(in.Channels) == 2 &&
			in.Channels[0] == domain.ChannelEmail &&
			in.Channels[1] == domain.ChannelInApp
	})).Return(&domain.QueueResult{
		Notification: domain.Notification{ID: "ntf-1"},
		QueueSize:    1,
	}, nil)

	err := handler.Handle(ctx, newTestEvent(TopicNotificationRequested, validRequest()))
	require.NoError(t, err)
	queue.AssertExpectations(t)
}

func TestHandle_InvalidRequestIsPermanent(t *testing.T) {
	queue := new(mockEnqueuer)
	handler := NewConsumerHandler(queue, newTestLogger())
	ctx := context.Background()

	req := validRequest()
	req.Title = ""

	queue.On("Queue", mock.Anything, mock.Anything).Return(nil, apperrors.InvalidInput("title is required"))

	err := handler.Handle(ctx, newTestEvent(TopicNotificationRequested, req))
	require.Error(t, err)
	assert.True(t, pkgkafka.IsPermanent(err))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	queue.AssertExpectations(t)
}

func TestHandle_QueueFullIsRetried(t *testing.T) {
	queue := new(mockEnqueuer)
	handler := NewConsumerHandler(queue, newTestLogger())
	ctx := context.Background()

	queue.On("Queue", mock.Anything, mock.Anything).Return(nil, apperrors.QueueFull(10000))

	err := handler.Handle(ctx, newTestEvent(TopicNotificationRequested, validRequest()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrQueueFull))
	assert.False(t, pkgkafka.IsPermanent(err))
}

func TestHandle_MalformedPayload(t *testing.T) {
	queue := new(mockEnqueuer)
	handler := NewConsumerHandler(queue, newTestLogger())

	err := handler.Handle(context.Background(), newTestEventRaw(TopicNotificationRequested, json.RawMessage(`{"priority":7}`)))
	require.Error(t, err)
	assert.True(t, pkgkafka.IsPermanent(err))
	queue.AssertNotCalled(t, "Queue", mock.Anything, mock.Anything)
}

func TestHandle_UnknownEventType(t *testing.T) {
	queue := new(mockEnqueuer)
	handler := NewConsumerHandler(queue, newTestLogger())

	event := newTestEvent("notifier.unknown.event", map[string]string{"foo": "bar"})
	err := handler.Handle(context.Background(), event)
	assert.NoError(t, err)
	queue.AssertNotCalled(t, "Queue", mock.Anything, mock.Anything)
}

func TestHandle_IdempotentRedelivery(t *testing.T) {
	queue := new(mockEnqueuer)
	handler := NewConsumerHandler(queue, newTestLogger())
	ctx := context.Background()

	queue.On("Queue", mock.Anything, mock.Anything).Return(&domain.QueueResult{QueueSize: 1}, nil).Once()

	handle := pkgkafka.IdempotentHandler(pkgkafka.NewMemoryIdempotencyStore(time.Hour), handler.Handle, newTestLogger())
	event := newTestEvent(TopicNotificationRequested, validRequest())

	require.NoError(t, handle(ctx, event))
	require.NoError(t, handle(ctx, event))
	queue.AssertNumberOfCalls(t, "Queue", 1)
}

func TestHandle_CarriesCorrelationID(t *testing.T) {
	queue := new(mockEnqueuer)
	handler := NewConsumerHandler(queue, newTestLogger())

	queue.On("Queue", mock.MatchedBy(func(ctx context.Context) bool {
		return logger.CorrelationIDFromContext(ctx) == "corr-789"
	}), mock.Anything).Return(&domain.QueueResult{QueueSize: 1}, nil)

	event := newTestEvent(TopicNotificationRequested, validRequest()).WithCorrelationID("corr-789")
	require.NoError(t, handler.Handle(context.Background(), event))
	queue.AssertExpectations(t)
}

func TestNotificationRequestedData_Input(t *testing.T) {
	at := time.Date(2025, 7, 1, 18, 0, 0, 0, time.UTC)
	req := validRequest()
	req.ScheduledFor = &at

	in := req.Input()
	assert.Equal(t, req.UserID, in.UserID)
	assert.Equal(t, req.Title, in.Title)
	assert.Equal(t, &at, in.ScheduledFor)
	assert.Equal(t, []domain.Channel{domain.ChannelEmail, domain.ChannelInApp}, in.Channels)
	assert.Equal(t, "jane@example.com", in.Data["email"])
}

func TestNewConsumer(t *testing.T) {
	handler := NewConsumerHandler(new(mockEnqueuer), newTestLogger())

	c := NewConsumer([]string{"localhost:19092"}, handler, pkgkafka.NewMemoryIdempotencyStore(time.Hour), nil, newTestLogger())
	require.NotNil(t, c)
	assert.NoError(t, c.Close())
}
