package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"buy-process-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublishBuyProcessEventKeyedByRecord(t *testing.T) {
	w := &fakeWriter{}
	ep := NewEventPublisher(newProducer(w, "buy-process-events"), nil)
	loanID := int64(3001)

	err := ep.PublishBuyProcessEvent(context.Background(), &models.BuyProcessEvent{
		BaseEvent:    models.BaseEvent{EventID: "e1", EventType: models.EventTypeBuyProcessCompleted, Timestamp: time.Now()},
		BuyProcessID: 42,
		Status:       models.StatusCompleted,
		LoanID:       &loanID,
	})
	require.NoError(t, err)
	require.Len(t, w.messages, 1)
	assert.Equal(t, "buy-process-42", string(w.messages[0].Key))

	var decoded models.BuyProcessEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, models.EventTypeBuyProcessCompleted, decoded.EventType)
	assert.Equal(t, int64(3001), *decoded.LoanID)
}

func TestPublishWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	ep := NewEventPublisher(newProducer(w, "buy-process-events"), nil)

	err := ep.PublishBuyProcessEvent(context.Background(), &models.BuyProcessEvent{BuyProcessID: 1})
	assert.ErrorContains(t, err, "leader not available")
}

func TestPublishChannelMessagesUpdatedRequiresProducer(t *testing.T) {
	ep := NewEventPublisher(newProducer(&fakeWriter{}, "buy-process-events"), nil)
	assert.Error(t, ep.PublishChannelMessagesUpdated(context.Background(), &models.ChannelMessagesUpdatedEvent{ChannelID: 3}))

	w := &fakeWriter{}
	ep = NewEventPublisher(newProducer(&fakeWriter{}, "buy-process-events"), newProducer(w, "channel-message-events"))
	require.NoError(t, ep.PublishChannelMessagesUpdated(context.Background(), &models.ChannelMessagesUpdatedEvent{ChannelID: 3}))
	assert.Equal(t, "channel-3", string(w.messages[0].Key))
}

func TestHandleMessageRoutesChannelMessagesUpdated(t *testing.T) {
	eh := NewEventHandler()
	var got *models.ChannelMessagesUpdatedEvent
	eh.OnChannelMessagesUpdated(func(_ context.Context, e *models.ChannelMessagesUpdatedEvent) error {
		got = e
		return nil
	})

	payload, err := json.Marshal(models.ChannelMessagesUpdatedEvent{
		BaseEvent: models.BaseEvent{EventID: "e2", EventType: models.EventTypeChannelMessagesUpdated},
		ChannelID: 3,
	})
	require.NoError(t, err)

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: payload}))
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.ChannelID)
	assert.Equal(t, "e2", got.EventID)
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	eh := NewEventHandler()
	eh.OnChannelMessagesUpdated(func(context.Context, *models.ChannelMessagesUpdatedEvent) error {
		t.Fatal("handler must not be called")
		return nil
	})

	require.NoError(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"BUY_PROCESS_COMPLETED"}`)}))
	assert.Error(t, eh.HandleMessage(context.Background(), kafka.Message{Value: []byte(`not json`)}))
}
