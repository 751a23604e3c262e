package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"buy-process-service/internal/models"
	"buy-process-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	buyProcesses    *Producer
	channelMessages *Producer
}

// NewEventPublisher creates a new event publisher. channelMessages may be nil
// when the process never announces message changes.
func NewEventPublisher(buyProcesses, channelMessages *Producer) *EventPublisher {
	return &EventPublisher{buyProcesses: buyProcesses, channelMessages: channelMessages}
}

// PublishBuyProcessEvent publishes a buy process lifecycle event
func (ep *EventPublisher) PublishBuyProcessEvent(ctx context.Context, event *models.BuyProcessEvent) error {
	key := fmt.Sprintf("buy-process-%d", event.BuyProcessID)
	return ep.buyProcesses.PublishEvent(ctx, key, event)
}

// PublishChannelMessagesUpdated tells every instance to drop its cached messages
func (ep *EventPublisher) PublishChannelMessagesUpdated(ctx context.Context, event *models.ChannelMessagesUpdatedEvent) error {
	if ep.channelMessages == nil {
		return fmt.Errorf("channel message producer not configured")
	}
	key := fmt.Sprintf("channel-%d", event.ChannelID)
	return ep.channelMessages.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onChannelMessagesUpdated func(context.Context, *models.ChannelMessagesUpdatedEvent) error
	logger                   *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnChannelMessagesUpdated registers a handler for ChannelMessagesUpdated events
func (eh *EventHandler) OnChannelMessagesUpdated(handler func(context.Context, *models.ChannelMessagesUpdatedEvent) error) {
	eh.onChannelMessagesUpdated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event", zap.String("type", baseEvent.EventType), zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeChannelMessagesUpdated:
		if eh.onChannelMessagesUpdated != nil {
			var event models.ChannelMessagesUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ChannelMessagesUpdated event: %w", err)
			}
			return eh.onChannelMessagesUpdated(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
