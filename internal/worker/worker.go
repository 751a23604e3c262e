package worker

import (
	"context"
	"fmt"

	"buy-process-service/internal/broker"
	"buy-process-service/internal/models"
	"buy-process-service/internal/util"

	"go.uber.org/zap"
)

// CacheInvalidator drops cached channel messages.
type CacheInvalidator interface {
	Invalidate()
	InvalidateChannel(channelID int64)
}

// EventLedger remembers which consumed events were already applied.
type EventLedger interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// MessageCacheWorker applies channel message changes announced on Kafka to
// the local message cache.
type MessageCacheWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	cache        CacheInvalidator
	ledger       EventLedger
	group        string
	logger       *zap.Logger
}

// NewMessageCacheWorker creates a new message cache worker. group is the
// consumer group of this instance.
func NewMessageCacheWorker(consumer *broker.Consumer, cache CacheInvalidator, ledger EventLedger, group string) *MessageCacheWorker {
	w := &MessageCacheWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		cache:        cache,
		ledger:       ledger,
		group:        group,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnChannelMessagesUpdated(w.HandleChannelMessagesUpdated)
	return w
}

// Start starts the worker
func (w *MessageCacheWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting message cache worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *MessageCacheWorker) Stop() error {
	w.logger.Info("Stopping message cache worker")
	return w.consumer.Close()
}

// HandleChannelMessagesUpdated invalidates the cache for the announced channel,
// or all of it when no channel is given.
//
// The ledger is keyed by event and consumer group, so each instance applies an
// event once even though every instance receives it.
func (w *MessageCacheWorker) HandleChannelMessagesUpdated(ctx context.Context, event *models.ChannelMessagesUpdatedEvent) error {
	ctx, span := util.StartSpan(ctx, "MessageCacheWorker.HandleChannelMessagesUpdated")
	defer span.End()

	ledgerKey := fmt.Sprintf("%s:%s", w.group, event.EventID)
	processed, err := w.ledger.IsEventProcessed(ctx, ledgerKey)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if event.ChannelID == 0 {
		w.cache.Invalidate()
	} else {
		w.cache.InvalidateChannel(event.ChannelID)
	}

	if err := w.ledger.MarkEventProcessed(ctx, ledgerKey, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
