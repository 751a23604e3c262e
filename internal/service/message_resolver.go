package service

import (
	"context"
	"errors"
	"sync"

	"buy-process-service/internal/models"
	"buy-process-service/internal/util"

	"go.uber.org/zap"
)

// MessageTier is one level of the message fallback order.
// Lookup returns models.ErrNotFound when the tier has no wording.
type MessageTier interface {
	Name() string
	Lookup(ctx context.Context, channelID int64, rulePriority int) (string, error)
}

// ChannelTier looks the message up under the requesting channel.
type ChannelTier struct {
	Store MessageStore
}

func (t ChannelTier) Name() string { return "channel" }

func (t ChannelTier) Lookup(ctx context.Context, channelID int64, rulePriority int) (string, error) {
	return t.Store.FindMessage(ctx, channelID, rulePriority)
}

// GenericTier looks the message up under the generic channel.
type GenericTier struct {
	Store            MessageStore
	GenericChannelID int64
}

func (t GenericTier) Name() string { return "generic" }

func (t GenericTier) Lookup(ctx context.Context, _ int64, rulePriority int) (string, error) {
	return t.Store.FindMessage(ctx, t.GenericChannelID, rulePriority)
}

type messageKey struct {
	channelID    int64
	rulePriority int
}

// MessageResolver resolves the wording of a failed rule, walking its tiers in
// order and falling back to the empty string. Results, including misses, are
// cached until invalidated.
type MessageResolver struct {
	tiers            []MessageTier
	genericChannelID int64

	mu    sync.RWMutex
	cache map[messageKey]string
	// generation changes on every invalidation; a lookup started before one
	// is not cached.
	generation uint64

	logger *zap.Logger
}

// NewMessageResolver creates a resolver with the standard channel then generic order.
func NewMessageResolver(store MessageStore, genericChannelID int64) *MessageResolver {
	return NewMessageResolverWithTiers(genericChannelID,
		ChannelTier{Store: store},
		GenericTier{Store: store, GenericChannelID: genericChannelID},
	)
}

// NewMessageResolverWithTiers creates a resolver with an explicit tier order.
func NewMessageResolverWithTiers(genericChannelID int64, tiers ...MessageTier) *MessageResolver {
	return &MessageResolver{
		tiers:            tiers,
		genericChannelID: genericChannelID,
		cache:            make(map[messageKey]string),
		logger:           util.GetLogger(),
	}
}

// Resolve returns the message for a failed rule. It never fails: a store error
// is logged and the next tier is tried.
func (r *MessageResolver) Resolve(ctx context.Context, channelID int64, rulePriority int) string {
	key := messageKey{channelID: channelID, rulePriority: rulePriority}

	r.mu.RLock()
	msg, ok := r.cache[key]
	generation := r.generation
	r.mu.RUnlock()
	if ok {
		util.MessageCacheHitsTotal.Inc()
		return msg
	}
	util.MessageCacheMissesTotal.Inc()

	msg, complete := r.lookup(ctx, channelID, rulePriority)
	if complete {
		r.mu.Lock()
		if r.generation == generation {
			r.cache[key] = msg
		}
		r.mu.Unlock()
	}
	return msg
}

// lookup walks the tiers. complete is false when a tier failed for a reason
// other than a missing row, so the answer must not be cached.
func (r *MessageResolver) lookup(ctx context.Context, channelID int64, rulePriority int) (string, bool) {
	complete := true
	for _, tier := range r.tiers {
		msg, err := tier.Lookup(ctx, channelID, rulePriority)
		if err == nil {
			return msg, complete
		}
		if !errors.Is(err, models.ErrNotFound) {
			complete = false
			r.logger.Error("Channel message lookup failed",
				zap.String("tier", tier.Name()),
				zap.Int64("channel_id", channelID),
				zap.Int("rule_priority", rulePriority),
				zap.Error(err))
		}
	}
	return "", complete
}

// Invalidate drops every cached message.
func (r *MessageResolver) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[messageKey]string)
	r.generation++
	r.mu.Unlock()

	util.MessageCacheInvalidationsTotal.Inc()
	r.logger.Info("Channel message cache invalidated")
}

// InvalidateChannel drops the cached messages of one channel. Every channel
// falls back to the generic one, so invalidating it clears the whole cache.
func (r *MessageResolver) InvalidateChannel(channelID int64) {
	if channelID == 0 || channelID == r.genericChannelID {
		r.Invalidate()
		return
	}

	r.mu.Lock()
	for key := range r.cache {
		if key.channelID == channelID {
			delete(r.cache, key)
		}
	}
	r.generation++
	r.mu.Unlock()

	util.MessageCacheInvalidationsTotal.Inc()
	r.logger.Info("Channel message cache invalidated", zap.Int64("channel_id", channelID))
}

// Cached reports how many lookups are cached.
func (r *MessageResolver) Cached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
