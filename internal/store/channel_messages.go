package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"buy-process-service/internal/models"
)

// FindMessage returns the message configured for a channel and rule priority.
func (s *Store) FindMessage(ctx context.Context, channelID int64, rulePriority int) (string, error) {
	var message string
	err := s.db.GetContext(ctx, &message,
		"SELECT message FROM channel_messages WHERE channel_id = $1 AND rule_priority = $2",
		channelID, rulePriority)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to find message for channel %d rule %d: %w", channelID, rulePriority, err)
	}
	return message, nil
}

// ListChannelMessages returns every message configured for a channel, ordered by rule priority.
func (s *Store) ListChannelMessages(ctx context.Context, channelID int64) ([]models.ChannelMessage, error) {
	var messages []models.ChannelMessage
	err := s.db.SelectContext(ctx, &messages,
		"SELECT id, channel_id, rule_priority, message FROM channel_messages WHERE channel_id = $1 ORDER BY rule_priority",
		channelID)
	return messages, err
}
