package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"buy-process-service/internal/models"

	"github.com/lib/pq"
)

// ErrImmutable is returned when an update targets a record in a terminal status.
var ErrImmutable = models.ErrImmutable

var terminalStatuses = []string{
	string(models.StatusValidationFailed),
	string(models.StatusFailedCreate),
	string(models.StatusFailedApprove),
	string(models.StatusFailedDisburse),
	string(models.StatusCompleted),
}

const buyProcessColumns = `id, channel_id, client_id, point_of_sale_id, product_id, credit_line_id,
	requested_date, amount, term, created_by, client_ip, device_info, idempotency_key,
	loan_id, diagnostics, status, stage_error, failed_stage, follow_up, created_at, updated_at`

// CreateBuyProcess inserts a new buy process
func (s *Store) CreateBuyProcess(ctx context.Context, bp *models.BuyProcess) error {
	query := `
		INSERT INTO buy_processes (channel_id, client_id, point_of_sale_id, product_id, credit_line_id,
			requested_date, amount, term, created_by, client_ip, device_info, idempotency_key,
			diagnostics, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		bp.ChannelID, bp.ClientID, bp.PointOfSaleID, bp.ProductID, bp.CreditLineID,
		bp.RequestedDate, bp.Amount, bp.Term, bp.CreatedBy, bp.ClientIP, bp.DeviceInfo,
		bp.IdempotencyKey, bp.Diagnostics, bp.Status)

	if err := row.Scan(&bp.ID, &bp.CreatedAt, &bp.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert buy process: %w", err)
	}
	return nil
}

// GetBuyProcessByID retrieves a buy process by ID
func (s *Store) GetBuyProcessByID(ctx context.Context, id int64) (*models.BuyProcess, error) {
	var bp models.BuyProcess
	err := s.db.GetContext(ctx, &bp, "SELECT "+buyProcessColumns+" FROM buy_processes WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("buy process %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &bp, nil
}

// GetBuyProcessByIdempotencyKey retrieves a buy process by idempotency key
func (s *Store) GetBuyProcessByIdempotencyKey(ctx context.Context, key string) (*models.BuyProcess, error) {
	var bp models.BuyProcess
	err := s.db.GetContext(ctx, &bp, "SELECT "+buyProcessColumns+" FROM buy_processes WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bp, nil
}

// UpdateBuyProcessState persists the mutable diagnostic and provisioning state.
// Rows already in a terminal status are left untouched and ErrImmutable is returned.
func (s *Store) UpdateBuyProcessState(ctx context.Context, bp *models.BuyProcess) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE buy_processes
		SET status = $1, diagnostics = $2, loan_id = $3, stage_error = $4,
			failed_stage = $5, follow_up = $6, updated_at = NOW()
		WHERE id = $7 AND status <> ALL($8)`,
		bp.Status, bp.Diagnostics, bp.LoanID, bp.StageError,
		bp.FailedStage, bp.FollowUp, bp.ID, pq.Array(terminalStatuses))
	if err != nil {
		return fmt.Errorf("failed to update buy process %d: %w", bp.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("buy process %d: %w", bp.ID, ErrImmutable)
	}
	return nil
}

// ListBuyProcessesByStatus returns records in the given status, newest first.
// Operators use it to find provisioning failures awaiting reconciliation.
func (s *Store) ListBuyProcessesByStatus(ctx context.Context, status models.Status, limit int) ([]models.BuyProcess, error) {
	var out []models.BuyProcess
	err := s.db.SelectContext(ctx, &out,
		"SELECT "+buyProcessColumns+" FROM buy_processes WHERE status = $1 ORDER BY created_at DESC LIMIT $2",
		status, limit)
	return out, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

