package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"buy-process-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection.
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// getOne runs a single-row query, mapping sql.ErrNoRows to models.ErrNotFound.
func (s *Store) getOne(ctx context.Context, dest interface{}, what string, id int64, query string) error {
	err := s.db.GetContext(ctx, dest, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get %s %d: %w", what, id, err)
	}
	return nil
}

// GetChannel retrieves a channel by ID
func (s *Store) GetChannel(ctx context.Context, id int64) (*models.Channel, error) {
	var channel models.Channel
	err := s.getOne(ctx, &channel, "channel", id,
		"SELECT id, name, active, loan_officer_id, fund_id, payment_type_id FROM channels WHERE id = $1")
	if err != nil {
		return nil, err
	}
	return &channel, nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	var client models.Client
	err := s.getOne(ctx, &client, "client", id,
		"SELECT id, display_name, active, blacklisted, blocked FROM clients WHERE id = $1")
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// GetPointOfSale retrieves a point of sale by ID
func (s *Store) GetPointOfSale(ctx context.Context, id int64) (*models.PointOfSale, error) {
	var pos models.PointOfSale
	err := s.getOne(ctx, &pos, "point of sale", id,
		"SELECT id, name, channel_id, ally_id, active FROM points_of_sale WHERE id = $1")
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// GetProduct retrieves a loan product by ID
func (s *Store) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.getOne(ctx, &product, "product", id,
		"SELECT id, name, min_term, max_term, min_amount FROM loan_products WHERE id = $1")
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetAllyCeiling retrieves the settlement ceiling of an ally
func (s *Store) GetAllyCeiling(ctx context.Context, allyID int64) (*models.AllyCeiling, error) {
	var ceiling models.AllyCeiling
	err := s.getOne(ctx, &ceiling, "ally ceiling", allyID,
		"SELECT ally_id, ceiling, used FROM ally_ceilings WHERE ally_id = $1")
	if err != nil {
		return nil, err
	}
	return &ceiling, nil
}

// GetClientAvailableCredit retrieves the active credit line of a client
func (s *Store) GetClientAvailableCredit(ctx context.Context, clientID int64) (*models.CreditLine, error) {
	var line models.CreditLine
	err := s.getOne(ctx, &line, "credit line for client", clientID, `
		SELECT id, client_id, credit_limit, used
		FROM credit_lines
		WHERE client_id = $1 AND active
		ORDER BY id DESC
		LIMIT 1`)
	if err != nil {
		return nil, err
	}
	return &line, nil
}
