package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"buy-process-service/internal/models"
	"buy-process-service/internal/redisclient"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// MockMessageStore
type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) FindMessage(ctx context.Context, channelID int64, rulePriority int) (string, error) {
	args := m.Called(ctx, channelID, rulePriority)
	return args.String(0), args.Error(1)
}

// MockLoanLifecycle
type MockLoanLifecycle struct {
	mock.Mock
}

func (m *MockLoanLifecycle) CreateLoan(ctx context.Context, payload CreateLoanPayload) (int64, error) {
	args := m.Called(ctx, payload)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLoanLifecycle) ApproveLoan(ctx context.Context, loanID int64, payload ApproveLoanPayload) error {
	args := m.Called(ctx, loanID, payload)
	return args.Error(0)
}

func (m *MockLoanLifecycle) DisburseLoan(ctx context.Context, loanID int64, payload DisburseLoanPayload) error {
	args := m.Called(ctx, loanID, payload)
	return args.Error(0)
}

// MockPublisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishBuyProcessEvent(ctx context.Context, event *models.BuyProcessEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// fakeReference serves reference data from maps. Keys present in errs fail
// with that error instead.
type fakeReference struct {
	mu           sync.Mutex
	channels     map[int64]*models.Channel
	clients      map[int64]*models.Client
	pointsOfSale map[int64]*models.PointOfSale
	products     map[int64]*models.Product
	ceilings     map[int64]*models.AllyCeiling
	creditLines  map[int64]*models.CreditLine
	errs         map[string]error
	calls        map[string]int
}

func newFakeReference() *fakeReference {
	return &fakeReference{
		channels:     map[int64]*models.Channel{},
		clients:      map[int64]*models.Client{},
		pointsOfSale: map[int64]*models.PointOfSale{},
		products:     map[int64]*models.Product{},
		ceilings:     map[int64]*models.AllyCeiling{},
		creditLines:  map[int64]*models.CreditLine{},
		errs:         map[string]error{},
		calls:        map[string]int{},
	}
}

// validReference returns data under which the standard request passes every rule.
func validReference() *fakeReference {
	ref := newFakeReference()
	ref.channels[1] = &models.Channel{ID: 1, Name: "generic", Active: true}
	ref.channels[2] = &models.Channel{ID: 2, Name: "retail", Active: true}
	ref.clients[5] = &models.Client{ID: 5, DisplayName: "Ana", Active: true}
	ref.pointsOfSale[7] = &models.PointOfSale{ID: 7, Name: "Store 7", ChannelID: 2, AllyID: 11, Active: true}
	ref.products[1] = &models.Product{ID: 1, Name: "Cuotas", MinTerm: 3, MaxTerm: 24, MinAmount: decimal.NewFromInt(100)}
	ref.ceilings[11] = &models.AllyCeiling{AllyID: 11, Ceiling: decimal.NewFromInt(10000), Used: decimal.NewFromInt(1000)}
	ref.creditLines[5] = &models.CreditLine{ID: 9, ClientID: 5, Limit: decimal.NewFromInt(2000), Used: decimal.Zero}
	return ref
}

func lookup[T any](f *fakeReference, what string, m map[int64]*T, id int64) (*T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[what]++
	if err, ok := f.errs[what]; ok {
		return nil, err
	}
	v, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("%s %d: %w", what, id, models.ErrNotFound)
	}
	return v, nil
}

func (f *fakeReference) GetChannel(_ context.Context, id int64) (*models.Channel, error) {
	return lookup(f, "channel", f.channels, id)
}

func (f *fakeReference) GetClient(_ context.Context, id int64) (*models.Client, error) {
	return lookup(f, "client", f.clients, id)
}

func (f *fakeReference) GetPointOfSale(_ context.Context, id int64) (*models.PointOfSale, error) {
	return lookup(f, "point_of_sale", f.pointsOfSale, id)
}

func (f *fakeReference) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	return lookup(f, "product", f.products, id)
}

func (f *fakeReference) GetAllyCeiling(_ context.Context, allyID int64) (*models.AllyCeiling, error) {
	return lookup(f, "ally_ceiling", f.ceilings, allyID)
}

func (f *fakeReference) GetClientAvailableCredit(_ context.Context, clientID int64) (*models.CreditLine, error) {
	return lookup(f, "credit_line", f.creditLines, clientID)
}

func (f *fakeReference) callCount(what string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[what]
}

// memoryRepository keeps buy processes in memory and records every stored status.
type memoryRepository struct {
	mu        sync.Mutex
	nextID    int64
	records   map[int64]models.BuyProcess
	statuses  []models.Status
	updateErr error
	// failWrites makes the next n writes of a status fail with updateErr.
	failWrites map[models.Status]int
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{nextID: 100, records: map[int64]models.BuyProcess{}}
}

func (r *memoryRepository) CreateBuyProcess(_ context.Context, bp *models.BuyProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	bp.ID = r.nextID
	bp.CreatedAt = time.Now()
	bp.UpdatedAt = bp.CreatedAt
	r.records[bp.ID] = *bp
	r.statuses = append(r.statuses, bp.Status)
	return nil
}

func (r *memoryRepository) GetBuyProcessByID(_ context.Context, id int64) (*models.BuyProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bp, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("buy process %d: %w", id, models.ErrNotFound)
	}
	return &bp, nil
}

func (r *memoryRepository) GetBuyProcessByIdempotencyKey(_ context.Context, key string) (*models.BuyProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bp := range r.records {
		if bp.IdempotencyKey == key {
			found := bp
			return &found, nil
		}
	}
	return nil, nil
}

func (r *memoryRepository) UpdateBuyProcessState(ctx context.Context, bp *models.BuyProcess) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := r.failWrites[bp.Status]; n > 0 {
		r.failWrites[bp.Status] = n - 1
		return r.updateErr
	}
	if r.updateErr != nil && r.failWrites == nil {
		return r.updateErr
	}
	r.records[bp.ID] = *bp
	r.statuses = append(r.statuses, bp.Status)
	return nil
}

func (r *memoryRepository) stored(id int64) models.BuyProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

// memoryCoordinator is an in-process Coordinator.
type memoryCoordinator struct {
	mu    sync.Mutex
	keys  map[string]bool
	locks map[string]string
}

func newMemoryCoordinator() *memoryCoordinator {
	return &memoryCoordinator{keys: map[string]bool{}, locks: map[string]string{}}
}

func (c *memoryCoordinator) ClaimIdempotencyKey(_ context.Context, key string, _ time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	return true, nil
}

func (c *memoryCoordinator) ReleaseIdempotencyKey(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *memoryCoordinator) AcquireLock(_ context.Context, lockKey string, _ time.Duration) (*redisclient.Lock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := "lock:" + lockKey
	if _, held := c.locks[key]; held {
		return nil, nil
	}
	c.locks[key] = "token"
	return &redisclient.Lock{Key: key, Token: "token"}, nil
}

func (c *memoryCoordinator) ReleaseLock(_ context.Context, lock *redisclient.Lock) error {
	if lock == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks[lock.Key] == lock.Token {
		delete(c.locks, lock.Key)
	}
	return nil
}

func (c *memoryCoordinator) held(lockKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.locks["lock:"+lockKey]
	return ok
}

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

// validBuyProcess passes every rule against validReference.
func validBuyProcess() *models.BuyProcess {
	return &models.BuyProcess{
		ID:            42,
		ChannelID:     2,
		ClientID:      5,
		PointOfSaleID: 7,
		ProductID:     1,
		RequestedDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.NewFromInt(500),
		Term:          12,
		Status:        models.StatusReceived,
	}
}
