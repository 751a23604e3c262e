package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"buy-process-service/internal/models"
	"buy-process-service/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Validator runs the rule chain over a buy process.
type Validator interface {
	Validate(ctx context.Context, bp *models.BuyProcess, rc RequestContext) (*models.BuyProcess, error)
}

// Provisioner turns a validated buy process into a loan.
type Provisioner interface {
	Provision(ctx context.Context, bp *models.BuyProcess) (*models.BuyProcess, error)
}

// ServiceConfig holds the timings used around validation and provisioning.
type ServiceConfig struct {
	ProvisionLockTTL  time.Duration
	IdempotencyKeyTTL time.Duration
}

// BuyProcessService handles buy process intake, validation and provisioning
type BuyProcessService struct {
	repo        BuyProcessRepository
	coordinator Coordinator
	publisher   EventPublisher
	chain       Validator
	provisioner Provisioner
	cfg         ServiceConfig
	validate    *validator.Validate
	logger      *zap.Logger
}

// NewBuyProcessService creates a new buy process service
func NewBuyProcessService(
	repo BuyProcessRepository,
	coordinator Coordinator,
	publisher EventPublisher,
	chain Validator,
	provisioner Provisioner,
	cfg ServiceConfig,
) *BuyProcessService {
	if cfg.ProvisionLockTTL <= 0 {
		cfg.ProvisionLockTTL = 2 * time.Minute
	}
	if cfg.IdempotencyKeyTTL <= 0 {
		cfg.IdempotencyKeyTTL = 24 * time.Hour
	}
	return &BuyProcessService{
		repo:        repo,
		coordinator: coordinator,
		publisher:   publisher,
		chain:       chain,
		provisioner: provisioner,
		cfg:         cfg,
		validate:    validator.New(),
		logger:      util.GetLogger(),
	}
}

// SubmitRequest represents a point-of-sale credit purchase request
type SubmitRequest struct {
	ChannelID      int64           `json:"channel_id" validate:"required,gt=0"`
	ClientID       int64           `json:"client_id" validate:"required,gt=0"`
	PointOfSaleID  int64           `json:"point_of_sale_id" validate:"required,gt=0"`
	ProductID      int64           `json:"product_id" validate:"required,gt=0"`
	CreditLineID   int64           `json:"credit_line_id" validate:"gte=0"`
	RequestedDate  string          `json:"requested_date" validate:"required,datetime=2006-01-02"`
	Amount         decimal.Decimal `json:"amount"`
	Term           int             `json:"term" validate:"required,gt=0"`
	CreatedBy      string          `json:"created_by" validate:"max=100"`
	IdempotencyKey string          `json:"idempotency_key,omitempty" validate:"omitempty,max=128"`
}

// SubmitResult is the outcome of a submission.
type SubmitResult struct {
	BuyProcess *models.BuyProcess
	Duplicate  bool
}

// Submit stores, validates and provisions a buy process. A repeated
// idempotency key returns the stored record without running anything again.
// A provisioning stage failure is returned as *StageFailure together with the
// record that carries it.
func (s *BuyProcessService) Submit(ctx context.Context, req *SubmitRequest, rc RequestContext) (*SubmitResult, error) {
	ctx, span := util.StartSpan(ctx, "BuyProcessService.Submit")
	defer span.End()

	bp, err := s.intake(req, rc)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.GetBuyProcessByIdempotencyKey(ctx, bp.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("Duplicate buy process request detected",
			zap.String("idempotency_key", bp.IdempotencyKey),
			zap.Int64("buy_process_id", existing.ID))
		return &SubmitResult{BuyProcess: existing, Duplicate: true}, nil
	}

	claimed, err := s.coordinator.ClaimIdempotencyKey(ctx, bp.IdempotencyKey, s.cfg.IdempotencyKeyTTL)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return s.lateDuplicate(ctx, bp.IdempotencyKey)
	}

	if err := s.repo.CreateBuyProcess(ctx, bp); err != nil {
		if relErr := s.coordinator.ReleaseIdempotencyKey(context.WithoutCancel(ctx), bp.IdempotencyKey); relErr != nil {
			s.logger.Error("Failed to release idempotency key", zap.Error(relErr))
		}
		return nil, fmt.Errorf("failed to create buy process: %w", err)
	}
	util.BuyProcessesSubmittedTotal.WithLabelValues(strconv.FormatInt(bp.ChannelID, 10)).Inc()
	s.logger.Info("Buy process received", zap.Int64("buy_process_id", bp.ID))

	if _, err := s.chain.Validate(ctx, bp, rc); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateBuyProcessState(ctx, bp); err != nil {
		return nil, fmt.Errorf("failed to store validation result: %w", err)
	}

	if !bp.Valid() {
		util.BuyProcessesRejectedTotal.Inc()
		s.publish(ctx, bp, models.EventTypeBuyProcessRejected, "", "")
		return &SubmitResult{BuyProcess: bp}, nil
	}
	s.publish(ctx, bp, models.EventTypeBuyProcessValidated, "", "")

	bp, err = s.provision(ctx, bp)
	return &SubmitResult{BuyProcess: bp}, err
}

// GetBuyProcess retrieves a buy process by ID
func (s *BuyProcessService) GetBuyProcess(ctx context.Context, id int64) (*models.BuyProcess, error) {
	return s.repo.GetBuyProcessByID(ctx, id)
}

// Provision runs provisioning for a stored buy process. It is refused with
// *AlreadyProvisionedError when the record already has a loan.
func (s *BuyProcessService) Provision(ctx context.Context, id int64) (*models.BuyProcess, error) {
	ctx, span := util.StartBuyProcessSpan(ctx, "BuyProcessService.Provision", id)
	defer span.End()

	bp, err := s.repo.GetBuyProcessByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.provision(ctx, bp)
}

// provision holds the per-record lock for the whole saga so two instances
// never provision the same buy process.
func (s *BuyProcessService) provision(ctx context.Context, bp *models.BuyProcess) (*models.BuyProcess, error) {
	lock, err := s.coordinator.AcquireLock(ctx, fmt.Sprintf("buy-process:%d", bp.ID), s.cfg.ProvisionLockTTL)
	if err != nil {
		return bp, err
	}
	if lock == nil {
		return bp, ErrProvisioningInProgress
	}
	defer func() {
		if err := s.coordinator.ReleaseLock(context.WithoutCancel(ctx), lock); err != nil {
			s.logger.Error("Failed to release provisioning lock", zap.Int64("buy_process_id", bp.ID), zap.Error(err))
		}
	}()

	bp, err = s.provisioner.Provision(ctx, bp)
	if err == nil {
		s.publish(ctx, bp, models.EventTypeBuyProcessCompleted, "", "")
		return bp, nil
	}

	var failure *StageFailure
	if errors.As(err, &failure) {
		s.publish(ctx, bp, models.EventTypeBuyProcessStageFailed, failure.Stage, failure.Message)
	}
	return bp, err
}

// StageCompleted publishes the loan creation as soon as it is stored, so
// reconciliation knows about the loan even if a later stage fails. It is
// registered with ProvisioningSaga.OnStageCompleted.
func (s *BuyProcessService) StageCompleted(ctx context.Context, bp *models.BuyProcess, stage models.Stage) {
	if stage == models.StageCreate {
		s.publish(ctx, bp, models.EventTypeBuyProcessLoanCreated, stage, "")
	}
}

func (s *BuyProcessService) intake(req *SubmitRequest, rc RequestContext) (*models.BuyProcess, error) {
	if req.ChannelID == 0 && rc.ChannelHeader != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(rc.ChannelHeader), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: channel header %q is not an id", ErrInvalidRequest, rc.ChannelHeader)
		}
		req.ChannelID = id
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err.Error())
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	requested, err := time.Parse("2006-01-02", req.RequestedDate)
	if err != nil {
		return nil, fmt.Errorf("%w: requested_date: %s", ErrInvalidRequest, err.Error())
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}
	createdBy := req.CreatedBy
	if createdBy == "" {
		createdBy = rc.Actor
	}

	return &models.BuyProcess{
		ChannelID:      req.ChannelID,
		ClientID:       req.ClientID,
		PointOfSaleID:  req.PointOfSaleID,
		ProductID:      req.ProductID,
		CreditLineID:   req.CreditLineID,
		RequestedDate:  requested,
		Amount:         req.Amount,
		Term:           req.Term,
		CreatedBy:      createdBy,
		ClientIP:       rc.ClientIP,
		DeviceInfo:     rc.DeviceInfo,
		IdempotencyKey: req.IdempotencyKey,
		Status:         models.StatusReceived,
	}, nil
}

// lateDuplicate handles a key claimed by a concurrent request: the record is
// returned once stored, otherwise the caller has to retry.
func (s *BuyProcessService) lateDuplicate(ctx context.Context, key string) (*SubmitResult, error) {
	existing, err := s.repo.GetBuyProcessByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing == nil {
		return nil, ErrSubmissionInProgress
	}
	return &SubmitResult{BuyProcess: existing, Duplicate: true}, nil
}

func (s *BuyProcessService) publish(ctx context.Context, bp *models.BuyProcess, eventType string, stage models.Stage, reason string) {
	event := &models.BuyProcessEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		BuyProcessID: bp.ID,
		ChannelID:    bp.ChannelID,
		ClientID:     bp.ClientID,
		Status:       bp.Status,
		LoanID:       bp.LoanID,
		Stage:        stage,
		Reason:       reason,
		Diagnostics:  bp.Diagnostics.Entries(),
	}

	if err := s.publisher.PublishBuyProcessEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish buy process event",
			zap.String("event_type", eventType),
			zap.Int64("buy_process_id", bp.ID),
			zap.Error(err))
	}
}
