package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"buy-process-service/internal/models"
	"buy-process-service/internal/util"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SagaConfig tunes a ProvisioningSaga. PersistAttempts and PersistBackoff
// bound the retries of every status write.
type SagaConfig struct {
	StageTimeout    time.Duration
	Location        *time.Location
	Now             func() time.Time
	PersistAttempts uint
	PersistBackoff  time.Duration
}

// StageObserver is called after a stage succeeded, before its status is
// stored, so a created loan is announced even when the write fails.
type StageObserver func(ctx context.Context, bp *models.BuyProcess, stage models.Stage)

// sagaStage is one forward step of provisioning. Nothing is compensated
// automatically: once a loan exists a failure is left for manual follow-up.
type sagaStage struct {
	stage     models.Stage
	running   models.Status
	succeeded models.Status
	failed    models.Status
	followUp  string
	forward   func(ctx context.Context, run *sagaRun) error
}

// sagaRun is the state shared by the stages of one provisioning attempt.
type sagaRun struct {
	bp             *models.BuyProcess
	channel        *models.Channel
	businessDate   time.Time
	approvedAmount decimal.Decimal
}

// ProvisioningSaga turns a validated buy process into a disbursed loan by
// creating, approving and disbursing it in that order.
type ProvisioningSaga struct {
	loans    LoanLifecycle
	reader   ReferenceDataReader
	recorder StateRecorder
	cfg      SagaConfig
	stages   []sagaStage
	observer StageObserver
	logger   *zap.Logger
}

// NewProvisioningSaga creates a new provisioning saga
func NewProvisioningSaga(loans LoanLifecycle, reader ReferenceDataReader, recorder StateRecorder, cfg SagaConfig) *ProvisioningSaga {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PersistAttempts == 0 {
		cfg.PersistAttempts = 3
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 200 * time.Millisecond
	}

	ps := &ProvisioningSaga{
		loans:    loans,
		reader:   reader,
		recorder: recorder,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
	ps.stages = []sagaStage{
		{
			stage:     models.StageCreate,
			running:   models.StatusCreating,
			succeeded: models.StatusCreated,
			failed:    models.StatusFailedCreate,
			followUp:  models.FollowUpNone,
			forward:   ps.createLoan,
		},
		{
			stage:     models.StageApprove,
			running:   models.StatusApproving,
			succeeded: models.StatusApproved,
			failed:    models.StatusFailedApprove,
			followUp:  models.FollowUpManualReconciliation,
			forward:   ps.approveLoan,
		},
		{
			stage:     models.StageDisburse,
			running:   models.StatusDisbursing,
			succeeded: models.StatusCompleted,
			failed:    models.StatusFailedDisburse,
			followUp:  models.FollowUpManualReconciliation,
			forward:   ps.disburseLoan,
		},
	}
	return ps
}

// OnStageCompleted registers the observer called after each successful stage.
func (ps *ProvisioningSaga) OnStageCompleted(observer StageObserver) {
	ps.observer = observer
}

// Provision runs the stages in order and stops at the first failure, which is
// recorded on the record and returned as a *StageFailure. The record is stored
// after every status change. A record that already has a loan is refused with
// *AlreadyProvisionedError before anything is called.
func (ps *ProvisioningSaga) Provision(ctx context.Context, bp *models.BuyProcess) (*models.BuyProcess, error) {
	ctx, span := util.StartBuyProcessSpan(ctx, "ProvisioningSaga.Provision", bp.ID)
	defer span.End()

	if bp.Provisioned() {
		return bp, &AlreadyProvisionedError{BuyProcessID: bp.ID, LoanID: *bp.LoanID}
	}
	if bp.Status != models.StatusValidated || !bp.Valid() {
		return bp, fmt.Errorf("%w: status %s", ErrNotValidated, bp.Status)
	}

	logger := util.BuyProcessLogger(bp.ID)
	run := &sagaRun{
		bp:           bp,
		channel:      ps.channelDefaults(ctx, bp, logger),
		businessDate: ps.cfg.Now().In(ps.cfg.Location),
	}

	for _, st := range ps.stages {
		if err := ps.transition(ctx, bp, st.running); err != nil {
			util.RecordError(span, err)
			return bp, ps.unrecorded(bp, st, err, logger)
		}

		stageCtx, cancel := context.WithTimeout(ctx, ps.cfg.StageTimeout)
		start := time.Now()
		err := st.forward(stageCtx, run)
		cancel()
		util.StageLatency.WithLabelValues(string(st.stage)).Observe(time.Since(start).Seconds())

		if err != nil {
			return bp, ps.fail(ctx, bp, st, err, logger)
		}

		if err := bp.Advance(st.succeeded); err != nil {
			return bp, fmt.Errorf("failed to advance buy process: %w", err)
		}
		if ps.observer != nil {
			ps.observer(ctx, bp, st.stage)
		}
		if err := ps.persist(ctx, bp); err != nil {
			util.RecordError(span, err)
			return bp, ps.unrecorded(bp, st, err, logger)
		}
		logger.Info("Provisioning stage completed", zap.String("stage", string(st.stage)))
	}

	util.BuyProcessesCompletedTotal.Inc()
	logger.Info("Buy process provisioned", zap.Int64("loan_id", *bp.LoanID))
	return bp, nil
}

func (ps *ProvisioningSaga) fail(ctx context.Context, bp *models.BuyProcess, st sagaStage, cause error, logger *zap.Logger) error {
	util.StageFailuresTotal.WithLabelValues(string(st.stage)).Inc()
	logger.Error("Provisioning stage failed",
		zap.String("stage", string(st.stage)),
		zap.String("follow_up", st.followUp),
		zap.Error(cause))

	bp.StageError = cause.Error()
	bp.FailedStage = st.stage
	bp.FollowUp = st.followUp

	failure := &StageFailure{Stage: st.stage, Message: bp.StageError, FollowUp: st.followUp, LoanID: bp.LoanID}
	if err := ps.transition(ctx, bp, st.failed); err != nil {
		return errors.Join(failure, err)
	}
	return failure
}

// unrecorded reports a status write that kept failing. Once a loan exists
// upstream the error carries it as a *StageFailure marked for manual
// reconciliation, since the stored row may not know about it.
func (ps *ProvisioningSaga) unrecorded(bp *models.BuyProcess, st sagaStage, cause error, logger *zap.Logger) error {
	if !bp.Provisioned() {
		return cause
	}

	bp.FollowUp = models.FollowUpManualReconciliation
	logger.Error("Buy process state not recorded for existing loan",
		zap.String("stage", string(st.stage)),
		zap.Int64("loan_id", *bp.LoanID),
		zap.String("status", string(bp.Status)),
		zap.Error(cause))

	failure := &StageFailure{
		Stage:    st.stage,
		Message:  cause.Error(),
		FollowUp: models.FollowUpManualReconciliation,
		LoanID:   bp.LoanID,
	}
	return errors.Join(failure, cause)
}

// transition advances and stores the record.
func (ps *ProvisioningSaga) transition(ctx context.Context, bp *models.BuyProcess, to models.Status) error {
	if err := bp.Advance(to); err != nil {
		return fmt.Errorf("failed to advance buy process: %w", err)
	}
	return ps.persist(ctx, bp)
}

// persist stores the record, retrying with exponential backoff. The write does
// not inherit the caller's cancellation: a loan created upstream must always
// be recorded.
func (ps *ProvisioningSaga) persist(ctx context.Context, bp *models.BuyProcess) error {
	ctx = context.WithoutCancel(ctx)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = ps.cfg.PersistBackoff

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := ps.recorder.UpdateBuyProcessState(ctx, bp)
		if errors.Is(err, models.ErrImmutable) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			ps.logger.Warn("Buy process write failed",
				zap.Int64("buy_process_id", bp.ID),
				zap.String("status", string(bp.Status)),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(ps.cfg.PersistAttempts))
	if err != nil {
		return fmt.Errorf("failed to store buy process status %s: %w", bp.Status, err)
	}
	return nil
}

// channelDefaults reads the loan officer, fund and payment type configured for
// the channel. The loan service applies its own defaults when it is missing.
func (ps *ProvisioningSaga) channelDefaults(ctx context.Context, bp *models.BuyProcess, logger *zap.Logger) *models.Channel {
	ctx, cancel := context.WithTimeout(ctx, ps.cfg.StageTimeout)
	defer cancel()

	ch, err := ps.reader.GetChannel(ctx, bp.ChannelID)
	if err != nil {
		logger.Warn("Channel defaults unavailable", zap.Int64("channel_id", bp.ChannelID), zap.Error(err))
		return nil
	}
	return ch
}

func (ps *ProvisioningSaga) createLoan(ctx context.Context, run *sagaRun) error {
	ctx, span := util.StartSpan(ctx, "ProvisioningSaga.createLoan")
	defer span.End()

	bp := run.bp
	payload := CreateLoanPayload{
		ExternalID:           fmt.Sprintf("buy-process-%d", bp.ID),
		ClientID:             bp.ClientID,
		ProductID:            bp.ProductID,
		Principal:            bp.Amount,
		Installments:         bp.Term,
		SubmittedOn:          run.businessDate,
		ExpectedDisbursement: run.businessDate,
		ChannelID:            bp.ChannelID,
		PointOfSaleID:        bp.PointOfSaleID,
	}
	if run.channel != nil {
		payload.LoanOfficerID = run.channel.LoanOfficerID
		payload.FundID = run.channel.FundID
	}

	loanID, err := ps.loans.CreateLoan(ctx, payload)
	if err != nil {
		util.RecordError(span, err)
		return err
	}
	if loanID <= 0 {
		return fmt.Errorf("loan service returned invalid loan id %d", loanID)
	}
	bp.LoanID = &loanID
	return nil
}

func (ps *ProvisioningSaga) approveLoan(ctx context.Context, run *sagaRun) error {
	ctx, span := util.StartSpan(ctx, "ProvisioningSaga.approveLoan")
	defer span.End()

	payload := ApproveLoanPayload{
		ApprovedOn:     run.businessDate,
		ApprovedAmount: run.bp.Amount,
		Note:           fmt.Sprintf("buy process %d", run.bp.ID),
	}
	if err := ps.loans.ApproveLoan(ctx, *run.bp.LoanID, payload); err != nil {
		util.RecordError(span, err)
		return err
	}
	run.approvedAmount = payload.ApprovedAmount
	return nil
}

func (ps *ProvisioningSaga) disburseLoan(ctx context.Context, run *sagaRun) error {
	ctx, span := util.StartSpan(ctx, "ProvisioningSaga.disburseLoan")
	defer span.End()

	payload := DisburseLoanPayload{
		ActualDisbursementDate: run.businessDate,
		TransactionAmount:      run.approvedAmount,
		Note:                   fmt.Sprintf("buy process %d", run.bp.ID),
	}
	if run.channel != nil {
		payload.PaymentTypeID = run.channel.PaymentTypeID
	}
	if err := ps.loans.DisburseLoan(ctx, *run.bp.LoanID, payload); err != nil {
		util.RecordError(span, err)
		return err
	}
	return nil
}
