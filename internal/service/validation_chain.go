package service

import (
	"context"
	"fmt"
	"time"

	"buy-process-service/internal/models"
	"buy-process-service/internal/rules"
	"buy-process-service/internal/util"

	"go.uber.org/zap"
)

// ChainConfig tunes a ValidationChain.
type ChainConfig struct {
	GenericChannelID int64
	ReadTimeout      time.Duration
	Location         *time.Location
	Now              func() time.Time
}

// Resolver returns the wording of a failed rule.
type Resolver interface {
	Resolve(ctx context.Context, channelID int64, rulePriority int) string
}

type chainStep struct {
	rule  rules.Rule
	check predicate
}

// ValidationChain runs every catalogue rule against a buy process in priority
// order and records a diagnostic for each failure.
type ValidationChain struct {
	steps    []chainStep
	reader   ReferenceDataReader
	resolver Resolver
	cfg      ChainConfig
	logger   *zap.Logger
}

// NewValidationChain binds the catalogue to its checks. A catalogue rule
// without a check is a deployment defect and returns a *rules.ConfigurationError.
func NewValidationChain(reader ReferenceDataReader, resolver Resolver, cfg ChainConfig) (*ValidationChain, error) {
	return newValidationChain(reader, resolver, cfg, defaultPredicates)
}

func newValidationChain(
	reader ReferenceDataReader,
	resolver Resolver,
	cfg ChainConfig,
	bindings map[rules.Name]predicate,
) (*ValidationChain, error) {
	if cfg.GenericChannelID == 0 {
		cfg.GenericChannelID = models.GenericChannelID
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	for name := range bindings {
		if _, err := rules.Lookup(name); err != nil {
			return nil, err
		}
	}

	catalogue := rules.All()
	steps := make([]chainStep, 0, len(catalogue))
	for _, rule := range catalogue {
		check, ok := bindings[rule.Name]
		if !ok {
			return nil, &rules.ConfigurationError{Name: rule.Name, Reason: "no check bound"}
		}
		steps = append(steps, chainStep{rule: rule, check: check})
	}

	return &ValidationChain{
		steps:    steps,
		reader:   reader,
		resolver: resolver,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}, nil
}

// Rules returns the rules in evaluation order.
func (vc *ValidationChain) Rules() []rules.Rule {
	out := make([]rules.Rule, len(vc.steps))
	for i, step := range vc.steps {
		out[i] = step.rule
	}
	return out
}

// Validate evaluates every rule, never stopping at the first failure, and
// returns the same record with its diagnostics and status updated. Rule
// failures are not errors; an error means the record could not enter or leave
// VALIDATING.
func (vc *ValidationChain) Validate(ctx context.Context, bp *models.BuyProcess, rc RequestContext) (*models.BuyProcess, error) {
	ctx, span := util.StartBuyProcessSpan(ctx, "ValidationChain.Validate", bp.ID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.ValidationLatency.Observe(time.Since(start).Seconds())
	}()

	if err := bp.Advance(models.StatusValidating); err != nil {
		util.RecordError(span, err)
		return bp, fmt.Errorf("failed to start validation: %w", err)
	}
	bp.Diagnostics.Reset()

	logger := util.BuyProcessLogger(bp.ID).With(
		zap.String("client_ip", rc.ClientIP),
		zap.String("channel_header", rc.ChannelHeader),
	)

	ref := &referenceContext{
		bp:           bp,
		reader:       vc.reader,
		timeout:      vc.cfg.ReadTimeout,
		businessDate: vc.cfg.Now().In(vc.cfg.Location),
		logger:       logger,
	}

	for _, step := range vc.steps {
		if step.check(ctx, ref) {
			continue
		}
		msg := vc.resolver.Resolve(ctx, vc.messageChannel(ctx, ref), step.rule.Priority)
		bp.Diagnostics.Add(string(step.rule.Name), msg)
		util.RuleFailuresTotal.WithLabelValues(string(step.rule.Name)).Inc()
		logger.Debug("Rule failed", zap.String("rule", step.rule.String()), zap.String("message", msg))
	}

	next := models.StatusValidated
	if !bp.Valid() {
		next = models.StatusValidationFailed
	}
	if err := bp.Advance(next); err != nil {
		util.RecordError(span, err)
		return bp, fmt.Errorf("failed to finish validation: %w", err)
	}

	logger.Info("Buy process validated",
		zap.String("status", string(bp.Status)),
		zap.Int("failed", bp.Diagnostics.Len()),
		zap.Strings("failed_rules", bp.Diagnostics.Rules()))
	return bp, nil
}

// messageChannel is the request's channel when it exists, otherwise the generic one.
func (vc *ValidationChain) messageChannel(ctx context.Context, ref *referenceContext) int64 {
	if ch := ref.Channel(ctx); ch != nil {
		return ch.ID
	}
	return vc.cfg.GenericChannelID
}
