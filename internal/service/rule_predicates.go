package service

import (
	"context"
	"errors"
	"time"

	"buy-process-service/internal/models"
	"buy-process-service/internal/rules"

	"go.uber.org/zap"
)

// predicate reports whether a buy process passes one rule.
type predicate func(ctx context.Context, ref *referenceContext) bool

// defaultPredicates binds every catalogue rule to its check.
var defaultPredicates = map[rules.Name]predicate{
	rules.Channel:                          channelIsActive,
	rules.CurrentDate:                      requestedDateNotInFuture,
	rules.PointOfSales:                     pointOfSaleBelongsToChannel,
	rules.Client:                           clientIsEligible,
	rules.RequestedVsAvailableAmountClient: amountWithinClientCredit,
	rules.Term:                             termWithinProductRange,
	rules.MinimumAmount:                    amountAboveProductMinimum,
	rules.RequestedVsAvailableAmountAlly:   amountWithinAllyCeiling,
}

func channelIsActive(ctx context.Context, ref *referenceContext) bool {
	ch := ref.Channel(ctx)
	return ch != nil && ch.Active
}

func requestedDateNotInFuture(_ context.Context, ref *referenceContext) bool {
	requested := ref.bp.RequestedDate
	if requested.IsZero() {
		return false
	}
	return !dateOf(requested).After(dateOf(ref.businessDate))
}

func pointOfSaleBelongsToChannel(ctx context.Context, ref *referenceContext) bool {
	pos := ref.PointOfSale(ctx)
	return pos != nil && pos.Active && pos.ChannelID == ref.bp.ChannelID
}

func clientIsEligible(ctx context.Context, ref *referenceContext) bool {
	client := ref.Client(ctx)
	return client != nil && client.Eligible()
}

func amountWithinClientCredit(ctx context.Context, ref *referenceContext) bool {
	if ref.Client(ctx) == nil {
		return false
	}
	line := ref.CreditLine(ctx)
	if line == nil {
		return false
	}
	if ref.bp.CreditLineID != 0 && ref.bp.CreditLineID != line.ID {
		return false
	}
	return ref.bp.Amount.LessThanOrEqual(line.Available())
}

func termWithinProductRange(ctx context.Context, ref *referenceContext) bool {
	product := ref.Product(ctx)
	return product != nil && ref.bp.Term >= product.MinTerm && ref.bp.Term <= product.MaxTerm
}

func amountAboveProductMinimum(ctx context.Context, ref *referenceContext) bool {
	product := ref.Product(ctx)
	return product != nil && ref.bp.Amount.GreaterThanOrEqual(product.MinAmount)
}

func amountWithinAllyCeiling(ctx context.Context, ref *referenceContext) bool {
	ceiling := ref.AllyCeiling(ctx)
	return ceiling != nil && ref.bp.Amount.LessThanOrEqual(ceiling.Available())
}

// dateOf returns the calendar day of t as seen in t's location.
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// referenceContext reads the entities of one validation pass on first use and
// keeps them for the rest of the pass. A missing entity and a failed read both
// read as nil, so every rule depending on it fails.
type referenceContext struct {
	bp           *models.BuyProcess
	reader       ReferenceDataReader
	timeout      time.Duration
	businessDate time.Time
	logger       *zap.Logger

	channel     lazyRef[models.Channel]
	client      lazyRef[models.Client]
	pointOfSale lazyRef[models.PointOfSale]
	product     lazyRef[models.Product]
	creditLine  lazyRef[models.CreditLine]
	allyCeiling lazyRef[models.AllyCeiling]
}

type lazyRef[T any] struct {
	loaded bool
	value  *T
	err    error
}

func (r *referenceContext) Channel(ctx context.Context) *models.Channel {
	return load(ctx, r, &r.channel, "channel", r.bp.ChannelID, r.reader.GetChannel)
}

func (r *referenceContext) Client(ctx context.Context) *models.Client {
	return load(ctx, r, &r.client, "client", r.bp.ClientID, r.reader.GetClient)
}

func (r *referenceContext) PointOfSale(ctx context.Context) *models.PointOfSale {
	return load(ctx, r, &r.pointOfSale, "point of sale", r.bp.PointOfSaleID, r.reader.GetPointOfSale)
}

func (r *referenceContext) Product(ctx context.Context) *models.Product {
	return load(ctx, r, &r.product, "product", r.bp.ProductID, r.reader.GetProduct)
}

func (r *referenceContext) CreditLine(ctx context.Context) *models.CreditLine {
	return load(ctx, r, &r.creditLine, "credit line", r.bp.ClientID, r.reader.GetClientAvailableCredit)
}

// AllyCeiling is reached through the point of sale's ally.
func (r *referenceContext) AllyCeiling(ctx context.Context) *models.AllyCeiling {
	pos := r.PointOfSale(ctx)
	if pos == nil {
		return nil
	}
	return load(ctx, r, &r.allyCeiling, "ally ceiling", pos.AllyID, r.reader.GetAllyCeiling)
}

func load[T any](
	ctx context.Context,
	r *referenceContext,
	ref *lazyRef[T],
	what string,
	id int64,
	fetch func(context.Context, int64) (*T, error),
) *T {
	if ref.loaded {
		return ref.value
	}
	ref.loaded = true

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	ref.value, ref.err = fetch(ctx, id)
	if ref.err != nil {
		ref.value = nil
		if errors.Is(ref.err, models.ErrNotFound) {
			r.logger.Debug("Reference not found", zap.String("reference", what), zap.Int64("id", id))
		} else {
			r.logger.Error("Failed to read reference data",
				zap.String("reference", what),
				zap.Int64("id", id),
				zap.Error(ref.err))
		}
	}
	return ref.value
}
