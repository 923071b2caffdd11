// Package pricing prices carts and drives offer redemption through the usage
// ledger.
package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/domain/ledger"
	"github.com/xenking/kart-pricing/internal/domain/money"
	"github.com/xenking/kart-pricing/internal/domain/offer"
)

const instrumentationName = "github.com/xenking/kart-pricing/internal/domain/pricing"

// Request is a cart to price with an optional coupon code.
type Request struct {
	Items      []offer.LineItem
	CouponCode string
}

// Result is the priced cart. Offer is nil when no offer applies.
type Result struct {
	Subtotal    money.Money
	Discount    money.Money
	Total       money.Money
	AppliedCode string
	Offer       *offer.MatchedOffer
}

// CheckoutResult is a priced cart holding a usage slot for its offer.
// Reservation is nil when no offer applies.
type CheckoutResult struct {
	Result
	Reservation *ledger.Reservation
}

// Options configures a Service.
type Options struct {
	// CheckoutTTL bounds how long a checkout holds a usage slot.
	CheckoutTTL    time.Duration
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.CheckoutTTL <= 0 {
		o.CheckoutTTL = 15 * time.Minute
	}
	if o.MeterProvider == nil {
		o.MeterProvider = otel.GetMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = otel.GetTracerProvider()
	}
}

// Service prices carts against the offer catalog.
type Service struct {
	offers offer.Store
	ledger ledger.Ledger
	ttl    time.Duration
	now    func() time.Time

	tracer       trace.Tracer
	quotes       metric.Int64Counter
	reservations metric.Int64Counter
}

// NewService creates a pricing Service.
func NewService(offers offer.Store, l ledger.Ledger, opts Options) (*Service, error) {
	opts.setDefaults()

	meter := opts.MeterProvider.Meter(instrumentationName)
	quotes, err := meter.Int64Counter("pricing.quotes",
		metric.WithDescription("Priced carts by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create quotes counter")
	}
	reservations, err := meter.Int64Counter("pricing.reservations",
		metric.WithDescription("Usage ledger operations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create reservations counter")
	}

	return &Service{
		offers:       offers,
		ledger:       l,
		ttl:          opts.CheckoutTTL,
		now:          time.Now,
		tracer:       opts.TracerProvider.Tracer(instrumentationName),
		quotes:       quotes,
		reservations: reservations,
	}, nil
}

// Price computes subtotal, discount and total for the cart. It never writes
// to the ledger.
//
// When a requested code does not apply, Price returns the undiscounted
// result together with the error so callers can show both.
func (s *Service) Price(ctx context.Context, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.Price")
	defer span.End()

	res, _, err := s.evaluate(ctx, req, s.now())
	s.recordQuote(ctx, res, err)
	if err != nil {
		recordSpanError(span, err)
	}
	return res, err
}

// EligibleOffers returns every offer applicable to the cart, best first.
func (s *Service) EligibleOffers(ctx context.Context, items []offer.LineItem) ([]offer.MatchedOffer, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.EligibleOffers")
	defer span.End()

	if err := validateItems(items); err != nil {
		return nil, err
	}
	ev, err := s.rank(ctx, items, s.now())
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return ev.Ranked, nil
}

// Checkout prices the cart and reserves a usage slot for the selected offer.
// If automatic selection loses the race for the last slot, the next-best
// offer is tried once before falling back to an undiscounted total. A lost
// race on a requested code reports offer.ErrUsageLimitReached.
func (s *Service) Checkout(ctx context.Context, req Request) (*CheckoutResult, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.Checkout")
	defer span.End()

	now := s.now()
	res, ev, err := s.evaluate(ctx, req, now)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if res.Offer == nil {
		return &CheckoutResult{Result: *res}, nil
	}

	candidates := []offer.MatchedOffer{*res.Offer}
	if ev != nil && len(ev.Ranked) > 1 {
		candidates = append(candidates, ev.Ranked[1])
	}

	for i := range candidates {
		m := &candidates[i]
		r, err := s.reserve(ctx, &m.Offer, now.Add(s.ttl))
		if err == nil {
			out := &CheckoutResult{Result: Result{Subtotal: res.Subtotal}, Reservation: r}
			out.apply(m)
			return out, nil
		}
		if !errors.Is(err, ledger.ErrLimitReached) {
			recordSpanError(span, err)
			return nil, err
		}
		if req.CouponCode != "" {
			return nil, offer.ErrUsageLimitReached
		}
		zctx.From(ctx).Info("Offer reservation lost race",
			zap.Int64("offer_id", m.Offer.ID),
			zap.Int("attempt", i+1),
		)
	}

	return &CheckoutResult{Result: Result{Subtotal: res.Subtotal, Total: res.Subtotal}}, nil
}

// Confirm commits a checkout reservation against an order.
func (s *Service) Confirm(ctx context.Context, reservationID, orderID string) (*ledger.Redemption, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.Confirm",
		trace.WithAttributes(attribute.String("reservation_id", reservationID)),
	)
	defer span.End()

	if orderID == "" {
		return nil, ErrInvalidOrderID
	}
	if !ledger.ValidReservationID(reservationID) {
		return nil, ledger.ErrReservationNotFound
	}

	red, err := s.ledger.Commit(ctx, reservationID, orderID, s.now())
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyRedeemed) {
			s.releaseQuietly(ctx, reservationID)
		}
		s.recordReservation(ctx, "commit_failed")
		recordSpanError(span, err)
		return nil, errors.Wrap(err, "commit reservation")
	}
	s.recordReservation(ctx, "committed")
	return red, nil
}

// Abandon releases a checkout reservation.
func (s *Service) Abandon(ctx context.Context, reservationID string) error {
	ctx, span := s.tracer.Start(ctx, "pricing.Abandon",
		trace.WithAttributes(attribute.String("reservation_id", reservationID)),
	)
	defer span.End()

	if !ledger.ValidReservationID(reservationID) {
		return ledger.ErrReservationNotFound
	}
	if err := s.ledger.Release(ctx, reservationID); err != nil {
		recordSpanError(span, err)
		return errors.Wrap(err, "release reservation")
	}
	s.recordReservation(ctx, "released")
	return nil
}

// CommitRedemption records that orderID redeemed offerID, claiming a usage
// slot in the same call. It is meant to be called once after payment.
func (s *Service) CommitRedemption(ctx context.Context, offerID int64, orderID string) (*ledger.Redemption, error) {
	ctx, span := s.tracer.Start(ctx, "pricing.CommitRedemption",
		trace.WithAttributes(attribute.Int64("offer_id", offerID)),
	)
	defer span.End()

	if orderID == "" {
		return nil, ErrInvalidOrderID
	}
	o, err := s.offers.OfferByID(ctx, offerID)
	if err != nil {
		recordSpanError(span, err)
		return nil, errors.Wrap(err, "lookup offer")
	}

	now := s.now()
	r, err := s.reserve(ctx, o, now.Add(s.ttl))
	if err != nil {
		if errors.Is(err, ledger.ErrLimitReached) {
			return nil, offer.ErrUsageLimitReached
		}
		recordSpanError(span, err)
		return nil, err
	}

	red, err := s.ledger.Commit(ctx, r.ID, orderID, now)
	if err != nil {
		s.releaseQuietly(ctx, r.ID)
		recordSpanError(span, err)
		return nil, errors.Wrap(err, "commit redemption")
	}
	s.recordReservation(ctx, "committed")
	return red, nil
}

// evaluate validates and prices the request. The returned evaluation is nil
// when a code was requested.
func (s *Service) evaluate(ctx context.Context, req Request, now time.Time) (*Result, *offer.Evaluation, error) {
	if err := validateItems(req.Items); err != nil {
		return nil, nil, err
	}

	subtotal := offer.Subtotal(req.Items)
	res := &Result{Subtotal: subtotal, Total: subtotal}

	if req.CouponCode != "" {
		m, err := s.selectCode(ctx, req, now)
		if err != nil {
			return res, nil, err
		}
		res.apply(m)
		return res, nil, nil
	}

	ev, err := s.rank(ctx, req.Items, now)
	if err != nil {
		return nil, nil, err
	}
	if best := ev.Best(); best != nil {
		res.apply(best)
	}
	return res, &ev, nil
}

func (s *Service) selectCode(ctx context.Context, req Request, now time.Time) (*offer.MatchedOffer, error) {
	o, err := s.offers.OfferByCode(ctx, req.CouponCode)
	switch {
	case errors.Is(err, offer.ErrOfferNotFound):
		return nil, offer.ErrCodeNotFound
	case err != nil:
		return nil, errors.Wrap(err, "lookup offer code")
	}

	usage, err := s.usage(ctx, []offer.Offer{*o})
	if err != nil {
		return nil, err
	}

	m, err := offer.SelectCode(now, req.Items, o, req.CouponCode, usage)
	if err != nil {
		var mErr *offer.MisconfiguredError
		if errors.As(err, &mErr) {
			logMisconfigured(ctx, mErr)
		}
		return nil, err
	}
	return m, nil
}

func (s *Service) rank(ctx context.Context, items []offer.LineItem, now time.Time) (offer.Evaluation, error) {
	offers, err := s.offers.ActiveOffers(ctx, now)
	if err != nil {
		return offer.Evaluation{}, errors.Wrap(err, "list active offers")
	}
	usage, err := s.usage(ctx, offers)
	if err != nil {
		return offer.Evaluation{}, err
	}

	ev := offer.Rank(now, items, offers, usage)
	for _, err := range ev.Misconfigured {
		var mErr *offer.MisconfiguredError
		if errors.As(err, &mErr) {
			logMisconfigured(ctx, mErr)
		}
	}
	return ev, nil
}

// usage snapshots the ledger for offers that carry a usage limit.
func (s *Service) usage(ctx context.Context, offers []offer.Offer) (offer.Usage, error) {
	var ids []int64
	for _, o := range offers {
		if o.UsageLimit != nil {
			ids = append(ids, o.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	usage, err := s.ledger.Usage(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "read offer usage")
	}
	return usage, nil
}

func (s *Service) reserve(ctx context.Context, o *offer.Offer, expiresAt time.Time) (*ledger.Reservation, error) {
	r, err := s.ledger.Reserve(ctx, o.ID, o.UsageLimit, expiresAt)
	switch {
	case err == nil:
		s.recordReservation(ctx, "reserved")
		return r, nil
	case errors.Is(err, ledger.ErrLimitReached):
		s.recordReservation(ctx, "limit_reached")
		return nil, err
	default:
		return nil, errors.Wrap(err, "reserve offer")
	}
}

func (s *Service) releaseQuietly(ctx context.Context, reservationID string) {
	if err := s.ledger.Release(ctx, reservationID); err != nil {
		zctx.From(ctx).Warn("Release reservation",
			zap.String("reservation_id", reservationID),
			zap.Error(err),
		)
		return
	}
	s.recordReservation(ctx, "released")
}

func (r *Result) apply(m *offer.MatchedOffer) {
	r.Discount = m.Discount.Clamp(0, r.Subtotal)
	r.Total = r.Subtotal - r.Discount
	r.AppliedCode = m.Offer.Code
	r.Offer = m
}

func validateItems(items []offer.LineItem) error {
	if len(items) == 0 {
		return ErrEmptyCart
	}
	var subtotal money.Money
	for i, it := range items {
		switch {
		case it.ProductID == "":
			return &InvalidLineItemError{Index: i, Reason: "product id required"}
		case it.Quantity <= 0:
			return &InvalidLineItemError{Index: i, ProductID: it.ProductID, Reason: "quantity must be greater than 0"}
		case it.UnitPrice < 0:
			return &InvalidLineItemError{Index: i, ProductID: it.ProductID, Reason: "unit price must not be negative"}
		case !it.UnitPrice.CanTimes(it.Quantity):
			return &InvalidLineItemError{Index: i, ProductID: it.ProductID, Reason: "line total out of range"}
		}
		line := it.UnitPrice.Times(it.Quantity)
		if !subtotal.CanAdd(line) {
			return &InvalidLineItemError{Index: i, ProductID: it.ProductID, Reason: "cart subtotal out of range"}
		}
		subtotal += line
	}
	return nil
}

func logMisconfigured(ctx context.Context, err *offer.MisconfiguredError) {
	zctx.From(ctx).Warn("Offer misconfigured",
		zap.Int64("offer_id", err.OfferID),
		zap.String("reason", err.Reason),
	)
}

func (s *Service) recordQuote(ctx context.Context, res *Result, err error) {
	outcome := "none"
	switch {
	case err != nil:
		outcome = ErrorCode(err)
		if outcome == "" {
			outcome = "error"
		}
	case res.Offer != nil:
		outcome = "applied"
	}
	s.quotes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *Service) recordReservation(ctx context.Context, outcome string) {
	s.reservations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
