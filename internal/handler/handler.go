// Package handler exposes the pricing service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-pricing/internal/domain/ledger"
	"github.com/xenking/kart-pricing/internal/domain/offer"
	"github.com/xenking/kart-pricing/internal/domain/pricing"
)

// Pricer is the pricing pipeline consumed by the handlers.
type Pricer interface {
	Price(ctx context.Context, req pricing.Request) (*pricing.Result, error)
	EligibleOffers(ctx context.Context, items []offer.LineItem) ([]offer.MatchedOffer, error)
	Checkout(ctx context.Context, req pricing.Request) (*pricing.CheckoutResult, error)
	Confirm(ctx context.Context, reservationID, orderID string) (*ledger.Redemption, error)
	Abandon(ctx context.Context, reservationID string) error
	CommitRedemption(ctx context.Context, offerID int64, orderID string) (*ledger.Redemption, error)
}

var _ Pricer = (*pricing.Service)(nil)

// Config holds non-dependency handler settings.
type Config struct {
	// Currency is the ISO 4217 code echoed in responses.
	Currency string
	// MaxBodyBytes limits request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the pricing and checkout API.
type Handler struct {
	pricer   Pricer
	currency string
	maxBody  int64
}

// NewHandler creates a Handler.
func NewHandler(cfg Config, p Pricer) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Handler{
		pricer:   p,
		currency: cfg.Currency,
		maxBody:  cfg.MaxBodyBytes,
	}
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/pricing/quote", h.Quote)
		r.Post("/pricing/offers", h.Offers)
		r.Post("/checkout", h.Checkout)
		r.Post("/checkout/{reservationId}/confirm", h.Confirm)
		r.Delete("/checkout/{reservationId}", h.Abandon)
		r.Post("/redemptions", h.Redeem)
	})
}

// Router returns a chi router with the API mounted.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	return r
}
