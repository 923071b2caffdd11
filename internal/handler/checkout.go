package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-pricing/internal/domain/ledger"
)

// Checkout handles POST /api/checkout: prices the cart and holds a usage
// slot for the applied offer.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	d, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	req, err := decodeCart(d)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	res, err := h.pricer.Checkout(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		h.encodeQuoteFields(e, &res.Result)
		e.Field("reservationId", func(e *jx.Encoder) {
			if res.Reservation == nil {
				e.Null()
				return
			}
			e.Str(res.Reservation.ID)
		})
		e.Field("expiresAt", func(e *jx.Encoder) {
			if res.Reservation == nil {
				e.Null()
				return
			}
			encodeTime(e, res.Reservation.ExpiresAt)
		})
	})
	writeJSON(w, http.StatusOK, &e)
}

// Confirm handles POST /api/checkout/{reservationId}/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	d, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	orderID, err := decodeOrderID(d)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	if _, err := h.pricer.Confirm(r.Context(), chi.URLParam(r, "reservationId"), orderID); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Abandon handles DELETE /api/checkout/{reservationId}.
func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.pricer.Abandon(r.Context(), chi.URLParam(r, "reservationId")); err != nil {
		h.fail(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Redeem handles POST /api/redemptions for callers that never checked out.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	d, err := h.readBody(w, r)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	offerID, orderID, err := decodeRedemption(d)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	red, err := h.pricer.CommitRedemption(r.Context(), offerID, orderID)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	var e jx.Encoder
	encodeRedemption(&e, red)
	writeJSON(w, http.StatusCreated, &e)
}

func encodeRedemption(e *jx.Encoder, red *ledger.Redemption) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("offerId", func(e *jx.Encoder) { e.Int64(red.OfferID) })
		e.Field("orderId", func(e *jx.Encoder) { e.Str(red.OrderID) })
		e.Field("redeemedAt", func(e *jx.Encoder) { encodeTime(e, red.RedeemedAt) })
	})
}
