package handler

import (
	"net/http"

	"github.com/go-faster/jx"
)

// Quote handles POST /api/pricing/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.pricer.Price(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, res)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) { h.encodeQuoteFields(e, res) })
	writeJSON(w, http.StatusOK, &e)
}

// Offers handles POST /api/pricing/offers. Any coupon code in the body is
// ignored.
func (h *Handler) Offers(w http.ResponseWriter, r *http.Request) {
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

	ranked, err := h.pricer.EligibleOffers(r.Context(), req.Items)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("offers", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, m := range ranked {
					encodeMatchedOffer(e, m)
				}
			})
		})
		if h.currency != "" {
			e.Field("currency", func(e *jx.Encoder) { e.Str(h.currency) })
		}
	})
	writeJSON(w, http.StatusOK, &e)
}
