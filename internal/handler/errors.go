package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/domain/offer"
	"github.com/xenking/kart-pricing/internal/domain/pricing"
)

// statusOf maps a pricing error code to an HTTP status.
func statusOf(code string) int {
	switch code {
	case pricing.CodeInvalidRequest:
		return http.StatusBadRequest
	case pricing.CodeOfferNotFound:
		return http.StatusNotFound
	case pricing.CodeUsageLimitReached, pricing.CodeAlreadyRedeemed, pricing.CodeReservationNotFound:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// fail writes the error response for err. A non-nil res is the undiscounted
// pricing that accompanies a rejected coupon code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, res *pricing.Result) {
	code := pricing.ErrorCode(err)
	if errors.Is(err, errBadBody) {
		code = pricing.CodeInvalidRequest
	}
	if code == "" {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		var e jx.Encoder
		e.Obj(func(e *jx.Encoder) {
			e.Field("code", func(e *jx.Encoder) { e.Str("INTERNAL") })
			e.Field("message", func(e *jx.Encoder) { e.Str("internal error") })
		})
		writeJSON(w, http.StatusInternalServerError, &e)
		return
	}

	status := statusOf(code)
	if res != nil && status == http.StatusConflict {
		// Quotes report every coupon failure as unprocessable.
		status = http.StatusUnprocessableEntity
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(err.Error()) })

		var below *offer.BelowMinimumError
		if errors.As(err, &below) {
			e.Field("required", func(e *jx.Encoder) { encodeMoney(e, below.Required) })
		}
		if res != nil {
			h.encodeQuoteFields(e, res)
		}
	})
	writeJSON(w, status, &e)
}
