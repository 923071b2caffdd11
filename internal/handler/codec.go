package handler

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-pricing/internal/domain/money"
	"github.com/xenking/kart-pricing/internal/domain/offer"
	"github.com/xenking/kart-pricing/internal/domain/pricing"
)

// errBadBody marks request bodies that are not well-formed JSON of the
// expected shape.
var errBadBody = errors.New("invalid request body")

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) (*jx.Decoder, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, errors.Errorf("%w: %v", errBadBody, err)
	}
	return jx.DecodeBytes(data), nil
}

func badBody(err error) error {
	if errors.Is(err, errBadBody) {
		return err
	}
	return errors.Errorf("%w: %v", errBadBody, err)
}

// decodeCart reads {items:[...], couponCode?}.
func decodeCart(d *jx.Decoder) (pricing.Request, error) {
	var req pricing.Request
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				it, err := decodeLineItem(d)
				if err != nil {
					return errors.Wrapf(err, "items[%d]", len(req.Items))
				}
				req.Items = append(req.Items, it)
				return nil
			})
		case "couponCode":
			code, err := optionalStr(d)
			req.CouponCode = strings.TrimSpace(code)
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, badBody(err)
	}
	return req, nil
}

func decodeLineItem(d *jx.Decoder) (offer.LineItem, error) {
	var it offer.LineItem
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			it.ProductID, err = d.Str()
		case "categoryId":
			it.CategoryID, err = optionalStr(d)
		case "unitPrice":
			it.UnitPrice, err = decodeMoney(d)
		case "quantity":
			it.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return it, err
}

// decodeMoney accepts a major-unit amount as a JSON number or string.
func decodeMoney(d *jx.Decoder) (money.Money, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return 0, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return 0, err
		}
		raw = n.String()
	default:
		return 0, errors.Errorf("amount must be a number, got %s", d.Next())
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, errors.Wrap(err, "parse amount")
	}
	return money.FromMajor(v)
}

func optionalStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

// decodeOrderID reads {orderId}.
func decodeOrderID(d *jx.Decoder) (string, error) {
	var orderID string
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "orderId" {
			return d.Skip()
		}
		var err error
		orderID, err = d.Str()
		return err
	})
	if err != nil {
		return "", badBody(err)
	}
	return strings.TrimSpace(orderID), nil
}

// decodeRedemption reads {offerId, orderId}.
func decodeRedemption(d *jx.Decoder) (offerID int64, orderID string, err error) {
	err = d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "offerId":
			offerID, err = d.Int64()
		case "orderId":
			orderID, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return 0, "", badBody(err)
	}
	return offerID, strings.TrimSpace(orderID), nil
}

func encodeMoney(e *jx.Encoder, m money.Money) {
	e.Raw([]byte(m.String()))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}

// encodeQuoteFields writes the fields shared by quote and checkout
// responses into an open object.
func (h *Handler) encodeQuoteFields(e *jx.Encoder, res *pricing.Result) {
	e.Field("subtotal", func(e *jx.Encoder) { encodeMoney(e, res.Subtotal) })
	e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, res.Discount) })
	e.Field("total", func(e *jx.Encoder) { encodeMoney(e, res.Total) })
	e.Field("appliedCode", func(e *jx.Encoder) {
		if res.AppliedCode == "" {
			e.Null()
			return
		}
		e.Str(res.AppliedCode)
	})
	e.Field("offerId", func(e *jx.Encoder) {
		if res.Offer == nil {
			e.Null()
			return
		}
		e.Int64(res.Offer.Offer.ID)
	})
	if res.Offer != nil && res.Offer.Offer.Title != "" {
		e.Field("offerTitle", func(e *jx.Encoder) { e.Str(res.Offer.Offer.Title) })
	}
	if h.currency != "" {
		e.Field("currency", func(e *jx.Encoder) { e.Str(h.currency) })
	}
}

func encodeMatchedOffer(e *jx.Encoder, m offer.MatchedOffer) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("offerId", func(e *jx.Encoder) { e.Int64(m.Offer.ID) })
		e.Field("code", func(e *jx.Encoder) {
			if m.Offer.Code == "" {
				e.Null()
				return
			}
			e.Str(m.Offer.Code)
		})
		e.Field("title", func(e *jx.Encoder) { e.Str(m.Offer.Title) })
		e.Field("type", func(e *jx.Encoder) { e.Str(string(m.Offer.Type)) })
		e.Field("priority", func(e *jx.Encoder) { e.Int(m.Offer.Priority) })
		e.Field("discount", func(e *jx.Encoder) { encodeMoney(e, m.Discount) })
		e.Field("productIds", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range m.Items {
					e.Str(it.ProductID)
				}
			})
		})
	})
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
