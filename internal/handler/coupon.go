package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/qkart/internal/domain/apperr"
	"github.com/xenking/qkart/internal/domain/coupon"
)

// validateCoupon previews a coupon against an order amount. Business-rule
// failures are reported in the body with valid=false rather than as an
// error status, so clients can show the reason next to the input.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var (
		code   string
		amount decimal.Decimal
		seen   bool
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			code, err = d.Str()
		case "orderAmount":
			amount, err = decodeDecimal(d)
			seen = true
		default:
			err = d.Skip()
		}
		return err
	})
	switch {
	case err != nil:
	case strings.TrimSpace(code) == "":
		err = malformed("code is required")
	case !seen || !amount.IsPositive():
		err = malformed("orderAmount must be positive")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.svc.Validator.Validate(r.Context(), code, UserIDFromContext(r.Context()), amount)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindValidation {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.FieldStart("valid")
				e.Bool(false)
				str(e, "reason", apperr.ReasonOf(err))
				str(e, "message", publicMessage(err))
			})
		})
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.FieldStart("valid")
			e.Bool(true)
			str(e, "message", "Coupon applied successfully")
			str(e, "code", res.Coupon.Code)
			str(e, "discountType", string(res.Coupon.DiscountType))
			money(e, "discountValue", res.Coupon.DiscountValue)
			money(e, "discountAmount", res.DiscountAmount)
			money(e, "originalAmount", res.OrderAmount)
			money(e, "finalAmount", res.FinalAmount)
		})
	})
}

func (h *Handler) listActiveCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Coupons.ListActive(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range list {
				encodeCoupon(e, &list[i])
			}
		})
	})
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Coupons.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Coupons.ListAll(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range list {
				encodeCoupon(e, &list[i])
			}
		})
	})
}

func (h *Handler) getCouponByID(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Coupons.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	p, err := decodeCouponParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.Coupons.Create(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

// updateCoupon replaces the whole definition; omitted optional fields are
// cleared and omitted active means true, as on create.
func (h *Handler) updateCoupon(w http.ResponseWriter, r *http.Request) {
	p, err := decodeCouponParams(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.svc.Coupons.Update(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func (h *Handler) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Coupons.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeCouponParams(r *http.Request) (coupon.CreateParams, error) {
	p := coupon.CreateParams{Active: true}
	var rawType string
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			p.Code, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "discountType":
			rawType, err = d.Str()
		case "discountValue":
			p.DiscountValue, err = decodeDecimal(d)
		case "minimumOrderValue":
			p.MinimumOrderValue, err = decodeNullDecimal(d)
		case "maximumDiscount":
			p.MaximumDiscount, err = decodeNullDecimal(d)
		case "usageLimit":
			p.UsageLimit, err = decodeOptInt(d)
		case "usageLimitPerUser":
			p.UsageLimitPerUser, err = decodeOptInt(d)
		case "validFrom":
			p.ValidFrom, err = decodeTime(d)
		case "validUntil":
			p.ValidUntil, err = decodeTime(d)
		case "active":
			p.Active, err = d.Bool()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return p, err
	}
	if p.ValidFrom.IsZero() || p.ValidUntil.IsZero() {
		return p, malformed("validFrom and validUntil are required")
	}
	p.DiscountType, err = coupon.ParseDiscountType(rawType)
	return p, err
}

func (h *Handler) deactivateCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Coupons.Deactivate(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCoupon(e, c) })
}

func encodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", c.ID)
		str(e, "code", c.Code)
		str(e, "description", c.Description)
		str(e, "discountType", string(c.DiscountType))
		money(e, "discountValue", c.DiscountValue)
		optMoney(e, "minimumOrderValue", c.MinimumOrderValue)
		optMoney(e, "maximumDiscount", c.MaximumDiscount)
		optInt(e, "usageLimit", c.UsageLimit)
		optInt(e, "usageLimitPerUser", c.UsageLimitPerUser)
		e.FieldStart("timesUsed")
		e.Int(c.TimesUsed)
		timestamp(e, "validFrom", c.ValidFrom)
		timestamp(e, "validUntil", c.ValidUntil)
		e.FieldStart("active")
		e.Bool(c.Active)
		timestamp(e, "createdAt", c.CreatedAt)
		timestamp(e, "updatedAt", c.UpdatedAt)
	})
}
