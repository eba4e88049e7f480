package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/qkart/internal/domain/loyalty"
)

func (h *Handler) loyaltyAccount(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Loyalty.Summary(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSummary(e, s) })
}

func (h *Handler) loyaltyTransactions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.svc.Loyalty.Transactions(r.Context(), UserIDFromContext(r.Context()), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range list {
				encodeTransaction(e, &list[i])
			}
		})
	})
}

func (h *Handler) setBirthday(w http.ResponseWriter, r *http.Request) {
	var birthday time.Time
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key != "birthday" {
			return d.Skip()
		}
		s, err := d.Str()
		if err != nil {
			return err
		}
		if birthday, err = time.Parse(dateLayout, s); err != nil {
			return malformed("birthday must be formatted as YYYY-MM-DD")
		}
		return nil
	})
	if err == nil && birthday.IsZero() {
		err = malformed("birthday is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	userID := UserIDFromContext(r.Context())
	if _, err := h.svc.Loyalty.SetBirthday(r.Context(), userID, birthday); err != nil {
		h.fail(w, r, err)
		return
	}
	s, err := h.svc.Loyalty.Summary(r.Context(), userID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeSummary(e, s) })
}

func (h *Handler) claimBirthdayBonus(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Loyalty.ClaimBirthdayBonus(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTransaction(e, t) })
}

func (h *Handler) redeemPoints(w http.ResponseWriter, r *http.Request) {
	var (
		points  int64
		orderID string
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "points":
			points, err = d.Int64()
		case "orderId":
			var id *string
			if id, err = decodeOptStr(d); id != nil {
				orderID = *id
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	t, err := h.svc.Loyalty.RedeemPoints(r.Context(), UserIDFromContext(r.Context()), points, orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeTransaction(e, t) })
}

func (h *Handler) calculateDiscount(w http.ResponseWriter, r *http.Request) {
	points, err := queryInt(r, "points", -1)
	if err == nil && points < 0 {
		err = malformed("points must be a non-negative integer")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.FieldStart("points")
			e.Int(points)
			money(e, "discount", loyalty.CalculateDiscount(int64(points)))
		})
	})
}

func (h *Handler) pointsNeeded(w http.ResponseWriter, r *http.Request) {
	amount, err := queryDecimal(r, "amount")
	if err == nil && amount.IsNegative() {
		err = malformed("amount must not be negative")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			money(e, "amount", amount)
			e.FieldStart("pointsNeeded")
			e.Int64(loyalty.PointsNeeded(amount))
		})
	})
}

func encodeSummary(e *jx.Encoder, s *loyalty.Summary) {
	a := s.Account
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", a.ID)
		str(e, "userId", a.UserID)
		e.FieldStart("pointsBalance")
		e.Int64(a.PointsBalance)
		e.FieldStart("lifetimePoints")
		e.Int64(a.LifetimePoints)
		str(e, "tier", s.Tier.String())
		str(e, "tierDisplayName", s.Tier.DisplayName())
		str(e, "pointsMultiplier", s.Tier.Multiplier().String())
		e.FieldStart("pointsToNextTier")
		e.Int64(s.PointsToNextTier)
		e.FieldStart("nextTier")
		if s.NextTier == nil {
			e.Null()
		} else {
			e.Str(s.NextTier.DisplayName())
		}
		optTime(e, "birthday", a.Birthday, dateLayout)
		e.FieldStart("birthdayBonusAvailable")
		e.Bool(s.BirthdayBonusAvailable)
		money(e, "redeemableValue", s.RedeemableValue)
	})
}

func encodeTransaction(e *jx.Encoder, t *loyalty.Transaction) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", t.ID)
		e.FieldStart("points")
		e.Int64(t.Points)
		str(e, "type", string(t.Type))
		str(e, "description", t.Description)
		optStr(e, "orderId", t.OrderID)
		e.FieldStart("multiplierApplied")
		if t.MultiplierApplied.Valid {
			e.Str(t.MultiplierApplied.Decimal.String())
		} else {
			e.Null()
		}
		e.FieldStart("balanceAfter")
		e.Int64(t.BalanceAfter)
		timestamp(e, "createdAt", t.CreatedAt)
	})
}
