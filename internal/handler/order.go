package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/qkart/internal/domain/checkout"
	"github.com/xenking/qkart/internal/domain/order"
)

// checkout converts the cart of the authenticated user into an order.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	req := checkout.Request{UserID: UserIDFromContext(r.Context())}
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "shippingAddressId":
			req.ShippingAddressID, err = d.Str()
		case "paymentMethod":
			req.PaymentMethod, err = d.Str()
		case "couponCode":
			var code *string
			if code, err = decodeOptStr(d); code != nil {
				req.CouponCode = *code
			}
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && strings.TrimSpace(req.ShippingAddressID) == "" {
		err = malformed("shippingAddressId is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	o, err := h.svc.Checkout.Checkout(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Orders.ListByUser(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Arr(func(e *jx.Encoder) {
			for i := range list {
				encodeOrder(e, &list[i])
			}
		})
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.GetForUser(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var (
		rawStatus string
		upd       order.StatusUpdate
	)
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			rawStatus, err = d.Str()
		case "trackingNumber":
			upd.TrackingNumber, err = decodeOptStr(d)
		case "carrier":
			upd.Carrier, err = decodeOptStr(d)
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	status, err := order.ParseStatus(rawStatus)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.svc.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status, upd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", o.ID)
		str(e, "userId", o.UserID)
		e.FieldStart("items")
		e.Arr(func(e *jx.Encoder) {
			for _, item := range o.Items {
				e.Obj(func(e *jx.Encoder) {
					str(e, "productId", item.ProductID)
					e.FieldStart("quantity")
					e.Int(item.Quantity)
					money(e, "priceAtPurchase", item.PriceAtPurchase)
					money(e, "lineTotal", item.LineTotal())
				})
			}
		})
		str(e, "shippingAddressId", o.ShippingAddressID)
		e.FieldStart("shippingAddress")
		if a := o.ShippingAddress; a == nil {
			e.Null()
		} else {
			e.Obj(func(e *jx.Encoder) {
				str(e, "fullName", a.FullName)
				str(e, "line1", a.Line1)
				str(e, "line2", a.Line2)
				str(e, "city", a.City)
				str(e, "postalCode", a.PostalCode)
				str(e, "country", a.Country)
			})
		}
		money(e, "subtotal", o.Subtotal)
		e.FieldStart("couponCode")
		if o.CouponCode == "" {
			e.Null()
		} else {
			e.Str(o.CouponCode)
		}
		money(e, "discountAmount", o.DiscountAmount)
		money(e, "totalAmount", o.TotalAmount)
		str(e, "paymentMethod", o.PaymentMethod)
		str(e, "status", string(o.Status))
		optStr(e, "trackingNumber", o.TrackingNumber)
		optStr(e, "carrier", o.Carrier)
		optTime(e, "estimatedDeliveryDate", o.EstimatedDeliveryDate, dateLayout)
		timestamp(e, "createdAt", o.CreatedAt)
		timestamp(e, "updatedAt", o.UpdatedAt)
		optTime(e, "confirmedAt", o.ConfirmedAt, time.RFC3339)
		optTime(e, "shippedAt", o.ShippedAt, time.RFC3339)
		optTime(e, "deliveredAt", o.DeliveredAt, time.RFC3339)
		optTime(e, "cancelledAt", o.CancelledAt, time.RFC3339)
	})
}
