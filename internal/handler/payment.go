package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/qkart/internal/domain/payment"
)

// maxWebhookSize bounds webhook payloads; gateway events are far smaller.
const maxWebhookSize = 64 << 10

func (h *Handler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	req := payment.CreateIntentRequest{UserID: UserIDFromContext(r.Context())}
	err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "orderId":
			var id *string
			if id, err = decodeOptStr(d); id != nil {
				req.OrderID = *id
			}
		case "amount":
			req.Amount, err = decodeDecimal(d)
		case "currency":
			req.Currency, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	p, err := h.svc.Payments.CreateIntent(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodePayment(e, p, true) })
}

func (h *Handler) paymentStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Payments.Status(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "intentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodePayment(e, p, false) })
}

// paymentWebhook receives gateway events. The raw body is passed through
// untouched because the signature covers its exact bytes.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookSize))
	if err != nil {
		h.fail(w, r, malformed("read body: %v", err))
		return
	}

	if err := h.svc.Payments.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			zctx.From(r.Context()).Warn("Webhook signature rejected", zap.Error(err))
			writeProblem(w, http.StatusBadRequest, payment.ErrInvalidSignature.Reason, payment.ErrInvalidSignature.Message)
			return
		}
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.FieldStart("received")
			e.Bool(true)
		})
	})
}

func encodePayment(e *jx.Encoder, p *payment.Payment, withSecret bool) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", p.ID)
		str(e, "intentId", p.IntentID)
		if withSecret {
			str(e, "clientSecret", p.ClientSecret)
		}
		optStr(e, "orderId", p.OrderID)
		money(e, "amount", p.Amount)
		str(e, "currency", p.Currency)
		str(e, "status", string(p.Status))
		optStr(e, "paymentMethod", p.PaymentMethod)
		optStr(e, "failureMessage", p.FailureMessage)
		timestamp(e, "createdAt", p.CreatedAt)
		timestamp(e, "updatedAt", p.UpdatedAt)
	})
}
