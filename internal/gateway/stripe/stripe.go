// Package stripe adapts the Stripe API to payment.Gateway.
package stripe

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/xenking/qkart/internal/domain/payment"
)

var _ payment.Gateway = (*Gateway)(nil)

var minorUnits = decimal.NewFromInt(100)

// Gateway creates Stripe payment intents and verifies Stripe webhooks.
type Gateway struct {
	webhookSecret string
	newIntent     func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// New configures the Stripe client with secretKey. Webhook payloads are
// verified with webhookSecret.
func New(secretKey, webhookSecret string) *Gateway {
	stripe.Key = secretKey
	return &Gateway{
		webhookSecret: webhookSecret,
		newIntent:     paymentintent.New,
	}
}

// CreatePaymentIntent creates an intent for req.Amount in minor units.
func (g *Gateway) CreatePaymentIntent(_ context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.newIntent(params)
	if err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	return &payment.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseEvent verifies the Stripe-Signature header and decodes payment
// intent events.
func (g *Gateway) ParseEvent(payload []byte, signature string) (*payment.Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Wrap(payment.ErrInvalidSignature.WithMessage(err.Error()), "verify webhook")
	}

	out := &payment.Event{ID: ev.ID, Type: payment.EventType(ev.Type)}
	if ev.Data == nil || !strings.HasPrefix(string(ev.Type), "payment_intent.") {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return nil, errors.Wrap(err, "decode payment intent")
	}
	out.IntentID = pi.ID
	if pi.PaymentMethod != nil {
		out.PaymentMethod = pi.PaymentMethod.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out, nil
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(minorUnits).Round(0).IntPart()
}
