package stripe

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/xenking/qkart/internal/domain/apperr"
	"github.com/xenking/qkart/internal/domain/payment"
)

const testSecret = "whsec_test"

func signed(t *testing.T, payload string) (body []byte, header string) {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return sp.Payload, sp.Header
}

func TestGateway_ParseEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    payment.Event
	}{
		{
			name: "succeeded",
			payload: `{"id":"evt_1","object":"event","type":"payment_intent.succeeded",
				"data":{"object":{"id":"pi_1","object":"payment_intent","payment_method":"pm_card_visa"}}}`,
			want: payment.Event{ID: "evt_1", Type: payment.EventSucceeded, IntentID: "pi_1", PaymentMethod: "pm_card_visa"},
		},
		{
			name: "failed",
			payload: `{"id":"evt_2","object":"event","type":"payment_intent.payment_failed",
				"data":{"object":{"id":"pi_2","object":"payment_intent","last_payment_error":{"message":"Your card was declined."}}}}`,
			want: payment.Event{ID: "evt_2", Type: payment.EventFailed, IntentID: "pi_2", FailureMessage: "Your card was declined."},
		},
		{
			name: "unrelated",
			payload: `{"id":"evt_3","object":"event","type":"customer.created",
				"data":{"object":{"id":"cus_1","object":"customer"}}}`,
			want: payment.Event{ID: "evt_3", Type: payment.EventType("customer.created")},
		},
	}

	g := &Gateway{webhookSecret: testSecret}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, header := signed(t, tt.payload)
			ev, err := g.ParseEvent(body, header)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *ev)
		})
	}
}

func TestGateway_ParseEvent_BadSignature(t *testing.T) {
	g := &Gateway{webhookSecret: testSecret}
	body, _ := signed(t, `{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)

	_, err := g.ParseEvent(body, "t=1,v1=deadbeef")
	require.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Equal(t, apperr.KindExternal, apperr.KindOf(err))
}

func TestGateway_CreatePaymentIntent(t *testing.T) {
	var got *stripe.PaymentIntentParams
	g := &Gateway{newIntent: func(p *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
		got = p
		return &stripe.PaymentIntent{ID: "pi_9", ClientSecret: "pi_9_secret"}, nil
	}}

	intent, err := g.CreatePaymentIntent(context.Background(), payment.IntentRequest{
		Amount:   decimal.RequireFromString("225.005"),
		Currency: "USD",
		Metadata: map[string]string{"order_id": "o-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_9", intent.ID)
	assert.Equal(t, "pi_9_secret", intent.ClientSecret)

	require.NotNil(t, got)
	assert.Equal(t, int64(22501), *got.Amount)
	assert.Equal(t, "usd", *got.Currency)
	assert.Equal(t, "o-1", got.Metadata["order_id"])
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(1999), toMinorUnits(decimal.RequireFromString("19.99")))
	assert.Equal(t, int64(100), toMinorUnits(decimal.NewFromInt(1)))
}
