// Package payment talks to Stripe: creating and reading payment intents for
// credit purchases and verifying webhook signatures.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/webhook"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook secret is required")
)

// StatusSucceeded is the intent status that confirms a purchase.
const StatusSucceeded = string(stripe.PaymentIntentStatusSucceeded)

// Intent is the part of a Stripe payment intent the ledger relies on.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int64
	ChargeID     string
	Metadata     map[string]string
}

// Gateway wraps the Stripe API key and webhook signing secret.
type Gateway struct {
	signingSecret string
}

// NewGateway installs key as the process-wide Stripe key.
func NewGateway(apiKey, signingSecret string) (*Gateway, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	signingSecret = strings.TrimSpace(signingSecret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}
	stripe.Key = apiKey
	return &Gateway{signingSecret: signingSecret}, nil
}

// CreateIntent opens a card-only USD payment intent for amountCents.
func (g *Gateway) CreateIntent(ctx context.Context, amountCents int64, metadata map[string]string) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(amountCents),
		Currency:           stripe.String(string(stripe.CurrencyUSD)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripe(pi), nil
}

// GetIntent reads the current state of intent id.
func (g *Gateway) GetIntent(ctx context.Context, id string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return Intent{}, err
	}
	return fromStripe(pi), nil
}

// ParseEvent verifies the Stripe-Signature header and decodes the event.
func (g *Gateway) ParseEvent(payload []byte, signature string) (stripe.Event, error) {
	return ParseEvent(payload, signature, g.signingSecret)
}

// ParseEvent is the key-independent form of Gateway.ParseEvent.
func ParseEvent(payload []byte, signature, secret string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func fromStripe(pi *stripe.PaymentIntent) Intent {
	if pi == nil {
		return Intent{}
	}
	in := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Metadata:     pi.Metadata,
	}
	if pi.LatestCharge != nil {
		in.ChargeID = pi.LatestCharge.ID
	}
	return in
}
