// Package processor talks to the payment processor: it starts payment intents
// for orders and authenticates the webhook deliveries that report their outcome.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"marketplace-service/internal/apperrors"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Processor event types the webhook acts on
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
)

// Metadata keys written on every intent
const (
	MetadataOrderID = "orderId"
	MetadataUserID  = "userId"
)

// EventKind is the processor-independent meaning of a webhook event
type EventKind string

const (
	KindChargeSucceeded EventKind = "charge_succeeded"
	KindChargeFailed    EventKind = "charge_failed"
	KindIgnored         EventKind = "ignored"
)

// IntentRequest describes a charge to start for an order
type IntentRequest struct {
	OrderID  int64
	UserID   int64
	Amount   int64
	Currency string
}

// Intent is the processor's handle on a started charge
type Intent struct {
	ID           string
	ClientSecret string
}

// PaymentEvent is a verified webhook event reduced to what the order needs.
// OrderID is zero when the metadata did not carry a usable order reference.
type PaymentEvent struct {
	ID            string
	Type          string
	Kind          EventKind
	OrderID       int64
	OrderRef      string
	TransactionID string
	Amount        int64
	Currency      string
	ErrorMessage  string
}

type Client struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
	currency      string
}

// NewClient builds a processor client from explicit credentials
func NewClient(secretKey, webhookSecret, currency string, tolerance time.Duration) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)

	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	return &Client{
		api:           api,
		webhookSecret: webhookSecret,
		tolerance:     tolerance,
		currency:      currency,
	}
}

// Currency returns the configured default currency
func (c *Client) Currency() string {
	return c.currency
}

// CreatePaymentIntent starts a charge carrying the order and user ids in its
// metadata, which is how the webhook finds the order again.
func (c *Client) CreatePaymentIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	currency := req.Currency
	if currency == "" {
		currency = c.currency
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.AddMetadata(MetadataOrderID, strconv.FormatInt(req.OrderID, 10))
	params.AddMetadata(MetadataUserID, strconv.FormatInt(req.UserID, 10))

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &Intent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseWebhook verifies the signature header against the raw payload before
// decoding anything. Only a verified payload is unmarshalled.
func (c *Client) ParseWebhook(payload []byte, sigHeader string) (*PaymentEvent, error) {
	if c.webhookSecret == "" {
		return nil, apperrors.Signature(fmt.Errorf("webhook secret not configured"))
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, sigHeader, c.webhookSecret, c.tolerance); err != nil {
		return nil, apperrors.Signature(err)
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, apperrors.Validation("malformed webhook event: %v", err)
	}

	out := &PaymentEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: KindIgnored,
	}

	switch out.Type {
	case EventPaymentIntentSucceeded:
		out.Kind = KindChargeSucceeded
	case EventPaymentIntentFailed:
		out.Kind = KindChargeFailed
	default:
		return out, nil
	}

	if event.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return out, nil
	}

	out.TransactionID = pi.ID
	out.Amount = pi.Amount
	out.Currency = string(pi.Currency)
	if pi.LastPaymentError != nil {
		out.ErrorMessage = pi.LastPaymentError.Msg
	}

	out.OrderRef = pi.Metadata[MetadataOrderID]
	if id, err := strconv.ParseInt(out.OrderRef, 10, 64); err == nil && id > 0 {
		out.OrderID = id
	}

	return out, nil
}
