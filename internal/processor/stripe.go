package processor

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/DarknessoPirate/itemite-core/internal/money"
	"github.com/DarknessoPirate/itemite-core/internal/payment"
)

// Stripe moves funds through the Stripe API. Captures create a
// confirmed PaymentIntent that lands on the platform account; transfers
// to sellers and refunds to buyers settle it. Buyer and seller IDs are
// Stripe customer and connected-account IDs respectively.
//
// Every mutating call carries the caller's idempotency key, so retries
// after a timeout can never double-charge or double-move.
type Stripe struct {
	api             *client.API
	platformAccount string
}

// NewStripe creates a Stripe-backed processor. platformAccount is the
// account funds are held on between capture and settlement.
func NewStripe(apiKey, platformAccount string) *Stripe {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Stripe{api: api, platformAccount: platformAccount}
}

var _ Processor = (*Stripe)(nil)

// Capture charges the buyer and holds the funds on the platform
// account. Returns the PaymentIntent ID as the capture reference.
func (s *Stripe) Capture(ctx context.Context, buyerID, amount, methodRef, idempotencyKey string) (string, error) {
	cents, err := amountCents(amount)
	if err != nil {
		return "", err
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(cents),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		Customer:      stripe.String(buyerID),
		PaymentMethod: stripe.String(methodRef),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe capture: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return "", fmt.Errorf("stripe capture: payment intent %s in status %s", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

// Settle moves the full held amount to one side: a connected-account
// transfer for the seller, a refund of the original charge for the
// buyer.
func (s *Stripe) Settle(ctx context.Context, req payment.MoveRequest, dest payment.Destination, amount string) error {
	switch dest {
	case payment.DestinationSeller:
		return s.transfer(ctx, req, amount, req.IdempotencyKey)
	case payment.DestinationBuyer:
		return s.refund(ctx, req, amount, req.IdempotencyKey)
	default:
		return fmt.Errorf("stripe settle: unknown destination %q", dest)
	}
}

// SettleSplit refunds part of the charge to the buyer and transfers the
// remainder to the seller. The two legs get derived idempotency keys so
// a retry after a partial failure only re-runs the leg that failed.
func (s *Stripe) SettleSplit(ctx context.Context, req payment.MoveRequest, refundToBuyer, transferToSeller string) error {
	if err := s.refund(ctx, req, refundToBuyer, req.IdempotencyKey+":refund"); err != nil {
		return err
	}
	return s.transfer(ctx, req, transferToSeller, req.IdempotencyKey+":transfer")
}

func (s *Stripe) transfer(ctx context.Context, req payment.MoveRequest, amount, key string) error {
	cents, err := amountCents(amount)
	if err != nil {
		return err
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(cents),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		Destination:   stripe.String(req.SellerID),
		TransferGroup: stripe.String(req.PaymentID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)

	if _, err := s.api.Transfers.New(params); err != nil {
		return fmt.Errorf("stripe transfer: %w", err)
	}
	return nil
}

func (s *Stripe) refund(ctx context.Context, req payment.MoveRequest, amount, key string) error {
	cents, err := amountCents(amount)
	if err != nil {
		return err
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.CaptureRef),
		Amount:        stripe.Int64(cents),
	}
	params.Context = ctx
	params.SetIdempotencyKey(key)

	if _, err := s.api.Refunds.New(params); err != nil {
		return fmt.Errorf("stripe refund: %w", err)
	}
	return nil
}

// amountCents converts a decimal amount string to Stripe minor units.
func amountCents(amount string) (int64, error) {
	units, ok := money.Parse(amount)
	if !ok {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	if !units.IsInt64() {
		return 0, fmt.Errorf("amount %q out of range", amount)
	}
	return units.Int64(), nil
}
