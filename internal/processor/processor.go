// Package processor integrates external payment processors. The Stripe
// implementation backs production; the memory implementation backs
// local development and tests.
package processor

import (
	"github.com/DarknessoPirate/itemite-core/internal/payment"
)

// Processor is the full surface a payment backend must provide: capture
// buyer funds into a hold, then move them out on settlement.
type Processor interface {
	payment.FundCapturer
	payment.FundMover
}
