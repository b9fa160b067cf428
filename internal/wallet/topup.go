package wallet

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/velosdrop/velosdrop-sub001/internal/apperrors"
	"github.com/velosdrop/velosdrop-sub001/internal/models"
)

// PaymentProvider is the external payment collaborator used for wallet
// top-ups.
type PaymentProvider interface {
	Hold(ctx context.Context, amountCents int64, currency string) (string, error)
	Capture(ctx context.Context, intentID string) error
	Cancel(ctx context.Context, intentID string) error
}

// StripeProvider wraps stripe-go PaymentIntent hold/capture/cancel flows.
type StripeProvider struct{}

// NewStripeProvider initializes the stripe client with the STRIPE_API_KEY
// env var.
func NewStripeProvider() *StripeProvider {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeProvider{}
}

func (s *StripeProvider) Hold(ctx context.Context, amountCents int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", apperrors.External("stripe", err)
	}
	return pi.ID, nil
}

func (s *StripeProvider) Capture(ctx context.Context, intentID string) error {
	if _, err := paymentintent.Capture(intentID, nil); err != nil {
		return apperrors.External("stripe", err)
	}
	return nil
}

func (s *StripeProvider) Cancel(ctx context.Context, intentID string) error {
	if _, err := paymentintent.Cancel(intentID, nil); err != nil {
		return apperrors.External("stripe", err)
	}
	return nil
}

// TopupService charges the driver's card and credits the wallet once the
// charge captures. The ledger entry is only written after a successful
// capture.
type TopupService struct {
	store    Store
	provider PaymentProvider
	currency string
}

func NewTopupService(store Store, provider PaymentProvider, currency string) *TopupService {
	return &TopupService{store: store, provider: provider, currency: currency}
}

func (t *TopupService) Topup(ctx context.Context, driverID string, amountCents int64) (*models.LedgerEntry, error) {
	if amountCents <= 0 {
		return nil, apperrors.Validationf("topup amount must be positive")
	}
	intentID, err := t.provider.Hold(ctx, amountCents, t.currency)
	if err != nil {
		return nil, err
	}
	if err := t.provider.Capture(ctx, intentID); err != nil {
		_ = t.provider.Cancel(ctx, intentID)
		return nil, err
	}
	return t.store.Credit(ctx, driverID, amountCents, models.ReasonTopup)
}
