package billing

import (
	"strings"

	"github.com/fieldstack/fieldstack/internal/domain"
)

// StripeConfig holds Stripe credentials and checkout settings.
// Injected at construction; nothing here is read from ambient globals.
type StripeConfig struct {
	// APIKey is the secret API key (sk_test_... or sk_live_...).
	APIKey string

	// WebhookSecret is the signing secret for webhook verification (whsec_...).
	WebhookSecret string

	// SuccessURL and CancelURL are where Checkout redirects the payer.
	SuccessURL string
	CancelURL  string

	// Currency is the ISO 4217 code, lowercase. Defaults to "usd".
	Currency string
}

// Validate checks that the config is usable and applies defaults.
func (c *StripeConfig) Validate() error {
	const op = "billing.stripe_config"

	if c.APIKey == "" {
		return ErrInvalidAPIKey
	}
	if !strings.HasPrefix(c.APIKey, "sk_") && !strings.HasPrefix(c.APIKey, "rk_") {
		return ErrInvalidAPIKey
	}
	if c.WebhookSecret == "" {
		return domain.Invalid(op, "webhook signing secret is required")
	}
	if c.SuccessURL == "" || c.CancelURL == "" {
		return domain.Invalid(op, "checkout success and cancel URLs are required")
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}
	return nil
}

// IsLiveMode reports whether the key targets live payments.
func (c *StripeConfig) IsLiveMode() bool {
	return strings.HasPrefix(c.APIKey, "sk_live_")
}
