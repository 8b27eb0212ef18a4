package config

const (
	VerifierTrust  = "trust"
	VerifierLedger = "ledger"
)

// PaymentConfig selects how callback references are verified.
type PaymentConfig struct {
	Verifier      string // trust or ledger
	WebhookSecret string // HMAC key of the gateway webhook
}

// LoadPaymentConfigFrom reads PAYMENT_VERIFIER and PAYMENT_WEBHOOK_SECRET.
// The ledger verifier is useless without webhook notifications, so it
// requires a secret.
func LoadPaymentConfigFrom(lookup Lookup) (PaymentConfig, error) {
	e := newEnv(lookup)
	cfg := PaymentConfig{
		Verifier:      e.str("PAYMENT_VERIFIER", VerifierTrust),
		WebhookSecret: e.get("PAYMENT_WEBHOOK_SECRET"),
	}
	switch cfg.Verifier {
	case VerifierTrust:
	case VerifierLedger:
		if cfg.WebhookSecret == "" {
			e.fail("PAYMENT_VERIFIER=ledger requires PAYMENT_WEBHOOK_SECRET")
		}
	default:
		e.fail("unsupported PAYMENT_VERIFIER %q (want trust or ledger)", cfg.Verifier)
	}
	return cfg, e.err()
}

// LoadPaymentConfig reads the process environment.
func LoadPaymentConfig() (PaymentConfig, error) { return LoadPaymentConfigFrom(nil) }
