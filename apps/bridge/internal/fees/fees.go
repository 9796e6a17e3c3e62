package fees

import (
	"fmt"

	"bridge/apps/bridge/internal/assets"
)

// Policy computes admin fees from the per-currency bounds in the registry.
// The fee is always computed from the amount actually received, which may
// differ (within matching tolerance) from the amount originally requested.
type Policy struct {
	registry *assets.Registry
}

func NewPolicy(registry *assets.Registry) *Policy {
	return &Policy{registry: registry}
}

// ComputeFee returns the fee for the given amount, clamped to the
// currency's [minimum, maximum] bounds.
func (p *Policy) ComputeFee(currency string, amount float64) (float64, error) {
	c, ok := p.registry.GetBySymbol(currency)
	if !ok {
		return 0, fmt.Errorf("unsupported currency: %s", currency)
	}

	fee := amount * c.FeePercentage
	if fee < c.MinimumFee {
		fee = c.MinimumFee
	}
	if fee > c.MaximumFee {
		fee = c.MaximumFee
	}
	return fee, nil
}

// FeePercentage returns the configured fee rate for the currency.
func (p *Policy) FeePercentage(currency string) (float64, error) {
	c, ok := p.registry.GetBySymbol(currency)
	if !ok {
		return 0, fmt.Errorf("unsupported currency: %s", currency)
	}
	return c.FeePercentage, nil
}

// NetAmount returns the amount remaining after the fee is withheld.
func (p *Policy) NetAmount(currency string, amount float64) (net, fee float64, err error) {
	fee, err = p.ComputeFee(currency, amount)
	if err != nil {
		return 0, 0, err
	}
	return amount - fee, fee, nil
}
