package assets

// Currency describes a supported asset: the chain it settles on, its
// precision, and the fee bounds applied by the fee policy. The registry is
// data handed to the orchestration layer at startup; no component branches
// on a concrete chain.
type Currency struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Chain         string  `json:"chain"`
	Decimals      int     `json:"decimals"`
	MinAmount     float64 `json:"min_amount"`
	FeePercentage float64 `json:"fee_percentage"`
	MinimumFee    float64 `json:"minimum_fee"`
	MaximumFee    float64 `json:"maximum_fee"`
}

// Registry holds all supported currencies.
type Registry struct {
	currencies map[string]*Currency
}

// NewRegistry creates a registry from the given currency set.
func NewRegistry(currencies []Currency) *Registry {
	registry := &Registry{
		currencies: make(map[string]*Currency),
	}

	for i := range currencies {
		c := currencies[i]
		registry.currencies[c.Symbol] = &c
	}

	return registry
}

// DefaultCurrencies is the seed set used when no external currency store is
// configured.
func DefaultCurrencies() []Currency {
	return []Currency{
		{
			Symbol:        "BTC",
			Name:          "Bitcoin",
			Chain:         "bitcoin",
			Decimals:      8,
			MinAmount:     0.0001,
			FeePercentage: 0.01,
			MinimumFee:    0.00005,
			MaximumFee:    0.01,
		},
		{
			Symbol:        "ETH",
			Name:          "Ethereum",
			Chain:         "evm",
			Decimals:      18,
			MinAmount:     0.002,
			FeePercentage: 0.01,
			MinimumFee:    0.001,
			MaximumFee:    0.2,
		},
		{
			Symbol:        "USDT",
			Name:          "Tether USD",
			Chain:         "evm",
			Decimals:      6,
			MinAmount:     5,
			FeePercentage: 0.01,
			MinimumFee:    1,
			MaximumFee:    500,
		},
		{
			Symbol:        "XRP",
			Name:          "XRP Ledger",
			Chain:         "xrpl",
			Decimals:      6,
			MinAmount:     2,
			FeePercentage: 0.01,
			MinimumFee:    0.5,
			MaximumFee:    1000,
		},
	}
}

// GetBySymbol returns a currency by its symbol.
func (r *Registry) GetBySymbol(symbol string) (*Currency, bool) {
	currency, exists := r.currencies[symbol]
	return currency, exists
}

// IsSupported checks if a symbol is supported.
func (r *Registry) IsSupported(symbol string) bool {
	_, exists := r.currencies[symbol]
	return exists
}

// GetAllAsArray returns all currencies as an array.
func (r *Registry) GetAllAsArray() []*Currency {
	currencies := make([]*Currency, 0, len(r.currencies))
	for _, currency := range r.currencies {
		currencies = append(currencies, currency)
	}
	return currencies
}

// GetSupportedSymbols returns all supported currency symbols.
func (r *Registry) GetSupportedSymbols() []string {
	symbols := make([]string, 0, len(r.currencies))
	for symbol := range r.currencies {
		symbols = append(symbols, symbol)
	}
	return symbols
}
