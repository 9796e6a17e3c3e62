package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bridge/apps/bridge/internal/assets"
)

func testRegistry() *assets.Registry {
	return assets.NewRegistry([]assets.Currency{
		{Symbol: "BTC", Chain: "bitcoin", FeePercentage: 0.01, MinimumFee: 0.0001, MaximumFee: 0.05},
		{Symbol: "USDT", Chain: "evm", FeePercentage: 0.01, MinimumFee: 1, MaximumFee: 500},
	})
}

func TestComputeFee(t *testing.T) {
	policy := NewPolicy(testRegistry())

	tests := []struct {
		name     string
		currency string
		amount   float64
		expected float64
	}{
		{
			name:     "Percentage within bounds",
			currency: "BTC",
			amount:   1.0,
			expected: 0.01,
		},
		{
			name:     "Clamped to minimum",
			currency: "BTC",
			amount:   0.001,
			expected: 0.0001,
		},
		{
			name:     "Clamped to maximum",
			currency: "BTC",
			amount:   100,
			expected: 0.05,
		},
		{
			name:     "Zero amount still pays minimum",
			currency: "USDT",
			amount:   0,
			expected: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fee, err := policy.ComputeFee(tc.currency, tc.amount)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, fee, 1e-12)
		})
	}
}

func TestComputeFeeBounds(t *testing.T) {
	// For any amount, the fee must stay inside [minimum, maximum].
	policy := NewPolicy(testRegistry())

	amounts := []float64{0, 0.00001, 0.01, 0.5, 1, 7.3, 100, 1e6}
	for _, amount := range amounts {
		fee, err := policy.ComputeFee("BTC", amount)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, fee, 0.0001)
		assert.LessOrEqual(t, fee, 0.05)
	}
}

func TestComputeFeeUnsupportedCurrency(t *testing.T) {
	policy := NewPolicy(testRegistry())

	_, err := policy.ComputeFee("DOGE", 10)
	assert.Error(t, err)
}

func TestNetAmount(t *testing.T) {
	policy := NewPolicy(testRegistry())

	net, fee, err := policy.NetAmount("USDT", 1000)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, fee, 1e-9)
	assert.InDelta(t, 990.0, net, 1e-9)
}
