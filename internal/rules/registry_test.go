package rules

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllSortedByPriority(t *testing.T) {
	all := All()
	require.Len(t, all, 8)

	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Priority, all[i].Priority)
	}

	assert.Equal(t, Channel, all[0].Name)
	assert.Equal(t, RequestedVsAvailableAmountAlly, all[len(all)-1].Name)
}

func TestAllReturnsCopy(t *testing.T) {
	all := All()
	all[0].Name = "MUTATED"

	assert.Equal(t, Channel, All()[0].Name)
}

func TestReservedPriorityIsGap(t *testing.T) {
	_, ok := ByPriority(ReservedPriority)
	assert.False(t, ok)

	for _, r := range All() {
		assert.NotEqual(t, ReservedPriority, r.Priority)
	}
}

func TestLookup(t *testing.T) {
	r, err := Lookup(MinimumAmount)
	require.NoError(t, err)
	assert.Equal(t, 8, r.Priority)
	assert.Equal(t, ValueTypeAmount, r.ValueType)

	r, ok := ByPriority(3)
	require.True(t, ok)
	assert.Equal(t, PointOfSales, r.Name)
}

func TestLookupUnknownIsConfigurationError(t *testing.T) {
	_, err := Lookup("AMOUNT_VS_ASSIGNED_LIMIT")
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, Name("AMOUNT_VS_ASSIGNED_LIMIT"), cfgErr.Name)
}

func TestCheckRejectsMalformedCatalogue(t *testing.T) {
	cases := map[string][]Rule{
		"duplicate priority": {{Priority: 1, Name: "A"}, {Priority: 1, Name: "B"}},
		"duplicate name":     {{Priority: 1, Name: "A"}, {Priority: 2, Name: "A"}},
		"reserved slot":      {{Priority: ReservedPriority, Name: "A"}},
		"missing name":       {{Priority: 1}},
		"zero priority":      {{Priority: 0, Name: "A"}},
	}

	for name, rs := range cases {
		t.Run(name, func(t *testing.T) {
			var cfgErr *ConfigurationError
			assert.True(t, errors.As(check(rs), &cfgErr))
		})
	}

	assert.NoError(t, check(catalogue))
}
