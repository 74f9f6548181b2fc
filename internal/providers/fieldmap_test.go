package providers

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/harvest/internal/domain"
)

func TestFieldMappingValidate(t *testing.T) {
	good := FieldMapping{"revenueKey": domain.FieldRevenue}
	assert.NoError(t, good.Validate())

	bad := FieldMapping{"revenueKey": domain.Field("revnue")}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revnue")
}

func TestBuiltinMappingsAreValid(t *testing.T) {
	for _, m := range []FieldMapping{
		yahooFieldMapping,
		alphaVantageOverviewMapping,
		alphaVantageBalanceMapping,
		fmpIncomeMapping,
		fmpBalanceMapping,
		fmpCashFlowMapping,
	} {
		assert.NoError(t, m.Validate())
	}
}

func TestFieldMappingApply(t *testing.T) {
	m := FieldMapping{
		"rev": domain.FieldRevenue,
		"ni":  domain.FieldNetIncome,
	}

	out := m.Apply(map[string]float64{
		"rev":      1000,
		"ni":       math.NaN(), // dropped
		"ignored":  42,         // unmapped, dropped
		"alsoskip": 7,
	})

	require.Len(t, out, 1)
	assert.Equal(t, 1000.0, out[domain.FieldRevenue])
	_, hasNI := out[domain.FieldNetIncome]
	assert.False(t, hasNI)
}
