package providers

import (
	"fmt"

	"github.com/aristath/harvest/internal/domain"
)

// FieldMapping translates provider-native key spellings into canonical
// fields. Each adapter owns one mapping table; the table is data, not code
// branching, so adding a provider key never touches merge logic.
type FieldMapping map[string]domain.Field

// Validate checks that every target of the mapping is a canonical field.
// Called from adapter constructors so a typo fails fast at wiring time
// instead of silently dropping data.
func (m FieldMapping) Validate() error {
	for native, canonical := range m {
		if !domain.IsValidField(canonical) {
			return fmt.Errorf("mapping for %q targets unknown field %q", native, canonical)
		}
	}
	return nil
}

// Apply translates a provider-native numeric payload into canonical fields.
// Unmapped keys are dropped; the adapter logs them at debug level if it
// cares. Mapped keys with non-finite values are dropped as well.
func (m FieldMapping) Apply(native map[string]float64) map[domain.Field]float64 {
	out := make(map[domain.Field]float64, len(native))
	for key, value := range native {
		canonical, ok := m[key]
		if !ok {
			continue
		}
		if value != value { // NaN guard
			continue
		}
		out[canonical] = value
	}
	return out
}
