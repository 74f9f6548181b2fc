package waterfall

import (
	"time"

	"github.com/aristath/harvest/internal/domain"
)

// MergeFields fills snapshot fields from one provider's result, touching
// only fields that are not already filled: first successful source wins per
// field, a later (lower-priority) provider never overwrites an earlier one.
// Returns the number of newly filled fields.
//
// When two providers disagree on a field neither of which is null, the
// first one silently wins. That is a deliberate choice, kept from the
// system this replaces; revisit it if per-field reconciliation ever becomes
// a requirement.
func MergeFields(snapshot *domain.FundamentalSnapshot, fields map[domain.Field]float64, source string, fetchedAt time.Time) int {
	filled := 0
	for field, value := range fields {
		if !domain.IsValidField(field) {
			continue
		}
		if snapshot.Has(field) {
			continue
		}
		v := value
		snapshot.Fields[field] = domain.ValuedField{
			Value:     &v,
			Source:    source,
			FetchedAt: fetchedAt,
		}
		filled++
	}
	return filled
}

// MergeSnapshots merges two snapshots under a priority order: every filled
// field of the higher-priority snapshot survives, the lower-priority one
// only fills gaps. Returns the merged snapshot and the field → source
// provenance map. Neither input is mutated.
func MergeSnapshots(higher, lower *domain.FundamentalSnapshot) (*domain.FundamentalSnapshot, map[domain.Field]string) {
	merged := domain.NewFundamentalSnapshot(higher.Ticker, higher.Date)

	for field, vf := range higher.Fields {
		merged.Fields[field] = vf
	}
	if lower != nil {
		for field, vf := range lower.Fields {
			if merged.Has(field) {
				continue
			}
			if existing, ok := merged.Fields[field]; ok && existing.Value == nil && vf.Value == nil {
				continue
			}
			merged.Fields[field] = vf
		}
	}

	return merged, merged.Provenance()
}
