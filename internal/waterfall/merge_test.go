package waterfall

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/harvest/internal/domain"
)

func TestMergeFieldsFirstSourceWins(t *testing.T) {
	snapshot := domain.NewFundamentalSnapshot("TEST", "2026-08-28")
	now := time.Now()

	filled := MergeFields(snapshot, map[domain.Field]float64{
		domain.FieldRevenue:   1000,
		domain.FieldNetIncome: 100,
	}, "yahoo", now)
	assert.Equal(t, 2, filled)

	// A second source only fills gaps, it never overwrites.
	filled = MergeFields(snapshot, map[domain.Field]float64{
		domain.FieldRevenue: 9999,
		domain.FieldEBITDA:  300,
	}, "fmp", now)
	assert.Equal(t, 1, filled)

	require.True(t, snapshot.Has(domain.FieldRevenue))
	assert.Equal(t, 1000.0, *snapshot.Get(domain.FieldRevenue))
	assert.Equal(t, "yahoo", snapshot.Fields[domain.FieldRevenue].Source)
	assert.Equal(t, "fmp", snapshot.Fields[domain.FieldEBITDA].Source)
	assert.Equal(t, 3, snapshot.FilledCount())
}

func TestMergeFieldsSkipsUnknownFields(t *testing.T) {
	snapshot := domain.NewFundamentalSnapshot("TEST", "2026-08-28")

	filled := MergeFields(snapshot, map[domain.Field]float64{
		domain.Field("nonsense"): 42,
		domain.FieldRevenue:      1000,
	}, "yahoo", time.Now())

	assert.Equal(t, 1, filled)
	assert.False(t, snapshot.Has(domain.Field("nonsense")))
}

func TestMergeSnapshotsPriority(t *testing.T) {
	now := time.Now()

	higher := domain.NewFundamentalSnapshot("TEST", "2026-08-28")
	MergeFields(higher, map[domain.Field]float64{
		domain.FieldRevenue: 1000,
	}, "yahoo", now)

	lower := domain.NewFundamentalSnapshot("TEST", "2026-08-28")
	MergeFields(lower, map[domain.Field]float64{
		domain.FieldRevenue:   2000,
		domain.FieldNetIncome: 100,
	}, "fmp", now)

	merged, provenance := MergeSnapshots(higher, lower)

	assert.Equal(t, 1000.0, *merged.Get(domain.FieldRevenue))
	assert.Equal(t, 100.0, *merged.Get(domain.FieldNetIncome))
	assert.Equal(t, "yahoo", provenance[domain.FieldRevenue])
	assert.Equal(t, "fmp", provenance[domain.FieldNetIncome])

	// Inputs untouched.
	assert.Equal(t, 1, higher.FilledCount())
	assert.Equal(t, 2, lower.FilledCount())
}

func TestMergeSnapshotsNilLower(t *testing.T) {
	higher := domain.NewFundamentalSnapshot("TEST", "2026-08-28")
	MergeFields(higher, map[domain.Field]float64{domain.FieldRevenue: 1}, "yahoo", time.Now())

	merged, _ := MergeSnapshots(higher, nil)
	assert.Equal(t, 1, merged.FilledCount())
}
