package qc

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		tags []Tag
		want Status
	}{
		{name: "no tags", tags: nil, want: StatusSuccess},
		{name: "info only", tags: []Tag{BalanceBasedAmounts, ComputeUnitsUnavailable}, want: StatusSuccess},
		{name: "warning", tags: []Tag{DeclaredAmounts, VaultMismatch}, want: StatusPartial},
		{name: "error beats warning", tags: []Tag{PoolUnverified, MintMismatch}, want: StatusError},
		{name: "uncatalogued counts as warning", tags: []Tag{"SOMETHING_NEW"}, want: StatusPartial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.tags))
		})
	}
}

func TestCatalog(t *testing.T) {
	tags := Catalog()
	require.NotEmpty(t, tags)
	assert.True(t, slices.IsSorted(tags))

	for _, tag := range tags {
		e, ok := Lookup(tag)
		require.True(t, ok, tag)
		assert.NotEmpty(t, e.Description, tag)
		assert.Contains(t, []Tier{TierNormalization, TierParse, TierEnrich}, e.Tier, tag)
	}

	assert.Equal(t, TierNormalization, NormalizationFailed.Tier())
	assert.Equal(t, TierParse, UnparsedInstruction.Tier())
	assert.Equal(t, TierEnrich, Tag("SOMETHING_NEW").Tier())
	assert.Equal(t, "warning", VaultMismatch.Severity().String())
}

func TestTags(t *testing.T) {
	var ts Tags
	out, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(out))

	ts.Add(PoolUnverified, PriceDump, PoolUnverified)
	assert.Equal(t, Tags{PoolUnverified, PriceDump}, ts)
	assert.True(t, ts.Has(PriceDump))
	assert.False(t, ts.Has(MintMismatch))

	out, err = json.Marshal(ts)
	require.NoError(t, err)
	assert.JSONEq(t, `["POOL_UNVERIFIED","PRICE_DUMP"]`, string(out))
}

func TestStatusValidate(t *testing.T) {
	assert.NoError(t, StatusPartial.Validate())
	assert.Error(t, Status("SUCCESS").Validate())
}
