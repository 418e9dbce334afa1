package engine

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sonicsphere/sonicsphere-api/internal/store"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

func TestSettingsManagerDefaults(t *testing.T) {
	m := NewSettingsManager(store.NewMemoryStore())

	policy, err := m.Get(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, policy.Enabled)
	assert.Equal(t, "0.001", types.FormatEther(policy.AmountPerListen))
	assert.Equal(t, "0.1", types.FormatEther(policy.DailyLimit))
}

func TestSettingsManagerUpdateValidation(t *testing.T) {
	m := NewSettingsManager(store.NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*types.InvestmentPolicy)
	}{
		{name: "zero amount", mutate: func(p *types.InvestmentPolicy) { p.AmountPerListen = big.NewInt(0) }},
		{name: "nil amount", mutate: func(p *types.InvestmentPolicy) { p.AmountPerListen = nil }},
		{name: "zero limit", mutate: func(p *types.InvestmentPolicy) { p.DailyLimit = big.NewInt(0) }},
		{name: "limit below amount", mutate: func(p *types.InvestmentPolicy) {
			p.AmountPerListen = big.NewInt(100)
			p.DailyLimit = big.NewInt(50)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := types.DefaultPolicy()
			tt.mutate(&policy)
			_, err := m.Update(ctx, testUser, policy)
			assert.Error(t, err)
		})
	}
}

func TestSettingsManagerUpdatePreservesActiveFlag(t *testing.T) {
	storage := store.NewMemoryStore()
	m := NewSettingsManager(storage)
	ctx := context.Background()

	require.NoError(t, m.SetPermissionActive(ctx, testUser, true))

	// A client-submitted policy cannot flip the cached verification flag.
	submitted := types.DefaultPolicy()
	submitted.Enabled = true
	submitted.PermissionActive = false

	saved, err := m.Update(ctx, testUser, submitted)
	require.NoError(t, err)
	assert.True(t, saved.PermissionActive)
	assert.True(t, saved.Enabled)
}

func TestSettingsManagerExcludeAndIncludeCoin(t *testing.T) {
	m := NewSettingsManager(store.NewMemoryStore())
	ctx := context.Background()

	policy, err := m.ExcludeCoin(ctx, testUser, testCoin)
	require.NoError(t, err)
	assert.True(t, policy.IsExcluded(testCoin))

	// Excluding again does not duplicate the entry.
	policy, err = m.ExcludeCoin(ctx, testUser, testCoin)
	require.NoError(t, err)
	assert.Len(t, policy.ExcludedCoins, 1)

	policy, err = m.IncludeCoin(ctx, testUser, testCoin)
	require.NoError(t, err)
	assert.False(t, policy.IsExcluded(testCoin))
	assert.Empty(t, policy.ExcludedCoins)
}

func TestSettingsManagerSetPermissionActiveSkipsRedundantWrites(t *testing.T) {
	storage := store.NewMemoryStore()
	m := NewSettingsManager(storage)
	ctx := context.Background()

	require.NoError(t, m.SetPermissionActive(ctx, testUser, false))

	// No policy existed and the flag already matches the default, so
	// nothing was persisted.
	_, err := storage.GetPolicy(ctx, testUser)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, m.SetPermissionActive(ctx, testUser, true))
	policy, err := storage.GetPolicy(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, policy.PermissionActive)
}
