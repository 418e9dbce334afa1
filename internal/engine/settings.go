package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/logger"
	"github.com/sonicsphere/sonicsphere-api/internal/store"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// SettingsManager owns each user's passive-investment policy. Users without
// a stored policy get the defaults with investing disabled.
type SettingsManager struct {
	store  store.SettingsStore
	logger *zap.Logger
}

// NewSettingsManager creates a SettingsManager backed by the given store.
func NewSettingsManager(s store.SettingsStore) *SettingsManager {
	return &SettingsManager{store: s, logger: logger.Log}
}

// Get returns the user's policy, or the defaults if none has been saved.
func (m *SettingsManager) Get(ctx context.Context, user common.Address) (types.InvestmentPolicy, error) {
	policy, err := m.store.GetPolicy(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return types.DefaultPolicy(), nil
	}
	if err != nil {
		return types.InvestmentPolicy{}, err
	}
	return policy, nil
}

// Update validates and persists a user-submitted policy. The cached
// authorization-active flag is preserved from the stored policy; clients
// cannot set it directly.
func (m *SettingsManager) Update(ctx context.Context, user common.Address, policy types.InvestmentPolicy) (types.InvestmentPolicy, error) {
	if policy.AmountPerListen == nil || policy.AmountPerListen.Sign() <= 0 {
		return types.InvestmentPolicy{}, fmt.Errorf("amount per listen must be positive")
	}
	if policy.DailyLimit == nil || policy.DailyLimit.Sign() <= 0 {
		return types.InvestmentPolicy{}, fmt.Errorf("daily limit must be positive")
	}
	if policy.DailyLimit.Cmp(policy.AmountPerListen) < 0 {
		return types.InvestmentPolicy{}, fmt.Errorf("daily limit must be at least the amount per listen")
	}

	current, err := m.Get(ctx, user)
	if err != nil {
		return types.InvestmentPolicy{}, err
	}
	policy.PermissionActive = current.PermissionActive

	if err := m.store.SavePolicy(ctx, user, policy); err != nil {
		return types.InvestmentPolicy{}, err
	}

	m.logger.Info("Investment policy updated",
		zap.String("user", user.Hex()),
		zap.Bool("enabled", policy.Enabled))

	return policy, nil
}

// ExcludeCoin adds the coin to the user's exclusion list. Adding a coin that
// is already excluded is a no-op.
func (m *SettingsManager) ExcludeCoin(ctx context.Context, user common.Address, coin common.Address) (types.InvestmentPolicy, error) {
	policy, err := m.Get(ctx, user)
	if err != nil {
		return types.InvestmentPolicy{}, err
	}
	if policy.IsExcluded(coin) {
		return policy, nil
	}
	policy.ExcludedCoins = append(policy.ExcludedCoins, coin)
	if err := m.store.SavePolicy(ctx, user, policy); err != nil {
		return types.InvestmentPolicy{}, err
	}

	m.logger.Info("Coin excluded from auto-investment",
		zap.String("user", user.Hex()),
		zap.String("coin", coin.Hex()))

	return policy, nil
}

// IncludeCoin removes the coin from the user's exclusion list.
func (m *SettingsManager) IncludeCoin(ctx context.Context, user common.Address, coin common.Address) (types.InvestmentPolicy, error) {
	policy, err := m.Get(ctx, user)
	if err != nil {
		return types.InvestmentPolicy{}, err
	}
	if !policy.IsExcluded(coin) {
		return policy, nil
	}

	kept := policy.ExcludedCoins[:0]
	for _, excluded := range policy.ExcludedCoins {
		if excluded != coin {
			kept = append(kept, excluded)
		}
	}
	policy.ExcludedCoins = kept

	if err := m.store.SavePolicy(ctx, user, policy); err != nil {
		return types.InvestmentPolicy{}, err
	}

	m.logger.Info("Coin re-included for auto-investment",
		zap.String("user", user.Hex()),
		zap.String("coin", coin.Hex()))

	return policy, nil
}

// SetPermissionActive records the latest verification result in the policy.
// The write is skipped when the value is unchanged.
func (m *SettingsManager) SetPermissionActive(ctx context.Context, user common.Address, active bool) error {
	policy, err := m.Get(ctx, user)
	if err != nil {
		return err
	}
	if policy.PermissionActive == active {
		return nil
	}
	policy.PermissionActive = active
	return m.store.SavePolicy(ctx, user, policy)
}
