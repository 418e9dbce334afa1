package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// InvestmentPolicy holds the per-user passive-investment settings. Monetary
// fields are integer wei internally; the wire form carries decimal ETH
// strings (see PolicyWire).
type InvestmentPolicy struct {
	Enabled          bool
	AmountPerListen  *big.Int
	DailyLimit       *big.Int
	ExcludedCoins    []common.Address
	PermissionActive bool
}

// DefaultPolicy returns the opt-out defaults: 0.001 ETH per listen and a
// 0.1 ETH daily cap.
func DefaultPolicy() InvestmentPolicy {
	amountPerListen, _ := ParseEther("0.001")
	dailyLimit, _ := ParseEther("0.1")
	return InvestmentPolicy{
		Enabled:          false,
		AmountPerListen:  amountPerListen,
		DailyLimit:       dailyLimit,
		ExcludedCoins:    []common.Address{},
		PermissionActive: false,
	}
}

// IsExcluded reports whether the coin has been opted out of auto-investment.
func (p InvestmentPolicy) IsExcluded(coin common.Address) bool {
	for _, excluded := range p.ExcludedCoins {
		if excluded == coin {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate settings without sharing
// big.Int or slice backing state.
func (p InvestmentPolicy) Clone() InvestmentPolicy {
	clone := p
	if p.AmountPerListen != nil {
		clone.AmountPerListen = new(big.Int).Set(p.AmountPerListen)
	}
	if p.DailyLimit != nil {
		clone.DailyLimit = new(big.Int).Set(p.DailyLimit)
	}
	clone.ExcludedCoins = make([]common.Address, len(p.ExcludedCoins))
	copy(clone.ExcludedCoins, p.ExcludedCoins)
	return clone
}

// PolicyWire is the boundary representation of InvestmentPolicy: amounts as
// decimal ETH strings, addresses as hex.
type PolicyWire struct {
	Enabled          bool     `json:"enabled"`
	AmountPerListen  string   `json:"amountPerListen"`
	DailyLimit       string   `json:"dailyLimit"`
	ExcludedCoins    []string `json:"excludedCoins"`
	PermissionActive bool     `json:"spendPermissionActive"`
}

// ToWire converts the policy to its boundary form.
func (p InvestmentPolicy) ToWire() PolicyWire {
	coins := make([]string, 0, len(p.ExcludedCoins))
	for _, coin := range p.ExcludedCoins {
		coins = append(coins, coin.Hex())
	}
	return PolicyWire{
		Enabled:          p.Enabled,
		AmountPerListen:  FormatEther(p.AmountPerListen),
		DailyLimit:       FormatEther(p.DailyLimit),
		ExcludedCoins:    coins,
		PermissionActive: p.PermissionActive,
	}
}

// FromWire parses a boundary policy, converting decimal strings to wei once.
func (w PolicyWire) FromWire() (InvestmentPolicy, error) {
	amountPerListen, err := ParseEther(w.AmountPerListen)
	if err != nil {
		return InvestmentPolicy{}, err
	}
	dailyLimit, err := ParseEther(w.DailyLimit)
	if err != nil {
		return InvestmentPolicy{}, err
	}
	coins := make([]common.Address, 0, len(w.ExcludedCoins))
	for _, coin := range w.ExcludedCoins {
		coins = append(coins, common.HexToAddress(coin))
	}
	return InvestmentPolicy{
		Enabled:          w.Enabled,
		AmountPerListen:  amountPerListen,
		DailyLimit:       dailyLimit,
		ExcludedCoins:    coins,
		PermissionActive: w.PermissionActive,
	}, nil
}
