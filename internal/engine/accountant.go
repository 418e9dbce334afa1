package engine

import (
	"context"
	"math/big"

	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// AllowanceStatus reports period accounting at the moment of an attempted
// spend. All amounts are wei.
type AllowanceStatus struct {
	Allowance   *big.Int
	Spent       *big.Int
	Remaining   *big.Int
	Requested   *big.Int
	PeriodStart uint64
	PeriodEnd   uint64
}

// Accountant computes the remaining allowance for the current period from
// the contract's canonical period accounting. It is a pure read: a failed
// query means the remaining balance is unknown and the caller must refuse
// to spend.
type Accountant struct {
	chain ChainService
}

// NewAccountant creates an Accountant over the given chain service.
func NewAccountant(chainSvc ChainService) *Accountant {
	return &Accountant{chain: chainSvc}
}

// Status fetches the current period and computes the remaining allowance
// against the requested amount.
func (a *Accountant) Status(ctx context.Context, perm types.SpendPermission, requested *big.Int) (AllowanceStatus, error) {
	snapshot, err := a.chain.CurrentPeriod(ctx, perm)
	if err != nil {
		return AllowanceStatus{}, err
	}

	spent := snapshot.Spend
	if spent == nil {
		spent = new(big.Int)
	}

	return AllowanceStatus{
		Allowance:   new(big.Int).Set(perm.Allowance),
		Spent:       new(big.Int).Set(spent),
		Remaining:   snapshot.Remaining(perm.Allowance),
		Requested:   new(big.Int).Set(requested),
		PeriodStart: snapshot.Start,
		PeriodEnd:   snapshot.End,
	}, nil
}

// Covers reports whether the remaining allowance covers the requested
// amount.
func (s AllowanceStatus) Covers() bool {
	return s.Remaining != nil && s.Requested != nil && s.Remaining.Cmp(s.Requested) >= 0
}
