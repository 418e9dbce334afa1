package engine

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// ChainService is the on-chain surface the engine needs: permission checks,
// period accounting, delegated transfers, lifecycle writes, and the plain
// transfers used for recovery.
type ChainService interface {
	SpenderAddress() common.Address
	PermissionStatus(ctx context.Context, perm types.SpendPermission) (chain.PermissionStatus, error)
	CurrentPeriod(ctx context.Context, perm types.SpendPermission) (types.PeriodSnapshot, error)
	Spend(ctx context.Context, perm types.SpendPermission, amount *big.Int) (string, error)
	ApproveWithSignature(ctx context.Context, perm types.SpendPermission, signature []byte) (string, error)
	Revoke(ctx context.Context, perm types.SpendPermission) (string, error)
	SpenderBalance(ctx context.Context) (*big.Int, error)
	TransferETH(ctx context.Context, to common.Address, amount *big.Int) (string, error)
}

// TradeService executes coin purchases with the spender wallet's funds,
// delivering the purchased coins to the recipient.
type TradeService interface {
	BuyCoin(ctx context.Context, coin, recipient common.Address, orderSize *big.Int) (string, error)
}

// RegistryService queries the wallet provider's record of permissions the
// user has granted to the spender.
type RegistryService interface {
	FetchPermissions(ctx context.Context, account, spender common.Address) ([]types.SpendPermission, error)
}
