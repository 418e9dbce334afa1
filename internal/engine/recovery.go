package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/logger"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// InsufficientBalanceError reports a recovery request the spender wallet
// cannot cover. This can legitimately happen when several stranded
// investments compete for the same wallet balance.
type InsufficientBalanceError struct {
	Balance   *big.Int
	Requested *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient spender balance for recovery: have %s ETH, need %s ETH",
		types.FormatEther(e.Balance), types.FormatEther(e.Requested))
}

// RecoveryAgent returns stranded funds to their owner with a plain
// spender-initiated transfer. Invoked automatically by the executor on a
// stranded-funds outcome, and manually through the recover endpoint.
type RecoveryAgent struct {
	chain  ChainService
	logger *zap.Logger
}

// NewRecoveryAgent creates a RecoveryAgent over the given chain service.
func NewRecoveryAgent(chainSvc ChainService) *RecoveryAgent {
	return &RecoveryAgent{chain: chainSvc, logger: logger.Log}
}

// Recover sends amount from the spender wallet back to the user and waits
// for confirmation. The spender balance is checked first so a doomed
// transfer is never submitted.
func (r *RecoveryAgent) Recover(ctx context.Context, user common.Address, amount *big.Int) (string, error) {
	if amount == nil || amount.Sign() <= 0 {
		return "", fmt.Errorf("recovery amount must be positive")
	}

	balance, err := r.chain.SpenderBalance(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to check spender balance: %w", err)
	}
	if balance.Cmp(amount) < 0 {
		return "", &InsufficientBalanceError{Balance: balance, Requested: amount}
	}

	txHash, err := r.chain.TransferETH(ctx, user, amount)
	if err != nil {
		return txHash, fmt.Errorf("recovery transfer failed: %w", err)
	}

	r.logger.Info("Recovered funds to user",
		zap.String("user", user.Hex()),
		zap.String("amount_wei", amount.String()),
		zap.String("tx_hash", txHash))

	return txHash, nil
}
