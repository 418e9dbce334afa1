package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	"github.com/sonicsphere/sonicsphere-api/internal/logger"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// OutcomeKind discriminates the executor's result variants. Every caller
// must handle the stranded-funds case explicitly; it is a result, never a
// panic or a swallowed error.
type OutcomeKind string

const (
	OutcomeSuccess               OutcomeKind = "success"
	OutcomeInsufficientAllowance OutcomeKind = "insufficient_allowance"
	OutcomePermissionInvalid     OutcomeKind = "permission_invalid"
	OutcomeRateLimited           OutcomeKind = "rate_limited"
	OutcomeTransferFailed        OutcomeKind = "transfer_failed"
	OutcomeStrandedFunds         OutcomeKind = "stranded_funds"
	OutcomeUnknown               OutcomeKind = "unknown_error"
)

// StrandedFunds describes the partial-failure state: the delegated transfer
// confirmed but the paired purchase did not, leaving funds in the spender
// wallet. RecoveryTxHash is set when the automatic recovery succeeded.
type StrandedFunds struct {
	Amount         *big.Int
	SpenderWallet  common.Address
	SpendTxHash    string
	RecoveryTxHash string
	RecoveryErr    error
}

// Result is the executor's tagged outcome. Exactly the fields relevant to
// Kind are populated.
type Result struct {
	Kind        OutcomeKind
	SpendTxHash string
	TradeTxHash string
	Allowance   *AllowanceStatus
	Stranded    *StrandedFunds
	Err         error
}

// Succeeded reports whether both phases completed.
func (r Result) Succeeded() bool {
	return r.Kind == OutcomeSuccess
}

// InvestmentRequest is one attempt to invest amount wei into coin on behalf
// of the user.
type InvestmentRequest struct {
	Authorization types.SpendAuthorization
	Coin          common.Address
	Amount        *big.Int
	User          common.Address
}

// Executor runs the two-phase transfer-then-purchase sequence: pull funds
// from the user's wallet under the delegated authorization, then buy the
// coin for the user with the spender wallet. Phase A must confirm before
// Phase B begins.
type Executor struct {
	chain      ChainService
	trader     TradeService
	accountant *Accountant
	recovery   *RecoveryAgent
	logger     *zap.Logger
}

// NewExecutor creates an Executor. The recovery agent is invoked
// automatically whenever a stranded-funds outcome is produced.
func NewExecutor(chainSvc ChainService, trader TradeService, accountant *Accountant, recovery *RecoveryAgent) *Executor {
	return &Executor{
		chain:      chainSvc,
		trader:     trader,
		accountant: accountant,
		recovery:   recovery,
		logger:     logger.Log,
	}
}

// Invest performs one investment attempt and classifies the outcome. It
// never returns a Go error: every failure mode is a Result variant so call
// sites are forced to handle each case.
func (e *Executor) Invest(ctx context.Context, req InvestmentRequest) Result {
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return Result{Kind: OutcomeUnknown, Err: fmt.Errorf("investment amount must be positive")}
	}

	perm := req.Authorization.Permission

	// Pre-check: the three independent on-chain checks. A rate-limited
	// answer is a distinct retry-later outcome and must not be mistaken
	// for a revoked permission.
	status, err := e.chain.PermissionStatus(ctx, perm)
	if err != nil {
		if chain.IsRateLimited(err) {
			return Result{Kind: OutcomeRateLimited, Err: err}
		}
		return Result{Kind: OutcomeUnknown, Err: fmt.Errorf("permission pre-check failed: %w", err)}
	}
	if !status.Usable() {
		return Result{
			Kind: OutcomePermissionInvalid,
			Err: fmt.Errorf("spend permission not usable: valid=%t approved=%t revoked=%t",
				status.Valid, status.Approved, status.Revoked),
		}
	}

	// Allowance check, fail closed: an unreadable period means unknown
	// remaining balance, not unlimited.
	allowance, err := e.accountant.Status(ctx, perm, req.Amount)
	if err != nil {
		if chain.IsRateLimited(err) {
			return Result{Kind: OutcomeRateLimited, Err: err}
		}
		return Result{Kind: OutcomeUnknown, Err: fmt.Errorf("period accounting unavailable: %w", err)}
	}
	if !allowance.Covers() {
		return Result{
			Kind:      OutcomeInsufficientAllowance,
			Allowance: &allowance,
			Err: fmt.Errorf("insufficient remaining allowance: remaining %s wei, requested %s wei",
				allowance.Remaining.String(), req.Amount.String()),
		}
	}

	// Phase A: delegated transfer from the user's wallet to the spender.
	spendTx, err := e.chain.Spend(ctx, perm, req.Amount)
	if err != nil {
		if chain.IsRateLimited(err) {
			return Result{Kind: OutcomeRateLimited, Err: err}
		}
		return Result{Kind: OutcomeTransferFailed, Err: fmt.Errorf("delegated transfer failed: %w", err)}
	}

	e.logger.Info("Phase A confirmed, starting purchase",
		zap.String("user", req.User.Hex()),
		zap.String("coin", req.Coin.Hex()),
		zap.String("spend_tx", spendTx))

	// Phase B: buy the coin for the user with the now-funded spender
	// wallet. Failure here strands the transferred funds.
	tradeTx, err := e.trader.BuyCoin(ctx, req.Coin, req.User, req.Amount)
	if err != nil || tradeTx == "" {
		if err == nil {
			err = fmt.Errorf("trade returned no transaction hash")
		}
		return e.strand(ctx, req, spendTx, err)
	}

	e.logger.Info("Investment complete",
		zap.String("user", req.User.Hex()),
		zap.String("coin", req.Coin.Hex()),
		zap.String("spend_tx", spendTx),
		zap.String("trade_tx", tradeTx))

	return Result{
		Kind:        OutcomeSuccess,
		SpendTxHash: spendTx,
		TradeTxHash: tradeTx,
		Allowance:   &allowance,
	}
}

// Allowance exposes the current period accounting for status queries,
// with no requested amount.
func (e *Executor) Allowance(ctx context.Context, perm types.SpendPermission) (AllowanceStatus, error) {
	return e.accountant.Status(ctx, perm, new(big.Int))
}

// strand classifies the stranded-funds outcome and immediately attempts
// automatic recovery. The stranded descriptor is reported either way so a
// manual recovery remains possible when the automatic one fails.
func (e *Executor) strand(ctx context.Context, req InvestmentRequest, spendTx string, cause error) Result {
	stranded := &StrandedFunds{
		Amount:        new(big.Int).Set(req.Amount),
		SpenderWallet: e.chain.SpenderAddress(),
		SpendTxHash:   spendTx,
	}

	e.logger.Error("Purchase failed after confirmed transfer, funds stranded",
		zap.String("user", req.User.Hex()),
		zap.String("amount_wei", req.Amount.String()),
		zap.String("spend_tx", spendTx),
		zap.Error(cause))

	if e.recovery != nil {
		recoveryTx, recErr := e.recovery.Recover(ctx, req.User, req.Amount)
		if recErr != nil {
			e.logger.Error("Automatic recovery failed",
				zap.String("user", req.User.Hex()),
				zap.Error(recErr))
			stranded.RecoveryErr = recErr
		} else {
			stranded.RecoveryTxHash = recoveryTx
		}
	}

	return Result{
		Kind:        OutcomeStrandedFunds,
		SpendTxHash: spendTx,
		Stranded:    stranded,
		Err:         cause,
	}
}
