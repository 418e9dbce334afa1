package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/logger"
)

// tradeRouterABI is the call surface of the external trading service's
// on-chain router. The buy is payable: the purchase amount rides along as
// transaction value and the purchased coins go to the recipient.
const tradeRouterABI = `[
  {
    "type": "function",
    "name": "buy",
    "stateMutability": "payable",
    "inputs": [
      {"name": "coin", "type": "address"},
      {"name": "recipient", "type": "address"},
      {"name": "orderSize", "type": "uint256"},
      {"name": "minAmountOut", "type": "uint256"},
      {"name": "tradeReferrer", "type": "address"}
    ],
    "outputs": []
  }
]`

// Trader executes coin purchases through the trading router using the
// spender wallet. The spender is a pass-through intermediary: purchased
// coins are always directed to the user's address.
type Trader struct {
	chain      *Client
	router     *bind.BoundContract
	routerAddr common.Address
	logger     *zap.Logger
}

// NewTrader binds the trade router contract on the given chain client.
func NewTrader(chain *Client, routerAddr common.Address) (*Trader, error) {
	if routerAddr == (common.Address{}) {
		return nil, fmt.Errorf("trade router address is required")
	}

	parsed, err := abi.JSON(strings.NewReader(tradeRouterABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse trade router ABI: %w", err)
	}

	return &Trader{
		chain:      chain,
		router:     bind.NewBoundContract(routerAddr, parsed, chain.eth, chain.eth, chain.eth),
		routerAddr: routerAddr,
		logger:     logger.Log,
	}, nil
}

// BuyCoin purchases orderSize worth of the coin for recipient, spending the
// spender wallet's balance, and waits for confirmation. The spender wallet
// is named as trade referrer, matching the deployment's fee attribution.
func (t *Trader) BuyCoin(ctx context.Context, coin, recipient common.Address, orderSize *big.Int) (string, error) {
	opts, err := t.chain.txOpts(ctx)
	if err != nil {
		return "", err
	}
	opts.Value = orderSize

	tx, err := t.chain.submitTx(func() (*ethtypes.Transaction, error) {
		return t.router.Transact(opts, "buy", coin, recipient, orderSize, big.NewInt(0), t.chain.spender)
	})
	if err != nil {
		return "", classify(fmt.Errorf("coin purchase failed: %w", err))
	}

	t.logger.Info("Trade transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("coin", coin.Hex()),
		zap.String("recipient", recipient.Hex()),
		zap.String("order_size_wei", orderSize.String()))

	if err := t.chain.waitConfirmed(ctx, tx); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}
