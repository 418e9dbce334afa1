package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/logger"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

const (
	// Read retries at the transport layer: 3 attempts, ~1s apart.
	readRetries       = 3
	readRetryInterval = time.Second

	// ethTransferGasLimit is the fixed gas cost of a plain value transfer.
	ethTransferGasLimit = 21000
)

// PermissionStatus is the three independent on-chain checks for one
// authorization. All three must agree (valid, approved, not revoked)
// before the spender may move funds.
type PermissionStatus struct {
	Valid    bool `json:"isValid"`
	Approved bool `json:"isApproved"`
	Revoked  bool `json:"isRevoked"`
}

// Usable reports whether the authorization can be spent against right now.
func (s PermissionStatus) Usable() bool {
	return s.Valid && s.Approved && !s.Revoked
}

// ClientConfig contains the parameters needed to construct a Client.
type ClientConfig struct {
	RPCURL            string
	ChainID           int64
	ManagerAddress    common.Address
	SpenderPrivateKey string
}

// Client wraps an Ethereum RPC connection, the spender wallet's signing key,
// and the bound SpendPermissionManager contract. It is the engine's single
// gateway for on-chain reads and writes.
type Client struct {
	eth         *ethclient.Client
	manager     *bind.BoundContract
	managerAddr common.Address
	key         *ecdsa.PrivateKey
	spender     common.Address
	chainID     *big.Int
	logger      *zap.Logger

	// txMu serializes spender-wallet submissions. Every transaction is
	// signed with the same key, so nonce assignment must not race.
	txMu sync.Mutex
}

// NewClient dials the RPC endpoint and binds the SpendPermissionManager
// contract. The spender address is derived from the private key, never
// trusted from configuration alone.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL is required")
	}
	if cfg.ManagerAddress == (common.Address{}) {
		return nil, fmt.Errorf("spend permission manager address is required")
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SpenderPrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid spender private key: %w", err)
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(spendPermissionManagerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse spend permission manager ABI: %w", err)
	}

	return &Client{
		eth:         eth,
		manager:     bind.NewBoundContract(cfg.ManagerAddress, parsed, eth, eth, eth),
		managerAddr: cfg.ManagerAddress,
		key:         key,
		spender:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:     big.NewInt(cfg.ChainID),
		logger:      logger.Log,
	}, nil
}

// SpenderAddress returns the address derived from the spender private key.
func (c *Client) SpenderAddress() common.Address {
	return c.spender
}

// ManagerAddress returns the bound SpendPermissionManager contract address.
func (c *Client) ManagerAddress() common.Address {
	return c.managerAddr
}

// ChainID returns the configured chain identifier.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// callBool performs a single boolean view call with retry.
func (c *Client) callBool(ctx context.Context, method string, perm types.SpendPermission) (bool, error) {
	var result bool
	err := c.withRetry(ctx, func() error {
		var out []interface{}
		if err := c.manager.Call(&bind.CallOpts{Context: ctx}, &out, method, toManagerPermission(perm)); err != nil {
			return err
		}
		if len(out) == 0 {
			return fmt.Errorf("%s returned no value", method)
		}
		result = *abi.ConvertType(out[0], new(bool)).(*bool)
		return nil
	})
	return result, err
}

// PermissionStatus queries the three validity checks for an authorization.
// Rate-limit failures surface as ErrRateLimited so the caller can avoid
// destroying local state over a transient infrastructure condition.
func (c *Client) PermissionStatus(ctx context.Context, perm types.SpendPermission) (PermissionStatus, error) {
	valid, err := c.callBool(ctx, "isValid", perm)
	if err != nil {
		return PermissionStatus{}, classify(fmt.Errorf("isValid check failed: %w", err))
	}
	approved, err := c.callBool(ctx, "isApproved", perm)
	if err != nil {
		return PermissionStatus{}, classify(fmt.Errorf("isApproved check failed: %w", err))
	}
	revoked, err := c.callBool(ctx, "isRevoked", perm)
	if err != nil {
		return PermissionStatus{}, classify(fmt.Errorf("isRevoked check failed: %w", err))
	}
	return PermissionStatus{Valid: valid, Approved: approved, Revoked: revoked}, nil
}

// CurrentPeriod fetches the canonical period accounting for the
// authorization from the contract.
func (c *Client) CurrentPeriod(ctx context.Context, perm types.SpendPermission) (types.PeriodSnapshot, error) {
	var snapshot types.PeriodSnapshot
	err := c.withRetry(ctx, func() error {
		var out []interface{}
		if err := c.manager.Call(&bind.CallOpts{Context: ctx}, &out, "getCurrentPeriod", toManagerPermission(perm)); err != nil {
			return err
		}
		if len(out) == 0 {
			return fmt.Errorf("getCurrentPeriod returned no value")
		}
		period := convertPeriod(out[0])
		snapshot = types.PeriodSnapshot{
			Start: period.Start.Uint64(),
			End:   period.End.Uint64(),
			Spend: period.Spend,
		}
		return nil
	})
	if err != nil {
		return types.PeriodSnapshot{}, classify(fmt.Errorf("failed to get current period: %w", err))
	}
	return snapshot, nil
}

// Spend executes the delegated transfer: moves amount from the user's wallet
// to the spender wallet under the pre-approved authorization, and waits for
// on-chain confirmation.
func (c *Client) Spend(ctx context.Context, perm types.SpendPermission, amount *big.Int) (string, error) {
	opts, err := c.txOpts(ctx)
	if err != nil {
		return "", err
	}

	tx, err := c.submitTx(func() (*ethtypes.Transaction, error) {
		return c.manager.Transact(opts, "spend", toManagerPermission(perm), amount)
	})
	if err != nil {
		return "", classify(fmt.Errorf("spend transaction failed: %w", err))
	}

	c.logger.Info("Spend transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("account", perm.Account.Hex()),
		zap.String("amount_wei", amount.String()))

	if err := c.waitConfirmed(ctx, tx); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}

// ApproveWithSignature records the user-signed authorization on-chain,
// making it spendable by the spender wallet.
func (c *Client) ApproveWithSignature(ctx context.Context, perm types.SpendPermission, signature []byte) (string, error) {
	opts, err := c.txOpts(ctx)
	if err != nil {
		return "", err
	}

	tx, err := c.submitTx(func() (*ethtypes.Transaction, error) {
		return c.manager.Transact(opts, "approveWithSignature", toManagerPermission(perm), signature)
	})
	if err != nil {
		return "", classify(fmt.Errorf("approveWithSignature transaction failed: %w", err))
	}

	c.logger.Info("Approval transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("account", perm.Account.Hex()))

	if err := c.waitConfirmed(ctx, tx); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}

// Revoke invalidates the authorization on-chain.
func (c *Client) Revoke(ctx context.Context, perm types.SpendPermission) (string, error) {
	opts, err := c.txOpts(ctx)
	if err != nil {
		return "", err
	}

	tx, err := c.submitTx(func() (*ethtypes.Transaction, error) {
		return c.manager.Transact(opts, "revoke", toManagerPermission(perm))
	})
	if err != nil {
		return "", classify(fmt.Errorf("revoke transaction failed: %w", err))
	}

	c.logger.Info("Revoke transaction submitted",
		zap.String("tx_hash", tx.Hash().Hex()),
		zap.String("account", perm.Account.Hex()))

	if err := c.waitConfirmed(ctx, tx); err != nil {
		return tx.Hash().Hex(), err
	}
	return tx.Hash().Hex(), nil
}

// SpenderBalance returns the spender wallet's current native balance.
func (c *Client) SpenderBalance(ctx context.Context) (*big.Int, error) {
	var balance *big.Int
	err := c.withRetry(ctx, func() error {
		var err error
		balance, err = c.eth.BalanceAt(ctx, c.spender, nil)
		return err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get spender balance: %w", err))
	}
	return balance, nil
}

// TransferETH sends a plain, spender-initiated value transfer. Used by the
// recovery path to return stranded funds to the user.
func (c *Client) TransferETH(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	signed, err := c.submitTx(func() (*ethtypes.Transaction, error) {
		nonce, err := c.eth.PendingNonceAt(ctx, c.spender)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to get spender nonce: %w", err))
		}

		gasPrice, err := c.eth.SuggestGasPrice(ctx)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to suggest gas price: %w", err))
		}

		tx := ethtypes.NewTransaction(nonce, to, amount, ethTransferGasLimit, gasPrice, nil)
		signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.key)
		if err != nil {
			return nil, fmt.Errorf("failed to sign transfer: %w", err)
		}

		if err := c.eth.SendTransaction(ctx, signed); err != nil {
			return nil, classify(fmt.Errorf("failed to send transfer: %w", err))
		}
		return signed, nil
	})
	if err != nil {
		return "", err
	}

	c.logger.Info("Recovery transfer submitted",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("to", to.Hex()),
		zap.String("amount_wei", amount.String()))

	if err := c.waitConfirmed(ctx, signed); err != nil {
		return signed.Hash().Hex(), err
	}
	return signed.Hash().Hex(), nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

// submitTx holds the transaction lock while a spender-wallet transaction is
// built, signed, and broadcast. The lock is released before confirmation:
// the pending nonce already reflects the broadcast transaction.
func (c *Client) submitTx(send func() (*ethtypes.Transaction, error)) (*ethtypes.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	return send()
}

func (c *Client) txOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(c.key, c.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// waitConfirmed blocks until the transaction is mined and checks the
// receipt status.
func (c *Client) waitConfirmed(ctx context.Context, tx *ethtypes.Transaction) error {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return classify(fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err))
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", tx.Hash().Hex())
	}
	return nil
}

// withRetry runs op with constant backoff. Rate-limit errors abort
// immediately so they can be classified instead of burned through retries.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && IsRateLimited(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(readRetryInterval), readRetries),
		ctx,
	)
	return backoff.Retry(wrapped, policy)
}
