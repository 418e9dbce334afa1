package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	httpclient "github.com/sonicsphere/sonicsphere-api/internal/client/http"
	"github.com/sonicsphere/sonicsphere-api/internal/logger"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// Client talks to the wallet provider's permission registry over JSON-RPC.
// The registry is the authoritative record of permissions the user has
// granted to a spender, and lets the engine rediscover authorizations after
// losing its local copy.
type Client struct {
	http    *httpclient.HTTPClient
	chainID *big.Int
	logger  *zap.Logger
}

// NewClient creates a registry client for the given JSON-RPC endpoint.
func NewClient(rpcURL string, chainID *big.Int) *Client {
	return &Client{
		http: httpclient.NewHTTPClient(
			httpclient.WithBaseURL(rpcURL),
			httpclient.WithTimeout(10*time.Second),
		),
		chainID: chainID,
		logger:  logger.Log,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type fetchPermissionsParams struct {
	Account string `json:"account"`
	ChainID string `json:"chainId"`
	Spender string `json:"spender"`
}

// registryPermission is the registry's wire shape: one envelope per grant
// with the raw permission fields nested under spendPermission, numeric
// fields as decimal strings.
type registryPermission struct {
	SpendPermission struct {
		Account   string `json:"account"`
		Spender   string `json:"spender"`
		Token     string `json:"token"`
		Allowance string `json:"allowance"`
		Period    string `json:"period"`
		Start     string `json:"start"`
		End       string `json:"end"`
		Salt      string `json:"salt"`
		ExtraData string `json:"extraData"`
	} `json:"spendPermission"`
}

type fetchPermissionsResult struct {
	Permissions []registryPermission `json:"permissions"`
}

// FetchPermissions returns all spend permissions the account has granted to
// the spender on this chain. A rate-limited registry surfaces as
// chain.ErrRateLimited so callers treat it as a transient condition rather
// than an empty grant list.
func (c *Client) FetchPermissions(ctx context.Context, account, spender common.Address) ([]types.SpendPermission, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "wallet_fetchPermissions",
		Params: []interface{}{fetchPermissionsParams{
			Account: account.Hex(),
			ChainID: hexutil.EncodeBig(c.chainID),
			Spender: spender.Hex(),
		}},
	}

	resp, err := c.http.Post(ctx, "", req)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: permission registry returned 429", chain.ErrRateLimited)
		}
		return nil, fmt.Errorf("permission registry request failed: %w", err)
	}

	var rpcResp rpcResponse
	if err := c.http.ProcessJSONResponse(resp, &rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		if rpcResp.Error.Code == -32005 || strings.Contains(strings.ToLower(rpcResp.Error.Message), "rate limit") {
			return nil, fmt.Errorf("%w: %s", chain.ErrRateLimited, rpcResp.Error.Message)
		}
		return nil, fmt.Errorf("permission registry error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var result fetchPermissionsResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to decode permission registry result: %w", err)
	}

	perms := make([]types.SpendPermission, 0, len(result.Permissions))
	for _, entry := range result.Permissions {
		perm, err := parseRegistryPermission(entry)
		if err != nil {
			c.logger.Warn("Skipping malformed registry permission",
				zap.String("account", account.Hex()),
				zap.Error(err))
			continue
		}
		perms = append(perms, perm)
	}

	c.logger.Debug("Fetched permissions from registry",
		zap.String("account", account.Hex()),
		zap.Int("count", len(perms)))

	return perms, nil
}

func parseRegistryPermission(entry registryPermission) (types.SpendPermission, error) {
	raw := entry.SpendPermission

	if !common.IsHexAddress(raw.Account) || !common.IsHexAddress(raw.Spender) || !common.IsHexAddress(raw.Token) {
		return types.SpendPermission{}, fmt.Errorf("invalid address in registry permission")
	}

	allowance, ok := new(big.Int).SetString(raw.Allowance, 10)
	if !ok {
		return types.SpendPermission{}, fmt.Errorf("invalid allowance %q", raw.Allowance)
	}
	salt, ok := new(big.Int).SetString(raw.Salt, 10)
	if !ok {
		return types.SpendPermission{}, fmt.Errorf("invalid salt %q", raw.Salt)
	}

	period, err := parseUint(raw.Period)
	if err != nil {
		return types.SpendPermission{}, fmt.Errorf("invalid period: %w", err)
	}
	start, err := parseUint(raw.Start)
	if err != nil {
		return types.SpendPermission{}, fmt.Errorf("invalid start: %w", err)
	}
	end, err := parseUint(raw.End)
	if err != nil {
		return types.SpendPermission{}, fmt.Errorf("invalid end: %w", err)
	}

	var extra hexutil.Bytes
	if raw.ExtraData != "" && raw.ExtraData != "0x" {
		extra, err = hexutil.Decode(raw.ExtraData)
		if err != nil {
			return types.SpendPermission{}, fmt.Errorf("invalid extraData: %w", err)
		}
	}

	return types.SpendPermission{
		Account:   common.HexToAddress(raw.Account),
		Spender:   common.HexToAddress(raw.Spender),
		Token:     common.HexToAddress(raw.Token),
		Allowance: allowance,
		Period:    period,
		Start:     start,
		End:       end,
		Salt:      salt,
		ExtraData: extra,
	}, nil
}

func parseUint(s string) (uint64, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || !v.IsUint64() {
		return 0, fmt.Errorf("not a uint64: %q", s)
	}
	return v.Uint64(), nil
}
