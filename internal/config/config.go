package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/sonicsphere/sonicsphere-api/internal/client/aws"
)

var privateKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)

// Config is the full environment surface of the API. Addresses and the
// private key are validated for well-formedness at load time; a malformed
// value fails fast rather than surfacing as a confusing RPC error later.
type Config struct {
	Stage string
	Port  string

	RPCURL             string
	ChainID            int64
	ManagerAddress     common.Address
	TradeRouterAddress common.Address
	RegistryRPCURL     string

	SpenderAddress    common.Address
	SpenderPrivateKey string

	DatabaseURL    string
	AllowedOrigins []string
}

// Load reads configuration from the environment. In deployed stages the
// spender private key comes from AWS Secrets Manager, with the plain
// environment variable as fallback for local development.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{
		Stage:  envOr("STAGE", "local"),
		Port:   envOr("PORT", "8080"),
		RPCURL: os.Getenv("RPC_URL"),
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC_URL is required")
	}

	chainIDStr := envOr("CHAIN_ID", "8453")
	chainID, err := strconv.ParseInt(chainIDStr, 10, 64)
	if err != nil || chainID <= 0 {
		return nil, fmt.Errorf("CHAIN_ID %q is not a positive integer", chainIDStr)
	}
	cfg.ChainID = chainID

	cfg.ManagerAddress, err = requireAddress("SPEND_PERMISSION_MANAGER_ADDRESS")
	if err != nil {
		return nil, err
	}
	cfg.TradeRouterAddress, err = requireAddress("TRADE_ROUTER_ADDRESS")
	if err != nil {
		return nil, err
	}

	cfg.RegistryRPCURL = os.Getenv("WALLET_REGISTRY_RPC_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	key, err := loadSpenderKey(ctx, cfg.Stage)
	if err != nil {
		return nil, err
	}
	if !privateKeyPattern.MatchString(key) {
		return nil, fmt.Errorf("spender private key is not a 32-byte hex string")
	}
	cfg.SpenderPrivateKey = key

	derived, err := deriveAddress(key)
	if err != nil {
		return nil, fmt.Errorf("spender private key is invalid: %w", err)
	}

	// SPENDER_ADDRESS is optional; when set it must agree with the key.
	if configured := os.Getenv("SPENDER_ADDRESS"); configured != "" {
		if !common.IsHexAddress(configured) {
			return nil, fmt.Errorf("SPENDER_ADDRESS %q is not a valid address", configured)
		}
		if common.HexToAddress(configured) != derived {
			return nil, fmt.Errorf("SPENDER_ADDRESS does not match the configured private key")
		}
	}
	cfg.SpenderAddress = derived

	return cfg, nil
}

func loadSpenderKey(ctx context.Context, stage string) (string, error) {
	if stage == "local" || stage == "test" {
		key := os.Getenv("SPENDER_PRIVATE_KEY")
		if key == "" {
			return "", fmt.Errorf("SPENDER_PRIVATE_KEY is required")
		}
		return key, nil
	}

	secrets, err := aws.NewSecretsManagerClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create secrets manager client: %w", err)
	}
	return secrets.GetSecretString(ctx, "SPENDER_PRIVATE_KEY_SECRET_ARN", "SPENDER_PRIVATE_KEY")
}

func deriveAddress(privateKeyHex string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

func requireAddress(envVar string) (common.Address, error) {
	value := os.Getenv(envVar)
	if value == "" {
		return common.Address{}, fmt.Errorf("%s is required", envVar)
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s %q is not a valid address", envVar, value)
	}
	return common.HexToAddress(value), nil
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
