package handlers

import (
	"math/big"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/engine"
	"github.com/sonicsphere/sonicsphere-api/internal/logger"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// Services holds the engine components shared across handlers.
type Services struct {
	Gate     *engine.Gate
	Executor *engine.Executor
	Recovery *engine.RecoveryAgent
	Settings *engine.SettingsManager
	Perms    *engine.PermissionStore
	Verifier *engine.Verifier
	Chain    engine.ChainService
	logger   *zap.Logger
}

// ServicesConfig contains all dependencies needed to create Services.
type ServicesConfig struct {
	Gate     *engine.Gate
	Executor *engine.Executor
	Recovery *engine.RecoveryAgent
	Settings *engine.SettingsManager
	Perms    *engine.PermissionStore
	Verifier *engine.Verifier
	Chain    engine.ChainService
	Logger   *zap.Logger
}

// NewServices creates handler services from their dependencies.
func NewServices(config ServicesConfig) *Services {
	if config.Logger == nil {
		config.Logger = logger.Log
	}
	return &Services{
		Gate:     config.Gate,
		Executor: config.Executor,
		Recovery: config.Recovery,
		Settings: config.Settings,
		Perms:    config.Perms,
		Verifier: config.Verifier,
		Chain:    config.Chain,
		logger:   config.Logger,
	}
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// IsAddressValid checks if the provided string is a valid Ethereum address:
// exactly 42 characters, "0x" prefix, 40 hex characters.
func IsAddressValid(address string) bool {
	if len(address) != 42 {
		return false
	}
	if !strings.HasPrefix(address, "0x") {
		return false
	}
	for _, c := range address[2:] {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// sendError logs the error and sends a JSON error response with the
// request's correlation ID for debugging.
func sendError(c *gin.Context, statusCode int, message string, err error) {
	correlationID := ""
	if id, exists := c.Get("correlationID"); exists {
		correlationID, _ = id.(string)
	}

	logger.Error(message,
		zap.Error(err),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("correlation_id", correlationID),
	)

	response := struct {
		Error         string `json:"error"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}{
		Error:         message,
		CorrelationID: correlationID,
	}

	c.JSON(statusCode, response)
}

// sendSuccess is a helper function that sends a success response
func sendSuccess(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, data)
}

// allowanceStatusWire is the boundary form of period accounting: decimal
// ETH strings outside, wei inside.
type allowanceStatusWire struct {
	Allowance   string `json:"allowance"`
	Spent       string `json:"spent"`
	Remaining   string `json:"remaining"`
	Requested   string `json:"requested,omitempty"`
	PeriodStart uint64 `json:"periodStart"`
	PeriodEnd   uint64 `json:"periodEnd"`
}

func allowanceToWire(status *engine.AllowanceStatus) *allowanceStatusWire {
	if status == nil {
		return nil
	}
	wire := &allowanceStatusWire{
		Allowance:   types.FormatEther(status.Allowance),
		Spent:       types.FormatEther(status.Spent),
		Remaining:   types.FormatEther(status.Remaining),
		PeriodStart: status.PeriodStart,
		PeriodEnd:   status.PeriodEnd,
	}
	if status.Requested != nil && status.Requested.Sign() > 0 {
		wire.Requested = types.FormatEther(status.Requested)
	}
	return wire
}

// parseAmount converts a boundary decimal-ETH string to wei, requiring a
// positive value.
func parseAmount(raw string) (*big.Int, bool) {
	amount, err := types.ParseEther(raw)
	if err != nil || amount.Sign() <= 0 {
		return nil, false
	}
	return amount, true
}
