package handlers

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	"github.com/sonicsphere/sonicsphere-api/internal/engine"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// ApproveRequest carries a user-signed spend permission to be recorded
// on-chain.
type ApproveRequest struct {
	SpendAuthorization types.SpendPermission `json:"spendAuthorization" binding:"required"`
	ProofOfConsent     string                `json:"proofOfConsent" binding:"required"`
}

// InvestRequest asks the executor to run one two-phase investment.
type InvestRequest struct {
	SpendAuthorization types.SpendPermission `json:"spendAuthorization" binding:"required"`
	AssetID            string                `json:"assetId" binding:"required"`
	Amount             string                `json:"amount" binding:"required"`
	UserAddress        string                `json:"userAddress" binding:"required"`
}

// RecoverRequest asks for a plain transfer of stranded funds back to the
// user.
type RecoverRequest struct {
	UserAddress string `json:"userAddress" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
}

// RevokeRequest invalidates a spend permission on-chain and locally.
type RevokeRequest struct {
	SpendAuthorization types.SpendPermission `json:"spendAuthorization" binding:"required"`
	UserAddress        string                `json:"userAddress" binding:"required"`
}

// ApproveSpendPermission validates the signed permission, verifies the
// signature was produced by the granting account, records the approval
// on-chain, and adopts the authorization as the user's current one.
func (s *Services) ApproveSpendPermission(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	perm := req.SpendAuthorization
	if err := perm.Validate(); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid spend authorization", err)
		return
	}
	if perm.Spender != s.Chain.SpenderAddress() {
		sendError(c, http.StatusBadRequest, "Authorization spender does not match this service", nil)
		return
	}

	signature, err := hexutil.Decode(req.ProofOfConsent)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Proof of consent is not valid hex", err)
		return
	}

	chainClient, ok := s.Chain.(*chain.Client)
	if ok {
		if err := chain.VerifyConsent(perm, signature, chainClient.ChainID(), chainClient.ManagerAddress()); err != nil {
			sendError(c, http.StatusBadRequest, "Proof of consent does not match the granting account", err)
			return
		}
	}

	txHash, err := s.Chain.ApproveWithSignature(c.Request.Context(), perm, signature)
	if err != nil {
		if chain.IsRateLimited(err) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "RPC provider rate limited, retry later",
				"rateLimited": true,
			})
			return
		}
		message := "Failed to approve spend authorization on-chain"
		if hint := chain.FailureHint(err); hint != "" {
			message = message + ": " + hint
		}
		sendError(c, http.StatusInternalServerError, message, err)
		return
	}

	auth := &types.SpendAuthorization{
		Permission: perm,
		Signature:  req.ProofOfConsent,
		State:      types.AuthorizationCached,
	}
	if err := s.Perms.Adopt(c.Request.Context(), perm.Account, auth); err != nil {
		s.logger.Error("Approved on-chain but failed to persist authorization",
			zap.String("account", perm.Account.Hex()), zap.Error(err))
	}
	s.Verifier.Invalidate(perm.Account)

	sendSuccess(c, http.StatusOK, gin.H{
		"success":         true,
		"transactionHash": txHash,
	})
}

// Invest runs the two-phase transfer-then-purchase executor and maps every
// outcome variant to its wire shape. Stranded funds are reported with the
// exact amount and the Phase-A hash so a manual recovery stays possible.
func (s *Services) Invest(c *gin.Context) {
	var req InvestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !IsAddressValid(req.UserAddress) {
		sendError(c, http.StatusBadRequest, "Invalid user address", nil)
		return
	}
	if !IsAddressValid(req.AssetID) {
		sendError(c, http.StatusBadRequest, "Invalid asset address", nil)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		sendError(c, http.StatusBadRequest, "Amount must be a positive decimal string", nil)
		return
	}
	if err := req.SpendAuthorization.Validate(); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid spend authorization", err)
		return
	}

	result := s.Executor.Invest(c.Request.Context(), engine.InvestmentRequest{
		Authorization: types.SpendAuthorization{Permission: req.SpendAuthorization},
		Coin:          common.HexToAddress(req.AssetID),
		Amount:        amount,
		User:          common.HexToAddress(req.UserAddress),
	})

	s.respondInvestResult(c, result)
}

func (s *Services) respondInvestResult(c *gin.Context, result engine.Result) {
	switch result.Kind {
	case engine.OutcomeSuccess:
		sendSuccess(c, http.StatusOK, gin.H{
			"success": true,
			"investment": gin.H{
				"spendTransactionHash": result.SpendTxHash,
				"tradeTransactionHash": result.TradeTxHash,
			},
			"allowanceStatus": allowanceToWire(result.Allowance),
		})

	case engine.OutcomeInsufficientAllowance:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":           "Insufficient remaining allowance for this period",
			"allowanceStatus": allowanceToWire(result.Allowance),
		})

	case engine.OutcomePermissionInvalid:
		sendError(c, http.StatusBadRequest, "Spend authorization is not valid, approved, or has been revoked", result.Err)

	case engine.OutcomeRateLimited:
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "RPC provider rate limited, retry later",
			"rateLimited": true,
		})

	case engine.OutcomeTransferFailed:
		sendError(c, http.StatusInternalServerError, "Delegated transfer failed, no funds moved", result.Err)

	case engine.OutcomeStrandedFunds:
		body := gin.H{
			"error": "Purchase failed after transfer, funds stranded in spender wallet",
			"strandedETH": gin.H{
				"amount":               types.FormatEther(result.Stranded.Amount),
				"spenderWallet":        result.Stranded.SpenderWallet.Hex(),
				"spendTransactionHash": result.Stranded.SpendTxHash,
			},
		}
		if result.Stranded.RecoveryTxHash != "" {
			body["recovery"] = gin.H{"transactionHash": result.Stranded.RecoveryTxHash}
		}
		c.JSON(http.StatusInternalServerError, body)

	default:
		sendError(c, http.StatusInternalServerError, "Investment failed", result.Err)
	}
}

// Recover sends stranded funds from the spender wallet back to the user.
func (s *Services) Recover(c *gin.Context) {
	var req RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !IsAddressValid(req.UserAddress) {
		sendError(c, http.StatusBadRequest, "Invalid user address", nil)
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		sendError(c, http.StatusBadRequest, "Amount must be a positive decimal string", nil)
		return
	}

	txHash, err := s.Recovery.Recover(c.Request.Context(), common.HexToAddress(req.UserAddress), amount)
	if err != nil {
		var insufficient *engine.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":     "Insufficient spender balance for recovery",
				"balance":   types.FormatEther(insufficient.Balance),
				"requested": types.FormatEther(insufficient.Requested),
			})
			return
		}
		sendError(c, http.StatusInternalServerError, "Recovery transfer failed", err)
		return
	}

	sendSuccess(c, http.StatusOK, gin.H{
		"success":  true,
		"recovery": gin.H{"transactionHash": txHash},
	})
}

// RevokeSpendPermission invalidates the authorization locally first, then
// on-chain. Local state must never claim the authorization is usable once a
// revoke has been issued, even while its confirmation is pending.
func (s *Services) RevokeSpendPermission(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if !IsAddressValid(req.UserAddress) {
		sendError(c, http.StatusBadRequest, "Invalid user address", nil)
		return
	}
	user := common.HexToAddress(req.UserAddress)
	if req.SpendAuthorization.Account != user {
		sendError(c, http.StatusBadRequest, "Authorization account does not match user address", nil)
		return
	}

	if err := s.Perms.Clear(c.Request.Context(), user); err != nil {
		s.logger.Warn("Failed to clear local authorization before revoke",
			zap.String("user", user.Hex()), zap.Error(err))
	}
	if err := s.Settings.SetPermissionActive(c.Request.Context(), user, false); err != nil {
		s.logger.Warn("Failed to deactivate policy before revoke",
			zap.String("user", user.Hex()), zap.Error(err))
	}
	s.Verifier.Invalidate(user)

	txHash, err := s.Chain.Revoke(c.Request.Context(), req.SpendAuthorization)
	if err != nil {
		if chain.IsRateLimited(err) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "RPC provider rate limited, retry later",
				"rateLimited": true,
			})
			return
		}
		sendError(c, http.StatusInternalServerError, "Failed to revoke spend authorization on-chain", err)
		return
	}

	sendSuccess(c, http.StatusOK, gin.H{
		"success":         true,
		"transactionHash": txHash,
	})
}

// SpendPermissionStatus reports the user's current authorization, its
// verification state, and the current period accounting.
func (s *Services) SpendPermissionStatus(c *gin.Context) {
	address := c.Param("address")
	if !IsAddressValid(address) {
		sendError(c, http.StatusBadRequest, "Invalid user address", nil)
		return
	}
	user := common.HexToAddress(address)

	auth, err := s.Perms.Current(c.Request.Context(), user)
	if err != nil && !chain.IsRateLimited(err) {
		sendError(c, http.StatusInternalServerError, "Failed to load authorization", err)
		return
	}
	if auth == nil {
		sendSuccess(c, http.StatusOK, gin.H{
			"hasAuthorization": false,
			"active":           false,
		})
		return
	}

	active, verifyErr := s.Verifier.VerifyActive(c.Request.Context(), user)
	if verifyErr != nil {
		s.logger.Debug("Status verification error",
			zap.String("user", user.Hex()), zap.Error(verifyErr))
	}

	body := gin.H{
		"hasAuthorization": true,
		"active":           active,
		"state":            auth.State,
		"authorization":    auth.Permission,
	}

	if active {
		status, err := s.Executor.Allowance(c.Request.Context(), auth.Permission)
		if err == nil {
			body["allowanceStatus"] = allowanceToWire(&status)
		}
	}

	sendSuccess(c, http.StatusOK, body)
}
