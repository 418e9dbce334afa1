package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// EIP-712 domain under which users sign spend permissions. Must match the
// on-chain manager's domain separator exactly.
const (
	typedDataDomainName    = "Spend Permission Manager"
	typedDataDomainVersion = "1"
)

var spendPermissionTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SpendPermission": {
		{Name: "account", Type: "address"},
		{Name: "spender", Type: "address"},
		{Name: "token", Type: "address"},
		{Name: "allowance", Type: "uint160"},
		{Name: "period", Type: "uint48"},
		{Name: "start", Type: "uint48"},
		{Name: "end", Type: "uint48"},
		{Name: "salt", Type: "uint256"},
		{Name: "extraData", Type: "bytes"},
	},
}

// SigningHash computes the EIP-712 digest a wallet signs when granting the
// permission.
func SigningHash(perm types.SpendPermission, chainID *big.Int, manager common.Address) (common.Hash, error) {
	salt := perm.Salt
	if salt == nil {
		salt = new(big.Int)
	}
	allowance := perm.Allowance
	if allowance == nil {
		allowance = new(big.Int)
	}
	extra := "0x"
	if len(perm.ExtraData) > 0 {
		extra = hexutil.Encode(perm.ExtraData)
	}

	typedData := apitypes.TypedData{
		Types:       spendPermissionTypes,
		PrimaryType: "SpendPermission",
		Domain: apitypes.TypedDataDomain{
			Name:              typedDataDomainName,
			Version:           typedDataDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: manager.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"account":   perm.Account.Hex(),
			"spender":   perm.Spender.Hex(),
			"token":     perm.Token.Hex(),
			"allowance": (*math.HexOrDecimal256)(allowance),
			"period":    new(big.Int).SetUint64(perm.Period).String(),
			"start":     new(big.Int).SetUint64(perm.Start).String(),
			"end":       new(big.Int).SetUint64(perm.End).String(),
			"salt":      (*math.HexOrDecimal256)(salt),
			"extraData": extra,
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash spend permission: %w", err)
	}
	return common.BytesToHash(hash), nil
}

// RecoverSigner recovers the address that produced the proof-of-consent
// signature over the permission. A placeholder or malformed signature never
// recovers to the account address, so restored-from-registry authorizations
// cannot masquerade as freshly signed ones.
func RecoverSigner(perm types.SpendPermission, signature []byte, chainID *big.Int, manager common.Address) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	hash, err := SigningHash(perm, chainID, manager)
	if err != nil {
		return common.Address{}, err
	}

	// Wallets produce V as 27/28; SigToPub expects 0/1.
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyConsent checks that the signature was produced by the permission's
// account over the exact permission fields.
func VerifyConsent(perm types.SpendPermission, signature []byte, chainID *big.Int, manager common.Address) error {
	signer, err := RecoverSigner(perm, signature, chainID, manager)
	if err != nil {
		return err
	}
	if signer != perm.Account {
		return fmt.Errorf("signature signer %s does not match account %s", signer.Hex(), perm.Account.Hex())
	}
	return nil
}
