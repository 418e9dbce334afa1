package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// spendPermissionManagerABI is the call surface of the on-chain
// SpendPermissionManager contract: validity/approval/revocation reads,
// canonical period accounting, and the delegated-transfer and lifecycle
// writes.
const spendPermissionManagerABI = `[
  {
    "type": "function",
    "name": "isValid",
    "stateMutability": "view",
    "inputs": [` + spendPermissionTupleABI + `],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "isApproved",
    "stateMutability": "view",
    "inputs": [` + spendPermissionTupleABI + `],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "isRevoked",
    "stateMutability": "view",
    "inputs": [` + spendPermissionTupleABI + `],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "type": "function",
    "name": "getCurrentPeriod",
    "stateMutability": "view",
    "inputs": [` + spendPermissionTupleABI + `],
    "outputs": [
      {
        "name": "",
        "type": "tuple",
        "components": [
          {"name": "start", "type": "uint48"},
          {"name": "end", "type": "uint48"},
          {"name": "spend", "type": "uint160"}
        ]
      }
    ]
  },
  {
    "type": "function",
    "name": "spend",
    "stateMutability": "nonpayable",
    "inputs": [` + spendPermissionTupleABI + `, {"name": "value", "type": "uint160"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "approveWithSignature",
    "stateMutability": "nonpayable",
    "inputs": [` + spendPermissionTupleABI + `, {"name": "signature", "type": "bytes"}],
    "outputs": []
  },
  {
    "type": "function",
    "name": "revoke",
    "stateMutability": "nonpayable",
    "inputs": [` + spendPermissionTupleABI + `],
    "outputs": []
  }
]`

const spendPermissionTupleABI = `{
  "name": "spendPermission",
  "type": "tuple",
  "components": [
    {"name": "account", "type": "address"},
    {"name": "spender", "type": "address"},
    {"name": "token", "type": "address"},
    {"name": "allowance", "type": "uint160"},
    {"name": "period", "type": "uint48"},
    {"name": "start", "type": "uint48"},
    {"name": "end", "type": "uint48"},
    {"name": "salt", "type": "uint256"},
    {"name": "extraData", "type": "bytes"}
  ]
}`

// managerPermission mirrors the contract's SpendPermission tuple for ABI
// packing. Sub-256-bit integer fields pack as *big.Int.
type managerPermission struct {
	Account   common.Address
	Spender   common.Address
	Token     common.Address
	Allowance *big.Int
	Period    *big.Int
	Start     *big.Int
	End       *big.Int
	Salt      *big.Int
	ExtraData []byte
}

// managerPeriod mirrors the PeriodSpend tuple returned by getCurrentPeriod.
type managerPeriod struct {
	Start *big.Int
	End   *big.Int
	Spend *big.Int
}

func toManagerPermission(p types.SpendPermission) managerPermission {
	salt := p.Salt
	if salt == nil {
		salt = new(big.Int)
	}
	allowance := p.Allowance
	if allowance == nil {
		allowance = new(big.Int)
	}
	extra := []byte{}
	if len(p.ExtraData) > 0 {
		extra = p.ExtraData
	}
	return managerPermission{
		Account:   p.Account,
		Spender:   p.Spender,
		Token:     p.Token,
		Allowance: new(big.Int).Set(allowance),
		Period:    new(big.Int).SetUint64(p.Period),
		Start:     new(big.Int).SetUint64(p.Start),
		End:       new(big.Int).SetUint64(p.End),
		Salt:      new(big.Int).Set(salt),
		ExtraData: extra,
	}
}

func convertPeriod(out interface{}) managerPeriod {
	return *abi.ConvertType(out, new(managerPeriod)).(*managerPeriod)
}
