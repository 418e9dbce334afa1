package types

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EthToken is the EIP-7528 sentinel address representing the native asset.
var EthToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// PlaceholderSignature marks an authorization restored from the remote
// registry, where the original user signature cannot be recovered. It is
// never accepted as a proof of consent; the spender-side approval already
// recorded on-chain is the authority for restored authorizations.
const PlaceholderSignature = "0x"

const (
	// DefaultPeriodSeconds is the recurring accounting window (24h).
	DefaultPeriodSeconds = 86400
	// DefaultValidityPeriods is how many periods a new authorization spans.
	DefaultValidityPeriods = 365
)

// SpendPermission is a signed, time-boxed, capped delegation letting the
// spender wallet move a bounded amount of the user's asset without further
// per-transaction signatures. Field layout matches the on-chain
// SpendPermissionManager struct and its EIP-712 message.
type SpendPermission struct {
	Account   common.Address
	Spender   common.Address
	Token     common.Address
	Allowance *big.Int
	Period    uint64
	Start     uint64
	End       uint64
	Salt      *big.Int
	ExtraData hexutil.Bytes
}

// spendPermissionJSON is the wire form: big integers cross the boundary as
// decimal strings.
type spendPermissionJSON struct {
	Account   string `json:"account"`
	Spender   string `json:"spender"`
	Token     string `json:"token"`
	Allowance string `json:"allowance"`
	Period    uint64 `json:"period"`
	Start     uint64 `json:"start"`
	End       uint64 `json:"end"`
	Salt      string `json:"salt"`
	ExtraData string `json:"extraData"`
}

// MarshalJSON implements json.Marshaler.
func (p SpendPermission) MarshalJSON() ([]byte, error) {
	allowance := "0"
	if p.Allowance != nil {
		allowance = p.Allowance.String()
	}
	salt := "0"
	if p.Salt != nil {
		salt = p.Salt.String()
	}
	extra := "0x"
	if len(p.ExtraData) > 0 {
		extra = p.ExtraData.String()
	}
	return json.Marshal(spendPermissionJSON{
		Account:   p.Account.Hex(),
		Spender:   p.Spender.Hex(),
		Token:     p.Token.Hex(),
		Allowance: allowance,
		Period:    p.Period,
		Start:     p.Start,
		End:       p.End,
		Salt:      salt,
		ExtraData: extra,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *SpendPermission) UnmarshalJSON(data []byte) error {
	var wire spendPermissionJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	allowance, ok := new(big.Int).SetString(wire.Allowance, 10)
	if !ok {
		return fmt.Errorf("invalid allowance: %s", wire.Allowance)
	}
	salt, ok := new(big.Int).SetString(wire.Salt, 10)
	if !ok {
		return fmt.Errorf("invalid salt: %s", wire.Salt)
	}

	extra := hexutil.Bytes{}
	if wire.ExtraData != "" && wire.ExtraData != "0x" {
		decoded, err := hexutil.Decode(wire.ExtraData)
		if err != nil {
			return fmt.Errorf("invalid extraData: %w", err)
		}
		extra = decoded
	}

	p.Account = common.HexToAddress(wire.Account)
	p.Spender = common.HexToAddress(wire.Spender)
	p.Token = common.HexToAddress(wire.Token)
	p.Allowance = allowance
	p.Period = wire.Period
	p.Start = wire.Start
	p.End = wire.End
	p.Salt = salt
	p.ExtraData = extra
	return nil
}

// Validate checks the structural invariants of an authorization.
func (p SpendPermission) Validate() error {
	if p.Account == (common.Address{}) {
		return fmt.Errorf("account address is required")
	}
	if p.Spender == (common.Address{}) {
		return fmt.Errorf("spender address is required")
	}
	if p.Token == (common.Address{}) {
		return fmt.Errorf("token address is required")
	}
	if p.Allowance == nil || p.Allowance.Sign() <= 0 {
		return fmt.Errorf("allowance must be greater than zero")
	}
	if p.Period == 0 {
		return fmt.Errorf("period must be greater than zero")
	}
	if p.Start >= p.End {
		return fmt.Errorf("start (%d) must be before end (%d)", p.Start, p.End)
	}
	return nil
}

// ActiveAt reports whether the authorization's validity window covers t.
func (p SpendPermission) ActiveAt(t time.Time) bool {
	now := uint64(t.Unix())
	return p.Start <= now && p.End > now
}

// Matches reports whether the permission binds the given owner/spender/token
// triple. Addresses compare case-insensitively via common.Address.
func (p SpendPermission) Matches(account, spender, token common.Address) bool {
	return p.Account == account && p.Spender == spender && p.Token == token
}

// NewDailyPermission builds an unsigned authorization draft for the native
// asset: start aligned to the current UTC period boundary so period windows
// are deterministic, validity spanning DefaultValidityPeriods, and the
// current timestamp as salt for uniqueness across re-grants.
func NewDailyPermission(account, spender common.Address, allowance *big.Int, now time.Time) SpendPermission {
	ts := uint64(now.Unix())
	start := ts / DefaultPeriodSeconds * DefaultPeriodSeconds
	return SpendPermission{
		Account:   account,
		Spender:   spender,
		Token:     EthToken,
		Allowance: allowance,
		Period:    DefaultPeriodSeconds,
		Start:     start,
		End:       start + DefaultValidityPeriods*DefaultPeriodSeconds,
		Salt:      new(big.Int).SetUint64(ts),
		ExtraData: hexutil.Bytes{},
	}
}

// PeriodSnapshot is the on-chain accounting view of the current spending
// window for one authorization.
type PeriodSnapshot struct {
	Start uint64   `json:"start"`
	End   uint64   `json:"end"`
	Spend *big.Int `json:"-"`
}

// Remaining computes the unspent allowance for the snapshot's window.
// It never returns a negative value.
func (s PeriodSnapshot) Remaining(allowance *big.Int) *big.Int {
	if allowance == nil {
		return new(big.Int)
	}
	spent := s.Spend
	if spent == nil {
		spent = new(big.Int)
	}
	remaining := new(big.Int).Sub(allowance, spent)
	if remaining.Sign() < 0 {
		return new(big.Int)
	}
	return remaining
}
