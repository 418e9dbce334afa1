package types

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testAccount = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSpender = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestNewDailyPermission(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	allowance := big.NewInt(100)

	perm := NewDailyPermission(testAccount, testSpender, allowance, now)

	require.NoError(t, perm.Validate())
	assert.Equal(t, EthToken, perm.Token)
	assert.Equal(t, uint64(DefaultPeriodSeconds), perm.Period)

	// Start is aligned to the UTC period boundary so windows are
	// deterministic.
	assert.Zero(t, perm.Start%DefaultPeriodSeconds)
	assert.Equal(t, uint64(time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC).Unix()), perm.Start)
	assert.Equal(t, perm.Start+DefaultValidityPeriods*DefaultPeriodSeconds, perm.End)

	assert.True(t, perm.ActiveAt(now))
	assert.False(t, perm.ActiveAt(now.AddDate(2, 0, 0)))
}

func TestSpendPermissionValidate(t *testing.T) {
	base := NewDailyPermission(testAccount, testSpender, big.NewInt(100), time.Now())

	tests := []struct {
		name   string
		mutate func(*SpendPermission)
	}{
		{name: "zero account", mutate: func(p *SpendPermission) { p.Account = common.Address{} }},
		{name: "zero spender", mutate: func(p *SpendPermission) { p.Spender = common.Address{} }},
		{name: "zero token", mutate: func(p *SpendPermission) { p.Token = common.Address{} }},
		{name: "nil allowance", mutate: func(p *SpendPermission) { p.Allowance = nil }},
		{name: "zero allowance", mutate: func(p *SpendPermission) { p.Allowance = big.NewInt(0) }},
		{name: "zero period", mutate: func(p *SpendPermission) { p.Period = 0 }},
		{name: "start after end", mutate: func(p *SpendPermission) { p.Start, p.End = p.End, p.Start }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perm := base
			tt.mutate(&perm)
			assert.Error(t, perm.Validate())
		})
	}
}

func TestSpendPermissionJSON(t *testing.T) {
	perm := NewDailyPermission(testAccount, testSpender, big.NewInt(1_000_000), time.Now())

	data, err := json.Marshal(perm)
	require.NoError(t, err)

	// Big integers cross the boundary as decimal strings.
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "1000000", wire["allowance"])
	assert.Equal(t, "0x", wire["extraData"])

	var decoded SpendPermission
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, perm.Account, decoded.Account)
	assert.Equal(t, 0, perm.Allowance.Cmp(decoded.Allowance))
	assert.Equal(t, 0, perm.Salt.Cmp(decoded.Salt))
}

func TestSpendPermissionMatches(t *testing.T) {
	perm := NewDailyPermission(testAccount, testSpender, big.NewInt(100), time.Now())

	assert.True(t, perm.Matches(testAccount, testSpender, EthToken))
	assert.False(t, perm.Matches(testSpender, testSpender, EthToken))
	assert.False(t, perm.Matches(testAccount, testAccount, EthToken))
	assert.False(t, perm.Matches(testAccount, testSpender, common.Address{}))
}

func TestPeriodSnapshotRemaining(t *testing.T) {
	snapshot := PeriodSnapshot{Start: 0, End: 86400, Spend: big.NewInt(95)}

	assert.Equal(t, "5", snapshot.Remaining(big.NewInt(100)).String())
	assert.Equal(t, "0", snapshot.Remaining(big.NewInt(90)).String())
	assert.Equal(t, "0", snapshot.Remaining(nil).String())

	empty := PeriodSnapshot{}
	assert.Equal(t, "100", empty.Remaining(big.NewInt(100)).String())
}
