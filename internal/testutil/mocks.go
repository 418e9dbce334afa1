// Package testutil provides shared mocks for engine and handler tests.
package testutil

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// MockChainService is a testify mock of engine.ChainService.
type MockChainService struct {
	mock.Mock
}

func (m *MockChainService) SpenderAddress() common.Address {
	args := m.Called()
	return args.Get(0).(common.Address)
}

func (m *MockChainService) PermissionStatus(ctx context.Context, perm types.SpendPermission) (chain.PermissionStatus, error) {
	args := m.Called(ctx, perm)
	return args.Get(0).(chain.PermissionStatus), args.Error(1)
}

func (m *MockChainService) CurrentPeriod(ctx context.Context, perm types.SpendPermission) (types.PeriodSnapshot, error) {
	args := m.Called(ctx, perm)
	return args.Get(0).(types.PeriodSnapshot), args.Error(1)
}

func (m *MockChainService) Spend(ctx context.Context, perm types.SpendPermission, amount *big.Int) (string, error) {
	args := m.Called(ctx, perm, amount)
	return args.String(0), args.Error(1)
}

func (m *MockChainService) ApproveWithSignature(ctx context.Context, perm types.SpendPermission, signature []byte) (string, error) {
	args := m.Called(ctx, perm, signature)
	return args.String(0), args.Error(1)
}

func (m *MockChainService) Revoke(ctx context.Context, perm types.SpendPermission) (string, error) {
	args := m.Called(ctx, perm)
	return args.String(0), args.Error(1)
}

func (m *MockChainService) SpenderBalance(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *MockChainService) TransferETH(ctx context.Context, to common.Address, amount *big.Int) (string, error) {
	args := m.Called(ctx, to, amount)
	return args.String(0), args.Error(1)
}

// MockTradeService is a testify mock of engine.TradeService.
type MockTradeService struct {
	mock.Mock
}

func (m *MockTradeService) BuyCoin(ctx context.Context, coin, recipient common.Address, orderSize *big.Int) (string, error) {
	args := m.Called(ctx, coin, recipient, orderSize)
	return args.String(0), args.Error(1)
}

// MockRegistryService is a testify mock of engine.RegistryService.
type MockRegistryService struct {
	mock.Mock
}

func (m *MockRegistryService) FetchPermissions(ctx context.Context, account, spender common.Address) ([]types.SpendPermission, error) {
	args := m.Called(ctx, account, spender)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.SpendPermission), args.Error(1)
}
