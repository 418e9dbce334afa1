package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// ErrNotFound is returned when no record exists for the requested user.
var ErrNotFound = errors.New("record not found")

// SettingsStore persists each user's passive investment policy.
type SettingsStore interface {
	GetPolicy(ctx context.Context, user common.Address) (types.InvestmentPolicy, error)
	SavePolicy(ctx context.Context, user common.Address, policy types.InvestmentPolicy) error
}

// AuthorizationStore persists each user's spend authorization. At most one
// authorization is kept per user; saving replaces any previous one.
type AuthorizationStore interface {
	GetAuthorization(ctx context.Context, user common.Address) (*types.SpendAuthorization, error)
	SaveAuthorization(ctx context.Context, user common.Address, auth *types.SpendAuthorization) error
	DeleteAuthorization(ctx context.Context, user common.Address) error
}

// Store is the combined persistence surface the engine depends on.
type Store interface {
	SettingsStore
	AuthorizationStore
}
