package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/logger"
	"github.com/sonicsphere/sonicsphere-api/internal/store"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// DefaultFetchThrottle bounds how often the wallet registry is queried per
// user when no local authorization exists.
const DefaultFetchThrottle = 30 * time.Second

// PermissionStore maintains the single current spend authorization per
// user. Restoration order: local persisted copy first, then the wallet
// registry. Registry-restored authorizations carry the placeholder
// signature and start in the cached (unverified) state.
type PermissionStore struct {
	auths    store.AuthorizationStore
	registry RegistryService
	spender  common.Address
	throttle time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu        sync.Mutex
	lastFetch map[common.Address]time.Time
}

// NewPermissionStore creates a PermissionStore. The fetch throttle and
// clock are parameters so tests can drive time directly.
func NewPermissionStore(auths store.AuthorizationStore, registry RegistryService, spender common.Address, throttle time.Duration, now func() time.Time) *PermissionStore {
	if now == nil {
		now = time.Now
	}
	return &PermissionStore{
		auths:     auths,
		registry:  registry,
		spender:   spender,
		throttle:  throttle,
		now:       now,
		logger:    logger.Log,
		lastFetch: make(map[common.Address]time.Time),
	}
}

// Current returns the user's authorization, restoring it from the wallet
// registry when no local copy exists. Returns (nil, nil) when the user has
// no authorization anywhere.
func (p *PermissionStore) Current(ctx context.Context, user common.Address) (*types.SpendAuthorization, error) {
	auth, err := p.auths.GetAuthorization(ctx, user)
	if err == nil {
		return auth, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return p.restoreFromRegistry(ctx, user)
}

// restoreFromRegistry looks for a permission granted to our spender for the
// native asset that is inside its validity window right now. The original
// wallet signature is unrecoverable from the registry, so the restored
// authorization carries the placeholder marker: it proves an authorization
// exists without re-asserting consent.
func (p *PermissionStore) restoreFromRegistry(ctx context.Context, user common.Address) (*types.SpendAuthorization, error) {
	if p.registry == nil {
		return nil, nil
	}

	now := p.now()

	p.mu.Lock()
	if last, ok := p.lastFetch[user]; ok && now.Sub(last) < p.throttle {
		p.mu.Unlock()
		return nil, nil
	}
	p.lastFetch[user] = now
	p.mu.Unlock()

	perms, err := p.registry.FetchPermissions(ctx, user, p.spender)
	if err != nil {
		return nil, err
	}

	for _, perm := range perms {
		if !perm.Matches(user, p.spender, types.EthToken) || !perm.ActiveAt(now) {
			continue
		}
		auth := &types.SpendAuthorization{
			Permission: perm,
			Signature:  types.PlaceholderSignature,
			State:      types.AuthorizationCached,
			UpdatedAt:  now,
		}
		if err := p.auths.SaveAuthorization(ctx, user, auth); err != nil {
			return nil, err
		}
		p.logger.Info("Restored authorization from wallet registry",
			zap.String("user", user.Hex()))
		return auth, nil
	}
	return nil, nil
}

// Adopt stores a freshly approved authorization as the user's current one.
func (p *PermissionStore) Adopt(ctx context.Context, user common.Address, auth *types.SpendAuthorization) error {
	auth.UpdatedAt = p.now()
	return p.auths.SaveAuthorization(ctx, user, auth)
}

// MarkVerified promotes the stored authorization to the verified state.
func (p *PermissionStore) MarkVerified(ctx context.Context, user common.Address) error {
	auth, err := p.auths.GetAuthorization(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if auth.State == types.AuthorizationVerified {
		return nil
	}
	auth.State = types.AuthorizationVerified
	auth.UpdatedAt = p.now()
	return p.auths.SaveAuthorization(ctx, user, auth)
}

// Clear removes the user's authorization. Called on revoke and on a genuine
// negative verification result, never on a rate-limited one.
func (p *PermissionStore) Clear(ctx context.Context, user common.Address) error {
	return p.auths.DeleteAuthorization(ctx, user)
}
