package engine

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	"github.com/sonicsphere/sonicsphere-api/internal/logger"
)

// DefaultVerifyThrottle bounds how often the on-chain validity of one
// user's authorization is re-checked.
const DefaultVerifyThrottle = 60 * time.Second

type verifyState struct {
	checkedAt time.Time
	active    bool
}

// Verifier answers "is this user's authorization active right now",
// caching the result per user for the throttle window. Rate-limited checks
// fall back to the cached answer and never destroy local state; only a
// genuine negative result clears the stored authorization.
type Verifier struct {
	perms    *PermissionStore
	chain    ChainService
	settings *SettingsManager
	throttle time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[common.Address]verifyState
}

// NewVerifier creates a Verifier. Throttle and clock are parameters so
// tests can simulate elapsed time without sleeping.
func NewVerifier(perms *PermissionStore, chainSvc ChainService, settings *SettingsManager, throttle time.Duration, now func() time.Time) *Verifier {
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		perms:    perms,
		chain:    chainSvc,
		settings: settings,
		throttle: throttle,
		now:      now,
		logger:   logger.Log,
		cache:    make(map[common.Address]verifyState),
	}
}

// VerifyActive reports whether the user's authorization is currently
// usable. Within the throttle window the cached answer is returned without
// an external call.
func (v *Verifier) VerifyActive(ctx context.Context, user common.Address) (bool, error) {
	now := v.now()

	v.mu.Lock()
	state, cached := v.cache[user]
	v.mu.Unlock()

	if cached && now.Sub(state.checkedAt) < v.throttle {
		return state.active, nil
	}

	auth, err := v.perms.Current(ctx, user)
	if err != nil {
		if chain.IsRateLimited(err) {
			return state.active, err
		}
		return false, err
	}
	if auth == nil {
		v.record(user, now, false)
		if err := v.settings.SetPermissionActive(ctx, user, false); err != nil {
			v.logger.Warn("Failed to record inactive authorization", zap.Error(err))
		}
		return false, nil
	}

	status, err := v.chain.PermissionStatus(ctx, auth.Permission)
	if err != nil {
		if chain.IsRateLimited(err) {
			// Transient infrastructure condition: keep the cached answer
			// and the stored authorization intact.
			return state.active, err
		}
		return state.active, err
	}

	active := status.Usable() && auth.Permission.ActiveAt(now)
	v.record(user, now, active)

	if active {
		if err := v.perms.MarkVerified(ctx, user); err != nil {
			v.logger.Warn("Failed to mark authorization verified", zap.Error(err))
		}
	} else {
		v.logger.Info("Authorization no longer valid on-chain, clearing",
			zap.String("user", user.Hex()),
			zap.Bool("valid", status.Valid),
			zap.Bool("approved", status.Approved),
			zap.Bool("revoked", status.Revoked))
		if err := v.perms.Clear(ctx, user); err != nil {
			v.logger.Warn("Failed to clear invalid authorization", zap.Error(err))
		}
	}

	if err := v.settings.SetPermissionActive(ctx, user, active); err != nil {
		v.logger.Warn("Failed to update cached verification result", zap.Error(err))
	}

	return active, nil
}

// Invalidate drops the cached verification result for the user, forcing the
// next VerifyActive to re-check. Used after approve and revoke.
func (v *Verifier) Invalidate(user common.Address) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cache, user)
}

func (v *Verifier) record(user common.Address, at time.Time, active bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache[user] = verifyState{checkedAt: at, active: active}
}
