package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	"github.com/sonicsphere/sonicsphere-api/internal/store"
	"github.com/sonicsphere/sonicsphere-api/internal/testutil"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

type verifierFixture struct {
	verifier *Verifier
	clock    *fakeClock
	chainSvc *testutil.MockChainService
	storage  *store.MemoryStore
}

func newVerifierFixture(t *testing.T, withAuth bool) *verifierFixture {
	t.Helper()

	clock := newFakeClock()
	storage := store.NewMemoryStore()
	chainSvc := new(testutil.MockChainService)

	if withAuth {
		perm := types.NewDailyPermission(testUser, testSpender, big.NewInt(100), clock.Now())
		require.NoError(t, storage.SaveAuthorization(context.Background(), testUser, &types.SpendAuthorization{
			Permission: perm,
			Signature:  "0x1234",
			State:      types.AuthorizationCached,
		}))
	}

	settings := NewSettingsManager(storage)
	perms := NewPermissionStore(storage, nil, testSpender, DefaultFetchThrottle, clock.Now)
	verifier := NewVerifier(perms, chainSvc, settings, DefaultVerifyThrottle, clock.Now)

	return &verifierFixture{verifier: verifier, clock: clock, chainSvc: chainSvc, storage: storage}
}

func TestVerifierThrottlesChecks(t *testing.T) {
	f := newVerifierFixture(t, true)
	ctx := context.Background()

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).Return(usableStatus(), nil)

	active, err := f.verifier.VerifyActive(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, active)

	// Within the throttle window the cached answer is reused.
	f.clock.Advance(30 * time.Second)
	active, err = f.verifier.VerifyActive(ctx, testUser)
	require.NoError(t, err)
	assert.True(t, active)
	f.chainSvc.AssertNumberOfCalls(t, "PermissionStatus", 1)

	// Past the window a fresh check is made.
	f.clock.Advance(31 * time.Second)
	_, err = f.verifier.VerifyActive(ctx, testUser)
	require.NoError(t, err)
	f.chainSvc.AssertNumberOfCalls(t, "PermissionStatus", 2)
}

func TestVerifierPromotesToVerified(t *testing.T) {
	f := newVerifierFixture(t, true)
	ctx := context.Background()

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).Return(usableStatus(), nil)

	_, err := f.verifier.VerifyActive(ctx, testUser)
	require.NoError(t, err)

	auth, err := f.storage.GetAuthorization(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationVerified, auth.State)
}

func TestVerifierRateLimitIsNonDestructive(t *testing.T) {
	f := newVerifierFixture(t, true)
	ctx := context.Background()

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).Return(usableStatus(), nil).Once()
	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).
		Return(chain.PermissionStatus{}, chain.ErrRateLimited)

	active, err := f.verifier.VerifyActive(ctx, testUser)
	require.NoError(t, err)
	require.True(t, active)

	f.clock.Advance(61 * time.Second)
	active, err = f.verifier.VerifyActive(ctx, testUser)

	// The cached positive answer survives a rate-limited check, and the
	// stored authorization is untouched.
	assert.True(t, active)
	assert.ErrorIs(t, err, chain.ErrRateLimited)

	auth, getErr := f.storage.GetAuthorization(ctx, testUser)
	require.NoError(t, getErr)
	assert.NotNil(t, auth)
}

func TestVerifierGenuineNegativeClearsState(t *testing.T) {
	f := newVerifierFixture(t, true)
	ctx := context.Background()

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).
		Return(chain.PermissionStatus{Valid: true, Approved: true, Revoked: true}, nil)

	active, err := f.verifier.VerifyActive(ctx, testUser)
	require.NoError(t, err)
	assert.False(t, active)

	_, getErr := f.storage.GetAuthorization(ctx, testUser)
	assert.ErrorIs(t, getErr, store.ErrNotFound)
}

func TestVerifierNoAuthorization(t *testing.T) {
	f := newVerifierFixture(t, false)

	active, err := f.verifier.VerifyActive(context.Background(), testUser)
	require.NoError(t, err)
	assert.False(t, active)
	f.chainSvc.AssertNotCalled(t, "PermissionStatus", mock.Anything, mock.Anything)
}

func TestVerifierInvalidateForcesRecheck(t *testing.T) {
	f := newVerifierFixture(t, true)
	ctx := context.Background()

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).Return(usableStatus(), nil)

	_, err := f.verifier.VerifyActive(ctx, testUser)
	require.NoError(t, err)

	f.verifier.Invalidate(testUser)
	_, err = f.verifier.VerifyActive(ctx, testUser)
	require.NoError(t, err)
	f.chainSvc.AssertNumberOfCalls(t, "PermissionStatus", 2)
}
