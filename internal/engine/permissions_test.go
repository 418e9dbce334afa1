package engine

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sonicsphere/sonicsphere-api/internal/store"
	"github.com/sonicsphere/sonicsphere-api/internal/testutil"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

func TestPermissionStorePrefersLocalCopy(t *testing.T) {
	clock := newFakeClock()
	storage := store.NewMemoryStore()
	reg := new(testutil.MockRegistryService)
	ctx := context.Background()

	perm := types.NewDailyPermission(testUser, testSpender, big.NewInt(100), clock.Now())
	require.NoError(t, storage.SaveAuthorization(ctx, testUser, &types.SpendAuthorization{
		Permission: perm,
		Signature:  "0x1234",
		State:      types.AuthorizationVerified,
	}))

	perms := NewPermissionStore(storage, reg, testSpender, DefaultFetchThrottle, clock.Now)

	auth, err := perms.Current(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, "0x1234", auth.Signature)
	reg.AssertNotCalled(t, "FetchPermissions", mock.Anything, mock.Anything, mock.Anything)
}

func TestPermissionStoreRestoresFromRegistry(t *testing.T) {
	clock := newFakeClock()
	storage := store.NewMemoryStore()
	reg := new(testutil.MockRegistryService)
	ctx := context.Background()

	perm := types.NewDailyPermission(testUser, testSpender, big.NewInt(100), clock.Now())
	reg.On("FetchPermissions", mock.Anything, testUser, testSpender).
		Return([]types.SpendPermission{perm}, nil)

	perms := NewPermissionStore(storage, reg, testSpender, DefaultFetchThrottle, clock.Now)

	auth, err := perms.Current(ctx, testUser)
	require.NoError(t, err)
	require.NotNil(t, auth)

	// The registry cannot return the original wallet signature, so the
	// restored authorization carries the placeholder and starts cached.
	assert.Equal(t, types.PlaceholderSignature, auth.Signature)
	assert.False(t, auth.HasRealProof())
	assert.Equal(t, types.AuthorizationCached, auth.State)

	// The restored copy is persisted for next time.
	stored, err := storage.GetAuthorization(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, types.PlaceholderSignature, stored.Signature)
}

func TestPermissionStoreFetchThrottle(t *testing.T) {
	clock := newFakeClock()
	storage := store.NewMemoryStore()
	reg := new(testutil.MockRegistryService)
	ctx := context.Background()

	reg.On("FetchPermissions", mock.Anything, testUser, testSpender).
		Return([]types.SpendPermission{}, nil)

	perms := NewPermissionStore(storage, reg, testSpender, DefaultFetchThrottle, clock.Now)

	_, err := perms.Current(ctx, testUser)
	require.NoError(t, err)

	// Within the throttle window the registry is not hit again.
	clock.Advance(10 * time.Second)
	auth, err := perms.Current(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, auth)
	reg.AssertNumberOfCalls(t, "FetchPermissions", 1)

	clock.Advance(21 * time.Second)
	_, err = perms.Current(ctx, testUser)
	require.NoError(t, err)
	reg.AssertNumberOfCalls(t, "FetchPermissions", 2)
}

func TestPermissionStoreSkipsNonMatchingGrants(t *testing.T) {
	clock := newFakeClock()
	storage := store.NewMemoryStore()
	reg := new(testutil.MockRegistryService)
	ctx := context.Background()

	otherSpender := types.NewDailyPermission(testUser, testUser, big.NewInt(100), clock.Now())
	expired := types.NewDailyPermission(testUser, testSpender, big.NewInt(100), clock.Now())
	expired.End = expired.Start + 1

	reg.On("FetchPermissions", mock.Anything, testUser, testSpender).
		Return([]types.SpendPermission{otherSpender, expired}, nil)

	perms := NewPermissionStore(storage, reg, testSpender, DefaultFetchThrottle, clock.Now)

	auth, err := perms.Current(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, auth)
}

func TestPermissionStoreClear(t *testing.T) {
	clock := newFakeClock()
	storage := store.NewMemoryStore()
	ctx := context.Background()

	perm := types.NewDailyPermission(testUser, testSpender, big.NewInt(100), clock.Now())
	perms := NewPermissionStore(storage, nil, testSpender, DefaultFetchThrottle, clock.Now)

	require.NoError(t, perms.Adopt(ctx, testUser, &types.SpendAuthorization{
		Permission: perm,
		Signature:  "0x1234",
		State:      types.AuthorizationCached,
	}))
	require.NoError(t, perms.Clear(ctx, testUser))

	auth, err := perms.Current(ctx, testUser)
	require.NoError(t, err)
	assert.Nil(t, auth)
}
