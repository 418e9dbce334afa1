package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sonicsphere/sonicsphere-api/internal/chain"
	"github.com/sonicsphere/sonicsphere-api/internal/engine"
	"github.com/sonicsphere/sonicsphere-api/internal/store"
	"github.com/sonicsphere/sonicsphere-api/internal/testutil"
	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

var (
	testUser    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSpender = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testCoin    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type handlerFixture struct {
	router   *gin.Engine
	chainSvc *testutil.MockChainService
	trader   *testutil.MockTradeService
	storage  *store.MemoryStore
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	storage := store.NewMemoryStore()
	chainSvc := new(testutil.MockChainService)
	trader := new(testutil.MockTradeService)

	settings := engine.NewSettingsManager(storage)
	perms := engine.NewPermissionStore(storage, nil, testSpender, engine.DefaultFetchThrottle, nil)
	verifier := engine.NewVerifier(perms, chainSvc, settings, engine.DefaultVerifyThrottle, nil)
	accountant := engine.NewAccountant(chainSvc)
	recovery := engine.NewRecoveryAgent(chainSvc)
	executor := engine.NewExecutor(chainSvc, trader, accountant, recovery)
	sessions := engine.NewSessionTracker(nil)
	gate := engine.NewGate(engine.DefaultGateConfig(), sessions, settings, verifier, perms, executor, nil)

	services := NewServices(ServicesConfig{
		Gate:     gate,
		Executor: executor,
		Recovery: recovery,
		Settings: settings,
		Perms:    perms,
		Verifier: verifier,
		Chain:    chainSvc,
	})

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.POST("/playback/signal", services.PlaybackSignal)
	v1.POST("/spend-limits/approve", services.ApproveSpendPermission)
	v1.POST("/spend-limits/invest", services.Invest)
	v1.POST("/spend-limits/recover", services.Recover)
	v1.POST("/spend-limits/revoke", services.RevokeSpendPermission)
	v1.GET("/spend-limits/status/:address", services.SpendPermissionStatus)
	v1.GET("/settings/:address", services.GetSettings)
	v1.PUT("/settings/:address", services.UpdateSettings)
	v1.PUT("/settings/:address/excluded-coins/:coin", services.ExcludeCoin)
	v1.DELETE("/settings/:address/excluded-coins/:coin", services.IncludeCoin)

	return &handlerFixture{router: router, chainSvc: chainSvc, trader: trader, storage: storage}
}

func (f *handlerFixture) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func ethPermission(t *testing.T, allowanceETH string) types.SpendPermission {
	t.Helper()
	allowance, err := types.ParseEther(allowanceETH)
	require.NoError(t, err)
	return types.NewDailyPermission(testUser, testSpender, allowance, time.Now())
}

func weiOf(t *testing.T, eth string) *big.Int {
	t.Helper()
	wei, err := types.ParseEther(eth)
	require.NoError(t, err)
	return wei
}

func usable() chain.PermissionStatus {
	return chain.PermissionStatus{Valid: true, Approved: true}
}

func TestInvestSuccess(t *testing.T) {
	f := newHandlerFixture(t)

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).Return(usable(), nil)
	f.chainSvc.On("CurrentPeriod", mock.Anything, mock.Anything).
		Return(types.PeriodSnapshot{Start: 0, End: 86400, Spend: big.NewInt(0)}, nil)
	f.chainSvc.On("Spend", mock.Anything, mock.Anything, weiOf(t, "0.001")).Return("0xAAA", nil)
	f.trader.On("BuyCoin", mock.Anything, testCoin, testUser, weiOf(t, "0.001")).Return("0xBBB", nil)

	w := f.post(t, "/api/v1/spend-limits/invest", gin.H{
		"spendAuthorization": ethPermission(t, "0.1"),
		"assetId":            testCoin.Hex(),
		"amount":             "0.001",
		"userAddress":        testUser.Hex(),
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := f.decode(t, w)
	assert.Equal(t, true, body["success"])

	investment := body["investment"].(map[string]interface{})
	assert.Equal(t, "0xAAA", investment["spendTransactionHash"])
	assert.Equal(t, "0xBBB", investment["tradeTransactionHash"])

	allowance := body["allowanceStatus"].(map[string]interface{})
	assert.Equal(t, "0.1", allowance["allowance"])
	assert.Equal(t, "0.1", allowance["remaining"])
}

func TestInvestInsufficientAllowance(t *testing.T) {
	f := newHandlerFixture(t)

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).Return(usable(), nil)
	f.chainSvc.On("CurrentPeriod", mock.Anything, mock.Anything).
		Return(types.PeriodSnapshot{Start: 0, End: 86400, Spend: weiOf(t, "0.095")}, nil)

	w := f.post(t, "/api/v1/spend-limits/invest", gin.H{
		"spendAuthorization": ethPermission(t, "0.1"),
		"assetId":            testCoin.Hex(),
		"amount":             "0.01",
		"userAddress":        testUser.Hex(),
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := f.decode(t, w)
	allowance := body["allowanceStatus"].(map[string]interface{})
	assert.Equal(t, "0.005", allowance["remaining"])
	assert.Equal(t, "0.01", allowance["requested"])
	f.chainSvc.AssertNotCalled(t, "Spend", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvestRateLimited(t *testing.T) {
	f := newHandlerFixture(t)

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).
		Return(chain.PermissionStatus{}, chain.ErrRateLimited)

	w := f.post(t, "/api/v1/spend-limits/invest", gin.H{
		"spendAuthorization": ethPermission(t, "0.1"),
		"assetId":            testCoin.Hex(),
		"amount":             "0.001",
		"userAddress":        testUser.Hex(),
	})

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	body := f.decode(t, w)
	assert.Equal(t, true, body["rateLimited"])
}

func TestInvestStrandedFunds(t *testing.T) {
	f := newHandlerFixture(t)

	f.chainSvc.On("PermissionStatus", mock.Anything, mock.Anything).Return(usable(), nil)
	f.chainSvc.On("CurrentPeriod", mock.Anything, mock.Anything).
		Return(types.PeriodSnapshot{Start: 0, End: 86400, Spend: big.NewInt(0)}, nil)
	f.chainSvc.On("Spend", mock.Anything, mock.Anything, mock.Anything).Return("0xAAA", nil)
	f.trader.On("BuyCoin", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return("", errors.New("trade router reverted"))
	f.chainSvc.On("SpenderAddress").Return(testSpender)
	f.chainSvc.On("SpenderBalance", mock.Anything).Return(weiOf(t, "1"), nil)
	f.chainSvc.On("TransferETH", mock.Anything, testUser, weiOf(t, "0.001")).Return("0xCCC", nil)

	w := f.post(t, "/api/v1/spend-limits/invest", gin.H{
		"spendAuthorization": ethPermission(t, "0.1"),
		"assetId":            testCoin.Hex(),
		"amount":             "0.001",
		"userAddress":        testUser.Hex(),
	})

	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := f.decode(t, w)

	stranded := body["strandedETH"].(map[string]interface{})
	assert.Equal(t, "0.001", stranded["amount"])
	assert.Equal(t, testSpender.Hex(), stranded["spenderWallet"])
	assert.Equal(t, "0xAAA", stranded["spendTransactionHash"])

	recovery := body["recovery"].(map[string]interface{})
	assert.Equal(t, "0xCCC", recovery["transactionHash"])
}

func TestInvestValidation(t *testing.T) {
	f := newHandlerFixture(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{name: "bad user address", body: gin.H{
			"spendAuthorization": ethPermission(t, "0.1"),
			"assetId":            testCoin.Hex(),
			"amount":             "0.001",
			"userAddress":        "nope",
		}},
		{name: "bad asset", body: gin.H{
			"spendAuthorization": ethPermission(t, "0.1"),
			"assetId":            "nope",
			"amount":             "0.001",
			"userAddress":        testUser.Hex(),
		}},
		{name: "negative amount", body: gin.H{
			"spendAuthorization": ethPermission(t, "0.1"),
			"assetId":            testCoin.Hex(),
			"amount":             "-1",
			"userAddress":        testUser.Hex(),
		}},
		{name: "zero amount", body: gin.H{
			"spendAuthorization": ethPermission(t, "0.1"),
			"assetId":            testCoin.Hex(),
			"amount":             "0",
			"userAddress":        testUser.Hex(),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.post(t, "/api/v1/spend-limits/invest", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestRecoverSuccess(t *testing.T) {
	f := newHandlerFixture(t)

	f.chainSvc.On("SpenderBalance", mock.Anything).Return(weiOf(t, "1"), nil)
	f.chainSvc.On("TransferETH", mock.Anything, testUser, weiOf(t, "0.001")).Return("0xCCC", nil)

	w := f.post(t, "/api/v1/spend-limits/recover", gin.H{
		"userAddress": testUser.Hex(),
		"amount":      "0.001",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := f.decode(t, w)
	recovery := body["recovery"].(map[string]interface{})
	assert.Equal(t, "0xCCC", recovery["transactionHash"])
}

func TestRecoverInsufficientBalance(t *testing.T) {
	f := newHandlerFixture(t)

	f.chainSvc.On("SpenderBalance", mock.Anything).Return(weiOf(t, "0.0001"), nil)

	w := f.post(t, "/api/v1/spend-limits/recover", gin.H{
		"userAddress": testUser.Hex(),
		"amount":      "0.001",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := f.decode(t, w)
	assert.Equal(t, "0.0001", body["balance"])
	assert.Equal(t, "0.001", body["requested"])
	f.chainSvc.AssertNotCalled(t, "TransferETH", mock.Anything, mock.Anything, mock.Anything)
}

func TestApproveAdoptsAuthorization(t *testing.T) {
	f := newHandlerFixture(t)

	f.chainSvc.On("SpenderAddress").Return(testSpender)
	f.chainSvc.On("ApproveWithSignature", mock.Anything, mock.Anything, mock.Anything).
		Return("0xDDD", nil)

	w := f.post(t, "/api/v1/spend-limits/approve", gin.H{
		"spendAuthorization": ethPermission(t, "0.1"),
		"proofOfConsent":     "0x1234",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := f.decode(t, w)
	assert.Equal(t, "0xDDD", body["transactionHash"])

	auth, err := f.storage.GetAuthorization(context.Background(), testUser)
	require.NoError(t, err)
	assert.Equal(t, "0x1234", auth.Signature)
	assert.Equal(t, types.AuthorizationCached, auth.State)
}

func TestApproveRejectsForeignSpender(t *testing.T) {
	f := newHandlerFixture(t)

	f.chainSvc.On("SpenderAddress").Return(testSpender)

	perm := ethPermission(t, "0.1")
	perm.Spender = testCoin

	w := f.post(t, "/api/v1/spend-limits/approve", gin.H{
		"spendAuthorization": perm,
		"proofOfConsent":     "0x1234",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	f.chainSvc.AssertNotCalled(t, "ApproveWithSignature", mock.Anything, mock.Anything, mock.Anything)
}

func TestRevokeClearsLocalStateFirst(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	perm := ethPermission(t, "0.1")
	require.NoError(t, f.storage.SaveAuthorization(ctx, testUser, &types.SpendAuthorization{
		Permission: perm,
		Signature:  "0x1234",
		State:      types.AuthorizationVerified,
	}))

	f.chainSvc.On("Revoke", mock.Anything, mock.Anything).Return("0xEEE", nil)

	w := f.post(t, "/api/v1/spend-limits/revoke", gin.H{
		"spendAuthorization": perm,
		"userAddress":        testUser.Hex(),
	})

	require.Equal(t, http.StatusOK, w.Code)
	_, err := f.storage.GetAuthorization(ctx, testUser)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeClearsLocalStateEvenWhenChainFails(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	perm := ethPermission(t, "0.1")
	require.NoError(t, f.storage.SaveAuthorization(ctx, testUser, &types.SpendAuthorization{
		Permission: perm,
		Signature:  "0x1234",
		State:      types.AuthorizationVerified,
	}))

	f.chainSvc.On("Revoke", mock.Anything, mock.Anything).
		Return("", errors.New("execution reverted"))

	w := f.post(t, "/api/v1/spend-limits/revoke", gin.H{
		"spendAuthorization": perm,
		"userAddress":        testUser.Hex(),
	})

	// The on-chain call failed, but local state must already be cleared:
	// it may never claim the authorization is usable after a revoke was
	// issued.
	require.Equal(t, http.StatusInternalServerError, w.Code)
	_, err := f.storage.GetAuthorization(ctx, testUser)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPlaybackSignalAlwaysOK(t *testing.T) {
	f := newHandlerFixture(t)

	// Malformed body still yields 200: playback must never see an error.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/playback/signal", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// A valid signal below thresholds reports the reason, still 200.
	w = f.post(t, "/api/v1/playback/signal", gin.H{
		"userAddress":     testUser.Hex(),
		"trackId":         "track-1",
		"coinAddress":     testCoin.Hex(),
		"isPlaying":       true,
		"positionSeconds": 5,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := f.decode(t, w)
	assert.Equal(t, false, body["fired"])
}

func TestSettingsRoundTrip(t *testing.T) {
	f := newHandlerFixture(t)

	raw, err := json.Marshal(gin.H{
		"enabled":         true,
		"amountPerListen": "0.002",
		"dailyLimit":      "0.2",
		"excludedCoins":   []string{testCoin.Hex()},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/v1/settings/"+testUser.Hex(), bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/settings/"+testUser.Hex(), nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var wire types.PolicyWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wire))
	assert.True(t, wire.Enabled)
	assert.Equal(t, "0.002", wire.AmountPerListen)
	assert.Equal(t, "0.2", wire.DailyLimit)
	assert.Equal(t, []string{testCoin.Hex()}, wire.ExcludedCoins)
	assert.False(t, wire.PermissionActive)
}

func TestExcludedCoinEndpoints(t *testing.T) {
	f := newHandlerFixture(t)
	path := "/api/v1/settings/" + testUser.Hex() + "/excluded-coins/" + testCoin.Hex()

	req := httptest.NewRequest(http.MethodPut, path, nil)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var wire types.PolicyWire
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wire))
	assert.Equal(t, []string{testCoin.Hex()}, wire.ExcludedCoins)

	req = httptest.NewRequest(http.MethodDelete, path, nil)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wire))
	assert.Empty(t, wire.ExcludedCoins)
}
