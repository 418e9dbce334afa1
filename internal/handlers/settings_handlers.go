package handlers

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/sonicsphere/sonicsphere-api/internal/types"
)

// GetSettings returns the user's investment policy, defaults included.
func (s *Services) GetSettings(c *gin.Context) {
	address := c.Param("address")
	if !IsAddressValid(address) {
		sendError(c, http.StatusBadRequest, "Invalid user address", nil)
		return
	}

	policy, err := s.Settings.Get(c.Request.Context(), common.HexToAddress(address))
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}

	sendSuccess(c, http.StatusOK, policy.ToWire())
}

// UpdateSettings validates and persists a user-submitted policy. Monetary
// fields arrive as decimal ETH strings and are converted to wei exactly
// once, here at the boundary.
func (s *Services) UpdateSettings(c *gin.Context) {
	address := c.Param("address")
	if !IsAddressValid(address) {
		sendError(c, http.StatusBadRequest, "Invalid user address", nil)
		return
	}

	var wire types.PolicyWire
	if err := c.ShouldBindJSON(&wire); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	policy, err := wire.FromWire()
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid monetary amount in settings", err)
		return
	}
	for _, coin := range wire.ExcludedCoins {
		if !IsAddressValid(coin) {
			sendError(c, http.StatusBadRequest, "Invalid excluded coin address", nil)
			return
		}
	}

	saved, err := s.Settings.Update(c.Request.Context(), common.HexToAddress(address), policy)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Settings rejected", err)
		return
	}

	sendSuccess(c, http.StatusOK, saved.ToWire())
}

// ExcludeCoin adds a coin to the user's exclusion list.
func (s *Services) ExcludeCoin(c *gin.Context) {
	user, coin, ok := settingsCoinParams(c)
	if !ok {
		return
	}

	policy, err := s.Settings.ExcludeCoin(c.Request.Context(), user, coin)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to exclude coin", err)
		return
	}
	sendSuccess(c, http.StatusOK, policy.ToWire())
}

// IncludeCoin removes a coin from the user's exclusion list.
func (s *Services) IncludeCoin(c *gin.Context) {
	user, coin, ok := settingsCoinParams(c)
	if !ok {
		return
	}

	policy, err := s.Settings.IncludeCoin(c.Request.Context(), user, coin)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to include coin", err)
		return
	}
	sendSuccess(c, http.StatusOK, policy.ToWire())
}

func settingsCoinParams(c *gin.Context) (common.Address, common.Address, bool) {
	address := c.Param("address")
	if !IsAddressValid(address) {
		sendError(c, http.StatusBadRequest, "Invalid user address", nil)
		return common.Address{}, common.Address{}, false
	}
	coin := c.Param("coin")
	if !IsAddressValid(coin) {
		sendError(c, http.StatusBadRequest, "Invalid coin address", nil)
		return common.Address{}, common.Address{}, false
	}
	return common.HexToAddress(address), common.HexToAddress(coin), true
}
