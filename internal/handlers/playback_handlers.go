package handlers

import (
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/sonicsphere/sonicsphere-api/internal/engine"
)

// PlaybackSignalRequest is one playback-state observation from a client.
type PlaybackSignalRequest struct {
	UserAddress     string  `json:"userAddress" binding:"required"`
	TrackID         string  `json:"trackId" binding:"required"`
	CoinAddress     string  `json:"coinAddress" binding:"required"`
	IsPlaying       bool    `json:"isPlaying"`
	PositionSeconds float64 `json:"positionSeconds"`
	PreviousTrackID string  `json:"previousTrackId,omitempty"`
}

// PlaybackSignal feeds one signal through the investment gate. The response
// is always 200: investment machinery must never interrupt playback, so
// every engine outcome is reported through the body, not the status code.
func (s *Services) PlaybackSignal(c *gin.Context) {
	var req PlaybackSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// Even malformed signals get a 200 with a reason; the player
		// fires these on a timer and must not treat them as failures.
		sendSuccess(c, http.StatusOK, gin.H{"fired": false, "reason": "malformed signal"})
		return
	}
	if !IsAddressValid(req.UserAddress) || !IsAddressValid(req.CoinAddress) {
		sendSuccess(c, http.StatusOK, gin.H{"fired": false, "reason": "invalid address"})
		return
	}

	user := common.HexToAddress(req.UserAddress)

	if req.PreviousTrackID != "" && req.PreviousTrackID != req.TrackID {
		s.Gate.TrackChanged(user, req.PreviousTrackID)
	}

	decision := s.Gate.HandleSignal(c.Request.Context(), engine.PlaybackSignal{
		User:      user,
		TrackID:   req.TrackID,
		Coin:      common.HexToAddress(req.CoinAddress),
		IsPlaying: req.IsPlaying,
		Position:  time.Duration(req.PositionSeconds * float64(time.Second)),
	})

	body := gin.H{"fired": decision.Fired}
	if decision.Reason != "" {
		body["reason"] = decision.Reason
	}
	if decision.Result != nil {
		body["outcome"] = string(decision.Result.Kind)
		if decision.Result.Succeeded() {
			body["investment"] = gin.H{
				"spendTransactionHash": decision.Result.SpendTxHash,
				"tradeTransactionHash": decision.Result.TradeTxHash,
			}
		}
	}

	sendSuccess(c, http.StatusOK, body)
}
