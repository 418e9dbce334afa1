package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrRateLimited marks failures caused by provider rate limiting. Callers
// must treat these as "retry later" and never clear cached authorization
// state because of them.
var ErrRateLimited = errors.New("rpc provider rate limited")

// IsRateLimited reports whether err is attributable to provider rate
// limiting (HTTP 429 or a provider-reported "over rate limit" message)
// rather than a genuine negative result.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "over rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429")
}

// FailureHint maps common transaction submission failures to a short
// user-presentable cause. Returns "" when the failure is not recognized.
func FailureHint(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"):
		return "spender wallet has insufficient funds for gas"
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "replacement transaction"):
		return "nonce conflict, retry shortly"
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "reverted"):
		return "transaction reverted on-chain"
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return "network error reaching RPC provider"
	}
	return ""
}

// classify wraps rate-limit failures with the ErrRateLimited sentinel so
// upstream errors.Is checks work regardless of the provider's error shape.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsRateLimited(err) && !errors.Is(err, ErrRateLimited) {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}
