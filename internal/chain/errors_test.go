package chain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrRateLimited, want: true},
		{name: "wrapped sentinel", err: fmt.Errorf("spend failed: %w", ErrRateLimited), want: true},
		{name: "http 429", err: rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, want: true},
		{name: "http 500", err: rpc.HTTPError{StatusCode: 500, Status: "500 Internal Server Error"}, want: false},
		{name: "provider message", err: errors.New("over rate limit"), want: true},
		{name: "too many requests", err: errors.New("too many requests from this key"), want: true},
		{name: "genuine revert", err: errors.New("execution reverted"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRateLimited(tt.err))
		})
	}
}

func TestFailureHint(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "gas funds", err: errors.New("insufficient funds for gas * price + value"), want: "spender wallet has insufficient funds for gas"},
		{name: "nonce", err: errors.New("nonce too low"), want: "nonce conflict, retry shortly"},
		{name: "revert", err: errors.New("execution reverted: invalid signature"), want: "transaction reverted on-chain"},
		{name: "network", err: errors.New("dial tcp: connection refused"), want: "network error reaching RPC provider"},
		{name: "unrecognized", err: errors.New("something odd"), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FailureHint(tt.err))
		})
	}
}

func TestClassifyWrapsSentinel(t *testing.T) {
	err := classify(errors.New("request failed: over rate limit"))
	assert.ErrorIs(t, err, ErrRateLimited)

	plain := errors.New("execution reverted")
	assert.Equal(t, plain, classify(plain))
	assert.NoError(t, classify(nil))
}
