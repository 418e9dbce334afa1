package types

import (
	"time"
)

// AuthorizationState tracks the provenance of a stored authorization.
type AuthorizationState string

const (
	// AuthorizationCached means the authorization was restored from local
	// storage or the wallet registry and has not been confirmed against the
	// chain since.
	AuthorizationCached AuthorizationState = "cached"

	// AuthorizationVerified means the authorization passed the full
	// on-chain validity check (valid, approved, not revoked).
	AuthorizationVerified AuthorizationState = "verified"
)

// SpendAuthorization pairs a spend permission with its proof of user
// consent. Authorizations restored from the wallet registry carry the
// placeholder signature, which never verifies as a real proof.
type SpendAuthorization struct {
	Permission SpendPermission    `json:"permission"`
	Signature  string             `json:"signature"`
	State      AuthorizationState `json:"state"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// HasRealProof reports whether the stored signature is an actual wallet
// signature rather than the placeholder.
func (a SpendAuthorization) HasRealProof() bool {
	return a.Signature != "" && a.Signature != PlaceholderSignature
}

// Verified reports whether the authorization is in the verified state.
func (a SpendAuthorization) Verified() bool {
	return a.State == AuthorizationVerified
}
