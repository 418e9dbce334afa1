package engine

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sonicsphere/sonicsphere-api/internal/logger"
)

// GateConfig holds the trigger-policy timing knobs. All are constructor
// parameters so tests can drive them directly.
type GateConfig struct {
	// AttemptCooldown is the minimum gap between attempts on the same
	// track session. It guards against re-evaluation storms, not against
	// legitimate re-listens.
	AttemptCooldown time.Duration

	// WallClockThreshold and PositionThreshold must both be reached for
	// the dual-clock trigger path.
	WallClockThreshold time.Duration
	PositionThreshold  time.Duration

	// PositionAloneThreshold fires the trigger on media position alone,
	// tolerating wall-clock drift from buffering stalls.
	PositionAloneThreshold time.Duration

	// RestartThreshold is the position at or below which a signal on an
	// already-playing track counts as a restart.
	RestartThreshold time.Duration
}

// DefaultGateConfig returns the production trigger policy.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		AttemptCooldown:        30 * time.Second,
		WallClockThreshold:     30 * time.Second,
		PositionThreshold:      30 * time.Second,
		PositionAloneThreshold: 60 * time.Second,
		RestartThreshold:       5 * time.Second,
	}
}

// PlaybackSignal is one playback-state observation for a user's current
// track.
type PlaybackSignal struct {
	User      common.Address
	TrackID   string
	Coin      common.Address
	IsPlaying bool
	Position  time.Duration
}

// GateDecision reports what the gate did with a signal. When Fired is true,
// Result holds the executor's classified outcome.
type GateDecision struct {
	Fired  bool
	Reason string
	Result *Result
}

// Gate is the trigger policy: it watches playback signals and fires the
// executor at most once per track session, with mutual exclusion between
// concurrent evaluations. Engine failures never propagate out of the gate;
// playback must not be interrupted by investment machinery.
type Gate struct {
	config   GateConfig
	sessions *SessionTracker
	settings *SettingsManager
	verifier *Verifier
	perms    *PermissionStore
	executor *Executor
	now      func() time.Time
	logger   *zap.Logger
}

// NewGate wires the trigger policy over its collaborators.
func NewGate(config GateConfig, sessions *SessionTracker, settings *SettingsManager, verifier *Verifier, perms *PermissionStore, executor *Executor, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{
		config:   config,
		sessions: sessions,
		settings: settings,
		verifier: verifier,
		perms:    perms,
		executor: executor,
		now:      now,
		logger:   logger.Log,
	}
}

// HandleSignal evaluates one playback signal and, when every condition
// holds, runs a single investment attempt to completion. It always returns
// a decision, never an error.
func (g *Gate) HandleSignal(ctx context.Context, sig PlaybackSignal) GateDecision {
	if sig.TrackID == "" {
		return GateDecision{Reason: "no track"}
	}
	if !sig.IsPlaying {
		return GateDecision{Reason: "not playing"}
	}

	playStartedAt, lastAttemptAt, invested, inFlight := g.sessions.Observe(
		sig.User, sig.TrackID, sig.Position, g.config.RestartThreshold)

	if invested {
		return GateDecision{Reason: "already invested this session"}
	}
	if inFlight {
		return GateDecision{Reason: "attempt in flight"}
	}

	now := g.now()
	if !lastAttemptAt.IsZero() && now.Sub(lastAttemptAt) < g.config.AttemptCooldown {
		return GateDecision{Reason: "attempt cooldown"}
	}

	wall := now.Sub(playStartedAt)
	dualClock := wall >= g.config.WallClockThreshold && sig.Position >= g.config.PositionThreshold
	positionAlone := sig.Position >= g.config.PositionAloneThreshold
	if !dualClock && !positionAlone {
		return GateDecision{Reason: "below listening thresholds"}
	}

	policy, err := g.settings.Get(ctx, sig.User)
	if err != nil {
		g.logger.Warn("Gate could not load policy", zap.String("user", sig.User.Hex()), zap.Error(err))
		return GateDecision{Reason: "policy unavailable"}
	}
	if !policy.Enabled {
		return GateDecision{Reason: "investing disabled"}
	}
	if policy.IsExcluded(sig.Coin) {
		return GateDecision{Reason: "coin excluded"}
	}

	active, err := g.verifier.VerifyActive(ctx, sig.User)
	if err != nil {
		g.logger.Debug("Authorization verification error",
			zap.String("user", sig.User.Hex()), zap.Error(err))
	}
	if !active {
		return GateDecision{Reason: "authorization not active"}
	}

	auth, err := g.perms.Current(ctx, sig.User)
	if err != nil || auth == nil {
		return GateDecision{Reason: "no authorization"}
	}

	// Claim the in-flight slot before any external call so two
	// near-simultaneous signals cannot both start an attempt.
	if !g.sessions.TryAcquire(sig.User, sig.TrackID) {
		return GateDecision{Reason: "attempt in flight"}
	}

	result := g.executor.Invest(ctx, InvestmentRequest{
		Authorization: *auth,
		Coin:          sig.Coin,
		Amount:        policy.AmountPerListen,
		User:          sig.User,
	})
	g.sessions.Release(sig.User, sig.TrackID, result.Succeeded())

	if !result.Succeeded() {
		g.logger.Info("Investment attempt did not succeed",
			zap.String("user", sig.User.Hex()),
			zap.String("track", sig.TrackID),
			zap.String("outcome", string(result.Kind)),
			zap.Error(result.Err))
	}

	return GateDecision{Fired: true, Result: &result}
}

// TrackChanged clears the session for a track the user has navigated away
// from, making the next play a fresh session.
func (g *Gate) TrackChanged(user common.Address, previousTrackID string) {
	if previousTrackID != "" {
		g.sessions.Forget(user, previousTrackID)
	}
}
