package econ

import (
	"time"

	"github.com/canopy-network/ledgerx/pkg/utils"
)

// DefaultFreshnessWindow bounds how far a signed request timestamp may drift
// from server time before it is rejected as stale or replayed.
const DefaultFreshnessWindow = 120 * time.Second

// FreshnessWindow returns the configured replay-protection window.
func FreshnessWindow() time.Duration {
	return utils.EnvDuration("FRESHNESS_WINDOW", DefaultFreshnessWindow)
}

// CheckFreshness validates a unix-seconds request timestamp against now.
// A stale or future-dated timestamp is a validation error regardless of
// signature validity; this is the replay-protection gate.
func CheckFreshness(timestamp int64, now time.Time, window time.Duration) error {
	if timestamp <= 0 {
		return E(CodeValidation, "missing request timestamp")
	}
	drift := now.Unix() - timestamp
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(window.Seconds()) {
		return E(CodeValidation, "request timestamp outside freshness window (drift %ds, window %s)", drift, window)
	}
	return nil
}
