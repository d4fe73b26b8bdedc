package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// banMarkers are the substrings in platform error text that indicate the
// account or identity tripped an enforcement action rather than an
// ordinary automation failure.
var banMarkers = []string{
	"banned",
	"suspended",
	"blocked",
	"account disabled",
	"403",
	"forbidden",
}

func hasBanMarker(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range banMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// scanForBan inspects the run's collected error text and marks the profile
// banned on the first enforcement marker. The next session for the account
// then provisions a replacement identity with a fresh fingerprint.
func (o *Orchestrator) scanForBan(ctx context.Context, run *liveRun) {
	for _, msg := range run.errorLog() {
		if !hasBanMarker(msg) {
			continue
		}
		o.logger.Warn("Enforcement marker detected in session errors",
			zap.String("session_id", run.session.ID),
			zap.String("profile_id", run.profile.ID),
			zap.String("error", msg))
		if err := o.identity.MarkProfileBanned(ctx, run.profile.ID); err != nil {
			o.logger.Error("Failed to mark profile banned",
				zap.String("profile_id", run.profile.ID), zap.Error(err))
		}
		return
	}
}
