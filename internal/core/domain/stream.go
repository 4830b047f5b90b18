package domain

import (
	"time"
)

type StreamID string

type StreamRole string

const (
	RolePrimary   StreamRole = "primary"
	RoleSecondary StreamRole = "secondary"
)

// StreamMeta is supplied at registration time.
type StreamMeta struct {
	Role     StreamRole `json:"role"`
	Priority int        `json:"priority"`
}

// TierChange records one accepted tier switch.
type TierChange struct {
	From   Tier      `json:"from"`
	To     Tier      `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// tierHistoryLimit bounds the per-stream ring of recent tier changes.
const tierHistoryLimit = 32

// StreamState is the per-stream decision record. It is created when the
// stream is registered and mutated only by the decision engine.
type StreamState struct {
	StreamID           StreamID
	Role               StreamRole
	Priority           int
	CurrentTier        Tier
	LastSwitchAt       time.Time
	ConsecutivePoor    int
	ConsecutiveGood    int
	FailedSwitches     int
	QualityHistory     []TierChange
	LastRecommendation *Recommendation
}

// RecordSwitch appends a tier change to the bounded history ring and
// advances the current tier.
func (s *StreamState) RecordSwitch(to Tier, reason string, at time.Time) {
	s.QualityHistory = append(s.QualityHistory, TierChange{
		From:   s.CurrentTier,
		To:     to,
		Reason: reason,
		At:     at,
	})
	if len(s.QualityHistory) > tierHistoryLimit {
		s.QualityHistory = s.QualityHistory[len(s.QualityHistory)-tierHistoryLimit:]
	}
	s.CurrentTier = to
	s.LastSwitchAt = at
}
