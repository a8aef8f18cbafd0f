// Package score computes the published priority score for a signal.
//
// The formula is a versioned external contract: trust packets embed its
// human-readable form, and previously issued packets verify against scores it
// produced. Changing the weights or clamps is a breaking change to that
// contract and requires a new formula version, not an edit here.
package score

import "signalos/internal/signal/models"

// Formula is the human-readable description embedded in trust packets.
const Formula = "(Urgency * 30) + (Impact * 25) + min(People/10, 30) + min(Votes/5, 15)"

// Breakdown derives the four score components from a signal's raw inputs.
// Pure and total: inputs are validated at construction, so there are no
// error conditions here.
func Breakdown(s *models.Signal) models.ScoreBreakdown {
	return models.ScoreBreakdown{
		Urgency:        float64(s.Urgency) * 30.0,
		Impact:         float64(s.Impact) * 25.0,
		AffectedPeople: min(float64(s.AffectedPeople)/10.0, 30.0),
		CommunityVotes: min(float64(s.CommunityVotes)/5.0, 15.0),
	}
}

// Compute returns the total priority score for a signal.
func Compute(s *models.Signal) float64 {
	return Breakdown(s).Total()
}

// Apply stamps freshly derived score fields onto a copy of the signal and
// returns it. The stored signal is never mutated; derived fields are always
// recomputed from raw inputs on read.
func Apply(s *models.Signal) *models.Signal {
	scored := *s
	scored.Breakdown = Breakdown(s)
	scored.PriorityScore = scored.Breakdown.Total()
	return &scored
}
