// Package trust builds verifiable score snapshots for published signals.
//
// A packet binds a signal's identity, creation time, and current score into a
// digest any third party can recompute. The digest input layout and the
// formula string are external contracts: altering either silently would break
// verification of previously issued packets, so both are versioned.
package trust

import (
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/google/uuid"

	"signalos/internal/signal/models"
	"signalos/internal/signal/score"
)

// Packet is an ephemeral, on-demand snapshot. It is never persisted.
type Packet struct {
	SignalID              uuid.UUID              `json:"signalId"`
	Title                 string                 `json:"title"`
	Status                models.Status          `json:"status"`
	CreatedAt             time.Time              `json:"createdAt"`
	FinalScore            float64                `json:"finalScore"`
	ScoreBreakdown        models.ScoreBreakdown  `json:"scoreBreakdown"`
	PrioritizationFormula string                 `json:"prioritizationFormula"`
	VerificationHash      string                 `json:"verificationHash"`
}

// NewPacket derives a packet from a signal's raw fields. The score is
// recomputed here, never read from storage.
func NewPacket(s *models.Signal) Packet {
	breakdown := score.Breakdown(s)
	total := breakdown.Total()
	return Packet{
		SignalID:              s.ID,
		Title:                 s.Title,
		Status:                s.Status,
		CreatedAt:             s.CreatedAt,
		FinalScore:            total,
		ScoreBreakdown:        breakdown,
		PrioritizationFormula: score.Formula,
		VerificationHash:      Hash(s.ID, s.CreatedAt, total),
	}
}

// Hash digests "id:createdAt:score" with SHA-256 and encodes it base64.
// createdAt is rendered RFC 3339 with nanoseconds in UTC and the score with
// the shortest float representation; both choices are frozen as part of the
// verification contract.
func Hash(id uuid.UUID, createdAt time.Time, finalScore float64) string {
	raw := id.String() + ":" +
		createdAt.UTC().Format(time.RFC3339Nano) + ":" +
		strconv.FormatFloat(finalScore, 'g', -1, 64)
	sum := sha256.Sum256([]byte(raw))
	return base64.StdEncoding.EncodeToString(sum[:])
}
