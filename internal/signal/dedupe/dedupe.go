// Package dedupe clusters near-identical signals using normalized titles,
// token overlap, and edit distance.
//
// Detection runs over a bounded window of recent NEW signals (the caller
// enforces the bound) because comparison is intentionally pairwise O(n²).
// Clustering is greedy in input order: the earliest-seen signal wins as the
// cluster representative and a signal joins at most one cluster. Reordering
// candidates can change the clusters; that order sensitivity is part of the
// contract and must not be "fixed" into symmetric closure.
package dedupe

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"signalos/internal/signal/models"
)

const (
	// Titles this long or longer count as duplicates when one contains the other.
	containmentMinLen = 12
	// Tokens shorter than this carry too little signal to compare.
	tokenMinLen = 3

	strongOverlap = 0.75
	weakOverlap   = 0.55

	distanceFloor = 3
)

// FindDuplicates clusters the candidate signals, keyed by the representative's
// ID. Representatives with no duplicates are omitted.
func FindDuplicates(candidates []*models.Signal) map[uuid.UUID][]*models.Signal {
	clusters := make(map[uuid.UUID][]*models.Signal)
	processed := make(map[uuid.UUID]bool)

	for i := 0; i < len(candidates); i++ {
		rep := candidates[i]
		if processed[rep.ID] {
			continue
		}

		var dups []*models.Signal
		for j := i + 1; j < len(candidates); j++ {
			other := candidates[j]
			if processed[other.ID] {
				continue
			}
			if Similar(rep, other) {
				dups = append(dups, other)
				processed[other.ID] = true
			}
		}

		if len(dups) > 0 {
			clusters[rep.ID] = dups
			processed[rep.ID] = true
		}
	}
	return clusters
}

// Similar reports whether two signals look like reports of the same issue.
// Signals in different categories are never similar, regardless of title text.
func Similar(a, b *models.Signal) bool {
	if a.Category == "" || b.Category == "" || !strings.EqualFold(a.Category, b.Category) {
		return false
	}

	t1 := normalizeTitle(a.Title)
	t2 := normalizeTitle(b.Title)
	if t1 == "" || t2 == "" {
		return false
	}
	if t1 == t2 {
		return true
	}

	minLen := min(len(t1), len(t2))
	if minLen >= containmentMinLen && (strings.Contains(t1, t2) || strings.Contains(t2, t1)) {
		return true
	}

	overlap := tokenOverlap(t1, t2)
	distance := levenshtein(t1, t2)
	adaptiveThreshold := max(distanceFloor, minLen/5)

	return overlap >= strongOverlap || (overlap >= weakOverlap && distance <= adaptiveThreshold)
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// normalizeTitle decomposes Unicode, drops diacritics, lowercases, and
// reduces every non-alphanumeric run to a single space.
func normalizeTitle(title string) string {
	ascii, _, err := transform.String(stripMarks, title)
	if err != nil {
		ascii = title
	}
	ascii = strings.ToLower(ascii)

	var b strings.Builder
	b.Grow(len(ascii))
	lastSpace := true
	for _, r := range ascii {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastSpace = false
			continue
		}
		if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// tokenOverlap measures shared tokens (length >= 3) relative to the smaller
// token set. Returns 0 when either title has no usable tokens.
func tokenOverlap(t1, t2 string) float64 {
	a := tokenSet(t1)
	b := tokenSet(t2)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	shared := 0
	for tok := range a {
		if b[tok] {
			shared++
		}
	}
	return float64(shared) / float64(min(len(a), len(b)))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		if len(tok) >= tokenMinLen {
			set[tok] = true
		}
	}
	return set
}

// levenshtein computes edit distance with a two-row table.
func levenshtein(x, y string) int {
	prev := make([]int, len(y)+1)
	curr := make([]int, len(y)+1)
	for j := 0; j <= len(y); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(x); i++ {
		curr[0] = i
		for j := 1; j <= len(y); j++ {
			cost := 1
			if x[i-1] == y[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j-1]+cost, min(prev[j]+1, curr[j-1]+1))
		}
		prev, curr = curr, prev
	}
	return prev[len(y)]
}
