package dedupe

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signalos/internal/signal/models"
)

func sig(title, category string) *models.Signal {
	return &models.Signal{ID: uuid.New(), Title: title, Category: category}
}

func TestSimilar(t *testing.T) {
	t.Run("identical titles after normalization", func(t *testing.T) {
		assert.True(t, Similar(
			sig("Broken streetlight!!!", "infrastructure"),
			sig("broken   STREETLIGHT", "Infrastructure"),
		))
	})

	t.Run("diacritics are stripped before comparison", func(t *testing.T) {
		assert.True(t, Similar(
			sig("Réparation de la rue", "roads"),
			sig("Reparation de la rue", "roads"),
		))
	})

	t.Run("rewordings of the same report match on token overlap", func(t *testing.T) {
		assert.True(t, Similar(
			sig("Pothole on Main Street near school", "roads"),
			sig("Pothole at Main St near the school!", "roads"),
		))
	})

	t.Run("typos match via edit distance", func(t *testing.T) {
		assert.True(t, Similar(
			sig("Pothole on main street", "roads"),
			sig("Pothole on main stret", "roads"),
		))
	})

	t.Run("long title contained in another matches", func(t *testing.T) {
		assert.True(t, Similar(
			sig("Pothole main street", "roads"),
			sig("Pothole main street near school", "roads"),
		))
	})

	t.Run("short raw substring does not match", func(t *testing.T) {
		// "ain stree" sits inside "main street" but is too short for the
		// containment rule and shares no usable tokens.
		assert.False(t, Similar(
			sig("ain stree", "roads"),
			sig("Pothole on main street", "roads"),
		))
	})

	t.Run("category gate beats identical titles", func(t *testing.T) {
		assert.False(t, Similar(
			sig("Pothole on Main Street", "roads"),
			sig("Pothole on Main Street", "safety"),
		))
	})

	t.Run("unrelated reports in the same category", func(t *testing.T) {
		assert.False(t, Similar(
			sig("Water leak downtown", "infrastructure"),
			sig("Broken swing in park", "infrastructure"),
		))
	})

	t.Run("empty category never matches", func(t *testing.T) {
		assert.False(t, Similar(sig("Pothole on Main", ""), sig("Pothole on Main", "")))
	})
}

func TestFindDuplicates(t *testing.T) {
	t.Run("clusters around the earliest candidate", func(t *testing.T) {
		a := sig("Pothole on Main Street near school", "roads")
		b := sig("Pothole at Main St near the school", "roads")
		c := sig("pothole on main street near school!!", "roads")
		unrelated := sig("Streetlight out on Oak Avenue", "roads")

		clusters := FindDuplicates([]*models.Signal{a, b, c, unrelated})

		require.Len(t, clusters, 1)
		dups, ok := clusters[a.ID]
		require.True(t, ok, "earliest candidate is the representative")
		assert.ElementsMatch(t, []*models.Signal{b, c}, dups)
	})

	t.Run("lone signals produce no clusters", func(t *testing.T) {
		clusters := FindDuplicates([]*models.Signal{
			sig("Water leak downtown", "infrastructure"),
			sig("Broken swing in park", "parks"),
		})
		assert.Empty(t, clusters)
	})

	t.Run("a signal joins at most one cluster", func(t *testing.T) {
		a := sig("Fallen tree blocking Elm Road", "roads")
		b := sig("fallen tree blocking elm road", "roads")
		c := sig("Fallen tree blocking elm road!", "roads")

		clusters := FindDuplicates([]*models.Signal{a, b, c})

		require.Len(t, clusters, 1)
		assert.Len(t, clusters[a.ID], 2)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, FindDuplicates(nil))
	})
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  Broken   Streetlight!!!  ", "broken streetlight"},
		{"Café near Rue-Est", "cafe near rue est"},
		{"###", ""},
		{"A1-B2_c3", "a1 b2 c3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTitle(tt.in), tt.in)
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("pothole", "pothole"))
	assert.Equal(t, 1, levenshtein("street", "stret"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 5, levenshtein("", "abcde"))
}
