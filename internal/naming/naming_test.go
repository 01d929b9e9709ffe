package naming

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple lowercase", "a1", "a1"},
		{"uppercase folded", "A1", "a1"},
		{"underscores and spaces", "A_b C", "a-b-c"},
		{"collapse dash runs", "a--b___c", "a-b-c"},
		{"strip edge dashes", "-abc-", "abc"},
		{"unicode replaced", "张三2023", "2023"},
		{"empty input", "", "student"},
		{"only invalid chars", "___", "student"},
		{"surrounding whitespace", "  u2023001  ", "u2023001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"A_b C", "u2023001", "张三", strings.Repeat("x", 100), "a--b"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "normalize must be idempotent for %q", in)
	}
}

func TestNormalizeLongCodes(t *testing.T) {
	long := strings.Repeat("abc-", 30)

	got := Normalize(long)
	assert.LessOrEqual(t, len(got), MaxLabelLength)
	assert.NotRegexp(t, `^-|-$`, got)

	// Deterministic across calls.
	assert.Equal(t, got, Normalize(long))

	// Distinct long inputs stay distinct through the hash suffix.
	other := strings.Repeat("abd-", 30)
	assert.NotEqual(t, got, Normalize(other))
}

func TestResourceName(t *testing.T) {
	assert.Equal(t, "student-a1", ResourceName("A1"))
	assert.Equal(t, "student-a-b-c", ResourceName("A_b C"))
}
