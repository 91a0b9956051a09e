package rversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundTrip(t *testing.T) {
	cases := []string{"1.2.3", "2.0.0.beta1", "1.0", "0", "10.20.30.rc1"}
	for _, in := range cases {
		v, err := Parse(in)
		require.NoError(t, err)
		assert.Equal(t, in, v.String())
	}
}

func TestParseRejectsEmptySegment(t *testing.T) {
	_, err := Parse("1..2")
	assert.Error(t, err)
}

func TestCompareNumericOrdering(t *testing.T) {
	a, _ := Parse("1.9")
	b, _ := Parse("1.10")
	assert.True(t, a.LessThan(b), "1.9 should be less than 1.10 under numeric segment comparison")
}

func TestCompareTrailingZerosCanonical(t *testing.T) {
	a, _ := Parse("1.0")
	b, _ := Parse("1.0.0")
	assert.True(t, a.Equal(b))
}

func TestComparePrereleaseLessThanFinal(t *testing.T) {
	pre, _ := Parse("1.0.0.beta1")
	final, _ := Parse("1.0.0")
	assert.True(t, pre.LessThan(final))
	assert.True(t, pre.IsPrerelease())
	assert.False(t, final.IsPrerelease())
}

func TestCompareStringSegmentsLexicographic(t *testing.T) {
	a, _ := Parse("1.0.alpha")
	b, _ := Parse("1.0.beta")
	assert.True(t, a.LessThan(b))
}

func TestBumpDropsTrailingStringThenIncrementsLast(t *testing.T) {
	v, _ := Parse("2.3.0.beta1")
	bumped := v.Bump()
	assert.Equal(t, "2.4", bumped.String())
}

func TestBumpSingleSegment(t *testing.T) {
	v, _ := Parse("5")
	bumped := v.Bump()
	assert.Equal(t, "6", bumped.String())
}

func TestBumpTwoSegments(t *testing.T) {
	v, _ := Parse("2.3")
	bumped := v.Bump()
	assert.Equal(t, "3", bumped.String())
}
