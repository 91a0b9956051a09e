package rversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustV(t *testing.T, s string) Version {
	t.Helper()
	v, err := Parse(s)
	require.NoError(t, err)
	return v
}

func TestParseRequirementEmptyIsAlwaysTrue(t *testing.T) {
	r, err := ParseRequirement("")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(mustV(t, "0.0.1")))
	assert.True(t, r.Satisfies(mustV(t, "99.0.0")))
}

func TestParseRequirementBareVersionIsExact(t *testing.T) {
	r, err := ParseRequirement("1.2.3")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(mustV(t, "1.2.3")))
	assert.False(t, r.Satisfies(mustV(t, "1.2.4")))
}

func TestParseRequirementConjunction(t *testing.T) {
	r, err := ParseRequirement(">= 2.0, < 3.0")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(mustV(t, "2.5.1")))
	assert.False(t, r.Satisfies(mustV(t, "3.0.0")))
	assert.False(t, r.Satisfies(mustV(t, "1.9.9")))
}

func TestPessimisticOperatorTwoSegments(t *testing.T) {
	r, err := ParseRequirement("~> 2.3")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(mustV(t, "2.3.0")))
	assert.True(t, r.Satisfies(mustV(t, "2.9.9")))
	assert.False(t, r.Satisfies(mustV(t, "3.0.0")))
	assert.False(t, r.Satisfies(mustV(t, "2.2.9")))
}

func TestPessimisticOperatorThreeSegments(t *testing.T) {
	r, err := ParseRequirement("~> 2.3.1")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(mustV(t, "2.3.5")))
	assert.False(t, r.Satisfies(mustV(t, "2.4.0")))
	assert.False(t, r.Satisfies(mustV(t, "2.3.0")))
}

func TestPrereleaseExcludedUnlessRequested(t *testing.T) {
	r, err := ParseRequirement(">= 1.0")
	require.NoError(t, err)
	assert.False(t, r.Satisfies(mustV(t, "1.5.0.rc1")), "a non-prerelease requirement should not match a prerelease version")

	rPre, err := ParseRequirement(">= 1.0.0.rc1")
	require.NoError(t, err)
	assert.True(t, rPre.Satisfies(mustV(t, "1.5.0.rc2")))
}

func TestNotEqualOperator(t *testing.T) {
	r, err := ParseRequirement("!= 1.5.0")
	require.NoError(t, err)
	assert.True(t, r.Satisfies(mustV(t, "1.4.0")))
	assert.False(t, r.Satisfies(mustV(t, "1.5.0")))
}

func TestRequirementStringRendersConstraints(t *testing.T) {
	r, err := ParseRequirement(">= 2.0,< 3.0")
	require.NoError(t, err)
	assert.Equal(t, ">= 2.0, < 3.0", r.String())
}
