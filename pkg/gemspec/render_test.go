package gemspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRoundTripsValidGemspec(t *testing.T) {
	spec, err := Parse([]byte(validGemspec))
	require.NoError(t, err)

	rendered, err := spec.Render()
	require.NoError(t, err)

	reparsed, err := Parse(rendered)
	require.NoError(t, err, "rendered gemspec must itself parse:\n%s", rendered)

	assert.Equal(t, spec.Name, reparsed.Name)
	assert.Equal(t, spec.Version, reparsed.Version)
	assert.Equal(t, spec.Platform, reparsed.Platform)
	assert.Equal(t, spec.Summary, reparsed.Summary)
	assert.Equal(t, spec.Authors, reparsed.Authors)
	assert.Equal(t, spec.Licenses, reparsed.Licenses)
	assert.Equal(t, spec.RequiredRubyVersion, reparsed.RequiredRubyVersion)
	assert.Equal(t, spec.Files, reparsed.Files)
	assert.Equal(t, spec.RequirePaths, reparsed.RequirePaths)
	assert.Equal(t, spec.Extensions, reparsed.Extensions)
	assert.Equal(t, spec.Dependencies, reparsed.Dependencies)
}

func TestRenderProducesParseableRubyObjectTags(t *testing.T) {
	spec := &Specification{
		Name:         "widget",
		Version:      "2.0.0",
		Platform:     "ruby",
		RequirePaths: []string{"lib"},
		BindirPath:   "bin",
		Dependencies: []Dependency{{Name: "rake", Requirement: ">= 1.0", Type: "runtime"}},
	}
	rendered, err := spec.Render()
	require.NoError(t, err)

	reparsed, err := Parse(rendered)
	require.NoError(t, err, "rendered gemspec must itself parse:\n%s", rendered)
	assert.Equal(t, "widget", reparsed.Name)
	assert.Equal(t, "2.0.0", reparsed.Version)
	assert.Equal(t, []Dependency{{Name: "rake", Requirement: ">= 1.0", Type: "runtime"}}, reparsed.Dependencies)
}
