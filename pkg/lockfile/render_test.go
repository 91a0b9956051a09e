package lockfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRoundTripsSampleLockfile(t *testing.T) {
	lock, err := Parse(strings.NewReader(sampleLockfile), Strict)
	require.NoError(t, err)

	rendered := lock.Render()

	reparsed, err := Parse(strings.NewReader(rendered), Strict)
	require.NoError(t, err, "rendered lockfile must itself parse:\n%s", rendered)

	assert.Equal(t, lock.GemRemotes, reparsed.GemRemotes)
	assert.Equal(t, lock.GemSpecs, reparsed.GemSpecs)
	assert.Equal(t, lock.Platforms, reparsed.Platforms)
	assert.Equal(t, lock.Deps, reparsed.Deps)
	assert.Equal(t, lock.BundledWith, reparsed.BundledWith)
	assert.Equal(t, lock.Ruby, reparsed.Ruby)
}

func TestRenderRoundTripsGitPathAndPluginSources(t *testing.T) {
	doc := `GIT
  remote: https://github.com/example/foo.git
  revision: abc123
  branch: main
  specs:
    foo (1.0.0)
      bar (>= 1.0)

PATH
  remote: vendor/local-gem
  specs:
    local-gem (0.1.0)

PLUGIN SOURCE
  type: rubygems
  remote: https://rubygems.org/
  specs:
    my-plugin (2.0.0)

GEM
  remote: https://rubygems.org/
  specs:
    bar (1.2.0)

PLATFORMS
  ruby

DEPENDENCIES
  foo!
  local-gem!
  my-plugin!
`
	lock, err := Parse(strings.NewReader(doc), Strict)
	require.NoError(t, err)

	rendered := lock.Render()
	reparsed, err := Parse(strings.NewReader(rendered), Strict)
	require.NoError(t, err, "rendered lockfile must itself parse:\n%s", rendered)

	assert.Equal(t, lock.GitSpecs, reparsed.GitSpecs)
	assert.Equal(t, lock.PathSpecs, reparsed.PathSpecs)
	assert.Equal(t, lock.PluginSpecs, reparsed.PluginSpecs)
	assert.Equal(t, lock.Deps, reparsed.Deps)
}

func TestRenderRoundTripsChecksums(t *testing.T) {
	doc := `GEM
  remote: https://rubygems.org/
  specs:
    rake (13.0.6)

PLATFORMS
  ruby

DEPENDENCIES
  rake

CHECKSUMS
  rake (13.0.6) sha256=deadbeef

RUBY VERSION
  ruby 3.3.0p0

BUNDLED WITH
  2.5.6
`
	lock, err := Parse(strings.NewReader(doc), Strict)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", lock.GemSpecs[0].Checksum)

	rendered := lock.Render()
	reparsed, err := Parse(strings.NewReader(rendered), Strict)
	require.NoError(t, err, "rendered lockfile must itself parse:\n%s", rendered)

	assert.Equal(t, lock.Checksums, reparsed.Checksums)
	assert.Equal(t, "deadbeef", reparsed.GemSpecs[0].Checksum)
}
