package lockfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLockfile = `GEM
  remote: https://rubygems.org/
  specs:
    concurrent-ruby (1.2.3)
    minitest (5.22.0)
    puma (6.4.0-x86_64-linux)
    rails (7.1.2)
      actionpack (= 7.1.2)
      railties (= 7.1.2)
    railties (7.1.2)
      rake (>= 12.2)

PLATFORMS
  ruby
  x86_64-linux

DEPENDENCIES
  minitest
  puma
  rails (~> 7.1)

RUBY VERSION
  ruby 3.3.0p0

BUNDLED WITH
  2.5.6
`

func TestParseGemSection(t *testing.T) {
	lock, err := Parse(strings.NewReader(sampleLockfile), Strict)
	require.NoError(t, err)
	require.Len(t, lock.GemSpecs, 5)
	assert.Equal(t, "concurrent-ruby", lock.GemSpecs[0].Name)
	assert.Equal(t, "1.2.3", lock.GemSpecs[0].Version)
}

func TestParseGemRemote(t *testing.T) {
	lock, err := Parse(strings.NewReader(sampleLockfile), Strict)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rubygems.org/"}, lock.GemRemotes)
}

func TestParseGemRemoteDeduplicatesRepeatedRemotes(t *testing.T) {
	doc := `GEM
  remote: https://rubygems.org/
  remote: https://rubygems.org/
  remote: https://gems.example.com/
  specs:
    rake (13.0.6)

PLATFORMS
  ruby

DEPENDENCIES
  rake
`
	lock, err := Parse(strings.NewReader(doc), Strict)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://rubygems.org/", "https://gems.example.com/"}, lock.GemRemotes)
}

func TestParsePlatformSuffixOnSpecLine(t *testing.T) {
	lock, err := Parse(strings.NewReader(sampleLockfile), Strict)
	require.NoError(t, err)
	puma := findGem(lock, "puma")
	require.NotNil(t, puma)
	assert.Equal(t, "6.4.0", puma.Version)
	assert.Equal(t, "x86_64-linux", puma.Platform)
}

func TestParseNestedDependencies(t *testing.T) {
	lock, err := Parse(strings.NewReader(sampleLockfile), Strict)
	require.NoError(t, err)
	rails := findGem(lock, "rails")
	require.NotNil(t, rails)
	require.Len(t, rails.Dependencies, 2)
	assert.Equal(t, "actionpack", rails.Dependencies[0].Name)
	assert.Equal(t, "= 7.1.2", rails.Dependencies[0].Requirement)
}

func TestParsePlatformsSection(t *testing.T) {
	lock, err := Parse(strings.NewReader(sampleLockfile), Strict)
	require.NoError(t, err)
	assert.Equal(t, []string{"ruby", "x86_64-linux"}, lock.Platforms)
}

func TestParseDependenciesSection(t *testing.T) {
	lock, err := Parse(strings.NewReader(sampleLockfile), Strict)
	require.NoError(t, err)
	require.Len(t, lock.Deps, 3)
	rails := lock.Deps[2]
	assert.Equal(t, "rails", rails.Name)
	assert.Equal(t, "~> 7.1", rails.Requirement)
}

func TestParseRubyVersionAndBundledWith(t *testing.T) {
	lock, err := Parse(strings.NewReader(sampleLockfile), Strict)
	require.NoError(t, err)
	assert.Equal(t, "3.3.0p0", lock.Ruby)
	assert.Equal(t, "2.5.6", lock.BundledWith)
}

func TestParseGitSource(t *testing.T) {
	doc := `GIT
  remote: https://github.com/rails/rails.git
  revision: abc123
  branch: main
  specs:
    rails (7.2.0.alpha)
      activesupport (= 7.2.0.alpha)

PLATFORMS
  ruby

DEPENDENCIES
  rails!

BUNDLED WITH
  2.5.6
`
	lock, err := Parse(strings.NewReader(doc), Strict)
	require.NoError(t, err)
	require.Len(t, lock.GitSpecs, 1)
	git := lock.GitSpecs[0]
	assert.Equal(t, "https://github.com/rails/rails.git", git.Remote)
	assert.Equal(t, "abc123", git.Revision)
	assert.Equal(t, "main", git.Branch)
	assert.Equal(t, "rails", git.Name)
	require.Len(t, git.Dependencies, 1)

	require.Len(t, lock.Deps, 1)
	assert.True(t, lock.Deps[0].PinnedToEntry)
}

func TestParseUnknownSectionStrictRejects(t *testing.T) {
	doc := "FROBNICATE\n  something\n"
	_, err := Parse(strings.NewReader(doc), Strict)
	assert.Error(t, err)
}

func TestParseUnknownSectionLenientSkips(t *testing.T) {
	doc := "FROBNICATE\n  something\n\nPLATFORMS\n  ruby\n"
	lock, err := Parse(strings.NewReader(doc), Lenient)
	require.NoError(t, err)
	assert.Equal(t, []string{"ruby"}, lock.Platforms)
}

func TestParseChecksumsSection(t *testing.T) {
	doc := `GEM
  remote: https://rubygems.org/
  specs:
    rake (13.0.6)

PLATFORMS
  ruby

DEPENDENCIES
  rake

CHECKSUMS
  rake (13.0.6) sha256=3f0811bf831c7456bb0dd8d8c1d66cf3c1149cabe5d2bb6fd4210cbcdebbb06f
`
	lock, err := Parse(strings.NewReader(doc), Strict)
	require.NoError(t, err)
	require.Len(t, lock.Checksums, 1)
	assert.Equal(t, "rake", lock.Checksums[0].Name)
	assert.Equal(t, "13.0.6", lock.Checksums[0].Version)
	assert.Equal(t, "3f0811bf831c7456bb0dd8d8c1d66cf3c1149cabe5d2bb6fd4210cbcdebbb06f", lock.Checksums[0].SHA256)

	rake := findGem(lock, "rake")
	require.NotNil(t, rake)
	assert.Equal(t, "3f0811bf831c7456bb0dd8d8c1d66cf3c1149cabe5d2bb6fd4210cbcdebbb06f", rake.Checksum)
}

func TestParseChecksumsSectionWithPlatform(t *testing.T) {
	doc := `GEM
  remote: https://rubygems.org/
  specs:
    puma (6.4.0-x86_64-linux)

PLATFORMS
  x86_64-linux

DEPENDENCIES
  puma

CHECKSUMS
  puma (6.4.0-x86_64-linux) sha256=aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa
`
	lock, err := Parse(strings.NewReader(doc), Strict)
	require.NoError(t, err)
	puma := findGem(lock, "puma")
	require.NotNil(t, puma)
	assert.Equal(t, "x86_64-linux", lock.Checksums[0].Platform)
	assert.Equal(t, "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", puma.Checksum)
}

func TestParseChecksumsMalformedLineStrictErrors(t *testing.T) {
	doc := "GEM\n  remote: https://rubygems.org/\n  specs:\n    rake (13.0.6)\n\nCHECKSUMS\n  not a checksum line\n"
	_, err := Parse(strings.NewReader(doc), Strict)
	assert.Error(t, err)
}

func TestParseChecksumsMalformedLineLenientSkips(t *testing.T) {
	doc := "GEM\n  remote: https://rubygems.org/\n  specs:\n    rake (13.0.6)\n\nCHECKSUMS\n  not a checksum line\n"
	lock, err := Parse(strings.NewReader(doc), Lenient)
	require.NoError(t, err)
	assert.Empty(t, lock.Checksums)
}

func TestParsePluginSource(t *testing.T) {
	doc := `PLUGIN SOURCE
  remote: https://github.com/example/bundler-plugin.git
  revision: deadbeef
  type: git
  specs:
    bundler-plugin-example (0.1.0)

PLATFORMS
  ruby

DEPENDENCIES
  bundler-plugin-example!
`
	lock, err := Parse(strings.NewReader(doc), Strict)
	require.NoError(t, err)
	require.Len(t, lock.PluginSpecs, 1)
	plugin := lock.PluginSpecs[0]
	assert.Equal(t, "bundler-plugin-example", plugin.Name)
	assert.Equal(t, "0.1.0", plugin.Version)
	assert.Equal(t, "https://github.com/example/bundler-plugin.git", plugin.Options["remote"])
	assert.Equal(t, "deadbeef", plugin.Options["revision"])
	assert.Equal(t, "git", plugin.Options["type"])

	require.Len(t, lock.Deps, 1)
	assert.True(t, lock.Deps[0].PinnedToEntry)
}

func TestParseGitSourceMissingRevisionStrictErrors(t *testing.T) {
	doc := `GIT
  remote: https://github.com/rails/rails.git
  specs:
    rails (7.2.0.alpha)

PLATFORMS
  ruby

DEPENDENCIES
  rails!
`
	_, err := Parse(strings.NewReader(doc), Strict)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "revision")
}

func TestParseGitSourceMissingRevisionLenientAccepts(t *testing.T) {
	doc := `GIT
  remote: https://github.com/rails/rails.git
  specs:
    rails (7.2.0.alpha)

PLATFORMS
  ruby

DEPENDENCIES
  rails!
`
	lock, err := Parse(strings.NewReader(doc), Lenient)
	require.NoError(t, err)
	require.Len(t, lock.GitSpecs, 1)
	assert.Empty(t, lock.GitSpecs[0].Revision)
}

func TestParseBadIndentationStrictErrors(t *testing.T) {
	doc := "PLATFORMS\n   ruby\n"
	_, err := Parse(strings.NewReader(doc), Strict)
	assert.Error(t, err)
}

func TestParseBadIndentationLenientAlsoErrors(t *testing.T) {
	// Indentation outside {0,2,4,6} is a structural error regardless of
	// mode; only Strict-only checks (unknown keys, missing GIT revision,
	// unresolved DEPENDENCIES) are mode-gated.
	doc := "PLATFORMS\n   ruby\n"
	_, err := Parse(strings.NewReader(doc), Lenient)
	assert.Error(t, err)
}

func TestParseRubyVersionBadIndentationStrictErrors(t *testing.T) {
	doc := "RUBY VERSION\n    ruby 3.3.0p0\n"
	_, err := Parse(strings.NewReader(doc), Strict)
	assert.Error(t, err)
}

func TestParseDependenciesUnresolvedStrictErrors(t *testing.T) {
	doc := `GEM
  remote: https://rubygems.org/
  specs:
    rake (13.0.6)

PLATFORMS
  ruby

DEPENDENCIES
  rake
  nonexistent-gem
`
	_, err := Parse(strings.NewReader(doc), Strict)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent-gem")
	assert.Contains(t, err.Error(), "no matching entry")
}

func TestParseDependenciesUnresolvedLenientAccepts(t *testing.T) {
	doc := `GEM
  remote: https://rubygems.org/
  specs:
    rake (13.0.6)

PLATFORMS
  ruby

DEPENDENCIES
  rake
  nonexistent-gem
`
	lock, err := Parse(strings.NewReader(doc), Lenient)
	require.NoError(t, err)
	require.Len(t, lock.Deps, 2)
	assert.Equal(t, "nonexistent-gem", lock.Deps[1].Name)
}

func TestParseDependenciesPinnedToGitSpecSatisfiesStrict(t *testing.T) {
	doc := `GIT
  remote: https://github.com/rails/rails.git
  revision: abc123
  specs:
    rails (7.2.0.alpha)

PLATFORMS
  ruby

DEPENDENCIES
  rails!
`
	_, err := Parse(strings.NewReader(doc), Strict)
	require.NoError(t, err)
}

func TestParseMergeConflictMarkerErrors(t *testing.T) {
	doc := "GEM\n  remote: https://rubygems.org/\n  specs:\n<<<<<<< HEAD\n    rake (13.0.6)\n=======\n    rake (13.0.5)\n>>>>>>> branch\n"
	_, err := Parse(strings.NewReader(doc), Strict)
	assert.Error(t, err)
}

func findGem(lock *Lockfile, name string) *GemSpec {
	for i := range lock.GemSpecs {
		if lock.GemSpecs[i].Name == name {
			return &lock.GemSpecs[i]
		}
	}
	return nil
}
