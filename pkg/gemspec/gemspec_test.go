package gemspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validGemspec = `--- !ruby/object:Gem::Specification
name: example
version: !ruby/object:Gem::Version
  version: 1.2.3
platform: ruby
summary: An example gem
authors:
- Jane Doe
licenses:
- MIT
required_ruby_version: !ruby/object:Gem::Requirement
  requirements:
  - - ">="
    - !ruby/object:Gem::Version
      version: 3.0.0
files:
- lib/example.rb
require_paths:
- lib
extensions:
- ext/example/extconf.rb
dependencies:
- !ruby/object:Gem::Dependency
  name: rake
  requirement: !ruby/object:Gem::Requirement
    requirements:
    - - "~>"
      - !ruby/object:Gem::Version
        version: "13.0"
  type: ":development"
metadata:
  source_code_uri: https://example.com/example
`

func TestParseValidGemspec(t *testing.T) {
	spec, err := Parse([]byte(validGemspec))
	require.NoError(t, err)
	assert.Equal(t, "example", spec.Name)
	assert.Equal(t, "1.2.3", spec.Version)
	assert.Equal(t, "ruby", spec.Platform)
	assert.Equal(t, []string{"Jane Doe"}, spec.Authors)
	assert.Equal(t, []string{"MIT"}, spec.Licenses)
	assert.Equal(t, ">= 3.0.0", spec.RequiredRubyVersion)
	assert.Equal(t, []string{"ext/example/extconf.rb"}, spec.Extensions)
	assert.Equal(t, "https://example.com/example", spec.Metadata["source_code_uri"])
}

func TestParseDependencies(t *testing.T) {
	spec, err := Parse([]byte(validGemspec))
	require.NoError(t, err)
	require.Len(t, spec.Dependencies, 1)
	dep := spec.Dependencies[0]
	assert.Equal(t, "rake", dep.Name)
	assert.Equal(t, "~> 13.0", dep.Requirement)
	assert.Equal(t, "development", dep.Type)
}

func TestParseDependencyFallsBackToLegacyVersionRequirements(t *testing.T) {
	doc := `--- !ruby/object:Gem::Specification
name: example
version: !ruby/object:Gem::Version
  version: 1.0.0
platform: ruby
dependencies:
- !ruby/object:Gem::Dependency
  name: rake
  version_requirements: !ruby/object:Gem::Requirement
    requirements:
    - - ">="
      - !ruby/object:Gem::Version
        version: 10.0.0
  type: ":runtime"
`
	spec, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, spec.Dependencies, 1)
	assert.Equal(t, ">= 10.0.0", spec.Dependencies[0].Requirement,
		"a pre-1.2-RubyGems gemspec only ever wrote version_requirements")
}

func TestParseMissingNameFails(t *testing.T) {
	doc := `--- !ruby/object:Gem::Specification
platform: ruby
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseWrongTopLevelTagFails(t *testing.T) {
	doc := `--- !ruby/object:SomeOtherClass
name: example
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseRejectsAnchorsAndAliases(t *testing.T) {
	doc := `--- !ruby/object:Gem::Specification
name: &n example
version: !ruby/object:Gem::Version
  version: *n
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseRejectsFoldedScalars(t *testing.T) {
	doc := `--- !ruby/object:Gem::Specification
name: example
summary: >
  a folded
  block scalar
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseRejectsUnsupportedDependencyClass(t *testing.T) {
	doc := `--- !ruby/object:Gem::Specification
name: example
dependencies:
- !ruby/object:SomeHostileClass
  name: evil
`
	_, err := Parse([]byte(doc))
	assert.Error(t, err)
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("not: valid: yaml: at: all: ["))
	assert.Error(t, err)
}

func TestParseEmptyDocumentFails(t *testing.T) {
	_, err := Parse([]byte(""))
	assert.Error(t, err)
}

func TestParseDefaultsPlatformToRuby(t *testing.T) {
	doc := `--- !ruby/object:Gem::Specification
name: example
`
	spec, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "ruby", spec.Platform)
	assert.Equal(t, []string{"lib"}, spec.RequirePaths)
	assert.Equal(t, "bin", spec.BindirPath)
}
