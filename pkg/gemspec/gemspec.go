// Package gemspec parses RubyGems' Psych-dumped Gem::Specification YAML
// documents (§4.I). RubyGems tags every mapping with its Ruby class
// (!ruby/object:Gem::Specification, !ruby/object:Gem::Version, ...), so
// this package walks gopkg.in/yaml.v3's low-level yaml.Node tree rather
// than using its convenience Unmarshal: only a Node-level walk can
// strictly discriminate those tags and flag the handful of YAML
// features (anchors, folded scalars, legacy non-Gem classes) a hostile
// or merely old gemspec might contain.
package gemspec

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spinel-coop/rv/pkg/rverrors"
)

// Dependency is one runtime or development dependency entry.
type Dependency struct {
	Name        string
	Requirement string
	Type        string // "runtime" or "development"
}

// Specification is the subset of Gem::Specification fields rv needs to
// install a gem and resolve its dependency graph.
type Specification struct {
	Name                string
	Version             string
	Platform            string
	Dependencies        []Dependency
	RequiredRubyVersion string
	Authors             []string
	Summary             string
	Licenses            []string
	Extensions          []string
	Files               []string
	RequirePaths        []string
	Executables         []string
	BindirPath          string
	Metadata            map[string]string
}

// Parse reads a gemspec YAML document (the decompressed body of a
// metadata.gz entry) and extracts a Specification.
func Parse(data []byte) (*Specification, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, rverrors.InvalidGemMetadata(0, "YAMLSyntaxError", err.Error())
	}
	if len(doc.Content) == 0 {
		return nil, rverrors.InvalidGemMetadata(0, "EmptyDocument", "gemspec YAML document is empty")
	}
	root := doc.Content[0]
	if err := rejectUnsupportedFeatures(root); err != nil {
		return nil, err
	}
	if root.Tag != "!ruby/object:Gem::Specification" {
		return nil, rverrors.InvalidGemMetadata(root.Line, "UnsupportedLegacyClass",
			fmt.Sprintf("expected !ruby/object:Gem::Specification, got %q", root.Tag))
	}

	spec := &Specification{RequirePaths: []string{"lib"}, BindirPath: "bin"}
	fields := mapFields(root)

	spec.Name = scalarField(fields, "name")
	spec.Version = versionField(fields["version"])
	spec.Platform = scalarField(fields, "platform")
	if spec.Platform == "" {
		spec.Platform = "ruby"
	}
	spec.Summary = scalarField(fields, "summary")
	spec.RequiredRubyVersion = requirementField(fields["required_ruby_version"])
	spec.Authors = sequenceField(fields["authors"])
	spec.Licenses = sequenceField(fields["licenses"])
	spec.Files = sequenceField(fields["files"])
	spec.Extensions = sequenceField(fields["extensions"])
	spec.Executables = sequenceField(fields["executables"])
	if rp := sequenceField(fields["require_paths"]); len(rp) > 0 {
		spec.RequirePaths = rp
	}
	if bd := scalarField(fields, "bindir"); bd != "" {
		spec.BindirPath = bd
	}
	spec.Metadata = stringMapField(fields["metadata"])

	deps, err := dependenciesField(fields["dependencies"])
	if err != nil {
		return nil, err
	}
	spec.Dependencies = deps

	if spec.Name == "" {
		return nil, rverrors.InvalidGemMetadata(root.Line, "MissingField", "gemspec is missing required field \"name\"")
	}
	return spec, nil
}

// rejectUnsupportedFeatures walks the tree looking for constructs §4.I
// explicitly refuses to trust: YAML anchors/aliases (which could be
// used to build a decompression-bomb-style expansion) and folded block
// scalars (">", used nowhere in a legitimate Gem::Specification dump).
func rejectUnsupportedFeatures(n *yaml.Node) error {
	if n.Anchor != "" || n.Kind == yaml.AliasNode {
		return rverrors.InvalidGemMetadata(n.Line, "UnsupportedAnchor", "gemspec YAML must not use anchors or aliases")
	}
	if n.Kind == yaml.ScalarNode && n.Style == yaml.FoldedStyle {
		return rverrors.InvalidGemMetadata(n.Line, "UnsupportedFoldedScalar", "gemspec YAML must not use folded block scalars")
	}
	for _, c := range n.Content {
		if err := rejectUnsupportedFeatures(c); err != nil {
			return err
		}
	}
	return nil
}

// mapFields indexes a !ruby/object:... mapping node's key/value pairs by
// key name. RubyGems dumps Gem::Specification as a YAML mapping whose
// keys are plain scalars.
func mapFields(n *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node)
	if n.Kind != yaml.MappingNode {
		return out
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = n.Content[i+1]
	}
	return out
}

func scalarField(fields map[string]*yaml.Node, key string) string {
	n, ok := fields[key]
	if !ok || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

func sequenceField(n *yaml.Node) []string {
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]string, 0, len(n.Content))
	for _, c := range n.Content {
		if c.Kind == yaml.ScalarNode {
			out = append(out, c.Value)
		}
	}
	return out
}

func stringMapField(n *yaml.Node) map[string]string {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	out := make(map[string]string)
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		if k.Kind == yaml.ScalarNode && v.Kind == yaml.ScalarNode {
			out[k.Value] = v.Value
		}
	}
	return out
}

// versionField unwraps a !ruby/object:Gem::Version node, whose value is
// nested one level deeper under its own "version" key.
func versionField(n *yaml.Node) string {
	if n == nil {
		return ""
	}
	inner := mapFields(n)
	return scalarField(inner, "version")
}

// requirementField unwraps a !ruby/object:Gem::Requirement node into a
// comma-joined constraint string ("runtime dependency requirement" in
// RubyGems' own terms).
func requirementField(n *yaml.Node) string {
	if n == nil {
		return ""
	}
	inner := mapFields(n)
	reqsNode, ok := inner["requirements"]
	if !ok || reqsNode.Kind != yaml.SequenceNode {
		return ""
	}
	var parts []string
	for _, c := range reqsNode.Content {
		if c.Kind != yaml.SequenceNode || len(c.Content) != 2 {
			continue
		}
		op := c.Content[0].Value
		ver := versionField(c.Content[1])
		parts = append(parts, strings.TrimSpace(op+" "+ver))
	}
	return strings.Join(parts, ", ")
}

// dependenciesField unwraps the "dependencies" sequence, each entry a
// !ruby/object:Gem::Dependency node.
func dependenciesField(n *yaml.Node) ([]Dependency, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.SequenceNode {
		return nil, rverrors.InvalidGemMetadata(n.Line, "MalformedDependencies", "expected a sequence of dependencies")
	}
	var out []Dependency
	for _, c := range n.Content {
		if c.Tag != "" && c.Tag != "!ruby/object:Gem::Dependency" {
			return nil, rverrors.InvalidGemMetadata(c.Line, "UnsupportedLegacyClass",
				fmt.Sprintf("expected a Gem::Dependency entry, got %q", c.Tag))
		}
		fields := mapFields(c)
		// §4.I: "both legacy key version_requirements and current
		// requirement accepted on dependencies" — older gems (pre-1.2
		// RubyGems) only ever wrote version_requirements.
		reqNode, ok := fields["requirement"]
		if !ok {
			reqNode = fields["version_requirements"]
		}
		dep := Dependency{
			Name:        scalarField(fields, "name"),
			Requirement: requirementField(reqNode),
			Type:        strings.TrimPrefix(scalarField(fields, "type"), ":"),
		}
		if dep.Type == "" {
			dep.Type = "runtime"
		}
		out = append(out, dep)
	}
	return out, nil
}
