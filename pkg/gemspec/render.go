package gemspec

import (
	"strings"

	"gopkg.in/yaml.v3"
)

// Render re-serializes a Specification as a Psych-style Gem::Specification
// YAML document, the format §4.I calls for as the counterpart to Parse:
// re-emission must be byte-compatible (modulo insertion-ordered map
// serialization) with the canonical serializer, and parsing Render's
// output back must recover the same Specification.
func (spec *Specification) Render() ([]byte, error) {
	root := &yaml.Node{
		Kind: yaml.MappingNode,
		Tag:  "!ruby/object:Gem::Specification",
	}
	put := func(key string, val *yaml.Node) {
		root.Content = append(root.Content, scalarNode(key), val)
	}

	put("name", scalarNode(spec.Name))
	put("version", versionNode(spec.Version))
	platform := spec.Platform
	if platform == "" {
		platform = "ruby"
	}
	put("platform", scalarNode(platform))
	put("authors", sequenceNode(spec.Authors))
	put("summary", scalarNode(spec.Summary))
	put("licenses", sequenceNode(spec.Licenses))
	put("required_ruby_version", requirementNode(spec.RequiredRubyVersion))
	put("dependencies", dependenciesNode(spec.Dependencies))
	put("files", sequenceNode(spec.Files))
	put("extensions", sequenceNode(spec.Extensions))
	put("require_paths", sequenceNode(spec.RequirePaths))
	put("executables", sequenceNode(spec.Executables))
	put("bindir", scalarNode(spec.BindirPath))
	put("metadata", stringMapNode(spec.Metadata))

	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	return yaml.Marshal(doc)
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func sequenceNode(vals []string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode}
	for _, v := range vals {
		n.Content = append(n.Content, scalarNode(v))
	}
	return n
}

func stringMapNode(m map[string]string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for k, v := range m {
		n.Content = append(n.Content, scalarNode(k), scalarNode(v))
	}
	return n
}

// versionNode wraps a version string in the !ruby/object:Gem::Version
// mapping versionField expects to unwrap on re-parse.
func versionNode(v string) *yaml.Node {
	return &yaml.Node{
		Kind:    yaml.MappingNode,
		Tag:     "!ruby/object:Gem::Version",
		Content: []*yaml.Node{scalarNode("version"), scalarNode(v)},
	}
}

// requirementNode rebuilds the !ruby/object:Gem::Requirement mapping from
// a comma-joined "op version, op version" string produced by
// requirementField, the inverse operation.
func requirementNode(req string) *yaml.Node {
	reqs := &yaml.Node{Kind: yaml.SequenceNode}
	for _, part := range splitRequirement(req) {
		op, ver := splitConstraint(part)
		pair := &yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{scalarNode(op), versionNode(ver)}}
		reqs.Content = append(reqs.Content, pair)
	}
	if len(reqs.Content) == 0 {
		pair := &yaml.Node{Kind: yaml.SequenceNode, Content: []*yaml.Node{scalarNode(">="), versionNode("0")}}
		reqs.Content = append(reqs.Content, pair)
	}
	return &yaml.Node{
		Kind:    yaml.MappingNode,
		Tag:     "!ruby/object:Gem::Requirement",
		Content: []*yaml.Node{scalarNode("requirements"), reqs},
	}
}

func splitRequirement(req string) []string {
	if strings.TrimSpace(req) == "" {
		return nil
	}
	parts := strings.Split(req, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitConstraint(s string) (op, ver string) {
	for _, candidate := range []string{"~>", ">=", "<=", "!=", ">", "<", "="} {
		if strings.HasPrefix(s, candidate) {
			return candidate, strings.TrimSpace(strings.TrimPrefix(s, candidate))
		}
	}
	return "=", strings.TrimSpace(s)
}

func dependenciesNode(deps []Dependency) *yaml.Node {
	n := &yaml.Node{Kind: yaml.SequenceNode}
	for _, d := range deps {
		typ := d.Type
		if typ == "" {
			typ = "runtime"
		}
		entry := &yaml.Node{
			Kind: yaml.MappingNode,
			Tag:  "!ruby/object:Gem::Dependency",
			Content: []*yaml.Node{
				scalarNode("name"), scalarNode(d.Name),
				scalarNode("requirement"), requirementNode(d.Requirement),
				scalarNode("type"), scalarNode(":" + typ),
			},
		}
		n.Content = append(n.Content, entry)
	}
	return n
}
