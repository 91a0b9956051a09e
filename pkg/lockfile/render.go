package lockfile

import (
	"fmt"
	"sort"
	"strings"
)

// Render serializes the lockfile back to Bundler's Gemfile.lock text
// format: GIT sources, PATH sources, PLUGIN SOURCE blocks, the GEM
// source, PLATFORMS, DEPENDENCIES, CHECKSUMS, RUBY VERSION, BUNDLED
// WITH, in that order, each section separated by a blank line. This is
// §8 invariant 2's render half: for every parseable lockfile L,
// parse(render(parse(L))) == parse(L) — a semantic round-trip on
// sources, specs, deps, platforms, checksums, and ruby_version, not a
// byte-for-byte reproduction of whatever indentation or section order
// the original file happened to use.
func (lock *Lockfile) Render() string {
	var b strings.Builder

	renderGitBlocks(&b, lock.GitSpecs)
	renderPathBlocks(&b, lock.PathSpecs)
	renderPluginBlocks(&b, lock.PluginSpecs)
	renderGemBlock(&b, lock)

	if len(lock.Platforms) > 0 {
		b.WriteString("PLATFORMS\n")
		for _, p := range lock.Platforms {
			fmt.Fprintf(&b, "  %s\n", p)
		}
		b.WriteString("\n")
	}

	if len(lock.Deps) > 0 {
		b.WriteString("DEPENDENCIES\n")
		for _, d := range lock.Deps {
			b.WriteString("  " + renderDependencyLine(d) + "\n")
		}
		b.WriteString("\n")
	}

	if len(lock.Checksums) > 0 {
		b.WriteString("CHECKSUMS\n")
		for _, c := range lock.Checksums {
			fmt.Fprintf(&b, "  %s sha256=%s\n", specLabel(c.Name, c.Version, c.Platform), c.SHA256)
		}
		b.WriteString("\n")
	}

	if lock.Ruby != "" {
		fmt.Fprintf(&b, "RUBY VERSION\n  ruby %s\n\n", lock.Ruby)
	}

	if lock.BundledWith != "" {
		fmt.Fprintf(&b, "BUNDLED WITH\n  %s\n", lock.BundledWith)
	}

	return b.String()
}

func renderGemBlock(b *strings.Builder, lock *Lockfile) {
	if len(lock.GemSpecs) == 0 && len(lock.GemRemotes) == 0 {
		return
	}
	b.WriteString("GEM\n")
	for _, r := range lock.GemRemotes {
		fmt.Fprintf(b, "  remote: %s\n", r)
	}
	b.WriteString("  specs:\n")
	for _, spec := range lock.GemSpecs {
		fmt.Fprintf(b, "    %s\n", specLabel(spec.Name, spec.Version, spec.Platform))
		for _, dep := range spec.Dependencies {
			fmt.Fprintf(b, "      %s\n", renderDependencyLine(dep))
		}
	}
	b.WriteString("\n")
}

// renderGitBlocks groups consecutive GitSpecs sharing the same source
// metadata (remote/revision/branch/ref/tag/glob/submodules) into a
// single GIT block, mirroring how the parser denormalizes one block's
// fields onto every spec it contains — merging them back is lossless
// since a fresh parse of either form yields the identical flat slice.
func renderGitBlocks(b *strings.Builder, specs []GitSpec) {
	for i := 0; i < len(specs); {
		j := i + 1
		for j < len(specs) && sameGitSource(specs[i], specs[j]) {
			j++
		}
		block := specs[i:j]
		head := block[0]
		b.WriteString("GIT\n")
		fmt.Fprintf(b, "  remote: %s\n", head.Remote)
		if head.Revision != "" {
			fmt.Fprintf(b, "  revision: %s\n", head.Revision)
		}
		if head.Branch != "" {
			fmt.Fprintf(b, "  branch: %s\n", head.Branch)
		}
		if head.Ref != "" {
			fmt.Fprintf(b, "  ref: %s\n", head.Ref)
		}
		if head.Tag != "" {
			fmt.Fprintf(b, "  tag: %s\n", head.Tag)
		}
		if head.Glob != "" {
			fmt.Fprintf(b, "  glob: %s\n", head.Glob)
		}
		if head.Submodules {
			b.WriteString("  submodules: true\n")
		}
		b.WriteString("  specs:\n")
		for _, spec := range block {
			fmt.Fprintf(b, "    %s\n", specLabel(spec.Name, spec.Version, ""))
			for _, dep := range spec.Dependencies {
				fmt.Fprintf(b, "      %s\n", renderDependencyLine(dep))
			}
		}
		b.WriteString("\n")
		i = j
	}
}

func sameGitSource(a, b GitSpec) bool {
	return a.Remote == b.Remote && a.Revision == b.Revision && a.Branch == b.Branch &&
		a.Ref == b.Ref && a.Tag == b.Tag && a.Glob == b.Glob && a.Submodules == b.Submodules
}

func renderPathBlocks(b *strings.Builder, specs []PathSpec) {
	for i := 0; i < len(specs); {
		j := i + 1
		for j < len(specs) && specs[i].Remote == specs[j].Remote && specs[i].Glob == specs[j].Glob {
			j++
		}
		block := specs[i:j]
		head := block[0]
		b.WriteString("PATH\n")
		fmt.Fprintf(b, "  remote: %s\n", head.Remote)
		if head.Glob != "" {
			fmt.Fprintf(b, "  glob: %s\n", head.Glob)
		}
		b.WriteString("  specs:\n")
		for _, spec := range block {
			fmt.Fprintf(b, "    %s\n", specLabel(spec.Name, spec.Version, ""))
			for _, dep := range spec.Dependencies {
				fmt.Fprintf(b, "      %s\n", renderDependencyLine(dep))
			}
		}
		b.WriteString("\n")
		i = j
	}
}

func renderPluginBlocks(b *strings.Builder, specs []PluginSpec) {
	for i := 0; i < len(specs); {
		j := i + 1
		for j < len(specs) && sameOptions(specs[i].Options, specs[j].Options) {
			j++
		}
		block := specs[i:j]
		b.WriteString("PLUGIN SOURCE\n")
		keys := make([]string, 0, len(block[0].Options))
		for k := range block[0].Options {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "  %s: %s\n", k, block[0].Options[k])
		}
		b.WriteString("  specs:\n")
		for _, spec := range block {
			fmt.Fprintf(b, "    %s\n", specLabel(spec.Name, spec.Version, ""))
			for _, dep := range spec.Dependencies {
				fmt.Fprintf(b, "      %s\n", renderDependencyLine(dep))
			}
		}
		b.WriteString("\n")
		i = j
	}
}

func sameOptions(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func specLabel(name, version, platform string) string {
	if platform != "" {
		return fmt.Sprintf("%s (%s-%s)", name, version, platform)
	}
	return fmt.Sprintf("%s (%s)", name, version)
}

func renderDependencyLine(d Dependency) string {
	s := d.Name
	if d.Requirement != "" {
		s += " (" + d.Requirement + ")"
	}
	if d.PinnedToEntry {
		s += "!"
	}
	return s
}
