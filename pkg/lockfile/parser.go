package lockfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// ParseFile reads and parses a Gemfile.lock from path.
func ParseFile(path string, mode Mode) (*Lockfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, mode)
}

type section int

const (
	sectionNone section = iota
	sectionGem
	sectionGit
	sectionPath
	sectionPluginSource
	sectionPlatforms
	sectionDependencies
	sectionChecksums
	sectionRubyVersion
	sectionBundledWith
)

// specLineRe matches "name (version)" or "name (version-platform)".
var specLineRe = regexp.MustCompile(`^(\S+)\s*\(([^)]+)\)$`)

// checksumLineRe matches a CHECKSUMS entry: "name (version[-platform]) sha256=hex".
var checksumLineRe = regexp.MustCompile(`^(\S+)\s*\(([^)]+)\)\s+sha256=([0-9a-fA-F]+)$`)

// Parse reads a Gemfile.lock document from r.
func Parse(r io.Reader, mode Mode) (*Lockfile, error) {
	lock := &Lockfile{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		lineNo         int
		cur            section
		inSpecsBlock   bool // GEM/GIT/PATH/PLUGIN SOURCE: past the "specs:" marker
		gitBlockRef    *GitSpec
		pathBlockRef   *PathSpec
		pluginBlockRef *PluginSpec
	)

	var lastGem *GemSpec
	var lastDepOwner *[]Dependency

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if strings.TrimSpace(raw) == "" {
			continue
		}
		indent := leadingSpaces(raw)
		trimmed := strings.TrimRight(raw, " \t")
		content := strings.TrimSpace(trimmed)

		if isMergeConflictMarker(content) {
			return nil, errAt(lineNo, indent+1, "MergeConflict", fmt.Sprintf("merge conflict marker in lockfile: %q", content))
		}

		if indent != 0 && indent != 2 && indent != 4 && indent != 6 {
			return nil, errAt(lineNo, indent+1, "InvalidIndentation", fmt.Sprintf("line has %d spaces of indentation, expected 2, 4, or 6", indent))
		}

		if indent == 0 {
			switch content {
			case "GEM":
				cur, inSpecsBlock = sectionGem, false
			case "GIT":
				cur, inSpecsBlock = sectionGit, false
				gitBlockRef = &GitSpec{}
			case "PATH":
				cur, inSpecsBlock = sectionPath, false
				pathBlockRef = &PathSpec{}
			case "PLUGIN SOURCE":
				cur, inSpecsBlock = sectionPluginSource, false
				pluginBlockRef = &PluginSpec{Options: map[string]string{}}
			case "PLATFORMS":
				cur = sectionPlatforms
			case "DEPENDENCIES":
				cur = sectionDependencies
			case "CHECKSUMS":
				cur = sectionChecksums
			case "RUBY VERSION":
				cur = sectionRubyVersion
			case "BUNDLED WITH":
				cur = sectionBundledWith
			default:
				if mode == Strict {
					return nil, errAt(lineNo, 1, "UnknownSection", fmt.Sprintf("unrecognized top-level section %q", content))
				}
				cur = sectionNone
			}
			continue
		}

		switch cur {
		case sectionGem:
			switch {
			case indent == 2 && strings.HasPrefix(content, "remote:"):
				remote := fieldValue(content, "remote:")
				if !containsStr(lock.GemRemotes, remote) {
					lock.GemRemotes = append(lock.GemRemotes, remote)
				}
			case indent == 2 && content == "specs:":
				inSpecsBlock = true
			case indent == 4 && inSpecsBlock:
				spec, err := parseSpecLine(content, lineNo, indent+1, mode)
				if err != nil {
					return nil, err
				}
				lock.GemSpecs = append(lock.GemSpecs, spec)
				lastGem = &lock.GemSpecs[len(lock.GemSpecs)-1]
				lastDepOwner = &lastGem.Dependencies
			case indent == 6 && lastGem != nil:
				dep, err := parseDependencyLine(content, lineNo, indent+1)
				if err != nil {
					return nil, err
				}
				*lastDepOwner = append(*lastDepOwner, dep)
			default:
				if mode == Strict {
					return nil, errAt(lineNo, indent+1, "UnknownKey", fmt.Sprintf("unrecognized key in GEM section: %q", content))
				}
			}

		case sectionGit:
			switch {
			case indent == 2 && strings.HasPrefix(content, "remote:"):
				gitBlockRef.Remote = fieldValue(content, "remote:")
			case indent == 2 && strings.HasPrefix(content, "revision:"):
				gitBlockRef.Revision = fieldValue(content, "revision:")
			case indent == 2 && strings.HasPrefix(content, "branch:"):
				gitBlockRef.Branch = fieldValue(content, "branch:")
			case indent == 2 && strings.HasPrefix(content, "ref:"):
				gitBlockRef.Ref = fieldValue(content, "ref:")
			case indent == 2 && strings.HasPrefix(content, "tag:"):
				gitBlockRef.Tag = fieldValue(content, "tag:")
			case indent == 2 && strings.HasPrefix(content, "glob:"):
				gitBlockRef.Glob = fieldValue(content, "glob:")
			case indent == 2 && strings.HasPrefix(content, "submodules:"):
				gitBlockRef.Submodules = fieldValue(content, "submodules:") == "true"
			case indent == 2 && content == "specs:":
				if gitBlockRef.Revision == "" {
					if mode == Strict {
						return nil, errAt(lineNo, indent+1, "MissingRequired", "GIT source is missing required revision:")
					}
				}
				inSpecsBlock = true
			case indent == 4 && inSpecsBlock:
				spec, err := parseSpecLine(content, lineNo, indent+1, mode)
				if err != nil {
					return nil, err
				}
				entry := *gitBlockRef
				entry.Name, entry.Version = spec.Name, spec.Version
				lock.GitSpecs = append(lock.GitSpecs, entry)
				lastDepOwner = &lock.GitSpecs[len(lock.GitSpecs)-1].Dependencies
			case indent == 6 && lastDepOwner != nil:
				dep, err := parseDependencyLine(content, lineNo, indent+1)
				if err != nil {
					return nil, err
				}
				*lastDepOwner = append(*lastDepOwner, dep)
			default:
				if mode == Strict {
					return nil, errAt(lineNo, indent+1, "UnknownKey", fmt.Sprintf("unrecognized key in GIT section: %q", content))
				}
			}

		case sectionPath:
			switch {
			case indent == 2 && strings.HasPrefix(content, "remote:"):
				pathBlockRef.Remote = fieldValue(content, "remote:")
			case indent == 2 && strings.HasPrefix(content, "glob:"):
				pathBlockRef.Glob = fieldValue(content, "glob:")
			case indent == 2 && content == "specs:":
				inSpecsBlock = true
			case indent == 4 && inSpecsBlock:
				spec, err := parseSpecLine(content, lineNo, indent+1, mode)
				if err != nil {
					return nil, err
				}
				entry := *pathBlockRef
				entry.Name, entry.Version = spec.Name, spec.Version
				lock.PathSpecs = append(lock.PathSpecs, entry)
				lastDepOwner = &lock.PathSpecs[len(lock.PathSpecs)-1].Dependencies
			case indent == 6 && lastDepOwner != nil:
				dep, err := parseDependencyLine(content, lineNo, indent+1)
				if err != nil {
					return nil, err
				}
				*lastDepOwner = append(*lastDepOwner, dep)
			default:
				if mode == Strict {
					return nil, errAt(lineNo, indent+1, "UnknownKey", fmt.Sprintf("unrecognized key in PATH section: %q", content))
				}
			}

		case sectionPluginSource:
			switch {
			case indent == 2 && content == "specs:":
				inSpecsBlock = true
			case indent == 2 && strings.Contains(content, ":"):
				key, value, _ := strings.Cut(content, ":")
				pluginBlockRef.Options[strings.TrimSpace(key)] = strings.TrimSpace(value)
			case indent == 4 && inSpecsBlock:
				spec, err := parseSpecLine(content, lineNo, indent+1, mode)
				if err != nil {
					return nil, err
				}
				entry := *pluginBlockRef
				entry.Name, entry.Version = spec.Name, spec.Version
				lock.PluginSpecs = append(lock.PluginSpecs, entry)
				lastDepOwner = &lock.PluginSpecs[len(lock.PluginSpecs)-1].Dependencies
			case indent == 6 && lastDepOwner != nil:
				dep, err := parseDependencyLine(content, lineNo, indent+1)
				if err != nil {
					return nil, err
				}
				*lastDepOwner = append(*lastDepOwner, dep)
			default:
				if mode == Strict {
					return nil, errAt(lineNo, indent+1, "UnknownKey", fmt.Sprintf("unrecognized key in PLUGIN SOURCE section: %q", content))
				}
			}

		case sectionPlatforms:
			if indent == 2 {
				lock.Platforms = append(lock.Platforms, content)
			} else if mode == Strict {
				return nil, errAt(lineNo, indent+1, "InvalidIndentation", "expected a 2-space indented platform name")
			}

		case sectionDependencies:
			if indent == 2 {
				dep, err := parseDependencyLine(content, lineNo, indent+1)
				if err != nil {
					return nil, err
				}
				if strings.HasSuffix(content, "!") {
					dep.PinnedToEntry = true
				}
				// Strict mode enforces §4.G's "a dep in DEPENDENCIES not
				// found in any specs:" rule right here, since by lockfile
				// convention every source section is written before
				// DEPENDENCIES — every spec name that will ever exist has
				// already been seen. This is also §9's ruling on a
				// pinned "!" entry whose named source is absent: it's
				// simply a dep with no matching spec, so it's rejected
				// the same way.
				if mode == Strict && !lock.hasSpec(dep.Name) {
					return nil, errAt(lineNo, indent+1, "UnresolvedDependency",
						fmt.Sprintf("dependency %q has no matching entry in any specs: block", dep.Name))
				}
				lock.Deps = append(lock.Deps, dep)
			} else if mode == Strict {
				return nil, errAt(lineNo, indent+1, "InvalidIndentation", "expected a 2-space indented dependency")
			}

		case sectionChecksums:
			if indent == 2 {
				sum, err := parseChecksumLine(content, lineNo, indent+1, mode)
				if err != nil {
					return nil, err
				}
				if sum.Name != "" {
					lock.Checksums = append(lock.Checksums, sum)
				}
			} else if mode == Strict {
				return nil, errAt(lineNo, indent+1, "InvalidIndentation", "expected a 2-space indented checksum entry")
			}

		case sectionRubyVersion:
			if indent == 2 {
				lock.Ruby = strings.TrimPrefix(content, "ruby ")
			} else if mode == Strict {
				return nil, errAt(lineNo, indent+1, "InvalidIndentation", "expected a 2-space indented ruby version line")
			}

		case sectionBundledWith:
			if indent == 2 {
				lock.BundledWith = content
			} else if mode == Strict {
				return nil, errAt(lineNo, indent+1, "InvalidIndentation", "expected a 2-space indented bundler version line")
			}

		case sectionNone:
			// Skipped in lenient mode.
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	applyChecksums(lock)

	return lock, nil
}

// applyChecksums matches each top-level CHECKSUMS entry to its GEM spec by
// name/version/platform and fills in GemSpec.Checksum, mirroring how
// Bundler keeps the CHECKSUMS section separate from specs: but keyed the
// same way.
func applyChecksums(lock *Lockfile) {
	for _, sum := range lock.Checksums {
		for i := range lock.GemSpecs {
			g := &lock.GemSpecs[i]
			if g.Name == sum.Name && g.Version == sum.Version && g.Platform == sum.Platform {
				g.Checksum = sum.SHA256
			}
		}
	}
}

// hasSpec reports whether name is pinned by some entry under any source's
// specs: block, regardless of source kind — a GEM, GIT, PATH, or PLUGIN
// SOURCE spec all count.
func (lock *Lockfile) hasSpec(name string) bool {
	for _, g := range lock.GemSpecs {
		if g.Name == name {
			return true
		}
	}
	for _, g := range lock.GitSpecs {
		if g.Name == name {
			return true
		}
	}
	for _, p := range lock.PathSpecs {
		if p.Name == name {
			return true
		}
	}
	for _, p := range lock.PluginSpecs {
		if p.Name == name {
			return true
		}
	}
	return false
}

func isMergeConflictMarker(content string) bool {
	return strings.HasPrefix(content, "<<<<<<<") ||
		content == "=======" ||
		strings.HasPrefix(content, ">>>>>>>")
}

func leadingSpaces(s string) int {
	n := 0
	for _, r := range s {
		if r != ' ' {
			break
		}
		n++
	}
	return n
}

func fieldValue(content, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(content, prefix))
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func parseSpecLine(content string, line, col int, mode Mode) (GemSpec, error) {
	m := specLineRe.FindStringSubmatch(content)
	if m == nil {
		if mode == Strict {
			return GemSpec{}, errAt(line, col, "InvalidVersion", fmt.Sprintf("expected %q, got %q", "name (version)", content))
		}
		return GemSpec{Name: content}, nil
	}
	name := m[1]
	version, plat := splitVersionPlatform(m[2])
	return GemSpec{Name: name, Version: version, Platform: plat}, nil
}

func parseChecksumLine(content string, line, col int, mode Mode) (Checksum, error) {
	m := checksumLineRe.FindStringSubmatch(content)
	if m == nil {
		if mode == Strict {
			return Checksum{}, errAt(line, col, "InvalidVersion", fmt.Sprintf("expected %q, got %q", "name (version) sha256=hex", content))
		}
		return Checksum{}, nil
	}
	version, plat := splitVersionPlatform(m[2])
	return Checksum{Name: m[1], Version: version, Platform: plat, SHA256: m[3]}, nil
}

// splitVersionPlatform separates a spec's "(version)" or "(version-platform)"
// capture into its two parts. Rubygems version numbers are dot-separated
// only, so the first dash (if any) always marks the platform boundary; the
// rest of the string, dashes and all, is the platform (e.g. "x86_64-linux").
func splitVersionPlatform(versionAndPlatform string) (version, platform string) {
	if idx := strings.Index(versionAndPlatform, "-"); idx >= 0 {
		candidate := versionAndPlatform[idx+1:]
		if looksLikePlatform(candidate) {
			return versionAndPlatform[:idx], candidate
		}
	}
	return versionAndPlatform, ""
}

func looksLikePlatform(s string) bool {
	known := []string{"x86_64-linux", "x86_64-darwin", "arm64-darwin", "x86-mingw32", "x64-mingw-ucrt", "java", "ruby"}
	for _, k := range known {
		if s == k || strings.HasPrefix(s, k) {
			return true
		}
	}
	return strings.Contains(s, "linux") || strings.Contains(s, "darwin") || strings.Contains(s, "mingw") || s == "java"
}

func parseDependencyLine(content string, line, col int) (Dependency, error) {
	content = strings.TrimSuffix(strings.TrimSpace(content), "!")
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "("); idx >= 0 && strings.HasSuffix(content, ")") {
		name := strings.TrimSpace(content[:idx])
		req := strings.TrimSpace(content[idx+1 : len(content)-1])
		return Dependency{Name: name, Requirement: req}, nil
	}
	return Dependency{Name: content}, nil
}
