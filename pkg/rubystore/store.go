// Package rubystore models the set of installed Ruby engines (§4.E) and
// resolves which one is "active" for a given working directory (§4.F).
// Layout and provenance tracking follow flavor-go's WorkenvPaths
// directory-per-install convention, generalized from a single extracted
// binary to a tree of installed Ruby trees.
package rubystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/spinel-coop/rv/pkg/platform"
	"github.com/spinel-coop/rv/pkg/rverrors"
	"github.com/spinel-coop/rv/pkg/rversion"
)

// provenanceFile is the sidecar rv writes next to every install it
// manages, recording how it got there. §4.E's enumerate step trusts this
// file when present and falls back to directory-name sniffing for
// rubies rv did not install itself (asdf/rbenv/system installs).
const provenanceFile = ".rv-installed.json"

// Provenance is the sidecar document written after a successful install.
type Provenance struct {
	Engine    string    `json:"engine"`
	Version   string    `json:"version"`
	Platform  string    `json:"platform"`
	Source    string    `json:"source"`
	Path      string    `json:"path"`
	Installed time.Time `json:"installed_at"`
}

// Ruby is one installed Ruby engine.
type Ruby struct {
	Engine   string // "ruby", "jruby", "truffleruby"
	Version  rversion.Version
	Platform platform.Platform
	Path     string // install root directory
	Managed  bool   // true if rv's provenance sidecar is present
}

// ExecutablePath returns the path to the engine's interpreter binary.
func (r Ruby) ExecutablePath() string {
	name := "ruby"
	if r.Engine == "jruby" {
		name = "jruby"
	}
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(r.Path, "bin", name)
}

func (r Ruby) String() string {
	return fmt.Sprintf("%s-%s", r.Engine, r.Version)
}

// Store enumerates and manages installed Rubies across a search path of
// directories (§4.F's precedence-ordered ruby_dirs).
type Store struct {
	Dirs   []string
	logger hclog.Logger
}

// New constructs a Store over the given search directories, in
// precedence order (earlier entries win ties).
func New(dirs []string, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Store{Dirs: dirs, logger: logger}
}

// List enumerates every installed Ruby found across the search path. A
// directory entry is included even without provenance metadata, so
// Rubies installed by rbenv/asdf/chruby or the system package manager
// still show up; Managed is false for those.
func (s *Store) List() ([]Ruby, error) {
	var out []Ruby
	seen := make(map[string]bool)
	for _, dir := range s.Dirs {
		expanded, err := expandGlob(dir)
		if err != nil {
			continue
		}
		for _, d := range expanded {
			entries, err := os.ReadDir(d)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				path := filepath.Join(d, e.Name())
				if seen[path] {
					continue
				}
				ruby, ok := parseInstall(path, e.Name())
				if !ok {
					continue
				}
				seen[path] = true
				out = append(out, ruby)
			}
		}
	}
	return out, nil
}

func expandGlob(pattern string) ([]string, error) {
	if !hasGlobChars(pattern) {
		if _, err := os.Stat(pattern); err != nil {
			return nil, err
		}
		return []string{pattern}, nil
	}
	return filepath.Glob(pattern)
}

func hasGlobChars(s string) bool {
	for _, r := range s {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

func parseInstall(path, dirName string) (Ruby, bool) {
	if prov, err := readProvenance(path); err == nil {
		v, verr := rversion.Parse(prov.Version)
		if verr != nil {
			return Ruby{}, false
		}
		return Ruby{
			Engine:   prov.Engine,
			Version:  v,
			Platform: platform.ParsePlatform(prov.Platform),
			Path:     path,
			Managed:  true,
		}, true
	}

	engine, versionStr, ok := splitEngineVersion(dirName)
	if !ok {
		return Ruby{}, false
	}
	v, err := rversion.Parse(versionStr)
	if err != nil {
		return Ruby{}, false
	}
	return Ruby{Engine: engine, Version: v, Platform: platform.DetectHost(), Path: path, Managed: false}, true
}

// splitEngineVersion recognizes "ruby-3.3.0", "jruby-9.4.8.0", and a
// bare "3.3.0" (assumed MRI) directory naming convention.
func splitEngineVersion(name string) (engine, version string, ok bool) {
	for _, prefix := range []string{"ruby-", "jruby-", "truffleruby-"} {
		if len(name) > len(prefix) && name[:len(prefix)] == prefix {
			eng := prefix[:len(prefix)-1]
			return eng, name[len(prefix):], true
		}
	}
	if _, err := rversion.Parse(name); err == nil && name != "" {
		return "ruby", name, true
	}
	return "", "", false
}

func readProvenance(installPath string) (Provenance, error) {
	data, err := os.ReadFile(filepath.Join(installPath, provenanceFile))
	if err != nil {
		return Provenance{}, err
	}
	var p Provenance
	if err := json.Unmarshal(data, &p); err != nil {
		return Provenance{}, err
	}
	return p, nil
}

// WriteProvenance records how an install was produced, so future List
// calls recognize it as rv-managed.
func WriteProvenance(installPath string, p Provenance) error {
	p.Installed = p.Installed.UTC()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(installPath, provenanceFile), data, 0o644)
}

// Uninstall removes an installed Ruby's directory tree entirely. It
// refuses to remove a path lacking rv's own provenance marker unless
// force is set, protecting rbenv/system installs from accidental deletion.
func (s *Store) Uninstall(r Ruby, force bool) error {
	if !r.Managed && !force {
		return rverrors.BadCliUsage(fmt.Sprintf("%s was not installed by rv; pass --force to remove it anyway", r.Path))
	}
	if err := os.RemoveAll(r.Path); err != nil {
		return rverrors.FilesystemFailure(r.Path, "remove", err)
	}
	s.logger.Info("uninstalled ruby", "engine", r.Engine, "version", r.Version, "path", r.Path)
	return nil
}

// Find returns the highest-versioned installed Ruby matching engine (or
// any engine if empty) and satisfying req, preferring non-prerelease
// versions the way original_source's select_ruby_version_for does:
// retried once with prereleases allowed if nothing else matches.
func (s *Store) Find(engine string, req rversion.Requirement) (Ruby, bool) {
	rubies, err := s.List()
	if err != nil {
		return Ruby{}, false
	}
	if best, ok := bestMatch(rubies, engine, req, false); ok {
		return best, true
	}
	return bestMatch(rubies, engine, req, true)
}

// Latest returns the highest-versioned non-prerelease installed Ruby
// regardless of engine or requirement — §4.F step 6, the last resort
// when no command-line request, env var, version file, or configured
// default names a version at all.
func (s *Store) Latest() (Ruby, bool) {
	rubies, err := s.List()
	if err != nil {
		return Ruby{}, false
	}
	var best Ruby
	found := false
	for _, r := range rubies {
		if r.Version.IsPrerelease() {
			continue
		}
		if !found || r.Version.GreaterThan(best.Version) {
			best = r
			found = true
		}
	}
	return best, found
}

func bestMatch(rubies []Ruby, engine string, req rversion.Requirement, allowPrerelease bool) (Ruby, bool) {
	var best Ruby
	found := false
	for _, r := range rubies {
		if engine != "" && r.Engine != engine {
			continue
		}
		if r.Version.IsPrerelease() && !allowPrerelease {
			continue
		}
		if allowPrerelease {
			if !req.SatisfiesIgnoringPrerelease(r.Version) {
				continue
			}
		} else if !req.Satisfies(r.Version) {
			continue
		}
		if !found || r.Version.GreaterThan(best.Version) {
			best = r
			found = true
		}
	}
	return best, found
}
