package rubystore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/spinel-coop/rv/pkg/rverrors"
	"github.com/spinel-coop/rv/pkg/rversion"
)

// Request describes what the caller asked for: an engine (optional) and
// a version requirement. An empty Request means "whatever's active".
type Request struct {
	Engine     string
	Requirement rversion.Requirement
	Raw        string
}

// ParseRequest parses a CLI-style version argument like "3.3.0",
// "jruby-9.4", "~> 3.2", or "" (meaning "resolve from context").
func ParseRequest(s string) (Request, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Request{}, nil
	}
	engine := ""
	rest := s
	for _, e := range []string{"ruby-", "jruby-", "truffleruby-"} {
		if strings.HasPrefix(s, e) {
			engine = strings.TrimSuffix(e, "-")
			rest = s[len(e):]
			break
		}
	}
	req, err := rversion.ParseRequirement(rest)
	if err != nil {
		return Request{}, rverrors.InvalidVersion(s, err)
	}
	return Request{Engine: engine, Requirement: req, Raw: s}, nil
}

// toolVersionsFile and rubyVersionFile are the dotfiles consulted by
// Resolve, in precedence order: a requested version always wins, then
// .ruby-version, then a ruby line in .tool-versions, then the
// configured default, walking up from cwd toward the filesystem root.
const (
	rubyVersionFile  = ".ruby-version"
	toolVersionsFile = ".tool-versions"
)

// Resolve implements §4.F's precedence chain: an explicit requested
// version wins outright; then the RUBY_VERSION environment variable;
// then walking upward from dir looking for .ruby-version or
// .tool-versions; then defaultVersion (the configured default_ruby);
// and finally, as a last resort, the latest non-prerelease final version
// among store's installed Rubies. store may be nil, in which case step 6
// is skipped.
func Resolve(dir string, requested Request, defaultVersion string, store *Store) (Request, error) {
	if requested.Raw != "" {
		return requested, nil
	}
	if env := strings.TrimSpace(os.Getenv("RUBY_VERSION")); env != "" {
		return ParseRequest(env)
	}
	if found, ok := walkUpForVersionFile(dir); ok {
		return ParseRequest(found)
	}
	if defaultVersion != "" {
		return ParseRequest(defaultVersion)
	}
	if store != nil {
		if latest, ok := store.Latest(); ok {
			req, err := ParseRequest(latest.Version.String())
			req.Engine = latest.Engine
			return req, err
		}
	}
	return Request{}, rverrors.RubyNotFound("no RUBY_VERSION, .ruby-version, .tool-versions, default_ruby, or installed Ruby found")
}

func walkUpForVersionFile(start string) (string, bool) {
	dir := start
	for {
		if v, ok := readRubyVersionFile(filepath.Join(dir, rubyVersionFile)); ok {
			return v, true
		}
		if v, ok := readToolVersions(filepath.Join(dir, toolVersionsFile)); ok {
			return v, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func readRubyVersionFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	v := sanitizeVersionLine(string(data))
	if v == "" {
		return "", false
	}
	return v, true
}

func readToolVersions(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == "ruby" {
			return fields[1], true
		}
	}
	return "", false
}

// sanitizeVersionLine trims whitespace and a UTF-8 BOM, tolerating the
// way editors sometimes save .ruby-version files.
func sanitizeVersionLine(s string) string {
	s = strings.TrimPrefix(s, "\xef\xbb\xbf")
	lines := strings.SplitN(s, "\n", 2)
	return strings.TrimSpace(lines[0])
}
