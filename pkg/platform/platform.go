// Package platform models the (cpu, os, libc?) compatibility triple used
// to match Ruby installations and gem artifacts to a host, grounded on
// flavor-go's builder_unix.go/builder_windows.go OS-family split and on
// original_source's rv-platform crate for the libc/OS-version detection
// rules.
package platform

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Platform is the normalized (cpu, os, libc, version) triple, or the
// pure-Ruby/java sentinels.
type Platform struct {
	CPU     string // x64, x86, arm64, universal, ...
	OS      string // linux, darwin, mingw, java, ruby
	Libc    string // gnu, musl, ucrt, "" (darwin/java/ruby)
	Version string // darwin major-version family name (sonoma, ventura, ...)

	// raw holds the original text for platforms ParsePlatform could not
	// classify; §4.A requires unrecognized triples be retained verbatim
	// and compared textually rather than rejected.
	raw string
}

// Ruby is the pure-Ruby sentinel platform: matches any host.
var Ruby = Platform{OS: "ruby"}

// Java is the JRuby sentinel: matches any java-hosted runtime.
var Java = Platform{OS: "java"}

var cpuAliases = map[string]string{
	"i686":    "x86",
	"i386":    "x86",
	"x86_64":  "x64",
	"amd64":   "x64",
	"aarch64": "arm64",
	"arm64":   "arm64",
}

var darwinVersionFamily = map[int]string{
	19: "catalina",
	20: "bigsur",
	21: "monterey",
	22: "ventura",
	23: "sonoma",
	24: "sequoia",
	25: "tahoe",
}

// ParsePlatform parses canonical forms like "x86_64-linux-gnu",
// "aarch64-linux-musl", "arm64-darwin-23", "x86_64-mingw-ucrt", "java",
// and the "ruby" sentinel. Unrecognized text is retained verbatim (raw)
// rather than rejected.
func ParsePlatform(s string) Platform {
	s = strings.TrimSpace(s)
	switch s {
	case "", "ruby":
		return Ruby
	case "java":
		return Java
	}

	parts := strings.Split(s, "-")
	switch len(parts) {
	case 3:
		cpu := normalizeCPU(parts[0])
		osName := parts[1]
		rest := parts[2]
		switch osName {
		case "linux":
			return Platform{CPU: cpu, OS: "linux", Libc: rest}
		case "darwin":
			version := rest
			if major, err := atoiSafe(rest); err == nil {
				if fam, ok := darwinVersionFamily[major]; ok {
					version = fam
				}
			}
			return Platform{CPU: cpu, OS: "darwin", Version: version}
		case "mingw":
			return Platform{CPU: cpu, OS: "mingw", Libc: rest}
		default:
			return Platform{raw: s}
		}
	case 2:
		cpu := normalizeCPU(parts[0])
		osName := parts[1]
		if osName == "linux" {
			// No explicit libc segment: default to gnu per §4.A's
			// canonical-form examples ("unrecognized... compared
			// textually" only applies once the shape itself doesn't fit).
			return Platform{CPU: cpu, OS: "linux", Libc: "gnu"}
		}
		if osName == "darwin" {
			return Platform{CPU: cpu, OS: "darwin"}
		}
		return Platform{raw: s}
	default:
		return Platform{raw: s}
	}
}

func normalizeCPU(cpu string) string {
	if alias, ok := cpuAliases[cpu]; ok {
		return alias
	}
	if cpu == "universal" {
		return "universal"
	}
	return cpu
}

func atoiSafe(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// String renders the canonical form. The "ruby" and "java" sentinels
// render as their bare names; raw/unrecognized platforms render as
// originally given.
func (p Platform) String() string {
	if p.raw != "" {
		return p.raw
	}
	switch p.OS {
	case "ruby", "java", "":
		if p.OS == "" {
			return "ruby"
		}
		return p.OS
	case "darwin":
		if p.Version != "" {
			return fmt.Sprintf("%s-darwin-%s", p.CPU, p.Version)
		}
		return fmt.Sprintf("%s-darwin", p.CPU)
	case "mingw":
		return fmt.Sprintf("%s-mingw-%s", p.CPU, p.Libc)
	default:
		if p.Libc != "" {
			return fmt.Sprintf("%s-%s-%s", p.CPU, p.OS, p.Libc)
		}
		return fmt.Sprintf("%s-%s", p.CPU, p.OS)
	}
}

// Matches implements §4.A's compatibility relation: the receiver is the
// gem/artifact platform, host is the running machine's platform.
func (p Platform) Matches(host Platform) bool {
	if p.raw != "" || host.raw != "" {
		// Unrecognized triples only match textually.
		return p.String() == host.String()
	}
	if p.OS == "ruby" {
		return true
	}
	if p.OS == "java" {
		return host.OS == "java"
	}
	if host.OS == "java" {
		return false
	}
	if p.CPU == "universal" && p.OS == host.OS {
		return true
	}
	if p.OS == "mingw" && host.OS == "mingw" {
		// Universal MinGW gems (no libc suffix) match any MinGW host.
		if p.Libc == "" {
			return true
		}
		return p.Libc == host.Libc
	}
	if p.OS != host.OS || p.CPU != host.CPU {
		return false
	}
	if p.OS == "linux" {
		// A gem version with no libc recorded matches any host libc.
		if p.Libc == "" {
			return true
		}
		return p.Libc == host.Libc
	}
	if p.OS == "darwin" {
		// A Linux/darwin host version matches any gem version when the
		// gem's version is absent.
		if p.Version == "" {
			return true
		}
		return p.Version == host.Version
	}
	return true
}

// DetectHost returns the platform of the machine rv is running on.
func DetectHost() Platform {
	cpu := normalizeCPU(runtime.GOARCH)
	switch runtime.GOOS {
	case "linux":
		return Platform{CPU: cpu, OS: "linux", Libc: detectLibc()}
	case "darwin":
		return Platform{CPU: cpu, OS: "darwin", Version: detectDarwinVersion()}
	case "windows":
		return Platform{CPU: cpu, OS: "mingw", Libc: "ucrt"}
	default:
		return Platform{raw: fmt.Sprintf("%s-%s", cpu, runtime.GOOS)}
	}
}

// detectLibc probes for musl the way original_source's rv-platform crate
// does: `ldd --version` on musl systems prints "musl" rather than a glibc
// banner. Only that output is consulted; /etc/alpine-release is not
// checked, and a host without ldd reports "gnu".
func detectLibc() string {
	if _, err := exec.LookPath("ldd"); err == nil {
		out, err := exec.Command("ldd", "--version").CombinedOutput()
		if err == nil && strings.Contains(strings.ToLower(string(out)), "musl") {
			return "musl"
		}
	}
	return "gnu"
}

// detectDarwinVersion reads the Darwin kernel version via `uname -r`
// ("23.1.0" on Sonoma) rather than `sw_vers -productVersion` (the macOS
// marketing version, "14" on Sonoma): darwinVersionFamily is keyed by
// the kernel major, the same numbering ParsePlatform decodes out of a
// gem's "arm64-darwin-23" platform triple, and the two numberings don't
// coincide.
func detectDarwinVersion() string {
	out, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return ""
	}
	major, err := atoiSafe(strings.SplitN(strings.TrimSpace(string(out)), ".", 2)[0])
	if err != nil {
		return ""
	}
	if fam, ok := darwinVersionFamily[major]; ok {
		return fam
	}
	return ""
}
