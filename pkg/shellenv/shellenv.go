// Package shellenv emits shell integration scripts (§4.L): the `rv
// shell init` hook that wires a prompt-driven Ruby switch into bash,
// zsh, fish, nushell, and PowerShell, plus `rv shell env` (a one-shot
// PATH/GEM_HOME export) and `rv shell completions`. Each init script is
// delimited by __RV_ACTIVE_PREFIX sentinel lines, and StripActiveBlock
// removes such a block from rc-file contents so a fresh one can replace
// it rather than be appended as another copy.
package shellenv

import (
	"fmt"
	"strings"

	"github.com/spinel-coop/rv/pkg/rverrors"
)

// Shell identifies one of the supported shell targets.
type Shell string

const (
	Bash       Shell = "bash"
	Zsh        Shell = "zsh"
	Fish       Shell = "fish"
	Nushell    Shell = "nu"
	PowerShell Shell = "pwsh"
)

// activePrefix marks the start of rv's managed block in a shell's
// activation output, so StripActiveBlock can find and remove the
// previous block instead of leaving another copy behind.
const activePrefix = "# __RV_ACTIVE_PREFIX__"

// ParseShell validates a shell name from the CLI.
func ParseShell(s string) (Shell, error) {
	switch Shell(s) {
	case Bash, Zsh, Fish, Nushell, PowerShell:
		return Shell(s), nil
	default:
		return "", rverrors.UnknownShell(s)
	}
}

// ActivationVars is the full set of variables §4.L's `env` subcommand
// produces for one activated Ruby.
type ActivationVars struct {
	RubyRoot    string
	RubyEngine  string
	RubyVersion string
	RubyBin     string // $RUBY_ROOT/bin
	GemBin      string // gem home's bin, prepended alongside RubyBin
	GemHome     string
	GemPath     string
	ManDir      string // $RUBY_ROOT/share/man, prepended to MANPATH
}

// sentinelVar is the env var name stamped with the active RubyBin on
// every activation, so the NEXT activation can strip exactly those
// PATH entries instead of accumulating them across `cd`s (the
// "re-entrant mutation" in SPEC_FULL.md's design notes).
const sentinelVar = "__RV_ACTIVE_PREFIX"

// Env renders a one-shot full activation export (RUBY_ROOT, RUBY_ENGINE,
// RUBY_VERSION, PATH, GEM_HOME, GEM_PATH, MANPATH, and the
// __RV_ACTIVE_PREFIX sentinel) for `rv shell env`. prevPrefix is the
// caller's current __RV_ACTIVE_PREFIX value (empty if never activated);
// PATH entries beginning with it are dropped before the fresh one is
// prepended (the POSIX output drops only a leading such entry), so
// re-activation is a full replacement rather than an incremental leak.
// MANPATH gets the fresh ManDir prepended; an earlier ManDir is not
// removed.
func Env(sh Shell, v ActivationVars, prevPrefix string) string {
	newPrefix := v.RubyBin
	switch sh {
	case Fish:
		return fishEnv(v, prevPrefix, newPrefix)
	case Nushell:
		return nuEnv(v, prevPrefix, newPrefix)
	case PowerShell:
		return pwshEnv(v, prevPrefix, newPrefix)
	default: // Bash, Zsh
		return posixEnv(v, prevPrefix, newPrefix)
	}
}

func posixEnv(v ActivationVars, prevPrefix, newPrefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "export RUBY_ROOT=%q\n", v.RubyRoot)
	fmt.Fprintf(&b, "export RUBY_ENGINE=%q\n", v.RubyEngine)
	fmt.Fprintf(&b, "export RUBY_VERSION=%q\n", v.RubyVersion)
	fmt.Fprintf(&b, "export PATH=%q:\"$(%s)\"\n", v.RubyBin+":"+v.GemBin, stripPosix("$PATH", prevPrefix))
	fmt.Fprintf(&b, "export GEM_HOME=%q\n", v.GemHome)
	fmt.Fprintf(&b, "export GEM_PATH=%q\n", v.GemPath)
	fmt.Fprintf(&b, "export MANPATH=%q:\"$(%s)\"\n", v.ManDir, stripPosix("$MANPATH", prevPrefix))
	fmt.Fprintf(&b, "export %s=%q\n", sentinelVar, newPrefix)
	return b.String()
}

// stripPosix emits a printf pipeline removing a previously-activated
// prefix from a PATH-like variable; when there is nothing to strip it
// just echoes the variable back.
func stripPosix(varRef, prevPrefix string) string {
	if prevPrefix == "" {
		return fmt.Sprintf("printf %%s %s", varRef)
	}
	return fmt.Sprintf("printf %%s %s | sed -e %q", varRef, "s#^"+prevPrefix+"[^:]*:##")
}

func fishEnv(v ActivationVars, prevPrefix, newPrefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "set -gx RUBY_ROOT %q\n", v.RubyRoot)
	fmt.Fprintf(&b, "set -gx RUBY_ENGINE %q\n", v.RubyEngine)
	fmt.Fprintf(&b, "set -gx RUBY_VERSION %q\n", v.RubyVersion)
	if prevPrefix != "" {
		fmt.Fprintf(&b, "set -gx PATH (string match -v -r %q -- $PATH)\n", "^"+prevPrefix)
	}
	fmt.Fprintf(&b, "set -gx PATH %s %s $PATH\n", v.RubyBin, v.GemBin)
	fmt.Fprintf(&b, "set -gx GEM_HOME %q\n", v.GemHome)
	fmt.Fprintf(&b, "set -gx GEM_PATH %q\n", v.GemPath)
	fmt.Fprintf(&b, "set -gx MANPATH %s $MANPATH\n", v.ManDir)
	fmt.Fprintf(&b, "set -gx %s %q\n", sentinelVar, newPrefix)
	return b.String()
}

func nuEnv(v ActivationVars, prevPrefix, newPrefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$env.RUBY_ROOT = %q\n", v.RubyRoot)
	fmt.Fprintf(&b, "$env.RUBY_ENGINE = %q\n", v.RubyEngine)
	fmt.Fprintf(&b, "$env.RUBY_VERSION = %q\n", v.RubyVersion)
	path := "$env.PATH"
	if prevPrefix != "" {
		path = fmt.Sprintf("$env.PATH | where {|p| not ($p | str starts-with %q)}", prevPrefix)
	}
	fmt.Fprintf(&b, "$env.PATH = (%s | prepend [%q %q])\n", path, v.RubyBin, v.GemBin)
	fmt.Fprintf(&b, "$env.GEM_HOME = %q\n", v.GemHome)
	fmt.Fprintf(&b, "$env.GEM_PATH = %q\n", v.GemPath)
	fmt.Fprintf(&b, "$env.MANPATH = ($env.MANPATH | prepend %q)\n", v.ManDir)
	fmt.Fprintf(&b, "$env.%s = %q\n", sentinelVar, newPrefix)
	return b.String()
}

func pwshEnv(v ActivationVars, prevPrefix, newPrefix string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "$env:RUBY_ROOT = %q\n", v.RubyRoot)
	fmt.Fprintf(&b, "$env:RUBY_ENGINE = %q\n", v.RubyEngine)
	fmt.Fprintf(&b, "$env:RUBY_VERSION = %q\n", v.RubyVersion)
	if prevPrefix != "" {
		fmt.Fprintf(&b, "$env:PATH = (($env:PATH -split [IO.Path]::PathSeparator) | Where-Object { -not $_.StartsWith(%q) }) -join [IO.Path]::PathSeparator\n", prevPrefix)
	}
	fmt.Fprintf(&b, "$env:PATH = %q + [IO.Path]::PathSeparator + %q + [IO.Path]::PathSeparator + $env:PATH\n", v.RubyBin, v.GemBin)
	fmt.Fprintf(&b, "$env:GEM_HOME = %q\n", v.GemHome)
	fmt.Fprintf(&b, "$env:GEM_PATH = %q\n", v.GemPath)
	fmt.Fprintf(&b, "$env:MANPATH = %q + [IO.Path]::PathSeparator + $env:MANPATH\n", v.ManDir)
	fmt.Fprintf(&b, "$env:%s = %q\n", sentinelVar, newPrefix)
	return b.String()
}

// Init renders the shell hook script installed into a user's rc file
// (".bashrc", ".zshrc", "config.fish", ...), which on each prompt
// re-resolves the active Ruby for the current directory and re-applies
// the full `rv shell env` activation output, whether or not it changed.
func Init(sh Shell, rvExe string) (string, error) {
	switch sh {
	case Bash, Zsh:
		return posixInit(rvExe), nil
	case Fish:
		return fishInit(rvExe), nil
	case Nushell:
		return nuInit(rvExe), nil
	case PowerShell:
		return pwshInit(rvExe), nil
	default:
		return "", rverrors.UnknownShell(string(sh))
	}
}

func posixInit(rvExe string) string {
	return strings.TrimLeft(fmt.Sprintf(`%s
__rv_activate() {
  local rv_env
  rv_env="$(%q shell env --format posix 2>/dev/null)" || return
  eval "$rv_env"
}
case "$PROMPT_COMMAND" in
  *__rv_activate*) ;;
  *) PROMPT_COMMAND="__rv_activate;${PROMPT_COMMAND}" ;;
esac
# __RV_ACTIVE_PREFIX_END__
`, activePrefix, rvExe), "\n")
}

func fishInit(rvExe string) string {
	return strings.TrimLeft(fmt.Sprintf(`%s
function __rv_activate --on-event fish_prompt
    %q shell env --format fish 2>/dev/null | source
end
# __RV_ACTIVE_PREFIX_END__
`, activePrefix, rvExe), "\n")
}

func nuInit(rvExe string) string {
	return strings.TrimLeft(fmt.Sprintf(`%s
$env.PROMPT_COMMAND = {|| %q shell env --format nu | save -f /tmp/.rv-env.nu; source /tmp/.rv-env.nu }
# __RV_ACTIVE_PREFIX_END__
`, activePrefix, rvExe), "\n")
}

func pwshInit(rvExe string) string {
	return strings.TrimLeft(fmt.Sprintf(`%s
function global:prompt {
    %q shell env --format pwsh | Out-String | Invoke-Expression
    "PS> "
}
# __RV_ACTIVE_PREFIX_END__
`, activePrefix, rvExe), "\n")
}

// StripActiveBlock removes a previously-installed rv activation block
// from rcContents, so `rv shell init` can be re-run idempotently when a
// user upgrades rv or switches shells.
func StripActiveBlock(rcContents string) string {
	start := strings.Index(rcContents, activePrefix)
	if start < 0 {
		return rcContents
	}
	const endMarker = "# __RV_ACTIVE_PREFIX_END__\n"
	end := strings.Index(rcContents[start:], endMarker)
	if end < 0 {
		return rcContents
	}
	end = start + end + len(endMarker)
	return rcContents[:start] + rcContents[end:]
}
