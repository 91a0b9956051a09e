// Package rverrors defines the error taxonomy used across rv's core
// subsystems (§7 of the design) and renders errors for both a human
// terminal and --format json.
package rverrors

import (
	"encoding/json"
	"fmt"
)

// Exit codes, §6.
const (
	ExitOK         = 0
	ExitGeneric    = 1
	ExitUsage      = 2
	ExitResolution = 3
	ExitNetwork    = 4
	ExitIntegrity  = 5
)

// Kind identifies one of the taxonomy's error families.
type Kind string

const (
	KindInvalidVersion        Kind = "InvalidVersion"
	KindInvalidLockfile       Kind = "InvalidLockfile"
	KindInvalidGemMetadata    Kind = "InvalidGemMetadata"
	KindUnsupportedGemFormat  Kind = "UnsupportedGemFormat"
	KindUnknownShell          Kind = "UnknownShell"
	KindBadCliUsage           Kind = "BadCliUsage"
	KindRubyNotFound          Kind = "RubyNotFound"
	KindGemNotFound           Kind = "GemNotFound"
	KindDependencyCycle       Kind = "DependencyCycle"
	KindUnresolvedDependency  Kind = "UnresolvedDependency"
	KindNetworkFailure        Kind = "NetworkFailure"
	KindFilesystemFailure     Kind = "FilesystemFailure"
	KindPermissionDenied      Kind = "PermissionDenied"
	KindChecksumMismatch      Kind = "ChecksumMismatch"
	KindInstallValidationFail Kind = "InstallValidationFailed"
	KindCompileFailed         Kind = "CompileFailed"
	KindAggregateFailure      Kind = "AggregateFailure"
)

// Error is the common shape every taxonomy member satisfies: a kind, a
// set of structured fields describing the inputs that produced it, and
// the exit code the CLI should use.
type Error struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// ExitCode maps a Kind to one of §6's process exit codes.
func (e *Error) ExitCode() int {
	switch e.Kind {
	case KindBadCliUsage, KindUnknownShell:
		return ExitUsage
	case KindRubyNotFound, KindGemNotFound, KindDependencyCycle, KindUnresolvedDependency:
		return ExitResolution
	case KindNetworkFailure:
		return ExitNetwork
	case KindChecksumMismatch, KindInstallValidationFail:
		return ExitIntegrity
	default:
		return ExitGeneric
	}
}

func newErr(kind Kind, msg string, cause error, fields map[string]any) *Error {
	return &Error{Kind: kind, Message: msg, Fields: fields, Cause: cause}
}

func InvalidVersion(raw string, cause error) *Error {
	return newErr(KindInvalidVersion, fmt.Sprintf("invalid version %q", raw), cause, map[string]any{"raw": raw})
}

func InvalidLockfile(line, col int, kind string, msg string) *Error {
	return newErr(KindInvalidLockfile, msg, nil, map[string]any{"line": line, "column": col, "kind": kind})
}

func InvalidGemMetadata(offset int, kind string, msg string) *Error {
	return newErr(KindInvalidGemMetadata, msg, nil, map[string]any{"offset": offset, "kind": kind})
}

func UnsupportedGemFormat(msg string) *Error {
	return newErr(KindUnsupportedGemFormat, msg, nil, nil)
}

func UnknownShell(shell string) *Error {
	return newErr(KindUnknownShell, fmt.Sprintf("unknown shell %q", shell), nil, map[string]any{"shell": shell})
}

func BadCliUsage(msg string) *Error {
	return newErr(KindBadCliUsage, msg, nil, nil)
}

func RubyNotFound(request string) *Error {
	return newErr(KindRubyNotFound, fmt.Sprintf("no installed ruby matches %q", request), nil, map[string]any{"request": request})
}

func GemNotFound(name, version string) *Error {
	return newErr(KindGemNotFound, fmt.Sprintf("gem %s %s not found", name, version), nil, map[string]any{"name": name, "version": version})
}

func DependencyCycle(cycle []string) *Error {
	return newErr(KindDependencyCycle, "dependency cycle detected", nil, map[string]any{"cycle": cycle})
}

func UnresolvedDependency(name string) *Error {
	return newErr(KindUnresolvedDependency, fmt.Sprintf("unresolved dependency %q", name), nil, map[string]any{"name": name})
}

func NetworkFailure(url string, status int, attempts int, cause error) *Error {
	return newErr(KindNetworkFailure, fmt.Sprintf("request to %s failed after %d attempts", url, attempts), cause,
		map[string]any{"url": url, "status": status, "attempts": attempts})
}

func FilesystemFailure(path, op string, cause error) *Error {
	return newErr(KindFilesystemFailure, fmt.Sprintf("%s failed for %s", op, path), cause, map[string]any{"path": path, "op": op})
}

func PermissionDenied(path string) *Error {
	return newErr(KindPermissionDenied, fmt.Sprintf("permission denied: %s", path), nil, map[string]any{"path": path})
}

func ChecksumMismatch(file, algo, expected, actual string) *Error {
	return newErr(KindChecksumMismatch, fmt.Sprintf("checksum mismatch for %s", file), nil,
		map[string]any{"file": file, "algo": algo, "expected": expected, "actual": actual})
}

func InstallValidationFailed(request, probeOutput string) *Error {
	return newErr(KindInstallValidationFail, fmt.Sprintf("validation failed for %s", request), nil,
		map[string]any{"request": request, "probe_output": probeOutput})
}

func CompileFailed(spec string, exitCode int, tail string) *Error {
	return newErr(KindCompileFailed, fmt.Sprintf("native extension build failed for %s", spec), nil,
		map[string]any{"spec": spec, "exit_code": exitCode, "tail_of_log": tail})
}

// Aggregate collects the errors from a failed parallel install (J).
type Aggregate struct {
	Errors []error
}

func (a *Aggregate) Error() string {
	if len(a.Errors) == 1 {
		return a.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred, first: %v", len(a.Errors), a.Errors[0])
}

func (a *Aggregate) ExitCode() int {
	worst := ExitGeneric
	for _, e := range a.Errors {
		if ec, ok := e.(interface{ ExitCode() int }); ok {
			if ec.ExitCode() > worst {
				worst = ec.ExitCode()
			}
		}
	}
	return worst
}

// Render formats err for either a human terminal ("text") or --format json.
func Render(err error, format string) string {
	if err == nil {
		return ""
	}
	if format == "json" {
		payload := map[string]any{"error": err.Error()}
		if e, ok := err.(*Error); ok {
			payload["kind"] = e.Kind
			payload["fields"] = e.Fields
		}
		if agg, ok := err.(*Aggregate); ok {
			msgs := make([]string, len(agg.Errors))
			for i, sub := range agg.Errors {
				msgs[i] = sub.Error()
			}
			payload["kind"] = KindAggregateFailure
			payload["errors"] = msgs
		}
		b, marshalErr := json.Marshal(payload)
		if marshalErr != nil {
			return fmt.Sprintf(`{"error":%q}`, err.Error())
		}
		return string(b)
	}
	return err.Error()
}

// ExitCodeFor extracts an exit code from any error, defaulting to
// ExitGeneric for errors outside the taxonomy.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}
	if ec, ok := err.(interface{ ExitCode() int }); ok {
		return ec.ExitCode()
	}
	return ExitGeneric
}
