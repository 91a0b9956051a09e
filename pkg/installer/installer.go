// Package installer extracts a downloaded gem package into a gem-home
// layout, compiles any native extensions, and writes binstubs (§4.K).
// Grounded on flavor-go's WorkenvPaths-driven extraction flow (validate
// checksum, acquire a per-target lock, extract, mark complete) adapted
// from a single self-extracting binary to one gem install among many in
// a scheduler run.
package installer

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/spinel-coop/rv/pkg/gempackage"
	"github.com/spinel-coop/rv/pkg/gemspec"
	"github.com/spinel-coop/rv/pkg/permissions"
	"github.com/spinel-coop/rv/pkg/platform"
	"github.com/spinel-coop/rv/pkg/rvcache"
	"github.com/spinel-coop/rv/pkg/rverrors"
	"github.com/spinel-coop/rv/pkg/shellutil"
)

// SourceKind identifies where a gem's artifact came from, per §4.K.
type SourceKind string

const (
	SourceRubyGems SourceKind = "gem"
	SourcePath     SourceKind = "path"
	SourceGit      SourceKind = "git"
)

const nativeExtensionTimeout = 15 * time.Minute

// Request describes one gem to install into a gem home.
type Request struct {
	Name         string
	Source       SourceKind
	PackagePath  string // path to the .gem file (SourceRubyGems) or source dir (SourcePath/SourceGit)
	ChecksumHex  string
	ChecksumAlgo gempackage.Algo
	Force        bool
}

// Installer writes installed gems into GemHome, keyed by "<name>-<version>".
type Installer struct {
	GemHome string
	Cache   *rvcache.Cache
	// RubyABI segregates compiled native extensions by interpreter ABI
	// (e.g. "3.4.0"), matching the active Ruby's own extensions/<abi>/
	// convention. Defaults to "0" if unset, so installers built before
	// extension support carry on working in tests that don't care.
	RubyABI string
	// RubyExecutable is the chosen interpreter's absolute path
	// (rubystore.Ruby.ExecutablePath()), execed by generated binstubs.
	// Defaults to "ruby" resolved off PATH if unset.
	RubyExecutable string
	logger         hclog.Logger
}

// New constructs an Installer targeting gemHome.
func New(gemHome string, cache *rvcache.Cache, logger hclog.Logger) *Installer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Installer{GemHome: gemHome, Cache: cache, logger: logger}
}

func (inst *Installer) abi() string {
	if inst.RubyABI == "" {
		return "0"
	}
	return inst.RubyABI
}

// Install extracts req's package into the gem home, skipping work if
// the target already exists and Force is false (§4.K's idempotent-skip
// rule), compiling any native extensions and writing binstubs.
func (inst *Installer) Install(ctx context.Context, req Request) error {
	key := rvcache.Key(req.Name + ":" + req.PackagePath)
	locked, err := inst.Cache.TryLock(rvcache.BucketGem, key)
	if err != nil {
		return err
	}
	if !locked {
		return rverrors.FilesystemFailure(req.PackagePath, "lock", fmt.Errorf("another process is installing %s", req.Name))
	}
	defer inst.Cache.Unlock(rvcache.BucketGem, key)

	if req.Source == SourceRubyGems && req.ChecksumHex != "" {
		if err := gempackage.Verify(req.PackagePath, req.ChecksumAlgo, req.ChecksumHex); err != nil {
			return err
		}
	}

	spec, destDir, err := inst.extract(req)
	if err != nil {
		return err
	}

	if !req.Force {
		if _, statErr := os.Stat(filepath.Join(destDir, ".rv-installed.json")); statErr == nil {
			inst.logger.Debug("install already present, skipping", "gem", req.Name, "dir", destDir)
			return nil
		}
	}

	if len(spec.Extensions) > 0 {
		if err := inst.compileExtensions(ctx, spec, destDir); err != nil {
			return err
		}
	}

	if err := inst.writeBinstubs(spec, destDir); err != nil {
		return err
	}

	return inst.markInstalled(destDir, spec)
}

// extract unpacks the gem's metadata + data tar into destDir, returning
// the parsed gemspec for use by the compile/binstub steps.
func (inst *Installer) extract(req Request) (*gemspec.Specification, string, error) {
	switch req.Source {
	case SourceRubyGems:
		return inst.extractGemFile(req.PackagePath, req.Force)
	case SourcePath, SourceGit:
		return inst.adoptSourceDir(req)
	default:
		return nil, "", rverrors.UnsupportedGemFormat(fmt.Sprintf("unknown source kind %q", req.Source))
	}
}

func (inst *Installer) extractGemFile(path string, force bool) (*gemspec.Specification, string, error) {
	r, err := gempackage.Open(path)
	if err != nil {
		inst.invalidateCorruptArtifact(path)
		return nil, "", err
	}
	defer r.Close()

	// §4.K step 3: verify the gem's own embedded checksums.yaml.gz before
	// trusting anything extracted from it.
	if err := r.Verify(); err != nil {
		inst.invalidateCorruptArtifact(path)
		return nil, "", err
	}

	metadata, err := r.Metadata()
	if err != nil {
		inst.invalidateCorruptArtifact(path)
		return nil, "", err
	}
	spec, err := gemspec.Parse(metadata)
	if err != nil {
		return nil, "", err
	}

	destDir := filepath.Join(inst.GemHome, "gems", fmt.Sprintf("%s-%s", spec.Name, spec.Version))
	if !force {
		if _, statErr := os.Stat(filepath.Join(destDir, ".rv-installed.json")); statErr == nil {
			return spec, destDir, nil
		}
	}
	stagingDir := destDir + ".staging-" + uuid.NewString()
	if err := os.MkdirAll(stagingDir, permissions.DefaultDirPerms); err != nil {
		return nil, "", rverrors.FilesystemFailure(stagingDir, "mkdir", err)
	}
	defer os.RemoveAll(stagingDir)

	dataTar, err := r.Data()
	if err != nil {
		inst.invalidateCorruptArtifact(path)
		return nil, "", err
	}
	if err := extractTar(dataTar, stagingDir); err != nil {
		return nil, "", err
	}
	os.RemoveAll(destDir)
	if err := os.Rename(stagingDir, destDir); err != nil {
		return nil, "", rverrors.FilesystemFailure(destDir, "rename", err)
	}

	specDir := filepath.Join(inst.GemHome, "specifications")
	if err := os.MkdirAll(specDir, permissions.DefaultDirPerms); err != nil {
		return nil, "", rverrors.FilesystemFailure(specDir, "mkdir", err)
	}
	metaPath := filepath.Join(specDir, fmt.Sprintf("%s-%s.gemspec.yaml", spec.Name, spec.Version))
	if err := os.WriteFile(metaPath, metadata, permissions.DefaultFilePerms); err != nil {
		return nil, "", rverrors.FilesystemFailure(metaPath, "write", err)
	}

	return spec, destDir, nil
}

// invalidateCorruptArtifact removes a cached gem download that failed to
// open as a valid archive, so the next clean-install re-fetches it instead
// of re-failing on the same bad bytes forever (§8's corrupted-tarball
// boundary behavior). Best-effort: path may not live under the cache at
// all (e.g. a :path source or a test fixture), in which case the caller's
// own error is what matters, not whether this cleanup succeeds.
func (inst *Installer) invalidateCorruptArtifact(path string) {
	if inst.Cache == nil || !strings.HasPrefix(path, inst.Cache.Dir) {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		inst.logger.Debug("failed to invalidate corrupt cached artifact", "path", path, "err", err)
	}
}

// adoptSourceDir handles :path/:git gems, which are already unpacked on
// disk; rv symlinks them into the gem home rather than copying, so
// edits under active development are picked up without reinstalling.
func (inst *Installer) adoptSourceDir(req Request) (*gemspec.Specification, string, error) {
	gemspecPath, err := findGemspecFile(req.PackagePath)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(gemspecPath)
	if err != nil {
		return nil, "", rverrors.FilesystemFailure(gemspecPath, "read", err)
	}
	spec, err := gemspec.Parse(data)
	if err != nil {
		return nil, "", err
	}

	destDir := filepath.Join(inst.GemHome, "bundler", "gems", fmt.Sprintf("%s-%s", spec.Name, spec.Version))
	os.Remove(destDir)
	if err := os.MkdirAll(filepath.Dir(destDir), permissions.DefaultDirPerms); err != nil {
		return nil, "", err
	}
	if err := os.Symlink(req.PackagePath, destDir); err != nil {
		return nil, "", rverrors.FilesystemFailure(destDir, "symlink", err)
	}
	return spec, destDir, nil
}

func findGemspecFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", rverrors.FilesystemFailure(dir, "readdir", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".gemspec") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", rverrors.UnsupportedGemFormat(fmt.Sprintf("no .gemspec file found in %s", dir))
}

func extractTar(tr *tar.Reader, destDir string) error {
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return rverrors.UnsupportedGemFormat(fmt.Sprintf("gem entry %q escapes the install directory", hdr.Name))
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, permissions.DefaultDirPerms); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), permissions.DefaultDirPerms); err != nil {
				return err
			}
			mode := permissions.SanitizeMode(os.FileMode(hdr.Mode), false)
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		}
	}
}

// compileExtensions runs `ruby extconf.rb && make` for each native
// extension, capturing output and enforcing a 15-minute cap so a
// hung build doesn't stall the whole scheduler run. Extra extconf flags
// (the Go equivalent of `bundle config build.<gem> --with-foo-dir=...`)
// come from an RV_BUILD_<GEM> environment variable, split the same way a
// shell would so quoted paths with spaces survive.
func (inst *Installer) compileExtensions(ctx context.Context, spec *gemspec.Specification, destDir string) error {
	extraArgs, err := buildFlagsFor(spec.Name)
	if err != nil {
		return rverrors.CompileFailed(spec.Name, 0, err.Error())
	}

	for _, ext := range spec.Extensions {
		extDir := filepath.Join(destDir, filepath.Dir(ext))
		extconf := filepath.Base(ext)

		buildCtx, cancel := context.WithTimeout(ctx, nativeExtensionTimeout)
		var out bytes.Buffer

		configureCmd := exec.CommandContext(buildCtx, "ruby", append([]string{extconf}, extraArgs...)...)
		configureCmd.Dir = extDir
		configureCmd.Stdout, configureCmd.Stderr = &out, &out
		if err := configureCmd.Run(); err != nil {
			cancel()
			return rverrors.CompileFailed(spec.Name, exitCodeOf(err), tail(out.String()))
		}

		makeCmd := exec.CommandContext(buildCtx, "make")
		makeCmd.Dir = extDir
		makeCmd.Stdout, makeCmd.Stderr = &out, &out
		err = makeCmd.Run()
		cancel()
		if err != nil {
			return rverrors.CompileFailed(spec.Name, exitCodeOf(err), tail(out.String()))
		}
		if err := inst.installExtensionArtifacts(extDir, spec); err != nil {
			return err
		}
		inst.logger.Debug("compiled native extension", "gem", spec.Name, "ext", ext)
	}
	return nil
}

// dlext is the shared-library suffix a built Ruby extension produces on
// this platform, mirroring RbConfig::CONFIG['DLEXT'].
func dlext() string {
	switch runtime.GOOS {
	case "darwin":
		return ".bundle"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// installExtensionArtifacts copies every built shared library out of
// extDir into extensions/<platform>/<abi>/<full_name>/, §4.K step 4's
// destination for a compiled native extension (and the directory
// invariant 3 requires be present and non-empty afterward).
func (inst *Installer) installExtensionArtifacts(extDir string, spec *gemspec.Specification) error {
	entries, err := os.ReadDir(extDir)
	if err != nil {
		return rverrors.FilesystemFailure(extDir, "readdir", err)
	}
	destDir := filepath.Join(inst.GemHome, "extensions", platform.DetectHost().String(), inst.abi(), fmt.Sprintf("%s-%s", spec.Name, spec.Version))
	suffix := dlext()
	found := false
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		if !found {
			if err := os.MkdirAll(destDir, permissions.DefaultDirPerms); err != nil {
				return rverrors.FilesystemFailure(destDir, "mkdir", err)
			}
			found = true
		}
		src, err := os.Open(filepath.Join(extDir, e.Name()))
		if err != nil {
			return rverrors.FilesystemFailure(e.Name(), "open", err)
		}
		dst, err := os.OpenFile(filepath.Join(destDir, e.Name()), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, permissions.DefaultExecutablePerms)
		if err != nil {
			src.Close()
			return rverrors.FilesystemFailure(e.Name(), "create", err)
		}
		_, copyErr := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if copyErr != nil {
			return rverrors.FilesystemFailure(e.Name(), "copy", copyErr)
		}
	}
	if !found {
		return rverrors.CompileFailed(spec.Name, 0, fmt.Sprintf("no %s artifact produced in %s", suffix, extDir))
	}
	return nil
}

// buildFlagsFor reads RV_BUILD_<GEM> (gem name uppercased, dashes and
// dots turned into underscores) and splits it with shell word-splitting
// rules, mirroring Bundler's per-gem build configuration.
func buildFlagsFor(gemName string) ([]string, error) {
	envName := "RV_BUILD_" + strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r == '-' || r == '.':
			return '_'
		default:
			return r
		}
	}, gemName)
	raw := os.Getenv(envName)
	if raw == "" {
		return nil, nil
	}
	return shellutil.Split(raw)
}

func exitCodeOf(err error) int {
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

func tail(s string) string {
	const maxLen = 4096
	if len(s) <= maxLen {
		return s
	}
	return s[len(s)-maxLen:]
}

// rubyExecutable returns the interpreter path binstubs should exec:
// RubyExecutable when the caller resolved one, otherwise a bare "ruby"
// looked up off PATH, for callers (and older tests) that never set it.
func (inst *Installer) rubyExecutable() string {
	if inst.RubyExecutable != "" {
		return inst.RubyExecutable
	}
	return "ruby"
}

// writeBinstubs generates a shell wrapper (and, on Windows, a .bat
// wrapper) for each of the gem's declared executables. §4.K step 5: the
// wrapper sets GEM_HOME/GEM_PATH to this gem home and execs the gem's
// exe/<name> with the chosen Ruby, rather than whatever "ruby" resolves
// to on the invoking shell's PATH.
func (inst *Installer) writeBinstubs(spec *gemspec.Specification, destDir string) error {
	if len(spec.Executables) == 0 {
		return nil
	}
	binDir := filepath.Join(inst.GemHome, "bin")
	if err := os.MkdirAll(binDir, permissions.DefaultDirPerms); err != nil {
		return err
	}
	ruby := inst.rubyExecutable()
	for _, exe := range spec.Executables {
		target := filepath.Join(destDir, spec.BindirPath, exe)
		stub := filepath.Join(binDir, exe)
		script := fmt.Sprintf(
			"#!/usr/bin/env bash\nexport GEM_HOME=%q\nexport GEM_PATH=%q\nexec %q %q \"$@\"\n",
			inst.GemHome, inst.GemHome, ruby, target)
		if err := os.WriteFile(stub, []byte(script), permissions.DefaultExecutablePerms); err != nil {
			return err
		}
		if runtime.GOOS == "windows" {
			bat := fmt.Sprintf("@set GEM_HOME=%s\r\n@set GEM_PATH=%s\r\n@%q %q %%*\r\n", inst.GemHome, inst.GemHome, ruby, target)
			if err := os.WriteFile(stub+".bat", []byte(bat), permissions.DefaultFilePerms); err != nil {
				return err
			}
		}
	}
	return nil
}

func (inst *Installer) markInstalled(destDir string, spec *gemspec.Specification) error {
	marker := filepath.Join(destDir, ".rv-installed.json")
	payload := fmt.Sprintf(`{"name":%q,"version":%q,"installed_at":%q}`,
		spec.Name, spec.Version, time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(marker, []byte(payload), permissions.DefaultFilePerms)
}
