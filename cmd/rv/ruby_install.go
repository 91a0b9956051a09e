package main

import (
	"archive/tar"
	"context"
	"encoding/json"
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
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/pkg/httpfetch"
	"github.com/spinel-coop/rv/pkg/permissions"
	"github.com/spinel-coop/rv/pkg/platform"
	"github.com/spinel-coop/rv/pkg/rverrors"
	"github.com/spinel-coop/rv/pkg/rubystore"
	"github.com/spinel-coop/rv/pkg/rvcache"
	"github.com/spinel-coop/rv/pkg/rversion"
)

// ghAsset and ghRelease mirror the slice of the GitHub releases API rv
// actually reads: a tag plus the per-platform tarball assets attached
// to it. Every engine rv supports publishes its prebuilt tarballs as
// release assets on its own "<engine>-builds" repository.
type ghAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

type ghRelease struct {
	TagName string    `json:"tag_name"`
	Assets  []ghAsset `json:"assets"`
}

func releaseIndexURL(engine string) string {
	return fmt.Sprintf("https://api.github.com/repos/spinel-coop/%s-builds/releases", engine)
}

// fetchReleaseIndex implements §4.E install step 1: fetch the release
// index from the upstream repository. The raw index body is cached
// under BucketMetadata, keyed by its URL, the same content-addressed way
// every other artifact rv downloads is cached.
func fetchReleaseIndex(ctx context.Context, cache *rvcache.Cache, fetcher *httpfetch.Fetcher, logger hclog.Logger, engine string) ([]ghRelease, error) {
	url := releaseIndexURL(engine)
	key := rvcache.Key(url)

	var body []byte
	if f, err := cache.Open(rvcache.BucketMetadata, key); err == nil {
		data, readErr := io.ReadAll(f)
		f.Close()
		if readErr == nil {
			body = data
		}
	}

	if body == nil {
		tmpDir, err := os.MkdirTemp("", "rv-release-index-*")
		if err != nil {
			return nil, rverrors.FilesystemFailure(tmpDir, "mkdtemp", err)
		}
		defer os.RemoveAll(tmpDir)
		tmpFile := filepath.Join(tmpDir, "releases.json")
		if err := fetcher.Get(ctx, url, tmpFile); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(tmpFile)
		if err != nil {
			return nil, rverrors.FilesystemFailure(tmpFile, "read", err)
		}
		body = data
		if f, err := os.Open(tmpFile); err == nil {
			cache.Put(rvcache.BucketMetadata, key, f)
			f.Close()
		}
	}

	var releases []ghRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return nil, rverrors.NetworkFailure(url, 0, 1, fmt.Errorf("parsing release index: %w", err))
	}
	return releases, nil
}

// versionSatisfiesRequest matches §3's RubyRequest.version_predicate: a
// bare version with fewer segments than the candidate is a family
// prefix ("3.4" matches any 3.4.x final release) rather than an exact
// match, while prereleases are still excluded unless the request names
// one explicitly. Requirement.Satisfies already handles every other
// shape (comparison operators, pessimistic constraints, the empty
// "latest" requirement).
func versionSatisfiesRequest(v rversion.Version, req rversion.Requirement) bool {
	if len(req.Constraints) == 0 {
		return !v.IsPrerelease()
	}
	if len(req.Constraints) == 1 && req.Constraints[0].Op == rversion.OpEQ {
		want := req.Constraints[0].Version
		if len(want.Segments) < len(v.Segments) {
			if v.IsPrerelease() && !want.IsPrerelease() {
				return false
			}
			for i, s := range want.Segments {
				if v.Segments[i].Compare(s) != 0 {
					return false
				}
			}
			return true
		}
	}
	return req.Satisfies(v)
}

// resolveRubyRelease picks the highest published version matching req
// whose asset name matches engine-version.platform-suffix (§4.E step 2),
// returning its download URL.
func resolveRubyRelease(releases []ghRelease, req rversion.Requirement, host platform.Platform, engine string) (rversion.Version, string, error) {
	prefix := engine + "-"
	suffix := "." + host.String() + ".tar.gz"

	var best rversion.Version
	var bestURL string
	found := false
	for _, rel := range releases {
		for _, asset := range rel.Assets {
			if !strings.HasPrefix(asset.Name, prefix) || !strings.HasSuffix(asset.Name, suffix) {
				continue
			}
			versionStr := strings.TrimSuffix(strings.TrimPrefix(asset.Name, prefix), suffix)
			v, err := rversion.Parse(versionStr)
			if err != nil {
				continue
			}
			if !versionSatisfiesRequest(v, req) {
				continue
			}
			if !found || v.GreaterThan(best) {
				best, bestURL, found = v, asset.BrowserDownloadURL, true
			}
		}
	}
	if !found {
		return rversion.Version{}, "", rverrors.RubyNotFound(fmt.Sprintf("%s matching %q for platform %s", engine, req.String(), host.String()))
	}
	return best, bestURL, nil
}

// openRubyArchive hits the cache for a previously downloaded tarball
// (§4.E step 3: "cache key is hash_key(canonical_url); if the cache has
// it, skip download"), otherwise fetches it via D and stores it before
// handing back a reader.
func openRubyArchive(ctx context.Context, cache *rvcache.Cache, fetcher *httpfetch.Fetcher, logger hclog.Logger, url string) (io.ReadCloser, error) {
	key := rvcache.Key(url)
	if f, err := cache.Open(rvcache.BucketRuby, key); err == nil {
		logger.Debug("ruby tarball cache hit", "url", url)
		return f, nil
	}

	tmpDir, err := os.MkdirTemp("", "rv-ruby-download-*")
	if err != nil {
		return nil, rverrors.FilesystemFailure(tmpDir, "mkdtemp", err)
	}
	defer os.RemoveAll(tmpDir)
	tmpFile := filepath.Join(tmpDir, "ruby.tar.gz")
	if err := fetcher.Get(ctx, url, tmpFile); err != nil {
		return nil, err
	}

	data, err := os.Open(tmpFile)
	if err != nil {
		return nil, rverrors.FilesystemFailure(tmpFile, "open", err)
	}
	_, putErr := cache.Put(rvcache.BucketRuby, key, data)
	data.Close()
	if putErr != nil {
		return nil, putErr
	}
	return cache.Open(rvcache.BucketRuby, key)
}

// extractRubyArchive unpacks a gzipped tarball into destDir, stripping
// the single top-level directory every published Ruby tarball wraps its
// contents in (engine-version/bin/..., engine-version/lib/...). Guards
// against path traversal the same way pkg/installer's gem extraction
// does, since both consume attacker-reachable tar streams over the
// network.
func extractRubyArchive(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return rverrors.FilesystemFailure(destDir, "gunzip", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	base := filepath.Clean(destDir)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return rverrors.FilesystemFailure(destDir, "untar", err)
		}

		name := hdr.Name
		if idx := strings.Index(name, "/"); idx >= 0 {
			name = name[idx+1:]
		} else {
			continue // the wrapping top-level directory entry itself
		}
		if name == "" {
			continue
		}

		target := filepath.Join(destDir, filepath.Clean(name))
		if target != base && !strings.HasPrefix(target, base+string(os.PathSeparator)) {
			return rverrors.UnsupportedGemFormat(fmt.Sprintf("ruby archive entry %q escapes the install directory", hdr.Name))
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, permissions.DefaultDirPerms); err != nil {
				return rverrors.FilesystemFailure(target, "mkdir", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), permissions.DefaultDirPerms); err != nil {
				return rverrors.FilesystemFailure(target, "mkdir", err)
			}
			mode := permissions.SanitizeMode(os.FileMode(hdr.Mode), false)
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return rverrors.FilesystemFailure(target, "create", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return rverrors.FilesystemFailure(target, "write", err)
			}
			f.Close()
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return rverrors.FilesystemFailure(target, "symlink", err)
			}
		}
	}
}

// validateRubyInstall implements §4.E step 5: run the interpreter's own
// probe and assert its output names the version just installed.
func validateRubyInstall(installDir, engine string, version rversion.Version) error {
	exe := filepath.Join(installDir, "bin", engine)
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}
	out, err := exec.Command(exe, "-e", "puts RUBY_DESCRIPTION").CombinedOutput()
	if err != nil {
		return rverrors.InstallValidationFailed(engine+"-"+version.String(), string(out))
	}
	if !strings.Contains(string(out), version.String()) {
		return rverrors.InstallValidationFailed(engine+"-"+version.String(), string(out))
	}
	return nil
}

// installRuby drives §4.E's five install steps end to end: resolve the
// request to a concrete release, fetch (or reuse a cached copy of) its
// tarball, extract it into a staging directory and atomic-rename it
// into place, validate the result, and record provenance. Any failure
// past extraction cleans up the just-extracted directory so a failed
// install never looks present to a later `ruby list`/`ruby find`.
func installRuby(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger hclog.Logger, cache *rvcache.Cache, fetcher *httpfetch.Fetcher, req rubystore.Request, force bool) error {
	host := platform.DetectHost()
	engine := req.Engine
	if engine == "" {
		engine = "ruby"
	}

	releases, err := fetchReleaseIndex(ctx, cache, fetcher, logger, engine)
	if err != nil {
		return err
	}
	ver, assetURL, err := resolveRubyRelease(releases, req.Requirement, host, engine)
	if err != nil {
		return err
	}

	installDir := filepath.Join(cfg.InstallRoot, engine+"-"+ver.String())
	if !force {
		if _, err := os.Stat(installDir); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s-%s already installed\n", engine, ver)
			return nil
		}
	}

	logger.Info("installing ruby", "engine", engine, "version", ver.String(), "platform", host.String(), "url", assetURL)

	archive, err := openRubyArchive(ctx, cache, fetcher, logger, assetURL)
	if err != nil {
		return err
	}
	defer archive.Close()

	if err := os.MkdirAll(cfg.InstallRoot, permissions.DefaultDirPerms); err != nil {
		return rverrors.FilesystemFailure(cfg.InstallRoot, "mkdir", err)
	}
	stagingDir := installDir + ".staging-" + uuid.NewString()
	if err := os.MkdirAll(stagingDir, permissions.DefaultDirPerms); err != nil {
		return rverrors.FilesystemFailure(stagingDir, "mkdir", err)
	}
	if err := extractRubyArchive(archive, stagingDir); err != nil {
		os.RemoveAll(stagingDir)
		// A corrupted tarball must not poison the cache: drop the entry so
		// the next attempt re-downloads instead of re-extracting the same
		// bad bytes forever (§8 boundary behavior).
		cache.Remove(rvcache.BucketRuby, rvcache.Key(assetURL))
		return err
	}

	os.RemoveAll(installDir)
	if err := os.Rename(stagingDir, installDir); err != nil {
		os.RemoveAll(stagingDir)
		return rverrors.FilesystemFailure(installDir, "rename", err)
	}

	if err := validateRubyInstall(installDir, engine, ver); err != nil {
		os.RemoveAll(installDir)
		return err
	}

	if err := rubystore.WriteProvenance(installDir, rubystore.Provenance{
		Engine: engine, Version: ver.String(), Platform: host.String(), Source: "github-release", Path: installDir,
		Installed: time.Now(),
	}); err != nil {
		os.RemoveAll(installDir)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "installed %s-%s\n", engine, ver)
	return nil
}
