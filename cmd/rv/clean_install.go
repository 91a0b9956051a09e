package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/pkg/gempackage"
	"github.com/spinel-coop/rv/pkg/httpfetch"
	"github.com/spinel-coop/rv/pkg/installer"
	"github.com/spinel-coop/rv/pkg/lockfile"
	"github.com/spinel-coop/rv/pkg/platform"
	"github.com/spinel-coop/rv/pkg/progress"
	"github.com/spinel-coop/rv/pkg/rubystore"
	"github.com/spinel-coop/rv/pkg/rvcache"
	"github.com/spinel-coop/rv/pkg/rverrors"
	"github.com/spinel-coop/rv/pkg/scheduler"
)

func newCleanInstallCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	var (
		lockfilePath string
		jobs         int
		strict       bool
	)
	cmd := &cobra.Command{
		Use:     "clean-install",
		Aliases: []string{"ci"},
		Short:   "Install every gem pinned in Gemfile.lock from a clean gem home",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := lockfile.Lenient
			if strict {
				mode = lockfile.Strict
			}
			lock, err := lockfile.ParseFile(lockfilePath, mode)
			if err != nil {
				return err
			}
			if err := checkHostPlatform(lock); err != nil {
				return err
			}
			warnOnBundlerMismatch(cmd, logger, lock.BundledWith)

			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			store := openStore(cfg, logger)
			resolved, err := rubystore.Resolve(wd, rubystore.Request{}, cfg.DefaultRuby, store)
			if err != nil {
				return err
			}
			ruby, ok := store.Find(resolved.Engine, resolved.Requirement)
			if !ok {
				if err := installMissingRuby(cmd, cfg, logger, resolved); err != nil {
					return err
				}
				ruby, ok = store.Find(resolved.Engine, resolved.Requirement)
				if !ok {
					return rverrors.RubyNotFound(resolved.Raw)
				}
			}
			gemHome := filepath.Join(ruby.Path, "lib", "ruby", "gems", ruby.Version.String())

			cache, err := rvcache.New(cfg.CacheDir, cfg.NoCache, logger)
			if err != nil {
				return err
			}
			inst := installer.New(gemHome, cache, logger)
			inst.RubyABI = ruby.Version.String()
			inst.RubyExecutable = ruby.ExecutablePath()
			fetcher := httpfetch.New(version, httpfetch.WithLogger(logger), httpfetch.WithRateLimit(8, 4))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			jobSpecs, err := buildInstallJobs(ctx, lock, inst, cache, fetcher, logger)
			if err != nil {
				return err
			}
			if len(jobSpecs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to install")
				return nil
			}

			sched, err := scheduler.New(jobSpecs, jobs, logger)
			if err != nil {
				return err
			}

			events, wait := sched.Run(ctx)
			progress.Run(events, cmd.ErrOrStderr(), len(jobSpecs))
			if err := wait(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %d gems\n", len(jobSpecs))
			return nil
		},
	}
	cmd.Flags().StringVar(&lockfilePath, "lockfile", "Gemfile.lock", "path to the lockfile")
	cmd.Flags().IntVar(&jobs, "jobs", defaultInstallJobs(), "maximum concurrent gem installs")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject unrecognized lockfile sections instead of skipping them")
	return cmd
}

// defaultInstallJobs is §4.J step 4's default concurrency: 8, clamped to
// the host's CPU count so a small machine doesn't oversubscribe itself.
func defaultInstallJobs() int {
	const defaultJobs = 8
	if n := runtime.NumCPU(); n < defaultJobs {
		return n
	}
	return defaultJobs
}

// buildInstallJobs turns each GEM-source spec into a scheduler.Job whose
// dependency edges mirror the spec's own dependency list, so gems install
// only after their dependencies are already unpacked. Each job fetches
// its own artifact (§4.K step 1-2) before handing the local path to the
// installer (step 3 on); extension compilation (if any) happens inside
// the installer itself.
func buildInstallJobs(ctx context.Context, lock *lockfile.Lockfile, inst *installer.Installer, cache *rvcache.Cache, fetcher *httpfetch.Fetcher, logger hclog.Logger) ([]scheduler.Job, error) {
	if len(lock.GemSpecs) > 0 && len(lock.GemRemotes) == 0 {
		return nil, rverrors.InvalidLockfile(0, 0, "MissingRequired", "lockfile has GEM specs but no GEM remote to fetch them from")
	}

	byName := make(map[string]lockfile.GemSpec, len(lock.GemSpecs))
	for _, g := range lock.GemSpecs {
		byName[g.Name] = g
	}

	jobs := make([]scheduler.Job, 0, len(lock.GemSpecs))
	for _, g := range lock.GemSpecs {
		g := g
		deps := make([]string, 0, len(g.Dependencies))
		for _, d := range g.Dependencies {
			if _, ok := byName[d.Name]; ok {
				deps = append(deps, d.Name)
			}
		}
		jobs = append(jobs, scheduler.Job{
			Name: g.Name,
			Deps: deps,
			Cost: int64(len(g.Dependencies)) + 1,
			Run: func(ctx context.Context) error {
				gemPath, err := fetchGemArtifact(ctx, cache, fetcher, logger, lock.GemRemotes, g)
				if err != nil {
					return err
				}
				return inst.Install(ctx, installer.Request{
					Name:         g.Name,
					Source:       installer.SourceRubyGems,
					PackagePath:  gemPath,
					ChecksumHex:  g.Checksum,
					ChecksumAlgo: gempackage.SHA256,
				})
			},
		})
	}
	return jobs, nil
}

// checkHostPlatform enforces the boundary behavior named in spec.md §8:
// a lockfile whose PLATFORMS list names at least one entry, none of which
// the running host satisfies, fails clean-install with UnresolvedDependency
// naming the platform rather than proceeding and failing later on a missing
// per-gem platform variant. An empty PLATFORMS list (older lockfiles that
// never recorded one) is not constrained.
func checkHostPlatform(lock *lockfile.Lockfile) error {
	if len(lock.Platforms) == 0 {
		return nil
	}
	host := platform.DetectHost()
	for _, p := range lock.Platforms {
		if platform.ParsePlatform(p).Matches(host) {
			return nil
		}
	}
	return rverrors.UnresolvedDependency(strings.Join(lock.Platforms, ", "))
}

// fullName renders a lockfile GemSpec's canonical "name-version[-platform]"
// identifier (§3's Full Name), omitting the platform suffix for the
// platform-independent "ruby" case.
func fullName(g lockfile.GemSpec) string {
	if g.Platform == "" || g.Platform == "ruby" {
		return fmt.Sprintf("%s-%s", g.Name, g.Version)
	}
	return fmt.Sprintf("%s-%s-%s", g.Name, g.Version, g.Platform)
}

// fetchGemArtifact resolves and downloads one GEM-sourced gem's .gem
// file (§4.K step 1: "<remote>/gems/<full_name>.gem"), hitting the
// content-addressed cache first (§4.C) so a second clean-install of the
// same lockfile performs zero downloads.
func fetchGemArtifact(ctx context.Context, cache *rvcache.Cache, fetcher *httpfetch.Fetcher, logger hclog.Logger, remotes []string, g lockfile.GemSpec) (string, error) {
	name := fullName(g)
	var lastErr error
	for _, remote := range remotes {
		url := strings.TrimRight(remote, "/") + "/gems/" + name + ".gem"
		key := rvcache.Key(name + "@" + remote)

		if f, err := cache.Open(rvcache.BucketGem, key); err == nil {
			f.Close()
			return cache.Path(rvcache.BucketGem, key), nil
		}

		tmpDir, err := os.MkdirTemp("", "rv-gem-download-*")
		if err != nil {
			return "", rverrors.FilesystemFailure(tmpDir, "mkdtemp", err)
		}
		tmpFile := filepath.Join(tmpDir, name+".gem")
		if err := fetcher.Get(ctx, url, tmpFile); err != nil {
			os.RemoveAll(tmpDir)
			lastErr = err
			logger.Debug("gem fetch failed, trying next remote", "gem", name, "remote", remote, "err", err)
			continue
		}

		data, err := os.Open(tmpFile)
		if err != nil {
			os.RemoveAll(tmpDir)
			return "", rverrors.FilesystemFailure(tmpFile, "open", err)
		}
		path, putErr := cache.Put(rvcache.BucketGem, key, data)
		data.Close()
		os.RemoveAll(tmpDir)
		if putErr != nil {
			return "", putErr
		}
		return path, nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", rverrors.GemNotFound(g.Name, g.Version)
}

// supportedBundlerVersion is the Bundler release rv's resolution logic
// has been validated against; a lockfile generated by a newer Bundler
// still installs, but mismatches are surfaced the way `bundle install`
// itself warns on a BUNDLED WITH drift.
const supportedBundlerVersion = "2.5.0"

// warnOnBundlerMismatch compares a lockfile's BUNDLED WITH line (true
// semver, unlike gem versions) against the Bundler release rv tracks.
func warnOnBundlerMismatch(cmd *cobra.Command, logger hclog.Logger, bundledWith string) {
	if bundledWith == "" {
		return
	}
	got, err := semver.NewVersion(bundledWith)
	if err != nil {
		logger.Debug("lockfile BUNDLED WITH is not valid semver, skipping check", "value", bundledWith)
		return
	}
	want := semver.MustParse(supportedBundlerVersion)
	if got.GreaterThan(want) {
		fmt.Fprintf(cmd.ErrOrStderr(), "rv: lockfile was generated by bundler %s, newer than the %s rv was validated against\n", got, want)
	}
}
