package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/pkg/httpfetch"
	"github.com/spinel-coop/rv/pkg/rverrors"
	"github.com/spinel-coop/rv/pkg/rubystore"
	"github.com/spinel-coop/rv/pkg/rvcache"
)

// managedTag highlights rv-managed installs in `ruby list` output; color
// auto-disables when stdout isn't a terminal.
var managedTag = color.New(color.FgGreen)

func newRubyCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ruby",
		Short: "Manage installed Ruby interpreters",
	}
	cmd.AddCommand(
		newRubyListCmd(cfg, logger),
		newRubyInstallCmd(cfg, logger),
		newRubyUninstallCmd(cfg, logger),
		newRubyPinCmd(cfg, logger),
		newRubyFindCmd(cfg, logger),
		newRubyRunCmd(cfg, logger),
	)
	return cmd
}

func openStore(cfg *config.Config, logger hclog.Logger) *rubystore.Store {
	return rubystore.New(cfg.RubyDirs, logger)
}

func newRubyListCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	var installedOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed Ruby interpreters",
		RunE: func(cmd *cobra.Command, args []string) error {
			rubies, err := openStore(cfg, logger).List()
			if err != nil {
				return err
			}
			if installedOnly {
				filtered := rubies[:0]
				for _, r := range rubies {
					if r.Managed {
						filtered = append(filtered, r)
					}
				}
				rubies = filtered
			}

			if cfg.Format == "json" {
				return writeRubyListJSON(cmd, rubies)
			}
			for _, r := range rubies {
				managed := ""
				if r.Managed {
					managed = managedTag.Sprint(" (rv)")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s%s\n", r.Engine, r.Version, managed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&installedOnly, "installed-only", false, "only show installs rv itself performed")
	return cmd
}

// rubyListEntry is the JSON shape of one `ruby list --format json` row.
type rubyListEntry struct {
	Engine   string `json:"engine"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Path     string `json:"path"`
	Managed  bool   `json:"managed"`
}

func writeRubyListJSON(cmd *cobra.Command, rubies []rubystore.Ruby) error {
	entries := make([]rubyListEntry, len(rubies))
	for i, r := range rubies {
		entries[i] = rubyListEntry{
			Engine:   r.Engine,
			Version:  r.Version.String(),
			Platform: r.Platform.String(),
			Path:     r.Path,
			Managed:  r.Managed,
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(entries)
}

func newRubyFindCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "find [version]",
		Short: "Print the path to a Ruby matching the given (or active) version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			}
			requested, err := rubystore.ParseRequest(raw)
			if err != nil {
				return err
			}
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			store := openStore(cfg, logger)
			resolved, err := rubystore.Resolve(wd, requested, cfg.DefaultRuby, store)
			if err != nil {
				return err
			}
			ruby, ok := store.Find(resolved.Engine, resolved.Requirement)
			if !ok {
				return rverrors.RubyNotFound(resolved.Raw)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ruby.ExecutablePath())
			return nil
		},
	}
}

func newRubyPinCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <version>",
		Short: "Write a .ruby-version file in the current directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requested, err := rubystore.ParseRequest(args[0])
			if err != nil {
				return err
			}
			if _, ok := openStore(cfg, logger).Find(requested.Engine, requested.Requirement); !ok {
				if err := installMissingRuby(cmd, cfg, logger, requested); err != nil {
					return err
				}
			}
			return os.WriteFile(".ruby-version", []byte(args[0]+"\n"), 0o644)
		},
	}
}

func newRubyRunCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:                "run -- <command> [args...]",
		Short:              "Run a command with the resolved Ruby's bin directory on PATH",
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			return runWithRubyOnPath(ruby.ExecutablePath(), args)
		},
	}
	return cmd
}

// installMissingRuby wires §4.F's "(a) triggers install via E" branch:
// `ruby run`/`clean-install`/`ruby pin` install a missing Ruby rather
// than failing outright, unlike the read-only commands (`ruby find`).
func installMissingRuby(cmd *cobra.Command, cfg *config.Config, logger hclog.Logger, req rubystore.Request) error {
	cache, err := rvcache.New(cfg.CacheDir, cfg.NoCache, logger)
	if err != nil {
		return err
	}
	fetcher := httpfetch.New(version, httpfetch.WithLogger(logger))
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return installRuby(ctx, cmd, cfg, logger, cache, fetcher, req, false)
}

func newRubyInstallCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install <version>",
		Short: "Download and install a Ruby interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := args[0]
			if arg == "latest" {
				arg = ""
			}
			requested, err := rubystore.ParseRequest(arg)
			if err != nil {
				return err
			}
			cache, err := rvcache.New(cfg.CacheDir, cfg.NoCache, logger)
			if err != nil {
				return err
			}
			fetcher := httpfetch.New(version, httpfetch.WithLogger(logger))
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return installRuby(ctx, cmd, cfg, logger, cache, fetcher, requested, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reinstall even if already present")
	return cmd
}

func newRubyUninstallCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "uninstall <version>",
		Short: "Remove an installed Ruby interpreter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requested, err := rubystore.ParseRequest(args[0])
			if err != nil {
				return err
			}
			store := openStore(cfg, logger)
			ruby, ok := store.Find(requested.Engine, requested.Requirement)
			if !ok {
				return rverrors.RubyNotFound(requested.Raw)
			}
			return store.Uninstall(ruby, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove even if rv did not install it")
	return cmd
}

func runWithRubyOnPath(rubyExe string, args []string) error {
	rubyDir := filepath.Dir(rubyExe)
	path := rubyDir + string(os.PathListSeparator) + os.Getenv("PATH")

	c := exec.Command(args[0], args[1:]...)
	c.Env = append(os.Environ(), "PATH="+path)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		return err
	}
	return nil
}
