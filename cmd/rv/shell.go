package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/pkg/rubystore"
	"github.com/spinel-coop/rv/pkg/rverrors"
	"github.com/spinel-coop/rv/pkg/shellenv"
)

func newShellCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Shell integration: activation hooks and one-shot env export",
	}
	cmd.AddCommand(
		newShellInitCmd(cfg, logger),
		newShellEnvCmd(cfg, logger),
		newShellCompletionsCmd(cfg, logger),
	)
	return cmd
}

// newShellCompletionsCmd emits a static completion script for the given
// shell, generated from the cobra command tree itself (§4.L's
// `completions` subcommand) rather than hand-maintained per-shell text.
func newShellCompletionsCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:       "completions <shell>",
		Short:     "Print a static completion script for the given shell",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			default:
				return rverrors.UnknownShell(args[0])
			}
		},
	}
}

func newShellInitCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init <shell>",
		Short: "Print the activation hook for the given shell, for sourcing from an rc file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sh, err := shellenv.ParseShell(args[0])
			if err != nil {
				return err
			}
			rvExe, err := os.Executable()
			if err != nil {
				rvExe = "rv"
			}
			out, err := shellenv.Init(sh, rvExe)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newShellEnvCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print a one-shot PATH/GEM_HOME export for the Ruby active in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			name := format
			if name == "posix" {
				name = "bash"
			}
			sh, err := shellenv.ParseShell(name)
			if err != nil {
				return err
			}
			wd, err := os.Getwd()
			if err != nil {
				return err
			}
			store := rubystore.New(cfg.RubyDirs, logger)
			resolved, err := rubystore.Resolve(wd, rubystore.Request{}, cfg.DefaultRuby, store)
			if err != nil {
				return err
			}
			ruby, ok := store.Find(resolved.Engine, resolved.Requirement)
			if !ok {
				return rverrors.RubyNotFound(resolved.Raw)
			}
			gemHome := filepath.Join(ruby.Path, "lib", "ruby", "gems", ruby.Version.String())
			vars := shellenv.ActivationVars{
				RubyRoot:    ruby.Path,
				RubyEngine:  ruby.Engine,
				RubyVersion: ruby.Version.String(),
				RubyBin:     filepath.Join(ruby.Path, "bin"),
				GemBin:      filepath.Join(gemHome, "bin"),
				GemHome:     gemHome,
				GemPath:     gemHome,
				ManDir:      filepath.Join(ruby.Path, "share", "man"),
			}
			fmt.Fprint(cmd.OutOrStdout(), shellenv.Env(sh, vars, os.Getenv("__RV_ACTIVE_PREFIX")))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "posix", "output syntax: posix, fish, nu, or pwsh")
	return cmd
}
