package main

import (
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/spinel-coop/rv/internal/config"
)

func newRootCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "rv",
		Short:         "rv manages Ruby interpreters and gems",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfg.Format, "format", cfg.Format, "output format: text or json")
	root.PersistentFlags().BoolVar(&cfg.NoCache, "no-cache", cfg.NoCache, "bypass the on-disk cache for this invocation")
	root.PersistentFlags().StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "override the cache root directory")

	root.AddCommand(newRubyCmd(cfg, logger))
	root.AddCommand(newCleanInstallCmd(cfg, logger))
	root.AddCommand(newShellCmd(cfg, logger))
	root.AddCommand(newCacheCmd(cfg, logger))

	return root
}
