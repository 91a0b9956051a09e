package main

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/pkg/rvcache"
)

func newCacheCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage rv's on-disk cache",
	}
	cmd.AddCommand(
		newCacheDirCmd(cfg, logger),
		newCachePruneCmd(cfg, logger),
		newCacheSizeCmd(cfg, logger),
	)
	return cmd
}

func newCacheDirCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "Print the cache root directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), cfg.CacheDir)
			return nil
		},
	}
}

func newCacheSizeCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Print the total size of cached entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := rvcache.New(cfg.CacheDir, cfg.NoCache, logger)
			if err != nil {
				return err
			}
			size, err := cache.Size()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bytes\n", size)
			return nil
		},
	}
}

func newCachePruneCmd(cfg *config.Config, logger hclog.Logger) *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove cache entries older than --max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := rvcache.New(cfg.CacheDir, cfg.NoCache, logger)
			if err != nil {
				return err
			}
			total := 0
			for _, bucket := range []rvcache.Bucket{rvcache.BucketRuby, rvcache.BucketGem, rvcache.BucketMetadata} {
				n, err := cache.Prune(bucket, maxAge)
				if err != nil {
					return err
				}
				total += n
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries older than %s\n", total, maxAge)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 30*24*time.Hour, "remove entries older than this duration")
	return cmd
}
