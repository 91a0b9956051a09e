package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spinel-coop/rv/internal/config"
	"github.com/spinel-coop/rv/pkg/logging"
	"github.com/spinel-coop/rv/pkg/rverrors"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "rv: panic: %v\n", r)
			debug.PrintStack()
			os.Exit(rverrors.ExitGeneric)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "rv: loading configuration: %v\n", err)
		os.Exit(rverrors.ExitGeneric)
	}

	logger := logging.NewLogger("rv", logging.GetLogLevel(), os.Stderr)

	cmd := newRootCmd(&cfg, logger)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, rverrors.Render(err, cfg.Format))
		os.Exit(rverrors.ExitCodeFor(err))
	}
}
