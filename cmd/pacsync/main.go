// Command pacsync reconciles a lossy mirror of a FLAC source tree (spec
// §1-§6): plan computes the action list, sync executes it.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/pacsync/pacsync/internal/errs"
	"github.com/pacsync/pacsync/version"
)

func main() {
	ctx := context.Background()

	appl := &cli.Command{
		Name:    version.Name(),
		Usage:   "Reconcile a lossy mirror of a lossless audio library",
		Version: version.Version() + " " + version.Commit(),
		Commands: []*cli.Command{
			syncCommand(),
			planCommand(),
		},
	}

	if err := appl.Run(ctx, os.Args); err != nil {
		slog.Error("failed to run", "error", err)

		// Preflight failure (no backend selected) gets its own exit code,
		// distinct from the 1 a run with failed file actions returns.
		if errors.Is(err, errs.ErrNoBackend) {
			os.Exit(2)
		}

		os.Exit(1)
	}
}
