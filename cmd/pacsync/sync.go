package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/pacsync/pacsync/internal/executor"
)

func syncCommand() *cli.Command {
	flags := append(sharedFlags(), &cli.BoolFlag{
		Name:  "events",
		Usage: "Also write an NDJSON per-file event stream to stderr",
	})

	return &cli.Command{
		Name:      "sync",
		Usage:     "Reconcile the destination tree against the source tree and execute the plan",
		ArgsUsage: "<source-root> <destination-root>",
		Flags:     flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 2 {
				return fmt.Errorf("%w: got %d", errArgs, cmd.NArg())
			}

			srcRoot := cmd.Args().Get(0)
			dstRoot := cmd.Args().Get(1)

			pol, err := buildPolicy(cmd)
			if err != nil {
				return err
			}

			actions, sel, err := buildPlan(ctx, srcRoot, dstRoot, pol)
			if err != nil {
				return err
			}

			exec := executor.Executor{
				Policy:  pol,
				Backend: sel,
				SrcRoot: srcRoot,
				DstRoot: dstRoot,
			}

			run := exec.Run(ctx, actions)

			if cmd.Bool("events") {
				if err := printEventsNDJSON(os.Stderr, run); err != nil {
					return err
				}
			}

			if err := printSummary(run, cmd.String("format")); err != nil {
				return err
			}

			if code := run.ExitCode(); code != 0 {
				os.Exit(code)
			}

			return nil
		},
	}
}
