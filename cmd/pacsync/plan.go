package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/pacsync/pacsync/internal/backend"
	"github.com/pacsync/pacsync/internal/destindex"
	"github.com/pacsync/pacsync/internal/planner"
	"github.com/pacsync/pacsync/internal/policy"
	"github.com/pacsync/pacsync/internal/sourcescan"
)

var errArgs = errors.New("expected exactly two arguments: source-root destination-root")

// buildPlan runs the Preflight, Source Scanner, and Destination Index
// components and correlates them into an action list (spec §2 components
// 1-4), returning the frozen backend selection alongside the plan so sync
// can reuse it without probing twice.
func buildPlan(ctx context.Context, srcRoot, dstRoot string, pol policy.Policy) ([]planner.Action, backend.Selected, error) {
	set := backend.Probe(ctx)

	sel, err := backend.Select(set, pol.Codec, pol)
	if err != nil {
		return nil, backend.Selected{}, err
	}

	sources, err := sourcescan.Scan(srcRoot)
	if err != nil {
		return nil, sel, fmt.Errorf("scanning source tree %s: %w", srcRoot, err)
	}

	dest, err := destindex.Build(dstRoot, pol.Codec.Extension())
	if err != nil {
		return nil, sel, fmt.Errorf("indexing destination tree %s: %w", dstRoot, err)
	}

	run := planner.RunPolicy{
		EncoderID: sel.Candidate.ID,
		Quality:   pol.Quality,
		Version:   pol.ToolVersion,
	}

	return planner.Plan(sources, dest, pol, run), sel, nil
}

func planCommand() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "Compute and print the reconciliation plan without executing it",
		ArgsUsage: "<source-root> <destination-root>",
		Flags:     sharedFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 2 {
				return fmt.Errorf("%w: got %d", errArgs, cmd.NArg())
			}

			pol, err := buildPolicy(cmd)
			if err != nil {
				return err
			}

			actions, _, err := buildPlan(ctx, cmd.Args().Get(0), cmd.Args().Get(1), pol)
			if err != nil {
				return err
			}

			return printPlan(actions, cmd.String("format"))
		},
	}
}
