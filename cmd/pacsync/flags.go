package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/pacsync/pacsync/internal/policy"
	"github.com/pacsync/pacsync/version"
)

// sharedFlags are accepted by both sync and plan: plan needs every flag that
// feeds into a planner.RunPolicy, since the decision tree depends on the
// codec/quality/encoder triple exactly as a real sync run would use it.
func sharedFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "codec",
			Usage: "Output codec: aac, opus",
			Value: string(policy.CodecAAC),
		},
		&cli.IntFlag{
			Name:  "quality",
			Usage: "VBR level (AAC) or target kbps (Opus)",
			Value: 5,
		},
		&cli.StringFlag{
			Name:  "encoder",
			Usage: "Force a specific encoder backend (libfdk_aac, qaac, fdkaac, libopus); default tries the preference order",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Worker pool size; 0 means min(physical_cores, 8)",
		},
		&cli.BoolFlag{
			Name:  "adopt",
			Usage: "Adopt unfingerprinted destination files via Retag instead of re-converting",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "prune",
			Usage: "Delete orphaned destination files with no matching source",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Re-encode every source regardless of existing fingerprints",
		},
		&cli.BoolFlag{
			Name:  "refresh-stamp",
			Usage: "Retag (instead of Skip) when the stamped tool version or source path has drifted",
			Value: true,
		},
		&cli.StringFlag{
			Name:  "pcm-codec",
			Usage: "Intermediate PCM format for decode-then-encode pipelines: pcm_s24le, pcm_s16le",
			Value: string(policy.PCM24LE),
		},
		&cli.BoolFlag{
			Name:  "cover-resize",
			Usage: "Resize oversized cover art before embedding",
			Value: true,
		},
		&cli.IntFlag{
			Name:  "cover-max-side",
			Usage: "Maximum cover art longest side in pixels",
			Value: 1200,
		},
		&cli.BoolFlag{
			Name:  "verify",
			Usage: "Re-open freshly encoded output and compare tags against the source",
		},
		&cli.BoolFlag{
			Name:  "strict-verify",
			Usage: "Treat a verification mismatch as a failure instead of a warning",
		},
		&cli.DurationFlag{
			Name:  "commit-retry-delay",
			Usage: "Delay before the single permitted retry of a failed atomic commit",
			Value: 200 * time.Millisecond,
		},
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format: console, json, markdown",
			Value:   "console",
		},
	}
}

// buildPolicy translates CLI flags into an immutable policy.Policy (spec
// §9: "policy.Policy is built directly from CLI flags, no config-file
// parser is introduced").
func buildPolicy(cmd *cli.Command) (policy.Policy, error) {
	codec := policy.Codec(cmd.String("codec"))
	if codec != policy.CodecAAC && codec != policy.CodecOpus {
		return policy.Policy{}, fmt.Errorf("unknown codec %q: want aac or opus", cmd.String("codec"))
	}

	pcm := policy.PCMCodec(cmd.String("pcm-codec"))
	if pcm != policy.PCM24LE && pcm != policy.PCM16LE {
		return policy.Policy{}, fmt.Errorf("unknown pcm-codec %q", cmd.String("pcm-codec"))
	}

	return policy.Policy{
		Codec:             codec,
		Quality:           cmd.Int("quality"),
		EncoderPreference: cmd.String("encoder"),
		Workers:           cmd.Int("workers"),
		Adopt:             cmd.Bool("adopt"),
		Prune:             cmd.Bool("prune"),
		ForceReencode:     cmd.Bool("force"),
		RefreshStamp:      cmd.Bool("refresh-stamp"),
		PCMCodec:          pcm,
		CoverArt: policy.CoverArtPolicy{
			ResizeEnabled:  cmd.Bool("cover-resize"),
			MaxLongestSide: cmd.Int("cover-max-side"),
		},
		Verify:           cmd.Bool("verify"),
		StrictVerify:     cmd.Bool("strict-verify"),
		CommitRetryDelay: cmd.Duration("commit-retry-delay"),
		ToolVersion:      version.Version(),
	}, nil
}
