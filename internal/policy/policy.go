// Package policy defines the immutable run configuration shared by the
// planner and the executor. A Policy is built once by the CLI layer (or any
// other external collaborator) and passed down by value; nothing under
// internal/ mutates it.
package policy

import "time"

// Codec selects the lossy output family.
type Codec string

const (
	CodecAAC  Codec = "aac"
	CodecOpus Codec = "opus"
)

// Extension returns the output file extension for the codec.
func (c Codec) Extension() string {
	switch c {
	case CodecOpus:
		return ".opus"
	default:
		return ".m4a"
	}
}

// PCMCodec selects the intermediate PCM format used when a decode-then-encode
// pipeline is required (pipeline form B, spec §4.5.1).
type PCMCodec string

const (
	PCM24LE PCMCodec = "pcm_s24le"
	PCM16LE PCMCodec = "pcm_s16le"
)

// Policy is the immutable run configuration. Every field is set once at
// construction; the zero value is not meaningful and Policy should always be
// built through Default or a caller-owned equivalent.
type Policy struct {
	// Codec and Quality together identify the run's encoder settings; a
	// fingerprint mismatch on either triggers a Convert (spec §4.4.2).
	Codec   Codec
	Quality int // VBR level or target kbps, encoded as a decimal string in the fingerprint

	// EncoderPreference overrides the default backend preference order
	// (spec §4.1). Empty means "use the default order".
	EncoderPreference string

	// Workers bounds the executor's worker pool (spec §5). Zero means
	// min(physical_cores, 8).
	Workers int

	// Toggles controlling planner decisions (spec §4.4.2-3).
	Adopt         bool // adopt legacy (unfingerprinted) destination files via Retag
	Prune         bool // delete orphaned destination files
	ForceReencode bool // skip reconciliation, Convert every source
	RefreshStamp  bool // Retag instead of Skip when the stamped version/source_rel drifted

	// PCMCodec is used only for decode-then-encode pipelines (form B).
	PCMCodec PCMCodec

	// CoverArt controls cover-art handling (spec §4.5.3).
	CoverArt CoverArtPolicy

	// Verify enables post-encode tag verification (spec §4.5.8).
	Verify       bool
	StrictVerify bool // discrepancies become failures instead of warnings

	// CommitRetryDelay is the delay before the single permitted retry of a
	// transient CommitFailed (spec §5 Retries).
	CommitRetryDelay time.Duration

	// ToolVersion is stamped into every fingerprint written this run.
	ToolVersion string
}

// CoverArtPolicy configures cover-art resize behaviour.
type CoverArtPolicy struct {
	ResizeEnabled  bool
	MaxLongestSide int
}

// Default returns a Policy with the spec's documented defaults where one
// exists; fields with no stated default (e.g. Quality, the VBR level for the
// ~256kbps AAC target) are left to the caller, per spec §9 Open Questions.
func Default() Policy {
	return Policy{
		Codec:            CodecAAC,
		Workers:          0,
		Adopt:            true,
		Prune:            false,
		ForceReencode:    false,
		RefreshStamp:     true,
		PCMCodec:         PCM24LE,
		CommitRetryDelay: 200 * time.Millisecond,
		CoverArt: CoverArtPolicy{
			ResizeEnabled:  true,
			MaxLongestSide: 1200,
		},
	}
}

// WorkerCount resolves the Workers field against the host's CPU count,
// matching spec §5's default(min(physical_cores, 8)).
func (p Policy) WorkerCount(numCPU int) int {
	if p.Workers > 0 {
		return p.Workers
	}

	if numCPU > 8 {
		return 8
	}

	if numCPU < 1 {
		return 1
	}

	return numCPU
}
