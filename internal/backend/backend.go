// Package backend is the Preflight / Encoder Selector (spec §4.1): it probes
// the external encoder binaries available on the host and freezes a single
// backend identity for the entire run. Plan decisions depend on that frozen
// identity (an encoder change is a re-encode trigger).
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/pacsync/pacsync/internal/errs"
	"github.com/pacsync/pacsync/internal/integration/binary"
	"github.com/pacsync/pacsync/internal/policy"
)

const probeTimeout = 5 * time.Second

// Candidate is one encoder binary this system knows how to drive.
type Candidate struct {
	// ID is the normalised identifier stamped into every fingerprint this
	// backend writes (spec §3 Fingerprint.encoder).
	ID string
	// Binary is the executable name looked up on PATH.
	Binary string
	// Codec is the output family this candidate produces.
	Codec policy.Codec
	// AcceptsFLACDirectly is true when the candidate (via ffmpeg) can read a
	// FLAC input natively, avoiding pipeline form B's decode step (spec
	// §4.5.1).
	AcceptsFLACDirectly bool
}

// defaultPreference is the ordered candidate list spec §4.1 describes: for
// AAC, native high-quality encoder > AAC via external CLI > fallback AAC
// CLI; for Opus, the native Opus encoder. ffmpeg's own libfdk_aac build is
// preferred when present since it both decodes and encodes in one process
// (pipeline form A); qaac and fdkaac require a separate PCM decode stage.
var defaultPreference = []Candidate{
	{ID: "libfdk_aac", Binary: "ffmpeg", Codec: policy.CodecAAC, AcceptsFLACDirectly: true},
	{ID: "qaac", Binary: "qaac64", Codec: policy.CodecAAC, AcceptsFLACDirectly: false},
	{ID: "fdkaac", Binary: "fdkaac", Codec: policy.CodecAAC, AcceptsFLACDirectly: false},
	{ID: "libopus", Binary: "ffmpeg", Codec: policy.CodecOpus, AcceptsFLACDirectly: true},
}

// Set is the result of probing every candidate once (spec §4.1 probe()).
type Set struct {
	available map[string]string // candidate ID -> resolved binary path
}

// Probe detects which of the default candidates are available on PATH.
// The external AAC CLIs (qaac64, fdkaac) are only looked up on PATH, never
// run, so a compatibility layer (e.g. an emulator for a Windows-only CLI) is
// not started here. ffmpeg is run once per ffmpeg-based candidate with
// "-encoders" to check that the encoder is compiled in.
func Probe(ctx context.Context) Set {
	available := make(map[string]string)

	for _, c := range defaultPreference {
		path, found := binary.Available(c.Binary)
		if !found {
			slog.Debug("backend.Probe", "candidate", c.ID, "binary", c.Binary, "available", false)
			continue
		}

		if c.ID == "libfdk_aac" || c.ID == "libopus" {
			if !ffmpegHasEncoder(ctx, path, c.ID) {
				slog.Debug("backend.Probe", "candidate", c.ID, "binary", c.Binary, "available", false, "reason", "encoder not compiled in")
				continue
			}
		}

		slog.Debug("backend.Probe", "candidate", c.ID, "binary", c.Binary, "available", true)
		available[c.ID] = path
	}

	return Set{available: available}
}

// ffmpegHasEncoder runs "ffmpeg -encoders" and checks the named encoder is
// listed, since a distro ffmpeg build may lack libfdk_aac or libopus.
func ffmpegHasEncoder(ctx context.Context, ffmpegPath, encoderName string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders").Output() //nolint:gosec // ffmpegPath resolved via exec.LookPath above
	if err != nil {
		return false
	}

	return strings.Contains(string(out), encoderName)
}

// Selected is the frozen backend identity for one run (spec §4.1: "made
// once per run and frozen").
type Selected struct {
	Candidate Candidate
	BinaryPath string
}

// Select applies the preference ordering against the probed Set for the
// requested codec, honouring pol.EncoderPreference as an override. It fails
// with errs.ErrNoBackend when nothing for the codec is available.
func Select(set Set, codec policy.Codec, pol policy.Policy) (Selected, error) {
	if pol.EncoderPreference != "" {
		for _, c := range defaultPreference {
			if c.ID == pol.EncoderPreference && c.Codec == codec {
				if path, ok := set.available[c.ID]; ok {
					return Selected{Candidate: c, BinaryPath: path}, nil
				}

				return Selected{}, fmt.Errorf("%w: requested encoder %q for codec %s not available",
					errs.ErrNoBackend, pol.EncoderPreference, codec)
			}
		}

		return Selected{}, fmt.Errorf("%w: unknown encoder preference %q", errs.ErrNoBackend, pol.EncoderPreference)
	}

	for _, c := range defaultPreference {
		if c.Codec != codec {
			continue
		}

		if path, ok := set.available[c.ID]; ok {
			return Selected{Candidate: c, BinaryPath: path}, nil
		}
	}

	return Selected{}, fmt.Errorf("%w: no backend available for codec %s", errs.ErrNoBackend, codec)
}
