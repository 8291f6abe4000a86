package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pacsync/pacsync/internal/backend"
	"github.com/pacsync/pacsync/internal/errs"
	"github.com/pacsync/pacsync/internal/integration/binary"
	"github.com/pacsync/pacsync/internal/policy"
)

const subprocessTimeout = 10 * time.Minute

// runEncode drives the encoder subprocess chain for one Convert action (spec
// §4.5.1): pipeline form A when the selected backend accepts FLAC directly,
// otherwise form B (ffmpeg decode piped into the backend's own CLI). It
// writes the raw encoded bytes to partPath; tag/art/fingerprint embedding
// and the atomic commit happen in the caller.
func runEncode(ctx context.Context, srcPath, partPath string, codec policy.Codec, quality int, pcm policy.PCMCodec, sel backend.Selected) error {
	if sel.Candidate.AcceptsFLACDirectly {
		return runFFmpegDirect(ctx, srcPath, partPath, codec, quality)
	}

	return runDecodeThenEncode(ctx, srcPath, partPath, codec, quality, pcm, sel)
}

// runFFmpegDirect is pipeline form A: a single ffmpeg invocation that reads
// the FLAC source and writes the finished container directly.
func runFFmpegDirect(ctx context.Context, srcPath, partPath string, codec policy.Codec, quality int) error {
	ffmpegPath, found := binary.Available("ffmpeg")
	if !found {
		return fmt.Errorf("%w: ffmpeg", errs.ErrNoBackend)
	}

	args := []string{
		"-y",
		"-i", srcPath,
		"-map", "0:a:0", "-vn",
		"-map_metadata", "0",
		"-threads", "1",
		"-loglevel", "error",
	}

	switch codec {
	case policy.CodecOpus:
		args = append(args, "-c:a", "libopus", "-b:a", strconv.Itoa(quality)+"k", "-vbr", "on")
	default:
		args = append(args, "-c:a", "libfdk_aac", "-vbr", strconv.Itoa(quality),
			"-movflags", "+use_metadata_tags+faststart")
	}

	args = append(args, partPath)

	return runSubprocess(ctx, ffmpegPath, args, nil)
}

// runDecodeThenEncode is pipeline form B: ffmpeg decodes the FLAC source to
// WAV on stdout; the selected backend's own CLI reads that WAV on stdin and
// writes partPath. The two processes are connected by an OS pipe and their
// failures both propagate to the caller.
func runDecodeThenEncode(ctx context.Context, srcPath, partPath string, codec policy.Codec, quality int, pcm policy.PCMCodec, sel backend.Selected) error {
	ffmpegPath, found := binary.Available("ffmpeg")
	if !found {
		return fmt.Errorf("%w: ffmpeg", errs.ErrNoBackend)
	}

	decodeArgs := []string{
		"-i", srcPath,
		"-map", "0:a:0", "-vn", "-sn", "-dn",
		"-acodec", string(pcm),
		"-f", "wav",
		"-threads", "1",
		"-loglevel", "error",
		"-",
	}

	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()

	decodeCmd := exec.CommandContext(ctx, ffmpegPath, decodeArgs...) //nolint:gosec // ffmpegPath resolved via exec.LookPath

	encodeArgs, err := externalEncoderArgs(sel.Candidate.ID, codec, quality, partPath)
	if err != nil {
		return err
	}

	encodeCmd := exec.CommandContext(ctx, sel.BinaryPath, encodeArgs...) //nolint:gosec // sel.BinaryPath resolved by backend.Probe via exec.LookPath

	pipe, err := decodeCmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: creating decode pipe: %w", errs.ErrEncodeFailed, err)
	}

	encodeCmd.Stdin = pipe

	var decodeStderr, encodeStderr bytes.Buffer
	decodeCmd.Stderr = &decodeStderr
	encodeCmd.Stderr = &encodeStderr

	if err := encodeCmd.Start(); err != nil {
		return fmt.Errorf("%w: starting %s: %w", errs.ErrEncodeFailed, sel.Candidate.ID, err)
	}

	if err := decodeCmd.Run(); err != nil {
		_ = encodeCmd.Wait()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: decode after %v", errs.ErrTimeout, subprocessTimeout)
		}

		return fmt.Errorf("%w: decode: %s: %w", errs.ErrEncodeFailed, decodeStderr.String(), err)
	}

	if err := encodeCmd.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: encode after %v", errs.ErrTimeout, subprocessTimeout)
		}

		return fmt.Errorf("%w: encode (%s): %s: %w", errs.ErrEncodeFailed, sel.Candidate.ID, encodeStderr.String(), err)
	}

	return nil
}

// externalEncoderArgs builds the argument list for an external AAC CLI
// reading WAV on stdin. qaac gets the quality as its true-VBR level
// (--tvbr), fdkaac as its VBR mode (-m); both write to a named output path.
func externalEncoderArgs(encoderID string, codec policy.Codec, quality int, partPath string) ([]string, error) {
	switch encoderID {
	case "qaac":
		return []string{"--tvbr", strconv.Itoa(quality), "-o", partPath, "-"}, nil
	case "fdkaac":
		return []string{"-m", strconv.Itoa(quality), "-o", partPath, "-"}, nil
	default:
		return nil, fmt.Errorf("%w: %s has no decode-then-encode pipeline for codec %s", errs.ErrNoBackend, encoderID, codec)
	}
}

// runSubprocess is the shared single-process invocation pattern used by
// runFFmpegDirect: context timeout, stderr capture, deadline-vs-failure
// classification.
func runSubprocess(ctx context.Context, binPath string, args []string, stdin io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, subprocessTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binPath, args...) //nolint:gosec // binPath resolved via exec.LookPath or backend.Probe
	cmd.Stdin = stdin

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("executor.runSubprocess", "bin", binPath, "args", args)

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %v", errs.ErrTimeout, binPath, subprocessTimeout)
		}

		return fmt.Errorf("%w: %s: %s: %w", errs.ErrEncodeFailed, binPath, stderr.String(), err)
	}

	return nil
}

// ensureParentDir creates the destination's parent directory tree, mirroring
// the source tree's layout one-to-one (spec §6).
func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755) //nolint:gosec // destination tree permissions match the source convention
}
