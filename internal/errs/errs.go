// Package errs declares the sentinel errors for the reconciliation-engine error
// taxonomy (see the per-file and fatal error kinds the planner and executor can
// produce). Sentinels are wrapped with fmt.Errorf("%w: ...", ...) at the call
// site, following the same convention the farcloser/primordium fault package
// uses; some kinds simply are a fault sentinel, reused directly.
package errs

import (
	"errors"

	"github.com/farcloser/primordium/fault"
)

// Fatal errors: abort the run before any action executes.
var (
	// ErrNoBackend means preflight could not select an encoder for the
	// requested codec. Equivalent to fault.ErrMissingRequirements, named
	// locally so callers can errors.Is against the domain-specific kind.
	ErrNoBackend = fault.ErrMissingRequirements
)

// Per-file errors: caught at the action boundary, recorded in the run summary,
// never halt the worker pool.
var (
	// ErrScanIO is returned when a source file could not be stat'd or its
	// FLAC header read. The scanner still emits the entry with audio_md5
	// unset and this error attached.
	ErrScanIO = errors.New("scan: source file unreadable")

	// ErrIndexParse is returned when an existing destination file could not
	// be opened or its tags parsed. The index still treats the file as
	// legacy (fingerprint absent).
	ErrIndexParse = errors.New("index: destination file unparseable")

	// ErrEncodeFailed reuses fault.ErrCommandFailure: an encoder/decoder
	// subprocess exited non-zero, was killed, or its pipe broke.
	ErrEncodeFailed = fault.ErrCommandFailure

	// ErrTagWrite is returned when the post-encode tag/art/fingerprint
	// write failed.
	ErrTagWrite = errors.New("executor: tag write failed")

	// ErrCommitFailed is returned when the atomic rename could not
	// complete, after the single permitted retry.
	ErrCommitFailed = errors.New("executor: commit failed")

	// ErrVerifyMismatch is returned when post-encode tag verification found
	// a discrepancy against the source. Warning by default, failure under
	// strict verification.
	ErrVerifyMismatch = errors.New("executor: verification mismatch")

	// ErrCancelled is returned when cooperative cancellation was observed
	// before the commit step of an action.
	ErrCancelled = errors.New("executor: cancelled")
)

// ErrTimeout and ErrMissingRequirement are re-exported from fault for callers
// that want to test subprocess failures without importing fault directly.
var (
	ErrTimeout            = fault.ErrTimeout
	ErrMissingRequirement = fault.ErrMissingRequirements
)
