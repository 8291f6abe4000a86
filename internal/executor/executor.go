// Package executor realises a plan (spec §4.5): it invokes encoder
// subprocesses, translates tags and cover art, embeds the fingerprint, and
// commits every action atomically, driven by the bounded worker pool of
// spec §5.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pacsync/pacsync/internal/backend"
	"github.com/pacsync/pacsync/internal/container/mp4tags"
	"github.com/pacsync/pacsync/internal/container/oggtags"
	"github.com/pacsync/pacsync/internal/errs"
	"github.com/pacsync/pacsync/internal/fingerprint"
	"github.com/pacsync/pacsync/internal/planner"
	"github.com/pacsync/pacsync/internal/policy"
	"github.com/pacsync/pacsync/internal/summary"
	"github.com/pacsync/pacsync/internal/tagtable"
)

// Executor holds the immutable per-run context every action needs: the
// policy, the frozen backend, and the two tree roots.
type Executor struct {
	Policy  policy.Policy
	Backend backend.Selected
	SrcRoot string
	DstRoot string
}

// Run executes every action in plan under a bounded worker pool sized by
// the policy (spec §5), and returns the completed run-summary record.
// Actions may complete in any order; ctx cancellation is observed between
// tasks (spec §5 Cancellation) and a final sweep removes any dangling
// ".part" files of the plan's Convert actions.
func (e Executor) Run(ctx context.Context, actions []planner.Action) *summary.Run {
	run := summary.NewRun(e.Backend.Candidate.ID)

	workers := e.Policy.WorkerCount(runtime.NumCPU())
	p := newPool(ctx, workers)

	for _, a := range actions {
		action := a

		p.submit(func(ctx context.Context) {
			e.execOne(ctx, action, run)
		})
	}

	p.close()
	run.Finish()

	e.sweepPartFiles(actions)

	return run
}

func (e Executor) execOne(ctx context.Context, action planner.Action, run *summary.Run) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		run.Record(summary.Event{
			Kind: action.Kind, Reason: action.Reason, SrcRel: action.Source.RelPath,
			DstRel: action.DstRel, Status: summary.StatusFailed, Elapsed: time.Since(start),
			Err: fmt.Errorf("%w", errs.ErrCancelled),
		})

		return
	}

	var err error

	switch action.Kind {
	case planner.Convert:
		err = e.doConvert(ctx, action)
	case planner.Rename:
		err = e.doRename(action)
	case planner.Retag:
		err = e.doRetag(action)
	case planner.Prune:
		err = e.doPrune(action)
	case planner.Skip:
		// No work; still recorded for the per-file event stream.
	}

	status := summary.StatusSucceeded
	if err != nil {
		status = summary.StatusFailed
		slog.Error("executor.execOne", "kind", action.Kind, "dst", action.DstRel, "error", err)
	}

	run.Record(summary.Event{
		Kind: action.Kind, Reason: action.Reason, SrcRel: action.Source.RelPath,
		DstRel: action.DstRel, Status: status, Elapsed: time.Since(start), Err: err,
	})
}

func (e Executor) srcPath(rel string) string { return filepath.Join(e.SrcRoot, filepath.FromSlash(rel)) }
func (e Executor) dstPath(rel string) string { return filepath.Join(e.DstRoot, filepath.FromSlash(rel)) }

// doConvert implements spec §4.5.1: encode, translate tags/art, embed the
// fingerprint, commit atomically.
func (e Executor) doConvert(ctx context.Context, action planner.Action) error {
	src := e.srcPath(action.Source.RelPath)
	dst := e.dstPath(action.DstRel)
	part := dst + ".part"

	if err := ensureParentDir(dst); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrEncodeFailed, err)
	}

	if err := runEncode(ctx, src, part, e.Policy.Codec, e.Policy.Quality, e.Policy.PCMCodec, e.Backend); err != nil {
		_ = os.Remove(part)

		return err
	}

	tags, cover, err := tagtable.FromFLAC(src)
	if err != nil {
		_ = os.Remove(part)

		return fmt.Errorf("%w: reading source tags: %w", errs.ErrTagWrite, err)
	}

	cover, err = prepareCover(cover, e.Policy.CoverArt)
	if err != nil {
		slog.Warn("executor.doConvert", "dst", action.DstRel, "cover-art-warning", err)

		cover = nil
	}

	fp := fingerprint.Fingerprint{
		SrcMD5: action.Source.AudioMD5, Encoder: e.Backend.Candidate.ID,
		Quality: e.Policy.Quality, Version: e.Policy.ToolVersion, SourceRel: action.Source.RelPath,
	}

	if err := writeTags(part, e.Policy.Codec, tags, fp, cover); err != nil {
		_ = os.Remove(part)

		return err
	}

	if e.Policy.Verify {
		if err := e.verify(part, tags); err != nil {
			if e.Policy.StrictVerify {
				_ = os.Remove(part)

				return fmt.Errorf("%w: %w", errs.ErrVerifyMismatch, err)
			}

			slog.Warn("executor.doConvert", "dst", action.DstRel, "verify-warning", err)
		}
	}

	return commit(part, dst, e.Policy.CommitRetryDelay)
}

// doRename implements spec §4.5.5: update source_rel on the existing
// fingerprint before the rename, then rename. Choosing "before" means a
// crash between the tag update and the rename leaves the file at the OLD
// path with a NEW source_rel — a state the next run's content-match decision
// (§4.4.2 step 1, decideContentMatch) simply sees as "src_md5 matches,
// path hasn't moved yet" and retries the rename; it never produces a file at the
// new path with a stale source_rel, which is the failure mode spec §4.5.5
// explicitly rules out.
//
// The standard tag set is re-derived from the source FLAC rather than
// read back out of the destination container: neither container reader
// exposes a full round-trip of the fixed field set (mp4tags.Read and
// oggtags.Read exist only to recover the fingerprint and, for Opus, the
// already-translated table), and the source is authoritative for content
// that hasn't changed — a rename never touches audio content, only path.
func (e Executor) doRename(action planner.Action) error {
	from := e.dstPath(action.FromRel)
	to := e.dstPath(action.DstRel)
	src := e.srcPath(action.Source.RelPath)

	existingFP, err := readFingerprint(from, e.Policy.Codec)
	if err != nil {
		return fmt.Errorf("%w: reading %s before rename: %w", errs.ErrIndexParse, from, err)
	}

	tags, cover, err := tagtable.FromFLAC(src)
	if err != nil {
		return fmt.Errorf("%w: reading source tags for rename: %w", errs.ErrTagWrite, err)
	}

	cover, err = prepareCover(cover, e.Policy.CoverArt)
	if err != nil {
		slog.Warn("executor.doRename", "dst", action.DstRel, "cover-art-warning", err)

		cover = nil
	}

	existingFP.SourceRel = action.Source.RelPath

	if err := writeTags(from, e.Policy.Codec, tags, existingFP, cover); err != nil {
		return err
	}

	if err := ensureParentDir(to); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrCommitFailed, err)
	}

	return commit(from, to, e.Policy.CommitRetryDelay)
}

// doRetag implements spec §4.5.6: stamp the fingerprint and, for adoption of
// legacy files, refresh the standard tag set from the current source. The
// container writers are themselves sidecar+rename internally (see
// mp4tags.Write/oggtags.Write), satisfying "write through a .part copy +
// rename" without a second layer of temp-file juggling here.
func (e Executor) doRetag(action planner.Action) error {
	dst := e.dstPath(action.DstRel)
	src := e.srcPath(action.Source.RelPath)

	tags, cover, err := tagtable.FromFLAC(src)
	if err != nil {
		return fmt.Errorf("%w: reading source tags for retag: %w", errs.ErrTagWrite, err)
	}

	cover, err = prepareCover(cover, e.Policy.CoverArt)
	if err != nil {
		slog.Warn("executor.doRetag", "dst", action.DstRel, "cover-art-warning", err)

		cover = nil
	}

	fp := fingerprint.Fingerprint{
		SrcMD5: action.Source.AudioMD5, Encoder: e.Backend.Candidate.ID,
		Quality: e.Policy.Quality, Version: e.Policy.ToolVersion, SourceRel: action.Source.RelPath,
	}

	return writeTags(dst, e.Policy.Codec, tags, fp, cover)
}

// doPrune implements spec §4.5.7: unlink the file; parent directories are
// left in place.
func (e Executor) doPrune(action planner.Action) error {
	if err := os.Remove(e.dstPath(action.DstRel)); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrCommitFailed, err)
	}

	return nil
}

// readFingerprint reads just the embedded PAC fingerprint from an existing
// destination file, for doRename's tag-before-move step.
func readFingerprint(path string, codec policy.Codec) (fingerprint.Fingerprint, error) {
	if codec == policy.CodecOpus {
		_, fp, _, err := oggtags.Read(path)
		return fp, err
	}

	fp, _, err := mp4tags.Read(path)

	return fp, err
}

// commit performs the atomic rename, permitting exactly one retry after a
// short delay on a transient failure (spec §5 Retries).
func commit(from, to string, retryDelay time.Duration) error {
	err := os.Rename(from, to)
	if err == nil {
		return nil
	}

	time.Sleep(retryDelay)

	if err2 := os.Rename(from, to); err2 != nil {
		_ = os.Remove(from)

		return fmt.Errorf("%w: %w", errs.ErrCommitFailed, err2)
	}

	return nil
}

// sweepPartFiles removes the ".part" file of every Convert action in the
// plan that is still on disk, the final cleanup step after cancellation or
// an unexpected exit (spec §5 Cancellation). Other ".part" files under the
// destination root are left alone.
func (e Executor) sweepPartFiles(actions []planner.Action) {
	for _, a := range actions {
		if a.Kind != planner.Convert {
			continue
		}

		part := e.dstPath(a.DstRel) + ".part"
		if rmErr := os.Remove(part); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Debug("executor.sweepPartFiles", "path", part, "error", rmErr)
		}
	}
}

// verify re-opens the freshly written, not yet committed ".part" output and compares a subset
// of tags against the source, whitespace-trimmed (spec §4.5.8).
func (e Executor) verify(partPath string, want tagtable.TagTable) error {
	var (
		got    tagtable.TagTable
		haveFP bool
		err    error
	)

	if e.Policy.Codec == policy.CodecOpus {
		got, _, haveFP, err = oggtags.Read(partPath)
	} else {
		_, haveFP, err = mp4tags.Read(partPath)
	}

	if err != nil {
		return fmt.Errorf("re-opening %s for verification: %w", partPath, err)
	}

	if !haveFP {
		return errors.New("fingerprint missing from freshly written output")
	}

	if e.Policy.Codec != policy.CodecOpus {
		// The MP4 reader only extracts the fingerprint (see readFingerprint);
		// a full standard-tag comparison on the MP4 side is not available, so
		// verification there is limited to "fingerprint present and valid".
		return nil
	}

	if strings.TrimSpace(got.Title) != strings.TrimSpace(want.Title) ||
		strings.TrimSpace(got.Artist) != strings.TrimSpace(want.Artist) {
		return errors.New("tag mismatch after encode: title/artist drifted")
	}

	return nil
}
