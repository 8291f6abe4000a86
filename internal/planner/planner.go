// Package planner is the stateless reconciliation engine (spec §4.4): it
// correlates a source scan and a destination index against the current run
// policy to produce a deterministic, minimal action list. It holds no state
// across calls and performs no I/O — Plan is a pure function of its inputs.
package planner

import (
	"sort"

	"github.com/pacsync/pacsync/internal/destindex"
	"github.com/pacsync/pacsync/internal/fingerprint"
	"github.com/pacsync/pacsync/internal/policy"
	"github.com/pacsync/pacsync/internal/sourcescan"
)

// ActionKind enumerates the five action variants (spec §3 PlanAction).
type ActionKind int

const (
	Convert ActionKind = iota
	Rename
	Retag
	Skip
	Prune
)

func (k ActionKind) String() string {
	switch k {
	case Convert:
		return "convert"
	case Rename:
		return "rename"
	case Retag:
		return "retag"
	case Skip:
		return "skip"
	case Prune:
		return "prune"
	default:
		return "unknown"
	}
}

// Reason is the code attached to every action, explaining why the planner
// chose it (spec §4.4.2, §7).
type Reason string

const (
	ReasonUpToDate          Reason = "up-to-date"
	ReasonPathDrift         Reason = "path-drift"
	ReasonQualityMismatch   Reason = "quality-mismatch"
	ReasonEncoderMismatch   Reason = "encoder-mismatch"
	ReasonContentSwap       Reason = "content-swap"
	ReasonWeakIdentityStale Reason = "weak-identity-stale"
	ReasonNoMatch           Reason = "no-match"
	ReasonLegacyAdopt       Reason = "legacy-adopt"
	ReasonLegacyConvert     Reason = "legacy-convert"
	ReasonStampRefresh      Reason = "stamp-refresh"
	ReasonForceReencode     Reason = "force-reencode"
	ReasonOrphanPrune       Reason = "orphan-prune"
	ReasonOrphanReport      Reason = "orphan-report"
)

// Action is the sum type of spec §3's PlanAction, represented as one struct
// with kind-dependent fields populated (spec §9: explicit result values
// instead of exception-driven or dynamically-typed variants).
type Action struct {
	Kind   ActionKind
	Reason Reason

	// Source is set for Convert, Rename, Retag.
	Source sourcescan.Entry

	// DstRel is the destination-relative path the action targets; for
	// Rename it is the new path (the old path is FromRel).
	DstRel string

	// FromRel is set only for Rename: the destination's current path.
	FromRel string
}

// RunPolicy is what the per-source decision compares fingerprints against:
// the frozen encoder identity and quality (a mismatch forces a Convert) and
// the tool version (a mismatch upgrades a Skip to a stamp-refresh Retag).
type RunPolicy struct {
	EncoderID string
	Quality   int
	Version   string
}

// Plan computes the full action list from the scanner output, the
// destination index, and the policy. It is deterministic: sorting sources
// by RelPath before deciding, and resolving collisions in that same order,
// makes two calls on equal inputs produce equal outputs (spec §4.4.4, the
// Determinism testable property).
func Plan(sources []sourcescan.Entry, dest destindex.Index, pol policy.Policy, run RunPolicy) []Action {
	sorted := make([]sourcescan.Entry, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RelPath < sorted[j].RelPath })

	byRel := make(map[string]destindex.Entry, len(dest.ByRel))
	for _, e := range dest.ByRel {
		byRel[e.RelPath] = e
	}

	ext := pol.Codec.Extension()

	claimed := claimedExisting(sorted, dest, byRel, ext)

	takenExisting := make(map[string]bool, len(dest.ByRel))
	for _, e := range dest.ByRel {
		if claimed[caseFold(e.RelPath)] {
			continue
		}

		takenExisting[caseFold(e.RelPath)] = true
	}

	takenPlanned := make(map[string]bool, len(sorted))
	used := make(map[string]bool, len(sorted)*2)

	actions := make([]Action, 0, len(sorted))

	for _, s := range sorted {
		dstRel := resolveDestPath(s.RelPath, ext, takenExisting, takenPlanned)
		takenPlanned[caseFold(dstRel)] = true

		action := decide(s, dstRel, dest, byRel, pol, run)
		actions = append(actions, action)

		used[caseFold(action.DstRel)] = true
		if action.Kind == Rename {
			used[caseFold(action.FromRel)] = true
		}
	}

	actions = append(actions, orphans(dest, used, pol)...)

	return actions
}

// claimedExisting determines which existing destination paths this plan will
// reuse (a content match) or supersede in place (an exact natural-path match,
// pre-collision-suffix) for some source, per spec §4.4.1 step 3:
// taken_existing must hold only the destination paths this plan does NOT
// intend to reuse or supersede. Computing claims against each source's
// natural path — before any collision suffixing — is what lets decide() see
// a source's own already-correct output slot as unoccupied instead of
// colliding with itself.
func claimedExisting(sorted []sourcescan.Entry, dest destindex.Index, byRel map[string]destindex.Entry, ext string) map[string]bool {
	claimed := make(map[string]bool, len(sorted))

	for _, s := range sorted {
		natural := withExtension(sanitizePath(s.RelPath), ext)

		if s.HasAudioMD5() {
			if candidates := dest.ByMD5(s.AudioMD5); len(candidates) > 0 {
				chosen := preferredCandidate(candidates, natural)
				claimed[caseFold(chosen.RelPath)] = true

				continue
			}
		}

		if _, ok := byRel[natural]; ok {
			claimed[caseFold(natural)] = true
		}
	}

	return claimed
}

// preferredCandidate picks the content-match candidate already sitting at
// path when one exists, else the first candidate in index order. Used both
// when pre-computing claims (against a source's natural path) and inside
// decideContentMatch (against its final resolved path), so the two phases
// never disagree about which destination entry a source is reusing.
func preferredCandidate(candidates []destindex.Entry, path string) destindex.Entry {
	for _, c := range candidates {
		if c.RelPath == path {
			return c
		}
	}

	return candidates[0]
}

// resolveDestPath computes the sanitised candidate path for relPath and
// resolves any collision against already-taken case-folded keys, following
// spec §4.4.1: suffix the stem with " (2)", " (3)", ... until unique.
func resolveDestPath(relPath, ext string, takenExisting, takenPlanned map[string]bool) string {
	candidate := withExtension(sanitizePath(relPath), ext)

	key := caseFold(candidate)
	if !takenExisting[key] && !takenPlanned[key] {
		return candidate
	}

	for n := 2; ; n++ {
		attempt := withCollisionSuffix(candidate, n)

		key := caseFold(attempt)
		if !takenExisting[key] && !takenPlanned[key] {
			return attempt
		}
	}
}

// decide applies the per-source decision tree (spec §4.4.2) for one source
// entry against its resolved destination path.
func decide(s sourcescan.Entry, dstRel string, dest destindex.Index, byRel map[string]destindex.Entry, pol policy.Policy, run RunPolicy) Action {
	if pol.ForceReencode {
		return Action{Kind: Convert, Reason: ReasonForceReencode, Source: s, DstRel: dstRel}
	}

	if s.HasAudioMD5() {
		if candidates := dest.ByMD5(s.AudioMD5); len(candidates) > 0 {
			return decideContentMatch(s, dstRel, candidates, pol, run)
		}
	}

	if existing, ok := byRel[dstRel]; ok {
		return decidePathMatch(s, dstRel, existing, pol, run)
	}

	return Action{Kind: Convert, Reason: ReasonNoMatch, Source: s, DstRel: dstRel}
}

// decideContentMatch implements spec §4.4.2 step 1: a destination output
// already carries this source's exact audio content.
func decideContentMatch(s sourcescan.Entry, dstRel string, candidates []destindex.Entry, pol policy.Policy, run RunPolicy) Action {
	chosen := preferredCandidate(candidates, dstRel)

	fp := chosen.Fingerprint

	if fp.Encoder != run.EncoderID || fp.Quality != run.Quality {
		reason := ReasonEncoderMismatch
		if fp.Encoder == run.EncoderID {
			reason = ReasonQualityMismatch
		}

		return Action{Kind: Convert, Reason: reason, Source: s, DstRel: dstRel}
	}

	if chosen.RelPath == dstRel {
		return maybeRefresh(s, dstRel, fp, pol, run)
	}

	return Action{Kind: Rename, Reason: ReasonPathDrift, Source: s, DstRel: dstRel, FromRel: chosen.RelPath}
}

// decidePathMatch implements spec §4.4.2 step 2: no content match, but a
// destination output already occupies this source's resolved path.
func decidePathMatch(s sourcescan.Entry, dstRel string, existing destindex.Entry, pol policy.Policy, run RunPolicy) Action {
	if !existing.HasFP {
		if pol.Adopt {
			return Action{Kind: Retag, Reason: ReasonLegacyAdopt, Source: s, DstRel: dstRel}
		}

		return Action{Kind: Convert, Reason: ReasonLegacyConvert, Source: s, DstRel: dstRel}
	}

	if s.HasAudioMD5() {
		if existing.Fingerprint.SrcMD5 != s.AudioMD5 {
			return Action{Kind: Convert, Reason: ReasonContentSwap, Source: s, DstRel: dstRel}
		}
		// Reaching here with a matching src_md5 but no content match above
		// means the index's by_md5 map missed this entry (shouldn't happen
		// for a well-formed index); treat like the content-match path.
		return maybeRefresh(s, dstRel, existing.Fingerprint, pol, run)
	}

	// Source audio_md5 unreadable: weak identity. Spec §4.4.2 step 2c says we
	// cannot know whether content changed, so prefer Convert.
	return Action{Kind: Convert, Reason: ReasonWeakIdentityStale, Source: s, DstRel: dstRel}
}

// maybeRefresh implements spec §4.4.2 step 5: an otherwise-Skip action is
// upgraded to Retag when the stamped version or source_rel has drifted from
// the current run (e.g. the tool was upgraded, or this exact content was
// re-adopted under a different source path), even though content and
// quality/encoder still match. src_md5/quality/encoder mismatches are
// handled earlier and never reach here, so they never upgrade to Retag.
// With pol.RefreshStamp off, a drifted stamp is left as is and the action
// stays a Skip.
func maybeRefresh(s sourcescan.Entry, dstRel string, fp fingerprint.Fingerprint, pol policy.Policy, run RunPolicy) Action {
	if pol.RefreshStamp && (fp.Version != run.Version || fp.SourceRel != s.RelPath) {
		return Action{Kind: Retag, Reason: ReasonStampRefresh, Source: s, DstRel: dstRel}
	}

	return Action{Kind: Skip, Reason: ReasonUpToDate, Source: s, DstRel: dstRel}
}

func orphans(dest destindex.Index, used map[string]bool, pol policy.Policy) []Action {
	var actions []Action

	for _, e := range dest.ByRel {
		if used[caseFold(e.RelPath)] {
			continue
		}

		if pol.Prune {
			actions = append(actions, Action{Kind: Prune, Reason: ReasonOrphanPrune, DstRel: e.RelPath})
		} else {
			actions = append(actions, Action{Kind: Skip, Reason: ReasonOrphanReport, DstRel: e.RelPath})
		}
	}

	return actions
}
