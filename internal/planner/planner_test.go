package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/pacsync/pacsync/internal/destindex"
	"github.com/pacsync/pacsync/internal/fingerprint"
	"github.com/pacsync/pacsync/internal/policy"
	"github.com/pacsync/pacsync/internal/sourcescan"
)

func testRunPolicy() RunPolicy {
	return RunPolicy{EncoderID: "libfdk_aac", Quality: 5, Version: "1.0.0"}
}

func basePolicy() policy.Policy {
	p := policy.Default()
	p.Codec = policy.CodecAAC
	p.Quality = 5

	return p
}

// newTestIndex builds a destindex.Index with both by_rel and by_md5
// populated, mirroring destindex.Build's own grouping so planner tests can
// exercise the content-match path without touching the filesystem.
func newTestIndex(entries ...destindex.Entry) destindex.Index {
	byMD5 := make(map[string][]destindex.Entry)

	for _, e := range entries {
		if e.HasFP {
			byMD5[e.Fingerprint.SrcMD5] = append(byMD5[e.Fingerprint.SrcMD5], e)
		}
	}

	return destindex.IndexForTest(entries, byMD5)
}

func TestScenarioA_ColdRun(t *testing.T) {
	sources := []sourcescan.Entry{
		{RelPath: "A/1.flac", AudioMD5: "11111111111111111111111111111111"},
		{RelPath: "A/2.flac", AudioMD5: "22222222222222222222222222222222"},
	}

	actions := Plan(sources, newTestIndex(), basePolicy(), testRunPolicy())

	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, Convert, a.Kind)
	}
}

func TestScenarioA_SecondRunSkips(t *testing.T) {
	sources := []sourcescan.Entry{
		{RelPath: "A/1.flac", AudioMD5: "11111111111111111111111111111111"},
	}

	dest := newTestIndex(destindex.Entry{
		RelPath: "A/1.m4a",
		HasFP:   true,
		Fingerprint: fingerprint.Fingerprint{
			SrcMD5: "11111111111111111111111111111111", Encoder: "libfdk_aac", Quality: 5,
			Version: "1.0.0", SourceRel: "A/1.flac",
		},
	})

	actions := Plan(sources, dest, basePolicy(), testRunPolicy())

	require.Len(t, actions, 1)
	assert.Equal(t, Skip, actions[0].Kind)
	assert.Equal(t, ReasonUpToDate, actions[0].Reason)
}

func TestScenarioB_Rename(t *testing.T) {
	sources := []sourcescan.Entry{
		{RelPath: "B/1.flac", AudioMD5: "11111111111111111111111111111111"},
		{RelPath: "A/2.flac", AudioMD5: "22222222222222222222222222222222"},
	}

	dest := newTestIndex(
		destindex.Entry{RelPath: "A/1.m4a", HasFP: true, Fingerprint: fingerprint.Fingerprint{
			SrcMD5: "11111111111111111111111111111111", Encoder: "libfdk_aac", Quality: 5,
			Version: "1.0.0", SourceRel: "A/1.flac",
		}},
		destindex.Entry{RelPath: "A/2.m4a", HasFP: true, Fingerprint: fingerprint.Fingerprint{
			SrcMD5: "22222222222222222222222222222222", Encoder: "libfdk_aac", Quality: 5,
			Version: "1.0.0", SourceRel: "A/2.flac",
		}},
	)

	actions := Plan(sources, dest, basePolicy(), testRunPolicy())

	require.Len(t, actions, 2)

	byDst := map[string]Action{}
	for _, a := range actions {
		byDst[a.DstRel] = a
	}

	rename := byDst["B/1.m4a"]
	assert.Equal(t, Rename, rename.Kind)
	assert.Equal(t, "A/1.m4a", rename.FromRel)

	skip := byDst["A/2.m4a"]
	assert.Equal(t, Skip, skip.Kind)
}

func TestScenarioC_QualityChange(t *testing.T) {
	sources := []sourcescan.Entry{
		{RelPath: "A/1.flac", AudioMD5: "11111111111111111111111111111111"},
	}

	dest := newTestIndex(destindex.Entry{
		RelPath: "A/1.m4a", HasFP: true, Fingerprint: fingerprint.Fingerprint{
			SrcMD5: "11111111111111111111111111111111", Encoder: "libfdk_aac", Quality: 3,
			Version: "1.0.0", SourceRel: "A/1.flac",
		},
	})

	actions := Plan(sources, dest, basePolicy(), testRunPolicy())

	require.Len(t, actions, 1)
	assert.Equal(t, Convert, actions[0].Kind)
	assert.Equal(t, ReasonQualityMismatch, actions[0].Reason)
}

func TestScenarioD_LegacyAdoption(t *testing.T) {
	sources := []sourcescan.Entry{
		{RelPath: "A/1.flac", AudioMD5: "11111111111111111111111111111111"},
	}

	dest := newTestIndex(destindex.Entry{RelPath: "A/1.m4a", HasFP: false})

	adoptOn := basePolicy()
	adoptOn.Adopt = true

	actions := Plan(sources, dest, adoptOn, testRunPolicy())
	require.Len(t, actions, 1)
	assert.Equal(t, Retag, actions[0].Kind)

	adoptOff := basePolicy()
	adoptOff.Adopt = false

	actions = Plan(sources, dest, adoptOff, testRunPolicy())
	require.Len(t, actions, 1)
	assert.Equal(t, Convert, actions[0].Kind)
}

func TestScenarioE_OrphanPrune(t *testing.T) {
	dest := newTestIndex(destindex.Entry{
		RelPath: "Old/gone.m4a", HasFP: true, Fingerprint: fingerprint.Fingerprint{
			SrcMD5: "99999999999999999999999999999999", Encoder: "libfdk_aac", Quality: 5,
			Version: "1.0.0", SourceRel: "Old/gone.flac",
		},
	})

	pruneOn := basePolicy()
	pruneOn.Prune = true

	actions := Plan(nil, dest, pruneOn, testRunPolicy())
	require.Len(t, actions, 1)
	assert.Equal(t, Prune, actions[0].Kind)

	pruneOff := basePolicy()
	pruneOff.Prune = false

	actions = Plan(nil, dest, pruneOff, testRunPolicy())
	require.Len(t, actions, 1)
	assert.Equal(t, Skip, actions[0].Kind)
	assert.Equal(t, ReasonOrphanReport, actions[0].Reason)
}

func TestScenarioF_CaseCollision(t *testing.T) {
	sources := []sourcescan.Entry{
		{RelPath: "A/song.flac", AudioMD5: "11111111111111111111111111111111"},
		{RelPath: "a/SONG.flac", AudioMD5: "22222222222222222222222222222222"},
	}

	actions := Plan(sources, newTestIndex(), basePolicy(), testRunPolicy())

	require.Len(t, actions, 2)
	assert.NotEqual(t, caseFold(actions[0].DstRel), caseFold(actions[1].DstRel))

	var suffixed bool

	for _, a := range actions {
		if a.DstRel == "A/song (2).m4a" || a.DstRel == "a/SONG (2).m4a" {
			suffixed = true
		}
	}

	assert.True(t, suffixed, "expected one destination to carry a (2) collision suffix")
}

func TestDeterminism(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(t, "n")

		var sources []sourcescan.Entry

		for i := 0; i < n; i++ {
			name := rapid.StringMatching(`[A-Za-z0-9]{1,8}`).Draw(t, "name")
			md5 := rapid.StringMatching(`[0-9a-f]{32}`).Draw(t, "md5")
			sources = append(sources, sourcescan.Entry{RelPath: name + ".flac", AudioMD5: md5})
		}

		pol := basePolicy()
		run := testRunPolicy()

		first := Plan(sources, newTestIndex(), pol, run)
		second := Plan(sources, newTestIndex(), pol, run)

		require.Equal(t, len(first), len(second))

		for i := range first {
			assert.Equal(t, first[i].Kind, second[i].Kind)
			assert.Equal(t, first[i].DstRel, second[i].DstRel)
			assert.Equal(t, first[i].Reason, second[i].Reason)
		}
	})
}

func TestIdempotence(t *testing.T) {
	sources := []sourcescan.Entry{
		{RelPath: "A/1.flac", AudioMD5: "11111111111111111111111111111111"},
		{RelPath: "B/2.flac", AudioMD5: "22222222222222222222222222222222"},
	}

	pol := basePolicy()
	run := testRunPolicy()

	first := Plan(sources, newTestIndex(), pol, run)

	var produced []destindex.Entry
	for _, a := range first {
		require.Equal(t, Convert, a.Kind)
		produced = append(produced, destindex.Entry{
			RelPath: a.DstRel, HasFP: true, Fingerprint: fingerprint.Fingerprint{
				SrcMD5: a.Source.AudioMD5, Encoder: run.EncoderID, Quality: run.Quality,
				Version: run.Version, SourceRel: a.Source.RelPath,
			},
		})
	}

	second := Plan(sources, newTestIndex(produced...), pol, run)

	for _, a := range second {
		assert.Equal(t, Skip, a.Kind, "second run should only produce Skip actions")
	}
}
