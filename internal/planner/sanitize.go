package planner

import (
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// reserved is the set of bytes forbidden in a single path segment (spec
// §4.4.1): the usual Windows/exFAT reserved characters plus ASCII control
// bytes.
func reserved(b byte) bool {
	switch b {
	case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
		return true
	}

	return b < 0x20 || b == 0x7f
}

// sanitizeSegment applies NFC normalisation, reserved-byte replacement, and
// trailing space/dot trimming to one path segment (spec §4.4.1 steps 2a-2d).
// An empty result is replaced with "_".
func sanitizeSegment(segment string) string {
	normalised := norm.NFC.String(segment)

	var b strings.Builder
	b.Grow(len(normalised))

	for i := 0; i < len(normalised); i++ {
		c := normalised[i]
		if reserved(c) {
			b.WriteByte('_')
		} else {
			b.WriteByte(c)
		}
	}

	result := strings.TrimRight(b.String(), " .")
	if result == "" {
		return "_"
	}

	return result
}

// sanitizePath applies sanitizeSegment to every "/"-separated segment of a
// platform-neutral relative path.
func sanitizePath(relPath string) string {
	segments := strings.Split(relPath, "/")
	for i, s := range segments {
		segments[i] = sanitizeSegment(s)
	}

	return strings.Join(segments, "/")
}

// withExtension replaces relPath's extension with ext (which includes the
// leading dot, e.g. ".m4a").
func withExtension(relPath, ext string) string {
	stem := strings.TrimSuffix(relPath, path.Ext(relPath))

	return stem + ext
}

// caseFold returns the comparison key used by collision resolution: a
// case-folded form of the full candidate path, so outputs stay unique on
// case-insensitive destination filesystems (spec §4.4.1).
func caseFold(relPath string) string {
	return strings.ToLower(relPath)
}

// withCollisionSuffix inserts " (N)" before the final extension, e.g.
// "A/song.m4a" -> "A/song (2).m4a".
func withCollisionSuffix(relPath string, n int) string {
	ext := path.Ext(relPath)
	stem := strings.TrimSuffix(relPath, ext)

	return stem + " (" + strconv.Itoa(n) + ")" + ext
}
