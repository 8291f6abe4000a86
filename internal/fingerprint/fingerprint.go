// Package fingerprint defines the five-field PAC record embedded in every
// output pacsync produces (spec §3, §4.5.4, §6). It is the substrate of
// stateless reconciliation: everything the planner needs to know about a
// previously produced output is recoverable from this record alone.
package fingerprint

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// Names of the five fields, used verbatim as Vorbis comment keys (prefixed
// PAC_) and as the MP4 freeform atom names under the org.pac mean namespace.
const (
	FieldSrcMD5     = "SRC_MD5"
	FieldEncoder    = "ENCODER"
	FieldQuality    = "QUALITY"
	FieldVersion    = "VERSION"
	FieldSourceRel  = "SOURCE_REL"
	MP4FreeformMean = "org.pac"
)

// Fingerprint is the self-describing record embedded in every output this
// system produces (spec §3).
type Fingerprint struct {
	SrcMD5     string // 32-char lowercase hex
	Encoder    string // normalised backend identifier, e.g. "libfdk_aac"
	Quality    int    // VBR level or target kbps
	Version    string // version of the tool that wrote the output
	SourceRel  string // source rel_path at encode time, forward slashes
}

// Valid reports whether every field is present and well-formed; an absent or
// malformed fingerprint is treated as "legacy" by the destination index
// (spec §4.3).
func (f Fingerprint) Valid() bool {
	if len(f.SrcMD5) != 32 {
		return false
	}

	if _, err := hex.DecodeString(f.SrcMD5); err != nil {
		return false
	}

	return f.Encoder != "" && f.Version != "" && f.SourceRel != ""
}

// QualityString renders Quality as the decimal string the wire format
// requires (spec §6).
func (f Fingerprint) QualityString() string {
	return strconv.Itoa(f.Quality)
}

// ParseQuality parses the decimal quality string back into an int; it never
// fails loudly — an unparseable quality degrades to -1, which can never equal
// a real run's quality and so correctly forces a re-encode.
func ParseQuality(s string) int {
	q, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}

	return q
}

// AsMap renders the fingerprint as the five canonical key/value pairs,
// unprefixed; callers choose the container-specific key scheme (PAC_ prefix
// for Vorbis comments, org.pac freeform mean for MP4).
func (f Fingerprint) AsMap() map[string]string {
	return map[string]string{
		FieldSrcMD5:    f.SrcMD5,
		FieldEncoder:   f.Encoder,
		FieldQuality:   f.QualityString(),
		FieldVersion:   f.Version,
		FieldSourceRel: f.SourceRel,
	}
}

// FromMap parses the five canonical fields back out of a generic map; used by
// both the MP4 and Opus readers once they've extracted the raw string values
// from their respective container format.
func FromMap(m map[string]string) (Fingerprint, bool) {
	srcMD5, ok1 := m[FieldSrcMD5]
	encoder, ok2 := m[FieldEncoder]
	quality, ok3 := m[FieldQuality]
	ver, ok4 := m[FieldVersion]
	sourceRel, ok5 := m[FieldSourceRel]

	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return Fingerprint{}, false
	}

	fp := Fingerprint{
		SrcMD5:    srcMD5,
		Encoder:   encoder,
		Quality:   ParseQuality(quality),
		Version:   ver,
		SourceRel: sourceRel,
	}

	return fp, fp.Valid()
}

// VorbisKey returns the PAC_ prefixed Vorbis comment key for field name.
func VorbisKey(field string) string {
	return fmt.Sprintf("PAC_%s", field)
}
