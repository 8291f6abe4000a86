// Package tagtable provides a container-neutral representation of the fixed
// tag set the executor translates between FLAC sources and MP4/Opus
// destinations (spec §4.5.2), replacing the source ecosystem's dynamic,
// duck-typed tag objects with a total function over a fixed field set plus an
// opaque passthrough bucket for container-specific extras (spec §9).
package tagtable

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pchchv/flac"
	"github.com/pchchv/flac/meta"
)

// TagTable is the fixed semantic field set the executor copies between
// containers. Fields absent in the source are left zero-valued and are
// absent in the target (spec §4.5.2).
type TagTable struct {
	Title        string
	Artist       string
	Album        string
	AlbumArtist  string
	TrackNumber  int
	TrackTotal   int
	DiscNumber   int
	DiscTotal    int
	Year         int
	Genre        string
	Compilation  bool
	Comment      string
	MusicBrainzTrackID  string
	MusicBrainzAlbumID  string
	MusicBrainzArtistID string

	// Extra holds any source Vorbis comment not mapped to a fixed field
	// above, keyed by its upper-cased field name. Containers that support
	// arbitrary freeform fields may choose to carry these through; MP4/Opus
	// translation in this system does not, by design (spec §4.5.2 covers a
	// fixed field set only).
	Extra map[string]string
}

// Cover is the first usable embedded picture (spec §4.5.3).
type Cover struct {
	MIME string
	Data []byte
}

// FromFLAC reads the fixed tag set and the cover picture from a FLAC file's
// metadata blocks. It never reads audio frames: flac.ParseFile stops once all
// metadata blocks are consumed (see sourcescan for the STREAMINFO-only,
// even-cheaper read path used during scanning).
func FromFLAC(path string) (TagTable, *Cover, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return TagTable{}, nil, err
	}
	defer stream.Close()

	var (
		table     TagTable
		cover     *Cover
		frontSeen bool
	)

	for _, block := range stream.Blocks {
		switch body := block.Body.(type) {
		case *meta.VorbisComment:
			table = fromVorbisComment(body)
		case *meta.Picture:
			if frontSeen {
				continue
			}

			cover = pickCover(cover, body)
			frontSeen = body.Type == 3
		}
	}

	return table, cover, nil
}

// pickCover prefers a "front cover" (type 3) picture; any other type is kept
// only as a fallback when nothing better has been seen yet (spec §4.5.3).
func pickCover(have *Cover, pic *meta.Picture) *Cover {
	isFront := pic.Type == 3

	if have != nil && !isFront {
		return have
	}

	return &Cover{MIME: pic.MIME, Data: pic.Data}
}

// fromVorbisComment maps each Vorbis comment field onto the fixed TagTable
// fields, matching names case-insensitively per the Vorbis comment spec;
// unmapped fields go to Extra.
func fromVorbisComment(vc *meta.VorbisComment) TagTable {
	var table TagTable

	table.Extra = make(map[string]string)

	for _, pair := range vc.Tags {
		key := strings.ToUpper(pair[0])
		val := pair[1]

		switch key {
		case "TITLE":
			table.Title = val
		case "ARTIST":
			table.Artist = val
		case "ALBUM":
			table.Album = val
		case "ALBUMARTIST", "ALBUM ARTIST":
			table.AlbumArtist = val
		case "TRACKNUMBER":
			table.TrackNumber, table.TrackTotal = parseNumTotal(val)
		case "TRACKTOTAL", "TOTALTRACKS":
			if n, err := strconv.Atoi(val); err == nil {
				table.TrackTotal = n
			}
		case "DISCNUMBER":
			table.DiscNumber, table.DiscTotal = parseNumTotal(val)
		case "DISCTOTAL", "TOTALDISCS":
			if n, err := strconv.Atoi(val); err == nil {
				table.DiscTotal = n
			}
		case "DATE", "YEAR":
			table.Year = parseLeadingYear(val)
		case "GENRE":
			table.Genre = val
		case "COMPILATION":
			table.Compilation = val == "1" || strings.EqualFold(val, "true")
		case "COMMENT", "DESCRIPTION":
			table.Comment = val
		case "MUSICBRAINZ_TRACKID":
			table.MusicBrainzTrackID = val
		case "MUSICBRAINZ_ALBUMID":
			table.MusicBrainzAlbumID = val
		case "MUSICBRAINZ_ARTISTID":
			table.MusicBrainzArtistID = val
		default:
			table.Extra[key] = val
		}
	}

	return table
}

// parseNumTotal splits a Vorbis "N" or "N/T" track/disc number field.
func parseNumTotal(val string) (num, total int) {
	parts := strings.SplitN(val, "/", 2)

	num, _ = strconv.Atoi(strings.TrimSpace(parts[0]))

	if len(parts) == 2 {
		total, _ = strconv.Atoi(strings.TrimSpace(parts[1]))
	}

	return num, total
}

// parseLeadingYear extracts a four-digit run from the start of a date field,
// e.g. "2003-04-12" -> 2003 (spec §4.5.2: "year parsed from a leading
// four-digit run").
func parseLeadingYear(val string) int {
	if len(val) < 4 {
		return 0
	}

	digits := val[:4]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0
		}
	}

	year, _ := strconv.Atoi(digits)

	return year
}

// ExtraKeys returns the Extra map's keys in sorted order, for deterministic
// iteration when a container chooses to carry passthrough fields.
func (t TagTable) ExtraKeys() []string {
	keys := make([]string, 0, len(t.Extra))
	for k := range t.Extra {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
