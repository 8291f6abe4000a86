// Package oggtags reads and rewrites the OpusTags comment header of an Ogg
// Opus stream (spec §4.5.2-4). It implements just enough of RFC 3533 (Ogg
// page framing) and RFC 7845 (Opus-in-Ogg header packets) to locate and
// replace the second page of the logical bitstream.
//
// No pack repository vendors an Ogg/Opus library; the closest relative,
// thesyncim/gopus (see other_examples/*thesyncim-gopus__container-ogg-*),
// is not a full dependency in this retrieval pack — it is reference material
// only — so this package is hand-rolled against the page/header/CRC shape
// those files show, following RFC 3533/7845 directly. See DESIGN.md.
package oggtags

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pacsync/pacsync/internal/fingerprint"
	"github.com/pacsync/pacsync/internal/tagtable"
)

const (
	capturePattern = "OggS"
	headerMinLen   = 27

	opusHeadMagic = "OpusHead"
	opusTagsMagic = "OpusTags"
)

// oggCRCPoly is the RFC 3533 page-checksum polynomial (MSB-first, zero
// initial value, no final XOR).
const oggCRCPoly = 0x04c11db7

// page is one parsed Ogg page: header fields plus the concatenated payload
// of every segment it carries.
type page struct {
	version       byte
	headerType    byte
	granulePos    uint64
	serial        uint32
	sequence      uint32
	segmentTable  []byte
	payload       []byte
	totalLen      int // bytes this page occupies in the source file
}

// readPages parses every Ogg page in data. It stops at the first malformed
// page, since a well-formed Opus file from our own encoder never produces
// one; a malformed page is a corrupt or non-Ogg file.
func readPages(data []byte) ([]page, error) {
	var pages []page

	offset := 0

	for len(data) > 0 {
		if len(data) < headerMinLen || string(data[0:4]) != capturePattern {
			return nil, fmt.Errorf("oggtags: missing OggS capture pattern at offset %d", offset)
		}

		segCount := int(data[26])
		headerLen := headerMinLen + segCount

		if len(data) < headerLen {
			return nil, fmt.Errorf("oggtags: truncated page header")
		}

		segTable := data[27:headerLen]

		payloadLen := 0
		for _, s := range segTable {
			payloadLen += int(s)
		}

		if len(data) < headerLen+payloadLen {
			return nil, fmt.Errorf("oggtags: truncated page payload")
		}

		p := page{
			version:      data[4],
			headerType:   data[5],
			granulePos:   binary.LittleEndian.Uint64(data[6:14]),
			serial:       binary.LittleEndian.Uint32(data[14:18]),
			sequence:     binary.LittleEndian.Uint32(data[18:22]),
			segmentTable: append([]byte(nil), segTable...),
			payload:      append([]byte(nil), data[headerLen:headerLen+payloadLen]...),
			totalLen:     headerLen + payloadLen,
		}

		pages = append(pages, p)
		data = data[p.totalLen:]
		offset += p.totalLen
	}

	return pages, nil
}

// encodePage serialises p back to bytes, recomputing its CRC32 checksum
// (the four bytes at offset 22, zeroed during the checksum pass, per RFC
// 3533 section 5).
func encodePage(p page) []byte {
	headerLen := headerMinLen + len(p.segmentTable)
	buf := make([]byte, headerLen+len(p.payload))

	copy(buf[0:4], capturePattern)
	buf[4] = p.version
	buf[5] = p.headerType
	binary.LittleEndian.PutUint64(buf[6:14], p.granulePos)
	binary.LittleEndian.PutUint32(buf[14:18], p.serial)
	binary.LittleEndian.PutUint32(buf[18:22], p.sequence)
	// buf[22:26] CRC left zero for the checksum pass.
	buf[26] = byte(len(p.segmentTable))
	copy(buf[27:headerLen], p.segmentTable)
	copy(buf[headerLen:], p.payload)

	var crc uint32
	for _, c := range buf {
		crc ^= uint32(c) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ oggCRCPoly
			} else {
				crc <<= 1
			}
		}
	}

	binary.LittleEndian.PutUint32(buf[22:26], crc)

	return buf
}

// segmentTableFor lays out the lacing values for a payload of length n,
// terminating with a segment < 255 (or an explicit empty final segment when
// n is an exact multiple of 255), per RFC 3533.
func segmentTableFor(n int) []byte {
	var table []byte

	for n >= 255 {
		table = append(table, 255)
		n -= 255
	}

	table = append(table, byte(n))

	return table
}

// Write rewrites the OpusTags packet (the second page, header type 0x00,
// immediately following the OpusHead identification page) of an Ogg Opus
// file with tags translated from src and the fingerprint fp. It preserves
// every other page byte-for-byte and renumbers no sequence numbers, since
// the tags page's own payload size is the only thing that changes.
func Write(dst string, tags tagtable.TagTable, fp fingerprint.Fingerprint, cover *tagtable.Cover) error {
	data, err := os.ReadFile(dst) //nolint:gosec // dst is produced by this run's own encoder invocation
	if err != nil {
		return fmt.Errorf("oggtags: reading %s: %w", dst, err)
	}

	pages, err := readPages(data)
	if err != nil {
		return err
	}

	if len(pages) < 2 {
		return fmt.Errorf("oggtags: %s has fewer than 2 pages", dst)
	}

	if !bytes.HasPrefix(pages[0].payload, []byte(opusHeadMagic)) {
		return fmt.Errorf("oggtags: %s first page is not OpusHead", dst)
	}

	if !bytes.HasPrefix(pages[1].payload, []byte(opusTagsMagic)) {
		return fmt.Errorf("oggtags: %s second page is not OpusTags", dst)
	}

	newPayload := buildOpusTags(tags, fp, cover)
	pages[1].payload = newPayload
	pages[1].segmentTable = segmentTableFor(len(newPayload))

	var out bytes.Buffer
	for _, p := range pages {
		out.Write(encodePage(p))
	}

	// Sidecar + rename, same rationale as mp4tags.Write: a crash mid-write
	// must never leave a truncated Ogg stream at dst.
	part := dst + ".tagpart"

	if err := os.WriteFile(part, out.Bytes(), 0o644); err != nil { //nolint:gosec // matches destination library's permission convention
		return fmt.Errorf("oggtags: writing %s: %w", part, err)
	}

	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)

		return fmt.Errorf("oggtags: committing %s: %w", dst, err)
	}

	return nil
}

// buildOpusTags encodes a complete OpusTags packet per RFC 7845 section 5.2:
// magic, vendor string, comment count, then each "KEY=value" comment.
func buildOpusTags(tags tagtable.TagTable, fp fingerprint.Fingerprint, cover *tagtable.Cover) []byte {
	comments := commentsFor(tags, fp, cover)

	var buf bytes.Buffer
	buf.WriteString(opusTagsMagic)

	vendor := "pacsync"
	writeLengthPrefixed(&buf, vendor)

	countBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(countBuf, uint32(len(comments)))
	buf.Write(countBuf)

	for _, c := range comments {
		writeLengthPrefixed(&buf, c)
	}

	return buf.Bytes()
}

func writeLengthPrefixed(buf *bytes.Buffer, s string) {
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(s))) //nolint:gosec // comment fields stay well under 4GiB
	buf.Write(lenBuf)
	buf.WriteString(s)
}

func commentsFor(tags tagtable.TagTable, fp fingerprint.Fingerprint, cover *tagtable.Cover) []string {
	var comments []string

	add := func(key, val string) {
		if val == "" {
			return
		}

		comments = append(comments, fmt.Sprintf("%s=%s", key, val))
	}

	add("TITLE", tags.Title)
	add("ARTIST", tags.Artist)
	add("ALBUM", tags.Album)
	add("ALBUMARTIST", tags.AlbumArtist)
	add("GENRE", tags.Genre)
	add("COMMENT", tags.Comment)
	add("MUSICBRAINZ_TRACKID", tags.MusicBrainzTrackID)
	add("MUSICBRAINZ_ALBUMID", tags.MusicBrainzAlbumID)
	add("MUSICBRAINZ_ARTISTID", tags.MusicBrainzArtistID)

	if tags.Year != 0 {
		add("DATE", fmt.Sprintf("%04d", tags.Year))
	}

	if tags.TrackNumber != 0 {
		if tags.TrackTotal != 0 {
			add("TRACKNUMBER", fmt.Sprintf("%d/%d", tags.TrackNumber, tags.TrackTotal))
		} else {
			add("TRACKNUMBER", fmt.Sprintf("%d", tags.TrackNumber))
		}
	}

	if tags.DiscNumber != 0 {
		if tags.DiscTotal != 0 {
			add("DISCNUMBER", fmt.Sprintf("%d/%d", tags.DiscNumber, tags.DiscTotal))
		} else {
			add("DISCNUMBER", fmt.Sprintf("%d", tags.DiscNumber))
		}
	}

	if tags.Compilation {
		add("COMPILATION", "1")
	}

	for fieldName, val := range fp.AsMap() {
		add(fingerprint.VorbisKey(fieldName), val)
	}

	if cover != nil {
		add("METADATA_BLOCK_PICTURE", encodeMetadataBlockPicture(cover))
	}

	return comments
}

// encodeMetadataBlockPicture base64-encodes a FLAC-style PICTURE metadata
// block, the de facto standard for embedding cover art in Vorbis comments
// (used identically by Opus and FLAC, per xiph.org's VorbisComment field
// recommendations).
func encodeMetadataBlockPicture(cover *tagtable.Cover) string {
	var buf bytes.Buffer

	writeU32 := func(v uint32) {
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		buf.Write(b)
	}

	writeU32(3) // picture type: front cover
	writeU32(uint32(len(cover.MIME)))
	buf.WriteString(cover.MIME)
	writeU32(0) // description length
	writeU32(0) // width (unknown, optional per spec)
	writeU32(0) // height
	writeU32(0) // color depth
	writeU32(0) // indexed-colour count
	writeU32(uint32(len(cover.Data)))
	buf.Write(cover.Data)

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// Read extracts the embedded PAC fingerprint and the title, artist, album,
// album-artist, genre and comment fields from an existing Ogg Opus file's
// OpusTags packet, for the destination index (spec §4.3). Every other
// comment, including track/disc numbers and date, lands in the table's Extra
// map under its upper-cased key.
func Read(path string) (tagtable.TagTable, fingerprint.Fingerprint, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is produced by our own destination-tree walk
	if err != nil {
		return tagtable.TagTable{}, fingerprint.Fingerprint{}, false, err
	}

	pages, err := readPages(data)
	if err != nil {
		return tagtable.TagTable{}, fingerprint.Fingerprint{}, false, err
	}

	if len(pages) < 2 || !bytes.HasPrefix(pages[1].payload, []byte(opusTagsMagic)) {
		return tagtable.TagTable{}, fingerprint.Fingerprint{}, false, nil
	}

	comments, err := parseOpusTags(pages[1].payload)
	if err != nil {
		return tagtable.TagTable{}, fingerprint.Fingerprint{}, false, err
	}

	table, fpFields := tableFromComments(comments)
	fp, ok := fingerprint.FromMap(fpFields)

	return table, fp, ok, nil
}

func parseOpusTags(payload []byte) ([]string, error) {
	if !bytes.HasPrefix(payload, []byte(opusTagsMagic)) {
		return nil, fmt.Errorf("oggtags: not an OpusTags packet")
	}

	p := payload[len(opusTagsMagic):]

	vendorLen, p, err := readU32(p)
	if err != nil {
		return nil, err
	}

	if len(p) < int(vendorLen) {
		return nil, fmt.Errorf("oggtags: truncated vendor string")
	}

	p = p[vendorLen:]

	count, p, err := readU32(p)
	if err != nil {
		return nil, err
	}

	comments := make([]string, 0, count)

	for i := uint32(0); i < count; i++ {
		var clen uint32

		clen, p, err = readU32(p)
		if err != nil {
			return nil, err
		}

		if uint32(len(p)) < clen {
			return nil, fmt.Errorf("oggtags: truncated comment %d", i)
		}

		comments = append(comments, string(p[:clen]))
		p = p[clen:]
	}

	return comments, nil
}

func readU32(p []byte) (uint32, []byte, error) {
	if len(p) < 4 {
		return 0, nil, fmt.Errorf("oggtags: truncated length prefix")
	}

	return binary.LittleEndian.Uint32(p[:4]), p[4:], nil
}

func tableFromComments(comments []string) (tagtable.TagTable, map[string]string) {
	var table tagtable.TagTable

	table.Extra = make(map[string]string)
	fpFields := make(map[string]string)

	for _, c := range comments {
		eq := bytes.IndexByte([]byte(c), '=')
		if eq < 0 {
			continue
		}

		key := c[:eq]
		val := c[eq+1:]
		upper := upperASCII(key)

		switch {
		case upper == fingerprint.VorbisKey(fingerprint.FieldSrcMD5):
			fpFields[fingerprint.FieldSrcMD5] = val
		case upper == fingerprint.VorbisKey(fingerprint.FieldEncoder):
			fpFields[fingerprint.FieldEncoder] = val
		case upper == fingerprint.VorbisKey(fingerprint.FieldQuality):
			fpFields[fingerprint.FieldQuality] = val
		case upper == fingerprint.VorbisKey(fingerprint.FieldVersion):
			fpFields[fingerprint.FieldVersion] = val
		case upper == fingerprint.VorbisKey(fingerprint.FieldSourceRel):
			fpFields[fingerprint.FieldSourceRel] = val
		case upper == "TITLE":
			table.Title = val
		case upper == "ARTIST":
			table.Artist = val
		case upper == "ALBUM":
			table.Album = val
		case upper == "ALBUMARTIST":
			table.AlbumArtist = val
		case upper == "GENRE":
			table.Genre = val
		case upper == "COMMENT":
			table.Comment = val
		default:
			table.Extra[upper] = val
		}
	}

	return table, fpFields
}

func upperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 32
		}
	}

	return string(b)
}
