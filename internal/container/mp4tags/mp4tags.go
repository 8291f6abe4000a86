// Package mp4tags reads and writes the MP4 (.m4a) atoms pacsync uses for tag
// translation, cover art, and fingerprint embedding (spec §4.5.2-4). No pack
// repository imports an MP4 atom-tree library (the closest relatives —
// pchchv/flac, mtw00-flac — are FLAC-only), so this is a direct,
// self-contained ISO-BMFF box reader/writer built on encoding/binary; see
// DESIGN.md for why no third-party dependency covers this concern.
//
// ffmpeg's direct pipeline writes its output with "+faststart", so "moov"
// precedes "mdat"; the external AAC CLIs may place "moov" after "mdat". When
// "moov" precedes "mdat", rewriting "ilst" requires adjusting every
// "stco"/"co64" chunk-offset table in "moov" by the size delta the rewrite
// introduces, since those offsets are absolute positions into the file that
// physically shift when moov grows or shrinks. When "moov" follows "mdat",
// the offsets are left unchanged.
package mp4tags

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/pacsync/pacsync/internal/fingerprint"
	"github.com/pacsync/pacsync/internal/tagtable"
)

// box is one ISO-BMFF box: its 4-character type and full encoded bytes
// (header included).
type box struct {
	typ string
	raw []byte
}

func readBoxes(data []byte) ([]box, error) {
	var boxes []box

	for len(data) > 0 {
		if len(data) < 8 {
			return nil, fmt.Errorf("mp4tags: truncated box header (%d bytes left)", len(data))
		}

		size := int64(binary.BigEndian.Uint32(data[0:4]))
		typ := string(data[4:8])
		header := 8

		if size == 1 {
			if len(data) < 16 {
				return nil, fmt.Errorf("mp4tags: truncated largesize box header")
			}

			size = int64(binary.BigEndian.Uint64(data[8:16])) //nolint:gosec // box sizes fit in int64 for real media files
			header = 16
		} else if size == 0 {
			size = int64(len(data))
		}

		if size < int64(header) || size > int64(len(data)) {
			return nil, fmt.Errorf("mp4tags: box %q has invalid size %d", typ, size)
		}

		boxes = append(boxes, box{typ: typ, raw: data[:size]})
		data = data[size:]
	}

	return boxes, nil
}

func (b box) payload() []byte {
	if len(b.raw) >= 8 && binary.BigEndian.Uint32(b.raw[0:4]) == 1 {
		return b.raw[16:]
	}

	return b.raw[8:]
}

func wrapBox(typ string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(8+len(payload))) //nolint:gosec // media atoms stay well under 4GiB
	copy(buf[4:8], typ)
	copy(buf[8:], payload)

	return buf
}

func findBox(boxes []box, typ string) (int, bool) {
	for i, b := range boxes {
		if b.typ == typ {
			return i, true
		}
	}

	return 0, false
}

// Write rewrites the fixed tag set, cover art, and fingerprint into dst,
// which must already be a complete MP4 produced by the encoder (spec
// §4.5.1's ".part" output, before the final atomic rename). It rewrites the
// whole file in memory; MP4 tag payloads are tiny next to audio payloads, so
// this trades a bounded amount of memory for a much simpler, more obviously
// correct implementation than an in-place patch.
func Write(dst string, tags tagtable.TagTable, fp fingerprint.Fingerprint, cover *tagtable.Cover) error {
	data, err := os.ReadFile(dst) //nolint:gosec // dst is produced by this run's own encoder invocation
	if err != nil {
		return fmt.Errorf("mp4tags: reading %s: %w", dst, err)
	}

	top, err := readBoxes(data)
	if err != nil {
		return err
	}

	moovIdx, ok := findBox(top, "moov")
	if !ok {
		return fmt.Errorf("mp4tags: %s has no moov box", dst)
	}

	oldMoov := top[moovIdx]
	newMoov, err := rewriteMoov(oldMoov, tags, fp, cover)
	if err != nil {
		return err
	}

	delta := int64(len(newMoov)) - int64(len(oldMoov.raw))

	mdatIdx, hasMdat := findBox(top, "mdat")
	if delta != 0 && hasMdat && moovIdx < mdatIdx {
		if err := shiftChunkOffsets(newMoov, delta); err != nil {
			return err
		}
	}

	top[moovIdx] = box{typ: "moov", raw: newMoov}

	var out bytes.Buffer
	for _, b := range top {
		out.Write(b.raw)
	}

	// Written through a sidecar + rename rather than truncating dst in
	// place, so a crash mid-write never leaves a half-rewritten container
	// at dst (spec §4.5.6: ".part copy + rename if the tag library cannot
	// guarantee in-place atomicity").
	part := dst + ".tagpart"

	if err := os.WriteFile(part, out.Bytes(), 0o644); err != nil { //nolint:gosec // container permissions match the destination library's convention
		return fmt.Errorf("mp4tags: writing %s: %w", part, err)
	}

	if err := os.Rename(part, dst); err != nil {
		_ = os.Remove(part)

		return fmt.Errorf("mp4tags: committing %s: %w", dst, err)
	}

	return nil
}

// rewriteMoov returns a new "moov" box (full bytes, header included) with
// udta/meta/ilst replaced by the fixed tag set, cover, and fingerprint.
func rewriteMoov(moov box, tags tagtable.TagTable, fp fingerprint.Fingerprint, cover *tagtable.Cover) ([]byte, error) {
	children, err := readBoxes(moov.payload())
	if err != nil {
		return nil, fmt.Errorf("mp4tags: parsing moov: %w", err)
	}

	ilst := buildIlst(tags, fp, cover)
	metaPayload := append([]byte{0, 0, 0, 0}, wrapBox("ilst", ilst)...) // full-box version+flags
	udtaPayload := wrapBox("meta", metaPayload)

	if idx, ok := findBox(children, "udta"); ok {
		children[idx] = box{typ: "udta", raw: wrapBox("udta", udtaPayload)}
	} else {
		children = append(children, box{typ: "udta", raw: wrapBox("udta", udtaPayload)})
	}

	var buf bytes.Buffer
	for _, c := range children {
		buf.Write(c.raw)
	}

	return wrapBox("moov", buf.Bytes()), nil
}

// buildIlst assembles the "ilst" box payload: one child atom per tag plus the
// five PAC freeform atoms and the cover, if present.
func buildIlst(tags tagtable.TagTable, fp fingerprint.Fingerprint, cover *tagtable.Cover) []byte {
	var buf bytes.Buffer

	writeText := func(typ, val string) {
		if val == "" {
			return
		}

		buf.Write(wrapBox(typ, dataAtom(typeUTF8, []byte(val))))
	}

	writeText("\xa9nam", tags.Title)
	writeText("\xa9ART", tags.Artist)
	writeText("\xa9alb", tags.Album)
	writeText("aART", tags.AlbumArtist)
	writeText("\xa9gen", tags.Genre)
	writeText("\xa9cmt", tags.Comment)

	if tags.Year != 0 {
		writeText("\xa9day", fmt.Sprintf("%04d", tags.Year))
	}

	if tags.TrackNumber != 0 || tags.TrackTotal != 0 {
		buf.Write(wrapBox("trkn", dataAtom(typeBinary, trackDiscPayload(tags.TrackNumber, tags.TrackTotal))))
	}

	if tags.DiscNumber != 0 || tags.DiscTotal != 0 {
		buf.Write(wrapBox("disk", dataAtom(typeBinary, trackDiscPayload(tags.DiscNumber, tags.DiscTotal))))
	}

	if tags.Compilation {
		buf.Write(wrapBox("cpil", dataAtom(typeUint8, []byte{1})))
	}

	for field, val := range fp.AsMap() {
		buf.Write(freeformAtom(fingerprint.MP4FreeformMean, field, val))
	}

	if cover != nil {
		indicator := typeJPEG
		if cover.MIME == "image/png" {
			indicator = typePNG
		}

		buf.Write(wrapBox("covr", dataAtom(indicator, cover.Data)))
	}

	return buf.Bytes()
}

// MP4 "data" atom type indicator values used by this package (iTunes
// metadata convention).
const (
	typeBinary = 0
	typeUTF8   = 1
	typeJPEG   = 13
	typePNG    = 14
	typeUint8  = 21
)

func dataAtom(typeIndicator uint32, payload []byte) []byte {
	header := make([]byte, 8)
	binary.BigEndian.PutUint32(header[0:4], typeIndicator)
	// bytes 4:8 are the locale indicator, always 0.

	return wrapBox("data", append(header, payload...))
}

func trackDiscPayload(num, total int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[2:4], uint16(num))   //nolint:gosec // track/disc numbers fit uint16
	binary.BigEndian.PutUint16(buf[4:6], uint16(total)) //nolint:gosec // track/disc totals fit uint16

	return buf
}

// freeformAtom builds a "----" atom: mean/name/data children under the given
// reverse-DNS mean namespace and field name (spec §4.5.4, §6).
func freeformAtom(mean, name, value string) []byte {
	meanPayload := append([]byte{0, 0, 0, 0}, []byte(mean)...)
	namePayload := append([]byte{0, 0, 0, 0}, []byte(name)...)

	var buf bytes.Buffer
	buf.Write(wrapBox("mean", meanPayload))
	buf.Write(wrapBox("name", namePayload))
	buf.Write(dataAtom(typeUTF8, []byte(value)))

	return wrapBox("----", buf.Bytes())
}

// Read extracts the five PAC fields from an existing .m4a's ilst, for the
// destination index (spec §4.3). It returns ok=false when any field is
// missing, which the caller treats as a legacy (unfingerprinted) output.
func Read(path string) (fingerprint.Fingerprint, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is produced by our own destination-tree walk
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}

	top, err := readBoxes(data)
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}

	moovIdx, ok := findBox(top, "moov")
	if !ok {
		return fingerprint.Fingerprint{}, false, nil
	}

	moovChildren, err := readBoxes(top[moovIdx].payload())
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}

	udtaIdx, ok := findBox(moovChildren, "udta")
	if !ok {
		return fingerprint.Fingerprint{}, false, nil
	}

	udtaChildren, err := readBoxes(moovChildren[udtaIdx].payload())
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}

	metaIdx, ok := findBox(udtaChildren, "meta")
	if !ok {
		return fingerprint.Fingerprint{}, false, nil
	}

	metaChildren, err := readBoxes(udtaChildren[metaIdx].payload()[4:]) // skip full-box version+flags
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}

	ilstIdx, ok := findBox(metaChildren, "ilst")
	if !ok {
		return fingerprint.Fingerprint{}, false, nil
	}

	ilstChildren, err := readBoxes(metaChildren[ilstIdx].payload())
	if err != nil {
		return fingerprint.Fingerprint{}, false, err
	}

	fields := make(map[string]string)

	for _, c := range ilstChildren {
		if c.typ != "----" {
			continue
		}

		meanVal, nameVal, dataVal, ok := parseFreeform(c.payload())
		if !ok || meanVal != fingerprint.MP4FreeformMean {
			continue
		}

		fields[nameVal] = dataVal
	}

	fp, ok := fingerprint.FromMap(fields)

	return fp, ok, nil
}

func parseFreeform(payload []byte) (mean, name, value string, ok bool) {
	children, err := readBoxes(payload)
	if err != nil {
		return "", "", "", false
	}

	for _, c := range children {
		p := c.payload()
		if len(p) < 4 {
			continue
		}

		switch c.typ {
		case "mean":
			mean = string(p[4:])
		case "name":
			name = string(p[4:])
		case "data":
			if len(p) >= 8 {
				value = string(p[8:])
			}
		}
	}

	return mean, name, value, mean != "" && name != ""
}


// shiftChunkOffsets walks every stco/co64 table inside newMoov and adds delta
// to each absolute chunk offset, so sample data that physically moved when
// moov's size changed is still located correctly (see package doc).
func shiftChunkOffsets(moovRaw []byte, delta int64) error {
	return walkAndShift(moovRaw, delta)
}

func walkAndShift(raw []byte, delta int64) error {
	if len(raw) < 8 {
		return nil
	}

	typ := string(raw[4:8])

	switch typ {
	case "stco":
		shiftStco(raw, delta)
		return nil
	case "co64":
		shiftCo64(raw, delta)
		return nil
	}

	payload := box{raw: raw}.payload()

	containerTypes := map[string]bool{
		"moov": true, "trak": true, "mdia": true, "minf": true, "stbl": true,
	}

	if !containerTypes[typ] {
		return nil
	}

	children, err := readBoxes(payload)
	if err != nil {
		return fmt.Errorf("mp4tags: walking %q for chunk-offset fixup: %w", typ, err)
	}

	offset := 8
	for _, c := range children {
		if err := walkAndShift(raw[offset:offset+len(c.raw)], delta); err != nil {
			return err
		}

		offset += len(c.raw)
	}

	return nil
}

func shiftStco(raw []byte, delta int64) {
	p := box{raw: raw}.payload()
	if len(p) < 8 {
		return
	}

	count := binary.BigEndian.Uint32(p[4:8])
	entries := p[8:]

	for i := uint32(0); i < count && len(entries) >= 4; i++ {
		v := binary.BigEndian.Uint32(entries[0:4])
		binary.BigEndian.PutUint32(entries[0:4], uint32(int64(v)+delta)) //nolint:gosec // offsets stay within file size
		entries = entries[4:]
	}
}

func shiftCo64(raw []byte, delta int64) {
	p := box{raw: raw}.payload()
	if len(p) < 8 {
		return
	}

	count := binary.BigEndian.Uint32(p[4:8])
	entries := p[8:]

	for i := uint32(0); i < count && len(entries) >= 8; i++ {
		v := binary.BigEndian.Uint64(entries[0:8])
		binary.BigEndian.PutUint64(entries[0:8], uint64(int64(v)+delta)) //nolint:gosec // offsets stay within file size
		entries = entries[8:]
	}
}

