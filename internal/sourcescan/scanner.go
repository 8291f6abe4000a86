// Package sourcescan walks the canonical lossless source tree and produces
// one SourceEntry per discovered FLAC file (spec §4.2). It reads only the
// STREAMINFO metadata block — audio frames are never decoded.
package sourcescan

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pchchv/flac"

	"github.com/pacsync/pacsync/internal/errs"
)

// Entry is one discovered lossless source file (spec §3 SourceEntry).
type Entry struct {
	RelPath  string // platform-neutral (forward slash) path relative to the source root
	Size     int64
	MTimeNs  int64
	AudioMD5 string // 32-char lowercase hex, or "" if unset/unreadable (weak identity)
	ScanErr  error  // non-nil if a per-file I/O error occurred; AudioMD5 is "" in that case
}

// HasAudioMD5 reports whether this entry carries a usable content digest.
func (e Entry) HasAudioMD5() bool { return e.AudioMD5 != "" }

var zeroMD5 = strings.Repeat("0", 32)

// Scan walks root depth-first, files within a directory visited in
// byte-wise sorted order (spec §4.2), and returns every *.flac entry found.
// The entire result is materialised in memory; callers that need O(1) memory
// over 10^5-file trees should use Walk with a callback instead.
func Scan(root string) ([]Entry, error) {
	var entries []Entry

	err := Walk(root, func(e Entry) error {
		entries = append(entries, e)
		return nil
	})

	return entries, err
}

// Walk is the streaming form of Scan: it invokes fn once per discovered FLAC
// file, in deterministic depth-first, sorted order, without holding the
// whole tree in memory. A per-file error from fn aborts the walk.
func Walk(root string, fn func(Entry) error) error {
	return walkDir(root, root, fn)
}

func walkDir(root, dir string, fn func(Entry) error) error {
	children, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("%w: reading directory %s: %w", errs.ErrScanIO, dir, err)
	}

	sort.Slice(children, func(i, j int) bool {
		return children[i].Name() < children[j].Name()
	})

	for _, child := range children {
		name := child.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		full := filepath.Join(dir, name)

		if child.IsDir() {
			if err := walkDir(root, full, fn); err != nil {
				return err
			}

			continue
		}

		if !strings.EqualFold(filepath.Ext(name), ".flac") {
			continue
		}

		entry, scanErr := scanFile(root, full, child)
		if scanErr != nil {
			slog.Debug("sourcescan.scanFile", "path", full, "error", scanErr)
		}

		if err := fn(entry); err != nil {
			return err
		}
	}

	return nil
}

func scanFile(root, full string, dirEntry fs.DirEntry) (Entry, error) {
	rel, err := filepath.Rel(root, full)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: relativizing %s: %w", errs.ErrScanIO, full, err)
	}

	rel = filepath.ToSlash(rel)

	info, err := dirEntry.Info()
	if err != nil {
		return Entry{RelPath: rel, ScanErr: fmt.Errorf("%w: stat %s: %w", errs.ErrScanIO, full, err)}, err
	}

	entry := Entry{
		RelPath: rel,
		Size:    info.Size(),
		MTimeNs: info.ModTime().UnixNano(),
	}

	md5sum, err := readAudioMD5(full)
	if err != nil {
		entry.ScanErr = fmt.Errorf("%w: reading STREAMINFO of %s: %w", errs.ErrScanIO, full, err)
		return entry, entry.ScanErr
	}

	entry.AudioMD5 = md5sum

	return entry, nil
}

// readAudioMD5 opens a FLAC file, parses only its STREAMINFO block, and
// returns the audio-MD5 as lowercase hex. It returns "" (not an error) when
// the MD5 is the all-zero sentinel FLAC uses for "unset".
func readAudioMD5(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is produced by our own tree walk
	if err != nil {
		return "", err
	}
	defer f.Close()

	stream, err := flac.New(f)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	sum := hex.EncodeToString(stream.Info.MD5sum[:])
	if sum == zeroMD5 {
		return "", nil
	}

	return sum, nil
}

// ZeroMD5Hex is the all-zero sentinel FLAC's STREAMINFO uses to mean
// "audio MD5 unset", rendered as lowercase hex.
var ZeroMD5Hex = zeroMD5
