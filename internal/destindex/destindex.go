// Package destindex walks the destination tree and builds the two lookup
// maps the planner needs: by relative path, and by source audio-MD5 (spec
// §4.3). It reads only the embedded tag/fingerprint metadata of each output
// file — never audio frames — using internal/container/mp4tags and
// internal/container/oggtags.
package destindex

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pacsync/pacsync/internal/container/mp4tags"
	"github.com/pacsync/pacsync/internal/container/oggtags"
	"github.com/pacsync/pacsync/internal/errs"
	"github.com/pacsync/pacsync/internal/fingerprint"
)

// Entry is one discovered destination file (spec §3 DestEntry).
type Entry struct {
	RelPath     string
	Fingerprint fingerprint.Fingerprint
	HasFP       bool // false means "legacy": present but no valid embedded fingerprint
}

// Index is the queryable destination state the planner consumes. Both maps
// are built once per run and never mutated afterwards.
type Index struct {
	ByRel []Entry // sorted by RelPath, for deterministic iteration (spec §4.3)
	byMD5 map[string][]Entry
}

// ByMD5 returns every destination entry whose embedded src_md5 equals md5sum,
// in a deterministic (lexicographic by RelPath) order. A source with no
// destination match at all gets an empty slice.
func (idx Index) ByMD5(md5sum string) []Entry {
	return idx.byMD5[md5sum]
}

// Build walks root looking for files with ext (".m4a" or ".opus") and reads
// each one's embedded fingerprint, returning the combined index.
func Build(root string, ext string) (Index, error) {
	var entries []Entry

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: walking %s: %w", errs.ErrScanIO, path, err)
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}

			return nil
		}

		if !strings.EqualFold(filepath.Ext(d.Name()), ext) {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("%w: relativizing %s: %w", errs.ErrIndexParse, path, relErr)
		}

		rel = filepath.ToSlash(rel)

		entry, readErr := readEntry(path, rel, ext)
		if readErr != nil {
			slog.Debug("destindex.readEntry", "path", path, "error", readErr)
		}

		entries = append(entries, entry)

		return nil
	})
	if err != nil {
		return Index{}, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })

	byMD5 := make(map[string][]Entry)

	for _, e := range entries {
		if e.HasFP {
			byMD5[e.Fingerprint.SrcMD5] = append(byMD5[e.Fingerprint.SrcMD5], e)
		}
	}

	for md5sum := range byMD5 {
		group := byMD5[md5sum]
		sort.Slice(group, func(i, j int) bool { return group[i].RelPath < group[j].RelPath })
		byMD5[md5sum] = group
	}

	return Index{ByRel: entries, byMD5: byMD5}, nil
}

// IndexForTest builds an Index directly from pre-built entries and a by-md5
// grouping, bypassing the filesystem walk. Exported for planner and executor
// tests that need a destination index without real container files on disk;
// production code always goes through Build.
func IndexForTest(entries []Entry, byMD5 map[string][]Entry) Index {
	return Index{ByRel: entries, byMD5: byMD5}
}

func readEntry(path, rel, ext string) (Entry, error) {
	switch strings.ToLower(ext) {
	case ".m4a":
		fp, ok, err := mp4tags.Read(path)
		if err != nil {
			return Entry{RelPath: rel}, fmt.Errorf("%w: %s: %w", errs.ErrIndexParse, path, err)
		}

		return Entry{RelPath: rel, Fingerprint: fp, HasFP: ok}, nil
	case ".opus":
		_, fp, ok, err := oggtags.Read(path)
		if err != nil {
			return Entry{RelPath: rel}, fmt.Errorf("%w: %s: %w", errs.ErrIndexParse, path, err)
		}

		return Entry{RelPath: rel, Fingerprint: fp, HasFP: ok}, nil
	default:
		return Entry{RelPath: rel}, fmt.Errorf("%w: unsupported destination extension %q", errs.ErrIndexParse, ext)
	}
}
