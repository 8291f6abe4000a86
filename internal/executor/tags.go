package executor

import (
	"fmt"

	"github.com/pacsync/pacsync/internal/container/mp4tags"
	"github.com/pacsync/pacsync/internal/container/oggtags"
	"github.com/pacsync/pacsync/internal/errs"
	"github.com/pacsync/pacsync/internal/fingerprint"
	"github.com/pacsync/pacsync/internal/policy"
	"github.com/pacsync/pacsync/internal/tagtable"
)

// writeTags dispatches to the container-specific tag/cover/fingerprint
// writer by output codec (spec §4.5.2-4).
func writeTags(dstPath string, codec policy.Codec, tags tagtable.TagTable, fp fingerprint.Fingerprint, cover *tagtable.Cover) error {
	var err error

	switch codec {
	case policy.CodecOpus:
		err = oggtags.Write(dstPath, tags, fp, cover)
	default:
		err = mp4tags.Write(dstPath, tags, fp, cover)
	}

	if err != nil {
		return fmt.Errorf("%w: %s: %w", errs.ErrTagWrite, dstPath, err)
	}

	return nil
}
