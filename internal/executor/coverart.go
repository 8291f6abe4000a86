package executor

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"

	"github.com/pacsync/pacsync/internal/policy"
	"github.com/pacsync/pacsync/internal/tagtable"
)

// prepareCover resizes cover down to pol.MaxLongestSide when it exceeds it
// and resizing is enabled (spec §4.5.3); otherwise it is returned unchanged.
// A decode or re-encode failure is returned as an error; the callers log it
// as a warning and embed no cover, matching spec §4.5.3's "failures to copy
// art are warnings, not errors".
func prepareCover(cover *tagtable.Cover, pol policy.CoverArtPolicy) (*tagtable.Cover, error) {
	if cover == nil {
		return nil, nil
	}

	if !pol.ResizeEnabled || pol.MaxLongestSide <= 0 {
		return cover, nil
	}

	img, format, err := image.Decode(bytes.NewReader(cover.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding cover art: %w", err)
	}

	bounds := img.Bounds()
	longest := bounds.Dx()
	if bounds.Dy() > longest {
		longest = bounds.Dy()
	}

	if longest <= pol.MaxLongestSide {
		return cover, nil
	}

	scale := float64(pol.MaxLongestSide) / float64(longest)
	newW := int(float64(bounds.Dx())*scale + 0.5)
	newH := int(float64(bounds.Dy())*scale + 0.5)

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer

	mime := cover.MIME
	if format == "png" {
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("re-encoding resized PNG cover: %w", err)
		}

		mime = "image/png"
	} else {
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
			return nil, fmt.Errorf("re-encoding resized JPEG cover: %w", err)
		}

		mime = "image/jpeg"
	}

	return &tagtable.Cover{MIME: mime, Data: buf.Bytes()}, nil
}
