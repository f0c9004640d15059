// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package imgcache decodes and resizes images, and reads and writes the preprocessed (decoded) form of
// images stored next to the original files, so later loads can skip the decoding.
//
// Preprocessed files use the NumPy `.npy` format, with a `uint8` array shaped `[height, width, 4]` (RGBA).
package imgcache

import (
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Extension of the preprocessed files.
const Extension = ".npy"

// ErrImageNotFound is returned (wrapped) when an image can't be read or decoded.
var ErrImageNotFound = errors.New("image not found")

// CachePath returns the path of the preprocessed file for imageFile: same directory and stem, with
// the Extension suffix.
func CachePath(imageFile string) string {
	return strings.TrimSuffix(imageFile, filepath.Ext(imageFile)) + Extension
}

// Decode reads and decodes the image file, applying the EXIF orientation if present.
func Decode(imageFile string) (*image.NRGBA, error) {
	img, err := imaging.Open(imageFile, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(ErrImageNotFound, "%s: %v", imageFile, err)
	}
	return imaging.Clone(img), nil
}

// DecodeShape returns the shape of the image file, as returned by Decode.
//
// Only the header is read, except for JPEG files: their EXIF orientation may swap height and width, so they
// are decoded with the orientation applied.
func DecodeShape(imageFile string) (shapes.HW, error) {
	f, err := os.Open(imageFile)
	if err != nil {
		return shapes.HW{}, errors.Wrapf(ErrImageNotFound, "%s: %v", imageFile, err)
	}
	defer func() { _ = f.Close() }()
	config, format, err := image.DecodeConfig(f)
	if err != nil {
		return shapes.HW{}, errors.Wrapf(err, "failed to decode header of %s", imageFile)
	}
	if format != "jpeg" {
		return shapes.HW{H: config.Height, W: config.Width}, nil
	}
	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return shapes.HW{}, errors.Wrapf(err, "failed to read %s", imageFile)
	}
	img, err := imaging.Decode(f, imaging.AutoOrientation(true))
	if err != nil {
		return shapes.HW{}, errors.Wrapf(err, "failed to decode %s", imageFile)
	}
	return shapes.Of(img), nil
}

// TargetShape returns the shape an image of shape orig is resized to.
//
// If rectMode is true, the longest side is scaled to imgSize keeping the aspect ratio: each side is rounded up,
// and capped at imgSize. Otherwise, the image is stretched to a square of imgSize.
func TargetShape(orig shapes.HW, imgSize int, rectMode bool) shapes.HW {
	if !rectMode {
		return shapes.HW{H: imgSize, W: imgSize}
	}
	longest := max(orig.H, orig.W)
	if longest == imgSize || longest == 0 {
		return orig
	}
	return shapes.HW{
		H: min(ceilDiv(orig.H*imgSize, longest), imgSize),
		W: min(ceilDiv(orig.W*imgSize, longest), imgSize),
	}
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Resize img to its TargetShape using bilinear interpolation. If it already has the target shape,
// img is returned unchanged.
func Resize(img *image.NRGBA, imgSize int, rectMode bool) *image.NRGBA {
	orig := shapes.Of(img)
	target := TargetShape(orig, imgSize, rectMode)
	if target == orig {
		return img
	}
	return imaging.Resize(img, target.W, target.H, imaging.Linear)
}

// NumBytes returns the memory used by the pixels of img.
func NumBytes(img *image.NRGBA) int64 {
	if img == nil {
		return 0
	}
	return int64(len(img.Pix))
}
