// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package paired

import (
	"image"

	"github.com/gomlx/rgbir/pkg/labels"
	"github.com/gomlx/rgbir/pkg/shapes"
)

// Sample is a pair of RGB and infrared images, with the labels of the RGB image.
//
// The embedded Label is a copy owned by the Sample, and can be changed freely by transforms. The images,
// however, may be shared with the Dataset cache: transforms must not modify them in place.
type Sample struct {
	labels.Label

	// ImageFileIR is the path of the infrared image. Label.ImageFile holds the path of the RGB image.
	ImageFileIR string

	ImageRGB, ImageIR *image.NRGBA

	// OriginalShape and ResizedShape of the RGB image.
	OriginalShape, ResizedShape shapes.HW

	// RatioPad is the (height, width) scale from the original to the resized RGB image, used to rescale
	// coordinates.
	RatioPad [2]float64

	// RectShape is the shape of the sample's batch, if rectangular batches are enabled.
	RectShape *shapes.HW
}
