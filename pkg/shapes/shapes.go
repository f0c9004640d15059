// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines the spatial dimensions of images.
package shapes

import (
	"fmt"
	"image"
)

// HW holds the height and width of an image, in pixels.
type HW struct {
	H, W int
}

// Of returns the HW of the given image.
func Of(img image.Image) HW {
	size := img.Bounds().Size()
	return HW{H: size.Y, W: size.X}
}

// AspectRatio returns height/width.
func (s HW) AspectRatio() float64 {
	return float64(s.H) / float64(s.W)
}

// IsZero returns whether the shape is unset.
func (s HW) IsZero() bool {
	return s.H == 0 && s.W == 0
}

// String implements fmt.Stringer.
func (s HW) String() string {
	return fmt.Sprintf("%dx%d", s.H, s.W)
}
