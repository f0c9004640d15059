// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package labels defines the per-image annotation record (classes, boxes, segments and keypoints), and the
// operations on it shared by both RGB and infrared modalities.
package labels

import (
	"slices"

	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/gomlx/rgbir/pkg/support/sets"
	"github.com/pkg/errors"
)

// BBoxFormat describes how the 4 coordinates of a bounding box are interpreted.
type BBoxFormat string

const (
	// XYXY boxes are given by their top-left and bottom-right corners.
	XYXY BBoxFormat = "xyxy"
	// XYWH boxes are given by their center, width and height.
	XYWH BBoxFormat = "xywh"
	// LTWH boxes are given by their top-left corner, width and height.
	LTWH BBoxFormat = "ltwh"
)

// Label holds the annotations of one image.
//
// Cls, BBoxes, Segments (if not empty) and Keypoints (if not nil) have one row per object, in the same order.
type Label struct {
	ImageFile string

	// Shape is the original image (height, width). It is only used to compute rectangular batch shapes, and
	// is set to nil once consumed.
	Shape *shapes.HW

	Cls    []float32
	BBoxes [][4]float32

	// Segments are the polygons of each object, as (x, y) points.
	Segments [][][2]float32

	// Keypoints for each object, each keypoint with 2 (x, y) or 3 (x, y, visibility) values.
	// It is nil if the dataset has no keypoints.
	Keypoints [][][]float32

	Normalized bool
	BBoxFormat BBoxFormat
}

// NumObjects returns the number of annotated objects.
func (l *Label) NumObjects() int {
	return len(l.Cls)
}

// Validate checks that all the per-object fields have the same number of rows.
func (l *Label) Validate() error {
	n := len(l.Cls)
	if len(l.BBoxes) != n {
		return errors.Errorf("label for %q has %d classes but %d bboxes", l.ImageFile, n, len(l.BBoxes))
	}
	if len(l.Segments) != 0 && len(l.Segments) != n {
		return errors.Errorf("label for %q has %d classes but %d segments", l.ImageFile, n, len(l.Segments))
	}
	if l.Keypoints != nil && len(l.Keypoints) != n {
		return errors.Errorf("label for %q has %d classes but %d keypoints", l.ImageFile, n, len(l.Keypoints))
	}
	return nil
}

// Clone returns a deep copy of the label: the copy can be modified (e.g.: by augmentations) without
// affecting l.
func (l *Label) Clone() *Label {
	c := *l
	if l.Shape != nil {
		shape := *l.Shape
		c.Shape = &shape
	}
	c.Cls = slices.Clone(l.Cls)
	c.BBoxes = slices.Clone(l.BBoxes)
	if l.Segments != nil {
		c.Segments = make([][][2]float32, len(l.Segments))
		for i, segment := range l.Segments {
			c.Segments[i] = slices.Clone(segment)
		}
	}
	if l.Keypoints != nil {
		c.Keypoints = make([][][]float32, len(l.Keypoints))
		for i, points := range l.Keypoints {
			c.Keypoints[i] = make([][]float32, len(points))
			for j, point := range points {
				c.Keypoints[i][j] = slices.Clone(point)
			}
		}
	}
	return &c
}

// Filter updates the labels in place:
//
//   - If include is not nil, only objects whose class is in include are kept. The same rows are
//     removed from Cls, BBoxes, Segments and Keypoints.
//   - If singleClass is true, all remaining objects are set to class 0.
func Filter(labels []*Label, include sets.Set[int], singleClass bool) {
	for _, l := range labels {
		if include != nil {
			keep := make([]bool, len(l.Cls))
			for i, c := range l.Cls {
				keep[i] = include.Has(int(c))
			}
			l.Cls = applyMask(l.Cls, keep)
			l.BBoxes = applyMask(l.BBoxes, keep)
			if len(l.Segments) > 0 {
				l.Segments = applyMask(l.Segments, keep)
			}
			if l.Keypoints != nil {
				l.Keypoints = applyMask(l.Keypoints, keep)
			}
		}
		if singleClass {
			for i := range l.Cls {
				l.Cls[i] = 0
			}
		}
	}
}

// applyMask returns a new slice with the rows where keep is true. The result is never nil.
func applyMask[T any](rows []T, keep []bool) []T {
	kept := make([]T, 0, len(rows))
	for i, row := range rows {
		if i < len(keep) && keep[i] {
			kept = append(kept, row)
		}
	}
	return kept
}
