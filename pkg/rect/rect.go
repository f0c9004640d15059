// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package rect computes rectangular batch shapes: images are sorted by aspect ratio and grouped into batches, and
// each batch is resized to a shape that fits its images with the least padding.
package rect

import (
	"math"
	"slices"

	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/gomlx/rgbir/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Config for the batch shapes computation.
type Config struct {
	// ImgSize is the target size of the longest side.
	ImgSize int

	// BatchSize is the number of images per batch.
	BatchSize int

	// Stride that all batch shape dimensions must be a multiple of.
	Stride int

	// Pad is the extra margin added, in units of Stride, before rounding up.
	Pad float64
}

// Plan holds the result of the rectangular batching.
type Plan struct {
	// Order is the permutation that sorts the images by ascending aspect ratio: position i of the
	// sorted dataset holds the original image Order[i].
	Order []int

	// Batch holds the batch id of each position in the sorted dataset.
	Batch []int

	// Shapes holds the target shape of each batch.
	Shapes []shapes.HW
}

// NumBatches returns the number of batches in the plan.
func (p *Plan) NumBatches() int {
	return len(p.Shapes)
}

// AspectOrder returns the permutation that sorts imageShapes by ascending aspect ratio (height/width).
// Images with equal ratios keep their relative order.
func AspectOrder(imageShapes []shapes.HW) []int {
	order := xslices.Iota(0, len(imageShapes))
	slices.SortStableFunc(order, func(a, b int) int {
		ra, rb := imageShapes[a].AspectRatio(), imageShapes[b].AspectRatio()
		switch {
		case ra < rb:
			return -1
		case ra > rb:
			return 1
		}
		return 0
	})
	return order
}

// BatchIndices returns the batch id of each of the n positions: i / batchSize.
func BatchIndices(n, batchSize int) []int {
	batch := make([]int, n)
	for i := range batch {
		batch[i] = i / batchSize
	}
	return batch
}

// NewPlan sorts imageShapes by aspect ratio, groups the sorted images in batches of cfg.BatchSize, and computes
// the shape of each batch:
//
//   - If all images in the batch are wide (max ratio < 1): (maxRatio, 1) * ImgSize.
//   - If all images in the batch are tall (min ratio > 1): (1, 1/minRatio) * ImgSize.
//   - Otherwise: square.
//
// Each dimension is then converted to pixels as `ceil(dim * ImgSize / Stride + Pad) * Stride`.
func NewPlan(imageShapes []shapes.HW, cfg Config) (*Plan, error) {
	if cfg.BatchSize <= 0 || cfg.Stride <= 0 || cfg.ImgSize <= 0 {
		return nil, errors.Errorf("invalid rectangular batching config %+v", cfg)
	}
	n := len(imageShapes)
	if n == 0 {
		return nil, errors.New("no images to batch")
	}
	for i, s := range imageShapes {
		if s.H <= 0 || s.W <= 0 {
			return nil, errors.Errorf("image #%d has invalid shape %s", i, s)
		}
	}

	order := AspectOrder(imageShapes)
	batch := BatchIndices(n, cfg.BatchSize)
	numBatches := batch[n-1] + 1

	ratios := make([]float64, n)
	for i, idx := range order {
		ratios[i] = imageShapes[idx].AspectRatio()
	}
	batchShapes := make([]shapes.HW, numBatches)
	for b := range numBatches {
		start := b * cfg.BatchSize
		end := min(start+cfg.BatchSize, n)
		batchRatios := ratios[start:end]
		h, w := 1.0, 1.0
		minRatio, maxRatio := slices.Min(batchRatios), slices.Max(batchRatios)
		if maxRatio < 1 {
			h = maxRatio
		} else if minRatio > 1 {
			w = 1 / minRatio
		}
		batchShapes[b] = shapes.HW{H: toPixels(h, cfg), W: toPixels(w, cfg)}
	}
	return &Plan{Order: order, Batch: batch, Shapes: batchShapes}, nil
}

// toPixels converts a relative dimension to a multiple of cfg.Stride.
func toPixels(relative float64, cfg Config) int {
	return int(math.Ceil(relative*float64(cfg.ImgSize)/float64(cfg.Stride)+cfg.Pad)) * cfg.Stride
}
