// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package rect

import (
	"math/rand/v2"
	"testing"

	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultConfig = Config{ImgSize: 640, BatchSize: 2, Stride: 32, Pad: 0.5}

func TestAspectOrder(t *testing.T) {
	imageShapes := []shapes.HW{{H: 200, W: 100}, {H: 100, W: 200}, {H: 100, W: 100}, {H: 50, W: 100}}
	assert.Equal(t, []int{1, 3, 2, 0}, AspectOrder(imageShapes))
}

func TestBatchIndices(t *testing.T) {
	assert.Equal(t, []int{0, 0, 0, 1, 1, 1, 2}, BatchIndices(7, 3))
}

func TestNewPlan(t *testing.T) {
	imageShapes := []shapes.HW{
		{H: 1080, W: 1920}, // 0.5625
		{H: 1920, W: 1080}, // 1.777
		{H: 480, W: 640},   // 0.75
		{H: 800, W: 400},   // 2
		{H: 500, W: 500},   // 1
	}
	plan, err := NewPlan(imageShapes, defaultConfig)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 1, 3}, plan.Order)
	assert.Equal(t, []int{0, 0, 1, 1, 2}, plan.Batch)
	require.Equal(t, 3, plan.NumBatches())

	// Batch 0: wide images, max ratio 0.75: ceil(0.75*640/32+0.5)*32 = ceil(15.5)*32 = 512.
	assert.Equal(t, shapes.HW{H: 512, W: 672}, plan.Shapes[0])
	// Batch 1: ratios 1 and 1.777, mixed: square.
	assert.Equal(t, shapes.HW{H: 672, W: 672}, plan.Shapes[1])
	// Batch 2: tall, min ratio 2: width = ceil(0.5*640/32+0.5)*32 = 352.
	assert.Equal(t, shapes.HW{H: 672, W: 352}, plan.Shapes[2])
}

func TestNewPlan_StrideAligned(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	imageShapes := make([]shapes.HW, 97)
	for i := range imageShapes {
		imageShapes[i] = shapes.HW{H: 1 + rng.IntN(2000), W: 1 + rng.IntN(2000)}
	}
	for _, cfg := range []Config{
		{ImgSize: 640, BatchSize: 8, Stride: 32, Pad: 0.5},
		{ImgSize: 320, BatchSize: 5, Stride: 64, Pad: 0},
		{ImgSize: 513, BatchSize: 97, Stride: 16, Pad: 1},
	} {
		plan, err := NewPlan(imageShapes, cfg)
		require.NoError(t, err)
		for _, s := range plan.Shapes {
			assert.Zero(t, s.H%cfg.Stride, "cfg=%+v shape=%s", cfg, s)
			assert.Zero(t, s.W%cfg.Stride, "cfg=%+v shape=%s", cfg, s)
			assert.Positive(t, s.H)
			assert.Positive(t, s.W)
		}
		// Sorted by aspect ratio.
		for i := 1; i < len(plan.Order); i++ {
			assert.LessOrEqual(t,
				imageShapes[plan.Order[i-1]].AspectRatio(), imageShapes[plan.Order[i]].AspectRatio())
		}
	}
}

func TestNewPlan_Invalid(t *testing.T) {
	_, err := NewPlan(nil, defaultConfig)
	assert.Error(t, err)
	_, err = NewPlan([]shapes.HW{{H: 0, W: 10}}, defaultConfig)
	assert.Error(t, err)
	_, err = NewPlan([]shapes.HW{{H: 10, W: 10}}, Config{ImgSize: 640, BatchSize: 0, Stride: 32})
	assert.Error(t, err)
}
