// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package paired

import (
	"io"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/rgbir/pkg/labels"
	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrainDataset(t *testing.T) {
	rgbDir, irDir := newFixture(t, 5, 48, 32)
	cfg := testConfig()
	cfg.ImgSize = 64
	cfg.BatchSize = 2
	d := newDataset(t, rgbDir, irDir, cfg)
	td := NewTrainDataset("pairs", d, nil)
	assert.Equal(t, "pairs", td.Name())

	for epoch := range 2 {
		var batchSizes []int
		for {
			spec, inputs, labels, err := td.Yield()
			if err == io.EOF {
				break
			}
			require.NoError(t, err, "epoch %d", epoch)
			assert.Same(t, td, spec)
			require.Len(t, inputs, 2)
			require.Len(t, labels, 3)
			batchSize := inputs[0].Shape().Dimensions[0]
			batchSizes = append(batchSizes, batchSize)
			for _, input := range inputs {
				assert.Equal(t, []int{batchSize, 64, 64, 4}, input.Shape().Dimensions)
			}
			assert.Equal(t, []int{batchSize, 1}, labels[0].Shape().Dimensions)
			assert.Equal(t, []int{batchSize, 1, 4}, labels[1].Shape().Dimensions)
			assert.Equal(t, []int{batchSize, 1}, labels[2].Shape().Dimensions)

			// Images are 43x64 once resized: 10 rows of padding on top.
			rgb := tensors.MustCopyFlatData[float32](inputs[0])
			assert.InDelta(t, 114.0/255.0, rgb[0], 1e-6)
			assert.InDelta(t, 1.0, rgb[3], 1e-6)

			boxes := tensors.MustCopyFlatData[float32](labels[1])
			assert.InDeltaSlice(t, []float32{0.5, (0.5*43 + 10) / 64, 0.2, 0.2 * 43 / 64}, boxes[:4], 1e-5)
			mask := tensors.MustCopyFlatData[float32](labels[2])
			for _, m := range mask {
				assert.Equal(t, float32(1), m)
			}
			for _, tensor := range append(inputs, labels...) {
				require.NoError(t, tensor.FinalizeAll())
			}
		}
		assert.Equal(t, []int{2, 2, 1}, batchSizes, "epoch %d", epoch)
		td.Reset()
	}
}

func TestTrainDataset_RectAndShuffle(t *testing.T) {
	rgbDir, irDir := newFixture(t, 6, 48, 32)
	cfg := testConfig()
	cfg.ImgSize = 64
	cfg.BatchSize = 4
	cfg.Rect = true
	d := newDataset(t, rgbDir, irDir, cfg)
	rectShape := d.BatchShapes()[0]
	td := NewTrainDataset("rect", d, rand.New(rand.NewPCG(3, 5)))

	var total int
	for {
		_, inputs, labels, err := td.Yield()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		dims := inputs[1].Shape().Dimensions
		assert.Equal(t, []int{rectShape.H, rectShape.W, 4}, dims[1:])
		assert.Equal(t, dims[0], labels[0].Shape().Dimensions[0])
		total += dims[0]
	}
	assert.Equal(t, 6, total)
}

func TestCanvasBox(t *testing.T) {
	s := &Sample{
		OriginalShape: shapes.HW{H: 100, W: 200},
		ResizedShape:  shapes.HW{H: 32, W: 64},
	}
	canvas := shapes.HW{H: 64, W: 64}
	want := [4]float32{0.5, (0.5*32 + 16) / 64, 0.5, 0.5 * 32 / 64}

	s.Normalized, s.BBoxFormat = true, labels.XYWH
	assert.InDeltaSlice(t, want[:], sliceOf(canvasBox(s, [4]float32{0.5, 0.5, 0.5, 0.5}, canvas)), 1e-6)

	s.BBoxFormat = labels.XYXY
	assert.InDeltaSlice(t, want[:], sliceOf(canvasBox(s, [4]float32{0.25, 0.25, 0.75, 0.75}, canvas)), 1e-6)

	s.Normalized, s.BBoxFormat = false, labels.LTWH
	assert.InDeltaSlice(t, want[:], sliceOf(canvasBox(s, [4]float32{50, 25, 100, 50}, canvas)), 1e-6)
}

func sliceOf(box [4]float32) []float32 {
	return box[:]
}
