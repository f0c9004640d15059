// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package paired

import (
	"image"
	"image/color"
	"io"
	"math/rand/v2"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/rgbir/internal/workerspool"
	"github.com/gomlx/rgbir/pkg/labels"
	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/pkg/errors"
)

// LetterboxColor fills the padding around images smaller than their batch shape.
var LetterboxColor = color.NRGBA{R: 114, G: 114, B: 114, A: 255}

// TrainDataset adapts a Dataset to train.Dataset: it yields one batch of samples (see Dataset.Batches)
// per call to Yield, until the end of the epoch.
//
// Each image is centered on a canvas of its batch shape (Sample.RectShape, or a square of Config.ImgSize),
// and the boxes are converted to XYWH normalized to the canvas. Yield returns:
//
//   - inputs: RGB and IR images, float32 in [0, 1], shaped `[batch_size, height, width, 4]`.
//   - labels: classes shaped `[batch_size, max_objects]`, boxes shaped `[batch_size, max_objects, 4]` and
//     a mask (1 for objects, 0 for padding) shaped `[batch_size, max_objects]`. max_objects is at least 1.
type TrainDataset struct {
	name string
	ds   *Dataset
	rng  *rand.Rand

	mu      sync.Mutex
	batches [][]int
	next    int
}

var _ train.Dataset = (*TrainDataset)(nil)

// NewTrainDataset returns a train.Dataset over ds. If rng is not nil, the batches are shuffled at every Reset.
func NewTrainDataset(name string, ds *Dataset, rng *rand.Rand) *TrainDataset {
	td := &TrainDataset{name: name, ds: ds, rng: rng}
	td.Reset()
	return td
}

// Name implements train.Dataset.
func (td *TrainDataset) Name() string {
	return td.name
}

// Reset implements train.Dataset, and restarts the epoch.
func (td *TrainDataset) Reset() {
	td.mu.Lock()
	defer td.mu.Unlock()
	td.batches = td.ds.Batches(td.rng)
	td.next = 0
}

// Yield implements train.Dataset. It returns io.EOF at the end of the epoch.
func (td *TrainDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	td.mu.Lock()
	if td.next >= len(td.batches) {
		td.mu.Unlock()
		err = io.EOF
		return
	}
	indices := td.batches[td.next]
	td.next++
	td.mu.Unlock()

	samples := make([]*Sample, len(indices))
	pool := workerspool.New().SetMaxParallelism(td.ds.cfg.Workers)
	err = pool.ForEach(len(indices), func(i int) (err error) {
		samples[i], err = td.ds.Get(indices[i])
		return
	})
	if err != nil {
		err = errors.WithMessagef(err, "failed to load batch of %s", td.name)
		return
	}
	spec = td
	inputs, labels, err = td.ds.batchTensors(samples)
	return
}

// batchTensors converts the samples to the tensors yielded by TrainDataset.
func (d *Dataset) batchTensors(samples []*Sample) (inputs, labels []*tensors.Tensor, err error) {
	canvas := shapes.HW{H: d.cfg.ImgSize, W: d.cfg.ImgSize}
	if samples[0].RectShape != nil {
		canvas = *samples[0].RectShape
	}
	batchSize := len(samples)
	maxObjects := 1
	for _, s := range samples {
		maxObjects = max(maxObjects, s.NumObjects())
	}

	pixelsPerImage := canvas.H * canvas.W * 4
	rgb := make([]float32, batchSize*pixelsPerImage)
	ir := make([]float32, batchSize*pixelsPerImage)
	cls := make([]float32, batchSize*maxObjects)
	boxes := make([]float32, batchSize*maxObjects*4)
	mask := make([]float32, batchSize*maxObjects)
	for i, s := range samples {
		if s.ImageRGB == nil || s.ImageIR == nil {
			return nil, nil, errors.Errorf("sample %q has no images", s.ImageFile)
		}
		letterbox(s.ImageRGB, canvas, rgb[i*pixelsPerImage:(i+1)*pixelsPerImage])
		letterbox(s.ImageIR, canvas, ir[i*pixelsPerImage:(i+1)*pixelsPerImage])
		for j := range s.NumObjects() {
			row := i*maxObjects + j
			cls[row] = s.Cls[j]
			mask[row] = 1
			box := canvasBox(s, s.BBoxes[j], canvas)
			copy(boxes[4*row:4*row+4], box[:])
		}
	}
	inputs = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(rgb, batchSize, canvas.H, canvas.W, 4),
		tensors.FromFlatDataAndDimensions(ir, batchSize, canvas.H, canvas.W, 4),
	}
	labels = []*tensors.Tensor{
		tensors.FromFlatDataAndDimensions(cls, batchSize, maxObjects),
		tensors.FromFlatDataAndDimensions(boxes, batchSize, maxObjects, 4),
		tensors.FromFlatDataAndDimensions(mask, batchSize, maxObjects),
	}
	return
}

// letterboxOffset returns the top-left position of an image of shape size centered in canvas.
func letterboxOffset(size, canvas shapes.HW) image.Point {
	return image.Pt((canvas.W-size.W)/2, (canvas.H-size.H)/2)
}

// letterbox centers img on a canvas filled with LetterboxColor, and writes it to flat as float32 in [0, 1].
// Images larger than the canvas are cropped.
func letterbox(img *image.NRGBA, canvas shapes.HW, flat []float32) {
	dst := imaging.New(canvas.W, canvas.H, LetterboxColor)
	dst = imaging.Paste(dst, img, letterboxOffset(shapes.Of(img), canvas))
	for i, v := range dst.Pix[:len(flat)] {
		flat[i] = float32(v) / 255
	}
}

// canvasBox converts box, in the format of the sample labels, to XYWH normalized to the canvas.
func canvasBox(s *Sample, box [4]float32, canvas shapes.HW) [4]float32 {
	var cx, cy, w, h float32
	switch s.BBoxFormat {
	case labels.XYXY:
		cx, cy, w, h = (box[0]+box[2])/2, (box[1]+box[3])/2, box[2]-box[0], box[3]-box[1]
	case labels.LTWH:
		cx, cy, w, h = box[0]+box[2]/2, box[1]+box[3]/2, box[2], box[3]
	default:
		cx, cy, w, h = box[0], box[1], box[2], box[3]
	}
	if !s.Normalized {
		origW, origH := float32(s.OriginalShape.W), float32(s.OriginalShape.H)
		cx, w = cx/origW, w/origW
		cy, h = cy/origH, h/origH
	}
	offset := letterboxOffset(s.ResizedShape, canvas)
	resW, resH := float32(s.ResizedShape.W), float32(s.ResizedShape.H)
	canvasW, canvasH := float32(canvas.W), float32(canvas.H)
	return [4]float32{
		(cx*resW + float32(offset.X)) / canvasW,
		(cy*resH + float32(offset.Y)) / canvasH,
		w * resW / canvasW,
		h * resH / canvasH,
	}
}
