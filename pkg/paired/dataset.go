// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package paired implements a dataset of paired RGB and infrared images.
//
// A Dataset finds the image files of both modalities, reads their labels through a Provider, filters the
// objects by class, and returns for each index a Sample with both images resized and the RGB labels.
// Optionally it caches the decoded images in memory or on disk, and groups images with similar aspect
// ratios into rectangular batches.
//
// The RGB and infrared image files are matched by their sorted order: the i-th RGB image is paired
// with the i-th infrared image.
package paired

import (
	"image"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/gomlx/rgbir/pkg/imgcache"
	"github.com/gomlx/rgbir/pkg/imgfiles"
	"github.com/gomlx/rgbir/pkg/labels"
	"github.com/gomlx/rgbir/pkg/rect"
	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/gomlx/rgbir/pkg/support/sets"
	"github.com/gomlx/rgbir/pkg/support/xslices"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrModalityMismatch is returned when the RGB and infrared images can't be paired.
	ErrModalityMismatch = errors.New("RGB and IR datasets don't match")

	// ErrIndexOutOfRange is returned when accessing an index outside of [0, Len()).
	ErrIndexOutOfRange = errors.New("index out of range")
)

// MaxBufferLength is the upper limit of the number of images kept in memory by the ring buffer of
// each modality.
const MaxBufferLength = 1000

// RAMSafetyMargin is the fraction of extra memory required by New before caching images in memory.
const RAMSafetyMargin = 0.5

// Dataset of paired RGB and infrared images. Create it with New.
//
// It is safe for concurrent use.
type Dataset struct {
	cfg       Config
	provider  Provider
	transform Transform

	rgb, ir *modality

	// Set if cfg.Rect is true.
	batchShapes []shapes.HW
	batch       []int

	maxBufferLength int
}

// New creates a Dataset with the images found in rgbPaths and irPaths (see imgfiles.Find) and the labels
// read by provider.
//
// If cfg.Cache is CacheRAM but there isn't enough memory available, the images are not cached.
func New(rgbPaths, irPaths []string, provider Provider, cfg Config) (*Dataset, error) {
	if provider == nil {
		return nil, errors.New("paired.New requires a Provider")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Cache, _ = ParseCacheMode(string(cfg.Cache))
	cfg.Classes = slices.Clone(cfg.Classes)
	d := &Dataset{cfg: cfg, provider: provider}

	rgbFiles, err := imgfiles.Find(rgbPaths, cfg.PrefixRGB, cfg.Fraction)
	if err != nil {
		return nil, err
	}
	irFiles, err := imgfiles.Find(irPaths, cfg.PrefixIR, cfg.Fraction)
	if err != nil {
		return nil, err
	}
	if len(rgbFiles) != len(irFiles) {
		return nil, errors.Wrapf(ErrModalityMismatch, "%d RGB images and %d IR images", len(rgbFiles), len(irFiles))
	}

	rgbLabels, err := provider.LabelsRGB(rgbFiles)
	if err != nil {
		return nil, errors.WithMessagef(err, "%sfailed to read labels", cfg.PrefixRGB)
	}
	irLabels, err := provider.LabelsIR(irFiles)
	if err != nil {
		return nil, errors.WithMessagef(err, "%sfailed to read labels", cfg.PrefixIR)
	}
	d.rgb = newModality(RGB, cfg.PrefixRGB, rgbFiles, rgbLabels)
	d.ir = newModality(IR, cfg.PrefixIR, irFiles, irLabels)

	var include sets.Set[int]
	if cfg.Classes != nil {
		include = sets.MakeWith(cfg.Classes...)
	}
	for _, m := range d.modalities() {
		if len(m.labels) != len(m.files) {
			return nil, errors.Errorf("%sprovider returned %d labels for %d %s images",
				m.prefix, len(m.labels), len(m.files), m.kind)
		}
		for i, l := range m.labels {
			if l == nil {
				return nil, errors.Errorf("%smissing label for %s", m.prefix, m.files[i])
			}
			if err := l.Validate(); err != nil {
				return nil, errors.WithMessagef(err, "%sinvalid label for %s", m.prefix, m.files[i])
			}
		}
		labels.Filter(m.labels, include, cfg.SingleClass)
	}

	if cfg.Rect {
		if err := d.setRectangle(); err != nil {
			return nil, err
		}
	}

	if cfg.Augment {
		d.maxBufferLength = min(d.Len(), 8*cfg.BatchSize, MaxBufferLength)
	}
	for _, m := range d.modalities() {
		m.initCache(d.maxBufferLength)
	}

	if d.cfg.Cache == CacheRAM {
		ok, err := d.CheckCacheRAM(RAMSafetyMargin)
		if err != nil {
			return nil, err
		}
		if !ok {
			d.cfg.Cache = NoCache
		}
	}
	if d.cfg.Cache != NoCache {
		if err := d.CacheImages(d.cfg.Cache); err != nil {
			return nil, err
		}
	}

	d.transform, err = provider.BuildTransforms(d.cfg)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to build transforms")
	}
	if d.transform == nil {
		d.transform = Compose()
	}
	return d, nil
}

func (d *Dataset) modalities() []*modality {
	return []*modality{d.rgb, d.ir}
}

func (d *Dataset) modality(m Modality) (*modality, error) {
	switch m {
	case RGB:
		return d.rgb, nil
	case IR:
		return d.ir, nil
	}
	return nil, errors.Errorf("unknown modality %d", int(m))
}

// labelShape returns the original shape of the image at index, from its label if available.
func (m *modality) labelShape(index int) (shapes.HW, error) {
	if s := m.labels[index].Shape; s != nil && !s.IsZero() {
		return *s, nil
	}
	return imgcache.DecodeShape(m.files[index])
}

// setRectangle sorts both modalities by the aspect ratio of the RGB images, and computes the batch shapes.
// The original shapes in the labels are consumed.
func (d *Dataset) setRectangle() error {
	n := d.Len()
	rgbShapes := make([]shapes.HW, n)
	irShapes := make([]shapes.HW, n)
	for i := range n {
		var err error
		if rgbShapes[i], err = d.rgb.labelShape(i); err != nil {
			return errors.WithMessagef(err, "%sshape of image #%d", d.rgb.prefix, i)
		}
		if irShapes[i], err = d.ir.labelShape(i); err != nil {
			return errors.WithMessagef(err, "%sshape of image #%d", d.ir.prefix, i)
		}
	}
	plan, err := rect.NewPlan(rgbShapes, rect.Config{
		ImgSize:   d.cfg.ImgSize,
		BatchSize: d.cfg.BatchSize,
		Stride:    d.cfg.Stride,
		Pad:       d.cfg.Pad,
	})
	if err != nil {
		return errors.WithMessage(err, "rectangular batches")
	}

	var mismatched int
	for i := range n {
		if math.Abs(rgbShapes[i].AspectRatio()-irShapes[i].AspectRatio()) > 1e-3 {
			mismatched++
			klog.V(1).Infof("%s and %s have different aspect ratios (%s vs %s)",
				d.rgb.files[i], d.ir.files[i], rgbShapes[i], irShapes[i])
		}
	}
	if mismatched > 0 {
		klog.Warningf("%s%d RGB/IR image pairs have different aspect ratios, batch shapes follow the RGB images",
			d.cfg.PrefixIR, mismatched)
	}

	for _, m := range d.modalities() {
		m.reorder(plan.Order)
		for _, l := range m.labels {
			l.Shape = nil
		}
	}
	d.batch = plan.Batch
	d.batchShapes = plan.Shapes
	klog.V(1).Infof("%s%d images in %d rectangular batches", d.cfg.PrefixRGB, n, plan.NumBatches())
	return nil
}

// Len returns the number of samples in the dataset.
func (d *Dataset) Len() int {
	return len(d.rgb.labels)
}

// Config returns the configuration of the dataset. Cache reflects the cache actually used.
func (d *Dataset) Config() Config {
	cfg := d.cfg
	cfg.Classes = slices.Clone(cfg.Classes)
	return cfg
}

// MaxBufferLength returns the capacity of the ring buffer of recently loaded images, per modality.
// It is 0 if augmentation is disabled.
func (d *Dataset) MaxBufferLength() int {
	return d.maxBufferLength
}

// ImageFiles returns a copy of the image files of the modality, in the dataset order.
func (d *Dataset) ImageFiles(m Modality) []string {
	mod, err := d.modality(m)
	if err != nil {
		return nil
	}
	return slices.Clone(mod.files)
}

// Labels returns copies of the labels of the modality, in the dataset order.
func (d *Dataset) Labels(m Modality) []*labels.Label {
	mod, err := d.modality(m)
	if err != nil {
		return nil
	}
	result := make([]*labels.Label, len(mod.labels))
	for i, l := range mod.labels {
		result[i] = l.Clone()
	}
	return result
}

// BatchShapes returns the shape of each rectangular batch, or nil if rectangular batches are disabled.
func (d *Dataset) BatchShapes() []shapes.HW {
	return slices.Clone(d.batchShapes)
}

// BatchOf returns the rectangular batch of index, or -1 if rectangular batches are disabled.
func (d *Dataset) BatchOf(index int) int {
	if d.batch == nil || index < 0 || index >= len(d.batch) {
		return -1
	}
	return d.batch[index]
}

func (d *Dataset) checkIndex(index int) error {
	if index < 0 || index >= d.Len() {
		return errors.Wrapf(ErrIndexOutOfRange, "index %d, dataset has %d samples", index, d.Len())
	}
	return nil
}

// LoadImage returns the image of modality m at index, resized, along with its original and resized shapes.
// See imgcache.TargetShape for the meaning of rectMode.
//
// Images are read from memory if cached, then from the preprocessed file if present, and decoded otherwise.
// If augmentation is enabled, the image is kept in memory until it is evicted by newer loads.
func (d *Dataset) LoadImage(m Modality, index int, rectMode bool) (img *image.NRGBA, original, resized shapes.HW, err error) {
	mod, err := d.modality(m)
	if err != nil {
		return
	}
	if err = d.checkIndex(index); err != nil {
		return
	}
	s, err := mod.load(index, d.cfg.ImgSize, rectMode, d.cfg.Augment)
	if err != nil {
		err = errors.WithMessagef(err, "%sfailed to load %s image #%d", mod.prefix, m, index)
		return
	}
	return s.img, s.orig, s.resized, nil
}

// ImageAndLabel returns the sample at index before the transforms are applied.
// If the Provider implements LabelFinalizer, it is applied to the sample.
func (d *Dataset) ImageAndLabel(index int) (*Sample, error) {
	if err := d.checkIndex(index); err != nil {
		return nil, err
	}
	label := d.rgb.labels[index].Clone()
	label.ImageFile = d.rgb.files[index]
	label.Shape = nil

	sample := &Sample{Label: *label, ImageFileIR: d.ir.files[index]}
	var err error
	sample.ImageRGB, sample.OriginalShape, sample.ResizedShape, err = d.LoadImage(RGB, index, true)
	if err != nil {
		return nil, err
	}
	sample.ImageIR, _, _, err = d.LoadImage(IR, index, true)
	if err != nil {
		return nil, err
	}
	sample.RatioPad = [2]float64{
		float64(sample.ResizedShape.H) / float64(sample.OriginalShape.H),
		float64(sample.ResizedShape.W) / float64(sample.OriginalShape.W),
	}
	if d.batch != nil {
		rectShape := d.batchShapes[d.batch[index]]
		sample.RectShape = &rectShape
	}
	if finalizer, ok := d.provider.(LabelFinalizer); ok {
		sample, err = finalizer.FinalizeLabel(sample)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to finalize label of %q", label.ImageFile)
		}
	}
	return sample, nil
}

// Get returns the sample at index, with the transforms applied.
func (d *Dataset) Get(index int) (*Sample, error) {
	sample, err := d.ImageAndLabel(index)
	if err != nil {
		return nil, err
	}
	return d.transform.Apply(sample)
}

// Batches returns the indices of the samples grouped in batches of Config.BatchSize.
//
// With rectangular batches, the groups follow the batch shapes and only the order of the batches is shuffled.
// Otherwise, if rng is not nil, the indices are shuffled before being grouped. The last batch may be smaller.
func (d *Dataset) Batches(rng *rand.Rand) [][]int {
	indices := xslices.Iota(0, d.Len())
	if rng != nil && d.batch == nil {
		rng.Shuffle(len(indices), func(i, j int) { indices[i], indices[j] = indices[j], indices[i] })
	}
	batches := xslices.Chunks(indices, d.cfg.BatchSize)
	if rng != nil && d.batch != nil {
		rng.Shuffle(len(batches), func(i, j int) { batches[i], batches[j] = batches[j], batches[i] })
	}
	return batches
}
