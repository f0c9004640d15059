// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package paired

import (
	"github.com/gomlx/rgbir/pkg/labels"
	"github.com/pkg/errors"
)

// Provider supplies what is specific to a dataset format: how labels are read, and how samples are transformed.
type Provider interface {
	// LabelsRGB returns one label per RGB image file, in the same order.
	LabelsRGB(imageFiles []string) ([]*labels.Label, error)

	// LabelsIR returns one label per infrared image file, in the same order.
	LabelsIR(imageFiles []string) ([]*labels.Label, error)

	// BuildTransforms returns the transformation (augmentation, normalization, ...) applied to each sample.
	BuildTransforms(cfg Config) (Transform, error)
}

// LabelFinalizer can optionally be implemented by a Provider, to adjust each sample (e.g.: convert label
// formats) before the transforms are applied.
type LabelFinalizer interface {
	FinalizeLabel(sample *Sample) (*Sample, error)
}

// Transform is applied to samples before they are returned by Dataset.Get.
type Transform interface {
	Apply(sample *Sample) (*Sample, error)
}

// TransformFunc adapts a function to a Transform.
type TransformFunc func(sample *Sample) (*Sample, error)

// Apply implements Transform.
func (fn TransformFunc) Apply(sample *Sample) (*Sample, error) {
	return fn(sample)
}

type composed []Transform

// Compose returns a Transform that applies the given transforms in order.
// With no transforms it returns the sample unchanged.
func Compose(transforms ...Transform) Transform {
	return composed(transforms)
}

// Apply implements Transform.
func (c composed) Apply(sample *Sample) (*Sample, error) {
	for i, t := range c {
		next, err := t.Apply(sample)
		if err != nil {
			return nil, errors.WithMessagef(err, "transform #%d failed for %q", i, sample.ImageFile)
		}
		sample = next
	}
	return sample, nil
}

// YOLOProvider reads labels in the YOLO text format (see labels.YOLOReader) for both modalities, and applies
// the given Transforms.
type YOLOProvider struct {
	Reader     labels.YOLOReader
	Transforms []Transform
}

var _ Provider = (*YOLOProvider)(nil)

// LabelsRGB implements Provider.
func (p *YOLOProvider) LabelsRGB(imageFiles []string) ([]*labels.Label, error) {
	return p.Reader.ReadAll(imageFiles)
}

// LabelsIR implements Provider.
func (p *YOLOProvider) LabelsIR(imageFiles []string) ([]*labels.Label, error) {
	return p.Reader.ReadAll(imageFiles)
}

// BuildTransforms implements Provider.
func (p *YOLOProvider) BuildTransforms(Config) (Transform, error) {
	return Compose(p.Transforms...), nil
}
