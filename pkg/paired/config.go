// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package paired

import (
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// CacheMode selects how decoded images are cached when the dataset is created.
type CacheMode string

const (
	// NoCache decodes images on demand. With augmentation enabled, a bounded number of recently
	// loaded images is still kept in memory.
	NoCache CacheMode = ""

	// CacheRAM decodes and resizes all images when the dataset is created and keeps them in memory.
	CacheRAM CacheMode = "ram"

	// CacheDisk writes the decoded images to preprocessed files next to the originals, which are
	// faster to load than decoding.
	CacheDisk CacheMode = "disk"
)

// ParseCacheMode converts the name of a cache mode: "ram" (or "true"), "disk", and "", "none" or "false" for NoCache.
func ParseCacheMode(name string) (CacheMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "false":
		return NoCache, nil
	case "ram", "true":
		return CacheRAM, nil
	case "disk":
		return CacheDisk, nil
	}
	return NoCache, errors.Errorf("unknown cache mode %q, valid values are \"ram\", \"disk\" or \"none\"", name)
}

// String implements fmt.Stringer.
func (m CacheMode) String() string {
	if m == NoCache {
		return "none"
	}
	return string(m)
}

// UnmarshalYAML implements yaml.Unmarshaler. It accepts booleans as well as the names accepted by ParseCacheMode.
func (m *CacheMode) UnmarshalYAML(value *yaml.Node) error {
	mode, err := ParseCacheMode(value.Value)
	if err != nil {
		return errors.WithMessagef(err, "line %d", value.Line)
	}
	*m = mode
	return nil
}

// Config of a Dataset. It is passed by value: changes after the Dataset is created have no effect.
type Config struct {
	// ImgSize is the size images are resized to: the longest side in rectangular mode, or the side of
	// the square otherwise.
	ImgSize int `yaml:"imgsz"`

	// Cache mode used when the dataset is created.
	Cache CacheMode `yaml:"cache"`

	// Augment indicates the dataset is used for training with augmentation. It enables keeping a buffer of
	// recently loaded images, that augmentations combining several images (e.g.: mosaic) can reuse.
	Augment bool `yaml:"augment"`

	// Rect enables rectangular batches: images are sorted by aspect ratio, and each batch is given a shape
	// that minimizes padding.
	Rect bool `yaml:"rect"`

	BatchSize int `yaml:"batch"`

	// Stride that rectangular batch shapes are a multiple of.
	Stride int `yaml:"stride"`

	// Pad added to rectangular batch shapes, in units of Stride.
	Pad float64 `yaml:"pad"`

	// SingleClass sets the class of all objects to 0.
	SingleClass bool `yaml:"single_cls"`

	// Classes, if not nil, is the list of class ids to keep. Objects of other classes are removed.
	// A non-nil empty list removes all objects.
	Classes []int `yaml:"classes"`

	// Fraction of the image files to use, in (0, 1]. The first files (in sorted order) are used.
	Fraction float64 `yaml:"fraction"`

	// PrefixRGB and PrefixIR are prepended to log and error messages of each modality.
	PrefixRGB string `yaml:"prefix_rgb"`
	PrefixIR  string `yaml:"prefix_ir"`

	// Workers is the number of images cached in parallel. 0 caches sequentially, -1 is unlimited.
	Workers int `yaml:"workers"`

	// ShowProgress displays a progress bar while caching images.
	ShowProgress bool `yaml:"show_progress"`

	// Seed for the random sampling of images when estimating the memory needed to cache them.
	Seed uint64 `yaml:"seed"`
}

// DefaultConfig returns a new Config with the default values.
func DefaultConfig() Config {
	return Config{
		ImgSize:   640,
		Cache:     NoCache,
		Augment:   true,
		BatchSize: 16,
		Stride:    32,
		Pad:       0.5,
		Fraction:  1.0,
		Workers:   runtime.NumCPU(),
	}
}

// Validate returns an error if the configuration values are out of range.
func (c Config) Validate() error {
	switch {
	case c.ImgSize <= 0:
		return errors.Errorf("invalid ImgSize %d, it must be > 0", c.ImgSize)
	case c.BatchSize <= 0:
		return errors.Errorf("invalid BatchSize %d, it must be > 0", c.BatchSize)
	case c.Stride <= 0:
		return errors.Errorf("invalid Stride %d, it must be > 0", c.Stride)
	case c.Pad < 0:
		return errors.Errorf("invalid Pad %g, it must be >= 0", c.Pad)
	case c.Fraction <= 0 || c.Fraction > 1:
		return errors.Errorf("invalid Fraction %g, it must be in (0, 1]", c.Fraction)
	case c.Workers < -1:
		return errors.Errorf("invalid Workers %d, it must be >= -1", c.Workers)
	}
	if _, err := ParseCacheMode(string(c.Cache)); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads a YAML configuration file. Values not present in the file are taken from DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	contents, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read configuration %s", path)
	}
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to parse configuration %s", path)
	}
	return cfg, cfg.Validate()
}
