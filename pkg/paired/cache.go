// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package paired

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/rgbir/internal/workerspool"
	"github.com/gomlx/rgbir/pkg/imgcache"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/shirou/gopsutil/v3/mem"
	"k8s.io/klog/v2"
)

// memoryStats returns the system memory statistics. It can be replaced in tests.
var memoryStats = mem.VirtualMemory

// numRAMCheckSamples is the number of images sampled by CheckCacheRAM.
const numRAMCheckSamples = 30

// CacheImages loads all images of both modalities according to mode:
//
//   - CacheRAM: images are decoded, resized and kept in memory for the lifetime of the Dataset.
//   - CacheDisk: a preprocessed file is written next to each image that doesn't have one yet.
//
// Images are processed in parallel by Config.Workers goroutines.
func (d *Dataset) CacheImages(mode CacheMode) error {
	if mode == NoCache {
		return nil
	}
	if mode != CacheRAM && mode != CacheDisk {
		return errors.Errorf("unknown cache mode %q", mode)
	}
	for _, m := range d.modalities() {
		if err := d.cacheModality(m, mode); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dataset) cacheModality(m *modality, mode CacheMode) error {
	n := len(m.files)
	storage := "RAM"
	if mode == CacheDisk {
		storage = "disk"
	}
	var totalBytes atomic.Int64
	bar := progressbar.NewOptions(n,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(d.cfg.ShowProgress),
		progressbar.OptionSetTheme(progressbar.ThemeASCII),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetDescription(fmt.Sprintf("%sCaching %s images", m.prefix, m.kind)),
	)

	pool := workerspool.New().SetMaxParallelism(d.cfg.Workers)
	err := pool.ForEach(n, func(i int) error {
		var numBytes int64
		if mode == CacheDisk {
			var err error
			numBytes, err = imgcache.EnsureNPY(m.files[i])
			if err != nil {
				return errors.WithMessagef(err, "%sfailed to cache %s image #%d", m.prefix, m.kind, i)
			}
		} else {
			s, err := m.decodeAndResize(i, d.cfg.ImgSize, true)
			if err != nil {
				return errors.WithMessagef(err, "%sfailed to cache %s image #%d", m.prefix, m.kind, i)
			}
			m.pin(i, s)
			numBytes = imgcache.NumBytes(s.img)
		}
		total := totalBytes.Add(numBytes)
		bar.Describe(fmt.Sprintf("%sCaching %s images (%s %s)", m.prefix, m.kind, humanize.Bytes(uint64(total)), storage))
		_ = bar.Add(1)
		return nil
	})
	_ = bar.Finish()
	if err != nil {
		return errors.WithMessagef(err, "failed to cache %s images to %s", m.kind, storage)
	}
	klog.V(1).Infof("%sCached %d %s images (%s %s)", m.prefix, n, m.kind, humanize.Bytes(uint64(totalBytes.Load())), storage)
	return nil
}

// CheckCacheRAM estimates the memory needed to cache all images in RAM, from a random sample of images,
// and returns whether twice that amount (plus the safetyMargin fraction) is available.
func (d *Dataset) CheckCacheRAM(safetyMargin float64) (bool, error) {
	n := d.Len()
	if n == 0 {
		return true, nil
	}
	numSamples := min(n, numRAMCheckSamples)
	rng := rand.New(rand.NewPCG(d.cfg.Seed, uint64(n)))
	var sampledBytes float64
	for range numSamples {
		i := rng.IntN(n)
		for _, m := range d.modalities() {
			shape, err := imgcache.DecodeShape(m.files[i])
			if err != nil {
				return false, errors.WithMessagef(err, "%sfailed to estimate memory for %s images", m.prefix, m.kind)
			}
			ratio := float64(d.cfg.ImgSize) / float64(max(shape.H, shape.W))
			sampledBytes += float64(shape.H*shape.W*4) * ratio * ratio
		}
	}
	required := sampledBytes * float64(n) / float64(numSamples) * (1 + safetyMargin)

	stats, err := memoryStats()
	if err != nil {
		return false, errors.Wrap(err, "failed to read available system memory")
	}
	ok := 2*required < float64(stats.Available)
	if !ok {
		klog.Infof("%s%s RAM required to cache images with %d%% safety margin but only %s/%s available, not caching images",
			d.cfg.PrefixRGB, humanize.Bytes(uint64(required)), int(safetyMargin*100),
			humanize.Bytes(stats.Available), humanize.Bytes(stats.Total))
	}
	return ok, nil
}

// ResidentBytes returns the memory used by the images currently held in memory, for both modalities.
func (d *Dataset) ResidentBytes() int64 {
	return d.rgb.residentBytes() + d.ir.residentBytes()
}
