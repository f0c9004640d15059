// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package paired

import (
	"image"
	"os"
	"sync"

	"github.com/gomlx/rgbir/internal/ringbuffer"
	"github.com/gomlx/rgbir/pkg/imgcache"
	"github.com/gomlx/rgbir/pkg/labels"
	"github.com/gomlx/rgbir/pkg/shapes"
	"k8s.io/klog/v2"
)

// Modality identifies one of the image streams of the dataset.
type Modality int

const (
	RGB Modality = iota
	IR
)

// String implements fmt.Stringer.
func (m Modality) String() string {
	switch m {
	case RGB:
		return "RGB"
	case IR:
		return "IR"
	}
	return "Unknown"
}

// slot holds a decoded and resized image.
type slot struct {
	img           *image.NRGBA
	orig, resized shapes.HW
	pinned        bool // Loaded by the eager cache, never evicted.
}

// modality holds the state of one image stream: files, labels and cached images.
// Both RGB and IR go through the same code.
type modality struct {
	kind       Modality
	prefix     string
	files      []string
	cacheFiles []string
	labels     []*labels.Label

	// mu protects slots and buffer.
	mu     sync.Mutex
	slots  []slot
	buffer *ringbuffer.Ring[int]
}

func newModality(kind Modality, prefix string, files []string, lbls []*labels.Label) *modality {
	return &modality{
		kind:   kind,
		prefix: prefix,
		files:  files,
		labels: lbls,
	}
}

// reorder the files and labels: position i gets the element at order[i].
func (m *modality) reorder(order []int) {
	files := make([]string, len(order))
	lbls := make([]*labels.Label, len(order))
	for i, idx := range order {
		files[i], lbls[i] = m.files[idx], m.labels[idx]
	}
	m.files, m.labels = files, lbls
}

// initCache allocates the cache slots and the ring buffer. It must be called after the files are in their final order.
func (m *modality) initCache(maxBufferLength int) {
	m.cacheFiles = make([]string, len(m.files))
	for i, f := range m.files {
		m.cacheFiles[i] = imgcache.CachePath(f)
	}
	m.slots = make([]slot, len(m.files))
	m.buffer = ringbuffer.New[int](maxBufferLength)
}

// decode the image at index, preferably from its preprocessed file.
// A preprocessed file that fails to load is removed, and the original image is decoded instead.
func (m *modality) decode(index int) (*image.NRGBA, error) {
	cachePath := m.cacheFiles[index]
	if _, err := os.Stat(cachePath); err == nil {
		img, err := imgcache.LoadNPY(cachePath)
		if err == nil {
			return img, nil
		}
		klog.Warningf("%sRemoving corrupt %s image file %s due to: %v", m.prefix, imgcache.Extension, cachePath, err)
		if err = os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
			klog.Warningf("%sfailed to remove %s: %v", m.prefix, cachePath, err)
		}
	}
	return imgcache.Decode(m.files[index])
}

// decodeAndResize returns the resized image at index, and its original and resized shapes.
func (m *modality) decodeAndResize(index, imgSize int, rectMode bool) (slot, error) {
	img, err := m.decode(index)
	if err != nil {
		return slot{}, err
	}
	s := slot{orig: shapes.Of(img)}
	s.img = imgcache.Resize(img, imgSize, rectMode)
	s.resized = shapes.Of(s.img)
	return s, nil
}

// cached returns the slot at index, if it holds an image.
func (m *modality) cached(index int) (slot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.slots[index]
	return s, s.img != nil
}

// load returns the image at index, from memory if it is cached.
//
// If buffered is true, a newly decoded image is kept in memory, and its index is added to the ring buffer. When the
// ring buffer is full, the oldest index is removed from it and its image is released.
func (m *modality) load(index, imgSize int, rectMode, buffered bool) (slot, error) {
	if s, found := m.cached(index); found {
		return s, nil
	}
	s, err := m.decodeAndResize(index, imgSize, rectMode)
	if err != nil {
		return slot{}, err
	}
	if buffered {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.slots[index].img != nil {
			// Loaded concurrently by another caller, keep the first one.
			return m.slots[index], nil
		}
		m.slots[index] = s
		if oldest, evicted := m.buffer.Push(index); evicted && oldest != index && !m.slots[oldest].pinned {
			m.slots[oldest] = slot{}
		}
	}
	return s, nil
}

// pin stores s at index permanently: it is never evicted.
func (m *modality) pin(index int, s slot) {
	s.pinned = true
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[index] = s
}

// residentBytes returns the memory used by the cached images.
func (m *modality) residentBytes() (total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		total += imgcache.NumBytes(s.img)
	}
	return
}
