// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imgcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient creates a deterministic test image.
func gradient(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 13), B: uint8(x + y), A: 0xFF})
		}
	}
	return img
}

func TestCachePath(t *testing.T) {
	assert.Equal(t, "/data/images/a.npy", CachePath("/data/images/a.jpg"))
	assert.Equal(t, "/data/images/b.v2.npy", CachePath("/data/images/b.v2.PNG"))
}

func TestTargetShape(t *testing.T) {
	// Rect mode: longest side to 640, shortest rounded up.
	assert.Equal(t, shapes.HW{H: 360, W: 640}, TargetShape(shapes.HW{H: 1080, W: 1920}, 640, true))
	assert.Equal(t, shapes.HW{H: 640, W: 427}, TargetShape(shapes.HW{H: 300, W: 200}, 640, true))
	// Ratio of 1: unchanged.
	assert.Equal(t, shapes.HW{H: 480, W: 640}, TargetShape(shapes.HW{H: 480, W: 640}, 640, true))
	// Square mode always stretches.
	assert.Equal(t, shapes.HW{H: 320, W: 320}, TargetShape(shapes.HW{H: 1080, W: 1920}, 320, false))

	// Never larger than imgSize.
	for _, orig := range []shapes.HW{{H: 1, W: 3}, {H: 999, W: 1000}, {H: 7, W: 3}, {H: 4000, W: 3}} {
		got := TargetShape(orig, 640, true)
		assert.LessOrEqual(t, got.H, 640, "orig=%s", orig)
		assert.LessOrEqual(t, got.W, 640, "orig=%s", orig)
		assert.Equal(t, 640, max(got.H, got.W), "orig=%s", orig)
	}
}

func TestResize(t *testing.T) {
	img := gradient(192, 108)
	resized := Resize(img, 64, true)
	assert.Equal(t, shapes.HW{H: 36, W: 64}, shapes.Of(resized))

	square := Resize(img, 32, false)
	assert.Equal(t, shapes.HW{H: 32, W: 32}, shapes.Of(square))

	same := gradient(32, 32)
	assert.Same(t, same, Resize(same, 32, false))
	assert.Same(t, same, Resize(same, 32, true))
}

func TestNPY_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	imageFile := filepath.Join(dir, "img.png")
	require.NoError(t, imaging.Save(gradient(37, 21), imageFile))

	decoded, err := Decode(imageFile)
	require.NoError(t, err)

	size, err := EnsureNPY(imageFile)
	require.NoError(t, err)
	assert.Greater(t, size, int64(37*21*4))

	loaded, err := LoadNPY(CachePath(imageFile))
	require.NoError(t, err)
	assert.Equal(t, decoded.Rect, loaded.Rect)
	assert.Equal(t, decoded.Pix, loaded.Pix)

	// Same resize parameters yield identical pixels.
	assert.Equal(t, Resize(decoded, 16, true).Pix, Resize(loaded, 16, true).Pix)

	// Second call doesn't rewrite the file.
	size2, err := EnsureNPY(imageFile)
	require.NoError(t, err)
	assert.Equal(t, size, size2)
}

func TestNPY_HeaderAlignment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, gradient(5, 3)))
	data := buf.Bytes()
	assert.Equal(t, npyMagic, string(data[:6]))
	headerLen := int(data[8]) | int(data[9])<<8
	assert.Equal(t, 0, (10+headerLen)%npyAlignment)
	assert.Equal(t, byte('\n'), data[10+headerLen-1])
	assert.Len(t, data, 10+headerLen+5*3*4)
}

func TestNPY_SubImage(t *testing.T) {
	full := gradient(10, 10)
	sub := full.SubImage(image.Rect(2, 3, 6, 8)).(*image.NRGBA)
	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, sub))
	got, err := ReadNPY(&buf)
	require.NoError(t, err)
	assert.Equal(t, shapes.HW{H: 5, W: 4}, shapes.Of(got))
	assert.Equal(t, sub.NRGBAAt(2, 3), got.NRGBAAt(0, 0))
	assert.Equal(t, sub.NRGBAAt(5, 7), got.NRGBAAt(3, 4))
}

func TestNPY_Corrupt(t *testing.T) {
	_, err := ReadNPY(bytes.NewReader([]byte("not a numpy file")))
	require.Error(t, err)

	// Truncated data.
	var buf bytes.Buffer
	require.NoError(t, WriteNPY(&buf, gradient(8, 8)))
	_, err = ReadNPY(bytes.NewReader(buf.Bytes()[:buf.Len()-10]))
	require.Error(t, err)

	// Shapes that would overflow or allocate huge buffers are rejected before reading the data.
	for _, shape := range []string{"2305843009213693953, 1, 4", "50000, 50000, 4", "65536, 65536"} {
		_, err = ReadNPY(bytes.NewReader(npyWithShape(shape)))
		require.Error(t, err, "shape (%s)", shape)

		path := filepath.Join(t.TempDir(), "corrupt.npy")
		require.NoError(t, os.WriteFile(path, npyWithShape(shape), 0o644))
		_, err = LoadNPY(path)
		require.Error(t, err, "shape (%s)", shape)
	}

	// The data size must match the file size.
	path := filepath.Join(t.TempDir(), "short.npy")
	require.NoError(t, os.WriteFile(path, npyWithShape("100, 100, 4"), 0o644))
	_, err = LoadNPY(path)
	require.Error(t, err)
}

// npyWithShape returns a version 1.0 NPY header for a uint8 array of the given shape, with no data.
func npyWithShape(shape string) []byte {
	header := fmt.Sprintf("{'descr': '|u1', 'fortran_order': False, 'shape': (%s), }\n", shape)
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY\x01\x00")
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	return buf.Bytes()
}

func TestDecode_Missing(t *testing.T) {
	_, err := Decode(filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImageNotFound))

	garbage := filepath.Join(t.TempDir(), "garbage.jpg")
	require.NoError(t, os.WriteFile(garbage, []byte("garbage"), 0o644))
	_, err = Decode(garbage)
	assert.True(t, errors.Is(err, ErrImageNotFound))
}

// writeOrientedJPEG writes a width x height JPEG, with an EXIF segment holding the given orientation.
func writeOrientedJPEG(t *testing.T, path string, width, height int, orientation uint16) {
	t.Helper()
	var encoded bytes.Buffer
	require.NoError(t, jpeg.Encode(&encoded, gradient(width, height), nil))
	var exif bytes.Buffer
	exif.WriteString("Exif\x00\x00MM\x00\x2a")
	for _, v := range []any{
		uint32(8),                 // Offset of the first IFD.
		uint16(1),                 // Number of entries.
		uint16(0x0112), uint16(3), // Orientation tag, type SHORT.
		uint32(1), orientation, uint16(0),
		uint32(0), // No next IFD.
	} {
		require.NoError(t, binary.Write(&exif, binary.BigEndian, v))
	}
	var contents bytes.Buffer
	contents.Write(encoded.Bytes()[:2]) // SOI marker.
	_ = binary.Write(&contents, binary.BigEndian, []uint16{0xFFE1, uint16(exif.Len() + 2)})
	contents.Write(exif.Bytes())
	contents.Write(encoded.Bytes()[2:])
	require.NoError(t, os.WriteFile(path, contents.Bytes(), 0o644))
}

func TestDecodeShape_Orientation(t *testing.T) {
	dir := t.TempDir()
	for orientation, want := range map[uint16]shapes.HW{
		1: {H: 20, W: 40},
		3: {H: 20, W: 40},
		6: {H: 40, W: 20},
		8: {H: 40, W: 20},
	} {
		imageFile := filepath.Join(dir, fmt.Sprintf("rotated%d.jpg", orientation))
		writeOrientedJPEG(t, imageFile, 40, 20, orientation)
		img, err := Decode(imageFile)
		require.NoError(t, err)
		assert.Equal(t, want, shapes.Of(img), "orientation %d", orientation)
		shape, err := DecodeShape(imageFile)
		require.NoError(t, err)
		assert.Equal(t, want, shape, "orientation %d", orientation)
	}
}

func TestDecodeShape(t *testing.T) {
	imageFile := filepath.Join(t.TempDir(), "img.png")
	require.NoError(t, imaging.Save(gradient(40, 30), imageFile))
	shape, err := DecodeShape(imageFile)
	require.NoError(t, err)
	assert.Equal(t, shapes.HW{H: 30, W: 40}, shape)
}
