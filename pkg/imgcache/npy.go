// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package imgcache

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/rgbir/pkg/support/fsutil"
	"github.com/pkg/errors"
)

const (
	npyMagic = "\x93NUMPY"

	// npyAlignment of the header, as required by the format (version 1.0).
	npyAlignment = 64

	// maxNPYHeaderLen is the largest header accepted. Image headers are shorter than 128 bytes.
	maxNPYHeaderLen = 1 << 16

	// MaxNPYSide is the largest height or width accepted when reading a preprocessed file.
	MaxNPYSide = 1 << 16

	// MaxNPYBytes is the largest image data accepted by ReadNPY.
	MaxNPYBytes = 1 << 30
)

var (
	reNpyDescr   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	reNpyFortran = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	reNpyShape   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// WriteNPY writes img as a `uint8` array shaped `[height, width, 4]` in the NumPy `.npy` format.
func WriteNPY(w io.Writer, img *image.NRGBA) error {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	header := fmt.Sprintf("{'descr': '|u1', 'fortran_order': False, 'shape': (%d, %d, 4), }", height, width)
	// magic (6) + version (2) + header length (2) + header + '\n' must be a multiple of npyAlignment.
	total := len(npyMagic) + 4 + len(header) + 1
	if rem := total % npyAlignment; rem != 0 {
		header += strings.Repeat(" ", npyAlignment-rem)
	}
	header += "\n"

	bw := bufio.NewWriter(w)
	_, _ = bw.WriteString(npyMagic)
	_, _ = bw.Write([]byte{1, 0})
	_ = binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	_, _ = bw.WriteString(header)
	rowBytes := 4 * width
	for y := 0; y < height; y++ {
		start := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		if _, err := bw.Write(img.Pix[start : start+rowBytes]); err != nil {
			return errors.Wrapf(err, "failed to write image row %d", y)
		}
	}
	return errors.Wrap(bw.Flush(), "failed to write NPY image")
}

// ReadNPY reads an image written by WriteNPY.
//
// It also accepts `uint8` arrays shaped `[height, width]` (grayscale) or `[height, width, 3]` (RGB).
// Images with more than MaxNPYBytes of data are rejected.
func ReadNPY(r io.Reader) (*image.NRGBA, error) {
	return readNPY(r, -1)
}

// readNPY reads an image from r. If size >= 0, it is the total number of bytes available in r, and
// the data size declared in the header must match it.
func readNPY(r io.Reader, size int64) (*image.NRGBA, error) {
	br := bufio.NewReader(r)
	prefix := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(br, prefix); err != nil {
		return nil, errors.Wrap(err, "failed to read NPY magic")
	}
	if string(prefix[:len(npyMagic)]) != npyMagic {
		return nil, errors.Errorf("invalid NPY magic %q", prefix[:len(npyMagic)])
	}
	var headerLen, lenBytes int
	switch major := prefix[len(npyMagic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "failed to read NPY header length")
		}
		headerLen, lenBytes = int(n), 2
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, errors.Wrap(err, "failed to read NPY header length")
		}
		headerLen, lenBytes = int(n), 4
	default:
		return nil, errors.Errorf("unsupported NPY version %d", major)
	}
	if headerLen > maxNPYHeaderLen {
		return nil, errors.Errorf("NPY header length %d is too large", headerLen)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(br, headerBytes); err != nil {
		return nil, errors.Wrap(err, "failed to read NPY header")
	}
	height, width, channels, err := parseNPYHeader(string(headerBytes))
	if err != nil {
		return nil, err
	}

	// Dimensions are at most MaxNPYSide, so the product can't overflow.
	dataLen := int64(height) * int64(width) * int64(channels)
	if size >= 0 {
		if available := size - int64(len(prefix)+lenBytes+headerLen); dataLen != available {
			return nil, errors.Errorf("NPY header declares a %dx%dx%d image (%d bytes), but the file holds %d bytes of data",
				height, width, channels, dataLen, available)
		}
	} else if dataLen > MaxNPYBytes {
		return nil, errors.Errorf("NPY image %dx%dx%d is larger than %d bytes", height, width, channels, MaxNPYBytes)
	}
	data := make([]byte, dataLen)
	if _, err = io.ReadFull(br, data); err != nil {
		return nil, errors.Wrapf(err, "failed to read NPY data for %dx%dx%d image", height, width, channels)
	}
	if channels == 4 {
		return &image.NRGBA{Pix: data, Stride: 4 * width, Rect: image.Rect(0, 0, width, height)}, nil
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < height*width; i++ {
		src, dst := data[i*channels:(i+1)*channels], img.Pix[4*i:4*i+4]
		if channels == 1 {
			dst[0], dst[1], dst[2] = src[0], src[0], src[0]
		} else {
			dst[0], dst[1], dst[2] = src[0], src[1], src[2]
		}
		dst[3] = 0xFF
	}
	return img, nil
}

func parseNPYHeader(header string) (height, width, channels int, err error) {
	descr := reNpyDescr.FindStringSubmatch(header)
	if descr == nil || (descr[1] != "|u1" && descr[1] != "<u1" && descr[1] != "u1") {
		err = errors.Errorf("NPY header %q: only uint8 arrays are supported", header)
		return
	}
	if fortran := reNpyFortran.FindStringSubmatch(header); fortran == nil || fortran[1] != "False" {
		err = errors.Errorf("NPY header %q: only C-ordered arrays are supported", header)
		return
	}
	shape := reNpyShape.FindStringSubmatch(header)
	if shape == nil {
		err = errors.Errorf("NPY header %q: missing shape", header)
		return
	}
	var dims []int
	for _, part := range strings.Split(shape[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var dim int
		dim, err = strconv.Atoi(part)
		if err != nil || dim <= 0 {
			err = errors.Errorf("NPY header %q: invalid shape", header)
			return
		}
		if dim > MaxNPYSide {
			err = errors.Errorf("NPY header %q: dimension %d larger than %d", header, dim, MaxNPYSide)
			return
		}
		dims = append(dims, dim)
	}
	switch {
	case len(dims) == 2:
		return dims[0], dims[1], 1, nil
	case len(dims) == 3 && (dims[2] == 1 || dims[2] == 3 || dims[2] == 4):
		return dims[0], dims[1], dims[2], nil
	}
	err = errors.Errorf("NPY header %q: shape is not an image", header)
	return
}

// SaveNPY writes img to path atomically, see WriteNPY.
func SaveNPY(path string, img *image.NRGBA) error {
	return fsutil.WriteFileAtomic(path, func(w io.Writer) error {
		return WriteNPY(w, img)
	})
}

// LoadNPY reads the image stored in path, see ReadNPY.
func LoadNPY(path string) (*image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", path)
	}
	img, err := readNPY(f, info.Size())
	if err != nil {
		return nil, errors.WithMessagef(err, "while reading %s", path)
	}
	return img, nil
}

// EnsureNPY writes the preprocessed file for imageFile if it doesn't exist yet.
// It returns the size in bytes of the preprocessed file.
func EnsureNPY(imageFile string) (int64, error) {
	cachePath := CachePath(imageFile)
	if info, err := os.Stat(cachePath); err == nil {
		return info.Size(), nil
	}
	img, err := Decode(imageFile)
	if err != nil {
		return 0, err
	}
	if err = SaveNPY(cachePath, img); err != nil {
		return 0, err
	}
	info, err := os.Stat(cachePath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to stat %s", cachePath)
	}
	return info.Size(), nil
}
