// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labels

import (
	"bufio"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gomlx/rgbir/pkg/imgcache"
	"github.com/pkg/errors"
)

// LabelPath returns the YOLO label file for imageFile: the last "images" directory in the path is replaced
// by "labels", and the extension by ".txt".
func LabelPath(imageFile string) string {
	sep := string(filepath.Separator)
	imagesDir, labelsDir := sep+"images"+sep, sep+"labels"+sep
	if idx := strings.LastIndex(imageFile, imagesDir); idx >= 0 {
		imageFile = imageFile[:idx] + labelsDir + imageFile[idx+len(imagesDir):]
	}
	return strings.TrimSuffix(imageFile, filepath.Ext(imageFile)) + ".txt"
}

// YOLOReader reads labels in the YOLO text format: one object per line, with the class id followed by
// the normalized box (center x, center y, width, height), or by a normalized polygon (x1 y1 x2 y2 ...).
//
// If KeypointShape is set, each line has the class, the box, and KeypointShape[0] keypoints with
// KeypointShape[1] values each (2 for x, y or 3 for x, y, visibility).
type YOLOReader struct {
	KeypointShape [2]int
}

func (r YOLOReader) hasKeypoints() bool {
	return r.KeypointShape[0] > 0
}

// ReadAll reads the labels of all the given image files.
func (r YOLOReader) ReadAll(imageFiles []string) ([]*Label, error) {
	labels := make([]*Label, len(imageFiles))
	for i, imageFile := range imageFiles {
		l, err := r.Read(imageFile)
		if err != nil {
			return nil, err
		}
		labels[i] = l
	}
	return labels, nil
}

// Read the label of imageFile. The image header is read for the image shape.
// A missing label file means the image has no objects.
func (r YOLOReader) Read(imageFile string) (*Label, error) {
	shape, err := imgcache.DecodeShape(imageFile)
	if err != nil {
		return nil, err
	}
	l := &Label{
		ImageFile:  imageFile,
		Shape:      &shape,
		Cls:        []float32{},
		BBoxes:     [][4]float32{},
		Normalized: true,
		BBoxFormat: XYWH,
	}
	if r.hasKeypoints() {
		l.Keypoints = [][][]float32{}
	}

	labelPath := LabelPath(imageFile)
	f, err := os.Open(labelPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, errors.Wrapf(err, "failed to open label file %s", labelPath)
	}
	defer func() { _ = f.Close() }()
	if err = r.parse(f, l); err != nil {
		return nil, errors.WithMessagef(err, "invalid label file %s", labelPath)
	}
	return l, nil
}

// parse the contents of a label file into l.
func (r YOLOReader) parse(reader io.Reader, l *Label) error {
	var rows [][]float32
	scanner := bufio.NewScanner(reader)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		row := make([]float32, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 32)
			if err != nil {
				return errors.Wrapf(err, "line %d", lineNum)
			}
			row[i] = float32(v)
		}
		if row[0] < 0 {
			return errors.Errorf("line %d: negative class %g", lineNum, row[0])
		}
		if err := r.checkNormalized(row); err != nil {
			return errors.WithMessagef(err, "line %d", lineNum)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "failed to read labels")
	}
	rows = dedupRows(rows)

	switch {
	case r.hasKeypoints():
		return r.parseKeypoints(rows, l)
	case hasSegments(rows):
		return parseSegments(rows, l)
	}
	for i, row := range rows {
		if len(row) != 5 {
			return errors.Errorf("object %d: expected 5 values (class and box), got %d", i, len(row))
		}
		l.Cls = append(l.Cls, row[0])
		l.BBoxes = append(l.BBoxes, [4]float32{row[1], row[2], row[3], row[4]})
	}
	return nil
}

// checkNormalized returns an error if any coordinate in row is outside [0, 1].
// Keypoint visibility values are not coordinates and are not checked.
func (r YOLOReader) checkNormalized(row []float32) error {
	for i, v := range row[1:] {
		if r.hasKeypoints() && i >= 4 && r.KeypointShape[1] > 2 && (i-4)%r.KeypointShape[1] >= 2 {
			continue
		}
		if v < 0 || v > 1 {
			return errors.Errorf("coordinates must be normalized to [0, 1], got %g", v)
		}
	}
	return nil
}

// hasSegments returns whether any of the rows is a polygon instead of a box.
func hasSegments(rows [][]float32) bool {
	for _, row := range rows {
		if len(row) > 6 {
			return true
		}
	}
	return false
}

// parseSegments reads every row as a polygon, and sets the box to the polygon's bounding box.
func parseSegments(rows [][]float32, l *Label) error {
	for i, row := range rows {
		coords := row[1:]
		if len(coords)%2 != 0 || len(coords) < 4 {
			return errors.Errorf("object %d: polygon with %d coordinates", i, len(coords))
		}
		segment := make([][2]float32, len(coords)/2)
		for j := range segment {
			segment[j] = [2]float32{coords[2*j], coords[2*j+1]}
		}
		l.Cls = append(l.Cls, row[0])
		l.BBoxes = append(l.BBoxes, SegmentBox(segment))
		l.Segments = append(l.Segments, segment)
	}
	return nil
}

func (r YOLOReader) parseKeypoints(rows [][]float32, l *Label) error {
	numPoints, dims := r.KeypointShape[0], r.KeypointShape[1]
	want := 5 + numPoints*dims
	for i, row := range rows {
		if len(row) != want {
			return errors.Errorf("object %d: expected %d values (class, box and %dx%d keypoints), got %d",
				i, want, numPoints, dims, len(row))
		}
		points := make([][]float32, numPoints)
		for j := range points {
			start := 5 + j*dims
			points[j] = append([]float32(nil), row[start:start+dims]...)
		}
		l.Cls = append(l.Cls, row[0])
		l.BBoxes = append(l.BBoxes, [4]float32{row[1], row[2], row[3], row[4]})
		l.Keypoints = append(l.Keypoints, points)
	}
	return nil
}

// SegmentBox returns the box (center x, center y, width, height) enclosing the polygon.
func SegmentBox(segment [][2]float32) [4]float32 {
	if len(segment) == 0 {
		return [4]float32{}
	}
	minX, minY := segment[0][0], segment[0][1]
	maxX, maxY := minX, minY
	for _, p := range segment[1:] {
		minX, maxX = min(minX, p[0]), max(maxX, p[0])
		minY, maxY = min(minY, p[1]), max(maxY, p[1])
	}
	return [4]float32{(minX + maxX) / 2, (minY + maxY) / 2, maxX - minX, maxY - minY}
}

// dedupRows removes repeated objects, keeping the first occurrence.
func dedupRows(rows [][]float32) [][]float32 {
	seen := make(map[string]bool, len(rows))
	unique := rows[:0]
	for _, row := range rows {
		key := formatRow(row)
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, row)
	}
	return unique
}

func formatRow(row []float32) string {
	var sb strings.Builder
	for _, v := range row {
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
		sb.WriteByte(' ')
	}
	return sb.String()
}
