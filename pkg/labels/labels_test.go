// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package labels

import (
	"testing"

	"github.com/gomlx/rgbir/pkg/shapes"
	"github.com/gomlx/rgbir/pkg/support/sets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLabel() *Label {
	return &Label{
		ImageFile: "/data/images/a.jpg",
		Shape:     &shapes.HW{H: 480, W: 640},
		Cls:       []float32{0, 2, 1, 2},
		BBoxes: [][4]float32{
			{0.1, 0.1, 0.1, 0.1},
			{0.2, 0.2, 0.2, 0.2},
			{0.3, 0.3, 0.3, 0.3},
			{0.4, 0.4, 0.4, 0.4},
		},
		Segments: [][][2]float32{
			{{0.1, 0.1}},
			{{0.2, 0.2}},
			{{0.3, 0.3}},
			{{0.4, 0.4}},
		},
		Keypoints: [][][]float32{
			{{0.1, 0.1, 1}},
			{{0.2, 0.2, 1}},
			{{0.3, 0.3, 1}},
			{{0.4, 0.4, 1}},
		},
		Normalized: true,
		BBoxFormat: XYWH,
	}
}

func TestFilter_Include(t *testing.T) {
	l := newLabel()
	Filter([]*Label{l}, sets.MakeWith(2), false)
	require.NoError(t, l.Validate())
	assert.Equal(t, []float32{2, 2}, l.Cls)
	assert.Equal(t, [][4]float32{{0.2, 0.2, 0.2, 0.2}, {0.4, 0.4, 0.4, 0.4}}, l.BBoxes)
	assert.Equal(t, [][][2]float32{{{0.2, 0.2}}, {{0.4, 0.4}}}, l.Segments)
	assert.Equal(t, [][][]float32{{{0.2, 0.2, 1}}, {{0.4, 0.4, 1}}}, l.Keypoints)
}

func TestFilter_RowsStayConsistent(t *testing.T) {
	for _, include := range []sets.Set[int]{
		nil, sets.MakeWith(0), sets.MakeWith(1, 2), sets.MakeWith(7), sets.MakeWith(0, 1, 2),
	} {
		for _, singleClass := range []bool{false, true} {
			withSegments, noSegments, noKeypoints := newLabel(), newLabel(), newLabel()
			noSegments.Segments = nil
			noKeypoints.Keypoints = nil
			Filter([]*Label{withSegments, noSegments, noKeypoints}, include, singleClass)
			for _, l := range []*Label{withSegments, noSegments, noKeypoints} {
				require.NoError(t, l.Validate(), "include=%v singleClass=%v", include, singleClass)
			}
			assert.Empty(t, noSegments.Segments)
			assert.Nil(t, noKeypoints.Keypoints)
		}
	}
}

func TestFilter_SingleClass(t *testing.T) {
	l := newLabel()
	Filter([]*Label{l}, sets.MakeWith(1, 2), true)
	assert.Equal(t, []float32{0, 0, 0}, l.Cls)
	assert.Len(t, l.BBoxes, 3)

	// Without an allow-list all objects are kept.
	l = newLabel()
	Filter([]*Label{l}, nil, true)
	assert.Equal(t, []float32{0, 0, 0, 0}, l.Cls)
}

func TestFilter_NoneKept(t *testing.T) {
	l := newLabel()
	Filter([]*Label{l}, sets.MakeWith(9), false)
	require.NoError(t, l.Validate())
	assert.Equal(t, 0, l.NumObjects())
	assert.NotNil(t, l.Keypoints)
}

func TestClone(t *testing.T) {
	l := newLabel()
	c := l.Clone()
	assert.Equal(t, l, c)

	c.Cls[0] = 9
	c.BBoxes[0][0] = 9
	c.Segments[0][0][0] = 9
	c.Keypoints[0][0][0] = 9
	c.Shape.H = 9
	assert.Equal(t, newLabel(), l)
}

func TestValidate(t *testing.T) {
	l := newLabel()
	l.BBoxes = l.BBoxes[:2]
	assert.Error(t, l.Validate())

	l = newLabel()
	l.Keypoints = l.Keypoints[:1]
	assert.Error(t, l.Validate())

	l = newLabel()
	l.Segments = nil
	assert.NoError(t, l.Validate())
}
