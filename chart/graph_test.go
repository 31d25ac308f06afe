package chart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphValueAt(t *testing.T) {
	var graph Graph
	graph.Set(0, NewGraphPoint(1.0))
	graph.Set(960, GraphPoint{V: GraphValue{V: 2.0, VF: 4.0}})
	graph.Set(1920, NewGraphPoint(5.0))

	assert.Equal(t, 0.0, GraphValueAt(Graph{}, 0))

	// Before the first point
	assert.Equal(t, 1.0, GraphValueAt(graph, -100))

	// Linear interpolation between points
	assert.InDelta(t, 1.0, GraphValueAt(graph, 0), 1e-9)
	assert.InDelta(t, 1.5, GraphValueAt(graph, 480), 1e-9)

	// From a slam point on (the point included), interpolation starts
	// from vf
	assert.InDelta(t, 4.0, GraphValueAt(graph, 960), 1e-9)
	assert.InDelta(t, 4.5, GraphValueAt(graph, 1440), 1e-9)

	// After the last point the final vf holds
	assert.Equal(t, 5.0, GraphValueAt(graph, 99999))
}

func TestGraphValueAtWithCurve(t *testing.T) {
	var graph Graph
	graph.Set(0, GraphPoint{V: NewGraphValue(0.0), Curve: GraphCurve{A: 0.2, B: 0.8}})
	graph.Set(960, NewGraphPoint(1.0))

	assert.InDelta(t, EvaluateCurveAB(0.2, 0.8, 0.25), GraphValueAt(graph, 240), 1e-9)
}

func TestBakeStopIntoScrollSpeed(t *testing.T) {
	var scrollSpeed Graph
	scrollSpeed.Set(0, NewGraphPoint(1.0))

	var stop ByPulse[RelPulse]
	stop.Set(960, 480)

	baked := BakeStopIntoScrollSpeed(scrollSpeed, stop)

	require.Len(t, baked, 3)
	assert.Equal(t, GraphValue{V: 1.0, VF: 0.0}, baked[1].V.V)
	assert.Equal(t, Pulse(960), baked[1].Y)
	assert.Equal(t, GraphValue{V: 0.0, VF: 1.0}, baked[2].V.V)
	assert.Equal(t, Pulse(1440), baked[2].Y)

	// No stops: graph unchanged
	assert.Equal(t, scrollSpeed, BakeStopIntoScrollSpeed(scrollSpeed, nil))
}

func TestBakeStopMergesOverlappingRanges(t *testing.T) {
	var stop ByPulse[RelPulse]
	stop.Set(0, 480)
	stop.Set(240, 480)

	baked := BakeStopIntoScrollSpeed(nil, stop)

	// One merged zero span over [0, 720]
	require.Len(t, baked, 2)
	assert.Equal(t, Pulse(0), baked[0].Y)
	assert.Equal(t, 0.0, baked[0].V.V.VF)
	assert.Equal(t, Pulse(720), baked[1].Y)
	assert.Equal(t, 0.0, baked[1].V.V.V)
	assert.Equal(t, 1.0, baked[1].V.V.VF)
}

func TestLaserSectionValueAt(t *testing.T) {
	var lane ByPulse[LaserSection]
	section := LaserSection{W: LaserXScale1x}
	section.V.Set(0, NewGraphPoint(0.0))
	section.V.Set(480, NewGraphPoint(1.0))
	lane.Set(960, section)

	_, ok := LaserSectionValueAt(lane, 0)
	assert.False(t, ok, "no section covers the pulse")

	v, ok := LaserSectionValueAt(lane, 960)
	require.True(t, ok)
	assert.InDelta(t, 0.0, v, 1e-9)

	v, ok = LaserSectionValueAt(lane, 1200)
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)

	// The last point is exclusive
	_, ok = LaserSectionValueAt(lane, 1440)
	assert.False(t, ok)
}

func TestLaserGraphPointAt(t *testing.T) {
	var lane ByPulse[LaserSection]
	section := LaserSection{W: LaserXScale1x}
	section.V.Set(0, NewGraphPoint(0.25))
	section.V.Set(480, NewGraphPoint(0.75))
	lane.Set(960, section)

	point, ok := LaserGraphPointAt(lane, 1440)
	require.True(t, ok)
	assert.Equal(t, 0.75, point.V.V)

	_, ok = LaserGraphPointAt(lane, 1200)
	assert.False(t, ok)
}
