package chart

// GraphValueAt returns the interpolated graph value at the pulse, honoring
// instantaneous transitions (the span after a point starts at its VF) and
// segment curves. Before the first point the first V is returned, after the
// last point its VF.
func GraphValueAt(graph Graph, pulse Pulse) float64 {
	if len(graph) == 0 {
		return 0.0
	}

	i, ok := graph.entryAt(pulse)
	if !ok {
		return graph[0].V.V.V
	}

	point := graph[i]
	if i+1 >= len(graph) {
		return point.V.V.VF
	}

	next := graph[i+1]
	segmentLength := next.Y - point.Y
	if segmentLength <= 0 {
		return next.V.V.V
	}

	lerpRate := float64(pulse-point.Y) / float64(segmentLength)
	curveValue := EvaluateCurve(point.V.Curve, lerpRate)
	return lerp(point.V.V.VF, next.V.V.V, curveValue)
}

// BakeStopIntoScrollSpeed folds stop events into the scroll speed graph by
// replacing each (merged) stop range with a zero-speed span.
func BakeStopIntoScrollSpeed(scrollSpeed Graph, stop ByPulse[RelPulse]) Graph {
	if len(stop) == 0 {
		return scrollSpeed
	}

	result := make(Graph, len(scrollSpeed))
	copy(result, scrollSpeed)
	if len(result) == 0 {
		result.Set(0, NewGraphPoint(1.0))
	}

	type stopRange struct{ start, end Pulse }
	var merged []stopRange
	for _, s := range stop {
		start, end := s.Y, s.Y+s.V
		if len(merged) == 0 || merged[len(merged)-1].end < start {
			merged = append(merged, stopRange{start, end})
		} else if end > merged[len(merged)-1].end {
			merged[len(merged)-1].end = end
		}
	}

	for _, r := range merged {
		speedBefore := GraphValueAt(result, r.start)
		speedAfter := GraphValueAt(result, r.end)

		kept := result[:0]
		for _, e := range result {
			if e.Y > r.start && e.Y < r.end {
				continue
			}
			kept = append(kept, e)
		}
		result = kept

		result.Set(r.start, GraphPoint{V: GraphValue{V: speedBefore, VF: 0.0}})
		result.Set(r.end, GraphPoint{V: GraphValue{V: 0.0, VF: speedAfter}})
	}

	return result
}

// GraphSectionAt returns the entry of the section whose start is the largest
// <= pulse.
func GraphSectionAt[GS any](sections ByPulse[GS], pulse Pulse) (PulseEntry[GS], bool) {
	i, ok := sections.entryAt(pulse)
	if !ok {
		if len(sections) == 0 {
			return PulseEntry[GS]{}, false
		}
		return sections[0], false
	}
	return sections[i], true
}

func sectionValueAt(points ByRelPulse[GraphPoint], sectionStart, pulse Pulse) (float64, bool) {
	if len(points) <= 1 {
		return 0, false
	}

	ry := pulse - sectionStart
	if ry < points[0].Y || ry >= points[len(points)-1].Y {
		return 0, false
	}

	return GraphValueAt(Graph(points), ry), true
}

// LaserSectionValueAt returns the laser value at the pulse, or false when no
// section covers it.
func LaserSectionValueAt(sections ByPulse[LaserSection], pulse Pulse) (float64, bool) {
	entry, ok := GraphSectionAt(sections, pulse)
	if !ok {
		return 0, false
	}
	return sectionValueAt(entry.V.V, entry.Y, pulse)
}

// GraphSectionValueAt returns the section graph value at the pulse, or false
// when no section covers it.
func GraphSectionValueAt(sections ByPulse[GraphSection], pulse Pulse) (float64, bool) {
	entry, ok := GraphSectionAt(sections, pulse)
	if !ok {
		return 0, false
	}
	return sectionValueAt(entry.V.V, entry.Y, pulse)
}

// LaserSectionValueAtWithDefault is LaserSectionValueAt with a fallback.
func LaserSectionValueAtWithDefault(sections ByPulse[LaserSection], pulse Pulse, defaultValue float64) float64 {
	if v, ok := LaserSectionValueAt(sections, pulse); ok {
		return v
	}
	return defaultValue
}

// LaserGraphPointAt returns the laser point stored exactly at the pulse.
func LaserGraphPointAt(sections ByPulse[LaserSection], pulse Pulse) (GraphPoint, bool) {
	entry, ok := GraphSectionAt(sections, pulse)
	if !ok {
		return GraphPoint{}, false
	}
	return entry.V.V.Get(pulse - entry.Y)
}
