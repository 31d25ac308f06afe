package chart

import "math"

func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0.0), 1.0)
}

// EvaluateCurveAB evaluates the quadratic-bezier-derived curve function with
// control values a, b at position x (all in [0, 1]).
//
// The curve is f(x) = 2(1-t)tb + t^2 with
// t = (a - sqrt(a^2 + x - 2ax)) / (-1 + 2a), which cancels catastrophically
// near a = 0.5; there the conjugate form t = x / (a + sqrt(a^2 + x - 2ax))
// is used instead.
func EvaluateCurveAB(a, b, x float64) float64 {
	a = clamp01(a)
	b = clamp01(b)
	x = clamp01(x)

	discriminant := a*a + x - 2.0*a*x
	dSqrt := 0.0
	if discriminant >= 0.0 {
		dSqrt = math.Sqrt(discriminant)
	}

	var t float64
	if a < 0.25 {
		t = (a - dSqrt) / (-1.0 + 2.0*a)
	} else {
		t = x / (a + dSqrt)
	}

	return clamp01(2.0*(1.0-t)*t*b + t*t)
}

// EvaluateCurve evaluates the curve, returning x unchanged when the curve is
// linear.
func EvaluateCurve(curve GraphCurve, x float64) float64 {
	if curve.IsLinear() {
		return x
	}
	return EvaluateCurveAB(curve.A, curve.B, x)
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

func expandPoints(points ByPulse[GraphPoint], subdivisionInterval Pulse) ByPulse[GraphPoint] {
	if len(points) == 0 {
		return nil
	}

	var result ByPulse[GraphPoint]
	result.Set(points[0].Y, points[0].V)

	for i := 0; i+1 < len(points); i++ {
		p1 := points[i]
		p2 := points[i+1]

		if p1.V.Curve.IsLinear() {
			result.Set(p2.Y, p2.V)
			continue
		}

		segmentLength := p2.Y - p1.Y
		for ry := subdivisionInterval; ry < segmentLength; ry += subdivisionInterval {
			lerpRate := float64(ry) / float64(segmentLength)
			curveValue := EvaluateCurve(p1.V.Curve, lerpRate)
			result.Set(p1.Y+ry, NewGraphPoint(lerp(p1.V.V.VF, p2.V.V.V, curveValue)))
		}
		result.Set(p2.Y, p2.V)
	}

	return result
}

// ExpandCurveSegments replaces curved segments of the graph with linear
// points sampled at the subdivision interval. Used by renderers; the codecs
// keep curves intact. subdivisionInterval must be positive.
func ExpandCurveSegments(graph Graph, subdivisionInterval Pulse) Graph {
	if subdivisionInterval <= 0 {
		panic("subdivisionInterval must be positive")
	}
	return expandPoints(graph, subdivisionInterval)
}

// ExpandGraphSectionCurveSegments is ExpandCurveSegments over a graph
// section (relative pulses).
func ExpandGraphSectionCurveSegments(section GraphSection, subdivisionInterval RelPulse) GraphSection {
	if subdivisionInterval <= 0 {
		panic("subdivisionInterval must be positive")
	}
	return GraphSection{V: expandPoints(section.V, subdivisionInterval)}
}

// ExpandLaserSectionCurveSegments is ExpandCurveSegments over a laser
// section; the width flag is preserved.
func ExpandLaserSectionCurveSegments(section LaserSection, subdivisionInterval RelPulse) LaserSection {
	if subdivisionInterval <= 0 {
		panic("subdivisionInterval must be positive")
	}
	return LaserSection{V: expandPoints(section.V, subdivisionInterval), W: section.W}
}
