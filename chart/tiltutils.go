package chart

// ManualTiltValueAt returns the interpolated manual tilt value at the pulse,
// or false when the entry in effect is an auto tilt (or the timeline is
// empty or starts later).
func ManualTiltValueAt(tilt ByPulse[TiltValue], pulse Pulse) (float64, bool) {
	if len(tilt) == 0 {
		return 0, false
	}

	i, ok := tilt.entryAt(pulse)
	if !ok {
		return 0, false
	}

	current := tilt[i]
	if !current.V.IsManual() {
		return 0, false
	}

	point := current.V.Point()
	if point.V.VF.IsAuto() {
		return 0, false
	}
	currentVF := point.V.VF.Value()

	if i+1 >= len(tilt) || !tilt[i+1].V.IsManual() {
		// Next is auto tilt or absent: hold the final value
		return currentVF, true
	}

	next := tilt[i+1]
	nextPoint := next.V.Point()
	segmentLength := next.Y - current.Y
	if segmentLength <= 0 {
		return nextPoint.V.V, true
	}

	lerpRate := float64(pulse-current.Y) / float64(segmentLength)
	curveValue := EvaluateCurve(point.Curve, lerpRate)
	return lerp(currentVF, nextPoint.V.V, curveValue), true
}

// AutoTiltScaleAt returns the auto tilt scale in effect at the pulse, or 1.0
// when a manual entry (or nothing) is in effect.
func AutoTiltScaleAt(tilt ByPulse[TiltValue], pulse Pulse) float64 {
	if v, ok := tilt.ValueAt(pulse); ok && !v.IsManual() {
		return AutoTiltScale(v.Auto())
	}
	return 1.0
}

// AutoTiltKeepAt reports whether a keep-type auto tilt is in effect at the
// pulse.
func AutoTiltKeepAt(tilt ByPulse[TiltValue], pulse Pulse) bool {
	if v, ok := tilt.ValueAt(pulse); ok && !v.IsManual() {
		return IsKeepAutoTiltType(v.Auto())
	}
	return false
}
