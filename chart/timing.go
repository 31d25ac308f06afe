package chart

// TimingCache precomputes the pulse/time and pulse/measure correspondences
// of a BeatInfo so the conversion functions run in O(log n).
type TimingCache struct {
	bpmChangeSec            ByPulse[float64]
	bpmChangePulse          []secPulsePair
	timeSigChangePulse      ByPulse[Pulse] // measure idx -> pulse
	timeSigChangeMeasureIdx ByPulse[int64] // pulse -> measure idx
}

type secPulsePair struct {
	sec   float64
	pulse Pulse
}

// TimeSigOneMeasurePulse returns the pulse length of one measure under the
// time signature.
func TimeSigOneMeasurePulse(timeSig TimeSig) Pulse {
	return Resolution4 * Pulse(timeSig.N) / Pulse(timeSig.D)
}

// CreateTimingCache builds a timing cache. Missing timing entries are
// patched with defaults (120 BPM, 4/4) so the conversions stay total.
func CreateTimingCache(beat *BeatInfo) TimingCache {
	bpm := make(ByPulse[float64], len(beat.BPM))
	copy(bpm, beat.BPM)
	if len(bpm) == 0 {
		bpm.Set(0, 120.0)
	} else if !bpm.Contains(0) {
		bpm.Set(0, bpm[0].V)
	}

	timeSig := make(ByMeasureIdx[TimeSig], len(beat.TimeSig))
	copy(timeSig, beat.TimeSig)
	timeSig.SetIfAbsent(0, TimeSig{N: 4, D: 4})

	var cache TimingCache
	cache.bpmChangeSec.Set(0, 0.0)
	cache.bpmChangePulse = []secPulsePair{{0.0, 0}}
	cache.timeSigChangePulse.Set(0, 0)
	cache.timeSigChangeMeasureIdx.Set(0, 0)

	sec := 0.0
	for i := 1; i < len(bpm); i++ {
		prev := bpm[i-1]
		sec += float64(bpm[i].Y-prev.Y) / float64(Resolution) * 60 / prev.V
		cache.bpmChangeSec.Set(bpm[i].Y, sec)
		cache.bpmChangePulse = append(cache.bpmChangePulse, secPulsePair{sec, bpm[i].Y})
	}

	pulse := Pulse(0)
	for i := 1; i < len(timeSig); i++ {
		prev := timeSig[i-1]
		pulse += Pulse(timeSig[i].Y-prev.Y) * TimeSigOneMeasurePulse(prev.V)
		cache.timeSigChangePulse.Set(timeSig[i].Y, pulse)
		cache.timeSigChangeMeasureIdx.Set(pulse, int64(timeSig[i].Y))
	}

	return cache
}

func (cache *TimingCache) bpmChangeAtSec(sec float64) secPulsePair {
	pair := cache.bpmChangePulse[0]
	for _, p := range cache.bpmChangePulse {
		if p.sec > sec {
			break
		}
		pair = p
	}
	return pair
}

// PulseToMs converts a pulse to milliseconds.
func PulseToMs(pulse Pulse, beat *BeatInfo, cache *TimingCache) float64 {
	return PulseToSec(pulse, beat, cache) * 1000
}

// PulseToSec converts a pulse to seconds.
func PulseToSec(pulse Pulse, beat *BeatInfo, cache *TimingCache) float64 {
	nearestPulse, nearestBPM := nearestBPMChange(beat, pulse)
	baseSec := cache.bpmChangeSec.ValueAtOrDefault(nearestPulse, 0.0)
	return baseSec + float64(pulse-nearestPulse)/float64(Resolution)*60/nearestBPM
}

// PulseDoubleToMs converts a fractional pulse to milliseconds.
func PulseDoubleToMs(pulse float64, beat *BeatInfo, cache *TimingCache) float64 {
	return PulseDoubleToSec(pulse, beat, cache) * 1000
}

// PulseDoubleToSec converts a fractional pulse to seconds.
func PulseDoubleToSec(pulse float64, beat *BeatInfo, cache *TimingCache) float64 {
	nearestPulse, nearestBPM := nearestBPMChange(beat, Pulse(pulse))
	baseSec := cache.bpmChangeSec.ValueAtOrDefault(nearestPulse, 0.0)
	return baseSec + (pulse-float64(nearestPulse))/float64(Resolution)*60/nearestBPM
}

func nearestBPMChange(beat *BeatInfo, pulse Pulse) (Pulse, float64) {
	if len(beat.BPM) == 0 {
		return 0, 120.0
	}
	i, ok := beat.BPM.entryAt(pulse)
	if !ok {
		i = 0
	}
	return beat.BPM[i].Y, beat.BPM[i].V
}

// MsToPulse converts milliseconds to a pulse.
func MsToPulse(ms float64, beat *BeatInfo, cache *TimingCache) Pulse {
	return SecToPulse(ms/1000, beat, cache)
}

// SecToPulse converts seconds to a pulse.
func SecToPulse(sec float64, beat *BeatInfo, cache *TimingCache) Pulse {
	pair := cache.bpmChangeAtSec(sec)
	bpm := beat.BPM.ValueAtOrDefault(pair.pulse, 120.0)
	return pair.pulse + Pulse(float64(Resolution)*(sec-pair.sec)*bpm/60)
}

// MsToPulseDouble converts milliseconds to a fractional pulse.
func MsToPulseDouble(ms float64, beat *BeatInfo, cache *TimingCache) float64 {
	return SecToPulseDouble(ms/1000, beat, cache)
}

// SecToPulseDouble converts seconds to a fractional pulse.
func SecToPulseDouble(sec float64, beat *BeatInfo, cache *TimingCache) float64 {
	pair := cache.bpmChangeAtSec(sec)
	bpm := beat.BPM.ValueAtOrDefault(pair.pulse, 120.0)
	return float64(pair.pulse) + float64(Resolution)*(sec-pair.sec)*bpm/60
}

// PulseToMeasureIdx returns the index of the measure containing the pulse.
func PulseToMeasureIdx(pulse Pulse, beat *BeatInfo, cache *TimingCache) int64 {
	i, ok := cache.timeSigChangeMeasureIdx.entryAt(pulse)
	if !ok {
		i = 0
	}
	changePulse := cache.timeSigChangeMeasureIdx[i].Y
	changeIdx := cache.timeSigChangeMeasureIdx[i].V
	timeSig := beat.TimeSig.ValueAtOrDefault(Pulse(changeIdx), TimeSig{N: 4, D: 4})
	return changeIdx + int64((pulse-changePulse)/TimeSigOneMeasurePulse(timeSig))
}

// MsToMeasureIdx returns the measure index at the millisecond position.
func MsToMeasureIdx(ms float64, beat *BeatInfo, cache *TimingCache) int64 {
	return SecToMeasureIdx(ms/1000, beat, cache)
}

// SecToMeasureIdx returns the measure index at the second position.
func SecToMeasureIdx(sec float64, beat *BeatInfo, cache *TimingCache) int64 {
	return PulseToMeasureIdx(SecToPulse(sec, beat, cache), beat, cache)
}

// MeasureIdxToPulse returns the pulse at the start of the measure.
func MeasureIdxToPulse(measureIdx int64, beat *BeatInfo, cache *TimingCache) Pulse {
	i, ok := cache.timeSigChangePulse.entryAt(Pulse(measureIdx))
	if !ok {
		i = 0
	}
	changeIdx := int64(cache.timeSigChangePulse[i].Y)
	changePulse := cache.timeSigChangePulse[i].V
	timeSig := beat.TimeSig.ValueAtOrDefault(Pulse(changeIdx), TimeSig{N: 4, D: 4})
	return changePulse + Pulse(measureIdx-changeIdx)*TimeSigOneMeasurePulse(timeSig)
}

// MeasureValueToPulse returns the pulse at a fractional measure position.
func MeasureValueToPulse(measureValue float64, beat *BeatInfo, cache *TimingCache) Pulse {
	measureIdx := int64(measureValue)
	i, ok := cache.timeSigChangePulse.entryAt(Pulse(measureIdx))
	if !ok {
		i = 0
	}
	changeIdx := int64(cache.timeSigChangePulse[i].Y)
	changePulse := cache.timeSigChangePulse[i].V
	timeSig := beat.TimeSig.ValueAtOrDefault(Pulse(changeIdx), TimeSig{N: 4, D: 4})
	return changePulse + Pulse((measureValue-float64(changeIdx))*float64(TimeSigOneMeasurePulse(timeSig)))
}

// MeasureValueToPulseDouble returns the fractional pulse at a fractional
// measure position.
func MeasureValueToPulseDouble(measureValue float64, beat *BeatInfo, cache *TimingCache) float64 {
	measureIdx := int64(measureValue)
	i, ok := cache.timeSigChangePulse.entryAt(Pulse(measureIdx))
	if !ok {
		i = 0
	}
	changeIdx := int64(cache.timeSigChangePulse[i].Y)
	changePulse := cache.timeSigChangePulse[i].V
	timeSig := beat.TimeSig.ValueAtOrDefault(Pulse(changeIdx), TimeSig{N: 4, D: 4})
	return float64(changePulse) + (measureValue-float64(changeIdx))*float64(TimeSigOneMeasurePulse(timeSig))
}

// MeasureIdxToMs returns the millisecond position of the measure start.
func MeasureIdxToMs(measureIdx int64, beat *BeatInfo, cache *TimingCache) float64 {
	return MeasureIdxToSec(measureIdx, beat, cache) * 1000
}

// MeasureIdxToSec returns the second position of the measure start.
func MeasureIdxToSec(measureIdx int64, beat *BeatInfo, cache *TimingCache) float64 {
	return PulseToSec(MeasureIdxToPulse(measureIdx, beat, cache), beat, cache)
}

// MeasureValueToMs returns the millisecond position of a fractional measure.
func MeasureValueToMs(measureValue float64, beat *BeatInfo, cache *TimingCache) float64 {
	return MeasureValueToSec(measureValue, beat, cache) * 1000
}

// MeasureValueToSec returns the second position of a fractional measure.
func MeasureValueToSec(measureValue float64, beat *BeatInfo, cache *TimingCache) float64 {
	return PulseToSec(MeasureValueToPulse(measureValue, beat, cache), beat, cache)
}

// IsBarLinePulse reports whether the pulse falls on a measure boundary.
func IsBarLinePulse(pulse Pulse, beat *BeatInfo, cache *TimingCache) bool {
	i, ok := cache.timeSigChangeMeasureIdx.entryAt(pulse)
	if !ok {
		i = 0
	}
	changePulse := cache.timeSigChangeMeasureIdx[i].Y
	changeIdx := cache.timeSigChangeMeasureIdx[i].V
	timeSig := beat.TimeSig.ValueAtOrDefault(Pulse(changeIdx), TimeSig{N: 4, D: 4})
	return (pulse-changePulse)%TimeSigOneMeasurePulse(timeSig) == 0
}

// TempoAt returns the BPM in effect at the pulse.
func TempoAt(pulse Pulse, beat *BeatInfo) float64 {
	_, bpm := nearestBPMChange(beat, pulse)
	return bpm
}

// TimeSigAt returns the time signature in effect at the pulse.
func TimeSigAt(pulse Pulse, beat *BeatInfo, cache *TimingCache) TimeSig {
	i, ok := cache.timeSigChangeMeasureIdx.entryAt(pulse)
	if !ok {
		i = 0
	}
	changeIdx := cache.timeSigChangeMeasureIdx[i].V
	return beat.TimeSig.ValueAtOrDefault(Pulse(changeIdx), TimeSig{N: 4, D: 4})
}

// LastNoteEndY returns the end pulse of the last note on any lane.
func LastNoteEndY(note *NoteInfo) Pulse {
	maxPulse := Pulse(0)
	for _, lane := range note.BT {
		if y := LastNoteEndYButtonLane(lane); y > maxPulse {
			maxPulse = y
		}
	}
	for _, lane := range note.FX {
		if y := LastNoteEndYButtonLane(lane); y > maxPulse {
			maxPulse = y
		}
	}
	for _, lane := range note.Laser {
		if y := LastNoteEndYLaserLane(lane); y > maxPulse {
			maxPulse = y
		}
	}
	return maxPulse
}

// LastNoteEndYButtonLane returns the end pulse of the last note on a button
// lane.
func LastNoteEndYButtonLane(lane ByPulse[Interval]) Pulse {
	last, ok := lane.Last()
	if !ok {
		return 0
	}
	return last.Y + last.V.Length
}

// LastNoteEndYLaserLane returns the end pulse of the last laser section on a
// lane.
func LastNoteEndYLaserLane(lane ByPulse[LaserSection]) Pulse {
	last, ok := lane.Last()
	if !ok {
		return 0
	}
	lastPoint, ok := last.V.V.Last()
	if !ok {
		return last.Y
	}
	return last.Y + lastPoint.Y
}

// GetModeBPM returns the BPM that is in effect for the longest total pulse
// duration up to lastPulse. Ties prefer the higher BPM. BPM values are
// compared at 3 decimal places.
func GetModeBPM(beat *BeatInfo, lastPulse Pulse) float64 {
	const errorBPM = 120.0
	const bpmScale = 1000

	if len(beat.BPM) == 0 {
		return errorBPM
	}
	if len(beat.BPM) == 1 {
		return beat.BPM[0].V
	}

	totals := make(map[int64]RelPulse)
	prevY := Pulse(0)
	var prevBPMInt int64
	havePrev := false
	for _, e := range beat.BPM {
		if e.Y > lastPulse {
			break
		}
		if havePrev {
			totals[prevBPMInt] += e.Y - prevY
		}
		prevY = e.Y
		prevBPMInt = int64(e.V * bpmScale)
		havePrev = true
	}
	if havePrev && prevY <= lastPulse {
		totals[prevBPMInt] += lastPulse - prevY
	}

	if len(totals) == 0 {
		if havePrev {
			return float64(prevBPMInt) / bpmScale
		}
		return errorBPM
	}

	var modeBPMInt int64
	var modeTotal RelPulse = -1
	for bpmInt, total := range totals {
		if total > modeTotal || (total == modeTotal && bpmInt > modeBPMInt) {
			modeBPMInt = bpmInt
			modeTotal = total
		}
	}
	return float64(modeBPMInt) / bpmScale
}

// GetEffectiveStdBPM returns meta.StdBPM when set, else the mode BPM over
// the played part of the chart.
func GetEffectiveStdBPM(c *ChartData) float64 {
	if c.Meta.StdBPM > 0.0 {
		return c.Meta.StdBPM
	}
	return GetModeBPM(&c.Beat, LastNoteEndY(&c.Note))
}
