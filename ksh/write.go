package ksh

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/kshootmania/kson-go/chart"
)

// toKSHResolution converts a pulse count to the KSH 192-per-measure space.
func toKSHResolution(pulse chart.Pulse) int32 {
	return int32(pulse * kshResolution4 / chart.Resolution4)
}

func relPulseToKSHLength(relPulse chart.RelPulse) string {
	return strconv.FormatInt(int64(toKSHResolution(relPulse)), 10)
}

// formatDouble renders a value at KSH's 0.001 precision without trailing
// zeros.
func formatDouble(v float64) string {
	s := strconv.FormatFloat(roundToKSHDoubleValue(v), 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return s
}

func clampFloat(v, absMax float64) float64 {
	if v > absMax {
		return absMax
	}
	if v < -absMax {
		return -absMax
	}
	return v
}

// measureExportState carries the running values that are only re-emitted on
// change during the body write.
type measureExportState struct {
	currentTimeSig     chart.TimeSig
	headerBPMStr       string
	currentFilterType  string
	currentChokkakuvol int32
	currentPfiltergain int32
}

// laserSegment is the KSH-side intermediate representation of laser lines:
// a flat run from one 0-50 position to another, with slams as dedicated
// short segments.
type laserSegment struct {
	startPulse     chart.Pulse
	length         chart.Pulse
	startValue     int32
	endValue       int32
	isSectionStart bool
	wide           bool
}

// convertLaserToSegments splits the lane's sections at slam points so the
// line writer can emit start/end characters and ':' continuations.
func convertLaserToSegments(lane chart.ByPulse[chart.LaserSection]) []laserSegment {
	var segments []laserSegment
	const preferredSlamLength = chart.Resolution4 / 32
	const pulse1_16 = chart.Resolution4 / 16
	const pulse1_48 = chart.Resolution4 / 48
	const pulse1_64 = chart.Resolution4 / 64
	const pulse1_96 = chart.Resolution4 / 96
	const pulse1_192 = chart.Resolution4 / 192

	for _, sectionEntry := range lane {
		sectionStart := sectionEntry.Y
		section := sectionEntry.V
		points := section.V
		if len(points) == 0 {
			continue
		}

		if len(points) == 1 && points[0].Y == 0 {
			point := points[0].V
			startValue := graphValueToLaserX(point.V.V, section.Wide())
			endValue := graphValueToLaserX(point.V.VF, section.Wide())
			length := chart.Pulse(0)
			if !chart.AlmostEquals(point.V.V, point.V.VF) {
				length = preferredSlamLength
			} else {
				endValue = startValue
			}
			segments = append(segments, laserSegment{
				startPulse:     sectionStart,
				length:         length,
				startValue:     startValue,
				endValue:       endValue,
				isSectionStart: true,
				wide:           section.Wide(),
			})
			continue
		}

		isFirstSegment := true
		for i := 0; i < len(points); i++ {
			point := points[i].V
			absolutePulse := sectionStart + points[i].Y
			hasSlam := !chart.AlmostEquals(point.V.V, point.V.VF)
			hasNext := i+1 < len(points)

			if !hasSlam {
				if hasNext {
					next := points[i+1]
					segments = append(segments, laserSegment{
						startPulse:     absolutePulse,
						length:         sectionStart + next.Y - absolutePulse,
						startValue:     graphValueToLaserX(point.V.V, section.Wide()),
						endValue:       graphValueToLaserX(next.V.V.V, section.Wide()),
						isSectionStart: isFirstSegment,
						wide:           section.Wide(),
					})
					isFirstSegment = false
				}
				continue
			}

			startValue := graphValueToLaserX(point.V.V, section.Wide())
			endValue := graphValueToLaserX(point.V.VF, section.Wide())

			slamLength := chart.Pulse(preferredSlamLength)
			if hasNext {
				next := points[i+1]
				distanceToNext := next.Y - points[i].Y
				nextStartValue := graphValueToLaserX(next.V.V.V, section.Wide())

				if distanceToNext < preferredSlamLength {
					if nextStartValue == endValue {
						// Shorten the slam so the next point still gets its
						// own line and survives the round trip
						slamLength = distanceToNext / 2
						if slamLength < 1 {
							slamLength = 1
						}
					} else {
						slamLength = distanceToNext
					}
				} else if distanceToNext <= pulse1_16 && nextStartValue != endValue {
					// A short gap to a different value would read back as a
					// second slam; shrink until it cannot
					switch {
					case distanceToNext > preferredSlamLength+pulse1_48:
						slamLength = pulse1_48
					case distanceToNext > preferredSlamLength+pulse1_64:
						slamLength = pulse1_64
					case distanceToNext > preferredSlamLength+pulse1_96:
						slamLength = pulse1_96
					default:
						slamLength = pulse1_192
					}
				}
			}

			segments = append(segments, laserSegment{
				startPulse:     absolutePulse,
				length:         slamLength,
				startValue:     startValue,
				endValue:       endValue,
				isSectionStart: isFirstSegment,
				wide:           section.Wide(),
			})
			isFirstSegment = false

			if hasNext {
				next := points[i+1]
				slamEndPulse := absolutePulse + slamLength
				nextAbsolutePulse := sectionStart + next.Y
				if slamEndPulse <= nextAbsolutePulse {
					segments = append(segments, laserSegment{
						startPulse:     slamEndPulse,
						length:         nextAbsolutePulse - slamEndPulse,
						startValue:     endValue,
						endValue:       graphValueToLaserX(next.V.V.V, section.Wide()),
						isSectionStart: false,
						wide:           section.Wide(),
					})
				}
			}
		}
	}

	return segments
}

func laserCharAt(segments []laserSegment, pulse chart.Pulse) byte {
	for _, seg := range segments {
		segmentEnd := seg.startPulse + seg.length
		if pulse < seg.startPulse || pulse > segmentEnd {
			continue
		}
		switch pulse {
		case seg.startPulse:
			return laserXToChar(seg.startValue)
		case segmentEnd:
			return laserXToChar(seg.endValue)
		default:
			return ':'
		}
	}
	return '-'
}

func buttonCharAt(lane chart.ByPulse[chart.Interval], pulse chart.Pulse, chipChar, longChar byte) byte {
	if interval, ok := lane.Get(pulse); ok {
		if interval.Length == 0 {
			return chipChar
		}
		return longChar
	}
	if _, ok := chart.IntervalAt(lane, pulse); ok {
		return longChar
	}
	return '0'
}

func maxPulseOf[T any](maxPulse chart.Pulse, m chart.ByPulse[T]) chart.Pulse {
	if last, ok := m.Last(); ok && last.Y > maxPulse {
		return last.Y
	}
	return maxPulse
}

// calculateMaxPulse finds the last pulse that carries any event, so the
// writer knows how many measures to emit.
func calculateMaxPulse(c *chart.ChartData) chart.Pulse {
	maxPulse := chart.Pulse(0)

	for _, lane := range c.Note.BT {
		if y := chart.LastNoteEndYButtonLane(lane); y > maxPulse {
			maxPulse = y
		}
	}
	for _, lane := range c.Note.FX {
		if y := chart.LastNoteEndYButtonLane(lane); y > maxPulse {
			maxPulse = y
		}
	}
	for _, lane := range c.Note.Laser {
		if y := chart.LastNoteEndYLaserLane(lane); y > maxPulse {
			maxPulse = y
		}
	}

	maxPulse = maxPulseOf(maxPulse, c.Beat.BPM)
	maxPulse = maxPulseOf(maxPulse, c.Beat.Stop)
	maxPulse = maxPulseOf(maxPulse, c.Beat.ScrollSpeed)

	if last, ok := c.Beat.TimeSig.Last(); ok {
		pulse := chart.Pulse(0)
		for idx := int64(0); idx < int64(last.Y); idx++ {
			ts := c.Beat.TimeSig.ValueAtOrDefault(chart.Pulse(idx), chart.TimeSig{N: 4, D: 4})
			if ts.D != 0 {
				pulse += chart.Resolution4 * chart.Pulse(ts.N) / chart.Pulse(ts.D)
			}
		}
		if pulse > maxPulse {
			maxPulse = pulse
		}
	}

	body := &c.Camera.Cam.Body
	maxPulse = maxPulseOf(maxPulse, body.RotationDeg)
	maxPulse = maxPulseOf(maxPulse, body.ZoomTop)
	maxPulse = maxPulseOf(maxPulse, body.ZoomBottom)
	maxPulse = maxPulseOf(maxPulse, body.ZoomSide)
	maxPulse = maxPulseOf(maxPulse, body.CenterSplit)
	maxPulse = maxPulseOf(maxPulse, c.Camera.Tilt)

	slamEvent := &c.Camera.Cam.Pattern.Laser.SlamEvent
	maxPulse = maxPulseOf(maxPulse, slamEvent.Spin)
	maxPulse = maxPulseOf(maxPulse, slamEvent.HalfSpin)
	maxPulse = maxPulseOf(maxPulse, slamEvent.Swing)

	maxPulse = maxPulseOf(maxPulse, c.Audio.KeySound.Laser.Vol)
	for _, e := range c.Audio.KeySound.Laser.SlamEvent {
		if last, ok := e.V.Last(); ok && last > maxPulse {
			maxPulse = last
		}
	}
	for _, e := range c.Audio.AudioEffect.Laser.PulseEvent {
		if last, ok := e.V.Last(); ok && last > maxPulse {
			maxPulse = last
		}
	}
	for _, e := range c.Audio.AudioEffect.Laser.ParamChange {
		for _, p := range e.V {
			maxPulse = maxPulseOf(maxPulse, p.V)
		}
	}
	for _, e := range c.Audio.AudioEffect.FX.LongEvent {
		for _, lane := range e.V {
			maxPulse = maxPulseOf(maxPulse, lane)
		}
	}
	for _, e := range c.Audio.AudioEffect.FX.ParamChange {
		for _, p := range e.V {
			maxPulse = maxPulseOf(maxPulse, p.V)
		}
	}
	for _, e := range c.Audio.KeySound.FX.ChipEvent {
		for _, lane := range e.V {
			maxPulse = maxPulseOf(maxPulse, lane)
		}
	}
	maxPulse = maxPulseOf(maxPulse, c.Audio.AudioEffect.Laser.Legacy.FilterGain)

	if last, ok := c.Editor.Comment.Last(); ok && last.Y > maxPulse {
		maxPulse = last.Y
	}
	if last, ok := c.Compat.KshUnknown.Line.Last(); ok && last.Y > maxPulse {
		maxPulse = last.Y
	}
	for _, e := range c.Compat.KshUnknown.Option {
		if last, ok := e.V.Last(); ok && last.Y > maxPulse {
			maxPulse = last.Y
		}
	}

	return maxPulse
}

// writeBPMToHeader emits the header t= line and returns its value.
func writeBPMToHeader(w *bufio.Writer, c *chart.ChartData) string {
	if c.Meta.DispBPM != "" {
		fmt.Fprintf(w, "t=%s\r\n", c.Meta.DispBPM)
		return c.Meta.DispBPM
	}

	bpm := c.Beat.BPM
	if bpm.Empty() {
		w.WriteString("t=120\r\n")
		return "120"
	}

	shouldClampBPM := !c.Compat.IsKshVersionOlderThan(verBPMLimitAdded)
	clamped := func(v float64) float64 {
		if shouldClampBPM && v > bpmMax {
			return bpmMax
		}
		return v
	}

	if len(bpm) == 1 {
		s := formatDouble(clamped(bpm[0].V))
		fmt.Fprintf(w, "t=%s\r\n", s)
		return s
	}

	minBPM := math.MaxFloat64
	maxBPM := -math.MaxFloat64
	for _, e := range bpm {
		v := clamped(e.V)
		minBPM = math.Min(minBPM, v)
		maxBPM = math.Max(maxBPM, v)
	}

	var s string
	if chart.AlmostEquals(minBPM, maxBPM) {
		s = formatDouble(minBPM)
	} else {
		s = formatDouble(minBPM) + "-" + formatDouble(maxBPM)
	}
	fmt.Fprintf(w, "t=%s\r\n", s)
	return s
}

func difficultyName(idx int32) string {
	switch idx {
	case 0:
		return "light"
	case 1:
		return "challenge"
	case 2:
		return "extended"
	default:
		return "infinite"
	}
}

// verForOutput decides the ver= value; versions before the v1.60 FX format
// change are upgraded with a ver_compat= companion.
func verForOutput(c *chart.ChartData) (verValue string, verInt int, needVerCompat bool) {
	verValue, verInt = "171", 171
	if c.Compat.KshVersion == "" {
		return verValue, verInt, false
	}
	v, err := strconv.Atoi(c.Compat.KshVersion)
	if err != nil {
		return verValue, verInt, false
	}
	if v < verFXFormatChanged {
		return strconv.Itoa(verFXFormatChanged), verFXFormatChanged, true
	}
	return c.Compat.KshVersion, v, false
}

func writeHeader(w *bufio.Writer, c *chart.ChartData, state *measureExportState) {
	meta := &c.Meta
	audio := &c.Audio
	bg := &c.BG

	fmt.Fprintf(w, "title=%s\r\n", meta.Title)
	if meta.TitleImgFilename != "" {
		fmt.Fprintf(w, "title_img=%s\r\n", meta.TitleImgFilename)
	}
	fmt.Fprintf(w, "artist=%s\r\n", meta.Artist)
	if meta.ArtistImgFilename != "" {
		fmt.Fprintf(w, "artist_img=%s\r\n", meta.ArtistImgFilename)
	}
	fmt.Fprintf(w, "effect=%s\r\n", meta.ChartAuthor)
	fmt.Fprintf(w, "jacket=%s\r\n", meta.JacketFilename)
	fmt.Fprintf(w, "illustrator=%s\r\n", meta.JacketAuthor)
	fmt.Fprintf(w, "difficulty=%s\r\n", difficultyName(meta.Difficulty.Idx))
	fmt.Fprintf(w, "level=%d\r\n", meta.Level)

	state.headerBPMStr = writeBPMToHeader(w, c)

	if meta.StdBPM != 0.0 {
		fmt.Fprintf(w, "to=%s\r\n", formatDouble(meta.StdBPM))
	}

	verValue, verInt, needVerCompat := verForOutput(c)

	if audio.BGM.Filename != "" {
		w.WriteString("m=" + audio.BGM.Filename)
		for _, fpFilename := range audio.BGM.Legacy.ToStrArray() {
			w.WriteString(";" + fpFilename)
		}
		w.WriteString("\r\n")
	}

	// v1.00 charts had their volume scaled by 0.6 on load; undo it here
	volForOutput := audio.BGM.Vol
	if c.Compat.KshVersion == "100" {
		volForOutput /= 0.6
	}
	if mvol := int32(math.Round(volForOutput * 100)); mvol != 100 {
		fmt.Fprintf(w, "mvol=%d\r\n", mvol)
	}

	fmt.Fprintf(w, "o=%d\r\n", audio.BGM.Offset)

	if bg.Legacy.BG[0].Filename != "" {
		w.WriteString("bg=" + bg.Legacy.BG[0].Filename)
		if bg.Legacy.BG[1].Filename != "" && bg.Legacy.BG[0].Filename != bg.Legacy.BG[1].Filename {
			w.WriteString(";" + bg.Legacy.BG[1].Filename)
		}
		w.WriteString("\r\n")
	}
	if bg.Legacy.Layer.Filename != "" {
		w.WriteString("layer=" + bg.Legacy.Layer.Filename)
		isDefaultDuration := bg.Legacy.Layer.Duration == 0
		isDefaultRotation := bg.Legacy.Layer.Rotation.Tilt && bg.Legacy.Layer.Rotation.Spin
		if !isDefaultDuration || !isDefaultRotation {
			delimiter := ";"
			if verInt < verLayerDelimiterChanged {
				delimiter = "/"
			}
			rotationFlags := 0
			if bg.Legacy.Layer.Rotation.Tilt {
				rotationFlags |= rotationFlagTilt
			}
			if bg.Legacy.Layer.Rotation.Spin {
				rotationFlags |= rotationFlagSpin
			}
			fmt.Fprintf(w, "%s%d%s%d", delimiter, bg.Legacy.Layer.Duration, delimiter, rotationFlags)
		}
		w.WriteString("\r\n")
	}

	if bg.Legacy.Movie.Filename != "" {
		fmt.Fprintf(w, "v=%s\r\n", bg.Legacy.Movie.Filename)
		fmt.Fprintf(w, "vo=%d\r\n", bg.Legacy.Movie.Offset)
	}

	fmt.Fprintf(w, "po=%d\r\n", audio.BGM.Preview.Offset)
	fmt.Fprintf(w, "plength=%d\r\n", audio.BGM.Preview.Duration)

	if first, ok := audio.AudioEffect.Laser.Legacy.FilterGain.First(); ok {
		fmt.Fprintf(w, "pfiltergain=%d\r\n", int32(math.Round(first.V*100.0)))
	}

	for _, e := range audio.AudioEffect.Laser.PulseEvent {
		if !e.V.Contains(0) {
			continue
		}
		if kshName, ok := ksonToKSHPresetFilterName[e.Name]; ok {
			fmt.Fprintf(w, "filtertype=%s\r\n", kshName)
		} else {
			fmt.Fprintf(w, "filtertype=%s\r\n", e.Name)
		}
		break
	}

	volAuto := 0
	if audio.KeySound.Laser.Legacy.VolAuto {
		volAuto = 1
	}
	fmt.Fprintf(w, "chokkakuautovol=%d\r\n", volAuto)

	if first, ok := audio.KeySound.Laser.Vol.First(); ok {
		fmt.Fprintf(w, "chokkakuvol=%d\r\n", int32(math.Round(first.V*100)))
	}

	if audio.AudioEffect.Laser.PeakingFilterDelay != 40 {
		fmt.Fprintf(w, "pfilterdelay=%d\r\n", audio.AudioEffect.Laser.PeakingFilterDelay)
	}

	if c.Gauge.Total != 0 {
		fmt.Fprintf(w, "total=%d\r\n", c.Gauge.Total)
	}

	if meta.Information != "" {
		fmt.Fprintf(w, "information=%s\r\n", meta.Information)
	}
	if meta.IconFilename != "" {
		fmt.Fprintf(w, "icon=%s\r\n", meta.IconFilename)
	}

	fmt.Fprintf(w, "ver=%s\r\n", verValue)
	if needVerCompat {
		fmt.Fprintf(w, "ver_compat=%s\r\n", c.Compat.KshVersion)
	}

	for _, e := range c.Compat.KshUnknown.Meta {
		fmt.Fprintf(w, "%s=%s\r\n", e.Name, e.V)
	}
	for _, line := range c.Compat.KshUnknown.Line.AllAt(0) {
		w.WriteString(line + "\r\n")
	}

	w.WriteString(measureSeparator + "\r\n")
}

// generateKSHAudioEffectString reconstructs the short "Name;p1;p2" FX string
// of fx-l=/fx-r= from a long event's KSON parameters.
func generateKSHAudioEffectString(c *chart.ChartData, effectName string, params chart.AudioEffectParams, isFX bool) string {
	result := effectName
	if kshName, ok := ksonToKSHPresetFXEffectName[effectName]; ok {
		result = kshName
	}

	param1Set, param2Set := false, false
	var param1, param2 int32

	effectType := chart.AudioEffectUnspecified
	defs := c.Audio.AudioEffect.FX.Def
	if !isFX {
		defs = c.Audio.AudioEffect.Laser.Def
	}
	for _, kvp := range defs {
		if kvp.Name == effectName {
			effectType = kvp.V.Type
			break
		}
	}
	if effectType == chart.AudioEffectUnspecified {
		effectType = chart.ParseAudioEffectType(effectName)
	}

	parseRate := func(s string) int32 {
		switch {
		case strings.HasSuffix(s, "%"):
			return int32(parseNumericInt(s, 0))
		case strings.HasPrefix(s, "1/"):
			if denominator := parseNumericInt(s[2:], 0); denominator > 0 {
				return int32(100 / denominator)
			}
			return 0
		default:
			return int32(math.Round(parseNumericFloat(s, 0) * 100.0))
		}
	}

	switch effectType {
	case chart.AudioEffectRetrigger, chart.AudioEffectGate, chart.AudioEffectWobble, chart.AudioEffectEcho:
		if waveLength, ok := params.Get("wave_length"); ok && strings.HasPrefix(waveLength, "1/") {
			param1 = int32(parseNumericInt(waveLength[2:], 0))
			param1Set = true
		}
		if effectType == chart.AudioEffectEcho {
			if feedback, ok := params.Get("feedback_level"); ok {
				param2 = parseRate(feedback)
				param2Set = true
			}
		}
	case chart.AudioEffectPitchShift:
		if pitch, ok := params.Get("pitch"); ok {
			param1 = int32(parseNumericInt(pitch, 0))
			param1Set = true
		}
	case chart.AudioEffectBitcrusher:
		if reduction, ok := params.Get("reduction"); ok {
			param1 = int32(parseNumericInt(reduction, 0))
			param1Set = true
		}
	case chart.AudioEffectTapestop:
		if speed, ok := params.Get("speed"); ok {
			param1 = parseRate(speed)
			param1Set = true
		}
	}

	if param1Set {
		result += ";" + strconv.FormatInt(int64(param1), 10)
		if param2Set {
			result += ";" + strconv.FormatInt(int64(param2), 10)
		}
	}
	return result
}

func writeZoomParameter(w *bufio.Writer, paramName string, point chart.GraphPoint) {
	zoomValue := int32(math.Round(clampFloat(point.V.V, zoomAbsMax)))
	fmt.Fprintf(w, "%s=%d\r\n", paramName, zoomValue)

	if !chart.AlmostEquals(point.V.V, point.V.VF) {
		zoomValueFinal := int32(math.Round(clampFloat(point.V.VF, zoomAbsMax)))
		if zoomValue != zoomValueFinal {
			fmt.Fprintf(w, "%s=%d\r\n", paramName, zoomValueFinal)
		}
	}

	if point.Curve.A != 0.0 || point.Curve.B != 0.0 {
		fmt.Fprintf(w, "%s_curve=%s;%s\r\n", paramName, formatDouble(point.Curve.A), formatDouble(point.Curve.B))
	}
}

// writeNoteLine emits everything attached to one chart line followed by the
// line itself. The output order mirrors the legacy editor so internet
// ranking hashes stay compatible.
func writeNoteLine(
	w *bufio.Writer,
	c *chart.ChartData,
	laserSegments *[chart.NumLaserLanes][]laserSegment,
	pulse chart.Pulse,
	state *measureExportState,
	useLegacyScaleForManualTilt bool,
) {
	// FX chip key sounds
	for laneIdx := 0; laneIdx < chart.NumFXLanes; laneIdx++ {
		for _, e := range c.Audio.KeySound.FX.ChipEvent {
			chipData, ok := e.V[laneIdx].Get(pulse)
			if !ok {
				continue
			}
			fmt.Fprintf(w, "fx-%c_se=%s", laneChar(laneIdx), e.Name)
			if vol := int32(math.Round(chipData.Vol * 100)); vol != 100 {
				fmt.Fprintf(w, ";%d", vol)
			}
			w.WriteString("\r\n")
		}
	}

	if bpm, ok := c.Beat.BPM.Get(pulse); ok {
		if !c.Compat.IsKshVersionOlderThan(verBPMLimitAdded) && bpm > bpmMax {
			bpm = bpmMax
		}
		bpmStr := formatDouble(bpm)
		// The header t= already covers pulse 0 when it matches
		if !(pulse == 0 && state.headerBPMStr != "" && bpmStr == state.headerBPMStr) {
			fmt.Fprintf(w, "t=%s\r\n", bpmStr)
		}
	}

	for _, comment := range c.Editor.Comment.AllAt(pulse) {
		fmt.Fprintf(w, "//%s\r\n", comment)
	}

	// Unknown lines at pulse 0 were already output in the header
	if pulse != 0 {
		for _, line := range c.Compat.KshUnknown.Line.AllAt(pulse) {
			w.WriteString(line + "\r\n")
		}
	}

	for _, e := range c.Compat.KshUnknown.Option {
		for _, value := range e.V.AllAt(pulse) {
			fmt.Fprintf(w, "%s=%s\r\n", e.Name, value)
		}
	}

	if point, ok := c.Camera.Cam.Body.CenterSplit.Get(pulse); ok {
		fmt.Fprintf(w, "center_split=%s\r\n", formatDouble(clampFloat(point.V.V, centerSplitAbsMax)))
		if !chart.AlmostEquals(point.V.V, point.V.VF) {
			fmt.Fprintf(w, "center_split=%s\r\n", formatDouble(clampFloat(point.V.VF, centerSplitAbsMax)))
		}
		if point.Curve.A != 0.0 || point.Curve.B != 0.0 {
			fmt.Fprintf(w, "center_split_curve=%s;%s\r\n", formatDouble(point.Curve.A), formatDouble(point.Curve.B))
		}
	}

	writeParamChanges(w, c.Audio.AudioEffect.FX.ParamChange, pulse, "fx", ksonToKSHPresetFXEffectName)
	writeParamChanges(w, c.Audio.AudioEffect.Laser.ParamChange, pulse, "filter", ksonToKSHPresetFilterName)

	if gain, ok := c.Audio.AudioEffect.Laser.Legacy.FilterGain.Get(pulse); ok {
		if pfiltergain := int32(math.Round(gain * 100.0)); pfiltergain != state.currentPfiltergain {
			if pulse != 0 {
				fmt.Fprintf(w, "pfiltergain=%d\r\n", pfiltergain)
			}
			state.currentPfiltergain = pfiltergain
		}
	}

	writeFilterType(w, c, pulse, state)

	if vol, ok := c.Audio.KeySound.Laser.Vol.Get(pulse); ok {
		if chokkakuvol := int32(math.Round(vol * 100)); chokkakuvol != state.currentChokkakuvol {
			if pulse != 0 {
				fmt.Fprintf(w, "chokkakuvol=%d\r\n", chokkakuvol)
			}
			state.currentChokkakuvol = chokkakuvol
		}
	}

	for _, e := range c.Audio.KeySound.Laser.SlamEvent {
		if e.V.Contains(pulse) {
			fmt.Fprintf(w, "chokkakuse=%s\r\n", e.Name)
			break
		}
	}

	writeTilt(w, c, pulse, useLegacyScaleForManualTilt)

	if point, ok := c.Camera.Cam.Body.ZoomTop.Get(pulse); ok {
		writeZoomParameter(w, "zoom_top", point)
	}
	if point, ok := c.Camera.Cam.Body.ZoomBottom.Get(pulse); ok {
		writeZoomParameter(w, "zoom_bottom", point)
	}
	if point, ok := c.Camera.Cam.Body.ZoomSide.Get(pulse); ok {
		writeZoomParameter(w, "zoom_side", point)
	}

	// Wide-lane announcement for sections starting here
	for i := 0; i < chart.NumLaserLanes; i++ {
		for _, seg := range laserSegments[i] {
			if seg.startPulse == pulse && seg.isSectionStart {
				if seg.wide {
					fmt.Fprintf(w, "laserrange_%c=2x\r\n", laneChar(i))
				}
				break
			}
		}
	}

	for i := 0; i < chart.NumLaserLanes; i++ {
		if point, ok := chart.LaserGraphPointAt(c.Note.Laser[i], pulse); ok {
			if point.Curve.A != 0.0 || point.Curve.B != 0.0 {
				fmt.Fprintf(w, "laser_%c_curve=%s;%s\r\n", laneChar(i), formatDouble(point.Curve.A), formatDouble(point.Curve.B))
			}
		}
	}

	if stopLength, ok := c.Beat.Stop.Get(pulse); ok {
		fmt.Fprintf(w, "stop=%s\r\n", relPulseToKSHLength(stopLength))
	}

	if point, ok := c.Beat.ScrollSpeed.Get(pulse); ok {
		isDefaultOnly := len(c.Beat.ScrollSpeed) == 1 && chart.AlmostEquals(c.Beat.ScrollSpeed[0].V.V.V, 1.0)
		if !isDefaultOnly {
			fmt.Fprintf(w, "scroll_speed=%s\r\n", formatDouble(point.V.V))
		}
		if !chart.AlmostEquals(point.V.V, point.V.VF) {
			fmt.Fprintf(w, "scroll_speed=%s\r\n", formatDouble(point.V.VF))
		}
		if point.Curve.A != 0.0 || point.Curve.B != 0.0 {
			fmt.Fprintf(w, "scroll_speed_curve=%s;%s\r\n", formatDouble(point.Curve.A), formatDouble(point.Curve.B))
		}
	}

	if point, ok := c.Camera.Cam.Body.RotationDeg.Get(pulse); ok {
		fmt.Fprintf(w, "rotation_deg=%d\r\n", int32(math.Round(clampFloat(point.V.V, rotationDegAbsMax))))
		if !chart.AlmostEquals(point.V.V, point.V.VF) {
			fmt.Fprintf(w, "rotation_deg=%d\r\n", int32(math.Round(clampFloat(point.V.VF, rotationDegAbsMax))))
		}
		if point.Curve.A != 0.0 || point.Curve.B != 0.0 {
			fmt.Fprintf(w, "rotation_deg_curve=%s;%s\r\n", formatDouble(point.Curve.A), formatDouble(point.Curve.B))
		}
	}

	// FX effect annotations, fx-l before fx-r to match the legacy editor
	for laneIdx := 0; laneIdx < chart.NumFXLanes; laneIdx++ {
		for _, e := range c.Audio.AudioEffect.FX.LongEvent {
			if !e.V[laneIdx].Contains(pulse) {
				continue
			}
			if e.Name == "" {
				// Empty effect name turns the effect off
				fmt.Fprintf(w, "fx-%c=\r\n", laneChar(laneIdx))
				break
			}
			params, _ := e.V[laneIdx].Get(pulse)
			fmt.Fprintf(w, "fx-%c=%s\r\n", laneChar(laneIdx), generateKSHAudioEffectString(c, e.Name, params, true))
			break
		}
	}

	// The chart line body: 4 BT chars, 2 FX chars, 2 laser chars
	for i := 0; i < chart.NumBTLanes; i++ {
		w.WriteByte(buttonCharAt(c.Note.BT[i], pulse, '1', '2'))
	}
	w.WriteByte(blockSeparator)
	for i := 0; i < chart.NumFXLanes; i++ {
		w.WriteByte(buttonCharAt(c.Note.FX[i], pulse, '2', '1'))
	}
	w.WriteByte(blockSeparator)
	for i := 0; i < chart.NumLaserLanes; i++ {
		w.WriteByte(laserCharAt(laserSegments[i], pulse))
	}

	slamEvent := &c.Camera.Cam.Pattern.Laser.SlamEvent
	if spin, ok := slamEvent.Spin.Get(pulse); ok {
		fmt.Fprintf(w, "@%c%d", spinDirChar(spin.D, '(', ')'), toKSHResolution(spin.Length))
	} else if halfSpin, ok := slamEvent.HalfSpin.Get(pulse); ok {
		fmt.Fprintf(w, "@%c%d", spinDirChar(halfSpin.D, '<', '>'), toKSHResolution(halfSpin.Length))
	} else if swing, ok := slamEvent.Swing.Get(pulse); ok {
		fmt.Fprintf(w, "S%c%d", spinDirChar(swing.D, '<', '>'), toKSHResolution(swing.Length))
		scale := int32(math.Round(swing.V.Scale))
		if scale != 250 || swing.V.Repeat != 3 || swing.V.DecayOrder != 2 {
			fmt.Fprintf(w, ";%d;%d;%d", scale, swing.V.Repeat, swing.V.DecayOrder)
		}
	}

	w.WriteString("\r\n")
}

func laneChar(laneIdx int) byte {
	if laneIdx == 0 {
		return 'l'
	}
	return 'r'
}

func spinDirChar(d int32, left, right byte) byte {
	if d < 0 {
		return left
	}
	return right
}

func writeParamChanges(w *bufio.Writer, paramChange chart.Dict[chart.Dict[chart.ByPulse[string]]], pulse chart.Pulse, prefix string, presetNames map[string]string) {
	for _, e := range paramChange {
		for _, p := range e.V {
			value, ok := p.V.Get(pulse)
			if !ok {
				continue
			}
			effectName := e.Name
			if kshName, found := presetNames[effectName]; found {
				effectName = kshName
			}
			paramName := p.Name
			if kshName, found := ksonToKSHParamName[paramName]; found {
				paramName = kshName
			}
			fmt.Fprintf(w, "%s:%s:%s=%s\r\n", prefix, effectName, paramName, value)
		}
	}
}

func writeFilterType(w *bufio.Writer, c *chart.ChartData, pulse chart.Pulse, state *measureExportState) {
	pulseEvent := c.Audio.AudioEffect.Laser.PulseEvent
	if pulseEvent.Empty() {
		return
	}

	newFilterType := ""
	for _, ksonName := range []string{"peaking_filter", "low_pass_filter", "high_pass_filter", "bitcrusher"} {
		if set, ok := pulseEvent.Get(ksonName); ok && set.Contains(pulse) {
			newFilterType = ksonToKSHPresetFilterName[ksonName]
			break
		}
	}
	if newFilterType != "" && pulse != 0 {
		fmt.Fprintf(w, "filtertype=%s\r\n", newFilterType)
		state.currentFilterType = newFilterType
	}

	// User-defined filters from pulse_event
	for _, e := range pulseEvent {
		if _, isPreset := ksonToKSHPresetFilterName[e.Name]; isPreset {
			continue
		}
		if e.V.Contains(pulse) && pulse != 0 {
			fmt.Fprintf(w, "filtertype=%s\r\n", e.Name)
			state.currentFilterType = e.Name
		}
	}
}

func writeTilt(w *bufio.Writer, c *chart.ChartData, pulse chart.Pulse, useLegacyScaleForManualTilt bool) {
	tiltValue, ok := c.Camera.Tilt.Get(pulse)
	if !ok {
		return
	}

	if !tiltValue.IsManual() {
		fmt.Fprintf(w, "tilt=%s\r\n", tiltValue.Auto().String())
		return
	}

	point := tiltValue.Point()

	// Legacy charts with large manual tilt values depend on the 14-degree
	// scale used before v1.70; undo the load-time rescale
	scale := 1.0
	if useLegacyScaleForManualTilt {
		scale = 10.0 / 14.0
	}

	if !point.Curve.IsLinear() {
		fmt.Fprintf(w, "tilt_curve=%s;%s\r\n", formatDouble(point.Curve.A), formatDouble(point.Curve.B))
	}

	fmt.Fprintf(w, "tilt=%s\r\n", formatDouble(clampFloat(point.V.V*scale, manualTiltAbsMax)))

	if point.V.VF.IsAuto() {
		fmt.Fprintf(w, "tilt=%s\r\n", point.V.VF.Auto().String())
	} else if vf := point.V.VF.Value(); !chart.AlmostEquals(point.V.V, vf) {
		fmt.Fprintf(w, "tilt=%s\r\n", formatDouble(clampFloat(vf*scale, manualTiltAbsMax)))
	}
}

func gcd(a, b chart.Pulse) chart.Pulse {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// calculateOptimalDivision picks the per-measure line count: the GCD of all
// event offsets, doubled (or tripled for 15-pulse steps) when a long note
// or laser segment starts or ends inside the measure so the endpoint gets
// its own line.
func calculateOptimalDivision(c *chart.ChartData, laserSegments *[chart.NumLaserLanes][]laserSegment, measureStart, measureLength chart.Pulse) chart.Pulse {
	measureEnd := measureStart + measureLength
	divisionGCD := measureLength
	shouldDoubleResolution := false

	updateGCD := func(pulse chart.Pulse) {
		if pulse >= measureStart && pulse < measureEnd {
			relPulse := pulse - measureStart
			if relPulse > 0 && relPulse < measureLength {
				divisionGCD = gcd(divisionGCD, relPulse)
			}
		}
	}
	updateAll := func(pulses ...chart.Pulse) {
		for _, p := range pulses {
			updateGCD(p)
		}
	}
	inMeasure := func(pulse chart.Pulse) bool {
		return pulse >= measureStart && pulse < measureEnd
	}

	for _, lane := range c.Note.BT {
		for _, e := range lane {
			updateAll(e.Y, e.Y+e.V.Length)
			if e.V.Length > 0 && (inMeasure(e.Y) || inMeasure(e.Y+e.V.Length)) {
				shouldDoubleResolution = true
			}
		}
	}
	for _, lane := range c.Note.FX {
		for _, e := range lane {
			updateAll(e.Y, e.Y+e.V.Length)
			if e.V.Length > 0 && (inMeasure(e.Y) || inMeasure(e.Y+e.V.Length)) {
				shouldDoubleResolution = true
			}
		}
	}
	for laneIdx := 0; laneIdx < chart.NumLaserLanes; laneIdx++ {
		for _, seg := range laserSegments[laneIdx] {
			updateAll(seg.startPulse, seg.startPulse+seg.length)
			if inMeasure(seg.startPulse) || inMeasure(seg.startPulse+seg.length) {
				shouldDoubleResolution = true
			}
		}
	}

	for _, e := range c.Beat.BPM {
		updateGCD(e.Y)
	}
	for _, e := range c.Beat.Stop {
		updateGCD(e.Y)
	}
	for _, e := range c.Beat.ScrollSpeed {
		updateGCD(e.Y)
	}

	body := &c.Camera.Cam.Body
	for _, graph := range []chart.Graph{body.RotationDeg, body.ZoomTop, body.ZoomBottom, body.ZoomSide, body.CenterSplit} {
		for _, e := range graph {
			updateGCD(e.Y)
		}
	}
	for _, e := range c.Camera.Tilt {
		updateGCD(e.Y)
	}

	slamEvent := &c.Camera.Cam.Pattern.Laser.SlamEvent
	for _, e := range slamEvent.Spin {
		updateGCD(e.Y)
	}
	for _, e := range slamEvent.HalfSpin {
		updateGCD(e.Y)
	}
	for _, e := range slamEvent.Swing {
		updateGCD(e.Y)
	}

	for _, e := range c.Audio.AudioEffect.FX.LongEvent {
		for _, lane := range e.V {
			for _, le := range lane {
				updateGCD(le.Y)
			}
		}
	}
	for _, e := range c.Audio.AudioEffect.FX.ParamChange {
		for _, p := range e.V {
			for _, pe := range p.V {
				updateGCD(pe.Y)
			}
		}
	}
	for _, e := range c.Audio.AudioEffect.Laser.ParamChange {
		for _, p := range e.V {
			for _, pe := range p.V {
				updateGCD(pe.Y)
			}
		}
	}
	for _, e := range c.Audio.AudioEffect.Laser.PulseEvent {
		for _, pulse := range e.V {
			updateGCD(pulse)
		}
	}
	for _, e := range c.Audio.KeySound.Laser.Vol {
		updateGCD(e.Y)
	}
	for _, e := range c.Audio.AudioEffect.Laser.Legacy.FilterGain {
		updateGCD(e.Y)
	}
	for _, e := range c.Audio.KeySound.Laser.SlamEvent {
		for _, pulse := range e.V {
			updateGCD(pulse)
		}
	}
	for _, e := range c.Audio.KeySound.FX.ChipEvent {
		for _, lane := range e.V {
			for _, le := range lane {
				updateGCD(le.Y)
			}
		}
	}

	for _, e := range c.Editor.Comment {
		updateGCD(e.Y)
	}
	for _, e := range c.Compat.KshUnknown.Option {
		for _, oe := range e.V {
			updateGCD(oe.Y)
		}
	}
	for _, e := range c.Compat.KshUnknown.Line {
		updateGCD(e.Y)
	}

	division := measureLength
	if divisionGCD > 0 {
		division = measureLength / divisionGCD
	}

	if division < measureLength && shouldDoubleResolution {
		doubled := division * 2
		if measureLength%doubled == 0 {
			division = doubled
		} else if measureLength/division == 15 {
			// 1/64 lines on odd subdivisions need tripling instead; doubling
			// 15-pulse steps would not divide the measure evenly
			tripled := division * 3
			if measureLength%tripled == 0 {
				division = tripled
			}
		}
	}

	if measureLength%division != 0 {
		division = measureLength
	}
	if division < 1 {
		division = 1
	}
	if division > measureLength {
		division = measureLength
	}
	return division
}

func writeMeasures(w *bufio.Writer, c *chart.ChartData, state *measureExportState) {
	// Decide whether the pre-v1.70 manual tilt scale applies
	useLegacyScaleForManualTilt := false
	if c.Compat.IsKshVersionOlderThan(verManualTiltScaleChanged) {
		for _, e := range c.Camera.Tilt {
			if !e.V.IsManual() {
				continue
			}
			point := e.V.Point()
			largeVF := !point.V.VF.IsAuto() && math.Abs(point.V.VF.Value()) >= 10.0
			if math.Abs(point.V.V) >= 10.0 || largeVF {
				useLegacyScaleForManualTilt = true
				break
			}
		}
	}

	// Seed running values from what the header emitted
	if first, ok := c.Audio.KeySound.Laser.Vol.First(); ok {
		state.currentChokkakuvol = int32(math.Round(first.V * 100))
	}
	if first, ok := c.Audio.AudioEffect.Laser.Legacy.FilterGain.First(); ok {
		state.currentPfiltergain = int32(math.Round(first.V * 100.0))
	}
	for _, ksonName := range []string{"peaking_filter", "low_pass_filter", "high_pass_filter"} {
		if set, ok := c.Audio.AudioEffect.Laser.PulseEvent.Get(ksonName); ok && set.Contains(0) {
			state.currentFilterType = ksonToKSHPresetFilterName[ksonName]
			break
		}
	}

	var laserSegments [chart.NumLaserLanes][]laserSegment
	for laneIdx := 0; laneIdx < chart.NumLaserLanes; laneIdx++ {
		laserSegments[laneIdx] = convertLaserToSegments(c.Note.Laser[laneIdx])
	}

	maxPulse := calculateMaxPulse(c)
	currentPulse := chart.Pulse(0)
	measureIdx := int64(0)

	for currentPulse <= maxPulse {
		timeSig := c.Beat.TimeSig.ValueAtOrDefault(chart.Pulse(measureIdx), chart.TimeSig{N: 4, D: 4})
		if timeSig.N <= 0 || timeSig.D <= 0 {
			timeSig = chart.TimeSig{N: 4, D: 4}
		}
		measureLength := chart.Resolution4 * chart.Pulse(timeSig.N) / chart.Pulse(timeSig.D)

		if c.Beat.TimeSig.Contains(chart.Pulse(measureIdx)) || timeSig != state.currentTimeSig {
			fmt.Fprintf(w, "beat=%d/%d\r\n", timeSig.N, timeSig.D)
			state.currentTimeSig = timeSig
		}

		division := calculateOptimalDivision(c, &laserSegments, currentPulse, measureLength)
		oneLinePulse := measureLength / division

		for lineIdx := chart.Pulse(0); lineIdx < division; lineIdx++ {
			writeNoteLine(w, c, &laserSegments, currentPulse+lineIdx*oneLinePulse, state, useLegacyScaleForManualTilt)
		}

		w.WriteString(measureSeparator + "\r\n")
		currentPulse += measureLength
		measureIdx++
	}
}

func writeAudioEffectDefs(w *bufio.Writer, defs []chart.AudioEffectDefKVP, directive string) {
	for _, kvp := range defs {
		typeStr := kvp.V.Type.String()
		if kshName, ok := ksonToKSHAudioEffectTypeName[typeStr]; ok {
			typeStr = kshName
		}
		fmt.Fprintf(w, "%s %s type=%s", directive, kvp.Name, typeStr)
		for _, p := range kvp.V.V {
			paramName := p.Name
			if kshName, ok := ksonToKSHParamName[paramName]; ok {
				paramName = kshName
			}
			fmt.Fprintf(w, ";%s=%s", paramName, p.V)
		}
		w.WriteString("\r\n")
	}
}

// Save writes the chart as KSH text (UTF-8 with BOM, CRLF line endings).
func Save(w io.Writer, c *chart.ChartData) error {
	bw := bufio.NewWriter(w)
	bw.Write(utf8BOM)

	var state measureExportState
	state.currentTimeSig = chart.TimeSig{N: 4, D: 4}
	state.currentChokkakuvol = 50
	state.currentPfiltergain = 50

	writeHeader(bw, c, &state)
	writeMeasures(bw, c, &state)
	writeAudioEffectDefs(bw, c.Audio.AudioEffect.FX.Def, "#define_fx")
	writeAudioEffectDefs(bw, c.Audio.AudioEffect.Laser.Def, "#define_filter")

	if err := bw.Flush(); err != nil {
		return chart.ErrorGeneralIO
	}
	return nil
}
