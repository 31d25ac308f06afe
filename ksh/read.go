// Package ksh reads and writes the legacy line-oriented KSH chart format.
package ksh

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/kshootmania/kson-go/chart"
	"github.com/kshootmania/kson-go/internal/encoding"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func parseNumericInt(s string, defaultValue int64) int64 {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return defaultValue
	}
	var v int64
	for _, c := range []byte(s[start:i]) {
		v = v*10 + int64(c-'0')
	}
	if s[0] == '-' {
		v = -v
	}
	return v
}

func parseNumericFloat(s string, defaultValue float64) float64 {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	start := i
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
		i++
	}
	intEnd := i
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
			i++
		}
	}
	if intEnd == start && i <= start+1 {
		return defaultValue
	}
	// The prefix is a well-formed decimal, so only a range error is possible
	v, _ := strconv.ParseFloat(s[:i], 64)
	return v
}

// roundToKSHDoubleValue rounds to the 0.001 precision of KSH values.
func roundToKSHDoubleValue(v float64) float64 {
	return math.Round(v*1000.0) / 1000.0
}

func isChartLine(line string) bool {
	return strings.IndexByte(line, blockSeparator) >= 0
}

func isOptionLine(line string) bool {
	// A line with an empty key ("=...") is not an option line
	return len(line) >= 2 && line[0] != optionSeparator && strings.IndexByte(line[1:], optionSeparator) >= 0
}

func isBarLine(line string) bool {
	return line == measureSeparator
}

func isCommentLine(line string) bool {
	return len(line) >= 2 && line[0] == '/' && line[1] == '/'
}

func toUTF8(s string, isUTF8 bool) (string, bool) {
	if isUTF8 {
		return s, true
	}
	return encoding.ShiftJISToUTF8(s)
}

// splitOptionLine decodes the line and splits it at the first "=".
// Returns an empty key on encoding failure.
func splitOptionLine(line string, isUTF8 bool) (string, string) {
	decoded, ok := toUTF8(line, isUTF8)
	if !ok || (line != "" && decoded == "") {
		return "", ""
	}
	eq := strings.IndexByte(decoded, optionSeparator)
	if eq < 0 {
		return "", ""
	}
	return decoded[:eq], decoded[eq+1:]
}

// splitAudioEffectStr splits "Name;param1;param2" into the name and up to
// two integer parameters (kept as strings, with a sentinel for missing).
func splitAudioEffectStr(s string) (name, param1, param2 string) {
	param1 = audioEffectParamUnspecified
	param2 = audioEffectParamUnspecified

	i := strings.IndexByte(s, audioEffectSeparator)
	if i < 0 {
		return s, param1, param2
	}
	name = s[:i]
	rest := s[i+1:]

	j := strings.IndexByte(rest, audioEffectSeparator)
	if j < 0 {
		param1 = fmt.Sprint(parseNumericInt(rest, 0))
		return name, param1, param2
	}
	param1 = fmt.Sprint(parseNumericInt(rest[:j], 0))
	param2 = fmt.Sprint(parseNumericInt(rest[j+1:], 0))
	return name, param1, param2
}

func splitN(s string, sep byte, n int) []string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		j := strings.IndexByte(s, sep)
		if j < 0 {
			parts[i] = s
			break
		}
		parts[i] = s[:j]
		s = s[j+1:]
	}
	return parts
}

func parseTimeSig(s string) chart.TimeSig {
	slash := strings.IndexByte(s, '/')
	if slash < 0 {
		return chart.TimeSig{N: int32(parseNumericInt(s, 0)), D: 0}
	}
	return chart.TimeSig{
		N: int32(parseNumericInt(s[:slash], 0)),
		D: int32(parseNumericInt(s[slash+1:], 0)),
	}
}

// kshLengthToRelPulse converts a KSH 192-units length to pulses.
func kshLengthToRelPulse(s string) chart.RelPulse {
	return chart.RelPulse(parseNumericInt(s, 0)) * chart.Resolution4 / kshResolution4
}

func isTiltValueManual(s string) bool {
	return s != "" && ((s[0] >= '0' && s[0] <= '9') || s[0] == '-')
}

func insertBPMChange(bpm *chart.ByPulse[float64], time chart.Pulse, value string, kshVersionInt int) bool {
	if strings.IndexByte(value, '-') >= 0 {
		return false
	}
	v := roundToKSHDoubleValue(parseNumericFloat(value, 0))
	if kshVersionInt >= verBPMLimitAdded && v > bpmMax {
		v = bpmMax
	}
	bpm.Set(time, v)
	return true
}

func insertFiltertype(c *chart.ChartData, time chart.Pulse, value string) {
	laser := &c.Audio.AudioEffect.Laser
	name, isPreset := kshFilterToKSONAudioEffectName[value]
	if !isPreset {
		addPulseEvent(laser, value, time)
		return
	}

	if name == "fx" && !laser.DefContains(name) {
		if c.Audio.BGM.Legacy.FilenameF == "" {
			return
		}
		var params chart.AudioEffectParams
		params.Set("filename", c.Audio.BGM.Legacy.FilenameF)
		laser.Def = append(laser.Def, chart.AudioEffectDefKVP{
			Name: "fx",
			V:    chart.AudioEffectDef{Type: chart.AudioEffectSwitchAudio, V: params},
		})
	} else if name == "fx;bitcrusher" && !laser.DefContains(name) {
		laser.Def = append(laser.Def, chart.AudioEffectDefKVP{
			Name: "fx;bitcrusher",
			V:    chart.AudioEffectDef{Type: chart.AudioEffectBitcrusher},
		})
	}
	addPulseEvent(laser, name, time)
}

func addPulseEvent(laser *chart.AudioEffectLaserInfo, name string, time chart.Pulse) {
	set, _ := laser.PulseEvent.Get(name)
	set.Add(time)
	laser.PulseEvent.Set(name, set)
}

func insertGraphPointOrAssignVF(graph *chart.Graph, time chart.Pulse, v float64) {
	if p := graph.Ptr(time); p != nil {
		p.V.VF = v
		return
	}
	graph.Set(time, chart.NewGraphPoint(v))
}

func parseCurveValue(value string) (chart.GraphCurve, bool) {
	i := strings.IndexByte(value, ';')
	if i < 0 {
		return chart.GraphCurve{}, false
	}
	return chart.GraphCurve{
		A: parseNumericFloat(value[:i], 0),
		B: parseNumericFloat(value[i+1:], 0),
	}, true
}

// laneSpin is a parsed laser spin suffix.
type laneSpin struct {
	kind           spinKind
	direction      int32 // -1 left, +1 right, 0 unspecified
	duration       chart.RelPulse
	swingAmplitude int32
	swingRepeat    int32
	swingDecay     int32
}

type spinKind int

const (
	spinNone spinKind = iota
	spinNormal
	spinHalf
	spinSwing
)

func (s laneSpin) valid() bool {
	return s.kind != spinNone && s.direction != 0
}

func parseLaneSpin(s string) laneSpin {
	if len(s) < 3 {
		return laneSpin{}
	}

	var spin laneSpin
	switch s[0] {
	case '@':
		switch s[1] {
		case '(':
			spin = laneSpin{kind: spinNormal, direction: -1}
		case ')':
			spin = laneSpin{kind: spinNormal, direction: 1}
		case '<':
			spin = laneSpin{kind: spinHalf, direction: -1}
		case '>':
			spin = laneSpin{kind: spinHalf, direction: 1}
		}
	case 'S':
		switch s[1] {
		case '<':
			spin = laneSpin{kind: spinSwing, direction: -1}
		case '>':
			spin = laneSpin{kind: spinSwing, direction: 1}
		}
	}

	if !spin.valid() {
		return spin
	}

	if spin.kind == spinSwing {
		params := [4]string{"192", "250", "3", "2"}
		for i, part := range strings.Split(s[2:], ";") {
			if i >= len(params) {
				break
			}
			params[i] = part
		}
		spin.duration = kshLengthToRelPulse(params[0])
		spin.swingAmplitude = int32(parseNumericInt(params[1], 0))
		spin.swingRepeat = int32(parseNumericInt(params[2], 0))
		spin.swingDecay = int32(parseNumericInt(params[3], 0))
		return spin
	}

	spin.duration = kshLengthToRelPulse(s[2:])
	return spin
}

// preparedLongBT accumulates a long BT note until it is flushed.
type preparedLongBT struct {
	prepared bool
	start    chart.Pulse
	length   chart.RelPulse
}

func (p *preparedLongBT) prepare(time chart.Pulse) {
	if !p.prepared {
		p.prepared = true
		p.start = time
		p.length = 0
	}
}

func (p *preparedLongBT) publish(lane *chart.ByPulse[chart.Interval]) {
	if p.prepared {
		lane.SetIfAbsent(p.start, chart.Interval{Length: p.length})
	}
	*p = preparedLongBT{}
}

// preparedLongFX accumulates a long FX note together with its audio effect
// annotation.
type preparedLongFX struct {
	prepared      bool
	start         chart.Pulse
	length        chart.RelPulse
	isLegacyChar  bool
	everHadEffect bool
}

func (p *preparedLongFX) prepare(c *chart.ChartData, laneIdx int, time chart.Pulse) {
	if p.prepared && p.isLegacyChar {
		// A long note that starts with a legacy character (e.g. "F") and
		// changes to "1" clears its audio effect
		p.prepareWithEffect(c, laneIdx, time, "", "", false)
		return
	}
	if !p.prepared {
		p.prepared = true
		p.start = time
		p.length = 0
	}
}

func (p *preparedLongFX) prepareWithEffect(c *chart.ChartData, laneIdx int, time chart.Pulse, effectStr, paramStr string, isLegacyChar bool) {
	if !p.prepared {
		p.prepared = true
		p.start = time
		p.length = 0
	}

	// Always publish a long_event when fx-l=/fx-r= is explicitly specified,
	// even if the value repeats, for round-trip compatibility
	publishLongFXAudioEffectEvent(c, laneIdx, time, effectStr, paramStr)

	p.isLegacyChar = isLegacyChar
	p.everHadEffect = true
}

func (p *preparedLongFX) publish(c *chart.ChartData, laneIdx int) {
	if p.prepared {
		c.Note.FX[laneIdx].SetIfAbsent(p.start, chart.Interval{Length: p.length})
		if p.everHadEffect {
			// Clear the effect at the note end so repeated round trips stay
			// stable
			publishLongFXAudioEffectEvent(c, laneIdx, p.start+p.length, "", "")
		}
	}
	*p = preparedLongFX{}
}

func publishLongFXAudioEffectEvent(c *chart.ChartData, laneIdx int, time chart.Pulse, effectStr, paramStr string) {
	name, param1, param2 := splitAudioEffectStr(effectStr)
	if paramStr != "" {
		// Legacy parameters never carry a second value; Echo, the only
		// two-parameter effect, postdates them
		param1 = fmt.Sprint(parseNumericInt(paramStr, 0))
	}
	if kson, ok := kshFXToKSONAudioEffectName[name]; ok {
		name = kson
	}

	var params chart.AudioEffectParams
	// The final parameter names depend on the audio effect type, which is
	// only known after all "#define_fx"/"#define_filter" lines are read;
	// stash the raw values in temporary keys until then.
	params.Set("_param1", param1)
	params.Set("_param2", param2)

	lanes, _ := c.Audio.AudioEffect.FX.LongEvent.Get(name)
	if !lanes[laneIdx].Contains(time) {
		lanes[laneIdx].Set(time, params)
		c.Audio.AudioEffect.FX.LongEvent.Set(name, lanes)
	}
}

// preparedLaser accumulates the points of one laser section.
type preparedLaser struct {
	prepared bool
	start    chart.Pulse
	wide     bool
	points   chart.ByRelPulse[chart.GraphPoint]
}

func (p *preparedLaser) prepare(time chart.Pulse, wide bool) {
	if !p.prepared {
		*p = preparedLaser{prepared: true, start: time, wide: wide}
	}
}

func (p *preparedLaser) addPoint(time chart.Pulse, value float64) {
	relTime := time - p.start
	if relTime < 0 {
		return
	}
	if pt := p.points.Ptr(relTime); pt != nil {
		pt.V.VF = value
		return
	}
	p.points.Set(relTime, chart.NewGraphPoint(value))
}

func (p *preparedLaser) publish(c *chart.ChartData, laneIdx int) {
	defer func() { *p = preparedLaser{} }()
	if !p.prepared || len(p.points) < 2 {
		return
	}

	// Convert a 32nd-or-shorter laser segment to a laser slam
	laserSlamThreshold := chart.Resolution4 / 32
	var converted chart.ByRelPulse[chart.GraphPoint]
	for i := 0; i < len(p.points); i++ {
		point := p.points[i]
		if i+1 < len(p.points) {
			next := p.points[i+1]
			if next.Y-point.Y <= laserSlamThreshold && !chart.AlmostEquals(next.V.V.V, point.V.V.V) {
				converted.Set(point.Y, chart.GraphPoint{V: chart.GraphValue{V: point.V.V.V, VF: next.V.V.V}})
				// Consume the slam's end point unless a third point follows
				// closely at a different value (it carries an intermediate)
				if i+2 >= len(p.points) ||
					p.points[i+2].Y-next.Y > laserSlamThreshold ||
					chart.AlmostEquals(p.points[i+2].V.V.V, next.V.V.V) {
					i++
				}
				continue
			}
		}
		converted.Set(point.Y, point.V)
	}

	width := chart.LaserXScale1x
	if p.wide {
		width = chart.LaserXScale2x
	}
	c.Note.Laser[laneIdx].SetIfAbsent(p.start, chart.LaserSection{V: converted, W: width})
}

type bufOptionLine struct {
	lineIdx int
	key     string
	value   string
}

type bufIdxLine struct {
	lineIdx int
	value   string
}

type bufKeySound struct {
	name string
	vol  int32
}

// metaMap holds decoded header key/value pairs, with pop-style access so
// unrecognized keys can be collected afterwards.
type metaMap map[string]string

func (m metaMap) pop(key, defaultValue string) string {
	if v, ok := m[key]; ok {
		delete(m, key)
		return v
	}
	return defaultValue
}

func (m metaMap) popInt(key string, defaultValue int64) int64 {
	s := m.pop(key, "")
	if s == "" {
		return defaultValue
	}
	return parseNumericInt(s, 0)
}

func (m metaMap) popIntClamped(key string, defaultValue, minValue, maxValue int64) int64 {
	v := m.popInt(key, defaultValue)
	if v < minValue {
		return minValue
	}
	if v > maxValue {
		return maxValue
	}
	return v
}

var difficultyIdxByName = map[string]int32{
	"light":     0,
	"challenge": 1,
	"extended":  2,
	"infinite":  3,
}

type headerResult struct {
	meta       metaMap
	comments   []string // comment lines before the first bar line
	unknowns   []string // unexpected header lines
	isUTF8     bool
	titleFirst bool
	bodyLines  []string
	err        chart.ErrorType
}

func readHeader(r io.Reader) headerResult {
	data, err := io.ReadAll(r)
	if err != nil {
		return headerResult{err: chart.ErrorGeneralIO}
	}

	isUTF8 := bytes.HasPrefix(data, utf8BOM)
	if isUTF8 {
		data = data[len(utf8BOM):]
	}

	result := headerResult{
		meta:       make(metaMap),
		isUTF8:     isUTF8,
		titleFirst: len(data) > 0 && data[0] == 't',
	}

	lines := strings.Split(string(data), "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	barLineFound := false
	for i, line := range lines {
		if isBarLine(line) {
			// Chart metadata ends at the first bar line ("--")
			barLineFound = true
			result.bodyLines = lines[i+1:]
			break
		}
		if isCommentLine(line) {
			result.comments = append(result.comments, line[2:])
			continue
		}
		if !isOptionLine(line) {
			result.unknowns = append(result.unknowns, line)
			continue
		}
		key, value := splitOptionLine(line, isUTF8)
		if key == "" {
			return headerResult{err: chart.ErrorEncoding}
		}
		result.meta[key] = value
	}

	if !barLineFound {
		return headerResult{err: chart.ErrorGeneralChartFormat}
	}
	if _, ok := result.meta["title"]; !ok {
		return headerResult{err: chart.ErrorGeneralChartFormat}
	}
	return result
}

func popCommonMeta(m metaMap, meta *chart.MetaInfo) {
	meta.Title = m.pop("title", "")
	meta.TitleImgFilename = m.pop("title_img", "")
	meta.Artist = m.pop("artist", "")
	meta.ArtistImgFilename = m.pop("artist_img", "")
	meta.ChartAuthor = m.pop("effect", "")
	meta.JacketFilename = m.pop("jacket", "")
	meta.JacketAuthor = m.pop("illustrator", "")
	meta.IconFilename = m.pop("icon", "")

	difficultyName := m.pop("difficulty", "infinite")
	if idx, ok := difficultyIdxByName[difficultyName]; ok {
		meta.Difficulty.Idx = idx
	} else {
		// Unknown difficulty is recognized as "infinite"
		meta.Difficulty.Idx = 3
		meta.Difficulty.Name = difficultyName
	}

	meta.Level = int32(m.popIntClamped("level", 1, 1, 20))
	meta.StdBPM = parseNumericFloat(m.pop("to", "0"), 0.0)
	meta.Information = m.pop("information", "")
}

func popCommonBGM(m metaMap, bgm *chart.BGMInfo, kshVersionInt int) []string {
	bgmFilenames := splitN(m.pop("m", ""), ';', 4)
	bgm.Filename = bgmFilenames[0]

	bgm.Vol = float64(m.popInt("mvol", 100)) / 100.0
	if kshVersionInt == 100 {
		// For historical reasons, a KSH version of "100" (including
		// unspecified) scales the volume by 0.6
		bgm.Vol *= 0.6
	}

	bgm.Preview.Offset = int32(m.popInt("po", 0))
	bgm.Preview.Duration = int32(m.popInt("plength", 0))
	return bgmFilenames
}

func popVersion(m metaMap) (kshVersion string, kshVersionInt int) {
	ver := m.pop("ver", "100")
	verCompat := m.pop("ver_compat", "")
	if verCompat != "" {
		ver = verCompat
	}
	return ver, int(parseNumericInt(ver, 100))
}

// LoadMeta parses only the header of a KSH stream.
func LoadMeta(r io.Reader) *chart.MetaChartData {
	c := &chart.MetaChartData{}

	header := readHeader(r)
	if header.err != chart.ErrorNone {
		c.Error = header.err
		return c
	}
	if !header.titleFirst {
		c.Warn("The option line \"title=...\" must be placed at the beginning of a KSH chart file.")
	}

	m := header.meta
	kshVersion, kshVersionInt := popVersion(m)
	c.Compat.KshVersion = kshVersion

	popCommonMeta(m, &c.Meta)
	c.Meta.DispBPM = m.pop("t", "")
	popCommonBGM(m, &c.Audio.BGM, kshVersionInt)

	return c
}

// Load parses a full KSH stream. It never returns a Go error; structural
// failures set the Error field and malformed values fall back to defaults.
func Load(r io.Reader) *chart.ChartData {
	c := &chart.ChartData{}

	header := readHeader(r)
	if header.err != chart.ErrorNone {
		c.Error = header.err
		return c
	}
	if !header.titleFirst {
		c.Warn("The option line \"title=...\" must be placed at the beginning of a KSH chart file.")
	}

	for _, comment := range header.comments {
		c.Editor.Comment.Add(0, comment)
	}
	for _, line := range header.unknowns {
		c.Compat.KshUnknown.Line.Add(0, line)
	}

	m := header.meta
	kshVersion, kshVersionInt := popVersion(m)
	c.Compat.KshVersion = kshVersion

	popCommonMeta(m, &c.Meta)

	// The first time signature change ("beat=" is usually after the first
	// bar line, but a header occurrence wins)
	firstTimeSig := chart.TimeSig{N: 4, D: 4}
	if beatStr, ok := m["beat"]; ok {
		firstTimeSig = parseTimeSig(beatStr)
		delete(m, "beat")
	}
	c.Beat.TimeSig.Set(0, firstTimeSig)

	// The first tempo change
	if t, ok := m["t"]; ok {
		insertBPMChange(&c.Beat.BPM, 0, t, kshVersionInt)
	}
	c.Meta.DispBPM = m.pop("t", "")

	bgmFilenames := popCommonBGM(m, &c.Audio.BGM, kshVersionInt)
	c.Audio.BGM.Legacy.FilenameF = bgmFilenames[1]
	c.Audio.BGM.Legacy.FilenameP = bgmFilenames[2]
	c.Audio.BGM.Legacy.FilenameFP = bgmFilenames[3]
	c.Audio.BGM.Offset = int32(m.popInt("o", 0))

	c.Audio.KeySound.Laser.Vol.Set(0, float64(m.popInt("chokkakuvol", 50))/100)
	c.Audio.KeySound.Laser.Legacy.VolAuto = m.popInt("chokkakuautovol", 1) != 0
	if _, ok := m["filtertype"]; ok {
		insertFiltertype(c, 0, m.pop("filtertype", "peak"))
	}
	// Store pfiltergain even at its default value of 50
	if _, ok := m["pfiltergain"]; ok {
		c.Audio.AudioEffect.Laser.Legacy.FilterGain.Set(0, float64(m.popInt("pfiltergain", 50))/100.0)
	}
	c.Audio.AudioEffect.Laser.PeakingFilterDelay = int32(m.popInt("pfilterdelay", 40))

	bgStr := m.pop("bg", "desert")
	if strings.IndexByte(bgStr, ';') >= 0 {
		bgFilenames := splitN(bgStr, ';', 2)
		c.BG.Legacy.BG[0].Filename = bgFilenames[0]
		c.BG.Legacy.BG[1].Filename = bgFilenames[1]
	} else {
		c.BG.Legacy.BG[0].Filename = bgStr
		c.BG.Legacy.BG[1].Filename = bgStr
	}

	layerSeparator := byte('/')
	if kshVersionInt >= verLayerDelimiterChanged {
		layerSeparator = ';'
	}
	layerParts := splitN(m.pop("layer", "arrow"), layerSeparator, 3)
	c.BG.Legacy.Layer.Filename = layerParts[0]
	c.BG.Legacy.Layer.Duration = int32(parseNumericInt(layerParts[1], 0))
	rotationFlags := int32(parseNumericInt(layerParts[2], rotationFlagTilt|rotationFlagSpin))
	c.BG.Legacy.Layer.Rotation = chart.KshLayerRotationInfo{
		Tilt: rotationFlags&rotationFlagTilt != 0,
		Spin: rotationFlags&rotationFlagSpin != 0,
	}

	c.BG.Legacy.Movie.Filename = m.pop("v", "")
	c.BG.Legacy.Movie.Offset = int32(m.popInt("vo", 0))

	c.Gauge.Total = int32(m.popInt("total", 0))

	// Unrecognized header keys
	for key, value := range m {
		c.Compat.KshUnknown.Meta.Set(key, value)
	}

	loadBody(c, header, kshVersionInt)
	return c
}

func loadBody(c *chart.ChartData, header headerResult, kshVersionInt int) {
	currentTimeSig, _ := c.Beat.TimeSig.Get(0)

	// Zoom limits changed at v1.67
	zoomAbsLimit := zoomAbsMax
	zoomMaxChar := -1
	if kshVersionInt < verZoomLimitChanged {
		zoomAbsLimit = zoomAbsMaxLegacy
		zoomMaxChar = zoomMaxCharLegacy
	}

	// Per-measure buffers; actual insertion happens on the bar line, once
	// the line count (and with it each line's pulse) is known
	var chartLines []string
	var optionLines []bufOptionLine
	var commentLines, unknownLines []bufIdxLine
	var laserWide [chart.NumLaserLanes]map[int]struct{}
	var fxEffectStrs, fxEffectParamStrs [chart.NumFXLanes]map[int]string
	var fxKeySounds [chart.NumFXLanes]map[int]bufKeySound
	laserKeySounds := map[int]string{}
	resetMeasureBuffers := func() {
		chartLines = chartLines[:0]
		optionLines = optionLines[:0]
		commentLines = commentLines[:0]
		unknownLines = unknownLines[:0]
		for i := range laserWide {
			laserWide[i] = map[int]struct{}{}
		}
		for i := range fxEffectStrs {
			fxEffectStrs[i] = map[int]string{}
			fxEffectParamStrs[i] = map[int]string{}
			fxKeySounds[i] = map[int]bufKeySound{}
		}
		laserKeySounds = map[int]string{}
	}
	resetMeasureBuffers()

	var preparedBT [chart.NumBTLanes]preparedLongBT
	var preparedFX [chart.NumFXLanes]preparedLongFX
	var preparedLaserSections [chart.NumLaserLanes]preparedLaser

	// Curve options are applied after the whole body is read, once every
	// target point exists
	bufferedCurves := map[string]*chart.ByPulse[chart.GraphCurve]{}
	bufferCurve := func(name string, time chart.Pulse, curve chart.GraphCurve) {
		if bufferedCurves[name] == nil {
			bufferedCurves[name] = &chart.ByPulse[chart.GraphCurve]{}
		}
		bufferedCurves[name].Set(time, curve)
	}

	currentPulse := chart.Pulse(0)
	currentMeasureIdx := int64(0)
	useLegacyScaleForManualTilt := false

	for _, line := range header.bodyLines {
		if line == "" {
			continue
		}

		if isCommentLine(line) {
			commentLines = append(commentLines, bufIdxLine{lineIdx: len(chartLines), value: line[2:]})
			continue
		}

		if line[0] == '#' {
			if err := parseAudioEffectDefLine(c, line, header.isUTF8); err != chart.ErrorNone {
				c.Error = err
				return
			}
			continue
		}

		if isChartLine(line) {
			chartLines = append(chartLines, line)
			continue
		}

		if isOptionLine(line) {
			key, value := splitOptionLine(line, header.isUTF8)
			if key == "" {
				c.Error = chart.ErrorEncoding
				return
			}
			if key == "beat" {
				currentTimeSig = parseTimeSig(value)
				c.Beat.TimeSig.Set(chart.Pulse(currentMeasureIdx), currentTimeSig)
				continue
			}
			optionLines = append(optionLines, bufOptionLine{lineIdx: len(chartLines), key: key, value: value})
			continue
		}

		if !isBarLine(line) {
			unknownLines = append(unknownLines, bufIdxLine{lineIdx: len(chartLines), value: line})
			continue
		}

		// Bar line: commit the measure
		if currentTimeSig.D <= 0 || currentTimeSig.N <= 0 {
			c.Warn(fmt.Sprintf("Invalid time signature %d/%d; falling back to 4/4.", currentTimeSig.N, currentTimeSig.D))
			currentTimeSig = chart.TimeSig{N: 4, D: 4}
		}
		if len(chartLines) > 0 {
			measureLength := chart.Resolution4 * chart.Pulse(currentTimeSig.N) / chart.Pulse(currentTimeSig.D)
			oneLinePulse := measureLength / chart.Pulse(len(chartLines))
			if measureLength%chart.Pulse(len(chartLines)) != 0 {
				c.Warn(fmt.Sprintf("Measure %d is not evenly divisible into %d lines; timing is rounded down.", currentMeasureIdx, len(chartLines)))
			}

			for _, opt := range optionLines {
				time := currentPulse + chart.Pulse(opt.lineIdx)*oneLinePulse
				applyOption(c, opt, time, kshVersionInt, zoomAbsLimit, zoomMaxChar,
					bufferCurve, laserWide[:], fxEffectStrs[:], fxEffectParamStrs[:], fxKeySounds[:], laserKeySounds,
					&useLegacyScaleForManualTilt)
			}

			for i, buf := range chartLines {
				time := currentPulse + chart.Pulse(i)*oneLinePulse
				applyChartLine(c, buf, i, time, oneLinePulse,
					&preparedBT, &preparedFX, &preparedLaserSections,
					laserWide[:], fxEffectStrs[:], fxEffectParamStrs[:], fxKeySounds[:], laserKeySounds)
			}

			for _, comment := range commentLines {
				c.Editor.Comment.Add(currentPulse+chart.Pulse(comment.lineIdx)*oneLinePulse, comment.value)
			}
			for _, unknown := range unknownLines {
				c.Compat.KshUnknown.Line.Add(currentPulse+chart.Pulse(unknown.lineIdx)*oneLinePulse, unknown.value)
			}
		}

		resetMeasureBuffers()
		currentPulse += chart.Resolution4 * chart.Pulse(currentTimeSig.N) / chart.Pulse(currentTimeSig.D)
		currentMeasureIdx++
	}

	// KSH content must end with a bar line, so no button note may remain
	for _, p := range preparedBT {
		if p.prepared {
			c.Warn("Uncommitted BT note detected. The chart content does not end with a bar line (\"--\").")
		}
	}
	for _, p := range preparedFX {
		if p.prepared {
			c.Warn("Uncommitted FX note detected. The chart content does not end with a bar line (\"--\").")
		}
	}

	// Laser sections are only published on a blank laser char, so trailing
	// sections are still prepared here
	for i := range preparedLaserSections {
		preparedLaserSections[i].publish(c, i)
	}

	applyBufferedCurves(c, bufferedCurves)

	if c.Beat.ScrollSpeed.Empty() {
		c.Beat.ScrollSpeed.Set(0, chart.NewGraphPoint(1.0))
	}

	resolveFXLongEventParams(c)

	if useLegacyScaleForManualTilt {
		applyLegacyManualTiltScale(c)
	}
}

func parseAudioEffectDefLine(c *chart.ChartData, line string, isUTF8 bool) chart.ErrorType {
	isDefineFX := strings.HasPrefix(line, "#define_fx ")
	isDefineFilter := !isDefineFX && strings.HasPrefix(line, "#define_filter ")
	if !isDefineFX && !isDefineFilter {
		return chart.ErrorNone
	}

	rest := strings.TrimLeft(line[strings.IndexByte(line, ' '):], " ")
	name := rest
	paramsStr := ""
	if sp := strings.IndexByte(rest, ' '); sp >= 0 {
		name = rest[:sp]
		paramsStr = strings.Trim(rest[sp:], " ")
	}

	var params chart.Dict[string]
	for paramsStr != "" {
		part := paramsStr
		if semi := strings.IndexByte(paramsStr, audioEffectSeparator); semi >= 0 {
			part = paramsStr[:semi]
			paramsStr = paramsStr[semi+1:]
		} else {
			paramsStr = ""
		}
		paramName, value := splitOptionLine(part, isUTF8)
		if paramName == "" {
			return chart.ErrorEncoding
		}
		if value != "" && !params.Contains(paramName) {
			params.Set(paramName, value)
		}
	}

	typeStr, hasType := params.Get("type")
	if !hasType {
		c.Warn("Audio effect '" + name + "' is ignored as it does not contain 'type' parameter.")
		return chart.ErrorNone
	}
	params.Delete("type")
	effectType, validType := kshAudioEffectTypes[typeStr]
	if !validType {
		c.Warn("Audio effect '" + name + "' is ignored as '" + typeStr + "' is not a valid audio effect type")
		return chart.ErrorNone
	}

	var paramsKSON chart.AudioEffectParams
	for _, p := range params {
		if ksonName, ok := kshToKSONParamName[p.Name]; ok {
			if !paramsKSON.Contains(ksonName) {
				paramsKSON.Set(ksonName, p.V)
			}
		}
	}

	// User-defined audio effects may overwrite preset ones
	if ksonName, ok := kshFXToKSONAudioEffectName[name]; ok {
		name = ksonName
	}

	kvp := chart.AudioEffectDefKVP{
		Name: name,
		V:    chart.AudioEffectDef{Type: effectType, V: paramsKSON},
	}
	if isDefineFX {
		c.Audio.AudioEffect.FX.Def = append(c.Audio.AudioEffect.FX.Def, kvp)
	} else {
		c.Audio.AudioEffect.Laser.Def = append(c.Audio.AudioEffect.Laser.Def, kvp)
	}
	return chart.ErrorNone
}

func applyOption(
	c *chart.ChartData,
	opt bufOptionLine,
	time chart.Pulse,
	kshVersionInt int,
	zoomAbsLimit float64,
	zoomMaxChar int,
	bufferCurve func(string, chart.Pulse, chart.GraphCurve),
	laserWide []map[int]struct{},
	fxEffectStrs, fxEffectParamStrs []map[int]string,
	fxKeySounds []map[int]bufKeySound,
	laserKeySounds map[int]string,
	useLegacyScaleForManualTilt *bool,
) {
	key, value := opt.key, opt.value

	if paramName, ok := strings.CutSuffix(key, "_curve"); ok {
		if curve, valid := parseCurveValue(value); valid {
			bufferCurve(paramName, time, curve)
		}
		return
	}

	parseZoom := func(v string) float64 {
		if zoomMaxChar >= 0 && len(v) > zoomMaxChar {
			v = v[:zoomMaxChar]
		}
		return float64(parseNumericInt(v, 0))
	}
	absOK := func(v, limit float64) bool {
		if v < 0 {
			v = -v
		}
		return v <= limit
	}

	switch key {
	case "t":
		if c.Beat.BPM.Empty() {
			// In rare cases the BPM is not specified in the chart metadata
			insertBPMChange(&c.Beat.BPM, 0, value, kshVersionInt)
		} else {
			insertBPMChange(&c.Beat.BPM, time, value, kshVersionInt)
		}
	case "stop":
		if length := kshLengthToRelPulse(value); length > 0 {
			c.Beat.Stop.Set(time, length)
		}
	case "zoom_top":
		v := parseZoom(value)
		if absOK(v, zoomAbsLimit) || (kshVersionInt < verZoomLimitChanged && c.Camera.Cam.Body.ZoomTop.Contains(time)) {
			insertGraphPointOrAssignVF(&c.Camera.Cam.Body.ZoomTop, time, v)
		}
	case "zoom_bottom":
		v := parseZoom(value)
		if absOK(v, zoomAbsLimit) || (kshVersionInt < verZoomLimitChanged && c.Camera.Cam.Body.ZoomBottom.Contains(time)) {
			insertGraphPointOrAssignVF(&c.Camera.Cam.Body.ZoomBottom, time, v)
		}
	case "zoom_side":
		v := parseZoom(value)
		if absOK(v, zoomAbsLimit) || (kshVersionInt < verZoomLimitChanged && c.Camera.Cam.Body.ZoomSide.Contains(time)) {
			insertGraphPointOrAssignVF(&c.Camera.Cam.Body.ZoomSide, time, v)
		}
	case "center_split":
		v := float64(parseNumericInt(value, 0))
		if absOK(v, centerSplitAbsMax) {
			insertGraphPointOrAssignVF(&c.Camera.Cam.Body.CenterSplit, time, v)
		}
	case "scroll_speed":
		insertGraphPointOrAssignVF(&c.Beat.ScrollSpeed, time, parseNumericFloat(value, 0))
	case "rotation_deg":
		v := float64(parseNumericInt(value, 0))
		if absOK(v, rotationDegAbsMax) {
			insertGraphPointOrAssignVF(&c.Camera.Cam.Body.RotationDeg, time, v)
		}
	case "tilt":
		applyTiltOption(c, time, value, kshVersionInt, useLegacyScaleForManualTilt)
	case "chokkakuvol":
		c.Audio.KeySound.Laser.Vol.Set(time, float64(parseNumericInt(value, 0))/100)
	case "chokkakuse":
		laserKeySounds[opt.lineIdx] = value
	case "pfiltergain":
		c.Audio.AudioEffect.Laser.Legacy.FilterGain.SetIfAbsent(time, float64(parseNumericInt(value, 50))/100.0)
	case "fx-l":
		fxEffectStrs[0][opt.lineIdx] = value
	case "fx-r":
		fxEffectStrs[1][opt.lineIdx] = value
	// "fx-l_param2"/"fx-r_param2" do not exist: the param options are
	// legacy (< v1.60) and Echo, the only two-parameter effect, is newer
	case "fx-l_param1":
		fxEffectParamStrs[0][opt.lineIdx] = value
	case "fx-r_param1":
		fxEffectParamStrs[1][opt.lineIdx] = value
	case "fx-l_se", "fx-r_se":
		laneIdx := 0
		if key == "fx-r_se" {
			laneIdx = 1
		}
		pair := splitN(value, ';', 2)
		fxKeySounds[laneIdx][opt.lineIdx] = bufKeySound{
			name: pair[0],
			vol:  int32(parseNumericInt(pair[1], 100)),
		}
	case "filtertype":
		insertFiltertype(c, time, value)
	case "laserrange_l":
		if value == "2x" {
			laserWide[0][opt.lineIdx] = struct{}{}
		}
	case "laserrange_r":
		if value == "2x" {
			laserWide[1][opt.lineIdx] = struct{}{}
		}
	default:
		if applyParamChangeOption(c, key, value, time) {
			return
		}
		multi, _ := c.Compat.KshUnknown.Option.Get(key)
		multi.Add(time, value)
		c.Compat.KshUnknown.Option.Set(key, multi)
	}
}

func applyParamChangeOption(c *chart.ChartData, key, value string, time chart.Pulse) bool {
	isFX := strings.HasPrefix(key, "fx:")
	if !isFX && !strings.HasPrefix(key, "filter:") {
		return false
	}

	parts := splitN(key, ':', 3)
	effectName, paramName := parts[1], parts[2]
	if effectName == "" || paramName == "" {
		return true
	}
	ksonParamName, ok := kshToKSONParamName[paramName]
	if !ok {
		return true
	}

	var paramChange *chart.Dict[chart.Dict[chart.ByPulse[string]]]
	if isFX {
		paramChange = &c.Audio.AudioEffect.FX.ParamChange
		if kson, found := kshFXToKSONAudioEffectName[effectName]; found {
			effectName = kson
		}
	} else {
		paramChange = &c.Audio.AudioEffect.Laser.ParamChange
		if kson, found := kshFilterToKSONAudioEffectName[effectName]; found {
			effectName = kson
		}
	}

	params, _ := paramChange.Get(effectName)
	byPulse, _ := params.Get(ksonParamName)
	byPulse.Set(time, value)
	params.Set(ksonParamName, byPulse)
	paramChange.Set(effectName, params)
	return true
}

func applyTiltOption(c *chart.ChartData, time chart.Pulse, value string, kshVersionInt int, useLegacyScaleForManualTilt *bool) {
	tilt := &c.Camera.Tilt

	if isTiltValueManual(value) {
		v := roundToKSHDoubleValue(parseNumericFloat(value, 0))
		abs := v
		if abs < 0 {
			abs = -abs
		}
		if abs <= manualTiltAbsMax {
			// Consecutive tilt values at the same pulse form an immediate
			// change
			if last, ok := tilt.Last(); ok && last.Y == time && last.V.IsManual() {
				point := last.V.Point()
				tilt.Set(time, chart.ManualTilt(chart.TiltGraphPoint{
					V:     chart.TiltGraphValue{V: point.V.V, VF: chart.NumberTiltVF(v)},
					Curve: point.Curve,
				}))
				return
			}
			tilt.Set(time, chart.ManualTilt(chart.TiltGraphPoint{V: chart.NewTiltGraphValue(v)}))
		}
		if kshVersionInt < verManualTiltScaleChanged && abs >= 10.0 {
			// Legacy charts with large manual tilt values depend on the
			// 14-degree tilt scale used before v1.70
			*useLegacyScaleForManualTilt = true
		}
		return
	}

	autoType := chart.ParseAutoTiltType(value)
	// An immediate change from manual to auto stores the auto type as vf
	if last, ok := tilt.Last(); ok && last.Y == time && last.V.IsManual() {
		point := last.V.Point()
		tilt.Set(time, chart.ManualTilt(chart.TiltGraphPoint{
			V:     chart.TiltGraphValue{V: point.V.V, VF: chart.AutoTiltVF(autoType)},
			Curve: point.Curve,
		}))
		return
	}
	tilt.Set(time, chart.AutoTilt(autoType))
}

func applyChartLine(
	c *chart.ChartData,
	buf string,
	lineIdx int,
	time chart.Pulse,
	oneLinePulse chart.Pulse,
	preparedBT *[chart.NumBTLanes]preparedLongBT,
	preparedFX *[chart.NumFXLanes]preparedLongFX,
	preparedLaserSections *[chart.NumLaserLanes]preparedLaser,
	laserWide []map[int]struct{},
	fxEffectStrs, fxEffectParamStrs []map[int]string,
	fxKeySounds []map[int]bufKeySound,
	laserKeySounds map[int]string,
) {
	currentBlock := 0
	laneIdx := 0

	for j := 0; j < len(buf); j++ {
		ch := buf[j]
		if ch == blockSeparator {
			currentBlock++
			laneIdx = 0
			continue
		}

		switch {
		case currentBlock == 0 && laneIdx < chart.NumBTLanes:
			prepared := &preparedBT[laneIdx]
			switch ch {
			case '2': // Long BT note
				prepared.prepare(time)
				prepared.length += oneLinePulse
			case '1': // Chip BT note
				prepared.publish(&c.Note.BT[laneIdx])
				c.Note.BT[laneIdx].SetIfAbsent(time, chart.Interval{Length: 0})
			default: // Empty
				prepared.publish(&c.Note.BT[laneIdx])
			}

		case currentBlock == 1 && laneIdx < chart.NumFXLanes:
			prepared := &preparedFX[laneIdx]
			switch ch {
			case '2': // Chip FX note
				c.Note.FX[laneIdx].SetIfAbsent(time, chart.Interval{Length: 0})
				if keySound, ok := fxKeySounds[laneIdx][lineIdx]; ok {
					lanes, _ := c.Audio.KeySound.FX.ChipEvent.Get(keySound.name)
					lanes[laneIdx].SetIfAbsent(time, chart.KeySoundInvokeFX{Vol: float64(keySound.vol) / 100})
					c.Audio.KeySound.FX.ChipEvent.Set(keySound.name, lanes)
				}
			case '0': // Empty
				prepared.publish(c, laneIdx)
			case '1': // Long FX note
				if effectStr, ok := fxEffectStrs[laneIdx][lineIdx]; ok {
					prepared.prepareWithEffect(c, laneIdx, time, effectStr, fxEffectParamStrs[laneIdx][lineIdx], false)
				} else {
					prepared.prepare(c, laneIdx, time)
				}
				prepared.length += oneLinePulse
			default: // Long FX note with a legacy effect character (e.g. "F")
				effectStr := legacyFXCharToAudioEffectStr(ch)
				prepared.prepareWithEffect(c, laneIdx, time, effectStr, fxEffectParamStrs[laneIdx][lineIdx], true)
				prepared.length += oneLinePulse
			}

		case currentBlock == 2 && laneIdx < chart.NumLaserLanes:
			prepared := &preparedLaserSections[laneIdx]
			switch ch {
			case '-': // Empty
				prepared.publish(c, laneIdx)
			case ':': // Connection
			default:
				laserX := charToLaserX(ch)
				if !prepared.prepared {
					_, wide := laserWide[laneIdx][lineIdx]
					prepared.prepare(time, wide)
				}
				prepared.addPoint(time, laserXToGraphValue(laserX, prepared.wide))

				if name, ok := laserKeySounds[lineIdx]; ok && name != "" {
					// The key sound is attached even when the laser segment
					// turns out not to be a slam; this is harmless
					set, _ := c.Audio.KeySound.Laser.SlamEvent.Get(name)
					set.Add(time)
					c.Audio.KeySound.Laser.SlamEvent.Set(name, set)
				}
			}

		case currentBlock == 2 && laneIdx == chart.NumLaserLanes:
			// Everything after the two laser chars is the spin suffix
			applySpin(c, buf[j:], time)
			return
		}
		laneIdx++
	}
}

func applySpin(c *chart.ChartData, s string, time chart.Pulse) {
	spin := parseLaneSpin(s)
	if !spin.valid() {
		return
	}

	slamEvent := &c.Camera.Cam.Pattern.Laser.SlamEvent
	switch spin.kind {
	case spinNormal:
		slamEvent.Spin.Set(time, chart.CamPatternInvokeSpin{D: spin.direction, Length: spin.duration})
	case spinHalf:
		slamEvent.HalfSpin.Set(time, chart.CamPatternInvokeSpin{D: spin.direction, Length: spin.duration})
	case spinSwing:
		slamEvent.Swing.Set(time, chart.CamPatternInvokeSwing{
			D:      spin.direction,
			Length: spin.duration,
			V: chart.CamPatternInvokeSwingValue{
				Scale:      float64(spin.swingAmplitude),
				Repeat:     spin.swingRepeat,
				DecayOrder: spin.swingDecay,
			},
		})
	}
}

func applyBufferedCurves(c *chart.ChartData, bufferedCurves map[string]*chart.ByPulse[chart.GraphCurve]) {
	applyToGraph := func(name string, graph *chart.Graph) {
		curves := bufferedCurves[name]
		if curves == nil {
			return
		}
		for _, e := range *curves {
			if p := graph.Ptr(e.Y); p != nil {
				p.Curve = e.V
			}
		}
	}

	for laneIdx, name := range []string{"laser_l", "laser_r"} {
		curves := bufferedCurves[name]
		if curves == nil {
			continue
		}
		lane := c.Note.Laser[laneIdx]
		for _, e := range *curves {
			for si := range lane {
				relPulse := e.Y - lane[si].Y
				if relPulse < 0 {
					continue
				}
				if p := lane[si].V.V.Ptr(relPulse); p != nil {
					p.Curve = e.V
				}
			}
		}
	}

	applyToGraph("scroll_speed", &c.Beat.ScrollSpeed)
	applyToGraph("rotation_deg", &c.Camera.Cam.Body.RotationDeg)
	applyToGraph("zoom_top", &c.Camera.Cam.Body.ZoomTop)
	applyToGraph("zoom_bottom", &c.Camera.Cam.Body.ZoomBottom)
	applyToGraph("zoom_side", &c.Camera.Cam.Body.ZoomSide)
	applyToGraph("center_split", &c.Camera.Cam.Body.CenterSplit)

	if curves := bufferedCurves["tilt"]; curves != nil {
		for _, e := range *curves {
			if p := c.Camera.Tilt.Ptr(e.Y); p != nil && p.IsManual() {
				point := p.Point()
				point.Curve = e.V
				*p = chart.ManualTilt(point)
			}
		}
	}
}

// resolveFXLongEventParams converts the temporary "_param1"/"_param2" values
// stashed while reading the body into final named parameters, now that all
// effect definitions are known.
func resolveFXLongEventParams(c *chart.ChartData) {
	longEvent := c.Audio.AudioEffect.FX.LongEvent
	for di := range longEvent {
		effectName := longEvent[di].Name

		effectType := chart.AudioEffectUnspecified
		if def, ok := c.Audio.AudioEffect.FX.DefByName(effectName); ok {
			effectType = def.Type
		} else {
			effectType = chart.ParseAudioEffectType(effectName)
		}

		if effectName != "" && effectType == chart.AudioEffectUnspecified {
			c.Warn("Undefined audio effect '" + effectName + "' is specified in audio.audio_effect.fx.long_event.")
		}

		for laneIdx := range longEvent[di].V {
			lane := longEvent[di].V[laneIdx]
			for ei := range lane {
				params := &lane[ei].V
				param1, ok1 := params.Get("_param1")
				param2, ok2 := params.Get("_param2")
				if !ok1 || !ok2 {
					continue
				}
				params.Delete("_param1")
				params.Delete("_param2")
				if effectType == chart.AudioEffectUnspecified {
					if params.Empty() {
						*params = nil
					}
					continue
				}

				if param1 == audioEffectParamUnspecified {
					switch effectType {
					case chart.AudioEffectRetrigger:
						param1 = "8"
					case chart.AudioEffectGate:
						param1 = "4"
					case chart.AudioEffectWobble:
						param1 = "12"
					case chart.AudioEffectPitchShift:
						param1 = "12"
					case chart.AudioEffectBitcrusher:
						param1 = "5"
					case chart.AudioEffectTapestop:
						param1 = "50"
					case chart.AudioEffectEcho:
						param1 = "4"
					default:
						param1 = "0"
					}
				}
				if param2 == audioEffectParamUnspecified {
					if effectType == chart.AudioEffectEcho {
						param2 = "60"
					} else {
						param2 = "0"
					}
				}

				switch effectType {
				case chart.AudioEffectRetrigger, chart.AudioEffectGate, chart.AudioEffectWobble:
					if parseNumericInt(param1, 0) > 0 {
						params.Set("wave_length", "1/"+param1)
					}
				case chart.AudioEffectPitchShift:
					params.Set("pitch", param1)
				case chart.AudioEffectBitcrusher:
					params.Set("reduction", param1+"samples")
				case chart.AudioEffectTapestop:
					params.Set("speed", param1+"%")
				case chart.AudioEffectEcho:
					if parseNumericInt(param1, 0) > 0 {
						params.Set("wave_length", "1/"+param1)
					}
					params.Set("feedback_level", param2+"%")
				}
				if params.Empty() {
					*params = nil
				}
			}
		}
	}
}

// applyLegacyManualTiltScale rescales manual tilt values to reconstruct the
// pre-v1.70 semantics (14 degrees instead of 10).
func applyLegacyManualTiltScale(c *chart.ChartData) {
	const toLegacyScale = 14.0 / 10.0
	for i := range c.Camera.Tilt {
		tv := &c.Camera.Tilt[i].V
		if !tv.IsManual() {
			continue
		}
		point := tv.Point()
		point.V.V = roundToKSHDoubleValue(point.V.V * toLegacyScale)
		if !point.V.VF.IsAuto() {
			point.V.VF = chart.NumberTiltVF(roundToKSHDoubleValue(point.V.VF.Value() * toLegacyScale))
		}
		*tv = chart.ManualTilt(point)
	}
}
