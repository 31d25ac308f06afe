// Package kson reads and writes the KSON JSON chart format.
package kson

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/kshootmania/kson-go/chart"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FormatVersion is the kson format version number (1 for kson 0.9.0).
const FormatVersion = 1

type object = map[string]any
type array = []any

// put stores a value, skipping empty objects so that unused sub-structures
// vanish from the output.
func put(obj object, key string, value any) {
	if m, isObject := value.(object); isObject && len(m) == 0 {
		return
	}
	obj[key] = value
}

func putString(obj object, key, value, defaultValue string) {
	if value != defaultValue {
		obj[key] = value
	}
}

func putInt[T int32 | int64 | chart.Pulse](obj object, key string, value, defaultValue T) {
	if value != defaultValue {
		obj[key] = int64(value)
	}
}

func putFloat(obj object, key string, value, defaultValue float64) {
	if !chart.AlmostEquals(value, defaultValue) {
		obj[key] = chart.RemoveFloatingPointError(value)
	}
}

func putBool(obj object, key string, value, defaultValue bool) {
	if value != defaultValue {
		obj[key] = value
	}
}

func float(v float64) float64 {
	return chart.RemoveFloatingPointError(v)
}

// graphValueJSON renders v or [v, vf].
func graphValueJSON(v chart.GraphValue) any {
	if chart.AlmostEquals(v.V, v.VF) {
		return float(v.V)
	}
	return array{float(v.V), float(v.VF)}
}

func curveJSON(c chart.GraphCurve) array {
	return array{float(c.A), float(c.B)}
}

// graphPointJSON renders [y, v], [y, [v, vf]], [y, v, [a, b]] or
// [y, [v, vf], [a, b]].
func graphPointJSON(y chart.Pulse, point chart.GraphPoint) array {
	if point.Curve.IsLinear() {
		return array{int64(y), graphValueJSON(point.V)}
	}
	return array{int64(y), graphValueJSON(point.V), curveJSON(point.Curve)}
}

func graphJSON(graph chart.Graph) array {
	a := array{}
	for _, e := range graph {
		a = append(a, graphPointJSON(e.Y, e.V))
	}
	return a
}

func putGraph(obj object, key string, graph chart.Graph) {
	if len(graph) == 0 {
		return
	}
	obj[key] = graphJSON(graph)
}

// putGraphWithDefault elides the graph when every value is the default.
func putGraphWithDefault(obj object, key string, graph chart.Graph, defaultValue float64) {
	for _, e := range graph {
		if !chart.AlmostEquals(e.V.V.V, defaultValue) || !chart.AlmostEquals(e.V.V.VF, defaultValue) {
			obj[key] = graphJSON(graph)
			return
		}
	}
}

func putByPulseFloats(obj object, key string, m chart.ByPulse[float64]) {
	if len(m) == 0 {
		return
	}
	a := array{}
	for _, e := range m {
		a = append(a, array{int64(e.Y), float(e.V)})
	}
	obj[key] = a
}

func putByPulseInts(obj object, key string, m chart.ByPulse[chart.RelPulse]) {
	if len(m) == 0 {
		return
	}
	a := array{}
	for _, e := range m {
		a = append(a, array{int64(e.Y), int64(e.V)})
	}
	obj[key] = a
}

func putByPulseStrings(obj object, key string, m chart.ByPulse[string]) {
	if len(m) == 0 {
		return
	}
	a := array{}
	for _, e := range m {
		a = append(a, array{int64(e.Y), e.V})
	}
	obj[key] = a
}

func putByPulseMultiStrings(obj object, key string, m chart.ByPulseMulti[string]) {
	if len(m) == 0 {
		return
	}
	a := array{}
	for _, e := range m {
		a = append(a, array{int64(e.Y), e.V})
	}
	obj[key] = a
}

func putTimeSigs(obj object, key string, m chart.ByMeasureIdx[chart.TimeSig]) {
	if len(m) == 0 {
		return
	}
	a := array{}
	for _, e := range m {
		a = append(a, array{int64(e.Y), array{int64(e.V.N), int64(e.V.D)}})
	}
	obj[key] = a
}

func paramsJSON(params chart.AudioEffectParams) object {
	obj := object{}
	for _, p := range params {
		obj[p.Name] = p.V
	}
	return obj
}

func metaJSON(meta *chart.MetaInfo) object {
	j := object{}
	j["title"] = meta.Title
	putString(j, "title_translit", meta.TitleTranslit, "")
	putString(j, "title_img_filename", meta.TitleImgFilename, "")
	j["artist"] = meta.Artist
	putString(j, "artist_translit", meta.ArtistTranslit, "")
	putString(j, "artist_img_filename", meta.ArtistImgFilename, "")
	j["chart_author"] = meta.ChartAuthor
	if meta.Difficulty.Name == "" {
		j["difficulty"] = int64(meta.Difficulty.Idx)
	} else {
		j["difficulty"] = meta.Difficulty.Name
	}
	j["level"] = int64(meta.Level)
	j["disp_bpm"] = meta.DispBPM
	putFloat(j, "std_bpm", meta.StdBPM, 0.0)
	putString(j, "jacket_filename", meta.JacketFilename, "")
	putString(j, "jacket_author", meta.JacketAuthor, "")
	putString(j, "icon_filename", meta.IconFilename, "")
	putString(j, "information", meta.Information, "")
	return j
}

func beatJSON(beat *chart.BeatInfo) object {
	j := object{}
	putByPulseFloats(j, "bpm", beat.BPM)
	putTimeSigs(j, "time_sig", beat.TimeSig)
	putGraphWithDefault(j, "scroll_speed", beat.ScrollSpeed, 1.0)
	putByPulseInts(j, "stop", beat.Stop)
	return j
}

func gaugeJSON(gauge *chart.GaugeInfo) object {
	j := object{}
	putInt(j, "total", gauge.Total, 0)
	return j
}

func buttonLanesJSON(lanes []chart.ByPulse[chart.Interval]) (array, bool) {
	allEmpty := true
	for _, lane := range lanes {
		if !lane.Empty() {
			allEmpty = false
			break
		}
	}
	if allEmpty {
		return nil, false
	}

	j := array{}
	for _, lane := range lanes {
		laneJSON := array{}
		for _, e := range lane {
			if e.V.Length == 0 {
				laneJSON = append(laneJSON, int64(e.Y))
			} else {
				laneJSON = append(laneJSON, array{int64(e.Y), int64(e.V.Length)})
			}
		}
		j = append(j, laneJSON)
	}
	return j, true
}

func noteJSON(note *chart.NoteInfo) object {
	j := object{}
	if lanes, ok := buttonLanesJSON(note.BT[:]); ok {
		j["bt"] = lanes
	}
	if lanes, ok := buttonLanesJSON(note.FX[:]); ok {
		j["fx"] = lanes
	}

	laserEmpty := true
	for _, lane := range note.Laser {
		if !lane.Empty() {
			laserEmpty = false
			break
		}
	}
	if !laserEmpty {
		lanes := array{}
		for _, lane := range note.Laser {
			laneJSON := array{}
			for _, e := range lane {
				if e.V.V.Empty() {
					continue
				}
				points := array{}
				for _, p := range e.V.V {
					points = append(points, graphPointJSON(p.Y, p.V))
				}
				if e.V.W == chart.LaserXScale1x {
					laneJSON = append(laneJSON, array{int64(e.Y), points})
				} else {
					laneJSON = append(laneJSON, array{int64(e.Y), points, int64(e.V.W)})
				}
			}
			lanes = append(lanes, laneJSON)
		}
		j["laser"] = lanes
	}
	return j
}

func defJSON(defs []chart.AudioEffectDefKVP) array {
	j := array{}
	for _, kvp := range defs {
		defObj := object{"type": kvp.V.Type.String()}
		put(defObj, "v", paramsJSON(kvp.V.V))
		j = append(j, array{kvp.Name, defObj})
	}
	return j
}

func paramChangeJSON(paramChange chart.Dict[chart.Dict[chart.ByPulse[string]]]) object {
	j := object{}
	for _, e := range paramChange {
		if e.V.Empty() {
			continue
		}
		params := object{}
		for _, p := range e.V {
			putByPulseStrings(params, p.Name, p.V)
		}
		put(j, e.Name, params)
	}
	return j
}

func pulseSetJSON(set chart.PulseSet) array {
	a := array{}
	for _, pulse := range set {
		a = append(a, int64(pulse))
	}
	return a
}

func audioJSON(audio *chart.AudioInfo) object {
	j := object{}

	bgm := object{}
	putString(bgm, "filename", audio.BGM.Filename, "")
	putFloat(bgm, "vol", audio.BGM.Vol, 1.0)
	putInt(bgm, "offset", audio.BGM.Offset, 0)
	preview := object{}
	preview["offset"] = int64(audio.BGM.Preview.Offset)
	preview["duration"] = int64(audio.BGM.Preview.Duration)
	put(bgm, "preview", preview)
	legacy := object{}
	if !audio.BGM.Legacy.Empty() {
		filenames := array{}
		for _, name := range audio.BGM.Legacy.ToStrArray() {
			filenames = append(filenames, name)
		}
		legacy["fp_filenames"] = filenames
	}
	put(bgm, "legacy", legacy)
	put(j, "bgm", bgm)

	keySound := object{}
	{
		fx := object{}
		chipEvent := object{}
		for _, e := range audio.KeySound.FX.ChipEvent {
			isEmpty := true
			for _, lane := range e.V {
				if !lane.Empty() {
					isEmpty = false
					break
				}
			}
			if isEmpty {
				continue
			}
			lanes := array{}
			for _, lane := range e.V {
				laneJSON := array{}
				for _, le := range lane {
					v := object{}
					putFloat(v, "vol", le.V.Vol, 1.0)
					if len(v) == 0 {
						laneJSON = append(laneJSON, int64(le.Y))
					} else {
						laneJSON = append(laneJSON, array{int64(le.Y), v})
					}
				}
				lanes = append(lanes, laneJSON)
			}
			chipEvent[e.Name] = lanes
		}
		put(fx, "chip_event", chipEvent)
		put(keySound, "fx", fx)

		laser := object{}
		putByPulseFloats(laser, "vol", audio.KeySound.Laser.Vol)
		slamEvent := object{}
		for _, e := range audio.KeySound.Laser.SlamEvent {
			if e.V.Empty() {
				continue
			}
			slamEvent[e.Name] = pulseSetJSON(e.V)
		}
		put(laser, "slam_event", slamEvent)
		laserLegacy := object{}
		putBool(laserLegacy, "vol_auto", audio.KeySound.Laser.Legacy.VolAuto, false)
		put(laser, "legacy", laserLegacy)
		put(keySound, "laser", laser)
	}
	put(j, "key_sound", keySound)

	audioEffect := object{}
	{
		fx := object{}
		if len(audio.AudioEffect.FX.Def) > 0 {
			fx["def"] = defJSON(audio.AudioEffect.FX.Def)
		}
		put(fx, "param_change", paramChangeJSON(audio.AudioEffect.FX.ParamChange))
		longEvent := object{}
		for _, e := range audio.AudioEffect.FX.LongEvent {
			isEmpty := true
			for _, lane := range e.V {
				if !lane.Empty() {
					isEmpty = false
					break
				}
			}
			if isEmpty {
				continue
			}
			lanes := array{}
			for _, lane := range e.V {
				laneJSON := array{}
				for _, le := range lane {
					params := paramsJSON(le.V)
					if len(params) == 0 {
						laneJSON = append(laneJSON, int64(le.Y))
					} else {
						laneJSON = append(laneJSON, array{int64(le.Y), params})
					}
				}
				lanes = append(lanes, laneJSON)
			}
			longEvent[e.Name] = lanes
		}
		put(fx, "long_event", longEvent)
		put(audioEffect, "fx", fx)

		laser := object{}
		if len(audio.AudioEffect.Laser.Def) > 0 {
			laser["def"] = defJSON(audio.AudioEffect.Laser.Def)
		}
		put(laser, "param_change", paramChangeJSON(audio.AudioEffect.Laser.ParamChange))
		pulseEvent := object{}
		for _, e := range audio.AudioEffect.Laser.PulseEvent {
			if e.V.Empty() {
				continue
			}
			pulseEvent[e.Name] = pulseSetJSON(e.V)
		}
		put(laser, "pulse_event", pulseEvent)
		putInt(laser, "peaking_filter_delay", audio.AudioEffect.Laser.PeakingFilterDelay, 0)
		laserLegacy := object{}
		putByPulseFloats(laserLegacy, "filter_gain", audio.AudioEffect.Laser.Legacy.FilterGain)
		put(laser, "legacy", laserLegacy)
		put(audioEffect, "laser", laser)
	}
	put(j, "audio_effect", audioEffect)

	return j
}

// tiltValueJSON renders the tilt encodings: [y, "name"], [y, v], [y, [v, vf]],
// [y, [v, [a, b]]] or [y, [[v, vf], [a, b]]]; vf may be an auto-tilt name.
func tiltValueJSON(y chart.Pulse, tv chart.TiltValue) array {
	if !tv.IsManual() {
		return array{int64(y), tv.Auto().String()}
	}

	point := tv.Point()
	hasCurve := !point.Curve.IsLinear()

	hasGraphValue := false
	var vfJSON any
	if point.V.VF.IsAuto() {
		hasGraphValue = true
		vfJSON = point.V.VF.Auto().String()
	} else if !chart.AlmostEquals(point.V.V, point.V.VF.Value()) {
		hasGraphValue = true
		vfJSON = float(point.V.VF.Value())
	}

	switch {
	case hasCurve && hasGraphValue:
		return array{int64(y), array{array{float(point.V.V), vfJSON}, curveJSON(point.Curve)}}
	case hasCurve:
		return array{int64(y), array{float(point.V.V), curveJSON(point.Curve)}}
	case hasGraphValue:
		return array{int64(y), array{float(point.V.V), vfJSON}}
	default:
		return array{int64(y), float(point.V.V)}
	}
}

func spinsJSON(spins chart.ByPulse[chart.CamPatternInvokeSpin]) array {
	a := array{}
	for _, e := range spins {
		a = append(a, array{int64(e.Y), int64(e.V.D), int64(e.V.Length)})
	}
	return a
}

func cameraJSON(camera *chart.CameraInfo) object {
	j := object{}

	if !camera.Tilt.Empty() {
		tilt := array{}
		for _, e := range camera.Tilt {
			tilt = append(tilt, tiltValueJSON(e.Y, e.V))
		}
		j["tilt"] = tilt
	}

	cam := object{}
	body := object{}
	putGraphWithDefault(body, "zoom_bottom", camera.Cam.Body.ZoomBottom, 0.0)
	putGraphWithDefault(body, "zoom_side", camera.Cam.Body.ZoomSide, 0.0)
	putGraphWithDefault(body, "zoom_top", camera.Cam.Body.ZoomTop, 0.0)
	putGraphWithDefault(body, "rotation_deg", camera.Cam.Body.RotationDeg, 0.0)
	putGraphWithDefault(body, "center_split", camera.Cam.Body.CenterSplit, 0.0)
	put(cam, "body", body)

	pattern := object{}
	laser := object{}
	slamEvent := object{}
	slam := &camera.Cam.Pattern.Laser.SlamEvent
	if !slam.Spin.Empty() {
		slamEvent["spin"] = spinsJSON(slam.Spin)
	}
	if !slam.HalfSpin.Empty() {
		slamEvent["half_spin"] = spinsJSON(slam.HalfSpin)
	}
	if !slam.Swing.Empty() {
		swings := array{}
		for _, e := range slam.Swing {
			v := object{}
			putFloat(v, "scale", e.V.V.Scale, 250.0)
			putInt(v, "repeat", e.V.V.Repeat, 1)
			putInt(v, "decay_order", e.V.V.DecayOrder, 0)
			if len(v) == 0 {
				swings = append(swings, array{int64(e.Y), int64(e.V.D), int64(e.V.Length)})
			} else {
				swings = append(swings, array{int64(e.Y), int64(e.V.D), int64(e.V.Length), v})
			}
		}
		slamEvent["swing"] = swings
	}
	put(laser, "slam_event", slamEvent)
	put(pattern, "laser", laser)
	put(cam, "pattern", pattern)
	put(j, "cam", cam)

	return j
}

func bgJSON(bg *chart.BGInfo) object {
	j := object{}
	putString(j, "filename", bg.Filename, "")

	legacy := object{}
	bgSlots := array{}
	if bg.Legacy.BG[0].Filename != "" {
		bgSlots = append(bgSlots, object{"filename": bg.Legacy.BG[0].Filename})
	}
	if bg.Legacy.BG[1].Filename != "" && bg.Legacy.BG[0].Filename != bg.Legacy.BG[1].Filename {
		bgSlots = append(bgSlots, object{"filename": bg.Legacy.BG[1].Filename})
	}
	if len(bgSlots) > 0 {
		legacy["bg"] = bgSlots
	}

	layer := object{}
	putString(layer, "filename", bg.Legacy.Layer.Filename, "")
	putInt(layer, "duration", bg.Legacy.Layer.Duration, 0)
	rotation := object{}
	putBool(rotation, "tilt", bg.Legacy.Layer.Rotation.Tilt, true)
	putBool(rotation, "spin", bg.Legacy.Layer.Rotation.Spin, true)
	put(layer, "rotation", rotation)
	put(legacy, "layer", layer)

	movie := object{}
	putString(movie, "filename", bg.Legacy.Movie.Filename, "")
	putInt(movie, "offset", bg.Legacy.Movie.Offset, 0)
	put(legacy, "movie", movie)

	put(j, "legacy", legacy)
	return j
}

func editorJSON(editor *chart.EditorInfo) object {
	j := object{}
	putString(j, "app_name", editor.AppName, "")
	putString(j, "app_version", editor.AppVersion, "")
	putByPulseMultiStrings(j, "comment", editor.Comment)
	return j
}

func compatJSON(compat *chart.CompatInfo) object {
	j := object{}
	putString(j, "ksh_version", compat.KshVersion, "")

	kshUnknown := object{}
	meta := object{}
	for _, e := range compat.KshUnknown.Meta {
		meta[e.Name] = e.V
	}
	put(kshUnknown, "meta", meta)
	option := object{}
	for _, e := range compat.KshUnknown.Option {
		putByPulseMultiStrings(option, e.Name, e.V)
	}
	put(kshUnknown, "option", option)
	putByPulseMultiStrings(kshUnknown, "line", compat.KshUnknown.Line)
	put(j, "ksh_unknown", kshUnknown)
	return j
}

// Save writes the chart as KSON JSON. The output is deterministic: object
// keys are emitted sorted and floats are canonicalized, so saving the same
// chart twice yields identical bytes.
func Save(w io.Writer, c *chart.ChartData) error {
	root := object{}
	root["format_version"] = int64(FormatVersion)
	put(root, "meta", metaJSON(&c.Meta))
	put(root, "beat", beatJSON(&c.Beat))
	put(root, "gauge", gaugeJSON(&c.Gauge))
	put(root, "note", noteJSON(&c.Note))
	put(root, "audio", audioJSON(&c.Audio))
	put(root, "camera", cameraJSON(&c.Camera))
	put(root, "bg", bgJSON(&c.BG))
	put(root, "editor", editorJSON(&c.Editor))
	put(root, "compat", compatJSON(&c.Compat))
	if c.Impl != nil {
		put(root, "impl", c.Impl)
	}

	data, err := json.Marshal(root)
	if err != nil {
		return chart.ErrorUnknown
	}
	if _, err := w.Write(data); err != nil {
		return chart.ErrorGeneralIO
	}
	return nil
}
