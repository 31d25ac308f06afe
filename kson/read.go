package kson

import (
	stdjson "encoding/json"
	"io"

	"github.com/kshootmania/kson-go/chart"
)

func asObject(v any) (object, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}

func asArray(v any) (array, bool) {
	a, ok := v.([]any)
	return a, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case stdjson.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case stdjson.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
		return 0, false
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func isInteger(v any) bool {
	switch n := v.(type) {
	case stdjson.Number:
		_, err := n.Int64()
		return err == nil
	case float64:
		return n == float64(int64(n))
	default:
		return false
	}
}

func getString(obj object, key, defaultValue string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return defaultValue
}

func getFloat(obj object, key string, defaultValue float64) float64 {
	if f, ok := asFloat(obj[key]); ok {
		return f
	}
	return defaultValue
}

func getInt(obj object, key string, defaultValue int64) int64 {
	if i, ok := asInt(obj[key]); ok {
		return i
	}
	return defaultValue
}

func getBool(obj object, key string, defaultValue bool) bool {
	if b, ok := obj[key].(bool); ok {
		return b
	}
	return defaultValue
}

func parseGraphValue(v any, c *chart.ChartData) chart.GraphValue {
	if f, ok := asFloat(v); ok {
		return chart.NewGraphValue(f)
	}
	if a, ok := asArray(v); ok && len(a) >= 2 {
		v1, ok1 := asFloat(a[0])
		v2, ok2 := asFloat(a[1])
		if ok1 && ok2 {
			return chart.GraphValue{V: v1, VF: v2}
		}
	}
	c.Warn("Invalid graph value format")
	return chart.NewGraphValue(0.0)
}

func parseCurve(v any) chart.GraphCurve {
	if a, ok := asArray(v); ok && len(a) >= 2 {
		curveA, ok1 := asFloat(a[0])
		curveB, ok2 := asFloat(a[1])
		if ok1 && ok2 {
			return chart.GraphCurve{A: curveA, B: curveB}
		}
	}
	return chart.GraphCurve{}
}

// parseGraphPointItem reads item[valueIdx] as the value and item[curveIdx]
// as the optional curve.
func parseGraphPointItem(item array, valueIdx, curveIdx int, c *chart.ChartData) chart.GraphPoint {
	point := chart.GraphPoint{}
	if len(item) > valueIdx {
		point.V = parseGraphValue(item[valueIdx], c)
	}
	if len(item) > curveIdx {
		point.Curve = parseCurve(item[curveIdx])
	}
	return point
}

func parseGraph(v any, c *chart.ChartData) chart.Graph {
	var graph chart.Graph
	a, ok := asArray(v)
	if !ok {
		return graph
	}
	for _, itemAny := range a {
		item, isArray := asArray(itemAny)
		if !isArray || len(item) < 2 {
			c.Warn("Invalid graph entry format")
			continue
		}
		pulse, isPulse := asInt(item[0])
		if !isPulse {
			c.Warn("Invalid graph entry format")
			continue
		}
		graph.Set(chart.Pulse(pulse), parseGraphPointItem(item, 1, 2, c))
	}
	return graph
}

func parseByPulseFloats(v any, c *chart.ChartData) chart.ByPulse[float64] {
	var m chart.ByPulse[float64]
	a, ok := asArray(v)
	if !ok {
		return m
	}
	for _, itemAny := range a {
		item, isArray := asArray(itemAny)
		if !isArray || len(item) < 2 {
			c.Warn("Invalid ByPulse entry format")
			continue
		}
		pulse, okP := asInt(item[0])
		value, okV := asFloat(item[1])
		if !okP || !okV {
			c.Warn("Invalid ByPulse entry format")
			continue
		}
		m.Set(chart.Pulse(pulse), value)
	}
	return m
}

func parseByPulseInts(v any, c *chart.ChartData) chart.ByPulse[chart.RelPulse] {
	var m chart.ByPulse[chart.RelPulse]
	a, ok := asArray(v)
	if !ok {
		return m
	}
	for _, itemAny := range a {
		item, isArray := asArray(itemAny)
		if !isArray || len(item) < 2 {
			c.Warn("Invalid ByPulse entry format")
			continue
		}
		pulse, okP := asInt(item[0])
		value, okV := asInt(item[1])
		if !okP || !okV {
			c.Warn("Invalid ByPulse entry format")
			continue
		}
		m.Set(chart.Pulse(pulse), chart.RelPulse(value))
	}
	return m
}

func parseByPulseStrings(v any, c *chart.ChartData) chart.ByPulse[string] {
	var m chart.ByPulse[string]
	a, ok := asArray(v)
	if !ok {
		return m
	}
	for _, itemAny := range a {
		item, isArray := asArray(itemAny)
		if !isArray || len(item) < 2 {
			c.Warn("Invalid ByPulse entry format")
			continue
		}
		pulse, okP := asInt(item[0])
		value, okV := item[1].(string)
		if !okP || !okV {
			c.Warn("Invalid ByPulse entry format")
			continue
		}
		m.Set(chart.Pulse(pulse), value)
	}
	return m
}

func parseByPulseMultiStrings(v any, c *chart.ChartData) chart.ByPulseMulti[string] {
	var m chart.ByPulseMulti[string]
	a, ok := asArray(v)
	if !ok {
		return m
	}
	for _, itemAny := range a {
		item, isArray := asArray(itemAny)
		if !isArray || len(item) < 2 {
			c.Warn("Invalid ByPulse entry format")
			continue
		}
		pulse, okP := asInt(item[0])
		value, okV := item[1].(string)
		if !okP || !okV {
			c.Warn("Invalid ByPulse entry format")
			continue
		}
		m.Add(chart.Pulse(pulse), value)
	}
	return m
}

func parsePulseSet(v any) chart.PulseSet {
	var set chart.PulseSet
	a, ok := asArray(v)
	if !ok {
		return set
	}
	for _, itemAny := range a {
		if pulse, okP := asInt(itemAny); okP {
			set.Add(chart.Pulse(pulse))
		}
	}
	return set
}

func parseMeta(j object, c *chart.ChartData) chart.MetaInfo {
	meta := chart.MetaInfo{}
	meta.Title = getString(j, "title", "")
	meta.TitleTranslit = getString(j, "title_translit", "")
	meta.TitleImgFilename = getString(j, "title_img_filename", "")
	meta.Artist = getString(j, "artist", "")
	meta.ArtistTranslit = getString(j, "artist_translit", "")
	meta.ArtistImgFilename = getString(j, "artist_img_filename", "")
	meta.ChartAuthor = getString(j, "chart_author", "")
	switch diff := j["difficulty"].(type) {
	case string:
		// String difficulties are always recognized as infinite
		meta.Difficulty.Idx = 3
		meta.Difficulty.Name = diff
	default:
		if idx, ok := asInt(diff); ok {
			meta.Difficulty.Idx = int32(idx)
		}
	}
	meta.Level = int32(getInt(j, "level", 1))
	meta.DispBPM = getString(j, "disp_bpm", "")
	meta.StdBPM = getFloat(j, "std_bpm", 0.0)
	meta.JacketFilename = getString(j, "jacket_filename", "")
	meta.JacketAuthor = getString(j, "jacket_author", "")
	meta.IconFilename = getString(j, "icon_filename", "")
	meta.Information = getString(j, "information", "")
	return meta
}

func parseBeat(j object, c *chart.ChartData) chart.BeatInfo {
	beat := chart.BeatInfo{}

	beat.BPM = parseByPulseFloats(j["bpm"], c)

	if timeSigs, ok := asArray(j["time_sig"]); ok {
		for _, itemAny := range timeSigs {
			item, isArray := asArray(itemAny)
			if !isArray || len(item) < 2 {
				c.Warn("Invalid ByMeasureIdx entry format")
				continue
			}
			idx, okIdx := asInt(item[0])
			ts, okTS := asArray(item[1])
			if !okIdx || !okTS || len(ts) < 2 {
				c.Warn("Invalid ByMeasureIdx entry format")
				continue
			}
			n, okN := asInt(ts[0])
			d, okD := asInt(ts[1])
			if !okN || !okD {
				c.Warn("Invalid ByMeasureIdx entry format")
				continue
			}
			beat.TimeSig.Set(chart.Pulse(idx), chart.TimeSig{N: int32(n), D: int32(d)})
		}
	}

	if _, ok := j["scroll_speed"]; ok {
		beat.ScrollSpeed = parseGraph(j["scroll_speed"], c)
	} else {
		// Default value [[0, 1.0]]
		beat.ScrollSpeed.Set(0, chart.NewGraphPoint(1.0))
	}

	beat.Stop = parseByPulseInts(j["stop"], c)

	return beat
}

func parseButtonLane(v any, lane *chart.ByPulse[chart.Interval], c *chart.ChartData) {
	a, ok := asArray(v)
	if !ok {
		return
	}
	for _, itemAny := range a {
		if item, isArray := asArray(itemAny); isArray {
			if len(item) < 2 {
				c.Warn("Invalid note entry format")
				continue
			}
			pulse, okP := asInt(item[0])
			length, okL := asInt(item[1])
			if !okP || !okL {
				c.Warn("Invalid note entry format")
				continue
			}
			lane.Set(chart.Pulse(pulse), chart.Interval{Length: chart.RelPulse(length)})
			continue
		}
		if pulse, okP := asInt(itemAny); okP {
			// Compact form: a bare pulse is a chip note
			lane.Set(chart.Pulse(pulse), chart.Interval{Length: 0})
			continue
		}
		c.Warn("Invalid note entry format")
	}
}

func parseLaserLane(v any, lane *chart.ByPulse[chart.LaserSection], c *chart.ChartData) {
	a, ok := asArray(v)
	if !ok {
		return
	}
	for _, itemAny := range a {
		item, isArray := asArray(itemAny)
		if !isArray || len(item) < 2 {
			c.Warn("Invalid laser section format")
			continue
		}
		pulse, okP := asInt(item[0])
		if !okP {
			c.Warn("Invalid laser section format")
			continue
		}

		section := chart.LaserSection{W: chart.LaserXScale1x}
		if points, okPoints := asArray(item[1]); okPoints {
			for _, pointAny := range points {
				point, okPoint := asArray(pointAny)
				if !okPoint || len(point) < 2 {
					continue
				}
				ry, okRy := asInt(point[0])
				if !okRy {
					continue
				}
				section.V.Set(chart.RelPulse(ry), parseGraphPointItem(point, 1, 2, c))
			}
		}
		if len(item) >= 3 {
			if w, okW := asInt(item[2]); okW {
				section.W = int32(w)
			}
		}
		lane.Set(chart.Pulse(pulse), section)
	}
}

func parseNote(j object, c *chart.ChartData) chart.NoteInfo {
	note := chart.NoteInfo{}
	if lanes, ok := asArray(j["bt"]); ok {
		for i := 0; i < len(lanes) && i < chart.NumBTLanes; i++ {
			parseButtonLane(lanes[i], &note.BT[i], c)
		}
	}
	if lanes, ok := asArray(j["fx"]); ok {
		for i := 0; i < len(lanes) && i < chart.NumFXLanes; i++ {
			parseButtonLane(lanes[i], &note.FX[i], c)
		}
	}
	if lanes, ok := asArray(j["laser"]); ok {
		for i := 0; i < len(lanes) && i < chart.NumLaserLanes; i++ {
			parseLaserLane(lanes[i], &note.Laser[i], c)
		}
	}
	return note
}

func parseParams(v any) chart.AudioEffectParams {
	var params chart.AudioEffectParams
	if obj, ok := asObject(v); ok {
		for key, value := range obj {
			if s, isString := value.(string); isString {
				params.Set(key, s)
			}
		}
	}
	return params
}

func parseDefs(v any) []chart.AudioEffectDefKVP {
	var defs []chart.AudioEffectDefKVP
	a, ok := asArray(v)
	if !ok {
		return defs
	}
	for _, itemAny := range a {
		item, isArray := asArray(itemAny)
		if !isArray || len(item) < 2 {
			continue
		}
		name, okName := item[0].(string)
		defObj, okDef := asObject(item[1])
		if !okName || !okDef {
			continue
		}
		def := chart.AudioEffectDef{}
		if typeStr, okType := defObj["type"].(string); okType {
			def.Type = chart.ParseAudioEffectType(typeStr)
		}
		def.V = parseParams(defObj["v"])
		defs = append(defs, chart.AudioEffectDefKVP{Name: name, V: def})
	}
	return defs
}

func parseParamChange(v any, c *chart.ChartData) chart.Dict[chart.Dict[chart.ByPulse[string]]] {
	var paramChange chart.Dict[chart.Dict[chart.ByPulse[string]]]
	obj, ok := asObject(v)
	if !ok {
		return paramChange
	}
	for effectName, paramsAny := range obj {
		params, okParams := asObject(paramsAny)
		if !okParams {
			continue
		}
		var paramDict chart.Dict[chart.ByPulse[string]]
		for paramName, valuesAny := range params {
			if _, isArray := asArray(valuesAny); isArray {
				paramDict.Set(paramName, parseByPulseStrings(valuesAny, c))
			}
		}
		paramChange.Set(effectName, paramDict)
	}
	return paramChange
}

func parseAudio(j object, c *chart.ChartData) chart.AudioInfo {
	audio := chart.AudioInfo{BGM: chart.BGMInfo{Vol: 1.0}}

	if bgm, ok := asObject(j["bgm"]); ok {
		audio.BGM.Filename = getString(bgm, "filename", "")
		audio.BGM.Vol = getFloat(bgm, "vol", 1.0)
		audio.BGM.Offset = int32(getInt(bgm, "offset", 0))
		if preview, okPreview := asObject(bgm["preview"]); okPreview {
			audio.BGM.Preview.Offset = int32(getInt(preview, "offset", 0))
			audio.BGM.Preview.Duration = int32(getInt(preview, "duration", 15000))
		}
		if legacy, okLegacy := asObject(bgm["legacy"]); okLegacy {
			if fp, okFP := asArray(legacy["fp_filenames"]); okFP {
				if len(fp) >= 1 {
					audio.BGM.Legacy.FilenameF, _ = fp[0].(string)
				}
				if len(fp) >= 2 {
					audio.BGM.Legacy.FilenameP, _ = fp[1].(string)
				}
				if len(fp) >= 3 {
					audio.BGM.Legacy.FilenameFP, _ = fp[2].(string)
				}
			}
		}
	}

	if keySound, ok := asObject(j["key_sound"]); ok {
		if fx, okFX := asObject(keySound["fx"]); okFX {
			if chipEvent, okChip := asObject(fx["chip_event"]); okChip {
				for soundName, lanesAny := range chipEvent {
					lanes, okLanes := asArray(lanesAny)
					if !okLanes {
						continue
					}
					var fxLanes chart.FXLane[chart.KeySoundInvokeFX]
					for i := 0; i < len(lanes) && i < chart.NumFXLanes; i++ {
						events, okEvents := asArray(lanes[i])
						if !okEvents {
							continue
						}
						for _, eventAny := range events {
							if event, isArray := asArray(eventAny); isArray && len(event) >= 2 {
								pulse, okP := asInt(event[0])
								if !okP {
									continue
								}
								invoke := chart.KeySoundInvokeFX{Vol: 1.0}
								if v, okV := asObject(event[1]); okV {
									invoke.Vol = getFloat(v, "vol", 1.0)
								}
								fxLanes[i].Set(chart.Pulse(pulse), invoke)
							} else if pulse, okP := asInt(eventAny); okP {
								fxLanes[i].Set(chart.Pulse(pulse), chart.KeySoundInvokeFX{Vol: 1.0})
							}
						}
					}
					audio.KeySound.FX.ChipEvent.Set(soundName, fxLanes)
				}
			}
		}
		if laser, okLaser := asObject(keySound["laser"]); okLaser {
			audio.KeySound.Laser.Vol = parseByPulseFloats(laser["vol"], c)
			if slamEvent, okSlam := asObject(laser["slam_event"]); okSlam {
				for eventName, pulsesAny := range slamEvent {
					if _, isArray := asArray(pulsesAny); isArray {
						audio.KeySound.Laser.SlamEvent.Set(eventName, parsePulseSet(pulsesAny))
					}
				}
			}
			if legacy, okLegacy := asObject(laser["legacy"]); okLegacy {
				audio.KeySound.Laser.Legacy.VolAuto = getBool(legacy, "vol_auto", false)
			}
		}
	}

	if audioEffect, ok := asObject(j["audio_effect"]); ok {
		if fx, okFX := asObject(audioEffect["fx"]); okFX {
			audio.AudioEffect.FX.Def = parseDefs(fx["def"])
			audio.AudioEffect.FX.ParamChange = parseParamChange(fx["param_change"], c)
			if longEvent, okLong := asObject(fx["long_event"]); okLong {
				for effectName, lanesAny := range longEvent {
					lanes, okLanes := asArray(lanesAny)
					if !okLanes {
						continue
					}
					var fxLanes chart.FXLane[chart.AudioEffectParams]
					for i := 0; i < len(lanes) && i < chart.NumFXLanes; i++ {
						events, okEvents := asArray(lanes[i])
						if !okEvents {
							continue
						}
						for _, eventAny := range events {
							if event, isArray := asArray(eventAny); isArray && len(event) >= 2 {
								pulse, okP := asInt(event[0])
								if !okP {
									continue
								}
								fxLanes[i].Set(chart.Pulse(pulse), parseParams(event[1]))
							} else if pulse, okP := asInt(eventAny); okP {
								fxLanes[i].Set(chart.Pulse(pulse), nil)
							}
						}
					}
					audio.AudioEffect.FX.LongEvent.Set(effectName, fxLanes)
				}
			}
		}
		if laser, okLaser := asObject(audioEffect["laser"]); okLaser {
			audio.AudioEffect.Laser.Def = parseDefs(laser["def"])
			audio.AudioEffect.Laser.ParamChange = parseParamChange(laser["param_change"], c)
			if pulseEvent, okPulse := asObject(laser["pulse_event"]); okPulse {
				for effectName, pulsesAny := range pulseEvent {
					if _, isArray := asArray(pulsesAny); isArray {
						audio.AudioEffect.Laser.PulseEvent.Set(effectName, parsePulseSet(pulsesAny))
					}
				}
			}
			audio.AudioEffect.Laser.PeakingFilterDelay = int32(getInt(laser, "peaking_filter_delay", 0))
			if legacy, okLegacy := asObject(laser["legacy"]); okLegacy {
				audio.AudioEffect.Laser.Legacy.FilterGain = parseByPulseFloats(legacy["filter_gain"], c)
			}
		}
	}

	return audio
}

func parseTiltValue(item array, c *chart.ChartData) (chart.TiltValue, bool) {
	value := item[1]

	if name, ok := value.(string); ok {
		return chart.AutoTilt(chart.ParseAutoTiltType(name)), true
	}
	if v, ok := asFloat(value); ok {
		return chart.ManualTilt(chart.TiltGraphPoint{V: chart.NewTiltGraphValue(v)}), true
	}

	inner, ok := asArray(value)
	if !ok || len(inner) != 2 {
		return chart.TiltValue{}, false
	}

	if first, isArray := asArray(inner[0]); isArray {
		// [[v, vf], [a, b]]: immediate change with curve
		if len(first) < 2 {
			return chart.TiltValue{}, false
		}
		v, okV := asFloat(first[0])
		if !okV {
			return chart.TiltValue{}, false
		}
		var vf chart.TiltVF
		if name, isName := first[1].(string); isName {
			vf = chart.AutoTiltVF(chart.ParseAutoTiltType(name))
		} else if vfNum, okVF := asFloat(first[1]); okVF {
			vf = chart.NumberTiltVF(vfNum)
		} else {
			return chart.TiltValue{}, false
		}
		return chart.ManualTilt(chart.TiltGraphPoint{
			V:     chart.TiltGraphValue{V: v, VF: vf},
			Curve: parseCurve(inner[1]),
		}), true
	}

	if _, isArray := asArray(inner[1]); isArray {
		// [v, [a, b]]: single value with curve
		v, okV := asFloat(inner[0])
		if !okV {
			return chart.TiltValue{}, false
		}
		return chart.ManualTilt(chart.TiltGraphPoint{
			V:     chart.NewTiltGraphValue(v),
			Curve: parseCurve(inner[1]),
		}), true
	}

	// [v, vf] without curve; vf may be an auto-tilt name
	v, okV := asFloat(inner[0])
	if !okV {
		return chart.TiltValue{}, false
	}
	if name, isName := inner[1].(string); isName {
		return chart.ManualTilt(chart.TiltGraphPoint{
			V: chart.TiltGraphValue{V: v, VF: chart.AutoTiltVF(chart.ParseAutoTiltType(name))},
		}), true
	}
	vf, okVF := asFloat(inner[1])
	if !okVF {
		return chart.TiltValue{}, false
	}
	return chart.ManualTilt(chart.TiltGraphPoint{
		V: chart.TiltGraphValue{V: v, VF: chart.NumberTiltVF(vf)},
	}), true
}

func parseSpins(v any) chart.ByPulse[chart.CamPatternInvokeSpin] {
	var spins chart.ByPulse[chart.CamPatternInvokeSpin]
	a, ok := asArray(v)
	if !ok {
		return spins
	}
	for _, itemAny := range a {
		item, isArray := asArray(itemAny)
		if !isArray || len(item) < 3 {
			continue
		}
		y, okY := asInt(item[0])
		d, okD := asInt(item[1])
		length, okL := asInt(item[2])
		if okY && okD && okL {
			spins.Set(chart.Pulse(y), chart.CamPatternInvokeSpin{D: int32(d), Length: chart.RelPulse(length)})
		}
	}
	return spins
}

func parseCamera(j object, c *chart.ChartData) chart.CameraInfo {
	camera := chart.CameraInfo{}

	if tilt, ok := asArray(j["tilt"]); ok {
		for _, itemAny := range tilt {
			item, isArray := asArray(itemAny)
			if !isArray || len(item) < 2 {
				continue
			}
			pulse, okP := asInt(item[0])
			if !okP {
				continue
			}
			if value, okV := parseTiltValue(item, c); okV {
				camera.Tilt.Set(chart.Pulse(pulse), value)
			}
		}
	}

	if cam, ok := asObject(j["cam"]); ok {
		if body, okBody := asObject(cam["body"]); okBody {
			camera.Cam.Body.ZoomBottom = parseGraph(body["zoom_bottom"], c)
			camera.Cam.Body.ZoomSide = parseGraph(body["zoom_side"], c)
			camera.Cam.Body.ZoomTop = parseGraph(body["zoom_top"], c)
			camera.Cam.Body.RotationDeg = parseGraph(body["rotation_deg"], c)
			camera.Cam.Body.CenterSplit = parseGraph(body["center_split"], c)
		}
		if pattern, okPattern := asObject(cam["pattern"]); okPattern {
			if laser, okLaser := asObject(pattern["laser"]); okLaser {
				if slamEvent, okSlam := asObject(laser["slam_event"]); okSlam {
					camera.Cam.Pattern.Laser.SlamEvent.Spin = parseSpins(slamEvent["spin"])
					camera.Cam.Pattern.Laser.SlamEvent.HalfSpin = parseSpins(slamEvent["half_spin"])
					if swings, okSwings := asArray(slamEvent["swing"]); okSwings {
						for _, itemAny := range swings {
							item, isArray := asArray(itemAny)
							if !isArray || len(item) < 3 {
								continue
							}
							y, okY := asInt(item[0])
							d, okD := asInt(item[1])
							length, okL := asInt(item[2])
							if !okY || !okD || !okL {
								continue
							}
							swing := chart.CamPatternInvokeSwing{
								D:      int32(d),
								Length: chart.RelPulse(length),
								V:      chart.CamPatternInvokeSwingValue{Scale: 250.0, Repeat: 1, DecayOrder: 0},
							}
							if len(item) >= 4 {
								if v, okV := asObject(item[3]); okV {
									swing.V.Scale = getFloat(v, "scale", 250.0)
									swing.V.Repeat = int32(getInt(v, "repeat", 1))
									swing.V.DecayOrder = int32(getInt(v, "decay_order", 0))
								}
							}
							camera.Cam.Pattern.Laser.SlamEvent.Swing.Set(chart.Pulse(y), swing)
						}
					}
				}
			}
		}
	}

	return camera
}

func parseBG(j object, c *chart.ChartData) chart.BGInfo {
	bg := chart.BGInfo{}
	bg.Filename = getString(j, "filename", "")

	if legacy, ok := asObject(j["legacy"]); ok {
		if bgArray, okBG := asArray(legacy["bg"]); okBG {
			for i := 0; i < len(bgArray) && i < 2; i++ {
				if slot, okSlot := asObject(bgArray[i]); okSlot {
					bg.Legacy.BG[i].Filename = getString(slot, "filename", "")
				}
			}
		}
		if layer, okLayer := asObject(legacy["layer"]); okLayer {
			bg.Legacy.Layer.Filename = getString(layer, "filename", "")
			bg.Legacy.Layer.Duration = int32(getInt(layer, "duration", 0))
			bg.Legacy.Layer.Rotation = chart.KshLayerRotationInfo{Tilt: true, Spin: true}
			if rotation, okRot := asObject(layer["rotation"]); okRot {
				bg.Legacy.Layer.Rotation.Tilt = getBool(rotation, "tilt", true)
				bg.Legacy.Layer.Rotation.Spin = getBool(rotation, "spin", true)
			}
		}
		if movie, okMovie := asObject(legacy["movie"]); okMovie {
			bg.Legacy.Movie.Filename = getString(movie, "filename", "")
			bg.Legacy.Movie.Offset = int32(getInt(movie, "offset", 0))
		}
	}
	return bg
}

func parseEditor(j object, c *chart.ChartData) chart.EditorInfo {
	editor := chart.EditorInfo{}
	editor.AppName = getString(j, "app_name", "")
	editor.AppVersion = getString(j, "app_version", "")
	editor.Comment = parseByPulseMultiStrings(j["comment"], c)
	return editor
}

func parseCompat(j object, c *chart.ChartData) chart.CompatInfo {
	compat := chart.CompatInfo{}
	compat.KshVersion = getString(j, "ksh_version", "")

	if unknown, ok := asObject(j["ksh_unknown"]); ok {
		if meta, okMeta := asObject(unknown["meta"]); okMeta {
			for key, value := range meta {
				if s, isString := value.(string); isString {
					compat.KshUnknown.Meta.Set(key, s)
				}
			}
		}
		if option, okOption := asObject(unknown["option"]); okOption {
			for key, values := range option {
				if _, isArray := asArray(values); isArray {
					compat.KshUnknown.Option.Set(key, parseByPulseMultiStrings(values, c))
				}
			}
		}
		compat.KshUnknown.Line = parseByPulseMultiStrings(unknown["line"], c)
	}
	return compat
}

func decodeRoot(r io.Reader) (object, string) {
	decoder := json.NewDecoder(r)
	decoder.UseNumber()
	var rootAny any
	if err := decoder.Decode(&rootAny); err != nil {
		return nil, "JSON parse error: " + err.Error()
	}
	root, ok := asObject(rootAny)
	if !ok {
		return nil, "JSON type error: top level must be an object"
	}
	return root, ""
}

func checkFormatVersion(root object, warn func(string)) bool {
	versionAny, ok := root["format_version"]
	if !ok {
		warn("Missing required field: format_version")
		return false
	}
	if !isInteger(versionAny) {
		warn("Invalid format_version: must be an integer")
		return false
	}
	return true
}

// Load parses a KSON stream. It never returns a Go error; parse failures
// set the Error field and malformed entries are skipped with a warning.
func Load(r io.Reader) *chart.ChartData {
	c := &chart.ChartData{}

	root, parseErr := decodeRoot(r)
	if parseErr != "" {
		c.Error = chart.ErrorKSONParse
		c.Warn(parseErr)
		return c
	}
	if !checkFormatVersion(root, c.Warn) {
		c.Error = chart.ErrorKSONParse
		return c
	}

	if meta, ok := asObject(root["meta"]); ok {
		c.Meta = parseMeta(meta, c)
	}
	if beat, ok := asObject(root["beat"]); ok {
		c.Beat = parseBeat(beat, c)
	}
	if gauge, ok := asObject(root["gauge"]); ok {
		c.Gauge.Total = int32(getInt(gauge, "total", 0))
	}
	if note, ok := asObject(root["note"]); ok {
		c.Note = parseNote(note, c)
	}
	if audio, ok := asObject(root["audio"]); ok {
		c.Audio = parseAudio(audio, c)
	} else {
		c.Audio.BGM.Vol = 1.0
	}
	if camera, ok := asObject(root["camera"]); ok {
		c.Camera = parseCamera(camera, c)
	}
	if bg, ok := asObject(root["bg"]); ok {
		c.BG = parseBG(bg, c)
	}
	if editor, ok := asObject(root["editor"]); ok {
		c.Editor = parseEditor(editor, c)
	}
	if compat, ok := asObject(root["compat"]); ok {
		c.Compat = parseCompat(compat, c)
	}
	if impl, ok := root["impl"]; ok {
		c.Impl = impl
	}

	// Required timing entries are patched rather than rejected
	if c.Beat.BPM.Empty() {
		c.Beat.BPM.Set(0, 120.0)
		c.Warn("beat.bpm is empty; inserting default 120 BPM at pulse 0")
	}
	if !c.Beat.TimeSig.Contains(0) {
		c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
		c.Warn("beat.time_sig is missing measure 0; inserting default 4/4")
	}
	if c.Beat.ScrollSpeed.Empty() {
		c.Beat.ScrollSpeed.Set(0, chart.NewGraphPoint(1.0))
	}

	return c
}

// LoadMeta parses only the metadata subset of a KSON stream.
func LoadMeta(r io.Reader) *chart.MetaChartData {
	c := &chart.MetaChartData{}

	root, parseErr := decodeRoot(r)
	if parseErr != "" {
		c.Error = chart.ErrorKSONParse
		c.Warn(parseErr)
		return c
	}
	if !checkFormatVersion(root, c.Warn) {
		c.Error = chart.ErrorKSONParse
		return c
	}

	full := &chart.ChartData{}
	if meta, ok := asObject(root["meta"]); ok {
		c.Meta = parseMeta(meta, full)
	}
	c.Audio.BGM.Vol = 1.0
	if audio, ok := asObject(root["audio"]); ok {
		if bgm, okBGM := asObject(audio["bgm"]); okBGM {
			c.Audio.BGM.Filename = getString(bgm, "filename", "")
			c.Audio.BGM.Vol = getFloat(bgm, "vol", 1.0)
			c.Audio.BGM.Offset = int32(getInt(bgm, "offset", 0))
			if preview, okPreview := asObject(bgm["preview"]); okPreview {
				c.Audio.BGM.Preview.Offset = int32(getInt(preview, "offset", 0))
				c.Audio.BGM.Preview.Duration = int32(getInt(preview, "duration", 15000))
			}
		}
	}
	if compat, ok := asObject(root["compat"]); ok {
		c.Compat.KshVersion = getString(compat, "ksh_version", "")
	}
	c.Warnings = append(c.Warnings, full.Warnings...)

	return c
}
