package ksh

import (
	"math"

	"github.com/kshootmania/kson-go/chart"
)

const (
	optionSeparator      = '='
	blockSeparator       = '|'
	measureSeparator     = "--"
	audioEffectSeparator = ';'
)

// KSH files use 192 pulses per 4/4 measure for stop=, @ and S length fields.
const kshResolution4 chart.Pulse = 192

const laserXMax = 50

// Value limits. Zoom limits changed at v1.67, the BPM limit was added at
// v1.30, the FX annotation format changed at v1.60, the layer delimiter at
// v1.66 and the manual tilt scale at v1.70.
const (
	zoomAbsMaxLegacy  = 300.0
	zoomAbsMax        = 65535.0
	zoomMaxCharLegacy = 4
	centerSplitAbsMax = 65535.0
	manualTiltAbsMax  = 1000.0
	rotationDegAbsMax = 65535.0
	bpmMax            = 65535.0

	verBPMLimitAdded          = 130
	verFXFormatChanged        = 160
	verLayerDelimiterChanged  = 166
	verZoomLimitChanged       = 167
	verManualTiltScaleChanged = 170
)

const (
	rotationFlagTilt = 1 << 0
	rotationFlagSpin = 1 << 1
)

// Sentinel for an unspecified legacy FX parameter, kept as a string while
// the effect type is still unknown.
const audioEffectParamUnspecified = "-99999"

// Legacy single-character FX notes (pre v1.60) and the audio effect strings
// they stand for.
func legacyFXCharToAudioEffectStr(c byte) string {
	switch c {
	case 'S':
		return "Retrigger;8"
	case 'V':
		return "Retrigger;12"
	case 'T':
		return "Retrigger;16"
	case 'W':
		return "Retrigger;24"
	case 'U':
		return "Retrigger;32"
	case 'G':
		return "Gate;4"
	case 'H':
		return "Gate;8"
	case 'K':
		return "Gate;12"
	case 'I':
		return "Gate;16"
	case 'L':
		return "Gate;24"
	case 'J':
		return "Gate;32"
	case 'F':
		return "Flanger"
	case 'P':
		return "PitchShift;12"
	case 'B':
		return "BitCrusher;5"
	case 'Q':
		return "Phaser"
	case 'X':
		return "Wobble;12"
	case 'A':
		return "TapeStop"
	case 'D':
		return "SideChain"
	default:
		return ""
	}
}

// KSH FX effect names to KSON names.
var kshFXToKSONAudioEffectName = map[string]string{
	"Retrigger":  "retrigger",
	"Gate":       "gate",
	"Flanger":    "flanger",
	"PitchShift": "pitch_shift",
	"BitCrusher": "bitcrusher",
	"Phaser":     "phaser",
	"Wobble":     "wobble",
	"TapeStop":   "tapestop",
	"Echo":       "echo",
	"SideChain":  "sidechain",
}

// KSH filter names to KSON names.
var kshFilterToKSONAudioEffectName = map[string]string{
	"peak":    "peaking_filter",
	"hpf1":    "high_pass_filter",
	"lpf1":    "low_pass_filter",
	"bitc":    "bitcrusher",
	"fx":      "fx",
	"fx;bitc": "fx;bitcrusher",
}

// KSH type= values of #define_fx / #define_filter.
var kshAudioEffectTypes = map[string]chart.AudioEffectType{
	"Retrigger":   chart.AudioEffectRetrigger,
	"Gate":        chart.AudioEffectGate,
	"Flanger":     chart.AudioEffectFlanger,
	"PitchShift":  chart.AudioEffectPitchShift,
	"BitCrusher":  chart.AudioEffectBitcrusher,
	"Phaser":      chart.AudioEffectPhaser,
	"Wobble":      chart.AudioEffectWobble,
	"TapeStop":    chart.AudioEffectTapestop,
	"Echo":        chart.AudioEffectEcho,
	"SideChain":   chart.AudioEffectSidechain,
	"SwitchAudio": chart.AudioEffectSwitchAudio,

	"HighPassFilter": chart.AudioEffectHighPassFilter,
	"LowPassFilter":  chart.AudioEffectLowPassFilter,
	"PeakingFilter":  chart.AudioEffectPeakingFilter,
}

// KSH parameter names to KSON names. Names missing here are dropped.
var kshToKSONParamName = map[string]string{
	"attackTime":    "attack_time",
	"bandwidth":     "bandwidth",
	"chunkSize":     "chunk_size",
	"delay":         "delay",
	"depth":         "depth",
	"feedback":      "feedback",
	"feedbackLevel": "feedback_level",
	"fileName":      "filename",
	"freq":          "freq",
	"freqMax":       "freq_max",
	"gain":          "gain",
	"hiCutGain":     "hi_cut_gain",
	"hiFreq":        "freq_2",
	"holdTime":      "hold_time",
	"loFreq":        "freq_1",
	"mix":           "mix",
	"overWrap":      "overlap",
	"period":        "period",
	"pitch":         "pitch",
	"Q":             "q",
	"rate":          "rate",
	"ratio":         "ratio",
	"reduction":     "reduction",
	"releaseTime":   "release_time",
	"speed":         "speed",
	"stage":         "stage",
	"stereoWidth":   "stereo_width",
	"trigger":       "trigger",
	"updateTrigger": "update_trigger",
	"updatePeriod":  "update_period",
	"v":             "v",
	"volume":        "vol",
	"waveLength":    "wave_length",
}

// Reverse mappings used by the writer. The parameter-name and preset FX name
// maps are derived from the forward tables; the effect-type and preset filter
// maps are written out by hand.
var (
	ksonToKSHParamName          = invert(kshToKSONParamName)
	ksonToKSHPresetFXEffectName = func() map[string]string {
		m := invert(kshFXToKSONAudioEffectName)
		m["switch_audio"] = "SwitchAudio"
		return m
	}()
	ksonToKSHAudioEffectTypeName = map[string]string{
		"retrigger":        "Retrigger",
		"gate":             "Gate",
		"flanger":          "Flanger",
		"pitch_shift":      "PitchShift",
		"bitcrusher":       "BitCrusher",
		"phaser":           "Phaser",
		"wobble":           "Wobble",
		"tapestop":         "TapeStop",
		"echo":             "Echo",
		"sidechain":        "SideChain",
		"switch_audio":     "SwitchAudio",
		"high_pass_filter": "HighPassFilter",
		"low_pass_filter":  "LowPassFilter",
		"peaking_filter":   "PeakingFilter",
	}
	ksonToKSHPresetFilterName = map[string]string{
		"peaking_filter":   "peak",
		"low_pass_filter":  "lpf1",
		"high_pass_filter": "hpf1",
		"bitcrusher":       "bitc",
	}
)

func invert(m map[string]string) map[string]string {
	inv := make(map[string]string, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}

// charToLaserX maps a laser character to its 0-50 position; characters
// outside the alphabet decode to 0.
func charToLaserX(c byte) int32 {
	switch {
	case c >= '0' && c <= '9':
		return int32(c - '0')
	case c >= 'A' && c <= 'Z':
		return int32(c-'A') + 10
	case c >= 'a' && c <= 'o':
		return int32(c-'a') + 36
	default:
		return 0
	}
}

// laserXToGraphValue converts a 0-50 position to [0, 1]. At 2x width the
// legacy zero positions 'C' and 'b' pin to exactly 0.25 and 0.75.
func laserXToGraphValue(laserX int32, wide bool) float64 {
	if wide {
		switch laserX {
		case charToLaserX('C'):
			return 0.25
		case charToLaserX('b'):
			return 0.75
		}
	}
	return float64(laserX) / laserXMax
}

// graphValueToLaserX converts [0, 1] back to 0-50, honoring the wide zero
// positions.
func graphValueToLaserX(graphValue float64, wide bool) int32 {
	if wide {
		if chart.AlmostEquals(graphValue, 0.25) {
			return charToLaserX('C')
		}
		if chart.AlmostEquals(graphValue, 0.75) {
			return charToLaserX('b')
		}
	}
	laserX := int32(math.Round(graphValue * laserXMax))
	if laserX < 0 {
		return 0
	}
	if laserX > laserXMax {
		return laserXMax
	}
	return laserX
}

// laserXToChar maps a 0-50 position to its laser character.
func laserXToChar(laserX int32) byte {
	switch {
	case laserX >= 0 && laserX <= 9:
		return '0' + byte(laserX)
	case laserX >= 10 && laserX <= 35:
		return 'A' + byte(laserX-10)
	case laserX >= 36 && laserX <= 50:
		return 'a' + byte(laserX-36)
	default:
		return '0'
	}
}
