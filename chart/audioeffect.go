package chart

// AudioEffectType enumerates the audio effect kinds of the KSON schema.
type AudioEffectType int

const (
	AudioEffectUnspecified AudioEffectType = iota
	AudioEffectRetrigger
	AudioEffectGate
	AudioEffectFlanger
	AudioEffectPitchShift
	AudioEffectBitcrusher
	AudioEffectPhaser
	AudioEffectWobble
	AudioEffectTapestop
	AudioEffectEcho
	AudioEffectSidechain
	AudioEffectSwitchAudio
	AudioEffectHighPassFilter
	AudioEffectLowPassFilter
	AudioEffectPeakingFilter
)

var audioEffectTypeNames = map[AudioEffectType]string{
	AudioEffectRetrigger:      "retrigger",
	AudioEffectGate:           "gate",
	AudioEffectFlanger:        "flanger",
	AudioEffectPitchShift:     "pitch_shift",
	AudioEffectBitcrusher:     "bitcrusher",
	AudioEffectPhaser:         "phaser",
	AudioEffectWobble:         "wobble",
	AudioEffectTapestop:       "tapestop",
	AudioEffectEcho:           "echo",
	AudioEffectSidechain:      "sidechain",
	AudioEffectSwitchAudio:    "switch_audio",
	AudioEffectHighPassFilter: "high_pass_filter",
	AudioEffectLowPassFilter:  "low_pass_filter",
	AudioEffectPeakingFilter:  "peaking_filter",
}

var audioEffectTypesByName = func() map[string]AudioEffectType {
	m := make(map[string]AudioEffectType, len(audioEffectTypeNames))
	for t, name := range audioEffectTypeNames {
		m[name] = t
	}
	return m
}()

// String returns the KSON name of the effect type, or "" for Unspecified.
func (t AudioEffectType) String() string {
	return audioEffectTypeNames[t]
}

// ParseAudioEffectType maps a KSON effect type name (also used as a preset
// effect name) to its type; unknown names are Unspecified.
func ParseAudioEffectType(s string) AudioEffectType {
	return audioEffectTypesByName[s]
}

// AudioEffectParams stores effect parameters as literal strings (e.g. "1/8",
// "60%", "500Hz") to preserve author intent.
type AudioEffectParams = Dict[string]

// AudioEffectDef is a user-defined audio effect.
type AudioEffectDef struct {
	Type AudioEffectType
	V    AudioEffectParams
}

// AudioEffectDefKVP is a named definition; the def list preserves the order
// the definitions appeared in.
type AudioEffectDefKVP struct {
	Name string
	V    AudioEffectDef
}

// FXLane holds one value container per FX lane.
type FXLane[V any] [NumFXLanes]ByPulse[V]

// BTLane holds one value container per BT lane.
type BTLane[V any] [NumBTLanes]ByPulse[V]

// LaserLane holds one value container per laser lane.
type LaserLane[V any] [NumLaserLanes]ByPulse[V]

// AudioEffectFXInfo holds FX-side effect definitions and events.
type AudioEffectFXInfo struct {
	Def         []AudioEffectDefKVP
	ParamChange Dict[Dict[ByPulse[string]]]
	LongEvent   Dict[FXLane[AudioEffectParams]]
}

// DefContains reports whether a definition with the name exists.
// Linear search over the ordered def list.
func (info *AudioEffectFXInfo) DefContains(name string) bool {
	for _, kvp := range info.Def {
		if kvp.Name == name {
			return true
		}
	}
	return false
}

// DefByName returns the definition with the name.
func (info *AudioEffectFXInfo) DefByName(name string) (AudioEffectDef, bool) {
	for _, kvp := range info.Def {
		if kvp.Name == name {
			return kvp.V, true
		}
	}
	return AudioEffectDef{}, false
}

// DefAsDict returns the definitions keyed by name.
func (info *AudioEffectFXInfo) DefAsDict() Dict[AudioEffectDef] {
	var d Dict[AudioEffectDef]
	for _, kvp := range info.Def {
		d.Set(kvp.Name, kvp.V)
	}
	return d
}

// AudioEffectLaserLegacyInfo holds "pfiltergain" values scaled to 0.0-1.0.
type AudioEffectLaserLegacyInfo struct {
	FilterGain ByPulse[float64]
}

// AudioEffectLaserInfo holds laser-side effect definitions and events.
type AudioEffectLaserInfo struct {
	Def                []AudioEffectDefKVP
	ParamChange        Dict[Dict[ByPulse[string]]]
	PulseEvent         Dict[PulseSet]
	PeakingFilterDelay int32 // 0ms - 160ms
	Legacy             AudioEffectLaserLegacyInfo
}

// DefContains reports whether a definition with the name exists.
func (info *AudioEffectLaserInfo) DefContains(name string) bool {
	for _, kvp := range info.Def {
		if kvp.Name == name {
			return true
		}
	}
	return false
}

// DefByName returns the definition with the name.
func (info *AudioEffectLaserInfo) DefByName(name string) (AudioEffectDef, bool) {
	for _, kvp := range info.Def {
		if kvp.Name == name {
			return kvp.V, true
		}
	}
	return AudioEffectDef{}, false
}

// DefAsDict returns the definitions keyed by name.
func (info *AudioEffectLaserInfo) DefAsDict() Dict[AudioEffectDef] {
	var d Dict[AudioEffectDef]
	for _, kvp := range info.Def {
		d.Set(kvp.Name, kvp.V)
	}
	return d
}

// AudioEffectInfo groups the FX and laser effect sides.
type AudioEffectInfo struct {
	FX    AudioEffectFXInfo
	Laser AudioEffectLaserInfo
}
