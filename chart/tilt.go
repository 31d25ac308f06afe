package chart

// AutoTiltType enumerates the automatic tilt modes of the "tilt" option.
type AutoTiltType int

const (
	TiltNormal AutoTiltType = iota
	TiltBigger
	TiltBiggest
	TiltKeepNormal
	TiltKeepBigger
	TiltKeepBiggest
	TiltZero
)

// String returns the KSH/KSON name of the auto tilt type.
func (t AutoTiltType) String() string {
	switch t {
	case TiltBigger:
		return "bigger"
	case TiltBiggest:
		return "biggest"
	case TiltKeepNormal:
		return "keep_normal"
	case TiltKeepBigger:
		return "keep_bigger"
	case TiltKeepBiggest:
		return "keep_biggest"
	case TiltZero:
		return "zero"
	default:
		return "normal"
	}
}

// ParseAutoTiltType parses a KSH/KSON tilt name. The legacy names "big" and
// "keep" map to bigger and keep_bigger; anything unknown is normal.
func ParseAutoTiltType(s string) AutoTiltType {
	switch s {
	case "bigger", "big":
		return TiltBigger
	case "biggest":
		return TiltBiggest
	case "keep_normal":
		return TiltKeepNormal
	case "keep_bigger", "keep":
		return TiltKeepBigger
	case "keep_biggest":
		return TiltKeepBiggest
	case "zero":
		return TiltZero
	default:
		return TiltNormal
	}
}

// AutoTiltScale returns the tilt scale factor of an auto tilt type.
func AutoTiltScale(t AutoTiltType) float64 {
	switch t {
	case TiltBigger, TiltKeepBigger:
		return 1.75
	case TiltBiggest, TiltKeepBiggest:
		return 2.5
	case TiltZero:
		return 0.0
	default:
		return 1.0
	}
}

// IsKeepAutoTiltType reports whether the type holds the tilt value.
func IsKeepAutoTiltType(t AutoTiltType) bool {
	switch t {
	case TiltKeepNormal, TiltKeepBigger, TiltKeepBiggest:
		return true
	default:
		return false
	}
}

// TiltVF is the final value of a manual tilt point: either a number or an
// auto tilt type, so a manual value can transition instantaneously into an
// auto tilt state at the same pulse.
type TiltVF struct {
	value  float64
	auto   AutoTiltType
	isAuto bool
}

// NumberTiltVF returns a numeric final value.
func NumberTiltVF(v float64) TiltVF {
	return TiltVF{value: v}
}

// AutoTiltVF returns an auto-tilt final value.
func AutoTiltVF(t AutoTiltType) TiltVF {
	return TiltVF{auto: t, isAuto: true}
}

// IsAuto reports whether the final value is an auto tilt type.
func (vf TiltVF) IsAuto() bool { return vf.isAuto }

// Value returns the numeric final value. Only meaningful when !IsAuto().
func (vf TiltVF) Value() float64 { return vf.value }

// Auto returns the auto tilt type. Only meaningful when IsAuto().
func (vf TiltVF) Auto() AutoTiltType { return vf.auto }

// TiltGraphValue is a manual tilt value whose VF may itself be auto.
type TiltGraphValue struct {
	V  float64
	VF TiltVF
}

// NewTiltGraphValue returns a manual value without a transition.
func NewTiltGraphValue(v float64) TiltGraphValue {
	return TiltGraphValue{V: v, VF: NumberTiltVF(v)}
}

// TiltGraphPoint is one manual entry of the tilt timeline.
type TiltGraphPoint struct {
	V     TiltGraphValue
	Curve GraphCurve
}

// TiltValue is one entry of the tilt timeline: either an auto tilt type or a
// manual graph point. It is a discriminated union; use AutoTilt/ManualTilt to
// construct values and IsManual to branch.
type TiltValue struct {
	auto   AutoTiltType
	point  TiltGraphPoint
	manual bool
}

// AutoTilt returns a tilt entry in an automatic mode.
func AutoTilt(t AutoTiltType) TiltValue {
	return TiltValue{auto: t}
}

// ManualTilt returns a manual tilt entry.
func ManualTilt(p TiltGraphPoint) TiltValue {
	return TiltValue{point: p, manual: true}
}

// IsManual reports whether the entry is a manual graph point.
func (tv TiltValue) IsManual() bool { return tv.manual }

// Auto returns the auto tilt type. Only meaningful when !IsManual().
func (tv TiltValue) Auto() AutoTiltType { return tv.auto }

// Point returns the manual graph point. Only meaningful when IsManual().
func (tv TiltValue) Point() TiltGraphPoint { return tv.point }
