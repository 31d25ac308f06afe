package chart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAutoTiltType(t *testing.T) {
	tests := []struct {
		input string
		want  AutoTiltType
	}{
		{"normal", TiltNormal},
		{"bigger", TiltBigger},
		{"biggest", TiltBiggest},
		{"keep_normal", TiltKeepNormal},
		{"keep_bigger", TiltKeepBigger},
		{"keep_biggest", TiltKeepBiggest},
		{"zero", TiltZero},
		{"big", TiltBigger},       // legacy
		{"keep", TiltKeepBigger},  // legacy
		{"garbage", TiltNormal},   // unknown falls back to normal
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAutoTiltType(tt.input))
		})
	}
}

func TestAutoTiltScale(t *testing.T) {
	assert.Equal(t, 1.0, AutoTiltScale(TiltNormal))
	assert.Equal(t, 1.75, AutoTiltScale(TiltBigger))
	assert.Equal(t, 2.5, AutoTiltScale(TiltBiggest))
	assert.Equal(t, 1.0, AutoTiltScale(TiltKeepNormal))
	assert.Equal(t, 1.75, AutoTiltScale(TiltKeepBigger))
	assert.Equal(t, 2.5, AutoTiltScale(TiltKeepBiggest))
	assert.Equal(t, 0.0, AutoTiltScale(TiltZero))
}

func TestIsKeepAutoTiltType(t *testing.T) {
	assert.False(t, IsKeepAutoTiltType(TiltNormal))
	assert.True(t, IsKeepAutoTiltType(TiltKeepNormal))
	assert.True(t, IsKeepAutoTiltType(TiltKeepBigger))
	assert.True(t, IsKeepAutoTiltType(TiltKeepBiggest))
	assert.False(t, IsKeepAutoTiltType(TiltZero))
}

func TestManualTiltValueAt(t *testing.T) {
	var tilt ByPulse[TiltValue]
	tilt.Set(0, ManualTilt(TiltGraphPoint{V: NewTiltGraphValue(0.0)}))
	tilt.Set(960, ManualTilt(TiltGraphPoint{V: NewTiltGraphValue(10.0)}))
	tilt.Set(1920, AutoTilt(TiltNormal))

	v, ok := ManualTiltValueAt(tilt, 480)
	require.True(t, ok)
	assert.InDelta(t, 5.0, v, 1e-9)

	// The last manual point before an auto span holds its value
	v, ok = ManualTiltValueAt(tilt, 1000)
	require.True(t, ok)
	assert.InDelta(t, 10.0, v, 1e-9)

	// Auto span has no manual value
	_, ok = ManualTiltValueAt(tilt, 1920)
	assert.False(t, ok)

	// Before any entry
	_, ok = ManualTiltValueAt(tilt, -1)
	assert.False(t, ok)
}

func TestManualTiltValueAtSlam(t *testing.T) {
	var tilt ByPulse[TiltValue]
	tilt.Set(0, ManualTilt(TiltGraphPoint{V: TiltGraphValue{V: 0.0, VF: NumberTiltVF(4.0)}}))
	tilt.Set(960, ManualTilt(TiltGraphPoint{V: NewTiltGraphValue(8.0)}))

	// Interpolation starts at vf, not v
	v, ok := ManualTiltValueAt(tilt, 480)
	require.True(t, ok)
	assert.InDelta(t, 6.0, v, 1e-9)
}

func TestAutoTiltScaleAt(t *testing.T) {
	var tilt ByPulse[TiltValue]
	tilt.Set(0, AutoTilt(TiltBigger))
	tilt.Set(960, ManualTilt(TiltGraphPoint{V: NewTiltGraphValue(1.0)}))

	assert.Equal(t, 1.75, AutoTiltScaleAt(tilt, 0))
	assert.Equal(t, 1.75, AutoTiltScaleAt(tilt, 500))
	assert.Equal(t, 1.0, AutoTiltScaleAt(tilt, 960), "manual entries report the default scale")
	assert.Equal(t, 1.0, AutoTiltScaleAt(nil, 0))
}

func TestAutoTiltKeepAt(t *testing.T) {
	var tilt ByPulse[TiltValue]
	tilt.Set(0, AutoTilt(TiltKeepBiggest))
	tilt.Set(960, AutoTilt(TiltNormal))

	assert.True(t, AutoTiltKeepAt(tilt, 100))
	assert.False(t, AutoTiltKeepAt(tilt, 960))
	assert.False(t, AutoTiltKeepAt(nil, 0))
}

func TestTiltValueUnion(t *testing.T) {
	auto := AutoTilt(TiltZero)
	assert.False(t, auto.IsManual())
	assert.Equal(t, TiltZero, auto.Auto())

	manual := ManualTilt(TiltGraphPoint{V: TiltGraphValue{V: 1.0, VF: AutoTiltVF(TiltBigger)}})
	require.True(t, manual.IsManual())
	require.True(t, manual.Point().V.VF.IsAuto())
	assert.Equal(t, TiltBigger, manual.Point().V.VF.Auto())
}
