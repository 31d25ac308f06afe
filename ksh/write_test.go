package ksh

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshootmania/kson-go/chart"
)

func saveToString(t *testing.T, c *chart.ChartData) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, c))
	return buf.String()
}

func TestFormatDouble(t *testing.T) {
	tests := []struct {
		value float64
		want  string
	}{
		{1.0, "1"},
		{0.5, "0.5"},
		{148.125, "148.125"},
		{120.0, "120"},
		{0.001, "0.001"},
		{1.9999, "2"},
		{-3.25, "-3.25"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDouble(tt.value), "formatDouble(%v)", tt.value)
	}
}

func TestLaserCharConversion(t *testing.T) {
	for x := int32(0); x <= 50; x++ {
		assert.Equal(t, x, charToLaserX(laserXToChar(x)), "laser position %d must survive the char round trip", x)
	}
	assert.Equal(t, byte('0'), laserXToChar(-1))
	assert.Equal(t, byte('o'), laserXToChar(50))
}

func TestGraphValueToLaserXWide(t *testing.T) {
	assert.Equal(t, int32(12), graphValueToLaserX(0.25, true))
	assert.Equal(t, int32(37), graphValueToLaserX(0.75, true))
	assert.Equal(t, int32(13), graphValueToLaserX(0.25, false))
	assert.Equal(t, int32(0), graphValueToLaserX(0.0, true))
	assert.Equal(t, int32(50), graphValueToLaserX(1.0, true))
}

func TestConvertLaserToSegmentsSlam(t *testing.T) {
	var lane chart.ByPulse[chart.LaserSection]
	section := chart.LaserSection{W: chart.LaserXScale1x}
	section.V.Set(0, chart.GraphPoint{V: chart.GraphValue{V: 0.0, VF: 1.0}})
	lane.Set(960, section)

	segments := convertLaserToSegments(lane)

	require.Len(t, segments, 1)
	assert.Equal(t, chart.Pulse(960), segments[0].startPulse)
	assert.Equal(t, chart.Resolution4/32, segments[0].length)
	assert.Equal(t, int32(0), segments[0].startValue)
	assert.Equal(t, int32(50), segments[0].endValue)
	assert.True(t, segments[0].isSectionStart)
}

func TestConvertLaserToSegmentsLinear(t *testing.T) {
	var lane chart.ByPulse[chart.LaserSection]
	section := chart.LaserSection{W: chart.LaserXScale1x}
	section.V.Set(0, chart.NewGraphPoint(0.0))
	section.V.Set(480, chart.NewGraphPoint(0.5))
	section.V.Set(960, chart.NewGraphPoint(1.0))
	lane.Set(0, section)

	segments := convertLaserToSegments(lane)

	require.Len(t, segments, 2)
	assert.Equal(t, chart.Pulse(0), segments[0].startPulse)
	assert.Equal(t, chart.Pulse(480), segments[0].length)
	assert.True(t, segments[0].isSectionStart)
	assert.Equal(t, chart.Pulse(480), segments[1].startPulse)
	assert.False(t, segments[1].isSectionStart)
}

func TestConvertLaserToSegmentsSlamThenLine(t *testing.T) {
	var lane chart.ByPulse[chart.LaserSection]
	section := chart.LaserSection{W: chart.LaserXScale1x}
	section.V.Set(0, chart.GraphPoint{V: chart.GraphValue{V: 0.0, VF: 1.0}})
	section.V.Set(480, chart.NewGraphPoint(1.0))
	lane.Set(0, section)

	segments := convertLaserToSegments(lane)

	require.Len(t, segments, 2)
	// Slam segment capped at 1/32
	assert.Equal(t, chart.Resolution4/32, segments[0].length)
	// Continuation from the slam end to the next point
	assert.Equal(t, chart.Pulse(30), segments[1].startPulse)
	assert.Equal(t, chart.Pulse(450), segments[1].length)
	assert.Equal(t, int32(50), segments[1].startValue)
	assert.Equal(t, int32(50), segments[1].endValue)
}

func TestConvertLaserToSegmentsShortGapReduction(t *testing.T) {
	// A slam followed 1/16 later by a different value shrinks to 1/48 so
	// the gap does not read back as a second slam
	var lane chart.ByPulse[chart.LaserSection]
	section := chart.LaserSection{W: chart.LaserXScale1x}
	section.V.Set(0, chart.GraphPoint{V: chart.GraphValue{V: 0.0, VF: 1.0}})
	section.V.Set(60, chart.NewGraphPoint(0.5))
	lane.Set(0, section)

	segments := convertLaserToSegments(lane)

	require.Len(t, segments, 2)
	assert.Equal(t, chart.Resolution4/48, segments[0].length)
	assert.LessOrEqual(t, segments[0].length, chart.Resolution4/32)
}

func TestWriteHeaderFields(t *testing.T) {
	c := &chart.ChartData{}
	c.Meta.Title = "Song"
	c.Meta.Artist = "Artist"
	c.Meta.ChartAuthor = "Effector"
	c.Meta.Difficulty.Idx = 1
	c.Meta.Level = 12
	c.Meta.DispBPM = "150"
	c.Beat.BPM.Set(0, 150.0)
	c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
	c.Compat.KshVersion = "171"
	c.Audio.BGM.Filename = "song.ogg"
	c.Audio.BGM.Vol = 1.0
	c.Audio.KeySound.Laser.Legacy.VolAuto = true
	c.Audio.AudioEffect.Laser.PeakingFilterDelay = 40

	out := saveToString(t, c)

	assert.True(t, strings.HasPrefix(out, "\xEF\xBB\xBFtitle=Song\r\n"))
	assert.Contains(t, out, "artist=Artist\r\n")
	assert.Contains(t, out, "effect=Effector\r\n")
	assert.Contains(t, out, "difficulty=challenge\r\n")
	assert.Contains(t, out, "level=12\r\n")
	assert.Contains(t, out, "t=150\r\n")
	assert.Contains(t, out, "m=song.ogg\r\n")
	assert.Contains(t, out, "chokkakuautovol=1\r\n")
	assert.Contains(t, out, "ver=171\r\n")
	assert.NotContains(t, out, "mvol=", "default volume is omitted")
	assert.NotContains(t, out, "pfilterdelay=", "default delay is omitted")
	assert.NotContains(t, out, "ver_compat=")
}

func TestWriteVerCompatUpgrade(t *testing.T) {
	c := &chart.ChartData{}
	c.Meta.Title = "x"
	c.Beat.BPM.Set(0, 120.0)
	c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
	c.Compat.KshVersion = "120"

	out := saveToString(t, c)

	assert.Contains(t, out, "ver=160\r\n")
	assert.Contains(t, out, "ver_compat=120\r\n")
}

func TestWriteMvolLegacyScale(t *testing.T) {
	c := &chart.ChartData{}
	c.Meta.Title = "x"
	c.Beat.BPM.Set(0, 120.0)
	c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
	c.Compat.KshVersion = "100"
	c.Audio.BGM.Vol = 0.6 * 0.8 // loaded from mvol=80 at v1.00

	out := saveToString(t, c)
	assert.Contains(t, out, "mvol=80\r\n")
}

func TestWriteBPMRangeHeader(t *testing.T) {
	c := &chart.ChartData{}
	c.Meta.Title = "x"
	c.Beat.BPM.Set(0, 120.0)
	c.Beat.BPM.Set(960, 180.0)
	c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
	c.Compat.KshVersion = "170"

	out := saveToString(t, c)
	assert.Contains(t, out, "t=120-180\r\n")
}

func TestWriteSpinSuffix(t *testing.T) {
	c := &chart.ChartData{}
	c.Meta.Title = "x"
	c.Beat.BPM.Set(0, 120.0)
	c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
	c.Compat.KshVersion = "170"
	c.Camera.Cam.Pattern.Laser.SlamEvent.Spin.Set(0, chart.CamPatternInvokeSpin{D: 1, Length: 960})

	out := saveToString(t, c)
	assert.Contains(t, out, "@)192\r\n")
}

func TestWriteDivisionDoublesForLongNotes(t *testing.T) {
	c := &chart.ChartData{}
	c.Meta.Title = "x"
	c.Beat.BPM.Set(0, 120.0)
	c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
	c.Compat.KshVersion = "170"
	c.Note.BT[0].Set(0, chart.Interval{Length: 480})

	out := saveToString(t, c)
	body := out[strings.Index(out, "--\r\n")+4:]
	lines := strings.Split(body, "\r\n")

	// The half-measure long note needs 4 lines so its end gets its own line
	var chartLines []string
	for _, line := range lines {
		if strings.Contains(line, "|") {
			chartLines = append(chartLines, line)
		}
	}
	require.Len(t, chartLines, 4)
	assert.Equal(t, "2000|00|--", chartLines[0])
	assert.Equal(t, "2000|00|--", chartLines[1])
	assert.Equal(t, "0000|00|--", chartLines[2])
	assert.Equal(t, "0000|00|--", chartLines[3])
}

func TestWriteAudioEffectDefs(t *testing.T) {
	c := &chart.ChartData{}
	c.Meta.Title = "x"
	c.Beat.BPM.Set(0, 120.0)
	c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
	c.Compat.KshVersion = "170"

	var params chart.AudioEffectParams
	params.Set("wave_length", "100ms")
	c.Audio.AudioEffect.FX.Def = append(c.Audio.AudioEffect.FX.Def, chart.AudioEffectDefKVP{
		Name: "MyFX",
		V:    chart.AudioEffectDef{Type: chart.AudioEffectRetrigger, V: params},
	})

	out := saveToString(t, c)
	assert.Contains(t, out, "#define_fx MyFX type=Retrigger;waveLength=100ms\r\n")
}

func TestWriteUnknownOptionAndMeta(t *testing.T) {
	c := &chart.ChartData{}
	c.Meta.Title = "x"
	c.Beat.BPM.Set(0, 120.0)
	c.Beat.TimeSig.Set(0, chart.TimeSig{N: 4, D: 4})
	c.Compat.KshVersion = "170"
	c.Compat.KshUnknown.Meta.Set("somekey", "somevalue")
	var multi chart.ByPulseMulti[string]
	multi.Add(480, "bar")
	c.Compat.KshUnknown.Option.Set("foo", multi)

	out := saveToString(t, c)
	assert.Contains(t, out, "somekey=somevalue\r\n")
	assert.Contains(t, out, "foo=bar\r\n")
}
