package ksh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kshootmania/kson-go/chart"
)

func kshSource(header []string, body []string) string {
	lines := append([]string{}, header...)
	lines = append(lines, "--")
	lines = append(lines, body...)
	lines = append(lines, "")
	return strings.Join(lines, "\r\n")
}

func defaultHeader(extra ...string) []string {
	header := []string{"title=Test", "artist=Someone", "t=120", "ver=170"}
	return append(header, extra...)
}

func emptyMeasure(lineCount int) []string {
	lines := make([]string, 0, lineCount+1)
	for i := 0; i < lineCount; i++ {
		lines = append(lines, "0000|00|--")
	}
	return append(lines, "--")
}

func loadString(t *testing.T, source string) *chart.ChartData {
	t.Helper()
	c := Load(strings.NewReader(source))
	require.Equal(t, chart.ErrorNone, c.Error)
	return c
}

func TestLoadSimpleChipBT(t *testing.T) {
	// S1: one chip on BT lane A at pulse 0
	body := []string{
		"1000|00|--",
		"0000|00|--",
		"0000|00|--",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	require.Len(t, c.Note.BT[0], 1)
	assert.Equal(t, chart.Pulse(0), c.Note.BT[0][0].Y)
	assert.Equal(t, chart.RelPulse(0), c.Note.BT[0][0].V.Length)
	for i := 1; i < chart.NumBTLanes; i++ {
		assert.Empty(t, c.Note.BT[i])
	}
	for i := 0; i < chart.NumFXLanes; i++ {
		assert.Empty(t, c.Note.FX[i])
	}

	bpm, ok := c.Beat.BPM.Get(0)
	require.True(t, ok)
	assert.Equal(t, 120.0, bpm)
}

func TestLoadLongNotes(t *testing.T) {
	body := []string{
		"2000|10|--",
		"2000|10|--",
		"0000|00|--",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	require.Len(t, c.Note.BT[0], 1)
	assert.Equal(t, chart.RelPulse(480), c.Note.BT[0][0].V.Length)

	require.Len(t, c.Note.FX[0], 1)
	assert.Equal(t, chart.RelPulse(480), c.Note.FX[0][0].V.Length)
}

func TestLoadSlamInference(t *testing.T) {
	// S2: two laser points one 1/32 apart collapse into a single slam
	body := make([]string, 0, 33)
	body = append(body, "0000|00|0-", "0000|00|o-")
	for i := 0; i < 30; i++ {
		body = append(body, "0000|00|:-")
	}
	body = append(body, "--")
	c := loadString(t, kshSource(defaultHeader(), body))

	require.Len(t, c.Note.Laser[0], 1)
	section := c.Note.Laser[0][0]
	assert.Equal(t, chart.Pulse(0), section.Y)
	require.Len(t, section.V.V, 1)
	assert.Equal(t, chart.RelPulse(0), section.V.V[0].Y)
	assert.Equal(t, chart.GraphValue{V: 0.0, VF: 1.0}, section.V.V[0].V.V)
}

func TestLoadBPMClamp(t *testing.T) {
	// S3 and property 6: the BPM cap only applies from v1.30 on
	tests := []struct {
		name   string
		header []string
		want   float64
	}{
		{"clamped at ver 130", []string{"title=x", "t=100000", "ver=130"}, 65535.0},
		{"unclamped at ver 120", []string{"title=x", "t=100000", "ver=120"}, 100000.0},
		{"ver_compat overrides ver", []string{"title=x", "t=100000", "ver=160", "ver_compat=120"}, 100000.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := loadString(t, kshSource(tt.header, emptyMeasure(1)))
			bpm, ok := c.Beat.BPM.Get(0)
			require.True(t, ok)
			assert.Equal(t, tt.want, bpm)
		})
	}
}

func TestLoadPresetFXParamChange(t *testing.T) {
	// S4: fx:Retrigger:waveLength is remapped to retrigger/wave_length
	body := []string{
		"fx:Retrigger:waveLength=1/8",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	params, ok := c.Audio.AudioEffect.FX.ParamChange.Get("retrigger")
	require.True(t, ok)
	byPulse, ok := params.Get("wave_length")
	require.True(t, ok)
	require.Len(t, byPulse, 1)
	assert.Equal(t, chart.Pulse(0), byPulse[0].Y)
	assert.Equal(t, "1/8", byPulse[0].V)
}

func TestLoadTiltManualWithCurve(t *testing.T) {
	// S5: curve attaches to the manual point; the later point is linear
	body := []string{
		"tilt_curve=0.1;0.5",
		"tilt=0",
		"0000|00|--",
		"0000|00|--",
		"tilt=5.0",
		"0000|00|--",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	require.Len(t, c.Camera.Tilt, 2)

	first := c.Camera.Tilt[0]
	assert.Equal(t, chart.Pulse(0), first.Y)
	require.True(t, first.V.IsManual())
	assert.Equal(t, 0.0, first.V.Point().V.V)
	assert.False(t, first.V.Point().V.VF.IsAuto())
	assert.Equal(t, 0.0, first.V.Point().V.VF.Value())
	assert.Equal(t, chart.GraphCurve{A: 0.1, B: 0.5}, first.V.Point().Curve)

	second := c.Camera.Tilt[1]
	assert.Equal(t, chart.Pulse(480), second.Y)
	require.True(t, second.V.IsManual())
	assert.Equal(t, 5.0, second.V.Point().V.V)
	assert.True(t, second.V.Point().Curve.IsLinear())
}

func TestLoadTiltSamePulseCombine(t *testing.T) {
	body := []string{
		"tilt=1",
		"tilt=3",
		"0000|00|--",
		"tilt=2",
		"tilt=keep",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	require.Len(t, c.Camera.Tilt, 2)

	slam := c.Camera.Tilt[0].V
	require.True(t, slam.IsManual())
	assert.Equal(t, 1.0, slam.Point().V.V)
	assert.Equal(t, 3.0, slam.Point().V.VF.Value())

	toAuto := c.Camera.Tilt[1].V
	require.True(t, toAuto.IsManual())
	assert.Equal(t, 2.0, toAuto.Point().V.V)
	require.True(t, toAuto.Point().V.VF.IsAuto())
	assert.Equal(t, chart.TiltKeepBigger, toAuto.Point().V.VF.Auto())
}

func TestLoadSpinSuffix(t *testing.T) {
	// S6: @)192 is a full right spin lasting one measure
	body := []string{
		"0000|00|0o@)192",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	spin, ok := c.Camera.Cam.Pattern.Laser.SlamEvent.Spin.Get(0)
	require.True(t, ok)
	assert.Equal(t, int32(1), spin.D)
	assert.Equal(t, chart.RelPulse(960), spin.Length)
}

func TestLoadSwingSuffix(t *testing.T) {
	body := []string{
		"0000|00|0oS<96;300",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	swing, ok := c.Camera.Cam.Pattern.Laser.SlamEvent.Swing.Get(0)
	require.True(t, ok)
	assert.Equal(t, int32(-1), swing.D)
	assert.Equal(t, chart.RelPulse(480), swing.Length)
	assert.Equal(t, 300.0, swing.V.Scale)
	assert.Equal(t, int32(3), swing.V.Repeat)
	assert.Equal(t, int32(2), swing.V.DecayOrder)
}

func TestLoadUnknownPreservation(t *testing.T) {
	// Property 7: unknown options and meta keys survive
	body := []string{
		"foo=bar",
		"0000|00|--",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader("somekey=somevalue"), body))

	meta, ok := c.Compat.KshUnknown.Meta.Get("somekey")
	require.True(t, ok)
	assert.Equal(t, "somevalue", meta)

	option, ok := c.Compat.KshUnknown.Option.Get("foo")
	require.True(t, ok)
	assert.Equal(t, []string{"bar"}, option.AllAt(0))
}

func TestLoadLegacyFXChars(t *testing.T) {
	body := []string{
		"0000|F0|--",
		"0000|F0|--",
		"0000|00|--",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	require.Len(t, c.Note.FX[0], 1)
	assert.Equal(t, chart.RelPulse(480), c.Note.FX[0][0].V.Length)

	lanes, ok := c.Audio.AudioEffect.FX.LongEvent.Get("flanger")
	require.True(t, ok)
	assert.True(t, lanes[0].Contains(0))
}

func TestLoadLegacyFXCharWithParams(t *testing.T) {
	// Retrigger;8 from the legacy 'S' char resolves to wave_length 1/8
	body := []string{
		"0000|S0|--",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	lanes, ok := c.Audio.AudioEffect.FX.LongEvent.Get("retrigger")
	require.True(t, ok)
	params, ok := lanes[0].Get(0)
	require.True(t, ok)
	waveLength, ok := params.Get("wave_length")
	require.True(t, ok)
	assert.Equal(t, "1/8", waveLength)
}

func TestLoadFXLongEventAnnotation(t *testing.T) {
	body := []string{
		"fx-l=Echo;4;60",
		"0000|10|--",
		"0000|10|--",
		"0000|00|--",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	lanes, ok := c.Audio.AudioEffect.FX.LongEvent.Get("echo")
	require.True(t, ok)
	params, ok := lanes[0].Get(0)
	require.True(t, ok)
	waveLength, _ := params.Get("wave_length")
	assert.Equal(t, "1/4", waveLength)
	feedback, _ := params.Get("feedback_level")
	assert.Equal(t, "60%", feedback)

	// The effect is cleared at the note end
	offLanes, ok := c.Audio.AudioEffect.FX.LongEvent.Get("")
	require.True(t, ok)
	assert.True(t, offLanes[0].Contains(480))
}

func TestLoadAudioEffectDefine(t *testing.T) {
	body := []string{
		"#define_fx MyRetrigger type=Retrigger;waveLength=100ms;rate=70%",
		"#define_filter MyFilter type=HighPassFilter",
		"0000|00|--",
		"--",
	}
	source := kshSource(defaultHeader(), body)
	c := loadString(t, source)

	require.Len(t, c.Audio.AudioEffect.FX.Def, 1)
	def := c.Audio.AudioEffect.FX.Def[0]
	assert.Equal(t, "MyRetrigger", def.Name)
	assert.Equal(t, chart.AudioEffectRetrigger, def.V.Type)
	waveLength, _ := def.V.V.Get("wave_length")
	assert.Equal(t, "100ms", waveLength)
	rate, _ := def.V.V.Get("rate")
	assert.Equal(t, "70%", rate)

	require.Len(t, c.Audio.AudioEffect.Laser.Def, 1)
	assert.Equal(t, "MyFilter", c.Audio.AudioEffect.Laser.Def[0].Name)
	assert.Equal(t, chart.AudioEffectHighPassFilter, c.Audio.AudioEffect.Laser.Def[0].V.Type)
}

func TestLoadDefineWithoutTypeIsIgnored(t *testing.T) {
	body := []string{
		"#define_fx Broken waveLength=1/8",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	assert.Empty(t, c.Audio.AudioEffect.FX.Def)
	assert.NotEmpty(t, c.Warnings)
}

func TestLoadStop(t *testing.T) {
	body := []string{
		"stop=192",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	stop, ok := c.Beat.Stop.Get(0)
	require.True(t, ok)
	assert.Equal(t, chart.RelPulse(960), stop)
}

func TestLoadTimeSig(t *testing.T) {
	body := []string{
		"beat=3/4",
		"0000|00|--",
		"0000|00|--",
		"0000|00|--",
		"--",
		"1000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	ts, ok := c.Beat.TimeSig.Get(0)
	require.True(t, ok)
	assert.Equal(t, chart.TimeSig{N: 3, D: 4}, ts)

	// The second measure starts after 3/4 of a 4/4 measure
	require.Len(t, c.Note.BT[0], 1)
	assert.Equal(t, chart.Pulse(720), c.Note.BT[0][0].Y)
}

func TestLoadWideLaser(t *testing.T) {
	body := []string{
		"laserrange_l=2x",
		"0000|00|0-",
		"0000|00|C-",
		"0000|00|b-",
		"0000|00|o-",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	require.Len(t, c.Note.Laser[0], 1)
	section := c.Note.Laser[0][0].V
	assert.True(t, section.Wide())

	// Wide zero positions pin to exactly 0.25 and 0.75
	points := section.V
	require.Len(t, points, 4)
	assert.Equal(t, 0.0, points[0].V.V.V)
	assert.Equal(t, 0.25, points[1].V.V.V)
	assert.Equal(t, 0.75, points[2].V.V.V)
	assert.Equal(t, 1.0, points[3].V.V.V)
}

func TestLoadLaserCurve(t *testing.T) {
	body := []string{
		"laser_l_curve=0.3;0.7",
		"0000|00|0-",
		"0000|00|:-",
		"0000|00|:-",
		"0000|00|o-",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	require.Len(t, c.Note.Laser[0], 1)
	points := c.Note.Laser[0][0].V.V
	require.Len(t, points, 2)
	assert.Equal(t, chart.GraphCurve{A: 0.3, B: 0.7}, points[0].V.Curve)
	assert.True(t, points[1].V.Curve.IsLinear())
}

func TestLoadZoomAndScrollSpeed(t *testing.T) {
	body := []string{
		"zoom_top=50",
		"scroll_speed=1.5",
		"0000|00|--",
		"zoom_top=-50",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	point, ok := c.Camera.Cam.Body.ZoomTop.Get(0)
	require.True(t, ok)
	assert.Equal(t, 50.0, point.V.V)

	point, ok = c.Camera.Cam.Body.ZoomTop.Get(480)
	require.True(t, ok)
	assert.Equal(t, -50.0, point.V.V)

	speed, ok := c.Beat.ScrollSpeed.Get(0)
	require.True(t, ok)
	assert.Equal(t, 1.5, speed.V.V)
}

func TestLoadZoomSamePulseBecomesSlam(t *testing.T) {
	body := []string{
		"zoom_top=0",
		"zoom_top=300",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	point, ok := c.Camera.Cam.Body.ZoomTop.Get(0)
	require.True(t, ok)
	assert.Equal(t, chart.GraphValue{V: 0.0, VF: 300.0}, point.V)
}

func TestLoadScrollSpeedDefault(t *testing.T) {
	c := loadString(t, kshSource(defaultHeader(), emptyMeasure(1)))

	require.Len(t, c.Beat.ScrollSpeed, 1)
	assert.Equal(t, chart.Pulse(0), c.Beat.ScrollSpeed[0].Y)
	assert.Equal(t, chart.NewGraphValue(1.0), c.Beat.ScrollSpeed[0].V.V)
}

func TestLoadHeaderDefaults(t *testing.T) {
	c := loadString(t, kshSource([]string{"title=Minimal", "t=150"}, emptyMeasure(1)))

	assert.Equal(t, "Minimal", c.Meta.Title)
	assert.Equal(t, "150", c.Meta.DispBPM)
	assert.Equal(t, int32(3), c.Meta.Difficulty.Idx, "difficulty defaults to infinite")
	assert.Equal(t, int32(1), c.Meta.Level)
	assert.Equal(t, "100", c.Compat.KshVersion)
	assert.InDelta(t, 0.6, c.Audio.BGM.Vol, 1e-9, "v1.00 charts scale volume by 0.6")
	assert.Equal(t, "desert", c.BG.Legacy.BG[0].Filename)
	assert.Equal(t, "arrow", c.BG.Legacy.Layer.Filename)
	assert.True(t, c.BG.Legacy.Layer.Rotation.Tilt)
	assert.True(t, c.BG.Legacy.Layer.Rotation.Spin)
	assert.Equal(t, int32(40), c.Audio.AudioEffect.Laser.PeakingFilterDelay)
	assert.True(t, c.Audio.KeySound.Laser.Legacy.VolAuto)

	vol, ok := c.Audio.KeySound.Laser.Vol.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0.5, vol)
}

func TestLoadDispBPMRange(t *testing.T) {
	body := []string{
		"t=140",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource([]string{"title=x", "t=120-180", "ver=170"}, body))

	assert.Equal(t, "120-180", c.Meta.DispBPM)
	// The range string is not a BPM; the first in-body tempo lands at 0
	bpm, ok := c.Beat.BPM.Get(0)
	require.True(t, ok)
	assert.Equal(t, 140.0, bpm)
	assert.Len(t, c.Beat.BPM, 1)
}

func TestLoadLevelClamp(t *testing.T) {
	c := loadString(t, kshSource([]string{"title=x", "t=120", "level=99"}, emptyMeasure(1)))
	assert.Equal(t, int32(20), c.Meta.Level)
}

func TestLoadDifficultyNames(t *testing.T) {
	tests := []struct {
		value    string
		wantIdx  int32
		wantName string
	}{
		{"light", 0, ""},
		{"challenge", 1, ""},
		{"extended", 2, ""},
		{"infinite", 3, ""},
		{"custom", 3, "custom"},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			c := loadString(t, kshSource([]string{"title=x", "t=120", "difficulty=" + tt.value}, emptyMeasure(1)))
			assert.Equal(t, tt.wantIdx, c.Meta.Difficulty.Idx)
			assert.Equal(t, tt.wantName, c.Meta.Difficulty.Name)
		})
	}
}

func TestLoadFiltertype(t *testing.T) {
	body := []string{
		"filtertype=hpf1",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	set, ok := c.Audio.AudioEffect.Laser.PulseEvent.Get("high_pass_filter")
	require.True(t, ok)
	assert.True(t, set.Contains(0))
}

func TestLoadComment(t *testing.T) {
	body := []string{
		"//first",
		"0000|00|--",
		"//second",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	assert.Equal(t, []string{"first"}, c.Editor.Comment.AllAt(0))
	assert.Equal(t, []string{"second"}, c.Editor.Comment.AllAt(480))
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing bar line", func(t *testing.T) {
		c := Load(strings.NewReader("title=x\r\nt=120\r\n"))
		assert.Equal(t, chart.ErrorGeneralChartFormat, c.Error)
	})

	t.Run("missing title", func(t *testing.T) {
		c := Load(strings.NewReader("artist=x\r\nt=120\r\n--\r\n"))
		assert.Equal(t, chart.ErrorGeneralChartFormat, c.Error)
	})

	t.Run("title not first warns", func(t *testing.T) {
		c := Load(strings.NewReader("artist=x\r\ntitle=y\r\n--\r\n0000|00|--\r\n--\r\n"))
		assert.Equal(t, chart.ErrorNone, c.Error)
		assert.NotEmpty(t, c.Warnings)
	})
}

func TestLoadMeta(t *testing.T) {
	source := kshSource(defaultHeader("m=song.ogg;song_f.ogg", "mvol=80", "po=1000", "plength=9000"), emptyMeasure(1))
	c := LoadMeta(strings.NewReader(source))

	require.Equal(t, chart.ErrorNone, c.Error)
	assert.Equal(t, "Test", c.Meta.Title)
	assert.Equal(t, "Someone", c.Meta.Artist)
	assert.Equal(t, "song.ogg", c.Audio.BGM.Filename)
	assert.InDelta(t, 0.8, c.Audio.BGM.Vol, 1e-9)
	assert.Equal(t, int32(1000), c.Audio.BGM.Preview.Offset)
	assert.Equal(t, int32(9000), c.Audio.BGM.Preview.Duration)
	assert.Equal(t, "170", c.Compat.KshVersion)
}

func TestLoadLegacyManualTiltScale(t *testing.T) {
	body := []string{
		"tilt=10",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource([]string{"title=x", "t=120", "ver=160"}, body))

	point := c.Camera.Tilt[0].V.Point()
	assert.InDelta(t, 14.0, point.V.V, 1e-9, "pre-v1.70 tilt values are rescaled by 14/10")
}

func TestLoadBOMAndShiftJIS(t *testing.T) {
	t.Run("utf8 bom", func(t *testing.T) {
		source := "\xEF\xBB\xBFtitle=テスト\r\nt=120\r\n--\r\n0000|00|--\r\n--\r\n"
		c := Load(strings.NewReader(source))
		require.Equal(t, chart.ErrorNone, c.Error)
		assert.Equal(t, "テスト", c.Meta.Title)
	})

	t.Run("shift-jis body", func(t *testing.T) {
		// "テスト" in CP932
		source := "title=\x83\x65\x83\x58\x83\x67\r\nt=120\r\n--\r\n0000|00|--\r\n--\r\n"
		c := Load(strings.NewReader(source))
		require.Equal(t, chart.ErrorNone, c.Error)
		assert.Equal(t, "テスト", c.Meta.Title)
	})
}

func TestLoadChokkaku(t *testing.T) {
	body := []string{
		"chokkakuvol=80",
		"chokkakuse=up",
		"0000|00|0o",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader(), body))

	vol, ok := c.Audio.KeySound.Laser.Vol.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0.8, vol)

	set, ok := c.Audio.KeySound.Laser.SlamEvent.Get("up")
	require.True(t, ok)
	assert.True(t, set.Contains(0))
}

func TestLoadPfiltergain(t *testing.T) {
	body := []string{
		"pfiltergain=70",
		"0000|00|--",
		"--",
	}
	c := loadString(t, kshSource(defaultHeader("pfiltergain=60"), body))

	gain, ok := c.Audio.AudioEffect.Laser.Legacy.FilterGain.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0.6, gain, "the header value wins at pulse 0")
}
