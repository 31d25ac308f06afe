package chart

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByPulseSetAndGet(t *testing.T) {
	var m ByPulse[string]
	m.Set(240, "b")
	m.Set(0, "a")
	m.Set(480, "c")
	m.Set(240, "b2") // overwrite

	require.Len(t, m, 3)
	assert.Equal(t, Pulse(0), m[0].Y)
	assert.Equal(t, Pulse(240), m[1].Y)
	assert.Equal(t, Pulse(480), m[2].Y)

	v, ok := m.Get(240)
	require.True(t, ok)
	assert.Equal(t, "b2", v)

	_, ok = m.Get(100)
	assert.False(t, ok)
}

func TestByPulseValueAt(t *testing.T) {
	var m ByPulse[float64]
	m.Set(0, 120.0)
	m.Set(960, 150.0)
	m.Set(1920, 180.0)

	tests := []struct {
		name  string
		query Pulse
		want  float64
		found bool
	}{
		{"exact first key", 0, 120.0, true},
		{"between first and second", 500, 120.0, true},
		{"exact second key", 960, 150.0, true},
		{"just before third", 1919, 150.0, true},
		{"beyond last key", 5000, 180.0, true},
		{"before first key", -1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.ValueAt(tt.query)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}

	assert.Equal(t, 999.0, ByPulse[float64]{}.ValueAtOrDefault(0, 999.0))
}

func TestByPulseRangeQueries(t *testing.T) {
	var m ByPulse[int]
	for _, y := range []Pulse{0, 240, 480, 720, 960} {
		m.Set(y, int(y))
	}

	assert.Equal(t, 2, m.CountInRange(0, 480))
	assert.Equal(t, 0, m.CountInRange(100, 200))
	assert.Equal(t, 5, m.CountInRange(0, 961))

	first, ok := m.FirstInRange(100, 960)
	require.True(t, ok)
	assert.Equal(t, Pulse(240), first.Y)

	_, ok = m.FirstInRange(961, 2000)
	assert.False(t, ok)
}

func TestIntervalAt(t *testing.T) {
	var m ByPulse[Interval]
	m.Set(0, Interval{Length: 0})
	m.Set(480, Interval{Length: 240})

	_, ok := IntervalAt(m, 0)
	assert.False(t, ok, "chip note covers no pulses")

	e, ok := IntervalAt(m, 600)
	require.True(t, ok)
	assert.Equal(t, Pulse(480), e.Y)

	_, ok = IntervalAt(m, 720)
	assert.False(t, ok, "interval end is exclusive")
}

func TestByPulseMultiKeepsInsertionOrder(t *testing.T) {
	var m ByPulseMulti[string]
	m.Add(480, "second-a")
	m.Add(0, "first")
	m.Add(480, "second-b")

	assert.Equal(t, []string{"first"}, m.AllAt(0))
	assert.Equal(t, []string{"second-a", "second-b"}, m.AllAt(480))
	assert.Nil(t, m.AllAt(240))
}

func TestDict(t *testing.T) {
	var d Dict[int]
	d.Set("zoo", 1)
	d.Set("apple", 2)
	d.Set("middle", 3)

	// Key-ordered iteration for deterministic output
	assert.Equal(t, "apple", d[0].Name)
	assert.Equal(t, "middle", d[1].Name)
	assert.Equal(t, "zoo", d[2].Name)

	v, ok := d.Get("middle")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	d.Delete("middle")
	assert.False(t, d.Contains("middle"))
	require.Len(t, d, 2)
}

func TestPulseSet(t *testing.T) {
	var s PulseSet
	s.Add(480)
	s.Add(0)
	s.Add(480) // duplicate

	require.Len(t, s, 2)
	assert.True(t, s.Contains(0))
	assert.True(t, s.Contains(480))
	assert.False(t, s.Contains(240))

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, Pulse(480), last)
}

func TestRemoveFloatingPointError(t *testing.T) {
	assert.Equal(t, 0.7, RemoveFloatingPointError(0.7000000001))
	assert.Equal(t, 1.66666666667, RemoveFloatingPointError(1.66666666667))
	assert.Equal(t, 0.0, RemoveFloatingPointError(0.0))
}

func TestAlmostEquals(t *testing.T) {
	assert.True(t, AlmostEquals(0.1+0.2, 0.3))
	assert.False(t, AlmostEquals(0.3, 0.300001))
}
