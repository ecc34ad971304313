package gesture

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/dexhand/pkg/robot"
)

type fakeLimits map[int]robot.Profile

func (f fakeLimits) Limits(id int) (robot.Profile, bool) {
	p, ok := f[id]
	return p, ok
}

func calibrated(ids ...int) fakeLimits {
	l := fakeLimits{}
	for _, id := range ids {
		l[id] = robot.Profile{ServoID: id, Min: 1000, Max: 3000}
	}
	return l
}

// indexHand returns an observation whose index MCP joint is flexed by deg.
func indexHand(deg float64) []Landmark {
	lm := make([]Landmark, NumLandmarks)
	for i := range lm {
		lm[i] = Landmark{Confidence: 1}
	}
	rad := deg * math.Pi / 180
	lm[Wrist] = Landmark{X: 0, Y: 0, Confidence: 1}
	lm[IndexMCP] = Landmark{X: 0, Y: 1, Confidence: 1}
	lm[IndexPIP] = Landmark{X: math.Sin(rad), Y: 1 + math.Cos(rad), Confidence: 1}
	return lm
}

func indexProfile(smoothing float64) Profile {
	return Profile{
		MinConfidence: 0.5,
		Channels: []ChannelMapping{{
			Channel:     6,
			Feature:     Flexion,
			Landmarks:   []int{Wrist, IndexMCP, IndexPIP},
			SourceMin:   0,
			SourceMax:   90,
			Sensitivity: 1,
			Smoothing:   smoothing,
		}},
	}
}

func TestMapFrameScalesIntoCalibratedRange(t *testing.T) {
	tests := []struct {
		flex float64
		want int
	}{
		{0, 1000},
		{45, 2000},
		{90, 3000},
		{120, 3000},
	}
	for _, tt := range tests {
		m, err := NewMapper(indexProfile(1), calibrated(6))
		require.NoError(t, err)
		res := m.MapFrame(indexHand(tt.flex))
		assert.Empty(t, res.Errors)
		assert.InDelta(t, tt.want, res.Targets[6], 1, "flex %v", tt.flex)
	}
}

func TestMapFrameInvertAndSensitivity(t *testing.T) {
	p := indexProfile(1)
	p.Channels[0].Invert = true
	m, err := NewMapper(p, calibrated(6))
	require.NoError(t, err)
	assert.InDelta(t, 3000, m.MapFrame(indexHand(0)).Targets[6], 1)

	p = indexProfile(1)
	p.Channels[0].Sensitivity = 0.5
	m, err = NewMapper(p, calibrated(6))
	require.NoError(t, err)
	// Half sensitivity pulls the full range halfway towards the centre.
	assert.InDelta(t, 2500, m.MapFrame(indexHand(90)).Targets[6], 1)
}

func TestSmoothingOneTracksRawValue(t *testing.T) {
	m, err := NewMapper(indexProfile(1), calibrated(6))
	require.NoError(t, err)
	for _, deg := range []float64{0, 90, 45, 10} {
		raw := 1000 + int(math.Round(deg/90*2000))
		assert.InDelta(t, raw, m.MapFrame(indexHand(deg)).Targets[6], 1, "flex %v", deg)
	}
}

func TestSmoothingZeroHoldsFirstFrame(t *testing.T) {
	m, err := NewMapper(indexProfile(0), calibrated(6))
	require.NoError(t, err)
	first := m.MapFrame(indexHand(45)).Targets[6]
	for _, deg := range []float64{0, 90, 30} {
		assert.Equal(t, first, m.MapFrame(indexHand(deg)).Targets[6])
	}

	m.Reset()
	assert.InDelta(t, 3000, m.MapFrame(indexHand(90)).Targets[6], 1, "reset starts a new lineage")
}

func TestSmoothingBlendsWithPrevious(t *testing.T) {
	m, err := NewMapper(indexProfile(0.5), calibrated(6))
	require.NoError(t, err)
	m.MapFrame(indexHand(0))
	assert.InDelta(t, 2000, m.MapFrame(indexHand(90)).Targets[6], 1)
	assert.InDelta(t, 2500, m.MapFrame(indexHand(90)).Targets[6], 1)
}

func TestUncalibratedChannelReported(t *testing.T) {
	p := indexProfile(1)
	p.Channels = append(p.Channels, ChannelMapping{
		Channel:     9,
		Feature:     Flexion,
		Landmarks:   []int{Wrist, IndexMCP, IndexPIP},
		SourceMin:   0,
		SourceMax:   90,
		Sensitivity: 1,
		Smoothing:   1,
	})
	m, err := NewMapper(p, calibrated(6))
	require.NoError(t, err)

	res := m.MapFrame(indexHand(90))
	require.Len(t, res.Errors, 1)
	assert.ErrorIs(t, res.Errors[9], ErrUncalibrated)
	var me *MappingError
	require.ErrorAs(t, res.Errors[9], &me)
	assert.Equal(t, 9, me.Channel)
	assert.NotContains(t, res.Targets, 9)
	assert.InDelta(t, 3000, res.Targets[6], 1)
}

func TestLowConfidenceSkipsChannel(t *testing.T) {
	m, err := NewMapper(indexProfile(0.5), calibrated(6))
	require.NoError(t, err)
	m.MapFrame(indexHand(0))

	lm := indexHand(90)
	lm[IndexPIP].Confidence = 0.2
	res := m.MapFrame(lm)
	assert.Equal(t, []int{6}, res.Skipped)
	assert.Empty(t, res.Targets)

	// The skipped frame did not disturb the smoothing lineage.
	assert.InDelta(t, 2000, m.MapFrame(indexHand(90)).Targets[6], 1)

	res = m.MapFrame(indexHand(0)[:IndexMCP])
	assert.Equal(t, []int{6}, res.Skipped, "truncated observation")

	lm = indexHand(0)
	lm[IndexMCP].X = math.NaN()
	assert.Equal(t, []int{6}, m.MapFrame(lm).Skipped)
}

func TestDefaultProfile(t *testing.T) {
	p := DefaultProfile()
	require.NoError(t, p.Validate())
	require.Len(t, p.Channels, robot.NumChannels)
	for i, c := range p.Channels {
		assert.Equal(t, i+1, c.Channel)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Profile)
	}{
		{"unknown channel", func(p *Profile) { p.Channels[0].Channel = 18 }},
		{"duplicate channel", func(p *Profile) { p.Channels[1].Channel = 1 }},
		{"unknown feature", func(p *Profile) { p.Channels[0].Feature = "twist" }},
		{"two landmarks", func(p *Profile) { p.Channels[0].Landmarks = []int{0, 1} }},
		{"landmark index", func(p *Profile) { p.Channels[0].Landmarks[2] = 21 }},
		{"empty source range", func(p *Profile) { p.Channels[0].SourceMax = p.Channels[0].SourceMin }},
		{"sensitivity low", func(p *Profile) { p.Channels[0].Sensitivity = 0.05 }},
		{"sensitivity high", func(p *Profile) { p.Channels[0].Sensitivity = 2.5 }},
		{"smoothing", func(p *Profile) { p.Channels[0].Smoothing = 1.5 }},
		{"confidence", func(p *Profile) { p.MinConfidence = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile()
			tt.modify(&p)
			assert.Error(t, p.Validate())
			_, err := NewMapper(p, calibrated())
			assert.Error(t, err)
		})
	}
}

func TestProfileSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gesture.yaml")
	p := DefaultProfile()
	p.Channels[4].Invert = true
	require.NoError(t, p.Save(path))

	got, err := LoadProfile(path)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
