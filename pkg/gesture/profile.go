package gesture

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gwillem/dexhand/pkg/robot"
)

// Feature selects how a joint angle is derived from landmarks.
type Feature string

const (
	// Flexion is 180 minus the angle at the middle of three landmarks, so a
	// straight joint reads 0.
	Flexion Feature = "flexion"
	// Spread is the angle at the first of three landmarks between the rays
	// to the other two.
	Spread Feature = "spread"
	// Roll is the image-plane rotation of the palm normal spanned by three
	// landmarks (wrist first).
	Roll Feature = "roll"
)

// ChannelMapping maps one derived joint angle onto one channel.
type ChannelMapping struct {
	Channel     int     `yaml:"channel"`
	Feature     Feature `yaml:"feature"`
	Landmarks   []int   `yaml:"landmarks"`
	SourceMin   float64 `yaml:"source_min"` // angle mapped to the channel's min
	SourceMax   float64 `yaml:"source_max"` // angle mapped to the channel's max
	Invert      bool    `yaml:"invert"`
	Sensitivity float64 `yaml:"sensitivity"` // scales around the range centre, 0.1-2.0
	Smoothing   float64 `yaml:"smoothing"`   // weight of the new value, 0-1
}

// Profile is a complete landmark-to-channel mapping.
type Profile struct {
	MinConfidence float64          `yaml:"min_confidence"`
	Channels      []ChannelMapping `yaml:"channels"`
}

// LoadProfile reads a YAML mapping profile.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read gesture profile: %w", err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("unmarshal yaml: %w", err)
	}
	for i := range p.Channels {
		if p.Channels[i].Sensitivity == 0 {
			p.Channels[i].Sensitivity = 1
		}
	}
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Save writes the profile as YAML.
func (p Profile) Save(path string) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks every channel mapping.
func (p Profile) Validate() error {
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %.2f", p.MinConfidence)
	}
	seen := make(map[int]bool, len(p.Channels))
	for _, c := range p.Channels {
		if !robot.ValidChannel(c.Channel) {
			return fmt.Errorf("mapping for unknown channel %d", c.Channel)
		}
		if seen[c.Channel] {
			return fmt.Errorf("channel %d mapped twice", c.Channel)
		}
		seen[c.Channel] = true

		switch c.Feature {
		case Flexion, Spread, Roll:
		default:
			return fmt.Errorf("channel %d: unknown feature %q", c.Channel, c.Feature)
		}
		if len(c.Landmarks) != 3 {
			return fmt.Errorf("channel %d: %s needs 3 landmarks, got %d", c.Channel, c.Feature, len(c.Landmarks))
		}
		for _, idx := range c.Landmarks {
			if idx < 0 || idx >= NumLandmarks {
				return fmt.Errorf("channel %d: landmark index %d out of range", c.Channel, idx)
			}
		}
		if c.SourceMin == c.SourceMax {
			return fmt.Errorf("channel %d: empty source range", c.Channel)
		}
		if c.Sensitivity < 0.1 || c.Sensitivity > 2.0 {
			return fmt.Errorf("channel %d: sensitivity must be between 0.1 and 2.0, got %.2f", c.Channel, c.Sensitivity)
		}
		if c.Smoothing < 0 || c.Smoothing > 1 {
			return fmt.Errorf("channel %d: smoothing must be between 0 and 1, got %.2f", c.Channel, c.Smoothing)
		}
	}
	return nil
}

// DefaultProfile maps all 17 channels from a right hand facing the camera.
func DefaultProfile() Profile {
	flex := func(ch, a, b, c int, maxDeg float64) ChannelMapping {
		return ChannelMapping{Channel: ch, Feature: Flexion, Landmarks: []int{a, b, c}, SourceMin: 0, SourceMax: maxDeg}
	}
	spread := func(ch, pivot, a, b int) ChannelMapping {
		return ChannelMapping{Channel: ch, Feature: Spread, Landmarks: []int{pivot, a, b}, SourceMin: 70, SourceMax: 110}
	}

	channels := []ChannelMapping{
		{Channel: 1, Feature: Spread, Landmarks: []int{ThumbCMC, ThumbTip, IndexMCP}, SourceMin: 15, SourceMax: 60},
		flex(2, Wrist, ThumbCMC, ThumbMCP, 60),
		flex(3, ThumbCMC, ThumbMCP, ThumbIP, 60),
		flex(4, ThumbMCP, ThumbIP, ThumbTip, 80),

		spread(5, IndexMCP, IndexPIP, MiddleMCP),
		flex(6, Wrist, IndexMCP, IndexPIP, 90),
		flex(7, IndexMCP, IndexPIP, IndexDIP, 100),

		spread(8, MiddleMCP, MiddlePIP, IndexMCP),
		flex(9, Wrist, MiddleMCP, MiddlePIP, 90),
		flex(10, MiddleMCP, MiddlePIP, MiddleDIP, 100),

		spread(11, RingMCP, RingPIP, MiddleMCP),
		flex(12, Wrist, RingMCP, RingPIP, 90),
		flex(13, RingMCP, RingPIP, RingDIP, 100),

		spread(14, PinkyMCP, PinkyPIP, RingMCP),
		flex(15, Wrist, PinkyMCP, PinkyPIP, 90),
		flex(16, PinkyMCP, PinkyPIP, PinkyDIP, 100),

		{Channel: 17, Feature: Roll, Landmarks: []int{Wrist, IndexMCP, PinkyMCP}, SourceMin: -90, SourceMax: 90},
	}
	for i := range channels {
		channels[i].Sensitivity = 1
		channels[i].Smoothing = 0.5
	}
	return Profile{MinConfidence: 0.5, Channels: channels}
}
