package robot

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

const DefaultCalibrationFile = "calibration.json"

// Profile holds the calibrated limits of a single channel.
type Profile struct {
	ServoID      int       `json:"servo_id"`
	Min          int       `json:"min"`
	Max          int       `json:"max"`
	ProbeSamples int       `json:"probe_samples,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Valid reports whether the profile describes a usable range.
func (p Profile) Valid() bool {
	return ValidChannel(p.ServoID) && p.Min < p.Max
}

// Mid returns the centre of the calibrated range.
func (p Profile) Mid() int {
	return p.Min + (p.Max-p.Min)/2
}

// Contains reports whether raw lies within the calibrated range.
func (p Profile) Contains(raw int) bool {
	return raw >= p.Min && raw <= p.Max
}

// Normalize converts a raw servo position to a normalized value in the range [-100, 100].
func (p Profile) Normalize(raw int) float64 {
	rangeSize := float64(p.Max - p.Min)
	if rangeSize == 0 {
		return 0
	}
	return (float64(raw-p.Min)/rangeSize)*200 - 100
}

// Denormalize converts a normalized value [-100, 100] to a raw servo position.
func (p Profile) Denormalize(norm float64) int {
	rangeSize := float64(p.Max - p.Min)
	return int((norm+100)/200*rangeSize) + p.Min
}

// Calibration holds the profiles of all calibrated channels, keyed by servo ID.
type Calibration map[int]Profile

// LoadCalibration loads calibration data from a JSON file holding an array
// of profiles.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var profiles []Profile
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}

	cal := make(Calibration, len(profiles))
	for i, p := range profiles {
		if !p.Valid() {
			return nil, fmt.Errorf("calibration entry %d: invalid profile for servo %d (min %d, max %d)", i, p.ServoID, p.Min, p.Max)
		}
		cal[p.ServoID] = p
	}
	return cal, nil
}

// Save writes the calibration to path, ordered by servo ID.
func (c Calibration) Save(path string) error {
	data, err := json.MarshalIndent(c.Profiles(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Profiles returns all profiles ordered by servo ID.
func (c Calibration) Profiles() []Profile {
	out := make([]Profile, 0, len(c))
	for _, p := range c {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServoID < out[j].ServoID })
	return out
}

// ChannelIDs returns the calibrated servo IDs in order.
func (c Calibration) ChannelIDs() []int {
	ids := make([]int, 0, len(c))
	for _, id := range AllChannels() {
		if _, ok := c[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// ByName returns the profile of the named joint.
func (c Calibration) ByName(name ChannelName) (Profile, bool) {
	id, ok := ChannelByName(name)
	if !ok {
		return Profile{}, false
	}
	p, ok := c[id]
	return p, ok
}
