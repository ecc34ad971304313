// Package robot models the 17-channel hand: channel naming, calibrated
// limits, the in-memory channel state and application configuration.
package robot

import "fmt"

// NumChannels is the number of servo channels in the hand.
const NumChannels = 17

// ChannelName identifies a joint of the hand.
type ChannelName string

// Channel names in servo ID order (ID 1 is ThumbRoll, ID 17 is Wrist).
const (
	ThumbRoll    ChannelName = "thumb_roll"
	ThumbCMC     ChannelName = "thumb_cmc"
	ThumbMCP     ChannelName = "thumb_mcp"
	ThumbIP      ChannelName = "thumb_ip"
	IndexSpread  ChannelName = "index_spread"
	IndexMCP     ChannelName = "index_mcp"
	IndexPIP     ChannelName = "index_pip"
	MiddleSpread ChannelName = "middle_spread"
	MiddleMCP    ChannelName = "middle_mcp"
	MiddlePIP    ChannelName = "middle_pip"
	RingSpread   ChannelName = "ring_spread"
	RingMCP      ChannelName = "ring_mcp"
	RingPIP      ChannelName = "ring_pip"
	PinkySpread  ChannelName = "pinky_spread"
	PinkyMCP     ChannelName = "pinky_mcp"
	PinkyPIP     ChannelName = "pinky_pip"
	Wrist        ChannelName = "wrist"
)

var channelNames = [NumChannels]ChannelName{
	ThumbRoll, ThumbCMC, ThumbMCP, ThumbIP,
	IndexSpread, IndexMCP, IndexPIP,
	MiddleSpread, MiddleMCP, MiddlePIP,
	RingSpread, RingMCP, RingPIP,
	PinkySpread, PinkyMCP, PinkyPIP,
	Wrist,
}

// AllChannels returns all channel IDs in order (1-17).
func AllChannels() []int {
	ids := make([]int, NumChannels)
	for i := range ids {
		ids[i] = i + 1
	}
	return ids
}

// Name returns the joint name of channel id.
func Name(id int) ChannelName {
	if !ValidChannel(id) {
		return ChannelName(fmt.Sprintf("channel_%d", id))
	}
	return channelNames[id-1]
}

// ChannelByName resolves a joint name to its channel ID.
func ChannelByName(name ChannelName) (int, bool) {
	for i, n := range channelNames {
		if n == name {
			return i + 1, true
		}
	}
	return 0, false
}

// ValidChannel reports whether id addresses one of the hand's channels.
func ValidChannel(id int) bool {
	return id >= 1 && id <= NumChannels
}

// Pose holds one target per channel; index 0 is channel 1.
type Pose [NumChannels]int

// At returns the value for channel id.
func (p Pose) At(id int) int { return p[id-1] }

// Set stores the value for channel id.
func (p *Pose) Set(id, v int) { p[id-1] = v }
