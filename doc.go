// Package dexhand is the motion engine for a 17-channel robotic hand driven
// by Feetech STS servos on a shared half-duplex bus.
//
// # Installation
//
//	go install github.com/gwillem/dexhand/cmd/dexhand@latest
//
// # Usage
//
// First, run setup to find the hand and calibrate every channel:
//
//	dexhand setup
//
// Then record and play back motions, mirror a tracked hand, or serve the
// HTTP API for a UI:
//
//	dexhand record --mode frame
//	dexhand play recordings/<file>.json
//	dexhand mirror -i landmarks.jsonl
//	dexhand serve
//
// Every command accepts --sim to run against the built-in servo simulator.
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/dexhand: CLI with setup, calibrate, record, play, mirror, serve and info commands
//   - pkg/bus: Servo protocol, bus transport with retries and exclusive leases
//   - pkg/robot: Channel model, calibration profiles, configuration
//   - pkg/calibrate: Limit probing for one channel at a time
//   - pkg/motion: Recording, interchange format and timed playback
//   - pkg/gesture: Hand landmark to channel target mapping
//   - pkg/engine: Operating modes tying the above together
//   - pkg/teleop: Landmark stream driver for mirroring
//   - pkg/api: HTTP/JSON API
package dexhand
