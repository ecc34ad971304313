// Package gesture maps 21-point hand landmarks onto channel targets with
// per-channel range mapping and exponential smoothing.
package gesture

import "math"

// NumLandmarks is the number of points in one hand observation.
const NumLandmarks = 21

// Landmark indices of the 21-point hand model.
const (
	Wrist = iota
	ThumbCMC
	ThumbMCP
	ThumbIP
	ThumbTip
	IndexMCP
	IndexPIP
	IndexDIP
	IndexTip
	MiddleMCP
	MiddlePIP
	MiddleDIP
	MiddleTip
	RingMCP
	RingPIP
	RingDIP
	RingTip
	PinkyMCP
	PinkyPIP
	PinkyDIP
	PinkyTip
)

// Landmark is one observed point. Coordinates are normalized image space,
// Confidence is in [0, 1].
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Confidence float64 `json:"confidence"`
}

type vec struct{ x, y, z float64 }

func (l Landmark) vec() vec { return vec{l.X, l.Y, l.Z} }

func (l Landmark) finite() bool {
	for _, v := range [...]float64{l.X, l.Y, l.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (a vec) sub(b vec) vec { return vec{a.x - b.x, a.y - b.y, a.z - b.z} }
func (a vec) dot(b vec) float64 {
	return a.x*b.x + a.y*b.y + a.z*b.z
}
func (a vec) cross(b vec) vec {
	return vec{a.y*b.z - a.z*b.y, a.z*b.x - a.x*b.z, a.x*b.y - a.y*b.x}
}
func (a vec) norm() float64 { return math.Sqrt(a.dot(a)) }

// angleAt returns the angle in degrees at vertex b between rays b->a and b->c.
func angleAt(a, b, c vec) (float64, bool) {
	u, v := a.sub(b), c.sub(b)
	nu, nv := u.norm(), v.norm()
	if nu == 0 || nv == 0 {
		return 0, false
	}
	cos := math.Max(-1, math.Min(1, u.dot(v)/(nu*nv)))
	return math.Acos(cos) * 180 / math.Pi, true
}

// palmRoll returns the rotation in degrees of the palm normal spanned by
// wrist->a and wrist->b, projected onto the image plane.
func palmRoll(wrist, a, b vec) (float64, bool) {
	n := a.sub(wrist).cross(b.sub(wrist))
	if n.x == 0 && n.y == 0 {
		return 0, false
	}
	return math.Atan2(n.y, n.x) * 180 / math.Pi, true
}
