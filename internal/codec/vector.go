package codec

import "math"

// Vec3 is a three-component vector (position, velocity, …).
type Vec3 struct {
	X, Y, Z float32
}

// Quat is a rotation quaternion, scalar component first.
type Quat struct {
	W, X, Y, Z float32
}

// IdentityQuat is the no-rotation quaternion.
var IdentityQuat = Quat{W: 1}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Length returns the Euclidean length of v.
func (v Vec3) Length() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}
