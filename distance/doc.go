// Package distance provides the vector distance kernels shared by vocabulary
// training and quantization.
//
// Training and query-time encoding must see bit-identical distances, so every
// kernel here accumulates in a fixed order and never dispatches to a
// platform-specific implementation.
//
// # Usage
//
//	dist := distance.SquaredL2(a, b)
//	sim := distance.Dot(a, b)
package distance
