// Package testutil provides seeded data generators and ground-truth helpers
// for tests.
//
// All generators return flat row-major buffers, the layout every package in
// this module consumes.
//
//	rng := testutil.NewRNG(42)
//	points := rng.GaussianPoints(1000, 10)
//	blobs, labels := rng.Blobs(300, 5, 3, 0.5, 20)
package testutil
