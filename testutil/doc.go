// Package testutil provides testing utilities for vash.
//
// This package is intended for use in tests, examples and benchmarks only.
// It generates seeded synthetic descriptors and features, serves them
// through an in-memory feature.Source and writes descriptor dump files.
//
//	rng := testutil.NewRNG(seed)
//	centers := rng.Centers(4, 128, 10)
//	features := rng.ClusteredFeatures(centers, 50, 0.1)
package testutil
