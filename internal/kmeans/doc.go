// Package kmeans implements Lloyd's k-means clustering for vocabulary training.
//
// Vectors are passed as one flattened []float32 (n * dim). Seeding is driven
// by an explicit seed, and the assignment step partitions the input into
// shards whose boundaries depend only on n, so the trained centroids are
// identical for any worker count.
package kmeans
