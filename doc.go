// Package vash is a bag-of-visual-words video retrieval index.
//
// Local descriptors extracted from video frames are clustered with k-means
// into a fixed-size visual vocabulary. Every video is then re-encoded as the
// sequence of its descriptors' nearest vocabulary words, and queries are
// ranked by comparing word histograms.
//
// # Quick Start
//
//	store := blobstore.NewLocalStore("./index")
//	idx, _ := vash.New(store, vash.WithVocabularySize(1000))
//
//	report, _ := idx.Train(ctx, []string{"a.vdf", "b.vdf", "c.vdf"})
//	fmt.Println(report.Videos, len(report.Skipped))
//
//	answer, _ := idx.Query(ctx, "query.vdf")
//	for _, r := range answer.Results {
//	    fmt.Println(r.Identity.Name, r.Score)
//	}
//
// Features come from a feature.Source. The default reads descriptor dump
// files (feature.FileSource); plug in a feature.FramePipeline to decode
// videos and run a keypoint detector instead.
//
// # Runs and Commits
//
// Train writes the vocabulary and database of a run under runs/<run-id>/ and
// then commits a manifest naming both blobs with their CRC32 checksums.
// Committing the manifest is the only point at which a run becomes visible:
// a run that fails in any phase leaves the previous run current. Query always
// answers from the committed run and verifies its checksums when loading it.
//
// Any blobstore.BlobStore can hold an index: the local file system, memory,
// S3 (optionally with a DynamoDB commit pointer) or MinIO. Run blobs can be
// compressed with LZ4 or zstd.
//
// # Errors
//
// Configuration problems, including a vocabulary larger than the number of
// distinct training descriptors, return ErrInvalidConfiguration. Videos
// whose features cannot be read are reported as *ExtractionError and skipped
// during training. A query without descriptors returns
// ErrInsufficientFeatures. Unreadable persisted data returns ErrCorrupt, and
// failed storage operations are *IOError.
package vash
