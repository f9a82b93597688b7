// Package s3 stores run blobs in Amazon S3 and commits the CURRENT pointer
// through DynamoDB.
//
// # Usage
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", s3.WithPrefix("vash/"))
//
//	// Optional: atomic CURRENT updates for concurrent trainers.
//	committed := s3.NewDDBCommitStore(store, dynamodb.NewFromConfig(cfg), "vash-commits", "s3://my-bucket/vash/")
//
// # Features
//
//   - Range reads
//   - Multipart uploads through the transfer manager
//   - CRC32C checksums on single-part puts
//   - Automatic pagination for listing
package s3
