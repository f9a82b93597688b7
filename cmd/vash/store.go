package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/vash/blobstore"
	miniostore "github.com/hupe1980/vash/blobstore/minio"
	s3store "github.com/hupe1980/vash/blobstore/s3"
	"github.com/hupe1980/vash/internal/config"
)

func openStore(ctx context.Context, cfg config.StoreConfig) (blobstore.BlobStore, error) {
	switch cfg.Type {
	case "local":
		return blobstore.NewLocalStore(cfg.Path), nil
	case "s3":
		return openS3(ctx, cfg.S3)
	case "minio":
		return openMinIO(cfg.MinIO)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

func openS3(ctx context.Context, cfg config.S3Config) (blobstore.BlobStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	upload := s3store.DefaultUploadConfig()
	if cfg.PartSizeMB > 0 {
		upload.PartSize = cfg.PartSizeMB << 20
	}
	if cfg.Concurrency > 0 {
		upload.Concurrency = cfg.Concurrency
	}
	store := s3store.NewStore(client, cfg.Bucket,
		s3store.WithPrefix(cfg.Prefix),
		s3store.WithUploadConfig(upload),
	)
	if cfg.CommitTable == "" {
		return store, nil
	}

	baseURI := "s3://" + cfg.Bucket
	if p := strings.Trim(cfg.Prefix, "/"); p != "" {
		baseURI += "/" + p
	}
	return s3store.NewDDBCommitStore(store, dynamodb.NewFromConfig(awsCfg), cfg.CommitTable, baseURI), nil
}

func openMinIO(cfg config.MinIOConfig) (blobstore.BlobStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return miniostore.NewStore(client, cfg.Bucket, cfg.Prefix), nil
}
