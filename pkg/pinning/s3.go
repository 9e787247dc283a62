// Copyright 2025 rtastore Authors
// SPDX-License-Identifier: Apache-2.0

package pinning

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/contentid"
	"github.com/LeeDigitalWorks/rtastore/pkg/utils"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// BackendS3 pins into an S3-compatible bucket backed by IPFS. Such stores
// report the object's CID in the "cid" user metadata; objects served from
// the bucket's own gateway, so GatewayTemplate is required.
const BackendS3 = "s3"

func init() {
	Register(BackendS3, NewS3)
}

// S3 is a Pinner over an IPFS-backed S3 bucket.
type S3 struct {
	client  *s3.Client
	bucket  string
	prefix  string
	gateway string
	hasCred bool
}

// NewS3 creates an S3 pinner. Only static credentials are used.
func NewS3(cfg Config) (Pinner, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket required for s3 pinning")
	}
	if cfg.GatewayTemplate == "" {
		return nil, fmt.Errorf("gateway template required for s3 pinning")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	hasCred := cfg.AccessKeyID != "" && cfg.SecretAccessKey != ""
	if hasCred {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3{
		client:  s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		gateway: cfg.GatewayTemplate,
		hasCred: hasCred,
	}, nil
}

func (s *S3) Name() string {
	return BackendS3
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3) Pin(ctx context.Context, req PinRequest) (PinResult, error) {
	if !s.hasCred {
		return PinResult{}, ErrNoCredential
	}

	meta := make(map[string]string, len(req.Tags))
	for k, v := range req.Tags {
		meta[strings.ReplaceAll(k, "_", "-")] = v
	}

	key := s.key(req.Name)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(req.Data),
		ContentLength: aws.Int64(int64(len(req.Data))),
		Metadata:      meta,
	})
	if err != nil {
		return PinResult{}, fmt.Errorf("put object: %w", err)
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return PinResult{}, fmt.Errorf("head object: %w", err)
	}

	id := head.Metadata["cid"]
	if id == "" {
		return PinResult{}, fmt.Errorf("%w: %s/%s", ErrNoContentID, s.bucket, key)
	}
	if _, err := contentid.Parse(id); err != nil {
		return PinResult{}, fmt.Errorf("object %s/%s: %w", s.bucket, key, err)
	}

	return PinResult{
		ContentID: id,
		Size:      int64(len(req.Data)),
		Checksum:  utils.Crc64nvme(req.Data),
		PinnedAt:  time.Now(),
	}, nil
}

func (s *S3) GatewayURL(contentID string) string {
	return contentid.FillTemplate(s.gateway, contentID)
}

func (s *S3) Close() error {
	return nil
}
