// Package s3blob provides a BlobStorage implementation backed by an
// S3-compatible object store (AWS S3, MinIO).
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/haukened/linkvault/internal/store"
)

var _ store.BlobStorage = (*BlobStore)(nil)

// API is the subset of the S3 client used by BlobStore.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Config locates the bucket and the credentials used to reach it.
type Config struct {
	Bucket    string
	Region    string
	Endpoint  string // empty for AWS; set for MinIO and other compatibles
	AccessKey string // empty to use the default credential chain
	SecretKey string
	Prefix    string // key prefix for every payload, e.g. "blobs/"
}

// loadAWSConfig is a seam for tests.
var loadAWSConfig = awsconfig.LoadDefaultConfig

// NewClient builds an S3 client from cfg. A custom endpoint switches to
// path-style addressing, which MinIO requires.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := loadAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// BlobStore implements store.BlobStorage on a single bucket. Locators are
// random UUIDs; object keys are the configured prefix plus the locator.
type BlobStore struct {
	api    API
	bucket string
	prefix string
}

// New returns a BlobStore using api against bucket.
func New(api API, bucket, prefix string) (*BlobStore, error) {
	if api == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	return &BlobStore{api: api, bucket: bucket, prefix: prefix}, nil
}

func (b *BlobStore) key(locator string) string { return b.prefix + locator }

// Put uploads exactly size bytes from r.
func (b *BlobStore) Put(ctx context.Context, r io.Reader, size int64) (string, error) {
	locator := uuid.NewString()
	_, err := b.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.key(locator)),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put: %w", err)
	}
	return locator, nil
}

// Open streams the object body.
func (b *BlobStore) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}
	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(locator)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, store.ErrBlobNotFound
		}
		return nil, fmt.Errorf("s3 get: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 reports success for missing keys.
func (b *BlobStore) Delete(ctx context.Context, locator string) error {
	if locator == "" {
		return nil
	}
	if err := validateLocator(locator); err != nil {
		return err
	}
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(locator)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete: %w", err)
	}
	return nil
}

// List returns locators of objects under the prefix last modified before cutoff.
func (b *BlobStore) List(ctx context.Context, cutoff time.Time) ([]string, error) {
	p := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	var locators []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			locator := strings.TrimPrefix(aws.ToString(obj.Key), b.prefix)
			if validateLocator(locator) != nil {
				continue
			}
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			locators = append(locators, locator)
		}
	}
	return locators, nil
}

// Ping checks that the bucket is reachable with the configured credentials.
func (b *BlobStore) Ping(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	return err
}

func validateLocator(locator string) error {
	u, err := uuid.Parse(locator)
	if err != nil || u.String() != locator {
		return errors.New("invalid blob locator")
	}
	return nil
}
