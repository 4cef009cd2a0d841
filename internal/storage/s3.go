package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
)

// ErrBucketRequired is returned when S3 storage is created without a bucket.
var ErrBucketRequired = errors.New("storage: S3 bucket is required")

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Storage uploads media to S3. Uploads are staged on local disk first so
// the SDK gets a seekable body, and the staged copy is removed afterwards.
type S3Storage struct {
	*LocalStorage
	client *s3.Client
	bucket string
	region string
}

// NewS3Storage creates a new S3Storage instance.
// The stagingDir parameter specifies where uploads are staged.
func NewS3Storage(stagingDir string, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, ErrBucketRequired
	}

	local, err := NewLocalStorage(stagingDir)
	if err != nil {
		return nil, err
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		LocalStorage: local,
		client:       s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:       cfg.Bucket,
		region:       cfg.Region,
	}, nil
}

// Save uploads data to S3 under key and returns the object URL.
func (s *S3Storage) Save(ctx context.Context, key string, data io.Reader) (string, error) {
	staged, err := s.LocalStorage.Save(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	defer func() { _ = s.Remove(context.WithoutCancel(ctx), filepath.Base(staged)) }()

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(staged); err == nil {
		contentType = mt.String()
	}

	body, err := s.Open(ctx, filepath.Base(staged))
	if err != nil {
		return "", fmt.Errorf("open staged upload: %w", err)
	}
	defer func() { _ = body.Close() }()

	seeker, ok := body.(io.ReadSeeker)
	if !ok {
		return "", fmt.Errorf("open staged upload: not seekable")
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        seeker,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}

	return s.URL(key), nil
}

// URL returns the public URL of an object key.
func (s *S3Storage) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

var _ Storage = (*S3Storage)(nil)
