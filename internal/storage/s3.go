package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config locates one object and the credentials used to reach it.
type S3Config struct {
	Bucket string
	Key    string
	Region string

	// Static credentials. When empty, the default AWS chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the S3 endpoint (MinIO, LocalStack). Path-style
	// addressing is used when it is set.
	Endpoint string
}

// s3API is the subset of *s3.Client used here.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Bucket stores the blob as a single S3 object.
type S3Bucket struct {
	client s3API
	bucket string
	key    string
}

// NewS3Bucket loads AWS configuration and creates a bucket for cfg.
func NewS3Bucket(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Bucket, error) {
	if cfg.Bucket == "" || cfg.Key == "" {
		return nil, errors.New("s3 bucket and key are required")
	}

	configOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		configOpts = append(configOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		if logger != nil {
			logger.Info("s3_endpoint_override", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
		}
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Bucket{
		client: s3.NewFromConfig(awsCfg, clientOpts...),
		bucket: cfg.Bucket,
		key:    cfg.Key,
	}, nil
}

func (b *S3Bucket) String() string {
	return "s3://" + b.bucket + "/" + b.key
}

// Read fetches the object, or ErrNotFound if the key does not exist.
func (b *S3Bucket) Read(ctx context.Context) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", b, ErrNotFound)
		}
		return nil, fmt.Errorf("reading %s: %w", b, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s body: %w", b, err)
	}
	return data, nil
}

// Write replaces the object.
func (b *S3Bucket) Write(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", b, err)
	}
	return nil
}
