package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// Client provides build-log storage on any S3-compatible endpoint (MinIO in
// the default deployment). Object keys follow builds/{build_id}/{job}.log.
type Client struct {
	s3        *s3.Client
	bucket    string
	presigner *s3.PresignClient
}

// Config holds connection settings for the object store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewClient creates an object storage client. Endpoint may be a bare
// host:port or carry an explicit scheme.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object storage configuration incomplete: endpoint, access key and secret key are required")
	}

	endpoint := cfg.Endpoint
	if !strings.Contains(endpoint, "://") {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		endpoint = scheme + "://" + endpoint
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion("us-east-1"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	logrus.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"bucket":   cfg.Bucket,
	}).Info("Object storage client initialized")

	return &Client{
		s3:        client,
		bucket:    cfg.Bucket,
		presigner: s3.NewPresignClient(client),
	}, nil
}

// EnsureBucket creates the configured bucket if it does not exist yet. Run
// once at startup.
func (c *Client) EnsureBucket(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err == nil {
		return nil
	}
	_, err = c.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// UploadLog stores a build log as text/plain under the given key.
func (c *Client) UploadLog(ctx context.Context, key, content string) error {
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload log: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": c.bucket,
		"key":    key,
	}).Debug("Build log uploaded")

	return nil
}

// GetLog reads back an archived build log.
func (c *Client) GetLog(ctx context.Context, key string) (string, error) {
	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch log: %w", err)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read log body: %w", err)
	}
	return string(content), nil
}

// PresignedLogURL returns a temporary download URL for a build log.
func (c *Client) PresignedLogURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := c.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign log URL: %w", err)
	}
	return req.URL, nil
}
