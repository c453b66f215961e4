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
)

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
	Region          string
}

// S3Client is an ObjectStore backed by S3-compatible storage (R2 in
// production).
type S3Client struct {
	client    *s3.Client
	presigner *s3.PresignClient
	publicURL string
}

func NewS3Client(cfg S3Config) (*S3Client, error) {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Client{
		client:    client,
		presigner: s3.NewPresignClient(client),
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (c *S3Client) Bucket(name string) (BucketHandle, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("bucket name not configured")
	}
	return &s3Bucket{client: c, name: name}, nil
}

type s3Bucket struct {
	client *S3Client
	name   string
}

func (b *s3Bucket) Upload(ctx context.Context, key string, body io.Reader, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := b.client.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	return nil
}

func (b *s3Bucket) PublicURL(key string) string {
	if b.client.publicURL != "" {
		return fmt.Sprintf("%s/%s", b.client.publicURL, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", b.name, key)
}

func (b *s3Bucket) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := b.client.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %w", err)
	}
	return req.URL, nil
}
