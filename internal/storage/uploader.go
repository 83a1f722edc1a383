// Package storage wraps the S3-compatible blob store used for derivative
// uploads and public URL composition.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	contentTypeWebP = "image/webp"
	cacheControl    = "public, max-age=31536000, immutable"
)

// Uploader puts WebP derivatives into an S3-compatible bucket.
type Uploader struct {
	client     *s3.Client
	bucketName string
	publicURL  string
}

// Config holds the credentials and endpoint needed to reach the bucket.
type Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// NewUploader builds an Uploader against an R2-compatible S3 endpoint.
func NewUploader(cfg Config) (*Uploader, error) {
	if cfg.AccountID == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.BucketName == "" {
		return nil, fmt.Errorf("storage: missing bucket configuration")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.New(s3.Options{
		Region:       "auto",
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	})

	return &Uploader{
		client:     client,
		bucketName: cfg.BucketName,
		publicURL:  cfg.PublicURL,
	}, nil
}

// Put uploads a WebP derivative at storagePath, upserting any prior object
// at the same key. Retries are not performed here; the caller treats any
// error as fatal for the job.
func (u *Uploader) Put(ctx context.Context, storagePath string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.bucketName),
		Key:          aws.String(storagePath),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentTypeWebP),
		CacheControl: aws.String(cacheControl),
	})
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", storagePath, err)
	}
	return nil
}

// PublicURL composes the externally reachable URL for a stored object.
func (u *Uploader) PublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", u.publicURL, u.bucketName, storagePath)
}
