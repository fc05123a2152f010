package storage

import (
	"context"
	"fmt"
	"log"

	"github.com/ariebrainware/incident-watch/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of *s3.Client used here.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store talks to any S3-compatible endpoint (AWS, Supabase storage, MinIO).
type S3Store struct {
	client     s3API
	publicBase string
}

// NewS3Store builds a store from cfg. It returns config.ErrStorageNotConfigured
// when credentials or the public base URL are missing.
func NewS3Store(ctx context.Context, cfg config.StorageConfig) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// Supabase and MinIO only serve path-style requests
			o.UsePathStyle = true
		}
	})

	log.Printf("[Storage] S3 client initialized (endpoint=%q region=%s)", cfg.EndpointURL, cfg.Region)
	return newS3Store(client, cfg.PublicURL), nil
}

func newS3Store(client s3API, publicBase string) *S3Store {
	return &S3Store{client: client, publicBase: publicBase}
}

// Put uploads obj and returns its public URL.
func (s *S3Store) Put(ctx context.Context, obj Object) (string, error) {
	if err := obj.validate(); err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(string(obj.Bucket)),
		Key:    aws.String(obj.Key),
		Body:   obj.Body,
	}
	if obj.ContentType != "" {
		input.ContentType = aws.String(obj.ContentType)
	}
	if obj.Size > 0 {
		input.ContentLength = aws.Int64(obj.Size)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to upload %s/%s: %w", obj.Bucket, obj.Key, err)
	}
	return PublicURL(s.publicBase, obj.Bucket, obj.Key), nil
}

// Delete removes the object behind publicURL.
func (s *S3Store) Delete(ctx context.Context, publicURL string) error {
	bucket, key, err := ParseURL(s.publicBase, publicURL)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(string(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", bucket, key, err)
	}
	return nil
}
