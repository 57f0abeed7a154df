package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	PresignTTL     time.Duration
	ForcePathStyle bool
}

// S3 stores objects in an S3-compatible bucket (AWS or MinIO).
type S3 struct {
	client     *s3.S3
	bucket     string
	presignTTL time.Duration
}

func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg := aws.Config{
		Region:           aws.String(region),
		S3ForcePathStyle: aws.Bool(cfg.ForcePathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		slog.Warn("No S3 credentials provided, falling back to the default credential chain")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	ttl := cfg.PresignTTL
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}

	return &S3{client: s3.New(sess), bucket: cfg.Bucket, presignTTL: ttl}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (b *S3) EnsureBucket(ctx context.Context) error {
	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)})
	if err == nil {
		return nil
	}
	slog.Info("Creating storage bucket", "bucket", b.bucket)
	if _, err := b.client.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeBucketAlreadyOwnedByYou {
			return nil
		}
		return storageErr("create bucket", b.bucket, err)
	}
	return nil
}

func (b *S3) PutObject(ctx context.Context, name string, content []byte) error {
	start := time.Now()
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		slog.Error("Failed to upload object", "bucket", b.bucket, "key", name, "error", err)
		return storageErr("put", name, err)
	}
	slog.Debug("Stored object", "bucket", b.bucket, "key", name, "size", len(content), "duration", time.Since(start))
	return nil
}

func (b *S3) GetObject(ctx context.Context, name string) ([]byte, error) {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, storageErr("get", name, ErrObjectNotFound)
		}
		return nil, storageErr("get", name, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, storageErr("read", name, err)
	}
	return data, nil
}

func (b *S3) DeleteObject(ctx context.Context, name string) error {
	_, err := b.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return storageErr("delete", name, err)
	}
	return nil
}

// PresignedGetURL signs locally; it does not check that the object exists.
func (b *S3) PresignedGetURL(_ context.Context, name string) (string, error) {
	req, _ := b.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(name),
	})
	url, err := req.Presign(b.presignTTL)
	if err != nil {
		return "", storageErr("presign", name, err)
	}
	return url, nil
}
