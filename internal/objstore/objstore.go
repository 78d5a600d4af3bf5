// Package objstore moves files between the local disk and S3-compatible
// object storage.
package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config selects the endpoint and credentials. An empty Endpoint uses AWS.
type Config struct {
	Endpoint string
	Region   string
	KeyID    string
	Secret   string
}

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store uploads and downloads objects.
type Store struct {
	api s3API
}

// New builds a Store. Custom endpoints use path-style addressing.
func New(cfg Config) *Store {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{Region: region}
	if cfg.KeyID != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.Secret, "")
	}
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return &Store{api: s3.New(opts)}
}

// IsS3 reports whether p is an s3:// URI.
func IsS3(p string) bool {
	return strings.HasPrefix(strings.ToLower(p), "s3://")
}

// ParseS3Path splits "s3://bucket/path/to/file" into bucket and key.
func ParseS3Path(s3Path string) (bucket, key string, err error) {
	u, err := url.Parse(s3Path)
	if err != nil {
		return "", "", fmt.Errorf("parse S3 path %q: %w", s3Path, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("expected s3:// scheme, got %q in %q", u.Scheme, s3Path)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("S3 path %q needs a bucket and a key", s3Path)
	}
	return u.Host, key, nil
}

// Join appends name to a local directory or an s3:// prefix.
func Join(base, name string) string {
	if IsS3(base) {
		return strings.TrimSuffix(base, "/") + "/" + path.Clean(name)
	}
	return filepath.Join(base, name)
}

// Upload copies a local file to s3Path.
func (s *Store) Upload(ctx context.Context, localPath, s3Path string) error {
	bucket, key, err := ParseS3Path(s3Path)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("upload %s to %s: %w", localPath, s3Path, err)
	}
	return nil
}

// Download copies s3Path to localPath, replacing it atomically.
func (s *Store) Download(ctx context.Context, s3Path, localPath string) error {
	bucket, key, err := ParseS3Path(s3Path)
	if err != nil {
		return err
	}
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", s3Path, err)
	}
	defer out.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", s3Path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), localPath)
}
