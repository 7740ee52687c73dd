// Package objstore downloads backup artifacts from object storage: an S3 or
// MinIO bucket through minio-go, or a local directory.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/persistorai/docmigrate/internal/models"
)

// Store fetches artifacts by storage key.
type Store interface {
	Ping(ctx context.Context) error
	Download(ctx context.Context, key string, dst io.Writer) (int64, error)
}

// S3Config configures an S3Client.
type S3Config struct {
	Endpoint  string // host:port or URL
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// S3Client implements Store with the minio-go SDK.
type S3Client struct {
	client *minio.Client
	bucket string
}

// NewS3Client creates an S3Client. An https:// endpoint implies SSL.
func NewS3Client(cfg S3Config) (*S3Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("S3 endpoint is required")
	}

	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("S3 credentials are required")
	}

	if cfg.Bucket == "" {
		return nil, errors.New("S3 bucket is required")
	}

	endpoint, useSSL := cfg.Endpoint, cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		useSSL = useSSL || u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating S3 client: %w", err)
	}

	return &S3Client{client: client, bucket: cfg.Bucket}, nil
}

// Ping checks that the bucket is reachable.
func (s *S3Client) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", s.bucket, err)
	}

	if !ok {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}

	return nil
}

// Download streams the object to dst.
func (s *S3Client) Download(ctx context.Context, key string, dst io.Writer) (int64, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return 0, classify(key, err)
	}
	defer obj.Close()

	n, err := io.Copy(dst, obj)
	if err != nil {
		return n, classify(key, err)
	}

	return n, nil
}

func classify(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", models.ErrArtifactNotFound, key)
	}

	return fmt.Errorf("downloading %s: %w", key, err)
}

// LocalStore implements Store over a directory. Keys are slash-separated
// paths relative to the root.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Ping checks that the root directory exists.
func (s *LocalStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("backup directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("backup directory %s is not a directory", s.root)
	}

	return nil
}

// Download copies the file to dst.
func (s *LocalStore) Download(ctx context.Context, key string, dst io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	path, err := s.path(key)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(path) //nolint:gosec // path is confined to the root by s.path.
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", models.ErrArtifactNotFound, key)
	}

	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", key, err)
	}
	defer f.Close()

	n, err := io.Copy(dst, f)
	if err != nil {
		return n, fmt.Errorf("reading %s: %w", key, err)
	}

	return n, nil
}

func (s *LocalStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key %q", key)
	}

	return filepath.Join(s.root, clean), nil
}
