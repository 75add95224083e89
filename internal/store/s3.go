package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/fogfactory/scatter/internal/env"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// objectClient is the part of *minio.Client used by S3.
type objectClient interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	ListObjects(ctx context.Context, bucket string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
	GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// minioClient returns minio objects as plain readers.
type minioClient struct {
	*minio.Client
}

func (c minioClient) GetObject(ctx context.Context, bucket, object string, opts minio.GetObjectOptions) (io.ReadCloser, error) {
	obj, err := c.Client.GetObject(ctx, bucket, object, opts)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// S3 is a Source and a Sink over the objects of Bucket below Prefix. Keys are
// object names with Prefix removed.
type S3 struct {
	client objectClient
	Bucket string
	Prefix string
}

// NewS3 connects to the object store described by cfg.
func NewS3(cfg env.MinIO, bucket, prefix string) (*S3, error) {
	if cfg.Endpoint == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, errors.New("missing one or more required environment variables: MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	log.Println("Using MinIO endpoint:", cfg.Endpoint)
	return &S3{client: minioClient{client}, Bucket: bucket, Prefix: prefix}, nil
}

// ParseLocation splits "bucket/some/prefix" into its bucket and prefix. A
// non empty prefix always ends with a slash.
func ParseLocation(location string) (bucket, prefix string, err error) {
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(location, "s3://"), "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid location %q: missing bucket", location)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return bucket, prefix, nil
}

// At returns an S3 sharing the client of s, rooted at bucket and prefix.
func (s *S3) At(bucket, prefix string) *S3 {
	return &S3{client: s.client, Bucket: bucket, Prefix: prefix}
}

// EnsureBucket creates the bucket when it does not exist.
func (s *S3) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.Bucket, err)
	}
	return nil
}

// List returns the keys of the objects below Prefix.
func (s *S3) List(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: s.Prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", s.Bucket, s.Prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, s.Prefix))
	}
	return keys, nil
}

// Get reads the object of key.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	return s.GetObject(ctx, s.Bucket, s.Prefix+key)
}

// GetObject reads any object reachable by the client.
func (s *S3) GetObject(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, object, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", bucket, object, err)
	}
	return data, nil
}

// Put writes payload to the object of key.
func (s *S3) Put(ctx context.Context, key string, payload []byte) error {
	_, err := s.client.PutObject(ctx, s.Bucket, s.Prefix+key, bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("put %s/%s%s: %w", s.Bucket, s.Prefix, key, err)
	}
	return nil
}
