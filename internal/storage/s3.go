package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"social-realtime/internal/models"
)

// MediaStore is the blob store for voice notes, chat images and group avatars.
type MediaStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (models.MediaRef, error)
	Remove(ctx context.Context, key string) error
}

// S3Store wraps a MinIO/S3 client.
type S3Store struct {
	bucket         string
	publicBaseURL  string
	client         *minio.Client
	logger         *slog.Logger
	bucketInitOnce sync.Once
	bucketInitErr  error
}

// NewS3Store configures a store using the provided endpoint and credentials.
func NewS3Store(endpoint string, useSSL bool, accessKey, secretKey, bucket, publicBaseURL string, logger *slog.Logger) (*S3Store, error) {
	cleanEndpoint := strings.TrimSpace(endpoint)
	if cleanEndpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	if bucket = strings.TrimSpace(bucket); bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	client, err := minio.New(parseEndpoint(cleanEndpoint), &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(accessKey), strings.TrimSpace(secretKey), ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	base := strings.TrimSpace(publicBaseURL)
	if base == "" {
		base = cleanEndpoint
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Store{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
		client:        client,
		logger:        logger,
	}, nil
}

// Upload stores the content and returns its public URL and key.
func (s *S3Store) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) (models.MediaRef, error) {
	if reader == nil {
		return models.MediaRef{}, errors.New("s3: reader is required")
	}
	key = cleanKey(key)
	if key == "" {
		return models.MediaRef{}, errors.New("s3: object key is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return models.MediaRef{}, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return models.MediaRef{}, fmt.Errorf("s3: put object: %w", err)
	}
	ref := models.MediaRef{URL: fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key), Key: key}
	s.logger.Info("s3 upload completed", "bucket", s.bucket, "key", key)
	return ref, nil
}

// Remove deletes the object; a missing object is not an error.
func (s *S3Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, cleanKey(key), minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("s3: remove object: %w", err)
	}
	return nil
}

func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.bucketInitOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.bucketInitErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			s.bucketInitErr = fmt.Errorf("s3: create bucket: %w", err)
			return
		}
		policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/*"]}]}`, s.bucket)
		if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
			s.bucketInitErr = fmt.Errorf("s3: set bucket policy: %w", err)
		}
	})
	return s.bucketInitErr
}

func parseEndpoint(endpoint string) string {
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return endpoint
}

func cleanKey(key string) string {
	return strings.Trim(strings.TrimSpace(key), "/")
}

// MemoryStore keeps objects in process memory. Used when no S3 endpoint is configured.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) (models.MediaRef, error) {
	key = cleanKey(key)
	if key == "" {
		return models.MediaRef{}, errors.New("memory store: object key is required")
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return models.MediaRef{}, err
	}
	m.mu.Lock()
	m.objects[key] = buf.Bytes()
	m.mu.Unlock()
	return models.MediaRef{URL: "memory://" + key, Key: key}, nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, cleanKey(key))
	m.mu.Unlock()
	return nil
}

// Has reports whether an object is stored under key.
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[cleanKey(key)]
	return ok
}

var _ MediaStore = (*S3Store)(nil)
var _ MediaStore = (*MemoryStore)(nil)
