package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/router-for-me/clipify/sdk/auth"
	log "github.com/sirupsen/logrus"
)

const (
	objectStoreSecretPrefix = "secrets"
	objectStoreSecretExt    = ".sealed"
)

// ObjectStoreConfig captures configuration for the object storage-backed store.
type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
	PathStyle bool
}

// ObjectTokenStore keeps sealed values as objects in an S3-compatible bucket.
type ObjectTokenStore struct {
	client *minio.Client
	cfg    ObjectStoreConfig
	mu     sync.Mutex
}

// NewObjectTokenStore initializes an object storage backed store.
func NewObjectTokenStore(cfg ObjectStoreConfig) (*ObjectTokenStore, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store: bucket is required")
	}
	if cfg.AccessKey == "" {
		return nil, fmt.Errorf("object store: access key is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("object store: secret key is required")
	}

	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	if cfg.PathStyle {
		options.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("object store: create client: %w", err)
	}
	return &ObjectTokenStore{client: client, cfg: cfg}, nil
}

// Bootstrap ensures the target bucket exists.
func (s *ObjectTokenStore) Bootstrap(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("object store: not initialized")
	}
	return s.ensureBucket(ctx)
}

// Get downloads the sealed value for key.
func (s *ObjectTokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	fullKey := s.objectKey(key)
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, fullKey, minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("object store: get object %s: %w", fullKey, err)
	}
	defer func() {
		if errClose := object.Close(); errClose != nil {
			log.WithError(errClose).Warn("object store: close object")
		}
	}()
	data, err := io.ReadAll(object)
	if err != nil {
		if isObjectNotFound(err) {
			return nil, auth.ErrNotFound
		}
		return nil, fmt.Errorf("object store: read object %s: %w", fullKey, err)
	}
	return data, nil
}

// Put uploads value under key.
func (s *ObjectTokenStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putObject(ctx, s.objectKey(key), value, "application/octet-stream")
}

// Delete removes the object for key.
func (s *ObjectTokenStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteObject(ctx, s.objectKey(key))
}

// Clear removes every sealed object under the configured prefix.
func (s *ObjectTokenStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := s.prefixedKey(objectStoreSecretPrefix) + "/"
	objectCh := s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			if isObjectNotFound(object.Err) {
				return nil
			}
			return fmt.Errorf("object store: list objects: %w", object.Err)
		}
		if !strings.HasSuffix(object.Key, objectStoreSecretExt) {
			continue
		}
		if err := s.client.RemoveObject(ctx, s.cfg.Bucket, object.Key, minio.RemoveObjectOptions{}); err != nil && !isObjectNotFound(err) {
			return fmt.Errorf("object store: delete object %s: %w", object.Key, err)
		}
	}
	return nil
}

func (s *ObjectTokenStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object store: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
		return fmt.Errorf("object store: create bucket: %w", err)
	}
	return nil
}

func (s *ObjectTokenStore) putObject(ctx context.Context, fullKey string, data []byte, contentType string) error {
	if len(data) == 0 {
		return s.deleteObject(ctx, fullKey)
	}
	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.cfg.Bucket, fullKey, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("object store: put object %s: %w", fullKey, err)
	}
	return nil
}

func (s *ObjectTokenStore) deleteObject(ctx context.Context, fullKey string) error {
	err := s.client.RemoveObject(ctx, s.cfg.Bucket, fullKey, minio.RemoveObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return nil
		}
		return fmt.Errorf("object store: delete object %s: %w", fullKey, err)
	}
	return nil
}

func (s *ObjectTokenStore) objectKey(key string) string {
	return s.prefixedKey(objectStoreSecretPrefix + "/" + key + objectStoreSecretExt)
}

func (s *ObjectTokenStore) prefixedKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.cfg.Prefix == "" {
		return key
	}
	return strings.TrimLeft(s.cfg.Prefix+"/"+key, "/")
}

func isObjectNotFound(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound {
		return true
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
