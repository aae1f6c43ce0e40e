package session

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig captures configuration for an S3-compatible scope.
type ObjectConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	Prefix    string
	UseSSL    bool
}

// ObjectBackend stores each key as an object at <prefix>/<scope>/<key>.
type ObjectBackend struct {
	client *minio.Client
	cfg    ObjectConfig
	scope  Scope
}

// NewObjectBackend creates the client and makes sure the bucket exists.
func NewObjectBackend(ctx context.Context, cfg ObjectConfig, scope Scope) (*ObjectBackend, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	cfg.AccessKey = strings.TrimSpace(cfg.AccessKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object session: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object session: bucket is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("object session: access key and secret key are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("object session: create client: %w", err)
	}

	backend := &ObjectBackend{client: client, cfg: cfg, scope: scope}
	if err = backend.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return backend, nil
}

func (o *ObjectBackend) ensureBucket(ctx context.Context) error {
	exists, err := o.client.BucketExists(ctx, o.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("object session: check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err = o.client.MakeBucket(ctx, o.cfg.Bucket, minio.MakeBucketOptions{Region: o.cfg.Region}); err != nil {
		return fmt.Errorf("object session: create bucket: %w", err)
	}
	return nil
}

func (o *ObjectBackend) objectKey(key string) string {
	// Keys contain "::"; escape them so every key is a single path segment.
	name := url.PathEscape(key)
	if o.cfg.Prefix == "" {
		return path.Join(string(o.scope), name)
	}
	return path.Join(o.cfg.Prefix, string(o.scope), name)
}

func (o *ObjectBackend) Get(ctx context.Context, key string) (string, bool, error) {
	fullKey := o.objectKey(key)
	object, err := o.client.GetObject(ctx, o.cfg.Bucket, fullKey, minio.GetObjectOptions{})
	if err != nil {
		if isObjectNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("object session: get %s: %w", fullKey, err)
	}
	defer func() {
		_ = object.Close()
	}()
	data, err := io.ReadAll(object)
	if err != nil {
		// GetObject is lazy; a missing key surfaces on first read.
		if isObjectNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("object session: read %s: %w", fullKey, err)
	}
	return string(data), true, nil
}

func (o *ObjectBackend) Set(ctx context.Context, key, value string) error {
	fullKey := o.objectKey(key)
	data := []byte(value)
	_, err := o.client.PutObject(ctx, o.cfg.Bucket, fullKey, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("object session: put %s: %w", fullKey, err)
	}
	return nil
}

func (o *ObjectBackend) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		fullKey := o.objectKey(key)
		if err := o.client.RemoveObject(ctx, o.cfg.Bucket, fullKey, minio.RemoveObjectOptions{}); err != nil && !isObjectNotFound(err) {
			return fmt.Errorf("object session: delete %s: %w", fullKey, err)
		}
	}
	return nil
}

func (o *ObjectBackend) Close() error { return nil }

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
