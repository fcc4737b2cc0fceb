// Package minio stores committed files in an S3-compatible service through
// the MinIO client.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tendant/simple-upload/pkg/simpleupload"
)

// Config options for the MinIO backend
type Config struct {
	Endpoint        string // host:port or a full http(s) URL
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string // prepended to every object path

	CreateBucketIfNotExist bool
}

// Backend implements simpleupload.BlobStore on top of minio-go
type Backend struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates the client. The bucket is only contacted when
// CreateBucketIfNotExist is set.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}

	endpoint := cfg.Endpoint
	// Accept a full URL and derive the TLS setting from its scheme.
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			cfg.UseSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	client.SetAppInfo("simple-upload", "1")

	b := &Backend{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}

	if cfg.CreateBucketIfNotExist {
		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
			}
		}
	}
	return b, nil
}

func (b *Backend) key(path string) string {
	return b.prefix + strings.TrimLeft(path, "/")
}

func (b *Backend) Has(ctx context.Context, path string) (bool, error) {
	_, err := b.client.StatObject(ctx, b.bucket, b.key(path), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, b.storageError("has", path, err)
	}
	return true, nil
}

// Write streams reader with an unknown size; minio-go switches to multipart
// uploads as needed.
func (b *Backend) Write(ctx context.Context, path string, reader io.Reader, meta simpleupload.WriteMeta) error {
	opts := minio.PutObjectOptions{ContentType: meta.ContentType}
	if _, err := b.client.PutObject(ctx, b.bucket, b.key(path), reader, -1, opts); err != nil {
		return b.storageError("write", path, err)
	}
	return nil
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.key(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, b.storageError("read", path, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the first Read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, simpleupload.ErrObjectNotFound
		}
		return nil, b.storageError("read", path, err)
	}
	return obj, nil
}

// Delete removes the object. RemoveObject succeeds for missing keys, so
// existence is checked first.
func (b *Backend) Delete(ctx context.Context, path string) error {
	ok, err := b.Has(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return simpleupload.ErrObjectNotFound
	}
	if err := b.client.RemoveObject(ctx, b.bucket, b.key(path), minio.RemoveObjectOptions{}); err != nil {
		return b.storageError("delete", path, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]simpleupload.Entry, error) {
	opts := minio.ListObjectsOptions{Prefix: b.key(prefix), Recursive: true}

	var entries []simpleupload.Entry
	for obj := range b.client.ListObjects(ctx, b.bucket, opts) {
		if obj.Err != nil {
			return nil, b.storageError("list", prefix, obj.Err)
		}
		entries = append(entries, simpleupload.Entry{
			Path:      strings.TrimPrefix(obj.Key, b.prefix),
			Size:      obj.Size,
			UpdatedAt: obj.LastModified,
		})
	}
	return entries, nil
}

func (b *Backend) Stat(ctx context.Context, path string) (*simpleupload.ObjectMeta, error) {
	info, err := b.client.StatObject(ctx, b.bucket, b.key(path), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, simpleupload.ErrObjectNotFound
		}
		return nil, b.storageError("stat", path, err)
	}
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &simpleupload.ObjectMeta{
		Path:        path,
		Size:        info.Size,
		ContentType: contentType,
		UpdatedAt:   info.LastModified,
		ETag:        strings.Trim(info.ETag, "\""),
	}, nil
}

func (b *Backend) storageError(op, path string, err error) error {
	return &simpleupload.StorageError{Backend: "minio", Key: b.key(path), Op: op, Err: err}
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject", "NotFound":
		return true
	}
	return false
}
