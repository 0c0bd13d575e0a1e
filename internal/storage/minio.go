package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// minioStore talks to self-hosted S3-compatible servers through minio-go.
type minioStore struct {
	client *minio.Client
}

func newMinioStore(cfg S3Config) (*minioStore, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: minio provider requires an endpoint", ErrS3NotConfigured)
	}

	host, secure := cfg.Endpoint, true
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		host, secure = u.Host, u.Scheme == "https"
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  miniocreds.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &minioStore{client: client}, nil
}

func (s *minioStore) get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(err, bucket, key)
	}
	// GetObject is lazy; Stat surfaces a missing object before any read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s.mapErr(err, bucket, key)
	}
	return obj, nil
}

func (s *minioStore) put(ctx context.Context, bucket, key string, data io.Reader) error {
	_, err := s.client.PutObject(ctx, bucket, key, data, -1, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("upload to minio: %w", err)
	}
	return nil
}

func (s *minioStore) objectURL(bucket, key string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(s.client.EndpointURL().String(), "/"), bucket, key)
}

func (s *minioStore) mapErr(err error, bucket, key string) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
	}
	return fmt.Errorf("download from minio: %w", err)
}
