package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3 providers.
const (
	ProviderAWS   = "aws"
	ProviderMinio = "minio"
)

// ErrUnknownProvider is returned for an S3 provider other than aws or minio.
var ErrUnknownProvider = errors.New("unknown S3 provider")

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Provider        string // aws (default) or minio
	Bucket          string // Publish target; fetches name their own bucket
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: access key ID
	SecretAccessKey string // Optional: secret access key
}

// objectStore is the provider-specific client behind S3Backend.
type objectStore interface {
	get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	put(ctx context.Context, bucket, key string, data io.Reader) error
	objectURL(bucket, key string) string
}

// S3Backend implements Backend for s3://bucket/key URIs and uploads
// published videos to the configured bucket.
type S3Backend struct {
	store  objectStore
	bucket string
}

// NewS3Backend creates a new S3Backend for the configured provider.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var (
		store objectStore
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderAWS:
		store, err = newAWSStore(ctx, cfg)
	case ProviderMinio:
		store, err = newMinioStore(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return &S3Backend{store: store, bucket: cfg.Bucket}, nil
}

func s3Location(u *url.URL) (string, string, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: expected s3://bucket/key", ErrInvalidURI)
	}
	return bucket, key, nil
}

// Fetch downloads the object. The caller closes the returned body.
func (b *S3Backend) Fetch(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	bucket, key, err := s3Location(u)
	if err != nil {
		return nil, err
	}
	return b.store.get(ctx, bucket, key)
}

// Store uploads data to the object.
func (b *S3Backend) Store(ctx context.Context, u *url.URL, data io.Reader) error {
	bucket, key, err := s3Location(u)
	if err != nil {
		return err
	}
	return b.store.put(ctx, bucket, key, data)
}

// Upload stores data under key in the configured bucket and returns the
// object URL.
func (b *S3Backend) Upload(ctx context.Context, key string, data io.Reader) (string, error) {
	if b.bucket == "" {
		return "", ErrS3NotConfigured
	}
	if err := b.store.put(ctx, b.bucket, key, data); err != nil {
		return "", err
	}
	return b.store.objectURL(b.bucket, key), nil
}

// awsStore talks to AWS S3, or any endpoint compatible with its SDK.
type awsStore struct {
	client   *s3.Client
	region   string
	endpoint string
}

func newAWSStore(ctx context.Context, cfg S3Config) (*awsStore, error) {
	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &awsStore{
		client:   s3.NewFromConfig(awsCfg, clientOpts...),
		region:   cfg.Region,
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
	}, nil
}

func (s *awsStore) get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return nil, fmt.Errorf("download from S3: %w", err)
	}
	return out.Body, nil
}

func (s *awsStore) put(ctx context.Context, bucket, key string, data io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   data,
	})
	if err != nil {
		return fmt.Errorf("upload to S3: %w", err)
	}
	return nil
}

func (s *awsStore) objectURL(bucket, key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", bucket, s.region, key)
}

func isAWSNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
