// Package objectstore keeps user uploads in S3 and hands back public URLs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/Togather-Foundation/safetynow/internal/config"
	"github.com/Togather-Foundation/safetynow/internal/metrics"
	"github.com/Togather-Foundation/safetynow/internal/telemetry"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// API is the subset of the S3 client the store calls.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Store struct {
	client  API
	bucket  string
	baseURL string
	timeout time.Duration
	logger  zerolog.Logger
}

// New builds a store on a real S3 client. A custom endpoint switches to
// path-style addressing for S3-compatible servers.
func New(awsCfg aws.Config, cfg config.StorageConfig, timeout time.Duration, logger zerolog.Logger) *Store {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg, timeout, logger)
}

func NewWithClient(client API, cfg config.StorageConfig, timeout time.Duration, logger zerolog.Logger) *Store {
	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: PublicBaseURL(cfg),
		timeout: timeout,
		logger:  logger.With().Str("component", "objectstore").Logger(),
	}
}

// PublicBaseURL is the prefix of every object URL the store returns.
func PublicBaseURL(cfg config.StorageConfig) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimRight(cfg.PublicBaseURL, "/")
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}

func (s *Store) URL(key string) string {
	return s.baseURL + "/" + strings.TrimLeft(key, "/")
}

// KeyFromURL reverses URL. It reports false for URLs outside the bucket.
func (s *Store) KeyFromURL(raw string) (string, bool) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(raw, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(raw, prefix)
	if unescaped, err := url.PathUnescape(key); err == nil {
		key = unescaped
	}
	if key == "" {
		return "", false
	}
	return key, true
}

func (s *Store) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (objectURL string, err error) {
	start := time.Now()
	ctx, span := telemetry.StartIntegrationSpan(ctx, "s3", "put_object")
	defer func() {
		metrics.ObserveIntegration("s3", "put_object", start, err)
		telemetry.EndSpan(span, err)
	}()

	// Request signing needs a seekable body.
	if _, ok := body.(io.ReadSeeker); !ok {
		data, err := io.ReadAll(io.LimitReader(body, size+1))
		if err != nil {
			return "", fmt.Errorf("read upload: %w", err)
		}
		if int64(len(data)) != size {
			return "", fmt.Errorf("upload size mismatch: declared %d, read %d", size, len(data))
		}
		body = bytes.NewReader(data)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}

	s.logger.Debug().Str("key", key).Int64("size", size).Msg("object stored")
	return s.URL(key), nil
}

// DeleteURL removes the object behind a URL returned by Put. URLs that do
// not point into the bucket are left alone.
func (s *Store) DeleteURL(ctx context.Context, objectURL string) error {
	key, ok := s.KeyFromURL(objectURL)
	if !ok {
		s.logger.Debug().Str("url", objectURL).Msg("skipping delete of foreign object url")
		return nil
	}
	return s.Delete(ctx, key)
}

func (s *Store) Delete(ctx context.Context, key string) (err error) {
	if key == "" {
		return errors.New("object key is required")
	}
	start := time.Now()
	ctx, span := telemetry.StartIntegrationSpan(ctx, "s3", "delete_object")
	defer func() {
		metrics.ObserveIntegration("s3", "delete_object", start, err)
		telemetry.EndSpan(span, err)
	}()

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
