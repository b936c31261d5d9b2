// Package objstore uploads chat attachments to an S3-compatible bucket.
package objstore

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// Uploader stores bytes and returns an opaque reference to them.
type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType, pathHint string) (string, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	Logger    zerolog.Logger
}

type MinioStore struct {
	client *minio.Client
	cfg    Config
	now    func() time.Time
}

func NewMinio(cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("new minio client: %w", err)
	}
	return &MinioStore{client: client, cfg: cfg, now: time.Now}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", m.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.cfg.Bucket, minio.MakeBucketOptions{Region: m.cfg.Region}); err != nil {
		return fmt.Errorf("create bucket %q: %w", m.cfg.Bucket, err)
	}
	m.cfg.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("created object storage bucket")
	return nil
}

// Ping reports whether the bucket is reachable.
func (m *MinioStore) Ping(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", m.cfg.Bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %q does not exist", m.cfg.Bucket)
	}
	return nil
}

func (m *MinioStore) Upload(ctx context.Context, data []byte, contentType, pathHint string) (string, error) {
	key := ObjectKey(pathHint, m.now())
	_, err := m.client.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}
	return m.URL(key), nil
}

func (m *MinioStore) URL(key string) string {
	scheme := "http"
	if m.cfg.UseSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, m.cfg.Endpoint, m.cfg.Bucket, key)
}

// ObjectKey builds "<dir>/<timestamp>_<short id><ext>" from a hint such as
// "workspace_1/chat_2/report.pdf". Only the hint's extension is kept from the file name.
func ObjectKey(pathHint string, now time.Time) string {
	hint := strings.Trim(path.Clean("/"+pathHint), "/")
	dir, file := path.Split(hint)
	ext := strings.ToLower(path.Ext(file))
	name := now.UTC().Format("20060102_150405") + "_" + shortuuid.New()[:8] + ext
	return path.Join(dir, name)
}
