package sink

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/slidecap/slidecap/internal/types"
)

// MinioSink uploads full-resolution slide PNGs to object storage under
// {prefix}/slide_{index:03d}.png.
type MinioSink struct {
	client *minio.Client
	bucket string
	prefix string
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// NewMinioSink connects to the endpoint and ensures the bucket exists.
func NewMinioSink(ctx context.Context, cfg MinioConfig) (*MinioSink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
		slog.Info("bucket created", "bucket", cfg.Bucket)
	}

	return &MinioSink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Write implements Sink.
func (m *MinioSink) Write(ctx context.Context, slide *types.AcceptedSlide) error {
	img, err := bgrToRGBA(&slide.Frame)
	if err != nil {
		return fmt.Errorf("slide %d conversion failed: %w", slide.Index, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("png encode of slide %d failed: %w", slide.Index, err)
	}

	object := fmt.Sprintf("%s/slide_%03d.png", m.prefix, slide.Index)
	_, err = m.client.PutObject(ctx, m.bucket, object, &buf, int64(buf.Len()),
		minio.PutObjectOptions{
			ContentType: "image/png",
			UserMetadata: map[string]string{
				"slide-index": strconv.Itoa(slide.Index),
				"similarity":  strconv.FormatFloat(slide.Similarity, 'f', 4, 64),
				"captured-at": slide.Timestamp.Format(time.RFC3339),
			},
		})
	if err != nil {
		return fmt.Errorf("upload of %s failed: %w", object, err)
	}

	slog.Info("slide uploaded", "bucket", m.bucket, "object", object)
	return nil
}

// Close implements Sink.
func (m *MinioSink) Close() error { return nil }
