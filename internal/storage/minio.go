package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/maneesh/quotadrive/internal/logger"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("quotadrive-storage")

// MinioClient stores file payloads in a MinIO bucket
type MinioClient struct {
	client     *minio.Client
	bucketName string
	partSize   uint64
}

// NewMinioClient initializes a new MinIO client and makes sure the bucket exists
func NewMinioClient(endpoint, accessKey, secretKey, bucketName string, useSSL bool, partSize uint64) (*MinioClient, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	mc := &MinioClient{
		client:     client,
		bucketName: bucketName,
		partSize:   partSize,
	}

	// Ensure bucket exists
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		logger.Log.Info().Str("bucket", bucketName).Msg("creating bucket")
		err = client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return mc, nil
}

// Stage uploads a payload. A size of -1 streams with multipart parts of the
// configured part size.
func (mc *MinioClient) Stage(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Handle, error) {
	ctx, span := tracer.Start(ctx, "minio.stage",
		trace.WithAttributes(
			attribute.String("object_key", key),
			attribute.Int64("size_bytes", size),
		),
	)
	defer span.End()

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := mc.client.PutObject(ctx, mc.bucketName, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    mc.partSize,
	})
	if err != nil {
		span.RecordError(err)
		return Handle{}, fmt.Errorf("failed to stage object: %w", err)
	}

	span.SetAttributes(attribute.Bool("upload_success", true))
	return Handle{Key: key, URL: fmt.Sprintf("/%s/%s", mc.bucketName, key)}, nil
}

// Erase removes a payload. Missing objects are not an error.
func (mc *MinioClient) Erase(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "minio.erase",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	err := mc.client.RemoveObject(ctx, mc.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		span.RecordError(err)
		return fmt.Errorf("failed to erase object: %w", err)
	}

	return nil
}

// Exists reports whether a payload is present
func (mc *MinioClient) Exists(ctx context.Context, key string) (bool, error) {
	ctx, span := tracer.Start(ctx, "minio.exists",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	_, err := mc.client.StatObject(ctx, mc.bucketName, key, minio.StatObjectOptions{})
	if isNoSuchKey(err) {
		span.SetAttributes(attribute.Bool("exists", false))
		return false, nil
	} else if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to stat object: %w", err)
	}

	span.SetAttributes(attribute.Bool("exists", true))
	return true, nil
}

// Open returns a reader over a payload
func (mc *MinioClient) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, span := tracer.Start(ctx, "minio.open",
		trace.WithAttributes(
			attribute.String("object_key", key),
		),
	)
	defer span.End()

	object, err := mc.client.GetObject(ctx, mc.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get object: %w", err)
	}

	// GetObject is lazy; Stat surfaces a missing key before any bytes are written
	if _, err := object.Stat(); err != nil {
		object.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	return object, nil
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
