package minio

import (
	"back-to-origin/internal/config"
	"back-to-origin/internal/core/domain"
	"back-to-origin/internal/core/port"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Adapter is the primary store backed by minio or any S3 compatible service
type Adapter struct {
	client *minio.Client
	core   *minio.Core
	config config.MinioConfig
	logger *slog.Logger
}

// NewAdapter returns Adapter
func NewAdapter(ctx context.Context, cfg config.MinioConfig, logger *slog.Logger) (*Adapter, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	core := minio.Core{Client: client}
	return &Adapter{client: client, config: cfg, core: &core, logger: logger}, nil
}

// StatObject returns the object metadata or domain.ErrObjectNotFound
func (a *Adapter) StatObject(ctx context.Context, key string) (*domain.ObjectInfo, error) {
	info, err := a.client.StatObject(ctx, a.config.BucketName, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, translate(err, "failed to get object info")
	}
	return toObjectInfo(info), nil
}

// OpenObject opens the object for reading. The body supports seeking so it can serve ranges.
func (a *Adapter) OpenObject(ctx context.Context, key string) (port.ReadSeekCloser, *domain.ObjectInfo, error) {
	object, err := a.client.GetObject(ctx, a.config.BucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, nil, translate(err, "failed to get object")
	}

	info, err := object.Stat()
	if err != nil {
		_ = object.Close()
		return nil, nil, translate(err, "failed to get object")
	}
	return object, toObjectInfo(info), nil
}

// PutObject streams body into key in one request
func (a *Adapter) PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := a.client.PutObject(ctx, a.config.BucketName, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}

// InitMultipartUpload inits a multi part upload
func (a *Adapter) InitMultipartUpload(ctx context.Context, key string, contentType string) (string, error) {
	uploadID, err := a.core.NewMultipartUpload(ctx, a.config.BucketName, key, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to init multipart upload: %w", err)
	}
	return uploadID, nil
}

// UploadPart uploads one part and returns its etag
func (a *Adapter) UploadPart(ctx context.Context, key string, uploadID string, part int, body io.Reader, size int64) (string, error) {
	uploaded, err := a.core.PutObjectPart(ctx, a.config.BucketName, key, uploadID, part, body, size, minio.PutObjectPartOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to upload part %d: %w", part, err)
	}
	return strings.Trim(uploaded.ETag, "\""), nil
}

// CompleteMultipartUpload assembles the uploaded parts into the final object
func (a *Adapter) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []domain.UploadedPart) error {

	sorted := make([]domain.UploadedPart, len(parts))
	copy(sorted, parts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].PartNumber < sorted[j].PartNumber
	})

	completeParts := make([]minio.CompletePart, 0, len(sorted))
	for _, part := range sorted {
		completeParts = append(completeParts, minio.CompletePart{
			PartNumber: part.PartNumber,
			ETag:       strings.Trim(part.ETag, "\""),
		})
	}

	_, err := a.core.CompleteMultipartUpload(ctx, a.config.BucketName, key, uploadID, completeParts, minio.PutObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchUpload" {
			return fmt.Errorf("failed to complete multipart upload: %w", errors.Join(domain.ErrUploadNotFound, err))
		}
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}

	return nil
}

// AbortMultipartUpload aborts the upload. An upload that no longer exists is not an error.
func (a *Adapter) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	err := a.core.AbortMultipartUpload(ctx, a.config.BucketName, key, uploadID)
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchUpload" {
		return fmt.Errorf("failed to abort multipart upload: %w", err)
	}

	a.logger.Info("multipart upload aborted",
		slog.String("key", key),
		slog.String("upload_id", uploadID))

	return nil
}

func toObjectInfo(info minio.ObjectInfo) *domain.ObjectInfo {
	return &domain.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         strings.Trim(info.ETag, "\""),
		LastModified: info.LastModified,
	}
}

// translate maps a missing or forbidden object to domain.ErrObjectNotFound
func translate(err error, msg string) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey", resp.Code == "AccessDenied",
		resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w", msg, errors.Join(domain.ErrObjectNotFound, err))
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}
