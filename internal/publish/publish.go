// Package publish uploads render artifacts to S3-compatible object
// storage and resolves the URLs stored on the session row.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"replaycast.app/studio/core/config"
)

// S3 caps presigned URLs at seven days. Deployments that need stable
// links should serve the bucket publicly and set STORAGE_PUBLIC_BASE_URL.
const maxPresignExpiry = 7 * 24 * time.Hour

type Publisher interface {
	PublishVideo(ctx context.Context, localPath string, projectID, sessionID uuid.UUID) (string, error)
	PublishThumbnail(ctx context.Context, localPath string, projectID, sessionID uuid.UUID) (string, error)
	PublishKeyframes(ctx context.Context, localPath string, projectID, sessionID uuid.UUID) (string, error)
}

type minioPublisher struct {
	client *minio.Client
	cfg    config.StorageConfig

	// Bucket provisioning happens lazily on the first upload and is
	// remembered for the client lifetime.
	mu          sync.Mutex
	bucketReady bool
}

func NewMinioPublisher(cfg config.StorageConfig) (Publisher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &minioPublisher{client: client, cfg: cfg}, nil
}

func (p *minioPublisher) PublishVideo(ctx context.Context, localPath string, projectID, sessionID uuid.UUID) (string, error) {
	ext := strings.ToLower(filepath.Ext(localPath))
	if ext == "" {
		ext = ".webm"
	}
	contentType := "video/webm"
	if ext == ".mp4" {
		contentType = "video/mp4"
	}
	return p.publishFile(ctx, localPath, objectKey(projectID, sessionID, "replay"+ext), contentType)
}

func (p *minioPublisher) PublishThumbnail(ctx context.Context, localPath string, projectID, sessionID uuid.UUID) (string, error) {
	return p.publishFile(ctx, localPath, objectKey(projectID, sessionID, "thumbnail.jpg"), "image/jpeg")
}

func (p *minioPublisher) PublishKeyframes(ctx context.Context, localPath string, projectID, sessionID uuid.UUID) (string, error) {
	return p.publishFile(ctx, localPath, objectKey(projectID, sessionID, "keyframes.json"), "application/json")
}

func (p *minioPublisher) publishFile(ctx context.Context, localPath, key, contentType string) (string, error) {
	if err := p.ensureBucket(ctx); err != nil {
		return "", err
	}

	// Uploads are upserts: re-publishing a session overwrites the old
	// artifacts under the same keys.
	info, err := p.client.FPutObject(ctx, p.cfg.Bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	slog.InfoContext(ctx, "artifact uploaded",
		"key", key,
		"size_bytes", info.Size,
		"content_type", contentType)

	return p.resolveURL(ctx, key)
}

func (p *minioPublisher) ensureBucket(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bucketReady {
		return nil
	}

	exists, err := p.client.BucketExists(ctx, p.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", p.cfg.Bucket, err)
	}
	if !exists {
		if err := p.client.MakeBucket(ctx, p.cfg.Bucket, minio.MakeBucketOptions{Region: p.cfg.Region}); err != nil {
			return fmt.Errorf("creating bucket %s: %w", p.cfg.Bucket, err)
		}
		slog.InfoContext(ctx, "created storage bucket", "bucket", p.cfg.Bucket)
	}

	p.bucketReady = true
	return nil
}

func (p *minioPublisher) resolveURL(ctx context.Context, key string) (string, error) {
	if p.cfg.PublicBaseURL != "" {
		resolved, err := url.JoinPath(p.cfg.PublicBaseURL, p.cfg.Bucket, key)
		if err != nil {
			return "", fmt.Errorf("joining public url: %w", err)
		}
		return resolved, nil
	}

	presigned, err := p.client.PresignedGetObject(ctx, p.cfg.Bucket, key, maxPresignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	return presigned.String(), nil
}

func objectKey(projectID, sessionID uuid.UUID, filename string) string {
	return fmt.Sprintf("videos/%s/%s/%s", projectID, sessionID, filename)
}
