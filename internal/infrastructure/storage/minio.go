// Package storage 把生成的分镜图片持久化到 MinIO (S3 兼容)
package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"film-ai-api/internal/config"
	"film-ai-api/internal/domain/entity"
	apperrors "film-ai-api/pkg/errors"
	"film-ai-api/pkg/logger"
)

var tracer = otel.Tracer("storage")

const (
	defaultPresignTTL = 7 * 24 * time.Hour
	fetchTimeout      = 60 * time.Second
	maxImageBytes     = 32 << 20
)

// MinIOStore 分镜图片对象存储
type MinIOStore struct {
	client     *minio.Client
	bucket     string
	presignTTL time.Duration
	http       *http.Client
}

// NewMinIOStore 创建对象存储客户端，bucket 不存在时自动创建
func NewMinIOStore(cfg *config.Config) (*MinIOStore, error) {
	mc := cfg.Storage.MinIO
	client, err := minio.New(mc.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure: mc.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, mc.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, mc.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info(ctx, "minio bucket created", "bucket", mc.Bucket)
	}

	ttl := mc.PresignTTL
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &MinIOStore{
		client:     client,
		bucket:     mc.Bucket,
		presignTTL: ttl,
		http:       &http.Client{Timeout: fetchTimeout},
	}, nil
}

// ObjectKey 形如 storyboards/<project-slug>-<project-id>/scene-007.png
func ObjectKey(project *entity.Project, scene *entity.Scene, ext string) string {
	prefix := project.ID
	if s := slug.Make(project.Title); s != "" {
		prefix = s + "-" + project.ID
	}
	return fmt.Sprintf("storyboards/%s/scene-%03d%s", prefix, scene.SceneNumber, ext)
}

// StoreImage 拉取生成结果（http(s) 或 data URL）写入对象存储，返回对象键与预签名地址
func (s *MinIOStore) StoreImage(ctx context.Context, project *entity.Project, scene *entity.Scene, sourceURL string) (string, string, error) {
	ctx, span := tracer.Start(ctx, "storage.StoreImage")
	span.SetAttributes(
		attribute.String("project_id", project.ID),
		attribute.Int("scene_number", scene.SceneNumber),
	)
	defer span.End()

	data, contentType, err := s.fetch(ctx, sourceURL)
	if err != nil {
		span.RecordError(err)
		return "", "", apperrors.ErrStorage.WithDetail("fetch generated image").WithError(err)
	}

	key := ObjectKey(project, scene, extensionFor(contentType))
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		span.RecordError(err)
		return "", "", apperrors.ErrStorage.WithDetail("put object").WithError(err)
	}

	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.presignTTL, url.Values{})
	if err != nil {
		span.RecordError(err)
		return "", "", apperrors.ErrStorage.WithDetail("presign object").WithError(err)
	}

	logger.Debug(ctx, "storyboard image stored", "object_key", key, "bytes", len(data))
	return key, presigned.String(), nil
}

// HealthCheck 检查 bucket 可访问
func (s *MinIOStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}

func (s *MinIOStore) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	if strings.HasPrefix(sourceURL, "data:") {
		return DecodeDataURL(sourceURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

// DecodeDataURL 解析 data:<mime>;base64,<payload>
func DecodeDataURL(s string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("malformed data url")
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, "", fmt.Errorf("data url is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	contentType := strings.TrimSuffix(header, ";base64")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return data, contentType, nil
}

func extensionFor(contentType string) string {
	switch {
	case strings.Contains(contentType, "jpeg"), strings.Contains(contentType, "jpg"):
		return ".jpg"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	default:
		return ".png"
	}
}
