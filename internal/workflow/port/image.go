package port

import (
	"context"
)

// ImageOptions 出图参数
type ImageOptions struct {
	AspectRatio string
	SafetyLevel string
}

// ImageBackend 图像生成后端，返回可访问的图片 URL
type ImageBackend interface {
	GenerateImage(ctx context.Context, prompt string, opts ImageOptions) (string, error)
}
