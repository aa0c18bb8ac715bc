// Package vision 定义推理端口: 把一张图片交给视觉模型，取回模型的原始文本输出。
package vision

import (
	"context"
	"errors"
	"fmt"

	"nutri-snap-go/internal/config"
)

// ErrInference 表示模型调用本身失败 (网络、超时、限流、非 2xx、空响应)。
// 适配器不做重试，重试由调用方决定。
var ErrInference = errors.New("inference failed")

// Inferrer 是推理端口。实现必须是无状态的，可被并发调用。
type Inferrer interface {
	Infer(ctx context.Context, image []byte, mimeType string) (string, error)
}

// NutritionPrompt 是固定的系统指令: 只输出严格的 JSON，估算偏高。
const NutritionPrompt = `You are a nutrition analysis assistant.
Identify every distinct food or drink item visible in the image and estimate the nutrition facts for the portion shown.
When uncertain, choose the upper bound of a reasonable estimate; never underestimate.
Respond with ONLY a JSON object, with no prose, no explanations and no markdown fences, in exactly this shape:
{"items":[{"name":"string","calories":0,"protein":0,"carbs":0,"fat":0}]}
calories is in kcal; protein, carbs and fat are in grams; every number is a non-negative whole number.
If the image contains no food, respond with {"items":[]}.`

// userInstruction 随图片一同发送。
const userInstruction = "Analyze this image and return the nutrition facts of each food item as JSON."

// New 根据配置中的 provider 创建推理客户端。
func New(ctx context.Context, cfg config.InferenceConfig) (Inferrer, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg), nil
	case "bedrock":
		return NewBedrockClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}

func inferenceError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInference, fmt.Sprintf(format, args...))
}

// wrapInference 同时保留 ErrInference 与底层错误 (例如 context.DeadlineExceeded)。
func wrapInference(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInference, op, err)
}
