// Package gemini 用多模态大模型作为兜底情绪识别
package gemini

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/vision"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const systemPrompt = `You classify the facial expression of the most prominent student face in a classroom photo.
Answer with JSON only, no prose:
{"dominant_emotion": "<label>", "emotion": {"happy": p, "sad": p, "angry": p, "fear": p, "surprise": p, "disgust": p, "neutral": p}, "region": {"x": int, "y": int, "w": int, "h": int}}
Probabilities are between 0 and 1 and sum to 1. Omit "region" when no face is visible and use "neutral" with low probabilities.`

// Classifier Gemini 客户端，进程内复用
type Classifier struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// New 创建客户端
func New(ctx context.Context, apiKey, model string) (*Classifier, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	m := cl.GenerativeModel(strings.TrimSpace(model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}

	return &Classifier{client: cl, model: m}, nil
}

func (c *Classifier) Classify(ctx context.Context, img image.Image, opts cascade.Options) (*emotion.Response, error) {
	jpg, err := vision.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("gemini: encode image: %w", err)
	}

	hint := "The image is a cropped face."
	if opts.DetectFace {
		hint = "Locate the face yourself and report its region."
	}

	resp, err := c.model.GenerateContent(ctx,
		genai.Text(hint),
		genai.ImageData("jpeg", jpg),
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	txt := firstText(resp)
	if txt == "" {
		return nil, errors.New("gemini: empty response")
	}
	return ParseAnswer(txt)
}

func (c *Classifier) Close() error {
	return c.client.Close()
}

// ParseAnswer 去掉代码块标记后按统一响应解析
func ParseAnswer(txt string) (*emotion.Response, error) {
	resp, err := emotion.FromJSON([]byte(stripCodeFences(txt)))
	if err != nil {
		return nil, fmt.Errorf("gemini: bad JSON: %w", err)
	}
	return resp, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				sb.WriteString(string(t))
			}
		}
		if sb.Len() > 0 {
			return sb.String()
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func ptrFloat32(f float32) *float32 { return &f }
