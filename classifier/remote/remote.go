// Package remote 通过 HTTP 调用远端情绪识别服务
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/vision"
)

// maxBody 响应体上限
const maxBody = 1 << 20

// Request 请求体
type Request struct {
	Image  string `json:"image"` // base64 JPEG
	Model  string `json:"model,omitempty"`
	Detect bool   `json:"detect"`
}

// Client 远端模型客户端
type Client struct {
	url    string
	apiKey string
	model  string
	http   *http.Client
}

func New(url, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		url:    url,
		apiKey: apiKey,
		model:  model,
		http:   &http.Client{Timeout: timeout},
	}
}

// Classify 以 JPEG 上传图像
func (c *Client) Classify(ctx context.Context, img image.Image, opts cascade.Options) (*emotion.Response, error) {
	jpg, err := vision.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	body, err := json.Marshal(Request{
		Image:  base64.StdEncoding.EncodeToString(jpg),
		Model:  c.model,
		Detect: opts.DetectFace,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote classifier returned %d: %s", resp.StatusCode, snippet(data))
	}

	return emotion.FromJSON(data)
}

func snippet(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
