// Package sidecar 通过 Unix socket 调用本地模型服务进程，msgpack 编码
package sidecar

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"time"

	"github.com/TIANLI0/MoodLens/cascade"
	"github.com/TIANLI0/MoodLens/emotion"
	"github.com/TIANLI0/MoodLens/vision"
	"github.com/vmihailenco/msgpack/v5"
)

// Request 发送给模型服务的请求
type Request struct {
	Height int    `msgpack:"h"`
	Width  int    `msgpack:"w"`
	Data   []byte `msgpack:"d"` // RGB uint8，行优先，形状 (H, W, 3)
	Model  string `msgpack:"m"`
	Detect bool   `msgpack:"det"`
}

// Client 单个模型的调用客户端
type Client struct {
	socketPath string
	model      string
	timeout    time.Duration
}

func New(socketPath, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		socketPath: socketPath,
		model:      model,
		timeout:    timeout,
	}
}

// Classify 发送整帧或裁剪后的人脸，返回模型原始结果
func (c *Client) Classify(ctx context.Context, img image.Image, opts cascade.Options) (*emotion.Response, error) {
	data, width, height := vision.RGB(img)

	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to model service: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetDeadline(deadline)

	reqData, err := msgpack.Marshal(Request{
		Height: height,
		Width:  width,
		Data:   data,
		Model:  c.model,
		Detect: opts.DetectFace,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		uc.CloseWrite()
	}

	respData, err := io.ReadAll(conn)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return decodeResponse(respData)
}

func decodeResponse(data []byte) (*emotion.Response, error) {
	if len(data) == 0 {
		return nil, errors.New("empty response from model service")
	}

	var raw any
	if err := msgpack.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if m, ok := raw.(map[string]any); ok {
		if msg, ok := m["error"].(string); ok && msg != "" {
			return nil, fmt.Errorf("model service: %s", msg)
		}
	}
	return emotion.FromValue(raw)
}
