// Package client 是 nutri-snap HTTP API 的客户端。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nutri-snap-go/internal/model"
	"nutri-snap-go/pkg/poller"
)

var (
	// ErrNotFound 表示记录不存在或不属于当前用户。
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized 表示 token 缺失、无效或已过期。
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError 是非 2xx 响应。
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Is 让 errors.Is 按状态码匹配 ErrNotFound 与 ErrUnauthorized。
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// Client 调用 /api/v1 下的接口。可被并发使用。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New 创建客户端。httpClient 为 nil 时使用 30 秒超时的默认客户端。
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
	}
}

// InitiateResult 是发起上传的结果。
type InitiateResult struct {
	UploadID string `json:"uploadId"`
	URL      string `json:"url"`
}

// Initiate 创建上传记录并取得预签名 PUT 链接。
func (c *Client) Initiate(ctx context.Context, fileName, fileType string) (*InitiateResult, error) {
	var out InitiateResult
	body := map[string]string{"fileName": fileName, "fileType": fileType}
	if err := c.do(ctx, http.MethodPost, "/api/v1/upload", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutObject 把图片直接写入预签名链接。Content-Type 必须与发起上传时一致。
func (c *Client) PutObject(ctx context.Context, presignedURL string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, presignedURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	return nil
}

// Get 读取一条记录及其营养条目。
func (c *Client) Get(ctx context.Context, id string) (*model.UploadResult, error) {
	var out model.UploadResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/files/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// List 返回当前用户的全部记录，最新的在前。
func (c *Client) List(ctx context.Context) ([]model.UploadFile, error) {
	var out []model.UploadFile
	if err := c.do(ctx, http.MethodGet, "/api/v1/files", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete 删除一条记录。
func (c *Client) Delete(ctx context.Context, id string) (*model.UploadFile, error) {
	var out struct {
		Data model.UploadFile `json:"data"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/files/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// Search 在当前用户的营养条目中按名称检索。
func (c *Client) Search(ctx context.Context, query string) ([]model.NutritionSearchHit, error) {
	var out struct {
		Data []model.NutritionSearchHit `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/nutrition/search?q="+url.QueryEscape(query), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// WaitForResult 轮询记录直到 SUCCESS 或 FAILED。FAILED 不是错误。
// 读取失败会退避重试，只有 404 / 401 以及 ctx 取消会提前结束。
func (c *Client) WaitForResult(ctx context.Context, id string, interval time.Duration, onUpdate func(*model.UploadResult)) (*model.UploadResult, error) {
	p := &poller.Poller{
		Interval: interval,
		OnUpdate: onUpdate,
		Stop: func(err error) bool {
			return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized)
		},
	}
	return p.Run(ctx, func(ctx context.Context) (*model.UploadResult, error) {
		return c.Get(ctx, id)
	})
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
