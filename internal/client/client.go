// Package client は docqa HTTP API のクライアント
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jinford/docqa/internal/interface/api"
)

const (
	// DefaultBaseURL は API サーバの既定 URL
	DefaultBaseURL = "http://localhost:8000"
	// DefaultTimeout は 1 リクエストあたりのタイムアウト（回答生成を含む）
	DefaultTimeout = 2 * time.Minute
)

// APIError はサーバがエラーステータスを返した場合のエラー
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Detail)
}

// Client は docqa API クライアント
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient は使用する http.Client を設定する
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New は Client を作成する
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Health は GET / を呼び出し、サーバのメッセージを返す
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp api.MessageResponse
	if err := c.do(ctx, http.MethodGet, "/", nil, "", &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// Upload はファイルをアップロードして取り込みタスクを登録する
func (c *Client) Upload(ctx context.Context, path string) (*api.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	var resp api.UploadResponse
	if err := c.do(ctx, http.MethodPost, "/uploadfile/", &body, w.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status はタスクの状態を返す
func (c *Client) Status(ctx context.Context, taskID string) (*api.TaskStatusResponse, error) {
	var resp api.TaskStatusResponse
	if err := c.do(ctx, http.MethodGet, "/ingestion-status/"+url.PathEscape(taskID), nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel はタスクをキャンセルする
func (c *Client) Cancel(ctx context.Context, taskID string) (*api.TaskStatusResponse, error) {
	var resp api.TaskStatusResponse
	if err := c.do(ctx, http.MethodPost, "/ingestion-status/"+url.PathEscape(taskID)+"/cancel", nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListTasks は新しい順にタスクを返す
func (c *Client) ListTasks(ctx context.Context, limit int) ([]api.TaskStatusResponse, error) {
	path := "/ingestion-status/"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp api.TaskListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// Chat は質問を送信して回答を返す
func (c *Client) Chat(ctx context.Context, query string) (*api.ChatResponse, error) {
	payload, err := json.Marshal(api.ChatRequest{Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	var resp api.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat/", bytes.NewReader(payload), "application/json", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("communication error with the API: %w", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: res.StatusCode, Detail: errorDetail(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorDetail はレスポンスの detail を取り出す。JSON でなければ本文をそのまま返す。
func errorDetail(data []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(data, &e); err == nil && e.Detail != "" {
		return e.Detail
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return "no additional detail"
}
