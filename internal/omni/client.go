// Package omni は Omni の埋め込みダッシュボード用 URL を発行します。
//
// Omni の Standard SSO（/embed/sso/generate-url）を呼び出し、ログイン中ユーザーの
// 顧客IDを externalId として渡します。
package omni

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	generateURLPath = "/embed/sso/generate-url"
	// DefaultTimeout は Omni API 呼び出しの既定タイムアウトです。
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

// EmbedRequest は埋め込み URL の発行リクエストです。
type EmbedRequest struct {
	ContentPath string
	ExternalID  string
	Email       string
}

type generateURLRequest struct {
	Secret      string `json:"secret"`
	ContentPath string `json:"contentPath"`
	ExternalID  string `json:"externalId"`
	Email       string `json:"email"`
}

type generateURLResponse struct {
	URL string `json:"url"`
}

// Client は Omni API のクライアントです。
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient は Client を作成します。timeout が 0 以下の場合は DefaultTimeout を使います。
func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GenerateEmbedURL は Omni に埋め込み URL を発行させます。
// 返すエラーには Omni の応答内容が含まれるため、クライアントにそのまま返してはいけません。
func (c *Client) GenerateEmbedURL(ctx context.Context, req EmbedRequest) (string, error) {
	body, err := json.Marshal(generateURLRequest{
		Secret:      c.secret,
		ContentPath: req.ContentPath,
		ExternalID:  req.ExternalID,
		Email:       req.Email,
	})
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+generateURLPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call omni: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read omni response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("omni responded with status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	// 中継サーバーのエラーページなど JSON 以外の応答を弾く
	if mtype := mimetype.Detect(raw); !mtype.Is("application/json") {
		return "", fmt.Errorf("omni responded with %s instead of json", mtype.String())
	}

	var decoded generateURLResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode omni response: %w", err)
	}
	if decoded.URL == "" {
		return "", fmt.Errorf("omni response has no url")
	}
	return decoded.URL, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
