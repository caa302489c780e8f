package omni

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yourusername/omni-embed-demo/internal/config"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

var (
	// ErrNotConfigured は Omni の接続設定が不足していることを表します。
	ErrNotConfigured = errors.New("omni is not configured")
	// ErrContentPathNotAllowed は許可リストにないコンテンツパスを表します。
	ErrContentPathNotAllowed = errors.New("content path not allowed")
	// ErrUpstream は Omni 呼び出しの失敗を表します。詳細はラップされたエラーに含まれます。
	ErrUpstream = errors.New("failed to generate embed url")
)

// URLGenerator は埋め込み URL を発行する外部サービスです。
type URLGenerator interface {
	GenerateEmbedURL(ctx context.Context, req EmbedRequest) (string, error)
}

// Service は許可リストの確認と Omni 呼び出しをまとめます。
type Service struct {
	generator URLGenerator
	allowlist map[string]struct{}
	problems  []string
}

// NewService は設定から Service を作成します。設定不足でも作成は成功し、
// 呼び出し時に ErrNotConfigured を返します。
func NewService(cfg *config.Config, generator URLGenerator) *Service {
	allow := make(map[string]struct{}, len(cfg.OmniContentPathAllowlist))
	for _, p := range cfg.OmniContentPathAllowlist {
		allow[p] = struct{}{}
	}
	if generator == nil {
		generator = NewClient(cfg.OmniBaseURL, cfg.OmniSecret, cfg.OmniTimeout)
	}
	return &Service{
		generator: generator,
		allowlist: allow,
		problems:  cfg.OmniWarnings(),
	}
}

// Configured は Omni を呼び出せる設定が揃っているかを返します。
func (s *Service) Configured() bool {
	return len(s.problems) == 0
}

// Allowed はコンテンツパスが許可リストに含まれるかを返します。完全一致で比較します。
func (s *Service) Allowed(contentPath string) bool {
	_, ok := s.allowlist[contentPath]
	return ok
}

// EmbedURLFor はユーザー向けの埋め込み URL を発行します。
// 設定確認、許可リスト確認の順に行い、通過した場合のみ Omni を呼び出します。
func (s *Service) EmbedURLFor(ctx context.Context, user *storage.User, contentPath string) (string, error) {
	if !s.Configured() {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, strings.Join(s.problems, "; "))
	}
	if !s.Allowed(contentPath) {
		return "", ErrContentPathNotAllowed
	}

	url, err := s.generator.GenerateEmbedURL(ctx, EmbedRequest{
		ContentPath: contentPath,
		ExternalID:  user.CustomerID,
		Email:       user.Email,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return url, nil
}
