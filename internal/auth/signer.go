package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
)

// Signer は値を JSON にシリアライズし、HMAC 署名とタイムスタンプを付けた
// URL セーフな文字列に変換します。namespace は署名対象に含まれるため、
// namespace の異なる Signer 同士ではトークンを流用できません。
type Signer struct {
	secret    []byte
	namespace string
}

// NewSigner は Signer を作成します。
func NewSigner(secret []byte, namespace string) (*Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("signer secret is empty")
	}
	if namespace == "" {
		return nil, errors.New("signer namespace is empty")
	}
	return &Signer{secret: secret, namespace: namespace}, nil
}

// Sign は value を署名付きトークンに変換します。発行時刻は署名方式側で埋め込まれます。
func (s *Signer) Sign(value any) (string, error) {
	token, err := s.codec(0).Encode(s.namespace, value)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", s.namespace, err)
	}
	return token, nil
}

// Unsign は署名と経過時間を検証し、dst に値を復元します。
// 署名不正・改ざん・期限切れを区別せず false を返します。
func (s *Signer) Unsign(token string, maxAge time.Duration, dst any) bool {
	seconds := int(maxAge / time.Second)
	if token == "" || seconds < 1 {
		return false
	}
	// 末尾文字の未使用ビットだけを書き換えたトークンも弾くため、正規形の base64 のみ受け付けます。
	if _, err := base64.URLEncoding.Strict().DecodeString(token); err != nil {
		return false
	}
	return s.codec(seconds).Decode(s.namespace, token, dst) == nil
}

func (s *Signer) codec(maxAgeSeconds int) *securecookie.SecureCookie {
	return securecookie.New(s.secret, nil).
		SetSerializer(securecookie.JSONEncoder{}).
		MaxAge(maxAgeSeconds)
}
