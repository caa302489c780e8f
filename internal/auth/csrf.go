package auth

import (
	"crypto/subtle"
	"net/http"
	"time"
)

// DefaultCSRFMaxAge は CSRF トークンの既定の有効期限です。
const DefaultCSRFMaxAge = time.Hour

const (
	CSRFHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// CSRFCodec はセッションに紐づいた CSRF トークンを発行・検証します。
// セッションと同じ秘密鍵を使いますが、署名の名前空間が異なるため
// セッショントークンとして再利用することはできません。
type CSRFCodec struct {
	signer *Signer
}

// NewCSRFCodec は CSRFCodec を作成します。
func NewCSRFCodec(secret []byte) (*CSRFCodec, error) {
	signer, err := NewSigner(secret, csrfNamespace)
	if err != nil {
		return nil, err
	}
	return &CSRFCodec{signer: signer}, nil
}

// Issue は sessionID に紐づく CSRF トークンを発行します。
func (c *CSRFCodec) Issue(sessionID string) (string, error) {
	return c.signer.Sign(sessionID)
}

// Verify は署名・有効期限・sessionID の一致をすべて満たす場合のみ true を返します。
func (c *CSRFCodec) Verify(token, sessionID string, maxAge time.Duration) bool {
	if sessionID == "" {
		return false
	}
	var bound string
	if !c.signer.Unsign(token, maxAge, &bound) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(bound), []byte(sessionID)) == 1
}

// requiresCSRF は状態を変更するメソッドかどうかを返します。
func requiresCSRF(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
