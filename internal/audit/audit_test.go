package audit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/omni-embed-demo/internal/logging"
	"github.com/yourusername/omni-embed-demo/internal/storage"
)

type memoryWriter struct {
	records []*storage.AuditRecord
	err     error
}

func (w *memoryWriter) Append(_ context.Context, rec *storage.AuditRecord) error {
	if w.err != nil {
		return w.err
	}
	w.records = append(w.records, rec)
	return nil
}

func newTestContext(t *testing.T) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	req.Header.Set("User-Agent", "audit-test/1.0")
	c.Request = req
	return c
}

func TestFromRequest(t *testing.T) {
	c := newTestContext(t)

	rec := FromRequest(c, ActionGenerateEmbedURL, 7, "/dashboards/abc")
	assert.Equal(t, ActionGenerateEmbedURL, rec.Action)
	assert.Equal(t, "/dashboards/abc", rec.Resource)
	assert.Equal(t, "192.0.2.10", rec.IPAddress)
	assert.Equal(t, "audit-test/1.0", rec.UserAgent)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, int64(7), *rec.UserID)

	anonymous := FromRequest(c, ActionRegister, 0, "")
	assert.Nil(t, anonymous.UserID)
}

func TestLogWritesThroughRecorder(t *testing.T) {
	c := newTestContext(t)
	w := &memoryWriter{}

	Log(c, NewDirectRecorder(w), logging.Discard(), ActionLogin, 3, "")

	require.Len(t, w.records, 1)
	assert.Equal(t, ActionLogin, w.records[0].Action)
}

func TestLogIgnoresRecorderFailure(t *testing.T) {
	c := newTestContext(t)
	w := &memoryWriter{err: errors.New("disk full")}

	assert.NotPanics(t, func() {
		Log(c, NewDirectRecorder(w), logging.Discard(), ActionLogout, 3, "")
		Log(c, nil, logging.Discard(), ActionLogout, 3, "")
	})
	assert.Empty(t, w.records)
}
