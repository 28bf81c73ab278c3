package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func gzipBytes(t *testing.T, s string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return &buf
}

func TestGzipMiddleware_CompressesResponseWhenAccepted(t *testing.T) {
	payload := `{"kind":"deposit","amount":"100.00"}`

	req := httptest.NewRequest(http.MethodPost, "/api/wallet/requests", strings.NewReader(payload))
	req.Header.Set("Accept-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "gzip", res.Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(res.Body)
	require.NoError(t, err)
	defer zr.Close()

	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestGzipMiddleware_PassthroughWithoutAcceptEncoding(t *testing.T) {
	payload := `{"amount":"500.00"}`

	req := httptest.NewRequest(http.MethodPost, "/api/bookings/1/price", strings.NewReader(payload))

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Empty(t, res.Header.Get("Content-Encoding"))

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestGzipMiddleware_DecompressesRequestBody(t *testing.T) {
	payload := `{"login":"masha","password":"secret"}`

	req := httptest.NewRequest(http.MethodPost, "/api/user/login", gzipBytes(t, payload))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, string(body))
}

func TestGzipMiddleware_RejectsMalformedCompressedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/user/login", strings.NewReader("not gzip at all"))
	req.Header.Set("Content-Encoding", "gzip")

	w := httptest.NewRecorder()
	GzipMiddleware(http.HandlerFunc(echoHandler)).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
