package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoJSON отвечает JSON-документом с полученным телом запроса.
func echoJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"echo": string(body)})
}

func compress(t *testing.T, s string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return &buf
}

func readEcho(t *testing.T, res *http.Response) string {
	t.Helper()
	var r io.Reader = res.Body
	if res.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(res.Body)
		require.NoError(t, err)
		defer gr.Close()
		r = gr
	}

	var doc map[string]string
	require.NoError(t, json.NewDecoder(r).Decode(&doc))
	return doc["echo"]
}

func TestGzipMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		compressedBody bool
		acceptGzip     bool
	}{
		{name: "plain in, gzip out", body: `{"pages":2}`, acceptGzip: true},
		{name: "plain in, plain out", body: `{"pages":2}`},
		{name: "gzip in, gzip out", body: `{"amount":"25.00"}`, compressedBody: true, acceptGzip: true},
		{name: "gzip in, plain out", body: `{"event_type":"PAYMENT.CAPTURE.COMPLETED"}`, compressedBody: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.body)
			if tt.compressedBody {
				body = compress(t, tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/pricing/quote", body)
			req.Header.Set("Content-Type", "application/json")
			if tt.compressedBody {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptGzip {
				req.Header.Set("Accept-Encoding", "gzip, deflate")
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(echoJSON)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			assert.Equal(t, http.StatusOK, res.StatusCode)
			assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
			if tt.acceptGzip {
				assert.Equal(t, "gzip", res.Header.Get("Content-Encoding"))
				assert.Equal(t, "Accept-Encoding", res.Header.Get("Vary"))
			} else {
				assert.Empty(t, res.Header.Get("Content-Encoding"))
			}
			assert.Equal(t, tt.body, readEcho(t, res))
		})
	}
}

func TestGzipMiddleware_InvalidBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()

	GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("next handler should not be called")
	})).ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusBadRequest)
	}
}
