package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/printquote/internal/config"
)

// scriptServer decodes the form payload and answers with reply.
func scriptServer(t *testing.T, reply func(payload map[string]interface{}) (int, interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("payload")), &payload))

		code, body := reply(payload)
		w.WriteHeader(code)
		if s, ok := body.(string); ok {
			_, _ = io.WriteString(w, s)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newHTTP(url string) *HTTP {
	return NewHTTP(HTTPOptions{URL: url, Secret: "s3cret", Timeout: 2 * time.Second})
}

func TestHTTPDownload(t *testing.T) {
	srv := scriptServer(t, func(p map[string]interface{}) (int, interface{}) {
		assert.Equal(t, "download", p["action"])
		assert.Equal(t, "s3cret", p["secret"])
		assert.Equal(t, "file-1", p["fileId"])
		return 200, map[string]interface{}{
			"ok":       true,
			"base64":   base64.StdEncoding.EncodeToString([]byte("%PDF-1.4")),
			"filename": "poster.pdf",
		}
	})

	f, err := newHTTP(srv.URL).Download(context.Background(), "file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4"), f.Data)
	assert.Equal(t, "poster.pdf", f.Filename)
}

func TestHTTPDownloadFilenameFallbacks(t *testing.T) {
	cases := []struct {
		name string
		resp map[string]interface{}
		want string
	}{
		{"name field", map[string]interface{}{"name": "scan.png"}, "scan.png"},
		{"neither", map[string]interface{}{}, DefaultFilename},
		{"filename wins", map[string]interface{}{"filename": "a.pdf", "name": "b.pdf"}, "a.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := scriptServer(t, func(map[string]interface{}) (int, interface{}) {
				tc.resp["ok"] = true
				tc.resp["base64"] = base64.StdEncoding.EncodeToString([]byte("x"))
				return 200, tc.resp
			})
			f, err := newHTTP(srv.URL).Download(context.Background(), "f")
			require.NoError(t, err)
			assert.Equal(t, tc.want, f.Filename)
		})
	}
}

func TestHTTPDownloadFailures(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		body   interface{}
		status int
		msg    string
	}{
		{"ok false", 200, map[string]interface{}{"ok": false, "error": "Unauthorized"}, 200, "Unauthorized"},
		{"ok false no message", 200, map[string]interface{}{"ok": false}, 200, "Bridge error"},
		{"empty base64", 200, map[string]interface{}{"ok": true, "base64": ""}, 0, "no base64"},
		{"server error", 500, "internal failure", 500, "internal failure"},
		{"not json", 200, "<html>login</html>", 200, "invalid JSON"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := scriptServer(t, func(map[string]interface{}) (int, interface{}) { return tc.code, tc.body })
			_, err := newHTTP(srv.URL).Download(context.Background(), "f")
			require.Error(t, err)

			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, ActionDownload, be.Action)
			assert.Equal(t, tc.status, be.StatusCode)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestHTTPTimeoutIsBridgeError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	b := NewHTTP(HTTPOptions{URL: srv.URL, Secret: "x", Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := b.Download(context.Background(), "f")
	require.Error(t, err)
	assert.True(t, IsBridgeError(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHTTPUploadPreview(t *testing.T) {
	srv := scriptServer(t, func(p map[string]interface{}) (int, interface{}) {
		assert.Equal(t, "uploadPreview", p["action"])
		assert.Equal(t, "s3cret", p["secret"])
		assert.Equal(t, "ord-9", p["orderId"])
		assert.Equal(t, "preview_ord-9.pdf", p["filename"])
		assert.Equal(t, "application/pdf", p["contentType"])
		raw, err := base64.StdEncoding.DecodeString(p["base64"].(string))
		assert.NoError(t, err)
		assert.Equal(t, "PDFDATA", string(raw))
		return 200, map[string]interface{}{"ok": true, "previewFileId": "pv-1", "url": "https://drive/pv-1"}
	})

	up, err := newHTTP(srv.URL).UploadPreview(context.Background(), "ord-9", "preview_ord-9.pdf", "application/pdf", []byte("PDFDATA"))
	require.NoError(t, err)
	assert.Equal(t, &Upload{Provider: "drive", FileID: "pv-1", URL: "https://drive/pv-1"}, up)
}

func TestHTTPStringHidesSecret(t *testing.T) {
	b := newHTTP("https://script.example/exec")
	assert.NotContains(t, b.String(), "s3cret")
}

type fakeS3 struct {
	objects map[string][]byte
	meta    map[string]map[string]string
	put     *s3.PutObjectInput
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data)), Metadata: f.meta[*in.Key]}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.put = in
	return &s3.PutObjectOutput{}, nil
}

func TestS3Bridge(t *testing.T) {
	fake := &fakeS3{
		objects: map[string][]byte{"uploads/abc": []byte("data"), "uploads/empty": {}},
		meta:    map[string]map[string]string{"uploads/abc": {"name": "flyer.pdf"}},
	}
	b := &S3{client: fake, bucket: "prints", timeout: time.Second}
	ctx := context.Background()

	f, err := b.Download(ctx, "uploads/abc")
	require.NoError(t, err)
	assert.Equal(t, "flyer.pdf", f.Filename)
	assert.Equal(t, []byte("data"), f.Data)

	_, err = b.Download(ctx, "uploads/missing")
	assert.True(t, IsBridgeError(err))
	_, err = b.Download(ctx, "uploads/empty")
	assert.True(t, IsBridgeError(err))

	up, err := b.UploadPreview(ctx, "o1", "preview_o1.pdf", "application/pdf", []byte("pdf"))
	require.NoError(t, err)
	assert.Equal(t, "previews/o1/preview_o1.pdf", up.FileID)
	assert.Equal(t, "s3://prints/previews/o1/preview_o1.pdf", up.URL)
	require.NotNil(t, fake.put)
	assert.Equal(t, "application/pdf", *fake.put.ContentType)
}

func TestOpen(t *testing.T) {
	b, closeFn, err := Open(context.Background(), config.BridgeConfig{Kind: "http", URL: "https://script.example/exec", Secret: "s", Timeout: time.Second}, "")
	require.NoError(t, err)
	assert.IsType(t, &HTTP{}, b)
	assert.NoError(t, closeFn())

	_, closeFn, err = Open(context.Background(), config.BridgeConfig{Kind: "carrier-pigeon"}, "")
	require.Error(t, err)
	assert.NotNil(t, closeFn)
}
