package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/printquote/internal/metrics"
)

const providerDrive = "drive"

// HTTP talks to a script endpoint that fronts a third-party drive. Requests
// are form posts carrying one JSON field, payload, which includes the shared
// secret.
type HTTP struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
}

// HTTPOptions configures NewHTTP.
type HTTPOptions struct {
	URL     string
	Secret  string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTP(opts HTTPOptions) *HTTP {
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTP{url: opts.URL, secret: opts.Secret, timeout: opts.Timeout, client: client}
}

type httpResponse struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error"`
	Base64        string `json:"base64"`
	Filename      string `json:"filename"`
	Name          string `json:"name"`
	PreviewFileID string `json:"previewFileId"`
	URL           string `json:"url"`
}

func (b *HTTP) Download(ctx context.Context, fileID string) (*File, error) {
	resp, err := b.post(ctx, ActionDownload, map[string]interface{}{
		"fileId": fileID,
	})
	if err == nil && resp.Base64 == "" {
		err = &Error{Provider: providerDrive, Action: ActionDownload, Message: "response has no base64 content"}
	}
	var data []byte
	if err == nil {
		data, err = base64.StdEncoding.DecodeString(resp.Base64)
		if err != nil {
			err = &Error{Provider: providerDrive, Action: ActionDownload, Message: "invalid base64 content", Err: err}
		}
	}
	metrics.ObserveBridge(providerDrive, ActionDownload, err)
	if err != nil {
		return nil, err
	}
	return &File{Data: data, Filename: firstNonEmpty(resp.Filename, resp.Name, DefaultFilename)}, nil
}

func (b *HTTP) UploadPreview(ctx context.Context, orderID, filename, contentType string, data []byte) (*Upload, error) {
	resp, err := b.post(ctx, ActionUploadPreview, map[string]interface{}{
		"orderId":     orderID,
		"filename":    filename,
		"contentType": contentType,
		"base64":      base64.StdEncoding.EncodeToString(data),
	})
	metrics.ObserveBridge(providerDrive, ActionUploadPreview, err)
	if err != nil {
		return nil, err
	}
	return &Upload{Provider: providerDrive, FileID: resp.PreviewFileID, URL: resp.URL}, nil
}

func (b *HTTP) post(ctx context.Context, action string, fields map[string]interface{}) (*httpResponse, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	fields["action"] = action
	fields["secret"] = b.secret
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, &Error{Provider: providerDrive, Action: action, Err: err}
	}
	form := url.Values{"payload": {string(payload)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Provider: providerDrive, Action: action, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := time.Now()
	res, err := b.client.Do(req)
	if err != nil {
		return nil, &Error{Provider: providerDrive, Action: action, Err: err}
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &Error{Provider: providerDrive, Action: action, StatusCode: res.StatusCode, Err: err}
	}
	log.Debug().
		Str("action", action).
		Int("status", res.StatusCode).
		Int("bytes", len(body)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("bridge call")

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &Error{Provider: providerDrive, Action: action, StatusCode: res.StatusCode, Message: snippet(body)}
	}
	var out httpResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &Error{Provider: providerDrive, Action: action, StatusCode: res.StatusCode, Message: "invalid JSON response", Err: err}
	}
	if !out.OK {
		return nil, &Error{Provider: providerDrive, Action: action, StatusCode: res.StatusCode, Message: firstNonEmpty(out.Error, "Bridge error")}
	}
	return &out, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty response"
	}
	return s
}

var _ Bridge = (*HTTP)(nil)

// String hides the secret from %v logging.
func (b *HTTP) String() string { return fmt.Sprintf("bridge.HTTP{url: %q}", b.url) }
