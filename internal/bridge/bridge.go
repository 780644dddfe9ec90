// Package bridge moves original uploads and rendered previews between the
// worker and the file store that holds them.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	ActionDownload      = "download"
	ActionUploadPreview = "uploadPreview"

	// DefaultFilename is used when the file store reports no name.
	DefaultFilename = "input.pdf"
)

// File is a downloaded original.
type File struct {
	Data     []byte
	Filename string
}

// Upload identifies a stored preview.
type Upload struct {
	Provider string
	FileID   string
	URL      string
}

// Bridge is the remote file store. Every call is bounded by the
// implementation's timeout.
type Bridge interface {
	Download(ctx context.Context, fileID string) (*File, error)
	UploadPreview(ctx context.Context, orderID, filename, contentType string, data []byte) (*Upload, error)
}

// Error reports a failed bridge call, either a transport problem or a
// response with ok=false.
type Error struct {
	Provider   string
	Action     string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("bridge %s %s: HTTP %d: %s", e.Provider, e.Action, e.StatusCode, msg)
	}
	return fmt.Sprintf("bridge %s %s: %s", e.Provider, e.Action, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsBridgeError reports whether err is (or wraps) a *Error.
func IsBridgeError(err error) bool {
	var be *Error
	return errors.As(err, &be)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
