package bridge

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"

	"github.com/local/printquote/internal/metrics"
)

const providerGCS = "gcs"

// GCS keeps originals and previews in a Cloud Storage bucket. File ids are
// object names.
type GCS struct {
	client  *storage.Client
	bucket  string
	timeout time.Duration
}

// NewGCS creates a storage client. An empty credentialsFile uses the
// application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string, timeout time.Duration) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, timeout: timeout}, nil
}

func (b *GCS) Close() error { return b.client.Close() }

func (b *GCS) Download(ctx context.Context, fileID string) (*File, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	f, err := b.download(ctx, fileID)
	metrics.ObserveBridge(providerGCS, ActionDownload, err)
	return f, err
}

func (b *GCS) download(ctx context.Context, object string) (*File, error) {
	r, err := b.client.Bucket(b.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, &Error{Provider: providerGCS, Action: ActionDownload, Err: err}
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Provider: providerGCS, Action: ActionDownload, Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Provider: providerGCS, Action: ActionDownload, Message: "object is empty"}
	}
	return &File{Data: data, Filename: firstNonEmpty(path.Base(object), DefaultFilename)}, nil
}

func (b *GCS) UploadPreview(ctx context.Context, orderID, filename, contentType string, data []byte) (*Upload, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	object := path.Join("previews", orderID, filename)
	w := b.client.Bucket(b.bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"orderId": orderID}

	var err error
	if _, err = w.Write(data); err != nil {
		_ = w.Close()
	} else {
		err = w.Close()
	}
	if err != nil {
		err = &Error{Provider: providerGCS, Action: ActionUploadPreview, Err: err}
	}
	metrics.ObserveBridge(providerGCS, ActionUploadPreview, err)
	if err != nil {
		return nil, err
	}
	log.Info().Str("object", object).Str("order_id", orderID).Msg("uploaded preview to GCS")
	return &Upload{
		Provider: providerGCS,
		FileID:   object,
		URL:      fmt.Sprintf("https://storage.googleapis.com/%s/%s", b.bucket, object),
	}, nil
}

var _ Bridge = (*GCS)(nil)
