package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/local/printquote/internal/metrics"
)

const (
	providerS3    = "s3"
	presignExpiry = 7 * 24 * time.Hour
)

// s3API is the subset of *s3.Client the bridge uses.
type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 keeps originals and previews in one bucket. File ids are object keys.
type S3 struct {
	client  s3API
	presign *s3.PresignClient
	bucket  string
	timeout time.Duration
}

// NewS3 loads the default AWS configuration chain.
func NewS3(ctx context.Context, bucket string, timeout time.Duration) (*S3, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	cli := s3.NewFromConfig(cfg)
	return &S3{client: cli, presign: s3.NewPresignClient(cli), bucket: bucket, timeout: timeout}, nil
}

func (b *S3) Download(ctx context.Context, fileID string) (*File, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	f, err := b.download(ctx, fileID)
	metrics.ObserveBridge(providerS3, ActionDownload, err)
	return f, err
}

func (b *S3) download(ctx context.Context, key string) (*File, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &Error{Provider: providerS3, Action: ActionDownload, Err: err}
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Provider: providerS3, Action: ActionDownload, Err: err}
	}
	if len(data) == 0 {
		return nil, &Error{Provider: providerS3, Action: ActionDownload, Message: "object is empty"}
	}
	name := firstNonEmpty(out.Metadata["name"], path.Base(key), DefaultFilename)
	log.Debug().Str("key", key).Str("filename", name).Int("size", len(data)).Msg("downloaded original from S3")
	return &File{Data: data, Filename: name}, nil
}

func (b *S3) UploadPreview(ctx context.Context, orderID, filename, contentType string, data []byte) (*Upload, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	up, err := b.upload(ctx, orderID, filename, contentType, data)
	metrics.ObserveBridge(providerS3, ActionUploadPreview, err)
	return up, err
}

func (b *S3) upload(ctx context.Context, orderID, filename, contentType string, data []byte) (*Upload, error) {
	key := path.Join("previews", orderID, filename)
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata:    map[string]string{"name": filename, "order-id": orderID},
	})
	if err != nil {
		return nil, &Error{Provider: providerS3, Action: ActionUploadPreview, Err: err}
	}

	link := fmt.Sprintf("s3://%s/%s", b.bucket, key)
	if b.presign != nil {
		req, err := b.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(b.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(presignExpiry))
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("presign failed; storing object URI")
		} else {
			link = req.URL
		}
	}
	log.Info().Str("key", key).Str("order_id", orderID).Msg("uploaded preview to S3")
	return &Upload{Provider: providerS3, FileID: key, URL: link}, nil
}

var _ Bridge = (*S3)(nil)
