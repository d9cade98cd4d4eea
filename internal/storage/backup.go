// Package storage keeps a durable copy of each generated report in
// S3-compatible object storage, filed under a per-user prefix, and sweeps
// copies that have outlived the retention window.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Config holds S3-compatible storage configuration.
type Config struct {
	Endpoint      string
	Bucket        string
	Region        string
	AccessKey     string
	SecretKey     string
	RetentionDays int
}

// Backup re-uploads generated PDFs for safekeeping. A missing configuration
// disables it; callers treat backup failure as non-fatal.
type Backup struct {
	cfg        Config
	client     s3Client
	httpClient *http.Client
	logger     *slog.Logger
}

func NewBackup(cfg Config, logger *slog.Logger) *Backup {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 30
	}
	b := &Backup{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" {
		b.client = newS3Client(cfg)
	}
	return b
}

func newS3Client(cfg Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Configured reports whether storage credentials were supplied.
func (b *Backup) Configured() bool {
	return b.client != nil
}

// Store downloads the generated PDF and re-uploads it under the owning user's
// prefix, tagged with the instant it becomes eligible for deletion. Returns a
// user-facing view link.
func (b *Backup) Store(ctx context.Context, userID, filename, pdfURL string) (string, error) {
	if b.client == nil {
		return "", fmt.Errorf("backup not configured: storage credentials missing")
	}

	data, err := b.download(ctx, pdfURL)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s", userID, filename)
	deleteAfter := time.Now().UTC().AddDate(0, 0, b.cfg.RetentionDays)

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("application/pdf"),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"delete-after": deleteAfter.Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload backup: %w", err)
	}

	return b.viewLink(key), nil
}

func (b *Backup) download(ctx context.Context, pdfURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download pdf for backup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download pdf for backup: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read pdf for backup: %w", err)
	}
	return data, nil
}

func (b *Backup) viewLink(key string) string {
	if b.cfg.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", b.cfg.Endpoint, b.cfg.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", b.cfg.Bucket, b.cfg.Region, key)
}

// Cleanup deletes backup objects older than the retention window. It is an
// independent sweep with no transactional relationship to the delete-after
// tag, which is descriptive only.
func (b *Backup) Cleanup(ctx context.Context) error {
	if b.client == nil {
		return nil
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -b.cfg.RetentionDays)

	var continuation *string
	for {
		out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(b.cfg.Bucket),
			ContinuationToken: continuation,
		})
		if err != nil {
			return fmt.Errorf("list backups: %w", err)
		}

		for _, obj := range out.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(b.cfg.Bucket),
				Key:    obj.Key,
			}); err != nil {
				b.logger.Warn("failed to delete expired backup", "key", aws.ToString(obj.Key), "error", err)
				continue
			}
			b.logger.Info("deleted expired backup", "key", aws.ToString(obj.Key))
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		continuation = out.NextContinuationToken
	}
}
