// Package storage archives exported badges in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxLinkTTL = 7 * 24 * time.Hour

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	Region   string
	UseSSL   bool
}

type Client struct {
	minio  *minio.Client
	bucket string
}

// Object is one file to archive. DownloadName becomes the attachment name
// stored on the object and used by presigned links.
type Object struct {
	Key          string
	Data         []byte
	ContentType  string
	DownloadName string
	Metadata     map[string]string
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("endpoint is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Client{minio: mc, bucket: cfg.Bucket}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket if it is missing. Losing a creation race
// to another process is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

func (c *Client) Put(ctx context.Context, obj Object) error {
	if strings.TrimSpace(obj.Key) == "" {
		return errors.New("object key is required")
	}
	opts := minio.PutObjectOptions{
		ContentType:  obj.ContentType,
		UserMetadata: obj.Metadata,
		CacheControl: "private, max-age=0",
	}
	if obj.DownloadName != "" {
		opts.ContentDisposition = attachment(obj.DownloadName)
	}
	if _, err := c.minio.PutObject(ctx, c.bucket, obj.Key, bytes.NewReader(obj.Data), int64(len(obj.Data)), opts); err != nil {
		return fmt.Errorf("put object %s: %w", obj.Key, err)
	}
	return nil
}

// Link returns a presigned GET URL for key. TTLs are clamped to the
// seven-day maximum S3 accepts.
func (c *Client) Link(ctx context.Context, key, downloadName string, ttl time.Duration) (string, error) {
	ttl = min(max(ttl, time.Second), maxLinkTTL)
	params := url.Values{}
	if downloadName != "" {
		params.Set("response-content-disposition", attachment(downloadName))
	}
	u, err := c.minio.PresignedGetObject(ctx, c.bucket, key, ttl, params)
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}
